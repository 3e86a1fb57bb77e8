package document

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a document or snapshot does not exist
	// (or is not visible to the caller).
	ErrNotFound = errors.New("document not found")

	// ErrNotDisposable is returned by ClaimDisposable when the target is
	// already permanent and owned by someone else.
	ErrNotDisposable = errors.New("document is not disposable")

	// ErrAlreadyOwned is returned when an ownership transition would
	// overwrite an existing legitimate owner.
	ErrAlreadyOwned = errors.New("document already has an owner")
)

// ValidationError rejects a malformed append before any write happens.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// ConflictError signals a version mismatch on append. It carries the
// authoritative last version so the caller can rebase and retry; the engine
// never merges automatically.
type ConflictError struct {
	DocID       string
	Claimed     int64
	LastVersion int64
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("version conflict on %s: claimed %d, last is %d", e.DocID, e.Claimed, e.LastVersion)
}

// CorruptEventError marks a single event whose payload could not be
// interpreted during replay. It is surfaced as a warning and the event is
// treated as a no-op; one corrupt event must never make a document
// unreadable.
type CorruptEventError struct {
	EventID string
	Version int64
	Reason  string
}

func (e *CorruptEventError) Error() string {
	return fmt.Sprintf("corrupt event %s (version %d): %s", e.EventID, e.Version, e.Reason)
}
