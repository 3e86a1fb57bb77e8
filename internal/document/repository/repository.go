package repository

import (
	"context"
	"errors"
	"time"

	"github.com/quillvault/quillvault/internal/document"
)

var (
	// ErrVersionExists is returned by EventRepo.Append when an event with
	// the same (docId, version) pair is already stored.
	ErrVersionExists = errors.New("event version already exists")

	// ErrNoMatch is returned by conditional updates whose precondition did
	// not hold at the moment of the update.
	ErrNoMatch = errors.New("conditional update matched no document")
)

// MetaUpdate carries the mutable document fields refreshed alongside
// appends, snapshots and restores. Nil pointers leave a field untouched.
type MetaUpdate struct {
	Title             *string
	ContentText       *string
	CurrentSnapshotID *string
	UpdatedAt         time.Time
}

// DocumentRepo persists document records.
type DocumentRepo interface {
	Create(ctx context.Context, d *document.Document) (string, error)
	Get(ctx context.Context, id string) (*document.Document, error)
	List(ctx context.Context) ([]*document.Document, error)
	UpdateMeta(ctx context.Context, id string, upd MetaUpdate) error
	// ClaimDisposable converts a still-disposable document to owned,
	// permanent and public in one conditional update. ErrNoMatch means the
	// document was missing or no longer disposable at that moment.
	ClaimDisposable(ctx context.Context, id, userID string, now time.Time) (*document.Document, error)
	// AssignOwnerIfUnset sets the owner only while it is unset. ErrNoMatch
	// means another owner was already in place (or the doc is disposable).
	AssignOwnerIfUnset(ctx context.Context, id, userID string, now time.Time) (*document.Document, error)
	ListExpiredDisposables(ctx context.Context, now time.Time) ([]*document.Document, error)
	PublishAllOwnedBy(ctx context.Context, ownerID string, now time.Time) (int64, error)
	Delete(ctx context.Context, id string) error
	// DeleteIfExpiredDisposable removes the document only while it is
	// still disposable and past its expiry. ErrNoMatch means a claim
	// landed between listing and deleting; the document must survive.
	DeleteIfExpiredDisposable(ctx context.Context, id string, now time.Time) error
}

// EventRepo persists the append-only per-document change log. Events are
// immutable; the only bulk operation is DeleteForDoc (explicit reset or
// cascade on document deletion).
type EventRepo interface {
	Append(ctx context.Context, e *document.Event) error
	LastVersion(ctx context.Context, docID string) (int64, error)
	ListAfterVersion(ctx context.Context, docID string, version int64) ([]document.Event, error)
	// ListUpTo returns events ordered by version ascending, limited to
	// those created at or before cutoff when cutoff is non-nil.
	ListUpTo(ctx context.Context, docID string, cutoff *time.Time) ([]document.Event, error)
	DeleteForDoc(ctx context.Context, docID string) (int64, error)
}

// SnapshotRepo persists full-content checkpoints. Snapshots are immutable;
// compaction deletes rows but never events.
type SnapshotRepo interface {
	Insert(ctx context.Context, s *document.Snapshot) error
	Get(ctx context.Context, id string) (*document.Snapshot, error)
	// Latest returns the most recent snapshot by creation time, or nil
	// when the document has none.
	Latest(ctx context.Context, docID string) (*document.Snapshot, error)
	ListAsc(ctx context.Context, docID string) ([]document.Snapshot, error)
	Delete(ctx context.Context, id string) error
	DeleteForDoc(ctx context.Context, docID string) (int64, error)
}
