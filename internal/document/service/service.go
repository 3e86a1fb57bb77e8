// Package service implements the versioning engine business operations on
// top of the repository layer: optimistic-concurrency appends, replay-backed
// reads, snapshot creation, compaction and restore.
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/quillvault/quillvault/internal/document"
	"github.com/quillvault/quillvault/internal/document/repository"
	"github.com/quillvault/quillvault/internal/document/replay"
	"github.com/quillvault/quillvault/pkg/logger"
	"github.com/quillvault/quillvault/pkg/metrics"
)

const (
	// DefaultRetain is the compaction policy: the oldest snapshot plus the
	// nine most recent are kept.
	DefaultRetain = 10

	// ExcerptLen bounds the denormalized search excerpt on documents and
	// snapshots.
	ExcerptLen = 280
)

// ContentCache is an optional read-through cache for reconstructed content,
// keyed by document id. Implemented by internal/cache on Redis.
type ContentCache interface {
	GetView(ctx context.Context, docID string) (*ContentView, bool)
	SetView(ctx context.Context, docID string, v *ContentView)
	Invalidate(ctx context.Context, docID string)
}

// SnapshotArchive receives snapshot rows about to be pruned by compaction,
// so full content can be offloaded to object storage before the row goes
// away, and serves them back when a restore targets a pruned snapshot.
// Implemented by internal/storage on MinIO.
type SnapshotArchive interface {
	Archive(ctx context.Context, s *document.Snapshot) error
	Fetch(ctx context.Context, docID, snapID string) (*document.Snapshot, error)
}

// TxnRunner executes fn within a single storage transaction so that
// multi-write operations commit or roll back together. Implemented by
// database.MongoTxn on sessions; when absent, fn runs directly and a
// failed second write is surfaced to the caller instead of absorbed.
type TxnRunner interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

// ContentView is what readers get back: the reconstructed structural
// content plus the cached excerpt and the version it reflects.
type ContentView struct {
	DocID       string          `json:"docId"`
	Title       string          `json:"title"`
	Version     int64           `json:"version"`
	Content     json.RawMessage `json:"content"`
	ContentText string          `json:"contentText"`
	Warnings    []string        `json:"warnings,omitempty"`
}

// History is the ordered change record of a document up to an optional
// cutoff.
type History struct {
	Events    []document.Event    `json:"events"`
	Snapshots []document.Snapshot `json:"snapshots"`
}

// Service wires the three repositories together with the replay engine.
type Service struct {
	docs    repository.DocumentRepo
	events  repository.EventRepo
	snaps   repository.SnapshotRepo
	cache   ContentCache
	archive SnapshotArchive
	txn     TxnRunner
}

func New(docs repository.DocumentRepo, events repository.EventRepo, snaps repository.SnapshotRepo) *Service {
	return &Service{docs: docs, events: events, snaps: snaps}
}

// NewMemory returns a Service backed entirely by in-memory repositories.
func NewMemory() *Service {
	return New(repository.NewMemoryDocumentRepo(), repository.NewMemoryEventRepo(), repository.NewMemorySnapshotRepo())
}

// SetCache attaches an optional content cache.
func (s *Service) SetCache(c ContentCache) { s.cache = c }

// SetArchive attaches an optional snapshot archive used during compaction.
func (s *Service) SetArchive(a SnapshotArchive) { s.archive = a }

// SetTxn attaches an optional transaction runner for multi-write
// operations.
func (s *Service) SetTxn(t TxnRunner) { s.txn = t }

func (s *Service) inTxn(ctx context.Context, fn func(context.Context) error) error {
	if s.txn != nil {
		return s.txn.WithTransaction(ctx, fn)
	}
	return fn(ctx)
}

// CreateInput describes a new document. A disposable document gets no
// owner, stays private and carries a hard expiry.
type CreateInput struct {
	Title      string
	OwnerID    string
	FolderID   string
	Disposable bool
	TTL        time.Duration
}

func (s *Service) CreateDocument(ctx context.Context, in CreateInput) (*document.Document, error) {
	d := &document.Document{
		Title:    in.Title,
		FolderID: in.FolderID,
	}
	if in.Disposable {
		if in.OwnerID != "" {
			return nil, &document.ValidationError{Field: "ownerId", Reason: "disposable documents cannot have an owner"}
		}
		ttl := in.TTL
		if ttl <= 0 {
			ttl = 24 * time.Hour
		}
		exp := time.Now().UTC().Add(ttl)
		d.IsDisposable = true
		d.ExpiresAt = &exp
	} else {
		d.OwnerID = in.OwnerID
	}
	if _, err := s.docs.Create(ctx, d); err != nil {
		return nil, err
	}
	return d, nil
}

func (s *Service) GetDocument(ctx context.Context, id string) (*document.Document, error) {
	return s.docs.Get(ctx, id)
}

func (s *Service) ListDocuments(ctx context.Context) ([]*document.Document, error) {
	return s.docs.List(ctx)
}

// AppendEvent is the version controller. The claimed version must be
// exactly lastVersion+1; anything else comes back as a ConflictError
// carrying the authoritative last version so the caller can rebase. The
// event repository's uniqueness guarantee backs the check for appenders
// racing past the read.
func (s *Service) AppendEvent(ctx context.Context, docID string, kind document.EventKind, payload json.RawMessage, claimedVersion int64) (*document.Event, error) {
	if !document.ValidKind(kind) {
		return nil, &document.ValidationError{Field: "kind", Reason: "must be one of insert, delete, format, meta"}
	}
	if len(payload) == 0 || !json.Valid(payload) {
		return nil, &document.ValidationError{Field: "payload", Reason: "must be a JSON object"}
	}
	if _, err := s.docs.Get(ctx, docID); err != nil {
		return nil, err
	}

	last, err := s.events.LastVersion(ctx, docID)
	if err != nil {
		return nil, err
	}
	if claimedVersion != last+1 {
		metrics.AppendConflicts.Inc()
		return nil, &document.ConflictError{DocID: docID, Claimed: claimedVersion, LastVersion: last}
	}

	e := &document.Event{
		DocID:     docID,
		Version:   claimedVersion,
		Kind:      kind,
		Payload:   payload,
		CreatedAt: time.Now().UTC(),
	}
	txnErr := s.inTxn(ctx, func(ctx context.Context) error {
		if err := s.events.Append(ctx, e); err != nil {
			return err
		}
		return s.refreshSummary(ctx, docID, e)
	})
	if txnErr != nil {
		if txnErr == repository.ErrVersionExists {
			// lost the race after the read; report the winner's version
			authoritative, lerr := s.events.LastVersion(ctx, docID)
			if lerr != nil {
				authoritative = last
			}
			metrics.AppendConflicts.Inc()
			return nil, &document.ConflictError{DocID: docID, Claimed: claimedVersion, LastVersion: authoritative}
		}
		return nil, txnErr
	}
	metrics.EventsAppended.Inc()

	if s.cache != nil {
		s.cache.Invalidate(ctx, docID)
	}
	return e, nil
}

// refreshSummary recomputes the cached excerpt (and title, after a meta
// event) in the same transaction as the append: no reader should observe
// a refreshed updated_at without its event, or the event without the
// refresh, beyond the transaction boundary.
func (s *Service) refreshSummary(ctx context.Context, docID string, e *document.Event) error {
	res, _, err := s.reconstructCurrent(ctx, docID)
	if err != nil {
		return fmt.Errorf("summary refresh for %s: %w", docID, err)
	}
	excerpt := res.Content.Excerpt(ExcerptLen)
	upd := repository.MetaUpdate{ContentText: &excerpt, UpdatedAt: e.CreatedAt}
	if res.Title != nil {
		upd.Title = res.Title
	}
	if err := s.docs.UpdateMeta(ctx, docID, upd); err != nil {
		return fmt.Errorf("summary update for %s: %w", docID, err)
	}
	return nil
}

// reconstructCurrent replays the latest snapshot (or the empty document)
// through every trailing event and returns the result plus the last folded
// version.
func (s *Service) reconstructCurrent(ctx context.Context, docID string) (*replay.Result, int64, error) {
	snap, err := s.snaps.Latest(ctx, docID)
	if err != nil {
		return nil, 0, err
	}
	var base *replay.Content
	var baseVer int64
	if snap != nil {
		base, err = replay.Unmarshal(snap.Content)
		if err != nil {
			return nil, 0, err
		}
		baseVer = snap.Version
	}
	evs, err := s.events.ListAfterVersion(ctx, docID, baseVer)
	if err != nil {
		return nil, 0, err
	}
	res := replay.Reconstruct(base, evs)
	metrics.ReplaysTotal.Inc()
	version := baseVer
	for _, e := range evs {
		if e.Version > version {
			version = e.Version
		}
	}
	for _, w := range res.Warnings {
		metrics.CorruptEventsSkipped.Inc()
		logger.Warnf("replay of %s skipped corrupt event: %v", docID, &w)
	}
	return &res, version, nil
}

// ReadCurrent returns the document's reconstructed current content.
func (s *Service) ReadCurrent(ctx context.Context, docID string) (*ContentView, error) {
	d, err := s.docs.Get(ctx, docID)
	if err != nil {
		return nil, err
	}
	if s.cache != nil {
		if v, ok := s.cache.GetView(ctx, docID); ok {
			return v, nil
		}
	}
	res, version, err := s.reconstructCurrent(ctx, docID)
	if err != nil {
		return nil, err
	}
	raw, err := res.Content.Marshal()
	if err != nil {
		return nil, err
	}
	title := d.Title
	if res.Title != nil {
		title = *res.Title
	}
	v := &ContentView{
		DocID:       docID,
		Title:       title,
		Version:     version,
		Content:     raw,
		ContentText: res.Content.Excerpt(ExcerptLen),
	}
	for _, w := range res.Warnings {
		v.Warnings = append(v.Warnings, w.Error())
	}
	if s.cache != nil && len(v.Warnings) == 0 {
		s.cache.SetView(ctx, docID, v)
	}
	return v, nil
}

// ReadAt reconstructs the document state as of the cutoff time, using the
// newest snapshot not younger than the cutoff as the base.
func (s *Service) ReadAt(ctx context.Context, docID string, cutoff time.Time) (*ContentView, error) {
	d, err := s.docs.Get(ctx, docID)
	if err != nil {
		return nil, err
	}
	all, err := s.snaps.ListAsc(ctx, docID)
	if err != nil {
		return nil, err
	}
	var base *replay.Content
	var baseVer int64
	for i := len(all) - 1; i >= 0; i-- {
		if !all[i].CreatedAt.After(cutoff) {
			base, err = replay.Unmarshal(all[i].Content)
			if err != nil {
				return nil, err
			}
			baseVer = all[i].Version
			break
		}
	}
	evs, err := s.events.ListUpTo(ctx, docID, &cutoff)
	if err != nil {
		return nil, err
	}
	trailing := evs[:0]
	for _, e := range evs {
		if e.Version > baseVer {
			trailing = append(trailing, e)
		}
	}
	res := replay.Reconstruct(base, trailing)
	metrics.ReplaysTotal.Inc()
	raw, err := res.Content.Marshal()
	if err != nil {
		return nil, err
	}
	version := baseVer
	for _, e := range trailing {
		if e.Version > version {
			version = e.Version
		}
	}
	title := d.Title
	if res.Title != nil {
		title = *res.Title
	}
	v := &ContentView{DocID: docID, Title: title, Version: version, Content: raw, ContentText: res.Content.Excerpt(ExcerptLen)}
	for _, w := range res.Warnings {
		metrics.CorruptEventsSkipped.Inc()
		v.Warnings = append(v.Warnings, w.Error())
	}
	return v, nil
}

// ReadHistory returns events and snapshots up to the optional cutoff,
// events ordered by version ascending, snapshots by creation time.
func (s *Service) ReadHistory(ctx context.Context, docID string, cutoff *time.Time) (*History, error) {
	if _, err := s.docs.Get(ctx, docID); err != nil {
		return nil, err
	}
	evs, err := s.events.ListUpTo(ctx, docID, cutoff)
	if err != nil {
		return nil, err
	}
	all, err := s.snaps.ListAsc(ctx, docID)
	if err != nil {
		return nil, err
	}
	snaps := all
	if cutoff != nil {
		snaps = all[:0:0]
		for _, sn := range all {
			if !sn.CreatedAt.After(*cutoff) {
				snaps = append(snaps, sn)
			}
		}
	}
	return &History{Events: evs, Snapshots: snaps}, nil
}

// CreateSnapshot materializes the current content as a new checkpoint and
// points the document at it. Safe to call at any time; with no intervening
// events the new row is equivalent to the previous one.
func (s *Service) CreateSnapshot(ctx context.Context, docID string) (*document.Snapshot, error) {
	if _, err := s.docs.Get(ctx, docID); err != nil {
		return nil, err
	}
	res, version, err := s.reconstructCurrent(ctx, docID)
	if err != nil {
		return nil, err
	}
	raw, err := res.Content.Marshal()
	if err != nil {
		return nil, err
	}
	snap := &document.Snapshot{
		DocID:       docID,
		Version:     version,
		Content:     raw,
		ContentText: res.Content.Excerpt(ExcerptLen),
		CreatedAt:   time.Now().UTC(),
	}
	err = s.inTxn(ctx, func(ctx context.Context) error {
		if err := s.snaps.Insert(ctx, snap); err != nil {
			return err
		}
		upd := repository.MetaUpdate{
			ContentText:       &snap.ContentText,
			CurrentSnapshotID: &snap.ID,
			UpdatedAt:         snap.CreatedAt,
		}
		return s.docs.UpdateMeta(ctx, docID, upd)
	})
	if err != nil {
		return nil, err
	}
	metrics.SnapshotsCreated.Inc()
	return snap, nil
}

// Compact prunes snapshots down to the oldest plus the retain-1 most
// recent. The oldest anchors full-history replay; the recent tail keeps
// restores cheap. The document's current snapshot is never deleted, and
// events are never touched. Running it twice with no new snapshots is a
// no-op the second time.
func (s *Service) Compact(ctx context.Context, docID string, retain int) (int, error) {
	if retain < 1 {
		retain = DefaultRetain
	}
	d, err := s.docs.Get(ctx, docID)
	if err != nil {
		return 0, err
	}
	all, err := s.snaps.ListAsc(ctx, docID)
	if err != nil {
		return 0, err
	}
	if len(all) <= retain {
		return 0, nil
	}
	keep := map[string]bool{all[0].ID: true}
	for _, sn := range all[len(all)-(retain-1):] {
		keep[sn.ID] = true
	}
	if d.CurrentSnapshotID != "" {
		keep[d.CurrentSnapshotID] = true
	}
	deleted := 0
	for i := range all {
		sn := all[i]
		if keep[sn.ID] {
			continue
		}
		if s.archive != nil {
			if err := s.archive.Archive(ctx, &sn); err != nil {
				logger.Warnf("archive of snapshot %s failed, keeping row: %v", sn.ID, err)
				continue
			}
		}
		if err := s.snaps.Delete(ctx, sn.ID); err != nil {
			if err == document.ErrNotFound {
				continue
			}
			return deleted, err
		}
		deleted++
		metrics.SnapshotsPruned.Inc()
	}
	return deleted, nil
}

// Restore makes an older snapshot the current state by materializing a new
// snapshot row with the same content at the present last version. History
// stays monotonic: nothing is rewritten and the restore itself shows up in
// the snapshot record.
func (s *Service) Restore(ctx context.Context, docID, snapshotID string) (*ContentView, error) {
	if _, err := s.docs.Get(ctx, docID); err != nil {
		return nil, err
	}
	old, err := s.snaps.Get(ctx, snapshotID)
	if err == document.ErrNotFound && s.archive != nil {
		// the row may have been pruned by compaction; try the archive
		old, err = s.archive.Fetch(ctx, docID, snapshotID)
		if err != nil {
			return nil, document.ErrNotFound
		}
	}
	if err != nil {
		return nil, err
	}
	if old.DocID != docID {
		return nil, document.ErrNotFound
	}
	last, err := s.events.LastVersion(ctx, docID)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	snap := &document.Snapshot{
		DocID:       docID,
		Version:     last,
		Content:     old.Content,
		ContentText: old.ContentText,
		CreatedAt:   now,
	}
	err = s.inTxn(ctx, func(ctx context.Context) error {
		if err := s.snaps.Insert(ctx, snap); err != nil {
			return err
		}
		upd := repository.MetaUpdate{
			ContentText:       &snap.ContentText,
			CurrentSnapshotID: &snap.ID,
			UpdatedAt:         now,
		}
		return s.docs.UpdateMeta(ctx, docID, upd)
	})
	if err != nil {
		return nil, err
	}
	metrics.SnapshotsCreated.Inc()
	if s.cache != nil {
		s.cache.Invalidate(ctx, docID)
	}
	return &ContentView{
		DocID:       docID,
		Version:     last,
		Content:     old.Content,
		ContentText: old.ContentText,
	}, nil
}

// ResetEvents deletes a document's entire event log, the only permitted
// bulk operation on events.
func (s *Service) ResetEvents(ctx context.Context, docID string) (int64, error) {
	if _, err := s.docs.Get(ctx, docID); err != nil {
		return 0, err
	}
	n, err := s.events.DeleteForDoc(ctx, docID)
	if err != nil {
		return 0, err
	}
	if s.cache != nil {
		s.cache.Invalidate(ctx, docID)
	}
	return n, nil
}

// DeleteDocument removes the document and cascades to its events and
// snapshots.
func (s *Service) DeleteDocument(ctx context.Context, docID string) error {
	err := s.inTxn(ctx, func(ctx context.Context) error {
		if err := s.docs.Delete(ctx, docID); err != nil {
			return err
		}
		if _, err := s.events.DeleteForDoc(ctx, docID); err != nil {
			return err
		}
		_, err := s.snaps.DeleteForDoc(ctx, docID)
		return err
	})
	if err != nil {
		return err
	}
	if s.cache != nil {
		s.cache.Invalidate(ctx, docID)
	}
	return nil
}
