package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/quillvault/quillvault/internal/document"
)

// In-memory repositories used for unit tests and local development. Each
// guards its collection with a mutex, so the conditional updates behave
// like the single-document atomic operations the Mongo implementations
// get from the server.

type MemoryDocumentRepo struct {
	mu   sync.RWMutex
	docs map[string]*document.Document
}

func NewMemoryDocumentRepo() *MemoryDocumentRepo {
	return &MemoryDocumentRepo{docs: make(map[string]*document.Document)}
}

func cloneDoc(d *document.Document) *document.Document {
	c := *d
	return &c
}

func (m *MemoryDocumentRepo) Create(ctx context.Context, d *document.Document) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now().UTC()
	}
	d.UpdatedAt = d.CreatedAt
	m.docs[d.ID] = cloneDoc(d)
	return d.ID, nil
}

func (m *MemoryDocumentRepo) Get(ctx context.Context, id string) (*document.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if d, ok := m.docs[id]; ok {
		return cloneDoc(d), nil
	}
	return nil, document.ErrNotFound
}

func (m *MemoryDocumentRepo) List(ctx context.Context) ([]*document.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*document.Document, 0, len(m.docs))
	for _, d := range m.docs {
		out = append(out, cloneDoc(d))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryDocumentRepo) UpdateMeta(ctx context.Context, id string, upd MetaUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.docs[id]
	if !ok {
		return document.ErrNotFound
	}
	if upd.Title != nil {
		d.Title = *upd.Title
	}
	if upd.ContentText != nil {
		d.ContentText = *upd.ContentText
	}
	if upd.CurrentSnapshotID != nil {
		d.CurrentSnapshotID = *upd.CurrentSnapshotID
	}
	if !upd.UpdatedAt.IsZero() {
		d.UpdatedAt = upd.UpdatedAt
	} else {
		d.UpdatedAt = time.Now().UTC()
	}
	return nil
}

func (m *MemoryDocumentRepo) ClaimDisposable(ctx context.Context, id, userID string, now time.Time) (*document.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.docs[id]
	if !ok {
		return nil, document.ErrNotFound
	}
	if !d.IsDisposable {
		return nil, ErrNoMatch
	}
	d.OwnerID = userID
	d.IsDisposable = false
	d.IsPublic = true
	d.ExpiresAt = nil
	d.UpdatedAt = now
	return cloneDoc(d), nil
}

func (m *MemoryDocumentRepo) AssignOwnerIfUnset(ctx context.Context, id, userID string, now time.Time) (*document.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.docs[id]
	if !ok {
		return nil, document.ErrNotFound
	}
	if d.OwnerID != "" || d.IsDisposable {
		return nil, ErrNoMatch
	}
	d.OwnerID = userID
	d.UpdatedAt = now
	return cloneDoc(d), nil
}

func (m *MemoryDocumentRepo) ListExpiredDisposables(ctx context.Context, now time.Time) ([]*document.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*document.Document
	for _, d := range m.docs {
		if d.IsDisposable && d.ExpiresAt != nil && !d.ExpiresAt.After(now) {
			out = append(out, cloneDoc(d))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryDocumentRepo) PublishAllOwnedBy(ctx context.Context, ownerID string, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, d := range m.docs {
		if d.OwnerID == ownerID && !d.IsPublic && !d.IsDisposable {
			d.IsPublic = true
			d.UpdatedAt = now
			n++
		}
	}
	return n, nil
}

func (m *MemoryDocumentRepo) DeleteIfExpiredDisposable(ctx context.Context, id string, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.docs[id]
	if !ok {
		return document.ErrNotFound
	}
	if !d.IsDisposable || d.ExpiresAt == nil || d.ExpiresAt.After(now) {
		return ErrNoMatch
	}
	delete(m.docs, id)
	return nil
}

func (m *MemoryDocumentRepo) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.docs[id]; !ok {
		return document.ErrNotFound
	}
	delete(m.docs, id)
	return nil
}

type MemoryEventRepo struct {
	mu     sync.RWMutex
	events map[string][]document.Event // docID -> append order
}

func NewMemoryEventRepo() *MemoryEventRepo {
	return &MemoryEventRepo{events: make(map[string][]document.Event)}
}

func (m *MemoryEventRepo) Append(ctx context.Context, e *document.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ex := range m.events[e.DocID] {
		if ex.Version == e.Version {
			return ErrVersionExists
		}
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	m.events[e.DocID] = append(m.events[e.DocID], *e)
	return nil
}

func (m *MemoryEventRepo) LastVersion(ctx context.Context, docID string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var last int64
	for _, e := range m.events[docID] {
		if e.Version > last {
			last = e.Version
		}
	}
	return last, nil
}

func (m *MemoryEventRepo) ListAfterVersion(ctx context.Context, docID string, version int64) ([]document.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []document.Event
	for _, e := range m.events[docID] {
		if e.Version > version {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}

func (m *MemoryEventRepo) ListUpTo(ctx context.Context, docID string, cutoff *time.Time) ([]document.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []document.Event
	for _, e := range m.events[docID] {
		if cutoff != nil && e.CreatedAt.After(*cutoff) {
			continue
		}
		out = append(out, e)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}

func (m *MemoryEventRepo) DeleteForDoc(ctx context.Context, docID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := int64(len(m.events[docID]))
	delete(m.events, docID)
	return n, nil
}

type MemorySnapshotRepo struct {
	mu        sync.RWMutex
	snapshots map[string][]document.Snapshot // docID -> insert order
}

func NewMemorySnapshotRepo() *MemorySnapshotRepo {
	return &MemorySnapshotRepo{snapshots: make(map[string][]document.Snapshot)}
}

func (m *MemorySnapshotRepo) Insert(ctx context.Context, s *document.Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now().UTC()
	}
	m.snapshots[s.DocID] = append(m.snapshots[s.DocID], *s)
	return nil
}

func (m *MemorySnapshotRepo) Get(ctx context.Context, id string) (*document.Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, list := range m.snapshots {
		for _, s := range list {
			if s.ID == id {
				c := s
				return &c, nil
			}
		}
	}
	return nil, document.ErrNotFound
}

func (m *MemorySnapshotRepo) Latest(ctx context.Context, docID string) (*document.Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	list := m.snapshots[docID]
	if len(list) == 0 {
		return nil, nil
	}
	best := list[0]
	for _, s := range list[1:] {
		if !s.CreatedAt.Before(best.CreatedAt) {
			best = s
		}
	}
	c := best
	return &c, nil
}

func (m *MemorySnapshotRepo) ListAsc(ctx context.Context, docID string) ([]document.Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]document.Snapshot, len(m.snapshots[docID]))
	copy(out, m.snapshots[docID])
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *MemorySnapshotRepo) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for docID, list := range m.snapshots {
		for i, s := range list {
			if s.ID == id {
				m.snapshots[docID] = append(list[:i:i], list[i+1:]...)
				return nil
			}
		}
	}
	return document.ErrNotFound
}

func (m *MemorySnapshotRepo) DeleteForDoc(ctx context.Context, docID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := int64(len(m.snapshots[docID]))
	delete(m.snapshots, docID)
	return n, nil
}
