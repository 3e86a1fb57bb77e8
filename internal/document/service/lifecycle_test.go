package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quillvault/quillvault/internal/document"
	"github.com/quillvault/quillvault/internal/document/repository"
)

// claimAfterList claims every listed expired document before the caller
// can act on the listing, reproducing a claim landing mid-sweep.
type claimAfterList struct {
	repository.DocumentRepo
	userID string
}

func (r *claimAfterList) ListExpiredDisposables(ctx context.Context, now time.Time) ([]*document.Document, error) {
	out, err := r.DocumentRepo.ListExpiredDisposables(ctx, now)
	if err != nil {
		return nil, err
	}
	for _, d := range out {
		if _, cerr := r.DocumentRepo.ClaimDisposable(ctx, d.ID, r.userID, now); cerr != nil {
			return nil, cerr
		}
	}
	return out, nil
}

func TestClaimDisposable(t *testing.T) {
	svc := NewMemory()
	ctx := context.Background()
	d, err := svc.CreateDocument(ctx, CreateInput{Title: "scratch", Disposable: true})
	require.NoError(t, err)

	claimed, err := svc.ClaimDisposable(ctx, d.ID, "user-1")
	require.NoError(t, err)
	assert.Equal(t, "user-1", claimed.OwnerID)
	assert.False(t, claimed.IsDisposable)
	assert.True(t, claimed.IsPublic)
	assert.Nil(t, claimed.ExpiresAt)
}

func TestClaimDisposable_Idempotent(t *testing.T) {
	svc := NewMemory()
	ctx := context.Background()
	d, err := svc.CreateDocument(ctx, CreateInput{Disposable: true})
	require.NoError(t, err)

	_, err = svc.ClaimDisposable(ctx, d.ID, "user-1")
	require.NoError(t, err)

	// re-claiming by the same user succeeds without changing anything
	again, err := svc.ClaimDisposable(ctx, d.ID, "user-1")
	require.NoError(t, err)
	assert.Equal(t, "user-1", again.OwnerID)

	// a different user cannot take it over
	_, err = svc.ClaimDisposable(ctx, d.ID, "user-2")
	assert.True(t, errors.Is(err, document.ErrNotDisposable))
}

func TestClaimDisposable_PermanentDocument(t *testing.T) {
	svc := NewMemory()
	ctx := context.Background()
	d, err := svc.CreateDocument(ctx, CreateInput{Title: "owned", OwnerID: "user-1"})
	require.NoError(t, err)

	_, err = svc.ClaimDisposable(ctx, d.ID, "user-2")
	assert.True(t, errors.Is(err, document.ErrNotDisposable))

	_, err = svc.ClaimDisposable(ctx, "missing", "user-1")
	assert.True(t, errors.Is(err, document.ErrNotFound))
}

func TestAssignOrphan(t *testing.T) {
	svc := NewMemory()
	ctx := context.Background()
	d, err := svc.CreateDocument(ctx, CreateInput{Title: "orphan"})
	require.NoError(t, err)
	require.Empty(t, d.OwnerID)

	got, err := svc.AssignOrphan(ctx, d.ID, "user-1")
	require.NoError(t, err)
	assert.Equal(t, "user-1", got.OwnerID)

	// the loser of the race observes the winner instead of overwriting
	loser, err := svc.AssignOrphan(ctx, d.ID, "user-2")
	require.NoError(t, err)
	assert.Equal(t, "user-1", loser.OwnerID)
}

func TestAssignOrphan_SkipsDisposable(t *testing.T) {
	svc := NewMemory()
	ctx := context.Background()
	d, err := svc.CreateDocument(ctx, CreateInput{Disposable: true})
	require.NoError(t, err)

	got, err := svc.AssignOrphan(ctx, d.ID, "user-1")
	require.NoError(t, err)
	assert.Empty(t, got.OwnerID)
	assert.True(t, got.IsDisposable)
}

func TestExpireDisposables(t *testing.T) {
	svc := NewMemory()
	ctx := context.Background()

	expired, err := svc.CreateDocument(ctx, CreateInput{Disposable: true, TTL: time.Minute})
	require.NoError(t, err)
	appendInsert(t, svc, expired.ID, 1, 0, "gone soon")
	_, err = svc.CreateSnapshot(ctx, expired.ID)
	require.NoError(t, err)

	fresh, err := svc.CreateDocument(ctx, CreateInput{Disposable: true, TTL: 48 * time.Hour})
	require.NoError(t, err)
	permanent, err := svc.CreateDocument(ctx, CreateInput{OwnerID: "user-1"})
	require.NoError(t, err)

	n, err := svc.ExpireDisposables(ctx, time.Now().UTC().Add(2*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = svc.GetDocument(ctx, expired.ID)
	assert.True(t, errors.Is(err, document.ErrNotFound))
	// the cascade removed its history too
	_, err = svc.ReadHistory(ctx, expired.ID, nil)
	assert.True(t, errors.Is(err, document.ErrNotFound))

	_, err = svc.GetDocument(ctx, fresh.ID)
	assert.NoError(t, err)
	_, err = svc.GetDocument(ctx, permanent.ID)
	assert.NoError(t, err)
}

func TestExpireDisposables_SkipsJustClaimed(t *testing.T) {
	docs := &claimAfterList{DocumentRepo: repository.NewMemoryDocumentRepo(), userID: "user-1"}
	svc := New(docs, repository.NewMemoryEventRepo(), repository.NewMemorySnapshotRepo())
	ctx := context.Background()

	d, err := svc.CreateDocument(ctx, CreateInput{Disposable: true, TTL: time.Minute})
	require.NoError(t, err)
	appendInsert(t, svc, d.ID, 1, 0, "claimed mid-sweep")

	n, err := svc.ExpireDisposables(ctx, time.Now().UTC().Add(2*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	// the just-claimed document and its history survive the sweep
	got, err := svc.GetDocument(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, "user-1", got.OwnerID)
	assert.False(t, got.IsDisposable)

	hist, err := svc.ReadHistory(ctx, d.ID, nil)
	require.NoError(t, err)
	assert.Len(t, hist.Events, 1)
}

func TestPublishFor(t *testing.T) {
	svc := NewMemory()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := svc.CreateDocument(ctx, CreateInput{OwnerID: "user-1"})
		require.NoError(t, err)
	}
	other, err := svc.CreateDocument(ctx, CreateInput{OwnerID: "user-2"})
	require.NoError(t, err)

	n, err := svc.PublishFor(ctx, "user-1", time.Now().UTC())
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	docs, err := svc.ListDocuments(ctx)
	require.NoError(t, err)
	for _, d := range docs {
		if d.OwnerID == "user-1" {
			assert.True(t, d.IsPublic)
		}
	}
	got, err := svc.GetDocument(ctx, other.ID)
	require.NoError(t, err)
	assert.False(t, got.IsPublic)

	// already public: nothing left to flip
	n, err = svc.PublishFor(ctx, "user-1", time.Now().UTC())
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestEvaluateAutoPublish(t *testing.T) {
	date := func(y int, m time.Month, d int) time.Time {
		return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	}

	cases := []struct {
		name  string
		birth time.Time
		now   time.Time
		want  bool
	}{
		{"on the 99th anniversary", date(1925, time.March, 1), date(2024, time.March, 1), true},
		{"day before", date(1925, time.March, 1), date(2024, time.February, 29), false},
		{"long past", date(1900, time.January, 15), date(2024, time.June, 1), true},
		{"well before", date(1980, time.July, 4), date(2024, time.June, 1), false},
		{"time of day never matters", date(1925, time.March, 1), time.Date(2024, time.March, 1, 0, 0, 1, 0, time.UTC), true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, EvaluateAutoPublish(tc.birth, tc.now))
		})
	}
}

func TestEvaluateAutoPublish_TimezoneStable(t *testing.T) {
	birth := time.Date(1925, time.March, 1, 23, 0, 0, 0, time.FixedZone("UTC+12", 12*3600))
	now := time.Date(2024, time.March, 1, 1, 0, 0, 0, time.FixedZone("UTC+12", 12*3600))
	assert.True(t, EvaluateAutoPublish(birth, now))
}
