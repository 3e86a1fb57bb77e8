package service

import (
	"context"
	"time"

	"github.com/quillvault/quillvault/internal/document"
	"github.com/quillvault/quillvault/internal/document/repository"
	"github.com/quillvault/quillvault/pkg/logger"
	"github.com/quillvault/quillvault/pkg/metrics"
)

// autoPublishYears is the "digital testament" horizon: a user's documents
// become public once 99 years have passed since their birth date.
const autoPublishYears = 99

// ClaimDisposable converts a disposable document into an owned, permanent,
// public one in a single conditional update. Re-claiming a document the
// caller already owns is treated as success; claiming someone else's
// permanent document fails with ErrNotDisposable.
func (s *Service) ClaimDisposable(ctx context.Context, docID, userID string) (*document.Document, error) {
	now := time.Now().UTC()
	d, err := s.docs.ClaimDisposable(ctx, docID, userID, now)
	if err == nil {
		if s.cache != nil {
			s.cache.Invalidate(ctx, docID)
		}
		return d, nil
	}
	if err != repository.ErrNoMatch {
		return nil, err
	}
	// the conditional update missed: either already claimed by us
	// (idempotent success) or genuinely not disposable
	existing, gerr := s.docs.Get(ctx, docID)
	if gerr != nil {
		return nil, gerr
	}
	if existing.OwnerID == userID && !existing.IsDisposable {
		return existing, nil
	}
	return nil, document.ErrNotDisposable
}

// AssignOrphan gives an owner-less, non-disposable document to userID.
// When two callers race, exactly one wins; the loser gets the document
// back with the winner's owner id instead of overwriting it.
func (s *Service) AssignOrphan(ctx context.Context, docID, userID string) (*document.Document, error) {
	now := time.Now().UTC()
	d, err := s.docs.AssignOwnerIfUnset(ctx, docID, userID, now)
	if err == nil {
		return d, nil
	}
	if err != repository.ErrNoMatch {
		return nil, err
	}
	return s.docs.Get(ctx, docID)
}

// ExpireDisposables deletes every disposable document whose expiry has
// passed, cascading to events and snapshots. The document delete is
// conditional on the expiry still holding, so a claim landing between the
// listing and the delete keeps the now-permanent document and its history
// intact. Returns the number of documents removed.
func (s *Service) ExpireDisposables(ctx context.Context, now time.Time) (int, error) {
	expired, err := s.docs.ListExpiredDisposables(ctx, now)
	if err != nil {
		return 0, err
	}
	deleted := 0
	for _, d := range expired {
		err := s.inTxn(ctx, func(ctx context.Context) error {
			if err := s.docs.DeleteIfExpiredDisposable(ctx, d.ID, now); err != nil {
				return err
			}
			if _, err := s.events.DeleteForDoc(ctx, d.ID); err != nil {
				return err
			}
			_, err := s.snaps.DeleteForDoc(ctx, d.ID)
			return err
		})
		if err != nil {
			if err == document.ErrNotFound || err == repository.ErrNoMatch {
				// claimed or already removed since the listing
				continue
			}
			logger.Warnf("expiry of %s failed: %v", d.ID, err)
			continue
		}
		if s.cache != nil {
			s.cache.Invalidate(ctx, d.ID)
		}
		deleted++
		metrics.DocumentsExpired.Inc()
	}
	return deleted, nil
}

// PublishFor flips every private, permanent document of the user to
// public. Used by the scheduler once EvaluateAutoPublish fires.
func (s *Service) PublishFor(ctx context.Context, userID string, now time.Time) (int64, error) {
	return s.docs.PublishAllOwnedBy(ctx, userID, now)
}

// EvaluateAutoPublish reports whether now is at or past the calendar date
// exactly 99 years after birthDate. Pure and timezone-stable: only
// calendar dates are compared, never instants.
func EvaluateAutoPublish(birthDate, now time.Time) bool {
	by, bm, bd := birthDate.Date()
	target := time.Date(by+autoPublishYears, bm, bd, 0, 0, 0, 0, time.UTC)
	ny, nm, nd := now.Date()
	nowDate := time.Date(ny, nm, nd, 0, 0, 0, 0, time.UTC)
	return !nowDate.Before(target)
}
