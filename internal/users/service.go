package users

import (
	"context"
	"time"

	"github.com/quillvault/quillvault/internal/models"
)

// Service encapsulates user-related business logic
type Service struct {
	repo UserRepository
}

func NewService(r UserRepository) *Service {
	return &Service{repo: r}
}

// UpsertFromClaims creates or updates a user using OIDC claims. The
// standard "birthdate" claim (YYYY-MM-DD) is recorded when present so the
// auto-publish sweep can evaluate it later.
func (s *Service) UpsertFromClaims(ctx context.Context, claims map[string]interface{}) (*models.User, error) {
	sub, _ := claims["sub"].(string)
	email, _ := claims["email"].(string)
	name, _ := claims["name"].(string)
	if sub == "" {
		return nil, nil
	}
	u := &models.User{
		Sub:   sub,
		Email: email,
		Name:  name,
	}
	if raw, ok := claims["birthdate"].(string); ok && raw != "" {
		if bd, err := time.Parse("2006-01-02", raw); err == nil {
			u.BirthDate = &bd
		}
	}
	return s.repo.UpsertBySub(ctx, u)
}

func (s *Service) GetBySub(ctx context.Context, sub string) (*models.User, error) {
	return s.repo.GetBySub(ctx, sub)
}

// ListWithBirthDate exposes users eligible for auto-publish evaluation.
func (s *Service) ListWithBirthDate(ctx context.Context) ([]*models.User, error) {
	return s.repo.ListWithBirthDate(ctx)
}
