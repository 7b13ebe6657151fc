// Package sessions declares the login session store.
package sessions

import (
	"context"
	"time"

	"github.com/dmitrijs2005/waterauth/internal/server/models"
)

type Repository interface {
	Create(ctx context.Context, s *models.LoginSession) error
	GetByID(ctx context.Context, id string) (*models.LoginSession, error)
	GetByTokenID(ctx context.Context, jti string) (*models.LoginSession, error)
	// ListActiveByUser returns active, unexpired sessions, newest first.
	ListActiveByUser(ctx context.Context, userID string, now time.Time) ([]models.LoginSession, error)
	Deactivate(ctx context.Context, id string) error
	// UpdateToken points the session at a newly issued access token.
	UpdateToken(ctx context.Context, id, jti string, tokenExpiresAt time.Time) error
	ListExpired(ctx context.Context, before time.Time, limit int) ([]models.LoginSession, error)
	Delete(ctx context.Context, id string) error
}
