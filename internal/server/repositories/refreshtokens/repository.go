package refreshtokens

import (
	"context"

	"github.com/dmitrijs2005/waterauth/internal/server/models"
)

// Repository stores refresh tokens by hash. Revocation is terminal: revoked
// rows are kept and never reactivated.
type Repository interface {
	Create(ctx context.Context, token *models.RefreshToken) error

	// FindByHash returns common.ErrorNotFound when the hash is unknown.
	// Inside a transaction the row stays locked until commit.
	FindByHash(ctx context.Context, hash string) (*models.RefreshToken, error)

	// Revoke marks one live token revoked and reports whether it did.
	// It returns false when the token was already revoked or is unknown.
	Revoke(ctx context.Context, id string) (bool, error)

	// RevokeBySession revokes every live token of a session and returns how
	// many were affected.
	RevokeBySession(ctx context.Context, sessionID string) (int64, error)
}
