// Package users declares the user store and its PostgreSQL implementation.
package users

import (
	"context"
	"time"

	"github.com/dmitrijs2005/waterauth/internal/server/models"
)

// Repository persists accounts. Lookups return common.ErrorNotFound when no
// row matches and Create returns common.ErrorAlreadyExists on a duplicate
// username, email or phone number.
type Repository interface {
	Create(ctx context.Context, user *models.User) error
	GetByID(ctx context.Context, id string) (*models.User, error)
	// GetByLogin matches login against username or email.
	GetByLogin(ctx context.Context, login string) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	GetByPhone(ctx context.Context, phone string) (*models.User, error)
	ExistsByUsernameOrEmail(ctx context.Context, username, email string) (bool, error)
	UpdateLastLogin(ctx context.Context, id string, at time.Time) error
	SetEmailVerified(ctx context.Context, id string, at time.Time) error
	SetActive(ctx context.Context, id string, active bool, at time.Time) error
}
