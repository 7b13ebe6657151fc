// Package otps declares the one-time-code store.
package otps

import (
	"context"
	"time"

	"github.com/dmitrijs2005/waterauth/internal/server/models"
)

// Repository persists OTP records. A target is either a phone number or an
// email address and is matched against both columns.
type Repository interface {
	// Lock serializes concurrent work on one (target, purpose) pair until the
	// surrounding transaction ends.
	Lock(ctx context.Context, target string, purpose models.OtpPurpose) error
	Create(ctx context.Context, otp *models.OtpVerification) error
	// FindLatest returns the newest record regardless of state.
	FindLatest(ctx context.Context, target string, purpose models.OtpPurpose) (*models.OtpVerification, error)
	// FindLatestLive returns the newest unused record not yet expired at now.
	FindLatestLive(ctx context.Context, target string, purpose models.OtpPurpose, now time.Time) (*models.OtpVerification, error)
	// InvalidateUnused marks every unused record of the pair as used.
	InvalidateUnused(ctx context.Context, target string, purpose models.OtpPurpose) (int64, error)
	// Update persists IsUsed and AttemptCount.
	Update(ctx context.Context, otp *models.OtpVerification) error
	ListExpired(ctx context.Context, before time.Time, limit int) ([]models.OtpVerification, error)
	Delete(ctx context.Context, id string) error
}
