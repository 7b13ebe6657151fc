package services

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/dmitrijs2005/waterauth/internal/common"
	"github.com/dmitrijs2005/waterauth/internal/dbx"
	"github.com/dmitrijs2005/waterauth/internal/logging"
	"github.com/dmitrijs2005/waterauth/internal/server/metrics"
	"github.com/dmitrijs2005/waterauth/internal/server/models"
	"github.com/dmitrijs2005/waterauth/internal/server/repositories/otps"
	"github.com/dmitrijs2005/waterauth/internal/server/repositories/repomanager"
	"github.com/google/uuid"
)

const (
	OtpExpiry      = 3 * time.Minute
	OtpCooldown    = 60 * time.Second
	MaxOtpAttempts = 3

	otpCodeSpace = 1_000_000
)

type targetKind int

const (
	targetPhone targetKind = iota
	targetEmail
)

// classifyTarget tells phone numbers ("+" prefix or digits only) from email
// addresses (contain "@" and ".").
func classifyTarget(target string) (targetKind, error) {
	switch {
	case target == "":
		return 0, common.NewValidationError("target is empty")
	case strings.HasPrefix(target, "+") || isDigits(target):
		return targetPhone, nil
	case strings.Contains(target, "@") && strings.Contains(target, "."):
		return targetEmail, nil
	default:
		return 0, common.NewValidationError("target is neither a phone number nor an email")
	}
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// OtpService issues and redeems six digit one-time codes.
//
// A (target, purpose) pair has at most one live code. Generate and Validate
// each run in a single transaction holding a lock on the pair, so the
// cooldown check and the attempt counter hold under concurrent requests.
type OtpService struct {
	tx          dbx.Transactor
	repomanager repomanager.RepositoryManager
	logger      logging.Logger
	now         func() time.Time
	newCode     func() (string, error)
}

func NewOtpService(tx dbx.Transactor, m repomanager.RepositoryManager, logger logging.Logger) *OtpService {
	return &OtpService{
		tx:          tx,
		repomanager: m,
		logger:      logger.With("module", "otp"),
		now:         time.Now,
		newCode:     generateOtpCode,
	}
}

// generateOtpCode draws uniformly from [0, 1e6) and keeps leading zeros.
func generateOtpCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(otpCodeSpace))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}

// cooldownLeft is the time until another code may be sent. It is positive
// or zero while sending is blocked and negative once it is allowed again.
func cooldownLeft(last *models.OtpVerification, now time.Time) time.Duration {
	return last.CreatedAt.Add(OtpCooldown).Sub(now)
}

func (s *OtpService) latest(ctx context.Context, repo otps.Repository, target string, purpose models.OtpPurpose) (*models.OtpVerification, error) {
	last, err := repo.FindLatest(ctx, target, purpose)
	if errors.Is(err, common.ErrorNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return last, nil
}

// CanSend reports whether the cooldown since the last code for the pair has
// passed. The state of that last code does not matter.
func (s *OtpService) CanSend(ctx context.Context, target string, purpose models.OtpPurpose) (bool, error) {
	last, err := s.latest(ctx, s.repomanager.Otps(s.tx.Conn()), target, purpose)
	if err != nil {
		return false, err
	}
	return last == nil || cooldownLeft(last, s.now()) < 0, nil
}

// RemainingCooldownSeconds returns the whole seconds left until CanSend turns
// true, 0 when no code was ever sent.
func (s *OtpService) RemainingCooldownSeconds(ctx context.Context, target string, purpose models.OtpPurpose) (int, error) {
	last, err := s.latest(ctx, s.repomanager.Otps(s.tx.Conn()), target, purpose)
	if err != nil || last == nil {
		return 0, err
	}
	left := cooldownLeft(last, s.now())
	if left <= 0 {
		return 0, nil
	}
	return int(left / time.Second), nil
}

// Generate supersedes every unused code of the pair and stores a new one
// valid for OtpExpiry. It returns the plaintext code for delivery, or a
// *common.RateLimitError while the cooldown runs.
func (s *OtpService) Generate(ctx context.Context, target string, purpose models.OtpPurpose, userID string) (string, error) {
	kind, err := classifyTarget(target)
	if err != nil {
		return "", err
	}

	var code string
	err = s.tx.WithinTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		repo := s.repomanager.Otps(tx)
		if err := repo.Lock(ctx, target, purpose); err != nil {
			return err
		}

		now := s.now()
		last, err := s.latest(ctx, repo, target, purpose)
		if err != nil {
			return err
		}
		if last != nil {
			if left := cooldownLeft(last, now); left >= 0 {
				return &common.RateLimitError{RetryAfter: left.Truncate(time.Second) + time.Second}
			}
		}

		if _, err := repo.InvalidateUnused(ctx, target, purpose); err != nil {
			return err
		}

		code, err = s.newCode()
		if err != nil {
			return fmt.Errorf("error generating code: %w", err)
		}

		otp := &models.OtpVerification{
			ID:        uuid.NewString(),
			UserID:    userID,
			Code:      code,
			Purpose:   purpose,
			ExpiresAt: now.Add(OtpExpiry),
			CreatedAt: now,
		}
		if kind == targetPhone {
			otp.PhoneNumber = target
		} else {
			otp.Email = target
		}
		return repo.Create(ctx, otp)
	})
	if err != nil {
		return "", err
	}

	metrics.OtpIssuedTotal.WithLabelValues(purpose.String()).Inc()
	s.logger.Info(ctx, "otp issued", "purpose", purpose.String(), "user_id", userID)
	return code, nil
}

// Validate redeems code against the newest live record of the pair. Every
// call counts as an attempt; once the count passes MaxOtpAttempts the record
// is burned and even the correct code fails. A redeemed code never
// validates again.
func (s *OtpService) Validate(ctx context.Context, target string, purpose models.OtpPurpose, code string) (bool, error) {
	if _, err := classifyTarget(target); err != nil {
		return false, err
	}

	var (
		ok     bool
		result = "missing"
	)
	err := s.tx.WithinTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		repo := s.repomanager.Otps(tx)
		if err := repo.Lock(ctx, target, purpose); err != nil {
			return err
		}

		otp, err := repo.FindLatestLive(ctx, target, purpose, s.now())
		if errors.Is(err, common.ErrorNotFound) {
			return nil
		}
		if err != nil {
			return err
		}

		otp.AttemptCount++
		switch {
		case otp.AttemptCount > MaxOtpAttempts:
			otp.IsUsed = true
			result = "exhausted"
		case subtle.ConstantTimeCompare([]byte(otp.Code), []byte(code)) == 1:
			otp.IsUsed = true
			ok = true
			result = "accepted"
		default:
			result = "rejected"
		}
		return repo.Update(ctx, otp)
	})
	if err != nil {
		return false, err
	}

	metrics.OtpValidationsTotal.WithLabelValues(purpose.String(), result).Inc()
	s.logger.Debug(ctx, "otp validated", "purpose", purpose.String(), "result", result)
	return ok, nil
}
