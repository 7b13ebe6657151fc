// Package retention removes expired OTP and session rows, archiving each
// batch first when an Archiver is configured.
package retention

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dmitrijs2005/waterauth/internal/dbx"
	"github.com/dmitrijs2005/waterauth/internal/logging"
	"github.com/dmitrijs2005/waterauth/internal/server/metrics"
	"github.com/dmitrijs2005/waterauth/internal/server/models"
	"github.com/dmitrijs2005/waterauth/internal/server/repositories/repomanager"
	"github.com/google/uuid"
)

const defaultBatchSize = 500

// Result counts the rows removed by one sweep.
type Result struct {
	Otps     int
	Sessions int
}

type otpRecord struct {
	ID           string    `json:"id"`
	UserID       string    `json:"userId,omitempty"`
	PhoneNumber  string    `json:"phoneNumber,omitempty"`
	Email        string    `json:"email,omitempty"`
	Purpose      string    `json:"purpose"`
	IsUsed       bool      `json:"isUsed"`
	AttemptCount int       `json:"attemptCount"`
	CreatedAt    time.Time `json:"createdAt"`
	ExpiresAt    time.Time `json:"expiresAt"`
}

type sessionRecord struct {
	ID         string    `json:"id"`
	UserID     string    `json:"userId"`
	DeviceInfo string    `json:"deviceInfo,omitempty"`
	IpAddress  string    `json:"ipAddress,omitempty"`
	IsActive   bool      `json:"isActive"`
	CreatedAt  time.Time `json:"createdAt"`
	ExpiresAt  time.Time `json:"expiresAt"`
}

type archive[T any] struct {
	Kind    string    `json:"kind"`
	SweptAt time.Time `json:"sweptAt"`
	Records []T       `json:"records"`
}

type Sweeper struct {
	tx          dbx.Transactor
	repomanager repomanager.RepositoryManager
	archiver    Archiver
	age         time.Duration
	batchSize   int
	logger      logging.Logger
	now         func() time.Time
}

// NewSweeper removes rows that expired more than age ago. archiver may be
// nil, in which case rows are deleted without a copy.
func NewSweeper(tx dbx.Transactor, m repomanager.RepositoryManager, archiver Archiver, age time.Duration, l logging.Logger) *Sweeper {
	return &Sweeper{
		tx:          tx,
		repomanager: m,
		archiver:    archiver,
		age:         age,
		batchSize:   defaultBatchSize,
		logger:      l.With("module", "retention"),
		now:         time.Now,
	}
}

// Sweep runs until no expired rows are left.
func (s *Sweeper) Sweep(ctx context.Context) (Result, error) {
	var res Result
	now := s.now()
	before := now.Add(-s.age)

	for {
		n, err := s.sweepOtps(ctx, before, now)
		res.Otps += n
		if err != nil {
			return res, err
		}
		if n < s.batchSize {
			break
		}
	}

	for {
		n, err := s.sweepSessions(ctx, before, now)
		res.Sessions += n
		if err != nil {
			return res, err
		}
		if n < s.batchSize {
			break
		}
	}

	s.logger.Info(ctx, "retention sweep finished", "otps", res.Otps, "sessions", res.Sessions)
	return res, nil
}

func (s *Sweeper) sweepOtps(ctx context.Context, before, now time.Time) (int, error) {
	rows, err := s.repomanager.Otps(s.tx.Conn()).ListExpired(ctx, before, s.batchSize)
	if err != nil {
		return 0, fmt.Errorf("error listing expired otps: %w", err)
	}
	if len(rows) == 0 {
		return 0, nil
	}

	records := make([]otpRecord, 0, len(rows))
	for _, o := range rows {
		records = append(records, otpRecord{
			ID:           o.ID,
			UserID:       o.UserID,
			PhoneNumber:  o.PhoneNumber,
			Email:        o.Email,
			Purpose:      o.Purpose.String(),
			IsUsed:       o.IsUsed,
			AttemptCount: o.AttemptCount,
			CreatedAt:    o.CreatedAt,
			ExpiresAt:    o.ExpiresAt,
		})
	}
	if err := writeArchive(ctx, s.archiver, "otps", now, records); err != nil {
		return 0, err
	}

	err = s.tx.WithinTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		repo := s.repomanager.Otps(tx)
		for _, o := range rows {
			if err := repo.Delete(ctx, o.ID); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("error deleting expired otps: %w", err)
	}

	metrics.RetentionRowsTotal.WithLabelValues("otp").Add(float64(len(rows)))
	return len(rows), nil
}

func (s *Sweeper) sweepSessions(ctx context.Context, before, now time.Time) (int, error) {
	rows, err := s.repomanager.Sessions(s.tx.Conn()).ListExpired(ctx, before, s.batchSize)
	if err != nil {
		return 0, fmt.Errorf("error listing expired sessions: %w", err)
	}
	if len(rows) == 0 {
		return 0, nil
	}

	records := make([]sessionRecord, 0, len(rows))
	for _, v := range rows {
		records = append(records, newSessionRecord(v))
	}
	if err := writeArchive(ctx, s.archiver, "sessions", now, records); err != nil {
		return 0, err
	}

	// refresh tokens go with their session
	err = s.tx.WithinTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		repo := s.repomanager.Sessions(tx)
		for _, v := range rows {
			if err := repo.Delete(ctx, v.ID); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("error deleting expired sessions: %w", err)
	}

	metrics.RetentionRowsTotal.WithLabelValues("session").Add(float64(len(rows)))
	return len(rows), nil
}

func newSessionRecord(v models.LoginSession) sessionRecord {
	return sessionRecord{
		ID:         v.ID,
		UserID:     v.UserID,
		DeviceInfo: v.DeviceInfo,
		IpAddress:  v.IpAddress,
		IsActive:   v.IsActive,
		CreatedAt:  v.CreatedAt,
		ExpiresAt:  v.ExpiresAt,
	}
}

func writeArchive[T any](ctx context.Context, a Archiver, kind string, now time.Time, records []T) error {
	if a == nil {
		return nil
	}

	body, err := json.Marshal(archive[T]{Kind: kind, SweptAt: now, Records: records})
	if err != nil {
		return fmt.Errorf("error encoding %s archive: %w", kind, err)
	}
	return a.Archive(ctx, archiveKey(kind, now), body)
}

func archiveKey(kind string, t time.Time) string {
	t = t.UTC()
	return fmt.Sprintf("%s/%d/%02d/%02d/%v.json", kind, t.Year(), t.Month(), t.Day(), uuid.New())
}

// Run sweeps every interval until ctx is cancelled. Failures are logged and
// retried on the next tick.
func (s *Sweeper) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Sweep(ctx); err != nil {
				s.logger.Error(ctx, "retention sweep failed", "error", err)
			}
		}
	}
}
