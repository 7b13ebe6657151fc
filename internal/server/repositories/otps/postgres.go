package otps

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/waterauth/internal/common"
	"github.com/dmitrijs2005/waterauth/internal/dbx"
	"github.com/dmitrijs2005/waterauth/internal/server/models"
)

const selectOtp = `SELECT id, user_id, phone_number, email, code, purpose, expires_at, is_used, attempt_count, created_at
	FROM otp_verifications`

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// LockKey is the advisory lock key of a (target, purpose) pair.
func LockKey(target string, purpose models.OtpPurpose) string {
	return fmt.Sprintf("otp:%d:%s", purpose, target)
}

func (r *PostgresRepository) Lock(ctx context.Context, target string, purpose models.OtpPurpose) error {
	query := `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`

	if _, err := r.db.ExecContext(ctx, query, LockKey(target, purpose)); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) Create(ctx context.Context, otp *models.OtpVerification) error {
	query :=
		`INSERT INTO otp_verifications (id, user_id, phone_number, email, code, purpose, expires_at, is_used, attempt_count, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	_, err := r.db.ExecContext(ctx, query,
		otp.ID, nullable(otp.UserID), nullable(otp.PhoneNumber), nullable(otp.Email), otp.Code, int(otp.Purpose),
		otp.ExpiresAt, otp.IsUsed, otp.AttemptCount, otp.CreatedAt)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) FindLatest(ctx context.Context, target string, purpose models.OtpPurpose) (*models.OtpVerification, error) {
	query := selectOtp + `
		WHERE (phone_number = $1 OR email = $1) AND purpose = $2
		ORDER BY created_at DESC LIMIT 1`

	return scanOne(r.db.QueryRowContext(ctx, query, target, int(purpose)))
}

func (r *PostgresRepository) FindLatestLive(ctx context.Context, target string, purpose models.OtpPurpose, now time.Time) (*models.OtpVerification, error) {
	query := selectOtp + `
		WHERE (phone_number = $1 OR email = $1) AND purpose = $2 AND NOT is_used AND expires_at >= $3
		ORDER BY created_at DESC LIMIT 1`

	return scanOne(r.db.QueryRowContext(ctx, query, target, int(purpose), now))
}

func (r *PostgresRepository) InvalidateUnused(ctx context.Context, target string, purpose models.OtpPurpose) (int64, error) {
	query := `UPDATE otp_verifications SET is_used = TRUE
		WHERE (phone_number = $1 OR email = $1) AND purpose = $2 AND NOT is_used`

	res, err := r.db.ExecContext(ctx, query, target, int(purpose))
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return n, nil
}

func (r *PostgresRepository) Update(ctx context.Context, otp *models.OtpVerification) error {
	query := `UPDATE otp_verifications SET is_used = $2, attempt_count = $3 WHERE id = $1`

	res, err := r.db.ExecContext(ctx, query, otp.ID, otp.IsUsed, otp.AttemptCount)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if n == 0 {
		return common.ErrorNotFound
	}
	return nil
}

func (r *PostgresRepository) ListExpired(ctx context.Context, before time.Time, limit int) ([]models.OtpVerification, error) {
	query := selectOtp + ` WHERE expires_at < $1 ORDER BY expires_at LIMIT $2`

	rows, err := r.db.QueryContext(ctx, query, before, limit)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var result []models.OtpVerification
	for rows.Next() {
		otp, err := scanOne(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *otp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return result, nil
}

func (r *PostgresRepository) Delete(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM otp_verifications WHERE id = $1`, id); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanOne(row scanner) (*models.OtpVerification, error) {
	var (
		otp                 models.OtpVerification
		userID, phone, mail sql.NullString
		purpose             int
	)

	err := row.Scan(&otp.ID, &userID, &phone, &mail, &otp.Code, &purpose,
		&otp.ExpiresAt, &otp.IsUsed, &otp.AttemptCount, &otp.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}

	otp.UserID = userID.String
	otp.PhoneNumber = phone.String
	otp.Email = mail.String
	otp.Purpose = models.OtpPurpose(purpose)
	return &otp, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
