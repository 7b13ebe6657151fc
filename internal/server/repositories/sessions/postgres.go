package sessions

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

const selectSession = `SELECT id, user_id, jwt_token_id, token_expires_at, device_info, ip_address, created_at, expires_at, is_active
	FROM login_sessions`

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Create(ctx context.Context, s *models.LoginSession) error {
	query :=
		`INSERT INTO login_sessions (id, user_id, jwt_token_id, token_expires_at, device_info, ip_address, created_at, expires_at, is_active)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err := r.db.ExecContext(ctx, query,
		s.ID, s.UserID, s.JwtTokenID, s.TokenExpiresAt, nullable(s.DeviceInfo), nullable(s.IpAddress),
		s.CreatedAt, s.ExpiresAt, s.IsActive)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*models.LoginSession, error) {
	return scanOne(r.db.QueryRowContext(ctx, selectSession+` WHERE id = $1`, id))
}

func (r *PostgresRepository) GetByTokenID(ctx context.Context, jti string) (*models.LoginSession, error) {
	return scanOne(r.db.QueryRowContext(ctx, selectSession+` WHERE jwt_token_id = $1`, jti))
}

func (r *PostgresRepository) ListActiveByUser(ctx context.Context, userID string, now time.Time) ([]models.LoginSession, error) {
	query := selectSession + `
		WHERE user_id = $1 AND is_active AND expires_at > $2
		ORDER BY created_at DESC`

	return r.list(ctx, query, userID, now)
}

func (r *PostgresRepository) Deactivate(ctx context.Context, id string) error {
	return r.updateOne(ctx, `UPDATE login_sessions SET is_active = FALSE WHERE id = $1`, id)
}

func (r *PostgresRepository) UpdateToken(ctx context.Context, id, jti string, tokenExpiresAt time.Time) error {
	return r.updateOne(ctx, `UPDATE login_sessions SET jwt_token_id = $2, token_expires_at = $3 WHERE id = $1`, id, jti, tokenExpiresAt)
}

func (r *PostgresRepository) ListExpired(ctx context.Context, before time.Time, limit int) ([]models.LoginSession, error) {
	return r.list(ctx, selectSession+` WHERE expires_at < $1 ORDER BY expires_at LIMIT $2`, before, limit)
}

func (r *PostgresRepository) Delete(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM login_sessions WHERE id = $1`, id); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) list(ctx context.Context, query string, args ...any) ([]models.LoginSession, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var result []models.LoginSession
	for rows.Next() {
		s, err := scanOne(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return result, nil
}

func (r *PostgresRepository) updateOne(ctx context.Context, query string, args ...any) error {
	res, err := r.db.ExecContext(ctx, query, args...)
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

type scanner interface {
	Scan(dest ...any) error
}

func scanOne(row scanner) (*models.LoginSession, error) {
	var (
		s          models.LoginSession
		device, ip sql.NullString
	)

	err := row.Scan(&s.ID, &s.UserID, &s.JwtTokenID, &s.TokenExpiresAt, &device, &ip, &s.CreatedAt, &s.ExpiresAt, &s.IsActive)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}

	s.DeviceInfo = device.String
	s.IpAddress = ip.String
	return &s, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
