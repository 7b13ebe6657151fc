package users

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

const selectUser = `SELECT id, username, email, phone_number, password_hash, salt, federated_subject,
		auth_provider, is_email_verified, is_phone_verified, is_active, role,
		created_at, updated_at, last_login_at
	FROM users`

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Create(ctx context.Context, user *models.User) error {
	query :=
		`INSERT INTO users (id, username, email, phone_number, password_hash, salt, federated_subject,
			auth_provider, is_email_verified, is_phone_verified, is_active, role, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`

	var hash, salt, subject string
	switch c := user.Credential.(type) {
	case models.PasswordCredential:
		hash, salt = c.Hash, c.Salt
	case models.FederatedCredential:
		subject = c.Subject
	}

	_, err := r.db.ExecContext(ctx, query,
		user.ID, nullable(user.Username), nullable(user.Email), nullable(user.PhoneNumber),
		nullable(hash), nullable(salt), nullable(subject),
		int(user.Provider()), user.IsEmailVerified, user.IsPhoneVerified, user.IsActive, user.Role,
		user.CreatedAt, user.UpdatedAt)

	if err != nil {
		if dbx.IsUniqueViolation(err) {
			return common.ErrorAlreadyExists
		}
		return fmt.Errorf("db error: %w", err)
	}

	return nil
}

func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*models.User, error) {
	return r.getOne(ctx, selectUser+` WHERE id = $1`, id)
}

func (r *PostgresRepository) GetByLogin(ctx context.Context, login string) (*models.User, error) {
	return r.getOne(ctx, selectUser+` WHERE username = $1 OR email = $1 LIMIT 1`, login)
}

func (r *PostgresRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	return r.getOne(ctx, selectUser+` WHERE email = $1`, email)
}

func (r *PostgresRepository) GetByPhone(ctx context.Context, phone string) (*models.User, error) {
	return r.getOne(ctx, selectUser+` WHERE phone_number = $1`, phone)
}

func (r *PostgresRepository) ExistsByUsernameOrEmail(ctx context.Context, username, email string) (bool, error) {
	query := `SELECT EXISTS (SELECT 1 FROM users WHERE username = $1 OR email = $2)`

	var exists bool
	if err := r.db.QueryRowContext(ctx, query, username, email).Scan(&exists); err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	return exists, nil
}

func (r *PostgresRepository) UpdateLastLogin(ctx context.Context, id string, at time.Time) error {
	return r.updateOne(ctx, `UPDATE users SET last_login_at = $2, updated_at = $2 WHERE id = $1`, id, at)
}

func (r *PostgresRepository) SetEmailVerified(ctx context.Context, id string, at time.Time) error {
	return r.updateOne(ctx, `UPDATE users SET is_email_verified = TRUE, updated_at = $2 WHERE id = $1`, id, at)
}

func (r *PostgresRepository) SetActive(ctx context.Context, id string, active bool, at time.Time) error {
	return r.updateOne(ctx, `UPDATE users SET is_active = $2, updated_at = $3 WHERE id = $1`, id, active, at)
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

func (r *PostgresRepository) getOne(ctx context.Context, query string, arg any) (*models.User, error) {
	var (
		user                                        models.User
		username, email, phone, hash, salt, subject sql.NullString
		provider                                    int
		lastLogin                                   sql.NullTime
	)

	err := r.db.QueryRowContext(ctx, query, arg).Scan(
		&user.ID, &username, &email, &phone, &hash, &salt, &subject,
		&provider, &user.IsEmailVerified, &user.IsPhoneVerified, &user.IsActive, &user.Role,
		&user.CreatedAt, &user.UpdatedAt, &lastLogin)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}

	user.Username = username.String
	user.Email = email.String
	user.PhoneNumber = phone.String
	if lastLogin.Valid {
		t := lastLogin.Time
		user.LastLoginAt = &t
	}

	switch models.AuthProvider(provider) {
	case models.AuthProviderEmail:
		user.Credential = models.PasswordCredential{Hash: hash.String, Salt: salt.String}
	case models.AuthProviderPhone:
		user.Credential = models.PhoneCredential{PhoneNumber: phone.String}
	case models.AuthProviderGoogle:
		user.Credential = models.FederatedCredential{Subject: subject.String}
	default:
		return nil, fmt.Errorf("db error: unknown auth provider %d for user %s", provider, user.ID)
	}

	return &user, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
