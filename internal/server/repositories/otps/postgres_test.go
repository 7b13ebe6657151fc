package otps

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/dmitrijs2005/waterauth/internal/common"
	"github.com/dmitrijs2005/waterauth/internal/server/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var otpColumns = []string{"id", "user_id", "phone_number", "email", "code", "purpose", "expires_at", "is_used", "attempt_count", "created_at"}

func newRepoWithMock(t *testing.T) (*PostgresRepository, sqlmock.Sqlmock, *sql.DB) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	return NewPostgresRepository(db), mock, db
}

func TestLock(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectExec(`^SELECT pg_advisory_xact_lock\(hashtextextended\(\$1, 0\)\)$`).
		WithArgs("otp:1:+84901234567").
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, repo.Lock(context.Background(), "+84901234567", models.OtpPurposeLogin))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreate(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	now := time.Now()
	mock.ExpectExec(`(?s)^INSERT\s+INTO\s+otp_verifications\s*\(id,.*\)\s*VALUES\s*\(\$1,.*\$10\)$`).
		WithArgs("o-1", nil, nil, "a@b.co", "012345", 2, now.Add(3*time.Minute), false, 0, now).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.Create(context.Background(), &models.OtpVerification{
		ID: "o-1", Email: "a@b.co", Code: "012345", Purpose: models.OtpPurposeEmailVerification,
		ExpiresAt: now.Add(3 * time.Minute), CreatedAt: now,
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFindLatestLive(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows(otpColumns).
		AddRow("o-2", "u-1", "+84901234567", nil, "654321", int64(1), now.Add(time.Minute), false, int64(1), now.Add(-2*time.Minute))

	mock.ExpectQuery(`(?s)FROM\s+otp_verifications\s+WHERE\s+\(phone_number\s*=\s*\$1\s+OR\s+email\s*=\s*\$1\)\s+AND\s+purpose\s*=\s*\$2\s+AND\s+NOT\s+is_used\s+AND\s+expires_at\s*>=\s*\$3\s+ORDER\s+BY\s+created_at\s+DESC\s+LIMIT\s+1$`).
		WithArgs("+84901234567", 1, now).
		WillReturnRows(rows)

	otp, err := repo.FindLatestLive(context.Background(), "+84901234567", models.OtpPurposeLogin, now)
	require.NoError(t, err)
	assert.Equal(t, "o-2", otp.ID)
	assert.Equal(t, "u-1", otp.UserID)
	assert.Equal(t, "+84901234567", otp.PhoneNumber)
	assert.Empty(t, otp.Email)
	assert.Equal(t, models.OtpPurposeLogin, otp.Purpose)
	assert.Equal(t, 1, otp.AttemptCount)
}

func TestFindLatest_NotFound(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`(?s)FROM\s+otp_verifications\s+WHERE.*ORDER\s+BY\s+created_at\s+DESC\s+LIMIT\s+1$`).
		WithArgs("a@b.co", 0).
		WillReturnError(sql.ErrNoRows)

	_, err := repo.FindLatest(context.Background(), "a@b.co", models.OtpPurposeRegister)
	assert.ErrorIs(t, err, common.ErrorNotFound)
}

func TestInvalidateUnused(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectExec(`(?s)^UPDATE\s+otp_verifications\s+SET\s+is_used\s*=\s*TRUE\s+WHERE.*AND\s+NOT\s+is_used$`).
		WithArgs("+1555", 0).
		WillReturnResult(sqlmock.NewResult(0, 2))

	n, err := repo.InvalidateUnused(context.Background(), "+1555", models.OtpPurposeRegister)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestUpdate(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	q := `(?s)^UPDATE\s+otp_verifications\s+SET\s+is_used\s*=\s*\$2,\s*attempt_count\s*=\s*\$3\s+WHERE\s+id\s*=\s*\$1$`
	mock.ExpectExec(q).WithArgs("o-1", true, 2).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(q).WithArgs("gone", false, 1).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(q).WithArgs("o-3", false, 1).WillReturnError(errors.New("db err"))

	ctx := context.Background()
	require.NoError(t, repo.Update(ctx, &models.OtpVerification{ID: "o-1", IsUsed: true, AttemptCount: 2}))
	assert.ErrorIs(t, repo.Update(ctx, &models.OtpVerification{ID: "gone", AttemptCount: 1}), common.ErrorNotFound)
	assert.ErrorContains(t, repo.Update(ctx, &models.OtpVerification{ID: "o-3", AttemptCount: 1}), "db error: db err")
}

func TestListExpiredAndDelete(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	cutoff := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows(otpColumns).
		AddRow("o-1", nil, "+1", nil, "111111", int64(0), cutoff.Add(-time.Hour), true, int64(1), cutoff.Add(-2*time.Hour)).
		AddRow("o-2", nil, nil, "a@b.co", "222222", int64(2), cutoff.Add(-time.Minute), false, int64(0), cutoff.Add(-time.Hour))

	mock.ExpectQuery(`(?s)FROM\s+otp_verifications\s+WHERE\s+expires_at\s*<\s*\$1\s+ORDER\s+BY\s+expires_at\s+LIMIT\s+\$2$`).
		WithArgs(cutoff, 100).
		WillReturnRows(rows)
	mock.ExpectExec(`^DELETE FROM otp_verifications WHERE id = \$1$`).
		WithArgs("o-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	ctx := context.Background()
	list, err := repo.ListExpired(ctx, cutoff, 100)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "+1", list[0].Target())
	assert.Equal(t, "a@b.co", list[1].Target())

	require.NoError(t, repo.Delete(ctx, "o-1"))
	require.NoError(t, mock.ExpectationsWereMet())
}
