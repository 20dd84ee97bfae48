package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abenooo/elearning-identity/internal/domain"
	apperrors "github.com/abenooo/elearning-identity/pkg/errors"
)

func newUserTestFixture(t *testing.T) (*UserRepository, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	repo := NewUserRepository(mock)
	return repo, mock
}

func sampleUser() *domain.User {
	now := time.Now().UTC().Truncate(time.Microsecond)
	return &domain.User{
		ID:            "u-1",
		Email:         "alice@example.com",
		PasswordHash:  "$2a$04$fakehashfortestingonly................",
		FullName:      "Alice Smith",
		UserCode:      "U-01HXYZ",
		IsActive:      true,
		EmailVerified: false,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

func userTestColumns() []string {
	return []string{
		"id", "email", "password_hash", "full_name", "user_code",
		"is_active", "email_verified", "last_login_at",
		"failed_login_attempts", "lock_until",
		"refresh_token_hash", "refresh_token_expires_at",
		"reset_token_hash", "reset_token_expires_at",
		"verification_token_hash", "verification_token_expires_at",
		"created_at", "updated_at",
	}
}

func userRow(u *domain.User) *pgxmock.Rows {
	toPtr := func(s string) *string {
		if s == "" {
			return nil
		}
		return &s
	}
	return pgxmock.NewRows(userTestColumns()).AddRow(
		u.ID, u.Email, u.PasswordHash, u.FullName, u.UserCode,
		u.IsActive, u.EmailVerified, u.LastLoginAt,
		u.FailedLoginAttempts, u.LockUntil,
		toPtr(u.RefreshTokenHash), u.RefreshTokenExpiresAt,
		toPtr(u.ResetTokenHash), u.ResetTokenExpiresAt,
		toPtr(u.VerificationTokenHash), u.VerificationTokenExpiresAt,
		u.CreatedAt, u.UpdatedAt,
	)
}

// ---------------------------------------------------------------------------
// Create
// ---------------------------------------------------------------------------

func TestUserRepository_Create_Success(t *testing.T) {
	repo, mock := newUserTestFixture(t)
	defer mock.Close()

	u := sampleUser()

	mock.ExpectExec("INSERT INTO users").
		WithArgs(
			u.ID, u.Email, u.PasswordHash, u.FullName, u.UserCode,
			u.IsActive, u.EmailVerified, u.CreatedAt, u.UpdatedAt,
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := repo.Create(context.Background(), u)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUserRepository_Create_DuplicateEmail(t *testing.T) {
	repo, mock := newUserTestFixture(t)
	defer mock.Close()

	u := sampleUser()

	mock.ExpectExec("INSERT INTO users").
		WithArgs(
			u.ID, u.Email, u.PasswordHash, u.FullName, u.UserCode,
			u.IsActive, u.EmailVerified, u.CreatedAt, u.UpdatedAt,
		).
		WillReturnError(errors.New(`ERROR: duplicate key value violates unique constraint "users_email_key" (SQLSTATE 23505)`))

	err := repo.Create(context.Background(), u)
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrAlreadyExists))
	assert.NoError(t, mock.ExpectationsWereMet())
}

// ---------------------------------------------------------------------------
// GetByEmail / GetByID
// ---------------------------------------------------------------------------

func TestUserRepository_GetByEmail_Success(t *testing.T) {
	repo, mock := newUserTestFixture(t)
	defer mock.Close()

	u := sampleUser()

	mock.ExpectQuery("SELECT .+ FROM users WHERE email =").
		WithArgs(u.Email).
		WillReturnRows(userRow(u))

	got, err := repo.GetByEmail(context.Background(), "Alice@Example.com")
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)
	assert.Equal(t, u.Email, got.Email)
	assert.Equal(t, u.PasswordHash, got.PasswordHash)
	assert.Empty(t, got.RefreshTokenHash)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUserRepository_GetByEmail_NotFound(t *testing.T) {
	repo, mock := newUserTestFixture(t)
	defer mock.Close()

	mock.ExpectQuery("SELECT .+ FROM users WHERE email =").
		WithArgs("ghost@example.com").
		WillReturnError(pgx.ErrNoRows)

	got, err := repo.GetByEmail(context.Background(), "ghost@example.com")
	assert.Nil(t, got)
	assert.True(t, errors.Is(err, apperrors.ErrNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUserRepository_GetByID_NullableHashColumns(t *testing.T) {
	repo, mock := newUserTestFixture(t)
	defer mock.Close()

	u := sampleUser()
	expiresAt := time.Now().UTC().Add(time.Hour).Truncate(time.Microsecond)
	u.RefreshTokenHash = "abc123"
	u.RefreshTokenExpiresAt = &expiresAt

	mock.ExpectQuery("SELECT .+ FROM users WHERE id =").
		WithArgs(u.ID).
		WillReturnRows(userRow(u))

	got, err := repo.GetByID(context.Background(), u.ID)
	require.NoError(t, err)
	assert.Equal(t, "abc123", got.RefreshTokenHash)
	require.NotNil(t, got.RefreshTokenExpiresAt)
	assert.Equal(t, expiresAt, *got.RefreshTokenExpiresAt)
	assert.Empty(t, got.ResetTokenHash)
	assert.Empty(t, got.VerificationTokenHash)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// ---------------------------------------------------------------------------
// RecordFailedLogin / ResetLockout
// ---------------------------------------------------------------------------

func TestUserRepository_RecordFailedLogin_BelowThreshold(t *testing.T) {
	repo, mock := newUserTestFixture(t)
	defer mock.Close()

	lockUntil := time.Now().UTC().Add(15 * time.Minute)

	mock.ExpectQuery("UPDATE users").
		WithArgs("u-1", 5, lockUntil).
		WillReturnRows(pgxmock.NewRows([]string{"failed_login_attempts", "lock_until"}).
			AddRow(2, (*time.Time)(nil)))

	attempts, lockedUntil, err := repo.RecordFailedLogin(context.Background(), "u-1", 5, lockUntil)
	require.NoError(t, err)
	assert.Equal(t, 2, attempts)
	assert.Nil(t, lockedUntil)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUserRepository_RecordFailedLogin_ThresholdReached(t *testing.T) {
	repo, mock := newUserTestFixture(t)
	defer mock.Close()

	lockUntil := time.Now().UTC().Add(15 * time.Minute).Truncate(time.Microsecond)

	mock.ExpectQuery("UPDATE users").
		WithArgs("u-1", 5, lockUntil).
		WillReturnRows(pgxmock.NewRows([]string{"failed_login_attempts", "lock_until"}).
			AddRow(5, &lockUntil))

	attempts, lockedUntil, err := repo.RecordFailedLogin(context.Background(), "u-1", 5, lockUntil)
	require.NoError(t, err)
	assert.Equal(t, 5, attempts)
	require.NotNil(t, lockedUntil)
	assert.Equal(t, lockUntil, *lockedUntil)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUserRepository_RecordFailedLogin_RestartsAfterExpiredLock(t *testing.T) {
	repo, mock := newUserTestFixture(t)
	defer mock.Close()

	lockUntil := time.Now().UTC().Add(15 * time.Minute)

	// The statement must carry the expired-lock restart branch: counter back
	// to 1 and the stale lock cleared, in the same atomic update.
	mock.ExpectQuery(`SET failed_login_attempts = CASE\s+WHEN lock_until IS NOT NULL AND lock_until <= NOW\(\) THEN 1`).
		WithArgs("u-1", 5, lockUntil).
		WillReturnRows(pgxmock.NewRows([]string{"failed_login_attempts", "lock_until"}).
			AddRow(1, (*time.Time)(nil)))

	attempts, lockedUntil, err := repo.RecordFailedLogin(context.Background(), "u-1", 5, lockUntil)
	require.NoError(t, err)
	assert.Equal(t, 1, attempts)
	assert.Nil(t, lockedUntil)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUserRepository_RecordFailedLogin_UnknownUser(t *testing.T) {
	repo, mock := newUserTestFixture(t)
	defer mock.Close()

	lockUntil := time.Now().UTC().Add(15 * time.Minute)

	mock.ExpectQuery("UPDATE users").
		WithArgs("missing", 5, lockUntil).
		WillReturnError(pgx.ErrNoRows)

	_, _, err := repo.RecordFailedLogin(context.Background(), "missing", 5, lockUntil)
	assert.True(t, errors.Is(err, apperrors.ErrNotFound))
}

func TestUserRepository_ResetLockout_Success(t *testing.T) {
	repo, mock := newUserTestFixture(t)
	defer mock.Close()

	lastLoginAt := time.Now().UTC()

	mock.ExpectExec("UPDATE users").
		WithArgs("u-1", lastLoginAt).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err := repo.ResetLockout(context.Background(), "u-1", lastLoginAt)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// ---------------------------------------------------------------------------
// Refresh session
// ---------------------------------------------------------------------------

func TestUserRepository_RotateRefreshSession_Wins(t *testing.T) {
	repo, mock := newUserTestFixture(t)
	defer mock.Close()

	expiresAt := time.Now().UTC().Add(168 * time.Hour)

	mock.ExpectExec("UPDATE users").
		WithArgs("u-1", "old-hash", "new-hash", expiresAt).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	matched, err := repo.RotateRefreshSession(context.Background(), "u-1", "old-hash", "new-hash", expiresAt)
	require.NoError(t, err)
	assert.True(t, matched)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUserRepository_RotateRefreshSession_Loses(t *testing.T) {
	repo, mock := newUserTestFixture(t)
	defer mock.Close()

	expiresAt := time.Now().UTC().Add(168 * time.Hour)

	// The stored hash was already rotated by a concurrent request.
	mock.ExpectExec("UPDATE users").
		WithArgs("u-1", "stale-hash", "new-hash", expiresAt).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	matched, err := repo.RotateRefreshSession(context.Background(), "u-1", "stale-hash", "new-hash", expiresAt)
	require.NoError(t, err)
	assert.False(t, matched)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUserRepository_RefreshSession_EmptyWhenCleared(t *testing.T) {
	repo, mock := newUserTestFixture(t)
	defer mock.Close()

	mock.ExpectQuery("SELECT COALESCE").
		WithArgs("u-1").
		WillReturnRows(pgxmock.NewRows([]string{"coalesce", "refresh_token_expires_at"}).
			AddRow("", (*time.Time)(nil)))

	hash, expiresAt, err := repo.RefreshSession(context.Background(), "u-1")
	require.NoError(t, err)
	assert.Empty(t, hash)
	assert.Nil(t, expiresAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUserRepository_ClearRefreshSession_Idempotent(t *testing.T) {
	repo, mock := newUserTestFixture(t)
	defer mock.Close()

	// Zero rows affected is still a success.
	mock.ExpectExec("UPDATE users").
		WithArgs("missing").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := repo.ClearRefreshSession(context.Background(), "missing")
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// ---------------------------------------------------------------------------
// Credential and secret updates
// ---------------------------------------------------------------------------

func TestUserRepository_ReplacePassword_Success(t *testing.T) {
	repo, mock := newUserTestFixture(t)
	defer mock.Close()

	mock.ExpectExec("UPDATE users").
		WithArgs("u-1", "new-hash").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err := repo.ReplacePassword(context.Background(), "u-1", "new-hash")
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUserRepository_ReplacePassword_UnknownUser(t *testing.T) {
	repo, mock := newUserTestFixture(t)
	defer mock.Close()

	mock.ExpectExec("UPDATE users").
		WithArgs("missing", "new-hash").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := repo.ReplacePassword(context.Background(), "missing", "new-hash")
	assert.True(t, errors.Is(err, apperrors.ErrNotFound))
}

func TestUserRepository_SetResetToken_Success(t *testing.T) {
	repo, mock := newUserTestFixture(t)
	defer mock.Close()

	expiresAt := time.Now().UTC().Add(10 * time.Minute)

	mock.ExpectExec("UPDATE users").
		WithArgs("u-1", "reset-hash", expiresAt).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err := repo.SetResetToken(context.Background(), "u-1", "reset-hash", expiresAt)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUserRepository_MarkEmailVerified_Success(t *testing.T) {
	repo, mock := newUserTestFixture(t)
	defer mock.Close()

	mock.ExpectExec("UPDATE users").
		WithArgs("u-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err := repo.MarkEmailVerified(context.Background(), "u-1")
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
