package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/abenooo/elearning-identity/internal/domain"
	apperrors "github.com/abenooo/elearning-identity/pkg/errors"
)

// DB is the subset of pgxpool.Pool used by the repositories. pgxmock's pool
// interface satisfies it, which is what the tests run against.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

const userColumns = `id, email, password_hash, full_name, user_code, is_active, email_verified,
	last_login_at, failed_login_attempts, lock_until,
	refresh_token_hash, refresh_token_expires_at,
	reset_token_hash, reset_token_expires_at,
	verification_token_hash, verification_token_expires_at,
	created_at, updated_at`

// UserRepository implements repository.UserRepository using PostgreSQL.
type UserRepository struct {
	db DB
}

// NewUserRepository creates a new PostgreSQL-backed user repository.
func NewUserRepository(db DB) *UserRepository {
	return &UserRepository{db: db}
}

// Create inserts a new user record.
func (r *UserRepository) Create(ctx context.Context, u *domain.User) error {
	query := `
		INSERT INTO users (id, email, password_hash, full_name, user_code, is_active, email_verified, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err := r.db.Exec(ctx, query,
		u.ID,
		u.Email,
		u.PasswordHash,
		u.FullName,
		u.UserCode,
		u.IsActive,
		u.EmailVerified,
		u.CreatedAt,
		u.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return apperrors.AlreadyExists("user", "email", u.Email)
		}
		return fmt.Errorf("insert user: %w", err)
	}

	return nil
}

// GetByID retrieves a user by ID.
func (r *UserRepository) GetByID(ctx context.Context, id string) (*domain.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	return r.scanUser(ctx, query, id)
}

// GetByEmail retrieves a user by email. Emails are stored lowercased, so the
// lookup normalizes first.
func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE email = $1`
	return r.scanUser(ctx, query, domain.NormalizeEmail(email))
}

// GetByResetTokenHash finds the user holding the given reset secret hash.
func (r *UserRepository) GetByResetTokenHash(ctx context.Context, hash string) (*domain.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE reset_token_hash = $1`
	return r.scanUser(ctx, query, hash)
}

// GetByVerificationTokenHash finds the user holding the given verification
// secret hash.
func (r *UserRepository) GetByVerificationTokenHash(ctx context.Context, hash string) (*domain.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE verification_token_hash = $1`
	return r.scanUser(ctx, query, hash)
}

// RecordFailedLogin increments the failed-attempt counter and sets the lock
// expiry when the threshold is reached, all in one statement so concurrent
// failed logins cannot lose an increment. A failure arriving after the lock
// window has elapsed restarts the counter at 1 and clears the stale lock, so
// one wrong password after an expired lock never re-locks the account.
func (r *UserRepository) RecordFailedLogin(ctx context.Context, userID string, threshold int, lockUntil time.Time) (int, *time.Time, error) {
	query := `
		UPDATE users
		SET failed_login_attempts = CASE
		        WHEN lock_until IS NOT NULL AND lock_until <= NOW() THEN 1
		        ELSE failed_login_attempts + 1
		    END,
		    lock_until = CASE
		        WHEN lock_until IS NOT NULL AND lock_until <= NOW() THEN NULL
		        WHEN failed_login_attempts + 1 >= $2 THEN $3
		        ELSE lock_until
		    END,
		    updated_at = NOW()
		WHERE id = $1
		RETURNING failed_login_attempts, lock_until`

	var attempts int
	var lockedUntil *time.Time
	err := r.db.QueryRow(ctx, query, userID, threshold, lockUntil).Scan(&attempts, &lockedUntil)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil, apperrors.ErrNotFound
		}
		return 0, nil, fmt.Errorf("record failed login: %w", err)
	}

	return attempts, lockedUntil, nil
}

// ResetLockout clears the lockout state and stamps the successful login time.
func (r *UserRepository) ResetLockout(ctx context.Context, userID string, lastLoginAt time.Time) error {
	query := `
		UPDATE users
		SET failed_login_attempts = 0,
		    lock_until = NULL,
		    last_login_at = $2,
		    updated_at = NOW()
		WHERE id = $1`

	ct, err := r.db.Exec(ctx, query, userID, lastLoginAt)
	if err != nil {
		return fmt.Errorf("reset lockout: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return apperrors.NotFound("user", userID)
	}

	return nil
}

// RefreshSession returns the stored refresh token hash and expiry.
func (r *UserRepository) RefreshSession(ctx context.Context, userID string) (string, *time.Time, error) {
	query := `SELECT COALESCE(refresh_token_hash, ''), refresh_token_expires_at FROM users WHERE id = $1`

	var hash string
	var expiresAt *time.Time
	err := r.db.QueryRow(ctx, query, userID).Scan(&hash, &expiresAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", nil, apperrors.ErrNotFound
		}
		return "", nil, fmt.Errorf("get refresh session: %w", err)
	}

	return hash, expiresAt, nil
}

// SetRefreshSession overwrites the refresh session unconditionally.
func (r *UserRepository) SetRefreshSession(ctx context.Context, userID, hash string, expiresAt time.Time) error {
	query := `
		UPDATE users
		SET refresh_token_hash = $2,
		    refresh_token_expires_at = $3,
		    updated_at = NOW()
		WHERE id = $1`

	ct, err := r.db.Exec(ctx, query, userID, hash, expiresAt)
	if err != nil {
		return fmt.Errorf("set refresh session: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return apperrors.NotFound("user", userID)
	}

	return nil
}

// RotateRefreshSession compare-and-sets the refresh session on the stored
// hash. An unmatched compare affects zero rows, which is how the losing side
// of a rotation race observes the already-rotated value.
func (r *UserRepository) RotateRefreshSession(ctx context.Context, userID, oldHash, newHash string, expiresAt time.Time) (bool, error) {
	query := `
		UPDATE users
		SET refresh_token_hash = $3,
		    refresh_token_expires_at = $4,
		    updated_at = NOW()
		WHERE id = $1
		  AND refresh_token_hash = $2
		  AND refresh_token_expires_at > NOW()`

	ct, err := r.db.Exec(ctx, query, userID, oldHash, newHash, expiresAt)
	if err != nil {
		return false, fmt.Errorf("rotate refresh session: %w", err)
	}

	return ct.RowsAffected() == 1, nil
}

// ClearRefreshSession removes the refresh session. Clearing an absent session
// is not an error.
func (r *UserRepository) ClearRefreshSession(ctx context.Context, userID string) error {
	query := `
		UPDATE users
		SET refresh_token_hash = NULL,
		    refresh_token_expires_at = NULL,
		    updated_at = NOW()
		WHERE id = $1`

	if _, err := r.db.Exec(ctx, query, userID); err != nil {
		return fmt.Errorf("clear refresh session: %w", err)
	}

	return nil
}

// ReplacePassword swaps the credential hash and invalidates the refresh
// session and any pending reset secret in the same statement.
func (r *UserRepository) ReplacePassword(ctx context.Context, userID, passwordHash string) error {
	query := `
		UPDATE users
		SET password_hash = $2,
		    refresh_token_hash = NULL,
		    refresh_token_expires_at = NULL,
		    reset_token_hash = NULL,
		    reset_token_expires_at = NULL,
		    updated_at = NOW()
		WHERE id = $1`

	ct, err := r.db.Exec(ctx, query, userID, passwordHash)
	if err != nil {
		return fmt.Errorf("replace password: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return apperrors.NotFound("user", userID)
	}

	return nil
}

// SetResetToken stores the reset secret hash and expiry, replacing any
// pending one.
func (r *UserRepository) SetResetToken(ctx context.Context, userID, hash string, expiresAt time.Time) error {
	query := `
		UPDATE users
		SET reset_token_hash = $2,
		    reset_token_expires_at = $3,
		    updated_at = NOW()
		WHERE id = $1`

	ct, err := r.db.Exec(ctx, query, userID, hash, expiresAt)
	if err != nil {
		return fmt.Errorf("set reset token: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return apperrors.NotFound("user", userID)
	}

	return nil
}

// SetVerificationToken stores the verification secret hash and expiry,
// replacing any pending one.
func (r *UserRepository) SetVerificationToken(ctx context.Context, userID, hash string, expiresAt time.Time) error {
	query := `
		UPDATE users
		SET verification_token_hash = $2,
		    verification_token_expires_at = $3,
		    updated_at = NOW()
		WHERE id = $1`

	ct, err := r.db.Exec(ctx, query, userID, hash, expiresAt)
	if err != nil {
		return fmt.Errorf("set verification token: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return apperrors.NotFound("user", userID)
	}

	return nil
}

// MarkEmailVerified flags the email as verified and consumes the secret.
func (r *UserRepository) MarkEmailVerified(ctx context.Context, userID string) error {
	query := `
		UPDATE users
		SET email_verified = TRUE,
		    verification_token_hash = NULL,
		    verification_token_expires_at = NULL,
		    updated_at = NOW()
		WHERE id = $1`

	ct, err := r.db.Exec(ctx, query, userID)
	if err != nil {
		return fmt.Errorf("mark email verified: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return apperrors.NotFound("user", userID)
	}

	return nil
}

// scanUser executes a query expected to return a single user row.
func (r *UserRepository) scanUser(ctx context.Context, query string, args ...any) (*domain.User, error) {
	var u domain.User
	var refreshHash, resetHash, verificationHash *string

	err := r.db.QueryRow(ctx, query, args...).Scan(
		&u.ID,
		&u.Email,
		&u.PasswordHash,
		&u.FullName,
		&u.UserCode,
		&u.IsActive,
		&u.EmailVerified,
		&u.LastLoginAt,
		&u.FailedLoginAttempts,
		&u.LockUntil,
		&refreshHash,
		&u.RefreshTokenExpiresAt,
		&resetHash,
		&u.ResetTokenExpiresAt,
		&verificationHash,
		&u.VerificationTokenExpiresAt,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("scan user: %w", err)
	}

	if refreshHash != nil {
		u.RefreshTokenHash = *refreshHash
	}
	if resetHash != nil {
		u.ResetTokenHash = *resetHash
	}
	if verificationHash != nil {
		u.VerificationTokenHash = *verificationHash
	}

	return &u, nil
}

// isUniqueViolation checks for a PostgreSQL unique constraint violation (SQLSTATE 23505).
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "23505")
}
