package repository

import (
	"context"
	"time"

	"github.com/abenooo/elearning-identity/internal/domain"
)

// UserRepository is the credential store: it exclusively owns user records,
// including lockout counters, the refresh session, and single-use token
// hashes. All mutating operations are single-statement atomic updates so
// concurrent logins or rotations for the same user cannot lose writes.
type UserRepository interface {
	// Create inserts a new user record.
	Create(ctx context.Context, user *domain.User) error

	// GetByID retrieves a user by ID.
	GetByID(ctx context.Context, id string) (*domain.User, error)

	// GetByEmail retrieves a user by email, case-insensitively.
	GetByEmail(ctx context.Context, email string) (*domain.User, error)

	// GetByResetTokenHash finds the user holding the given reset secret hash.
	GetByResetTokenHash(ctx context.Context, hash string) (*domain.User, error)

	// GetByVerificationTokenHash finds the user holding the given
	// verification secret hash.
	GetByVerificationTokenHash(ctx context.Context, hash string) (*domain.User, error)

	// RecordFailedLogin atomically increments the failed-attempt counter and,
	// if the post-increment count reaches threshold, sets the lock expiry to
	// lockUntil. A failure arriving after an expired lock restarts the
	// counter at 1 and clears the stale expiry. Returns the post-increment
	// count and current lock expiry.
	RecordFailedLogin(ctx context.Context, userID string, threshold int, lockUntil time.Time) (attempts int, lockedUntil *time.Time, err error)

	// ResetLockout clears the failed-attempt counter and lock expiry and
	// stamps the last successful login time.
	ResetLockout(ctx context.Context, userID string, lastLoginAt time.Time) error

	// RefreshSession returns the stored refresh token hash and expiry.
	RefreshSession(ctx context.Context, userID string) (hash string, expiresAt *time.Time, err error)

	// SetRefreshSession overwrites the refresh session unconditionally.
	SetRefreshSession(ctx context.Context, userID, hash string, expiresAt time.Time) error

	// RotateRefreshSession compare-and-sets the refresh session: the update
	// applies only if the stored hash equals oldHash and the session is not
	// expired. Returns false when the compare failed.
	RotateRefreshSession(ctx context.Context, userID, oldHash, newHash string, expiresAt time.Time) (bool, error)

	// ClearRefreshSession removes the refresh session. Idempotent.
	ClearRefreshSession(ctx context.Context, userID string) error

	// ReplacePassword sets a new credential hash and, in the same statement,
	// clears the refresh session and any pending reset secret so other
	// devices are forced to re-authenticate.
	ReplacePassword(ctx context.Context, userID, passwordHash string) error

	// SetResetToken stores the hash and expiry of a password-reset secret,
	// replacing any pending one.
	SetResetToken(ctx context.Context, userID, hash string, expiresAt time.Time) error

	// SetVerificationToken stores the hash and expiry of an email-verification
	// secret, replacing any pending one.
	SetVerificationToken(ctx context.Context, userID, hash string, expiresAt time.Time) error

	// MarkEmailVerified flags the email as verified and consumes the
	// verification secret.
	MarkEmailVerified(ctx context.Context, userID string) error
}

// RoleRepository reads and writes roles, role assignments, and the
// role-permission grants they carry. Role and permission catalog rows are
// seeded idempotently; assignment is an upsert that reactivates an existing
// (user, role) pair instead of duplicating it.
type RoleRepository interface {
	// EnsureSystemRoles inserts any missing system roles. Idempotent.
	EnsureSystemRoles(ctx context.Context) error

	// GetRoleByName retrieves a role from the closed set.
	GetRoleByName(ctx context.Context, name domain.RoleName) (*domain.Role, error)

	// AssignRole activates the (user, role) assignment, creating it if absent
	// and reactivating it if previously removed.
	AssignRole(ctx context.Context, userID, roleID, assignedBy string, expiresAt *time.Time) error

	// RemoveRole deactivates the assignment, recording who removed it.
	RemoveRole(ctx context.Context, userID, roleID, removedBy string) error

	// ActiveRoles returns the roles from assignments that are active and
	// either carry no expiry or expire in the future.
	ActiveRoles(ctx context.Context, userID string) ([]domain.Role, error)

	// AnyRoleGranted reports whether any of the given roles has a granted
	// permission for the (resource, action) pair.
	AnyRoleGranted(ctx context.Context, roleIDs []string, resource, action string) (bool, error)
}
