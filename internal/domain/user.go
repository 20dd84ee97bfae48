package domain

import (
	"crypto/rand"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// User is the durable identity record. Lockout counters, the refresh session,
// and the single-use token hashes are columns on this record: there is exactly
// one active refresh session and at most one pending reset/verification secret
// per user.
type User struct {
	ID           string `json:"id"`
	Email        string `json:"email"`
	PasswordHash string `json:"-"`
	FullName     string `json:"full_name"`
	// UserCode is a human-facing short code shown in the UI and on rosters.
	UserCode      string     `json:"user_code"`
	IsActive      bool       `json:"is_active"`
	EmailVerified bool       `json:"email_verified"`
	LastLoginAt   *time.Time `json:"last_login_at,omitempty"`

	// Lockout state.
	FailedLoginAttempts int        `json:"-"`
	LockUntil           *time.Time `json:"-"`

	// Refresh session: sha256 hash of the one active refresh token.
	RefreshTokenHash      string     `json:"-"`
	RefreshTokenExpiresAt *time.Time `json:"-"`

	// Single-use secrets, stored only as sha256 hashes.
	ResetTokenHash             string     `json:"-"`
	ResetTokenExpiresAt        *time.Time `json:"-"`
	VerificationTokenHash      string     `json:"-"`
	VerificationTokenExpiresAt *time.Time `json:"-"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// LockedUntil reports whether the user is currently locked out and, if so,
// when the lock expires.
func (u *User) LockedUntil(now time.Time) (time.Time, bool) {
	if u.LockUntil != nil && u.LockUntil.After(now) {
		return *u.LockUntil, true
	}
	return time.Time{}, false
}

// NewUser constructs a user record with a fresh ID and user code. The password
// hash is supplied by the caller; this constructor never touches plaintext
// credentials.
func NewUser(email, passwordHash, fullName string) *User {
	now := time.Now().UTC()
	return &User{
		ID:           uuid.New().String(),
		Email:        NormalizeEmail(email),
		PasswordHash: passwordHash,
		FullName:     fullName,
		UserCode:     NewUserCode(),
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// NormalizeEmail lowercases and trims an email address. Emails are unique
// case-insensitively, so every lookup and write goes through this.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// NewUserCode generates a short, lexicographically sortable user code.
func NewUserCode() string {
	return "U-" + ulid.MustNew(ulid.Now(), rand.Reader).String()
}

// TokenPair holds an access and refresh token pair.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}
