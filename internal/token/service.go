package token

import (
	"context"
	"fmt"
	"time"
)

// SessionStore persists the single refresh session kept per user. All writes
// are atomic per user record; rotation is a compare-and-set on the stored hash
// so that at most one of two racing rotations can win.
type SessionStore interface {
	// RefreshSession returns the stored refresh token hash and expiry for the
	// user. A user with no active session has an empty hash and nil expiry.
	RefreshSession(ctx context.Context, userID string) (hash string, expiresAt *time.Time, err error)

	// SetRefreshSession overwrites the stored refresh session unconditionally.
	SetRefreshSession(ctx context.Context, userID, hash string, expiresAt time.Time) error

	// RotateRefreshSession replaces the stored session only if the current
	// stored hash equals oldHash and the session has not expired. Returns
	// false when the compare failed (the token was already rotated out).
	RotateRefreshSession(ctx context.Context, userID, oldHash, newHash string, expiresAt time.Time) (bool, error)

	// ClearRefreshSession removes the stored session. Clearing a user with no
	// session is a no-op.
	ClearRefreshSession(ctx context.Context, userID string) error
}

// Service issues and verifies tokens and owns refresh rotation. Access tokens
// are stateless; refresh tokens are cross-checked against the stored session.
type Service struct {
	manager *Manager
	store   SessionStore
}

// NewService creates a token service over the given manager and session store.
func NewService(manager *Manager, store SessionStore) *Service {
	return &Service{manager: manager, store: store}
}

// Manager exposes the underlying stateless JWT manager.
func (s *Service) Manager() *Manager { return s.manager }

// IssueAccess produces a signed access token for the user. Stateless.
func (s *Service) IssueAccess(userID, email string, roles []string) (string, error) {
	return s.manager.GenerateAccessToken(userID, email, roles)
}

// IssueRefresh produces a signed refresh token and stores its hash as the
// user's refresh session, replacing any prior session.
func (s *Service) IssueRefresh(ctx context.Context, userID string) (string, error) {
	refresh, expiresAt, err := s.manager.GenerateRefreshToken(userID)
	if err != nil {
		return "", err
	}
	if err := s.store.SetRefreshSession(ctx, userID, HashToken(refresh), expiresAt); err != nil {
		return "", fmt.Errorf("store refresh session: %w", err)
	}
	return refresh, nil
}

// VerifyAccess validates an access token and returns its claims.
func (s *Service) VerifyAccess(tokenString string) (*AccessClaims, error) {
	return s.manager.VerifyAccess(tokenString)
}

// VerifyRefresh validates a refresh token cryptographically and then
// cross-checks it against the stored session. A token that was rotated out
// is still a valid JWT but fails the cross-check with ErrRevoked.
func (s *Service) VerifyRefresh(ctx context.Context, tokenString string) (string, error) {
	claims, err := s.manager.VerifyRefresh(tokenString)
	if err != nil {
		return "", err
	}

	storedHash, storedExpiry, err := s.store.RefreshSession(ctx, claims.UserID)
	if err != nil {
		return "", fmt.Errorf("load refresh session: %w", err)
	}
	if storedHash == "" || storedHash != HashToken(tokenString) {
		return "", ErrRevoked
	}
	if storedExpiry == nil || !storedExpiry.After(time.Now().UTC()) {
		return "", ErrRevoked
	}

	return claims.UserID, nil
}

// Rotate verifies the old refresh token and atomically replaces the stored
// session with a new one. Under concurrent calls with the same old token at
// most one caller wins; the loser observes the already-rotated stored value
// and gets ErrRevoked.
func (s *Service) Rotate(ctx context.Context, oldToken string) (userID, newRefresh string, err error) {
	claims, err := s.manager.VerifyRefresh(oldToken)
	if err != nil {
		return "", "", err
	}

	newRefresh, expiresAt, err := s.manager.GenerateRefreshToken(claims.UserID)
	if err != nil {
		return "", "", err
	}

	matched, err := s.store.RotateRefreshSession(ctx,
		claims.UserID, HashToken(oldToken), HashToken(newRefresh), expiresAt)
	if err != nil {
		return "", "", fmt.Errorf("rotate refresh session: %w", err)
	}
	if !matched {
		return "", "", ErrRevoked
	}

	return claims.UserID, newRefresh, nil
}

// Revoke clears the user's refresh session. Idempotent.
func (s *Service) Revoke(ctx context.Context, userID string) error {
	return s.store.ClearRefreshSession(ctx, userID)
}
