package token

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager() *Manager {
	return NewManager(
		"test-access-secret-for-testing",
		"test-refresh-secret-for-testing",
		15*time.Minute, 7*24*time.Hour,
	)
}

func TestManager_AccessToken_RoundTrip(t *testing.T) {
	m := newTestManager()

	signed, err := m.GenerateAccessToken("user-1", "alice@example.com", []string{"student"})
	require.NoError(t, err)
	require.NotEmpty(t, signed)

	claims, err := m.VerifyAccess(signed)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.UserID)
	assert.Equal(t, "alice@example.com", claims.Email)
	assert.Equal(t, []string{"student"}, claims.Roles)
	assert.Equal(t, "user-1", claims.Subject)
}

func TestManager_RefreshToken_RoundTrip(t *testing.T) {
	m := newTestManager()

	signed, expiresAt, err := m.GenerateRefreshToken("user-1")
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().UTC().Add(7*24*time.Hour), expiresAt, 5*time.Second)

	claims, err := m.VerifyRefresh(signed)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.UserID)
}

func TestManager_ExpiredToken(t *testing.T) {
	m := NewManager("access-secret", "refresh-secret", -time.Minute, -time.Minute)

	signed, err := m.GenerateAccessToken("user-1", "alice@example.com", nil)
	require.NoError(t, err)

	_, err = m.VerifyAccess(signed)
	assert.ErrorIs(t, err, ErrExpired)
}

func TestManager_WrongSecret(t *testing.T) {
	m := newTestManager()
	other := NewManager("completely-different-secret", "another-different-secret", 15*time.Minute, time.Hour)

	signed, err := m.GenerateAccessToken("user-1", "alice@example.com", nil)
	require.NoError(t, err)

	_, err = other.VerifyAccess(signed)
	assert.ErrorIs(t, err, ErrSignatureInvalid)
}

func TestManager_AccessSecretCannotVerifyRefresh(t *testing.T) {
	m := newTestManager()

	// A refresh token presented as an access token must fail.
	signed, _, err := m.GenerateRefreshToken("user-1")
	require.NoError(t, err)

	_, err = m.VerifyAccess(signed)
	assert.ErrorIs(t, err, ErrSignatureInvalid)
}

func TestManager_MalformedToken(t *testing.T) {
	m := newTestManager()

	_, err := m.VerifyAccess("not-a-jwt")
	assert.ErrorIs(t, err, ErrMalformed)

	_, err = m.VerifyRefresh("")
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestNewSecret(t *testing.T) {
	plaintext, hash, err := NewSecret()
	require.NoError(t, err)
	assert.Len(t, plaintext, 64)
	assert.Equal(t, HashToken(plaintext), hash)
	assert.NotEqual(t, plaintext, hash)

	// Secrets are unique per call.
	other, _, err := NewSecret()
	require.NoError(t, err)
	assert.NotEqual(t, plaintext, other)
}
