package http

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abenooo/elearning-identity/internal/authz"
	"github.com/abenooo/elearning-identity/internal/domain"
	"github.com/abenooo/elearning-identity/internal/event"
	"github.com/abenooo/elearning-identity/internal/metrics"
	"github.com/abenooo/elearning-identity/internal/service"
	"github.com/abenooo/elearning-identity/internal/token"
	apperrors "github.com/abenooo/elearning-identity/pkg/errors"
)

// stubUserRepository backs a real AuthService for handler-level tests.
// Only the session methods carry behavior; the rest return zero values.
type stubUserRepository struct {
	user     *domain.User
	rotateOK bool
}

func (s *stubUserRepository) Create(context.Context, *domain.User) error { return nil }

func (s *stubUserRepository) GetByID(context.Context, string) (*domain.User, error) {
	if s.user == nil {
		return nil, apperrors.ErrNotFound
	}
	return s.user, nil
}

func (s *stubUserRepository) GetByEmail(context.Context, string) (*domain.User, error) {
	if s.user == nil {
		return nil, apperrors.ErrNotFound
	}
	return s.user, nil
}

func (s *stubUserRepository) GetByResetTokenHash(context.Context, string) (*domain.User, error) {
	return nil, apperrors.ErrNotFound
}

func (s *stubUserRepository) GetByVerificationTokenHash(context.Context, string) (*domain.User, error) {
	return nil, apperrors.ErrNotFound
}

func (s *stubUserRepository) RecordFailedLogin(context.Context, string, int, time.Time) (int, *time.Time, error) {
	return 0, nil, nil
}

func (s *stubUserRepository) ResetLockout(context.Context, string, time.Time) error { return nil }

func (s *stubUserRepository) RefreshSession(context.Context, string) (string, *time.Time, error) {
	return "", nil, nil
}

func (s *stubUserRepository) SetRefreshSession(context.Context, string, string, time.Time) error {
	return nil
}

func (s *stubUserRepository) RotateRefreshSession(context.Context, string, string, string, time.Time) (bool, error) {
	return s.rotateOK, nil
}

func (s *stubUserRepository) ClearRefreshSession(context.Context, string) error { return nil }

func (s *stubUserRepository) ReplacePassword(context.Context, string, string) error { return nil }

func (s *stubUserRepository) SetResetToken(context.Context, string, string, time.Time) error {
	return nil
}

func (s *stubUserRepository) SetVerificationToken(context.Context, string, string, time.Time) error {
	return nil
}

func (s *stubUserRepository) MarkEmailVerified(context.Context, string) error { return nil }

func newRefreshTestHandler(users *stubUserRepository) *AuthHandler {
	logger := newTestLogger()
	manager := token.NewManager("test-access-secret", "test-refresh-secret", 15*time.Minute, 168*time.Hour)
	svc := service.NewAuthService(
		users,
		token.NewService(manager, users),
		authz.NewResolver(&stubRoleRepository{}, logger),
		event.NopPublisher{},
		service.Config{},
		metrics.NewAuth(prometheus.NewRegistry()),
		logger,
	)
	return NewAuthHandler(svc, CookieConfig{Enabled: true, MaxAge: 168 * time.Hour}, logger)
}

func findCookie(t *testing.T, rec *httptest.ResponseRecorder, name string) *http.Cookie {
	t.Helper()
	for _, c := range rec.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func TestSetRefreshCookie_Attributes(t *testing.T) {
	h := NewAuthHandler(nil, CookieConfig{
		Enabled: true,
		Domain:  "app.example.com",
		MaxAge:  168 * time.Hour,
	}, newTestLogger())

	rec := httptest.NewRecorder()
	h.setRefreshCookie(rec, "the-refresh-token")

	c := findCookie(t, rec, refreshCookieName)
	require.NotNil(t, c)
	assert.Equal(t, "the-refresh-token", c.Value)
	assert.Equal(t, "/api/v1/auth", c.Path)
	assert.Equal(t, "app.example.com", c.Domain)
	assert.Equal(t, int((168 * time.Hour).Seconds()), c.MaxAge)
	assert.True(t, c.HttpOnly)
	assert.True(t, c.Secure)
	assert.Equal(t, http.SameSiteStrictMode, c.SameSite)
}

func TestClearRefreshCookie_Expires(t *testing.T) {
	h := NewAuthHandler(nil, CookieConfig{Enabled: true, MaxAge: time.Hour}, newTestLogger())

	rec := httptest.NewRecorder()
	h.clearRefreshCookie(rec)

	c := findCookie(t, rec, refreshCookieName)
	require.NotNil(t, c)
	assert.Empty(t, c.Value)
	assert.Less(t, c.MaxAge, 0)
}

func TestRefresh_CookieOnlyRequest(t *testing.T) {
	u := &domain.User{ID: "user-1", Email: "alice@example.com", IsActive: true}
	users := &stubUserRepository{user: u, rotateOK: true}
	h := newRefreshTestHandler(users)

	manager := token.NewManager("test-access-secret", "test-refresh-secret", 15*time.Minute, 168*time.Hour)
	refresh, _, err := manager.GenerateRefreshToken(u.ID)
	require.NoError(t, err)

	// Browser-style request: no JSON body, token only in the cookie.
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/refresh", nil)
	req.AddCookie(&http.Cookie{Name: refreshCookieName, Value: refresh})
	rec := httptest.NewRecorder()

	h.Refresh(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "access_token")

	c := findCookie(t, rec, refreshCookieName)
	require.NotNil(t, c)
	assert.NotEqual(t, refresh, c.Value, "cookie must carry the rotated token")
}

func TestRefresh_CookieOnlyInvalidToken(t *testing.T) {
	h := newRefreshTestHandler(&stubUserRepository{})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/refresh", nil)
	req.AddCookie(&http.Cookie{Name: refreshCookieName, Value: "not-a-token"})
	rec := httptest.NewRecorder()

	h.Refresh(rec, req)

	// The cookie token must reach verification; an empty body is not a
	// decode error.
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "INVALID_OR_EXPIRED_TOKEN")
}

func TestRefresh_NoBodyNoCookie(t *testing.T) {
	h := newRefreshTestHandler(&stubUserRepository{})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/refresh", nil)
	rec := httptest.NewRecorder()

	h.Refresh(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "refresh token is required")
}

func TestRefreshCookie_DisabledIsNoop(t *testing.T) {
	h := NewAuthHandler(nil, CookieConfig{Enabled: false}, newTestLogger())

	rec := httptest.NewRecorder()
	h.setRefreshCookie(rec, "the-refresh-token")
	h.clearRefreshCookie(rec)

	assert.Empty(t, rec.Result().Cookies())
}
