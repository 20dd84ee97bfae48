// Package service implements the authentication business logic: credential
// verification with lockout, token issuance and rotation, and the single-use
// reset and verification flows.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/abenooo/elearning-identity/internal/authz"
	"github.com/abenooo/elearning-identity/internal/domain"
	"github.com/abenooo/elearning-identity/internal/event"
	"github.com/abenooo/elearning-identity/internal/lockout"
	"github.com/abenooo/elearning-identity/internal/metrics"
	"github.com/abenooo/elearning-identity/internal/repository"
	"github.com/abenooo/elearning-identity/internal/token"
	apperrors "github.com/abenooo/elearning-identity/pkg/errors"
)

// bcryptCost is the cost factor for bcrypt password hashing.
const bcryptCost = 12

// minPasswordLength is the minimum password length required.
const minPasswordLength = 6

// dummyHash is compared against when the email is unknown so that login
// latency does not reveal whether an account exists.
const dummyHash = "$2a$12$R9h/cIPz0gi.URNNX3kh2OPST9/PgBkqquzi.Ss7KIUgO2t0jWMUW"

// Config holds the tunable parameters of the auth flows.
type Config struct {
	LockoutPolicy        lockout.Policy
	ResetTokenTTL        time.Duration
	VerificationTokenTTL time.Duration

	// LinkOrigin is the public base URL embedded in reset and
	// verification links, e.g. "https://app.example.com".
	LinkOrigin string
}

// AuthService orchestrates registration, login, token refresh, and the
// password-reset and email-verification flows.
type AuthService struct {
	users     repository.UserRepository
	tokens    *token.Service
	resolver  *authz.Resolver
	publisher event.Publisher
	cfg       Config
	metrics   *metrics.Auth
	logger    *slog.Logger
}

// NewAuthService creates the auth service.
func NewAuthService(
	users repository.UserRepository,
	tokens *token.Service,
	resolver *authz.Resolver,
	publisher event.Publisher,
	cfg Config,
	m *metrics.Auth,
	logger *slog.Logger,
) *AuthService {
	cfg.LockoutPolicy = lockout.NewPolicy(cfg.LockoutPolicy.Threshold, cfg.LockoutPolicy.Duration)
	if cfg.ResetTokenTTL <= 0 {
		cfg.ResetTokenTTL = 10 * time.Minute
	}
	if cfg.VerificationTokenTTL <= 0 {
		cfg.VerificationTokenTTL = 24 * time.Hour
	}

	return &AuthService{
		users:     users,
		tokens:    tokens,
		resolver:  resolver,
		publisher: publisher,
		cfg:       cfg,
		metrics:   m,
		logger:    logger,
	}
}

// RegisterInput holds the parameters for registering a new user.
type RegisterInput struct {
	Email    string
	Password string
	FullName string
}

// LoginInput holds the parameters for user login.
type LoginInput struct {
	Email    string
	Password string
}

// Register creates a new user account with the baseline student role,
// stores a pending email-verification secret, and returns a token pair.
func (s *AuthService) Register(ctx context.Context, input RegisterInput) (*domain.User, *domain.TokenPair, error) {
	if input.Email == "" {
		return nil, nil, apperrors.InvalidInput("email is required")
	}
	if input.FullName == "" {
		return nil, nil, apperrors.InvalidInput("full name is required")
	}
	if err := validatePassword(input.Password); err != nil {
		return nil, nil, err
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(input.Password), bcryptCost)
	if err != nil {
		return nil, nil, fmt.Errorf("hash password: %w", err)
	}

	user := domain.NewUser(input.Email, string(hashedPassword), input.FullName)

	if err := s.users.Create(ctx, user); err != nil {
		return nil, nil, fmt.Errorf("create user: %w", err)
	}

	// The baseline role is what makes the account usable; a half-created
	// account without it is worse than a failed registration.
	if err := s.resolver.AssignBaseline(ctx, user.ID); err != nil {
		return nil, nil, fmt.Errorf("assign baseline role: %w", err)
	}

	verificationLink, err := s.storeVerificationSecret(ctx, user.ID)
	if err != nil {
		return nil, nil, err
	}

	tokens, err := s.generateTokenPair(ctx, user)
	if err != nil {
		return nil, nil, fmt.Errorf("generate tokens: %w", err)
	}

	s.publisher.Publish(ctx, event.TypeUserRegistered, user.ID, event.UserRegistered{
		UserID:           user.ID,
		Email:            user.Email,
		FullName:         user.FullName,
		UserCode:         user.UserCode,
		VerificationLink: verificationLink,
	})

	s.metrics.Registrations.Inc()
	s.logger.InfoContext(ctx, "user registered",
		slog.String("user_id", user.ID),
		slog.String("email", user.Email),
	)

	return user, tokens, nil
}

// Login authenticates a user with email and password. The lockout gate is
// checked before the password so a locked account rejects even the correct
// credential; a failed attempt is persisted before the error is returned.
func (s *AuthService) Login(ctx context.Context, input LoginInput) (*domain.User, *domain.TokenPair, error) {
	if input.Email == "" {
		return nil, nil, apperrors.InvalidInput("email is required")
	}
	if input.Password == "" {
		return nil, nil, apperrors.InvalidInput("password is required")
	}

	now := time.Now().UTC()

	user, err := s.users.GetByEmail(ctx, domain.NormalizeEmail(input.Email))
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			// Burn a comparison so unknown emails take as long as
			// wrong passwords.
			_ = bcrypt.CompareHashAndPassword([]byte(dummyHash), []byte(input.Password))
			s.metrics.Logins.WithLabelValues(metrics.ResultFailure).Inc()
			return nil, nil, apperrors.InvalidCredentials()
		}
		return nil, nil, fmt.Errorf("get user by email: %w", err)
	}

	if !user.IsActive {
		return nil, nil, apperrors.Unauthorized("account is deactivated")
	}

	state := lockout.State{FailedAttempts: user.FailedLoginAttempts, LockUntil: user.LockUntil}
	if unlockAt, locked := s.cfg.LockoutPolicy.Locked(state, now); locked {
		s.metrics.Logins.WithLabelValues(metrics.ResultLocked).Inc()
		return nil, nil, apperrors.AccountLocked(unlockAt)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(input.Password)); err != nil {
		return nil, nil, s.recordFailedLogin(ctx, user, now)
	}

	if err := s.users.ResetLockout(ctx, user.ID, now); err != nil {
		return nil, nil, fmt.Errorf("reset lockout: %w", err)
	}

	tokens, err := s.generateTokenPair(ctx, user)
	if err != nil {
		return nil, nil, fmt.Errorf("generate tokens: %w", err)
	}

	s.metrics.Logins.WithLabelValues(metrics.ResultSuccess).Inc()
	s.logger.InfoContext(ctx, "user logged in",
		slog.String("user_id", user.ID),
		slog.String("email", user.Email),
	)

	return user, tokens, nil
}

// recordFailedLogin persists the failed attempt and maps the outcome to the
// client error. A persistence failure here fails the request rather than let
// the attempt go uncounted.
func (s *AuthService) recordFailedLogin(ctx context.Context, user *domain.User, now time.Time) error {
	lockUntil := now.Add(s.cfg.LockoutPolicy.Duration)

	attempts, lockedUntil, err := s.users.RecordFailedLogin(ctx, user.ID, s.cfg.LockoutPolicy.Threshold, lockUntil)
	if err != nil {
		return fmt.Errorf("record failed login: %w", err)
	}

	if lockedUntil != nil && lockedUntil.After(now) {
		if attempts == s.cfg.LockoutPolicy.Threshold {
			// This attempt tripped the lock.
			s.metrics.Lockouts.Inc()
			s.publisher.Publish(ctx, event.TypeAccountLocked, user.ID, event.AccountLocked{
				UserID:   user.ID,
				Email:    user.Email,
				UnlockAt: *lockedUntil,
			})
			s.logger.WarnContext(ctx, "account locked after repeated failures",
				slog.String("user_id", user.ID),
				slog.Int("attempts", attempts),
				slog.Time("unlock_at", *lockedUntil),
			)
		}
		s.metrics.Logins.WithLabelValues(metrics.ResultLocked).Inc()
		return apperrors.AccountLocked(*lockedUntil)
	}

	s.metrics.Logins.WithLabelValues(metrics.ResultFailure).Inc()
	return apperrors.InvalidCredentials()
}

// Refresh rotates a refresh token and issues a fresh token pair. The old
// token is invalidated atomically; when two requests race on the same token,
// exactly one wins and the other observes a revoked token.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (*domain.TokenPair, error) {
	if refreshToken == "" {
		return nil, apperrors.InvalidInput("refresh token is required")
	}

	userID, newRefresh, err := s.tokens.Rotate(ctx, refreshToken)
	if err != nil {
		switch {
		case errors.Is(err, token.ErrRevoked):
			s.metrics.TokenRotations.WithLabelValues(metrics.ResultRevoked).Inc()
			return nil, apperrors.InvalidOrExpiredToken()
		case errors.Is(err, token.ErrExpired),
			errors.Is(err, token.ErrMalformed),
			errors.Is(err, token.ErrSignatureInvalid):
			s.metrics.TokenRotations.WithLabelValues(metrics.ResultFailure).Inc()
			return nil, apperrors.InvalidOrExpiredToken()
		}
		return nil, fmt.Errorf("rotate refresh token: %w", err)
	}

	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("get user for token refresh: %w", err)
	}
	if !user.IsActive {
		return nil, apperrors.Unauthorized("account is deactivated")
	}

	access, err := s.issueAccess(ctx, user)
	if err != nil {
		return nil, err
	}

	s.metrics.TokenRotations.WithLabelValues(metrics.ResultSuccess).Inc()
	s.logger.InfoContext(ctx, "tokens refreshed",
		slog.String("user_id", user.ID),
	)

	return &domain.TokenPair{AccessToken: access, RefreshToken: newRefresh}, nil
}

// Logout clears the user's refresh session. Idempotent: logging out with no
// active session still succeeds.
func (s *AuthService) Logout(ctx context.Context, userID string) error {
	if err := s.tokens.Revoke(ctx, userID); err != nil {
		return fmt.Errorf("revoke refresh session: %w", err)
	}

	s.logger.InfoContext(ctx, "user logged out",
		slog.String("user_id", userID),
	)

	return nil
}

// ChangePassword verifies the current password, replaces the credential, and
// invalidates the existing refresh session so other devices must
// re-authenticate. A fresh token pair is issued for the current request.
func (s *AuthService) ChangePassword(ctx context.Context, userID, currentPassword, newPassword string) (*domain.TokenPair, error) {
	if currentPassword == "" {
		return nil, apperrors.InvalidInput("current password is required")
	}
	if err := validatePassword(newPassword); err != nil {
		return nil, err
	}
	if currentPassword == newPassword {
		return nil, apperrors.InvalidInput("new password must be different from current password")
	}

	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("get user for password change: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(currentPassword)); err != nil {
		return nil, apperrors.Unauthorized("current password is incorrect")
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcryptCost)
	if err != nil {
		return nil, fmt.Errorf("hash new password: %w", err)
	}

	// Clears the refresh session and any pending reset secret in the
	// same statement.
	if err := s.users.ReplacePassword(ctx, user.ID, string(hashedPassword)); err != nil {
		return nil, fmt.Errorf("replace password: %w", err)
	}

	tokens, err := s.generateTokenPair(ctx, user)
	if err != nil {
		return nil, fmt.Errorf("generate tokens: %w", err)
	}

	s.publisher.Publish(ctx, event.TypePasswordChanged, user.ID, event.PasswordChanged{
		UserID: user.ID,
		Email:  user.Email,
	})

	s.logger.InfoContext(ctx, "password changed",
		slog.String("user_id", user.ID),
	)

	return tokens, nil
}

// ForgotPassword starts the reset flow. It returns nil whether or not the
// email exists so callers cannot enumerate accounts; when the account exists
// a single-use secret is stored (hash only) and the plaintext link is handed
// to the notification stream.
func (s *AuthService) ForgotPassword(ctx context.Context, email string) error {
	if email == "" {
		return apperrors.InvalidInput("email is required")
	}

	user, err := s.users.GetByEmail(ctx, domain.NormalizeEmail(email))
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			s.logger.InfoContext(ctx, "password reset requested for unknown email",
				slog.String("email", domain.NormalizeEmail(email)),
			)
			return nil
		}
		return fmt.Errorf("get user by email: %w", err)
	}

	secret, hash, err := token.NewSecret()
	if err != nil {
		return fmt.Errorf("generate reset secret: %w", err)
	}

	expiresAt := time.Now().UTC().Add(s.cfg.ResetTokenTTL)
	if err := s.users.SetResetToken(ctx, user.ID, hash, expiresAt); err != nil {
		return fmt.Errorf("store reset token: %w", err)
	}

	s.publisher.Publish(ctx, event.TypePasswordResetRequested, user.ID, event.PasswordResetRequested{
		UserID:    user.ID,
		Email:     user.Email,
		ResetLink: fmt.Sprintf("%s/auth/reset-password/%s", s.cfg.LinkOrigin, secret),
		ExpiresAt: expiresAt,
	})

	s.logger.InfoContext(ctx, "password reset requested",
		slog.String("user_id", user.ID),
	)

	return nil
}

// ResetPassword consumes a reset secret and replaces the credential. The
// stored hash must match and must not be expired; the refresh session and the
// secret itself are invalidated together with the password change.
func (s *AuthService) ResetPassword(ctx context.Context, secret, newPassword string) error {
	if secret == "" {
		return apperrors.InvalidInput("reset token is required")
	}
	if err := validatePassword(newPassword); err != nil {
		return err
	}

	user, err := s.users.GetByResetTokenHash(ctx, token.HashToken(secret))
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			s.metrics.PasswordResets.WithLabelValues(metrics.ResultFailure).Inc()
			return apperrors.InvalidOrExpiredToken()
		}
		return fmt.Errorf("get user by reset token: %w", err)
	}

	if user.ResetTokenExpiresAt == nil || !user.ResetTokenExpiresAt.After(time.Now().UTC()) {
		s.metrics.PasswordResets.WithLabelValues(metrics.ResultFailure).Inc()
		return apperrors.InvalidOrExpiredToken()
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcryptCost)
	if err != nil {
		return fmt.Errorf("hash new password: %w", err)
	}

	if err := s.users.ReplacePassword(ctx, user.ID, string(hashedPassword)); err != nil {
		return fmt.Errorf("replace password: %w", err)
	}

	s.publisher.Publish(ctx, event.TypePasswordChanged, user.ID, event.PasswordChanged{
		UserID: user.ID,
		Email:  user.Email,
	})

	s.metrics.PasswordResets.WithLabelValues(metrics.ResultSuccess).Inc()
	s.logger.InfoContext(ctx, "password reset completed",
		slog.String("user_id", user.ID),
	)

	return nil
}

// SendVerification stores a fresh email-verification secret for the user and
// hands the link to the notification stream. Replaces any pending secret.
func (s *AuthService) SendVerification(ctx context.Context, userID string) error {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("get user for verification: %w", err)
	}

	if user.EmailVerified {
		return apperrors.InvalidInput("email is already verified")
	}

	link, err := s.storeVerificationSecret(ctx, user.ID)
	if err != nil {
		return err
	}

	s.publisher.Publish(ctx, event.TypeVerificationRequested, user.ID, event.VerificationRequested{
		UserID:           user.ID,
		Email:            user.Email,
		VerificationLink: link,
		ExpiresAt:        time.Now().UTC().Add(s.cfg.VerificationTokenTTL),
	})

	s.logger.InfoContext(ctx, "verification email requested",
		slog.String("user_id", user.ID),
	)

	return nil
}

// VerifyEmail consumes a verification secret and marks the email verified.
func (s *AuthService) VerifyEmail(ctx context.Context, secret string) error {
	if secret == "" {
		return apperrors.InvalidInput("verification token is required")
	}

	user, err := s.users.GetByVerificationTokenHash(ctx, token.HashToken(secret))
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return apperrors.InvalidOrExpiredToken()
		}
		return fmt.Errorf("get user by verification token: %w", err)
	}

	if user.VerificationTokenExpiresAt == nil || !user.VerificationTokenExpiresAt.After(time.Now().UTC()) {
		return apperrors.InvalidOrExpiredToken()
	}

	if err := s.users.MarkEmailVerified(ctx, user.ID); err != nil {
		return fmt.Errorf("mark email verified: %w", err)
	}

	s.logger.InfoContext(ctx, "email verified",
		slog.String("user_id", user.ID),
	)

	return nil
}

// GetUser retrieves a user by ID.
func (s *AuthService) GetUser(ctx context.Context, userID string) (*domain.User, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return user, nil
}

// --- Helpers ---

// issueAccess resolves the user's active roles and signs an access token
// carrying them.
func (s *AuthService) issueAccess(ctx context.Context, user *domain.User) (string, error) {
	roles, err := s.resolver.ActiveRoleNames(ctx, user.ID)
	if err != nil {
		return "", fmt.Errorf("resolve roles: %w", err)
	}

	access, err := s.tokens.IssueAccess(user.ID, user.Email, roles)
	if err != nil {
		return "", fmt.Errorf("generate access token: %w", err)
	}

	return access, nil
}

// generateTokenPair issues an access token and a new refresh session.
func (s *AuthService) generateTokenPair(ctx context.Context, user *domain.User) (*domain.TokenPair, error) {
	access, err := s.issueAccess(ctx, user)
	if err != nil {
		return nil, err
	}

	refresh, err := s.tokens.IssueRefresh(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("generate refresh token: %w", err)
	}

	return &domain.TokenPair{AccessToken: access, RefreshToken: refresh}, nil
}

// storeVerificationSecret creates a verification secret, persists its hash,
// and returns the plaintext link.
func (s *AuthService) storeVerificationSecret(ctx context.Context, userID string) (string, error) {
	secret, hash, err := token.NewSecret()
	if err != nil {
		return "", fmt.Errorf("generate verification secret: %w", err)
	}

	expiresAt := time.Now().UTC().Add(s.cfg.VerificationTokenTTL)
	if err := s.users.SetVerificationToken(ctx, userID, hash, expiresAt); err != nil {
		return "", fmt.Errorf("store verification token: %w", err)
	}

	return fmt.Sprintf("%s/auth/verify-email/%s", s.cfg.LinkOrigin, secret), nil
}

// validatePassword checks the minimum password length. This is the same
// rule the handler DTOs declare, repeated here so callers that bypass the
// HTTP layer get it too.
func validatePassword(password string) error {
	if len(password) < minPasswordLength {
		return apperrors.InvalidInput(fmt.Sprintf("password must be at least %d characters", minPasswordLength))
	}
	return nil
}
