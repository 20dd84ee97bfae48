// Package http exposes the identity service over HTTP using chi.
package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/abenooo/elearning-identity/internal/authz"
	"github.com/abenooo/elearning-identity/internal/ratelimit"
	"github.com/abenooo/elearning-identity/internal/service"
	"github.com/abenooo/elearning-identity/internal/token"
	"github.com/abenooo/elearning-identity/pkg/health"
	"github.com/abenooo/elearning-identity/pkg/middleware"
)

// RouterConfig bundles the collaborators the router wires together.
type RouterConfig struct {
	AuthService   *service.AuthService
	Tokens        *token.Service
	Resolver      *authz.Resolver
	LoginLimiter  ratelimit.Limiter
	ForgotLimiter ratelimit.Limiter
	Health        *health.Handler
	Cookies       CookieConfig
	CORS          CORSConfig
	Logger        *slog.Logger
}

// NewRouter creates a chi router with all identity routes registered.
func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(CORS(cfg.CORS))
	r.Use(middleware.Recovery(cfg.Logger))
	r.Use(middleware.RequestLogging(cfg.Logger))
	r.Use(middleware.PrometheusMetrics("identity"))

	// Health check endpoints
	r.Get("/health/live", cfg.Health.LivenessHandler())
	r.Get("/health/ready", cfg.Health.ReadinessHandler())
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		promhttp.Handler().ServeHTTP(w, r)
	})

	authHandler := NewAuthHandler(cfg.AuthService, cfg.Cookies, cfg.Logger)
	userHandler := NewUserHandler(cfg.AuthService, cfg.Resolver, cfg.Logger)

	r.Route("/api/v1/auth", func(r chi.Router) {
		r.Use(ContentTypeJSON)

		// Public endpoints; login and forgot-password are throttled
		// per client address.
		r.With(Throttle(cfg.LoginLimiter)).Post("/login", authHandler.Login)
		r.With(Throttle(cfg.ForgotLimiter)).Post("/forgot-password", authHandler.ForgotPassword)
		r.Post("/register", authHandler.Register)
		r.Post("/refresh", authHandler.Refresh)
		r.Post("/reset-password", authHandler.ResetPassword)
		r.Post("/verify-email", authHandler.VerifyEmail)

		// Endpoints that require an authenticated caller.
		r.Group(func(r chi.Router) {
			r.Use(Authenticate(cfg.Tokens))

			r.Post("/logout", authHandler.Logout)
			r.Post("/change-password", authHandler.ChangePassword)
			r.Post("/send-verification", authHandler.SendVerification)
		})
	})

	r.Route("/api/v1/users", func(r chi.Router) {
		r.Use(ContentTypeJSON)
		r.Use(Authenticate(cfg.Tokens))

		r.Get("/me", userHandler.GetMe)

		// Role management requires an explicit grant on top of
		// authentication; the resolver additionally enforces that only
		// super-admins hand out elevated roles.
		r.Group(func(r chi.Router) {
			r.Use(RequirePermission(cfg.Resolver, "roles", "manage"))

			r.Get("/{id}/roles", userHandler.ListRoles)
			r.Post("/{id}/roles", userHandler.AssignRole)
			r.Delete("/{id}/roles/{role}", userHandler.RemoveRole)
		})
	})

	return r
}
