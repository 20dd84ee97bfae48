// Package app wires the identity service together and manages its lifecycle.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/abenooo/elearning-identity/internal/authz"
	"github.com/abenooo/elearning-identity/internal/config"
	"github.com/abenooo/elearning-identity/internal/event"
	handler "github.com/abenooo/elearning-identity/internal/handler/http"
	"github.com/abenooo/elearning-identity/internal/lockout"
	"github.com/abenooo/elearning-identity/internal/metrics"
	"github.com/abenooo/elearning-identity/internal/ratelimit"
	"github.com/abenooo/elearning-identity/internal/repository/postgres"
	"github.com/abenooo/elearning-identity/internal/service"
	"github.com/abenooo/elearning-identity/internal/token"
	"github.com/abenooo/elearning-identity/migrations"
	"github.com/abenooo/elearning-identity/pkg/database"
	"github.com/abenooo/elearning-identity/pkg/health"
	"github.com/abenooo/elearning-identity/pkg/tracing"
)

// App wires together all dependencies and runs the identity service.
type App struct {
	cfg            *config.Config
	logger         *slog.Logger
	pool           *pgxpool.Pool
	redisClient    *redis.Client
	publisher      event.Publisher
	httpServer     *http.Server
	tracerShutdown func(context.Context) error
}

// NewApp creates a new application instance, initializing all dependencies.
func NewApp(cfg *config.Config, logger *slog.Logger) (*App, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// OpenTelemetry tracing.
	tracerShutdown, err := tracing.InitTracer(ctx, tracing.Config{
		ServiceName:    "identity",
		ServiceVersion: "0.1.0",
		Environment:    cfg.Environment,
		OTLPEndpoint:   cfg.OTelEndpoint,
		SampleRate:     cfg.OTelSampleRate,
		Enabled:        cfg.OTelEndpoint != "",
	})
	if err != nil {
		return nil, fmt.Errorf("init tracer: %w", err)
	}

	// PostgreSQL connection pool.
	pgCfg := database.PostgresConfig{
		Host:     cfg.PostgresHost,
		Port:     cfg.PostgresPort,
		User:     cfg.PostgresUser,
		Password: cfg.PostgresPass,
		DBName:   cfg.PostgresDB,
		SSLMode:  cfg.PostgresSSL,
		MaxConns: int32(cfg.DBMaxConns),
		MinConns: int32(cfg.DBMinConns),
	}

	pool, err := database.NewPostgresPool(ctx, &pgCfg, logger)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	logger.Info("connected to PostgreSQL",
		slog.String("host", cfg.PostgresHost),
		slog.Int("port", cfg.PostgresPort),
		slog.String("database", cfg.PostgresDB),
	)
	database.RegisterPoolMetrics(pool, "identity")

	if err := database.RunMigrations(ctx, pool, migrations.FS, logger); err != nil {
		pool.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	logger.Info("database migrations completed")

	// Redis for the login throttle; missing host disables it.
	var redisClient *redis.Client
	loginLimiter := ratelimit.Limiter(ratelimit.NopLimiter{})
	forgotLimiter := ratelimit.Limiter(ratelimit.NopLimiter{})
	if cfg.RedisHost != "" {
		redisClient, err = database.NewRedisClient(ctx, database.RedisConfig{
			Host:     cfg.RedisHost,
			Port:     cfg.RedisPort,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err != nil {
			pool.Close()
			return nil, fmt.Errorf("connect to redis: %w", err)
		}
		loginLimiter = ratelimit.NewRedisLimiter(redisClient, "login", cfg.LoginRateLimit, cfg.LoginRateWindow, logger)
		forgotLimiter = ratelimit.NewRedisLimiter(redisClient, "forgot", cfg.ForgotRateLimit, cfg.ForgotRateWindow, logger)
		logger.Info("redis throttle enabled",
			slog.String("host", cfg.RedisHost),
		)
	}

	// Kafka publisher; empty broker list means events are discarded.
	var publisher event.Publisher = event.NopPublisher{}
	var producer *event.Producer
	if len(cfg.KafkaBrokers) > 0 && cfg.KafkaBrokers[0] != "" {
		producer = event.NewProducer(
			event.DefaultProducerConfig(cfg.KafkaBrokers, cfg.KafkaTopic), logger)
		publisher = producer
		logger.Info("kafka producer initialized",
			slog.Any("brokers", cfg.KafkaBrokers),
			slog.String("topic", cfg.KafkaTopic),
		)
	}

	// Build the dependency graph.
	userRepo := postgres.NewUserRepository(pool)
	roleRepo := postgres.NewRoleRepository(pool)

	jwtManager := token.NewManager(
		cfg.JWTAccessSecret, cfg.JWTRefreshSecret,
		cfg.JWTAccessExpiry, cfg.JWTRefreshExpiry,
	)
	tokenService := token.NewService(jwtManager, userRepo)
	resolver := authz.NewResolver(roleRepo, logger)

	authMetrics := metrics.NewAuth(prometheus.DefaultRegisterer)
	authService := service.NewAuthService(
		userRepo, tokenService, resolver, publisher,
		service.Config{
			LockoutPolicy:        lockout.NewPolicy(cfg.LockoutThreshold, cfg.LockoutDuration),
			ResetTokenTTL:        cfg.ResetTokenExpiry,
			VerificationTokenTTL: cfg.VerificationTokenExpiry,
			LinkOrigin:           cfg.LinkOrigin,
		},
		authMetrics, logger,
	)

	// The closed role set must exist before any registration can assign
	// the baseline role.
	if err := resolver.EnsureSystemRoles(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("seed system roles: %w", err)
	}

	// Health checks.
	healthHandler := health.NewHandler()
	healthHandler.RegisterCritical("postgres", func(ctx context.Context) error {
		return pool.Ping(ctx)
	})
	if redisClient != nil {
		healthHandler.RegisterNonCritical("redis", func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		})
	}
	if producer != nil {
		healthHandler.RegisterNonCritical("kafka", producer.Ping)
	}

	router := handler.NewRouter(handler.RouterConfig{
		AuthService:   authService,
		Tokens:        tokenService,
		Resolver:      resolver,
		LoginLimiter:  loginLimiter,
		ForgotLimiter: forgotLimiter,
		Health:        healthHandler,
		Cookies: handler.CookieConfig{
			Enabled: cfg.Environment != "development",
			Domain:  cfg.CookieDomain,
			MaxAge:  cfg.JWTRefreshExpiry,
		},
		CORS: handler.CORSConfig{
			AllowedOrigins: cfg.CORSAllowedOrigins,
			Environment:    cfg.Environment,
		},
		Logger: logger,
	})

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           router,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return &App{
		cfg:            cfg,
		logger:         logger,
		pool:           pool,
		redisClient:    redisClient,
		publisher:      publisher,
		httpServer:     httpServer,
		tracerShutdown: tracerShutdown,
	}, nil
}

// Run starts the HTTP server and blocks until the context is canceled.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 1)

	go func() {
		a.logger.Info("starting HTTP server",
			slog.String("addr", a.httpServer.Addr),
		)
		if err := a.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		a.logger.Info("shutdown signal received")
	case err := <-errCh:
		return err
	}

	return a.Shutdown()
}

// Shutdown gracefully stops all components in order: drain HTTP, flush
// spans, close the event publisher, then close the stores.
func (a *App) Shutdown() error {
	a.logger.Info("shutting down application...")

	var errs []error

	httpCtx, httpCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer httpCancel()
	if err := a.httpServer.Shutdown(httpCtx); err != nil {
		a.logger.Error("http server shutdown error", slog.String("error", err.Error()))
		errs = append(errs, err)
	}

	// Flush pending spans after HTTP drain so in-flight request spans are captured.
	if a.tracerShutdown != nil {
		tracerCtx, tracerCancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer tracerCancel()
		if err := a.tracerShutdown(tracerCtx); err != nil {
			a.logger.Error("tracer shutdown error", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}

	if err := a.publisher.Close(); err != nil {
		a.logger.Error("event publisher close error", slog.String("error", err.Error()))
		errs = append(errs, err)
	}

	if a.redisClient != nil {
		if err := a.redisClient.Close(); err != nil {
			a.logger.Error("redis close error", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}

	a.pool.Close()

	a.logger.Info("application shutdown complete")
	return errors.Join(errs...)
}
