package config

import (
	"fmt"
	"time"

	pkgconfig "github.com/abenooo/elearning-identity/pkg/config"
)

// defaultSecret is the placeholder that must be replaced outside development.
const defaultSecret = "change-this-to-a-secure-secret"

// Config holds all configuration for the identity service.
type Config struct {
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`

	// HTTP server
	HTTPPort int `env:"IDENTITY_HTTP_PORT" envDefault:"8001"`

	// PostgreSQL
	PostgresHost string `env:"POSTGRES_HOST" envDefault:"localhost"`
	PostgresPort int    `env:"POSTGRES_PORT" envDefault:"5432"`
	PostgresUser string `env:"POSTGRES_USER" envDefault:"elearning"`
	PostgresPass string `env:"POSTGRES_PASSWORD" envDefault:"elearning_secret"`
	PostgresDB   string `env:"IDENTITY_DB_NAME" envDefault:"identity_db"`
	PostgresSSL  string `env:"POSTGRES_SSL_MODE" envDefault:"disable"`

	// Connection pool tuning.
	DBMaxConns int `env:"DB_MAX_CONNS" envDefault:"10"`
	DBMinConns int `env:"DB_MIN_CONNS" envDefault:"2"`

	// Redis (login throttle). Empty host disables the throttle.
	RedisHost     string `env:"REDIS_HOST" envDefault:""`
	RedisPort     int    `env:"REDIS_PORT" envDefault:"6379"`
	RedisPassword string `env:"REDIS_PASSWORD" envDefault:""`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`

	// Kafka. Empty broker list disables event publishing.
	KafkaBrokers []string `env:"KAFKA_BROKERS" envDefault:"" envSeparator:","`
	KafkaTopic   string   `env:"KAFKA_IDENTITY_TOPIC" envDefault:"identity.events"`

	// JWT. Access and refresh tokens are signed with separate secrets.
	JWTAccessSecret  string        `env:"JWT_ACCESS_SECRET" envDefault:"change-this-to-a-secure-secret"`
	JWTRefreshSecret string        `env:"JWT_REFRESH_SECRET" envDefault:"change-this-to-a-secure-secret"`
	JWTAccessExpiry  time.Duration `env:"JWT_ACCESS_TOKEN_EXPIRY" envDefault:"1h"`
	JWTRefreshExpiry time.Duration `env:"JWT_REFRESH_TOKEN_EXPIRY" envDefault:"168h"`

	// Lockout policy.
	LockoutThreshold int           `env:"LOCKOUT_THRESHOLD" envDefault:"5"`
	LockoutDuration  time.Duration `env:"LOCKOUT_DURATION" envDefault:"15m"`

	// Single-use token lifetimes.
	ResetTokenExpiry        time.Duration `env:"RESET_TOKEN_EXPIRY" envDefault:"10m"`
	VerificationTokenExpiry time.Duration `env:"VERIFICATION_TOKEN_EXPIRY" envDefault:"24h"`

	// LinkOrigin is the public base URL for reset and verification links.
	LinkOrigin string `env:"LINK_ORIGIN" envDefault:"http://localhost:3000"`

	// Per-client throttle windows for abuse-prone endpoints.
	LoginRateLimit   int           `env:"LOGIN_RATE_LIMIT" envDefault:"10"`
	LoginRateWindow  time.Duration `env:"LOGIN_RATE_WINDOW" envDefault:"1m"`
	ForgotRateLimit  int           `env:"FORGOT_RATE_LIMIT" envDefault:"3"`
	ForgotRateWindow time.Duration `env:"FORGOT_RATE_WINDOW" envDefault:"10m"`

	// CORS
	CORSAllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" envDefault:"*" envSeparator:","`

	// Cookie domain for the refresh cookie (empty means host-only).
	CookieDomain string `env:"COOKIE_DOMAIN" envDefault:""`

	// OpenTelemetry
	OTelEndpoint   string  `env:"OTEL_EXPORTER_OTLP_ENDPOINT" envDefault:""`
	OTelSampleRate float64 `env:"OTEL_SAMPLE_RATE" envDefault:"0.1"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := pkgconfig.Load(cfg); err != nil {
		return nil, fmt.Errorf("load identity config: %w", err)
	}
	if cfg.HTTPPort < 1 || cfg.HTTPPort > 65535 {
		return nil, fmt.Errorf("invalid HTTP port: %d", cfg.HTTPPort)
	}

	// Outside development, both JWT secrets must be explicitly set,
	// strong, and distinct from each other.
	if cfg.Environment != "development" {
		for name, secret := range map[string]string{
			"JWT_ACCESS_SECRET":  cfg.JWTAccessSecret,
			"JWT_REFRESH_SECRET": cfg.JWTRefreshSecret,
		} {
			if secret == defaultSecret {
				return nil, fmt.Errorf("%s must be explicitly set via environment variable in %q mode", name, cfg.Environment)
			}
			if len(secret) < 32 {
				return nil, fmt.Errorf("%s must be at least 32 characters long, got %d", name, len(secret))
			}
		}
		if cfg.JWTAccessSecret == cfg.JWTRefreshSecret {
			return nil, fmt.Errorf("JWT_ACCESS_SECRET and JWT_REFRESH_SECRET must differ")
		}
	}

	return cfg, nil
}

// PostgresDSN returns the PostgreSQL connection string.
func (c *Config) PostgresDSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.PostgresUser, c.PostgresPass, c.PostgresHost, c.PostgresPort, c.PostgresDB, c.PostgresSSL,
	)
}
