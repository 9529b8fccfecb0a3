// Package config handles loading application configuration from environment
// variables. All config is centralized here so no other package reads env
// vars directly. Sensible defaults are provided for development.
package config

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-sql-driver/mysql"
)

// devSecretKey lets local development run without a .env file. Load refuses
// it outside development.
const devSecretKey = "dev-secret-key-do-not-use-in-production!!"

// minProductionSecretLen is the shortest SECRET_KEY accepted in production.
const minProductionSecretLen = 32

// Config holds all application configuration. Populated from environment
// variables at startup. Passed to other packages via dependency injection.
type Config struct {
	// Env is the runtime environment: "development" or "production".
	Env string `env:"ENV" envDefault:"development"`

	// Port is the HTTP listen port.
	Port int `env:"PORT" envDefault:"8080"`

	// LogLevel controls log verbosity: "debug", "info", "warn", "error".
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	// TrustedProxies lists CIDRs whose X-Forwarded-For headers are honoured
	// when resolving the client IP.
	TrustedProxies []string `env:"TRUSTED_PROXIES" envSeparator:","`

	// CORSOrigins lists the browser origins allowed to call the API.
	CORSOrigins []string `env:"CORS_ORIGINS" envSeparator:","`

	Database DatabaseConfig
	Redis    RedisConfig
	Auth     AuthConfig
	SMTP     SMTPConfig
	Frontend FrontendConfig
	Dispatch DispatchConfig
}

// DatabaseConfig holds MariaDB connection parameters. Individual fields
// are read from separate env vars so container orchestrators can manage each
// independently. If DATABASE_URL is set, it takes precedence.
type DatabaseConfig struct {
	// Host is the MariaDB address in host:port format. If no port is
	// specified, 3306 is appended automatically.
	Host     string `env:"DB_HOST" envDefault:"localhost:3306"`
	User     string `env:"DB_USER" envDefault:"caregate"`
	Password string `env:"DB_PASSWORD" envDefault:"caregate"`
	Name     string `env:"DB_NAME" envDefault:"caregate"`

	// URL is a full go-sql-driver DSN that bypasses the individual fields.
	URL string `env:"DATABASE_URL"`

	MaxOpenConns    int           `env:"DB_MAX_OPEN_CONNS" envDefault:"25"`
	MaxIdleConns    int           `env:"DB_MAX_IDLE_CONNS" envDefault:"5"`
	ConnMaxLifetime time.Duration `env:"DB_CONN_MAX_LIFETIME" envDefault:"5m"`

	// MigrationsPath is the directory of golang-migrate SQL files applied at
	// startup.
	MigrationsPath string `env:"DB_MIGRATIONS_PATH" envDefault:"db/migrations"`
}

// DSN returns the go-sql-driver/mysql connection string. If DATABASE_URL was
// set, it is returned as-is. Otherwise the DSN is built from the individual
// fields using the driver's Config.FormatDSN() to safely handle special
// characters in passwords.
func (d DatabaseConfig) DSN() string {
	if d.URL != "" {
		return d.URL
	}
	cfg := mysql.NewConfig()
	cfg.User = d.User
	cfg.Passwd = d.Password
	cfg.Net = "tcp"
	cfg.Addr = ensurePort(d.Host, "3306")
	cfg.DBName = d.Name
	cfg.ParseTime = true
	cfg.Loc = time.UTC
	// Report matched rather than changed rows so single-row UPDATEs can
	// tell "no such account" apart from "nothing changed".
	cfg.ClientFoundRows = true
	return cfg.FormatDSN()
}

// ensurePort appends the default port if the host string doesn't include one.
// Allows DB_HOST=mydb (gets :3306) or DB_HOST=mydb:3307 (as-is).
func ensurePort(host, defaultPort string) string {
	_, _, err := net.SplitHostPort(host)
	if err != nil {
		return net.JoinHostPort(host, defaultPort)
	}
	return host
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	// URL is the Redis connection URL (e.g., "redis://localhost:6379").
	URL string `env:"REDIS_URL" envDefault:"redis://localhost:6379"`
}

// AuthConfig holds the credential and session lifetimes. All token types are
// signed with SecretKey using one Algorithm.
type AuthConfig struct {
	SecretKey string `env:"SECRET_KEY"`
	Algorithm string `env:"JWT_ALGORITHM" envDefault:"HS256"`

	AccessTokenTTL   time.Duration `env:"ACCESS_TOKEN_TTL" envDefault:"1h"`
	RefreshWindow    time.Duration `env:"REFRESH_WINDOW" envDefault:"24h"`
	OTPTTL           time.Duration `env:"OTP_TTL" envDefault:"10m"`
	PasswordResetTTL time.Duration `env:"PASSWORD_RESET_TTL" envDefault:"24h"`
	SetPasswordTTL   time.Duration `env:"SET_PASSWORD_TTL" envDefault:"168h"`

	// OTPMaxAttempts caps wrong codes per account within one OTP lifetime.
	// Zero disables the limiter.
	OTPMaxAttempts int `env:"OTP_MAX_ATTEMPTS" envDefault:"5"`

	// StoreTimeout bounds every account store call.
	StoreTimeout time.Duration `env:"STORE_TIMEOUT" envDefault:"5s"`

	// MailTimeout bounds every outbound email.
	MailTimeout time.Duration `env:"MAIL_TIMEOUT" envDefault:"10s"`
}

// DispatchConfig sizes the worker pool that sends recovery emails and writes
// auth events off the request path.
type DispatchConfig struct {
	Workers int `env:"DISPATCH_WORKERS" envDefault:"4"`
	Buffer  int `env:"DISPATCH_BUFFER" envDefault:"256"`

	// DrainTimeout bounds how long shutdown waits for queued work.
	DrainTimeout time.Duration `env:"DISPATCH_DRAIN_TIMEOUT" envDefault:"15s"`
}

// SMTPConfig holds outbound mail settings. An empty Host means mail is
// written to the log instead of being sent.
type SMTPConfig struct {
	Host        string `env:"SMTP_HOST"`
	Port        int    `env:"SMTP_PORT" envDefault:"587"`
	Username    string `env:"SMTP_USERNAME"`
	Password    string `env:"SMTP_PASSWORD"`
	FromAddress string `env:"SMTP_FROM" envDefault:"no-reply@caregate.local"`
	FromName    string `env:"SMTP_FROM_NAME" envDefault:"caregate"`

	// Encryption is "starttls", "ssl" or "none".
	Encryption string `env:"SMTP_ENCRYPTION" envDefault:"starttls"`
}

// Configured reports whether an SMTP relay has been set.
func (s SMTPConfig) Configured() bool {
	return s.Host != ""
}

// FrontendConfig holds the pages that recovery links point at. The token is
// appended as ?token=...
type FrontendConfig struct {
	ClinicianResetPasswordURL string `env:"FRONTEND_RESET_PASSWORD_URL" envDefault:"http://localhost:3000/reset-password"`
	SubjectResetPasswordURL   string `env:"FRONTEND_SUBJECT_RESET_PASSWORD_URL" envDefault:"http://localhost:3000/subject/reset-password"`
	SubjectSetPasswordURL     string `env:"FRONTEND_SUBJECT_SET_PASSWORD_URL" envDefault:"http://localhost:3000/subject/set-password"`
}

// Load reads configuration from environment variables and validates it.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	if cfg.IsProduction() {
		if cfg.Auth.SecretKey == "" {
			return nil, errors.New("SECRET_KEY is required in production")
		}
		if len(cfg.Auth.SecretKey) < minProductionSecretLen {
			return nil, fmt.Errorf("SECRET_KEY must be at least %d characters in production", minProductionSecretLen)
		}
	}

	// Provide a dev-only default secret so local dev works without .env.
	if cfg.Auth.SecretKey == "" {
		cfg.Auth.SecretKey = devSecretKey
	}

	if err := cfg.Auth.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (a AuthConfig) validate() error {
	switch a.Algorithm {
	case "HS256", "HS384", "HS512":
	default:
		return fmt.Errorf("JWT_ALGORITHM %q is not supported (use HS256, HS384 or HS512)", a.Algorithm)
	}

	lifetimes := []struct {
		name string
		d    time.Duration
	}{
		{"ACCESS_TOKEN_TTL", a.AccessTokenTTL},
		{"REFRESH_WINDOW", a.RefreshWindow},
		{"OTP_TTL", a.OTPTTL},
		{"PASSWORD_RESET_TTL", a.PasswordResetTTL},
		{"SET_PASSWORD_TTL", a.SetPasswordTTL},
		{"STORE_TIMEOUT", a.StoreTimeout},
		{"MAIL_TIMEOUT", a.MailTimeout},
	}
	for _, l := range lifetimes {
		if l.d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", l.name, l.d)
		}
	}

	if a.OTPMaxAttempts < 0 {
		return fmt.Errorf("OTP_MAX_ATTEMPTS must not be negative, got %d", a.OTPMaxAttempts)
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	env := strings.ToLower(c.Env)
	return env == "development" || env == "dev"
}

// IsProduction returns true for "production" and common variants. The check
// is case-insensitive so "Production" and "prod" are caught too.
func (c *Config) IsProduction() bool {
	env := strings.ToLower(c.Env)
	return env == "production" || env == "prod"
}
