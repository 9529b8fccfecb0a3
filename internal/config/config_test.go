package config

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("ENV", "development")
	t.Setenv("SECRET_KEY", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, devSecretKey, cfg.Auth.SecretKey)
	assert.Equal(t, "HS256", cfg.Auth.Algorithm)
	assert.Equal(t, time.Hour, cfg.Auth.AccessTokenTTL)
	assert.Equal(t, 24*time.Hour, cfg.Auth.RefreshWindow)
	assert.Equal(t, 10*time.Minute, cfg.Auth.OTPTTL)
	assert.Equal(t, 24*time.Hour, cfg.Auth.PasswordResetTTL)
	assert.Equal(t, 168*time.Hour, cfg.Auth.SetPasswordTTL)
	assert.Equal(t, 5, cfg.Auth.OTPMaxAttempts)
	assert.True(t, cfg.IsDevelopment())
	assert.False(t, cfg.SMTP.Configured())
}

func TestLoad_ProductionRequiresSecret(t *testing.T) {
	t.Setenv("ENV", "Production")
	t.Setenv("SECRET_KEY", "")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SECRET_KEY is required")

	t.Setenv("SECRET_KEY", "too-short")
	_, err = Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "at least 32")

	t.Setenv("SECRET_KEY", strings.Repeat("k", 32))
	cfg, err := Load()
	require.NoError(t, err)
	assert.True(t, cfg.IsProduction())
}

func TestLoad_RejectsUnsupportedAlgorithm(t *testing.T) {
	t.Setenv("JWT_ALGORITHM", "RS256")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "JWT_ALGORITHM")
}

func TestLoad_RejectsNonPositiveLifetime(t *testing.T) {
	t.Setenv("OTP_TTL", "0s")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "OTP_TTL")
}

func TestLoad_ParseError(t *testing.T) {
	t.Setenv("PORT", "not-a-port")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse env:")
}

func TestLoad_ListSeparators(t *testing.T) {
	t.Setenv("TRUSTED_PROXIES", "10.0.0.0/8,172.16.0.0/12")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"10.0.0.0/8", "172.16.0.0/12"}, cfg.TrustedProxies)
}

func TestDSN(t *testing.T) {
	d := DatabaseConfig{Host: "db", User: "u", Password: "p@ss:word", Name: "caregate"}
	dsn := d.DSN()
	assert.Contains(t, dsn, "tcp(db:3306)")
	assert.Contains(t, dsn, "/caregate")
	assert.Contains(t, dsn, "parseTime=true")
	assert.Contains(t, dsn, "clientFoundRows=true")

	d.URL = "root:root@tcp(other:3307)/x"
	assert.Equal(t, "root:root@tcp(other:3307)/x", d.DSN())
}

func TestEnsurePort(t *testing.T) {
	assert.Equal(t, "mydb:3306", ensurePort("mydb", "3306"))
	assert.Equal(t, "mydb:3307", ensurePort("mydb:3307", "3306"))
}
