package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"PORT", "HOST", "METRICS_ENABLED", "SHUTDOWN_TIMEOUT", "DB_TYPE", "MONGODB_URI",
		"MONGODB_DATABASE", "DB_TIMEOUT", "JWT_SECRET", "JWT_ISSUER", "JWT_EXPIRES_IN",
		"JWT_COOKIE_EXPIRES_IN", "QUERY_DEFAULT_LIMIT", "QUERY_MAX_LIMIT", "MEDIA_DRIVER",
		"MEDIA_BUCKET", "REDIS_ADDR", "REDIS_DB", "CACHE_TTL", "NATS_URL",
		"RECONCILE_INTERVAL", "ALLOWED_ORIGINS", "APP_ENV", "DEBUG",
	} {
		t.Setenv(key, "")
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "mongo", cfg.Database.Type)
	assert.Equal(t, EnvDevelopment, cfg.Environment)
	assert.Equal(t, int64(100), cfg.Query.DefaultLimit)
	assert.Equal(t, int64(1000), cfg.Query.MaxLimit)
	assert.Equal(t, "memory", cfg.Media.Driver)
	assert.Equal(t, []string{"*"}, cfg.AllowedOrigins)
	assert.NotEmpty(t, cfg.Auth.JWTSecret, "development falls back to a generated secret")
	assert.Equal(t, 90*24*time.Hour, cfg.Auth.TokenExpiry)
}

func TestLoadConfigOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "9090")
	t.Setenv("DB_TYPE", "memory")
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("JWT_EXPIRES_IN", "7d")
	t.Setenv("QUERY_MAX_LIMIT", "50")
	t.Setenv("ALLOWED_ORIGINS", "http://a.test, http://b.test")
	t.Setenv("RECONCILE_INTERVAL", "0s")
	t.Setenv("DEBUG", "true")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "memory", cfg.Database.Type)
	assert.Equal(t, "s3cret", cfg.Auth.JWTSecret)
	assert.Equal(t, 7*24*time.Hour, cfg.Auth.TokenExpiry)
	assert.Equal(t, int64(50), cfg.Query.MaxLimit)
	assert.Equal(t, int64(50), cfg.Query.DefaultLimit, "default limit never exceeds the cap")
	assert.Equal(t, []string{"http://a.test", "http://b.test"}, cfg.AllowedOrigins)
	assert.Zero(t, cfg.Reconcile.Interval)
	assert.True(t, cfg.Debug)
}

func TestLoadConfigRejectsBadValues(t *testing.T) {
	cases := map[string]map[string]string{
		"db type":            {"DB_TYPE": "postgres"},
		"port":               {"PORT": "eighty"},
		"production secret":  {"APP_ENV": "production"},
		"media bucket":       {"MEDIA_DRIVER": "s3"},
		"environment":        {"APP_ENV": "staging"},
		"reconcile interval": {"RECONCILE_INTERVAL": "soon"},
	}
	for name, env := range cases {
		t.Run(name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range env {
				t.Setenv(k, v)
			}
			_, err := LoadConfig()
			assert.Error(t, err)
		})
	}
}
