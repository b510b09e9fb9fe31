// internal/config/config.go
package config

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

// ServerConfig holds all server-related settings
type ServerConfig struct {
	Port            int
	Host            string
	MetricsEnabled  bool
	ShutdownTimeout time.Duration
}

// DatabaseConfig holds database configuration settings
type DatabaseConfig struct {
	Type    string // "mongo" or "memory"
	URI     string
	Name    string
	Timeout time.Duration
}

type AuthConfig struct {
	JWTSecret        string
	TokenExpiry      time.Duration
	CookieExpiryDays int
	Issuer           string
}

// QueryConfig bounds list pagination.
type QueryConfig struct {
	DefaultLimit int64
	MaxLimit     int64
}

type MediaConfig struct {
	Driver        string // "s3" or "memory"
	Bucket        string
	Region        string
	Endpoint      string
	AccessKey     string
	SecretKey     string
	PublicBaseURL string
}

// CacheConfig is disabled when RedisAddr is empty.
type CacheConfig struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	TTL           time.Duration
}

// MessagingConfig is disabled when NATSURL is empty.
type MessagingConfig struct {
	NATSURL string
}

type ReconcileConfig struct {
	Interval time.Duration
}

// Config holds the complete application configuration
type Config struct {
	Server         *ServerConfig
	Database       *DatabaseConfig
	Auth           *AuthConfig
	Query          *QueryConfig
	Media          *MediaConfig
	Cache          *CacheConfig
	Messaging      *MessagingConfig
	Reconcile      *ReconcileConfig
	AllowedOrigins []string
	Environment    string
	Debug          bool
}

func (c *Config) IsProduction() bool {
	return c.Environment == EnvProduction
}

// DefaultConfig provides default server settings
func DefaultConfig() *ServerConfig {
	return &ServerConfig{
		Port:            8080,
		Host:            "0.0.0.0",
		MetricsEnabled:  true,
		ShutdownTimeout: 10 * time.Second,
	}
}

// DefaultDatabaseConfig provides default database settings
func DefaultDatabaseConfig() *DatabaseConfig {
	return &DatabaseConfig{
		Type:    "mongo",
		URI:     "mongodb://localhost:27017",
		Name:    "qalam",
		Timeout: 10 * time.Second,
	}
}

func DefaultAuthConfig() *AuthConfig {
	return &AuthConfig{
		TokenExpiry:      90 * 24 * time.Hour,
		CookieExpiryDays: 90,
		Issuer:           "qalam",
	}
}

func DefaultQueryConfig() *QueryConfig {
	return &QueryConfig{DefaultLimit: 100, MaxLimit: 1000}
}

// LoadConfig loads configuration from environment variables and applies defaults
func LoadConfig() (*Config, error) {
	// Try to load .env file from multiple possible locations
	envLocations := []string{
		".env",
		"../../.env", // project root when running from cmd/server
		"../../../.env",
		filepath.Join(os.Getenv("GOPATH"), "src/qalam/.env"),
	}

	envLoaded := false
	for _, location := range envLocations {
		if err := godotenv.Load(location); err == nil {
			envLoaded = true
			break
		}
	}
	if !envLoaded {
		_ = godotenv.Load()
	}

	serverConfig := DefaultConfig()
	if port, ok, err := intFromEnv("PORT"); err != nil {
		return nil, err
	} else if ok {
		serverConfig.Port = port
	}
	if host := os.Getenv("HOST"); host != "" {
		serverConfig.Host = host
	}
	if metricsEnabled := os.Getenv("METRICS_ENABLED"); metricsEnabled != "" {
		serverConfig.MetricsEnabled = metricsEnabled == "true"
	}
	if d, ok, err := durationFromEnv("SHUTDOWN_TIMEOUT"); err != nil {
		return nil, err
	} else if ok {
		serverConfig.ShutdownTimeout = d
	}

	dbConfig := DefaultDatabaseConfig()
	dbConfig.Type = getEnvOrDefault("DB_TYPE", dbConfig.Type)
	switch dbConfig.Type {
	case "mongo":
		dbConfig.URI = getEnvOrDefault("MONGODB_URI", dbConfig.URI)
		dbConfig.Name = getEnvOrDefault("MONGODB_DATABASE", dbConfig.Name)
	case "memory":
	default:
		return nil, fmt.Errorf("unsupported DB_TYPE %q: expected mongo or memory", dbConfig.Type)
	}
	if d, ok, err := durationFromEnv("DB_TIMEOUT"); err != nil {
		return nil, err
	} else if ok {
		dbConfig.Timeout = d
	}

	config := &Config{
		Server:   serverConfig,
		Database: dbConfig,
		Auth:     DefaultAuthConfig(),
		Query:    DefaultQueryConfig(),
		Media: &MediaConfig{
			Driver:        getEnvOrDefault("MEDIA_DRIVER", "memory"),
			Bucket:        os.Getenv("MEDIA_BUCKET"),
			Region:        getEnvOrDefault("MEDIA_REGION", "auto"),
			Endpoint:      os.Getenv("MEDIA_ENDPOINT"),
			AccessKey:     os.Getenv("MEDIA_ACCESS_KEY"),
			SecretKey:     os.Getenv("MEDIA_SECRET_KEY"),
			PublicBaseURL: os.Getenv("MEDIA_PUBLIC_URL"),
		},
		Cache: &CacheConfig{
			RedisAddr:     os.Getenv("REDIS_ADDR"),
			RedisPassword: os.Getenv("REDIS_PASSWORD"),
			TTL:           5 * time.Minute,
		},
		Messaging:      &MessagingConfig{NATSURL: os.Getenv("NATS_URL")},
		Reconcile:      &ReconcileConfig{Interval: 15 * time.Minute},
		AllowedOrigins: []string{"*"},
		Environment:    getEnvOrDefault("APP_ENV", EnvDevelopment),
		Debug:          os.Getenv("DEBUG") == "true",
	}

	if config.Environment != EnvDevelopment && config.Environment != EnvProduction {
		return nil, fmt.Errorf("unsupported APP_ENV %q", config.Environment)
	}

	if err := loadAuth(config); err != nil {
		return nil, err
	}

	if n, ok, err := intFromEnv("QUERY_DEFAULT_LIMIT"); err != nil {
		return nil, err
	} else if ok && n > 0 {
		config.Query.DefaultLimit = int64(n)
	}
	if n, ok, err := intFromEnv("QUERY_MAX_LIMIT"); err != nil {
		return nil, err
	} else if ok && n > 0 {
		config.Query.MaxLimit = int64(n)
	}
	if config.Query.DefaultLimit > config.Query.MaxLimit {
		config.Query.DefaultLimit = config.Query.MaxLimit
	}

	if config.Media.Driver != "s3" && config.Media.Driver != "memory" {
		return nil, fmt.Errorf("unsupported MEDIA_DRIVER %q: expected s3 or memory", config.Media.Driver)
	}
	if config.Media.Driver == "s3" && config.Media.Bucket == "" {
		return nil, fmt.Errorf("MEDIA_BUCKET environment variable is required when MEDIA_DRIVER is s3")
	}

	if n, ok, err := intFromEnv("REDIS_DB"); err != nil {
		return nil, err
	} else if ok {
		config.Cache.RedisDB = n
	}
	if d, ok, err := durationFromEnv("CACHE_TTL"); err != nil {
		return nil, err
	} else if ok {
		config.Cache.TTL = d
	}

	if d, ok, err := durationFromEnv("RECONCILE_INTERVAL"); err != nil {
		return nil, err
	} else if ok {
		config.Reconcile.Interval = d
	}

	if origins := os.Getenv("ALLOWED_ORIGINS"); origins != "" {
		config.AllowedOrigins = splitAndTrim(origins)
	}

	return config, nil
}

func loadAuth(config *Config) error {
	auth := config.Auth
	auth.JWTSecret = os.Getenv("JWT_SECRET")
	auth.Issuer = getEnvOrDefault("JWT_ISSUER", auth.Issuer)
	if d, ok, err := durationFromEnv("JWT_EXPIRES_IN"); err != nil {
		return err
	} else if ok {
		auth.TokenExpiry = d
	}
	if n, ok, err := intFromEnv("JWT_COOKIE_EXPIRES_IN"); err != nil {
		return err
	} else if ok {
		auth.CookieExpiryDays = n
	}

	if auth.JWTSecret != "" {
		return nil
	}
	if config.IsProduction() {
		return fmt.Errorf("JWT_SECRET environment variable is required in production")
	}
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return fmt.Errorf("generating development JWT secret: %w", err)
	}
	auth.JWTSecret = hex.EncodeToString(secret)
	slog.Warn("JWT_SECRET not set, using a random secret; tokens will not survive a restart")
	return nil
}

// Helper function to get environment variable with default fallback
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func intFromEnv(key string) (int, bool, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return 0, false, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return n, true, nil
}

// durationFromEnv accepts Go durations ("15m") and a bare day count ("90d").
func durationFromEnv(key string) (time.Duration, bool, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return 0, false, nil
	}
	if days, ok := strings.CutSuffix(raw, "d"); ok {
		n, err := strconv.Atoi(days)
		if err != nil {
			return 0, false, fmt.Errorf("invalid %s %q: %w", key, raw, err)
		}
		return time.Duration(n) * 24 * time.Hour, true, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, false, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return d, true, nil
}

func splitAndTrim(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
