package middleware

import (
	"net/http"

	"github.com/rs/cors"
)

// CORSConfig holds configuration for CORS middleware
type CORSConfig struct {
	AllowedOrigins   []string
	AllowedMethods   []string
	AllowedHeaders   []string
	ExposedHeaders   []string
	AllowCredentials bool
	MaxAge           int
}

// DefaultCORSConfig returns a default CORS configuration
func DefaultCORSConfig(allowedOrigins []string) *CORSConfig {
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}
	return &CORSConfig{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS", "PATCH"},
		AllowedHeaders:   []string{"Content-Type", "Authorization", "Accept", "Origin", "X-Requested-With"},
		ExposedHeaders:   []string{"Content-Length", "Content-Type"},
		MaxAge:           86400, // 24 hours
		AllowCredentials: true,
	}
}

// CORSMiddleware configures CORS for all requests
func CORSMiddleware(config *CORSConfig) func(http.Handler) http.Handler {
	if config == nil {
		config = DefaultCORSConfig(nil)
	}
	c := cors.New(cors.Options{
		AllowedOrigins:       config.AllowedOrigins,
		AllowedMethods:       config.AllowedMethods,
		AllowedHeaders:       config.AllowedHeaders,
		ExposedHeaders:       config.ExposedHeaders,
		AllowCredentials:     config.AllowCredentials,
		MaxAge:               config.MaxAge,
		OptionsSuccessStatus: http.StatusOK,
	})
	return c.Handler
}
