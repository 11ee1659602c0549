package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

const (
	DefaultImageModel = "imagen-3.0-generate"
	DefaultAPIBaseURL = "https://generativelanguage.googleapis.com"
)

// ErrMissingAPIKey is reported per request, never at startup.
var ErrMissingAPIKey = errors.New("GOOGLE_API_KEY is not configured.")

type Config struct {
	// Server
	Port     string `validate:"required,numeric"`
	Env      string `validate:"required"`
	LogLevel string

	// Google Generative Language API
	GoogleAPIKey     string
	GoogleImageModel string `validate:"required"`
	GoogleAPIBaseURL string `validate:"required,url"`

	// Redis (optional, enables cross-instance session updates)
	RedisURL string `validate:"omitempty,url"`

	// Sessions
	MaxSessions int `validate:"gt=0"`
	// ProxyURL points sessions at a remote generate-image endpoint instead of calling Google directly.
	ProxyURL string `validate:"omitempty,url"`

	// Per-IP generation requests per minute, 0 (the default) disables the limit
	GenerateRequestsPerMin int `validate:"gte=0"`

	// Frontend
	FrontendURL string `validate:"required"`
}

func Load() *Config {
	// Load .env file if it exists
	godotenv.Load()

	return &Config{
		Port:                   getEnvOrDefault("PORT", "8080"),
		Env:                    getEnvOrDefault("ENV", "development"),
		LogLevel:               getEnvOrDefault("LOG_LEVEL", "info"),
		GoogleAPIKey:           strings.TrimSpace(os.Getenv("GOOGLE_API_KEY")),
		GoogleImageModel:       getEnvOrDefault("GOOGLE_IMAGE_MODEL", DefaultImageModel),
		GoogleAPIBaseURL:       getEnvOrDefault("GOOGLE_API_BASE_URL", DefaultAPIBaseURL),
		RedisURL:               getEnvOrDefault("REDIS_URL", ""),
		MaxSessions:            getEnvAsIntOrDefault("MAX_SESSIONS", 1000),
		ProxyURL:               getEnvOrDefault("STUDIO_PROXY_URL", ""),
		GenerateRequestsPerMin: getEnvAsIntOrDefault("GENERATE_REQUESTS_PER_MINUTE", 0),
		FrontendURL:            getEnvOrDefault("FRONTEND_URL", "http://localhost:3000"),
	}
}

// Validate rejects settings the server cannot start with.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// RequireAPIKey is checked at startup only to warn; generation requests fail
// until the key is set.
func (c *Config) RequireAPIKey() error {
	if c.GoogleAPIKey == "" {
		return ErrMissingAPIKey
	}
	return nil
}

func getEnvOrDefault(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

func getEnvAsIntOrDefault(key string, defaultVal int) int {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return defaultVal
	}
	return n
}
