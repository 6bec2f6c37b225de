// Package config loads runtime settings from the environment.
//
// A .env file in the working directory is read first (if present) so local
// development doesn't need exported variables. Real environment variables
// always win over .env values.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/sakif/nutrilog/internal/apperror"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config is everything the binaries need at startup.
type Config struct {
	Port int

	DBDriver    string // "sqlite" or "postgres"
	DBPath      string // sqlite file
	DatabaseURL string // postgres connection string

	JWTSecret string

	// DefaultTimezone is the zone used for users with no valid stored zone.
	DefaultTimezone *time.Location

	LogLevel  slog.Level
	LogFormat string // "text" or "json"
}

// Load reads .env (if any) and the environment. Invalid values are reported
// as apperror validation errors naming the offending variable.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("config: reading .env: %w", err)
	}
	return FromEnv(os.Getenv)
}

// FromEnv builds a Config from a lookup function. Tests pass a map lookup.
func FromEnv(getenv func(string) string) (Config, error) {
	get := func(key, def string) string {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			return v
		}
		return def
	}

	cfg := Config{
		DBDriver:    strings.ToLower(get("DB_DRIVER", DriverSQLite)),
		DBPath:      get("DB_PATH", "data/nutrilog.db"),
		DatabaseURL: get("DATABASE_URL", ""),
		JWTSecret:   get("JWT_SECRET", ""),
		LogFormat:   strings.ToLower(get("LOG_FORMAT", "text")),
	}

	port, err := strconv.Atoi(get("PORT", "8080"))
	if err != nil || port <= 0 || port > 65535 {
		return Config{}, apperror.ValidationFailed("PORT", fmt.Sprintf("invalid PORT %q", getenv("PORT")))
	}
	cfg.Port = port

	switch cfg.DBDriver {
	case DriverSQLite:
	case DriverPostgres:
		if cfg.DatabaseURL == "" {
			return Config{}, apperror.ValidationFailed("DATABASE_URL", "DATABASE_URL is required when DB_DRIVER=postgres")
		}
	default:
		return Config{}, apperror.ValidationFailed("DB_DRIVER", fmt.Sprintf("unknown DB_DRIVER %q", cfg.DBDriver))
	}

	zone := get("STREAK_DEFAULT_TIMEZONE", "UTC")
	loc, err := time.LoadLocation(zone)
	if err != nil {
		return Config{}, apperror.ValidationFailed("STREAK_DEFAULT_TIMEZONE", fmt.Sprintf("unknown timezone %q", zone))
	}
	cfg.DefaultTimezone = loc

	if err := cfg.LogLevel.UnmarshalText([]byte(get("LOG_LEVEL", "info"))); err != nil {
		return Config{}, apperror.ValidationFailed("LOG_LEVEL", fmt.Sprintf("invalid LOG_LEVEL %q", getenv("LOG_LEVEL")))
	}

	if cfg.LogFormat != "text" && cfg.LogFormat != "json" {
		return Config{}, apperror.ValidationFailed("LOG_FORMAT", fmt.Sprintf("LOG_FORMAT must be text or json, got %q", cfg.LogFormat))
	}

	return cfg, nil
}

// RequireJWTSecret checks the secret the HTTP server signs and verifies
// tokens with. streakctl recompute runs without it.
func (c Config) RequireJWTSecret() error {
	if len(c.JWTSecret) < 16 {
		return apperror.ValidationFailed("JWT_SECRET", "JWT_SECRET must be set and at least 16 characters")
	}
	return nil
}

// NewLogger builds the process logger from LOG_FORMAT and LOG_LEVEL.
func (c Config) NewLogger() *slog.Logger {
	opts := &slog.HandlerOptions{Level: c.LogLevel}
	if c.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}
