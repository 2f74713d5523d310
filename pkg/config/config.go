// Package config loads server configuration from the process environment.
package config

import "os"

// Config holds the provider hub's server configuration.
type Config struct {
	// WireAddr is the bind address for the line-delimited wire protocol.
	WireAddr string
	// AdminAddr is the bind address for the admin HTTP collaborator.
	AdminAddr string
	LogLevel  string
	// DatabaseURL selects the Postgres-backed entity store when set.
	DatabaseURL string
	// DBPath is the SQLite file used for "lite mode" when DatabaseURL is unset.
	DBPath string
	// AuthEnabled gates whether incoming envelopes must carry a valid access token.
	AuthEnabled bool
	// RedisAddr, when set, backs the per-token rate limiter; otherwise an
	// in-process limiter is used.
	RedisAddr string
}

// Load reads configuration from environment variables, applying the same
// safe-default philosophy as the rest of the hub: the server must boot
// cleanly in dev mode with zero environment configured.
func Load() *Config {
	wireAddr := os.Getenv("WIRE_ADDR")
	if wireAddr == "" {
		wireAddr = ":7100"
	}

	adminAddr := os.Getenv("ADMIN_ADDR")
	if adminAddr == "" {
		adminAddr = ":7180"
	}

	logLevel := os.Getenv("LOG_LEVEL")
	if logLevel == "" {
		logLevel = "INFO"
	}

	dbPath := os.Getenv("DB_PATH")
	if dbPath == "" {
		dbPath = "data/providerhub.db"
	}

	return &Config{
		WireAddr:    wireAddr,
		AdminAddr:   adminAddr,
		LogLevel:    logLevel,
		DatabaseURL: os.Getenv("DATABASE_URL"),
		DBPath:      dbPath,
		AuthEnabled: os.Getenv("AUTH_ENABLED") == "true",
		RedisAddr:   os.Getenv("REDIS_ADDR"),
	}
}
