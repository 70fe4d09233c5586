// Package config handles application configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
)

// Config holds the application configuration.
type Config struct {
	DatabasePath           string
	LogLevel               string
	ListenAddr             string
	TickSeconds            int
	DefaultIntervalMinutes int
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		DatabasePath:           envOrDefault("DATABASE_PATH", "./data/monitor.db"),
		LogLevel:               envOrDefault("LOG_LEVEL", "info"),
		ListenAddr:             envOrDefault("LISTEN_ADDR", ":8080"),
		TickSeconds:            60,
		DefaultIntervalMinutes: 5,
	}

	if raw := os.Getenv("TICK_SECONDS"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return nil, fmt.Errorf("invalid TICK_SECONDS %q", raw)
		}
		cfg.TickSeconds = n
	}

	if raw := os.Getenv("DEFAULT_INTERVAL_MINUTES"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 1440 {
			return nil, fmt.Errorf("invalid DEFAULT_INTERVAL_MINUTES %q, must be 1-1440", raw)
		}
		cfg.DefaultIntervalMinutes = n
	}

	return cfg, nil
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
