package logging

import (
	"log/slog"
	"strings"
)

// Environment types
const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
	EnvTest        = "test"
)

// ApplyEnvironment fills unset fields with environment-specific defaults.
func (c Config) ApplyEnvironment() Config {
	switch strings.ToLower(c.Environment) {
	case EnvProduction:
		// Production: JSON format, INFO level, no source info for performance
		if c.Format == "" {
			c.Format = "json"
		}
		if c.Level == "" {
			c.Level = "info"
		}
		c.AddSource = false

	case EnvTest:
		if c.Format == "" {
			c.Format = "text"
		}
		if c.Level == "" {
			c.Level = "debug"
		}
		c.AddSource = false

	default:
		if c.Format == "" {
			c.Format = "text"
		}
		if c.Level == "" {
			c.Level = "info"
		}
	}
	return c
}

// ParseLevel maps a level name to a slog.Level, falling back to info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
