package app

import (
	"devstack/internal/config"
)

// Config holds the application configuration
type Config struct {
	// LogLevel overrides the configured log level when set.
	LogLevel string

	// Debug forces debug logging.
	Debug bool

	// Devstack configuration
	Devstack config.Config
}

// NewConfig creates a new application configuration
func NewConfig(logLevel string, debug bool) *Config {
	return &Config{
		LogLevel: logLevel,
		Debug:    debug,
	}
}

func (c *Config) level() string {
	switch {
	case c.Debug:
		return "debug"
	case c.LogLevel != "":
		return c.LogLevel
	default:
		return c.Devstack.LogLevel
	}
}
