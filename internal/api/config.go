// Package api serves the session's violation log, live violation stream,
// session status and metrics over HTTP.
package api

import (
	"fmt"
	"time"

	"github.com/tphakala/proctor-go/internal/conf"
	"github.com/tphakala/proctor-go/internal/logger"
)

// GetLogger returns the api package logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("api")
}

// Default constants for the HTTP server.
const (
	DefaultListen          = "127.0.0.1:8085"
	DefaultReadTimeout     = 30 * time.Second
	DefaultIdleTimeout     = 120 * time.Second
	DefaultShutdownTimeout = 10 * time.Second
	DefaultHeartbeat       = 30 * time.Second
)

// Config holds the HTTP server configuration.
type Config struct {
	Listen         string
	AllowedOrigins []string

	// Write timeouts are left unset: violation streams are long-lived.
	ReadTimeout     time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	Heartbeat     time.Duration // SSE keep-alive interval
	StreamRate    float64       // SSE connection attempts per minute per client
	BodyLimit     string
	EnableMetrics bool
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Listen:          DefaultListen,
		AllowedOrigins:  []string{"*"},
		ReadTimeout:     DefaultReadTimeout,
		IdleTimeout:     DefaultIdleTimeout,
		ShutdownTimeout: DefaultShutdownTimeout,
		Heartbeat:       DefaultHeartbeat,
		StreamRate:      10,
		BodyLimit:       "64K",
		EnableMetrics:   true,
	}
}

// ConfigFromSettings creates a Config from the application settings.
func ConfigFromSettings(settings *conf.Settings) *Config {
	cfg := DefaultConfig()
	if settings.API.Listen != "" {
		cfg.Listen = settings.API.Listen
	}
	cfg.EnableMetrics = settings.Telemetry.Metrics.Enabled
	return cfg
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Listen == "" {
		return fmt.Errorf("listen address is required")
	}
	if c.ReadTimeout <= 0 {
		return fmt.Errorf("read timeout must be positive")
	}
	if c.Heartbeat <= 0 {
		return fmt.Errorf("stream heartbeat must be positive")
	}
	return nil
}
