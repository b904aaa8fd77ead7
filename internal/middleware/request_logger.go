// Package middleware provides the fiber middleware of the dev server.
package middleware

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// RequestLoggerConfig holds configuration for request logging
type RequestLoggerConfig struct {
	// SkipPaths are paths that are never logged (e.g. the reload socket)
	SkipPaths []string
	// Logger is the zerolog logger to use (defaults to global log)
	Logger *zerolog.Logger
	// SlowRequestThreshold logs slow requests with WARN level (0 = disabled)
	SlowRequestThreshold time.Duration
}

// DefaultRequestLoggerConfig returns default configuration
func DefaultRequestLoggerConfig() RequestLoggerConfig {
	return RequestLoggerConfig{
		SkipPaths:            []string{"/metrics"},
		SlowRequestThreshold: time.Second,
	}
}

// RequestLogger returns a middleware that logs every request. Successful
// requests are logged at debug level so page reloads stay quiet.
func RequestLogger(config ...RequestLoggerConfig) fiber.Handler {
	cfg := DefaultRequestLoggerConfig()
	if len(config) > 0 {
		cfg = config[0]
	}

	skip := make(map[string]bool, len(cfg.SkipPaths))
	for _, p := range cfg.SkipPaths {
		skip[p] = true
	}

	return func(c *fiber.Ctx) error {
		path := c.Path()
		if skip[path] {
			return c.Next()
		}

		logger := log.Logger
		if cfg.Logger != nil {
			logger = *cfg.Logger
		}

		start := time.Now()
		err := c.Next()
		duration := time.Since(start)

		status := c.Response().StatusCode()
		var fe *fiber.Error
		if err != nil {
			status = fiber.StatusInternalServerError
			if e, ok := err.(*fiber.Error); ok {
				fe = e
				status = fe.Code
			}
		}

		var event *zerolog.Event
		switch {
		case status >= 500:
			event = logger.Error()
		case status >= 400:
			event = logger.Warn()
		case cfg.SlowRequestThreshold > 0 && duration > cfg.SlowRequestThreshold:
			event = logger.Warn().Bool("slow_request", true)
		default:
			event = logger.Debug()
		}

		event = event.
			Str("method", c.Method()).
			Str("path", path).
			Int("status", status).
			Int64("duration_ms", duration.Milliseconds()).
			Int("response_bytes", len(c.Response().Body()))
		if traceID := GetTraceID(c); traceID != "" {
			event = event.Str("trace_id", traceID)
		}
		if err != nil {
			event = event.Str("error", err.Error())
		}
		event.Msg("HTTP request")

		return err
	}
}
