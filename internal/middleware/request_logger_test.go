package middleware

import (
	"bytes"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loggedApp(buf *bytes.Buffer, cfg RequestLoggerConfig) *fiber.App {
	logger := zerolog.New(buf).Level(zerolog.DebugLevel)
	cfg.Logger = &logger

	app := fiber.New()
	app.Use(RequestLogger(cfg))
	app.Get("/yngwie.js", func(c *fiber.Ctx) error { return c.SendString("bundle") })
	app.Get("/missing", func(c *fiber.Ctx) error { return fiber.ErrNotFound })
	app.Get("/broken", func(c *fiber.Ctx) error { return c.SendStatus(fiber.StatusInternalServerError) })
	app.Get("/slow", func(c *fiber.Ctx) error {
		time.Sleep(20 * time.Millisecond)
		return c.SendString("ok")
	})
	app.Get("/metrics", func(c *fiber.Ctx) error { return c.SendString("") })
	return app
}

func lastEntry(t *testing.T, buf *bytes.Buffer) map[string]interface{} {
	t.Helper()
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(lines[len(lines)-1]), &entry))
	return entry
}

func TestRequestLogger_Levels(t *testing.T) {
	tests := []struct {
		path   string
		level  string
		status float64
	}{
		{"/yngwie.js", "debug", 200},
		{"/missing", "warn", 404},
		{"/broken", "error", 500},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			var buf bytes.Buffer
			app := loggedApp(&buf, DefaultRequestLoggerConfig())

			_, err := app.Test(httptest.NewRequest("GET", tt.path, nil))
			require.NoError(t, err)

			entry := lastEntry(t, &buf)
			assert.Equal(t, tt.level, entry["level"])
			assert.Equal(t, tt.status, entry["status"])
			assert.Equal(t, tt.path, entry["path"])
			assert.Equal(t, "GET", entry["method"])
			assert.Equal(t, "HTTP request", entry["message"])
		})
	}
}

func TestRequestLogger_SlowRequest(t *testing.T) {
	var buf bytes.Buffer
	app := loggedApp(&buf, RequestLoggerConfig{SlowRequestThreshold: time.Millisecond})

	_, err := app.Test(httptest.NewRequest("GET", "/slow", nil))
	require.NoError(t, err)

	entry := lastEntry(t, &buf)
	assert.Equal(t, "warn", entry["level"])
	assert.Equal(t, true, entry["slow_request"])
}

func TestRequestLogger_SkipPaths(t *testing.T) {
	var buf bytes.Buffer
	app := loggedApp(&buf, DefaultRequestLoggerConfig())

	_, err := app.Test(httptest.NewRequest("GET", "/metrics", nil))
	require.NoError(t, err)
	assert.Empty(t, buf.String())
}
