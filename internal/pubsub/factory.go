package pubsub

import (
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/fluxbase-eu/fluxpack/internal/config"
)

// NewPubSub creates the notification backend named by cfg.
//
// Backend options:
// - "local": in-process delivery (default)
// - "redis": Redis pub/sub, for several dev servers sharing one project
func NewPubSub(cfg *config.NotifyConfig) (PubSub, error) {
	switch cfg.Backend {
	case "local", "":
		log.Debug().Msg("Using local build notifications")
		return NewLocalPubSub(), nil

	case "redis":
		if cfg.RedisURL == "" {
			return nil, fmt.Errorf("redis_url is required for redis notify backend")
		}
		ps, err := NewRedisPubSub(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to Redis for notifications: %w", err)
		}
		return ps, nil

	default:
		return nil, fmt.Errorf("unknown notify backend: %s (valid options: local, redis)", cfg.Backend)
	}
}
