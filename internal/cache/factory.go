package cache

import (
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fluxbase-eu/fluxpack/internal/config"
)

// NewStore creates a transform cache store from configuration. The "none"
// provider returns a nil store, which disables caching.
func NewStore(cfg *config.CacheConfig) (Store, error) {
	switch cfg.Provider {
	case "none":
		log.Debug().Msg("Transform cache disabled")
		return nil, nil

	case "memory", "":
		log.Debug().Msg("Using in-memory transform cache")
		return NewMemoryStore(cfg.Prefix, 10*time.Minute), nil

	case "redis":
		if cfg.RedisURL == "" {
			return nil, fmt.Errorf("redis_url is required for redis cache provider")
		}
		store, err := NewRedisStore(cfg.RedisURL, cfg.Prefix)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to Redis: %w", err)
		}
		return store, nil

	default:
		return nil, fmt.Errorf("unknown cache provider: %s (valid options: none, memory, redis)", cfg.Provider)
	}
}
