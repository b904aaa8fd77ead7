// Package cache provides key-value backends for the transform cache.
package cache

import (
	"time"
)

// Store is the interface for transform cache backends:
// - Memory: single process, the default
// - Redis: shared between processes (works with Dragonfly, Redis, Valkey, KeyDB)
//
// Get returns nil and no error for a missing key.
type Store interface {
	Get(key string) ([]byte, error)
	Set(key string, value []byte, exp time.Duration) error
	Delete(key string) error
	Close() error
}
