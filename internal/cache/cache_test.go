package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fluxbase-eu/fluxpack/internal/config"
)

func TestMemoryStore(t *testing.T) {
	store := NewMemoryStore("test:", time.Minute)
	defer store.Close()

	t.Run("missing key returns nil", func(t *testing.T) {
		val, err := store.Get("absent")
		require.NoError(t, err)
		assert.Nil(t, val)
	})

	t.Run("set then get", func(t *testing.T) {
		require.NoError(t, store.Set("k", []byte("v"), 0))
		val, err := store.Get("k")
		require.NoError(t, err)
		assert.Equal(t, []byte("v"), val)
	})

	t.Run("delete", func(t *testing.T) {
		require.NoError(t, store.Set("gone", []byte("v"), 0))
		require.NoError(t, store.Delete("gone"))
		val, err := store.Get("gone")
		require.NoError(t, err)
		assert.Nil(t, val)
	})

	t.Run("prefix isolates stores sharing keys", func(t *testing.T) {
		other := NewMemoryStore("other:", time.Minute)
		defer other.Close()
		require.NoError(t, other.Set("k", []byte("w"), 0))

		val, err := store.Get("k")
		require.NoError(t, err)
		assert.Equal(t, []byte("v"), val)
	})
}

func TestNewStore(t *testing.T) {
	t.Run("none disables the cache", func(t *testing.T) {
		store, err := NewStore(&config.CacheConfig{Provider: "none"})
		require.NoError(t, err)
		assert.Nil(t, store)
	})

	t.Run("memory", func(t *testing.T) {
		store, err := NewStore(&config.CacheConfig{Provider: "memory", Prefix: "p:"})
		require.NoError(t, err)
		require.IsType(t, &MemoryStore{}, store)
		_ = store.Close()
	})

	t.Run("redis requires url", func(t *testing.T) {
		_, err := NewStore(&config.CacheConfig{Provider: "redis"})
		assert.ErrorContains(t, err, "redis_url is required")
	})

	t.Run("invalid redis url", func(t *testing.T) {
		_, err := NewStore(&config.CacheConfig{Provider: "redis", RedisURL: "://bad"})
		assert.ErrorContains(t, err, "failed to connect to Redis")
	})

	t.Run("unknown provider", func(t *testing.T) {
		_, err := NewStore(&config.CacheConfig{Provider: "disk"})
		assert.ErrorContains(t, err, "unknown cache provider")
	})
}
