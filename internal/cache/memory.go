package cache

import (
	"time"

	"github.com/gofiber/storage/memory/v2"
)

// MemoryStore keeps entries in process memory.
type MemoryStore struct {
	storage *memory.Storage
	prefix  string
}

// NewMemoryStore creates an in-memory store. gcInterval controls how often
// expired entries are evicted.
func NewMemoryStore(prefix string, gcInterval time.Duration) *MemoryStore {
	if gcInterval <= 0 {
		gcInterval = 10 * time.Minute
	}
	return &MemoryStore{
		storage: memory.New(memory.Config{GCInterval: gcInterval}),
		prefix:  prefix,
	}
}

func (s *MemoryStore) Get(key string) ([]byte, error) {
	return s.storage.Get(s.prefix + key)
}

func (s *MemoryStore) Set(key string, value []byte, exp time.Duration) error {
	return s.storage.Set(s.prefix+key, value, exp)
}

func (s *MemoryStore) Delete(key string) error {
	return s.storage.Delete(s.prefix + key)
}

// Close stops the garbage collector.
func (s *MemoryStore) Close() error {
	return s.storage.Close()
}
