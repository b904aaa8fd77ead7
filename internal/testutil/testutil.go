// Package testutil provides shared test fixtures and mocks.
package testutil

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"

	"github.com/fluxbase-eu/fluxpack/internal/storage"
)

// WriteTree writes files below root, creating directories as needed.
// Keys are slash separated paths relative to root.
func WriteTree(t testing.TB, root string, files map[string]string) {
	t.Helper()
	for name, content := range files {
		p := filepath.Join(root, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
			t.Fatalf("create %s: %v", filepath.Dir(p), err)
		}
		if err := os.WriteFile(p, []byte(content), 0644); err != nil {
			t.Fatalf("write %s: %v", p, err)
		}
	}
}

// Project writes files into a fresh temporary directory and returns it.
func Project(t testing.TB, files map[string]string) string {
	t.Helper()
	root := t.TempDir()
	WriteTree(t, root, files)
	return root
}

// MockStorageProvider implements storage.Provider in memory
type MockStorageProvider struct {
	mu      sync.RWMutex
	objects map[string][]byte
	puts    []string

	// OnPut, when set, runs before every Put; a non-nil error fails it.
	OnPut func(key string) error
}

// NewMockStorageProvider creates a new mock storage provider
func NewMockStorageProvider() *MockStorageProvider {
	return &MockStorageProvider{objects: make(map[string][]byte)}
}

func (m *MockStorageProvider) Name() string {
	return "mock"
}

func (m *MockStorageProvider) Health(ctx context.Context) error {
	return nil
}

func (m *MockStorageProvider) Put(ctx context.Context, key string, data []byte) (*storage.Object, error) {
	if m.OnPut != nil {
		if err := m.OnPut(key); err != nil {
			return nil, err
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = append([]byte(nil), data...)
	m.puts = append(m.puts, key)
	return &storage.Object{Key: key, Size: int64(len(data)), ContentType: storage.ContentType(key)}, nil
}

func (m *MockStorageProvider) Get(ctx context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.objects[key]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return data, nil
}

// Keys returns the stored keys in sorted order
func (m *MockStorageProvider) Keys() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.objects))
	for k := range m.objects {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Puts returns the keys of every successful Put in call order
func (m *MockStorageProvider) Puts() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.puts...)
}
