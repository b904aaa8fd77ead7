package transform

import (
	"fmt"
	"sort"
	"sync"

	"github.com/fluxbase-eu/fluxpack/internal/config"
)

// Factory creates a transform for a build configuration.
type Factory func(cfg *config.BuildConfig) (Transform, error)

var (
	registryMu sync.RWMutex
	registry   = map[string]Factory{
		"define":  NewDefineFromConfig,
		"esbuild": NewEsbuildFromConfig,
		"json":    func(*config.BuildConfig) (Transform, error) { return NewJSON(), nil },
	}
)

// Register adds or replaces a named transform factory.
func Register(name string, factory Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = factory
}

// Names lists the registered transforms in sorted order.
func Names() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	return namesLocked()
}

// Lookup instantiates the named transforms in order.
func Lookup(names []string, cfg *config.BuildConfig) ([]Transform, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()

	transforms := make([]Transform, 0, len(names))
	for _, name := range names {
		factory, ok := registry[name]
		if !ok {
			return nil, fmt.Errorf("unknown transform %q (available: %v)", name, namesLocked())
		}
		t, err := factory(cfg)
		if err != nil {
			return nil, fmt.Errorf("transform %s: %w", name, err)
		}
		transforms = append(transforms, t)
	}
	return transforms, nil
}

func namesLocked() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
