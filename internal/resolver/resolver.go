// Package resolver maps import specifiers to module identities using
// node-style resolution: relative paths with an extension list, then
// node_modules directories searched outward to the filesystem root.
package resolver

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/fluxbase-eu/fluxpack/internal/builderr"
	"github.com/fluxbase-eu/fluxpack/internal/graph"
)

// DefaultExtensions is tried in order when a specifier has no exact match
var DefaultExtensions = []string{".js", ".mjs", ".cjs", ".jsx", ".ts", ".tsx", ".json"}

// ManifestName is the package manifest file consulted for entry fields
const ManifestName = "package.json"

// ErrNotFound is wrapped by every ResolutionError for a missing file
var ErrNotFound = errors.New("module not found")

type cacheKey struct {
	specifier string
	fromDir   string
}

type cacheEntry struct {
	once sync.Once
	id   graph.ModuleID
	err  error
}

// Resolver resolves specifiers and caches results for one build generation.
// It is safe for concurrent use; concurrent lookups of the same key resolve once.
type Resolver struct {
	extensions []string

	mu       sync.Mutex
	cache    map[cacheKey]*cacheEntry
	resolved map[string]struct{} // file paths handed out since the last invalidation
}

// New creates a resolver. A nil extension list uses DefaultExtensions.
func New(extensions []string) *Resolver {
	if len(extensions) == 0 {
		extensions = DefaultExtensions
	}
	return &Resolver{
		extensions: extensions,
		cache:      make(map[cacheKey]*cacheEntry),
		resolved:   make(map[string]struct{}),
	}
}

// Resolve maps specifier, imported from fromDir, to a module identity.
func (r *Resolver) Resolve(specifier, fromDir string) (graph.ModuleID, error) {
	key := cacheKey{specifier: specifier, fromDir: fromDir}

	r.mu.Lock()
	entry, ok := r.cache[key]
	if !ok {
		entry = &cacheEntry{}
		r.cache[key] = entry
	}
	r.mu.Unlock()

	entry.once.Do(func() {
		entry.id, entry.err = r.resolve(specifier, fromDir)
		if entry.err == nil {
			r.mu.Lock()
			r.resolved[entry.id.Path] = struct{}{}
			r.mu.Unlock()
		}
	})
	return entry.id, entry.err
}

// Invalidate drops every cached result.
func (r *Resolver) Invalidate() {
	r.mu.Lock()
	r.cache = make(map[cacheKey]*cacheEntry)
	r.resolved = make(map[string]struct{})
	r.mu.Unlock()
}

// BeginGeneration inspects the changed paths of a new build generation and
// invalidates the cache when resolution inputs may have moved: a manifest
// changed, a file appeared that was never resolved, or a file disappeared.
// It reports whether the cache was invalidated.
func (r *Resolver) BeginGeneration(changed []string) bool {
	r.mu.Lock()
	stale := false
	for _, p := range changed {
		if filepath.Base(p) == ManifestName {
			stale = true
			break
		}
		if _, known := r.resolved[p]; !known {
			stale = true
			break
		}
		if _, err := os.Stat(p); err != nil {
			stale = true
			break
		}
	}
	r.mu.Unlock()

	if stale {
		log.Debug().Int("changed", len(changed)).Msg("Resolution cache invalidated")
		r.Invalidate()
	}
	return stale
}

func (r *Resolver) resolve(specifier, fromDir string) (graph.ModuleID, error) {
	request, variant := splitVariant(specifier)
	if request == "" {
		return graph.ModuleID{}, r.fail(specifier, fromDir, errors.New("empty specifier"))
	}

	var (
		path string
		ok   bool
	)
	if isPathSpecifier(request) {
		target := request
		if !filepath.IsAbs(target) {
			target = filepath.Join(fromDir, filepath.FromSlash(request))
		}
		path, ok = r.tryPath(target)
	} else {
		path, ok = r.tryPackages(request, fromDir)
	}

	if !ok {
		return graph.ModuleID{}, r.fail(specifier, fromDir, ErrNotFound)
	}

	id := graph.ModuleID{Path: filepath.Clean(path), Variant: variant}
	log.Debug().Str("specifier", specifier).Str("from", fromDir).Str("module", id.String()).Msg("Resolved")
	return id, nil
}

func (r *Resolver) fail(specifier, fromDir string, err error) error {
	return &builderr.ResolutionError{Specifier: specifier, FromDir: fromDir, Err: err}
}

// tryPath resolves target as a file, a file with one of the extensions, or a directory.
func (r *Resolver) tryPath(target string) (string, bool) {
	if p, ok := r.tryFile(target); ok {
		return p, true
	}
	return r.tryDir(target)
}

func (r *Resolver) tryFile(target string) (string, bool) {
	if isFile(target) {
		return target, true
	}
	for _, ext := range r.extensions {
		if isFile(target + ext) {
			return target + ext, true
		}
	}
	return "", false
}

// tryDir applies the manifest entry fields of dir, then falls back to index files.
func (r *Resolver) tryDir(dir string) (string, bool) {
	if !isDir(dir) {
		return "", false
	}
	for _, entry := range manifestEntries(filepath.Join(dir, ManifestName)) {
		target := filepath.Join(dir, filepath.FromSlash(entry))
		if p, ok := r.tryFile(target); ok {
			return p, true
		}
		if p, ok := r.tryFile(filepath.Join(target, "index")); ok {
			return p, true
		}
	}
	return r.tryFile(filepath.Join(dir, "index"))
}

// tryPackages searches node_modules in fromDir and every ancestor.
func (r *Resolver) tryPackages(request, fromDir string) (string, bool) {
	name, subpath := splitPackage(request)
	dir := fromDir
	for {
		if filepath.Base(dir) != "node_modules" {
			pkgDir := filepath.Join(dir, "node_modules", filepath.FromSlash(name))
			if isDir(pkgDir) {
				if subpath == "" {
					if p, ok := r.tryDir(pkgDir); ok {
						return p, true
					}
				} else if p, ok := r.tryPath(filepath.Join(pkgDir, filepath.FromSlash(subpath))); ok {
					return p, true
				}
			}
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", false
		}
		dir = parent
	}
}

type manifest struct {
	Browser json.RawMessage `json:"browser"`
	Module  string          `json:"module"`
	Main    string          `json:"main"`
}

// manifestEntries returns the entry fields of a package manifest in priority order.
func manifestEntries(path string) []string {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	var m manifest
	if err := json.Unmarshal(data, &m); err != nil {
		log.Warn().Err(err).Str("manifest", path).Msg("Ignoring malformed package manifest")
		return nil
	}

	var entries []string
	var browser string
	if len(m.Browser) > 0 && json.Unmarshal(m.Browser, &browser) == nil && browser != "" {
		entries = append(entries, browser)
	}
	if m.Module != "" {
		entries = append(entries, m.Module)
	}
	if m.Main != "" {
		entries = append(entries, m.Main)
	}
	return entries
}

func isPathSpecifier(s string) bool {
	return s == "." || s == ".." ||
		strings.HasPrefix(s, "./") || strings.HasPrefix(s, "../") ||
		strings.HasPrefix(s, "/") || filepath.IsAbs(s)
}

// splitVariant separates a query suffix such as "?raw" from the request.
func splitVariant(specifier string) (string, string) {
	if i := strings.IndexByte(specifier, '?'); i >= 0 {
		return specifier[:i], specifier[i+1:]
	}
	return specifier, ""
}

// splitPackage splits "@scope/pkg/sub/path" into "@scope/pkg" and "sub/path".
func splitPackage(request string) (string, string) {
	parts := strings.SplitN(request, "/", 3)
	if strings.HasPrefix(request, "@") && len(parts) >= 2 {
		name := parts[0] + "/" + parts[1]
		if len(parts) == 3 {
			return name, parts[2]
		}
		return name, ""
	}
	parts = strings.SplitN(request, "/", 2)
	if len(parts) == 2 {
		return parts[0], parts[1]
	}
	return parts[0], ""
}

func isFile(p string) bool {
	st, err := os.Stat(p)
	return err == nil && st.Mode().IsRegular()
}

func isDir(p string) bool {
	st, err := os.Stat(p)
	return err == nil && st.IsDir()
}
