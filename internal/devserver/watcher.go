package devserver

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/fluxbase-eu/fluxpack/internal/observability"
)

// Watcher turns file system events below a set of directories into
// debounced, rate limited batches of changed paths.
type Watcher struct {
	fsw      *fsnotify.Watcher
	debounce time.Duration
	limiter  *rate.Limiter
	metrics  *observability.Metrics
	changes  chan []string

	// Ignore reports paths whose changes never trigger a rebuild.
	Ignore func(path string) bool
}

// NewWatcher watches dirs and every directory below them. perSecond caps
// the batch rate; zero or less means unlimited.
func NewWatcher(dirs []string, debounce time.Duration, perSecond float64, metrics *observability.Metrics) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	limit := rate.Inf
	if perSecond > 0 {
		limit = rate.Limit(perSecond)
	}
	w := &Watcher{
		fsw:      fsw,
		debounce: debounce,
		limiter:  rate.NewLimiter(limit, 1),
		metrics:  metrics,
		changes:  make(chan []string),
		Ignore:   defaultIgnore,
	}

	for _, dir := range dirs {
		if err := w.addTree(dir); err != nil {
			_ = fsw.Close()
			return nil, err
		}
	}
	return w, nil
}

// Changes delivers one sorted batch of cleaned paths per quiet period.
// It is closed when Run returns.
func (w *Watcher) Changes() <-chan []string {
	return w.changes
}

// Run forwards batches until ctx is cancelled or the watcher is closed.
func (w *Watcher) Run(ctx context.Context) error {
	defer close(w.changes)

	pending := make(map[string]bool)
	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()
	var fire <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case ev, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			if ev.Op == fsnotify.Chmod {
				continue
			}
			name := filepath.Clean(ev.Name)
			if ev.Has(fsnotify.Create) {
				if st, err := os.Stat(name); err == nil && st.IsDir() {
					if err := w.addTree(name); err != nil {
						log.Warn().Err(err).Str("dir", name).Msg("Failed to watch new directory")
					}
					continue
				}
			}
			if w.Ignore != nil && w.Ignore(name) {
				continue
			}
			pending[name] = true
			timer.Reset(w.debounce)
			fire = timer.C

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			log.Warn().Err(err).Msg("File watcher error")

		case <-fire:
			fire = nil
			batch := make([]string, 0, len(pending))
			for p := range pending {
				batch = append(batch, p)
			}
			sort.Strings(batch)
			pending = make(map[string]bool)

			if !w.limiter.Allow() {
				if w.metrics != nil {
					w.metrics.RecordThrottled()
				}
				log.Debug().Int("changed", len(batch)).Msg("Rebuild throttled")
				if err := w.limiter.Wait(ctx); err != nil {
					return ctx.Err()
				}
			}

			log.Debug().Strs("changed", batch).Msg("Change batch ready")
			select {
			case w.changes <- batch:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

// Close stops watching.
func (w *Watcher) Close() error {
	return w.fsw.Close()
}

func (w *Watcher) addTree(root string) error {
	return filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if p != root && skipDir(d.Name()) {
			return filepath.SkipDir
		}
		return w.fsw.Add(p)
	})
}

func skipDir(name string) bool {
	return name == "node_modules" || strings.HasPrefix(name, ".")
}

// defaultIgnore skips editor swap and backup files.
func defaultIgnore(p string) bool {
	base := filepath.Base(p)
	return strings.HasPrefix(base, ".") ||
		strings.HasSuffix(base, "~") ||
		strings.HasSuffix(base, ".swp")
}
