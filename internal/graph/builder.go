package graph

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/fluxbase-eu/fluxpack/internal/builderr"
	"github.com/fluxbase-eu/fluxpack/internal/sourcemap"
)

// Resolver maps an import specifier to a module identity.
type Resolver interface {
	Resolve(specifier, fromDir string) (ModuleID, error)
}

// Output is the result of running the transform pipeline on one module.
type Output struct {
	Code       []byte
	Mapping    sourcemap.Mapping
	Specifiers []string
}

// Transformer runs the transform pipeline on a module's raw source.
type Transformer interface {
	Transform(ctx context.Context, id ModuleID, source []byte) (*Output, error)
}

// Stats counts the work done by one build.
type Stats struct {
	Modules     int
	Transformed int
	Reused      int
	Duration    time.Duration
}

// Builder discovers the module graph from entry points using a bounded
// pool of workers. A single coordinator owns the module map; workers only
// return results to it.
type Builder struct {
	resolver    Resolver
	transformer Transformer
	workers     int

	// ReadFile loads module sources. Defaults to os.ReadFile.
	ReadFile func(string) ([]byte, error)
}

// NewBuilder creates a builder. workers below one means one worker.
func NewBuilder(resolver Resolver, transformer Transformer, workers int) *Builder {
	if workers < 1 {
		workers = 1
	}
	return &Builder{
		resolver:    resolver,
		transformer: transformer,
		workers:     workers,
		ReadFile:    os.ReadFile,
	}
}

// Build discovers the full graph reachable from entries, resolved from root.
func (b *Builder) Build(ctx context.Context, gen uint64, root string, entries []string) (*Graph, Stats, error) {
	return b.run(ctx, gen, root, entries, nil, nil)
}

// Rebuild produces generation gen from prev. Modules whose path is in
// changed, or whose content hash differs, are re-read and re-transformed;
// every other reachable module reuses its previous output and has its
// specifiers re-resolved. Modules no longer reachable are dropped.
func (b *Builder) Rebuild(ctx context.Context, gen uint64, root string, entries []string, prev *Graph, changed []string) (*Graph, Stats, error) {
	set := make(map[string]bool, len(changed))
	for _, p := range changed {
		set[filepath.Clean(p)] = true
	}
	return b.run(ctx, gen, root, entries, prev, set)
}

type task struct {
	id ModuleID
	// prev is the previous generation's record for id, if any.
	prev *ModuleRecord
	// fresh is set when prev must be re-read before it can be reused.
	fresh bool
}

type result struct {
	id        ModuleID
	record    *ModuleRecord
	errs      []error
	reused    bool
	cancelled bool
}

func (b *Builder) run(ctx context.Context, gen uint64, root string, entries []string, prev *Graph, changed map[string]bool) (*Graph, Stats, error) {
	start := time.Now()
	g := New(gen)
	var (
		errs  builderr.List
		stats Stats
	)

	seen := make(map[ModuleID]bool)
	var queue []task
	enqueue := func(id ModuleID) {
		if seen[id] {
			return
		}
		seen[id] = true
		t := task{id: id}
		if prev != nil {
			if rec, ok := prev.Modules[id]; ok {
				t.prev = rec
				t.fresh = rec.Stale(gen, changed)
			}
		}
		queue = append(queue, t)
	}

	for _, entry := range entries {
		id, err := b.resolver.Resolve(entry, root)
		if err != nil {
			errs.Add(err)
			continue
		}
		if !seen[id] {
			g.Entries = append(g.Entries, id)
		}
		enqueue(id)
	}

	work := make(chan task)
	results := make(chan result)

	var eg errgroup.Group
	for i := 0; i < b.workers; i++ {
		eg.Go(func() error {
			for t := range work {
				results <- b.process(ctx, gen, t)
			}
			return nil
		})
	}

	inFlight := 0
	cancelled := false
	done := ctx.Done()
	for len(queue) > 0 || inFlight > 0 {
		var (
			send chan task
			next task
		)
		if len(queue) > 0 {
			send = work
			next = queue[0]
		}

		select {
		case send <- next:
			queue = queue[1:]
			inFlight++

		case res := <-results:
			inFlight--
			if res.cancelled {
				continue
			}
			for _, err := range res.errs {
				errs.Add(err)
			}
			if res.record == nil {
				continue
			}
			g.Modules[res.id] = res.record
			if res.reused {
				stats.Reused++
			} else {
				stats.Transformed++
			}
			for _, dep := range res.record.Dependencies {
				enqueue(dep.ID)
			}

		case <-done:
			// Drop queued work and wait for in-flight modules to finish.
			log.Debug().Int("queued", len(queue)).Int("in_flight", inFlight).Msg("Graph build cancelled")
			cancelled = true
			done = nil
		}

		// context.Background has a nil Done channel, so only the flag
		// means the build was cancelled.
		if cancelled {
			queue = nil
		}
	}
	close(work)
	_ = eg.Wait()

	stats.Duration = time.Since(start)
	stats.Modules = len(g.Modules)

	if err := ctx.Err(); err != nil {
		return nil, stats, err
	}
	if err := errs.Err(); err != nil {
		return g, stats, err
	}

	g.tagCycles()
	if err := g.Validate(); err != nil {
		return g, stats, err
	}

	log.Debug().
		Uint64("generation", gen).
		Int("modules", stats.Modules).
		Int("transformed", stats.Transformed).
		Int("reused", stats.Reused).
		Int("cyclic_edges", g.CyclicEdges()).
		Dur("duration", stats.Duration).
		Msg("Module graph built")

	return g, stats, nil
}

// process loads, transforms, and resolves one module. A changed module
// whose content hash matches its previous record keeps the previous output.
// It never touches the graph; the coordinator merges the returned record.
func (b *Builder) process(ctx context.Context, gen uint64, t task) result {
	res := result{id: t.id}
	if ctx.Err() != nil {
		res.cancelled = true
		return res
	}

	rec := &ModuleRecord{ID: t.id}
	if t.prev != nil && !t.fresh {
		b.reuse(rec, t.prev)
		res.reused = true
	} else {
		raw, err := b.ReadFile(t.id.Path)
		if err != nil {
			res.errs = append(res.errs, &builderr.GraphError{Module: t.id.String(), Err: fmt.Errorf("read module: %w", err)})
			return res
		}
		hash := xxhash.Sum64(raw)
		if t.prev != nil && t.prev.Hash == hash {
			b.reuse(rec, t.prev)
			res.reused = true
			return b.link(rec, res)
		}
		rec.RawSource = raw
		rec.Hash = hash

		// Transforms in progress are allowed to finish after cancellation;
		// only their own deadline applies.
		out, err := b.transformer.Transform(context.WithoutCancel(ctx), t.id, raw)
		if err != nil {
			var te *builderr.TransformError
			if !errors.As(err, &te) {
				err = &builderr.TransformError{Module: t.id.String(), Err: err}
			}
			res.errs = append(res.errs, err)
			return res
		}
		rec.Transformed = out.Code
		rec.Mapping = out.Mapping
		rec.Specifiers = out.Specifiers
		rec.Generation = gen
	}
	return b.link(rec, res)
}

// link resolves the specifiers of rec and attaches the record to res.
func (b *Builder) link(rec *ModuleRecord, res result) result {
	dir := filepath.Dir(rec.ID.Path)
	resolved := make(map[string]bool, len(rec.Specifiers))
	for _, spec := range rec.Specifiers {
		if resolved[spec] {
			continue
		}
		resolved[spec] = true

		id, err := b.resolver.Resolve(spec, dir)
		if err != nil {
			var re *builderr.ResolutionError
			if errors.As(err, &re) {
				copied := *re
				copied.Module = rec.ID.String()
				err = &copied
			}
			res.errs = append(res.errs, err)
			continue
		}
		rec.Dependencies = append(rec.Dependencies, Dependency{Specifier: spec, ID: id})
	}

	res.record = rec
	return res
}

// reuse copies the immutable parts of a previous record into rec. Dependencies
// are left empty so they are re-resolved for the new generation.
func (b *Builder) reuse(rec, prev *ModuleRecord) {
	rec.RawSource = prev.RawSource
	rec.Hash = prev.Hash
	rec.Specifiers = prev.Specifiers
	rec.Transformed = prev.Transformed
	rec.Mapping = prev.Mapping
	rec.Generation = prev.Generation
}
