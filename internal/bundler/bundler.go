// Package bundler ties the pipeline stages together into build
// generations: resolve and transform the graph, plan chunks, emit and
// publish artifacts.
package bundler

import (
	"context"
	"errors"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"

	"github.com/fluxbase-eu/fluxpack/internal/builderr"
	"github.com/fluxbase-eu/fluxpack/internal/cache"
	"github.com/fluxbase-eu/fluxpack/internal/config"
	"github.com/fluxbase-eu/fluxpack/internal/emitter"
	"github.com/fluxbase-eu/fluxpack/internal/graph"
	"github.com/fluxbase-eu/fluxpack/internal/observability"
	"github.com/fluxbase-eu/fluxpack/internal/planner"
	"github.com/fluxbase-eu/fluxpack/internal/resolver"
	"github.com/fluxbase-eu/fluxpack/internal/storage"
	"github.com/fluxbase-eu/fluxpack/internal/transform"
)

// Result describes one successful build generation.
type Result struct {
	Generation uint64
	Graph      *graph.Graph
	Plan       *planner.Plan
	Chunks     []planner.Chunk
	Artifacts  []*emitter.Artifact
	// Cycles lists the groups of mutually importing modules.
	Cycles      [][]graph.ModuleID
	Incremental bool
	Modules     int
	Transformed int
	Reused      int
	Duration    time.Duration
}

// Artifact returns the artifact with the given name.
func (r *Result) Artifact(name string) *emitter.Artifact {
	for _, a := range r.Artifacts {
		if a.Name == name {
			return a
		}
	}
	return nil
}

// Options supplies the optional collaborators of a Bundler.
type Options struct {
	// Cache stores transform outputs across generations and processes.
	Cache    cache.Store
	CacheTTL time.Duration
	// Provider receives the artifacts of every successful generation.
	// Nil keeps artifacts in memory only.
	Provider storage.Provider
	Metrics  *observability.Metrics
	Tracer   *observability.Tracer
}

// Bundler runs build generations for one build configuration. Generations
// are serialized; the generation counter only grows.
type Bundler struct {
	cfg      *config.BuildConfig
	opts     Options
	resolver *resolver.Resolver
	pipeline *transform.Pipeline
	builder  *graph.Builder
	emitter  *emitter.Emitter

	gen atomic.Uint64

	mu   sync.Mutex
	prev *graph.Graph
	// pending holds changed paths not yet applied by a completed generation.
	pending map[string]bool
}

// New creates a bundler for cfg.
func New(cfg *config.BuildConfig, opts Options) (*Bundler, error) {
	pipeline, err := transform.FromConfig(cfg, opts.Cache, opts.CacheTTL)
	if err != nil {
		return nil, err
	}

	b := &Bundler{
		cfg:      cfg,
		opts:     opts,
		resolver: resolver.New(cfg.Extensions),
		pipeline: pipeline,
		emitter:  emitter.FromConfig(cfg),
		pending:  make(map[string]bool),
	}
	b.builder = graph.NewBuilder(b.resolver, &instrumented{next: pipeline, metrics: opts.Metrics, tracer: opts.Tracer}, cfg.Workers)
	return b, nil
}

// Generation returns the number of the most recently started generation.
func (b *Bundler) Generation() uint64 {
	return b.gen.Load()
}

// Pipeline exposes the transform pipeline, mainly for cache statistics.
func (b *Bundler) Pipeline() *transform.Pipeline {
	return b.pipeline
}

// Build runs a full generation from the configured entries.
func (b *Bundler) Build(ctx context.Context) (*Result, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.resolver.Invalidate()
	return b.generate(ctx, nil, nil)
}

// Rebuild runs an incremental generation. Only modules whose paths are in
// changed, or in the change set of an earlier cancelled generation, are
// re-read and re-transformed. Without a previous graph it is a full build.
func (b *Bundler) Rebuild(ctx context.Context, changed []string) (*Result, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, p := range changed {
		b.pending[filepath.Clean(p)] = true
	}
	paths := make([]string, 0, len(b.pending))
	for p := range b.pending {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	if b.prev == nil {
		b.resolver.Invalidate()
		return b.generate(ctx, nil, paths)
	}
	b.resolver.BeginGeneration(paths)
	return b.generate(ctx, b.prev, paths)
}

// generate runs one generation. It must be called with b.mu held.
func (b *Bundler) generate(ctx context.Context, prev *graph.Graph, changed []string) (*Result, error) {
	gen := b.gen.Add(1)
	start := time.Now()
	incremental := prev != nil
	kind := observability.BuildFull
	if incremental {
		kind = observability.BuildIncremental
	}

	ctx, span := b.opts.Tracer.StartBuildSpan(ctx, gen, kind, len(changed))
	log.Info().Uint64("generation", gen).Str("kind", kind).Int("changed", len(changed)).Msg("Build started")

	res, stats, err := b.run(ctx, gen, prev, changed)
	duration := time.Since(start)
	observability.EndSpan(span, err)

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		log.Info().Uint64("generation", gen).Msg("Build cancelled")
		return nil, err
	}

	if b.opts.Metrics != nil {
		b.opts.Metrics.RecordBuild(kind, duration, stats.Modules, stats.Transformed, stats.Reused, err)
	}
	if err != nil {
		errs := builderr.Flatten(err)
		log.Error().Uint64("generation", gen).Int("errors", len(errs)).Dur("duration", duration).Msg("Build failed")
		return nil, err
	}

	res.Incremental = incremental
	res.Duration = duration
	log.Info().
		Uint64("generation", gen).
		Int("modules", res.Modules).
		Int("transformed", res.Transformed).
		Int("reused", res.Reused).
		Int("artifacts", len(res.Artifacts)).
		Dur("duration", duration).
		Msg("Build completed")
	return res, nil
}

func (b *Bundler) run(ctx context.Context, gen uint64, prev *graph.Graph, changed []string) (*Result, graph.Stats, error) {
	var (
		g     *graph.Graph
		stats graph.Stats
		err   error
	)
	if prev == nil {
		g, stats, err = b.builder.Build(ctx, gen, b.cfg.Root, b.cfg.Entries)
	} else {
		g, stats, err = b.builder.Rebuild(ctx, gen, b.cfg.Root, b.cfg.Entries, prev, changed)
	}
	if g != nil {
		// A partial graph still records every module that was read, so the
		// pending change set has been applied.
		b.prev = g
		b.pending = make(map[string]bool)
	}
	if err != nil {
		return nil, stats, err
	}

	p, err := planner.New(g, b.cfg.OutputMode, b.cfg.Filename)
	if err != nil {
		return nil, stats, builderr.List{err}
	}

	ectx, span := b.opts.Tracer.StartEmitSpan(ctx, len(p.Chunks))
	artifacts, err := b.emitter.Emit(ectx, p, g)
	if err == nil && b.opts.Provider != nil {
		err = emitter.Publish(ectx, b.opts.Provider, artifacts)
	}
	observability.EndSpan(span, err)
	if err != nil {
		if ctx.Err() != nil {
			return nil, stats, ctx.Err()
		}
		return nil, stats, builderr.List{err}
	}

	if b.opts.Metrics != nil {
		for _, a := range artifacts {
			b.opts.Metrics.SetArtifactSize(a.Name, len(a.Code))
		}
	}
	observability.SetSpanAttributes(ctx, attribute.Int("build.modules", stats.Modules))

	cycles := g.Cycles()
	for _, group := range cycles {
		log.Debug().Int("modules", len(group)).Str("first", group[0].Rel(b.cfg.Root)).Msg("Import cycle bound lazily")
	}

	return &Result{
		Generation:  gen,
		Graph:       g,
		Plan:        p,
		Chunks:      p.Chunks,
		Artifacts:   artifacts,
		Cycles:      cycles,
		Modules:     stats.Modules,
		Transformed: stats.Transformed,
		Reused:      stats.Reused,
	}, stats, nil
}

// instrumented records a span and a latency sample for every module that
// runs through the pipeline.
type instrumented struct {
	next    graph.Transformer
	metrics *observability.Metrics
	tracer  *observability.Tracer
}

func (t *instrumented) Transform(ctx context.Context, id graph.ModuleID, source []byte) (*graph.Output, error) {
	start := time.Now()
	ctx, span := t.tracer.StartTransformSpan(ctx, id.String())
	out, err := t.next.Transform(ctx, id, source)
	observability.EndSpan(span, err)
	if t.metrics != nil {
		t.metrics.ObserveTransform(time.Since(start))
	}
	return out, err
}
