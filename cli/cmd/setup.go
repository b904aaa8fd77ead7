package cmd

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fluxbase-eu/fluxpack/internal/bundler"
	"github.com/fluxbase-eu/fluxpack/internal/cache"
	"github.com/fluxbase-eu/fluxpack/internal/observability"
	"github.com/fluxbase-eu/fluxpack/internal/storage"
)

// pipeline holds a bundler and the collaborators it was built with.
type pipeline struct {
	bundler *bundler.Bundler
	metrics *observability.Metrics
	tracer  *observability.Tracer
	store   cache.Store
}

// newPipeline creates the bundler for the loaded configuration. With
// publish set, artifacts are written to the configured storage after
// every successful generation.
func newPipeline(ctx context.Context, publish bool) (*pipeline, error) {
	tracer, err := observability.NewTracer(ctx, cfg.Tracing, cfg.Build.Mode)
	if err != nil {
		return nil, err
	}

	store, err := cache.NewStore(&cfg.Cache)
	if err != nil {
		_ = tracer.Shutdown(ctx)
		return nil, err
	}

	p := &pipeline{
		metrics: observability.NewMetrics(),
		tracer:  tracer,
		store:   store,
	}

	opts := bundler.Options{
		Cache:    store,
		CacheTTL: cfg.Cache.TTL,
		Metrics:  p.metrics,
		Tracer:   tracer,
	}
	if publish {
		provider, err := storage.NewProvider(&cfg.Publish, cfg.Build.OutputDir)
		if err != nil {
			p.close()
			return nil, err
		}
		if err := provider.Health(ctx); err != nil {
			p.close()
			return nil, err
		}
		log.Debug().Str("provider", provider.Name()).Msg("Publishing artifacts")
		opts.Provider = provider
	}

	p.bundler, err = bundler.New(&cfg.Build, opts)
	if err != nil {
		p.close()
		return nil, err
	}
	return p, nil
}

func (p *pipeline) close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var errs []error
	if p.store != nil {
		errs = append(errs, p.store.Close())
	}
	errs = append(errs, p.tracer.Shutdown(ctx))
	if err := errors.Join(errs...); err != nil {
		log.Warn().Err(err).Msg("Failed to release build resources")
	}
}
