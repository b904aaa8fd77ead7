package transform

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/rs/zerolog/log"

	"github.com/fluxbase-eu/fluxpack/internal/builderr"
	"github.com/fluxbase-eu/fluxpack/internal/cache"
	"github.com/fluxbase-eu/fluxpack/internal/config"
	"github.com/fluxbase-eu/fluxpack/internal/graph"
	"github.com/fluxbase-eu/fluxpack/internal/sourcemap"
)

// parseStage names the built-in first stage in errors.
const parseStage = "parse"

// Fingerprinter is implemented by transforms whose output depends on
// settings beyond their name.
type Fingerprinter interface {
	Fingerprint() string
}

// Options configures a pipeline.
type Options struct {
	// SourceMaps enables mapping composition. When false every module's
	// mapping is nil.
	SourceMaps bool
	// Timeout bounds the whole pipeline for one module. Zero disables it.
	Timeout  time.Duration
	Cache    cache.Store
	CacheTTL time.Duration
}

// Pipeline runs the parse stage followed by the registered transforms.
// It is safe for concurrent use by the graph builder's workers.
type Pipeline struct {
	transforms  []Transform
	opts        Options
	fingerprint string

	cacheHits   atomic.Int64
	cacheMisses atomic.Int64
}

// New creates a pipeline running transforms in order.
func New(transforms []Transform, opts Options) *Pipeline {
	p := &Pipeline{transforms: transforms, opts: opts}

	var b strings.Builder
	fmt.Fprintf(&b, "maps=%t;", opts.SourceMaps)
	for _, t := range transforms {
		b.WriteString(t.Name())
		if f, ok := t.(Fingerprinter); ok {
			b.WriteByte('(')
			b.WriteString(f.Fingerprint())
			b.WriteByte(')')
		}
		b.WriteByte(';')
	}
	p.fingerprint = fmt.Sprintf("%016x", xxhash.Sum64String(b.String()))
	return p
}

// FromConfig builds the pipeline named by the build configuration.
func FromConfig(cfg *config.BuildConfig, store cache.Store, ttl time.Duration) (*Pipeline, error) {
	transforms, err := Lookup(cfg.Transforms, cfg)
	if err != nil {
		return nil, err
	}
	return New(transforms, Options{
		SourceMaps: cfg.SourceMap != config.SourceMapNone,
		Timeout:    cfg.TransformTimeout,
		Cache:      store,
		CacheTTL:   ttl,
	}), nil
}

// Fingerprint identifies the pipeline configuration.
func (p *Pipeline) Fingerprint() string { return p.fingerprint }

// CacheStats returns the number of cache hits and misses so far.
func (p *Pipeline) CacheStats() (hits, misses int64) {
	return p.cacheHits.Load(), p.cacheMisses.Load()
}

type runResult struct {
	out *graph.Output
	err error
}

// Transform implements graph.Transformer.
func (p *Pipeline) Transform(ctx context.Context, id graph.ModuleID, source []byte) (*graph.Output, error) {
	key := p.cacheKey(id, source)
	if out := p.cached(key); out != nil {
		return out, nil
	}

	if p.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.opts.Timeout)
		defer cancel()
	}

	var stage atomic.Value
	stage.Store(parseStage)

	done := make(chan runResult, 1)
	go func() {
		out, err := p.run(ctx, id, source, &stage)
		done <- runResult{out: out, err: err}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			return nil, res.err
		}
		p.store(key, res.out)
		return res.out, nil
	case <-ctx.Done():
		err := ctx.Err()
		if errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("%w after %s", builderr.ErrTimeout, p.opts.Timeout)
		}
		return nil, &builderr.TransformError{
			Module:    id.String(),
			Transform: stage.Load().(string),
			Err:       err,
		}
	}
}

func (p *Pipeline) run(ctx context.Context, id graph.ModuleID, source []byte, stage *atomic.Value) (*graph.Output, error) {
	specs, err := ScanImports(source)
	if err != nil {
		return nil, p.fail(id, parseStage, err, nil, false)
	}

	var mapping sourcemap.Mapping
	if p.opts.SourceMaps {
		mapping = sourcemap.Identity(source)
	}

	code := source
	rewritten := false
	for _, t := range p.transforms {
		if !t.Match(id) {
			continue
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		stage.Store(t.Name())

		res, err := t.Apply(ctx, Input{ID: id, Code: code, SourceMap: p.opts.SourceMaps})
		if err != nil {
			return nil, p.fail(id, t.Name(), err, mapping, rewritten)
		}
		if bytes.Equal(res.Code, code) && res.Mapping == nil {
			continue
		}
		if p.opts.SourceMaps {
			if res.Mapping == nil {
				log.Warn().Str("module", id.String()).Str("transform", t.Name()).Msg("Transform rewrote code without a mapping")
				mapping = nil
			} else {
				mapping = sourcemap.Compose(res.Mapping, mapping)
			}
		}
		code = res.Code
		rewritten = true
	}

	if rewritten {
		if specs, err = ScanImports(code); err != nil {
			return nil, p.fail(id, parseStage, err, mapping, true)
		}
	}

	return &graph.Output{Code: code, Mapping: mapping, Specifiers: specs}, nil
}

// fail wraps err in a TransformError. A positioned failure in rewritten
// code is translated through the mapping accumulated so far; without a
// mapping its original position is unknown.
func (p *Pipeline) fail(id graph.ModuleID, name string, err error, mapping sourcemap.Mapping, rewritten bool) error {
	te := &builderr.TransformError{Module: id.String(), Transform: name, Err: err}

	line, col, ok := -1, -1, false
	var pe *PositionError
	var se *SyntaxError
	switch {
	case errors.As(err, &pe):
		line, col, ok = pe.Line, pe.Column, true
		te.Err = pe.Err
	case errors.As(err, &se):
		line, col, ok = se.Line, se.Column, true
		te.Err = errors.New(se.Msg)
	}
	if !ok {
		return te
	}

	if rewritten {
		if mapping == nil {
			return te
		}
		seg, found := mapping.Find(line, col)
		if !found {
			return te
		}
		line, col = seg.OrigLine, seg.OrigCol
	}
	te.Line = line + 1
	te.Column = col + 1
	return te
}

type cachedOutput struct {
	Code       []byte   `json:"code"`
	Mappings   string   `json:"mappings,omitempty"`
	Specifiers []string `json:"specifiers"`
}

func (p *Pipeline) cacheKey(id graph.ModuleID, source []byte) string {
	return fmt.Sprintf("%s:%016x:%016x", p.fingerprint, xxhash.Sum64String(id.String()), xxhash.Sum64(source))
}

func (p *Pipeline) cached(key string) *graph.Output {
	if p.opts.Cache == nil {
		return nil
	}
	data, err := p.opts.Cache.Get(key)
	if err != nil {
		log.Warn().Err(err).Msg("Transform cache read failed")
		return nil
	}
	if data == nil {
		p.cacheMisses.Add(1)
		return nil
	}

	var c cachedOutput
	if err := json.Unmarshal(data, &c); err != nil {
		log.Warn().Err(err).Msg("Discarding corrupt transform cache entry")
		return nil
	}
	out := &graph.Output{Code: c.Code, Specifiers: c.Specifiers}
	if p.opts.SourceMaps {
		m, err := sourcemap.DecodeMappings(c.Mappings)
		if err != nil {
			log.Warn().Err(err).Msg("Discarding corrupt transform cache entry")
			return nil
		}
		out.Mapping = m
	}
	p.cacheHits.Add(1)
	return out
}

func (p *Pipeline) store(key string, out *graph.Output) {
	if p.opts.Cache == nil {
		return
	}
	c := cachedOutput{Code: out.Code, Specifiers: out.Specifiers}
	if out.Mapping != nil {
		c.Mappings = sourcemap.EncodeMappings(out.Mapping)
	}
	data, err := json.Marshal(c)
	if err != nil {
		return
	}
	if err := p.opts.Cache.Set(key, data, p.opts.CacheTTL); err != nil {
		log.Warn().Err(err).Msg("Transform cache write failed")
	}
}
