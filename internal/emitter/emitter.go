// Package emitter renders planned chunks into JavaScript artifacts: a
// library wrapper around a small module runtime and one function shim per
// module, followed by an optional source map.
package emitter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/fluxbase-eu/fluxpack/internal/builderr"
	"github.com/fluxbase-eu/fluxpack/internal/config"
	"github.com/fluxbase-eu/fluxpack/internal/graph"
	"github.com/fluxbase-eu/fluxpack/internal/planner"
	"github.com/fluxbase-eu/fluxpack/internal/sourcemap"
	"github.com/fluxbase-eu/fluxpack/internal/storage"
)

// Artifact is one emitted output file.
type Artifact struct {
	Name string
	Code []byte
	// Map and MapName are set only for external source maps.
	Map     []byte
	MapName string
	Modules int
}

// Options controls the emitted layout.
type Options struct {
	Root      string
	Library   config.LibraryConfig
	SourceMap string
}

// Emitter renders chunks. It holds no per-build state.
type Emitter struct {
	opts Options
}

// New creates an emitter.
func New(opts Options) *Emitter {
	if opts.SourceMap == "" {
		opts.SourceMap = config.SourceMapNone
	}
	return &Emitter{opts: opts}
}

// FromConfig creates an emitter for a build configuration.
func FromConfig(cfg *config.BuildConfig) *Emitter {
	return New(Options{Root: cfg.Root, Library: cfg.Library, SourceMap: cfg.SourceMap})
}

// Emit renders every chunk of p in plan order.
func (e *Emitter) Emit(ctx context.Context, p *planner.Plan, g *graph.Graph) ([]*Artifact, error) {
	artifacts := make([]*Artifact, 0, len(p.Chunks))
	for i := range p.Chunks {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		a, err := e.EmitChunk(p, &p.Chunks[i], g)
		if err != nil {
			return nil, err
		}
		artifacts = append(artifacts, a)
	}
	return artifacts, nil
}

// EmitChunk renders a single chunk.
func (e *Emitter) EmitChunk(p *planner.Plan, c *planner.Chunk, g *graph.Graph) (*Artifact, error) {
	w := &lineWriter{}
	multi := p.Mode == config.OutputMultiChunk

	var pre, post string
	if !c.Shared {
		var err error
		pre, post, err = envelope(e.opts.Library.Type, e.libraryName(c, multi))
		if err != nil {
			return nil, &builderr.EmitError{Path: c.Name, Err: err}
		}
	}

	w.WriteString(pre)
	switch {
	case c.Shared:
		w.WriteString("(function (registry) {\nvar modules = registry.modules;\n")
	case multi:
		w.WriteString(runtime)
		w.WriteString("var registry = " + registryExpr(e.registryKey()) + ";\nvar modules = registry.modules;\n")
	default:
		w.WriteString(runtime)
		w.WriteString("var modules = {};\n")
	}

	var (
		sources  = make([]string, 0, len(c.Modules))
		contents = make([][]byte, 0, len(c.Modules))
		mapping  sourcemap.Mapping
	)
	for i, id := range c.Modules {
		rec, ok := g.Modules[id]
		if !ok {
			return nil, &builderr.EmitError{Path: c.Name, Err: fmt.Errorf("module %s is not in the graph", id)}
		}
		rel := id.Rel(e.opts.Root)
		start, err := e.writeShim(w, p, rec, rel)
		if err != nil {
			return nil, &builderr.EmitError{Path: c.Name, Err: err}
		}
		sources = append(sources, rel)
		contents = append(contents, rec.RawSource)
		mapping = append(mapping, rec.Mapping.Offset(start, i)...)
	}

	if c.Shared {
		w.WriteString("})(" + registryExpr(e.registryKey()) + ");\n")
	} else {
		registry := "null"
		if multi {
			registry = "registry"
		}
		entries := make([]string, len(c.Entries))
		for i, id := range c.Entries {
			entries[i] = strconv.Itoa(p.Index[id])
		}
		w.WriteString("return __fluxpack_start(modules, [" + strings.Join(entries, ", ") + "], " + registry + ");\n")
		w.WriteString(post)
	}

	a := &Artifact{Name: c.Name, Modules: len(c.Modules)}
	if e.opts.SourceMap != config.SourceMapNone {
		data, err := sourcemap.Marshal(path.Base(filepath.ToSlash(c.Name)), sources, contents, mapping)
		if err != nil {
			return nil, &builderr.EmitError{Path: c.Name + ".map", Err: err}
		}
		switch e.opts.SourceMap {
		case config.SourceMapInline:
			w.WriteString("//# sourceMappingURL=" + sourcemap.DataURI(data) + "\n")
		case config.SourceMapExternal:
			a.Map = data
			a.MapName = c.Name + ".map"
			w.WriteString("//# sourceMappingURL=" + path.Base(filepath.ToSlash(a.MapName)) + "\n")
		}
	}
	a.Code = w.Bytes()

	log.Debug().
		Str("chunk", c.Name).
		Int("modules", len(c.Modules)).
		Int("bytes", len(a.Code)).
		Msg("Chunk emitted")
	return a, nil
}

// writeShim writes one module table entry and returns the 0-based line on
// which the module code starts.
func (e *Emitter) writeShim(w *lineWriter, p *planner.Plan, rec *graph.ModuleRecord, rel string) (int, error) {
	index, ok := p.Index[rec.ID]
	if !ok {
		return 0, fmt.Errorf("module %s is not planned", rec.ID)
	}
	w.WriteString("/* " + strconv.Itoa(index) + ": " + strings.ReplaceAll(rel, "*/", "*\\/") + " */ ")
	w.WriteString("modules[" + strconv.Itoa(index) + "] = [function (module, exports, require) {\n")
	start := w.lines

	w.Write(rec.Transformed)
	if n := len(rec.Transformed); n > 0 && rec.Transformed[n-1] != '\n' {
		w.WriteString("\n")
	}

	w.WriteString("}, {")
	for i, dep := range rec.Dependencies {
		target, ok := p.Index[dep.ID]
		if !ok {
			return 0, fmt.Errorf("dependency %s of %s is not planned", dep.ID, rec.ID)
		}
		if i > 0 {
			w.WriteString(", ")
		}
		lazy := "0"
		if dep.Cyclic {
			lazy = "1"
		}
		w.WriteString(quote(dep.Specifier) + ": [" + strconv.Itoa(target) + ", " + lazy + "]")
	}
	w.WriteString("}];\n")
	return start, nil
}

// libraryName is the exposed name of an entry chunk. In multi-chunk builds
// every entry chunk gets its own name derived from the chunk file stem.
func (e *Emitter) libraryName(c *planner.Chunk, multi bool) string {
	name := e.opts.Library.Name
	if !multi {
		return name
	}
	base := path.Base(filepath.ToSlash(c.Name))
	stem := strings.TrimSuffix(base, path.Ext(base))
	var b strings.Builder
	for _, r := range stem {
		if r == '_' || r == '$' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	if name == "" {
		return b.String()
	}
	return name + "_" + b.String()
}

func (e *Emitter) registryKey() string {
	if e.opts.Library.Name == "" {
		return quote("__fluxpack")
	}
	return quote("__fluxpack_" + e.opts.Library.Name)
}

// Publish writes artifacts and their maps through provider.
func Publish(ctx context.Context, provider storage.Provider, artifacts []*Artifact) error {
	for _, a := range artifacts {
		if _, err := provider.Put(ctx, a.Name, a.Code); err != nil {
			return &builderr.EmitError{Path: a.Name, Err: err}
		}
		if a.Map != nil {
			if _, err := provider.Put(ctx, a.MapName, a.Map); err != nil {
				return &builderr.EmitError{Path: a.MapName, Err: err}
			}
		}
		log.Info().
			Str("artifact", a.Name).
			Str("provider", provider.Name()).
			Int("bytes", len(a.Code)).
			Msg("Artifact published")
	}
	return nil
}

// quote renders s as a JavaScript string literal.
func quote(s string) string {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(s)
	return strings.TrimSuffix(buf.String(), "\n")
}

// lineWriter is a buffer that counts the newlines written to it.
type lineWriter struct {
	bytes.Buffer
	lines int
}

func (w *lineWriter) Write(p []byte) (int, error) {
	w.lines += bytes.Count(p, []byte{'\n'})
	return w.Buffer.Write(p)
}

func (w *lineWriter) WriteString(s string) (int, error) {
	w.lines += strings.Count(s, "\n")
	return w.Buffer.WriteString(s)
}
