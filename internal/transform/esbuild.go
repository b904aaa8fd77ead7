package transform

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/evanw/esbuild/pkg/api"

	"github.com/fluxbase-eu/fluxpack/internal/config"
	"github.com/fluxbase-eu/fluxpack/internal/graph"
	"github.com/fluxbase-eu/fluxpack/internal/sourcemap"
)

var esbuildLoaders = map[string]api.Loader{
	".js":  api.LoaderJS,
	".mjs": api.LoaderJS,
	".cjs": api.LoaderJS,
	".jsx": api.LoaderJSX,
	".ts":  api.LoaderTS,
	".mts": api.LoaderTS,
	".cts": api.LoaderTS,
	".tsx": api.LoaderTSX,
}

// Esbuild compiles TypeScript, JSX and ES module syntax down to CommonJS
// with esbuild's transform API, one module at a time.
type Esbuild struct {
	minify bool
}

// NewEsbuild creates the transform. minify enables all of esbuild's minifiers.
func NewEsbuild(minify bool) *Esbuild {
	return &Esbuild{minify: minify}
}

// NewEsbuildFromConfig minifies production builds.
func NewEsbuildFromConfig(cfg *config.BuildConfig) (Transform, error) {
	return NewEsbuild(cfg.Mode == config.ModeProduction), nil
}

func (e *Esbuild) Name() string { return "esbuild" }

func (e *Esbuild) Match(id graph.ModuleID) bool {
	_, ok := esbuildLoaders[strings.ToLower(filepath.Ext(id.Path))]
	return ok
}

func (e *Esbuild) Fingerprint() string {
	return fmt.Sprintf("minify=%t", e.minify)
}

func (e *Esbuild) Apply(ctx context.Context, in Input) (*Result, error) {
	opts := api.TransformOptions{
		Loader:            esbuildLoaders[strings.ToLower(filepath.Ext(in.ID.Path))],
		Format:            api.FormatCommonJS,
		Target:            api.ESNext,
		Charset:           api.CharsetUTF8,
		Sourcefile:        filepath.Base(in.ID.Path),
		Sourcemap:         api.SourceMapNone,
		MinifyWhitespace:  e.minify,
		MinifyIdentifiers: e.minify,
		MinifySyntax:      e.minify,
	}
	if in.SourceMap {
		opts.Sourcemap = api.SourceMapExternal
		opts.SourcesContent = api.SourcesContentExclude
	}

	result := api.Transform(string(in.Code), opts)
	if len(result.Errors) > 0 {
		return nil, esbuildError(result.Errors)
	}

	res := &Result{Code: result.Code}
	if in.SourceMap {
		_, mapping, err := sourcemap.Parse(result.Map)
		if err != nil {
			return nil, fmt.Errorf("decode esbuild source map: %w", err)
		}
		res.Mapping = mapping
	}
	return res, nil
}

// esbuildError reports the first message at its input position.
func esbuildError(msgs []api.Message) error {
	first := msgs[0]
	text := first.Text
	if len(msgs) > 1 {
		text = fmt.Sprintf("%s (and %d more)", text, len(msgs)-1)
	}
	if first.Location == nil {
		return errors.New(text)
	}
	loc := first.Location
	return &PositionError{
		Line:   loc.Line - 1,
		Column: sourcemap.Column([]byte(loc.LineText), loc.Column),
		Err:    errors.New(text),
	}
}
