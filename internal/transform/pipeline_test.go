package transform

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fluxbase-eu/fluxpack/internal/builderr"
	"github.com/fluxbase-eu/fluxpack/internal/cache"
	"github.com/fluxbase-eu/fluxpack/internal/config"
	"github.com/fluxbase-eu/fluxpack/internal/graph"
	"github.com/fluxbase-eu/fluxpack/internal/sourcemap"
)

// funcTransform adapts a function to the Transform interface.
type funcTransform struct {
	name  string
	calls atomic.Int64
	apply func(ctx context.Context, in Input) (*Result, error)
}

func (f *funcTransform) Name() string                 { return f.name }
func (f *funcTransform) Match(id graph.ModuleID) bool { return true }
func (f *funcTransform) Apply(ctx context.Context, in Input) (*Result, error) {
	f.calls.Add(1)
	return f.apply(ctx, in)
}

// headerTransform prepends one comment line.
func headerTransform() *funcTransform {
	return &funcTransform{name: "header", apply: func(ctx context.Context, in Input) (*Result, error) {
		code := append([]byte("/* header */\n"), in.Code...)
		return &Result{Code: code, Mapping: sourcemap.Identity(in.Code).Offset(1, 0)}, nil
	}}
}

var moduleA = graph.ModuleID{Path: "/p/src/a.js"}

func TestPipeline_ParseStageOnly(t *testing.T) {
	p := New(nil, Options{SourceMaps: true})
	out, err := p.Transform(context.Background(), moduleA, []byte("var b = require('./b');\n"))
	require.NoError(t, err)
	assert.Equal(t, "var b = require('./b');\n", string(out.Code))
	assert.Equal(t, []string{"./b"}, out.Specifiers)
	assert.Equal(t, sourcemap.Identity(out.Code), out.Mapping)
}

func TestPipeline_NoSourceMaps(t *testing.T) {
	p := New([]Transform{headerTransform()}, Options{SourceMaps: false})
	out, err := p.Transform(context.Background(), moduleA, []byte("x();\n"))
	require.NoError(t, err)
	assert.Nil(t, out.Mapping)
	assert.Equal(t, "/* header */\nx();\n", string(out.Code))
}

func TestPipeline_ComposesMappings(t *testing.T) {
	define, err := NewDefine(map[string]string{"process.env.NODE_ENV": `"production"`})
	require.NoError(t, err)

	p := New([]Transform{headerTransform(), define}, Options{SourceMaps: true})
	src := "var a;\nif (process.env.NODE_ENV) go();\n"
	out, err := p.Transform(context.Background(), moduleA, []byte(src))
	require.NoError(t, err)
	assert.Equal(t, "/* header */\nvar a;\nif (\"production\") go();\n", string(out.Code))

	// "go" sits on output line 2 and original line 1.
	outLine := strings.Split(string(out.Code), "\n")[2]
	seg, ok := out.Mapping.Lookup(2, strings.Index(outLine, "go"))
	require.True(t, ok)
	assert.Equal(t, 1, seg.OrigLine)
	assert.Equal(t, strings.Index(strings.Split(src, "\n")[1], "go"), seg.OrigCol)
}

func TestPipeline_RescansAfterRewrite(t *testing.T) {
	rewrite := &funcTransform{name: "rewrite", apply: func(ctx context.Context, in Input) (*Result, error) {
		code := bytes.ReplaceAll(in.Code, []byte(`import x from "./a";`), []byte(`var x = require("./b");`))
		return &Result{Code: code, Mapping: sourcemap.Identity(code)}, nil
	}}
	p := New([]Transform{rewrite}, Options{SourceMaps: true})
	out, err := p.Transform(context.Background(), moduleA, []byte(`import x from "./a";`))
	require.NoError(t, err)
	assert.Equal(t, []string{"./b"}, out.Specifiers)
}

func TestPipeline_ErrorPositionInOriginalSource(t *testing.T) {
	failing := &funcTransform{name: "strict", apply: func(ctx context.Context, in Input) (*Result, error) {
		lines := strings.Split(string(in.Code), "\n")
		for i, line := range lines {
			if col := strings.Index(line, "boom"); col >= 0 {
				return nil, &PositionError{Line: i, Column: col, Err: errors.New("forbidden identifier")}
			}
		}
		return &Result{Code: in.Code}, nil
	}}

	tests := []struct {
		name       string
		maps       bool
		transforms []Transform
		wantLine   int
		wantCol    int
	}{
		{name: "first transform sees original", maps: true, transforms: []Transform{failing}, wantLine: 3, wantCol: 5},
		{name: "translated through mapping", maps: true, transforms: []Transform{headerTransform(), failing}, wantLine: 3, wantCol: 5},
		{name: "original without maps", maps: false, transforms: []Transform{failing}, wantLine: 3, wantCol: 5},
		{name: "unknown after rewrite without maps", maps: false, transforms: []Transform{headerTransform(), failing}, wantLine: 0, wantCol: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := New(tt.transforms, Options{SourceMaps: tt.maps})
			_, err := p.Transform(context.Background(), moduleA, []byte("ok();\n\nvar boom = 1;\n"))
			require.Error(t, err)

			var te *builderr.TransformError
			require.True(t, errors.As(err, &te))
			assert.Equal(t, "strict", te.Transform)
			assert.Equal(t, moduleA.String(), te.Module)
			assert.Equal(t, tt.wantLine, te.Line)
			assert.Equal(t, tt.wantCol, te.Column)
			assert.EqualError(t, te.Err, "forbidden identifier")
		})
	}
}

func TestPipeline_ParseError(t *testing.T) {
	p := New(nil, Options{SourceMaps: true})
	_, err := p.Transform(context.Background(), moduleA, []byte("a();\n/* open"))
	require.Error(t, err)

	var te *builderr.TransformError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, "parse", te.Transform)
	assert.Equal(t, 2, te.Line)
	assert.Equal(t, 1, te.Column)
}

func TestPipeline_Timeout(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	slow := &funcTransform{name: "slow", apply: func(ctx context.Context, in Input) (*Result, error) {
		<-release
		return &Result{Code: in.Code}, nil
	}}
	p := New([]Transform{slow}, Options{Timeout: 20 * time.Millisecond})

	start := time.Now()
	_, err := p.Transform(context.Background(), moduleA, []byte("x();"))
	require.Error(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)

	var te *builderr.TransformError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, "slow", te.Transform)
	assert.ErrorIs(t, err, builderr.ErrTimeout)
	assert.Equal(t, builderr.KindTransform, builderr.KindOf(err))
}

func TestPipeline_Cache(t *testing.T) {
	store := cache.NewMemoryStore("test:", time.Minute)
	defer store.Close()

	header := headerTransform()
	p := New([]Transform{header}, Options{SourceMaps: true, Cache: store})

	src := []byte("require('./b');\n")
	first, err := p.Transform(context.Background(), moduleA, src)
	require.NoError(t, err)
	second, err := p.Transform(context.Background(), moduleA, src)
	require.NoError(t, err)

	assert.Equal(t, int64(1), header.calls.Load())
	assert.Equal(t, first.Code, second.Code)
	assert.Equal(t, first.Specifiers, second.Specifiers)
	assert.Equal(t, first.Mapping, second.Mapping)

	hits, misses := p.CacheStats()
	assert.Equal(t, int64(1), hits)
	assert.Equal(t, int64(1), misses)

	// Different content or module misses.
	_, err = p.Transform(context.Background(), moduleA, []byte("other();\n"))
	require.NoError(t, err)
	_, err = p.Transform(context.Background(), graph.ModuleID{Path: "/p/src/c.js"}, src)
	require.NoError(t, err)
	assert.Equal(t, int64(3), header.calls.Load())

	// A differently configured pipeline does not share entries.
	other := New([]Transform{header}, Options{SourceMaps: false, Cache: store})
	assert.NotEqual(t, p.Fingerprint(), other.Fingerprint())
}

func TestFromConfig_DefaultChain(t *testing.T) {
	cfg := &config.BuildConfig{
		Mode:             config.ModeDevelopment,
		SourceMap:        config.SourceMapInline,
		Transforms:       []string{"json", "esbuild", "define"},
		TransformTimeout: 10 * time.Second,
	}
	p, err := FromConfig(cfg, nil, 0)
	require.NoError(t, err)

	src := "export function mode() {\n  return process.env.NODE_ENV;\n}\n"
	out, err := p.Transform(context.Background(), graph.ModuleID{Path: "/p/src/mode.js"}, []byte(src))
	require.NoError(t, err)

	code := string(out.Code)
	assert.Contains(t, code, `return "development";`)
	assert.Contains(t, code, "module.exports")

	// The replaced expression maps back to where process.env.NODE_ENV was written.
	var line, col int
	for i, l := range strings.Split(code, "\n") {
		if c := strings.Index(l, `"development"`); c >= 0 {
			line, col = i, c
			break
		}
	}
	seg, ok := out.Mapping.Lookup(line, col)
	require.True(t, ok)
	assert.Equal(t, 1, seg.OrigLine)
	assert.Equal(t, 9, seg.OrigCol)

	json, err := p.Transform(context.Background(), graph.ModuleID{Path: "/p/src/data.json"}, []byte(`{"a": [1, 2]}`))
	require.NoError(t, err)
	assert.Equal(t, "module.exports = {\"a\": [1, 2]};\n", string(json.Code))
}

func TestFromConfig_DefineAfterEsbuildMapping(t *testing.T) {
	cfg := &config.BuildConfig{
		Mode:             config.ModeDevelopment,
		SourceMap:        config.SourceMapInline,
		Transforms:       []string{"json", "esbuild", "define"},
		TransformTimeout: 10 * time.Second,
	}
	p, err := FromConfig(cfg, nil, 0)
	require.NoError(t, err)

	src := "import { greet } from \"./util.js\";\nexport function hello(name) {\n  return greet(name) + process.env.NODE_ENV;\n}\n"
	out, err := p.Transform(context.Background(), graph.ModuleID{Path: "/p/src/main.js"}, []byte(src))
	require.NoError(t, err)

	line, text := -1, ""
	for i, l := range strings.Split(string(out.Code), "\n") {
		if strings.Contains(l, "return") && strings.Contains(l, `"development"`) {
			line, text = i, l
			break
		}
	}
	require.GreaterOrEqual(t, line, 0, string(out.Code))

	callee := strings.Index(text, "greet")
	require.Greater(t, callee, strings.Index(text, "return"))

	tests := []struct {
		name    string
		col     int
		wantCol int
	}{
		{name: "return keyword", col: strings.Index(text, "return"), wantCol: 2},
		{name: "rewritten callee", col: callee, wantCol: 9},
		{name: "replaced expression", col: strings.Index(text, `"development"`), wantCol: 23},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seg, ok := out.Mapping.Find(line, tt.col)
			require.True(t, ok)
			assert.Equal(t, 2, seg.OrigLine)
			assert.Equal(t, tt.wantCol, seg.OrigCol)
		})
	}
}

func TestFromConfig_UnknownTransform(t *testing.T) {
	_, err := FromConfig(&config.BuildConfig{Transforms: []string{"babel"}}, nil, 0)
	assert.ErrorContains(t, err, `unknown transform "babel"`)
}

func TestRegistry(t *testing.T) {
	assert.Subset(t, Names(), []string{"define", "esbuild", "json"})

	Register("upper", func(cfg *config.BuildConfig) (Transform, error) {
		return &funcTransform{name: "upper", apply: func(ctx context.Context, in Input) (*Result, error) {
			return &Result{Code: bytes.ToUpper(in.Code), Mapping: sourcemap.Identity(in.Code)}, nil
		}}, nil
	})
	transforms, err := Lookup([]string{"upper"}, &config.BuildConfig{})
	require.NoError(t, err)
	require.Len(t, transforms, 1)
	assert.Equal(t, "upper", transforms[0].Name())
	assert.Contains(t, Names(), "upper")
}
