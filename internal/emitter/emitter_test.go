package emitter

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fluxbase-eu/fluxpack/internal/builderr"
	"github.com/fluxbase-eu/fluxpack/internal/config"
	"github.com/fluxbase-eu/fluxpack/internal/graph"
	"github.com/fluxbase-eu/fluxpack/internal/planner"
	"github.com/fluxbase-eu/fluxpack/internal/sourcemap"
	"github.com/fluxbase-eu/fluxpack/internal/storage"
	"github.com/fluxbase-eu/fluxpack/internal/testutil"
)

const root = "/proj"

func mod(rel string) graph.ModuleID {
	return graph.ModuleID{Path: filepath.Join(root, filepath.FromSlash(rel))}
}

// addModule registers a module whose transformed code equals its source.
func addModule(g *graph.Graph, rel, code string, deps ...graph.Dependency) {
	id := mod(rel)
	g.Modules[id] = &graph.ModuleRecord{
		ID:           id,
		RawSource:    []byte(code),
		Transformed:  []byte(code),
		Mapping:      sourcemap.Identity([]byte(code)),
		Dependencies: deps,
		Generation:   g.Generation,
	}
}

func dep(spec, rel string) graph.Dependency {
	return graph.Dependency{Specifier: spec, ID: mod(rel)}
}

// yngwieGraph is src/main.js importing src/util.js.
func yngwieGraph() *graph.Graph {
	g := graph.New(1)
	addModule(g, "src/main.js",
		"var util = require(\"./util.js\");\nmodule.exports = { greet: util.greet };\n",
		dep("./util.js", "src/util.js"))
	addModule(g, "src/util.js", "exports.greet = function () { return \"hi\"; };")
	g.Entries = []graph.ModuleID{mod("src/main.js")}
	return g
}

func emitSingle(t *testing.T, g *graph.Graph, opts Options) *Artifact {
	t.Helper()
	p, err := planner.New(g, config.OutputSingleFile, "yngwie.js")
	require.NoError(t, err)
	artifacts, err := New(opts).Emit(context.Background(), p, g)
	require.NoError(t, err)
	require.Len(t, artifacts, 1)
	return artifacts[0]
}

func umdOptions(sourceMap string) Options {
	return Options{
		Root:      root,
		Library:   config.LibraryConfig{Name: "Yngwie", Type: config.WrapperUMD},
		SourceMap: sourceMap,
	}
}

func TestEmit_Golden(t *testing.T) {
	a := emitSingle(t, yngwieGraph(), umdOptions(config.SourceMapNone))

	g := goldie.New(t, goldie.WithFixtureDir("testdata/golden"), goldie.WithNameSuffix(".golden"))
	g.Assert(t, "yngwie_umd", a.Code)
}

func TestEmit_Layout(t *testing.T) {
	a := emitSingle(t, yngwieGraph(), umdOptions(config.SourceMapNone))
	code := string(a.Code)

	assert.Equal(t, "yngwie.js", a.Name)
	assert.Equal(t, 2, a.Modules)
	assert.True(t, strings.HasPrefix(code, "(function (root, factory) {\n"))
	assert.Contains(t, code, `root["Yngwie"] = factory();`)
	assert.True(t, strings.HasSuffix(code, "return __fluxpack_start(modules, [1], null);\n});\n"))

	util := strings.Index(code, "/* 0: src/util.js */ modules[0]")
	main := strings.Index(code, "/* 1: src/main.js */ modules[1]")
	require.GreaterOrEqual(t, util, 0)
	require.GreaterOrEqual(t, main, 0)
	assert.Less(t, util, main, "dependency must precede its importer")

	assert.Contains(t, code, "exports.greet = function () { return \"hi\"; };\n}, {}];\n")
	assert.Contains(t, code, "}, {\"./util.js\": [0, 0]}];\n")
}

func TestEmit_Wrappers(t *testing.T) {
	tests := []struct {
		name    string
		library config.LibraryConfig
		prefix  string
		suffix  string
	}{
		{
			name:    "umd",
			library: config.LibraryConfig{Name: "Yngwie", Type: config.WrapperUMD},
			prefix:  "(function (root, factory) {\n  if (typeof define === \"function\" && define.amd) {\n",
			suffix:  "});\n",
		},
		{
			name:    "esm",
			library: config.LibraryConfig{Type: config.WrapperESM},
			prefix:  "var __fluxpack_default = (function () {\n",
			suffix:  "})();\nexport default __fluxpack_default;\n",
		},
		{
			name:    "commonjs",
			library: config.LibraryConfig{Type: config.WrapperCommonJS},
			prefix:  "module.exports = (function () {\n",
			suffix:  "})();\n",
		},
		{
			name:    "global",
			library: config.LibraryConfig{Name: "Yngwie", Type: config.WrapperGlobal},
			prefix:  "var Yngwie = (function () {\n",
			suffix:  "})();\n",
		},
		{
			name:    "global with non-identifier name",
			library: config.LibraryConfig{Name: "my-lib", Type: config.WrapperGlobal},
			prefix:  "(typeof self !== \"undefined\" ? self : this)[\"my-lib\"] = (function () {\n",
			suffix:  "})();\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := emitSingle(t, yngwieGraph(), Options{Root: root, Library: tt.library})
			code := string(a.Code)
			assert.True(t, strings.HasPrefix(code, tt.prefix), code)
			assert.True(t, strings.HasSuffix(code, tt.suffix), code)
			assert.Contains(t, code, "function __fluxpack_start(modules, entries, registry)")
		})
	}
}

func TestEmit_UnknownWrapper(t *testing.T) {
	g := yngwieGraph()
	p, err := planner.New(g, config.OutputSingleFile, "yngwie.js")
	require.NoError(t, err)

	_, err = New(Options{Root: root, Library: config.LibraryConfig{Type: "amd"}}).Emit(context.Background(), p, g)
	var emitErr *builderr.EmitError
	require.ErrorAs(t, err, &emitErr)
	assert.Equal(t, "yngwie.js", emitErr.Path)
}

func TestEmit_InlineSourceMap(t *testing.T) {
	g := yngwieGraph()
	a := emitSingle(t, g, umdOptions(config.SourceMapInline))

	lines := strings.Split(strings.TrimSuffix(string(a.Code), "\n"), "\n")
	last := lines[len(lines)-1]
	require.True(t, strings.HasPrefix(last, "//# sourceMappingURL=data:application/json"))
	assert.Nil(t, a.Map)

	data, err := sourcemap.DecodeDataURI(strings.TrimPrefix(last, "//# sourceMappingURL="))
	require.NoError(t, err)
	sm, mapping, err := sourcemap.Parse(data)
	require.NoError(t, err)

	assert.Equal(t, "yngwie.js", sm.File)
	assert.Equal(t, []string{"src/util.js", "src/main.js"}, sm.Sources)
	require.Len(t, sm.SourcesContent, 2)
	assert.Equal(t, string(g.Modules[mod("src/util.js")].RawSource), *sm.SourcesContent[0])

	// Every module line in the bundle maps back to the same text in its source.
	find := func(text string) int {
		for i, l := range lines {
			if l == text {
				return i
			}
		}
		t.Fatalf("line %q not in bundle", text)
		return -1
	}

	seg, ok := mapping.Lookup(find("exports.greet = function () { return \"hi\"; };"), 0)
	require.True(t, ok)
	assert.Equal(t, 0, seg.Source)
	assert.Equal(t, 0, seg.OrigLine)
	assert.Equal(t, 0, seg.OrigCol)

	seg, ok = mapping.Lookup(find("module.exports = { greet: util.greet };"), 7)
	require.True(t, ok)
	assert.Equal(t, 1, seg.Source)
	assert.Equal(t, 1, seg.OrigLine)
	assert.Equal(t, 7, seg.OrigCol)
}

func TestEmit_ExternalSourceMap(t *testing.T) {
	a := emitSingle(t, yngwieGraph(), umdOptions(config.SourceMapExternal))

	assert.Equal(t, "yngwie.js.map", a.MapName)
	require.NotNil(t, a.Map)
	assert.True(t, strings.HasSuffix(string(a.Code), "});\n//# sourceMappingURL=yngwie.js.map\n"))

	sm, _, err := sourcemap.Parse(a.Map)
	require.NoError(t, err)
	assert.Equal(t, []string{"src/util.js", "src/main.js"}, sm.Sources)
}

func TestEmit_LazyCycleBinding(t *testing.T) {
	g := graph.New(1)
	addModule(g, "a.js", "var b = require(\"./b.js\");\nexports.a = 1;\n", dep("./b.js", "b.js"))
	back := dep("./a.js", "a.js")
	back.Cyclic = true
	addModule(g, "b.js", "var a = require(\"./a.js\");\nexports.b = function () { return a.a; };\n", back)
	g.Entries = []graph.ModuleID{mod("a.js")}

	code := string(emitSingle(t, g, umdOptions(config.SourceMapNone)).Code)

	assert.Contains(t, code, "/* 0: b.js */")
	assert.Contains(t, code, "}, {\"./a.js\": [1, 1]}];\n")
	assert.Contains(t, code, "}, {\"./b.js\": [0, 0]}];\n")
	assert.Contains(t, code, "return dep[1] ? __lazy(dep[0]) : __require(dep[0]);")
}

func TestEmit_BundleRuns(t *testing.T) {
	t.Run("yngwie", func(t *testing.T) {
		code := emitSingle(t, yngwieGraph(), umdOptions(config.SourceMapInline)).Code
		vm := testutil.RunBundle(t, "yngwie.js", code)
		assert.Equal(t, "hi", testutil.Eval(t, vm, "Yngwie.greet()"))
	})

	t.Run("lazy cycle binding", func(t *testing.T) {
		g := graph.New(1)
		addModule(g, "a.js", "var b = require(\"./b.js\");\nexports.a = 1;\nexports.viaB = function () { return b.b(); };\n",
			dep("./b.js", "b.js"))
		back := dep("./a.js", "a.js")
		back.Cyclic = true
		addModule(g, "b.js", "var a = require(\"./a.js\");\nexports.b = function () { return a.a; };\n", back)
		g.Entries = []graph.ModuleID{mod("a.js")}

		code := emitSingle(t, g, umdOptions(config.SourceMapNone)).Code
		vm := testutil.RunBundle(t, "yngwie.js", code)
		assert.Equal(t, int64(1), testutil.Eval(t, vm, "Yngwie.viaB()"))
		assert.Equal(t, true, testutil.Eval(t, vm, `"a" in Yngwie`))
	})
}

func TestEmit_Deterministic(t *testing.T) {
	first := emitSingle(t, yngwieGraph(), umdOptions(config.SourceMapInline))
	for i := 0; i < 5; i++ {
		again := emitSingle(t, yngwieGraph(), umdOptions(config.SourceMapInline))
		assert.True(t, bytes.Equal(first.Code, again.Code), "run %d differs", i)
	}
}

func TestEmit_OnlyChangedShimDiffers(t *testing.T) {
	before := string(emitSingle(t, yngwieGraph(), umdOptions(config.SourceMapNone)).Code)

	g := yngwieGraph()
	util := g.Modules[mod("src/util.js")]
	util.Transformed = []byte("exports.greet = function () { return \"hello\"; };")
	after := string(emitSingle(t, g, umdOptions(config.SourceMapNone)).Code)

	const marker = "/* 1: src/main.js */"
	b := strings.Index(before, marker)
	a := strings.Index(after, marker)
	require.GreaterOrEqual(t, b, 0)
	require.GreaterOrEqual(t, a, 0)

	assert.Equal(t, before[b:], after[a:], "importer shim and postamble unchanged")

	const utilMarker = "/* 0: src/util.js */"
	assert.Equal(t, before[:strings.Index(before, utilMarker)], after[:strings.Index(after, utilMarker)])
	assert.NotEqual(t, before, after)
}

func TestEmit_MultiChunk(t *testing.T) {
	g := graph.New(1)
	addModule(g, "src/a.js", "require(\"./shared.js\");\n", dep("./shared.js", "src/shared.js"))
	addModule(g, "src/b.js", "require(\"./shared.js\");\n", dep("./shared.js", "src/shared.js"))
	addModule(g, "src/shared.js", "exports.x = 1;\n")
	g.Entries = []graph.ModuleID{mod("src/a.js"), mod("src/b.js")}

	p, err := planner.New(g, config.OutputMultiChunk, "yngwie.js")
	require.NoError(t, err)
	artifacts, err := New(umdOptions(config.SourceMapNone)).Emit(context.Background(), p, g)
	require.NoError(t, err)
	require.Len(t, artifacts, 3)

	shared := string(artifacts[0].Code)
	assert.Equal(t, "yngwie.shared.js", artifacts[0].Name)
	assert.True(t, strings.HasPrefix(shared, "(function (registry) {\nvar modules = registry.modules;\n"))
	assert.Contains(t, shared, "/* 0: src/shared.js */")
	assert.Contains(t, shared, `g["__fluxpack_Yngwie"]`)
	assert.NotContains(t, shared, "__fluxpack_start")

	entryA := string(artifacts[1].Code)
	assert.Equal(t, "a.js", artifacts[1].Name)
	assert.Contains(t, entryA, `root["Yngwie_a"] = factory();`)
	assert.Contains(t, entryA, "var registry = ")
	assert.Contains(t, entryA, "return __fluxpack_start(modules, [1], registry);")
	assert.NotContains(t, entryA, "src/shared.js */")

	assert.Contains(t, string(artifacts[2].Code), `root["Yngwie_b"] = factory();`)
}

func TestEmit_Cancelled(t *testing.T) {
	g := yngwieGraph()
	p, err := planner.New(g, config.OutputSingleFile, "yngwie.js")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = New(umdOptions(config.SourceMapNone)).Emit(ctx, p, g)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestPublish_Local(t *testing.T) {
	dir := t.TempDir()
	provider, err := storage.NewLocalStorage(dir)
	require.NoError(t, err)

	a := emitSingle(t, yngwieGraph(), umdOptions(config.SourceMapExternal))
	require.NoError(t, Publish(context.Background(), provider, []*Artifact{a}))

	code, err := os.ReadFile(filepath.Join(dir, "yngwie.js"))
	require.NoError(t, err)
	assert.Equal(t, a.Code, code)

	m, err := os.ReadFile(filepath.Join(dir, "yngwie.js.map"))
	require.NoError(t, err)
	assert.Equal(t, a.Map, m)
}

func TestPublish_Failure(t *testing.T) {
	provider := testutil.NewMockStorageProvider()
	provider.OnPut = func(string) error { return errors.New("disk full") }

	err := Publish(context.Background(), provider, []*Artifact{{Name: "yngwie.js", Code: []byte("x")}})

	var emitErr *builderr.EmitError
	require.ErrorAs(t, err, &emitErr)
	assert.Equal(t, "yngwie.js", emitErr.Path)
	assert.Equal(t, builderr.KindEmit, builderr.KindOf(err))
	assert.Empty(t, provider.Keys())
}

func TestQuote(t *testing.T) {
	assert.Equal(t, `"./util.js"`, quote("./util.js"))
	assert.Equal(t, `"</script>"`, quote("</script>"))
	assert.Equal(t, `"a\"b"`, quote(`a"b`))
}
