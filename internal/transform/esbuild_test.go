package transform

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fluxbase-eu/fluxpack/internal/graph"
)

func TestEsbuild_Match(t *testing.T) {
	e := NewEsbuild(false)
	for _, p := range []string{"a.js", "a.mjs", "a.cjs", "a.jsx", "a.ts", "a.tsx", "A.TS"} {
		assert.True(t, e.Match(graph.ModuleID{Path: "/p/" + p}), p)
	}
	assert.False(t, e.Match(graph.ModuleID{Path: "/p/a.json"}))
	assert.False(t, e.Match(graph.ModuleID{Path: "/p/a.css"}))
}

func TestEsbuild_ModuleSyntaxToCommonJS(t *testing.T) {
	in := Input{
		ID:        graph.ModuleID{Path: "/p/a.js"},
		Code:      []byte("import { b } from \"./b\";\nexport const a = b + 1;\n"),
		SourceMap: true,
	}
	res, err := NewEsbuild(false).Apply(context.Background(), in)
	require.NoError(t, err)

	code := string(res.Code)
	assert.Contains(t, code, `require("./b")`)
	assert.Contains(t, code, "module.exports")
	assert.NotContains(t, code, "import {")
	assert.NotEmpty(t, res.Mapping)

	specs, err := ScanImports(res.Code)
	require.NoError(t, err)
	assert.Equal(t, []string{"./b"}, specs)
}

func TestEsbuild_TypeScript(t *testing.T) {
	in := Input{ID: graph.ModuleID{Path: "/p/a.ts"}, Code: []byte("const x: number = 1;\nmodule.exports = x;\n")}
	res, err := NewEsbuild(false).Apply(context.Background(), in)
	require.NoError(t, err)
	assert.Contains(t, string(res.Code), "const x = 1;")
	assert.Nil(t, res.Mapping)
}

func TestEsbuild_Minify(t *testing.T) {
	in := Input{ID: graph.ModuleID{Path: "/p/a.js"}, Code: []byte("function add(first, second) {\n  return first + second;\n}\nmodule.exports = add;\n")}
	plain, err := NewEsbuild(false).Apply(context.Background(), in)
	require.NoError(t, err)
	minified, err := NewEsbuild(true).Apply(context.Background(), in)
	require.NoError(t, err)
	assert.Less(t, len(minified.Code), len(plain.Code))
}

func TestEsbuild_SyntaxError(t *testing.T) {
	in := Input{ID: graph.ModuleID{Path: "/p/a.js"}, Code: []byte("var ok = 1;\nconst = ;\n")}
	_, err := NewEsbuild(false).Apply(context.Background(), in)
	require.Error(t, err)

	var pe *PositionError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, 1, pe.Line)
}
