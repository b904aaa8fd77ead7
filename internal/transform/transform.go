// Package transform runs per-module source transforms and tracks how each
// one moves positions, so that emitted code maps back to original sources.
package transform

import (
	"context"
	"fmt"

	"github.com/fluxbase-eu/fluxpack/internal/graph"
	"github.com/fluxbase-eu/fluxpack/internal/sourcemap"
)

// Input is the code handed to one transform.
type Input struct {
	ID   graph.ModuleID
	Code []byte
	// SourceMap asks the transform to report a mapping.
	SourceMap bool
}

// Result is the output of one transform. Mapping maps positions in Code to
// positions in the transform's input. A nil mapping with unchanged code
// passes the incoming mapping through.
type Result struct {
	Code    []byte
	Mapping sourcemap.Mapping
}

// Transform is one stage of the pipeline.
type Transform interface {
	Name() string
	// Match reports whether the transform applies to the module.
	Match(id graph.ModuleID) bool
	Apply(ctx context.Context, in Input) (*Result, error)
}

// PositionError is a transform failure located at a 0-based position of
// the transform's input.
type PositionError struct {
	Line   int
	Column int
	Err    error
}

func (e *PositionError) Error() string {
	return fmt.Sprintf("%d:%d: %v", e.Line+1, e.Column+1, e.Err)
}

func (e *PositionError) Unwrap() error { return e.Err }
