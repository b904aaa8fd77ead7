package transform

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"path/filepath"

	"github.com/fluxbase-eu/fluxpack/internal/graph"
	"github.com/fluxbase-eu/fluxpack/internal/sourcemap"
)

const jsonPrefix = "module.exports = "

// JSON turns a .json module into a CommonJS module exporting its value.
type JSON struct{}

func NewJSON() *JSON { return &JSON{} }

func (j *JSON) Name() string { return "json" }

func (j *JSON) Match(id graph.ModuleID) bool {
	return filepath.Ext(id.Path) == ".json"
}

func (j *JSON) Apply(ctx context.Context, in Input) (*Result, error) {
	body := bytes.TrimRight(in.Code, " \t\r\n")
	var v any
	if err := json.Unmarshal(body, &v); err != nil {
		var se *json.SyntaxError
		if errors.As(err, &se) {
			line, col := position(body, int(se.Offset))
			return nil, &PositionError{Line: line, Column: col, Err: err}
		}
		return nil, err
	}

	code := make([]byte, 0, len(jsonPrefix)+len(body)+2)
	code = append(code, jsonPrefix...)
	code = append(code, body...)
	code = append(code, ";\n"...)

	mapping := sourcemap.Identity(code)
	for i, seg := range mapping {
		if seg.GenLine != 0 {
			continue
		}
		if seg.GenCol < len(jsonPrefix) {
			mapping[i].OrigCol = 0
		} else {
			mapping[i].OrigCol = seg.GenCol - len(jsonPrefix)
		}
	}
	return &Result{Code: code, Mapping: mapping}, nil
}

// position converts a byte offset into a 0-based line and UTF-16 column.
func position(code []byte, offset int) (int, int) {
	if offset > len(code) {
		offset = len(code)
	}
	line := bytes.Count(code[:offset], []byte("\n"))
	start := bytes.LastIndexByte(code[:offset], '\n') + 1
	return line, sourcemap.Column(code[start:], offset-start)
}
