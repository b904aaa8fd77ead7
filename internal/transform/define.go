package transform

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/fluxbase-eu/fluxpack/internal/config"
	"github.com/fluxbase-eu/fluxpack/internal/graph"
	"github.com/fluxbase-eu/fluxpack/internal/sourcemap"
)

// Define replaces dotted identifier paths such as process.env.NODE_ENV
// with constant expressions. Strings, comments and property accesses
// (a.process.env.NODE_ENV) are left alone.
type Define struct {
	values map[string]string
}

// NewDefine creates a define transform. Replacement values must fit on one line.
func NewDefine(values map[string]string) (*Define, error) {
	d := &Define{values: make(map[string]string, len(values))}
	for key, value := range values {
		if strings.ContainsAny(value, "\r\n") {
			return nil, fmt.Errorf("define %s: value must be a single line", key)
		}
		for _, part := range strings.Split(key, ".") {
			if !isIdentifier(part) {
				return nil, fmt.Errorf("define %s: not an identifier path", key)
			}
		}
		d.values[key] = value
	}
	return d, nil
}

// NewDefineFromConfig seeds process.env.NODE_ENV from the build mode unless
// the configuration defines it explicitly.
func NewDefineFromConfig(cfg *config.BuildConfig) (Transform, error) {
	values := make(map[string]string, len(cfg.Define)+1)
	for k, v := range cfg.Define {
		values[k] = v
	}
	if _, ok := values["process.env.NODE_ENV"]; !ok {
		mode, _ := json.Marshal(cfg.Mode)
		values["process.env.NODE_ENV"] = string(mode)
	}
	return NewDefine(values)
}

func (d *Define) Name() string { return "define" }

func (d *Define) Match(id graph.ModuleID) bool {
	return filepath.Ext(id.Path) != ".json"
}

// Fingerprint identifies the replacement table for cache keys.
func (d *Define) Fingerprint() string {
	keys := make([]string, 0, len(d.values))
	for k := range d.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for _, k := range keys {
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(d.values[k])
		b.WriteByte(';')
	}
	return b.String()
}

type replacement struct {
	start, end int // byte range in the input
	line       int
	col        int // UTF-16 column of start
	width      int // UTF-16 width of the replaced text
	value      string
}

func (d *Define) Apply(ctx context.Context, in Input) (*Result, error) {
	if len(d.values) == 0 {
		return &Result{Code: in.Code}, nil
	}
	toks, err := tokenize(string(in.Code))
	if err != nil {
		var se *SyntaxError
		if errors.As(err, &se) {
			return nil, &PositionError{Line: se.Line, Column: se.Column, Err: errors.New(se.Msg)}
		}
		return nil, err
	}

	var reps []replacement
	for i := 0; i < len(toks); i++ {
		t := toks[i]
		if t.kind != tokIdent || (i > 0 && isPunct(toks, i-1, ".")) {
			continue
		}
		// Extend the chain over adjacent ".ident" pairs and keep the longest defined prefix.
		end, best, bestEnd := i, -1, 0
		text := t.text
		if _, ok := d.values[text]; ok {
			best, bestEnd = i, t.off+len(t.text)
		}
		for end+2 < len(toks) && isPunct(toks, end+1, ".") && toks[end+2].kind == tokIdent &&
			toks[end+1].off == toks[end].off+len(toks[end].text) &&
			toks[end+2].off == toks[end+1].off+1 {
			end += 2
			text += "." + toks[end].text
			if _, ok := d.values[text]; ok {
				best, bestEnd = end, toks[end].off+len(toks[end].text)
			}
		}
		if best < 0 {
			continue
		}
		// Writes are not rewritten.
		if isPunct(toks, best+1, "=") && !isPunct(toks, best+2, "=") {
			i = best
			continue
		}
		reps = append(reps, replacement{
			start: t.off,
			end:   bestEnd,
			line:  t.line,
			col:   t.col,
			width: bestEnd - t.off,
			value: d.values[string(in.Code[t.off:bestEnd])],
		})
		i = best
	}

	if len(reps) == 0 {
		return &Result{Code: in.Code}, nil
	}
	code, mapping := applyReplacements(in.Code, reps)
	return &Result{Code: code, Mapping: mapping}, nil
}

// applyReplacements rewrites code and maps every token start of the result
// back to the input. Positions inside a replacement map to its start.
func applyReplacements(src []byte, reps []replacement) ([]byte, sourcemap.Mapping) {
	type piece struct {
		outCol, inCol int
		replaced      bool
	}

	var out strings.Builder
	out.Grow(len(src))
	pieces := make(map[int][]piece)
	shift := make(map[int]int)
	last := 0
	for _, r := range reps {
		out.Write(src[last:r.start])
		s := shift[r.line]
		if len(pieces[r.line]) == 0 {
			pieces[r.line] = append(pieces[r.line], piece{})
		}
		pieces[r.line] = append(pieces[r.line],
			piece{outCol: r.col + s, inCol: r.col, replaced: true},
			piece{outCol: r.col + s + utf16Width(r.value), inCol: r.col + r.width},
		)
		shift[r.line] = s + utf16Width(r.value) - r.width
		out.WriteString(r.value)
		last = r.end
	}
	out.Write(src[last:])

	code := []byte(out.String())
	mapping := sourcemap.Identity(code)
	for i, seg := range mapping {
		ps, ok := pieces[seg.GenLine]
		if !ok {
			continue
		}
		p := ps[0]
		for _, candidate := range ps {
			if candidate.outCol > seg.GenCol {
				break
			}
			p = candidate
		}
		if p.replaced {
			mapping[i].OrigCol = p.inCol
		} else {
			mapping[i].OrigCol = p.inCol + (seg.GenCol - p.outCol)
		}
	}
	return code, mapping
}

func utf16Width(s string) int {
	n := 0
	for _, r := range s {
		n += sourcemap.Units(r)
	}
	return n
}

func isIdentifier(s string) bool {
	if s == "" || !isIdentStart(s[0]) {
		return false
	}
	for i := 1; i < len(s); i++ {
		if !isIdentPart(s[i]) {
			return false
		}
	}
	return true
}
