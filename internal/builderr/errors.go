// Package builderr defines the error taxonomy shared by every build stage.
package builderr

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Kind classifies a build failure.
type Kind string

const (
	KindResolution Kind = "resolution"
	KindGraph      Kind = "graph"
	KindTransform  Kind = "transform"
	KindPlan       Kind = "plan"
	KindEmit       Kind = "emit"
)

// ErrTimeout is wrapped by TransformError when a transform exceeds its deadline.
var ErrTimeout = errors.New("transform timed out")

// ResolutionError reports a specifier that could not be mapped to a file.
type ResolutionError struct {
	Module    string // importing module, empty for entry points
	Specifier string
	FromDir   string
	Err       error
}

func (e *ResolutionError) Error() string {
	msg := fmt.Sprintf("cannot resolve %q from %s", e.Specifier, e.FromDir)
	if e.Module != "" {
		msg = fmt.Sprintf("%s: %s", e.Module, msg)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ResolutionError) Unwrap() error { return e.Err }

// GraphError reports an unreadable module or an inconsistent graph.
type GraphError struct {
	Module string
	Err    error
}

func (e *GraphError) Error() string {
	if e.Module == "" {
		return fmt.Sprintf("graph: %v", e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Module, e.Err)
}

func (e *GraphError) Unwrap() error { return e.Err }

// TransformError reports a transform that failed or timed out on a module.
// Line and Column are 1-based positions in the original source, zero when unknown.
type TransformError struct {
	Module    string
	Transform string
	Line      int
	Column    int
	Err       error
}

func (e *TransformError) Error() string {
	loc := e.Module
	if e.Line > 0 {
		loc = fmt.Sprintf("%s:%d:%d", e.Module, e.Line, e.Column)
	}
	return fmt.Sprintf("%s: transform %s: %v", loc, e.Transform, e.Err)
}

func (e *TransformError) Unwrap() error { return e.Err }

// PlanError reports an output mode that cannot be satisfied by the graph.
type PlanError struct {
	Mode   string
	Reason string
}

func (e *PlanError) Error() string {
	return fmt.Sprintf("plan %s: %s", e.Mode, e.Reason)
}

// EmitError reports an I/O failure while writing build output.
type EmitError struct {
	Path string
	Err  error
}

func (e *EmitError) Error() string {
	return fmt.Sprintf("emit %s: %v", e.Path, e.Err)
}

func (e *EmitError) Unwrap() error { return e.Err }

// KindOf returns the Kind of err, or "" for errors outside the taxonomy.
func KindOf(err error) Kind {
	var (
		re *ResolutionError
		ge *GraphError
		te *TransformError
		pe *PlanError
		ee *EmitError
	)
	switch {
	case errors.As(err, &re):
		return KindResolution
	case errors.As(err, &te):
		return KindTransform
	case errors.As(err, &ge):
		return KindGraph
	case errors.As(err, &pe):
		return KindPlan
	case errors.As(err, &ee):
		return KindEmit
	}
	return ""
}

// kindRank orders kinds by pipeline stage; errors outside the taxonomy sort last.
var kindRank = map[Kind]int{
	KindResolution: 0,
	KindGraph:      1,
	KindTransform:  2,
	KindPlan:       3,
	KindEmit:       4,
	"":             5,
}

// ModuleOf returns the module a failure is attributed to, or "" when it
// has none.
func ModuleOf(err error) string {
	var (
		re *ResolutionError
		ge *GraphError
		te *TransformError
		ee *EmitError
	)
	switch {
	case errors.As(err, &re):
		return re.Module
	case errors.As(err, &te):
		return te.Module
	case errors.As(err, &ge):
		return ge.Module
	case errors.As(err, &ee):
		return ee.Path
	}
	return ""
}

type key struct {
	kind   Kind
	module string
	detail string
}

func keyOf(err error) key {
	return key{kind: KindOf(err), module: ModuleOf(err), detail: err.Error()}
}

func (k key) less(o key) bool {
	if k.kind != o.kind {
		return kindRank[k.kind] < kindRank[o.kind]
	}
	if k.module != o.module {
		return k.module < o.module
	}
	return k.detail < o.detail
}

// List aggregates the independent failures of one build generation.
type List []error

// Add appends err unless a failure with the same kind, module and detail
// is already present.
func (l *List) Add(err error) {
	if err == nil {
		return
	}
	if other, ok := err.(List); ok {
		for _, e := range other {
			l.Add(e)
		}
		return
	}
	k := keyOf(err)
	for _, existing := range *l {
		if keyOf(existing) == k {
			return
		}
	}
	*l = append(*l, err)
}

// Sort orders the list by kind, then module, then detail so reports are
// stable across runs.
func (l List) Sort() {
	sort.SliceStable(l, func(i, j int) bool { return keyOf(l[i]).less(keyOf(l[j])) })
}

// Err returns nil for an empty list and the list itself otherwise.
func (l List) Err() error {
	if len(l) == 0 {
		return nil
	}
	l.Sort()
	return l
}

func (l List) Error() string {
	switch len(l) {
	case 0:
		return "no errors"
	case 1:
		return l[0].Error()
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%d errors:", len(l))
	for _, err := range l {
		b.WriteString("\n  ")
		b.WriteString(err.Error())
	}
	return b.String()
}

// Unwrap exposes the members to errors.Is and errors.As.
func (l List) Unwrap() []error { return l }

// Flatten returns the members of err if it is a List, or err alone.
func Flatten(err error) []error {
	if err == nil {
		return nil
	}
	var l List
	if errors.As(err, &l) {
		return l
	}
	return []error{err}
}
