// Package graph holds the module dependency graph and the builder that
// discovers it from entry points.
package graph

import (
	"fmt"
	"path/filepath"

	"github.com/fluxbase-eu/fluxpack/internal/builderr"
	"github.com/fluxbase-eu/fluxpack/internal/sourcemap"
)

// ModuleID is the canonical identity of a resolved module: an absolute,
// cleaned path plus an optional variant taken from a query suffix.
type ModuleID struct {
	Path    string
	Variant string
}

func (id ModuleID) String() string {
	if id.Variant == "" {
		return id.Path
	}
	return id.Path + "?" + id.Variant
}

// Rel renders the identity relative to root with forward slashes.
func (id ModuleID) Rel(root string) string {
	p := id.Path
	if rel, err := filepath.Rel(root, id.Path); err == nil {
		p = rel
	}
	p = filepath.ToSlash(p)
	if id.Variant != "" {
		p += "?" + id.Variant
	}
	return p
}

// Dependency is one import edge of a module.
type Dependency struct {
	Specifier string
	ID        ModuleID
	// Cyclic marks an edge that closes a cycle; the emitter binds it lazily.
	Cyclic bool
}

// ModuleRecord is one module of a build generation. It is written by the
// builder when the module is first processed and not modified afterwards.
type ModuleRecord struct {
	ID           ModuleID
	RawSource    []byte
	Hash         uint64
	Specifiers   []string
	Dependencies []Dependency
	Transformed  []byte
	Mapping      sourcemap.Mapping
	// Generation is the build generation that last transformed this module.
	Generation uint64
}

// Stale reports whether the record must be re-read and re-transformed for
// generation gen given the set of changed paths.
func (r *ModuleRecord) Stale(gen uint64, changed map[string]bool) bool {
	return r.Generation < gen && changed[r.ID.Path]
}

// Graph maps module identities to their records.
type Graph struct {
	Modules    map[ModuleID]*ModuleRecord
	Entries    []ModuleID
	Generation uint64
}

// New creates an empty graph for a generation.
func New(gen uint64) *Graph {
	return &Graph{
		Modules:    make(map[ModuleID]*ModuleRecord),
		Generation: gen,
	}
}

// Order returns every reachable module in first-discovery order: a
// breadth-first walk from the entries in configured order, visiting each
// module's dependencies in import order.
func (g *Graph) Order() []ModuleID {
	seen := make(map[ModuleID]bool, len(g.Modules))
	order := make([]ModuleID, 0, len(g.Modules))
	queue := make([]ModuleID, 0, len(g.Entries))
	for _, e := range g.Entries {
		if !seen[e] {
			seen[e] = true
			queue = append(queue, e)
		}
	}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		rec, ok := g.Modules[id]
		if !ok {
			continue
		}
		order = append(order, id)
		for _, dep := range rec.Dependencies {
			if !seen[dep.ID] {
				seen[dep.ID] = true
				queue = append(queue, dep.ID)
			}
		}
	}
	return order
}

// Validate checks that every dependency edge points at a module in the graph.
func (g *Graph) Validate() error {
	var errs builderr.List
	for _, id := range g.Order() {
		for _, dep := range g.Modules[id].Dependencies {
			if _, ok := g.Modules[dep.ID]; !ok {
				errs.Add(&builderr.GraphError{
					Module: id.String(),
					Err:    fmt.Errorf("dangling dependency %q -> %s", dep.Specifier, dep.ID),
				})
			}
		}
	}
	for _, e := range g.Entries {
		if _, ok := g.Modules[e]; !ok {
			errs.Add(&builderr.GraphError{Module: e.String(), Err: fmt.Errorf("entry missing from graph")})
		}
	}
	return errs.Err()
}

// tagCycles marks every edge that closes a cycle. It walks depth-first from
// the entries in order, visiting dependencies in import order, and tags an
// edge whose target is still on the walk stack. The result depends only on
// the graph contents, so identical inputs tag identical edges.
func (g *Graph) tagCycles() {
	const (
		unvisited = iota
		onStack
		done
	)
	state := make(map[ModuleID]int, len(g.Modules))

	var visit func(id ModuleID)
	visit = func(id ModuleID) {
		rec, ok := g.Modules[id]
		if !ok {
			return
		}
		state[id] = onStack
		for i := range rec.Dependencies {
			dep := &rec.Dependencies[i]
			switch state[dep.ID] {
			case onStack:
				dep.Cyclic = true
			case unvisited:
				dep.Cyclic = false
				visit(dep.ID)
			default:
				dep.Cyclic = false
			}
		}
		state[id] = done
	}

	for _, e := range g.Entries {
		if state[e] == unvisited {
			visit(e)
		}
	}
}

// CyclicEdges returns the number of edges tagged as closing a cycle.
func (g *Graph) CyclicEdges() int {
	n := 0
	for _, rec := range g.Modules {
		for _, dep := range rec.Dependencies {
			if dep.Cyclic {
				n++
			}
		}
	}
	return n
}
