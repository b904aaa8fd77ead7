// Package planner groups the modules of a graph into output chunks and
// fixes the order in which they execute.
package planner

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/fluxbase-eu/fluxpack/internal/builderr"
	"github.com/fluxbase-eu/fluxpack/internal/config"
	"github.com/fluxbase-eu/fluxpack/internal/graph"
)

// Chunk is one output file.
type Chunk struct {
	// Name is the artifact file name.
	Name string
	// Entries are invoked, in order, when the chunk loads. Empty for a shared chunk.
	Entries []graph.ModuleID
	// Modules holds the chunk's modules in execution order.
	Modules []graph.ModuleID
	Shared  bool
}

// Plan is the output layout of one build generation.
type Plan struct {
	Mode string
	// Order is every module in execution order. A module's position is its
	// index in the emitted runtime table.
	Order  []graph.ModuleID
	Index  map[graph.ModuleID]int
	Chunks []Chunk
}

// New plans the output of g. filename names the single-file artifact and
// supplies the extension and stem for multi-chunk artifacts.
func New(g *graph.Graph, mode, filename string) (*Plan, error) {
	if len(g.Entries) == 0 {
		return nil, &builderr.PlanError{Mode: mode, Reason: "graph has no entries"}
	}

	order := ExecutionOrder(g)
	p := &Plan{
		Mode:  mode,
		Order: order,
		Index: make(map[graph.ModuleID]int, len(order)),
	}
	for i, id := range order {
		p.Index[id] = i
	}

	switch mode {
	case config.OutputSingleFile:
		p.Chunks = []Chunk{{
			Name:    filename,
			Entries: append([]graph.ModuleID(nil), g.Entries...),
			Modules: order,
		}}
	case config.OutputMultiChunk:
		chunks, err := splitChunks(g, order, filename)
		if err != nil {
			return nil, err
		}
		p.Chunks = chunks
	default:
		return nil, &builderr.PlanError{Mode: mode, Reason: "unknown output mode"}
	}
	return p, nil
}

// ExecutionOrder returns a depth-first postorder of the graph from its
// entries: every module follows the modules it imports, except across
// edges that close a cycle. Dependencies are visited in import order.
func ExecutionOrder(g *graph.Graph) []graph.ModuleID {
	visited := make(map[graph.ModuleID]bool, len(g.Modules))
	order := make([]graph.ModuleID, 0, len(g.Modules))

	var visit func(id graph.ModuleID)
	visit = func(id graph.ModuleID) {
		if visited[id] {
			return
		}
		visited[id] = true
		rec, ok := g.Modules[id]
		if !ok {
			return
		}
		for _, dep := range rec.Dependencies {
			if !dep.Cyclic {
				visit(dep.ID)
			}
		}
		order = append(order, id)
	}

	for _, e := range g.Entries {
		visit(e)
	}
	return order
}

// splitChunks gives every entry a chunk with the modules only it reaches
// and collects modules reached from several entries into a shared chunk.
func splitChunks(g *graph.Graph, order []graph.ModuleID, filename string) ([]Chunk, error) {
	if len(g.Entries) < 2 {
		return nil, &builderr.PlanError{
			Mode:   config.OutputMultiChunk,
			Reason: fmt.Sprintf("needs at least two entries to split, got %d", len(g.Entries)),
		}
	}

	reach := make(map[graph.ModuleID]int, len(order))
	owner := make(map[graph.ModuleID]int, len(order))
	for i, e := range g.Entries {
		for id := range reachable(g, e) {
			reach[id]++
			owner[id] = i
		}
	}

	ext := filepath.Ext(filename)
	if ext == "" {
		ext = ".js"
	}
	stem := strings.TrimSuffix(filename, filepath.Ext(filename))

	chunks := make([]Chunk, len(g.Entries))
	used := make(map[string]int)
	for i, e := range g.Entries {
		base := strings.TrimSuffix(filepath.Base(e.Path), filepath.Ext(e.Path))
		name := base + ext
		if n := used[base]; n > 0 {
			name = fmt.Sprintf("%s-%d%s", base, n+1, ext)
		}
		used[base]++
		chunks[i] = Chunk{Name: name, Entries: []graph.ModuleID{e}}
	}

	shared := Chunk{Name: stem + ".shared" + ext, Shared: true}
	for _, id := range order {
		if reach[id] > 1 {
			shared.Modules = append(shared.Modules, id)
			continue
		}
		c := &chunks[owner[id]]
		c.Modules = append(c.Modules, id)
	}

	return append([]Chunk{shared}, chunks...), nil
}

func reachable(g *graph.Graph, from graph.ModuleID) map[graph.ModuleID]bool {
	seen := map[graph.ModuleID]bool{from: true}
	stack := []graph.ModuleID{from}
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		rec, ok := g.Modules[id]
		if !ok {
			continue
		}
		for _, dep := range rec.Dependencies {
			if !seen[dep.ID] {
				seen[dep.ID] = true
				stack = append(stack, dep.ID)
			}
		}
	}
	return seen
}
