package graph

import (
	"sort"

	graphlib "github.com/dominikbraun/graph"
)

// Cycles groups the modules that import each other, directly or
// transitively. Each group is sorted and the groups are sorted by their
// first member. Cycles are reported for diagnostics; they are not errors.
func (g *Graph) Cycles() [][]ModuleID {
	dg := graphlib.New(graphlib.StringHash, graphlib.Directed())

	byKey := make(map[string]ModuleID, len(g.Modules))
	for id := range g.Modules {
		key := id.String()
		byKey[key] = id
		_ = dg.AddVertex(key)
	}

	selfLoop := make(map[string]bool)
	for id, rec := range g.Modules {
		from := id.String()
		for _, dep := range rec.Dependencies {
			to := dep.ID.String()
			if from == to {
				selfLoop[from] = true
				continue
			}
			// Duplicate edges are reported as errors and can be ignored.
			_ = dg.AddEdge(from, to)
		}
	}

	sccs, err := graphlib.StronglyConnectedComponents(dg)
	if err != nil {
		return nil
	}

	var groups [][]ModuleID
	for _, scc := range sccs {
		if len(scc) < 2 && !selfLoop[scc[0]] {
			continue
		}
		sort.Strings(scc)
		group := make([]ModuleID, len(scc))
		for i, key := range scc {
			group[i] = byKey[key]
		}
		groups = append(groups, group)
	}

	sort.Slice(groups, func(i, j int) bool {
		return groups[i][0].String() < groups[j][0].String()
	})
	return groups
}
