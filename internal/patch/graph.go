package patch

import (
	"github.com/zboralski/lattice"
)

// Graph builds the transform dependency graph. Each transform becomes a
// node; each After entry becomes an edge from the dependency to the
// transform that needs it.
func Graph(transforms []Transform) *lattice.Graph {
	g := &lattice.Graph{}
	for _, t := range transforms {
		g.Nodes = append(g.Nodes, t.Name)
		for _, dep := range t.After {
			g.Edges = append(g.Edges, lattice.Edge{
				Caller: dep,
				Callee: t.Name,
			})
		}
	}
	g.Dedup()
	return g
}
