package flowgraph

import (
	"maps"
	"slices"

	"github.com/randalmurphal/crewflow/pkg/flowgraph/checkpoint"
)

// CompiledGraph is the runnable form of a Graph. It never changes after
// Compile and may serve many threads at once. Two passes racing on one
// thread are settled by the store: the later write of a sequence fails with
// ErrSequenceConflict.
type CompiledGraph[S any] struct {
	nodes            map[string]NodeFunc[S]
	edges            map[string]string
	conditionalEdges map[string]conditionalEdge[S]
	interrupts       map[string]bool
	entryPoint       string

	successors   map[string][]string
	predecessors map[string][]string

	store     checkpoint.Store
	graphName string
}

func (cg *CompiledGraph[S]) EntryPoint() string { return cg.entryPoint }

// NodeIDs lists the graph's nodes in sorted order.
func (cg *CompiledGraph[S]) NodeIDs() []string {
	return slices.Sorted(maps.Keys(cg.nodes))
}

func (cg *CompiledGraph[S]) HasNode(id string) bool {
	_, ok := cg.nodes[id]
	return ok
}

// Successors lists, sorted and without duplicates, every target one step
// from id. A conditional node contributes its whole route table.
func (cg *CompiledGraph[S]) Successors(id string) []string {
	return slices.Clone(cg.successors[id])
}

// Predecessors lists the nodes with an edge or route into id.
func (cg *CompiledGraph[S]) Predecessors(id string) []string {
	return slices.Clone(cg.predecessors[id])
}

func (cg *CompiledGraph[S]) IsConditional(id string) bool {
	_, ok := cg.conditionalEdges[id]
	return ok
}

// Routes copies the route table of a conditional node, or returns nil.
func (cg *CompiledGraph[S]) Routes(id string) map[string]string {
	if ce, ok := cg.conditionalEdges[id]; ok {
		return maps.Clone(ce.routes)
	}
	return nil
}

// IsInterrupt reports whether passes park before id.
func (cg *CompiledGraph[S]) IsInterrupt(id string) bool { return cg.interrupts[id] }
