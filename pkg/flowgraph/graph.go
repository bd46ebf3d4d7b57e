package flowgraph

import (
	"fmt"
	"maps"
	"strings"
	"sync"
)

// Graph collects nodes, edges and interrupt points for Compile. Methods
// chain and panic on programmer errors such as a nil node function;
// structural problems (unknown targets, missing entry, no path to END)
// are reported by Compile so edges may be added in any order.
//
//	compiled, err := flowgraph.NewGraph[Draft]().
//		AddNode("generate", generate).
//		AddNode("review", review).
//		AddEdge("generate", "review").
//		AddEdge("review", flowgraph.END).
//		SetEntry("generate").
//		InterruptBefore("review").
//		Compile(flowgraph.WithCheckpointer(store))
type Graph[S any] struct {
	mu           sync.RWMutex
	nodes        map[string]NodeFunc[S]
	edges        map[string][]string
	conditionals map[string]conditionalEdge[S]
	interrupts   map[string]bool
	entry        string
}

// NewGraph starts an empty graph. S must round-trip through encoding/json
// when the graph is compiled with a checkpointer.
func NewGraph[S any]() *Graph[S] {
	return &Graph[S]{
		nodes:        make(map[string]NodeFunc[S]),
		edges:        make(map[string][]string),
		conditionals: make(map[string]conditionalEdge[S]),
		interrupts:   make(map[string]bool),
	}
}

// checkNodeID panics unless id is non-empty, free of whitespace and not
// one of the reserved names (END, __end__, __interrupt__, any case).
func checkNodeID(id string) {
	switch {
	case id == "":
		panic("flowgraph: node ID cannot be empty")
	case strings.EqualFold(id, "end"), strings.EqualFold(id, END), strings.EqualFold(id, Interrupt):
		panic(fmt.Sprintf("flowgraph: node ID cannot be reserved word %q", id))
	case strings.ContainsAny(id, " \t\n\r"):
		panic("flowgraph: node ID cannot contain whitespace")
	}
}

// AddNode registers fn under id. A duplicate id panics.
func (g *Graph[S]) AddNode(id string, fn NodeFunc[S]) *Graph[S] {
	checkNodeID(id)
	if fn == nil {
		panic("flowgraph: node function cannot be nil")
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if _, exists := g.nodes[id]; exists {
		panic(fmt.Sprintf("flowgraph: duplicate node ID: %s", id))
	}
	g.nodes[id] = fn
	return g
}

// AddEdge routes from to a node or END unconditionally.
func (g *Graph[S]) AddEdge(from, to string) *Graph[S] {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.edges[from] = append(g.edges[from], to)
	return g
}

// AddConditionalEdge lets router pick the next hop out of from by route
// name; routes maps each name to a node or END. A name the router returns
// that routes does not map fails the run with ErrRouteNotMapped. A node
// with a conditional edge cannot also have simple edges.
func (g *Graph[S]) AddConditionalEdge(from string, router RouterFunc[S], routes map[string]string) *Graph[S] {
	if router == nil {
		panic("flowgraph: router function cannot be nil")
	}
	if len(routes) == 0 {
		panic("flowgraph: route table cannot be empty")
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	g.conditionals[from] = conditionalEdge[S]{router: router, routes: maps.Clone(routes)}
	return g
}

// SetEntry names the node a fresh run starts at.
func (g *Graph[S]) SetEntry(id string) *Graph[S] {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.entry = id
	return g
}

// InterruptBefore parks a thread before each listed node: the engine
// checkpoints the state, records the node as pending and stops. Resume
// re-enters exactly that node. Requires a checkpointer.
func (g *Graph[S]) InterruptBefore(ids ...string) *Graph[S] {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, id := range ids {
		g.interrupts[id] = true
	}
	return g
}
