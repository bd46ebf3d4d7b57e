package flowgraph

import (
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"

	"github.com/randalmurphal/crewflow/pkg/flowgraph/checkpoint"
)

// compileConfig holds graph-level settings fixed at compile time.
type compileConfig struct {
	store     checkpoint.Store
	graphName string
}

// CompileOption configures a compiled graph.
type CompileOption func(*compileConfig)

// WithCheckpointer persists a checkpoint after every node so threads can be
// interrupted, inspected, updated, and resumed.
func WithCheckpointer(store checkpoint.Store) CompileOption {
	return func(c *compileConfig) {
		c.store = store
	}
}

// WithGraphName names the graph in traces. Default "flowgraph".
func WithGraphName(name string) CompileOption {
	return func(c *compileConfig) {
		if name != "" {
			c.graphName = name
		}
	}
}

// Compile validates the graph and creates an executable CompiledGraph.
// Returns an error if validation fails. Multiple errors are joined together.
//
// Validation checks:
//  1. Entry point must be set and reference an existing node
//  2. All edge sources and targets must reference existing nodes or END
//  3. Every route table target must reference an existing node or END
//  4. A node has at most one simple edge, and not both kinds
//  5. Interrupt nodes must exist and need a checkpointer
//  6. The entry must have a path to END
//
// Unreachable nodes (not reachable from entry) are logged as warnings
// but do not cause compilation to fail.
func (g *Graph[S]) Compile(opts ...CompileOption) (*CompiledGraph[S], error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	cfg := compileConfig{graphName: "flowgraph"}
	for _, opt := range opts {
		opt(&cfg)
	}

	var errs []error

	if g.entry == "" {
		errs = append(errs, ErrNoEntryPoint)
	} else if _, exists := g.nodes[g.entry]; !exists {
		errs = append(errs, fmt.Errorf("%w: %s", ErrEntryNotFound, g.entry))
	}

	for _, from := range slices.Sorted(maps.Keys(g.edges)) {
		targets := g.edges[from]
		if _, exists := g.nodes[from]; !exists {
			errs = append(errs, fmt.Errorf("%w: edge source '%s' does not exist", ErrNodeNotFound, from))
		}
		if len(targets) > 1 {
			errs = append(errs, fmt.Errorf("%w: %s -> %v", ErrMultipleEdges, from, targets))
		}
		if _, hasConditional := g.conditionals[from]; hasConditional {
			errs = append(errs, fmt.Errorf("%w: %s", ErrConflictingEdges, from))
		}
		for _, to := range targets {
			if !g.isTarget(to) {
				errs = append(errs, fmt.Errorf("%w: edge target '%s' does not exist", ErrNodeNotFound, to))
			}
		}
	}

	for _, from := range slices.Sorted(maps.Keys(g.conditionals)) {
		if _, exists := g.nodes[from]; !exists {
			errs = append(errs, fmt.Errorf("%w: conditional edge source '%s' does not exist", ErrNodeNotFound, from))
		}
		routes := g.conditionals[from].routes
		for _, name := range slices.Sorted(maps.Keys(routes)) {
			if !g.isTarget(routes[name]) {
				errs = append(errs, fmt.Errorf("%w: route %q from '%s' targets '%s'",
					ErrNodeNotFound, name, from, routes[name]))
			}
		}
	}

	for _, id := range slices.Sorted(maps.Keys(g.interrupts)) {
		if _, exists := g.nodes[id]; !exists {
			errs = append(errs, fmt.Errorf("%w: interrupt node '%s' does not exist", ErrNodeNotFound, id))
		}
	}
	if len(g.interrupts) > 0 && cfg.store == nil {
		errs = append(errs, fmt.Errorf("%w: interrupt points need WithCheckpointer", ErrNoCheckpointer))
	}

	if _, exists := g.nodes[g.entry]; exists && !g.hasPathToEnd() {
		errs = append(errs, ErrNoPathToEnd)
	}

	g.warnUnreachableNodes()

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	return g.buildCompiledGraph(cfg), nil
}

// isTarget reports whether id is a valid edge target.
func (g *Graph[S]) isTarget(id string) bool {
	if id == END {
		return true
	}
	_, exists := g.nodes[id]
	return exists
}

// successorsOf returns every node an edge or route can lead to from id.
func (g *Graph[S]) successorsOf(id string) []string {
	if ce, ok := g.conditionals[id]; ok {
		return slices.Collect(maps.Values(ce.routes))
	}
	return g.edges[id]
}

// hasPathToEnd checks if there's a path from entry to END.
// Route tables make conditional targets known, so this is exact reachability.
func (g *Graph[S]) hasPathToEnd() bool {
	canReachEnd := map[string]bool{END: true}

	changed := true
	for changed {
		changed = false
		for id := range g.nodes {
			if canReachEnd[id] {
				continue
			}
			for _, to := range g.successorsOf(id) {
				if canReachEnd[to] {
					canReachEnd[id] = true
					changed = true
					break
				}
			}
		}
	}

	return canReachEnd[g.entry]
}

// warnUnreachableNodes logs warnings for nodes not reachable from entry.
func (g *Graph[S]) warnUnreachableNodes() {
	if g.entry == "" {
		return
	}

	reachable := g.findReachableNodes()
	for nodeID := range g.nodes {
		if !reachable[nodeID] {
			slog.Warn("node is unreachable from entry", "node_id", nodeID)
		}
	}
}

// findReachableNodes returns the set of nodes reachable from the entry point.
func (g *Graph[S]) findReachableNodes() map[string]bool {
	reachable := make(map[string]bool)
	if g.entry == "" {
		return reachable
	}

	queue := []string{g.entry}
	reachable[g.entry] = true

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		for _, target := range g.successorsOf(current) {
			if target != END && !reachable[target] {
				reachable[target] = true
				queue = append(queue, target)
			}
		}
	}

	return reachable
}

// buildCompiledGraph creates the immutable CompiledGraph from the builder state.
func (g *Graph[S]) buildCompiledGraph(cfg compileConfig) *CompiledGraph[S] {
	nodes := maps.Clone(g.nodes)

	edges := make(map[string]string, len(g.edges))
	for from, targets := range g.edges {
		edges[from] = targets[0]
	}

	conditionalEdges := make(map[string]conditionalEdge[S], len(g.conditionals))
	for from, ce := range g.conditionals {
		conditionalEdges[from] = conditionalEdge[S]{router: ce.router, routes: maps.Clone(ce.routes)}
	}

	successors := make(map[string][]string)
	predecessors := make(map[string][]string)
	for id := range nodes {
		targets := slices.Clone(g.successorsOf(id))
		slices.Sort(targets)
		targets = slices.Compact(targets)
		successors[id] = targets
		for _, to := range targets {
			if to != END {
				predecessors[to] = append(predecessors[to], id)
			}
		}
	}
	for to := range predecessors {
		slices.Sort(predecessors[to])
	}

	return &CompiledGraph[S]{
		nodes:            nodes,
		edges:            edges,
		conditionalEdges: conditionalEdges,
		interrupts:       maps.Clone(g.interrupts),
		entryPoint:       g.entry,
		successors:       successors,
		predecessors:     predecessors,
		store:            cfg.store,
		graphName:        cfg.graphName,
	}
}
