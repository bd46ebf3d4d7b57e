package flowgraph

import (
	"fmt"
	"maps"
	"slices"
	"strings"
)

// Topology is the shape of a compiled graph, independent of its state type.
type Topology struct {
	Name  string         `json:"name,omitempty"`
	Entry string         `json:"entry"`
	Nodes []TopologyNode `json:"nodes"`
}

// TopologyNode is one node and its edges. Routes is set for conditional
// nodes and maps route names to targets; Next lists every target either way.
type TopologyNode struct {
	ID        string            `json:"id"`
	Interrupt bool              `json:"interrupt,omitempty"`
	Next      []string          `json:"next"`
	Routes    map[string]string `json:"routes,omitempty"`
	From      []string          `json:"from,omitempty"`
}

// Topology describes the graph's nodes in ID order.
func (cg *CompiledGraph[S]) Topology() Topology {
	t := Topology{Name: cg.graphName, Entry: cg.EntryPoint()}
	for _, id := range cg.NodeIDs() {
		n := TopologyNode{
			ID:        id,
			Interrupt: cg.IsInterrupt(id),
			Next:      cg.Successors(id),
			From:      cg.Predecessors(id),
		}
		if cg.IsConditional(id) {
			n.Routes = cg.Routes(id)
		}
		t.Nodes = append(t.Nodes, n)
	}
	return t
}

// Mermaid renders t as a flowchart. Interrupt nodes are drawn as hexagons
// and conditional edges carry their route name.
func (t Topology) Mermaid() string {
	var b strings.Builder
	b.WriteString("flowchart TD\n")
	fmt.Fprintf(&b, "    __start__((start)) --> %s\n", t.Entry)
	for _, n := range t.Nodes {
		if n.Interrupt {
			fmt.Fprintf(&b, "    %s{{%s}}\n", n.ID, n.ID)
		} else {
			fmt.Fprintf(&b, "    %s[%s]\n", n.ID, n.ID)
		}
	}
	for _, n := range t.Nodes {
		if n.Routes == nil {
			for _, to := range n.Next {
				fmt.Fprintf(&b, "    %s --> %s\n", n.ID, mermaidID(to))
			}
			continue
		}
		for _, route := range slices.Sorted(maps.Keys(n.Routes)) {
			fmt.Fprintf(&b, "    %s -->|%s| %s\n", n.ID, route, mermaidID(n.Routes[route]))
		}
	}
	b.WriteString("    __end__((end))\n")
	return b.String()
}

func mermaidID(id string) string {
	if id == END {
		return "__end__"
	}
	return id
}
