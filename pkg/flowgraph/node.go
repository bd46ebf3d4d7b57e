package flowgraph

// Reserved node IDs. Neither may be passed to AddNode.
const (
	// END is the edge or route target that finishes a pass.
	END = "__end__"
	// Interrupt is Step.Node for the step a parked pass ends with. The node
	// waiting to run is in Step.Pending.
	Interrupt = "__interrupt__"
)

// NodeFunc turns one state into the next. State arrives by value: mutate the
// copy and return it.
//
//	func generate(ctx flowgraph.Context, d Draft) (Draft, error) {
//		text, err := client.Invoke(ctx, system, prompt(d))
//		if err != nil {
//			return d, err
//		}
//		d.Text, d.Revision = text, d.Revision+1
//		return d, nil
//	}
type NodeFunc[S any] func(ctx Context, state S) (S, error)

// RouterFunc names the route to take after a node. The route table given to
// AddConditionalEdge resolves the name to a node, so every target is checked
// by Compile.
type RouterFunc[S any] func(ctx Context, state S) string

type conditionalEdge[S any] struct {
	router RouterFunc[S]
	routes map[string]string
}
