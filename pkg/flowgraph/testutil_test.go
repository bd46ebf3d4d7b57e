package flowgraph

import (
	"context"
)

// Counter is the smallest useful state: one number nodes bump.
type Counter struct {
	Value int
}

// State carries a trail of visited nodes plus the flags routers read.
type State struct {
	Step     int
	Progress []string
	Output   string
	GoLeft   bool
	Approved bool
}

func testCtx() Context {
	return NewContext(context.Background())
}

func increment(_ Context, s Counter) (Counter, error) {
	s.Value++
	return s, nil
}

func passthrough[S any](_ Context, s S) (S, error) {
	return s, nil
}

// makeTrackingNode appends name to both the shared trail and the state.
func makeTrackingNode(name string, trail *[]string) NodeFunc[State] {
	return func(_ Context, s State) (State, error) {
		*trail = append(*trail, name)
		s.Progress = append(s.Progress, name)
		return s, nil
	}
}

func makeFailingNode(err error) NodeFunc[State] {
	return func(_ Context, s State) (State, error) { return s, err }
}

func makePanicNode(value any) NodeFunc[State] {
	return func(Context, State) (State, error) { panic(value) }
}

// reviewGraph is draft -> review -> publish, parked before review. Review
// sends the thread back to draft until Approved is set.
func reviewGraph(trail *[]string) *Graph[State] {
	approved := func(_ Context, s State) string {
		if s.Approved {
			return "approved"
		}
		return "rejected"
	}
	return NewGraph[State]().
		AddNode("draft", makeTrackingNode("draft", trail)).
		AddNode("review", makeTrackingNode("review", trail)).
		AddNode("publish", makeTrackingNode("publish", trail)).
		AddEdge("draft", "review").
		AddConditionalEdge("review", approved, map[string]string{"approved": "publish", "rejected": "draft"}).
		AddEdge("publish", END).
		SetEntry("draft").
		InterruptBefore("review")
}
