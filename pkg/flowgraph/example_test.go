package flowgraph_test

import (
	"context"
	"fmt"
	"strings"

	"github.com/randalmurphal/crewflow/pkg/flowgraph"
	"github.com/randalmurphal/crewflow/pkg/flowgraph/checkpoint"
)

type memo struct {
	Task     string
	Draft    string
	Score    int
	Approved bool
	Output   string
}

func Example() {
	graph := flowgraph.NewGraph[memo]().
		AddNode("draft", func(_ flowgraph.Context, m memo) (memo, error) {
			m.Draft = "Draft: " + m.Task
			return m, nil
		}).
		AddNode("publish", func(_ flowgraph.Context, m memo) (memo, error) {
			m.Output = strings.ToUpper(m.Draft)
			return m, nil
		}).
		AddEdge("draft", "publish").
		AddEdge("publish", flowgraph.END).
		SetEntry("draft")

	compiled, err := graph.Compile()
	if err != nil {
		fmt.Println("compile:", err)
		return
	}

	result, err := compiled.Run(flowgraph.NewContext(context.Background()), memo{Task: "launch note"})
	if err != nil {
		fmt.Println("run:", err)
		return
	}
	fmt.Println(result.Output)
	// Output: DRAFT: LAUNCH NOTE
}

func ExampleGraph_AddConditionalEdge() {
	graph := flowgraph.NewGraph[memo]().
		AddNode("generate", func(_ flowgraph.Context, m memo) (memo, error) {
			m.Score += 30
			return m, nil
		}).
		AddNode("finalize", func(_ flowgraph.Context, m memo) (memo, error) {
			m.Output = fmt.Sprintf("final at score %d", m.Score)
			return m, nil
		}).
		AddConditionalEdge("generate", func(_ flowgraph.Context, m memo) string {
			if m.Score >= 80 {
				return "pass"
			}
			return "revise"
		}, map[string]string{"revise": "generate", "pass": "finalize"}).
		AddEdge("finalize", flowgraph.END).
		SetEntry("generate")

	compiled, err := graph.Compile()
	if err != nil {
		fmt.Println("compile:", err)
		return
	}

	for step, err := range compiled.Stream(flowgraph.NewContext(context.Background()), memo{}).All() {
		if err != nil {
			fmt.Println("run:", err)
			return
		}
		fmt.Printf("%s score=%d\n", step.Node, step.State.Score)
	}
	// Output:
	// generate score=30
	// generate score=60
	// generate score=90
	// finalize score=90
}

func ExampleCompiledGraph_Resume() {
	graph := flowgraph.NewGraph[memo]().
		AddNode("draft", func(_ flowgraph.Context, m memo) (memo, error) {
			m.Draft = "Draft: " + m.Task
			return m, nil
		}).
		AddNode("review", func(_ flowgraph.Context, m memo) (memo, error) {
			if m.Approved {
				m.Output = m.Draft
			}
			return m, nil
		}).
		AddEdge("draft", "review").
		AddEdge("review", flowgraph.END).
		SetEntry("draft").
		InterruptBefore("review")

	compiled, err := graph.Compile(flowgraph.WithCheckpointer(checkpoint.NewMemoryStore()))
	if err != nil {
		fmt.Println("compile:", err)
		return
	}
	ctx := flowgraph.NewContext(context.Background())

	if _, err := compiled.Run(ctx, memo{Task: "pricing update"}, flowgraph.WithThreadID("director-1")); err != nil {
		fmt.Println("run:", err)
		return
	}
	snap, _ := compiled.GetState(ctx, "director-1")
	fmt.Println("parked before:", snap.Next)

	// A reviewer approves the parked draft.
	if _, err := compiled.UpdateState(ctx, "director-1", func(m memo) memo {
		m.Approved = true
		return m
	}); err != nil {
		fmt.Println("update:", err)
		return
	}

	result, err := compiled.Resume(ctx, "director-1")
	if err != nil {
		fmt.Println("resume:", err)
		return
	}
	snap, _ = compiled.GetState(ctx, "director-1")
	fmt.Println(result.Output)
	fmt.Println("parked:", snap.Parked())
	// Output:
	// parked before: [review]
	// Draft: pricing update
	// parked: false
}
