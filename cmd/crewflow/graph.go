package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/randalmurphal/crewflow/pkg/director"
	"github.com/randalmurphal/crewflow/pkg/flowgraph"
	"github.com/randalmurphal/crewflow/pkg/flowgraph/llm"
	"github.com/randalmurphal/crewflow/pkg/research"
)

func graphCmd() *cobra.Command {
	var (
		format   string
		approval bool
	)
	cmd := &cobra.Command{
		Use:       "graph <director|research>",
		Short:     "Print a workflow's node graph",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"director", "research"},
		RunE: func(cmd *cobra.Command, args []string) error {
			topo, err := workflowTopology(args[0], approval)
			if err != nil {
				return err
			}
			return printTopology(cmd.OutOrStdout(), topo, format)
		},
	}
	cmd.Flags().StringVar(&format, "format", "mermaid", "output format (mermaid, table, json)")
	cmd.Flags().BoolVar(&approval, "approval", true, "show the director graph that parks for approval")
	return cmd
}

// workflowTopology compiles the named workflow against an offline client.
// Nothing runs, so the client and searcher are never called.
func workflowTopology(name string, approval bool) (flowgraph.Topology, error) {
	switch name {
	case "director":
		w, err := director.NewWorkflow(llm.NewMockClient())
		if err != nil {
			return flowgraph.Topology{}, err
		}
		return w.Topology(approval), nil
	case "research":
		noSearch := research.SearcherFunc(func(context.Context, string, int) []research.Evidence { return nil })
		w, err := research.NewWorkflow(llm.NewMockClient(), noSearch)
		if err != nil {
			return flowgraph.Topology{}, err
		}
		return w.Topology(), nil
	}
	return flowgraph.Topology{}, fmt.Errorf("unknown workflow %q (want director or research)", name)
}

func printTopology(w io.Writer, topo flowgraph.Topology, format string) error {
	switch format {
	case "mermaid":
		_, err := io.WriteString(w, topo.Mermaid())
		return err
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(topo)
	case "table":
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "NODE\tINTERRUPT\tNEXT\tFROM")
		for _, n := range topo.Nodes {
			id := n.ID
			if id == topo.Entry {
				id += " (entry)"
			}
			fmt.Fprintf(tw, "%s\t%t\t%s\t%s\n", id, n.Interrupt, strings.Join(n.Next, ","), strings.Join(n.From, ","))
		}
		return tw.Flush()
	}
	return fmt.Errorf("unknown format %q", format)
}
