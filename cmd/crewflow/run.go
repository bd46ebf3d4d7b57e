package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/randalmurphal/crewflow/pkg/director"
	"github.com/randalmurphal/crewflow/pkg/research"
)

type runFlags struct {
	persona      director.Persona
	maxRevisions int
	approval     bool
	outputKind   string
	jsonOut      bool
}

func runCmd(g *globalFlags) *cobra.Command {
	var f runFlags
	cmd := &cobra.Command{
		Use:   "run <task>",
		Short: "Run the director on a task and stream its progress",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, g, func(ctx context.Context, a *app) error {
				if f.maxRevisions == 0 {
					f.maxRevisions = a.settings.Director.MaxRevisions
				}
				return runTask(ctx, cmd.OutOrStdout(), a.director, strings.Join(args, " "), f)
			})
		},
	}
	fl := cmd.Flags()
	fl.StringVar(&f.persona.Name, "persona", "", "persona name")
	fl.StringVar(&f.persona.Role, "role", "", "persona role")
	fl.StringVar(&f.persona.Description, "persona-description", "", "persona description")
	fl.IntVar(&f.maxRevisions, "max-revisions", 0, "revision cap (defaults to director.max_revisions)")
	fl.BoolVar(&f.approval, "approval", false, "park the run for human approval before output")
	fl.StringVar(&f.outputKind, "output", string(director.OutputNone), "output kind (none, slides, sheets, slack, email)")
	fl.BoolVar(&f.jsonOut, "json", false, "print events as JSON lines")
	return cmd
}

func researchCmd(g *globalFlags) *cobra.Command {
	var jsonOut bool
	cmd := &cobra.Command{
		Use:   "research <question>",
		Short: "Research a question and stream the search loop",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, g, func(ctx context.Context, a *app) error {
				return runResearch(ctx, cmd.OutOrStdout(), a.research, strings.Join(args, " "), jsonOut)
			})
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "print events as JSON lines")
	return cmd
}

// withApp builds the app for a one-shot command and closes it afterwards.
func withApp(cmd *cobra.Command, g *globalFlags, fn func(context.Context, *app) error) error {
	s, logger, err := g.load(cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	a, err := newApp(ctx, s, logger, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(context.Background()); err != nil {
			logger.Warn("close", slog.String("error", err.Error()))
		}
	}()
	return fn(ctx, a)
}

type directorStreamer interface {
	Stream(ctx context.Context, req director.StartRequest) iter.Seq[director.Event]
}

type researchStreamer interface {
	Stream(ctx context.Context, question string) iter.Seq[research.Event]
}

// runTask streams one director run to w. A run ending in an error event
// returns that error.
func runTask(ctx context.Context, w io.Writer, d directorStreamer, task string, f runFlags) error {
	req := director.StartRequest{
		Task:             task,
		Persona:          f.persona,
		MaxRevisions:     f.maxRevisions,
		RequiresApproval: f.approval,
		OutputKind:       director.OutputKind(f.outputKind),
	}

	var last director.Event
	for ev := range d.Stream(ctx, req) {
		last = ev
		if f.jsonOut {
			if err := writeJSONLine(w, ev); err != nil {
				return err
			}
			continue
		}
		printDirectorEvent(w, ev)
	}
	if last.Type == director.EventWorkflowError {
		return errors.New(last.Error)
	}
	return ctx.Err()
}

func printDirectorEvent(w io.Writer, ev director.Event) {
	switch ev.Type {
	case director.EventWorkflowStart:
		fmt.Fprintf(w, "> %s starts on %q (thread %s, up to %d revisions)\n", ev.Persona, ev.Task, ev.ThreadID, ev.MaxRevisions)
	case director.EventGenerationComplete:
		fmt.Fprintf(w, "  draft %d ready: %s\n", ev.RevisionCount, oneLine(ev.DraftPreview))
	case director.EventReflectionComplete:
		fmt.Fprintf(w, "  review: score %d, %s\n", ev.Score, oneLine(ev.Critique))
	case director.EventAwaitingApproval:
		fmt.Fprintf(w, "\nAwaiting approval on thread %s (score %d):\n\n%s\n", ev.ThreadID, ev.Score, ev.PendingOutput)
	case director.EventWorkflowComplete:
		fmt.Fprintf(w, "\n%s\n\n%s\n", ev.Message, ev.FinalResult)
	case director.EventWorkflowError:
		fmt.Fprintf(w, "! %s: %s\n", ev.Message, ev.Error)
	default:
		if ev.Message != "" {
			fmt.Fprintf(w, "  %s\n", ev.Message)
		}
	}
}

// runResearch streams one research run to w.
func runResearch(ctx context.Context, w io.Writer, r researchStreamer, question string, jsonOut bool) error {
	var last research.Event
	for ev := range r.Stream(ctx, question) {
		last = ev
		if jsonOut {
			if err := writeJSONLine(w, ev); err != nil {
				return err
			}
			continue
		}
		printResearchEvent(w, ev)
	}
	if last.Type == research.EventError {
		return errors.New(last.Error)
	}
	return ctx.Err()
}

func printResearchEvent(w io.Writer, ev research.Event) {
	switch ev.Type {
	case research.EventStart:
		fmt.Fprintf(w, "> researching %q (up to %d searches)\n", ev.Question, ev.MaxLoops)
	case research.EventSearch:
		fmt.Fprintf(w, "  search %d: %q, %d sources so far\n", ev.LoopCount, ev.LatestQuery, ev.TotalSources)
	case research.EventComplete:
		fmt.Fprintf(w, "\n%s\n", ev.Answer)
		if len(ev.Sources) > 0 {
			fmt.Fprintln(w, "\nSources:")
			for _, src := range ev.Sources {
				fmt.Fprintf(w, "  - %s <%s>\n", src.Title, src.URL)
			}
		}
	case research.EventError:
		fmt.Fprintf(w, "! research failed: %s\n", ev.Error)
	default:
		if ev.Message != "" {
			fmt.Fprintf(w, "  %s\n", ev.Message)
		}
	}
}

func writeJSONLine(w io.Writer, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "%s\n", data)
	return err
}

func oneLine(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if r := []rune(s); len(r) > 100 {
		return string(r[:100]) + "..."
	}
	return s
}
