package director

import (
	"context"
	"fmt"
	"iter"

	"github.com/randalmurphal/crewflow/pkg/flowgraph"
)

// EventType names a progress event of a streamed run.
type EventType string

// Event types. Every stream ends with exactly one of workflow_complete,
// awaiting_approval or workflow_error.
const (
	EventWorkflowStart      EventType = "workflow_start"
	EventGenerationStart    EventType = "generation_start"
	EventGenerationComplete EventType = "generation_complete"
	EventReflectionComplete EventType = "reflection_complete"
	EventRevisionStart      EventType = "revision_start"
	EventAwaitingApproval   EventType = "awaiting_approval"
	EventWorkflowComplete   EventType = "workflow_complete"
	EventWorkflowError      EventType = "workflow_error"
)

// Terminal reports whether no event follows t.
func (t EventType) Terminal() bool {
	switch t {
	case EventAwaitingApproval, EventWorkflowComplete, EventWorkflowError:
		return true
	}
	return false
}

// Event is one progress notice of a streamed run.
type Event struct {
	Type          EventType `json:"type"`
	ThreadID      string    `json:"thread_id,omitempty"`
	Persona       string    `json:"persona,omitempty"`
	Task          string    `json:"task,omitempty"`
	MaxRevisions  int       `json:"max_revisions,omitempty"`
	RevisionCount int       `json:"revision_count,omitempty"`
	DraftPreview  string    `json:"draft_preview,omitempty"`
	Score         int       `json:"score,omitempty"`
	Critique      string    `json:"critique,omitempty"`
	IsComplete    bool      `json:"is_complete,omitempty"`
	PendingOutput string    `json:"pending_output,omitempty"`
	FinalResult   string    `json:"final_result,omitempty"`
	Success       bool      `json:"success,omitempty"`
	Message       string    `json:"message,omitempty"`
	Error         string    `json:"error,omitempty"`
}

// Stream runs a new thread and reports progress as it goes. Breaking out
// of the loop stops the run after the current node.
func (w *Workflow) Stream(ctx context.Context, req StartRequest) iter.Seq[Event] {
	return func(yield func(Event) bool) {
		s, err := w.initialState(req)
		if err != nil {
			yield(Event{Type: EventWorkflowError, Error: err.Error(), Message: "invalid request"})
			return
		}
		name := s.Persona.Name
		if name == "" {
			name = DefaultPersona.Name
		}

		if !yield(Event{
			Type:         EventWorkflowStart,
			ThreadID:     s.ThreadID,
			Persona:      name,
			Task:         preview(s.Task, 100),
			MaxRevisions: s.MaxRevisions,
		}) {
			return
		}
		if !yield(Event{
			Type:     EventGenerationStart,
			ThreadID: s.ThreadID,
			Persona:  name,
			Message:  name + " is drafting",
		}) {
			return
		}

		stopped := false
		onStep := func(step flowgraph.Step[State]) bool {
			for _, ev := range stepEvents(step.Node, step.State, name) {
				if !yield(ev) {
					stopped = true
					return false
				}
			}
			return true
		}

		stream := w.graphFor(s).Stream(w.engineContext(ctx, s.ThreadID), s, w.runOptions(s.ThreadID)...)
		final, parked, err := w.drive(ctx, s.ThreadID, s, stream, onStep)
		switch {
		case stopped:
			return
		case err != nil:
			yield(Event{
				Type:     EventWorkflowError,
				ThreadID: s.ThreadID,
				Persona:  name,
				Error:    err.Error(),
				Message:  "run failed",
			})
		case parked:
			yield(Event{
				Type:          EventAwaitingApproval,
				ThreadID:      s.ThreadID,
				Persona:       name,
				Score:         final.Score,
				Critique:      final.Critique,
				RevisionCount: final.RevisionCount,
				PendingOutput: final.PendingOutput,
				Success:       true,
				Message:       "waiting for a reviewer",
			})
		default:
			yield(Event{
				Type:          EventWorkflowComplete,
				ThreadID:      s.ThreadID,
				Persona:       name,
				Score:         final.Score,
				Critique:      final.Critique,
				RevisionCount: final.RevisionCount,
				FinalResult:   final.result(),
				IsComplete:    true,
				Success:       true,
				Message:       fmt.Sprintf("done: score %d after %d revision(s)", final.Score, final.RevisionCount),
			})
		}
	}
}

// stepEvents maps an executed node to the events it produces.
func stepEvents(node string, s State, persona string) []Event {
	switch node {
	case NodeGenerator:
		return []Event{{
			Type:          EventGenerationComplete,
			ThreadID:      s.ThreadID,
			Persona:       persona,
			RevisionCount: s.RevisionCount,
			DraftPreview:  preview(s.Draft, 200),
			Message:       fmt.Sprintf("%s finished draft %d", persona, s.RevisionCount),
		}}
	case NodeReflector:
		events := []Event{{
			Type:          EventReflectionComplete,
			ThreadID:      s.ThreadID,
			Score:         s.Score,
			Critique:      s.Critique,
			IsComplete:    s.IsComplete,
			RevisionCount: s.RevisionCount,
			Message:       fmt.Sprintf("director scored %d", s.Score),
		}}
		if !s.IsComplete {
			events = append(events, Event{
				Type:          EventRevisionStart,
				ThreadID:      s.ThreadID,
				Persona:       persona,
				Score:         s.Score,
				Critique:      s.Critique,
				RevisionCount: s.RevisionCount,
				Message:       fmt.Sprintf("score %d, %s is revising", s.Score, persona),
			})
		}
		return events
	}
	return nil
}
