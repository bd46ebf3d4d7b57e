package research

import (
	"context"
	"iter"
	"strings"
)

// EventType names a progress event of a streamed research run.
type EventType string

// Event types. A stream ends with research_complete or research_error.
const (
	EventStart    EventType = "research_start"
	EventSearch   EventType = "search_complete"
	EventWriting  EventType = "writing"
	EventComplete EventType = "research_complete"
	EventError    EventType = "research_error"
)

// Terminal reports whether no event follows t.
func (t EventType) Terminal() bool {
	return t == EventComplete || t == EventError
}

// Event is one progress notice of a streamed run.
type Event struct {
	Type          EventType `json:"type"`
	Question      string    `json:"question,omitempty"`
	MaxLoops      int       `json:"max_loops,omitempty"`
	LoopCount     int       `json:"loop_count,omitempty"`
	LatestQuery   string    `json:"latest_query,omitempty"`
	TotalSources  int       `json:"total_sources,omitempty"`
	IsSufficient  bool      `json:"is_sufficient,omitempty"`
	Message       string    `json:"message,omitempty"`
	Success       bool      `json:"success,omitempty"`
	Answer        string    `json:"answer,omitempty"`
	SearchQueries []string  `json:"search_queries,omitempty"`
	Sources       []Source  `json:"sources,omitempty"`
	Error         string    `json:"error,omitempty"`
}

// Stream researches question, reporting each pass. Breaking out of the
// loop stops the run after the current node.
func (w *Workflow) Stream(ctx context.Context, question string) iter.Seq[Event] {
	return func(yield func(Event) bool) {
		if strings.TrimSpace(question) == "" {
			yield(Event{Type: EventError, Error: "question must not be empty"})
			return
		}

		q := question
		if len([]rune(q)) > 100 {
			q = truncate(q, 100) + "..."
		}
		if !yield(Event{Type: EventStart, Question: q, MaxLoops: w.cfg.maxLoops}) {
			return
		}

		var final State
		for step, err := range w.steps(ctx, question) {
			if err != nil {
				yield(Event{Type: EventError, Error: err.Error()})
				return
			}
			final = step.State

			if step.Node != NodeResearcher {
				continue
			}
			s := step.State
			if !yield(Event{
				Type:         EventSearch,
				LoopCount:    s.LoopCount,
				LatestQuery:  s.LatestQuery(),
				TotalSources: len(s.Evidence),
				IsSufficient: s.IsSufficient,
			}) {
				return
			}
			if afterResearch(nil, s) == routeWrite {
				if !yield(Event{Type: EventWriting, Message: "writing the answer from the gathered information"}) {
					return
				}
			}
		}

		if final.FinalAnswer == "" {
			yield(Event{Type: EventError, Error: ErrNoAnswer.Error()})
			return
		}
		r := resultOf(final)
		yield(Event{
			Type:          EventComplete,
			Success:       true,
			Answer:        r.Answer,
			SearchQueries: r.SearchQueries,
			Sources:       r.Sources,
			LoopCount:     r.LoopCount,
		})
	}
}
