package research

import (
	"context"
	"log/slog"
	"slices"
	"time"

	"github.com/randalmurphal/crewflow/pkg/flowgraph"
	"github.com/randalmurphal/crewflow/pkg/flowgraph/llm"
)

// Route names.
const (
	routeSearch = "search"
	routeWrite  = "write"
)

type nodes struct {
	client     llm.Client
	searcher   Searcher
	maxResults int
	loopDelay  time.Duration
	writeDelay time.Duration
}

// research decides whether to search again and, if so, searches.
// LoopCount grows by exactly one on every path.
func (n *nodes) research(ctx flowgraph.Context, s State) (State, error) {
	logger := ctx.Logger().With(slog.Int("loop", s.LoopCount+1), slog.Int("max_loops", s.MaxLoops))
	logger.Info("research pass starting")

	if s.LoopCount > 0 {
		if err := sleep(ctx, n.loopDelay); err != nil {
			return s, err
		}
	}

	s.LoopCount++

	text, err := n.client.Invoke(ctx, researcherSystem, []llm.Message{llm.UserMessage(researcherPrompt(s))})
	if err == nil {
		var d decision
		if d, err = parseDecision(text); err == nil {
			if d.IsSufficient || d.NextQuery == "" {
				logger.Info("evidence sufficient", slog.String("reasoning", truncate(d.Reasoning, 200)))
				s.IsSufficient = true
				return s, nil
			}

			logger.Info("searching", slog.String("query", d.NextQuery))
			hits := n.searcher.Search(ctx, d.NextQuery, n.maxResults)
			s.SearchQueries = append(slices.Clone(s.SearchQueries), d.NextQuery)
			s.Evidence = append(slices.Clone(s.Evidence), hits...)
			s.IsSufficient = false
			return s, nil
		}
	}

	if ctx.Err() != nil {
		return s, ctx.Err()
	}
	logger.Error("research pass failed, writing with current evidence", slog.String("error", err.Error()))
	s.IsSufficient = true
	return s, nil
}

// afterResearch loops until the evidence suffices or the cap is reached.
func afterResearch(_ flowgraph.Context, s State) string {
	if s.IsSufficient || s.LoopCount >= s.MaxLoops {
		return routeWrite
	}
	return routeSearch
}

// write composes the final answer.
func (n *nodes) write(ctx flowgraph.Context, s State) (State, error) {
	logger := ctx.Logger()
	logger.Info("writing answer", slog.Int("sources", len(s.Evidence)))

	if err := sleep(ctx, n.writeDelay); err != nil {
		return s, err
	}

	text, err := n.client.Invoke(ctx, writerSystem, []llm.Message{llm.UserMessage(writerPrompt(s))})
	if err != nil {
		if ctx.Err() != nil {
			return s, ctx.Err()
		}
		logger.Error("answer generation failed", slog.String("error", err.Error()))
		s.FinalAnswer = "An error occurred while writing the answer: " + err.Error()
		return s, nil
	}

	logger.Info("answer written", slog.Int("chars", len(text)))
	s.FinalAnswer = text
	return s, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
