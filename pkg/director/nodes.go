package director

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/randalmurphal/crewflow/pkg/flowgraph"
	fgerrors "github.com/randalmurphal/crewflow/pkg/flowgraph/errors"
	"github.com/randalmurphal/crewflow/pkg/flowgraph/llm"
	"github.com/randalmurphal/crewflow/pkg/flowgraph/observability"
)

// nodes holds the collaborators the director nodes close over.
type nodes struct {
	client        llm.Client
	retry         fgerrors.RetryConfig
	revisionDelay time.Duration
	reflectDelay  time.Duration
	passingScore  int
	metrics       observability.MetricsRecorder
}

// generate drafts or revises the artifact.
func (n *nodes) generate(ctx flowgraph.Context, s State) (State, error) {
	logger := ctx.Logger()
	logger.Info("generation starting", slog.Int("revision", s.RevisionCount))

	if s.RevisionCount > 0 {
		if err := sleep(ctx, n.revisionDelay); err != nil {
			return s, err
		}
	}

	system, user := generatorPrompt(s)
	messages := []llm.Message{llm.UserMessage(user)}

	retry := n.retry
	retry.OnRetry = func(attempt int, wait time.Duration, err error) {
		logger.Warn("generation rate limited, backing off",
			slog.Int("attempt", attempt),
			slog.Duration("wait", wait),
			slog.String("error", err.Error()))
	}

	result := fgerrors.WithRetryContext(ctx, retry, func(ctx context.Context) (string, error) {
		return n.client.Invoke(ctx, system, messages)
	})
	if result.Err != nil {
		return s, fatal("generate", result.Err)
	}

	draft := result.Value
	logger.Info("draft generated", slog.Int("chars", len(draft)), slog.Int("attempts", result.Attempts))

	s.Draft = draft
	s.RevisionCount++
	s.Messages = append(slices.Clone(s.Messages), llm.UserMessage(user), llm.AssistantMessage(draft))
	return s, nil
}

// reflect scores the draft and decides whether the loop is done.
func (n *nodes) reflect(ctx flowgraph.Context, s State) (State, error) {
	logger := ctx.Logger()

	if s.IsComplete {
		logger.Info("evaluation skipped, run already complete")
		s.FinalResult = s.Draft
		return s, nil
	}

	if err := sleep(ctx, n.reflectDelay); err != nil {
		return s, err
	}

	system, user := reviewerPrompt(s)
	text, err := n.client.Invoke(ctx, system, []llm.Message{llm.UserMessage(user)})
	if err != nil {
		if ctx.Err() != nil {
			return s, ctx.Err()
		}
		logger.Error("evaluation failed, delivering current draft", slog.String("error", err.Error()))
		s.Score = DefaultScore
		s.ScoreSource = SourceDefault
		s.Critique = "evaluation failed: " + err.Error()
		s.IsComplete = true
		s.FinalResult = s.Draft
		return s, nil
	}

	ev := ParseEvaluation(text)
	n.metrics.RecordEvaluation(ctx, ev.Score, string(ev.Source))
	observability.LogEvaluation(logger, ev.Score, string(ev.Source), s.RevisionCount)

	s.Score = ev.Score
	s.ScoreSource = ev.Source
	s.Critique = ev.Critique
	s.IsComplete = ev.Score >= n.passingScore || s.RevisionCount >= s.MaxRevisions
	s.FinalResult = ""
	if s.IsComplete {
		s.FinalResult = s.Draft
	}
	s.Messages = append(slices.Clone(s.Messages),
		llm.UserMessage("[evaluation] "+preview(s.Task, 50)),
		llm.AssistantMessage(fmt.Sprintf("score: %d\n%s", ev.Score, ev.Critique)))
	return s, nil
}

// afterReflect loops back to the generator until the run completes.
func afterReflect(_ flowgraph.Context, s State) string {
	if s.IsComplete {
		return routeReview
	}
	return routeRevise
}

// humanReview decides whether the run needs a reviewer. It is the only
// place that reads RequiresApproval.
func humanReview(ctx flowgraph.Context, s State) (State, error) {
	logger := ctx.Logger()

	switch {
	case !s.RequiresApproval:
		s.ApprovalStatus = ApprovalApproved
		s.PendingOutput = s.result()
	case s.ApprovalStatus == ApprovalApproved:
	case s.ApprovalStatus == ApprovalRejected:
		logger.Info("output rejected by reviewer")
		s.IsComplete = true
	case s.ApprovalStatus == ApprovalModified && (s.ModifiedOutput != "" || s.HumanFeedback != ""):
		logger.Info("output modified by reviewer")
		s.PendingOutput = s.ModifiedOutput
		if s.PendingOutput == "" {
			s.PendingOutput = s.HumanFeedback
		}
		s.ApprovalStatus = ApprovalApproved
	default:
		s.ApprovalStatus = ApprovalPending
		s.PendingOutput = s.result()
	}
	return s, nil
}

// afterReview proceeds to output only when approved.
func afterReview(_ flowgraph.Context, s State) string {
	if s.ApprovalStatus == ApprovalApproved {
		return routeOutput
	}
	return routeEnd
}

// prepareOutput finalizes the approved text for a sink.
func prepareOutput(ctx flowgraph.Context, s State) (State, error) {
	s.IsComplete = true
	if s.ApprovalStatus != ApprovalApproved {
		ctx.Logger().Warn("output not approved, skipping preparation")
		return s, nil
	}
	out := s.PendingOutput
	if out == "" {
		out = s.result()
	}
	s.FinalResult = out
	ctx.Logger().Info("output ready",
		slog.String("output_kind", string(s.OutputKind)),
		slog.Int("chars", len(out)))
	return s, nil
}

// sleep waits d or until ctx is done.
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

// fatal classifies a failure that ends the run.
func fatal(op string, err error) error {
	if _, ok := err.(*fgerrors.Error); ok {
		return err
	}
	return fgerrors.Fatal(op, err)
}
