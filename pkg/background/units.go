package background

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/randalmurphal/crewflow/pkg/director"
	"github.com/randalmurphal/crewflow/pkg/flowgraph/event"
)

// execute runs one scheduled execution once a pool slot is free.
func (t *Tracker) execute(e *Execution, done chan struct{}) {
	defer t.wg.Done()
	defer func() {
		t.doneMu.Lock()
		delete(t.done, e.ID)
		t.doneMu.Unlock()
		close(done)
	}()

	if err := t.sem.Acquire(t.ctx, 1); err != nil {
		return
	}
	defer t.sem.Release(1)

	logger := t.logger.With(
		slog.String("execution_id", e.ID),
		slog.String("kind", string(e.Kind)))

	var err error
	switch e.Kind {
	case KindTask:
		err = t.runTask(t.ctx, e, logger)
	case KindProject:
		err = t.runProject(t.ctx, e, logger)
	}
	if err != nil {
		logger.Error("background bookkeeping failed", slog.String("error", err.Error()))
	}
}

func (t *Tracker) runTask(ctx context.Context, e *Execution, logger *slog.Logger) error {
	book := context.WithoutCancel(ctx)

	var p TaskPayload
	if err := json.Unmarshal(e.Payload, &p); err != nil {
		return t.fail(book, e, fmt.Errorf("decode task payload: %w", err))
	}
	if ok, err := t.begin(book, e); !ok || err != nil {
		return err
	}
	t.publish(book, event.New(event.TaskStarted, eventSource, e.UserID, e.ID,
		event.WithTitle("Task started"),
		event.WithMessage(e.Title)))

	if err := t.progress(book, e.ID, 1, "generating"); err != nil {
		return err
	}

	var res director.Result
	if p.UseReflector {
		res = t.director.Start(ctx, director.StartRequest{
			Task:         p.Task,
			Persona:      p.Persona,
			MaxRevisions: p.MaxRevisions,
		})
	} else {
		res = t.director.GenerateOnce(ctx, p.Task, p.Persona)
	}
	if !res.Success {
		logger.Warn("background task failed", slog.String("error", res.Error))
		return t.fail(book, e, errors.New(res.Error))
	}
	if t.cancelRequested(book, e.ID) {
		return t.cancelled(book, e)
	}

	persona := personaOrDefault(p.Persona)
	return t.complete(book, e, TaskResult{
		Success:       true,
		Result:        res.FinalResult,
		PersonaName:   persona.Name,
		Score:         res.Score,
		RevisionCount: res.RevisionCount,
	}, event.TaskCompleted, fmt.Sprintf("%s finished: %s (score %d)", persona.Name, e.Title, res.Score))
}

func (t *Tracker) runProject(ctx context.Context, e *Execution, logger *slog.Logger) error {
	book := context.WithoutCancel(ctx)

	var p ProjectPayload
	if err := json.Unmarshal(e.Payload, &p); err != nil {
		return t.fail(book, e, fmt.Errorf("decode project payload: %w", err))
	}
	if ok, err := t.begin(book, e); !ok || err != nil {
		return err
	}
	t.publish(book, event.New(event.ProjectStarted, eventSource, e.UserID, e.ID,
		event.WithTitle("Project started"),
		event.WithMessage(fmt.Sprintf("%s (%d tasks)", e.Title, len(p.Steps)))))

	results := make([]StepResult, 0, len(p.Steps))
	previous := ""
	for i, step := range p.Steps {
		if t.cancelRequested(book, e.ID) {
			return t.cancelled(book, e)
		}

		persona := personaOrDefault(step.Persona)
		role := step.Role
		if role == "" {
			role = persona.Role
		}
		msg := fmt.Sprintf("task %d/%d running: %s", i+1, len(p.Steps), role)
		if err := t.progress(book, e.ID, i+1, msg); err != nil {
			return err
		}

		instruction, err := t.expander.Expand(step.Instruction, p.InputValues)
		if err != nil {
			logger.Warn("instruction placeholders left unfilled", slog.String("error", err.Error()))
		}
		searchContext := ""
		if i == 0 {
			searchContext = p.SearchContext
		}

		item := StepResult{Index: i, Role: step.Role, PersonaName: persona.Name}
		res := t.director.GenerateOnce(ctx, stepPrompt(instruction, previous, searchContext), persona)
		if !res.Success {
			logger.Warn("project task failed",
				slog.Int("task_index", i),
				slog.String("error", res.Error))
			item.Status = StepError
			item.Error = res.Error
			results = append(results, item)
			continue
		}

		item.Status = StepCompleted
		item.Result = summarize(res.FinalResult, ResultPreviewLimit)
		item.Score = res.Score
		results = append(results, item)
		previous = res.FinalResult
	}

	if t.cancelRequested(book, e.ID) {
		return t.cancelled(book, e)
	}
	return t.complete(book, e, ProjectResult{
		Success: true,
		Title:   e.Title,
		Results: results,
	}, event.ProjectCompleted, fmt.Sprintf("%s finished with %d tasks", e.Title, len(results)))
}

// stepPrompt builds a project step task. The previous step's output is
// chained in; search context only accompanies the first step.
func stepPrompt(instruction, previous, searchContext string) string {
	var b strings.Builder
	b.WriteString("## Your task\n")
	b.WriteString(instruction)
	switch {
	case previous != "":
		b.WriteString("\n\n## Previous task output\n")
		b.WriteString(previous)
	case searchContext != "":
		b.WriteString("\n\n## Research context\n")
		b.WriteString(searchContext)
	}
	b.WriteString("\n\nComplete the task following the instructions above.")
	return b.String()
}

func personaOrDefault(p director.Persona) director.Persona {
	if p.Name == "" {
		return director.DefaultPersona
	}
	return p
}

func (t *Tracker) cancelRequested(ctx context.Context, id string) bool {
	marked, err := t.signals.IsMarked(ctx, id)
	if err != nil {
		t.logger.Warn("cancellation check failed",
			slog.String("execution_id", id),
			slog.String("error", err.Error()))
		return false
	}
	return marked
}

// begin moves a pending execution to running. It reports false after
// settling an execution that was cancelled before it started.
func (t *Tracker) begin(ctx context.Context, e *Execution) (bool, error) {
	if t.cancelRequested(ctx, e.ID) {
		return false, t.cancelled(ctx, e)
	}

	started := false
	_, err := t.mutate(ctx, e.ID, func(cur *Execution) (bool, error) {
		if cur.Status != StatusPending {
			return false, nil
		}
		now := t.now().UTC()
		cur.Status = StatusRunning
		cur.StartedAt = &now
		cur.ProgressMessage = "running"
		started = true
		return true, nil
	})
	if err != nil {
		return false, err
	}
	if !started {
		return false, t.cancelled(ctx, e)
	}
	return true, nil
}

func (t *Tracker) progress(ctx context.Context, id string, step int, msg string) error {
	_, err := t.mutate(ctx, id, func(cur *Execution) (bool, error) {
		cur.CurrentStep = step
		if cur.Status == StatusRunning {
			cur.ProgressMessage = msg
		}
		return true, nil
	})
	return err
}

// settle writes a terminal state and clears any cancellation mark.
func (t *Tracker) settle(ctx context.Context, id string, fn func(cur *Execution)) (*Execution, error) {
	e, err := t.mutate(ctx, id, func(cur *Execution) (bool, error) {
		now := t.now().UTC()
		fn(cur)
		cur.CompletedAt = &now
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	if err := t.signals.Clear(ctx, id); err != nil {
		t.logger.Warn("clear cancellation mark failed",
			slog.String("execution_id", id),
			slog.String("error", err.Error()))
	}
	return e, nil
}

func (t *Tracker) complete(ctx context.Context, e *Execution, result any, typ event.Type, msg string) error {
	raw, err := json.Marshal(result)
	if err != nil {
		return t.fail(ctx, e, fmt.Errorf("encode result: %w", err))
	}
	done, err := t.settle(ctx, e.ID, func(cur *Execution) {
		cur.Status = StatusCompleted
		cur.CurrentStep = cur.TotalSteps
		cur.ProgressMessage = "completed"
		cur.Result = raw
	})
	if err != nil {
		return err
	}

	t.logger.Info("background execution completed", slog.String("execution_id", e.ID))
	t.publish(ctx, event.New(typ, eventSource, done.UserID, done.ID,
		event.WithTitle("Completed: "+done.Title),
		event.WithMessage(msg)))
	return nil
}

func (t *Tracker) fail(ctx context.Context, e *Execution, cause error) error {
	done, err := t.settle(ctx, e.ID, func(cur *Execution) {
		cur.Status = StatusFailed
		cur.ProgressMessage = "failed"
		cur.Error = cause.Error()
	})
	if err != nil {
		return err
	}

	t.logger.Warn("background execution failed",
		slog.String("execution_id", e.ID),
		slog.String("error", cause.Error()))
	t.publish(ctx, event.New(event.ExecutionFailed, eventSource, done.UserID, done.ID,
		event.WithTitle("Failed: "+done.Title),
		event.WithMessage(cause.Error()),
		event.WithData(map[string]any{"kind": string(done.Kind)})))
	return nil
}

func (t *Tracker) cancelled(ctx context.Context, e *Execution) error {
	done, err := t.settle(ctx, e.ID, func(cur *Execution) {
		cur.Status = StatusCancelled
		cur.ProgressMessage = "cancelled"
	})
	if err != nil {
		return err
	}

	t.logger.Info("background execution cancelled", slog.String("execution_id", e.ID))
	t.publish(ctx, event.New(event.ExecutionCancelled, eventSource, done.UserID, done.ID,
		event.WithTitle("Cancelled: "+done.Title),
		event.WithMessage(fmt.Sprintf("stopped at step %d/%d", done.CurrentStep, done.TotalSteps))))
	return nil
}
