// Package background runs director tasks and multi-step projects out of
// band and tracks their progress.
//
// A Tracker records every unit of work as an Execution, runs it on a
// bounded pool of goroutines and honours cooperative cancellation
// through a signal.Set checked at step boundaries.
package background

import (
	"encoding/json"
	"slices"
	"time"

	"github.com/randalmurphal/crewflow/pkg/director"
	fgerrors "github.com/randalmurphal/crewflow/pkg/flowgraph/errors"
)

// Kind is the type of work an execution runs.
type Kind string

// Execution kinds.
const (
	KindTask    Kind = "task"
	KindProject Kind = "project"
)

// Status is the lifecycle state of an execution.
type Status string

// Execution statuses.
const (
	StatusPending    Status = "pending"
	StatusRunning    Status = "running"
	StatusCancelling Status = "cancelling"
	StatusCancelled  Status = "cancelled"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Terminal reports whether no further transition is allowed.
func (s Status) Terminal() bool {
	switch s {
	case StatusCancelled, StatusCompleted, StatusFailed:
		return true
	default:
		return false
	}
}

// Active reports whether the execution still counts toward running_count.
func (s Status) Active() bool {
	return s == StatusPending || s == StatusRunning || s == StatusCancelling
}

// ResultPreviewLimit bounds each project step result kept in the summary.
const ResultPreviewLimit = 500

// Execution is the persisted record of one unit of background work.
//
// Result is set only when Status is completed and Error only when it is
// failed. A cancelled execution carries neither.
type Execution struct {
	ID              string          `json:"id" gorm:"primaryKey;size:36"`
	UserID          string          `json:"user_id" gorm:"size:64;index"`
	Kind            Kind            `json:"kind" gorm:"size:16;index"`
	Status          Status          `json:"status" gorm:"size:16;index"`
	Title           string          `json:"title"`
	CurrentStep     int             `json:"current_step"`
	TotalSteps      int             `json:"total_steps"`
	ProgressMessage string          `json:"progress_message"`
	Payload         json.RawMessage `json:"payload,omitempty" gorm:"type:text"`
	Result          json.RawMessage `json:"result,omitempty" gorm:"type:text"`
	Error           string          `json:"error,omitempty"`
	CreatedAt       time.Time       `json:"created_at" gorm:"index"`
	StartedAt       *time.Time      `json:"started_at,omitempty"`
	CompletedAt     *time.Time      `json:"completed_at,omitempty"`
}

// TableName implements gorm's tabler.
func (Execution) TableName() string { return "background_executions" }

// Clone creates a deep copy of the execution.
func (e *Execution) Clone() *Execution {
	if e == nil {
		return nil
	}
	clone := *e
	clone.Payload = slices.Clone(e.Payload)
	clone.Result = slices.Clone(e.Result)
	if e.StartedAt != nil {
		t := *e.StartedAt
		clone.StartedAt = &t
	}
	if e.CompletedAt != nil {
		t := *e.CompletedAt
		clone.CompletedAt = &t
	}
	return &clone
}

// TaskPayload starts a single director run.
type TaskPayload struct {
	Task         string           `json:"task"`
	Persona      director.Persona `json:"persona"`
	UseReflector bool             `json:"use_reflector"`
	MaxRevisions int              `json:"max_revisions,omitempty"`
}

// Validate checks the payload before it is recorded.
func (p TaskPayload) Validate() error {
	if p.Task == "" {
		return &fgerrors.ValidationError{Field: "task", Message: "required"}
	}
	return nil
}

// ProjectStep is one crew member's assignment within a project.
type ProjectStep struct {
	Role        string           `json:"role"`
	Instruction string           `json:"instruction"`
	Persona     director.Persona `json:"persona"`
}

// ProjectPayload starts a multi-step project. Instructions may reference
// InputValues as {key}.
type ProjectPayload struct {
	Title         string            `json:"project_title"`
	Description   string            `json:"description,omitempty"`
	UserGoal      string            `json:"user_goal,omitempty"`
	Steps         []ProjectStep     `json:"tasks"`
	InputValues   map[string]string `json:"input_values,omitempty"`
	SearchContext string            `json:"search_context,omitempty"`
}

// Validate checks the payload before it is recorded.
func (p ProjectPayload) Validate() error {
	if len(p.Steps) == 0 {
		return &fgerrors.ValidationError{Field: "tasks", Message: "at least one task is required"}
	}
	for _, step := range p.Steps {
		if step.Instruction == "" {
			return &fgerrors.ValidationError{Field: "tasks.instruction", Message: "required"}
		}
	}
	return nil
}

// TaskResult is stored on a completed task execution.
type TaskResult struct {
	Success       bool   `json:"success"`
	Result        string `json:"result"`
	PersonaName   string `json:"persona_name"`
	Score         int    `json:"score"`
	RevisionCount int    `json:"revision_count"`
}

// StepStatus is the outcome of one project step.
type StepStatus string

// Step outcomes.
const (
	StepCompleted StepStatus = "completed"
	StepError     StepStatus = "error"
)

// StepResult summarizes one project step.
type StepResult struct {
	Index       int        `json:"task_index"`
	Role        string     `json:"role"`
	PersonaName string     `json:"persona"`
	Result      string     `json:"result,omitempty"`
	Score       int        `json:"score"`
	Status      StepStatus `json:"status"`
	Error       string     `json:"error,omitempty"`
}

// ProjectResult is stored on a completed project execution.
type ProjectResult struct {
	Success bool         `json:"success"`
	Title   string       `json:"project_title"`
	Results []StepResult `json:"results"`
}
