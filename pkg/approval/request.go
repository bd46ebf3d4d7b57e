// Package approval tracks human decisions on director runs parked before
// human review.
//
// A Request is created when a run parks and is mutated exactly once, by a
// reviewer decision. Stores enforce the single transition out of pending,
// so two concurrent decisions on the same request produce one winner.
package approval

import (
	"errors"
	"time"

	"github.com/randalmurphal/crewflow/pkg/director"
)

// Status is the lifecycle state of a Request.
type Status string

// Request statuses. A request leaves pending once and never returns.
const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
	StatusModified Status = "modified"
)

// ErrNotFound is returned when no request matches.
var ErrNotFound = errors.New("approval request not found")

// PreviewLimit bounds pending_output in list views.
const PreviewLimit = 500

// Request is a pending or decided approval for one parked thread.
type Request struct {
	ID             string     `json:"id" gorm:"primaryKey;size:36"`
	UserID         string     `json:"user_id" gorm:"size:64;index"`
	ThreadID       string     `json:"thread_id" gorm:"size:64;not null;uniqueIndex"`
	OutputKind     string     `json:"output_kind" gorm:"size:20"`
	PendingOutput  string     `json:"pending_output" gorm:"type:text"`
	PersonaName    string     `json:"persona_name" gorm:"size:100"`
	PersonaRole    string     `json:"persona_role" gorm:"size:100"`
	TaskSummary    string     `json:"task_summary" gorm:"type:text"`
	Score          int        `json:"score"`
	Critique       string     `json:"critique" gorm:"type:text"`
	Status         Status     `json:"status" gorm:"size:20;not null;default:pending;index"`
	HumanFeedback  string     `json:"human_feedback,omitempty" gorm:"type:text"`
	ModifiedOutput string     `json:"modified_output,omitempty" gorm:"type:text"`
	CreatedAt      time.Time  `json:"created_at" gorm:"not null;index"`
	ReviewedAt     *time.Time `json:"reviewed_at,omitempty"`
}

// TableName implements gorm's tabler.
func (Request) TableName() string { return "approval_requests" }

// Decision is a reviewer verdict applied by Store.Transition.
type Decision struct {
	Status         Status
	Feedback       string
	ModifiedOutput string
	ReviewedAt     time.Time
}

// directorDecision maps a request status to the director's vocabulary.
func (s Status) directorDecision() director.ApprovalStatus {
	switch s {
	case StatusApproved:
		return director.ApprovalApproved
	case StatusRejected:
		return director.ApprovalRejected
	case StatusModified:
		return director.ApprovalModified
	}
	return director.ApprovalPending
}

// withPreview returns r with PendingOutput cut to PreviewLimit runes.
func (r Request) withPreview() Request {
	runes := []rune(r.PendingOutput)
	if len(runes) > PreviewLimit {
		r.PendingOutput = string(runes[:PreviewLimit]) + "..."
	}
	return r
}

func (r *Request) clone() *Request {
	c := *r
	if r.ReviewedAt != nil {
		t := *r.ReviewedAt
		c.ReviewedAt = &t
	}
	return &c
}
