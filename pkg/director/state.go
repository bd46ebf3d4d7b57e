package director

import (
	"unicode/utf8"

	"github.com/randalmurphal/crewflow/pkg/flowgraph/llm"
)

// Node names of the director graph.
const (
	NodeGenerator         = "generator"
	NodeReflector         = "reflector"
	NodeHumanReview       = "human_review"
	NodeOutputPreparation = "output_preparation"
)

// Route names returned by the director routers.
const (
	routeRevise = "revise"
	routeReview = "review"
	routeOutput = "output"
	routeEnd    = "end"
)

const (
	// DefaultMaxRevisions caps generator passes when a request sets none.
	DefaultMaxRevisions = 3

	// DefaultPassingScore is the reviewer score that completes a run.
	DefaultPassingScore = 70

	// DefaultScore is used when a review cannot be scored.
	DefaultScore = 50
)

// ApprovalStatus tracks the human decision on a parked run.
type ApprovalStatus string

// Approval statuses. Status only moves from pending to one of the decisions.
const (
	ApprovalNone     ApprovalStatus = "none"
	ApprovalPending  ApprovalStatus = "pending"
	ApprovalApproved ApprovalStatus = "approved"
	ApprovalRejected ApprovalStatus = "rejected"
	ApprovalModified ApprovalStatus = "modified"
)

// IsDecision reports whether s is a reviewer decision.
func (s ApprovalStatus) IsDecision() bool {
	switch s {
	case ApprovalApproved, ApprovalRejected, ApprovalModified:
		return true
	}
	return false
}

// OutputKind names the sink a finished run feeds.
type OutputKind string

// Output kinds.
const (
	OutputNone   OutputKind = "none"
	OutputSlides OutputKind = "slides"
	OutputSheets OutputKind = "sheets"
	OutputSlack  OutputKind = "slack"
	OutputEmail  OutputKind = "email"
)

// Valid reports whether k is a known output kind.
func (k OutputKind) Valid() bool {
	switch k {
	case OutputNone, OutputSlides, OutputSheets, OutputSlack, OutputEmail:
		return true
	}
	return false
}

// Persona is the character a generator writes as.
type Persona struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Role        string `json:"role"`
	Description string `json:"description"`
}

// State is the director graph state.
type State struct {
	Task          string        `json:"task"`
	Persona       Persona       `json:"persona"`
	Draft         string        `json:"draft"`
	Critique      string        `json:"critique"`
	Score         int           `json:"score"`
	ScoreSource   ScoreSource   `json:"score_source,omitempty"`
	RevisionCount int           `json:"revision_count"`
	MaxRevisions  int           `json:"max_revisions"`
	Messages      []llm.Message `json:"messages"`
	FinalResult   string        `json:"final_result"`
	IsComplete    bool          `json:"is_complete"`

	RequiresApproval  bool           `json:"requires_approval"`
	ApprovalStatus    ApprovalStatus `json:"approval_status"`
	PendingOutput     string         `json:"pending_output"`
	OutputKind        OutputKind     `json:"output_kind"`
	HumanFeedback     string         `json:"human_feedback,omitempty"`
	ModifiedOutput    string         `json:"modified_output,omitempty"`
	ThreadID          string         `json:"thread_id"`
	ApprovalRequestID string         `json:"approval_request_id,omitempty"`
}

// NewState builds the initial state for a task.
// maxRevisions below 1 falls back to DefaultMaxRevisions.
func NewState(task string, persona Persona, maxRevisions int) State {
	if maxRevisions < 1 {
		maxRevisions = DefaultMaxRevisions
	}
	return State{
		Task:           task,
		Persona:        persona,
		MaxRevisions:   maxRevisions,
		ApprovalStatus: ApprovalNone,
		OutputKind:     OutputNone,
		Messages:       []llm.Message{},
	}
}

// result is the text a finished run delivers.
func (s State) result() string {
	if s.FinalResult != "" {
		return s.FinalResult
	}
	return s.Draft
}

// truncate returns the first n runes of s.
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}

// preview truncates s to n runes with an ellipsis.
func preview(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return truncate(s, n) + "..."
}
