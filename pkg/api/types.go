package api

import "time"

// TargetStatus controls whether a target takes part in dispatch rounds.
type TargetStatus string

const (
	// TargetStatusActive targets participate in every round.
	TargetStatusActive TargetStatus = "active"

	// TargetStatusReady targets are configured but skipped.
	TargetStatusReady TargetStatus = "ready"

	// TargetStatusInactive targets are parked and skipped.
	TargetStatusInactive TargetStatus = "inactive"
)

// Valid reports whether s is one of the known statuses.
func (s TargetStatus) Valid() bool {
	switch s {
	case TargetStatusActive, TargetStatusReady, TargetStatusInactive:
		return true
	}
	return false
}

// Rank orders statuses for display: active first, inactive last.
func (s TargetStatus) Rank() int {
	switch s {
	case TargetStatusActive:
		return 0
	case TargetStatusReady:
		return 1
	default:
		return 2
	}
}

// Target is one provider/model pair the user has configured.
type Target struct {
	ID           string       `json:"id"`
	ProviderID   string       `json:"provider"`
	ModelID      string       `json:"model"`
	DisplayName  string       `json:"display_name,omitempty"`
	Status       TargetStatus `json:"status"`
	IsAggregator bool         `json:"aggregator,omitempty"`
}

// Label returns the name used to attribute the target's output.
func (t Target) Label() string {
	if t.DisplayName != "" {
		return t.DisplayName
	}
	return t.ModelID
}

// Active reports whether the target participates in dispatch.
func (t Target) Active() bool {
	return t.Status == TargetStatusActive
}

// Role identifies the author of a transcript message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Message is one entry in a target's transcript.
type Message struct {
	ID      string `json:"id"`
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// OutcomeStatus is the terminal status of a branch.
type OutcomeStatus string

const (
	OutcomeSucceeded OutcomeStatus = "succeeded"
	OutcomeFailed    OutcomeStatus = "failed"
)

// BranchOutcome is the settled result of one branch in a round. Failed
// outcomes keep any partial text that was streamed before the failure.
type BranchOutcome struct {
	TargetID      string        `json:"target_id"`
	PlaceholderID string        `json:"placeholder_id"`
	Status        OutcomeStatus `json:"status"`
	Text          string        `json:"text,omitempty"`
	Reason        string        `json:"reason,omitempty"`
	ErrorType     ErrorType     `json:"error_type,omitempty"`
	Usage         *Usage        `json:"usage,omitempty"`
}

// Succeeded reports whether the branch finished normally.
func (o BranchOutcome) Succeeded() bool {
	return o.Status == OutcomeSucceeded
}

// DisplayText renders the outcome the way a placeholder shows it once the
// branch is terminal: the answer on success, or the partial answer followed
// by the failure notice.
func (o BranchOutcome) DisplayText() string {
	if o.Succeeded() {
		return o.Text
	}
	notice := "There was an error processing your request: " + o.Reason
	if o.Text == "" {
		return notice
	}
	return o.Text + "\n\n" + notice
}

// Usage holds token accounting reported by a backend.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// RoundStatus is the lifecycle state of a dispatch round.
type RoundStatus string

const (
	RoundStatusInProgress RoundStatus = "in_progress"
	RoundStatusCompleted  RoundStatus = "completed"
	RoundStatusCancelled  RoundStatus = "cancelled"
)

// RoundRecord is the archived summary of a finished round.
type RoundRecord struct {
	ID           string          `json:"id"`
	Query        string          `json:"query"`
	Status       RoundStatus     `json:"status"`
	Participants []Target        `json:"participants"`
	Outcomes     []BranchOutcome `json:"outcomes"`
	Aggregator   *Target         `json:"aggregator,omitempty"`
	Synthesis    *BranchOutcome  `json:"synthesis,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	CompletedAt  time.Time       `json:"completed_at"`
}

// CreateRoundRequest is the body of a round submission. The round runs over
// the workspace's current targets.
type CreateRoundRequest struct {
	Query  string `json:"query"`
	Stream bool   `json:"stream,omitempty"`
}
