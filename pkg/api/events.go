package api

// RoundEventType identifies a notification emitted while a round runs.
type RoundEventType string

// Branch events are keyed by placeholder ID.
const (
	EventBranchStarted  RoundEventType = "branch.started"
	EventBranchAppend   RoundEventType = "branch.append"
	EventBranchTerminal RoundEventType = "branch.terminal"
)

// Round lifecycle events.
const (
	EventRoundCreated     RoundEventType = "round.created"
	EventRoundJoined      RoundEventType = "round.joined"
	EventSynthesisStarted RoundEventType = "synthesis.started"
	EventRoundCompleted   RoundEventType = "round.completed"
	EventRoundCancelled   RoundEventType = "round.cancelled"
	EventRoundError       RoundEventType = "error"
)

// RoundEvent is the wire representation of a round notification. Text on
// a branch.append event is always the full accumulated text of the
// placeholder, never a delta.
type RoundEvent struct {
	Type           RoundEventType  `json:"type"`
	SequenceNumber int             `json:"sequence_number"`
	RoundID        string          `json:"round_id,omitempty"`
	PlaceholderID  string          `json:"placeholder_id,omitempty"`
	TargetID       string          `json:"target_id,omitempty"`
	Text           string          `json:"text,omitempty"`
	Outcome        *BranchOutcome  `json:"outcome,omitempty"`
	Outcomes       []BranchOutcome `json:"outcomes,omitempty"`
	Round          *RoundRecord    `json:"round,omitempty"`
	Error          *APIError       `json:"error,omitempty"`
}

// IsTerminal reports whether no further events follow for the round.
func (t RoundEventType) IsTerminal() bool {
	switch t {
	case EventRoundCompleted, EventRoundCancelled, EventRoundError:
		return true
	}
	return false
}
