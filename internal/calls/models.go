package calls

import (
	"strings"
	"time"
)

// CallRecord is one call's full lifecycle state.
//
// ID is assigned before the call is placed and never changes. ProviderCallID
// and StreamID arrive later and are indexed by the Ledger.
type CallRecord struct {
	ID             string `json:"call_id"`
	ProviderCallID string `json:"provider_call_id,omitempty"`
	StreamID       string `json:"stream_id,omitempty"`

	Direction Direction `json:"direction"`
	From      string    `json:"from"`
	To        string    `json:"to"`

	// Task is the agent-supplied task for outbound calls; empty for inbound.
	Task string `json:"task,omitempty"`

	Status        Status   `json:"status"`
	StatusHistory []Status `json:"status_history"`

	CreatedAt  time.Time     `json:"created_at"`
	AnsweredAt *time.Time    `json:"answered_at,omitempty"`
	EndedAt    *time.Time    `json:"ended_at,omitempty"`
	Duration   time.Duration `json:"-"`

	// AnsweredBy is the provider's answering-machine classification.
	AnsweredBy string `json:"answered_by,omitempty"`

	Transcript []TranscriptEntry `json:"transcript"`
	Outcome    *Outcome          `json:"outcome,omitempty"`
	Error      string            `json:"error,omitempty"`
}

// DurationSeconds is whole seconds between answer and end.
func (c CallRecord) DurationSeconds() int {
	return int(c.Duration / time.Second)
}

func (c CallRecord) clone() CallRecord {
	out := c
	out.StatusHistory = append([]Status(nil), c.StatusHistory...)
	out.Transcript = append([]TranscriptEntry(nil), c.Transcript...)
	if c.AnsweredAt != nil {
		t := *c.AnsweredAt
		out.AnsweredAt = &t
	}
	if c.EndedAt != nil {
		t := *c.EndedAt
		out.EndedAt = &t
	}
	if c.Outcome != nil {
		o := *c.Outcome
		if c.Outcome.Details != nil {
			o.Details = make(map[string]any, len(c.Outcome.Details))
			for k, v := range c.Outcome.Details {
				o.Details[k] = v
			}
		}
		out.Outcome = &o
	}
	return out
}

type Direction string

const (
	DirectionOutbound Direction = "outbound"
	DirectionInbound  Direction = "inbound"
)

type Status string

const (
	StatusInitiating Status = "initiating"
	StatusRinging    Status = "ringing"
	StatusInProgress Status = "in-progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusNoAnswer   Status = "no-answer"
	StatusBusy       Status = "busy"
)

// IsTerminal reports whether no further transitions are accepted.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusNoAnswer, StatusBusy:
		return true
	}
	return false
}

func (s Status) rank() int {
	switch s {
	case StatusInitiating:
		return 0
	case StatusRinging:
		return 1
	case StatusInProgress:
		return 2
	default:
		return 3
	}
}

func (s Status) valid() bool {
	switch s {
	case StatusInitiating, StatusRinging, StatusInProgress,
		StatusCompleted, StatusFailed, StatusNoAnswer, StatusBusy:
		return true
	}
	return false
}

// ParseProviderStatus maps a provider CallStatus string onto Status.
// "canceled" is treated as failed.
func ParseProviderStatus(s string) (Status, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "queued", "initiated":
		return StatusInitiating, true
	case "ringing":
		return StatusRinging, true
	case "in-progress", "answered":
		return StatusInProgress, true
	case "completed":
		return StatusCompleted, true
	case "busy":
		return StatusBusy, true
	case "no-answer":
		return StatusNoAnswer, true
	case "failed", "canceled":
		return StatusFailed, true
	}
	return "", false
}

type Role string

const (
	RoleAssistant Role = "assistant"
	RoleCaller    Role = "caller"
	RoleSystem    Role = "system"
)

type TranscriptEntry struct {
	Role Role      `json:"role"`
	Text string    `json:"text"`
	At   time.Time `json:"at"`
}

// Outcome is the structured result reported by the model before hangup.
type Outcome struct {
	Success bool           `json:"success"`
	Summary string         `json:"summary"`
	Details map[string]any `json:"details,omitempty"`
}
