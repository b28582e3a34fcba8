package reporting

import (
	"time"

	"voice-bridge/internal/calls"
)

type TimeRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// Contains treats a zero bound as open.
func (r TimeRange) Contains(t time.Time) bool {
	if !r.From.IsZero() && t.Before(r.From) {
		return false
	}
	if !r.To.IsZero() && !t.Before(r.To) {
		return false
	}
	return true
}

// CallsSummaryRequest selects the records to aggregate. An empty Direction
// includes both.
type CallsSummaryRequest struct {
	Range     TimeRange       `json:"range"`
	Direction calls.Direction `json:"direction,omitempty"`
}

type CallsSummary struct {
	Range     TimeRange       `json:"range"`
	Direction calls.Direction `json:"direction,omitempty"`

	TotalCalls      int `json:"total_calls"`
	InboundCalls    int `json:"inbound_calls"`
	OutboundCalls   int `json:"outbound_calls"`
	ActiveCalls     int `json:"active_calls"`
	CompletedCalls  int `json:"completed_calls"`
	FailedCalls     int `json:"failed_calls"`
	NoAnswerCalls   int `json:"no_answer_calls"`
	BusyCalls       int `json:"busy_calls"`
	MachineAnswered int `json:"machine_answered"`

	OutcomesReported  int `json:"outcomes_reported"`
	OutcomesSucceeded int `json:"outcomes_succeeded"`

	TotalDurationSeconds   int `json:"total_duration_seconds"`
	AverageDurationSeconds int `json:"average_duration_seconds"`

	// ConnectionRate is answered calls over all calls; SuccessRate is
	// successful outcomes over answered calls.
	ConnectionRate float64 `json:"connection_rate"`
	SuccessRate    float64 `json:"success_rate"`
}
