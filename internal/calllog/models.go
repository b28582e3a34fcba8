package calllog

import "time"

// Summary is an immutable, append-only record of one call that reached a
// terminal status.
//
// Invariants:
// - Summaries are never updated or deleted.
// - No audio and no transcript text; TranscriptEntries is a count only.
//
// Storage (Postgres): table call_summaries, INSERT-only. See EnsureSchema.

type Summary struct {
	ID string `json:"id" db:"id"`

	CallID         string `json:"call_id" db:"call_id"`
	ProviderCallID string `json:"provider_call_id,omitempty" db:"provider_call_id"`
	StreamID       string `json:"stream_id,omitempty" db:"stream_id"`

	Direction string `json:"direction" db:"direction"`
	From      string `json:"from" db:"from_number"`
	To        string `json:"to" db:"to_number"`
	Task      string `json:"task,omitempty" db:"task"`

	Status string `json:"status" db:"status"`

	CreatedAt  time.Time  `json:"created_at" db:"created_at"`
	AnsweredAt *time.Time `json:"answered_at,omitempty" db:"answered_at"`
	EndedAt    time.Time  `json:"ended_at" db:"ended_at"`
	// DurationSeconds is zero when the call was never answered.
	DurationSeconds int `json:"duration_seconds" db:"duration_seconds"`

	AnsweredBy string   `json:"answered_by,omitempty" db:"answered_by"`
	Outcome    *Outcome `json:"outcome,omitempty" db:"outcome"`

	TranscriptEntries int    `json:"transcript_entries" db:"transcript_entries"`
	Error             string `json:"error,omitempty" db:"error"`

	RecordedAt time.Time `json:"recorded_at" db:"recorded_at"`
}

type Outcome struct {
	Success bool           `json:"success"`
	Summary string         `json:"summary"`
	Details map[string]any `json:"details,omitempty"`
}
