package calllog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"voice-bridge/pkg/utils"
)

// PostgresRepo mirrors summaries into call_summaries. INSERT only.
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

// EnsureSchema creates the table and its lookup index when missing.
func (r *PostgresRepo) EnsureSchema(ctx context.Context) error {
	return utils.WithTx(ctx, r.db, &sql.TxOptions{}, func(ctx context.Context, tx *sql.Tx) error {
		const table = `
CREATE TABLE IF NOT EXISTS call_summaries (
	id                 TEXT PRIMARY KEY,
	call_id            TEXT NOT NULL,
	provider_call_id   TEXT NOT NULL DEFAULT '',
	stream_id          TEXT NOT NULL DEFAULT '',
	direction          TEXT NOT NULL,
	from_number        TEXT NOT NULL DEFAULT '',
	to_number          TEXT NOT NULL DEFAULT '',
	task               TEXT NOT NULL DEFAULT '',
	status             TEXT NOT NULL,
	created_at         TIMESTAMPTZ NOT NULL,
	answered_at        TIMESTAMPTZ NULL,
	ended_at           TIMESTAMPTZ NOT NULL,
	duration_seconds   INT NOT NULL DEFAULT 0,
	answered_by        TEXT NOT NULL DEFAULT '',
	outcome            JSONB NULL,
	transcript_entries INT NOT NULL DEFAULT 0,
	error              TEXT NOT NULL DEFAULT '',
	recorded_at        TIMESTAMPTZ NOT NULL
)`
		if _, err := tx.ExecContext(ctx, table); err != nil {
			return fmt.Errorf("calllog: create table: %w", err)
		}
		const idx = `CREATE INDEX IF NOT EXISTS call_summaries_call_id_idx ON call_summaries (call_id)`
		if _, err := tx.ExecContext(ctx, idx); err != nil {
			return fmt.Errorf("calllog: create index: %w", err)
		}
		return nil
	})
}

func (r *PostgresRepo) Append(ctx context.Context, s Summary) error {
	var outcome any
	if s.Outcome != nil {
		b, err := json.Marshal(s.Outcome)
		if err != nil {
			return fmt.Errorf("calllog: marshal outcome: %w", err)
		}
		outcome = string(b)
	}

	const q = `
INSERT INTO call_summaries (
	id, call_id, provider_call_id, stream_id, direction, from_number, to_number, task,
	status, created_at, answered_at, ended_at, duration_seconds, answered_by, outcome,
	transcript_entries, error, recorded_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)
`
	_, err := r.db.ExecContext(ctx, q,
		s.ID,
		s.CallID,
		s.ProviderCallID,
		s.StreamID,
		s.Direction,
		s.From,
		s.To,
		s.Task,
		s.Status,
		s.CreatedAt,
		s.AnsweredAt,
		s.EndedAt,
		s.DurationSeconds,
		s.AnsweredBy,
		outcome,
		s.TranscriptEntries,
		s.Error,
		s.RecordedAt,
	)
	if err != nil {
		return fmt.Errorf("calllog: insert: %w", err)
	}
	return nil
}
