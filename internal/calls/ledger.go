package calls

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"voice-bridge/internal/calllog"
)

var (
	ErrNotFound          = errors.New("calls: not found")
	ErrDuplicateCall     = errors.New("calls: duplicate call id")
	ErrOutcomeAlreadySet = errors.New("calls: outcome already set")
	ErrIdentifierInUse   = errors.New("calls: identifier mapped to another call")
	ErrInvalidStatus     = errors.New("calls: invalid status")
)

// SummarySink receives one redacted summary per call at its terminal transition.
type SummarySink interface {
	Append(ctx context.Context, s calllog.Summary) error
}

// Ledger is the in-memory registry of call records.
//
// Records are stored once, keyed by internal id. Provider call ids and stream
// ids are secondary indexes. Methods return copies; callers never hold a
// pointer into the ledger.
//
// The mutex guards the maps only for the duration of a method. A terminal
// transition writes its summary with the mutex released; while it runs, reads
// and writes of that one call wait and every other call proceeds. Active and
// All are snapshots and do not wait.
type Ledger struct {
	mu         sync.Mutex
	records    map[string]*CallRecord
	byProvider map[string]string
	byStream   map[string]string
	finalizing map[string]chan struct{}

	sink       SummarySink
	onComplete func(CallRecord)
	log        *slog.Logger
	clock      func() time.Time

	sinkTimeout time.Duration
}

func NewLedger(sink SummarySink, log *slog.Logger) *Ledger {
	if log == nil {
		log = slog.Default()
	}
	return &Ledger{
		records:     make(map[string]*CallRecord),
		byProvider:  make(map[string]string),
		byStream:    make(map[string]string),
		finalizing:  make(map[string]chan struct{}),
		sink:        sink,
		log:         log,
		clock:       time.Now,
		sinkTimeout: 5 * time.Second,
	}
}

// OnComplete registers the callback invoked once per call at its terminal
// transition. It runs before the terminal status is visible and must not
// write to the finishing call's record.
func (l *Ledger) OnComplete(fn func(CallRecord)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onComplete = fn
}

type CreateParams struct {
	// ID is optional; a uuid is generated when empty.
	ID        string
	Direction Direction
	From      string
	To        string
	Task      string
}

func (l *Ledger) Create(p CreateParams) (CallRecord, error) {
	if p.Direction != DirectionOutbound && p.Direction != DirectionInbound {
		return CallRecord{}, fmt.Errorf("calls: invalid direction %q", p.Direction)
	}
	id := p.ID
	if id == "" {
		id = uuid.NewString()
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, exists := l.records[id]; exists {
		return CallRecord{}, ErrDuplicateCall
	}
	rec := &CallRecord{
		ID:            id,
		Direction:     p.Direction,
		From:          p.From,
		To:            p.To,
		Task:          p.Task,
		Status:        StatusInitiating,
		StatusHistory: []Status{StatusInitiating},
		CreatedAt:     l.clock().UTC(),
	}
	l.records[id] = rec
	return rec.clone(), nil
}

func (l *Ledger) AttachProviderCallID(id, sid string) error {
	return l.attach(id, sid, l.byProvider, func(r *CallRecord) *string { return &r.ProviderCallID })
}

func (l *Ledger) AttachStreamID(id, streamID string) error {
	return l.attach(id, streamID, l.byStream, func(r *CallRecord) *string { return &r.StreamID })
}

func (l *Ledger) attach(id, value string, index map[string]string, field func(*CallRecord) *string) error {
	value = strings.TrimSpace(value)
	if value == "" {
		return fmt.Errorf("calls: empty identifier")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	rec, ok := l.settled(id)
	if !ok {
		return ErrNotFound
	}
	if owner, ok := index[value]; ok && owner != id {
		return ErrIdentifierInUse
	}
	cur := field(rec)
	if *cur == value {
		return nil
	}
	if *cur != "" {
		delete(index, *cur)
	}
	*cur = value
	index[value] = id
	return nil
}

func (l *Ledger) SetMachineDetection(id, answeredBy string) error {
	return l.update(id, func(r *CallRecord) error {
		r.AnsweredBy = strings.TrimSpace(answeredBy)
		return nil
	})
}

func (l *Ledger) AppendTranscript(id string, role Role, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	return l.update(id, func(r *CallRecord) error {
		r.Transcript = append(r.Transcript, TranscriptEntry{Role: role, Text: text, At: l.clock().UTC()})
		return nil
	})
}

func (l *Ledger) SetOutcome(id string, o Outcome) error {
	return l.update(id, func(r *CallRecord) error {
		if r.Outcome != nil {
			return ErrOutcomeAlreadySet
		}
		r.Outcome = &o
		return nil
	})
}

func (l *Ledger) SetError(id, msg string) error {
	return l.update(id, func(r *CallRecord) error {
		r.Error = msg
		return nil
	})
}

func (l *Ledger) update(id string, fn func(*CallRecord) error) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	rec, ok := l.settled(id)
	if !ok {
		return ErrNotFound
	}
	return fn(rec)
}

// settled returns the record once no terminal transition is in flight for it.
// l.mu must be held; it is released while waiting.
func (l *Ledger) settled(id string) (*CallRecord, bool) {
	for {
		done, busy := l.finalizing[id]
		if !busy {
			rec, ok := l.records[id]
			return rec, ok
		}
		l.mu.Unlock()
		<-done
		l.mu.Lock()
	}
}

// Advance moves a call to status. It reports whether the transition was
// applied. Terminal records, unchanged statuses and backwards moves between
// non-terminal statuses are accepted as no-ops so duplicate or reordered
// provider callbacks are harmless.
//
// The terminal transition writes the summary and invokes the completion
// callback before the terminal status becomes visible and before Advance
// returns.
func (l *Ledger) Advance(id string, status Status) (CallRecord, bool, error) {
	if !status.valid() {
		return CallRecord{}, false, ErrInvalidStatus
	}

	l.mu.Lock()
	rec, ok := l.settled(id)
	if !ok {
		l.mu.Unlock()
		return CallRecord{}, false, ErrNotFound
	}
	if rec.Status.IsTerminal() || rec.Status == status || status.rank() < rec.Status.rank() {
		out := rec.clone()
		l.mu.Unlock()
		return out, false, nil
	}

	now := l.clock().UTC()
	if !status.IsTerminal() {
		rec.Status = status
		rec.StatusHistory = append(rec.StatusHistory, status)
		if status == StatusInProgress && rec.AnsweredAt == nil {
			rec.AnsweredAt = &now
		}
		out := rec.clone()
		l.mu.Unlock()
		return out, true, nil
	}

	final := rec.clone()
	final.Status = status
	final.StatusHistory = append(final.StatusHistory, status)
	final.EndedAt = &now
	if final.AnsweredAt != nil {
		final.Duration = now.Sub(*final.AnsweredAt)
	}
	done := make(chan struct{})
	l.finalizing[id] = done
	sink, onComplete := l.sink, l.onComplete
	l.mu.Unlock()

	defer l.settle(final, done)
	l.finalize(final, sink, onComplete)
	return final.clone(), true, nil
}

// settle publishes the terminal state and wakes writers waiting on the call.
func (l *Ledger) settle(final CallRecord, done chan struct{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if rec, ok := l.records[final.ID]; ok {
		ended := *final.EndedAt
		rec.Status = final.Status
		rec.StatusHistory = append([]Status(nil), final.StatusHistory...)
		rec.EndedAt = &ended
		rec.Duration = final.Duration
	}
	delete(l.finalizing, final.ID)
	close(done)
}

func (l *Ledger) finalize(rec CallRecord, sink SummarySink, onComplete func(CallRecord)) {
	log := l.log.With("call_id", rec.ID, "status", string(rec.Status))

	if sink != nil {
		ctx, cancel := context.WithTimeout(context.Background(), l.sinkTimeout)
		err := sink.Append(ctx, summarize(&rec))
		cancel()
		if err != nil {
			log.Error("call summary append failed", "err", err)
		}
	}
	if onComplete != nil {
		onComplete(rec.clone())
	}
	log.Info("call finished", "duration_seconds", rec.DurationSeconds(), "transcript_entries", len(rec.Transcript))
}

func summarize(rec *CallRecord) calllog.Summary {
	s := calllog.Summary{
		CallID:            rec.ID,
		ProviderCallID:    rec.ProviderCallID,
		StreamID:          rec.StreamID,
		Direction:         string(rec.Direction),
		From:              rec.From,
		To:                rec.To,
		Task:              rec.Task,
		Status:            string(rec.Status),
		CreatedAt:         rec.CreatedAt,
		DurationSeconds:   rec.DurationSeconds(),
		AnsweredBy:        rec.AnsweredBy,
		TranscriptEntries: len(rec.Transcript),
		Error:             rec.Error,
	}
	if rec.AnsweredAt != nil {
		t := *rec.AnsweredAt
		s.AnsweredAt = &t
	}
	if rec.EndedAt != nil {
		s.EndedAt = *rec.EndedAt
	}
	if rec.Outcome != nil {
		s.Outcome = &calllog.Outcome{
			Success: rec.Outcome.Success,
			Summary: rec.Outcome.Summary,
			Details: rec.Outcome.Details,
		}
	}
	return s
}

// Get waits out a terminal transition in flight for id, so a caller never
// sees a call as live after its completion callback has run.
func (l *Ledger) Get(id string) (CallRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	rec, ok := l.settled(id)
	if !ok {
		return CallRecord{}, ErrNotFound
	}
	return rec.clone(), nil
}

func (l *Ledger) ByProviderCallID(sid string) (CallRecord, error) {
	return l.byIndex(l.byProvider, sid)
}

func (l *Ledger) ByStreamID(streamID string) (CallRecord, error) {
	return l.byIndex(l.byStream, streamID)
}

func (l *Ledger) byIndex(index map[string]string, key string) (CallRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	id, ok := index[key]
	if !ok {
		return CallRecord{}, ErrNotFound
	}
	rec, ok := l.settled(id)
	if !ok {
		return CallRecord{}, ErrNotFound
	}
	return rec.clone(), nil
}

// Active returns every record whose status is not terminal, oldest first.
func (l *Ledger) Active() []CallRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]CallRecord, 0, len(l.records))
	for _, rec := range l.records {
		if !rec.Status.IsTerminal() {
			out = append(out, rec.clone())
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// All returns every record still held, including finished calls inside
// their retention window, oldest first.
func (l *Ledger) All() []CallRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]CallRecord, 0, len(l.records))
	for _, rec := range l.records {
		out = append(out, rec.clone())
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Remove drops the record and its indexes.
func (l *Ledger) Remove(id string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	rec, ok := l.records[id]
	if !ok {
		return
	}
	if rec.ProviderCallID != "" {
		delete(l.byProvider, rec.ProviderCallID)
	}
	if rec.StreamID != "" {
		delete(l.byStream, rec.StreamID)
	}
	delete(l.records, id)
}
