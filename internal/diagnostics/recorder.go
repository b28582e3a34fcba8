// Package diagnostics captures per-call audio in both directions plus an event
// trace for offline inspection. A nil *Recorder is valid and records nothing.
package diagnostics

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"voice-bridge/internal/audio"
	"voice-bridge/internal/calls"
)

// maxAudioBytes caps each direction at about 35 minutes of 8 kHz mu-law.
const maxAudioBytes = 16 << 20

type traceEvent struct {
	At     time.Time `json:"at"`
	Kind   string    `json:"kind"`
	Detail string    `json:"detail,omitempty"`
}

type Recorder struct {
	mu       sync.Mutex
	dir      string
	inbound  bytes.Buffer
	outbound bytes.Buffer
	events   []traceEvent
	closed   bool
	clock    func() time.Time
}

// Open prepares <baseDir>/<callID>. An empty baseDir disables recording and
// returns a nil Recorder.
func Open(baseDir, callID string) (*Recorder, error) {
	if baseDir == "" {
		return nil, nil
	}
	if callID == "" || callID != filepath.Base(callID) || strings.ContainsAny(callID, `/\`) || callID == "." || callID == ".." {
		return nil, fmt.Errorf("diagnostics: invalid call id %q", callID)
	}
	dir := filepath.Join(baseDir, callID)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("diagnostics: create dir: %w", err)
	}
	return &Recorder{dir: dir, clock: time.Now}, nil
}

// Dir is where artifacts are written.
func (r *Recorder) Dir() string {
	if r == nil {
		return ""
	}
	return r.dir
}

// Inbound records audio received from the telephony leg.
func (r *Recorder) Inbound(b []byte) {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	appendCapped(&r.inbound, b)
}

// Outbound records audio sent to the telephony leg.
func (r *Recorder) Outbound(b []byte) {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	appendCapped(&r.outbound, b)
}

func appendCapped(buf *bytes.Buffer, b []byte) {
	room := maxAudioBytes - buf.Len()
	if room <= 0 {
		return
	}
	if len(b) > room {
		b = b[:room]
	}
	buf.Write(b)
}

func (r *Recorder) Event(kind, detail string) {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.events = append(r.events, traceEvent{At: r.clock().UTC(), Kind: kind, Detail: detail})
}

// Close flushes raw captures, their WAV equivalents and trace.json. Calling
// it again is a no-op.
func (r *Recorder) Close(rec calls.CallRecord) error {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true

	var errs []error
	for _, leg := range []struct {
		name string
		data []byte
	}{
		{"inbound", r.inbound.Bytes()},
		{"outbound", r.outbound.Bytes()},
	} {
		errs = append(errs, writeFile(filepath.Join(r.dir, leg.name+".ulaw"), leg.data))

		var wav bytes.Buffer
		if err := audio.WriteWAV(&wav, leg.data); err != nil {
			errs = append(errs, err)
			continue
		}
		errs = append(errs, writeFile(filepath.Join(r.dir, leg.name+".wav"), wav.Bytes()))
	}

	trace := struct {
		Call   calls.CallRecord `json:"call"`
		Events []traceEvent     `json:"events"`
	}{rec, r.events}
	b, err := json.MarshalIndent(trace, "", "  ")
	if err != nil {
		errs = append(errs, err)
	} else {
		errs = append(errs, writeFile(filepath.Join(r.dir, "trace.json"), b))
	}
	return errors.Join(errs...)
}

func writeFile(path string, b []byte) error {
	if err := os.WriteFile(path, b, 0o600); err != nil {
		return fmt.Errorf("diagnostics: write %s: %w", filepath.Base(path), err)
	}
	return nil
}
