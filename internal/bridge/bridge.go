// Package bridge relays one call's audio between the telephony media stream
// and the speech model, and executes the model's tool calls.
//
// Each Bridge runs a single loop goroutine. Two reader goroutines (one per
// leg) feed it events; every write to either connection happens on the loop.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"voice-bridge/internal/calls"
	"voice-bridge/internal/diagnostics"
	"voice-bridge/internal/realtime"
)

// Conn is the subset of *websocket.Conn the bridge needs. Close may be called
// concurrently with ReadMessage; WriteMessage is only called from the loop.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// DialFunc opens the model leg.
type DialFunc func(ctx context.Context) (Conn, error)

// WebsocketDialer adapts a realtime.Dialer.
func WebsocketDialer(d realtime.Dialer) DialFunc {
	return func(ctx context.Context) (Conn, error) {
		c, err := d.Dial(ctx)
		if err != nil {
			return nil, err
		}
		return c, nil
	}
}

// Hanger ends the provider side of a call.
type Hanger interface {
	Hangup(ctx context.Context, providerCallID string) error
}

type State int32

const (
	StateAwaitingMedia State = iota
	StateMediaConnected
	StateModelConnected
	StateActive
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateAwaitingMedia:
		return "awaiting-media-connection"
	case StateMediaConnected:
		return "media-connected"
	case StateModelConnected:
		return "model-connected"
	case StateActive:
		return "active"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

const (
	DefaultToneGap     = 120 * time.Millisecond
	DefaultHangupGrace = 1500 * time.Millisecond
	DefaultGreeting    = "Hello, thanks for calling. How can I help you today?"
)

type Options struct {
	Voice string
	VAD   realtime.VADConfig

	InboundPersona  string
	InboundGreeting string

	ToneGap     time.Duration
	HangupGrace time.Duration

	// DiagnosticsDir enables per-call capture when set.
	DiagnosticsDir string
}

func (o Options) withDefaults() Options {
	out := o
	if out.Voice == "" {
		out.Voice = realtime.DefaultVoice
	}
	if out.VAD.Mode == "" {
		out.VAD.Mode = realtime.VADServer
	}
	if out.VAD.Mode == realtime.VADServer && out.VAD.SilenceMS <= 0 {
		out.VAD.SilenceMS = 600
	}
	if out.InboundGreeting == "" {
		out.InboundGreeting = DefaultGreeting
	}
	if out.ToneGap <= 0 {
		out.ToneGap = DefaultToneGap
	}
	if out.HangupGrace <= 0 {
		out.HangupGrace = DefaultHangupGrace
	}
	return out
}

type leg int

const (
	legMedia leg = iota
	legModel
)

func (l leg) String() string {
	if l == legMedia {
		return "media"
	}
	return "model"
}

type eventKind int

const (
	eventData eventKind = iota
	eventClosed
	eventFailed
)

// event is the only thing the loop consumes. Every reader outcome maps to
// exactly one kind.
type event struct {
	leg  leg
	kind eventKind
	data []byte
	err  error
}

// Bridge owns one call's two connections.
type Bridge struct {
	callID    string
	direction calls.Direction
	task      string

	ledger *calls.Ledger
	media  Conn
	dial   DialFunc
	hanger Hanger
	opts   Options
	log    *slog.Logger
	rec    *diagnostics.Recorder

	events chan event
	stop   chan struct{}
	done   chan struct{}

	stopOnce sync.Once
	state    atomic.Int32

	// loop-owned
	model          Conn
	streamID       string
	providerCallID string
	ending         bool
}

type Config struct {
	CallID string
	Ledger *calls.Ledger
	Media  Conn
	Dial   DialFunc
	Hanger Hanger
	Opts   Options
	Log    *slog.Logger
}

// New prepares a bridge for an existing ledger record. The media connection
// has already been authenticated and upgraded.
func New(cfg Config) (*Bridge, error) {
	if cfg.Ledger == nil || cfg.Media == nil || cfg.Dial == nil {
		return nil, errors.New("bridge: ledger, media and dial are required")
	}
	rec, err := cfg.Ledger.Get(cfg.CallID)
	if err != nil {
		return nil, fmt.Errorf("bridge: %w", err)
	}
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}
	opts := cfg.Opts.withDefaults()

	b := &Bridge{
		callID:         rec.ID,
		direction:      rec.Direction,
		task:           rec.Task,
		providerCallID: rec.ProviderCallID,
		ledger:         cfg.Ledger,
		media:          cfg.Media,
		dial:           cfg.Dial,
		hanger:         cfg.Hanger,
		opts:           opts,
		log:            log.With("call_id", rec.ID, "direction", string(rec.Direction)),
		events:         make(chan event),
		stop:           make(chan struct{}),
		done:           make(chan struct{}),
	}

	r, err := diagnostics.Open(opts.DiagnosticsDir, rec.ID)
	if err != nil {
		b.log.Warn("diagnostics disabled for call", "err", err)
	}
	b.rec = r
	return b, nil
}

func (b *Bridge) CallID() string { return b.callID }

func (b *Bridge) State() State { return State(b.state.Load()) }

// Done is closed once the bridge has fully torn down.
func (b *Bridge) Done() <-chan struct{} { return b.done }

// Close asks the bridge to shut down. Safe to call any number of times from
// any goroutine; it does not wait.
func (b *Bridge) Close() {
	b.stopOnce.Do(func() { close(b.stop) })
}

// Run blocks until the call's bridge is closed.
func (b *Bridge) Run(ctx context.Context) {
	go b.read(legMedia, b.media)

	for {
		select {
		case ev := <-b.events:
			if b.handle(ctx, ev) {
				return
			}
		case <-b.stop:
			b.teardown(nil)
			return
		case <-ctx.Done():
			b.teardown(nil)
			return
		}
	}
}

func (b *Bridge) read(l leg, c Conn) {
	for {
		_, data, err := c.ReadMessage()
		if err != nil {
			kind := eventFailed
			if normalClose(err) {
				kind = eventClosed
			}
			b.post(event{leg: l, kind: kind, err: err})
			return
		}
		if !b.post(event{leg: l, kind: eventData, data: data}) {
			return
		}
	}
}

func (b *Bridge) post(ev event) bool {
	select {
	case b.events <- ev:
		return true
	case <-b.done:
		return false
	}
}

func normalClose(err error) bool {
	return websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, net.ErrClosed)
}

// handle processes one event and reports whether the bridge is now closed.
func (b *Bridge) handle(ctx context.Context, ev event) bool {
	switch ev.kind {
	case eventData:
		var err error
		if ev.leg == legMedia {
			err = b.onMedia(ctx, ev.data)
		} else {
			err = b.onModel(ev.data)
		}
		if err != nil {
			b.teardown(err)
			return true
		}
		return b.State() == StateClosed
	case eventClosed:
		b.log.Info("leg closed", "leg", ev.leg.String())
		b.rec.Event(ev.leg.String()+".closed", "")
		b.teardown(nil)
		return true
	case eventFailed:
		b.teardown(fmt.Errorf("%s leg: %w", ev.leg, ev.err))
		return true
	}
	return false
}

func (b *Bridge) setState(s State) {
	b.state.Store(int32(s))
	b.log.Debug("bridge state", "state", s.String())
}

// teardown runs once, on the loop goroutine.
func (b *Bridge) teardown(cause error) {
	if b.State() == StateClosed {
		return
	}
	b.setState(StateClosed)
	b.stopOnce.Do(func() { close(b.stop) })

	if cause != nil {
		b.log.Error("bridge failed", "err", cause)
		b.rec.Event("error", cause.Error())
		_ = b.ledger.SetError(b.callID, cause.Error())
	}

	if b.model != nil {
		_ = b.model.Close()
	}
	_ = b.media.Close()

	if cause != nil {
		if _, _, err := b.ledger.Advance(b.callID, calls.StatusFailed); err != nil {
			b.log.Warn("advance to failed", "err", err)
		}
		if b.providerCallID != "" && b.hanger != nil {
			sid := b.providerCallID
			go func() {
				ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				if err := b.hanger.Hangup(ctx, sid); err != nil {
					b.log.Warn("hangup after failure", "err", err)
				}
			}()
		}
	} else if rec, err := b.ledger.Get(b.callID); err == nil && rec.Status == calls.StatusInProgress {
		if _, _, err := b.ledger.Advance(b.callID, calls.StatusCompleted); err != nil {
			b.log.Warn("advance to completed", "err", err)
		}
	}

	if rec, err := b.ledger.Get(b.callID); err == nil {
		if err := b.rec.Close(rec); err != nil {
			b.log.Warn("diagnostics flush failed", "err", err)
		}
	}

	close(b.done)
	b.log.Info("bridge closed")
}
