// Package httpapi is the bridge's HTTP surface: provider webhooks, the media
// stream upgrade and the agent-facing call API.
package httpapi

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"voice-bridge/internal/bridge"
	"voice-bridge/internal/calls"
	"voice-bridge/internal/readiness"
	"voice-bridge/internal/reporting"
	"voice-bridge/internal/routing"
	"voice-bridge/internal/telephony"
)

const (
	DefaultRetention     = 15 * time.Minute
	DefaultStreamTimeout = 30 * time.Second
	streamPath           = "/voice/realtime-stream"
	upgradeHandshakeTime = 10 * time.Second
)

type Config struct {
	Ledger   *calls.Ledger
	Provider telephony.Provider
	Dial     bridge.DialFunc
	Bridge   bridge.Options

	// Engine decides inbound calls. Capacity is the same gate the engine
	// acquires from; the server uses it for outbound admission and releases
	// slots when calls end.
	Engine   routing.Engine
	Capacity routing.Capacity

	Readiness *readiness.Probe

	PublicBaseURL    string
	FromNumber       string
	RingTimeout      time.Duration
	MaxDuration      time.Duration
	MachineDetection bool

	// Retention keeps finished records readable through the call API.
	Retention time.Duration
	// StreamTimeout fails an answered call whose media stream never connects.
	StreamTimeout time.Duration

	Log *slog.Logger
}

// Server owns per-call secrets and running bridges. It never calls the
// ledger while holding mu; the ledger's completion callback takes mu.
type Server struct {
	cfg      Config
	log      *slog.Logger
	upgrader websocket.Upgrader
	reports  *reporting.Service

	baseCtx context.Context
	cancel  context.CancelFunc
	running sync.WaitGroup

	// admitMu serializes capacity checks with record creation.
	admitMu sync.Mutex

	mu      sync.Mutex
	tokens  map[string]string
	bridges map[string]*bridge.Bridge
	slots   map[string]struct{}
}

func New(cfg Config) (*Server, error) {
	if cfg.Ledger == nil || cfg.Provider == nil || cfg.Dial == nil {
		return nil, errors.New("httpapi: ledger, provider and dial are required")
	}
	if cfg.PublicBaseURL == "" {
		return nil, errors.New("httpapi: public base url is required")
	}
	if cfg.Engine == nil {
		cfg.Engine = routing.NewPolicyEngine(routing.PolicyDisabled, nil, nil, cfg.Log)
	}
	if cfg.Retention <= 0 {
		cfg.Retention = DefaultRetention
	}
	if cfg.StreamTimeout <= 0 {
		cfg.StreamTimeout = DefaultStreamTimeout
	}
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		cfg:     cfg,
		log:     cfg.Log,
		baseCtx: ctx,
		cancel:  cancel,
		reports: reporting.NewService(cfg.Ledger),
		upgrader: websocket.Upgrader{
			HandshakeTimeout: upgradeHandshakeTime,
			ReadBufferSize:   4096,
			WriteBufferSize:  4096,
		},
		tokens:  make(map[string]string),
		bridges: make(map[string]*bridge.Bridge),
		slots:   make(map[string]struct{}),
	}
	cfg.Ledger.OnComplete(s.onCallComplete)
	return s, nil
}

// onCallComplete runs inside the ledger's terminal transition and must not
// call back into the ledger synchronously.
func (s *Server) onCallComplete(rec calls.CallRecord) {
	s.mu.Lock()
	delete(s.tokens, rec.ID)
	b := s.bridges[rec.ID]
	_, heldSlot := s.slots[rec.ID]
	delete(s.slots, rec.ID)
	s.mu.Unlock()

	if b != nil {
		b.Close()
	}
	if heldSlot {
		go s.release(rec.ID)
	}
	id := rec.ID
	time.AfterFunc(s.cfg.Retention, func() { s.cfg.Ledger.Remove(id) })
}

func (s *Server) release(callID string) {
	if s.cfg.Capacity == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.cfg.Capacity.Release(ctx); err != nil {
		s.log.Warn("capacity release failed", "call_id", callID, "err", err)
	}
}

func (s *Server) holdSlot(callID string) {
	s.mu.Lock()
	s.slots[callID] = struct{}{}
	s.mu.Unlock()
}

// mintToken issues the single-use secret the media upgrade must present.
func (s *Server) mintToken(callID string) (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("httpapi: token: %w", err)
	}
	tok := base64.RawURLEncoding.EncodeToString(b)

	s.mu.Lock()
	s.tokens[callID] = tok
	s.mu.Unlock()
	return tok, nil
}

// consumeToken reports whether token matches the one minted for callID. A
// match consumes it; a mismatch leaves it in place.
func (s *Server) consumeToken(callID, token string) bool {
	if callID == "" || token == "" {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	want, ok := s.tokens[callID]
	if !ok || subtle.ConstantTimeCompare([]byte(want), []byte(token)) != 1 {
		return false
	}
	delete(s.tokens, callID)
	return true
}

func (s *Server) register(b *bridge.Bridge) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.bridges[b.CallID()]; exists {
		return false
	}
	s.bridges[b.CallID()] = b
	return true
}

func (s *Server) unregister(b *bridge.Bridge) {
	s.mu.Lock()
	if s.bridges[b.CallID()] == b {
		delete(s.bridges, b.CallID())
	}
	s.mu.Unlock()
}

// ActiveBridges is the number of running bridges.
func (s *Server) ActiveBridges() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.bridges)
}

// Shutdown closes every bridge and waits for them, or for ctx.
func (s *Server) Shutdown(ctx context.Context) error {
	s.cancel()
	done := make(chan struct{})
	go func() {
		s.running.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Server) callbackURL(path, callID string) string {
	return s.cfg.PublicBaseURL + path + "?callId=" + url.QueryEscape(callID)
}

// streamURL is the wss:// upgrade endpoint carrying the call id and token.
func (s *Server) streamURL(callID, token string) (string, error) {
	u, err := url.Parse(s.cfg.PublicBaseURL)
	if err != nil {
		return "", err
	}
	u.Scheme = "wss"
	u.Path = streamPath
	q := url.Values{}
	q.Set("callId", callID)
	q.Set("token", token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}
