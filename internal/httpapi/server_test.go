package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"voice-bridge/internal/auth"
	"voice-bridge/internal/bridge"
	"voice-bridge/internal/calllog"
	"voice-bridge/internal/calls"
	"voice-bridge/internal/config"
	"voice-bridge/internal/prompt"
	"voice-bridge/internal/routing"
	"voice-bridge/internal/telephony"
)

const (
	testBaseURL   = "https://bridge.example.com"
	testAuthToken = "twilio-token"
)

type fakeProvider struct {
	mu      sync.Mutex
	placed  []telephony.PlaceCallParams
	hungUp  []string
	failErr error
}

func (p *fakeProvider) PlaceCall(_ context.Context, params telephony.PlaceCallParams) (telephony.PlacedCall, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.placed = append(p.placed, params)
	if p.failErr != nil {
		return telephony.PlacedCall{}, p.failErr
	}
	return telephony.PlacedCall{SID: "CA900", Status: "queued"}, nil
}

func (p *fakeProvider) Hangup(_ context.Context, sid string) error {
	p.mu.Lock()
	p.hungUp = append(p.hungUp, sid)
	p.mu.Unlock()
	return nil
}

func (p *fakeProvider) VerifyAccount(context.Context) (telephony.AccountInfo, error) {
	return telephony.AccountInfo{}, nil
}

func (p *fakeProvider) VerifyNumber(context.Context, string) (telephony.NumberInfo, error) {
	return telephony.NumberInfo{Voice: true}, nil
}

type harness struct {
	srv      *Server
	router   *gin.Engine
	ledger   *calls.Ledger
	repo     *calllog.MemoryRepo
	provider *fakeProvider
	tokens   *auth.Manager
}

func newHarness(t *testing.T, mutate func(*Config)) *harness {
	t.Helper()
	gin.SetMode(gin.TestMode)

	repo := calllog.NewMemoryRepo()
	ledger := calls.NewLedger(repo, nil)
	provider := &fakeProvider{}
	cfg := Config{
		Ledger:        ledger,
		Provider:      provider,
		Dial:          func(context.Context) (bridge.Conn, error) { return nil, errors.New("no model") },
		PublicBaseURL: testBaseURL,
		FromNumber:    "+15550001111",
		RingTimeout:   30 * time.Second,
		MaxDuration:   10 * time.Minute,
		Retention:     time.Hour,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	srv, err := New(cfg)
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	})

	tokens, err := auth.NewManager(config.AuthConfig{JWTSecret: "secret"})
	if err != nil {
		t.Fatalf("auth manager: %v", err)
	}
	r := gin.New()
	srv.Register(r, testAuthToken, 1<<16, auth.RequireAccessToken(tokens))

	return &harness{srv: srv, router: r, ledger: ledger, repo: repo, provider: provider, tokens: tokens}
}

// signedForm builds a webhook request the way the provider signs it.
func signedForm(pathAndQuery string, form url.Values) *http.Request {
	body := form.Encode()
	req := httptest.NewRequest(http.MethodPost, pathAndQuery, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set(telephony.HeaderSignature, telephony.ComputeSignature(testAuthToken, testBaseURL+pathAndQuery, form))
	return req
}

func (h *harness) serve(req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	h.router.ServeHTTP(w, req)
	return w
}

func (h *harness) apiRequest(t *testing.T, method, path, role string, body any) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if role != "" {
		tok, err := h.tokens.Issue(time.Now(), "planner", role, time.Minute)
		if err != nil {
			t.Fatalf("issue: %v", err)
		}
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	return req
}

func inboundForm(sid, from string) url.Values {
	return url.Values{
		"CallSid":    {sid},
		"From":       {from},
		"To":         {"+15550001111"},
		"Direction":  {"inbound"},
		"CallStatus": {"ringing"},
	}
}

func TestWebhookRequiresSignature(t *testing.T) {
	h := newHarness(t, nil)

	req := httptest.NewRequest(http.MethodPost, "/voice/answer", strings.NewReader(inboundForm("CA1", "+15550002222").Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if w := h.serve(req); w.Code != http.StatusForbidden {
		t.Fatalf("expected 403 without signature, got %d", w.Code)
	}

	bad := signedForm("/voice/answer", inboundForm("CA1", "+15550002222"))
	bad.Header.Set(telephony.HeaderSignature, "bm9wZQ==")
	if w := h.serve(bad); w.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for wrong signature, got %d", w.Code)
	}
	if len(h.ledger.Active()) != 0 {
		t.Fatalf("expected no records")
	}
}

func TestInboundRejectedWhenDisabled(t *testing.T) {
	h := newHarness(t, nil)

	w := h.serve(signedForm("/voice/answer", inboundForm("CA1", "+15550002222")))
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "<Reject") {
		t.Fatalf("expected reject twiml, got %d %s", w.Code, w.Body.String())
	}
	if len(h.ledger.Active()) != 0 {
		t.Fatalf("expected rejected call to leave no record")
	}
}

func TestInboundAllowlistAndCapacity(t *testing.T) {
	h := newHarness(t, func(c *Config) {
		capacity := routing.LocalCapacity{Active: func() int { return len(c.Ledger.Active()) }, Limit: 1}
		c.Capacity = capacity
		c.Engine = routing.NewPolicyEngine(routing.PolicyAllowlist, []string{"+15550002222", "+15550003333"}, capacity, nil)
	})

	w := h.serve(signedForm("/voice/answer", inboundForm("CA1", "+15550009999")))
	if !strings.Contains(w.Body.String(), "<Reject") {
		t.Fatalf("expected unlisted caller to be rejected, got %s", w.Body.String())
	}

	w = h.serve(signedForm("/voice/answer", inboundForm("CA2", "+15550002222")))
	if !strings.Contains(w.Body.String(), "<Stream") || !strings.Contains(w.Body.String(), "wss://bridge.example.com/voice/realtime-stream") {
		t.Fatalf("expected stream twiml, got %s", w.Body.String())
	}
	rec, err := h.ledger.ByProviderCallID("CA2")
	if err != nil {
		t.Fatalf("expected record for CA2: %v", err)
	}
	if rec.Direction != calls.DirectionInbound || rec.Status != calls.StatusInProgress {
		t.Fatalf("unexpected record %+v", rec)
	}

	// Duplicate answer for the same provider call.
	w = h.serve(signedForm("/voice/answer", inboundForm("CA2", "+15550002222")))
	if !strings.Contains(w.Body.String(), "<Hangup") {
		t.Fatalf("expected hangup for duplicate answer, got %s", w.Body.String())
	}

	// At capacity: a listed caller hears an apology.
	w = h.serve(signedForm("/voice/answer", inboundForm("CA3", "+15550003333")))
	if !strings.Contains(w.Body.String(), "<Say") || !strings.Contains(w.Body.String(), "<Hangup") {
		t.Fatalf("expected apology at capacity, got %s", w.Body.String())
	}
	if len(h.ledger.Active()) != 1 {
		t.Fatalf("expected exactly one active call, got %d", len(h.ledger.Active()))
	}
}

func TestPlaceCall(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.MachineDetection = true })

	w := h.serve(h.apiRequest(t, http.MethodPost, "/v1/calls", "agent", map[string]any{"to": "+1 555 000 3333", "task": "Book a table for two."}))
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d %s", w.Code, w.Body.String())
	}
	var resp placeCallResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.CallID == "" || resp.ProviderCallID != "CA900" || resp.Status != calls.StatusInitiating {
		t.Fatalf("unexpected response %+v", resp)
	}

	if len(h.provider.placed) != 1 {
		t.Fatalf("expected one provider call")
	}
	p := h.provider.placed[0]
	if p.To != "+15550003333" || p.From != "+15550001111" {
		t.Fatalf("unexpected numbers %+v", p)
	}
	if p.AnswerURL != testBaseURL+"/voice/answer?callId="+resp.CallID {
		t.Fatalf("unexpected answer url %q", p.AnswerURL)
	}
	if !p.MachineDetection || p.AMDCallbackURL == "" {
		t.Fatalf("expected machine detection callback, got %+v", p)
	}

	rec, err := h.ledger.Get(resp.CallID)
	if err != nil || rec.Task != "Book a table for two." || rec.Direction != calls.DirectionOutbound {
		t.Fatalf("unexpected record %+v err=%v", rec, err)
	}

	w = h.serve(h.apiRequest(t, http.MethodGet, "/v1/calls/"+resp.CallID, "viewer", nil))
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), resp.CallID) {
		t.Fatalf("expected call lookup, got %d %s", w.Code, w.Body.String())
	}
	w = h.serve(h.apiRequest(t, http.MethodGet, "/v1/calls/missing", "viewer", nil))
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
	w = h.serve(h.apiRequest(t, http.MethodGet, "/v1/calls", "agent", nil))
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), resp.CallID) {
		t.Fatalf("expected active list, got %d %s", w.Code, w.Body.String())
	}
}

func TestPlaceCallAuthAndValidation(t *testing.T) {
	h := newHarness(t, nil)

	cases := []struct {
		name string
		role string
		body any
		want int
	}{
		{"no token", "", map[string]any{"to": "+15550003333"}, http.StatusUnauthorized},
		{"viewer", "viewer", map[string]any{"to": "+15550003333"}, http.StatusForbidden},
		{"bad number", "agent", map[string]any{"to": "555-0000"}, http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := h.serve(h.apiRequest(t, http.MethodPost, "/v1/calls", tc.role, tc.body))
			if w.Code != tc.want {
				t.Fatalf("expected %d, got %d %s", tc.want, w.Code, w.Body.String())
			}
		})
	}
	if len(h.provider.placed) != 0 {
		t.Fatalf("expected no provider calls")
	}
}

func TestPlaceCallTaskLengthCountsRunes(t *testing.T) {
	h := newHarness(t, nil)

	place := func(task string) calls.CallRecord {
		t.Helper()
		w := h.serve(h.apiRequest(t, http.MethodPost, "/v1/calls", "agent", map[string]any{"to": "+15550003333", "task": task}))
		if w.Code != http.StatusCreated {
			t.Fatalf("expected 201, got %d %s", w.Code, w.Body.String())
		}
		var resp placeCallResponse
		if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
			t.Fatalf("decode: %v", err)
		}
		rec, err := h.ledger.Get(resp.CallID)
		if err != nil {
			t.Fatalf("unexpected err: %v", err)
		}
		return rec
	}

	accented := strings.Repeat("é", 1500)
	if rec := place(accented); rec.Task != accented {
		t.Fatalf("expected 1500-rune task kept intact, got %d runes", utf8.RuneCountInString(rec.Task))
	}

	rec := place(strings.Repeat("ü", prompt.MaxTaskChars+1000))
	if n := utf8.RuneCountInString(rec.Task); n != prompt.MaxTaskChars {
		t.Fatalf("expected task cut to %d runes, got %d", prompt.MaxTaskChars, n)
	}
	if !strings.HasSuffix(rec.Task, prompt.TruncationMarker) {
		t.Fatalf("expected truncation marker on oversized task")
	}
}

func TestPlaceCallProviderFailure(t *testing.T) {
	h := newHarness(t, nil)
	h.provider.failErr = &telephony.APIError{Code: 21215, Message: "Geo permission denied", Status: 400}

	w := h.serve(h.apiRequest(t, http.MethodPost, "/v1/calls", "agent", map[string]any{"to": "+15550003333"}))
	if w.Code != http.StatusBadGateway || !strings.Contains(w.Body.String(), "Geo permission denied") {
		t.Fatalf("expected 502 with provider message, got %d %s", w.Code, w.Body.String())
	}
	sums := h.repo.Summaries()
	if len(sums) != 1 || sums[0].Status != string(calls.StatusFailed) {
		t.Fatalf("expected one failed summary, got %+v", sums)
	}
}

func TestPlaceCallAtCapacity(t *testing.T) {
	h := newHarness(t, func(c *Config) {
		c.Capacity = routing.LocalCapacity{Active: func() int { return len(c.Ledger.Active()) }, Limit: 1}
	})

	body := map[string]any{"to": "+15550003333"}
	if w := h.serve(h.apiRequest(t, http.MethodPost, "/v1/calls", "agent", body)); w.Code != http.StatusCreated {
		t.Fatalf("expected first call placed, got %d", w.Code)
	}
	if w := h.serve(h.apiRequest(t, http.MethodPost, "/v1/calls", "agent", body)); w.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", w.Code)
	}
}

func TestStatusCallbackAdvancesCall(t *testing.T) {
	h := newHarness(t, nil)
	rec, err := h.ledger.Create(calls.CreateParams{Direction: calls.DirectionOutbound, From: "+15550001111", To: "+15550003333"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	w := h.serve(signedForm("/voice/status?callId="+rec.ID, url.Values{"CallSid": {"CA7"}, "CallStatus": {"no-answer"}}))
	if w.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", w.Code)
	}
	got, _ := h.ledger.Get(rec.ID)
	if got.Status != calls.StatusNoAnswer || got.ProviderCallID != "CA7" {
		t.Fatalf("unexpected record %+v", got)
	}

	// Unknown calls and statuses are acknowledged.
	if w := h.serve(signedForm("/voice/status", url.Values{"CallSid": {"CA404"}, "CallStatus": {"completed"}})); w.Code != http.StatusNoContent {
		t.Fatalf("expected 204 for unknown call, got %d", w.Code)
	}
	if w := h.serve(signedForm("/voice/status?callId="+rec.ID, url.Values{"CallStatus": {"paused"}})); w.Code != http.StatusNoContent {
		t.Fatalf("expected 204 for unknown status, got %d", w.Code)
	}
}

func TestBodyLimit(t *testing.T) {
	h := newHarness(t, nil)
	form := url.Values{"CallSid": {"CA1"}, "Pad": {strings.Repeat("a", 1<<17)}}
	if w := h.serve(signedForm("/voice/status", form)); w.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d", w.Code)
	}
}

func TestStreamRejectsBadToken(t *testing.T) {
	h := newHarness(t, nil)
	ts := httptest.NewServer(h.router)
	defer ts.Close()

	rec, _ := h.ledger.Create(calls.CreateParams{Direction: calls.DirectionOutbound, To: "+15550003333"})
	tok, err := h.srv.mintToken(rec.ID)
	if err != nil {
		t.Fatalf("mint: %v", err)
	}

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + streamPath + "?callId=" + rec.ID + "&token=wrong"
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err == nil {
		t.Fatalf("expected upgrade to be refused")
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %+v", resp)
	}
	if h.srv.ActiveBridges() != 0 {
		t.Fatalf("expected no bridge")
	}
	// A mismatch leaves the real token usable.
	if !h.srv.consumeToken(rec.ID, tok) {
		t.Fatalf("expected original token to survive a mismatch")
	}
	if h.srv.consumeToken(rec.ID, tok) {
		t.Fatalf("expected token to be single use")
	}
}

func TestStreamTimeoutFailsCall(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.StreamTimeout = 20 * time.Millisecond })
	rec, _ := h.ledger.Create(calls.CreateParams{Direction: calls.DirectionOutbound, To: "+15550003333"})

	w := h.serve(signedForm("/voice/answer?callId="+rec.ID, url.Values{"CallSid": {"CA1"}, "CallStatus": {"in-progress"}}))
	if !strings.Contains(w.Body.String(), "<Stream") {
		t.Fatalf("expected stream twiml, got %s", w.Body.String())
	}
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if got, _ := h.ledger.Get(rec.ID); got.Status == calls.StatusFailed {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("expected call to fail when the stream never connects")
}

var tokenParam = regexp.MustCompile(`name="token" value="([^"]+)"`)

// fakeModel accepts one realtime session and answers session.update with a
// short audio delta.
func fakeModel(t *testing.T, got chan<- map[string]any) *httptest.Server {
	t.Helper()
	up := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			_, b, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var m map[string]any
			if json.Unmarshal(b, &m) != nil {
				continue
			}
			select {
			case got <- m:
			default:
			}
			if m["type"] == "session.update" {
				_ = conn.WriteJSON(map[string]any{"type": "response.audio.delta", "delta": "//8="})
			}
		}
	}))
}

func TestStreamBridgesCall(t *testing.T) {
	modelGot := make(chan map[string]any, 64)
	model := fakeModel(t, modelGot)
	defer model.Close()

	h := newHarness(t, func(c *Config) {
		c.Dial = func(ctx context.Context) (bridge.Conn, error) {
			conn, _, err := websocket.DefaultDialer.DialContext(ctx, "ws"+strings.TrimPrefix(model.URL, "http"), nil)
			if err != nil {
				return nil, err
			}
			return conn, nil
		}
	})
	ts := httptest.NewServer(h.router)
	defer ts.Close()

	rec, _ := h.ledger.Create(calls.CreateParams{Direction: calls.DirectionOutbound, To: "+15550003333", Task: "Confirm the delivery."})
	w := h.serve(signedForm("/voice/answer?callId="+rec.ID, url.Values{"CallSid": {"CA1"}, "CallStatus": {"in-progress"}}))
	m := tokenParam.FindStringSubmatch(w.Body.String())
	if m == nil {
		t.Fatalf("expected token parameter in %s", w.Body.String())
	}

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + streamPath + "?callId=" + rec.ID + "&token=" + url.QueryEscape(m[1])
	media, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial stream: %v", err)
	}
	defer media.Close()

	start := map[string]any{
		"event":     "start",
		"streamSid": "MZ1",
		"start": map[string]any{
			"streamSid":        "MZ1",
			"callSid":          "CA1",
			"customParameters": map[string]string{"callId": rec.ID},
		},
	}
	if err := media.WriteJSON(start); err != nil {
		t.Fatalf("write start: %v", err)
	}

	select {
	case ev := <-modelGot:
		if ev["type"] != "session.update" {
			t.Fatalf("expected session.update first, got %v", ev["type"])
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("expected model session to be configured")
	}

	_ = media.SetReadDeadline(time.Now().Add(2 * time.Second))
	var frame telephony.StreamMessage
	if err := media.ReadJSON(&frame); err != nil {
		t.Fatalf("read media frame: %v", err)
	}
	if frame.Event != "media" || frame.StreamSid != "MZ1" || frame.Media == nil || frame.Media.Payload != "//8=" {
		t.Fatalf("unexpected frame %+v", frame)
	}

	if err := media.WriteJSON(map[string]any{"event": "stop", "streamSid": "MZ1"}); err != nil {
		t.Fatalf("write stop: %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		got, _ := h.ledger.Get(rec.ID)
		if got.Status == calls.StatusCompleted && got.StreamID == "MZ1" {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	got, _ := h.ledger.Get(rec.ID)
	t.Fatalf("expected completed call, got %+v", got)
}

func TestCallsReport(t *testing.T) {
	h := newHarness(t, nil)
	if w := h.serve(h.apiRequest(t, http.MethodPost, "/v1/calls", "agent", map[string]any{"to": "+15550003333"})); w.Code != http.StatusCreated {
		t.Fatalf("expected call placed, got %d", w.Code)
	}

	w := h.serve(h.apiRequest(t, http.MethodGet, "/v1/reports/calls?direction=outbound", "viewer", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d %s", w.Code, w.Body.String())
	}
	var sum struct {
		TotalCalls  int `json:"total_calls"`
		ActiveCalls int `json:"active_calls"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &sum); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if sum.TotalCalls != 1 || sum.ActiveCalls != 1 {
		t.Fatalf("unexpected summary %+v", sum)
	}

	if w := h.serve(h.apiRequest(t, http.MethodGet, "/v1/reports/calls?from=yesterday", "viewer", nil)); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad bound, got %d", w.Code)
	}
}
