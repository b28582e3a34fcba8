package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"voice-bridge/internal/bridge"
	"voice-bridge/internal/calls"
	"voice-bridge/internal/routing"
	"voice-bridge/internal/telephony"
	"voice-bridge/pkg/logger"
)

const (
	apologyText     = "We're sorry, all of our lines are busy right now. Please try again later."
	unavailableText = "We're sorry, this call cannot be connected."
)

func twiml(c *gin.Context, body string, err error) {
	if err != nil {
		logger.FromGin(c).Error("twiml render failed", "err", err)
		c.AbortWithStatus(http.StatusInternalServerError)
		return
	}
	c.Data(http.StatusOK, "application/xml; charset=utf-8", []byte(body))
}

// Answer returns call instructions. Outbound calls carry our callId; inbound
// calls go through routing first.
func (s *Server) Answer(c *gin.Context) {
	wh, err := telephony.ParseVoiceWebhook(c.Request)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid form"})
		return
	}
	log := logger.FromGin(c).With("provider_call_id", wh.CallSid)

	if wh.CallID != "" {
		s.answerOutbound(c, wh)
		return
	}
	if !wh.Inbound() {
		log.Warn("answer webhook without call id", "direction", wh.Direction)
		body, err := telephony.RejectResponse("rejected")
		twiml(c, body, err)
		return
	}
	s.answerInbound(c, wh)
}

func (s *Server) answerOutbound(c *gin.Context, wh telephony.VoiceWebhook) {
	log := logger.FromGin(c).With("call_id", wh.CallID, "provider_call_id", wh.CallSid)

	rec, err := s.cfg.Ledger.Get(wh.CallID)
	if err != nil || rec.Status.IsTerminal() {
		log.Warn("answer for unknown or finished call")
		body, err := telephony.SayHangupResponse(unavailableText)
		twiml(c, body, err)
		return
	}
	if wh.CallSid != "" {
		if err := s.cfg.Ledger.AttachProviderCallID(rec.ID, wh.CallSid); err != nil {
			log.Warn("provider call id conflict", "err", err)
			body, err := telephony.SayHangupResponse(unavailableText)
			twiml(c, body, err)
			return
		}
	}
	if _, _, err := s.cfg.Ledger.Advance(rec.ID, calls.StatusInProgress); err != nil {
		log.Warn("advance on answer failed", "err", err)
	}
	if wh.AnsweredBy != "" {
		_ = s.cfg.Ledger.SetMachineDetection(rec.ID, wh.AnsweredBy)
	}
	s.connect(c, rec.ID)
}

func (s *Server) answerInbound(c *gin.Context, wh telephony.VoiceWebhook) {
	log := logger.FromGin(c).With("provider_call_id", wh.CallSid)
	ctx := routing.WithClientIP(c.Request.Context(), c.ClientIP())

	if wh.CallSid != "" {
		if _, err := s.cfg.Ledger.ByProviderCallID(wh.CallSid); err == nil {
			// Provider retried the answer webhook; the first attempt already
			// created the record.
			log.Warn("duplicate inbound answer")
			body, err := telephony.SayHangupResponse(unavailableText)
			twiml(c, body, err)
			return
		}
	}

	s.admitMu.Lock()
	d, err := s.cfg.Engine.RouteInbound(ctx, routing.InboundRequest{ProviderCallID: wh.CallSid, From: wh.From, To: wh.To})
	if err != nil {
		s.admitMu.Unlock()
		log.Error("inbound routing failed", "err", err)
		body, err := telephony.SayHangupResponse(apologyText)
		twiml(c, body, err)
		return
	}
	switch d.Action {
	case routing.ActionReject:
		s.admitMu.Unlock()
		body, err := telephony.RejectResponse("rejected")
		twiml(c, body, err)
		return
	case routing.ActionApologize:
		s.admitMu.Unlock()
		body, err := telephony.SayHangupResponse(apologyText)
		twiml(c, body, err)
		return
	}

	rec, err := s.cfg.Ledger.Create(calls.CreateParams{Direction: calls.DirectionInbound, From: wh.From, To: wh.To})
	if err != nil {
		s.admitMu.Unlock()
		s.release("")
		log.Error("inbound record create failed", "err", err)
		body, err := telephony.SayHangupResponse(apologyText)
		twiml(c, body, err)
		return
	}
	s.holdSlot(rec.ID)
	s.admitMu.Unlock()

	if wh.CallSid != "" {
		if err := s.cfg.Ledger.AttachProviderCallID(rec.ID, wh.CallSid); err != nil {
			log.Warn("provider call id conflict", "err", err)
		}
	}
	if _, _, err := s.cfg.Ledger.Advance(rec.ID, calls.StatusInProgress); err != nil {
		log.Warn("advance on answer failed", "err", err)
	}
	log.Info("inbound call accepted", "call_id", rec.ID)
	s.connect(c, rec.ID)
}

func (s *Server) connect(c *gin.Context, callID string) {
	tok, err := s.mintToken(callID)
	if err != nil {
		twiml(c, "", err)
		return
	}
	streamURL, err := s.streamURL(callID, tok)
	if err != nil {
		twiml(c, "", err)
		return
	}
	body, err := telephony.StreamResponse(streamURL, map[string]string{"callId": callID, "token": tok})
	twiml(c, body, err)
	time.AfterFunc(s.cfg.StreamTimeout, func() { s.expireToken(callID, tok) })
}

// expireToken fails a call whose media stream never arrived.
func (s *Server) expireToken(callID, tok string) {
	s.mu.Lock()
	pending := s.tokens[callID] == tok
	if pending {
		delete(s.tokens, callID)
	}
	s.mu.Unlock()
	if !pending {
		return
	}

	s.log.Warn("media stream never connected", "call_id", callID)
	_ = s.cfg.Ledger.SetError(callID, "media stream never connected")
	_, _, _ = s.cfg.Ledger.Advance(callID, calls.StatusFailed)
}

// Status applies provider status callbacks. Unknown calls and unknown
// statuses are acknowledged and ignored.
func (s *Server) Status(c *gin.Context) {
	wh, err := telephony.ParseVoiceWebhook(c.Request)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid form"})
		return
	}
	log := logger.FromGin(c).With("provider_call_id", wh.CallSid, "call_status", wh.CallStatus)

	status, ok := calls.ParseProviderStatus(wh.CallStatus)
	if !ok {
		log.Debug("ignoring unknown call status")
		c.Status(http.StatusNoContent)
		return
	}
	rec, err := s.lookup(wh)
	if err != nil {
		log.Debug("status for unknown call")
		c.Status(http.StatusNoContent)
		return
	}
	if wh.CallSid != "" && rec.ProviderCallID == "" {
		_ = s.cfg.Ledger.AttachProviderCallID(rec.ID, wh.CallSid)
	}
	if wh.AnsweredBy != "" {
		_ = s.cfg.Ledger.SetMachineDetection(rec.ID, wh.AnsweredBy)
	}
	if _, changed, err := s.cfg.Ledger.Advance(rec.ID, status); err != nil {
		log.Warn("status advance failed", "call_id", rec.ID, "err", err)
	} else if changed {
		log.Info("call status", "call_id", rec.ID, "status", string(status))
	}
	c.Status(http.StatusNoContent)
}

// MachineDetection records the asynchronous answering-machine result.
func (s *Server) MachineDetection(c *gin.Context) {
	wh, err := telephony.ParseVoiceWebhook(c.Request)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid form"})
		return
	}
	rec, err := s.lookup(wh)
	if err == nil && wh.AnsweredBy != "" {
		_ = s.cfg.Ledger.SetMachineDetection(rec.ID, wh.AnsweredBy)
		logger.FromGin(c).Info("machine detection", "call_id", rec.ID, "answered_by", wh.AnsweredBy)
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) lookup(wh telephony.VoiceWebhook) (calls.CallRecord, error) {
	if wh.CallID != "" {
		return s.cfg.Ledger.Get(wh.CallID)
	}
	if wh.CallSid != "" {
		return s.cfg.Ledger.ByProviderCallID(wh.CallSid)
	}
	return calls.CallRecord{}, calls.ErrNotFound
}

// Stream authenticates and upgrades the provider's media connection, then
// runs the call's bridge until it closes.
func (s *Server) Stream(c *gin.Context) {
	callID := c.Query("callId")
	log := logger.FromGin(c).With("call_id", callID)

	if !s.consumeToken(callID, c.Query("token")) {
		log.Warn("media upgrade refused")
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "invalid stream token"})
		return
	}
	rec, err := s.cfg.Ledger.Get(callID)
	if err != nil || rec.Status.IsTerminal() {
		c.AbortWithStatusJSON(http.StatusGone, gin.H{"error": "call is not active"})
		return
	}

	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade has already written the error response.
		log.Warn("media upgrade failed", "err", err)
		return
	}
	// Server read/write timeouts must not apply to the long-lived stream.
	_ = conn.NetConn().SetDeadline(time.Time{})

	b, err := bridge.New(bridge.Config{
		CallID: callID,
		Ledger: s.cfg.Ledger,
		Media:  conn,
		Dial:   s.cfg.Dial,
		Hanger: s.cfg.Provider,
		Opts:   s.cfg.Bridge,
		Log:    s.log,
	})
	if err != nil {
		log.Error("bridge init failed", "err", err)
		_ = conn.Close()
		return
	}
	if !s.register(b) {
		log.Warn("bridge already running for call")
		_ = conn.Close()
		return
	}
	defer s.unregister(b)

	// The call may have ended between the token check and registration.
	if rec, err := s.cfg.Ledger.Get(callID); err != nil || rec.Status.IsTerminal() {
		b.Close()
	}

	s.running.Add(1)
	defer s.running.Done()
	b.Run(s.baseCtx)
}

// Readiness reports whether the deployment can take calls.
func (s *Server) Readiness(c *gin.Context) {
	if s.cfg.Readiness == nil {
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "readiness probe not configured"})
		return
	}
	rep := s.cfg.Readiness.Run(c.Request.Context())
	code := http.StatusOK
	if !rep.Ready {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, rep)
}
