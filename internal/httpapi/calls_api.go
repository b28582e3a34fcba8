package httpapi

import (
	"errors"
	"net/http"
	"regexp"

	"github.com/gin-gonic/gin"

	"voice-bridge/internal/calls"
	"voice-bridge/internal/prompt"
	"voice-bridge/internal/telephony"
	"voice-bridge/pkg/logger"
)

// Handlers for the agent-facing call API. Keep these thin: parse and
// validate input, call internal services, return JSON.

var e164 = regexp.MustCompile(`^\+[1-9][0-9]{6,14}$`)

type placeCallRequest struct {
	To   string `json:"to"`
	Task string `json:"task"`

	// MachineDetection overrides the deployment default when set.
	MachineDetection *bool `json:"machine_detection,omitempty"`
}

type placeCallResponse struct {
	CallID         string       `json:"call_id"`
	ProviderCallID string       `json:"provider_call_id"`
	Status         calls.Status `json:"status"`
}

// PlaceCall starts an outbound call. The record exists before the provider
// is asked to dial, so every callback can find it.
func (s *Server) PlaceCall(c *gin.Context) {
	log := logger.FromGin(c)

	var req placeCallRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	to := telephony.NormalizePhone(req.To)
	if !e164.MatchString(to) {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "to must be an E.164 number"})
		return
	}
	// Oversized tasks are cut with a visible marker rather than refused.
	task := prompt.Sanitize(req.Task, prompt.MaxTaskChars)
	amd := s.cfg.MachineDetection
	if req.MachineDetection != nil {
		amd = *req.MachineDetection
	}

	s.admitMu.Lock()
	if s.cfg.Capacity != nil {
		ok, err := s.cfg.Capacity.Acquire(c.Request.Context())
		if err != nil {
			s.admitMu.Unlock()
			log.Error("capacity check failed", "err", err)
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "capacity check unavailable"})
			return
		}
		if !ok {
			s.admitMu.Unlock()
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "maximum concurrent calls reached"})
			return
		}
	}
	rec, err := s.cfg.Ledger.Create(calls.CreateParams{
		Direction: calls.DirectionOutbound,
		From:      s.cfg.FromNumber,
		To:        to,
		Task:      task,
	})
	if err != nil {
		s.admitMu.Unlock()
		s.release("")
		log.Error("call record create failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "could not create call"})
		return
	}
	if s.cfg.Capacity != nil {
		s.holdSlot(rec.ID)
	}
	s.admitMu.Unlock()

	log = log.With("call_id", rec.ID)
	params := telephony.PlaceCallParams{
		To:                to,
		From:              s.cfg.FromNumber,
		AnswerURL:         s.callbackURL("/voice/answer", rec.ID),
		StatusCallbackURL: s.callbackURL("/voice/status", rec.ID),
		RingTimeout:       s.cfg.RingTimeout,
		TimeLimit:         s.cfg.MaxDuration,
		MachineDetection:  amd,
	}
	if amd {
		params.AMDCallbackURL = s.callbackURL("/voice/amd", rec.ID)
	}

	placed, err := s.cfg.Provider.PlaceCall(c.Request.Context(), params)
	if err != nil {
		log.Error("place call failed", "err", err)
		_ = s.cfg.Ledger.SetError(rec.ID, err.Error())
		_, _, _ = s.cfg.Ledger.Advance(rec.ID, calls.StatusFailed)

		msg := "provider rejected the call"
		if apiErr, ok := telephony.IsAPIError(err); ok {
			msg = apiErr.Message
		}
		c.AbortWithStatusJSON(http.StatusBadGateway, gin.H{"error": msg, "call_id": rec.ID})
		return
	}
	if err := s.cfg.Ledger.AttachProviderCallID(rec.ID, placed.SID); err != nil {
		log.Warn("attach provider call id failed", "err", err)
	}
	if st, ok := calls.ParseProviderStatus(placed.Status); ok {
		_, _, _ = s.cfg.Ledger.Advance(rec.ID, st)
	}

	cur, _ := s.cfg.Ledger.Get(rec.ID)
	log.Info("outbound call placed", "provider_call_id", placed.SID)
	c.JSON(http.StatusCreated, placeCallResponse{CallID: rec.ID, ProviderCallID: placed.SID, Status: cur.Status})
}

// ListCalls returns every call that has not reached a terminal status.
func (s *Server) ListCalls(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"calls": s.cfg.Ledger.Active()})
}

// GetCall returns one record, including transcript and outcome, for as long
// as it is retained.
func (s *Server) GetCall(c *gin.Context) {
	rec, err := s.cfg.Ledger.Get(c.Param("call_id"))
	if errors.Is(err, calls.ErrNotFound) {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "call not found"})
		return
	}
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "lookup failed"})
		return
	}
	c.JSON(http.StatusOK, rec)
}
