package httpapi

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"voice-bridge/internal/calls"
	"voice-bridge/internal/reporting"
)

// CallsReport aggregates the retained call records. from and to are
// optional RFC 3339 bounds.
func (s *Server) CallsReport(c *gin.Context) {
	var req reporting.CallsSummaryRequest
	for _, b := range []struct {
		key string
		dst *time.Time
	}{{"from", &req.Range.From}, {"to", &req.Range.To}} {
		raw := c.Query(b.key)
		if raw == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": b.key + " must be RFC 3339"})
			return
		}
		*b.dst = t
	}
	req.Direction = calls.Direction(c.Query("direction"))

	sum, err := s.reports.CallsSummary(c.Request.Context(), req)
	if errors.Is(err, reporting.ErrInvalidRequest) {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid report request"})
		return
	}
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "report failed"})
		return
	}
	c.JSON(http.StatusOK, sum)
}
