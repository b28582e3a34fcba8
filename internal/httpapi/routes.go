package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"voice-bridge/internal/rbac"
	"voice-bridge/internal/telephony"
)

// Register wires every route onto r. authMW protects the agent API;
// webhooks are protected by the provider signature instead.
func (s *Server) Register(r *gin.Engine, authToken string, maxBody int64, authMW gin.HandlerFunc) {
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// Provider webhooks.
	signed := r.Group("/voice", BodyLimit(maxBody), telephony.RequireSignature(authToken, s.cfg.PublicBaseURL))
	{
		signed.GET("/answer", s.Answer)
		signed.POST("/answer", s.Answer)
		signed.POST("/status", s.Status)
		signed.POST("/amd", s.MachineDetection)
	}
	r.GET("/voice/status", s.Readiness)

	// Authenticated by the per-call token, not the signature.
	r.GET(streamPath, s.Stream)

	v1 := r.Group("/v1", BodyLimit(maxBody), authMW)
	{
		v1.POST("/calls", rbac.RequireAnyRole(rbac.RoleAgent), s.PlaceCall)
		v1.GET("/calls", rbac.RequireAnyRole(rbac.RoleAgent, rbac.RoleViewer), s.ListCalls)
		v1.GET("/calls/:call_id", rbac.RequireAnyRole(rbac.RoleAgent, rbac.RoleViewer), s.GetCall)
		v1.GET("/reports/calls", rbac.RequireAnyRole(rbac.RoleAgent, rbac.RoleViewer), s.CallsReport)
	}
}
