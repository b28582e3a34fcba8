package main

import (
	"log/slog"

	"github.com/gin-gonic/gin"

	"voice-bridge/internal/config"
	"voice-bridge/internal/httpapi"
	"voice-bridge/pkg/logger"
)

// newRouter builds the engine. Keep this file free of business logic;
// handlers live in internal/httpapi.
func newRouter(log *slog.Logger, api *httpapi.Server, cfg config.Config, authMW gin.HandlerFunc) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))

	// TLS terminates in front of us; only loopback proxies are trusted for
	// client IP headers.
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	api.Register(r, cfg.Twilio.AuthToken, cfg.App.MaxBodyBytes, authMW)
	return r
}
