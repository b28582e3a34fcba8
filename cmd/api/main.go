package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/redis/go-redis/v9"

	"voice-bridge/internal/auth"
	"voice-bridge/internal/bridge"
	"voice-bridge/internal/calllog"
	"voice-bridge/internal/calls"
	"voice-bridge/internal/config"
	"voice-bridge/internal/httpapi"
	"voice-bridge/internal/readiness"
	"voice-bridge/internal/realtime"
	"voice-bridge/internal/routing"
	"voice-bridge/internal/telephony"
	"voice-bridge/pkg/logger"
	"voice-bridge/pkg/utils"
)

func main() {
	// Root context that cancels on shutdown
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env)
	slog.SetDefault(log)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := run(rootCtx, stop, cfg, log); err != nil {
		log.Error("startup failed", "err", err)
		os.Exit(1)
	}
}

func run(rootCtx context.Context, stop context.CancelFunc, cfg config.Config, log *slog.Logger) error {
	authManager, err := auth.NewManager(cfg.Auth)
	if err != nil {
		return fmt.Errorf("auth init: %w", err)
	}

	// Call log: the JSONL file is always written; Postgres mirrors it when configured.
	fileRepo, err := calllog.NewFileRepo(cfg.Calls.LogPath)
	if err != nil {
		return fmt.Errorf("call log init: %w", err)
	}
	repos := calllog.MultiRepo{fileRepo}

	var db *sql.DB
	if cfg.PostgresEnabled() {
		db, err = utils.OpenPostgres(rootCtx, utils.DefaultPostgresDriver, cfg.PostgresDSN(), utils.PostgresPoolConfig{})
		if err != nil {
			return fmt.Errorf("postgres init: %w", err)
		}
		defer db.Close()

		pg := calllog.NewPostgresRepo(db)
		if err := pg.EnsureSchema(rootCtx); err != nil {
			return fmt.Errorf("postgres schema: %w", err)
		}
		repos = append(repos, pg)
	}
	ledger := calls.NewLedger(calllog.NewService(repos), log)

	var capacity routing.Capacity = routing.LocalCapacity{
		Active: func() int { return len(ledger.Active()) },
		Limit:  cfg.Calls.MaxConcurrent,
	}
	var rdb *redis.Client
	if cfg.RedisEnabled() {
		rdb, err = utils.OpenRedis(rootCtx, utils.RedisConfig{Addr: cfg.RedisAddr(), Password: cfg.Redis.Password})
		if err != nil {
			return fmt.Errorf("redis init: %w", err)
		}
		defer rdb.Close()

		capacity = routing.Chain{capacity, routing.RedisCapacity{
			Client: rdb,
			Key:    cfg.Redis.CapacityKey,
			Limit:  cfg.Calls.MaxConcurrent,
			TTL:    cfg.Calls.MaxDuration + 5*time.Minute,
		}}
	}

	policy, err := routing.ParsePolicy(cfg.Inbound.Policy)
	if err != nil {
		return err
	}
	engine := routing.NewPolicyEngine(policy, cfg.Inbound.Allowlist, capacity, log)

	twilio, err := telephony.NewTwilioClient(telephony.TwilioConfig{
		AccountSID: cfg.Twilio.AccountSID,
		AuthToken:  cfg.Twilio.AuthToken,
		BaseURL:    cfg.Twilio.APIBaseURL,
	})
	if err != nil {
		return fmt.Errorf("twilio init: %w", err)
	}
	dialer := realtime.Dialer{
		URL:              cfg.Realtime.URL,
		Model:            cfg.Realtime.Model,
		APIKey:           cfg.Realtime.APIKey,
		HandshakeTimeout: 10 * time.Second,
	}

	probe := readiness.ForConfig(cfg, readiness.Deps{
		Provider:   twilio,
		Dialer:     dialer,
		HTTP:       &http.Client{Timeout: readiness.DefaultCheckTimeout},
		DB:         db,
		Redis:      rdb,
		ListenAddr: fmt.Sprintf("127.0.0.1:%d", cfg.App.Port),
	}, readiness.DefaultCheckTimeout)

	api, err := httpapi.New(httpapi.Config{
		Ledger:   ledger,
		Provider: twilio,
		Dial:     bridge.WebsocketDialer(dialer),
		Bridge: bridge.Options{
			Voice:           cfg.Realtime.Voice,
			VAD:             realtime.VADConfig{Mode: cfg.Realtime.VAD, SilenceMS: cfg.Realtime.VADSilenceMS},
			InboundPersona:  cfg.Inbound.Persona,
			InboundGreeting: cfg.Inbound.Greeting,
			ToneGap:         cfg.Calls.DTMFGap,
			HangupGrace:     cfg.Calls.HangupGrace,
			DiagnosticsDir:  cfg.Calls.DiagnosticsDir,
		},
		Engine:           engine,
		Capacity:         capacity,
		Readiness:        probe,
		PublicBaseURL:    cfg.App.PublicBaseURL,
		FromNumber:       cfg.Twilio.PhoneNumber,
		RingTimeout:      cfg.Calls.RingTimeout,
		MaxDuration:      cfg.Calls.MaxDuration,
		MachineDetection: cfg.Calls.MachineDetection,
		Retention:        cfg.Calls.Retention,
		Log:              log,
	})
	if err != nil {
		return fmt.Errorf("http api init: %w", err)
	}

	r := newRouter(log, api, cfg, auth.RequireAccessToken(authManager))

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("api listening",
			"addr", srv.Addr,
			"env", cfg.App.Env,
			"public_base_url", cfg.App.PublicBaseURL,
			"inbound_policy", string(policy),
			"max_concurrent_calls", cfg.Calls.MaxConcurrent,
			"postgres", cfg.PostgresEnabled(),
			"redis", cfg.RedisEnabled(),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", "err", err)
			stop()
		}
	}()

	<-rootCtx.Done()
	log.Info("shutdown initiated", "active_bridges", api.ActiveBridges())

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "err", err)
	}
	// Media streams are hijacked connections; http.Server does not track them.
	if err := api.Shutdown(shutdownCtx); err != nil {
		log.Error("bridge shutdown failed", "err", err)
	}
	return nil
}
