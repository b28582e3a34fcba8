package readiness

import (
	"database/sql"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	"voice-bridge/internal/config"
	"voice-bridge/internal/realtime"
	"voice-bridge/internal/telephony"
)

// Deps are the live clients a deployment probe checks. Nil stores are
// skipped when the config does not enable them.
type Deps struct {
	Provider telephony.Provider
	Dialer   realtime.Dialer
	HTTP     *http.Client
	DB       *sql.DB
	Redis    *redis.Client

	// DBErr and RedisErr carry why a store could not be opened; the store
	// check reports them instead of a bare "not connected".
	DBErr    error
	RedisErr error

	// ListenAddr is dialed to confirm the server accepts connections. Empty
	// skips the check.
	ListenAddr string
}

// ForConfig assembles the standard probe for a deployment.
func ForConfig(cfg config.Config, d Deps, timeout time.Duration) *Probe {
	checks := []Check{
		TwilioAccount(d.Provider),
		TwilioNumber(d.Provider, cfg.Twilio.PhoneNumber),
		ModelAPI(d.Dialer, d.HTTP),
		PublicEndpoint(cfg.App.PublicBaseURL, nil),
	}
	if d.ListenAddr != "" {
		checks = append(checks, Listener(d.ListenAddr))
	}
	if cfg.PostgresEnabled() {
		checks = append(checks, Postgres(d.DB, d.DBErr))
	}
	if cfg.RedisEnabled() {
		key := cfg.Redis.CapacityKey
		if key == "" {
			key = config.DefaultCapacityKey
		}
		checks = append(checks, Redis(d.Redis, d.RedisErr, key))
	}
	return New(timeout, checks...)
}
