// Package readiness answers "can this deployment take a call right now".
//
// Checks run concurrently; one failing check never hides the others.
package readiness

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"voice-bridge/internal/publicurl"
	"voice-bridge/internal/realtime"
	"voice-bridge/internal/telephony"
	"voice-bridge/pkg/utils"
)

const DefaultCheckTimeout = 5 * time.Second

// Check returns a short human-readable detail on success.
type Check struct {
	Name string
	Run  func(ctx context.Context) (string, error)
}

type Result struct {
	Name       string `json:"name"`
	OK         bool   `json:"ok"`
	Detail     string `json:"detail,omitempty"`
	DurationMS int64  `json:"duration_ms"`
}

type Report struct {
	Ready     bool      `json:"ready"`
	CheckedAt time.Time `json:"checked_at"`
	Checks    []Result  `json:"checks"`
}

type Probe struct {
	checks  []Check
	timeout time.Duration
	now     func() time.Time
}

func New(timeout time.Duration, checks ...Check) *Probe {
	if timeout <= 0 {
		timeout = DefaultCheckTimeout
	}
	return &Probe{checks: checks, timeout: timeout, now: time.Now}
}

// Run executes every check. Results keep registration order.
func (p *Probe) Run(ctx context.Context) Report {
	results := make([]Result, len(p.checks))

	var g errgroup.Group
	for i, c := range p.checks {
		i, c := i, c
		g.Go(func() error {
			cctx, cancel := context.WithTimeout(ctx, p.timeout)
			defer cancel()

			start := time.Now()
			detail, err := c.Run(cctx)
			r := Result{Name: c.Name, OK: err == nil, Detail: detail, DurationMS: time.Since(start).Milliseconds()}
			if err != nil {
				r.Detail = err.Error()
			}
			results[i] = r
			return nil
		})
	}
	_ = g.Wait()

	ready := true
	for _, r := range results {
		ready = ready && r.OK
	}
	return Report{Ready: ready, CheckedAt: p.now().UTC(), Checks: results}
}

func TwilioAccount(p telephony.Provider) Check {
	return Check{Name: "twilio_account", Run: func(ctx context.Context) (string, error) {
		info, err := p.VerifyAccount(ctx)
		if err != nil {
			return "", err
		}
		if info.Status != "" && info.Status != "active" {
			return "", fmt.Errorf("account %s is %s", info.MaskedSID, info.Status)
		}
		return fmt.Sprintf("%s (%s)", info.MaskedSID, info.FriendlyName), nil
	}}
}

func TwilioNumber(p telephony.Provider, number string) Check {
	return Check{Name: "twilio_number", Run: func(ctx context.Context) (string, error) {
		info, err := p.VerifyNumber(ctx, number)
		if err != nil {
			return "", err
		}
		if !info.Voice {
			return "", fmt.Errorf("%s is not voice capable", info.Number)
		}
		return info.Number + " voice", nil
	}}
}

func ModelAPI(d realtime.Dialer, hc *http.Client) Check {
	return Check{Name: "model_api", Run: func(ctx context.Context) (string, error) {
		if err := d.CheckAPI(ctx, hc); err != nil {
			return "", err
		}
		return "api key accepted", nil
	}}
}

// PublicEndpoint validates the origin's syntax and what it resolves to.
func PublicEndpoint(origin string, r publicurl.Resolver) Check {
	return Check{Name: "public_endpoint", Run: func(ctx context.Context) (string, error) {
		if err := publicurl.CheckResolved(ctx, origin, r); err != nil {
			return "", err
		}
		return origin, nil
	}}
}

// Listener dials the local HTTP listener.
func Listener(addr string) Check {
	return Check{Name: "listener", Run: func(ctx context.Context) (string, error) {
		var d net.Dialer
		conn, err := d.DialContext(ctx, "tcp", addr)
		if err != nil {
			return "", err
		}
		_ = conn.Close()
		return addr + " accepting", nil
	}}
}

func notConnected(openErr error) error {
	if openErr != nil {
		return fmt.Errorf("not connected: %w", openErr)
	}
	return errors.New("not connected")
}

func Postgres(db *sql.DB, openErr error) Check {
	return Check{Name: "postgres", Run: func(ctx context.Context) (string, error) {
		if db == nil {
			return "", notConnected(openErr)
		}
		if err := utils.HealthCheck(ctx, db, DefaultCheckTimeout); err != nil {
			return "", err
		}
		return "ping ok", nil
	}}
}

// Redis pings the shared store and reports the calls counted under key.
func Redis(rdb *redis.Client, openErr error, key string) Check {
	return Check{Name: "redis", Run: func(ctx context.Context) (string, error) {
		if rdb == nil {
			return "", notConnected(openErr)
		}
		if err := rdb.Ping(ctx).Err(); err != nil {
			return "", err
		}
		n, err := utils.ConcurrencyInUse(ctx, rdb, key)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("ping ok, %d calls counted", n), nil
	}}
}
