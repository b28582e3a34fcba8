package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"voice-bridge/internal/auth"
	"voice-bridge/internal/config"
	"voice-bridge/internal/publicurl"
	"voice-bridge/internal/rbac"
	"voice-bridge/internal/readiness"
	"voice-bridge/internal/realtime"
	"voice-bridge/internal/telephony"
	"voice-bridge/pkg/utils"
)

var errNotReady = errors.New("deployment is not ready")

func main() {
	cobra.OnInitialize(initConfig)
	root := newRootCmd()
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// initConfig reads settings from the same environment variables the server
// uses (JWT_SECRET, APP_PORT, ...).
func initConfig() {
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "voicectl",
		Short: "Operator tools for the voice bridge",
		Long: `voicectl issues agent tokens and checks whether a deployment can take calls.
Settings come from the same environment as the server; flags override them.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().Bool("json", false, "output JSON")
	_ = viper.BindPFlag("json", root.PersistentFlags().Lookup("json"))

	root.AddCommand(tokenCmd(), checkCmd(), validateURLCmd())
	return root
}

func tokenCmd() *cobra.Command {
	var (
		subject string
		role    string
		ttl     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token for the call API",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !rbac.Valid(role) {
				return fmt.Errorf("unknown role %q (agent, viewer, operator)", role)
			}
			m, err := auth.NewManager(config.AuthConfig{
				JWTSecret:   viper.GetString("jwt-secret"),
				JWTIssuer:   viper.GetString("jwt-issuer"),
				JWTAudience: viper.GetString("jwt-audience"),
				TokenTTL:    ttl,
			})
			if err != nil {
				return err
			}
			tok, err := m.Issue(time.Now(), subject, role, ttl)
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(cmd.OutOrStdout(), map[string]any{"token": tok, "subject": subject, "role": role, "ttl": ttl.String()})
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "agent", "token subject")
	cmd.Flags().StringVar(&role, "role", rbac.RoleAgent, "role: agent, viewer or operator")
	cmd.Flags().DurationVar(&ttl, "ttl", 12*time.Hour, "token lifetime")
	return cmd
}

func checkCmd() *cobra.Command {
	var (
		addr    string
		timeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Verify credentials, the phone number, the model API and the public endpoint",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout+5*time.Second)
			defer cancel()

			deps, closeDeps, err := probeDeps(ctx, cfg)
			if err != nil {
				return err
			}
			defer closeDeps()
			if addr == "" {
				addr = fmt.Sprintf("127.0.0.1:%d", cfg.App.Port)
			}
			deps.ListenAddr = addr

			rep := readiness.ForConfig(cfg, deps, timeout).Run(ctx)
			if err := printReport(cmd.OutOrStdout(), rep); err != nil {
				return err
			}
			if !rep.Ready {
				return errNotReady
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listener to dial (default 127.0.0.1:$APP_PORT)")
	cmd.Flags().DurationVar(&timeout, "timeout", readiness.DefaultCheckTimeout, "per-check timeout")
	return cmd
}

// probeDeps opens the clients a check needs. Store connection failures are
// carried in Deps and reported by the probe, not returned here.
func probeDeps(ctx context.Context, cfg config.Config) (readiness.Deps, func(), error) {
	twilio, err := telephony.NewTwilioClient(telephony.TwilioConfig{
		AccountSID: cfg.Twilio.AccountSID,
		AuthToken:  cfg.Twilio.AuthToken,
		BaseURL:    cfg.Twilio.APIBaseURL,
	})
	if err != nil {
		return readiness.Deps{}, nil, err
	}
	deps := readiness.Deps{
		Provider: twilio,
		Dialer:   realtime.Dialer{URL: cfg.Realtime.URL, Model: cfg.Realtime.Model, APIKey: cfg.Realtime.APIKey},
		HTTP:     &http.Client{Timeout: readiness.DefaultCheckTimeout},
	}

	var db *sql.DB
	if cfg.PostgresEnabled() {
		db, deps.DBErr = utils.OpenPostgres(ctx, utils.DefaultPostgresDriver, cfg.PostgresDSN(), utils.PostgresPoolConfig{MaxOpenConns: 1})
		deps.DB = db
	}
	var rdb *redis.Client
	if cfg.RedisEnabled() {
		rdb, deps.RedisErr = utils.OpenRedis(ctx, utils.RedisConfig{Addr: cfg.RedisAddr(), Password: cfg.Redis.Password})
		deps.Redis = rdb
	}
	return deps, func() {
		if db != nil {
			_ = db.Close()
		}
		if rdb != nil {
			_ = rdb.Close()
		}
	}, nil
}

func printReport(w io.Writer, rep readiness.Report) error {
	if viper.GetBool("json") {
		return printJSON(w, rep)
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.AppendHeader(table.Row{"Check", "OK", "Detail", "ms"})
	for _, r := range rep.Checks {
		ok := "yes"
		if !r.OK {
			ok = "NO"
		}
		tw.AppendRow(table.Row{r.Name, ok, r.Detail, r.DurationMS})
	}
	status := "ready"
	if !rep.Ready {
		status = "not ready"
	}
	tw.AppendFooter(table.Row{"", "", status, ""})
	tw.Render()
	return nil
}

func validateURLCmd() *cobra.Command {
	var resolve bool
	cmd := &cobra.Command{
		Use:   "validate-url <url>",
		Short: "Check that a URL is usable as the public base URL",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			origin, err := publicurl.Validate(args[0])
			if err != nil {
				return err
			}
			if resolve {
				ctx, cancel := context.WithTimeout(cmd.Context(), readiness.DefaultCheckTimeout)
				defer cancel()
				if err := publicurl.CheckResolved(ctx, origin, nil); err != nil {
					return err
				}
			}
			if viper.GetBool("json") {
				return printJSON(cmd.OutOrStdout(), map[string]any{"origin": origin, "resolved": resolve})
			}
			fmt.Fprintln(cmd.OutOrStdout(), origin)
			return nil
		},
	}
	cmd.Flags().BoolVar(&resolve, "resolve", false, "also resolve the host and reject private addresses")
	return cmd
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
