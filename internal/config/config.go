package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"voice-bridge/internal/publicurl"
)

// Config holds all configuration required by the bridge process.
// All values come from env. No other package reads the environment.
type Config struct {
	App      AppConfig
	Twilio   TwilioConfig
	Realtime RealtimeConfig
	Inbound  InboundConfig
	Calls    CallsConfig
	DB       DBConfig
	Redis    RedisConfig
	Auth     AuthConfig
}

type AppConfig struct {
	Env  string
	Port int

	// PublicBaseURL is the https origin the provider reaches us on. It is
	// normalized by Validate (no trailing slash).
	PublicBaseURL string

	MaxBodyBytes int64
}

type TwilioConfig struct {
	AccountSID  string
	AuthToken   string
	PhoneNumber string
	APIBaseURL  string
}

type RealtimeConfig struct {
	APIKey string
	URL    string
	Model  string
	Voice  string

	// VAD is server_vad or semantic_vad.
	VAD          string
	VADSilenceMS int
}

type InboundConfig struct {
	// Policy is disabled, open or allowlist.
	Policy    string
	Allowlist []string
	Persona   string
	Greeting  string
}

type CallsConfig struct {
	MaxConcurrent    int
	RingTimeout      time.Duration
	MaxDuration      time.Duration
	MachineDetection bool

	DTMFGap     time.Duration
	HangupGrace time.Duration

	// Retention keeps finished records queryable before they are dropped
	// from memory.
	Retention time.Duration

	LogPath        string
	DiagnosticsDir string
}

// DBConfig is optional. The Postgres call-log mirror is enabled when Host is set.
type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string

	// Accepts: disable, require, verify-ca, verify-full
	SSLMode string
}

// RedisConfig is optional. The shared concurrency cap is enabled when Host is set.
type RedisConfig struct {
	Host     string
	Port     int
	Password string

	// CapacityKey is the shared counter; deployments sharing a number share it.
	CapacityKey string
}

type AuthConfig struct {
	JWTSecret   string
	JWTIssuer   string
	JWTAudience string
	TokenTTL    time.Duration
}

const (
	DefaultRealtimeURL   = "wss://api.openai.com/v1/realtime"
	DefaultRealtimeModel = "gpt-4o-realtime-preview"
	DefaultRealtimeVoice = "alloy"
	DefaultTwilioBaseURL = "https://api.twilio.com/2010-04-01"
	DefaultCapacityKey   = "voice-bridge:active-calls"
)

var accountSIDPattern = regexp.MustCompile(`^AC[0-9a-fA-F]{32}$`)

func Load() (Config, error) {
	c := Config{}
	var parseErrs []error

	c.App.Env = strings.TrimSpace(os.Getenv("APP_ENV"))
	{
		n, err := mustInt("APP_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.App.Port = n
	}
	c.App.PublicBaseURL = strings.TrimSpace(os.Getenv("PUBLIC_BASE_URL"))
	{
		n, err := optionalInt("MAX_BODY_BYTES", 64<<10)
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.App.MaxBodyBytes = int64(n)
	}

	c.Twilio.AccountSID = strings.TrimSpace(os.Getenv("TWILIO_ACCOUNT_SID"))
	c.Twilio.AuthToken = os.Getenv("TWILIO_AUTH_TOKEN")
	c.Twilio.PhoneNumber = strings.TrimSpace(os.Getenv("TWILIO_PHONE_NUMBER"))
	c.Twilio.APIBaseURL = envOr("TWILIO_API_BASE_URL", DefaultTwilioBaseURL)

	c.Realtime.APIKey = os.Getenv("OPENAI_API_KEY")
	c.Realtime.URL = envOr("REALTIME_URL", DefaultRealtimeURL)
	c.Realtime.Model = envOr("REALTIME_MODEL", DefaultRealtimeModel)
	c.Realtime.Voice = envOr("REALTIME_VOICE", DefaultRealtimeVoice)
	c.Realtime.VAD = envOr("REALTIME_VAD", "server_vad")
	{
		n, err := optionalInt("REALTIME_VAD_SILENCE_MS", 600)
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.Realtime.VADSilenceMS = n
	}

	c.Inbound.Policy = envOr("INBOUND_POLICY", "disabled")
	c.Inbound.Allowlist = splitList(os.Getenv("INBOUND_ALLOWLIST"))
	c.Inbound.Persona = strings.TrimSpace(os.Getenv("INBOUND_PERSONA"))
	c.Inbound.Greeting = strings.TrimSpace(os.Getenv("INBOUND_GREETING"))

	{
		n, err := optionalInt("MAX_CONCURRENT_CALLS", 3)
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.Calls.MaxConcurrent = n
	}
	parseErrs = durationInto(parseErrs, &c.Calls.RingTimeout, "RING_TIMEOUT", 30*time.Second)
	parseErrs = durationInto(parseErrs, &c.Calls.MaxDuration, "MAX_CALL_DURATION", 10*time.Minute)
	parseErrs = durationInto(parseErrs, &c.Calls.DTMFGap, "DTMF_GAP", 120*time.Millisecond)
	parseErrs = durationInto(parseErrs, &c.Calls.HangupGrace, "HANGUP_GRACE", 1500*time.Millisecond)
	parseErrs = durationInto(parseErrs, &c.Calls.Retention, "CALL_RETENTION", 15*time.Minute)
	{
		b, err := optionalBool("MACHINE_DETECTION", true)
		if err != nil {
			parseErrs = append(parseErrs, err)
		}
		c.Calls.MachineDetection = b
	}
	c.Calls.LogPath = envOr("CALL_LOG_PATH", "./data/calls.jsonl")
	c.Calls.DiagnosticsDir = strings.TrimSpace(os.Getenv("DIAGNOSTICS_DIR"))

	c.DB.Host = strings.TrimSpace(os.Getenv("DB_HOST"))
	if c.DB.Host != "" {
		n, err := mustInt("DB_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.DB.Port = n
	}
	c.DB.User = strings.TrimSpace(os.Getenv("DB_USER"))
	c.DB.Password = os.Getenv("DB_PASSWORD")
	c.DB.Name = strings.TrimSpace(os.Getenv("DB_NAME"))
	c.DB.SSLMode = strings.TrimSpace(os.Getenv("DB_SSLMODE"))

	c.Redis.Host = strings.TrimSpace(os.Getenv("REDIS_HOST"))
	if c.Redis.Host != "" {
		n, err := mustInt("REDIS_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.Redis.Port = n
	}
	c.Redis.Password = os.Getenv("REDIS_PASSWORD")
	c.Redis.CapacityKey = envOr("REDIS_CAPACITY_KEY", DefaultCapacityKey)

	c.Auth.JWTSecret = os.Getenv("JWT_SECRET")
	c.Auth.JWTIssuer = strings.TrimSpace(os.Getenv("JWT_ISSUER"))
	c.Auth.JWTAudience = strings.TrimSpace(os.Getenv("JWT_AUDIENCE"))
	parseErrs = durationInto(parseErrs, &c.Auth.TokenTTL, "JWT_TTL", 12*time.Hour)

	if err := joinErrors(parseErrs); err != nil {
		return Config{}, err
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Validate checks every field and reports all problems at once. It also
// normalizes PublicBaseURL and fills local-friendly defaults.
func (c *Config) Validate() error {
	var errs []error

	if c.App.Env == "" {
		errs = append(errs, errors.New("APP_ENV is required"))
	} else if !isValidEnv(c.App.Env) {
		errs = append(errs, fmt.Errorf("APP_ENV must be one of local, dev, staging, production, got %q", c.App.Env))
	}
	if c.App.Port <= 0 || c.App.Port > 65535 {
		errs = append(errs, fmt.Errorf("APP_PORT must be a valid port, got %d", c.App.Port))
	}
	if c.App.PublicBaseURL == "" {
		errs = append(errs, errors.New("PUBLIC_BASE_URL is required"))
	} else if origin, err := publicurl.Validate(c.App.PublicBaseURL); err != nil {
		errs = append(errs, fmt.Errorf("PUBLIC_BASE_URL: %w", err))
	} else {
		c.App.PublicBaseURL = origin
	}
	if c.App.MaxBodyBytes <= 0 {
		errs = append(errs, fmt.Errorf("MAX_BODY_BYTES must be positive, got %d", c.App.MaxBodyBytes))
	}

	if c.Twilio.AccountSID == "" {
		errs = append(errs, errors.New("TWILIO_ACCOUNT_SID is required"))
	} else if !accountSIDPattern.MatchString(c.Twilio.AccountSID) {
		errs = append(errs, errors.New("TWILIO_ACCOUNT_SID must be AC followed by 32 hex characters"))
	}
	if c.Twilio.AuthToken == "" {
		errs = append(errs, errors.New("TWILIO_AUTH_TOKEN is required"))
	}
	if c.Twilio.PhoneNumber == "" {
		errs = append(errs, errors.New("TWILIO_PHONE_NUMBER is required"))
	}

	if c.Realtime.APIKey == "" {
		errs = append(errs, errors.New("OPENAI_API_KEY is required"))
	}
	switch c.Realtime.VAD {
	case "server_vad":
		if c.Realtime.VADSilenceMS <= 0 {
			errs = append(errs, fmt.Errorf("REALTIME_VAD_SILENCE_MS must be positive, got %d", c.Realtime.VADSilenceMS))
		}
	case "semantic_vad":
	default:
		errs = append(errs, fmt.Errorf("REALTIME_VAD must be server_vad or semantic_vad, got %q", c.Realtime.VAD))
	}

	switch c.Inbound.Policy {
	case "disabled", "open":
	case "allowlist":
		if len(c.Inbound.Allowlist) == 0 {
			errs = append(errs, errors.New("INBOUND_ALLOWLIST is required when INBOUND_POLICY=allowlist"))
		}
	default:
		errs = append(errs, fmt.Errorf("INBOUND_POLICY must be one of disabled, open, allowlist, got %q", c.Inbound.Policy))
	}

	if c.Calls.MaxConcurrent <= 0 {
		errs = append(errs, fmt.Errorf("MAX_CONCURRENT_CALLS must be positive, got %d", c.Calls.MaxConcurrent))
	}
	for _, d := range []struct {
		key string
		v   time.Duration
	}{
		{"RING_TIMEOUT", c.Calls.RingTimeout},
		{"MAX_CALL_DURATION", c.Calls.MaxDuration},
		{"DTMF_GAP", c.Calls.DTMFGap},
		{"HANGUP_GRACE", c.Calls.HangupGrace},
		{"CALL_RETENTION", c.Calls.Retention},
	} {
		if d.v <= 0 {
			errs = append(errs, fmt.Errorf("%s must be a positive duration", d.key))
		}
	}
	if c.Calls.LogPath == "" {
		errs = append(errs, errors.New("CALL_LOG_PATH is required"))
	}

	if c.PostgresEnabled() {
		if c.DB.Port <= 0 || c.DB.Port > 65535 {
			errs = append(errs, fmt.Errorf("DB_PORT must be a valid port, got %d", c.DB.Port))
		}
		if c.DB.User == "" {
			errs = append(errs, errors.New("DB_USER is required when DB_HOST is set"))
		}
		if c.DB.Name == "" {
			errs = append(errs, errors.New("DB_NAME is required when DB_HOST is set"))
		}
		if c.DB.SSLMode == "" {
			if c.IsProduction() {
				errs = append(errs, errors.New("DB_SSLMODE is required in production"))
			} else {
				c.DB.SSLMode = "disable"
			}
		}
		if c.DB.SSLMode != "" && !isValidSSLMode(c.DB.SSLMode) {
			errs = append(errs, fmt.Errorf("DB_SSLMODE must be one of disable, require, verify-ca, verify-full, got %q", c.DB.SSLMode))
		}
	}

	if c.RedisEnabled() && (c.Redis.Port <= 0 || c.Redis.Port > 65535) {
		errs = append(errs, fmt.Errorf("REDIS_PORT must be a valid port, got %d", c.Redis.Port))
	}

	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	} else if c.IsProduction() && len(c.Auth.JWTSecret) < 32 {
		errs = append(errs, errors.New("JWT_SECRET must be at least 32 bytes in production"))
	}
	if c.IsProduction() {
		if c.Auth.JWTIssuer == "" {
			errs = append(errs, errors.New("JWT_ISSUER is required in production"))
		}
		if c.Auth.JWTAudience == "" {
			errs = append(errs, errors.New("JWT_AUDIENCE is required in production"))
		}
	}
	if c.Auth.TokenTTL <= 0 {
		c.Auth.TokenTTL = 12 * time.Hour
	}

	return joinErrors(errs)
}

func (c Config) IsProduction() bool {
	return c.App.Env == "production"
}

func (c Config) PostgresEnabled() bool { return c.DB.Host != "" }

func (c Config) RedisEnabled() bool { return c.Redis.Host != "" }

func (c Config) HTTPAddr() string {
	return fmt.Sprintf(":%d", c.App.Port)
}

func (c Config) PostgresDSN() string {
	// Avoid logging this string; it contains secrets.
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.DB.Host,
		c.DB.Port,
		c.DB.User,
		c.DB.Password,
		c.DB.Name,
		c.DB.SSLMode,
	)
}

func (c Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

func mustInt(key string) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, fmt.Errorf("%s is required", key)
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer, got %q", key, v)
	}
	return n, nil
}

func optionalInt(key string, def int) (int, error) {
	if strings.TrimSpace(os.Getenv(key)) == "" {
		return def, nil
	}
	return mustInt(key)
}

func optionalBool(key string, def bool) (bool, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def, fmt.Errorf("%s must be a boolean, got %q", key, v)
	}
	return b, nil
}

// durationInto parses key into dst, keeping def when unset.
func durationInto(errs []error, dst *time.Duration, key string, def time.Duration) []error {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		*dst = def
		return errs
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		*dst = def
		return append(errs, fmt.Errorf("%s must be a duration like 30s, got %q", key, v))
	}
	*dst = d
	return errs
}

func envOr(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func appendParseErr(errs []error, n int, err error) (int, []error) {
	if err != nil {
		errs = append(errs, err)
	}
	return n, errs
}

func isValidEnv(v string) bool {
	switch v {
	case "local", "dev", "staging", "production":
		return true
	default:
		return false
	}
}

func isValidSSLMode(v string) bool {
	switch v {
	case "disable", "require", "verify-ca", "verify-full":
		return true
	default:
		return false
	}
}

func joinErrors(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	if len(errs) == 1 {
		return errs[0]
	}
	var b strings.Builder
	b.WriteString("config errors:\n")
	for _, e := range errs {
		b.WriteString("- ")
		b.WriteString(e.Error())
		b.WriteString("\n")
	}
	return errors.New(strings.TrimSpace(b.String()))
}
