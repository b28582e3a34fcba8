package realtime

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

const (
	DefaultURL   = "wss://api.openai.com/v1/realtime"
	DefaultModel = "gpt-4o-realtime-preview"
	DefaultVoice = "alloy"
)

// Dialer opens the model leg of a call.
type Dialer struct {
	URL    string
	Model  string
	APIKey string

	HandshakeTimeout time.Duration
}

func (d Dialer) endpoint() (string, error) {
	raw := d.URL
	if raw == "" {
		raw = DefaultURL
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("realtime: parse url: %w", err)
	}
	if d.Model != "" {
		q := u.Query()
		q.Set("model", d.Model)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

// Dial connects with bearer auth and the realtime beta header.
func (d Dialer) Dial(ctx context.Context) (*websocket.Conn, error) {
	endpoint, err := d.endpoint()
	if err != nil {
		return nil, err
	}
	timeout := d.HandshakeTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	wd := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: timeout,
	}

	h := http.Header{}
	h.Set("Authorization", "Bearer "+d.APIKey)
	h.Set("OpenAI-Beta", "realtime=v1")

	conn, resp, err := wd.DialContext(ctx, endpoint, h)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("realtime: dial: %w (http %d)", err, resp.StatusCode)
		}
		return nil, fmt.Errorf("realtime: dial: %w", err)
	}
	return conn, nil
}

// ModelsURL derives the REST models endpoint from the websocket URL,
// e.g. wss://api.openai.com/v1/realtime -> https://api.openai.com/v1/models.
func (d Dialer) ModelsURL() (string, error) {
	raw := d.URL
	if raw == "" {
		raw = DefaultURL
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("realtime: parse url: %w", err)
	}
	switch u.Scheme {
	case "wss":
		u.Scheme = "https"
	case "ws":
		u.Scheme = "http"
	}
	p := strings.TrimSuffix(u.Path, "/")
	if i := strings.LastIndex(p, "/"); i >= 0 {
		p = p[:i]
	}
	u.Path = p + "/models"
	u.RawQuery = ""
	return u.String(), nil
}

// CheckAPI verifies the API key against the models endpoint.
func (d Dialer) CheckAPI(ctx context.Context, hc *http.Client) error {
	if hc == nil {
		hc = http.DefaultClient
	}
	endpoint, err := d.ModelsURL()
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+d.APIKey)

	resp, err := hc.Do(req)
	if err != nil {
		return fmt.Errorf("realtime: models request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("realtime: api key rejected (http %d)", resp.StatusCode)
	case resp.StatusCode >= 400:
		return fmt.Errorf("realtime: models endpoint returned http %d", resp.StatusCode)
	}
	return nil
}
