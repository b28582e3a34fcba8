package telephony

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const DefaultTwilioBaseURL = "https://api.twilio.com/2010-04-01"

var _ Provider = (*TwilioClient)(nil)

// TwilioClient is a thin REST client over the Twilio call-control API.
type TwilioClient struct {
	accountSID string
	authToken  string
	baseURL    string
	httpClient *http.Client
}

type TwilioConfig struct {
	AccountSID string
	AuthToken  string
	BaseURL    string
	HTTPClient *http.Client
}

func NewTwilioClient(cfg TwilioConfig) (*TwilioClient, error) {
	if cfg.AccountSID == "" {
		return nil, fmt.Errorf("telephony: account sid is required")
	}
	if cfg.AuthToken == "" {
		return nil, fmt.Errorf("telephony: auth token is required")
	}
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = DefaultTwilioBaseURL
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: 15 * time.Second}
	}
	return &TwilioClient{
		accountSID: cfg.AccountSID,
		authToken:  cfg.AuthToken,
		baseURL:    base,
		httpClient: hc,
	}, nil
}

// APIError is the error body Twilio returns on 4xx/5xx.
type APIError struct {
	Code     int    `json:"code"`
	Message  string `json:"message"`
	MoreInfo string `json:"more_info"`
	Status   int    `json:"status"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("twilio error %d (http %d): %s", e.Code, e.Status, e.Message)
}

type twilioCall struct {
	SID    string `json:"sid"`
	Status string `json:"status"`
}

func (c *TwilioClient) PlaceCall(ctx context.Context, p PlaceCallParams) (PlacedCall, error) {
	if err := p.validate(); err != nil {
		return PlacedCall{}, err
	}

	data := url.Values{}
	data.Set("To", p.To)
	data.Set("From", p.From)
	data.Set("Url", p.AnswerURL)
	data.Set("Method", http.MethodPost)
	if p.StatusCallbackURL != "" {
		data.Set("StatusCallback", p.StatusCallbackURL)
		data.Set("StatusCallbackMethod", http.MethodPost)
		for _, ev := range []string{"initiated", "ringing", "answered", "completed"} {
			data.Add("StatusCallbackEvent", ev)
		}
	}
	if p.RingTimeout > 0 {
		data.Set("Timeout", strconv.Itoa(int(p.RingTimeout/time.Second)))
	}
	if p.TimeLimit > 0 {
		data.Set("TimeLimit", strconv.Itoa(int(p.TimeLimit/time.Second)))
	}
	if p.MachineDetection {
		data.Set("MachineDetection", "Enable")
		data.Set("AsyncAmd", "true")
		data.Set("AsyncAmdStatusCallback", p.AMDCallbackURL)
		data.Set("AsyncAmdStatusCallbackMethod", http.MethodPost)
	}

	var call twilioCall
	if err := c.post(ctx, c.accountPath("/Calls.json"), data, &call); err != nil {
		return PlacedCall{}, fmt.Errorf("telephony: place call: %w", err)
	}
	return PlacedCall{SID: call.SID, Status: call.Status}, nil
}

// Hangup ends a live call by moving it to completed.
func (c *TwilioClient) Hangup(ctx context.Context, providerCallID string) error {
	if providerCallID == "" {
		return fmt.Errorf("telephony: provider call id is required")
	}
	data := url.Values{}
	data.Set("Status", "completed")
	if err := c.post(ctx, c.accountPath("/Calls/"+url.PathEscape(providerCallID)+".json"), data, nil); err != nil {
		return fmt.Errorf("telephony: hangup: %w", err)
	}
	return nil
}

func (c *TwilioClient) VerifyAccount(ctx context.Context) (AccountInfo, error) {
	var acct struct {
		SID          string `json:"sid"`
		FriendlyName string `json:"friendly_name"`
		Status       string `json:"status"`
	}
	if err := c.get(ctx, c.accountPath(".json"), &acct); err != nil {
		return AccountInfo{}, fmt.Errorf("telephony: verify account: %w", err)
	}
	sid := acct.SID
	if sid == "" {
		sid = c.accountSID
	}
	return AccountInfo{MaskedSID: MaskSID(sid), FriendlyName: acct.FriendlyName, Status: acct.Status}, nil
}

func (c *TwilioClient) VerifyNumber(ctx context.Context, number string) (NumberInfo, error) {
	number = strings.TrimSpace(number)
	if number == "" {
		return NumberInfo{}, ErrNumberNotFound
	}
	var list struct {
		Numbers []struct {
			PhoneNumber  string `json:"phone_number"`
			Capabilities struct {
				Voice bool `json:"voice"`
				SMS   bool `json:"sms"`
				MMS   bool `json:"mms"`
			} `json:"capabilities"`
		} `json:"incoming_phone_numbers"`
	}
	q := url.Values{}
	q.Set("PhoneNumber", number)
	if err := c.get(ctx, c.accountPath("/IncomingPhoneNumbers.json?"+q.Encode()), &list); err != nil {
		return NumberInfo{}, fmt.Errorf("telephony: verify number: %w", err)
	}
	for _, n := range list.Numbers {
		if n.PhoneNumber == number {
			return NumberInfo{
				Number: n.PhoneNumber,
				Voice:  n.Capabilities.Voice,
				SMS:    n.Capabilities.SMS,
				MMS:    n.Capabilities.MMS,
			}, nil
		}
	}
	return NumberInfo{}, ErrNumberNotFound
}

func (c *TwilioClient) accountPath(suffix string) string {
	return c.baseURL + "/Accounts/" + url.PathEscape(c.accountSID) + suffix
}

func (c *TwilioClient) get(ctx context.Context, endpoint string, result any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	return c.do(req, result)
}

func (c *TwilioClient) post(ctx context.Context, endpoint string, data url.Values, result any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(data.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return c.do(req, result)
}

func (c *TwilioClient) do(req *http.Request, result any) error {
	req.SetBasicAuth(c.accountSID, c.authToken)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}

	if resp.StatusCode >= 400 {
		apiErr := &APIError{Status: resp.StatusCode}
		if jerr := json.Unmarshal(body, apiErr); jerr != nil || apiErr.Message == "" {
			apiErr.Message = http.StatusText(resp.StatusCode)
		}
		if apiErr.Status == 0 {
			apiErr.Status = resp.StatusCode
		}
		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
			return fmt.Errorf("%w: %w", ErrInvalidCredentials, apiErr)
		}
		if resp.StatusCode == http.StatusNotFound && strings.Contains(req.URL.Path, "/IncomingPhoneNumbers") {
			return fmt.Errorf("%w: %w", ErrNumberNotFound, apiErr)
		}
		return apiErr
	}

	if result != nil && len(body) > 0 {
		if err := json.Unmarshal(body, result); err != nil {
			return fmt.Errorf("failed to parse response: %w", err)
		}
	}
	return nil
}

// IsAPIError reports whether err carries a provider error body.
func IsAPIError(err error) (*APIError, bool) {
	var apiErr *APIError
	ok := errors.As(err, &apiErr)
	return apiErr, ok
}
