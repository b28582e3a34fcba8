package telephony

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Provider is the call-control surface used by the bridge and the HTTP layer.
//
// Rules:
// - No provider REST calls outside this package.
// - Failures are returned as-is; retry policy belongs to the caller.
type Provider interface {
	PlaceCall(ctx context.Context, p PlaceCallParams) (PlacedCall, error)
	Hangup(ctx context.Context, providerCallID string) error
	VerifyAccount(ctx context.Context) (AccountInfo, error)
	VerifyNumber(ctx context.Context, number string) (NumberInfo, error)
}

var (
	ErrInvalidCredentials = errors.New("telephony: invalid credentials")
	ErrNumberNotFound     = errors.New("telephony: number not found on account")
)

// PlaceCallParams describes one outbound call request.
type PlaceCallParams struct {
	To   string
	From string

	// AnswerURL is fetched by the provider for call instructions once answered.
	AnswerURL         string
	StatusCallbackURL string

	RingTimeout time.Duration
	// TimeLimit caps the whole call; enforced by the provider.
	TimeLimit time.Duration

	MachineDetection bool
	AMDCallbackURL   string
}

func (p PlaceCallParams) validate() error {
	switch {
	case p.To == "":
		return fmt.Errorf("telephony: to is required")
	case p.From == "":
		return fmt.Errorf("telephony: from is required")
	case p.AnswerURL == "":
		return fmt.Errorf("telephony: answer url is required")
	case p.MachineDetection && p.AMDCallbackURL == "":
		return fmt.Errorf("telephony: amd callback url is required with machine detection")
	}
	return nil
}

type PlacedCall struct {
	SID    string `json:"sid"`
	Status string `json:"status"`
}

type AccountInfo struct {
	// MaskedSID keeps only the prefix and the last four characters.
	MaskedSID    string `json:"masked_sid"`
	FriendlyName string `json:"friendly_name"`
	Status       string `json:"status"`
}

type NumberInfo struct {
	Number string `json:"number"`
	Voice  bool   `json:"voice"`
	SMS    bool   `json:"sms"`
	MMS    bool   `json:"mms"`
}

// MaskSID renders "AC12...cdef" style identifiers for logs and reports.
func MaskSID(sid string) string {
	if len(sid) <= 8 {
		return "****"
	}
	return sid[:4] + "..." + sid[len(sid)-4:]
}
