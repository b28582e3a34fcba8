package routing

import (
	"context"
	"fmt"
	"strings"
)

// Engine decides what to do with an inbound call.
//
// Provider adapters depend only on this interface so webhook code stays free
// of policy.
type Engine interface {
	RouteInbound(ctx context.Context, req InboundRequest) (Decision, error)
}

type InboundRequest struct {
	ProviderCallID string
	From           string
	To             string
}

// Policy is the operator's inbound acceptance mode.
type Policy string

const (
	PolicyDisabled  Policy = "disabled"
	PolicyOpen      Policy = "open"
	PolicyAllowlist Policy = "allowlist"
)

func ParsePolicy(s string) (Policy, error) {
	switch p := Policy(strings.ToLower(strings.TrimSpace(s))); p {
	case PolicyDisabled, PolicyOpen, PolicyAllowlist:
		return p, nil
	case "":
		return PolicyDisabled, nil
	default:
		return "", fmt.Errorf("routing: unknown inbound policy %q", s)
	}
}
