package routing

import (
	"context"
	"log/slog"

	"voice-bridge/internal/telephony"
)

// PolicyEngine evaluates inbound calls.
//
// Priority:
//  1. Policy (disabled rejects everything)
//  2. Allowlist, when the policy is allowlist
//  3. Capacity
//
// Rejections take no capacity. A connect decision holds one slot.
type PolicyEngine struct {
	Policy    Policy
	Allowlist map[string]struct{}
	Capacity  Capacity
	Log       *slog.Logger
}

func NewPolicyEngine(policy Policy, allowlist []string, capacity Capacity, log *slog.Logger) *PolicyEngine {
	if log == nil {
		log = slog.Default()
	}
	set := make(map[string]struct{}, len(allowlist))
	for _, n := range allowlist {
		if n = telephony.NormalizePhone(n); n != "" {
			set[n] = struct{}{}
		}
	}
	return &PolicyEngine{Policy: policy, Allowlist: set, Capacity: capacity, Log: log}
}

func (e *PolicyEngine) RouteInbound(ctx context.Context, req InboundRequest) (Decision, error) {
	d := e.decide(ctx, req)
	e.Log.Info("inbound routing decision",
		"provider_call_id", req.ProviderCallID,
		"client_ip", ClientIPFromContext(ctx),
		"action", string(d.Action),
		"reason", d.Reason,
	)
	return d, nil
}

func (e *PolicyEngine) decide(ctx context.Context, req InboundRequest) Decision {
	switch e.Policy {
	case PolicyOpen:
	case PolicyAllowlist:
		if _, ok := e.Allowlist[telephony.NormalizePhone(req.From)]; !ok {
			return Decision{Action: ActionReject, Reason: ReasonNotAllowlisted}
		}
	default:
		return Decision{Action: ActionReject, Reason: ReasonDisabled}
	}

	if e.Capacity == nil {
		return Decision{Action: ActionConnect, Reason: ReasonAccepted}
	}
	ok, err := e.Capacity.Acquire(ctx)
	if err != nil {
		e.Log.Warn("capacity check failed", "err", err)
		return Decision{Action: ActionApologize, Reason: ReasonCapacityError}
	}
	if !ok {
		return Decision{Action: ActionApologize, Reason: ReasonAtCapacity}
	}
	return Decision{Action: ActionConnect, Reason: ReasonAccepted}
}
