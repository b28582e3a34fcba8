package routing

// Decision is the outcome of inbound routing.
//
// The HTTP layer turns it into provider markup; nothing here is provider
// specific.
type Decision struct {
	Action Action `json:"action"`

	// Reason is for internal logs only. It is never spoken to the caller.
	Reason string `json:"reason,omitempty"`
}

type Action string

const (
	// ActionConnect accepts the call. A capacity slot has been taken and must
	// be released once the call ends.
	ActionConnect Action = "connect"
	// ActionReject refuses the call at the markup level. No record is created.
	ActionReject Action = "reject"
	// ActionApologize answers with a short spoken apology and hangs up.
	ActionApologize Action = "apologize"
)

const (
	ReasonDisabled       = "inbound_disabled"
	ReasonNotAllowlisted = "caller_not_allowlisted"
	ReasonAtCapacity     = "at_capacity"
	ReasonCapacityError  = "capacity_unavailable"
	ReasonAccepted       = "accepted"
)
