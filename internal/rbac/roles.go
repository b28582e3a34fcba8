package rbac

// Role names. Keep these stable; they are carried in bearer tokens.
const (
	// RoleAgent is the planning agent that places calls and reads results.
	RoleAgent = "agent"
	// RoleViewer may only read call records.
	RoleViewer = "viewer"
	// RoleOperator runs the deployment and passes every role check.
	RoleOperator = "operator"
)

func IsOperator(role string) bool { return role == RoleOperator }

func Valid(role string) bool {
	switch role {
	case RoleAgent, RoleViewer, RoleOperator:
		return true
	}
	return false
}
