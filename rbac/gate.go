package rbac

// GateState is the outcome of evaluating a guarded route for one request.
type GateState int

const (
	// GatePending means resolution has not completed. Nothing guarded may be
	// rendered in this state.
	GatePending GateState = iota
	GateUnauthenticated
	GateForbidden
	GateAuthorized
)

func (s GateState) String() string {
	switch s {
	case GateUnauthenticated:
		return "unauthenticated"
	case GateForbidden:
		return "forbidden"
	case GateAuthorized:
		return "authorized"
	default:
		return "pending"
	}
}

func (s GateState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// GateInput is everything the gate knows when it decides.
type GateInput struct {
	Resolved bool
	Identity *Identity
	Access   Access
}

// Evaluate decides the gate state for a route requiring required. Pass
// RoleViewer (or RoleUnknown) for routes that only need a signed-in identity.
func Evaluate(in GateInput, required Role) GateState {
	switch {
	case !in.Resolved:
		return GatePending
	case in.Identity == nil || in.Identity.UserID == "":
		return GateUnauthenticated
	case !in.Access.Satisfies(required):
		return GateForbidden
	default:
		return GateAuthorized
	}
}
