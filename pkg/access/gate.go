package access

// Decision is the render decision of an access gate
type Decision int

const (
	// DecisionLoading means resolution has not completed yet
	DecisionLoading Decision = iota
	// DecisionAllow means the protected content may be served
	DecisionAllow
	// DecisionDeny means the fallback (upgrade call-to-action) must be served
	DecisionDeny
)

func (d Decision) String() string {
	switch d {
	case DecisionLoading:
		return "loading"
	case DecisionAllow:
		return "allow"
	case DecisionDeny:
		return "deny"
	}
	return "unknown"
}

// GateState is the input of an access gate
type GateState struct {
	Loading   bool
	HasAccess bool
}

// Decide is a pure function of the gate state
func Decide(s GateState) Decision {
	switch {
	case s.Loading:
		return DecisionLoading
	case s.HasAccess:
		return DecisionAllow
	default:
		return DecisionDeny
	}
}

// StateOf converts a finished resolution into a gate state
func StateOf(res Resolution) GateState {
	return GateState{HasAccess: res.HasAccess}
}
