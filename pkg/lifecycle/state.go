package lifecycle

// State is a device's lifecycle stage. Stages only move forward.
type State int

const (
	StateUninitialized State = iota
	StateInitialized
	StateConfigured
	StateAcquisitionActive
	StateIdle
	StateDeinitialized
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitialized:
		return "initialized"
	case StateConfigured:
		return "configured"
	case StateAcquisitionActive:
		return "acquisition_active"
	case StateIdle:
		return "idle"
	case StateDeinitialized:
		return "deinitialized"
	default:
		return "unknown"
	}
}

// transitions lists the legal next states of every state.
var transitions = map[State][]State{
	StateUninitialized:     {StateInitialized, StateDeinitialized},
	StateInitialized:       {StateConfigured, StateDeinitialized},
	StateConfigured:        {StateAcquisitionActive, StateDeinitialized},
	StateAcquisitionActive: {StateIdle},
	StateIdle:              {StateDeinitialized},
}

// CanTransition reports whether from → to is a legal move.
func CanTransition(from, to State) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
