package voice

type State int32

const (
	StateIdle State = iota
	StateJoining
	StateNegotiating
	StateConnected
	StateClosed
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateJoining:
		return "joining"
	case StateNegotiating:
		return "negotiating"
	case StateConnected:
		return "connected"
	case StateClosed:
		return "closed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal states absorb: a session never leaves them.
func (s State) Terminal() bool {
	return s == StateClosed || s == StateFailed
}

var allowedTransitions = map[State]map[State]struct{}{
	StateIdle: {
		StateJoining: {},
		StateFailed:  {},
		StateClosed:  {},
	},
	StateJoining: {
		StateNegotiating: {},
		StateFailed:      {},
		StateClosed:      {},
	},
	StateNegotiating: {
		StateConnected: {},
		StateFailed:    {},
		StateClosed:    {},
	},
	StateConnected: {
		StateFailed: {},
		StateClosed: {},
	},
}

func canTransition(from, to State) bool {
	_, ok := allowedTransitions[from][to]
	return ok
}

// Role decides which side of the call sends the offer.
type Role string

const (
	// RoleAnswerer waits for the server's WEBRTC_OFFER.
	RoleAnswerer Role = "answerer"
	// RoleOfferer sends WEBRTC_OFFER right after VOICE_JOIN.
	RoleOfferer Role = "offerer"
)
