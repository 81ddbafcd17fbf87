package session

// State is the negotiator's position in the session lifecycle.
//
//	Idle → AcquiringMedia → Joining → AwaitingPeer → Negotiating →
//	Connected ⇄ Reconnecting → Ended
type State int

const (
	StateIdle State = iota
	StateAcquiringMedia
	StateJoining
	StateAwaitingPeer
	StateNegotiating
	StateConnected
	StateReconnecting
	StateEnded
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAcquiringMedia:
		return "acquiring-media"
	case StateJoining:
		return "joining"
	case StateAwaitingPeer:
		return "awaiting-peer"
	case StateNegotiating:
		return "negotiating"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateEnded:
		return "ended"
	}
	return "unknown"
}
