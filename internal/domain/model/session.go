package model

// SessionState is the lifecycle of one client connection.
//
//	connected -> active -> closing -> closed
//	connected ------------> closing -> closed
type SessionState string

const (
	SessionConnected SessionState = "connected"
	SessionActive    SessionState = "active"
	SessionClosing   SessionState = "closing"
	SessionClosed    SessionState = "closed"
)

var sessionTransitions = map[SessionState][]SessionState{
	SessionConnected: {SessionActive, SessionClosing, SessionClosed},
	SessionActive:    {SessionClosing, SessionClosed},
	SessionClosing:   {SessionClosed},
}

// CanTransition reports whether a session may move from s to next.
func (s SessionState) CanTransition(next SessionState) bool {
	for _, allowed := range sessionTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

func (s SessionState) Terminal() bool {
	return s == SessionClosed
}
