package cloud

// State is the lifecycle state of a cloud session.
type State int

const (
	StateAnonymous State = iota
	StateAuthenticating
	StateAuthenticated
	StateConnecting
	StateConnected
	StateReconnecting
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateAnonymous:
		return "anonymous"
	case StateAuthenticating:
		return "authenticating"
	case StateAuthenticated:
		return "authenticated"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// LoggedIn reports whether the session holds a valid token.
func (s State) LoggedIn() bool {
	return s >= StateAuthenticated && s != StateClosed
}
