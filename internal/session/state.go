package session

// State is the lifecycle state of a Session. The Session instance is the
// single source of truth for whether sends are permitted.
type State int32

const (
	Disconnected State = iota
	Connecting
	Connected
	Reconnecting
	Closing
	Closed
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Reconnecting:
		return "reconnecting"
	case Closing:
		return "closing"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}
