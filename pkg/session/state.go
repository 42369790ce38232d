package session

// State is the connection state of a session.
type State int

const (
	Disconnected State = iota
	Connecting
	Open
	Closing
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Open:
		return "open"
	case Closing:
		return "closing"
	default:
		return "unknown"
	}
}

// CaptureState reports whether media capture is running.
type CaptureState int

const (
	Idle CaptureState = iota
	Capturing
)

func (c CaptureState) String() string {
	if c == Capturing {
		return "capturing"
	}
	return "idle"
}
