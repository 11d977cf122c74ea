package domain

// ConnectionState tracks a connection through its lifecycle.
type ConnectionState int32

const (
	ConnIdle ConnectionState = iota
	ConnConnecting
	ConnOpen
	ConnClosing
	ConnReconnecting
)

// String returns the log-friendly name of the state.
func (s ConnectionState) String() string {
	switch s {
	case ConnConnecting:
		return "CONNECTING"
	case ConnOpen:
		return "OPEN"
	case ConnClosing:
		return "CLOSING"
	case ConnReconnecting:
		return "RECONNECTING"
	default:
		return "IDLE"
	}
}
