package client

// Status is the connection state of a Client.
type Status int

const (
	StatusDisconnected Status = iota
	StatusConnecting
	StatusConnected
	StatusReconnecting
	// StatusError is entered when reconnection gives up.
	StatusError
)

var statusNames = [...]string{"disconnected", "connecting", "connected", "reconnecting", "error"}

func (s Status) String() string {
	if s < 0 || int(s) >= len(statusNames) {
		return "unknown"
	}
	return statusNames[s]
}

// StatusListener observes status transitions.
type StatusListener func(from, to Status)

// ErrorListener observes connection and transport failures.
type ErrorListener func(err error)
