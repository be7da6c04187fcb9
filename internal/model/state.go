package model

// ConnectionState is the connectivity state of a store session.
type ConnectionState int

// Connection states.
const (
	StateInit ConnectionState = iota
	StateDisconnected
	StateConnecting
	StateConnected
	StateUnknown
)

func (s ConnectionState) String() string {
	switch s {
	case StateInit:
		return "Init"
	case StateDisconnected:
		return "Disconnected"
	case StateConnecting:
		return "Connecting"
	case StateConnected:
		return "Connected"
	}
	return "Unknown"
}

// IsUp reports whether the network is usable. Only Connected counts.
func (s ConnectionState) IsUp() bool { return s == StateConnected }
