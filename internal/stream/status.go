package stream

// Status is the connection state exposed to consumers.
type Status int32

const (
	Disconnected Status = iota
	Connecting
	Connected
	Reconnecting
)

// Statuses lists every status, in declaration order.
var Statuses = []Status{Disconnected, Connecting, Connected, Reconnecting}

func (s Status) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Reconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

// MarshalText renders the status as its lowercase name.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func statusNames() []string {
	names := make([]string, len(Statuses))
	for i, s := range Statuses {
		names[i] = s.String()
	}
	return names
}
