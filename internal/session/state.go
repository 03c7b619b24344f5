package session

// ConnectionState is the connection state of a remote peer.
type ConnectionState int

const (
	NotConnected ConnectionState = iota
	Connecting
	Connected
)

// String returns the label handed to observers.
func (s ConnectionState) String() string {
	switch s {
	case NotConnected:
		return "Not Connected"
	case Connecting:
		return "Connecting"
	case Connected:
		return "Connected"
	default:
		return "Unknown"
	}
}

// Valid reports whether s is one of the declared states.
func (s ConnectionState) Valid() bool {
	return s >= NotConnected && s <= Connected
}

// validEdge reports whether from -> to is a legal single step.
// Any state may reset to NotConnected; otherwise the machine only moves forward by one.
func validEdge(from, to ConnectionState) bool {
	if to == NotConnected {
		return from != NotConnected
	}
	return to == from+1
}

// normalize expands a reported transition into a sequence of legal edges.
// Reports that skip Connecting get it synthesized; a report that moves
// backwards from Connected to Connecting passes through NotConnected first.
func normalize(from, to ConnectionState) []ConnectionState {
	switch {
	case from == to:
		return nil
	case validEdge(from, to):
		return []ConnectionState{to}
	case from == NotConnected && to == Connected:
		return []ConnectionState{Connecting, Connected}
	default:
		return []ConnectionState{NotConnected, to}
	}
}
