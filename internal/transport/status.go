package transport

import "slices"

// Status represents the connection lifecycle state.
type Status int

const (
	// Closed means the connection died from a transport error or an
	// abnormal close. Only this state triggers automatic reconnection.
	Closed Status = iota
	// Connecting means a dial is in flight.
	Connecting
	// Open means frames can be sent and received.
	Open
	// SafeClosed means the connection was closed deliberately, by the
	// user or by logic. It is terminal until an explicit reconnect.
	SafeClosed
)

func (s Status) String() string {
	switch s {
	case Closed:
		return "CLOSED"
	case Connecting:
		return "CONNECTING"
	case Open:
		return "OPEN"
	case SafeClosed:
		return "SAFE_CLOSED"
	}
	return "UNKNOWN"
}

// validTransitions defines allowed status transitions. Close is
// reachable from anywhere, so SafeClosed appears in every entry.
var validTransitions = map[Status][]Status{
	Closed:     {Connecting, SafeClosed},
	Connecting: {Open, Closed, SafeClosed},
	Open:       {Closed, SafeClosed},
	SafeClosed: {Connecting, Closed},
}

func canTransition(from, to Status) bool {
	return slices.Contains(validTransitions[from], to)
}

// StatusChange is the payload of ws.status bus events.
type StatusChange struct {
	From Status
	To   Status
}
