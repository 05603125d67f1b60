package hmon

import (
	"github.com/google/uuid"
)

// SessionId is an opaque 128-bit identifier, generated on acceptance/dial
// completion, stable for the lifetime of one connection. It is never reused.
type SessionId uuid.UUID

// NewSessionId generates a fresh SessionId.
func NewSessionId() SessionId {
	return SessionId(uuid.New())
}

func (s SessionId) String() string {
	return uuid.UUID(s).String()
}

// IsZero reports whether s is the zero-value SessionId (never assigned).
func (s SessionId) IsZero() bool {
	return s == SessionId{}
}

// Direction distinguishes how a session was established.
type Direction int

const (
	Outbound Direction = iota
	Inbound
)

func (d Direction) String() string {
	if d == Inbound {
		return "inbound"
	}
	return "outbound"
}

// State is the lifecycle state of a Session.
type State int

const (
	Connecting State = iota
	Handshaking
	Ready
	Closing
	Closed
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Handshaking:
		return "handshaking"
	case Ready:
		return "ready"
	case Closing:
		return "closing"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}
