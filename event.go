package hmon

import "encoding/json"

// EventType tags the variant carried by an Event, one per known response
// command name plus the two connection lifecycle markers.
type EventType string

const (
	EventSessionConnected    EventType = "SessionConnected"
	EventSessionDisconnected EventType = "SessionDisconnected"
	EventFacts               EventType = CommandFacts
	EventNotification        EventType = CommandNotification
	EventLastKnownState      EventType = CommandLastKnownState
	EventSubscribed          EventType = CommandSubscribed
	EventRideConnection      EventType = CommandRideConnection
	EventUserMessage         EventType = CommandUserMessage
	EventUnknownCommand      EventType = CommandUnknownCommand
	EventMalformedCommand    EventType = CommandMalformedCommand
	EventInvalidSyntax       EventType = CommandInvalidSyntax
	EventDisallowedUID       EventType = CommandDisallowedUID
)

// SessionEndpoint is the connection metadata carried by lifecycle events.
type SessionEndpoint struct {
	Session SessionId
	Host    string
	Port    int
	Name    string
}

// Event is a tagged variant emitted to the orchestrator's unified event
// stream. Which fields are populated depends on Type: Endpoint (and Reason
// for SessionDisconnected) for lifecycle events, Payload for events decoded
// from the wire, and additionally Facts for Facts events.
type Event struct {
	Type    EventType
	Session SessionId

	// SessionConnected / SessionDisconnected
	Endpoint SessionEndpoint
	Reason   string // populated for SessionDisconnected only

	// Response/notification variants. Payload carries the raw decoded
	// command payload object; Facts additionally gets a typed shortcut
	// since it is the one command the core schedules itself (the Poller).
	Payload json.RawMessage
	Facts   *FactsResponse
}

// NewSessionConnected builds a SessionConnected event.
func NewSessionConnected(endpoint SessionEndpoint) Event {
	return Event{Type: EventSessionConnected, Session: endpoint.Session, Endpoint: endpoint}
}

// NewSessionDisconnected builds a SessionDisconnected event.
func NewSessionDisconnected(endpoint SessionEndpoint, reason string) Event {
	return Event{Type: EventSessionDisconnected, Session: endpoint.Session, Endpoint: endpoint, Reason: reason}
}

// DecodeEvent builds a typed Event from a command name and its raw payload,
// as received on a Connection's read loop. For an unknown command name it
// returns ok=false, and dropping the frame is the caller's responsibility.
func DecodeEvent(session SessionId, command string, payload json.RawMessage) (Event, bool) {
	evt := Event{Session: session, Payload: payload}
	switch command {
	case CommandFacts:
		evt.Type = EventFacts
		var facts FactsResponse
		if err := json.Unmarshal(payload, &facts); err == nil {
			evt.Facts = &facts
		}
	case CommandNotification:
		evt.Type = EventNotification
	case CommandLastKnownState:
		evt.Type = EventLastKnownState
	case CommandSubscribed:
		evt.Type = EventSubscribed
	case CommandRideConnection:
		evt.Type = EventRideConnection
	case CommandUserMessage:
		evt.Type = EventUserMessage
	case CommandUnknownCommand:
		evt.Type = EventUnknownCommand
	case CommandMalformedCommand:
		evt.Type = EventMalformedCommand
	case CommandInvalidSyntax:
		evt.Type = EventInvalidSyntax
	case CommandDisallowedUID:
		evt.Type = EventDisallowedUID
	default:
		return Event{}, false
	}
	return evt, true
}
