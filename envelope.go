package hmon

import (
	"encoding/json"
	"fmt"
)

// DecodeEnvelope parses a post-handshake frame payload as a two-element JSON
// array `[<command-name-string>, <payload-object>]`, per spec §3
// CommandEnvelope. It returns a ProtocolError if the shape is wrong; an
// unrecognized command name is not an error here, callers decide how to
// treat it.
func DecodeEnvelope(data []byte) (command string, payload json.RawMessage, err error) {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return "", nil, &ProtocolError{Detail: "envelope is not a JSON array", Cause: err}
	}
	if len(raw) != 2 {
		return "", nil, &ProtocolError{Detail: fmt.Sprintf("envelope must have exactly 2 elements, got %d", len(raw))}
	}
	if err := json.Unmarshal(raw[0], &command); err != nil {
		return "", nil, &ProtocolError{Detail: "envelope[0] is not a command name string", Cause: err}
	}
	return command, raw[1], nil
}

// EncodeEnvelope builds the wire form of an outgoing command.
func EncodeEnvelope(command string, payload interface{}) ([]byte, error) {
	payloadData, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload for command %s: %w", command, err)
	}
	return json.Marshal([2]json.RawMessage{mustMarshalString(command), payloadData})
}

func mustMarshalString(s string) json.RawMessage {
	data, _ := json.Marshal(s)
	return data
}

// uidProbe extracts an optional UID field from an arbitrary request/response
// payload object without requiring callers to know its full shape.
type uidProbe struct {
	UID *string `json:"UID"`
}

// PayloadUID returns the UID carried by payload, if any.
func PayloadUID(payload json.RawMessage) (string, bool) {
	var probe uidProbe
	if err := json.Unmarshal(payload, &probe); err != nil {
		return "", false
	}
	if probe.UID == nil {
		return "", false
	}
	return *probe.UID, true
}

// WithUID returns a shallow copy of payload with the UID field injected or
// overwritten. payload must marshal to a JSON object.
func WithUID(payload interface{}, uid string) (json.RawMessage, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(data, &obj); err != nil {
		return nil, fmt.Errorf("payload must be a JSON object to carry a UID: %w", err)
	}
	uidData, _ := json.Marshal(uid)
	obj["UID"] = uidData
	return json.Marshal(obj)
}
