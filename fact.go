package hmon

import (
	"encoding/json"
	"fmt"
)

// Fact is a point-in-time observation of interpreter state, discriminated by
// a numeric Kind paired with a Name string. Per spec §1 Non-goals, the core
// does not interpret fact semantics: Value is forwarded verbatim as opaque
// JSON for the consumer to decode against the shape it expects.
type Fact struct {
	Kind  FactKind        `json:"ID"`
	Name  string          `json:"Name"`
	Value json.RawMessage `json:"Value"`
}

// Decode unmarshals Value into dest, for consumers that know the expected
// shape for this Fact's Kind.
func (f Fact) Decode(dest interface{}) error {
	return json.Unmarshal(f.Value, dest)
}

// FactKindList is the `Facts` field of a GetFacts request. Per spec §9 Open
// Questions, the wire encoding of kinds has been observed as both integers
// and names; this module accepts either on decode and always emits integers
// on encode.
type FactKindList []FactKind

func (l FactKindList) MarshalJSON() ([]byte, error) {
	ints := make([]int, len(l))
	for i, k := range l {
		ints[i] = int(k)
	}
	return json.Marshal(ints)
}

func (l *FactKindList) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := make(FactKindList, 0, len(raw))
	for _, item := range raw {
		var asInt int
		if err := json.Unmarshal(item, &asInt); err == nil {
			out = append(out, FactKind(asInt))
			continue
		}
		var asName string
		if err := json.Unmarshal(item, &asName); err == nil {
			kind, ok := factKindNames[asName]
			if !ok {
				return fmt.Errorf("unknown fact kind name %q", asName)
			}
			out = append(out, kind)
			continue
		}
		return fmt.Errorf("fact kind entry is neither an integer nor a name: %s", item)
	}
	*l = out
	return nil
}

// GetFactsRequest is the payload of an outgoing GetFacts command.
type GetFactsRequest struct {
	UID   string       `json:"UID"`
	Facts FactKindList `json:"Facts"`
}

// FactsResponse is the payload of an incoming Facts response, per spec §3.
type FactsResponse struct {
	UID      string `json:"UID,omitempty"`
	Interval *int   `json:"Interval,omitempty"` // polling interval, milliseconds, if the interpreter reports it
	Facts    []Fact `json:"Facts"`
}
