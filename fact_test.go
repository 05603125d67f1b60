package hmon

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFactKindList_UnmarshalJSON_AcceptsIntsOrNames(t *testing.T) {
	testCases := []struct {
		name  string
		input string
		want  FactKindList
	}{
		{name: "integers", input: `[1,3,6]`, want: FactKindList{FactHost, FactWorkspace, FactThreadCount}},
		{name: "names", input: `["Host","Workspace","ThreadCount"]`, want: FactKindList{FactHost, FactWorkspace, FactThreadCount}},
		{name: "mixed", input: `[1,"Workspace"]`, want: FactKindList{FactHost, FactWorkspace}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			var got FactKindList
			require.NoError(t, json.Unmarshal([]byte(tc.input), &got))
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestFactKindList_UnmarshalJSON_RejectsUnknownName(t *testing.T) {
	var got FactKindList
	err := json.Unmarshal([]byte(`["Bogus"]`), &got)
	assert.Error(t, err)
}

func TestFactKindList_MarshalJSON_AlwaysEmitsIntegers(t *testing.T) {
	data, err := json.Marshal(FactKindList{FactWorkspace, FactThreadCount})
	require.NoError(t, err)
	assert.JSONEq(t, `[3,6]`, string(data))
}

func TestFact_Decode(t *testing.T) {
	f := Fact{Kind: FactWorkspace, Name: "Workspace", Value: json.RawMessage(`{"used":100}`)}
	var out struct {
		Used int `json:"used"`
	}
	require.NoError(t, f.Decode(&out))
	assert.Equal(t, 100, out.Used)
}

func TestFactsResponse_Unmarshal(t *testing.T) {
	raw := `{"UID":"u1","Interval":500,"Facts":[{"ID":3,"Name":"Workspace","Value":{"used":1}}]}`
	var resp FactsResponse
	require.NoError(t, json.Unmarshal([]byte(raw), &resp))
	assert.Equal(t, "u1", resp.UID)
	require.NotNil(t, resp.Interval)
	assert.Equal(t, 500, *resp.Interval)
	require.Len(t, resp.Facts, 1)
	assert.Equal(t, FactWorkspace, resp.Facts[0].Kind)
	assert.Equal(t, "Workspace", resp.Facts[0].Name)
}
