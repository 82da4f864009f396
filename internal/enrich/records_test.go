package enrich

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseTagUser(t *testing.T) {
	cases := []struct {
		raw  string
		want TagUser
		ok   bool
	}{
		{`{"orderNumber":"SO-1"}`, TagUser{OrderNumber: "SO-1"}, true},
		{`{"orderNumber":12345}`, TagUser{OrderNumber: "12345"}, true},
		{`{"orderNumber":null}`, TagUser{}, true},
		{`{}`, TagUser{}, true},
		{`{"orderNumber":{"id":1}}`, TagUser{}, false},
		{`[]`, TagUser{}, false},
		{`"SO-1"`, TagUser{}, false},
		{``, TagUser{}, false},
		{`{broken`, TagUser{}, false},
	}
	for _, tc := range cases {
		got, ok := ParseTagUser(tc.raw)
		require.Equal(t, tc.ok, ok, tc.raw)
		require.Equal(t, tc.want, got, tc.raw)
	}
}

func TestParseBlackRecord(t *testing.T) {
	cases := []struct {
		raw  string
		want BlackRecord
		ok   bool
	}{
		{`{"blackLevel":2,"createdUsers":"[\"a\"]"}`, BlackRecord{2, `["a"]`}, true},
		{`{"blackLevel":"4","createdUsers":["a", "b"]}`, BlackRecord{4, `["a","b"]`}, true},
		{`{"blackLevel":1.0}`, BlackRecord{1, "[]"}, true},
		{`{}`, BlackRecord{0, "[]"}, true},
		{`{"blackLevel":null,"createdUsers":null}`, BlackRecord{0, "[]"}, true},
		{`{"blackLevel":"high"}`, BlackRecord{}, false},
		{`{"blackLevel":"2.5"}`, BlackRecord{}, false},
		{`{"blackLevel":true}`, BlackRecord{}, false},
		{`{"createdUsers":{"a":1}}`, BlackRecord{}, false},
		{`null`, BlackRecord{0, "[]"}, true},
		{`[1,2]`, BlackRecord{}, false},
	}
	for _, tc := range cases {
		got, ok := ParseBlackRecord(tc.raw)
		require.Equal(t, tc.ok, ok, tc.raw)
		require.Equal(t, tc.want, got, tc.raw)
	}
}
