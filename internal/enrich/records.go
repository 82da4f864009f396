package enrich

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// TagUser is the order-tag record stored for a user in a room.
type TagUser struct {
	OrderNumber string
}

// BlackRecord is the blacklist record stored for a user.
type BlackRecord struct {
	BlackLevel int
	// CreatedUsers is the serialized list of users who blacklisted this one.
	CreatedUsers string
}

type tagUserJSON struct {
	OrderNumber json.RawMessage `json:"orderNumber"`
}

type blackRecordJSON struct {
	BlackLevel   json.RawMessage `json:"blackLevel"`
	CreatedUsers json.RawMessage `json:"createdUsers"`
}

// ParseTagUser decodes a stored order-tag value. ok is false when raw is not
// a JSON object or orderNumber has an unusable type.
func ParseTagUser(raw string) (TagUser, bool) {
	var v tagUserJSON
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return TagUser{}, false
	}

	orderNumber, ok := scalarString(v.OrderNumber, "")
	if !ok {
		return TagUser{}, false
	}
	return TagUser{OrderNumber: orderNumber}, true
}

// ParseBlackRecord decodes a stored blacklist value. blackLevel may be a
// number or a numeric string; createdUsers may be a JSON array or an already
// serialized string.
func ParseBlackRecord(raw string) (BlackRecord, bool) {
	var v blackRecordJSON
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return BlackRecord{}, false
	}

	level, ok := parseLevel(v.BlackLevel)
	if !ok {
		return BlackRecord{}, false
	}
	createdUsers, ok := parseCreatedUsers(v.CreatedUsers)
	if !ok {
		return BlackRecord{}, false
	}
	return BlackRecord{BlackLevel: level, CreatedUsers: createdUsers}, true
}

func isNull(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

// scalarString accepts a JSON string or number.
func scalarString(raw json.RawMessage, def string) (string, bool) {
	if isNull(raw) {
		return def, true
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, true
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String(), true
	}
	return "", false
}

func parseLevel(raw json.RawMessage) (int, bool) {
	s, ok := scalarString(raw, "0")
	if !ok {
		return 0, false
	}
	s = strings.TrimSpace(s)
	if n, err := strconv.Atoi(s); err == nil {
		return n, true
	}
	// 2.0 style numbers are truncated; "2.5" as a string is rejected.
	if !isNumberLiteral(raw) {
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsInf(f, 0) || math.IsNaN(f) {
		return 0, false
	}
	return int(f), true
}

func isNumberLiteral(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && trimmed[0] != '"'
}

func parseCreatedUsers(raw json.RawMessage) (string, bool) {
	if isNull(raw) {
		return defaultCreatedUsers, true
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, true
	}
	var list []json.RawMessage
	if err := json.Unmarshal(raw, &list); err != nil {
		return "", false
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return "", false
	}
	return buf.String(), true
}
