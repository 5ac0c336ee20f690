package entities

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// EntityID is a backend record identifier. The remote API returns ids as
// JSON numbers for some resources and strings for others; both decode to
// the same string form.
type EntityID string

// String returns the id as a string
func (id EntityID) String() string { return string(id) }

// IsZero reports whether the id is empty
func (id EntityID) IsZero() bool { return id == "" }

// UnmarshalJSON accepts a JSON string, number or null
func (id *EntityID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = EntityID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("entity id must be a string or number: %w", err)
	}
	*id = EntityID(n.String())
	return nil
}

// idFromAny normalises an id read out of free-form node data.
func idFromAny(v any) EntityID {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return EntityID(t)
	case EntityID:
		return t
	case json.Number:
		return EntityID(t.String())
	case float64:
		return EntityID(strconv.FormatFloat(t, 'f', -1, 64))
	case int:
		return EntityID(strconv.Itoa(t))
	case int64:
		return EntityID(strconv.FormatInt(t, 10))
	default:
		return EntityID(fmt.Sprint(t))
	}
}

// NewEntityNodeID builds a canvas node id for a backend entity:
// "<kind>-<backendID>" or "<kind>-<backendID>-<suffix>".
func NewEntityNodeID(kind string, backendID EntityID, suffix string) string {
	var b strings.Builder
	b.WriteString(kind)
	b.WriteByte('-')
	b.WriteString(backendID.String())
	if suffix != "" {
		b.WriteByte('-')
		b.WriteString(suffix)
	}
	return b.String()
}
