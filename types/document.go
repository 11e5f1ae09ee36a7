package types

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Reserved document keys
const (
	FieldID        = "_id"
	FieldCreatedAt = "created_at"
	FieldUpdatedAt = "updated_at"
)

// TimeLayout is fixed-width so stored timestamps order lexicographically
const TimeLayout = "2006-01-02T15:04:05.000000Z"

// FormatTime renders t in UTC using TimeLayout
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

// ParseTime parses a TimeLayout or RFC3339 timestamp
func ParseTime(s string) (time.Time, error) {
	if t, err := time.Parse(TimeLayout, s); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339Nano, s)
}

// Document is a schema-less record held in a store collection
type Document map[string]Value

// DocumentFromAny converts a decoded JSON/YAML object into a Document
func DocumentFromAny(x any) (Document, error) {
	v, err := FromAny(x)
	if err != nil {
		return nil, err
	}
	m, ok := v.AsMap()
	if !ok {
		return nil, fmt.Errorf("expected object, got %s", v.Kind())
	}
	return Document(m), nil
}

// ID returns the document identifier, or "" when absent
func (d Document) ID() string {
	if v, ok := d[FieldID]; ok {
		return v.String()
	}
	return ""
}

// Lookup resolves field against d. A direct key wins; otherwise a dotted path
// is walked through nested maps. Null values count as absent.
func (d Document) Lookup(field string) (Value, bool) {
	if v, ok := d[field]; ok {
		return v, !v.IsNull()
	}
	if !strings.Contains(field, ".") {
		return Null(), false
	}

	parts := strings.Split(field, ".")
	current, ok := d[parts[0]]
	if !ok {
		return Null(), false
	}
	for _, part := range parts[1:] {
		m, isMap := current.AsMap()
		if !isMap {
			return Null(), false
		}
		current, ok = m[part]
		if !ok {
			return Null(), false
		}
	}
	return current, !current.IsNull()
}

// StringField returns the field as a string when it holds one
func (d Document) StringField(field string) string {
	if v, ok := d[field]; ok {
		if s, isString := v.AsString(); isString {
			return s
		}
	}
	return ""
}

// Clone returns a shallow copy of d
func (d Document) Clone() Document {
	out := make(Document, len(d))
	for k, v := range d {
		out[k] = v
	}
	return out
}

// MarshalJSON encodes the document as a JSON object with sorted keys
func (d Document) MarshalJSON() ([]byte, error) {
	return Map(d).MarshalJSON()
}

// UnmarshalJSON decodes a JSON object
func (d *Document) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	doc, err := DocumentFromAny(raw)
	if err != nil {
		return err
	}
	*d = doc
	return nil
}
