package types

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// Kind identifies which member of the Value union is set
type Kind uint8

const (
	KindNull Kind = iota
	KindBool
	KindNumber
	KindString
	KindList
	KindMap
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	case KindList:
		return "list"
	case KindMap:
		return "map"
	default:
		return "unknown"
	}
}

// Value is a semi-structured document value: null, bool, number, string,
// list or nested map. The zero Value is null.
type Value struct {
	kind Kind
	b    bool
	n    float64
	s    string
	l    []Value
	m    map[string]Value
}

// Null returns the null value
func Null() Value { return Value{} }

// Bool wraps a boolean
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// Number wraps a float64
func Number(n float64) Value { return Value{kind: KindNumber, n: n} }

// Int wraps an integer as a number
func Int(n int) Value { return Value{kind: KindNumber, n: float64(n)} }

// String wraps a string
func String(s string) Value { return Value{kind: KindString, s: s} }

// List wraps a slice of values
func List(items ...Value) Value {
	if items == nil {
		items = []Value{}
	}
	return Value{kind: KindList, l: items}
}

// Map wraps a map of values
func Map(m map[string]Value) Value {
	if m == nil {
		m = map[string]Value{}
	}
	return Value{kind: KindMap, m: m}
}

// Kind returns the union member held by v
func (v Value) Kind() Kind { return v.kind }

// IsNull reports whether v is null
func (v Value) IsNull() bool { return v.kind == KindNull }

// AsBool returns the boolean and whether v is a bool
func (v Value) AsBool() (bool, bool) { return v.b, v.kind == KindBool }

// AsNumber returns the number and whether v is a number
func (v Value) AsNumber() (float64, bool) { return v.n, v.kind == KindNumber }

// AsString returns the string and whether v is a string
func (v Value) AsString() (string, bool) { return v.s, v.kind == KindString }

// AsList returns the items and whether v is a list
func (v Value) AsList() ([]Value, bool) { return v.l, v.kind == KindList }

// AsMap returns the entries and whether v is a map
func (v Value) AsMap() (map[string]Value, bool) { return v.m, v.kind == KindMap }

// ParseNumber coerces v to a finite float64. Numbers pass through, strings are
// parsed after trimming whitespace. Everything else fails.
func (v Value) ParseNumber() (float64, bool) {
	switch v.kind {
	case KindNumber:
		return v.n, !math.IsNaN(v.n) && !math.IsInf(v.n, 0)
	case KindString:
		f, err := strconv.ParseFloat(strings.TrimSpace(v.s), 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

// String renders v the way it is compared and reported: strings verbatim,
// integral numbers without a fraction, bools as true/false, null as an empty
// string, lists and maps as compact JSON.
func (v Value) String() string {
	switch v.kind {
	case KindNull:
		return ""
	case KindBool:
		return strconv.FormatBool(v.b)
	case KindNumber:
		return strconv.FormatFloat(v.n, 'f', -1, 64)
	case KindString:
		return v.s
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return ""
		}
		return string(data)
	}
}

// Equal reports strict equality: same kind and same content. Numbers compare
// numerically.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindNull:
		return true
	case KindBool:
		return v.b == o.b
	case KindNumber:
		return v.n == o.n
	case KindString:
		return v.s == o.s
	case KindList:
		if len(v.l) != len(o.l) {
			return false
		}
		for i := range v.l {
			if !v.l[i].Equal(o.l[i]) {
				return false
			}
		}
		return true
	case KindMap:
		if len(v.m) != len(o.m) {
			return false
		}
		for k, item := range v.m {
			other, ok := o.m[k]
			if !ok || !item.Equal(other) {
				return false
			}
		}
		return true
	}
	return false
}

// kindRank orders kinds for sorting: null < number < string < map < list < bool
func kindRank(k Kind) int {
	switch k {
	case KindNull:
		return 0
	case KindNumber:
		return 1
	case KindString:
		return 2
	case KindMap:
		return 3
	case KindList:
		return 4
	case KindBool:
		return 5
	}
	return 6
}

// Compare totally orders values for sorting. It returns -1, 0 or 1.
func Compare(a, b Value) int {
	if ra, rb := kindRank(a.kind), kindRank(b.kind); ra != rb {
		if ra < rb {
			return -1
		}
		return 1
	}
	switch a.kind {
	case KindNumber:
		return cmpOrdered(a.n, b.n)
	case KindString:
		return strings.Compare(a.s, b.s)
	case KindBool:
		switch {
		case a.b == b.b:
			return 0
		case !a.b:
			return -1
		default:
			return 1
		}
	case KindList, KindMap:
		return strings.Compare(a.String(), b.String())
	}
	return 0
}

func cmpOrdered(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// FromAny converts decoded JSON or YAML data into a Value
func FromAny(x any) (Value, error) {
	switch t := x.(type) {
	case nil:
		return Null(), nil
	case Value:
		return t, nil
	case bool:
		return Bool(t), nil
	case string:
		return String(t), nil
	case float64:
		return Number(t), nil
	case float32:
		return Number(float64(t)), nil
	case int:
		return Number(float64(t)), nil
	case int32:
		return Number(float64(t)), nil
	case int64:
		return Number(float64(t)), nil
	case uint:
		return Number(float64(t)), nil
	case uint64:
		return Number(float64(t)), nil
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return Null(), fmt.Errorf("invalid number %q: %w", t.String(), err)
		}
		return Number(f), nil
	case []any:
		items := make([]Value, 0, len(t))
		for i, item := range t {
			v, err := FromAny(item)
			if err != nil {
				return Null(), fmt.Errorf("index %d: %w", i, err)
			}
			items = append(items, v)
		}
		return List(items...), nil
	case []string:
		items := make([]Value, 0, len(t))
		for _, item := range t {
			items = append(items, String(item))
		}
		return List(items...), nil
	case map[string]any:
		m := make(map[string]Value, len(t))
		for k, item := range t {
			v, err := FromAny(item)
			if err != nil {
				return Null(), fmt.Errorf("key %q: %w", k, err)
			}
			m[k] = v
		}
		return Map(m), nil
	case map[string]string:
		m := make(map[string]Value, len(t))
		for k, item := range t {
			m[k] = String(item)
		}
		return Map(m), nil
	case map[any]any:
		m := make(map[string]Value, len(t))
		for k, item := range t {
			v, err := FromAny(item)
			if err != nil {
				return Null(), fmt.Errorf("key %v: %w", k, err)
			}
			m[fmt.Sprint(k)] = v
		}
		return Map(m), nil
	default:
		return Null(), fmt.Errorf("unsupported value type %T", x)
	}
}

// Any converts v back into plain Go data (the shapes encoding/json produces)
func (v Value) Any() any {
	switch v.kind {
	case KindBool:
		return v.b
	case KindNumber:
		return v.n
	case KindString:
		return v.s
	case KindList:
		out := make([]any, len(v.l))
		for i, item := range v.l {
			out[i] = item.Any()
		}
		return out
	case KindMap:
		out := make(map[string]any, len(v.m))
		for k, item := range v.m {
			out[k] = item.Any()
		}
		return out
	default:
		return nil
	}
}

// MarshalJSON encodes v as plain JSON. Map keys are sorted.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindNull:
		return []byte("null"), nil
	case KindBool:
		return json.Marshal(v.b)
	case KindNumber:
		if math.IsNaN(v.n) || math.IsInf(v.n, 0) {
			return nil, fmt.Errorf("cannot encode non-finite number")
		}
		return json.Marshal(v.n)
	case KindString:
		return json.Marshal(v.s)
	case KindList:
		var buf bytes.Buffer
		buf.WriteByte('[')
		for i, item := range v.l {
			if i > 0 {
				buf.WriteByte(',')
			}
			data, err := item.MarshalJSON()
			if err != nil {
				return nil, err
			}
			buf.Write(data)
		}
		buf.WriteByte(']')
		return buf.Bytes(), nil
	case KindMap:
		keys := make([]string, 0, len(v.m))
		for k := range v.m {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		var buf bytes.Buffer
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			key, err := json.Marshal(k)
			if err != nil {
				return nil, err
			}
			buf.Write(key)
			buf.WriteByte(':')
			data, err := v.m[k].MarshalJSON()
			if err != nil {
				return nil, err
			}
			buf.Write(data)
		}
		buf.WriteByte('}')
		return buf.Bytes(), nil
	}
	return nil, fmt.Errorf("unknown value kind %d", v.kind)
}

// UnmarshalJSON decodes any JSON value into v
func (v *Value) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	parsed, err := FromAny(raw)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}
