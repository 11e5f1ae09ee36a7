// Package filter provides the closed set of document filter primitives used by
// every store backend: equality, range, set membership and conjunction.
package filter

import (
	"fmt"
	"sort"
	"strings"

	"github.com/yairfalse/surface/types"
)

// Op is a filter condition operator
type Op string

const (
	OpEq  Op = "$eq"
	OpNe  Op = "$ne"
	OpGt  Op = "$gt"
	OpGte Op = "$gte"
	OpLt  Op = "$lt"
	OpLte Op = "$lte"
	OpIn  Op = "$in"
	OpNin Op = "$nin"
)

var knownOps = map[Op]bool{
	OpEq: true, OpNe: true,
	OpGt: true, OpGte: true, OpLt: true, OpLte: true,
	OpIn: true, OpNin: true,
}

// Condition constrains one document field
type Condition struct {
	Field  string
	Op     Op
	Value  types.Value
	Values []types.Value
}

// Filter is a conjunction of conditions. The zero Filter matches everything.
type Filter struct {
	Conditions []Condition
}

// Eq builds a filter with a single equality condition
func Eq(field string, value types.Value) Filter {
	return Filter{Conditions: []Condition{{Field: field, Op: OpEq, Value: value}}}
}

// In builds a filter with a single membership condition
func In(field string, values ...types.Value) Filter {
	return Filter{Conditions: []Condition{{Field: field, Op: OpIn, Values: values}}}
}

// And returns the conjunction of f and other
func (f Filter) And(other Filter) Filter {
	conds := make([]Condition, 0, len(f.Conditions)+len(other.Conditions))
	conds = append(conds, f.Conditions...)
	conds = append(conds, other.Conditions...)
	return Filter{Conditions: conds}
}

// IsEmpty returns true if the filter places no constraint
func (f Filter) IsEmpty() bool {
	return len(f.Conditions) == 0
}

// Match reports whether doc satisfies every condition
func (f Filter) Match(doc types.Document) bool {
	for _, c := range f.Conditions {
		if !c.Match(doc) {
			return false
		}
	}
	return true
}

// Match evaluates one condition. Missing fields fail eq, range and $in, and
// satisfy $ne and $nin.
func (c Condition) Match(doc types.Document) bool {
	actual, present := doc.Lookup(c.Field)

	switch c.Op {
	case OpEq:
		return present && equal(actual, c.Value)
	case OpNe:
		return !present || !equal(actual, c.Value)
	case OpGt, OpGte, OpLt, OpLte:
		if !present {
			return false
		}
		cmp, ok := compareRange(actual, c.Value)
		if !ok {
			return false
		}
		switch c.Op {
		case OpGt:
			return cmp > 0
		case OpGte:
			return cmp >= 0
		case OpLt:
			return cmp < 0
		default:
			return cmp <= 0
		}
	case OpIn:
		return present && containsValue(c.Values, actual)
	case OpNin:
		return !present || !containsValue(c.Values, actual)
	}
	return false
}

func equal(actual, expected types.Value) bool {
	if actual.Equal(expected) {
		return true
	}
	// Array fields match when any element equals the operand
	if items, ok := actual.AsList(); ok && expected.Kind() != types.KindList {
		for _, item := range items {
			if item.Equal(expected) {
				return true
			}
		}
	}
	return false
}

func containsValue(values []types.Value, actual types.Value) bool {
	for _, v := range values {
		if equal(actual, v) {
			return true
		}
	}
	return false
}

func compareRange(a, b types.Value) (int, bool) {
	if x, ok := a.AsNumber(); ok {
		if y, ok := b.AsNumber(); ok {
			switch {
			case x < y:
				return -1, true
			case x > y:
				return 1, true
			}
			return 0, true
		}
		return 0, false
	}
	if x, ok := a.AsString(); ok {
		if y, ok := b.AsString(); ok {
			return strings.Compare(x, y), true
		}
	}
	return 0, false
}

// Parse compiles a Mongo-style filter object into a Filter.
//
//	{"resource_type": "ec2", "open_ports": {"$gt": 5}, "$and": [{...}]}
func Parse(raw map[string]any) (Filter, error) {
	var f Filter
	keys := make([]string, 0, len(raw))
	for k := range raw {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		value := raw[key]
		if key == "$and" {
			parts, ok := value.([]any)
			if !ok {
				return Filter{}, fmt.Errorf("$and expects an array")
			}
			for i, part := range parts {
				obj, ok := part.(map[string]any)
				if !ok {
					return Filter{}, fmt.Errorf("$and[%d] must be an object", i)
				}
				sub, err := Parse(obj)
				if err != nil {
					return Filter{}, fmt.Errorf("$and[%d]: %w", i, err)
				}
				f = f.And(sub)
			}
			continue
		}
		if strings.HasPrefix(key, "$") {
			return Filter{}, fmt.Errorf("unsupported filter operator %s", key)
		}

		conds, err := parseField(key, value)
		if err != nil {
			return Filter{}, err
		}
		f.Conditions = append(f.Conditions, conds...)
	}
	return f, nil
}

func parseField(field string, value any) ([]Condition, error) {
	obj, isObject := value.(map[string]any)
	if !isObject || !hasOperatorKeys(obj) {
		v, err := types.FromAny(value)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", field, err)
		}
		return []Condition{{Field: field, Op: OpEq, Value: v}}, nil
	}

	ops := make([]string, 0, len(obj))
	for k := range obj {
		ops = append(ops, k)
	}
	sort.Strings(ops)

	conds := make([]Condition, 0, len(obj))
	for _, name := range ops {
		op := Op(name)
		if !knownOps[op] {
			return nil, fmt.Errorf("field %s: unsupported filter operator %s", field, name)
		}
		v, err := types.FromAny(obj[name])
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", field, err)
		}

		cond := Condition{Field: field, Op: op}
		if op == OpIn || op == OpNin {
			items, ok := v.AsList()
			if !ok {
				return nil, fmt.Errorf("field %s: %s expects an array", field, name)
			}
			cond.Values = items
		} else {
			cond.Value = v
		}
		conds = append(conds, cond)
	}
	return conds, nil
}

func hasOperatorKeys(obj map[string]any) bool {
	for k := range obj {
		if strings.HasPrefix(k, "$") {
			return true
		}
	}
	return false
}
