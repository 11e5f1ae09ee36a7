// Package policy evaluates flat field/operator/value rules against resources.
package policy

import (
	"fmt"
	"strings"

	"github.com/yairfalse/surface/types"
)

// UnsupportedOperatorError is returned for operators outside the supported set
type UnsupportedOperatorError struct {
	Op types.Operator
}

func (e *UnsupportedOperatorError) Error() string {
	return fmt.Sprintf("unsupported operator %q", string(e.Op))
}

// Attributes is the field view a predicate is evaluated against
type Attributes interface {
	Lookup(field string) (types.Value, bool)
}

// Evaluate applies op to the field of doc and value. An absent field is a
// failed comparison for every operator. Type mismatches never error; they
// evaluate to false. Only an unknown operator returns an error.
func Evaluate(doc Attributes, field string, op types.Operator, value types.Value) (bool, error) {
	if !op.IsSupported() {
		return false, &UnsupportedOperatorError{Op: op}
	}

	actual, ok := doc.Lookup(field)
	if !ok {
		return false, nil
	}

	switch op {
	case types.OpEq:
		return Equal(actual, value), nil
	case types.OpNeq:
		return !Equal(actual, value), nil
	case types.OpGt, types.OpLt, types.OpGte, types.OpLte:
		return compareNumeric(op, actual, value), nil
	case types.OpContains:
		return strings.Contains(actual.String(), value.String()), nil
	case types.OpNotContains:
		return !strings.Contains(actual.String(), value.String()), nil
	case types.OpIn:
		items, isList := value.AsList()
		return isList && member(actual, items), nil
	case types.OpNotIn:
		items, isList := value.AsList()
		return isList && !member(actual, items), nil
	}
	return false, &UnsupportedOperatorError{Op: op}
}

// Equal compares numerically when both sides parse as numbers and as
// case-sensitive strings otherwise. Booleans compare by their "true"/"false" form.
func Equal(actual, expected types.Value) bool {
	if a, ok := actual.ParseNumber(); ok {
		if b, ok := expected.ParseNumber(); ok {
			return a == b
		}
	}
	return actual.String() == expected.String()
}

func compareNumeric(op types.Operator, actual, expected types.Value) bool {
	a, ok := actual.ParseNumber()
	if !ok {
		return false
	}
	b, ok := expected.ParseNumber()
	if !ok {
		return false
	}

	switch op {
	case types.OpGt:
		return a > b
	case types.OpLt:
		return a < b
	case types.OpGte:
		return a >= b
	case types.OpLte:
		return a <= b
	}
	return false
}

func member(actual types.Value, items []types.Value) bool {
	for _, item := range items {
		if Equal(actual, item) {
			return true
		}
	}
	return false
}
