package types

// Operator is a rule comparison operator
type Operator string

const (
	OpEq          Operator = "eq"
	OpNeq         Operator = "neq"
	OpGt          Operator = "gt"
	OpLt          Operator = "lt"
	OpGte         Operator = "gte"
	OpLte         Operator = "lte"
	OpContains    Operator = "contains"
	OpNotContains Operator = "not_contains"
	OpIn          Operator = "in"
	OpNotIn       Operator = "not_in"
)

// SupportedOperators lists every operator the evaluator understands
var SupportedOperators = []Operator{
	OpEq, OpNeq,
	OpGt, OpLt, OpGte, OpLte,
	OpContains, OpNotContains,
	OpIn, OpNotIn,
}

// IsSupported reports whether op is a known operator
func (op Operator) IsSupported() bool {
	for _, known := range SupportedOperators {
		if op == known {
			return true
		}
	}
	return false
}

// TakesList reports whether op expects a list operand
func (op Operator) TakesList() bool {
	return op == OpIn || op == OpNotIn
}
