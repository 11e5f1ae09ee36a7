package policy

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yairfalse/surface/types"
)

func attrs(kv ...any) types.Document {
	d := types.Document{}
	for i := 0; i+1 < len(kv); i += 2 {
		v, err := types.FromAny(kv[i+1])
		if err != nil {
			panic(err)
		}
		d[kv[i].(string)] = v
	}
	return d
}

func TestEvaluate(t *testing.T) {
	doc := attrs(
		"public_ip", "true",
		"encrypted", false,
		"open_ports", 8,
		"port_str", "22",
		"version", "nginx/1.18.0",
		"tags", map[string]any{"env": "prod"},
		"zones", []any{"a", "b"},
	)

	tests := []struct {
		name  string
		field string
		op    types.Operator
		value types.Value
		want  bool
	}{
		{"eq string", "public_ip", types.OpEq, types.String("true"), true},
		{"eq case sensitive", "public_ip", types.OpEq, types.String("True"), false},
		{"eq bool vs string", "encrypted", types.OpEq, types.String("false"), true},
		{"eq bool vs bool", "encrypted", types.OpEq, types.Bool(false), true},
		{"eq numeric string", "port_str", types.OpEq, types.Int(22), true},
		{"eq numeric normalization", "open_ports", types.OpEq, types.String("8.0"), true},
		{"neq", "public_ip", types.OpNeq, types.String("false"), true},
		{"gt", "open_ports", types.OpGt, types.String("5"), true},
		{"gt equal", "open_ports", types.OpGt, types.Int(8), false},
		{"gte", "open_ports", types.OpGte, types.Int(8), true},
		{"lt", "port_str", types.OpLt, types.Int(100), true},
		{"lte", "open_ports", types.OpLte, types.Number(7.5), false},
		{"gt non numeric actual", "public_ip", types.OpGt, types.Int(1), false},
		{"gt non numeric expected", "open_ports", types.OpGt, types.String("many"), false},
		{"lt bool", "encrypted", types.OpLt, types.Int(1), false},
		{"contains", "version", types.OpContains, types.String("1.18"), true},
		{"contains case sensitive", "version", types.OpContains, types.String("NGINX"), false},
		{"not_contains", "version", types.OpNotContains, types.String("apache"), true},
		{"contains nested map stringified", "tags", types.OpContains, types.String(`"env":"prod"`), true},
		{"in", "port_str", types.OpIn, types.List(types.Int(22), types.Int(80)), true},
		{"in no match", "public_ip", types.OpIn, types.List(types.String("yes")), false},
		{"in non list operand", "public_ip", types.OpIn, types.String("true"), false},
		{"not_in", "public_ip", types.OpNotIn, types.List(types.String("false")), true},
		{"not_in non list operand", "public_ip", types.OpNotIn, types.String("x"), false},
		{"dot path", "tags.env", types.OpEq, types.String("prod"), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Evaluate(doc, tt.field, tt.op, tt.value)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEvaluate_AbsentFieldFailsEveryOperator(t *testing.T) {
	doc := attrs("name", "web1", "nothing", nil)

	for _, op := range types.SupportedOperators {
		for _, field := range []string{"open_ports", "nothing"} {
			value := types.String("5")
			if op.TakesList() {
				value = types.List(types.String("5"))
			}
			got, err := Evaluate(doc, field, op, value)
			require.NoError(t, err)
			assert.False(t, got, "%s on %s", op, field)
		}
	}
}

func TestEvaluate_UnsupportedOperator(t *testing.T) {
	_, err := Evaluate(attrs("a", "b"), "a", types.Operator("regex"), types.String("b"))
	require.Error(t, err)

	var unsupported *UnsupportedOperatorError
	require.True(t, errors.As(err, &unsupported))
	assert.Equal(t, types.Operator("regex"), unsupported.Op)
}

func TestEvaluate_EqNeqComplementary(t *testing.T) {
	values := []types.Value{
		types.String("true"), types.String("8"), types.Int(8), types.Bool(true),
		types.Number(8.5), types.String(""), types.List(types.Int(1)),
	}
	doc := attrs("s", "true", "n", 8, "b", true, "f", 8.5, "e", "", "l", []any{1})

	for field := range doc {
		for _, v := range values {
			eq, err := Evaluate(doc, field, types.OpEq, v)
			require.NoError(t, err)
			neq, err := Evaluate(doc, field, types.OpNeq, v)
			require.NoError(t, err)
			assert.NotEqual(t, eq, neq, "field %s value %s", field, v)
		}
	}
}

func TestEvaluate_InNotInComplementary(t *testing.T) {
	doc := attrs("region", "us-east-1", "count", 3)
	lists := []types.Value{
		types.List(),
		types.List(types.String("us-east-1")),
		types.List(types.String("eu-west-1"), types.Int(3)),
	}

	for field := range doc {
		for _, list := range lists {
			in, err := Evaluate(doc, field, types.OpIn, list)
			require.NoError(t, err)
			notIn, err := Evaluate(doc, field, types.OpNotIn, list)
			require.NoError(t, err)
			assert.NotEqual(t, in, notIn, "field %s list %s", field, list)
		}
	}
}
