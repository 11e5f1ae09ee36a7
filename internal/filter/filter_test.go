package filter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yairfalse/surface/types"
)

func doc(kv ...any) types.Document {
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

func TestFilter_EmptyMatchesEverything(t *testing.T) {
	var f Filter
	assert.True(t, f.IsEmpty())
	assert.True(t, f.Match(doc("a", 1)))
	assert.True(t, f.Match(types.Document{}))
}

func TestCondition_Equality(t *testing.T) {
	d := doc("resource_type", "ec2", "port", 22, "tags", []any{"prod", "web"})

	assert.True(t, Eq("resource_type", types.String("ec2")).Match(d))
	assert.False(t, Eq("resource_type", types.String("EC2")).Match(d))
	assert.True(t, Eq("port", types.Number(22.0)).Match(d))
	assert.False(t, Eq("port", types.String("22")).Match(d), "equality is strict by kind")
	assert.True(t, Eq("tags", types.String("web")).Match(d), "array element match")
	assert.False(t, Eq("missing", types.String("x")).Match(d))
}

func TestCondition_MissingField(t *testing.T) {
	d := doc("name", "web1")

	tests := []struct {
		op   Op
		want bool
	}{
		{OpEq, false},
		{OpNe, true},
		{OpGt, false},
		{OpLte, false},
		{OpIn, false},
		{OpNin, true},
	}
	for _, tt := range tests {
		t.Run(string(tt.op), func(t *testing.T) {
			c := Condition{Field: "region", Op: tt.op, Value: types.String("x"), Values: []types.Value{types.String("x")}}
			assert.Equal(t, tt.want, c.Match(d))
		})
	}
}

func TestCondition_Range(t *testing.T) {
	d := doc("count", 10, "name", "beta")

	assert.True(t, Condition{Field: "count", Op: OpGt, Value: types.Int(5)}.Match(d))
	assert.True(t, Condition{Field: "count", Op: OpGte, Value: types.Int(10)}.Match(d))
	assert.False(t, Condition{Field: "count", Op: OpLt, Value: types.Int(10)}.Match(d))
	assert.True(t, Condition{Field: "name", Op: OpGt, Value: types.String("alpha")}.Match(d))
	assert.False(t, Condition{Field: "count", Op: OpGt, Value: types.String("5")}.Match(d), "mixed kinds never match")
}

func TestParse(t *testing.T) {
	f, err := Parse(map[string]any{
		"resource_type": "ec2",
		"count":         map[string]any{"$gte": 2, "$lt": 10},
		"region":        map[string]any{"$in": []any{"us-east-1", "eu-west-1"}},
		"$and":          []any{map[string]any{"name": map[string]any{"$ne": "db"}}},
	})
	require.NoError(t, err)
	assert.Len(t, f.Conditions, 5)

	assert.True(t, f.Match(doc("resource_type", "ec2", "count", 3, "region", "eu-west-1", "name", "web")))
	assert.False(t, f.Match(doc("resource_type", "ec2", "count", 3, "region", "eu-west-1", "name", "db")))
	assert.False(t, f.Match(doc("resource_type", "ec2", "count", 12, "region", "eu-west-1")))
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name string
		raw  map[string]any
	}{
		{"unknown field operator", map[string]any{"a": map[string]any{"$regex": "x"}}},
		{"unknown top-level operator", map[string]any{"$or": []any{}}},
		{"$in needs array", map[string]any{"a": map[string]any{"$in": "x"}}},
		{"$and needs array", map[string]any{"$and": "x"}},
		{"$and item must be object", map[string]any{"$and": []any{"x"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.raw)
			assert.Error(t, err)
		})
	}
}

func TestParse_PlainObjectIsEquality(t *testing.T) {
	f, err := Parse(map[string]any{"tags": map[string]any{"env": "prod"}})
	require.NoError(t, err)
	require.Len(t, f.Conditions, 1)
	assert.Equal(t, OpEq, f.Conditions[0].Op)
	assert.True(t, f.Match(doc("tags", map[string]any{"env": "prod"})))
}

func TestApply_SearchSortPage(t *testing.T) {
	docs := []types.Document{
		doc("name", "web-b", "resource_type", "ec2"),
		doc("name", "db-1", "resource_type", "rds"),
		doc("name", "Web-a", "resource_type", "ec2"),
		doc("name", "cache", "resource_type", "ec2"),
	}

	page, total := Apply(docs, Query{
		SearchField: "name",
		SearchTerm:  "web",
		Sort:        []SortKey{{Field: "name"}},
		Limit:       1,
	})
	assert.Equal(t, 2, total)
	require.Len(t, page, 1)
	assert.Equal(t, "Web-a", page[0].StringField("name"))

	page, total = Apply(docs, Query{
		Filter: Eq("resource_type", types.String("ec2")),
		Sort:   []SortKey{{Field: "name", Desc: true}},
		Skip:   1,
		Limit:  5,
	})
	assert.Equal(t, 3, total)
	require.Len(t, page, 2)
	assert.Equal(t, "cache", page[0].StringField("name"))
	assert.Equal(t, "Web-a", page[1].StringField("name"))
}

func TestApply_StableOnTies(t *testing.T) {
	docs := []types.Document{
		doc("_id", "1", "severity", "HIGH"),
		doc("_id", "2", "severity", "LOW"),
		doc("_id", "3", "severity", "HIGH"),
	}
	page, _ := Apply(docs, Query{Sort: []SortKey{{Field: "severity"}}})
	require.Len(t, page, 3)
	assert.Equal(t, "1", page[0].ID())
	assert.Equal(t, "3", page[1].ID())
	assert.Equal(t, "2", page[2].ID())
}

func TestPage_PastEnd(t *testing.T) {
	docs := []types.Document{doc("a", 1)}
	assert.Empty(t, Page(docs, 5, 10))
	assert.Len(t, Page(docs, 0, 0), 1)
}
