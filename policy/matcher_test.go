package policy

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yairfalse/surface/types"
)

var fixedNow = time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

func newTestMatcher() *Matcher {
	return NewMatcher(MatcherOptions{
		NewID: func() string { return "finding-1" },
		Now:   func() time.Time { return fixedNow },
	})
}

func web1(t *testing.T) types.Resource {
	t.Helper()
	r, err := types.ResourceFromDocument(types.Document{
		types.FieldID:           types.String("r-1"),
		types.FieldName:         types.String("web1"),
		types.FieldResourceType: types.String("ec2"),
		types.FieldRegion:       types.String("us-east-1"),
		"public_ip":             types.String("true"),
	})
	require.NoError(t, err)
	return r
}

func TestMatch_ProducesFinding(t *testing.T) {
	rule := types.Rule{
		ID:           "rule-1",
		Name:         "public instance",
		Description:  "instance has a public ip",
		Field:        "public_ip",
		Op:           types.OpEq,
		Value:        types.String("true"),
		Severity:     types.SeverityHigh,
		ResourceType: "ec2",
	}

	f := newTestMatcher().Match(context.Background(), web1(t), rule)
	require.NotNil(t, f)
	assert.Equal(t, types.Finding{
		ID:              "finding-1",
		ResourceID:      "r-1",
		ResourceName:    "web1",
		ResourceType:    "ec2",
		RuleID:          "rule-1",
		RuleName:        "public instance",
		RuleDescription: "instance has a public ip",
		Severity:        types.SeverityHigh,
		Field:           "public_ip",
		Operator:        types.OpEq,
		ActualValue:     "true",
		ExpectedValue:   "true",
		CreatedAt:       fixedNow,
	}, *f)
}

func TestMatch_ScopeExcludesOtherTypes(t *testing.T) {
	rule := types.Rule{ID: "r", Field: "public_ip", Op: types.OpEq, Value: types.String("true"), ResourceType: "s3"}
	assert.Nil(t, newTestMatcher().Match(context.Background(), web1(t), rule))
	assert.False(t, Applies(web1(t), rule))
}

func TestMatch_UnscopedAlwaysApplies(t *testing.T) {
	rule := types.Rule{ID: "r", Field: "region", Op: types.OpEq, Value: types.String("us-east-1")}
	assert.True(t, Applies(web1(t), rule))
	assert.NotNil(t, newTestMatcher().Match(context.Background(), web1(t), rule))
}

func TestMatch_AbsentFieldNoFinding(t *testing.T) {
	rule := types.Rule{ID: "r", Field: "open_ports", Op: types.OpGt, Value: types.String("5"), Severity: types.SeverityMedium}
	m := newTestMatcher()
	assert.Nil(t, m.Match(context.Background(), web1(t), rule))
	assert.Zero(t, m.Failures())
}

func TestMatch_UnsupportedOperatorCounted(t *testing.T) {
	rule := types.Rule{ID: "r", Field: "public_ip", Op: "regex", Value: types.String(".*")}
	m := newTestMatcher()

	assert.Nil(t, m.Match(context.Background(), web1(t), rule))
	assert.Nil(t, m.Match(context.Background(), web1(t), rule))
	assert.Equal(t, int64(2), m.Failures())
}

func TestNewMatcher_Defaults(t *testing.T) {
	m := NewMatcher(MatcherOptions{})
	rule := types.Rule{ID: "r", Field: "public_ip", Op: types.OpNeq, Value: types.String("false")}

	f := m.Match(context.Background(), web1(t), rule)
	require.NotNil(t, f)
	assert.Len(t, f.ID, 36)
	assert.False(t, f.CreatedAt.IsZero())
}
