package policy

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/yairfalse/surface/telemetry"
	"github.com/yairfalse/surface/types"
)

// MatcherOptions configures a Matcher. Zero values fall back to uuid ids,
// the wall clock and a discarding logger.
type MatcherOptions struct {
	NewID  func() string
	Now    func() time.Time
	Logger *telemetry.Logger
}

// Matcher applies single rules to single resources
type Matcher struct {
	newID  func() string
	now    func() time.Time
	logger *telemetry.Logger

	failures atomic.Int64
}

// NewMatcher creates a matcher
func NewMatcher(opts MatcherOptions) *Matcher {
	m := &Matcher{newID: opts.NewID, now: opts.Now, logger: opts.Logger}
	if m.newID == nil {
		m.newID = uuid.NewString
	}
	if m.now == nil {
		m.now = time.Now
	}
	if m.logger == nil {
		m.logger = telemetry.NewNopLogger()
	}
	return m
}

// Applies reports whether the rule's resource type scope admits the resource
func Applies(resource types.Resource, rule types.Rule) bool {
	return !rule.Scoped() || rule.ResourceType == resource.ResourceType
}

// Match evaluates rule against resource and returns a finding on match.
// Out-of-scope rules, non-matches and evaluation failures return nil;
// failures are counted and logged.
func (m *Matcher) Match(ctx context.Context, resource types.Resource, rule types.Rule) *types.Finding {
	if !Applies(resource, rule) {
		return nil
	}

	matched, err := Evaluate(resource, rule.Field, rule.Op, rule.Value)
	if err != nil {
		m.failures.Add(1)
		var unsupported *UnsupportedOperatorError
		if errors.As(err, &unsupported) {
			m.logger.LogRuleSkipped(ctx, rule.ID, string(rule.Op))
		}
		return nil
	}
	if !matched {
		return nil
	}

	actual := types.FieldNotFound
	if v, ok := resource.Lookup(rule.Field); ok {
		actual = v.String()
	}

	return &types.Finding{
		ID:              m.newID(),
		ResourceID:      resource.ID,
		ResourceName:    resource.Name,
		ResourceType:    resource.ResourceType,
		RuleID:          rule.ID,
		RuleName:        rule.Name,
		RuleDescription: rule.Description,
		Severity:        rule.Severity,
		Field:           rule.Field,
		Operator:        rule.Op,
		ActualValue:     actual,
		ExpectedValue:   rule.Value.String(),
		CreatedAt:       m.now().UTC(),
	}
}

// Failures returns the number of evaluation failures seen so far
func (m *Matcher) Failures() int64 {
	return m.failures.Load()
}
