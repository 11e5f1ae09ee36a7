package emitter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yairfalse/surface/types"
)

func makeFinding(id, resourceID, ruleID string, sev types.Severity) types.Finding {
	return types.Finding{
		ID:           id,
		ResourceID:   resourceID,
		ResourceName: "name-" + resourceID,
		ResourceType: "ec2",
		RuleID:       ruleID,
		RuleName:     "rule-" + ruleID,
		Severity:     sev,
	}
}

func TestDiffTracker_FirstScan(t *testing.T) {
	tracker := NewDiffTracker()
	findings := []types.Finding{makeFinding("f1", "r1", "public", types.SeverityHigh)}

	assert.Nil(t, tracker.ComputeDiff(findings), "first scan should return nil")
	tracker.Update(findings)
}

func TestDiffTracker_SamePairNewID(t *testing.T) {
	tracker := NewDiffTracker()
	tracker.Update([]types.Finding{makeFinding("f1", "r1", "public", types.SeverityHigh)})

	diffs := tracker.ComputeDiff([]types.Finding{makeFinding("f2", "r1", "public", types.SeverityHigh)})
	require.NotNil(t, diffs)
	assert.Empty(t, diffs, "re-detected pair is not a change")
}

func TestDiffTracker_NewAndResolved(t *testing.T) {
	tracker := NewDiffTracker()
	tracker.Update([]types.Finding{
		makeFinding("f1", "r1", "public", types.SeverityHigh),
		makeFinding("f2", "r2", "public", types.SeverityHigh),
	})

	diffs := tracker.ComputeDiff([]types.Finding{
		makeFinding("f3", "r1", "public", types.SeverityHigh),
		makeFinding("f4", "r1", "ssh", types.SeverityLow),
	})
	require.Len(t, diffs, 2)

	byType := map[DiffType]FindingDiff{}
	for _, d := range diffs {
		byType[d.Type] = d
	}
	assert.Equal(t, FindingKey{ResourceID: "r2", RuleID: "public"}, KeyOf(byType[DiffResolved].Finding))
	assert.Equal(t, FindingKey{ResourceID: "r1", RuleID: "ssh"}, KeyOf(byType[DiffNew].Finding))
}

func TestDiffTracker_AllResolved(t *testing.T) {
	tracker := NewDiffTracker()
	tracker.Update([]types.Finding{makeFinding("f1", "r1", "public", types.SeverityHigh)})

	diffs := tracker.ComputeDiff(nil)
	require.Len(t, diffs, 1)
	assert.Equal(t, DiffResolved, diffs[0].Type)

	tracker.Update(nil)
	assert.Empty(t, tracker.ComputeDiff(nil))
}
