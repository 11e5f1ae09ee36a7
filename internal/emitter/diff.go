package emitter

import (
	"sync"

	"github.com/yairfalse/surface/types"
)

// DiffType classifies a finding change between two scans.
type DiffType string

const (
	DiffNew      DiffType = "new"
	DiffResolved DiffType = "resolved"
)

// FindingKey identifies a finding across scans. Finding ids change on every
// scan, the (resource, rule) pair does not.
type FindingKey struct {
	ResourceID string
	RuleID     string
}

// KeyOf returns the cross-scan key of f.
func KeyOf(f types.Finding) FindingKey {
	return FindingKey{ResourceID: f.ResourceID, RuleID: f.RuleID}
}

// FindingDiff is one new or resolved finding.
type FindingDiff struct {
	Type    DiffType
	Finding types.Finding
}

// DiffTracker remembers the previous scan's findings and detects changes.
type DiffTracker struct {
	mu          sync.RWMutex
	previous    map[FindingKey]types.Finding
	initialized bool
}

// NewDiffTracker creates a new diff tracker.
func NewDiffTracker() *DiffTracker {
	return &DiffTracker{
		previous: make(map[FindingKey]types.Finding),
	}
}

// ComputeDiff compares current findings against the previous scan.
// Returns nil on first scan (baseline establishment).
// Returns empty slice if nothing changed.
func (d *DiffTracker) ComputeDiff(current []types.Finding) []FindingDiff {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if !d.initialized {
		return nil
	}

	currentMap := indexFindings(current)
	diffs := make([]FindingDiff, 0)
	for key, prev := range d.previous {
		if _, ok := currentMap[key]; !ok {
			diffs = append(diffs, FindingDiff{Type: DiffResolved, Finding: prev})
		}
	}
	for key, curr := range currentMap {
		if _, ok := d.previous[key]; !ok {
			diffs = append(diffs, FindingDiff{Type: DiffNew, Finding: curr})
		}
	}
	return diffs
}

// Update stores current as the baseline for the next comparison.
func (d *DiffTracker) Update(current []types.Finding) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.previous = indexFindings(current)
	d.initialized = true
}

func indexFindings(findings []types.Finding) map[FindingKey]types.Finding {
	m := make(map[FindingKey]types.Finding, len(findings))
	for _, f := range findings {
		m[KeyOf(f)] = f
	}
	return m
}
