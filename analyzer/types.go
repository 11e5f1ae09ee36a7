package analyzer

import (
	"context"

	"github.com/yairfalse/surface/types"
)

// UnknownKey groups findings whose resource type or region is missing
const UnknownKey = "unknown"

// SeverityCount is one severity bucket
type SeverityCount struct {
	Severity types.Severity `json:"severity"`
	Count    int            `json:"count"`
}

// ResourceTypeCount is one resource type bucket
type ResourceTypeCount struct {
	ResourceType string `json:"resource_type"`
	Count        int    `json:"count"`
}

// RegionCount is one region bucket
type RegionCount struct {
	Region string `json:"region"`
	Count  int    `json:"count"`
}

// SeveritySummary maps severity to finding count. The five canonical
// severities are always present; UNKNOWN only when non-zero.
type SeveritySummary map[types.Severity]int

// Ordered returns the buckets from CRITICAL down to INFO, then UNKNOWN
func (s SeveritySummary) Ordered() []SeverityCount {
	out := make([]SeverityCount, 0, len(types.CanonicalSeverities)+1)
	for _, sev := range types.CanonicalSeverities {
		out = append(out, SeverityCount{Severity: sev, Count: s[sev]})
	}
	if n := s[types.SeverityUnknown]; n > 0 {
		out = append(out, SeverityCount{Severity: types.SeverityUnknown, Count: n})
	}
	return out
}

// Total is the number of findings summarised
func (s SeveritySummary) Total() int {
	total := 0
	for _, n := range s {
		total += n
	}
	return total
}

// FindingAggregator summarises the findings collection
type FindingAggregator interface {
	SeveritySummary(ctx context.Context) (SeveritySummary, error)
	ResourceTypeSummary(ctx context.Context) ([]ResourceTypeCount, error)
	RegionSummary(ctx context.Context) ([]RegionCount, error)
}
