// Package analyzer computes read-only summaries over stored findings.
package analyzer

import (
	"context"
	"fmt"
	"sort"

	"github.com/yairfalse/surface/internal/filter"
	"github.com/yairfalse/surface/storage"
	"github.com/yairfalse/surface/types"
)

// Aggregator implements FindingAggregator over a document store
type Aggregator struct {
	store storage.DocumentReader
}

// NewAggregator creates a new aggregator
func NewAggregator(store storage.DocumentReader) *Aggregator {
	return &Aggregator{store: store}
}

// SeveritySummary counts findings per severity
func (a *Aggregator) SeveritySummary(ctx context.Context) (SeveritySummary, error) {
	counts, err := a.store.Aggregate(ctx, storage.CollectionFindings, types.FieldSeverity)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate severities: %w", err)
	}

	summary := make(SeveritySummary, len(types.CanonicalSeverities)+1)
	for _, sev := range types.CanonicalSeverities {
		summary[sev] = 0
	}
	for raw, n := range counts {
		summary[types.NormalizeSeverity(raw)] += n
	}
	if summary[types.SeverityUnknown] == 0 {
		delete(summary, types.SeverityUnknown)
	}
	return summary, nil
}

// ResourceTypeSummary counts findings per resource type as recorded on the
// finding at scan time.
func (a *Aggregator) ResourceTypeSummary(ctx context.Context) ([]ResourceTypeCount, error) {
	counts, err := a.store.Aggregate(ctx, storage.CollectionFindings, types.FieldResourceType)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate resource types: %w", err)
	}

	merged := make(map[string]int, len(counts))
	for key, n := range counts {
		merged[orUnknown(key)] += n
	}

	out := make([]ResourceTypeCount, 0, len(merged))
	for _, b := range sortBuckets(merged) {
		out = append(out, ResourceTypeCount{ResourceType: b.key, Count: b.count})
	}
	return out, nil
}

// RegionSummary counts findings per region of the resource as it exists now.
// Findings whose resource is gone, or has no region, count as unknown.
func (a *Aggregator) RegionSummary(ctx context.Context) ([]RegionCount, error) {
	perResource, err := a.store.Aggregate(ctx, storage.CollectionFindings, types.FieldResourceID)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate findings by resource: %w", err)
	}
	if len(perResource) == 0 {
		return []RegionCount{}, nil
	}

	resources, _, err := a.store.Find(ctx, storage.CollectionResources, filter.Query{})
	if err != nil {
		return nil, fmt.Errorf("failed to load resources: %w", err)
	}
	regions := make(map[string]string, len(resources))
	for _, doc := range resources {
		region := ""
		if v, ok := doc.Lookup(types.FieldRegion); ok {
			region = v.String()
		}
		regions[doc.ID()] = region
	}

	merged := make(map[string]int)
	for resourceID, n := range perResource {
		merged[orUnknown(regions[resourceID])] += n
	}

	out := make([]RegionCount, 0, len(merged))
	for _, b := range sortBuckets(merged) {
		out = append(out, RegionCount{Region: b.key, Count: b.count})
	}
	return out, nil
}

func orUnknown(key string) string {
	if key == "" {
		return UnknownKey
	}
	return key
}

type bucket struct {
	key   string
	count int
}

// sortBuckets orders by count descending, then key
func sortBuckets(counts map[string]int) []bucket {
	out := make([]bucket, 0, len(counts))
	for k, n := range counts {
		out = append(out, bucket{key: k, count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].count != out[j].count {
			return out[i].count > out[j].count
		}
		return out[i].key < out[j].key
	})
	return out
}
