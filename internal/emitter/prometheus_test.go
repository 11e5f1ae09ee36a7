package emitter

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/yairfalse/surface/types"
)

type collected struct {
	sums   map[string]map[string]int64
	gauges map[string]map[string]int64
	floats map[string]float64
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) collected {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	c := collected{
		sums:   map[string]map[string]int64{},
		gauges: map[string]map[string]int64{},
		floats: map[string]float64{},
	}
	label := func(set attribute.Set) string {
		v, _ := set.Value("severity")
		if ct, ok := set.Value("change_type"); ok {
			return ct.AsString() + "/" + v.AsString()
		}
		return v.AsString()
	}
	for _, sm := range rm.ScopeMetrics {
		for _, md := range sm.Metrics {
			switch data := md.Data.(type) {
			case metricdata.Sum[int64]:
				m := map[string]int64{}
				for _, dp := range data.DataPoints {
					m[label(dp.Attributes)] += dp.Value
				}
				c.sums[md.Name] = m
			case metricdata.Gauge[int64]:
				m := map[string]int64{}
				for _, dp := range data.DataPoints {
					m[label(dp.Attributes)] += dp.Value
				}
				c.gauges[md.Name] = m
			case metricdata.Gauge[float64]:
				for _, dp := range data.DataPoints {
					c.floats[md.Name] = dp.Value
				}
			}
		}
	}
	return c
}

func report(scanID string, persisted bool, findings ...types.Finding) types.ScanReport {
	return types.ScanReport{
		Result: types.ScanResult{
			ScanID:          scanID,
			StartedAt:       time.Unix(1700000000, 0).UTC(),
			FindingsCreated: len(findings),
		},
		Findings:  findings,
		Persisted: persisted,
	}
}

func TestPrometheusEmitter_Emit(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

	e, err := NewPrometheusEmitter(provider.Meter("test"), nil)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, e.Emit(ctx, report("s1", true,
		makeFinding("f1", "r1", "public", types.SeverityHigh),
		makeFinding("f2", "r2", "public", types.SeverityHigh),
		makeFinding("f3", "r2", "ssh", types.SeverityLow),
	)))

	c := collect(t, reader)
	assert.Equal(t, int64(2), c.gauges["surface_findings"]["HIGH"])
	assert.Equal(t, int64(1), c.gauges["surface_findings"]["LOW"])
	assert.Equal(t, int64(3), c.sums["surface_scan_findings_total"]["HIGH"]+c.sums["surface_scan_findings_total"]["LOW"])
	assert.Empty(t, c.sums["surface_finding_changes_total"], "baseline scan has no changes")
	assert.Equal(t, float64(1700000000), c.floats["surface_last_scan_timestamp_seconds"])

	require.NoError(t, e.Emit(ctx, report("s2", true,
		makeFinding("f4", "r1", "public", types.SeverityHigh),
		makeFinding("f5", "r3", "ssh", types.SeverityLow),
	)))

	c = collect(t, reader)
	assert.Equal(t, int64(1), c.gauges["surface_findings"]["HIGH"])
	assert.Equal(t, int64(1), c.gauges["surface_findings"]["LOW"])
	changes := c.sums["surface_finding_changes_total"]
	assert.Equal(t, int64(1), changes["new/LOW"])
	assert.Equal(t, int64(1), changes["resolved/HIGH"])
	assert.Equal(t, int64(1), changes["resolved/LOW"])
}

func TestPrometheusEmitter_NotPersisted(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

	e, err := NewPrometheusEmitter(provider.Meter("test"), nil)
	require.NoError(t, err)

	require.NoError(t, e.Emit(context.Background(), report("s1", false,
		makeFinding("f1", "r1", "public", types.SeverityHigh),
	)))

	c := collect(t, reader)
	assert.Equal(t, int64(1), c.sums["surface_scan_persist_failures_total"][""])
	assert.Empty(t, c.gauges["surface_findings"])
	assert.Nil(t, e.diffTracker.ComputeDiff(nil), "baseline untouched")
}
