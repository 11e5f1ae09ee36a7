package emitter

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/yairfalse/surface/telemetry"
	"github.com/yairfalse/surface/types"
)

type severityType struct {
	severity     types.Severity
	resourceType string
}

// PrometheusEmitter exposes the latest scan's findings as metrics via OTEL.
type PrometheusEmitter struct {
	meter  metric.Meter
	logger *telemetry.Logger

	// Metrics
	openFindings         metric.Int64ObservableGauge
	lastScan             metric.Float64ObservableGauge
	scanFindingsTotal    metric.Int64Counter
	findingChangesTotal  metric.Int64Counter
	persistFailuresTotal metric.Int64Counter

	// State for observable gauges
	mu         sync.RWMutex
	counts     map[severityType]int64
	lastScanAt time.Time

	diffTracker *DiffTracker
}

// NewPrometheusEmitter creates a Prometheus emitter. A nil meter uses the
// global provider.
func NewPrometheusEmitter(meter metric.Meter, logger *telemetry.Logger) (*PrometheusEmitter, error) {
	if meter == nil {
		meter = otel.Meter("surface")
	}
	if logger == nil {
		logger = telemetry.NewNopLogger()
	}

	e := &PrometheusEmitter{
		meter:       meter,
		logger:      logger,
		counts:      make(map[severityType]int64),
		diffTracker: NewDiffTracker(),
	}

	if err := e.initMetrics(); err != nil {
		return nil, fmt.Errorf("init metrics: %w", err)
	}

	return e, nil
}

func (e *PrometheusEmitter) initMetrics() error {
	var err error

	e.openFindings, err = e.meter.Int64ObservableGauge(
		"surface_findings",
		metric.WithDescription("Findings produced by the latest persisted scan"),
		metric.WithInt64Callback(e.observeFindings),
	)
	if err != nil {
		return fmt.Errorf("create findings gauge: %w", err)
	}

	e.lastScan, err = e.meter.Float64ObservableGauge(
		"surface_last_scan_timestamp_seconds",
		metric.WithDescription("Start time of the latest persisted scan"),
		metric.WithUnit("s"),
		metric.WithFloat64Callback(e.observeLastScan),
	)
	if err != nil {
		return fmt.Errorf("create last_scan gauge: %w", err)
	}

	e.scanFindingsTotal, err = e.meter.Int64Counter(
		"surface_scan_findings_total",
		metric.WithDescription("Total findings persisted across scans"),
	)
	if err != nil {
		return fmt.Errorf("create scan_findings counter: %w", err)
	}

	e.findingChangesTotal, err = e.meter.Int64Counter(
		"surface_finding_changes_total",
		metric.WithDescription("Findings that appeared or were resolved between scans"),
	)
	if err != nil {
		return fmt.Errorf("create finding_changes counter: %w", err)
	}

	e.persistFailuresTotal, err = e.meter.Int64Counter(
		"surface_scan_persist_failures_total",
		metric.WithDescription("Scans whose findings could not be stored"),
	)
	if err != nil {
		return fmt.Errorf("create persist_failures counter: %w", err)
	}

	return nil
}

// Emit records the scan report as metrics. Reports whose findings were not
// stored only bump the failure counter and leave the baseline alone.
func (e *PrometheusEmitter) Emit(ctx context.Context, report types.ScanReport) error {
	if !report.Persisted {
		e.persistFailuresTotal.Add(ctx, 1)
		e.logger.WithContext(ctx).Warn().
			Str("scan_id", report.Result.ScanID).
			Int("findings", len(report.Findings)).
			Msg("scan findings not persisted")
		return nil
	}

	counts := make(map[severityType]int64)
	for _, f := range report.Findings {
		key := severityType{severity: types.NormalizeSeverity(string(f.Severity)), resourceType: f.ResourceType}
		counts[key]++
	}
	for key, n := range counts {
		e.scanFindingsTotal.Add(ctx, n, metric.WithAttributes(
			attribute.String("severity", string(key.severity)),
			attribute.String("resource_type", key.resourceType),
		))
	}

	e.emitDiffs(ctx, report)

	e.mu.Lock()
	e.counts = counts
	e.lastScanAt = report.Result.StartedAt
	e.mu.Unlock()

	e.diffTracker.Update(report.Findings)
	return nil
}

// emitDiffs counts and logs findings that appeared or disappeared.
func (e *PrometheusEmitter) emitDiffs(ctx context.Context, report types.ScanReport) {
	diffs := e.diffTracker.ComputeDiff(report.Findings)
	if diffs == nil {
		// First scan - baseline established
		return
	}

	for _, diff := range diffs {
		e.findingChangesTotal.Add(ctx, 1, metric.WithAttributes(
			attribute.String("change_type", string(diff.Type)),
			attribute.String("severity", string(diff.Finding.Severity)),
		))

		e.logger.WithContext(ctx).Info().
			Str("scan_id", report.Result.ScanID).
			Str("resource_id", diff.Finding.ResourceID).
			Str("rule_id", diff.Finding.RuleID).
			Str("severity", string(diff.Finding.Severity)).
			Str("change", string(diff.Type)).
			Msg("finding changed")
	}
}

// observeFindings is the callback for the findings gauge.
func (e *PrometheusEmitter) observeFindings(_ context.Context, o metric.Int64Observer) error {
	e.mu.RLock()
	defer e.mu.RUnlock()

	for key, n := range e.counts {
		o.Observe(n, metric.WithAttributes(
			attribute.String("severity", string(key.severity)),
			attribute.String("resource_type", key.resourceType),
		))
	}
	return nil
}

func (e *PrometheusEmitter) observeLastScan(_ context.Context, o metric.Float64Observer) error {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if !e.lastScanAt.IsZero() {
		o.Observe(float64(e.lastScanAt.UnixNano()) / 1e9)
	}
	return nil
}

// Close is a no-op for Prometheus emitter.
func (e *PrometheusEmitter) Close() error {
	return nil
}
