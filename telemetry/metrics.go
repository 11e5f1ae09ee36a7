package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Scan outcomes recorded on surface.scans.total
const (
	OutcomeSuccess        = "success"
	OutcomeLoadFailed     = "load_failed"
	OutcomePersistFailed  = "persist_failed"
	OutcomeAlreadyRunning = "already_running"
)

// ScanCounts are the per-pass totals recorded after a scan
type ScanCounts struct {
	ResourcesScanned int
	ResourcesSkipped int
	RulesEvaluated   int
	RulesSkipped     int
	FindingsCreated  int
}

// ScanMetrics holds the scan engine instruments
type ScanMetrics struct {
	// Counters
	ScansTotal       metric.Int64Counter
	ResourcesScanned metric.Int64Counter
	ResourcesSkipped metric.Int64Counter
	RulesEvaluated   metric.Int64Counter
	RulesSkipped     metric.Int64Counter
	FindingsCreated  metric.Int64Counter

	// Histograms
	ScanDuration metric.Float64Histogram
}

// InitScanMetrics creates all scan instruments on meter
func InitScanMetrics(meter metric.Meter) (*ScanMetrics, error) {
	m := &ScanMetrics{}

	if err := m.initCounters(meter); err != nil {
		return nil, err
	}

	if err := m.initHistograms(meter); err != nil {
		return nil, err
	}

	return m, nil
}

func (m *ScanMetrics) initCounters(meter metric.Meter) error {
	var err error

	m.ScansTotal, err = meter.Int64Counter(
		"surface.scans.total",
		metric.WithDescription("Total number of scan passes by outcome"),
		metric.WithUnit("scans"),
	)
	if err != nil {
		return err
	}

	m.ResourcesScanned, err = meter.Int64Counter(
		"surface.resources.scanned.total",
		metric.WithDescription("Total number of resources evaluated"),
		metric.WithUnit("resources"),
	)
	if err != nil {
		return err
	}

	m.ResourcesSkipped, err = meter.Int64Counter(
		"surface.resources.skipped.total",
		metric.WithDescription("Total number of unreadable resources skipped"),
		metric.WithUnit("resources"),
	)
	if err != nil {
		return err
	}

	m.RulesEvaluated, err = meter.Int64Counter(
		"surface.rules.evaluated.total",
		metric.WithDescription("Total number of resource/rule evaluations"),
		metric.WithUnit("evaluations"),
	)
	if err != nil {
		return err
	}

	m.RulesSkipped, err = meter.Int64Counter(
		"surface.rules.skipped.total",
		metric.WithDescription("Total number of rules skipped for unsupported operators"),
		metric.WithUnit("rules"),
	)
	if err != nil {
		return err
	}

	m.FindingsCreated, err = meter.Int64Counter(
		"surface.findings.created.total",
		metric.WithDescription("Total number of findings persisted"),
		metric.WithUnit("findings"),
	)
	return err
}

func (m *ScanMetrics) initHistograms(meter metric.Meter) error {
	var err error

	m.ScanDuration, err = meter.Float64Histogram(
		"surface.scan.duration",
		metric.WithDescription("Duration of full scan passes"),
		metric.WithUnit("s"),
	)
	return err
}

// RecordScan records one finished scan pass
func (m *ScanMetrics) RecordScan(ctx context.Context, outcome string, counts ScanCounts, d time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("outcome", outcome))

	m.ScansTotal.Add(ctx, 1, attrs)
	m.ScanDuration.Record(ctx, d.Seconds(), attrs)
	m.ResourcesScanned.Add(ctx, int64(counts.ResourcesScanned))
	m.ResourcesSkipped.Add(ctx, int64(counts.ResourcesSkipped))
	m.RulesEvaluated.Add(ctx, int64(counts.RulesEvaluated))
	m.RulesSkipped.Add(ctx, int64(counts.RulesSkipped))
	m.FindingsCreated.Add(ctx, int64(counts.FindingsCreated))
}
