package daemon

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Scheduled scan statuses
const (
	StatusSuccess = "success"
	StatusError   = "error"
	StatusSkipped = "skipped"
)

// DaemonMetrics holds operational metrics using OTEL semantic conventions
type DaemonMetrics struct {
	scheduledScans   metric.Int64Counter
	scanDuration     metric.Float64Histogram
	resourcesScanned metric.Int64Gauge
	findingsCreated  metric.Int64Counter
}

// NewDaemonMetrics creates daemon metrics on the global meter provider
func NewDaemonMetrics() (*DaemonMetrics, error) {
	return newDaemonMetricsWithProvider(otel.GetMeterProvider())
}

func newDaemonMetricsWithProvider(provider metric.MeterProvider) (*DaemonMetrics, error) {
	meter := provider.Meter("surface.daemon")

	scheduledScans, err := meter.Int64Counter(
		"surface.daemon.scheduled_scans",
		metric.WithDescription("Number of scans started by the interval scheduler"),
		metric.WithUnit("{scan}"),
	)
	if err != nil {
		return nil, err
	}

	scanDuration, err := meter.Float64Histogram(
		"surface.daemon.scan.duration",
		metric.WithDescription("Duration of scheduled scans"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	resourcesScanned, err := meter.Int64Gauge(
		"surface.daemon.resources.scanned",
		metric.WithDescription("Resources evaluated by the last scheduled scan"),
		metric.WithUnit("{resource}"),
	)
	if err != nil {
		return nil, err
	}

	findingsCreated, err := meter.Int64Counter(
		"surface.daemon.findings.created",
		metric.WithDescription("Findings produced by scheduled scans"),
		metric.WithUnit("{finding}"),
	)
	if err != nil {
		return nil, err
	}

	return &DaemonMetrics{
		scheduledScans:   scheduledScans,
		scanDuration:     scanDuration,
		resourcesScanned: resourcesScanned,
		findingsCreated:  findingsCreated,
	}, nil
}

// RecordScheduledScan records one scheduler tick with its status
func (m *DaemonMetrics) RecordScheduledScan(ctx context.Context, status string, durationSeconds float64) {
	attrs := metric.WithAttributes(attribute.String("status", status))
	m.scheduledScans.Add(ctx, 1, attrs)
	if status != StatusSkipped {
		m.scanDuration.Record(ctx, durationSeconds, attrs)
	}
}

// RecordScanCounts records what a successful scheduled scan evaluated
func (m *DaemonMetrics) RecordScanCounts(ctx context.Context, resources, findings int) {
	m.resourcesScanned.Record(ctx, int64(resources))
	m.findingsCreated.Add(ctx, int64(findings))
}
