package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Scan phases, each traced as a child span of the scan
const (
	PhaseLoad     = "load"
	PhaseEvaluate = "evaluate"
	PhasePersist  = "persist"
)

// ScanSpan represents one scan pass
type ScanSpan struct {
	span trace.Span
}

// StartScan starts a new scan span
func StartScan(ctx context.Context, tracer trace.Tracer, scanID string) (context.Context, *ScanSpan) {
	ctx, span := tracer.Start(ctx, "surface.scan",
		trace.WithAttributes(attribute.String("scan.id", scanID)),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
	return ctx, &ScanSpan{span: span}
}

// Span returns the underlying span
func (s *ScanSpan) Span() trace.Span {
	return s.span
}

// SetCounts records the pass totals as span attributes
func (s *ScanSpan) SetCounts(c ScanCounts) {
	s.span.SetAttributes(
		attribute.Int("resources.scanned", c.ResourcesScanned),
		attribute.Int("resources.skipped", c.ResourcesSkipped),
		attribute.Int("rules.evaluated", c.RulesEvaluated),
		attribute.Int("rules.skipped", c.RulesSkipped),
		attribute.Int("findings.created", c.FindingsCreated),
	)
}

// Fail marks the scan as failed
func (s *ScanSpan) Fail(err error) {
	s.span.RecordError(err)
	s.span.SetStatus(codes.Error, err.Error())
}

// End ends the scan span
func (s *ScanSpan) End() {
	s.span.End()
}

// StartPhase starts a child span for one scan phase
func StartPhase(ctx context.Context, tracer trace.Tracer, phase string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "surface.scan."+phase,
		trace.WithAttributes(attribute.String("scan.phase", phase)),
	)
}

// EndPhase ends a phase span, recording err when set
func EndPhase(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
