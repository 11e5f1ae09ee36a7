package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// RecordRuleSkippedEvent adds a span event for a rule left out of a scan
func RecordRuleSkippedEvent(span trace.Span, ruleID, ruleName, op, reason string) {
	if span == nil {
		return
	}

	span.AddEvent("scan.rule.skipped", trace.WithAttributes(
		attribute.String("event.type", "scan.rule.skipped"),
		attribute.String("rule.id", ruleID),
		attribute.String("rule.name", ruleName),
		attribute.String("rule.op", op),
		attribute.String("reason", reason),
	))
}

// RecordResourceSkippedEvent adds a span event for an unreadable resource
func RecordResourceSkippedEvent(span trace.Span, resourceID, reason string) {
	if span == nil {
		return
	}

	span.AddEvent("scan.resource.skipped", trace.WithAttributes(
		attribute.String("event.type", "scan.resource.skipped"),
		attribute.String("resource.id", resourceID),
		attribute.String("reason", reason),
	))
}

// RecordPersistFailedEvent adds a span event when computed findings were not stored
func RecordPersistFailedEvent(span trace.Span, computed int, reason string) {
	if span == nil {
		return
	}

	span.AddEvent("scan.persist.failed", trace.WithAttributes(
		attribute.String("event.type", "scan.persist.failed"),
		attribute.Int("findings.computed", computed),
		attribute.String("reason", reason),
	))
}
