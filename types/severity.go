package types

import "strings"

// Severity of a rule and of the findings it produces
type Severity string

const (
	SeverityCritical Severity = "CRITICAL"
	SeverityHigh     Severity = "HIGH"
	SeverityMedium   Severity = "MEDIUM"
	SeverityLow      Severity = "LOW"
	SeverityInfo     Severity = "INFO"

	// SeverityUnknown is only used when summarising findings
	SeverityUnknown Severity = "UNKNOWN"
)

// DefaultSeverity applies to rules uploaded without one
const DefaultSeverity = SeverityMedium

// CanonicalSeverities in descending order
var CanonicalSeverities = []Severity{
	SeverityCritical,
	SeverityHigh,
	SeverityMedium,
	SeverityLow,
	SeverityInfo,
}

// IsCanonical reports whether s is one of the five rule severities
func (s Severity) IsCanonical() bool {
	for _, c := range CanonicalSeverities {
		if s == c {
			return true
		}
	}
	return false
}

// NormalizeSeverity upper-cases s and maps empty or unrecognised values to UNKNOWN
func NormalizeSeverity(s string) Severity {
	sev := Severity(strings.ToUpper(strings.TrimSpace(s)))
	if sev.IsCanonical() {
		return sev
	}
	return SeverityUnknown
}
