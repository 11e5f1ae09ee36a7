package types

import "time"

// ScanResult summarizes one scan pass
type ScanResult struct {
	ScanID           string        `json:"scan_id"`
	ResourcesScanned int           `json:"resources_scanned"`
	ResourcesSkipped int           `json:"resources_skipped"`
	RulesLoaded      int           `json:"rules_loaded"`
	RulesEvaluated   int           `json:"rules_evaluated"`
	RulesSkipped     int           `json:"rules_skipped"`
	EvaluationErrors int           `json:"evaluation_errors"`
	FindingsCreated  int           `json:"findings_created"`
	StartedAt        time.Time     `json:"started_at"`
	Duration         time.Duration `json:"duration"`
}

// ScanReport is what emitters receive after a pass
type ScanReport struct {
	Result    ScanResult `json:"result"`
	Findings  []Finding  `json:"findings"`
	Persisted bool       `json:"persisted"`
}
