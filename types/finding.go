package types

import (
	"fmt"
	"time"
)

// Finding field names
const (
	FieldScanID          = "scan_id"
	FieldResourceID      = "resource_id"
	FieldResourceName    = "resource_name"
	FieldRuleID          = "rule_id"
	FieldRuleName        = "rule_name"
	FieldRuleDescription = "rule_description"
	FieldOperator        = "operator"
	FieldActualValue     = "actual_value"
	FieldExpectedValue   = "expected_value"
)

// FieldNotFound is reported as the actual value when the rule field was absent
const FieldNotFound = "field not found"

// Finding records one (resource, rule) match. Resource name and type are
// copied at scan time so the finding stays valid after the resource is gone.
type Finding struct {
	ID              string    `json:"_id"`
	ScanID          string    `json:"scan_id"`
	ResourceID      string    `json:"resource_id"`
	ResourceName    string    `json:"resource_name"`
	ResourceType    string    `json:"resource_type"`
	RuleID          string    `json:"rule_id"`
	RuleName        string    `json:"rule_name"`
	RuleDescription string    `json:"rule_description"`
	Severity        Severity  `json:"severity"`
	Field           string    `json:"field"`
	Operator        Operator  `json:"operator"`
	ActualValue     string    `json:"actual_value"`
	ExpectedValue   string    `json:"expected_value"`
	CreatedAt       time.Time `json:"created_at"`
}

// Document renders the finding as a store document
func (f Finding) Document() Document {
	return Document{
		FieldID:              String(f.ID),
		FieldScanID:          String(f.ScanID),
		FieldResourceID:      String(f.ResourceID),
		FieldResourceName:    String(f.ResourceName),
		FieldResourceType:    String(f.ResourceType),
		FieldRuleID:          String(f.RuleID),
		FieldRuleName:        String(f.RuleName),
		FieldRuleDescription: String(f.RuleDescription),
		FieldSeverity:        String(string(f.Severity)),
		FieldField:           String(f.Field),
		FieldOperator:        String(string(f.Operator)),
		FieldActualValue:     String(f.ActualValue),
		FieldExpectedValue:   String(f.ExpectedValue),
		FieldCreatedAt:       String(FormatTime(f.CreatedAt)),
	}
}

// FindingFromDocument reads a stored finding document
func FindingFromDocument(d Document) (Finding, error) {
	if d == nil {
		return Finding{}, fmt.Errorf("finding document is nil")
	}
	f := Finding{
		ID:              d.ID(),
		ScanID:          d.StringField(FieldScanID),
		ResourceID:      d.StringField(FieldResourceID),
		ResourceName:    d.StringField(FieldResourceName),
		ResourceType:    d.StringField(FieldResourceType),
		RuleID:          d.StringField(FieldRuleID),
		RuleName:        d.StringField(FieldRuleName),
		RuleDescription: d.StringField(FieldRuleDescription),
		Severity:        Severity(d.StringField(FieldSeverity)),
		Field:           d.StringField(FieldField),
		Operator:        Operator(d.StringField(FieldOperator)),
		ActualValue:     d.StringField(FieldActualValue),
		ExpectedValue:   d.StringField(FieldExpectedValue),
		CreatedAt:       optionalTime(d, FieldCreatedAt),
	}
	if f.ID == "" {
		return Finding{}, fmt.Errorf("finding document has no %s", FieldID)
	}
	return f, nil
}
