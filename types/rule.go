package types

import (
	"fmt"
	"time"
)

// Rule field names
const (
	FieldDescription = "description"
	FieldField       = "field"
	FieldOp          = "op"
	FieldValue       = "value"
	FieldSeverity    = "severity"
)

// Rule is a named field/operator/value predicate with a severity. When
// ResourceType is set the rule only applies to resources of that type.
type Rule struct {
	ID           string
	Name         string
	Description  string
	Field        string
	Op           Operator
	Value        Value
	Severity     Severity
	ResourceType string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Scoped reports whether the rule is limited to one resource type
func (r Rule) Scoped() bool {
	return r.ResourceType != ""
}

// RuleFromDocument reads a stored rule document
func RuleFromDocument(d Document) (Rule, error) {
	if d == nil {
		return Rule{}, fmt.Errorf("rule document is nil")
	}
	id := d.ID()
	if id == "" {
		return Rule{}, fmt.Errorf("rule document has no %s", FieldID)
	}

	r := Rule{ID: id, Value: d[FieldValue]}
	var err error
	if r.Name, err = optionalString(d, FieldName); err != nil {
		return Rule{}, err
	}
	if r.Description, err = optionalString(d, FieldDescription); err != nil {
		return Rule{}, err
	}
	if r.Field, err = optionalString(d, FieldField); err != nil {
		return Rule{}, err
	}
	op, err := optionalString(d, FieldOp)
	if err != nil {
		return Rule{}, err
	}
	r.Op = Operator(op)
	sev, err := optionalString(d, FieldSeverity)
	if err != nil {
		return Rule{}, err
	}
	r.Severity = Severity(sev)
	if r.Severity == "" {
		r.Severity = DefaultSeverity
	}
	if r.ResourceType, err = optionalString(d, FieldResourceType); err != nil {
		return Rule{}, err
	}
	r.CreatedAt = optionalTime(d, FieldCreatedAt)
	r.UpdatedAt = optionalTime(d, FieldUpdatedAt)
	return r, nil
}

// Document renders the rule as a store document
func (r Rule) Document() Document {
	d := Document{
		FieldID:       String(r.ID),
		FieldName:     String(r.Name),
		FieldField:    String(r.Field),
		FieldOp:       String(string(r.Op)),
		FieldValue:    r.Value,
		FieldSeverity: String(string(r.Severity)),
	}
	if r.Description != "" {
		d[FieldDescription] = String(r.Description)
	}
	if r.ResourceType != "" {
		d[FieldResourceType] = String(r.ResourceType)
	}
	if !r.CreatedAt.IsZero() {
		d[FieldCreatedAt] = String(FormatTime(r.CreatedAt))
	}
	if !r.UpdatedAt.IsZero() {
		d[FieldUpdatedAt] = String(FormatTime(r.UpdatedAt))
	}
	return d
}
