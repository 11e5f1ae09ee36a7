package inventory

import (
	"github.com/yairfalse/surface/types"
)

// validateResource checks the fields every resource must carry. Everything
// else is kept as uploaded.
func validateResource(i int, d types.Document) error {
	if err := requiredString(i, d, types.FieldName); err != nil {
		return err
	}
	if err := requiredString(i, d, types.FieldResourceType); err != nil {
		return err
	}
	if err := optionalString(i, d, types.FieldRegion); err != nil {
		return err
	}
	for _, field := range []string{"tags", "metadata"} {
		v, ok := d[field]
		if !ok || v.IsNull() {
			continue
		}
		if _, isMap := v.AsMap(); !isMap {
			return &ValidationError{Index: i, Field: field, Reason: "must be an object"}
		}
	}
	return nil
}

// validateRule checks a rule and fills in the default severity
func validateRule(i int, d types.Document) error {
	for _, field := range []string{types.FieldName, types.FieldField, types.FieldOp} {
		if err := requiredString(i, d, field); err != nil {
			return err
		}
	}
	for _, field := range []string{types.FieldDescription, types.FieldResourceType} {
		if err := optionalString(i, d, field); err != nil {
			return err
		}
	}

	value, ok := d[types.FieldValue]
	if !ok || value.IsNull() {
		return &ValidationError{Index: i, Field: types.FieldValue, Reason: "is required"}
	}
	op := types.Operator(d.StringField(types.FieldOp))
	if op.TakesList() {
		if _, isList := value.AsList(); !isList {
			return &ValidationError{Index: i, Field: types.FieldValue, Reason: "must be a list for " + string(op)}
		}
	}

	sev, ok := d[types.FieldSeverity]
	if !ok || sev.IsNull() {
		d[types.FieldSeverity] = types.String(string(types.DefaultSeverity))
		return nil
	}
	s, isString := sev.AsString()
	if !isString || !types.Severity(s).IsCanonical() {
		return &ValidationError{Index: i, Field: types.FieldSeverity, Reason: "must be one of CRITICAL, HIGH, MEDIUM, LOW, INFO"}
	}
	return nil
}

func requiredString(i int, d types.Document, field string) error {
	v, ok := d[field]
	if !ok || v.IsNull() {
		return &ValidationError{Index: i, Field: field, Reason: "is required"}
	}
	s, isString := v.AsString()
	if !isString {
		return &ValidationError{Index: i, Field: field, Reason: "must be a string"}
	}
	if s == "" {
		return &ValidationError{Index: i, Field: field, Reason: "must not be blank"}
	}
	return nil
}

func optionalString(i int, d types.Document, field string) error {
	v, ok := d[field]
	if !ok || v.IsNull() {
		return nil
	}
	if _, isString := v.AsString(); !isString {
		return &ValidationError{Index: i, Field: field, Reason: "must be a string"}
	}
	return nil
}
