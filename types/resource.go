package types

import (
	"fmt"
	"time"
)

// Resource field names
const (
	FieldName         = "name"
	FieldResourceType = "resource_type"
	FieldRegion       = "region"
)

// Resource represents a discovered asset (cloud instance, bucket, domain...).
// Doc holds the full document, including open-ended attributes such as tags
// and metadata, and is what rules are evaluated against.
type Resource struct {
	ID           string
	Name         string
	ResourceType string
	Region       string
	CreatedAt    time.Time
	UpdatedAt    time.Time
	Doc          Document
}

// ResourceFromDocument reads a stored resource document
func ResourceFromDocument(d Document) (Resource, error) {
	if d == nil {
		return Resource{}, fmt.Errorf("resource document is nil")
	}
	id := d.ID()
	if id == "" {
		return Resource{}, fmt.Errorf("resource document has no %s", FieldID)
	}
	r := Resource{ID: id, Doc: d}

	var err error
	if r.Name, err = optionalString(d, FieldName); err != nil {
		return Resource{}, err
	}
	if r.ResourceType, err = optionalString(d, FieldResourceType); err != nil {
		return Resource{}, err
	}
	if r.Region, err = optionalString(d, FieldRegion); err != nil {
		return Resource{}, err
	}
	r.CreatedAt = optionalTime(d, FieldCreatedAt)
	r.UpdatedAt = optionalTime(d, FieldUpdatedAt)
	return r, nil
}

// Lookup resolves a rule field against the resource
func (r Resource) Lookup(field string) (Value, bool) {
	return r.Doc.Lookup(field)
}

func optionalString(d Document, field string) (string, error) {
	v, ok := d[field]
	if !ok || v.IsNull() {
		return "", nil
	}
	s, isString := v.AsString()
	if !isString {
		return "", fmt.Errorf("field %s must be a string, got %s", field, v.Kind())
	}
	return s, nil
}

func optionalTime(d Document, field string) time.Time {
	s := d.StringField(field)
	if s == "" {
		return time.Time{}
	}
	t, err := ParseTime(s)
	if err != nil {
		return time.Time{}
	}
	return t
}
