package inventory

import "fmt"

// ValidationError rejects a request or an upload batch. Index is the
// position of the offending document, or -1 for request-level problems.
type ValidationError struct {
	Index  int
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Index < 0 {
		return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("document %d: invalid %s: %s", e.Index, e.Field, e.Reason)
}

func requestError(field, format string, args ...any) *ValidationError {
	return &ValidationError{Index: -1, Field: field, Reason: fmt.Sprintf(format, args...)}
}
