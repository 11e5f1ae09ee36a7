package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/yairfalse/surface/internal/filter"
	"github.com/yairfalse/surface/types"
)

// Collection names
const (
	CollectionResources = "resources"
	CollectionRules     = "rules"
	CollectionFindings  = "findings"
)

var (
	// ErrUnavailable is returned when the backend cannot serve a request
	ErrUnavailable = errors.New("store unavailable")

	// ErrDuplicateID is returned when an insert reuses an existing _id
	ErrDuplicateID = errors.New("duplicate document id")

	// ErrMissingID is returned when an inserted document has no _id
	ErrMissingID = errors.New("document has no _id")
)

// DocumentReader queries collections
type DocumentReader interface {
	// Find returns the page selected by q and the match count before paging
	Find(ctx context.Context, collection string, q filter.Query) ([]types.Document, int, error)

	// Aggregate counts documents grouped by the string form of field.
	// Documents without the field are counted under "".
	Aggregate(ctx context.Context, collection, field string) (map[string]int, error)
}

// DocumentWriter mutates collections
type DocumentWriter interface {
	// InsertMany stores every document or none of them
	InsertMany(ctx context.Context, collection string, docs []types.Document) (int, error)

	// DeleteMany removes matching documents. An empty filter clears the collection.
	DeleteMany(ctx context.Context, collection string, f filter.Filter) (int, error)
}

// Lifecycle manages storage lifecycle
type Lifecycle interface {
	Close() error
}

// DocumentStore is the complete storage interface
type DocumentStore interface {
	DocumentReader
	DocumentWriter
	Lifecycle
}

// unavailable wraps a backend error as ErrUnavailable
func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %v", op, ErrUnavailable, err)
}

// checkBatch verifies every document carries a unique _id
func checkBatch(docs []types.Document, exists func(id string) bool) error {
	seen := make(map[string]struct{}, len(docs))
	for i, doc := range docs {
		id := doc.ID()
		if id == "" {
			return fmt.Errorf("document %d: %w", i, ErrMissingID)
		}
		if _, dup := seen[id]; dup || exists(id) {
			return fmt.Errorf("document %d (%s): %w", i, id, ErrDuplicateID)
		}
		seen[id] = struct{}{}
	}
	return nil
}

// CountBy groups docs by the string form of field
func CountBy(docs []types.Document, field string) map[string]int {
	counts := make(map[string]int)
	for _, doc := range docs {
		key := ""
		if v, ok := doc.Lookup(field); ok {
			key = v.String()
		}
		counts[key]++
	}
	return counts
}
