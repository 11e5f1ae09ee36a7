package filter

import (
	"sort"
	"strings"

	"github.com/yairfalse/surface/types"
)

// SortKey orders documents by one field
type SortKey struct {
	Field string
	Desc  bool
}

// Query selects, orders and pages documents of a collection
type Query struct {
	Filter Filter

	// SearchField/SearchTerm add a case-insensitive substring match
	SearchField string
	SearchTerm  string

	Sort []SortKey

	Skip  int
	Limit int // 0 means no limit
}

// Matches reports whether doc passes the filter and search term
func (q Query) Matches(doc types.Document) bool {
	if !q.Filter.Match(doc) {
		return false
	}
	if q.SearchTerm == "" || q.SearchField == "" {
		return true
	}
	v, ok := doc.Lookup(q.SearchField)
	if !ok {
		return false
	}
	return strings.Contains(strings.ToLower(v.String()), strings.ToLower(q.SearchTerm))
}

// Apply runs q over docs, returning the requested page and the number of
// matching documents before paging. Input order breaks sort ties.
func Apply(docs []types.Document, q Query) ([]types.Document, int) {
	matched := make([]types.Document, 0, len(docs))
	for _, doc := range docs {
		if q.Matches(doc) {
			matched = append(matched, doc)
		}
	}

	if len(q.Sort) > 0 {
		sort.SliceStable(matched, func(i, j int) bool {
			return Less(matched[i], matched[j], q.Sort)
		})
	}

	total := len(matched)
	return Page(matched, q.Skip, q.Limit), total
}

// Less compares two documents by keys. Missing fields sort as null.
func Less(a, b types.Document, keys []SortKey) bool {
	for _, key := range keys {
		av, _ := a.Lookup(key.Field)
		bv, _ := b.Lookup(key.Field)
		cmp := types.Compare(av, bv)
		if cmp == 0 {
			continue
		}
		if key.Desc {
			return cmp > 0
		}
		return cmp < 0
	}
	return false
}

// Page slices docs by skip and limit
func Page(docs []types.Document, skip, limit int) []types.Document {
	if skip < 0 {
		skip = 0
	}
	if skip >= len(docs) {
		return []types.Document{}
	}
	end := len(docs)
	if limit > 0 && skip+limit < end {
		end = skip + limit
	}
	return docs[skip:end]
}
