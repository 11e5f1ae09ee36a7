package inventory

import (
	"strings"

	"github.com/yairfalse/surface/internal/filter"
	"github.com/yairfalse/surface/types"
)

// List request defaults
const (
	DefaultPageNumber = 1
	DefaultPageSize   = 10
	MaxPageSize       = 100
	DefaultSortBy     = types.FieldName
	SortAsc           = "asc"
	SortDesc          = "desc"
)

// ListRequest selects one page of a collection. Zero values take the defaults.
type ListRequest struct {
	Filter     map[string]any `json:"filter,omitempty"`
	PageNumber int            `json:"page_number,omitempty"`
	PageSize   int            `json:"page_size,omitempty"`
	// SortBy is a comma separated field list; a "-" prefix flips that key
	SortBy    string `json:"sort_by,omitempty"`
	SortOrder string `json:"sort_order,omitempty"`
	Search    string `json:"search_str,omitempty"`
}

// Page is one page of documents plus the match count before paging
type Page struct {
	Data       []types.Document `json:"data"`
	Total      int              `json:"total"`
	PageSize   int              `json:"page_size"`
	PageNumber int              `json:"page_number"`
}

// query validates req and translates it into a store query
func (req ListRequest) query() (filter.Query, int, int, error) {
	pageNumber := req.PageNumber
	switch {
	case pageNumber < 0:
		return filter.Query{}, 0, 0, requestError("page_number", "must be at least 1")
	case pageNumber == 0:
		pageNumber = DefaultPageNumber
	}

	pageSize := req.PageSize
	switch {
	case pageSize < 0:
		return filter.Query{}, 0, 0, requestError("page_size", "must be at least 1")
	case pageSize == 0:
		pageSize = DefaultPageSize
	case pageSize > MaxPageSize:
		pageSize = MaxPageSize
	}

	desc := false
	switch strings.ToLower(req.SortOrder) {
	case "", SortAsc:
	case SortDesc:
		desc = true
	default:
		return filter.Query{}, 0, 0, requestError("sort_order", "must be asc or desc, got %q", req.SortOrder)
	}

	f, err := filter.Parse(req.Filter)
	if err != nil {
		return filter.Query{}, 0, 0, requestError("filter", "%v", err)
	}

	q := filter.Query{
		Filter: f,
		Sort:   sortKeys(req.SortBy, desc),
		Skip:   (pageNumber - 1) * pageSize,
		Limit:  pageSize,
	}
	if req.Search != "" {
		q.SearchField = types.FieldName
		q.SearchTerm = req.Search
	}
	return q, pageNumber, pageSize, nil
}

func sortKeys(sortBy string, desc bool) []filter.SortKey {
	if strings.TrimSpace(sortBy) == "" {
		sortBy = DefaultSortBy
	}

	var keys []filter.SortKey
	for _, part := range strings.Split(sortBy, ",") {
		part = strings.TrimSpace(part)
		keyDesc := desc
		if strings.HasPrefix(part, "-") {
			part = strings.TrimPrefix(part, "-")
			keyDesc = !desc
		}
		if part == "" {
			continue
		}
		keys = append(keys, filter.SortKey{Field: part, Desc: keyDesc})
	}
	return keys
}
