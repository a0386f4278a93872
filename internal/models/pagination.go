package models

import "encoding/json"

const (
	// DefaultPageSize is the default number of rows per page
	DefaultPageSize = 100

	// MaxPageSize is the maximum allowed page size
	MaxPageSize = 500
)

// PageRequest contains offset/limit pagination parameters.
// Limit 0 means unlimited; negative values are treated as unset.
type PageRequest struct {
	Offset int `json:"offset"`
	Limit  int `json:"limit"`
}

// ClampPageSize applies the default and maximum page size to a requested
// tool-layer page size.
func ClampPageSize(requested int) int {
	if requested <= 0 {
		return DefaultPageSize
	}
	if requested > MaxPageSize {
		return MaxPageSize
	}
	return requested
}

// Page is the pagination envelope wrapped around every tabular result.
// TotalCount is the pre-pagination row count; Data holds the page itself.
type Page struct {
	TotalCount    int           `json:"total_count"`
	Offset        int           `json:"offset"`
	Limit         int           `json:"limit"`
	ReturnedCount int           `json:"returned_count"`
	Data          []interface{} `json:"data"`
}

// MarshalJSON serializes Limit 0 as the string "all" so that unlimited
// queries are self-describing in tool output.
func (p Page) MarshalJSON() ([]byte, error) {
	type alias struct {
		TotalCount    int           `json:"total_count"`
		Offset        int           `json:"offset"`
		Limit         interface{}   `json:"limit"`
		ReturnedCount int           `json:"returned_count"`
		Data          []interface{} `json:"data"`
	}
	a := alias{
		TotalCount:    p.TotalCount,
		Offset:        p.Offset,
		Limit:         p.Limit,
		ReturnedCount: p.ReturnedCount,
		Data:          p.Data,
	}
	if p.Limit == 0 {
		a.Limit = "all"
	}
	if a.Data == nil {
		a.Data = []interface{}{}
	}
	return json.Marshal(a)
}

// Paginate slices rows according to the request and wraps them in an
// envelope. Offset beyond the end yields an empty page, not an error.
func Paginate(rows []interface{}, req PageRequest) Page {
	total := len(rows)

	offset := req.Offset
	if offset < 0 {
		offset = 0
	}
	if offset > total {
		offset = total
	}
	rows = rows[offset:]

	if req.Limit > 0 && len(rows) > req.Limit {
		rows = rows[:req.Limit]
	}

	limit := req.Limit
	if limit < 0 {
		limit = 0
	}

	return Page{
		TotalCount:    total,
		Offset:        offset,
		Limit:         limit,
		ReturnedCount: len(rows),
		Data:          rows,
	}
}
