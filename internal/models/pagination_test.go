package models

import (
	"encoding/json"
	"strings"
	"testing"
)

func rowsOf(n int) []interface{} {
	rows := make([]interface{}, n)
	for i := range rows {
		rows[i] = i
	}
	return rows
}

func TestPaginate(t *testing.T) {
	tests := []struct {
		name     string
		rows     int
		req      PageRequest
		total    int
		returned int
	}{
		{"no limit returns everything", 7, PageRequest{}, 7, 7},
		{"limit slices", 7, PageRequest{Limit: 3}, 7, 3},
		{"offset then limit", 7, PageRequest{Offset: 5, Limit: 3}, 7, 2},
		{"offset beyond end", 7, PageRequest{Offset: 100}, 7, 0},
		{"negative offset treated as zero", 7, PageRequest{Offset: -2, Limit: 2}, 7, 2},
		{"empty input", 0, PageRequest{Limit: 10}, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			page := Paginate(rowsOf(tt.rows), tt.req)
			if page.TotalCount != tt.total {
				t.Errorf("total_count = %d, want %d", page.TotalCount, tt.total)
			}
			if page.ReturnedCount != tt.returned {
				t.Errorf("returned_count = %d, want %d", page.ReturnedCount, tt.returned)
			}
			if len(page.Data) != tt.returned {
				t.Errorf("len(data) = %d, want %d", len(page.Data), tt.returned)
			}
		})
	}
}

func TestPaginateUnlimitedReturnsAll(t *testing.T) {
	page := Paginate(rowsOf(250), PageRequest{Limit: 0})
	if page.ReturnedCount != page.TotalCount {
		t.Errorf("limit=0 should return all rows: returned %d of %d", page.ReturnedCount, page.TotalCount)
	}
}

func TestPageMarshalLimitAll(t *testing.T) {
	data, err := json.Marshal(Paginate(rowsOf(2), PageRequest{}))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !strings.Contains(string(data), `"limit":"all"`) {
		t.Errorf("limit 0 should serialize as \"all\": %s", data)
	}

	data, err = json.Marshal(Paginate(rowsOf(2), PageRequest{Limit: 1}))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !strings.Contains(string(data), `"limit":1`) {
		t.Errorf("numeric limit should serialize as number: %s", data)
	}
}

func TestClampPageSize(t *testing.T) {
	if got := ClampPageSize(0); got != DefaultPageSize {
		t.Errorf("ClampPageSize(0) = %d, want %d", got, DefaultPageSize)
	}
	if got := ClampPageSize(1000); got != MaxPageSize {
		t.Errorf("ClampPageSize(1000) = %d, want %d", got, MaxPageSize)
	}
	if got := ClampPageSize(42); got != 42 {
		t.Errorf("ClampPageSize(42) = %d", got)
	}
}
