package query

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moolen/hindsight/internal/models"
	"github.com/moolen/hindsight/internal/parsing"
	"github.com/moolen/hindsight/internal/snapshot"
)

func eventFrame() *Frame {
	table := &snapshot.Table{
		Columns: []string{"reason", "namespace", "event_time", "count"},
		Rows: [][]string{
			{"Unhealthy", "shop", "2025-01-01T10:00:00Z", "3"},
			{"BackOff", "shop", "2025-01-01T10:05:00Z", "1"},
			{"Unhealthy", "infra", "2025-01-01T10:10:00Z", "2"},
			{"Killing", "shop", "2025-01-01T11:00:00Z", "1"},
		},
	}
	return FromTable(table)
}

func TestFilter(t *testing.T) {
	f := eventFrame()
	require.NoError(t, f.Filter(map[string]string{"namespace": "SHOP"}))
	assert.Len(t, f.Rows, 3, "filter matches case-insensitively")

	err := f.Filter(map[string]string{"nope": "x"})
	require.Error(t, err)
	assert.True(t, models.IsColumnNotFoundError(err))
	assert.Contains(t, err.Error(), "Available:")
}

func TestFilterTime(t *testing.T) {
	f := eventFrame()
	w, err := parsing.ParseWindow("2025-01-01T10:00:00Z", "2025-01-01T10:30:00Z")
	require.NoError(t, err)
	f.FilterTime("event_time", w)
	assert.Len(t, f.Rows, 3)
}

func TestSortNumericAndTime(t *testing.T) {
	f := eventFrame()
	f.Sort("count", true)
	assert.Equal(t, "3", f.Rows[0]["count"])

	f.Sort("event_time", false)
	assert.Equal(t, "Unhealthy", f.Rows[0]["reason"])
	assert.Equal(t, "Killing", f.Rows[len(f.Rows)-1]["reason"])
}

func TestAddColumn(t *testing.T) {
	f := eventFrame()
	f.AddColumn("deployment", func(r Row) interface{} {
		return DeploymentFromObject("Pod", "frontend-675fd7b5c5-gd8gl")
	})
	assert.True(t, f.HasColumn("deployment"))
	assert.Equal(t, "frontend", f.Rows[0]["deployment"])
}

func TestPaginateDropsInternalColumns(t *testing.T) {
	f := eventFrame()
	f.AddColumn("_obj_id", func(r Row) interface{} { return "Pod/x" })
	f.AddColumn("seen", func(r Row) interface{} {
		return time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)
	})

	page := f.Paginate(models.PageRequest{Limit: 2})
	assert.Equal(t, 4, page.TotalCount)
	assert.Equal(t, 2, page.ReturnedCount)

	row := page.Data[0].(map[string]interface{})
	_, hasInternal := row["_obj_id"]
	assert.False(t, hasInternal)
	assert.Equal(t, "2025-01-01T10:00:00Z", row["seen"])
}

func TestCellTime(t *testing.T) {
	for _, s := range []string{
		"2025-01-01T10:00:00Z",
		"2025-01-01 10:00:00",
		"2025-01-01 10:00:00.123456",
		"2025-01-01T10:00:00",
		"1735725600",
	} {
		_, ok := CellTime(s)
		assert.True(t, ok, s)
	}
	_, ok := CellTime("not a time")
	assert.False(t, ok)
}
