package alerts

import (
	"context"
	"fmt"
	"math"

	"github.com/moolen/hindsight/internal/logging"
	"github.com/moolen/hindsight/internal/models"
	"github.com/moolen/hindsight/internal/parsing"
	"github.com/moolen/hindsight/internal/query"
)

// columnShortcuts map user-facing names to flattened label columns.
var columnShortcuts = map[string]string{
	"alertname":    "labels.alertname",
	"severity":     "labels.severity",
	"service_name": "labels.service_name",
	"service":      "labels.service_name",
	"namespace":    "labels.namespace",
}

// numericColumns are the columns numeric aggregations operate on.
var numericColumns = []string{"value", "duration_active_min"}

// Params holds one alert analysis query. TimeBasis selects whether the
// window applies to the snapshot observation time (default) or to the
// alert's activeAt time.
type Params struct {
	TimeBasis string            `json:"time_basis,omitempty"`
	Filters   map[string]string `json:"filters,omitempty"`
	GroupBy   []string          `json:"group_by,omitempty"`
	Agg       string            `json:"agg,omitempty"`
	SortBy    string            `json:"sort_by,omitempty"`
	StartTime string            `json:"start_time,omitempty"`
	EndTime   string            `json:"end_time,omitempty"`
	Limit     int               `json:"limit,omitempty"`
	Offset    int               `json:"offset,omitempty"`
}

// Engine runs alert queries against a snapshot's alerts directory.
type Engine struct {
	logger *logging.Logger
}

func NewEngine(logger *logging.Logger) *Engine {
	return &Engine{logger: logger}
}

// Analyze loads every alerts dump in the directory and runs the
// pipeline: flatten, derive durations, filter, window, optional
// group/aggregate, sort, paginate.
func (e *Engine) Analyze(ctx context.Context, alertsDir string, p Params) (*models.Page, error) {
	if alertsDir == "" {
		return nil, models.NewParameterError("alerts_dir", "no alerts directory in this snapshot")
	}

	files, err := loadDir(alertsDir)
	if err != nil {
		return nil, err
	}
	frame := buildFrame(files)
	if len(frame.Rows) == 0 {
		page := models.Paginate(nil, models.PageRequest{Offset: p.Offset, Limit: p.Limit})
		return &page, nil
	}

	timeCol := "activeAt"
	if !frame.HasColumn(timeCol) {
		timeCol = "startsAt"
	}
	deriveDurations(frame, timeCol)

	if frame.HasColumn("_file_timestamp") && !frame.HasColumn("snapshot_timestamp") {
		frame.AddColumn("snapshot_timestamp", func(row query.Row) interface{} {
			return row["_file_timestamp"]
		})
	}
	if frame.HasColumn("value") {
		frame.AddColumn("value", func(row query.Row) interface{} {
			if v, ok := query.CellFloat(row["value"]); ok {
				return v
			}
			return nil
		})
	}

	for col, want := range p.Filters {
		resolved := resolveColumn(col, frame)
		if !frame.HasColumn(resolved) {
			return nil, models.NewColumnNotFoundError(col, frame.Columns)
		}
		if err := frame.Filter(map[string]string{resolved: want}); err != nil {
			return nil, err
		}
	}

	basisCol := timeCol
	if p.TimeBasis != "activeAt" && frame.HasColumn("_file_timestamp") {
		basisCol = "_file_timestamp"
	}
	window, err := parsing.ParseWindow(p.StartTime, p.EndTime)
	if err != nil {
		return nil, err
	}
	frame.FilterTime(basisCol, window)

	req := models.PageRequest{Offset: p.Offset, Limit: p.Limit}

	if len(p.GroupBy) > 0 {
		agg := p.Agg
		if agg == "" {
			agg = "count"
		}
		switch agg {
		case "count", "first", "last", "sum", "mean", "max", "min":
		default:
			return nil, models.NewParameterError("agg",
				"unknown aggregation %q. Use: count, first, last, sum, mean, max, min", agg)
		}

		groupCols := make([]string, len(p.GroupBy))
		for i, col := range p.GroupBy {
			resolved := resolveColumn(col, frame)
			if !frame.HasColumn(resolved) {
				return nil, models.NewColumnNotFoundError(col, frame.Columns)
			}
			groupCols[i] = resolved
		}

		grouped, err := query.GroupAggregate(frame, groupCols, agg, query.AggOptions{
			TimeColumn:     basisCol,
			NumericColumns: numericColumns,
			SortBy:         p.SortBy,
		})
		if err != nil {
			return nil, err
		}
		e.logger.Debug("alert analysis grouped %d rows into %d by %v", len(frame.Rows), len(grouped.Rows), groupCols)
		page := grouped.Paginate(req)
		return &page, nil
	}

	if p.SortBy != "" {
		resolved := resolveColumn(p.SortBy, frame)
		if frame.HasColumn(resolved) {
			descending := p.SortBy == "duration_active_min" || p.SortBy == "value" || p.SortBy == "count"
			frame.Sort(resolved, descending)
		}
	} else if frame.HasColumn(basisCol) {
		frame.Sort(basisCol, false)
	}

	page := frame.Paginate(req)
	return &page, nil
}

// deriveDurations adds duration_active_min (minutes between the alert
// becoming active and the snapshot observing it, NA when negative) and
// its human-readable form.
func deriveDurations(frame *query.Frame, timeCol string) {
	if !frame.HasColumn(timeCol) || !frame.HasColumn("_file_timestamp") {
		return
	}
	frame.AddColumn("duration_active_min", func(row query.Row) interface{} {
		active, ok := query.CellTime(row[timeCol])
		if !ok {
			return nil
		}
		observed, ok := query.CellTime(row["_file_timestamp"])
		if !ok {
			return nil
		}
		minutes := observed.Sub(active).Minutes()
		if minutes < 0 {
			return nil
		}
		return math.Round(minutes*10) / 10
	})
	frame.AddColumn("duration_active", func(row query.Row) interface{} {
		v, ok := query.CellFloat(row["duration_active_min"])
		if !ok {
			return "unknown"
		}
		return formatDuration(v)
	})
}

func formatDuration(minutes float64) string {
	switch {
	case minutes < 1:
		return "<1m"
	case minutes < 60:
		return fmt.Sprintf("%dm", int(minutes))
	case minutes < 1440:
		return fmt.Sprintf("%dh %dm", int(minutes)/60, int(minutes)%60)
	default:
		return fmt.Sprintf("%dd %dh", int(minutes)/1440, (int(minutes)%1440)/60)
	}
}

// resolveColumn maps shortcuts like "severity" to their flattened
// label column, falling back to a labels. prefix probe.
func resolveColumn(col string, frame *query.Frame) string {
	if resolved, ok := columnShortcuts[col]; ok && frame.HasColumn(resolved) {
		return resolved
	}
	if frame.HasColumn(col) {
		return col
	}
	if prefixed := "labels." + col; frame.HasColumn(prefixed) {
		return prefixed
	}
	return col
}
