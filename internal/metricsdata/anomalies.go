package metrics

import (
	"context"
	"math"
	"path/filepath"
	"strings"

	"github.com/moolen/hindsight/internal/models"
	"github.com/moolen/hindsight/internal/parsing"
	"github.com/moolen/hindsight/internal/query"
)

// AnomalyParams selects the object and window for a z-score scan.
type AnomalyParams struct {
	ObjectName       string `json:"k8_object_name"`
	MetricNameFilter string `json:"metric_name_filter,omitempty"`
	StartTime        string `json:"start_time,omitempty"`
	EndTime          string `json:"end_time,omitempty"`
	RawContent       bool   `json:"raw_content,omitempty"`
}

// MetricAnomalies is the scan result for one metric file.
type MetricAnomalies struct {
	MetricName   string                   `json:"metric_name"`
	File         string                   `json:"file"`
	Count        int                      `json:"count"`
	AnomalyCount int                      `json:"anomaly_count"`
	Anomalies    []map[string]interface{} `json:"anomalies"`
	Data         []map[string]interface{} `json:"data,omitempty"`
}

// AnomalyReport aggregates scans across an object's metric files.
type AnomalyReport struct {
	Object  string            `json:"object"`
	Metrics []MetricAnomalies `json:"metrics"`
}

// Anomalies flags samples whose value exceeds mean + 2 standard
// deviations within the selected window, per metric file.
func (e *Engine) Anomalies(ctx context.Context, metricsDir string, p AnomalyParams) (*AnomalyReport, error) {
	files, err := FindFiles(metricsDir, p.ObjectName, "")
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, models.NewValidationError("no metric files found for %s", p.ObjectName)
	}

	window, err := parsing.ParseWindow(p.StartTime, p.EndTime)
	if err != nil {
		return nil, err
	}

	report := &AnomalyReport{Object: p.ObjectName, Metrics: []MetricAnomalies{}}
	for _, path := range files {
		table, err := e.cache.Get(path)
		if err != nil {
			e.logger.Debug("skipping metric file %s: %v", path, err)
			continue
		}
		frame := query.FromTable(table)

		if p.MetricNameFilter != "" && frame.HasColumn("metric_name") {
			var kept []query.Row
			for _, row := range frame.Rows {
				if strings.Contains(query.CellString(row["metric_name"]), p.MetricNameFilter) {
					kept = append(kept, row)
				}
			}
			frame.Rows = kept
			if len(frame.Rows) == 0 {
				continue
			}
		}

		frame.FilterTime("timestamp", window)
		if len(frame.Rows) == 0 {
			continue
		}

		entry := MetricAnomalies{
			MetricName: "unknown",
			File:       filepath.Base(path),
			Count:      len(frame.Rows),
			Anomalies:  []map[string]interface{}{},
		}
		if frame.HasColumn("metric_name") {
			entry.MetricName = query.CellString(frame.Rows[0]["metric_name"])
		}

		if frame.HasColumn("value") {
			var values []float64
			for _, row := range frame.Rows {
				if v, ok := query.CellFloat(row["value"]); ok {
					values = append(values, v)
				}
			}
			if threshold, ok := anomalyThreshold(values); ok {
				for _, row := range frame.Rows {
					if v, ok := query.CellFloat(row["value"]); ok && v > threshold {
						entry.Anomalies = append(entry.Anomalies, renderRow(row))
					}
				}
			}
		}
		entry.AnomalyCount = len(entry.Anomalies)

		if p.RawContent {
			entry.Data = make([]map[string]interface{}, 0, len(frame.Rows))
			for _, row := range frame.Rows {
				entry.Data = append(entry.Data, renderRow(row))
			}
		}
		report.Metrics = append(report.Metrics, entry)
	}
	return report, nil
}

// anomalyThreshold computes mean + 2 sample standard deviations. A
// zero or undefined deviation yields no threshold.
func anomalyThreshold(values []float64) (float64, bool) {
	if len(values) < 2 {
		return 0, false
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	mean := sum / float64(len(values))

	variance := 0.0
	for _, v := range values {
		variance += (v - mean) * (v - mean)
	}
	std := math.Sqrt(variance / float64(len(values)-1))
	if std <= 0 {
		return 0, false
	}
	return mean + 2*std, true
}

func renderRow(row query.Row) map[string]interface{} {
	m := make(map[string]interface{}, len(row))
	for k, v := range row {
		m[k] = v
	}
	return m
}
