// Package alerts loads Prometheus alert snapshot dumps and answers
// filter/group/aggregate queries and firing-window summaries over
// them. A snapshot directory holds one JSON file per scrape; the
// scrape time comes from the filename or a top-level timestamp field.
package alerts

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/moolen/hindsight/internal/query"
)

// snapshotFile is one alerts JSON dump: the alerts it carries plus the
// time the dump was taken. Time is zero when it cannot be determined.
type snapshotFile struct {
	Path   string
	Time   time.Time
	Alerts []map[string]interface{}
}

// loadDir reads every *.json file in the directory, oldest filename
// first. When the directory has no JSON files but contains an alerts/
// subdirectory, that subdirectory is used instead. Unparseable files
// are skipped.
func loadDir(dir string) ([]snapshotFile, error) {
	if _, err := os.Stat(dir); err != nil {
		return nil, fmt.Errorf("alerts directory not found: %s", dir)
	}

	paths, err := filepath.Glob(filepath.Join(dir, "*.json"))
	if err != nil {
		return nil, err
	}
	if len(paths) == 0 {
		sub := filepath.Join(dir, "alerts")
		if info, err := os.Stat(sub); err == nil && info.IsDir() {
			paths, _ = filepath.Glob(filepath.Join(sub, "*.json"))
		}
	}
	sort.Strings(paths)

	var files []snapshotFile
	for _, path := range paths {
		raw, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		var payload interface{}
		if err := json.Unmarshal(raw, &payload); err != nil {
			continue
		}

		file := snapshotFile{Path: path, Alerts: extractAlerts(payload)}
		if ts := snapshotTimestamp(path, payload); ts != "" {
			if t, ok := query.CellTime(ts); ok {
				file.Time = t
			}
		}
		files = append(files, file)
	}
	return files, nil
}

// extractAlerts unwraps the nesting shapes Prometheus tooling produces:
// {"data":{"alerts":[...]}}, {"alerts":[...]}, a bare array, or a
// single alert object.
func extractAlerts(payload interface{}) []map[string]interface{} {
	switch v := payload.(type) {
	case map[string]interface{}:
		if data, ok := v["data"].(map[string]interface{}); ok {
			if list, ok := data["alerts"].([]interface{}); ok {
				return toAlertMaps(list)
			}
		}
		if list, ok := v["alerts"].([]interface{}); ok {
			return toAlertMaps(list)
		}
		return []map[string]interface{}{v}
	case []interface{}:
		return toAlertMaps(v)
	}
	return nil
}

func toAlertMaps(list []interface{}) []map[string]interface{} {
	out := make([]map[string]interface{}, 0, len(list))
	for _, item := range list {
		if m, ok := item.(map[string]interface{}); ok {
			out = append(out, m)
		}
	}
	return out
}

var (
	alertsAtPattern = regexp.MustCompile(`alerts_at_(\d{4}-\d{2}-\d{2})T(\d{2})-(\d{2})-(\d{2})(\.\d+)?`)
	alertingPattern = regexp.MustCompile(`alerts_in_alerting_state_(\d{4}-\d{2}-\d{2})T(\d{2})(\d{2})(\d{2})(\.\d+)?Z?`)
	dateTokenPattern = regexp.MustCompile(`(\d{4}-\d{2}-\d{2})T([^_]+)`)
)

// snapshotTimestamp recovers the dump time: a top-level "timestamp"
// field wins, then filename patterns like
// alerts_at_2025-12-15T18-17-09.387695.json and
// alerts_in_alerting_state_2025-12-15T175546.713186Z.json.
func snapshotTimestamp(path string, payload interface{}) string {
	if m, ok := payload.(map[string]interface{}); ok {
		if ts, ok := m["timestamp"].(string); ok && strings.TrimSpace(ts) != "" {
			return strings.TrimSpace(ts)
		}
	}

	stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))

	if m := alertsAtPattern.FindStringSubmatch(stem); m != nil {
		return fmt.Sprintf("%sT%s:%s:%s%sZ", m[1], m[2], m[3], m[4], m[5])
	}
	if m := alertingPattern.FindStringSubmatch(stem); m != nil {
		return fmt.Sprintf("%sT%s:%s:%s%sZ", m[1], m[2], m[3], m[4], m[5])
	}

	m := dateTokenPattern.FindStringSubmatch(stem)
	if m == nil {
		return ""
	}
	date, tail := m[1], strings.TrimSuffix(m[2], "Z")

	if strings.Contains(tail, "-") {
		parts := strings.SplitN(tail, ".", 2)
		hms := strings.ReplaceAll(parts[0], "-", ":")
		if strings.Count(hms, ":") == 2 {
			frac := ""
			if len(parts) == 2 && parts[1] != "" {
				frac = "." + parts[1]
			}
			return fmt.Sprintf("%sT%s%sZ", date, hms, frac)
		}
	}

	parts := strings.SplitN(tail, ".", 2)
	digits := parts[0]
	if len(digits) >= 6 && isDigits(digits) {
		frac := ""
		if len(parts) == 2 && parts[1] != "" {
			frac = "." + parts[1]
		}
		return fmt.Sprintf("%sT%s:%s:%s%sZ", date, digits[0:2], digits[2:4], digits[4:6], frac)
	}
	return ""
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return len(s) > 0
}

// flatten converts a nested alert object into dot-keyed row values:
// {"labels":{"alertname":"X"}} becomes {"labels.alertname": "X"}.
// Arrays and scalars are kept as-is.
func flatten(alert map[string]interface{}, prefix string, into query.Row) {
	for key, value := range alert {
		name := key
		if prefix != "" {
			name = prefix + "." + key
		}
		if nested, ok := value.(map[string]interface{}); ok {
			flatten(nested, name, into)
			continue
		}
		into[name] = value
	}
}

// buildFrame flattens alerts into a frame. Column order follows first
// occurrence across the input.
func buildFrame(files []snapshotFile) *query.Frame {
	f := &query.Frame{}
	seen := map[string]bool{}
	for _, file := range files {
		for _, alert := range file.Alerts {
			row := query.Row{}
			flatten(alert, "", row)
			if !file.Time.IsZero() {
				row["_file_timestamp"] = file.Time
			}
			for _, col := range sortedKeys(row) {
				if !seen[col] {
					seen[col] = true
					f.Columns = append(f.Columns, col)
				}
			}
			f.Rows = append(f.Rows, row)
		}
	}
	return f
}

func sortedKeys(row query.Row) []string {
	keys := make([]string, 0, len(row))
	for k := range row {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
