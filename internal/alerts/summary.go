package alerts

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/moolen/hindsight/internal/parsing"
	"github.com/moolen/hindsight/internal/query"
)

// DefaultSummaryLimit caps summary rows when the caller does not ask
// for a specific count.
const DefaultSummaryLimit = 50

// SummaryParams tunes the firing-window summary. Limit 0 means all.
type SummaryParams struct {
	TimeBasis      string   `json:"time_basis,omitempty"`
	StateFilter    string   `json:"state_filter,omitempty"`
	MinDurationMin *float64 `json:"min_duration_min,omitempty"`
	StartTime      string   `json:"start_time,omitempty"`
	EndTime        string   `json:"end_time,omitempty"`
	Limit          int      `json:"limit,omitempty"`
}

// SummaryRow is one deduplicated alert: the same alertname on the same
// entity with the same severity across all snapshot dumps.
type SummaryRow struct {
	Alertname   string   `json:"alertname"`
	Entity      string   `json:"entity"`
	Namespace   string   `json:"namespace"`
	Severity    string   `json:"severity"`
	State       string   `json:"state"`
	FirstSeen   *string  `json:"first_seen"`
	LastSeen    *string  `json:"last_seen"`
	DurationMin *float64 `json:"duration_min"`
	Occurrences int      `json:"occurrences"`
}

// entityLabels are probed in order to attribute an alert to a single
// entity; namespace is the catch-all before "cluster-wide".
var entityLabels = []string{"service_name", "service", "pod", "deployment", "instance", "job", "namespace"}

type summaryKey struct {
	alertname string
	entity    string
	severity  string
}

type summaryAcc struct {
	row         SummaryRow
	times       map[time.Time]bool
	statesSeen  map[string]bool
	latestTime  time.Time
	hasLatest   bool
	latestState string
}

// Summarize deduplicates alerts across snapshot dumps and reports the
// observed firing window per (alertname, entity, severity). Rows sort
// longest-firing first, then by occurrences.
func (e *Engine) Summarize(ctx context.Context, alertsDir string, p SummaryParams) ([]SummaryRow, error) {
	window, err := parsing.ParseWindow(p.StartTime, p.EndTime)
	if err != nil {
		return nil, err
	}

	files, err := loadDir(alertsDir)
	if err != nil {
		return nil, err
	}

	byActiveAt := p.TimeBasis == "activeAt"
	accs := map[summaryKey]*summaryAcc{}
	var order []summaryKey

	for _, file := range files {
		// Snapshot-basis windows exclude whole dumps taken outside
		// the window.
		if !byActiveAt && !file.Time.IsZero() && !window.IsZero() && !window.Contains(file.Time) {
			continue
		}

		for _, alert := range file.Alerts {
			labels, _ := alert["labels"].(map[string]interface{})
			alertname := labelOr(labels, "alertname", stringField(alert, "alertname"))
			if alertname == "" {
				alertname = "Unknown"
			}

			entity := "cluster-wide"
			for _, key := range entityLabels {
				if v := labelOr(labels, key, ""); v != "" {
					entity = v
					break
				}
			}

			severity := labelOr(labels, "severity", "unknown")
			namespace := labelOr(labels, "namespace", "unknown")
			state := stringField(alert, "state")
			if state == "" {
				state = "unknown"
			}

			var activeAt time.Time
			var hasActiveAt bool
			if raw := stringField(alert, "activeAt"); raw != "" {
				activeAt, hasActiveAt = query.CellTime(raw)
			}

			key := summaryKey{alertname: alertname, entity: entity, severity: severity}
			acc, ok := accs[key]
			if !ok {
				acc = &summaryAcc{
					row: SummaryRow{
						Alertname: alertname,
						Entity:    entity,
						Namespace: namespace,
						Severity:  severity,
					},
					times:       map[time.Time]bool{},
					statesSeen:  map[string]bool{},
					latestState: state,
				}
				accs[key] = acc
				order = append(order, key)
			}

			acc.row.Occurrences++
			acc.statesSeen[state] = true

			observedAt := file.Time
			hasObserved := !file.Time.IsZero()
			latestAt, hasLatestAt := observedAt, hasObserved
			if byActiveAt {
				latestAt, hasLatestAt = activeAt, hasActiveAt
			}
			if hasLatestAt {
				if !acc.hasLatest || !latestAt.Before(acc.latestTime) {
					acc.latestTime = latestAt
					acc.hasLatest = true
					acc.latestState = state
				}
			} else {
				acc.latestState = state
			}

			if state == "firing" {
				t, ok := observedAt, hasObserved
				if byActiveAt {
					t, ok = activeAt, hasActiveAt
				}
				if ok && (window.IsZero() || window.Contains(t)) {
					acc.times[t] = true
				}
			}
		}
	}

	var results []SummaryRow
	for _, key := range order {
		acc := accs[key]
		row := acc.row

		if len(acc.times) > 0 {
			times := make([]time.Time, 0, len(acc.times))
			for t := range acc.times {
				times = append(times, t)
			}
			sort.Slice(times, func(i, j int) bool { return times[i].Before(times[j]) })

			first := times[0].UTC().Format(time.RFC3339)
			last := times[len(times)-1].UTC().Format(time.RFC3339)
			duration := math.Round(times[len(times)-1].Sub(times[0]).Minutes()*10) / 10
			row.FirstSeen = &first
			row.LastSeen = &last
			row.DurationMin = &duration
		}

		row.State = acc.latestState
		if acc.statesSeen["firing"] {
			row.State = "firing"
		}

		if p.StateFilter != "" && row.State != p.StateFilter {
			continue
		}
		if !window.IsZero() && row.FirstSeen == nil {
			continue
		}
		if p.MinDurationMin != nil && (row.DurationMin == nil || *row.DurationMin < *p.MinDurationMin) {
			continue
		}
		results = append(results, row)
	}

	sort.SliceStable(results, func(i, j int) bool {
		di, dj := 0.0, 0.0
		if results[i].DurationMin != nil {
			di = *results[i].DurationMin
		}
		if results[j].DurationMin != nil {
			dj = *results[j].DurationMin
		}
		if di != dj {
			return di > dj
		}
		return results[i].Occurrences > results[j].Occurrences
	})

	if p.Limit > 0 && len(results) > p.Limit {
		results = results[:p.Limit]
	}
	if results == nil {
		results = []SummaryRow{}
	}
	return results, nil
}

func labelOr(labels map[string]interface{}, key, fallback string) string {
	if labels != nil {
		if v, ok := labels[key].(string); ok && v != "" {
			return v
		}
	}
	return fallback
}

func stringField(m map[string]interface{}, key string) string {
	v, _ := m[key].(string)
	return v
}
