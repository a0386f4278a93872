package traces

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/moolen/hindsight/internal/logging"
	"github.com/moolen/hindsight/internal/models"
	"github.com/moolen/hindsight/internal/parsing"
	"github.com/moolen/hindsight/internal/query"
	"github.com/moolen/hindsight/internal/snapshot"
)

const (
	// maxPathOutput caps the all_paths listing.
	maxPathOutput = 50
	// maxSampleErrors caps sample_errors per critical path.
	maxSampleErrors = 3
	// sampleErrorLimit truncates individual error messages.
	sampleErrorLimit = 200

	severityCritical    = "CRITICAL"
	severityWarning     = "WARNING"
	severityNewPath     = "NEW_PATH"
	severityDisappeared = "DISAPPEARED"
)

// Params holds one trace analysis query. Nil thresholds fall back to
// the engine's configured defaults.
type Params struct {
	ServiceName         string   `json:"service_name,omitempty"`
	SpanKind            string   `json:"span_kind,omitempty"`
	PivotTime           string   `json:"pivot_time,omitempty"`
	DeltaTime           string   `json:"delta_time,omitempty"`
	ErrorThresholdPct   *float64 `json:"error_threshold_pct,omitempty"`
	LatencyThresholdPct *float64 `json:"latency_threshold_pct,omitempty"`
}

// Description explains the report's field semantics to the reader.
type Description struct {
	Overview    string             `json:"overview"`
	TimeWindows map[string]string  `json:"time_windows"`
	Thresholds  map[string]float64 `json:"thresholds"`
	Note        string             `json:"note"`
}

// WindowSummary aggregates one window across all paths.
type WindowSummary struct {
	TraceCount        int     `json:"trace_count"`
	SpanCount         int     `json:"span_count"`
	ErrorRatePct      float64 `json:"error_rate_pct"`
	LatencyP50MS      float64 `json:"latency_p50_ms"`
	LatencyP90MS      float64 `json:"latency_p90_ms"`
	LatencyP99MS      float64 `json:"latency_p99_ms"`
	TrafficRatePerSec float64 `json:"traffic_rate_per_sec"`
}

// Summary pairs the pre and post windows with their percentage deltas.
type Summary struct {
	Pre   *WindowSummary         `json:"pre"`
	Post  *WindowSummary         `json:"post"`
	Delta map[string]interface{} `json:"delta,omitempty"`
}

// Hop is one service on a critical path with its pre→post movement.
type Hop struct {
	Service    string `json:"service"`
	Traffic    string `json:"traffic"`
	ErrorRate  string `json:"error_rate"`
	LatencyP99 string `json:"latency_p99"`
}

// RootCause names the hop most likely responsible for a critical path.
type RootCause struct {
	Service string `json:"service"`
	Reason  string `json:"reason"`
}

// CriticalPath is the detailed record for a path that regressed.
type CriticalPath struct {
	Path             string     `json:"path"`
	Severity         string     `json:"severity"`
	Hops             []Hop      `json:"hops"`
	SampleErrors     []string   `json:"sample_errors"`
	RootCauseSuspect *RootCause `json:"root_cause_suspect,omitempty"`
}

// NodeStats is one window's counters on a call-tree node.
type NodeStats struct {
	SpanCount    int     `json:"span_count"`
	ErrorRatePct float64 `json:"error_rate_pct"`
	LatencyP99MS float64 `json:"latency_p99_ms"`
}

// TreeNode is one service in the aggregated call tree.
type TreeNode struct {
	Service  string                 `json:"service"`
	Pre      NodeStats              `json:"pre"`
	Post     NodeStats              `json:"post"`
	Delta    map[string]interface{} `json:"delta"`
	Children []*TreeNode            `json:"children,omitempty"`
}

// Report is the full trace analysis output.
type Report struct {
	Description    Description            `json:"_description"`
	Warnings       []string               `json:"warnings,omitempty"`
	Summary        *Summary               `json:"summary,omitempty"`
	AllPaths       []string               `json:"all_paths"`
	CriticalPaths  []CriticalPath         `json:"critical_paths"`
	CallTree       []*TreeNode            `json:"call_tree"`
	FiltersApplied map[string]interface{} `json:"filters_applied"`
}

// Engine runs trace regression analysis against cached snapshot tables.
type Engine struct {
	cache            *snapshot.TableCache
	logger           *logging.Logger
	errorThreshold   float64
	latencyThreshold float64
}

// NewEngine builds a trace engine with the configured default
// regression thresholds, in percent.
func NewEngine(cache *snapshot.TableCache, logger *logging.Logger, errorThresholdPct, latencyThresholdPct float64) *Engine {
	return &Engine{
		cache:            cache,
		logger:           logger,
		errorThreshold:   errorThresholdPct,
		latencyThreshold: latencyThresholdPct,
	}
}

// Analyze stitches spans into traces, groups traces by service chain,
// and classifies each chain's pre→post movement around the pivot time.
// Without a pivot the whole file is treated as a single window and
// comparative classification is disabled.
func (e *Engine) Analyze(ctx context.Context, traceFile string, p Params) (*Report, error) {
	if traceFile == "" {
		return nil, models.NewParameterError("trace_file", "no traces table in this snapshot")
	}

	table, err := e.cache.Get(traceFile)
	if err != nil {
		return nil, err
	}
	spans := loadSpans(query.FromTable(table))
	if len(spans) == 0 {
		return nil, models.NewValidationError("no traces found in file")
	}

	deltaStr := p.DeltaTime
	if deltaStr == "" {
		deltaStr = "5m"
	}
	delta, err := parsing.Duration(deltaStr)
	if err != nil {
		return nil, err
	}
	pivot, err := parsing.OptionalTimestamp(p.PivotTime, "pivot_time")
	if err != nil {
		return nil, err
	}
	pivotSet := !pivot.IsZero()

	errThreshold := e.errorThreshold
	if p.ErrorThresholdPct != nil {
		errThreshold = *p.ErrorThresholdPct
	}
	latThreshold := e.latencyThreshold
	if p.LatencyThresholdPct != nil {
		latThreshold = *p.LatencyThresholdPct
	}

	spansByTrace := map[string][]span{}
	var traceOrder []string
	for _, s := range spans {
		if _, seen := spansByTrace[s.traceID]; !seen {
			traceOrder = append(traceOrder, s.traceID)
		}
		spansByTrace[s.traceID] = append(spansByTrace[s.traceID], s)
	}

	var pre, post parsing.Window
	var windowDuration float64
	if pivotSet {
		pre, post = parsing.PrePost(pivot, delta)
		windowDuration = delta.Seconds()
	} else {
		min, max, ok := timeBounds(spans)
		if !ok {
			return nil, models.NewValidationError("no valid timestamps in traces")
		}
		post = parsing.Window{Start: min, End: max}
		windowDuration = max.Sub(min).Seconds()
	}
	if windowDuration <= 0 {
		windowDuration = 1
	}

	if p.ServiceName != "" {
		var keptOrder []string
		for _, traceID := range traceOrder {
			if traceContainsService(spansByTrace[traceID], p.ServiceName) {
				keptOrder = append(keptOrder, traceID)
			} else {
				delete(spansByTrace, traceID)
			}
		}
		traceOrder = keptOrder
	}

	groups := groupByPath(spansByTrace, traceOrder)
	if len(groups) == 0 {
		if p.ServiceName != "" {
			return nil, models.NewValidationError("no traces found containing service %q", p.ServiceName)
		}
		return nil, models.NewValidationError("no valid trace paths found")
	}

	stats := make([]*pathStats, 0, len(groups))
	for _, g := range groups {
		stats = append(stats, computePathStats(g, pre, post, pivotSet, p.SpanKind))
	}

	report := &Report{
		Description: Description{
			Overview: "Critical path analysis - stats computed per unique trace path using trace_id stitching",
			TimeWindows: map[string]string{
				"pre":  "N/A",
				"post": "All data",
			},
			Thresholds: map[string]float64{
				"error_rate_change_pct": errThreshold,
				"latency_change_pct":    latThreshold,
			},
			Note: "Each path groups traces that follow the same service chain. Stats are computed from spans within those specific traces.",
		},
		CriticalPaths: []CriticalPath{},
		FiltersApplied: map[string]interface{}{
			"service_name":          nullable(p.ServiceName),
			"span_kind":             nullable(p.SpanKind),
			"pivot_time":            nullable(p.PivotTime),
			"delta_time":            nil,
			"error_threshold_pct":   errThreshold,
			"latency_threshold_pct": latThreshold,
		},
	}
	if pivotSet {
		report.Description.TimeWindows["pre"] = "[pivot_time - " + deltaStr + ", pivot_time)"
		report.Description.TimeWindows["post"] = "[pivot_time, pivot_time + " + deltaStr + "]"
		report.FiltersApplied["delta_time"] = deltaStr
	} else {
		report.Warnings = append(report.Warnings,
			"pivot_time not provided - comparative analysis disabled. "+
				"Providing pivot_time is highly encouraged for incident investigation.")
	}

	report.Summary = summarize(stats, windowDuration, pivotSet)
	report.AllPaths, report.CriticalPaths = e.classifyPaths(stats, windowDuration, pivotSet, errThreshold, latThreshold)
	report.CallTree = buildCallTree(stats)
	return report, nil
}

// classify applies the severity rules to one path. NEW_PATH and
// DISAPPEARED reflect presence changes; CRITICAL fires on an absolute
// error-rate jump over 50 points, a post error rate over 50%, or a p99
// swing over 100%; WARNING on relative changes over the configured
// thresholds.
func classify(ps *pathStats, errThreshold, latThreshold float64) (string, bool) {
	preCount, postCount := ps.pre.spanCount, ps.post.spanCount
	switch {
	case preCount == 0 && postCount > 0:
		return severityNewPath, true
	case preCount > 0 && postCount == 0:
		return severityDisappeared, true
	case preCount == 0 && postCount == 0:
		return "", false
	}

	preErr := ps.pre.errorRatePct()
	postErr := ps.post.errorRatePct()
	preLat := computePercentiles(ps.pre.latencies).p99
	postLat := computePercentiles(ps.post.latencies).p99

	var errChange, latChange float64
	if preErr > 0 || postErr > 0 {
		errChange = absDelta(preErr, postErr)
	}
	if preLat > 0 || postLat > 0 {
		latChange = absDelta(preLat, postLat)
	}

	errExceeds := errChange > errThreshold || (preErr == 0 && postErr > errThreshold)
	latExceeds := latChange > latThreshold
	if !errExceeds && !latExceeds {
		return "", false
	}

	if postErr-preErr > 50 || preErr-postErr > 50 || postErr > 50 || latChange > 100 {
		return severityCritical, true
	}
	return severityWarning, true
}

func (e *Engine) classifyPaths(stats []*pathStats, windowDuration float64, pivotSet bool, errThreshold, latThreshold float64) ([]string, []CriticalPath) {
	type ranked struct {
		text string
		rank int
	}
	var paths []ranked
	critical := []CriticalPath{}

	for _, ps := range stats {
		severity, flagged := classify(ps, errThreshold, latThreshold)

		text := ps.key + " [" + formatRate(float64(ps.post.spanCount)/windowDuration) + "]"
		if severity != "" {
			text += " (" + severity + ")"
		}
		paths = append(paths, ranked{text: text, rank: severityRank(severity)})

		if !flagged || !pivotSet {
			continue
		}
		critical = append(critical, e.buildCriticalPath(ps, severity, windowDuration))
	}

	sort.SliceStable(paths, func(i, j int) bool { return paths[i].rank < paths[j].rank })
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		out = append(out, p.text)
	}
	if len(out) > maxPathOutput {
		out = out[:maxPathOutput]
	}

	sort.SliceStable(critical, func(i, j int) bool {
		return severityRank(critical[i].Severity) < severityRank(critical[j].Severity)
	})
	return out, critical
}

func (e *Engine) buildCriticalPath(ps *pathStats, severity string, windowDuration float64) CriticalPath {
	cp := CriticalPath{
		Path:         ps.key,
		Severity:     severity,
		SampleErrors: []string{},
	}

	var suspect *RootCause
	maxErrRate := 0.0
	for _, svc := range ps.services {
		hop := ps.hops[svc]
		preErr := hop.pre.errorRatePct()
		postErr := hop.post.errorRatePct()
		preLat := computePercentiles(hop.pre.latencies).p99
		postLat := computePercentiles(hop.post.latencies).p99

		cp.Hops = append(cp.Hops, Hop{
			Service: svc,
			Traffic: formatRate(float64(hop.pre.spanCount)/windowDuration) + " → " +
				formatRate(float64(hop.post.spanCount)/windowDuration),
			ErrorRate:  formatPct(preErr) + " → " + formatPct(postErr),
			LatencyP99: formatLatency(preLat) + " → " + formatLatency(postLat),
		})

		if postErr > 50 && postErr > maxErrRate {
			maxErrRate = postErr
			suspect = &RootCause{Service: svc, Reason: formatPct(maxErrRate) + " error rate"}
		}
	}
	cp.RootCauseSuspect = suspect

	for msg := range ps.errorMsgs {
		cp.SampleErrors = append(cp.SampleErrors, msg)
	}
	sort.Strings(cp.SampleErrors)
	if len(cp.SampleErrors) > maxSampleErrors {
		cp.SampleErrors = cp.SampleErrors[:maxSampleErrors]
	}
	return cp
}

func summarize(stats []*pathStats, windowDuration float64, pivotSet bool) *Summary {
	totalPre := newWindowStats()
	totalPost := newWindowStats()
	for _, ps := range stats {
		totalPre.merge(ps.pre)
		totalPost.merge(ps.post)
	}

	render := func(w *windowStats) *WindowSummary {
		if w.spanCount == 0 {
			return nil
		}
		pct := computePercentiles(w.latencies)
		return &WindowSummary{
			TraceCount:        len(w.traceIDs),
			SpanCount:         w.spanCount,
			ErrorRatePct:      round1(w.errorRatePct()),
			LatencyP50MS:      pct.p50,
			LatencyP90MS:      pct.p90,
			LatencyP99MS:      pct.p99,
			TrafficRatePerSec: round2(float64(len(w.traceIDs)) / windowDuration),
		}
	}

	summary := &Summary{Pre: render(totalPre), Post: render(totalPost)}
	if pivotSet && summary.Pre != nil && summary.Post != nil {
		summary.Delta = map[string]interface{}{
			"error_rate_pct":       renderDelta(summary.Pre.ErrorRatePct, summary.Post.ErrorRatePct),
			"latency_p99_ms":       renderDelta(summary.Pre.LatencyP99MS, summary.Post.LatencyP99MS),
			"traffic_rate_per_sec": renderDelta(summary.Pre.TrafficRatePerSec, summary.Post.TrafficRatePerSec),
		}
	}
	return summary
}

// treeAccum is the mutable call-tree node used during construction.
type treeAccum struct {
	service  string
	pre      *windowStats
	post     *windowStats
	children map[string]*treeAccum
	order    []string
}

func newTreeAccum(service string) *treeAccum {
	return &treeAccum{
		service:  service,
		pre:      newWindowStats(),
		post:     newWindowStats(),
		children: map[string]*treeAccum{},
	}
}

// buildCallTree merges every path's service chain into one aggregated
// tree. Each node accumulates the hop-level stats of the paths passing
// through it, in first-seen order.
func buildCallTree(stats []*pathStats) []*TreeNode {
	root := newTreeAccum("")
	for _, ps := range stats {
		cur := root
		for _, svc := range ps.services {
			child, ok := cur.children[svc]
			if !ok {
				child = newTreeAccum(svc)
				cur.children[svc] = child
				cur.order = append(cur.order, svc)
			}
			hop := ps.hops[svc]
			child.pre.merge(hop.pre)
			child.post.merge(hop.post)
			cur = child
		}
	}
	return finalizeTree(root)
}

func finalizeTree(accum *treeAccum) []*TreeNode {
	var nodes []*TreeNode
	for _, svc := range accum.order {
		child := accum.children[svc]
		preErr := child.pre.errorRatePct()
		postErr := child.post.errorRatePct()
		preLat := computePercentiles(child.pre.latencies).p99
		postLat := computePercentiles(child.post.latencies).p99

		nodes = append(nodes, &TreeNode{
			Service: svc,
			Pre: NodeStats{
				SpanCount:    child.pre.spanCount,
				ErrorRatePct: round1(preErr),
				LatencyP99MS: preLat,
			},
			Post: NodeStats{
				SpanCount:    child.post.spanCount,
				ErrorRatePct: round1(postErr),
				LatencyP99MS: postLat,
			},
			Delta: map[string]interface{}{
				"span_count":     renderDelta(float64(child.pre.spanCount), float64(child.post.spanCount)),
				"error_rate_pct": renderDelta(preErr, postErr),
				"latency_p99_ms": renderDelta(preLat, postLat),
			},
			Children: finalizeTree(child),
		})
	}
	return nodes
}

func timeBounds(spans []span) (min, max time.Time, ok bool) {
	for _, s := range spans {
		if !s.hasTS {
			continue
		}
		if !ok || s.ts.Before(min) {
			min = s.ts
		}
		if !ok || s.ts.After(max) {
			max = s.ts
		}
		ok = true
	}
	return min, max, ok
}

func severityRank(severity string) int {
	switch severity {
	case severityCritical:
		return 0
	case severityWarning:
		return 1
	case severityNewPath:
		return 2
	case severityDisappeared:
		return 3
	default:
		return 4
	}
}

func formatPct(v float64) string {
	return fmt.Sprintf("%.0f%%", v)
}

// nullable keeps empty strings out of filters_applied as explicit
// nulls, matching the envelope shape of the other engines.
func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
