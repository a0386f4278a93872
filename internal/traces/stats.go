package traces

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/moolen/hindsight/internal/parsing"
)

// windowStats accumulates per-window counters for a path or a hop.
type windowStats struct {
	traceIDs  map[string]bool
	spanCount int
	errors    int
	latencies []float64
}

func newWindowStats() *windowStats {
	return &windowStats{traceIDs: map[string]bool{}}
}

func (w *windowStats) observe(s span) {
	w.spanCount++
	w.traceIDs[s.traceID] = true
	if s.isError {
		w.errors++
	}
	if s.hasLat {
		w.latencies = append(w.latencies, s.latencyMS)
	}
}

func (w *windowStats) merge(other *windowStats) {
	w.spanCount += other.spanCount
	w.errors += other.errors
	w.latencies = append(w.latencies, other.latencies...)
	for id := range other.traceIDs {
		w.traceIDs[id] = true
	}
}

func (w *windowStats) errorRatePct() float64 {
	if w.spanCount == 0 {
		return 0
	}
	return float64(w.errors) / float64(w.spanCount) * 100
}

// hopStats is the pre/post pair for one service on one path.
type hopStats struct {
	pre  *windowStats
	post *windowStats
}

// pathStats carries everything needed to classify and render one path.
type pathStats struct {
	key       string
	services  []string
	hops      map[string]*hopStats
	pre       *windowStats
	post      *windowStats
	errorMsgs map[string]bool
}

// computePathStats assigns each span of the path's traces to the pre or
// post window and accumulates counters per service. Spans outside both
// windows, and spans excluded by the span-kind filter, do not feed the
// statistics.
func computePathStats(g *pathGroup, pre, post parsing.Window, pivotSet bool, spanKind string) *pathStats {
	ps := &pathStats{
		key:       g.key,
		services:  g.services,
		hops:      map[string]*hopStats{},
		pre:       newWindowStats(),
		post:      newWindowStats(),
		errorMsgs: map[string]bool{},
	}
	for _, svc := range g.services {
		ps.hops[svc] = &hopStats{pre: newWindowStats(), post: newWindowStats()}
	}

	for _, s := range g.spans {
		if !s.hasTS {
			continue
		}
		if spanKind != "" && !strings.EqualFold(s.kind, spanKind) {
			continue
		}

		var window *windowStats
		hop := ps.hops[s.service]
		var hopWindow *windowStats
		switch {
		case !pivotSet:
			window = ps.post
			if hop != nil {
				hopWindow = hop.post
			}
		case pre.ContainsHalfOpen(s.ts):
			window = ps.pre
			if hop != nil {
				hopWindow = hop.pre
			}
		case post.Contains(s.ts):
			window = ps.post
			if hop != nil {
				hopWindow = hop.post
			}
		default:
			continue
		}

		window.observe(s)
		if hopWindow != nil {
			hopWindow.observe(s)
		}
		if s.isError && s.statusMsg != "" {
			ps.errorMsgs[truncate(s.statusMsg, sampleErrorLimit)] = true
		}
	}
	return ps
}

// percentiles holds the latency distribution summary in milliseconds.
type percentiles struct {
	p50, p90, p99 float64
}

// computePercentiles uses the sorted-index method; approximate for
// small samples.
func computePercentiles(latencies []float64) percentiles {
	if len(latencies) == 0 {
		return percentiles{}
	}
	sorted := append([]float64(nil), latencies...)
	sort.Float64s(sorted)
	n := len(sorted)

	at := func(q float64) float64 {
		i := int(float64(n) * q)
		if i > n-1 {
			i = n - 1
		}
		return round2(sorted[i])
	}
	return percentiles{p50: at(0.50), p90: at(0.90), p99: at(0.99)}
}

// deltaPct is the relative change from pre to post in percent. A zero
// pre with a non-zero post is unbounded (finite=false).
func deltaPct(pre, post float64) (value float64, finite bool) {
	if pre == 0 {
		if post > 0 {
			return math.Inf(1), false
		}
		return 0, true
	}
	return round1((post - pre) / pre * 100), true
}

// renderDelta renders a delta as a JSON-safe value: +Inf becomes the
// string "+Inf".
func renderDelta(pre, post float64) interface{} {
	v, finite := deltaPct(pre, post)
	if !finite {
		return "+Inf"
	}
	return v
}

func absDelta(pre, post float64) float64 {
	v, finite := deltaPct(pre, post)
	if !finite {
		return math.Inf(1)
	}
	return math.Abs(v)
}

func round1(v float64) float64 { return math.Round(v*10) / 10 }
func round2(v float64) float64 { return math.Round(v*100) / 100 }

func formatRate(rate float64) string {
	if rate < 1 {
		return fmt.Sprintf("%.2f/s", rate)
	}
	return fmt.Sprintf("%.0f/s", rate)
}

func formatLatency(ms float64) string {
	switch {
	case ms < 1:
		return fmt.Sprintf("%.2fms", ms)
	case ms < 1000:
		return fmt.Sprintf("%.0fms", ms)
	case ms < 60000:
		return fmt.Sprintf("%.1fs", ms/1000)
	default:
		return fmt.Sprintf("%.1fm", ms/60000)
	}
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit]
}
