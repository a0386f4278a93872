package traces

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCollapsePath(t *testing.T) {
	spans := []span{
		{traceID: "t1", spanID: "a", service: "frontend"},
		{traceID: "t1", spanID: "b", parentID: "a", service: "frontend"},
		{traceID: "t1", spanID: "c", parentID: "b", service: "checkout"},
		{traceID: "t1", spanID: "d", parentID: "c", service: "payment"},
	}
	assert.Equal(t, []string{"frontend", "checkout", "payment"}, collapsePath(spans))
}

func TestCollapsePathPicksLongestChain(t *testing.T) {
	spans := []span{
		{traceID: "t1", spanID: "a", service: "frontend"},
		{traceID: "t1", spanID: "b", parentID: "a", service: "ads"},
		{traceID: "t1", spanID: "c", parentID: "a", service: "checkout"},
		{traceID: "t1", spanID: "d", parentID: "c", service: "payment"},
	}
	assert.Equal(t, []string{"frontend", "checkout", "payment"}, collapsePath(spans))
}

func TestCollapsePathBrokenLineage(t *testing.T) {
	// Parent id points outside the dataset: the span is still a root.
	spans := []span{
		{traceID: "t1", spanID: "a", parentID: "missing", service: "checkout"},
		{traceID: "t1", spanID: "b", parentID: "a", service: "payment"},
	}
	assert.Equal(t, []string{"checkout", "payment"}, collapsePath(spans))
}

func TestComputePercentiles(t *testing.T) {
	p := computePercentiles([]float64{10, 20, 30, 40, 50, 60, 70, 80, 90, 100})
	assert.Equal(t, 60.0, p.p50)
	assert.Equal(t, 100.0, p.p90)
	assert.Equal(t, 100.0, p.p99)

	assert.Equal(t, percentiles{}, computePercentiles(nil))
}

func TestDeltaPct(t *testing.T) {
	v, finite := deltaPct(100, 150)
	assert.True(t, finite)
	assert.Equal(t, 50.0, v)

	v, finite = deltaPct(0, 10)
	assert.False(t, finite)
	assert.True(t, math.IsInf(v, 1))

	v, finite = deltaPct(0, 0)
	assert.True(t, finite)
	assert.Equal(t, 0.0, v)

	assert.Equal(t, "+Inf", renderDelta(0, 10))
	assert.Equal(t, -50.0, renderDelta(100, 50))
}

func TestFormatHelpers(t *testing.T) {
	assert.Equal(t, "0.25/s", formatRate(0.25))
	assert.Equal(t, "12/s", formatRate(12.3))

	assert.Equal(t, "0.50ms", formatLatency(0.5))
	assert.Equal(t, "250ms", formatLatency(250))
	assert.Equal(t, "1.5s", formatLatency(1500))
	assert.Equal(t, "2.0m", formatLatency(120000))
}

func TestSnakeKey(t *testing.T) {
	assert.Equal(t, "trace_id", snakeKey("TraceId"))
	assert.Equal(t, "duration", snakeKey("Duration"))
	assert.Equal(t, "duration_ms", snakeKey("duration_ms"))
	assert.Equal(t, "http_route", snakeKey("HttpRoute"))
}
