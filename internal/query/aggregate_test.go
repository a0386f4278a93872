package query

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moolen/hindsight/internal/models"
	"github.com/moolen/hindsight/internal/snapshot"
)

func probeFrame() *Frame {
	rows := [][]string{}
	for i := 0; i < 45; i++ {
		rows = append(rows, []string{"Unhealthy", "checkout", "2025-01-01T10:00:00Z", "Readiness probe failed"})
	}
	rows = append(rows,
		[]string{"BackOff", "checkout", "2025-01-01T10:05:00Z", "Back-off restarting container"},
		[]string{"BackOff", "payment", "2025-01-01T10:06:00Z", "Back-off restarting container"},
	)
	return FromTable(&snapshot.Table{
		Columns: []string{"reason", "object_name", "event_time", "message"},
		Rows:    rows,
	})
}

func TestGroupCount(t *testing.T) {
	out, err := GroupAggregate(probeFrame(), []string{"reason"}, "count", AggOptions{})
	require.NoError(t, err)
	require.Len(t, out.Rows, 2)

	// Repeated probe failures collapse into a single counted row.
	assert.Equal(t, "Unhealthy", out.Rows[0]["reason"])
	assert.Equal(t, float64(45), out.Rows[0]["count"])
	assert.Equal(t, "BackOff", out.Rows[1]["reason"])
	assert.Equal(t, float64(2), out.Rows[1]["count"])
}

func TestGroupCountUnknownColumn(t *testing.T) {
	_, err := GroupAggregate(probeFrame(), []string{"nope"}, "count", AggOptions{})
	require.Error(t, err)
	assert.True(t, models.IsColumnNotFoundError(err))
}

func TestGroupFirstLast(t *testing.T) {
	f := probeFrame()
	first, err := GroupAggregate(f, []string{"reason"}, "first", AggOptions{TimeColumn: "event_time"})
	require.NoError(t, err)
	require.Len(t, first.Rows, 2)

	last, err := GroupAggregate(f, []string{"reason"}, "last", AggOptions{TimeColumn: "event_time"})
	require.NoError(t, err)
	require.Len(t, last.Rows, 2)

	var backoffLast Row
	for _, r := range last.Rows {
		if r["reason"] == "BackOff" {
			backoffLast = r
		}
	}
	require.NotNil(t, backoffLast)
	assert.Equal(t, "payment", backoffLast["object_name"])
}

func TestGroupNunique(t *testing.T) {
	out, err := GroupAggregate(probeFrame(), []string{"reason"}, "nunique", AggOptions{})
	require.NoError(t, err)

	var backoff Row
	for _, r := range out.Rows {
		if r["reason"] == "BackOff" {
			backoff = r
		}
	}
	require.NotNil(t, backoff)
	assert.Equal(t, float64(2), backoff["object_name_unique"])
	assert.Equal(t, float64(1), backoff["message_unique"])
}

func TestGroupList(t *testing.T) {
	out, err := GroupAggregate(probeFrame(), []string{"object_name"}, "list",
		AggOptions{ListColumns: []string{"reason", "message"}})
	require.NoError(t, err)

	var checkout Row
	for _, r := range out.Rows {
		if r["object_name"] == "checkout" {
			checkout = r
		}
	}
	require.NotNil(t, checkout)
	assert.ElementsMatch(t, []string{"Unhealthy", "BackOff"}, checkout["reason"])
}

func TestGroupListCapsUniques(t *testing.T) {
	rows := [][]string{}
	for i := 0; i < 30; i++ {
		rows = append(rows, []string{"checkout", string(rune('a' + i))})
	}
	f := FromTable(&snapshot.Table{Columns: []string{"object_name", "reason"}, Rows: rows})

	out, err := GroupAggregate(f, []string{"object_name"}, "list",
		AggOptions{ListColumns: []string{"reason"}})
	require.NoError(t, err)
	require.Len(t, out.Rows, 1)
	assert.Len(t, out.Rows[0]["reason"], listCap)
}

func TestGroupNumeric(t *testing.T) {
	f := FromTable(&snapshot.Table{
		Columns: []string{"alertname", "value"},
		Rows: [][]string{
			{"HighLatency", "10"},
			{"HighLatency", "30"},
			{"DiskFull", "5"},
		},
	})

	out, err := GroupAggregate(f, []string{"alertname"}, "sum",
		AggOptions{NumericColumns: []string{"value"}})
	require.NoError(t, err)
	require.Len(t, out.Rows, 2)
	assert.Equal(t, "HighLatency", out.Rows[0]["alertname"])
	assert.Equal(t, float64(40), out.Rows[0]["value"])

	mean, err := GroupAggregate(f, []string{"alertname"}, "mean",
		AggOptions{NumericColumns: []string{"value"}})
	require.NoError(t, err)
	assert.Equal(t, float64(20), mean.Rows[0]["value"])
}

func TestUnknownAggregation(t *testing.T) {
	_, err := GroupAggregate(probeFrame(), []string{"reason"}, "median", AggOptions{})
	require.Error(t, err)
	assert.True(t, models.IsValidationError(err))
}

func TestDeploymentDerivation(t *testing.T) {
	tests := []struct {
		kind, name, want string
	}{
		{"Pod", "frontend-675fd7b5c5-gd8gl", "frontend"},
		{"Pod", "kube-dns-autoscaler-7b8f9c6d5-xk2lp", "kube-dns-autoscaler"},
		{"ReplicaSet", "frontend-675fd7b5c5", "frontend"},
		{"ReplicaSet", "short-ab", "short-ab"},
		{"Deployment", "frontend", "frontend"},
		{"Service", "", "unknown"},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, DeploymentFromObject(tc.kind, tc.name), tc.kind+"/"+tc.name)
	}
}
