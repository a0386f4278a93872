package query

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moolen/hindsight/internal/models"
)

func TestSanitizeName(t *testing.T) {
	tests := map[string]string{
		"http.server.duration":        "http_server_duration",
		"k8s:container/cpu-usage":     "k8s_container_cpu_usage",
		"plain_name":                  "plain_name",
		"  spaced out  ":              "spaced_out",
		"trailing.":                   "trailing",
	}
	for in, want := range tests {
		assert.Equal(t, want, SanitizeName(in), in)
	}
}

func TestRewriteNames(t *testing.T) {
	expr := RewriteNames("http.server.errors / http.server.requests * 100",
		[]string{"http.server.requests", "http.server.errors"})
	assert.Equal(t, "http_server_errors / http_server_requests * 100", expr)
}

func TestParseAndEval(t *testing.T) {
	vars := map[string]float64{"a": 10, "b": 4, "c": 2}

	tests := []struct {
		input string
		want  float64
	}{
		{"a + b", 14},
		{"a - b * c", 2},
		{"(a - b) * c", 12},
		{"-a + b", -6},
		{"a / b", 2.5},
		{"a / c / c", 2.5},
		{"100 * b / a", 40},
		{"3.5 + 0.5", 4},
	}
	for _, tc := range tests {
		expr, err := ParseExpr(tc.input)
		require.NoError(t, err, tc.input)
		got, err := expr.Eval(vars)
		require.NoError(t, err, tc.input)
		assert.InDelta(t, tc.want, got, 1e-9, tc.input)
	}
}

func TestEvalDivisionByZero(t *testing.T) {
	expr, err := ParseExpr("a / b")
	require.NoError(t, err)
	got, err := expr.Eval(map[string]float64{"a": 1, "b": 0})
	require.NoError(t, err)
	assert.True(t, math.IsNaN(got))
}

func TestEvalUnknownColumn(t *testing.T) {
	expr, err := ParseExpr("a + missing")
	require.NoError(t, err)
	_, err = expr.Eval(map[string]float64{"a": 1})
	require.Error(t, err)
	assert.True(t, models.IsInvalidExpressionError(err))
}

func TestParseErrors(t *testing.T) {
	for _, input := range []string{"", "a +", "(a + b", "a ? b", "1..2 + a"} {
		_, err := ParseExpr(input)
		require.Error(t, err, input)
		assert.True(t, models.IsInvalidExpressionError(err), input)
	}
}

func TestColumns(t *testing.T) {
	expr, err := ParseExpr("rate_a / (rate_b + rate_a) * 100")
	require.NoError(t, err)
	assert.Equal(t, []string{"rate_a", "rate_b"}, expr.Columns())
}
