package telemetry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserveInvocation(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.ObserveInvocation("event_analysis", 12*time.Millisecond, nil)
	m.ObserveInvocation("event_analysis", 5*time.Millisecond, errors.New("boom"))
	m.ObserveInvocation("log_analysis", 3*time.Millisecond, nil)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.InvocationsTotal.WithLabelValues("event_analysis")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.InvocationsTotal.WithLabelValues("log_analysis")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ErrorsTotal.WithLabelValues("event_analysis")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.ErrorsTotal.WithLabelValues("log_analysis")))
	assert.Equal(t, 2, testutil.CollectAndCount(m.Duration))
}

func TestObserveInvocationNilReceiver(t *testing.T) {
	var m *Metrics
	// Disabled metrics must be safe to call.
	m.ObserveInvocation("event_analysis", time.Millisecond, nil)
}

func TestNewInvocationID(t *testing.T) {
	a := NewInvocationID()
	b := NewInvocationID()
	assert.NotEmpty(t, a)
	assert.NotEqual(t, a, b)
}

func TestTracingDisabled(t *testing.T) {
	tp, err := NewTracingProvider(TracingConfig{})
	require.NoError(t, err)
	assert.False(t, tp.IsEnabled())
	assert.NotNil(t, tp.Tracer("test"))
	assert.NoError(t, tp.Shutdown(context.Background()))
}

func TestTracingRequiresEndpoint(t *testing.T) {
	_, err := NewTracingProvider(TracingConfig{Enabled: true})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "endpoint")
}
