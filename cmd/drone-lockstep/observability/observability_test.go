package observability

import (
	"bytes"
	"context"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestObserveStepAndRun(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := NewMetrics(reg)
	require.NoError(t, err)

	m.ObserveStep(2*time.Millisecond, 2, 1, 3)
	m.ObserveStep(time.Millisecond, 1, 0, 2)
	m.ObserveRun("COLLISION_ABORT", "FAIL")

	assert.Equal(t, float64(2), testutil.ToFloat64(m.Steps))
	assert.Equal(t, float64(3), testutil.ToFloat64(m.Collisions))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.DroppedCollisions))
	assert.Equal(t, float64(0), testutil.ToFloat64(m.ActiveAgents))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.Runs.WithLabelValues("COLLISION_ABORT", "FAIL")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.BarrierWait))
}

func TestNewMetricsReusesRegisteredCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	first, err := NewMetrics(reg)
	require.NoError(t, err)
	second, err := NewMetrics(reg)
	require.NoError(t, err)

	first.Steps.Inc()
	assert.Equal(t, float64(1), testutil.ToFloat64(second.Steps))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.ObserveStep(time.Second, 1, 1, 1)
	m.ObserveRun("NATURAL_COMPLETION", "PASS")
}

func TestHandlerExposesMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := NewMetrics(reg)
	require.NoError(t, err)
	m.ObserveStep(time.Millisecond, 1, 0, 2)

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Contains(t, string(body), "dronesim_steps_total 1")
	assert.Contains(t, string(body), "dronesim_active_agents 2")
}

func TestInitTracingDisabled(t *testing.T) {
	tracer, shutdown, err := InitTracing(context.Background(), TracingConfig{})
	require.NoError(t, err)

	_, span := tracer.Start(context.Background(), "noop")
	assert.False(t, span.SpanContext().IsValid())
	span.End()
	assert.NoError(t, ShutdownWithTimeout(context.Background(), shutdown))
}

func TestInitTracingWritesSpans(t *testing.T) {
	var buf bytes.Buffer
	tracer, shutdown, err := InitTracing(context.Background(), TracingConfig{
		Enabled:     true,
		ServiceName: "drone-lockstep-test",
		Writer:      &buf,
	})
	require.NoError(t, err)

	_, span := tracer.Start(context.Background(), "simulation.run")
	span.End()
	require.NoError(t, ShutdownWithTimeout(context.Background(), shutdown))

	assert.True(t, strings.Contains(buf.String(), "simulation.run"))
}

func TestTracerProviderRecordsSpans(t *testing.T) {
	exp := tracetest.NewInMemoryExporter()
	tp, err := NewTracerProvider(context.Background(), "test", exp)
	require.NoError(t, err)

	_, span := tp.Tracer(TracerName).Start(context.Background(), "simulation.step")
	span.End()

	spans := exp.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, "simulation.step", spans[0].Name)
}
