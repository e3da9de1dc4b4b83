package telemetry

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Aggregation {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	out := map[string]metricdata.Aggregation{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m.Data
		}
	}
	return out
}

func TestEngineMetricsRecord(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	m, err := NewEngineMetrics(mp.Meter("test"))
	require.NoError(t, err)

	ctx := context.Background()
	m.TaskRun(ctx, "feed", nil)
	m.TaskRun(ctx, "feed", errors.New("boom"))
	m.TaskPanic(ctx, "decision")
	m.Order(ctx, "open", "filled")
	m.Retry(ctx, "rate_limit")
	m.LedgerAppend(ctx, "O")
	m.SetHistoryLen(42)

	data := collect(t, reader)
	runs := data["engine.task.runs"].(metricdata.Sum[int64])
	require.Equal(t, int64(2), runs.DataPoints[0].Value)
	errs := data["engine.task.errors"].(metricdata.Sum[int64])
	require.Equal(t, int64(1), errs.DataPoints[0].Value)
	gauge := data["engine.history.length"].(metricdata.Gauge[int64])
	require.Equal(t, int64(42), gauge.DataPoints[0].Value)
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *EngineMetrics
	m.TaskRun(context.Background(), "feed", nil)
	m.SetHistoryLen(1)
}

func TestDisabledProviderFallsBackToGlobal(t *testing.T) {
	p, err := NewProvider(context.Background(), Config{})
	require.NoError(t, err)
	require.NotNil(t, p.Meter("x"))
	require.NoError(t, p.Shutdown(context.Background()))
	require.Equal(t, "collector:4318", stripScheme("http://collector:4318/"))
}
