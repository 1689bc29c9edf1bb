package observability_test

import (
	"context"
	"testing"

	"github.com/aelexs/nextchapter/internal/observability"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

var testService = observability.ServiceInfo{
	Name:        "test-service",
	Version:     "0.0.1",
	Environment: "test",
}

func TestInitMetrics_NoEndpoint(t *testing.T) {
	mp, err := observability.InitMetrics(context.Background(), observability.MetricsConfig{Service: testService})

	require.NoError(t, err)
	require.NotNil(t, mp)
	assert.NoError(t, mp.Shutdown(context.Background()))
}

func TestMetricsProvider_ShutdownNilProvider(t *testing.T) {
	mp := &observability.MetricsProvider{}

	err := mp.Shutdown(context.Background())

	assert.NoError(t, err)
}

func TestInitMetrics_ExtraReaderCollects(t *testing.T) {
	ctx := context.Background()
	reader := sdkmetric.NewManualReader()

	mp, err := observability.InitMetrics(ctx, observability.MetricsConfig{Service: testService}, reader)
	require.NoError(t, err)
	t.Cleanup(func() { _ = mp.Shutdown(ctx) })

	counter, err := observability.Meter("test").Int64Counter("test_total")
	require.NoError(t, err)
	counter.Add(ctx, 3)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))
	require.Len(t, rm.ScopeMetrics, 1)
	require.Len(t, rm.ScopeMetrics[0].Metrics, 1)

	sum, ok := rm.ScopeMetrics[0].Metrics[0].Data.(metricdata.Sum[int64])
	require.True(t, ok)
	assert.Equal(t, int64(3), sum.DataPoints[0].Value)
}
