package observability

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func newTestTelemetry(t *testing.T) (*Telemetry, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { mp.Shutdown(context.Background()) })

	tel, err := NewWithMeterProvider(mp)
	require.NoError(t, err)
	return tel, reader
}

// sums collects the Int64 sum data points of the named instrument keyed by
// the value of attribute key.
func sums(t *testing.T, reader *sdkmetric.ManualReader, name string, key attribute.Key) map[string]int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	out := map[string]int64{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			require.True(t, ok, "%s is not an int64 sum", name)
			for _, dp := range sum.DataPoints {
				v, _ := dp.Attributes.Value(key)
				out[v.Emit()] += dp.Value
			}
		}
	}
	return out
}

func TestInitMetrics(t *testing.T) {
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(sdkmetric.NewManualReader()))
	m, err := InitMetrics(mp)
	require.NoError(t, err)

	assert.NotNil(t, m.HTTPRequestCount)
	assert.NotNil(t, m.HTTPRequestDuration)
	assert.NotNil(t, m.HTTPResponseSize)
	assert.NotNil(t, m.TokenRefreshes)
	assert.NotNil(t, m.CodeExchanges)
	assert.NotNil(t, m.WebhookDeliveries)
}

func TestRecordRefresh(t *testing.T) {
	tel, reader := newTestTelemetry(t)
	ctx := context.Background()

	tel.Metrics().RecordRefresh(ctx, "rotated")
	tel.Metrics().RecordRefresh(ctx, "rotated")
	tel.Metrics().RecordRefresh(ctx, "adopted")

	got := sums(t, reader, "oauth.token.refreshes", AttrOutcome)
	assert.Equal(t, map[string]int64{"rotated": 2, "adopted": 1}, got)
}

func TestRecordExchangeAndWebhook(t *testing.T) {
	tel, reader := newTestTelemetry(t)
	ctx := context.Background()

	tel.Metrics().RecordExchange(ctx, "authorized")
	tel.Metrics().RecordWebhookEvents(ctx, map[string]int{"tweet_create_events": 3, "favorite_events": 1})

	assert.Equal(t, map[string]int64{"authorized": 1}, sums(t, reader, "oauth.code.exchanges", AttrOutcome))
	assert.Equal(t, map[string]int64{"tweet_create_events": 3, "favorite_events": 1},
		sums(t, reader, "webhook.deliveries", AttrEventKind))
}

func TestNilMetricsAreNoops(t *testing.T) {
	var m *Metrics
	ctx := context.Background()
	assert.NotPanics(t, func() {
		m.RecordRefresh(ctx, "rotated")
		m.RecordExchange(ctx, "authorized")
		m.RecordWebhookEvents(ctx, map[string]int{"x": 1})
	})
}
