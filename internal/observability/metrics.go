package observability

import (
	"context"
	"fmt"
	"os"

	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

const meterName = "github.com/markb/mentionbot"

// Metrics holds the instruments recorded by the server and the token manager.
type Metrics struct {
	HTTPRequestCount    metric.Int64Counter
	HTTPRequestDuration metric.Float64Histogram
	HTTPResponseSize    metric.Int64Histogram

	TokenRefreshes    metric.Int64Counter
	CodeExchanges     metric.Int64Counter
	WebhookDeliveries metric.Int64Counter
}

// InitMetrics creates the instruments on mp.
func InitMetrics(mp metric.MeterProvider) (*Metrics, error) {
	meter := mp.Meter(meterName)
	m := &Metrics{}

	var err error
	if m.HTTPRequestCount, err = meter.Int64Counter(
		"http.server.request_count",
		metric.WithDescription("Number of HTTP requests"),
		metric.WithUnit("{request}"),
	); err != nil {
		return nil, fmt.Errorf("failed to create request count counter: %w", err)
	}
	if m.HTTPRequestDuration, err = meter.Float64Histogram(
		"http.server.request_duration",
		metric.WithDescription("HTTP request latency"),
		metric.WithUnit("ms"),
	); err != nil {
		return nil, fmt.Errorf("failed to create request duration histogram: %w", err)
	}
	if m.HTTPResponseSize, err = meter.Int64Histogram(
		"http.server.response_size",
		metric.WithDescription("HTTP response size in bytes"),
		metric.WithUnit("By"),
	); err != nil {
		return nil, fmt.Errorf("failed to create response size histogram: %w", err)
	}
	if m.TokenRefreshes, err = meter.Int64Counter(
		"oauth.token.refreshes",
		metric.WithDescription("Token pair refreshes by outcome"),
		metric.WithUnit("{refresh}"),
	); err != nil {
		return nil, fmt.Errorf("failed to create refresh counter: %w", err)
	}
	if m.CodeExchanges, err = meter.Int64Counter(
		"oauth.code.exchanges",
		metric.WithDescription("Authorization callbacks by outcome"),
		metric.WithUnit("{exchange}"),
	); err != nil {
		return nil, fmt.Errorf("failed to create exchange counter: %w", err)
	}
	if m.WebhookDeliveries, err = meter.Int64Counter(
		"webhook.deliveries",
		metric.WithDescription("Webhook event arrays received, by kind"),
		metric.WithUnit("{event}"),
	); err != nil {
		return nil, fmt.Errorf("failed to create webhook counter: %w", err)
	}

	return m, nil
}

// RecordRefresh counts one token refresh. It satisfies tokens.RefreshObserver.
func (m *Metrics) RecordRefresh(ctx context.Context, outcome string) {
	if m == nil {
		return
	}
	m.TokenRefreshes.Add(ctx, 1, metric.WithAttributes(AttrOutcome.String(outcome)))
}

// RecordExchange counts one authorization callback.
func (m *Metrics) RecordExchange(ctx context.Context, outcome string) {
	if m == nil {
		return
	}
	m.CodeExchanges.Add(ctx, 1, metric.WithAttributes(AttrOutcome.String(outcome)))
}

// RecordWebhookEvents adds the number of events per kind in one delivery.
func (m *Metrics) RecordWebhookEvents(ctx context.Context, kinds map[string]int) {
	if m == nil {
		return
	}
	for kind, n := range kinds {
		m.WebhookDeliveries.Add(ctx, int64(n), metric.WithAttributes(AttrEventKind.String(kind)))
	}
}

func initMeterProvider(ctx context.Context, cfg *Config) (*sdkmetric.MeterProvider, error) {
	var reader sdkmetric.Reader

	switch cfg.Exporter {
	case "stdout":
		exporter, err := stdoutmetric.New(stdoutmetric.WithWriter(os.Stderr))
		if err != nil {
			return nil, fmt.Errorf("failed to create stdout metric exporter: %w", err)
		}
		reader = sdkmetric.NewPeriodicReader(exporter)
	case "otlp":
		conn, err := dialCollector(ctx, cfg.Endpoint)
		if err != nil {
			return nil, err
		}
		exporter, err := otlpmetricgrpc.New(ctx, otlpmetricgrpc.WithGRPCConn(conn))
		if err != nil {
			return nil, fmt.Errorf("failed to create OTLP metrics exporter: %w", err)
		}
		reader = sdkmetric.NewPeriodicReader(exporter)
	default:
		return nil, fmt.Errorf("unknown exporter: %s", cfg.Exporter)
	}

	res, err := newResource(ctx, cfg)
	if err != nil {
		return nil, err
	}

	return sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(reader),
		sdkmetric.WithResource(res),
	), nil
}
