// Package observability wires OpenTelemetry traces and metrics for the
// token manager, the OAuth routes and the webhook endpoint.
package observability

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

const shutdownTimeout = 5 * time.Second

type shutdowner interface {
	Shutdown(context.Context) error
}

// Telemetry holds the OTel providers. The zero value and a disabled
// configuration both behave as no-ops.
type Telemetry struct {
	config         *Config
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider
	metrics        *Metrics
	shutdowns      []shutdowner
	shutdownOnce   sync.Once
}

// Init installs global tracer and meter providers for cfg. The returned
// cleanup flushes and closes them.
func Init(ctx context.Context, cfg *Config) (*Telemetry, func(), error) {
	tel := &Telemetry{config: cfg}
	if !cfg.ShouldEnable() {
		return tel, func() {}, nil
	}

	if cfg.TracesEnabled {
		tp, err := initTracerProvider(ctx, cfg)
		if err != nil {
			return nil, nil, err
		}
		tel.tracerProvider = tp
		tel.shutdowns = append(tel.shutdowns, tp)
		otel.SetTracerProvider(tp)
	}

	if cfg.MetricsEnabled {
		mp, err := initMeterProvider(ctx, cfg)
		if err != nil {
			tel.Cleanup()
			return nil, nil, err
		}
		tel.meterProvider = mp
		tel.shutdowns = append(tel.shutdowns, mp)
		otel.SetMeterProvider(mp)

		metrics, err := InitMetrics(mp)
		if err != nil {
			tel.Cleanup()
			return nil, nil, err
		}
		tel.metrics = metrics
	}

	return tel, tel.Cleanup, nil
}

// NewWithMeterProvider builds Telemetry around an existing meter provider.
func NewWithMeterProvider(mp *sdkmetric.MeterProvider) (*Telemetry, error) {
	metrics, err := InitMetrics(mp)
	if err != nil {
		return nil, err
	}
	return &Telemetry{config: NewConfig(), meterProvider: mp, metrics: metrics}, nil
}

// TracerProvider returns the tracer provider (or noop if disabled).
func (t *Telemetry) TracerProvider() trace.TracerProvider {
	if t != nil && t.tracerProvider != nil {
		return t.tracerProvider
	}
	return noop.NewTracerProvider()
}

// MeterProvider returns the meter provider (or the global one if disabled).
func (t *Telemetry) MeterProvider() metric.MeterProvider {
	if t != nil && t.meterProvider != nil {
		return t.meterProvider
	}
	return otel.GetMeterProvider()
}

// Metrics returns the metric instruments, or nil when metrics are disabled.
// All Metrics methods accept a nil receiver.
func (t *Telemetry) Metrics() *Metrics {
	if t == nil {
		return nil
	}
	return t.metrics
}

// Shutdown flushes and closes all providers.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	var errs []error
	t.shutdownOnce.Do(func() {
		for i := len(t.shutdowns) - 1; i >= 0; i-- {
			if err := t.shutdowns[i].Shutdown(ctx); err != nil {
				errs = append(errs, err)
			}
		}
	})
	return errors.Join(errs...)
}

// Cleanup is Shutdown with a bounded timeout, for defer.
func (t *Telemetry) Cleanup() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	_ = t.Shutdown(ctx)
}

// Config returns the telemetry configuration.
func (t *Telemetry) Config() *Config {
	return t.config
}
