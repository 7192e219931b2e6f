package observability

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// HTTPMiddleware traces each request and records the HTTP instruments.
// Spans and metrics are labelled with the chi route pattern, not the raw
// path, so query strings and ids never become attributes.
func HTTPMiddleware(tel *Telemetry, serviceName string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			tracer := tel.TracerProvider().Tracer(serviceName)

			attrs := []attribute.KeyValue{AttrHTTPMethod.String(r.Method)}
			if r.Host != "" {
				attrs = append(attrs, AttrHTTPHost.String(r.Host))
			}
			ctx, span := tracer.Start(r.Context(), r.Method+" request",
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(attrs...),
			)
			defer span.End()

			rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rw, r.WithContext(ctx))

			route := r.URL.Path
			if rctx := chi.RouteContext(r.Context()); rctx != nil {
				if p := rctx.RoutePattern(); p != "" {
					route = p
				}
			}
			span.SetName(r.Method + " " + route)
			span.SetAttributes(AttrHTTPRoute.String(route), AttrHTTPStatusCode.Int(rw.status))
			if rw.status >= 500 {
				span.SetStatus(codes.Error, http.StatusText(rw.status))
			}

			if m := tel.Metrics(); m != nil {
				mattrs := metric.WithAttributes(
					AttrHTTPMethod.String(r.Method),
					AttrHTTPRoute.String(route),
					AttrHTTPStatusCode.Int(rw.status),
				)
				m.HTTPRequestCount.Add(ctx, 1, mattrs)
				m.HTTPRequestDuration.Record(ctx, float64(time.Since(start).Microseconds())/1000, mattrs)
				if rw.size > 0 {
					m.HTTPResponseSize.Record(ctx, int64(rw.size), mattrs)
				}
			}
		})
	}
}

// responseWriter captures status code and size.
type responseWriter struct {
	http.ResponseWriter
	status      int
	size        int
	wroteHeader bool
}

func (rw *responseWriter) WriteHeader(code int) {
	if !rw.wroteHeader {
		rw.status = code
		rw.wroteHeader = true
	}
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	if !rw.wroteHeader {
		rw.WriteHeader(http.StatusOK)
	}
	n, err := rw.ResponseWriter.Write(b)
	rw.size += n
	return n, err
}
