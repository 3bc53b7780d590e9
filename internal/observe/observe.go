// Package observe wires OpenTelemetry metrics for the Wren pipeline.
//
// Metrics are recorded through typed instruments on [Metrics]; the
// provider exposes them in Prometheus exposition format on a dedicated
// listener. When metrics are disabled in configuration, [Noop] returns an
// instance whose instruments discard every measurement, so call sites never
// branch on enablement.
package observe

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/attribute"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// meterName identifies the instrumentation scope.
const meterName = "github.com/meetwren/wren"

// Metrics bundles the pipeline's instruments.
type Metrics struct {
	// TranscriptionLatency measures per-chunk engine round trips, in seconds.
	TranscriptionLatency metric.Float64Histogram

	// ChunksProcessed counts chunks that produced a transcript fragment.
	ChunksProcessed metric.Int64Counter

	// ChunksDropped counts chunks evicted from a saturated queue.
	ChunksDropped metric.Int64Counter

	// ActiveSessions tracks sessions between Start and Stop.
	ActiveSessions metric.Int64UpDownCounter

	// ReconnectAttempts counts disconnection-triggered rejoin attempts.
	ReconnectAttempts metric.Int64Counter

	// EngineErrors counts failed engine calls.
	EngineErrors metric.Int64Counter

	// CRMSyncAttempts counts CRM push attempts, labelled by system.
	CRMSyncAttempts metric.Int64Counter

	// CRMSyncResults counts terminal sync outcomes, labelled by system and result.
	CRMSyncResults metric.Int64Counter

	// HTTPDuration measures inbound request handling, in seconds.
	HTTPDuration metric.Float64Histogram
}

// New creates the instrument set on the given meter.
func New(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	if m.TranscriptionLatency, err = meter.Float64Histogram("wren.transcription.latency",
		metric.WithDescription("Per-chunk transcription engine latency"),
		metric.WithUnit("s")); err != nil {
		return nil, fmt.Errorf("observe: create instrument: %w", err)
	}
	if m.ChunksProcessed, err = meter.Int64Counter("wren.transcription.chunks_processed",
		metric.WithDescription("Audio chunks transcribed successfully")); err != nil {
		return nil, fmt.Errorf("observe: create instrument: %w", err)
	}
	if m.ChunksDropped, err = meter.Int64Counter("wren.transcription.chunks_dropped",
		metric.WithDescription("Audio chunks evicted from a full queue")); err != nil {
		return nil, fmt.Errorf("observe: create instrument: %w", err)
	}
	if m.ActiveSessions, err = meter.Int64UpDownCounter("wren.sessions.active",
		metric.WithDescription("Bot sessions currently running")); err != nil {
		return nil, fmt.Errorf("observe: create instrument: %w", err)
	}
	if m.ReconnectAttempts, err = meter.Int64Counter("wren.sessions.reconnect_attempts",
		metric.WithDescription("Platform reconnection attempts")); err != nil {
		return nil, fmt.Errorf("observe: create instrument: %w", err)
	}
	if m.EngineErrors, err = meter.Int64Counter("wren.engine.errors",
		metric.WithDescription("Failed transcription or summary engine calls")); err != nil {
		return nil, fmt.Errorf("observe: create instrument: %w", err)
	}
	if m.CRMSyncAttempts, err = meter.Int64Counter("wren.crmsync.attempts",
		metric.WithDescription("CRM push attempts")); err != nil {
		return nil, fmt.Errorf("observe: create instrument: %w", err)
	}
	if m.CRMSyncResults, err = meter.Int64Counter("wren.crmsync.results",
		metric.WithDescription("Terminal CRM sync outcomes")); err != nil {
		return nil, fmt.Errorf("observe: create instrument: %w", err)
	}
	if m.HTTPDuration, err = meter.Float64Histogram("wren.http.duration",
		metric.WithDescription("Inbound HTTP request duration"),
		metric.WithUnit("s")); err != nil {
		return nil, fmt.Errorf("observe: create instrument: %w", err)
	}

	return m, nil
}

// Noop returns a Metrics whose instruments discard every measurement.
func Noop() *Metrics {
	m, _ := New(noop.NewMeterProvider().Meter(meterName))
	return m
}

// Provider owns the metric pipeline and its Prometheus endpoint.
type Provider struct {
	mp       *sdkmetric.MeterProvider
	registry *prometheus.Registry
}

// InitProvider builds an SDK meter provider backed by a Prometheus exporter.
func InitProvider() (*Provider, error) {
	registry := prometheus.NewRegistry()
	exporter, err := otelprom.New(otelprom.WithRegisterer(registry))
	if err != nil {
		return nil, fmt.Errorf("observe: prometheus exporter: %w", err)
	}
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	return &Provider{mp: mp, registry: registry}, nil
}

// Meter returns the pipeline's meter.
func (p *Provider) Meter() metric.Meter { return p.mp.Meter(meterName) }

// Handler serves the Prometheus exposition endpoint.
func (p *Provider) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}

// Shutdown flushes and stops the metric pipeline.
func (p *Provider) Shutdown(ctx context.Context) error {
	return p.mp.Shutdown(ctx)
}

// statusRecorder captures the response code for the HTTP middleware.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Middleware records request duration per method, route pattern, and status.
func Middleware(m *Metrics, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		route := r.Pattern
		if route == "" {
			route = r.URL.Path
		}
		m.HTTPDuration.Record(r.Context(), time.Since(start).Seconds(),
			metric.WithAttributes(
				attribute.String("method", r.Method),
				attribute.String("route", route),
				attribute.Int("status", rec.status),
			))
	})
}
