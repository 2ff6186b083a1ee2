// Package telemetry exposes the agent's own Prometheus metrics: conversions
// recorded or rejected by the attribution engine, current channel shares,
// campaign health, and shipper delivery.
//
// Metrics are registered on a caller-supplied registry so tests stay
// isolated. A nil *Metrics is valid and records nothing.
package telemetry

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "attribstream"

// Metrics holds every agent-side collector.
type Metrics struct {
	ConversionsTotal   prometheus.Counter
	ConversionValue    prometheus.Counter
	RejectedTotal      *prometheus.CounterVec
	RecordDuration     prometheus.Histogram
	ChannelShare       *prometheus.GaugeVec
	HealthScore        prometheus.Gauge
	Confidence         prometheus.Gauge
	RecordsShipped     prometheus.Counter
	ShipErrorsTotal    *prometheus.CounterVec
	BufferDepth        prometheus.Gauge
	BufferEvictedTotal prometheus.Counter
}

// NewMetrics creates and registers all collectors on reg.
// It panics on duplicate registration, like promauto.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		ConversionsTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "engine", Name: "conversions_total",
			Help: "Conversion paths accepted by the attribution engine.",
		}),
		ConversionValue: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "engine", Name: "conversion_value_total",
			Help: "Sum of accepted conversion values.",
		}),
		RejectedTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "engine", Name: "rejected_total",
			Help: "Conversion paths rejected by the attribution engine, by reason.",
		}, []string{"reason"}),
		RecordDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "engine", Name: "record_duration_seconds",
			Help:    "Time spent in RecordConversion.",
			Buckets: []float64{1e-6, 5e-6, 1e-5, 5e-5, 1e-4, 5e-4, 1e-3, 1e-2},
		}),
		ChannelShare: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "engine", Name: "channel_share",
			Help: "Share of attributed value per channel at the last report.",
		}, []string{"channel"}),
		HealthScore: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "health", Name: "score",
			Help: "Campaign health score (0-100) at the last report.",
		}),
		Confidence: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "engine", Name: "confidence",
			Help: "Attribution confidence at the last report.",
		}),
		RecordsShipped: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "shipper", Name: "records_shipped_total",
			Help: "Records delivered to the server.",
		}),
		ShipErrorsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "shipper", Name: "errors_total",
			Help: "Failed deliveries by kind (transient, permanent).",
		}, []string{"kind"}),
		BufferDepth: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "shipper", Name: "buffer_depth",
			Help: "Records waiting to be shipped.",
		}),
		BufferEvictedTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "shipper", Name: "buffer_evicted_total",
			Help: "Records dropped because the buffer was full.",
		}),
	}
}

// ObserveReport records the per-report gauges.
func (m *Metrics) ObserveReport(shares map[string]float64, score, confidence float64) {
	if m == nil {
		return
	}
	for ch, s := range shares {
		m.ChannelShare.WithLabelValues(ch).Set(s)
	}
	m.HealthScore.Set(score)
	m.Confidence.Set(confidence)
}

// ShipOK counts a delivered record.
func (m *Metrics) ShipOK() {
	if m == nil {
		return
	}
	m.RecordsShipped.Inc()
}

// ShipFailed counts a failed delivery attempt.
func (m *Metrics) ShipFailed(permanent bool) {
	if m == nil {
		return
	}
	kind := "transient"
	if permanent {
		kind = "permanent"
	}
	m.ShipErrorsTotal.WithLabelValues(kind).Inc()
}

// SetBufferDepth reports the current shipper buffer length.
func (m *Metrics) SetBufferDepth(n int) {
	if m == nil {
		return
	}
	m.BufferDepth.Set(float64(n))
}

// Evicted counts a record dropped from a full buffer.
func (m *Metrics) Evicted() {
	if m == nil {
		return
	}
	m.BufferEvictedTotal.Inc()
}

// Handler serves the metrics gathered by g in the Prometheus text format.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// Serve runs a standalone /metrics server on addr until ctx is cancelled.
func Serve(ctx context.Context, addr string, g prometheus.Gatherer) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(g))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	slog.Info("telemetry: metrics server listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
