package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"voxrelay/internal/core/domain"
	"voxrelay/internal/core/ports"
)

var _ ports.MetricsSink = (*PrometheusCollector)(nil)

// PrometheusCollector is the production ports.MetricsSink. Every hot path in
// the relay reports here; scraping happens on /metrics.
type PrometheusCollector struct {
	upstreamConnected     prometheus.Gauge
	upstreamState         *prometheus.GaugeVec
	upstreamReconnect     prometheus.Counter
	upstreamFramesDropped prometheus.Counter

	chunksProcessed prometheus.Counter
	chunkDuration   prometheus.Histogram
	chunksDropped   *prometheus.CounterVec

	stageDuration *prometheus.HistogramVec
	stageFailures *prometheus.CounterVec

	eventsPublished *prometheus.CounterVec
	eventDeliveries *prometheus.CounterVec

	sessionsConnected prometheus.Gauge
	sessionsClosed    *prometheus.CounterVec
}

// NewPrometheusCollector registers the relay's metrics with reg. A nil reg
// uses the default registerer.
func NewPrometheusCollector(reg prometheus.Registerer) *PrometheusCollector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &PrometheusCollector{
		upstreamConnected: factory.NewGauge(prometheus.GaugeOpts{
			Name: "voxrelay_upstream_connected",
			Help: "Whether the upstream SFU connection is established (1) or not (0)",
		}),

		upstreamState: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "voxrelay_upstream_state",
			Help: "Current upstream connection state (1 for the active state)",
		}, []string{"state"}),

		upstreamReconnect: factory.NewCounter(prometheus.CounterOpts{
			Name: "voxrelay_upstream_reconnects_total",
			Help: "Total number of upstream connection losses that triggered reconnection",
		}),

		upstreamFramesDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "voxrelay_upstream_frames_dropped_total",
			Help: "Total number of malformed or undecodable upstream frames dropped",
		}),

		chunksProcessed: factory.NewCounter(prometheus.CounterOpts{
			Name: "voxrelay_chunks_processed_total",
			Help: "Total number of audio chunks run through the pipeline",
		}),

		chunkDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "voxrelay_chunk_processing_duration_seconds",
			Help:    "End-to-end processing time per audio chunk",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		}),

		chunksDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "voxrelay_chunks_dropped_total",
			Help: "Total number of audio chunks dropped before processing",
		}, []string{"reason"}),

		stageDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "voxrelay_stage_duration_seconds",
			Help:    "Inference stage latency",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		}, []string{"stage"}),

		stageFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "voxrelay_stage_failures_total",
			Help: "Total number of inference stage failures",
		}, []string{"stage"}),

		eventsPublished: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "voxrelay_events_published_total",
			Help: "Total number of events published to the bus",
		}, []string{"type"}),

		eventDeliveries: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "voxrelay_event_deliveries_total",
			Help: "Total number of event deliveries to downstream sessions",
		}, []string{"type"}),

		sessionsConnected: factory.NewGauge(prometheus.GaugeOpts{
			Name: "voxrelay_sessions_connected",
			Help: "Number of downstream WebSocket sessions currently connected",
		}),

		sessionsClosed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "voxrelay_sessions_closed_total",
			Help: "Total number of downstream sessions closed",
		}, []string{"reason"}),
	}
}

func (p *PrometheusCollector) ChunkProcessed(d time.Duration) {
	p.chunksProcessed.Inc()
	p.chunkDuration.Observe(d.Seconds())
}

func (p *PrometheusCollector) ChunkDropped(reason string) {
	p.chunksDropped.WithLabelValues(reason).Inc()
}

func (p *PrometheusCollector) StageSucceeded(stage string, d time.Duration) {
	p.stageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

func (p *PrometheusCollector) StageFailed(stage string) {
	p.stageFailures.WithLabelValues(stage).Inc()
}

func (p *PrometheusCollector) EventPublished(eventType string, delivered int) {
	p.eventsPublished.WithLabelValues(eventType).Inc()
	if delivered > 0 {
		p.eventDeliveries.WithLabelValues(eventType).Add(float64(delivered))
	}
}

func (p *PrometheusCollector) SessionOpened() {
	p.sessionsConnected.Inc()
}

func (p *PrometheusCollector) SessionClosed(reason string) {
	p.sessionsConnected.Dec()
	p.sessionsClosed.WithLabelValues(reason).Inc()
}

func (p *PrometheusCollector) UpstreamStateChanged(state domain.ConnState) {
	if state == domain.ConnStateConnected {
		p.upstreamConnected.Set(1)
	} else {
		p.upstreamConnected.Set(0)
	}

	for _, s := range []domain.ConnState{
		domain.ConnStateDisconnected,
		domain.ConnStateConnecting,
		domain.ConnStateAuthenticating,
		domain.ConnStateConnected,
		domain.ConnStateReconnecting,
		domain.ConnStateShuttingDown,
	} {
		val := 0.0
		if s == state {
			val = 1.0
		}
		p.upstreamState.WithLabelValues(s.String()).Set(val)
	}
}

func (p *PrometheusCollector) UpstreamReconnect() {
	p.upstreamReconnect.Inc()
}

func (p *PrometheusCollector) UpstreamFrameDropped() {
	p.upstreamFramesDropped.Inc()
}
