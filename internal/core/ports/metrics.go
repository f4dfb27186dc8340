package ports

import (
	"time"

	"voxrelay/internal/core/domain"
)

// MetricsSink receives counters from the relay's hot paths. Implementations
// must be cheap and non-blocking; the Prometheus collector is the production
// implementation.
type MetricsSink interface {
	ChunkProcessed(d time.Duration)
	ChunkDropped(reason string)
	StageSucceeded(stage string, d time.Duration)
	StageFailed(stage string)
	EventPublished(eventType string, delivered int)

	SessionOpened()
	SessionClosed(reason string)

	UpstreamStateChanged(state domain.ConnState)
	UpstreamReconnect()
	UpstreamFrameDropped()
}

// NopMetrics discards every measurement. It stands in for the collector in
// tests and when monitoring is disabled.
type NopMetrics struct{}

var _ MetricsSink = NopMetrics{}

func (NopMetrics) ChunkProcessed(time.Duration)          {}
func (NopMetrics) ChunkDropped(string)                   {}
func (NopMetrics) StageSucceeded(string, time.Duration)  {}
func (NopMetrics) StageFailed(string)                    {}
func (NopMetrics) EventPublished(string, int)            {}
func (NopMetrics) SessionOpened()                        {}
func (NopMetrics) SessionClosed(string)                  {}
func (NopMetrics) UpstreamStateChanged(domain.ConnState) {}
func (NopMetrics) UpstreamReconnect()                    {}
func (NopMetrics) UpstreamFrameDropped()                 {}
