// Package metrics implements the dispatch and connection metrics sink on
// Prometheus. Each sink carries its own registry so multiple server instances
// stay independently testable.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Sink receives one observation per completed dispatch plus connection and
// frame accounting from the transports. Implementations are internally
// synchronized.
type Sink interface {
	ObserveDispatch(method string, duration time.Duration, success bool)
	ConnectionOpened(channel string)
	ConnectionClosed(channel string)
	FrameReceived(channel string)
	FrameSent(channel string)
	FrameDropped(channel string)
}

// PrometheusSink implements Sink with Prometheus collectors.
type PrometheusSink struct {
	registry *prometheus.Registry

	dispatchDuration *prometheus.HistogramVec
	dispatchCount    *prometheus.CounterVec
	connections      *prometheus.GaugeVec
	frames           *prometheus.CounterVec
	droppedFrames    *prometheus.CounterVec
	uptime           prometheus.Counter
}

// NewPrometheusSink creates a sink with all collectors registered on a fresh
// registry.
func NewPrometheusSink(namespace string) *PrometheusSink {
	registry := prometheus.NewRegistry()

	s := &PrometheusSink{
		registry: registry,
		dispatchDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "dispatch",
				Name:      "duration_seconds",
				Help:      "Duration of request dispatches in seconds",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "status"},
		),
		dispatchCount: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "dispatch",
				Name:      "requests_total",
				Help:      "Total number of dispatched requests",
			},
			[]string{"method", "status"},
		),
		connections: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "transport",
				Name:      "connections",
				Help:      "Current number of live connections per channel",
			},
			[]string{"channel"},
		),
		frames: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "transport",
				Name:      "frames_total",
				Help:      "Total number of frames exchanged per channel and direction",
			},
			[]string{"channel", "direction"},
		),
		droppedFrames: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "transport",
				Name:      "dropped_frames_total",
				Help:      "Total number of malformed frames dropped per channel",
			},
			[]string{"channel"},
		),
		uptime: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "uptime_seconds_total",
				Help:      "Total server uptime in seconds",
			},
		),
	}

	registry.MustRegister(s.dispatchDuration, s.dispatchCount, s.connections, s.frames, s.droppedFrames, s.uptime)
	return s
}

// ObserveDispatch implements Sink.
func (s *PrometheusSink) ObserveDispatch(method string, duration time.Duration, success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	s.dispatchDuration.WithLabelValues(method, status).Observe(duration.Seconds())
	s.dispatchCount.WithLabelValues(method, status).Inc()
}

// ConnectionOpened implements Sink.
func (s *PrometheusSink) ConnectionOpened(channel string) {
	s.connections.WithLabelValues(channel).Inc()
}

// ConnectionClosed implements Sink.
func (s *PrometheusSink) ConnectionClosed(channel string) {
	s.connections.WithLabelValues(channel).Dec()
}

// FrameReceived implements Sink.
func (s *PrometheusSink) FrameReceived(channel string) {
	s.frames.WithLabelValues(channel, "received").Inc()
}

// FrameSent implements Sink.
func (s *PrometheusSink) FrameSent(channel string) {
	s.frames.WithLabelValues(channel, "sent").Inc()
}

// FrameDropped implements Sink.
func (s *PrometheusSink) FrameDropped(channel string) {
	s.droppedFrames.WithLabelValues(channel).Inc()
}

// StartUptimeCounter increments the uptime counter every second until the
// context is cancelled.
func (s *PrometheusSink) StartUptimeCounter(done <-chan struct{}) {
	ticker := time.NewTicker(1 * time.Second)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.uptime.Inc()
			case <-done:
				return
			}
		}
	}()
}

// Handler exposes the sink's registry over HTTP.
func (s *PrometheusSink) Handler() http.Handler {
	return promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})
}

// NopSink discards all observations.
type NopSink struct{}

// ObserveDispatch implements Sink.
func (NopSink) ObserveDispatch(string, time.Duration, bool) {}

// ConnectionOpened implements Sink.
func (NopSink) ConnectionOpened(string) {}

// ConnectionClosed implements Sink.
func (NopSink) ConnectionClosed(string) {}

// FrameReceived implements Sink.
func (NopSink) FrameReceived(string) {}

// FrameSent implements Sink.
func (NopSink) FrameSent(string) {}

// FrameDropped implements Sink.
func (NopSink) FrameDropped(string) {}
