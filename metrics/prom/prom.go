// Package prom exposes the driver's measurements through Prometheus.
package prom

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ringdb/ring-go-driver/metrics"
)

type Sink struct {
	requestLatency     prometheus.Histogram
	connectionTimeouts prometheus.Counter
	requestTimeouts    prometheus.Counter
	queueFull          prometheus.Counter
	reconnects         prometheus.Counter
}

var _ metrics.Sink = (*Sink)(nil)

// New registers the driver collectors on reg.
func New(reg prometheus.Registerer) (*Sink, error) {
	s := &Sink{
		requestLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "ring",
			Name:      "request_latency_seconds",
			Help:      "End-to-end request latency.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 16),
		}),
		connectionTimeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ring",
			Name:      "connection_timeouts_total",
			Help:      "Connector handshakes that timed out.",
		}),
		requestTimeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ring",
			Name:      "request_timeouts_total",
			Help:      "Requests that timed out.",
		}),
		queueFull: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ring",
			Name:      "request_queue_full_total",
			Help:      "Submissions rejected by the bounded request queue.",
		}),
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ring",
			Name:      "reconnects_total",
			Help:      "Reconnect attempts launched by pools.",
		}),
	}

	for _, c := range []prometheus.Collector{
		s.requestLatency,
		s.connectionTimeouts,
		s.requestTimeouts,
		s.queueFull,
		s.reconnects,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}

	return s, nil
}

func (s *Sink) ObserveRequestLatency(d time.Duration) {
	s.requestLatency.Observe(d.Seconds())
}

func (s *Sink) IncConnectionTimeouts() {
	s.connectionTimeouts.Inc()
}

func (s *Sink) IncRequestTimeouts() {
	s.requestTimeouts.Inc()
}

func (s *Sink) IncQueueFull() {
	s.queueFull.Inc()
}

func (s *Sink) IncReconnects() {
	s.reconnects.Inc()
}
