// Package observability defines the Prometheus metrics exported by the
// process and helpers for registering them.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Metrics contains the custom hearth metrics.
type Metrics struct {
	ActiveConnections prometheus.Gauge
	MessagesIn        prometheus.Counter
	MessagesOut       prometheus.Counter
	DroppedFrames     *prometheus.CounterVec
	BrokerRestarts    prometheus.Counter
	AuthRequests      *prometheus.CounterVec
}

// NewMetrics creates and registers the hearth metrics along with the
// standard Go and process collectors.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		ActiveConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "hearth_ws_active_connections",
			Help: "Number of websocket connections currently registered",
		}),
		MessagesIn: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hearth_ws_messages_in_total",
			Help: "Total inbound websocket messages accepted for publish",
		}),
		MessagesOut: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hearth_ws_messages_out_total",
			Help: "Total messages delivered to local websocket connections",
		}),
		DroppedFrames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hearth_ws_dropped_frames_total",
			Help: "Total inbound frames dropped by reason",
		}, []string{"reason"}),
		BrokerRestarts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hearth_broker_start_attempts_total",
			Help: "Total broker bridge start attempts, including retries",
		}),
		AuthRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hearth_auth_requests_total",
			Help: "Total auth endpoint requests by operation and status",
		}, []string{"operation", "status"}),
	}

	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.ActiveConnections,
		m.MessagesIn,
		m.MessagesOut,
		m.DroppedFrames,
		m.BrokerRestarts,
		m.AuthRequests,
	)

	return m
}

// NewTestMetrics creates metrics on a throwaway registry for tests.
func NewTestMetrics() *Metrics {
	return NewMetrics(prometheus.NewRegistry())
}
