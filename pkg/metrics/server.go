package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ServerMetrics provides observability for the connection pipeline.
//
// Implementations must be safe for concurrent use; every device connection
// records into the same instance from its own goroutine. The interface is
// optional: passing nil to the server selects a no-op implementation.
type ServerMetrics interface {
	// RecordConnectionAccepted increments the total accepted connections
	// counter.
	RecordConnectionAccepted()

	// RecordConnectionClosed increments the total closed connections
	// counter.
	RecordConnectionClosed()

	// SetActiveConnections updates the current connection gauge.
	SetActiveConnections(count int32)

	// RecordSessionEstablished counts a completed hello exchange.
	RecordSessionEstablished()

	// RecordConnectionFailure counts a dropped connection by the pipeline
	// phase that failed ("handshake", "subsystem", "hello", "facts",
	// "callback").
	RecordConnectionFailure(phase string)

	// RecordRPC records one RPC round-trip with its duration and outcome.
	RecordRPC(duration time.Duration, err error)
}

type serverMetrics struct {
	connectionsAccepted prometheus.Counter
	connectionsClosed   prometheus.Counter
	activeConnections   prometheus.Gauge
	sessionsEstablished prometheus.Counter
	connectionFailures  *prometheus.CounterVec
	rpcDuration         *prometheus.HistogramVec
}

// NewServerMetrics creates a Prometheus-backed ServerMetrics instance, or a
// no-op implementation when metrics are disabled.
func NewServerMetrics() ServerMetrics {
	if !IsEnabled() {
		return NoopServerMetrics()
	}

	reg := GetRegistry()

	return &serverMetrics{
		connectionsAccepted: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "osshd_connections_accepted_total",
			Help: "Total number of device connections accepted",
		}),
		connectionsClosed: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "osshd_connections_closed_total",
			Help: "Total number of device connections closed",
		}),
		activeConnections: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "osshd_active_connections",
			Help: "Current number of device connections being handled",
		}),
		sessionsEstablished: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "osshd_sessions_established_total",
			Help: "Total number of NETCONF sessions reaching the ready state",
		}),
		connectionFailures: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "osshd_connection_failures_total",
				Help: "Connections dropped, by pipeline phase",
			},
			[]string{"phase"},
		),
		rpcDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "osshd_rpc_duration_seconds",
				Help: "Duration of NETCONF RPC round-trips in seconds",
				Buckets: []float64{
					0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0,
				},
			},
			[]string{"status"},
		),
	}
}

func (m *serverMetrics) RecordConnectionAccepted() { m.connectionsAccepted.Inc() }
func (m *serverMetrics) RecordConnectionClosed()   { m.connectionsClosed.Inc() }

func (m *serverMetrics) SetActiveConnections(count int32) {
	m.activeConnections.Set(float64(count))
}

func (m *serverMetrics) RecordSessionEstablished() { m.sessionsEstablished.Inc() }

func (m *serverMetrics) RecordConnectionFailure(phase string) {
	m.connectionFailures.WithLabelValues(phase).Inc()
}

func (m *serverMetrics) RecordRPC(duration time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	m.rpcDuration.WithLabelValues(status).Observe(duration.Seconds())
}

// NoopServerMetrics returns a ServerMetrics implementation that records
// nothing.
func NoopServerMetrics() ServerMetrics {
	return noopServerMetrics{}
}

type noopServerMetrics struct{}

func (noopServerMetrics) RecordConnectionAccepted()             {}
func (noopServerMetrics) RecordConnectionClosed()               {}
func (noopServerMetrics) SetActiveConnections(int32)            {}
func (noopServerMetrics) RecordSessionEstablished()             {}
func (noopServerMetrics) RecordConnectionFailure(string)        {}
func (noopServerMetrics) RecordRPC(time.Duration, error)        {}
