// Package metrics provides Prometheus metrics for the bridge.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Registry holds all Prometheus metrics for the service.
type Registry struct {
	// Modbus client metrics
	ActiveConnections prometheus.Gauge
	ConnectionsTotal  prometheus.Counter
	ConnectionErrors  prometheus.Counter
	ConnectionLatency prometheus.Histogram

	// Polling metrics
	PollsTotal   *prometheus.CounterVec
	PollDuration *prometheus.HistogramVec
	PollErrors   *prometheus.CounterVec
	PointsRead   prometheus.Counter

	// Write path metrics
	WritesTotal prometheus.Counter
	WriteErrors prometheus.Counter

	// Modem listener metrics
	ModemSessions prometheus.Gauge
	ModemFrames   *prometheus.CounterVec

	// Address space metrics
	Republishes prometheus.Counter

	// Device metrics
	DevicesRegistered prometheus.Gauge
}

// NewRegistry creates a new metrics registry with all metrics registered on
// the default registerer.
func NewRegistry() *Registry {
	return &Registry{
		ActiveConnections: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: "bridge",
			Subsystem: "modbus",
			Name:      "active_connections",
			Help:      "Number of connected outbound Modbus devices",
		}),
		ConnectionsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "bridge",
			Subsystem: "modbus",
			Name:      "connections_total",
			Help:      "Total number of Modbus connection attempts",
		}),
		ConnectionErrors: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "bridge",
			Subsystem: "modbus",
			Name:      "connection_errors_total",
			Help:      "Total number of Modbus connection errors",
		}),
		ConnectionLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: "bridge",
			Subsystem: "modbus",
			Name:      "connection_latency_seconds",
			Help:      "Modbus connection establishment latency",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}),

		PollsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bridge",
			Subsystem: "polling",
			Name:      "polls_total",
			Help:      "Total number of poll cycles",
		}, []string{"device_id", "status"}),
		PollDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "bridge",
			Subsystem: "polling",
			Name:      "duration_seconds",
			Help:      "Poll cycle duration in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}, []string{"device_id"}),
		PollErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bridge",
			Subsystem: "polling",
			Name:      "errors_total",
			Help:      "Total number of poll errors",
		}, []string{"device_id", "error_type"}),
		PointsRead: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "bridge",
			Subsystem: "polling",
			Name:      "points_read_total",
			Help:      "Total number of tag values read from devices",
		}),

		WritesTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "bridge",
			Subsystem: "write",
			Name:      "writes_total",
			Help:      "Total number of tag write attempts",
		}),
		WriteErrors: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "bridge",
			Subsystem: "write",
			Name:      "errors_total",
			Help:      "Total number of failed tag writes",
		}),

		ModemSessions: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: "bridge",
			Subsystem: "modem",
			Name:      "sessions",
			Help:      "Number of live inbound modem sessions",
		}),
		ModemFrames: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bridge",
			Subsystem: "modem",
			Name:      "frames_total",
			Help:      "Modem frames by outcome",
		}, []string{"outcome"}),

		Republishes: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "bridge",
			Subsystem: "opcua",
			Name:      "republishes_total",
			Help:      "Total number of value samples pushed to the address space",
		}),

		DevicesRegistered: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: "bridge",
			Subsystem: "devices",
			Name:      "registered",
			Help:      "Number of registered devices",
		}),
	}
}

// RecordConnection records a connection attempt.
func (r *Registry) RecordConnection(success bool, latency float64) {
	r.ConnectionsTotal.Inc()
	if !success {
		r.ConnectionErrors.Inc()
	}
	r.ConnectionLatency.Observe(latency)
}

// RecordPollSuccess records a completed poll cycle.
func (r *Registry) RecordPollSuccess(deviceID string, duration float64, pointsRead int) {
	r.PollsTotal.WithLabelValues(deviceID, "success").Inc()
	r.PollDuration.WithLabelValues(deviceID).Observe(duration)
	r.PointsRead.Add(float64(pointsRead))
}

// RecordPollError records a failed poll cycle.
func (r *Registry) RecordPollError(deviceID string, errorType string) {
	r.PollsTotal.WithLabelValues(deviceID, "error").Inc()
	r.PollErrors.WithLabelValues(deviceID, errorType).Inc()
}

// RecordWrite records a tag write attempt.
func (r *Registry) RecordWrite(success bool) {
	r.WritesTotal.Inc()
	if !success {
		r.WriteErrors.Inc()
	}
}

// RecordModemFrame records a handled, dropped, or malformed modem frame.
func (r *Registry) RecordModemFrame(outcome string) {
	r.ModemFrames.WithLabelValues(outcome).Inc()
}

// UpdateModemSessions sets the live modem session gauge.
func (r *Registry) UpdateModemSessions(count int) {
	r.ModemSessions.Set(float64(count))
}

// RecordRepublish counts a sample pushed to the address space.
func (r *Registry) RecordRepublish() {
	r.Republishes.Inc()
}

// UpdateDeviceCount sets the registered device gauge.
func (r *Registry) UpdateDeviceCount(registered int) {
	r.DevicesRegistered.Set(float64(registered))
}

// UpdateActiveConnections sets the connected device gauge.
func (r *Registry) UpdateActiveConnections(count int) {
	r.ActiveConnections.Set(float64(count))
}
