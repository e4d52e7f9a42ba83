package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector wraps the engine's Prometheus collectors. All Record methods are
// nil-safe so callers can run without metrics wired.
type Collector struct {
	registry *prometheus.Registry

	channelStatus    prometheus.Gauge
	connectAttempts  prometheus.Counter
	connections      prometheus.Counter
	disconnects      *prometheus.CounterVec
	subscribedTopics prometheus.Gauge
	changes          *prometheus.CounterVec
	refreshRequests  *prometheus.CounterVec
}

// NewCollector creates a collector with its own registry.
func NewCollector(namespace string) *Collector {
	if namespace == "" {
		namespace = "streamsync"
	}

	c := &Collector{
		registry: prometheus.NewRegistry(),
	}

	c.channelStatus = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "channel",
			Name:      "status",
			Help:      "Current channel status (0=disconnected, 1=connecting, 2=subscribed, 3=error)",
		},
	)

	c.connectAttempts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "channel",
			Name:      "connect_attempts_total",
			Help:      "Total number of connection attempts",
		},
	)

	c.connections = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "channel",
			Name:      "connections_total",
			Help:      "Total number of established connections",
		},
	)

	c.disconnects = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "channel",
			Name:      "disconnects_total",
			Help:      "Total number of lost or closed connections",
		},
		[]string{"reason"},
	)

	c.subscribedTopics = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "channel",
			Name:      "subscribed_topics",
			Help:      "Current number of joined channel topics",
		},
	)

	c.changes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "channel",
			Name:      "changes_total",
			Help:      "Total number of change events received",
		},
		[]string{"table"},
	)

	c.refreshRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "refresh",
			Name:      "requests_total",
			Help:      "Total number of refresh requests handed to the dispatcher",
		},
		[]string{"scope"},
	)

	c.registry.MustRegister(
		c.channelStatus,
		c.connectAttempts,
		c.connections,
		c.disconnects,
		c.subscribedTopics,
		c.changes,
		c.refreshRequests,
	)

	return c
}

// Registry returns the Prometheus registry.
func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

// Handler returns an HTTP handler serving the collector's registry.
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// RecordChannelStatus records the current channel status code.
func (c *Collector) RecordChannelStatus(status int) {
	if c == nil {
		return
	}
	c.channelStatus.Set(float64(status))
}

// RecordConnectAttempt counts one connection attempt.
func (c *Collector) RecordConnectAttempt() {
	if c == nil {
		return
	}
	c.connectAttempts.Inc()
}

// RecordConnection counts one established connection.
func (c *Collector) RecordConnection() {
	if c == nil {
		return
	}
	c.connections.Inc()
}

// RecordDisconnect counts one lost or closed connection.
func (c *Collector) RecordDisconnect(reason string) {
	if c == nil {
		return
	}
	c.disconnects.WithLabelValues(reason).Inc()
}

// RecordSubscribedTopics records the current joined topic count.
func (c *Collector) RecordSubscribedTopics(n int) {
	if c == nil {
		return
	}
	c.subscribedTopics.Set(float64(n))
}

// RecordChange counts one change event for a table.
func (c *Collector) RecordChange(table string) {
	if c == nil {
		return
	}
	if table == "" {
		table = "unknown"
	}
	c.changes.WithLabelValues(table).Inc()
}

// RecordRefreshRequest counts one refresh request.
func (c *Collector) RecordRefreshRequest(full bool) {
	if c == nil {
		return
	}
	scope := "partial"
	if full {
		scope = "full"
	}
	c.refreshRequests.WithLabelValues(scope).Inc()
}
