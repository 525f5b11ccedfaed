// Package metrics exposes MQTT connection supervision as Prometheus metrics.
//
// Collector implements supervisor.Observer. It owns its registry so that
// several collectors (tests, or multiple supervisors) never collide on the
// process-wide default registry.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "graylogic_node"

// Publish result label values.
const (
	resultSuccess = "success"
	resultFailed  = "failed"
)

// Collector records connection events.
type Collector struct {
	registry *prometheus.Registry

	// connected is 1 while a broker session is open, 0 otherwise.
	connected prometheus.Gauge

	// attempts counts reconnect attempts that passed the backoff gate.
	attempts prometheus.Counter

	// disconnects counts failed attempts and dropped sessions.
	disconnects prometheus.Counter

	// delay is the current backoff window.
	delay prometheus.Gauge

	// publishes counts publish outcomes by result.
	publishes *prometheus.CounterVec
}

// NewCollector creates a Collector with Go runtime and process collectors
// registered alongside the connection metrics.
func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),

		connected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "mqtt_connected",
			Help:      "MQTT broker session status (1=connected, 0=disconnected).",
		}),
		attempts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mqtt_connect_attempts_total",
			Help:      "Total number of MQTT reconnect attempts.",
		}),
		disconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mqtt_disconnects_total",
			Help:      "Total number of failed connection attempts and lost sessions.",
		}),
		delay: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "mqtt_reconnect_delay_seconds",
			Help:      "Current reconnect backoff window.",
		}),
		publishes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mqtt_publishes_total",
			Help:      "Total number of MQTT publish requests by result.",
		}, []string{"result"}),
	}

	c.registry.MustRegister(
		c.connected,
		c.attempts,
		c.disconnects,
		c.delay,
		c.publishes,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return c
}

// Registry returns the registry the metrics are registered on.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler returns the /metrics HTTP handler for this collector's registry.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

// ConnectAttempt implements supervisor.Observer.
func (c *Collector) ConnectAttempt(next time.Duration) {
	c.attempts.Inc()
	c.delay.Set(next.Seconds())
}

// Connected implements supervisor.Observer.
func (c *Collector) Connected() {
	c.connected.Set(1)
}

// Disconnected implements supervisor.Observer.
func (c *Collector) Disconnected(error) {
	c.connected.Set(0)
	c.disconnects.Inc()
}

// Published implements supervisor.Observer.
func (c *Collector) Published(string) {
	c.publishes.WithLabelValues(resultSuccess).Inc()
}

// PublishFailed implements supervisor.Observer.
func (c *Collector) PublishFailed(string, error) {
	c.publishes.WithLabelValues(resultFailed).Inc()
}
