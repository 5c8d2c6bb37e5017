// Package metrics exposes the agent's optional Prometheus endpoint (§11):
// queue depth, in-flight supervisor count, packets read/written, and command
// duration per module alias. Shape grounded on dittofs's
// pkg/metadata/lock.Metrics (namespaced *Vec metrics registered to a
// prometheus.Registerer, nil-receiver methods that no-op before Register)
// and the exporter_example2 cmd's promhttp.Handler() wiring.
package metrics

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the agent's Prometheus instruments. A nil *Metrics is valid
// and every method is a no-op, so callers needn't branch on whether metrics
// are enabled (the endpoint is only started when metrics.enabled is set).
type Metrics struct {
	queueDepth        prometheus.Gauge
	activeSupervisors prometheus.Gauge
	packetsRead       *prometheus.CounterVec
	packetsWritten    *prometheus.CounterVec
	commandDuration   *prometheus.HistogramVec
	commandOutcomes   *prometheus.CounterVec
}

// New builds and registers the agent's metrics against registry. Pass
// prometheus.NewRegistry() for an isolated registry per Listen call.
func New(registry prometheus.Registerer) *Metrics {
	m := &Metrics{
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "serclient",
			Subsystem: "dispatcher",
			Name:      "queue_depth",
			Help:      "Number of accepted commands waiting to be spawned.",
		}),
		activeSupervisors: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "serclient",
			Subsystem: "dispatcher",
			Name:      "active_supervisors",
			Help:      "Number of command supervisors currently running a child process.",
		}),
		packetsRead: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "serclient",
			Subsystem: "link",
			Name:      "packets_read_total",
			Help:      "Packets decoded off the serial link, by kind.",
		}, []string{"kind"}),
		packetsWritten: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "serclient",
			Subsystem: "link",
			Name:      "packets_written_total",
			Help:      "Packets serialized onto the serial link, by kind.",
		}, []string{"kind"}),
		commandDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "serclient",
			Subsystem: "supervisor",
			Name:      "command_duration_seconds",
			Help:      "Time from spawn to exit/timeout for a command, by module alias.",
			Buckets:   []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 45, 60, 90},
		}, []string{"alias"}),
		commandOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "serclient",
			Subsystem: "supervisor",
			Name:      "command_outcomes_total",
			Help:      "Completed commands, by module alias and outcome.",
		}, []string{"alias", "outcome"}),
	}

	if registry != nil {
		registry.MustRegister(
			m.queueDepth,
			m.activeSupervisors,
			m.packetsRead,
			m.packetsWritten,
			m.commandDuration,
			m.commandOutcomes,
		)
	}
	return m
}

// SetQueueDepth records the current CommandQueue length.
func (m *Metrics) SetQueueDepth(n int) {
	if m == nil {
		return
	}
	m.queueDepth.Set(float64(n))
}

// SetActiveSupervisors records the current count of running supervisors.
func (m *Metrics) SetActiveSupervisors(n int) {
	if m == nil {
		return
	}
	m.activeSupervisors.Set(float64(n))
}

// ObservePacketRead records one decoded inbound packet.
func (m *Metrics) ObservePacketRead(kind string) {
	if m == nil {
		return
	}
	m.packetsRead.WithLabelValues(kind).Inc()
}

// ObservePacketWritten records one packet serialized onto the link.
func (m *Metrics) ObservePacketWritten(kind string) {
	if m == nil {
		return
	}
	m.packetsWritten.WithLabelValues(kind).Inc()
}

// ObserveCommand records a completed command's duration and outcome.
func (m *Metrics) ObserveCommand(alias, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.commandDuration.WithLabelValues(alias).Observe(d.Seconds())
	m.commandOutcomes.WithLabelValues(alias, outcome).Inc()
}

// Listen starts an HTTP server exposing /metrics on addr. It returns
// immediately; call Shutdown(ctx) on the returned server to stop it.
func Listen(addr string, registry *prometheus.Registry) (*http.Server, error) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	server := &http.Server{Addr: addr, Handler: mux}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("metrics: listen %s: %w", addr, err)
	}
	go server.Serve(ln) //nolint:errcheck
	return server, nil
}

// Shutdown gracefully stops server, bounded by ctx.
func Shutdown(ctx context.Context, server *http.Server) error {
	if server == nil {
		return nil
	}
	return server.Shutdown(ctx)
}
