// Package metrics exposes Prometheus metrics for the controller link and the poller.
// All methods are nil-safe so the core can run without a registry.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRegistry creates a registry with the Go and process collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// Handler returns the HTTP handler serving reg.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}

// Metrics holds the application metrics.
type Metrics struct {
	Requests        *prometheus.CounterVec // labels: kind=send|await, result=ok|timeout|error
	RequestDuration prometheus.Histogram
	FramesReceived  *prometheus.CounterVec // labels: result=matched|unmatched|malformed
	Reconnects      prometheus.Counter
	ConnectionUp    prometheus.Gauge
	PendingRequests prometheus.Gauge
	Polls           *prometheus.CounterVec // labels: result=ok|short|error
	Devices         *prometheus.GaugeVec   // labels: category
}

// New registers and returns the application metrics.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "domestia_requests_total",
			Help: "Commands sent to the controller.",
		}, []string{"kind", "result"}),
		RequestDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "domestia_request_duration_seconds",
			Help:    "Round-trip time of awaited commands.",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}),
		FramesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "domestia_frames_received_total",
			Help: "Frames read from the controller by correlation result.",
		}, []string{"result"}),
		Reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "domestia_reconnects_total",
			Help: "Completed reconnects to the controller.",
		}),
		ConnectionUp: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "domestia_connection_up",
			Help: "1 when the controller socket is connected.",
		}),
		PendingRequests: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "domestia_pending_requests",
			Help: "Requests awaiting a reply.",
		}),
		Polls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "domestia_polls_total",
			Help: "Status polls by result.",
		}, []string{"result"}),
		Devices: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "domestia_devices",
			Help: "Discovered outputs by category.",
		}, []string{"category"}),
	}
	reg.MustRegister(m.Requests, m.RequestDuration, m.FramesReceived, m.Reconnects,
		m.ConnectionUp, m.PendingRequests, m.Polls, m.Devices)
	return m
}

func (m *Metrics) ObserveRequest(kind, result string, d time.Duration) {
	if m == nil {
		return
	}
	m.Requests.WithLabelValues(kind, result).Inc()
	if kind == "await" && result == "ok" {
		m.RequestDuration.Observe(d.Seconds())
	}
}

func (m *Metrics) FrameReceived(result string) {
	if m == nil {
		return
	}
	m.FramesReceived.WithLabelValues(result).Inc()
}

func (m *Metrics) Reconnected() {
	if m == nil {
		return
	}
	m.Reconnects.Inc()
}

func (m *Metrics) SetConnected(up bool) {
	if m == nil {
		return
	}
	if up {
		m.ConnectionUp.Set(1)
	} else {
		m.ConnectionUp.Set(0)
	}
}

func (m *Metrics) SetPending(n int) {
	if m == nil {
		return
	}
	m.PendingRequests.Set(float64(n))
}

func (m *Metrics) Poll(result string) {
	if m == nil {
		return
	}
	m.Polls.WithLabelValues(result).Inc()
}

// SetDevices replaces the per-category device counts.
func (m *Metrics) SetDevices(counts map[string]int) {
	if m == nil {
		return
	}
	m.Devices.Reset()
	for cat, n := range counts {
		m.Devices.WithLabelValues(cat).Set(float64(n))
	}
}
