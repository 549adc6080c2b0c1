package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics wraps Prometheus collectors for connectivity-sentinel.
type Metrics struct {
	registry                 *prometheus.Registry
	probeDurationSeconds     *prometheus.HistogramVec
	probeAttemptsTotal       *prometheus.CounterVec
	probeUp                  *prometheus.GaugeVec
	rateLimitRemaining       *prometheus.GaugeVec
	cycleDurationSeconds     prometheus.Histogram
	alertsTotal              *prometheus.CounterVec
	lastSuccessfulCycleGauge prometheus.Gauge
}

// New initializes a Metrics registry with all collectors registered.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	m := &Metrics{
		registry: registry,
		probeDurationSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "connectivity_probe_duration_seconds",
			Help:    "Duration of connectivity probes in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"service"}),
		probeAttemptsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "connectivity_probe_attempts_total",
			Help: "Total endpoint attempts by service and outcome.",
		}, []string{"service", "outcome"}),
		probeUp: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "connectivity_probe_up",
			Help: "Whether the last probe of a service succeeded (1) or not (0).",
		}, []string{"service"}),
		rateLimitRemaining: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "connectivity_probe_rate_limit_remaining",
			Help: "Remaining upstream quota reported by the last successful probe.",
		}, []string{"service"}),
		cycleDurationSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "connectivity_monitor_cycle_duration_seconds",
			Help:    "Duration of monitor cycles in seconds.",
			Buckets: prometheus.DefBuckets,
		}),
		alertsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "connectivity_alerts_total",
			Help: "Total alerts emitted by service and status.",
		}, []string{"service", "status"}),
		lastSuccessfulCycleGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "connectivity_monitor_last_successful_cycle_timestamp",
			Help: "Unix timestamp of the last successful monitor cycle.",
		}),
	}

	registry.MustRegister(
		m.probeDurationSeconds,
		m.probeAttemptsTotal,
		m.probeUp,
		m.rateLimitRemaining,
		m.cycleDurationSeconds,
		m.alertsTotal,
		m.lastSuccessfulCycleGauge,
	)

	return m
}

// Registry exposes the underlying registry for gathering.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler returns a Prometheus HTTP handler for this registry.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveProbe records a finished probe of service.
func (m *Metrics) ObserveProbe(service string, duration time.Duration, ok bool) {
	if m == nil {
		return
	}
	m.probeDurationSeconds.WithLabelValues(service).Observe(duration.Seconds())
	up := 0.0
	if ok {
		up = 1
	}
	m.probeUp.WithLabelValues(service).Set(up)
}

// IncProbeAttempt counts one endpoint attempt. Outcome is an HTTP status
// class such as "2xx" or a no-response marker.
func (m *Metrics) IncProbeAttempt(service, outcome string) {
	if m == nil {
		return
	}
	m.probeAttemptsTotal.WithLabelValues(service, outcome).Inc()
}

// SetRateLimitRemaining records the remaining quota for service.
func (m *Metrics) SetRateLimitRemaining(service string, remaining int) {
	if m == nil {
		return
	}
	m.rateLimitRemaining.WithLabelValues(service).Set(float64(remaining))
}

// ObserveCycleDuration records the duration of a completed monitor cycle.
func (m *Metrics) ObserveCycleDuration(duration time.Duration) {
	if m == nil {
		return
	}
	m.cycleDurationSeconds.Observe(duration.Seconds())
}

// IncAlertsTotal increments the alerts counter for the given service/status.
func (m *Metrics) IncAlertsTotal(service string, status string) {
	if m == nil {
		return
	}
	m.alertsTotal.WithLabelValues(service, status).Inc()
}

// SetLastSuccessfulCycleTimestamp sets the last successful cycle time.
func (m *Metrics) SetLastSuccessfulCycleTimestamp(t time.Time) {
	if m == nil {
		return
	}
	m.lastSuccessfulCycleGauge.Set(float64(t.Unix()))
}
