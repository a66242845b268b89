// Package metrics exposes the Resource Usage Probe's (C10, §4.10)
// per-sandbox snapshots as Prometheus gauges, queryable by the admin
// plane described in §2's control-flow overview.
//
// Grounded on the teacher's singleton Metrics struct (sync.Once +
// promauto.NewGaugeVec keyed by container id/language), narrowed from
// the teacher's full business-metrics surface down to the CPU/memory/
// disk/network gauges C10 actually computes.
package metrics

import (
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"sandboxfaas/internal/stats"
)

var (
	once     sync.Once
	instance *Metrics
)

// Metrics holds the C10 resource-usage gauges, one vector per dimension,
// labeled by sandbox_id and runtime.
type Metrics struct {
	CPUPercent    *prometheus.GaugeVec
	MemoryUsed    *prometheus.GaugeVec
	MemoryLimit   *prometheus.GaugeVec
	MemoryPercent *prometheus.GaugeVec
	DiskBytes     *prometheus.GaugeVec
	NetworkBytes  *prometheus.GaugeVec

	SandboxesLive   prometheus.Gauge
	DeploymentsLive prometheus.Gauge
	ProbeFailures   *prometheus.CounterVec
}

// Get returns the process-wide Metrics singleton, registering collectors
// with the default Prometheus registry on first use.
func Get() *Metrics {
	once.Do(func() {
		instance = newMetrics()
	})
	return instance
}

func newMetrics() *Metrics {
	labels := []string{"sandbox_id", "runtime"}
	return &Metrics{
		CPUPercent: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "sandboxfaas",
			Subsystem: "sandbox",
			Name:      "cpu_percent",
			Help:      "Per-sandbox CPU usage percentage (C10).",
		}, labels),
		MemoryUsed: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "sandboxfaas",
			Subsystem: "sandbox",
			Name:      "memory_used_bytes",
			Help:      "Per-sandbox resident memory in bytes (C10).",
		}, labels),
		MemoryLimit: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "sandboxfaas",
			Subsystem: "sandbox",
			Name:      "memory_limit_bytes",
			Help:      "Per-sandbox configured memory cap in bytes (C10).",
		}, labels),
		MemoryPercent: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "sandboxfaas",
			Subsystem: "sandbox",
			Name:      "memory_percent",
			Help:      "Per-sandbox memory usage percentage (C10).",
		}, labels),
		DiskBytes: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "sandboxfaas",
			Subsystem: "sandbox",
			Name:      "disk_bytes",
			Help:      "Per-sandbox cumulative block IO bytes (C10).",
		}, labels),
		NetworkBytes: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "sandboxfaas",
			Subsystem: "sandbox",
			Name:      "network_bytes",
			Help:      "Per-sandbox cumulative network rx+tx bytes (C10).",
		}, labels),
		SandboxesLive: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: "sandboxfaas",
			Name:      "sandboxes_live",
			Help:      "Number of sandboxes currently tracked by the manager registry.",
		}),
		DeploymentsLive: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: "sandboxfaas",
			Name:      "deployments_live",
			Help:      "Number of FaaS deployments currently tracked by the registry.",
		}),
		ProbeFailures: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sandboxfaas",
			Name:      "usage_probe_failures_total",
			Help:      "Count of C10 resource-usage probes that errored for a live sandbox.",
		}, []string{"sandbox_id"}),
	}
}

// RecordUsage publishes a C10 snapshot for one sandbox.
func (m *Metrics) RecordUsage(sandboxID, runtime string, u stats.Usage) {
	m.CPUPercent.WithLabelValues(sandboxID, runtime).Set(u.CPUPercent)
	m.MemoryUsed.WithLabelValues(sandboxID, runtime).Set(float64(u.MemoryUsed))
	m.MemoryLimit.WithLabelValues(sandboxID, runtime).Set(float64(u.MemoryLimit))
	m.MemoryPercent.WithLabelValues(sandboxID, runtime).Set(u.MemoryPercent)
	m.DiskBytes.WithLabelValues(sandboxID, runtime).Set(float64(u.DiskBytes))
	m.NetworkBytes.WithLabelValues(sandboxID, runtime).Set(float64(u.NetworkRxTx))
}

// ForgetSandbox removes a sandbox's per-id gauge series once it's torn
// down, so the registry doesn't accumulate a label series per historical
// sandbox id forever.
func (m *Metrics) ForgetSandbox(sandboxID, runtime string) {
	m.CPUPercent.DeleteLabelValues(sandboxID, runtime)
	m.MemoryUsed.DeleteLabelValues(sandboxID, runtime)
	m.MemoryLimit.DeleteLabelValues(sandboxID, runtime)
	m.MemoryPercent.DeleteLabelValues(sandboxID, runtime)
	m.DiskBytes.DeleteLabelValues(sandboxID, runtime)
	m.NetworkBytes.DeleteLabelValues(sandboxID, runtime)
	m.ProbeFailures.DeleteLabelValues(sandboxID)
}

// RecordProbeFailure increments the usage-probe failure counter for a
// sandbox, called when C10's periodic Usage() poll errors.
func (m *Metrics) RecordProbeFailure(sandboxID string) {
	m.ProbeFailures.WithLabelValues(sandboxID).Inc()
}

// PrometheusHandler exposes the default registry for gin's router.
func PrometheusHandler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}
