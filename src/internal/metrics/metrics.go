// Package metrics exposes Prometheus collectors for registry lookups,
// artifact downloads and version switches.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "selfswitch"

// Collector holds the updater's metrics on a private registry
type Collector struct {
	registryRequests *prometheus.CounterVec
	registryDuration *prometheus.HistogramVec
	downloads        *prometheus.CounterVec
	downloadBytes    prometheus.Counter
	switches         *prometheus.CounterVec
	cachedArtifacts  prometheus.Gauge
	buildInfo        *prometheus.GaugeVec

	registry *prometheus.Registry
}

// New creates a collector with its own registry, including Go runtime and
// process collectors
func New() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
	}

	c.registryRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "registry_requests_total",
			Help:      "Total release registry requests by operation and result",
		},
		[]string{"operation", "result"},
	)

	c.registryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "registry_request_duration_seconds",
			Help:      "Duration of release registry requests",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	c.downloads = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "downloads_total",
			Help:      "Total artifact downloads by result",
		},
		[]string{"result"},
	)

	c.downloadBytes = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "download_bytes_total",
			Help:      "Total artifact bytes written to the cache",
		},
	)

	c.switches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "switches_total",
			Help:      "Total version switch requests by outcome",
		},
		[]string{"outcome"},
	)

	c.cachedArtifacts = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "cached_artifacts",
			Help:      "Number of release artifacts in the local cache",
		},
	)

	c.buildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "build_info",
			Help:      "Running version of the application",
		},
		[]string{"version"},
	)

	c.registry.MustRegister(
		c.registryRequests,
		c.registryDuration,
		c.downloads,
		c.downloadBytes,
		c.switches,
		c.cachedArtifacts,
		c.buildInfo,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return c
}

// Handler returns the HTTP handler serving this collector's registry
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

// Registry returns the underlying registry
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// ObserveRegistryRequest records one registry call
func (c *Collector) ObserveRegistryRequest(operation, result string, d time.Duration) {
	if c == nil {
		return
	}
	c.registryRequests.WithLabelValues(operation, result).Inc()
	c.registryDuration.WithLabelValues(operation).Observe(d.Seconds())
}

// ObserveDownload records a finished download
func (c *Collector) ObserveDownload(result string, bytes int64) {
	if c == nil {
		return
	}
	c.downloads.WithLabelValues(result).Inc()
	if bytes > 0 {
		c.downloadBytes.Add(float64(bytes))
	}
}

// ObserveSwitch records a switch outcome
func (c *Collector) ObserveSwitch(outcome string) {
	if c == nil {
		return
	}
	c.switches.WithLabelValues(outcome).Inc()
}

// SetCachedArtifacts sets the cache size gauge
func (c *Collector) SetCachedArtifacts(n int) {
	if c == nil {
		return
	}
	c.cachedArtifacts.Set(float64(n))
}

// SetVersion publishes the running version
func (c *Collector) SetVersion(v string) {
	if c == nil {
		return
	}
	c.buildInfo.Reset()
	c.buildInfo.WithLabelValues(v).Set(1)
}
