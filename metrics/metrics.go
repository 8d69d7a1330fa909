// Package metrics exposes Prometheus metrics for the nameserver.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "kvdns"

// Collector gathers and exposes DNS server metrics. It owns its registry so
// several collectors can coexist in tests.
type Collector struct {
	registry *prometheus.Registry

	queries      *prometheus.CounterVec
	responseTime prometheus.Histogram
	cacheLookups *prometheus.CounterVec
	storeErrors  prometheus.Counter
	negative     prometheus.Counter
	rrl          *prometheus.CounterVec
	storeUp      prometheus.Gauge
	startTime    prometheus.Gauge
}

// New creates a metrics collector.
func New() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		queries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queries_total",
			Help:      "DNS queries answered, by query type and response code.",
		}, []string{"type", "rcode"}),
		responseTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "response_time_seconds",
			Help:      "Time to build and send a response.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.5},
		}),
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_lookups_total",
			Help:      "Record cache lookups, by result.",
		}, []string{"result"}),
		storeErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_errors_total",
			Help:      "Failed reads from the record backend.",
		}),
		negative: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "negative_answers_total",
			Help:      "Responses answered with the SOA only.",
		}),
		rrl: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rrl_total",
			Help:      "Rate limiting decisions, by action.",
		}, []string{"action"}),
		storeUp: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "store_up",
			Help:      "Whether the record backend passes its health check.",
		}),
		startTime: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "start_time_seconds",
			Help:      "Unix timestamp of server start.",
		}),
	}
	c.startTime.Set(float64(time.Now().Unix()))
	c.registry.MustRegister(
		c.queries, c.responseTime, c.cacheLookups, c.storeErrors,
		c.negative, c.rrl, c.storeUp, c.startTime,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return c
}

// Registry returns the registry the collector's metrics live in.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// IncQuery counts an answered query.
func (c *Collector) IncQuery(qtype, rcode string) {
	c.queries.WithLabelValues(qtype, rcode).Inc()
}

// RecordResponseTime observes the time taken for one response.
func (c *Collector) RecordResponseTime(d time.Duration) {
	c.responseTime.Observe(d.Seconds())
}

// ObserveCache counts a cache lookup.
func (c *Collector) ObserveCache(hit bool) {
	if hit {
		c.cacheLookups.WithLabelValues("hit").Inc()
	} else {
		c.cacheLookups.WithLabelValues("miss").Inc()
	}
}

// ObserveStoreError counts a failed backend read.
func (c *Collector) ObserveStoreError() {
	c.storeErrors.Inc()
}

// IncNegative counts an SOA-only answer.
func (c *Collector) IncNegative() {
	c.negative.Inc()
}

// IncRateLimit counts a rate limiting decision ("allow", "slip", "refuse").
func (c *Collector) IncRateLimit(action string) {
	c.rrl.WithLabelValues(action).Inc()
}

// SetStoreUp records the backend health.
func (c *Collector) SetStoreUp(up bool) {
	if up {
		c.storeUp.Set(1)
	} else {
		c.storeUp.Set(0)
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
