package main

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hupe1980/catid"
)

// PrometheusCollector implements catid.MetricsCollector.
type PrometheusCollector struct {
	opLatency  *prometheus.HistogramVec
	samples    *prometheus.CounterVec
	identified *prometheus.CounterVec
	syncCats   *prometheus.CounterVec
	resolves   *prometheus.CounterVec
}

var _ catid.MetricsCollector = (*PrometheusCollector)(nil)

// NewPrometheusCollector creates the collector and registers it with reg.
func NewPrometheusCollector(reg prometheus.Registerer) *PrometheusCollector {
	c := &PrometheusCollector{
		opLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "catid_operation_latency_seconds",
			Help:    "Latency of engine operations",
			Buckets: prometheus.DefBuckets,
		}, []string{"op", "status"}),
		samples: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "catid_register_samples_total",
			Help: "Enrollment samples handled by register",
		}, []string{"result"}),
		identified: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "catid_identifications_total",
			Help: "Identification outcomes",
		}, []string{"result"}),
		syncCats: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "catid_sync_total",
			Help: "Sync outcomes per photo or cat",
		}, []string{"result"}),
		resolves: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "catid_track_resolutions_total",
			Help: "Track resolutions",
		}, []string{"source"}),
	}

	reg.MustRegister(c.opLatency, c.samples, c.identified, c.syncCats, c.resolves)
	return c
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

func (c *PrometheusCollector) RecordRegister(added, duplicates int, d time.Duration, err error) {
	c.opLatency.WithLabelValues("register", status(err)).Observe(d.Seconds())
	c.samples.WithLabelValues("added").Add(float64(added))
	c.samples.WithLabelValues("duplicate").Add(float64(duplicates))
}

func (c *PrometheusCollector) RecordIdentify(matched bool, d time.Duration, err error) {
	c.opLatency.WithLabelValues("identify", status(err)).Observe(d.Seconds())
	switch {
	case err != nil:
		c.identified.WithLabelValues("error").Inc()
	case matched:
		c.identified.WithLabelValues("matched").Inc()
	default:
		c.identified.WithLabelValues("unmatched").Inc()
	}
}

func (c *PrometheusCollector) RecordSync(processed, skipped, failedCats int, d time.Duration) {
	st := "success"
	if failedCats > 0 {
		st = "error"
	}
	c.opLatency.WithLabelValues("sync", st).Observe(d.Seconds())
	c.syncCats.WithLabelValues("processed").Add(float64(processed))
	c.syncCats.WithLabelValues("skipped").Add(float64(skipped))
	c.syncCats.WithLabelValues("failed_cat").Add(float64(failedCats))
}

func (c *PrometheusCollector) RecordResolve(cached bool) {
	if cached {
		c.resolves.WithLabelValues("cached").Inc()
		return
	}
	c.resolves.WithLabelValues("resolved").Inc()
}

// metricsHandler serves the metrics gathered by g.
func metricsHandler(g prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
	return mux
}
