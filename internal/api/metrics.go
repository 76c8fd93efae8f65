package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the server's Prometheus collectors on a private registry.
type Metrics struct {
	registry        *prometheus.Registry
	httpRequests    *prometheus.CounterVec
	httpDuration    *prometheus.HistogramVec
	oracleRequests  *prometheus.CounterVec
	oracleDuration  *prometheus.HistogramVec
	classifications *prometheus.CounterVec
	activeSessions  prometheus.Gauge
}

// NewMetrics registers every collector on a fresh registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "triage",
			Name:      "http_requests_total",
			Help:      "HTTP requests served, by route and status.",
		}, []string{"method", "route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "triage",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		oracleRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "triage",
			Name:      "oracle_requests_total",
			Help:      "Calls to the prediction oracle, by operation and outcome.",
		}, []string{"op", "outcome"}),
		oracleDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "triage",
			Name:      "oracle_request_duration_seconds",
			Help:      "Prediction oracle latency.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"op"}),
		classifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "triage",
			Name:      "classifications_total",
			Help:      "Classification requests by stage and outcome.",
		}, []string{"stage", "outcome"}),
		activeSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "triage",
			Name:      "active_sessions",
			Help:      "Classification sessions currently held in memory.",
		}),
	}
	reg.MustRegister(
		m.httpRequests, m.httpDuration,
		m.oracleRequests, m.oracleDuration,
		m.classifications, m.activeSessions,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Middleware records request counts and latency per route template.
func (m *Metrics) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		m.httpRequests.WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).Inc()
		m.httpDuration.WithLabelValues(c.Request.Method, route).Observe(time.Since(start).Seconds())
	}
}

// ObserveOracle matches external.RequestObserver.
func (m *Metrics) ObserveOracle(op string, statusCode int, d time.Duration, err error) {
	outcome := "success"
	switch {
	case err != nil && statusCode != 0:
		outcome = "http_" + strconv.Itoa(statusCode)
	case err != nil:
		outcome = "error"
	}
	m.oracleRequests.WithLabelValues(op, outcome).Inc()
	m.oracleDuration.WithLabelValues(op).Observe(d.Seconds())
}

func (m *Metrics) observeClassification(stage string, err error) {
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	m.classifications.WithLabelValues(stage, outcome).Inc()
}
