// Package metrics exposes run and HTTP counters in the Prometheus text
// format. A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/John-Robertt/spider-clash/internal/model"
)

const DefaultNamespace = "spider"

type Metrics struct {
	runsTotal    *prometheus.CounterVec
	runDuration  prometheus.Histogram
	linksFound   prometheus.Gauge
	nodesValid   prometheus.Gauge
	nodesUnique  prometheus.Gauge
	nodesProbed  prometheus.Gauge
	nodesUp      prometheus.Gauge
	probeLatency prometheus.Histogram
	lastSuccess  prometheus.Gauge

	appErrors    *prometheus.CounterVec
	httpRequests *prometheus.CounterVec

	registry *prometheus.Registry
}

// New builds a Metrics backed by its own registry, so tests can create as
// many as they like.
func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	m := &Metrics{registry: prometheus.NewRegistry()}

	m.runsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "runs_total",
		Help:      "Ingestion runs by terminal state.",
	}, []string{"state"})
	m.runDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "run_duration_seconds",
		Help:      "Wall time of an ingestion run.",
		Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
	})
	gauge := func(name, help string) prometheus.Gauge {
		return prometheus.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: name, Help: help})
	}
	m.linksFound = gauge("links_found", "Links extracted in the last run.")
	m.nodesValid = gauge("nodes_valid", "Nodes decoded without error in the last run.")
	m.nodesUnique = gauge("nodes_unique", "Nodes left after deduplication in the last run.")
	m.nodesProbed = gauge("nodes_probed", "Nodes probed in the last run.")
	m.nodesUp = gauge("nodes_available", "Nodes under the latency threshold in the last run.")
	m.lastSuccess = gauge("last_success_timestamp_seconds", "Finish time of the last run that reached done.")
	m.probeLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "probe_latency_ms",
		Help:      "Average TCP connect time of reachable nodes.",
		Buckets:   []float64{25, 50, 100, 200, 400, 800, 1600, 3200},
	})
	m.appErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "app_errors_total",
		Help:      "Application errors by stage and code.",
	}, []string{"stage", "code"})
	m.httpRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_requests_total",
		Help:      "HTTP requests by ServeMux pattern and status.",
	}, []string{"pattern", "status"})

	m.registry.MustRegister(
		m.runsTotal, m.runDuration,
		m.linksFound, m.nodesValid, m.nodesUnique, m.nodesProbed, m.nodesUp, m.lastSuccess,
		m.probeLatency, m.appErrors, m.httpRequests,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// ObserveRun records the counters of a finished run.
func (m *Metrics) ObserveRun(stats model.RunLog) {
	if m == nil {
		return
	}
	m.runsTotal.WithLabelValues(string(stats.State)).Inc()
	m.runDuration.Observe(stats.Duration.Seconds())
	m.linksFound.Set(float64(stats.TotalLinks))
	m.nodesValid.Set(float64(stats.ValidFormatNodes))
	m.nodesUnique.Set(float64(stats.UniqueNodes))
	m.nodesProbed.Set(float64(stats.ProbedNodes))
	m.nodesUp.Set(float64(stats.AvailableNodes))
	if stats.State == model.StateDone {
		m.lastSuccess.Set(float64(stats.FinishedAt.Unix()))
	}
}

// ObserveLatencies records every reachable node's latency.
func (m *Metrics) ObserveLatencies(nodes []model.Node) {
	if m == nil {
		return
	}
	for _, n := range nodes {
		if n.LatencyMs > 0 {
			m.probeLatency.Observe(float64(n.LatencyMs))
		}
	}
}

func (m *Metrics) IncAppError(stage, code string) {
	if m == nil {
		return
	}
	m.appErrors.WithLabelValues(orUnknown(stage), orUnknown(code)).Inc()
}

func (m *Metrics) IncRequest(pattern string, status int) {
	if m == nil {
		return
	}
	if status == 0 {
		status = http.StatusOK
	}
	m.httpRequests.WithLabelValues(orUnknown(pattern), strconv.Itoa(status)).Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func orUnknown(s string) string {
	if s = strings.TrimSpace(s); s == "" {
		return "(unknown)"
	}
	return s
}
