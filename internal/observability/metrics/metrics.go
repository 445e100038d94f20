// Package metrics exposes dispatch and HTTP measurements in Prometheus format.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"ledgercast/internal/ledger"
)

const namespace = "ledgercast"

// Collector owns a private registry so tests and multiple instances never
// collide on the global one.
type Collector struct {
	registry *prometheus.Registry

	inFlight   prometheus.Gauge
	outcomes   *prometheus.CounterVec
	unitTime   prometheus.Histogram
	slotWait   prometheus.Histogram
	runs       *prometheus.CounterVec
	throughput *prometheus.GaugeVec
	runTime    *prometheus.HistogramVec

	requests  *prometheus.CounterVec
	durations *prometheus.HistogramVec
}

// New builds a Collector. withRuntime adds the Go and process collectors.
func New(withRuntime bool) *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "units_in_flight",
			Help:      "Units currently holding a concurrency slot.",
		}),
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "outcomes_total",
			Help:      "Terminal unit outcomes by status.",
		}, []string{"status"}),
		unitTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "unit_duration_seconds",
			Help:      "Build, sign and announce time of one unit.",
			Buckets:   prometheus.DefBuckets,
		}),
		slotWait: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "slot_wait_seconds",
			Help:      "Time a unit waited for a concurrency slot.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 8),
		}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "runs_total",
			Help:      "Completed dispatch runs by mode.",
		}, []string{"mode"}),
		throughput: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "last_run_throughput",
			Help:      "Transactions per second of the most recent run by mode.",
		}, []string{"mode"}),
		runTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "run_duration_seconds",
			Help:      "Wall-clock time of a dispatch run.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		}, []string{"mode"}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests served by route and status code.",
		}, []string{"route", "method", "code"}),
		durations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route", "method"}),
	}
	c.registry.MustRegister(c.inFlight, c.outcomes, c.unitTime, c.slotWait, c.runs, c.throughput, c.runTime, c.requests, c.durations)
	if withRuntime {
		c.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	}
	return c
}

func (c *Collector) Registry() *prometheus.Registry { return c.registry }

func (c *Collector) UnitAdmitted(wait time.Duration) {
	c.inFlight.Inc()
	c.slotWait.Observe(wait.Seconds())
}

func (c *Collector) UnitFinished(out ledger.Outcome, admitted bool) {
	c.outcomes.WithLabelValues(string(out.Status)).Inc()
	if admitted {
		c.inFlight.Dec()
		c.unitTime.Observe(out.Duration.Seconds())
	}
}

func (c *Collector) RunFinished(mode string, elapsed time.Duration, throughput float64) {
	c.runs.WithLabelValues(mode).Inc()
	c.throughput.WithLabelValues(mode).Set(throughput)
	c.runTime.WithLabelValues(mode).Observe(elapsed.Seconds())
}

// Handler serves the registry in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

// Middleware records request counts and latency under route.
func (c *Collector) Middleware(route string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)
			c.requests.WithLabelValues(route, r.Method, strconv.Itoa(rec.status)).Inc()
			c.durations.WithLabelValues(route, r.Method).Observe(time.Since(start).Seconds())
		})
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}
