// Package metrics holds the Prometheus collectors shared by runs-api
// components. A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry *prometheus.Registry

	httpRequests      *prometheus.CounterVec
	httpDuration      *prometheus.HistogramVec
	transitions       *prometheus.CounterVec
	transitionLatency *prometheus.HistogramVec
	lockContention    *prometheus.CounterVec
	sideEffects       *prometheus.CounterVec
	executorTasks     *prometheus.CounterVec
	executorQueue     prometheus.Gauge
	subscribers       prometheus.Gauge
}

func New() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}

	m.httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "raids_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)
	m.httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "raids_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
	m.transitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "raids_run_transitions_total",
			Help: "Run transition attempts by target status and outcome",
		},
		[]string{"to", "outcome"},
	)
	m.transitionLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "raids_run_transition_duration_seconds",
			Help:    "Time spent inside a run transition, lock to fan-out",
			Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		},
		[]string{"to"},
	)
	m.lockContention = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "raids_lock_contention_total",
			Help: "Lock acquisitions refused because another actor held the key",
		},
		[]string{"action"},
	)
	m.sideEffects = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "raids_side_effects_total",
			Help: "Side effects run after a committed transition",
		},
		[]string{"effect", "status"},
	)
	m.executorTasks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "raids_executor_tasks_total",
			Help: "Background tasks by name and final status",
		},
		[]string{"task", "status"},
	)
	m.executorQueue = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "raids_executor_queue_depth",
		Help: "Background tasks waiting for a worker",
	})
	m.subscribers = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "raids_run_subscribers",
		Help: "Active run change subscribers",
	})

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequests,
		m.httpDuration,
		m.transitions,
		m.transitionLatency,
		m.lockContention,
		m.sideEffects,
		m.executorTasks,
		m.executorQueue,
		m.subscribers,
	)
	return m
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) ObserveHTTP(method, route string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

// ObserveTransition records one transition attempt. outcome is "ok",
// "in_progress" or the lower-cased rejection code.
func (m *Metrics) ObserveTransition(to, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(to, outcome).Inc()
	m.transitionLatency.WithLabelValues(to).Observe(d.Seconds())
}

func (m *Metrics) LockContended(action string) {
	if m == nil {
		return
	}
	m.lockContention.WithLabelValues(action).Inc()
}

func (m *Metrics) SideEffect(effect string, err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.sideEffects.WithLabelValues(effect, status).Inc()
}

func (m *Metrics) ExecutorTask(task, status string) {
	if m == nil {
		return
	}
	m.executorTasks.WithLabelValues(task, status).Inc()
}

func (m *Metrics) ExecutorQueueDepth(n int) {
	if m == nil {
		return
	}
	m.executorQueue.Set(float64(n))
}

func (m *Metrics) Subscribers(n int) {
	if m == nil {
		return
	}
	m.subscribers.Set(float64(n))
}
