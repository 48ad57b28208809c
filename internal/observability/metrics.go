package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type moduleMetrics struct {
	backendRequestTotal   *prometheus.CounterVec
	backendLatency        *prometheus.HistogramVec
	backendUnhealthy      *prometheus.GaugeVec
	backendWindowRequests *prometheus.GaugeVec

	toolExecutionTotal    *prometheus.CounterVec
	toolExecutionDuration *prometheus.HistogramVec

	taskRunTotal    *prometheus.CounterVec
	taskTurnsTotal  prometheus.Counter
	activeTasks     prometheus.Gauge
	taskTokensTotal *prometheus.CounterVec

	memorySearchDuration prometheus.Histogram
	memoryEntriesTotal   prometheus.Gauge

	queueSize    *prometheus.GaugeVec
	enqueueTotal *prometheus.CounterVec
	dequeueTotal *prometheus.CounterVec
	laneDuration *prometheus.HistogramVec
}

var (
	metricsOnce sync.Once
	metricsInst *moduleMetrics
)

func getMetrics() *moduleMetrics {
	metricsOnce.Do(func() {
		m := &moduleMetrics{
			backendRequestTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "backend_request_total",
					Help: "Total inference requests by backend and status.",
				},
				[]string{"backend", "status"},
			),
			backendLatency: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "backend_latency_seconds",
					Help:    "Inference call latency in seconds by backend.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"backend"},
			),
			backendUnhealthy: prometheus.NewGaugeVec(
				prometheus.GaugeOpts{
					Name: "backend_unhealthy",
					Help: "Backend health state (1 unhealthy, 0 healthy).",
				},
				[]string{"backend"},
			),
			backendWindowRequests: prometheus.NewGaugeVec(
				prometheus.GaugeOpts{
					Name: "backend_window_requests",
					Help: "Requests in the current rate window by backend.",
				},
				[]string{"backend"},
			),
			toolExecutionTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "tool_execution_total",
					Help: "Total tool executions by tool and status.",
				},
				[]string{"tool", "status"},
			),
			toolExecutionDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "tool_execution_duration_seconds",
					Help:    "Tool execution duration in seconds by tool.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"tool"},
			),
			taskRunTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "task_run_total",
					Help: "Total task runs by terminal status.",
				},
				[]string{"status"},
			),
			taskTurnsTotal: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "task_turns_total",
					Help: "Total think-act-observe turns across all tasks.",
				},
			),
			activeTasks: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "active_tasks",
					Help: "Current number of running tasks.",
				},
			),
			taskTokensTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "task_tokens_total",
					Help: "Total tokens consumed by direction (input/output).",
				},
				[]string{"direction"},
			),
			memorySearchDuration: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "memory_search_duration_seconds",
					Help:    "Memory recall duration in seconds.",
					Buckets: prometheus.DefBuckets,
				},
			),
			memoryEntriesTotal: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "memory_entries_total",
					Help: "Total memory entries stored.",
				},
			),
			queueSize: prometheus.NewGaugeVec(
				prometheus.GaugeOpts{
					Name: "queue_size",
					Help: "Current queue size by lane.",
				},
				[]string{"lane"},
			),
			enqueueTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "enqueue_total",
					Help: "Total enqueue operations by lane.",
				},
				[]string{"lane"},
			),
			dequeueTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "dequeue_total",
					Help: "Total dequeue/completion operations by lane and status.",
				},
				[]string{"lane", "status"},
			),
			laneDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "lane_task_duration_seconds",
					Help:    "Lane task execution duration in seconds.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"lane"},
			),
		}

		prometheus.MustRegister(
			m.backendRequestTotal,
			m.backendLatency,
			m.backendUnhealthy,
			m.backendWindowRequests,
			m.toolExecutionTotal,
			m.toolExecutionDuration,
			m.taskRunTotal,
			m.taskTurnsTotal,
			m.activeTasks,
			m.taskTokensTotal,
			m.memorySearchDuration,
			m.memoryEntriesTotal,
			m.queueSize,
			m.enqueueTotal,
			m.dequeueTotal,
			m.laneDuration,
		)

		metricsInst = m
	})

	return metricsInst
}

// EnsureRegistered initializes and registers metrics the first time it is called.
func EnsureRegistered() {
	_ = getMetrics()
}

// MetricsHandler returns the HTTP handler serving the metrics endpoint.
func MetricsHandler() http.Handler {
	EnsureRegistered()
	return promhttp.Handler()
}

// RecordBackendRequest records an inference attempt against a backend.
func RecordBackendRequest(backend string, duration time.Duration, success bool) {
	m := getMetrics()
	status := "error"
	if success {
		status = "success"
	}
	m.backendRequestTotal.WithLabelValues(backend, status).Inc()
	m.backendLatency.WithLabelValues(backend).Observe(duration.Seconds())
}

// SetBackendUnhealthy updates the health gauge for a backend.
func SetBackendUnhealthy(backend string, unhealthy bool) {
	v := 0.0
	if unhealthy {
		v = 1.0
	}
	getMetrics().backendUnhealthy.WithLabelValues(backend).Set(v)
}

// SetBackendWindowRequests updates the rate window usage gauge for a backend.
func SetBackendWindowRequests(backend string, n int) {
	getMetrics().backendWindowRequests.WithLabelValues(backend).Set(float64(n))
}

// RecordToolExecution records one tool dispatch.
func RecordToolExecution(tool string, duration time.Duration, success bool) {
	m := getMetrics()
	status := "error"
	if success {
		status = "success"
	}
	m.toolExecutionTotal.WithLabelValues(tool, status).Inc()
	m.toolExecutionDuration.WithLabelValues(tool).Observe(duration.Seconds())
}

// RecordTaskRun records a task reaching a terminal status.
func RecordTaskRun(status string) {
	getMetrics().taskRunTotal.WithLabelValues(status).Inc()
}

// RecordTurn increments the global turn counter.
func RecordTurn() {
	getMetrics().taskTurnsTotal.Inc()
}

// SetActiveTasks updates the running task gauge.
func SetActiveTasks(n int) {
	getMetrics().activeTasks.Set(float64(n))
}

// RecordTokens accumulates token usage.
func RecordTokens(inputTokens, outputTokens int) {
	m := getMetrics()
	m.taskTokensTotal.WithLabelValues("input").Add(float64(inputTokens))
	m.taskTokensTotal.WithLabelValues("output").Add(float64(outputTokens))
}

// RecordMemorySearch records a memory recall duration.
func RecordMemorySearch(duration time.Duration) {
	getMetrics().memorySearchDuration.Observe(duration.Seconds())
}

// SetMemoryEntries updates the stored memory entry gauge.
func SetMemoryEntries(n int) {
	getMetrics().memoryEntriesTotal.Set(float64(n))
}

// RecordQueueEnqueue records a task entering a lane.
func RecordQueueEnqueue(lane string, queueSize int) {
	m := getMetrics()
	m.enqueueTotal.WithLabelValues(lane).Inc()
	m.queueSize.WithLabelValues(lane).Set(float64(queueSize))
}

// RecordQueueCompletion records a lane task finishing.
func RecordQueueCompletion(lane string, duration time.Duration, success bool, queueSize int) {
	m := getMetrics()
	status := "error"
	if success {
		status = "success"
	}
	m.dequeueTotal.WithLabelValues(lane, status).Inc()
	m.laneDuration.WithLabelValues(lane).Observe(duration.Seconds())
	m.queueSize.WithLabelValues(lane).Set(float64(queueSize))
}
