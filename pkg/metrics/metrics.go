// Package metrics exposes the orchestrator's Prometheus instrumentation:
// scheduling latency, worker-pool occupancy, task outcomes, merge
// outcomes, and RPC bus health.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// TasksTotal counts tasks that left the pending state, by terminal status.
	TasksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orkestra_tasks_total",
			Help: "Total tasks by terminal status (completed, failed, cancelled).",
		},
		[]string{"status"},
	)

	// TasksInFlight reports the current count of tasks in each live status.
	TasksInFlight = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "orkestra_tasks_in_flight",
			Help: "Current task count by status (pending, ready, running).",
		},
		[]string{"status"},
	)

	// SchedulingLatency measures the time from a task becoming ready to
	// being assigned to a worker.
	SchedulingLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "orkestra_scheduling_latency_seconds",
			Help:    "Time from task-ready to task-assigned.",
			Buckets: prometheus.DefBuckets,
		},
	)

	// TaskDuration measures wall-clock execution time of a task, from
	// assignment to terminal status.
	TaskDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "orkestra_task_duration_seconds",
			Help:    "Task execution duration from assignment to completion.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 14),
		},
	)

	// WorkersByStatus reports the current worker-pool occupancy.
	WorkersByStatus = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "orkestra_workers_by_status",
			Help: "Current worker count by status (idle, busy, error, offline).",
		},
		[]string{"status"},
	)

	// WorkerRestartsTotal counts pool-driven worker recoveries.
	WorkerRestartsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "orkestra_worker_restarts_total",
			Help: "Total worker recoveries triggered by the pool's retry policy.",
		},
	)

	// HeartbeatTimeoutsTotal counts workers declared crashed by missed heartbeats.
	HeartbeatTimeoutsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "orkestra_heartbeat_timeouts_total",
			Help: "Total workers marked offline after exceeding the heartbeat timeout.",
		},
	)

	// RPCPendingRequests reports the current size of the bus's
	// correlation-id pending table, per side (master, worker).
	RPCPendingRequests = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "orkestra_rpc_pending_requests",
			Help: "Current count of in-flight RPC requests awaiting a response.",
		},
		[]string{"side"},
	)

	// RPCTimeoutsTotal counts RPC calls that exceeded their deadline.
	RPCTimeoutsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "orkestra_rpc_timeouts_total",
			Help: "Total RPC calls that timed out waiting for a response.",
		},
	)

	// MergeOutcomesTotal counts merge attempts by outcome: "auto" for
	// every merge that completes (with or without conflicts, including
	// AI-resolved ones), "escalated" for merges aborted with conflicts
	// left. AI-resolved merges are not counted under a label of their own.
	MergeOutcomesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orkestra_merge_outcomes_total",
			Help: "Total merge attempts by outcome (auto, escalated).",
		},
		[]string{"outcome"},
	)

	// MergeDuration measures time spent in the merge-and-resolve sequence
	// for a single task's branch.
	MergeDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "orkestra_merge_duration_seconds",
			Help:    "Duration of the merge-and-resolve sequence per task branch.",
			Buckets: prometheus.DefBuckets,
		},
	)
)

func init() {
	prometheus.MustRegister(TasksTotal)
	prometheus.MustRegister(TasksInFlight)
	prometheus.MustRegister(SchedulingLatency)
	prometheus.MustRegister(TaskDuration)
	prometheus.MustRegister(WorkersByStatus)
	prometheus.MustRegister(WorkerRestartsTotal)
	prometheus.MustRegister(HeartbeatTimeoutsTotal)
	prometheus.MustRegister(RPCPendingRequests)
	prometheus.MustRegister(RPCTimeoutsTotal)
	prometheus.MustRegister(MergeOutcomesTotal)
	prometheus.MustRegister(MergeDuration)
}

// Handler returns the Prometheus HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer times an operation and reports its duration to a histogram.
type Timer struct {
	start time.Time
}

// NewTimer starts a timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the elapsed time to histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the elapsed time to a labeled histogram.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
