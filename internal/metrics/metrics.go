package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	TaskTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mdarchive",
			Name:      "task_transitions_total",
			Help:      "Count of task state transitions by category and state.",
		},
		[]string{"category", "state"},
	)

	RunningWorkflows = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "mdarchive",
			Name:      "running_workflows",
			Help:      "Number of download workflows currently executing.",
		},
		[]string{"category"},
	)

	TrackedTasks = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "mdarchive",
			Name:      "tracked_tasks",
			Help:      "Number of tasks held by a task manager.",
		},
		[]string{"category"},
	)

	HistoryCommits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mdarchive",
			Name:      "history_commits_total",
			Help:      "Operation log commits by category and result.",
		},
		[]string{"category", "result"},
	)

	HistoryEntries = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "mdarchive",
			Name:      "history_entries",
			Help:      "Committed operation log entries by category.",
		},
		[]string{"category"},
	)

	IncompleteOperations = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "mdarchive",
			Name:      "incomplete_operations",
			Help:      "Operation log entries found at startup by category.",
		},
		[]string{"category"},
	)

	RemoteErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mdarchive",
			Name:      "remote_errors_total",
			Help:      "Errors from remote API calls.",
		},
		[]string{"endpoint"},
	)

	RemoteLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "mdarchive",
			Name:      "remote_latency_seconds",
			Help:      "Latency of remote API calls.",
		},
		[]string{"endpoint"},
	)
)

var registerOnce sync.Once

// Register registers the collectors into the default registry. Later calls
// are no-ops.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(TaskTransitions, RunningWorkflows, TrackedTasks, HistoryCommits,
			HistoryEntries, IncompleteOperations, RemoteErrors, RemoteLatency)
	})
}
