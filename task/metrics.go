package task

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	tasksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "qwcat",
			Name:      "tasks_total",
			Help:      "Tasks that reached a terminal state",
		},
		[]string{"kind", "outcome"}, // outcome: finished|failed
	)

	taskDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "qwcat",
			Name:      "task_duration_seconds",
			Help:      "Wall time spent executing a task",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 12), // 0.5s to ~17m
		},
		[]string{"kind"},
	)

	queueTasks = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "qwcat",
			Name:      "queue_tasks",
			Help:      "Tasks currently held by the queue by status",
		},
		[]string{"status"},
	)
)

func observeQueue(tasks []Snapshot) {
	counts := map[Status]float64{
		StatusQueued:     0,
		StatusInProgress: 0,
		StatusFinished:   0,
		StatusFailed:     0,
	}
	for _, t := range tasks {
		counts[t.Status]++
	}
	for status, n := range counts {
		queueTasks.WithLabelValues(string(status)).Set(n)
	}
}
