package workers

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	queueLength = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "worker_queue_length",
		Help: "The number of tasks waiting for a worker.",
	})

	tasksCompleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "worker_tasks_completed",
		Help: "The number of tasks run to completion.",
	})

	tasksPanicked = promauto.NewCounter(prometheus.CounterOpts{
		Name: "worker_tasks_panicked",
		Help: "The number of tasks that panicked.",
	})

	taskWait = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "worker_task_wait_seconds",
		Help:    "The time a task spent queued before running.",
		Buckets: prometheus.ExponentialBuckets(0.0001, 4, 8),
	})
)

func instrumentWait(d time.Duration) {
	taskWait.Observe(d.Seconds())
}
