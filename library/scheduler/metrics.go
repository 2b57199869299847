package scheduler

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricDispatched = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "tracker_search",
		Subsystem: "scheduler",
		Name:      "dispatched_total",
		Help:      "Number of tasks handed to a worker goroutine.",
	})
	metricPanics = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "tracker_search",
		Subsystem: "scheduler",
		Name:      "panics_total",
		Help:      "Number of tasks that panicked instead of returning.",
	})
	metricRunning = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "tracker_search",
		Subsystem: "scheduler",
		Name:      "running",
		Help:      "Tasks currently occupying a concurrency slot.",
	})
	metricQueued = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "tracker_search",
		Subsystem: "scheduler",
		Name:      "queued",
		Help:      "Tasks waiting for a concurrency slot.",
	})
)
