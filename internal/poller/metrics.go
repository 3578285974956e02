package poller

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	pollDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "manifest_job_poll_duration_seconds",
		Help:    "Time spent waiting for conversion jobs to reach a terminal state",
		Buckets: []float64{1, 5, 15, 30, 60, 300, 900, 1800},
	})

	pollRounds = promauto.NewCounter(prometheus.CounterOpts{
		Name: "manifest_job_poll_rounds_total",
		Help: "Total number of status polling rounds",
	})
)
