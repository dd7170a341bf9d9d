package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const MetricPrefix = "owlworkshop_"

var jobsSubmittedCounter = promauto.NewCounter(
	prometheus.CounterOpts{
		Name: MetricPrefix + "jobs_submitted",
		Help: "Number of jobs handed to the supervisor for scheduling",
	},
)

var jobsFinishedCounter = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: MetricPrefix + "jobs_finished",
		Help: "Number of jobs reaching a terminal state",
	},
	[]string{"outcome"},
)

var allocationAttemptsCounter = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: MetricPrefix + "allocation_attempts",
		Help: "Number of worker allocation attempts",
	},
	[]string{"result"},
)

var activeJobsGauge = promauto.NewGauge(
	prometheus.GaugeOpts{
		Name: MetricPrefix + "active_jobs",
		Help: "Number of jobs currently executing under the supervisor",
	},
)

var probeDurationHist = promauto.NewHistogram(
	prometheus.HistogramOpts{
		Name:    MetricPrefix + "probe_duration_seconds",
		Help:    "Time taken by worker liveness probes",
		Buckets: []float64{0.001, 0.005, 0.025, 0.1, 0.5, 1, 2.5, 5, 10},
	},
)

func RecordJobSubmitted() {
	jobsSubmittedCounter.Inc()
}

func RecordJobFinished(outcome string) {
	jobsFinishedCounter.WithLabelValues(outcome).Inc()
}

func RecordAllocation(result string) {
	allocationAttemptsCounter.WithLabelValues(result).Inc()
}

func IncActiveJobs() {
	activeJobsGauge.Inc()
}

func DecActiveJobs() {
	activeJobsGauge.Dec()
}

func ObserveProbeDuration(d time.Duration) {
	probeDurationHist.Observe(d.Seconds())
}
