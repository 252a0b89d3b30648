// Package telemetry holds the Prometheus metrics exported by studies and the
// orchestrator.
package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Trial results
const (
	ResultComplete = "complete"
	ResultFailed   = "failed"
	ResultCached   = "cached"
)

var (
	// TrialsTotal counts evaluated trials by predictor and result
	TrialsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "prognosis_trials_total",
		Help: "Total study trials by predictor and result",
	}, []string{"predictor", "result"})

	// TrialDuration tracks cross-validation time per trial
	TrialDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "prognosis_trial_duration_seconds",
		Help:    "Trial cross-validation duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 14), // 10ms to ~80s
	}, []string{"predictor"})

	// StudyIterations counts finished study iterations by outcome
	StudyIterations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "prognosis_study_iterations_total",
		Help: "Total study iterations by outcome",
	}, []string{"outcome"})

	// BestScore reports the best score reached by each study
	BestScore = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "prognosis_study_best_score",
		Help: "Best oriented score reached by a study",
	}, []string{"study"})

	// TasksTotal counts finished study runs by status
	TasksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "prognosis_study_tasks_total",
		Help: "Total study runs by final status",
	}, []string{"status"})

	// QueueDepth reports the number of queued study runs
	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "prognosis_queue_depth",
		Help: "Number of study runs waiting for a worker",
	})

	// HTTPRequests counts API requests by route and status code
	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "prognosis_http_requests_total",
		Help: "Total API requests by route and status code",
	}, []string{"route", "code"})
)

// ObserveTrial records one trial outcome.
func ObserveTrial(predictor, result string, elapsed time.Duration) {
	TrialsTotal.WithLabelValues(predictor, result).Inc()
	if result != ResultCached {
		TrialDuration.WithLabelValues(predictor).Observe(elapsed.Seconds())
	}
}
