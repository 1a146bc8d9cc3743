package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Job outcomes
const (
	OutcomeCompleted = "completed"
	OutcomeFailed    = "failed"
	OutcomeSkipped   = "skipped"
)

var (
	JobsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pixelate_jobs_total",
		Help: "Job attempts by outcome",
	}, []string{"outcome"})

	JobDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "pixelate_job_duration_seconds",
		Help:    "Wall time of a job attempt",
		Buckets: prometheus.ExponentialBuckets(1, 2, 10),
	})

	StageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pixelate_stage_duration_seconds",
		Help:    "Wall time per pipeline stage",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
	}, []string{"stage"})

	EnrichmentTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pixelate_enrichment_total",
		Help: "Enrichment attempts by outcome (success, empty, failed)",
	}, []string{"outcome"})

	BestFrameScore = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "pixelate_best_frame_score",
		Help:    "Score of the winning frame",
		Buckets: prometheus.LinearBuckets(0, 250, 12),
	})

	ActiveJobs = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pixelate_active_jobs",
		Help: "Jobs currently running in this process",
	})
)
