// Package metrics defines the Prometheus collectors for the media pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	JobsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mediaforge",
		Name:      "jobs_total",
		Help:      "Total transcription jobs by terminal status.",
	}, []string{"status"})

	JobsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "mediaforge",
		Name:      "jobs_active",
		Help:      "Number of transcription jobs currently running.",
	})

	JobDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "mediaforge",
		Name:      "job_duration_seconds",
		Help:      "Wall time of a transcription job in seconds.",
		Buckets:   []float64{5, 15, 30, 60, 120, 300, 600, 1800},
	})

	ChunksPlanned = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "mediaforge",
		Name:      "chunks_planned_total",
		Help:      "Total audio chunks planned across all jobs.",
	})

	ChunksFailed = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "mediaforge",
		Name:      "chunks_failed_total",
		Help:      "Total chunks whose transcription exhausted all retries.",
	})

	TranscriptionRetries = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "mediaforge",
		Name:      "transcription_retries_total",
		Help:      "Total retried transcription attempts across all chunks.",
	})

	TranscriptionCalls = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mediaforge",
		Name:      "transcription_calls_total",
		Help:      "Upstream transcription calls by outcome.",
	}, []string{"outcome"})

	CacheHits = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "mediaforge",
		Name:      "transcript_cache_hits_total",
		Help:      "Chunk results served from the per-job disk cache.",
	})

	ImagesGenerated = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mediaforge",
		Name:      "images_generated_total",
		Help:      "Image synthesis requests by outcome.",
	}, []string{"outcome"})

	VideosProcessed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mediaforge",
		Name:      "videos_processed_total",
		Help:      "Video post-processing requests by mode and outcome.",
	}, []string{"mode", "outcome"})
)

// Register installs all pipeline collectors on the given registerer.
func Register(reg prometheus.Registerer) {
	reg.MustRegister(
		JobsTotal,
		JobsActive,
		JobDuration,
		ChunksPlanned,
		ChunksFailed,
		TranscriptionRetries,
		TranscriptionCalls,
		CacheHits,
		ImagesGenerated,
		VideosProcessed,
	)
}
