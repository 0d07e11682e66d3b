package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// FramesProcessed tracks processed frames by type and outcome.
	FramesProcessed = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "frames",
			Name:      "processed_total",
			Help:      "Total number of frames processed",
		},
		[]string{"type", "status"}, // frame type (or "unknown" if undecodable), success/failure
	)

	// TamperDetections tracks AEAD authentication failures on receive.
	TamperDetections = promauto.With(Registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "frames",
			Name:      "tamper_detected_total",
			Help:      "Total number of frames that failed AEAD authentication",
		},
	)

	// NonceValidations tracks nonce sequence checks on receive.
	NonceValidations = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "frames",
			Name:      "nonce_validations_total",
			Help:      "Total number of nonce validations",
		},
		[]string{"status"}, // valid, replay, exhausted
	)

	// FrameProcessingDuration tracks per-frame seal/open duration.
	FrameProcessingDuration = promauto.With(Registry).NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "frames",
			Name:      "processing_duration_seconds",
			Help:      "Frame seal/open duration in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 12), // 0.1ms to ~205ms
		},
	)

	// FrameSize tracks outer envelope sizes, for detecting padding leaks.
	FrameSize = promauto.With(Registry).NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "frames",
			Name:      "size_bytes",
			Help:      "Frame size in bytes, including ciphertext and tag",
			Buckets:   prometheus.ExponentialBuckets(64, 2, 15), // 64B to 1MiB+
		},
	)
)
