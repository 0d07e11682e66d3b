package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ChannelsOpened tracks total peer channels established.
	ChannelsOpened = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "channels",
			Name:      "opened_total",
			Help:      "Total number of peer channels opened",
		},
		[]string{"status"}, // success, failure
	)

	// PeersActive tracks the number of peers currently connected.
	PeersActive = promauto.With(Registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "peers",
			Name:      "active",
			Help:      "Number of peers currently connected",
		},
	)

	// ChannelsClosed tracks closed channels.
	ChannelsClosed = promauto.With(Registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "channels",
			Name:      "closed_total",
			Help:      "Total number of peer channels closed",
		},
	)

	// PanicEvents tracks invocations of the privacy guard's panic wipe.
	PanicEvents = promauto.With(Registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "privacy",
			Name:      "panic_total",
			Help:      "Total number of panic-wipe events",
		},
	)

	// ChannelDuration tracks channel operation durations.
	ChannelDuration = promauto.With(Registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "channels",
			Name:      "duration_seconds",
			Help:      "Channel operation duration in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 15), // 0.1ms to 1.6s
		},
		[]string{"operation"}, // handshake, seal, open
	)

	// MessageSize tracks plaintext message sizes sent through a channel.
	MessageSize = promauto.With(Registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "channels",
			Name:      "message_size_bytes",
			Help:      "Size of plaintext messages processed by channels",
			Buckets:   prometheus.ExponentialBuckets(64, 4, 10), // 64B to 16MB
		},
		[]string{"direction"}, // inbound, outbound
	)
)
