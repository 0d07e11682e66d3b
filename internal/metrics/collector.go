package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// namespace prefixes every metric exported by this package.
const namespace = "cwtchcore"

// Registry is the Prometheus registry all collectors in this package attach
// to. cmd/cwtchcore exposes it via Handler; tests may construct their own
// registry and swap collectors in, but production code shares this one.
var Registry = prometheus.NewRegistry()

// Collector accumulates lightweight in-process timing samples alongside the
// Prometheus vectors declared elsewhere in this package. It exists for
// callers (tests, pkg/health's /health/snapshot endpoint) that want a quick snapshot
// without scraping /metrics.
type Collector struct {
	mu sync.RWMutex

	HandshakesStarted   int64
	HandshakesSucceeded int64
	HandshakesFailed    int64
	FramesSealed        int64
	FramesOpened        int64
	TamperDetections    int64
	NonceExhaustions    int64

	sealTimes      []int64
	handshakeTimes []int64

	startTime        time.Time
	maxTimingSamples int
}

// NewCollector creates an empty Collector.
func NewCollector() *Collector {
	return &Collector{
		startTime:        time.Now(),
		maxTimingSamples: 1000,
	}
}

// RecordHandshake records the outcome and duration of one handshake attempt.
func (c *Collector) RecordHandshake(success bool, d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.HandshakesStarted++
	if success {
		c.HandshakesSucceeded++
	} else {
		c.HandshakesFailed++
	}
	c.recordTiming(&c.handshakeTimes, d)
}

// RecordSeal records an AEAD seal operation's duration.
func (c *Collector) RecordSeal(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.FramesSealed++
	c.recordTiming(&c.sealTimes, d)
}

// RecordOpen records an AEAD open (decrypt) operation.
func (c *Collector) RecordOpen(tampered bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.FramesOpened++
	if tampered {
		c.TamperDetections++
	}
}

// RecordNonceExhaustion records a channel hitting the end of its nonce space.
func (c *Collector) RecordNonceExhaustion() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.NonceExhaustions++
}

func (c *Collector) recordTiming(timings *[]int64, d time.Duration) {
	*timings = append(*timings, d.Microseconds())
	if len(*timings) > c.maxTimingSamples {
		*timings = (*timings)[len(*timings)-c.maxTimingSamples:]
	}
}

// Snapshot is a point-in-time read of the collector's counters.
type Snapshot struct {
	Uptime              time.Duration
	HandshakesStarted   int64
	HandshakesSucceeded int64
	HandshakesFailed    int64
	FramesSealed        int64
	FramesOpened        int64
	TamperDetections    int64
	NonceExhaustions    int64
	AvgHandshakeMicros  float64
	AvgSealMicros       float64
}

// Snapshot returns the current state of the collector.
func (c *Collector) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return Snapshot{
		Uptime:              time.Since(c.startTime),
		HandshakesStarted:   c.HandshakesStarted,
		HandshakesSucceeded: c.HandshakesSucceeded,
		HandshakesFailed:    c.HandshakesFailed,
		FramesSealed:        c.FramesSealed,
		FramesOpened:        c.FramesOpened,
		TamperDetections:    c.TamperDetections,
		NonceExhaustions:    c.NonceExhaustions,
		AvgHandshakeMicros:  average(c.handshakeTimes),
		AvgSealMicros:       average(c.sealTimes),
	}
}

func average(values []int64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum int64
	for _, v := range values {
		sum += v
	}
	return float64(sum) / float64(len(values))
}

var globalCollector = NewCollector()

// GlobalCollector returns the process-wide collector instance.
func GlobalCollector() *Collector { return globalCollector }
