package lmsauth

import (
	"sync/atomic"
	"time"
)

// MetricID identifies one Manager counter.
type MetricID uint16

const (
	// MetricBootstrapRestored counts starts that restored a persisted session.
	MetricBootstrapRestored MetricID = iota
	// MetricBootstrapDiscarded counts starts that dropped persisted credentials.
	MetricBootstrapDiscarded
	// MetricLoginSuccess counts published logins.
	MetricLoginSuccess
	// MetricLoginRejected counts Login calls refused before any state changed.
	MetricLoginRejected
	// MetricLogout counts Logout calls.
	MetricLogout
	// MetricStorageFailure counts credential store errors.
	MetricStorageFailure
	// MetricChannelOpened counts channels requested from the factory.
	MetricChannelOpened
	// MetricChannelOpenFailed counts factory Open errors.
	MetricChannelOpenFailed
	// MetricChannelConnected counts CONNECTED acknowledgements, reconnects included.
	MetricChannelConnected
	// MetricChannelClosed counts channels torn down by the Manager.
	MetricChannelClosed
	// MetricChannelError counts protocol errors reported by a live channel.
	MetricChannelError
	// MetricChannelMessage counts notifications delivered to listeners.
	MetricChannelMessage
	// MetricStaleHookIgnored counts hooks dropped because their channel was already replaced.
	MetricStaleHookIgnored
	// MetricChannelConnectLatency is the histogram from open to first CONNECTED.
	MetricChannelConnectLatency
	metricIDCount
)

const (
	histBucketCount = 8
	cacheLineSize   = 64
)

type metricHistogram struct {
	buckets [histBucketCount]uint64
}

type paddedCounter struct {
	value uint64
	_     [cacheLineSize - 8]byte
}

// Metrics holds cache-line padded atomic counters and one latency histogram.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	enabled       bool
	enableLatency bool
	counters      [metricIDCount]paddedCounter
	histograms    [metricIDCount]metricHistogram
}

// MetricsSnapshot is a point-in-time copy of every counter.
type MetricsSnapshot struct {
	Counters   map[MetricID]uint64
	Histograms map[MetricID][]uint64
}

// NewMetrics creates counters. When cfg.Enabled is false every operation is a no-op.
func NewMetrics(cfg MetricsConfig) *Metrics {
	return &Metrics{
		enabled:       cfg.Enabled,
		enableLatency: cfg.Enabled && cfg.EnableLatencyHistograms,
	}
}

func (m *Metrics) Enabled() bool {
	return m != nil && m.enabled
}

func (m *Metrics) LatencyEnabled() bool {
	return m != nil && m.enableLatency
}

// Inc adds one to id.
func (m *Metrics) Inc(id MetricID) {
	if m == nil || !m.enabled || id >= metricIDCount {
		return
	}
	atomic.AddUint64(&m.counters[id].value, 1)
}

// Observe records d in the histogram for id. Only the connect latency has one.
func (m *Metrics) Observe(id MetricID, d time.Duration) {
	if m == nil || !m.enabled || !m.enableLatency || id >= metricIDCount {
		return
	}
	if id != MetricChannelConnectLatency {
		return
	}

	b := bucketIndex(d)
	atomic.AddUint64(&m.histograms[id].buckets[b], 1)
}

func (m *Metrics) Value(id MetricID) uint64 {
	if m == nil || id >= metricIDCount {
		return 0
	}
	return atomic.LoadUint64(&m.counters[id].value)
}

func (m *Metrics) Snapshot() MetricsSnapshot {
	if m == nil || !m.enabled {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}

	s := MetricsSnapshot{
		Counters:   make(map[MetricID]uint64, int(metricIDCount)),
		Histograms: make(map[MetricID][]uint64, 1),
	}

	for id := MetricID(0); id < metricIDCount; id++ {
		s.Counters[id] = atomic.LoadUint64(&m.counters[id].value)
	}

	if m.enableLatency {
		buckets := make([]uint64, histBucketCount)
		for i := 0; i < histBucketCount; i++ {
			buckets[i] = atomic.LoadUint64(&m.histograms[MetricChannelConnectLatency].buckets[i])
		}
		s.Histograms[MetricChannelConnectLatency] = buckets
	}

	return s
}

// Buckets cover a websocket handshake plus STOMP CONNECT over a slow link.
func bucketIndex(d time.Duration) int {
	ms := d.Milliseconds()

	switch {
	case ms <= 50:
		return 0
	case ms <= 100:
		return 1
	case ms <= 250:
		return 2
	case ms <= 500:
		return 3
	case ms <= 1000:
		return 4
	case ms <= 2500:
		return 5
	case ms <= 5000:
		return 6
	default:
		return 7
	}
}
