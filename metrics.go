package goIdentity

import (
	"sync/atomic"
	"time"
)

// MetricID identifies one counter or histogram in the in-process metrics set.
type MetricID uint16

const (
	MetricAuthSuccess MetricID = iota
	MetricAuthFailure
	MetricAuthRateLimited
	MetricIdentityCreated
	MetricIdentityDuplicate
	MetricTokenIssued
	MetricAccessVerified
	MetricAccessRejected
	MetricSessionRevokedRejection
	MetricRefreshSuccess
	MetricRefreshFailure
	MetricSessionVersionBumped
	MetricMFARequired
	MetricMFASuccess
	MetricMFAFailure
	MetricMFAAttemptsExhausted
	MetricMFAReplayRejected
	MetricMFACodeSent
	MetricMFASetupConfirmed
	MetricBackupCodeUsed
	MetricBackupCodesGenerated
	MetricReauthIssued
	MetricReauthRejected
	MetricPasswordChanged
	MetricEmailChangeRequested
	MetricEmailChanged
	MetricAccountDeleted
	MetricOAuthBegin
	MetricOAuthSuccess
	MetricOAuthFailure
	MetricOAuthStateRejected
	MetricRateLimitHit
	MetricNotificationDropped
	MetricNotificationFailed
	MetricVerifyLatency
	metricIDCount
)

// latencyBounds are the upper bounds of every histogram bucket but the last,
// which catches everything slower.
var latencyBounds = [...]time.Duration{
	5 * time.Millisecond,
	10 * time.Millisecond,
	25 * time.Millisecond,
	50 * time.Millisecond,
	100 * time.Millisecond,
	250 * time.Millisecond,
	500 * time.Millisecond,
}

const histBucketCount = len(latencyBounds) + 1

// counter sits alone on a cache line so hot counters do not false-share.
type counter struct {
	atomic.Uint64
	_ [56]byte
}

// Metrics holds atomic counters and the access-verification latency histogram.
// A disabled instance turns every write into a no-op.
type Metrics struct {
	enabled  bool
	latency  bool
	counters [metricIDCount]counter
	verify   [histBucketCount]atomic.Uint64
}

// MetricsSnapshot is a point-in-time copy of all metric values.
type MetricsSnapshot struct {
	Counters   map[MetricID]uint64
	Histograms map[MetricID][]uint64
}

func NewMetrics(cfg MetricsConfig) *Metrics {
	return &Metrics{
		enabled: cfg.Enabled,
		latency: cfg.Enabled && cfg.EnableLatencyHistograms,
	}
}

func (m *Metrics) Enabled() bool        { return m != nil && m.enabled }
func (m *Metrics) LatencyEnabled() bool { return m != nil && m.latency }

// Inc adds one to the counter id.
func (m *Metrics) Inc(id MetricID) {
	if !m.Enabled() || id >= metricIDCount {
		return
	}
	m.counters[id].Add(1)
}

// Observe records d. Only MetricVerifyLatency carries a histogram.
func (m *Metrics) Observe(id MetricID, d time.Duration) {
	if !m.LatencyEnabled() || id != MetricVerifyLatency {
		return
	}
	m.verify[bucketIndex(d)].Add(1)
}

func (m *Metrics) Value(id MetricID) uint64 {
	if m == nil || id >= metricIDCount {
		return 0
	}
	return m.counters[id].Load()
}

// Snapshot copies every counter and, when latency tracking is on, the
// verification histogram.
func (m *Metrics) Snapshot() MetricsSnapshot {
	s := MetricsSnapshot{
		Counters:   map[MetricID]uint64{},
		Histograms: map[MetricID][]uint64{},
	}
	if !m.Enabled() {
		return s
	}
	for id := range m.counters {
		s.Counters[MetricID(id)] = m.counters[id].Load()
	}
	if m.latency {
		buckets := make([]uint64, histBucketCount)
		for i := range m.verify {
			buckets[i] = m.verify[i].Load()
		}
		s.Histograms[MetricVerifyLatency] = buckets
	}
	return s
}

// bucketIndex compares whole milliseconds, so 5.9ms still lands in the
// first bucket.
func bucketIndex(d time.Duration) int {
	d = d.Truncate(time.Millisecond)
	for i, bound := range latencyBounds {
		if d <= bound {
			return i
		}
	}
	return len(latencyBounds)
}
