package relay

import (
	"sync/atomic"
	"time"
)

// RelayMetrics tracks delivery throughput with plain atomics so the hot
// path never takes a lock.
type RelayMetrics struct {
	totalDelivered  int64
	totalFailed     int64
	totalDurationNs int64
	lastResetNs     int64
}

func NewRelayMetrics() *RelayMetrics {
	return &RelayMetrics{
		lastResetNs: time.Now().UnixNano(),
	}
}

func (m *RelayMetrics) RecordSuccess(duration time.Duration) {
	atomic.AddInt64(&m.totalDelivered, 1)
	atomic.AddInt64(&m.totalDurationNs, int64(duration))
}

func (m *RelayMetrics) RecordFailure() {
	atomic.AddInt64(&m.totalFailed, 1)
}

func (m *RelayMetrics) GetStats() map[string]interface{} {
	delivered := atomic.LoadInt64(&m.totalDelivered)
	failed := atomic.LoadInt64(&m.totalFailed)
	durationNs := atomic.LoadInt64(&m.totalDurationNs)
	lastResetNs := atomic.LoadInt64(&m.lastResetNs)

	elapsed := time.Since(time.Unix(0, lastResetNs)).Seconds()

	rate := 0.0
	if elapsed > 0 {
		rate = float64(delivered) / elapsed
	}

	avgDuration := time.Duration(0)
	if delivered > 0 {
		avgDuration = time.Duration(durationNs / delivered)
	}

	return map[string]interface{}{
		"total_delivered": delivered,
		"total_failed":    failed,
		"rate_per_second": rate,
		"avg_duration_ms": avgDuration.Milliseconds(),
		"uptime_seconds":  elapsed,
	}
}

func (m *RelayMetrics) Reset() {
	atomic.StoreInt64(&m.totalDelivered, 0)
	atomic.StoreInt64(&m.totalFailed, 0)
	atomic.StoreInt64(&m.totalDurationNs, 0)
	atomic.StoreInt64(&m.lastResetNs, time.Now().UnixNano())
}
