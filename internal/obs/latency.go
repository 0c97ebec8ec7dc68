package obs

import (
	"math"
	"sync/atomic"
	"time"
)

// LatencyStats aggregates duration samples in nanoseconds.
type LatencyStats struct {
	count uint64
	sum   uint64
	min   uint64
	max   uint64
}

// LatencySnapshot is a point-in-time view of latency stats.
type LatencySnapshot struct {
	Count uint64
	Min   time.Duration
	Max   time.Duration
	Avg   time.Duration
}

// Observe records one duration sample.
func (s *LatencyStats) Observe(d time.Duration) {
	if s == nil || d < 0 {
		return
	}
	v := uint64(d)
	atomic.AddUint64(&s.count, 1)
	atomic.AddUint64(&s.sum, v)
	for {
		old := atomic.LoadUint64(&s.min)
		if old != 0 && old <= v {
			break
		}
		if atomic.CompareAndSwapUint64(&s.min, old, v) {
			break
		}
	}
	for {
		old := atomic.LoadUint64(&s.max)
		if old >= v {
			break
		}
		if atomic.CompareAndSwapUint64(&s.max, old, v) {
			break
		}
	}
}

// Snapshot captures the current latency values.
func (s *LatencyStats) Snapshot() LatencySnapshot {
	count := atomic.LoadUint64(&s.count)
	if count == 0 {
		return LatencySnapshot{}
	}
	sum := atomic.LoadUint64(&s.sum)
	avg := sum / count
	if avg > math.MaxInt64 {
		avg = math.MaxInt64
	}
	return LatencySnapshot{
		Count: count,
		Min:   time.Duration(atomic.LoadUint64(&s.min)),
		Max:   time.Duration(atomic.LoadUint64(&s.max)),
		Avg:   time.Duration(avg),
	}
}
