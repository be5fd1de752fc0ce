package marketdata

import "time"

// latencyTracker keeps a bounded rolling sample of end-to-end tick delays
// plus running min/max/avg and a resettable throughput window. Callers hold
// the processor lock; the tracker itself is not goroutine-safe.
type latencyTracker struct {
	samples []time.Duration
	next    int
	filled  bool

	count int64
	sum   time.Duration
	min   time.Duration
	max   time.Duration

	windowStart time.Time
	windowCount int64
}

func newLatencyTracker(sampleCap int, now time.Time) *latencyTracker {
	if sampleCap <= 0 {
		sampleCap = 256
	}
	return &latencyTracker{
		samples:     make([]time.Duration, sampleCap),
		windowStart: now,
	}
}

func (t *latencyTracker) record(d time.Duration) {
	t.samples[t.next] = d
	t.next = (t.next + 1) % len(t.samples)
	if t.next == 0 {
		t.filled = true
	}
	t.count++
	t.sum += d
	if t.count == 1 || d < t.min {
		t.min = d
	}
	if d > t.max {
		t.max = d
	}
}

func (t *latencyTracker) tick() { t.windowCount++ }

// LatencyStats summarizes observed tick delays.
type LatencyStats struct {
	Samples int64         `json:"samples"`
	Avg     time.Duration `json:"avg"`
	Min     time.Duration `json:"min"`
	Max     time.Duration `json:"max"`
}

func (t *latencyTracker) stats() LatencyStats {
	s := LatencyStats{Samples: t.count, Min: t.min, Max: t.max}
	if t.count > 0 {
		s.Avg = t.sum / time.Duration(t.count)
	}
	return s
}

// throughput returns updates/second since the window start.
func (t *latencyTracker) throughput(now time.Time) float64 {
	elapsed := now.Sub(t.windowStart).Seconds()
	if elapsed <= 0 {
		return 0
	}
	return float64(t.windowCount) / elapsed
}

func (t *latencyTracker) resetWindow(now time.Time) {
	t.windowStart = now
	t.windowCount = 0
}
