package learning

import (
	"sync"
	"time"
)

// AuraTracker buckets mission-relative timestamps into fixed windows and
// remembers which buckets carried instability evidence, so the pipeline
// can predictively wait before a command lands in a historically flaky
// window (spec §4.5 "Auras").
type AuraTracker struct {
	mu           sync.Mutex
	missionStart time.Time
	bucketSize   time.Duration
	unstable     map[int64]bool
}

// NewAuraTracker returns a tracker anchored at missionStart with the given
// bucket width (spec §6 default 500 ms).
func NewAuraTracker(missionStart time.Time, bucketSize time.Duration) *AuraTracker {
	return &AuraTracker{
		missionStart: missionStart,
		bucketSize:   bucketSize,
		unstable:     make(map[int64]bool),
	}
}

func (a *AuraTracker) bucketFor(ts time.Time) int64 {
	delta := ts.Sub(a.missionStart)
	if delta < 0 {
		delta = 0
	}
	return int64(delta / a.bucketSize)
}

// MarkUnstable records that the bucket containing ts saw entropy/stability
// evidence.
func (a *AuraTracker) MarkUnstable(ts time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.unstable[a.bucketFor(ts)] = true
}

// IsHistoricallyUnstable reports whether the bucket for now, its
// predecessor, or its successor is marked unstable — a predictive buffer
// either side of the exact historical window (spec §4.5).
func (a *AuraTracker) IsHistoricallyUnstable(now time.Time) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	b := a.bucketFor(now)
	return a.unstable[b-1] || a.unstable[b] || a.unstable[b+1]
}

// LoadFromTrace seeds the tracker from a previously loaded trace: any
// FAILURE or SENTINEL_ERROR entry is treated as instability evidence for
// its bucket.
func (a *AuraTracker) LoadFromTrace(entries []Entry) {
	for _, e := range entries {
		if e.Type == TypeFailure || e.Type == TypeSentinelError {
			a.MarkUnstable(e.Timestamp)
		}
	}
}
