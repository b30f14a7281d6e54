// Package metrics implements the rolling metrics and status module (module
// M): 5-minute rotating buckets of funnel counters (how many markets
// reached each stage), plus fixed-length ring buffers of recent signal and
// execution outcomes for the status surface to render trend data from
// without re-deriving it from the journal on every request.
package metrics

import (
	"sync"
	"time"
)

// BucketWidth is the rotation period for funnel counters.
const BucketWidth = 5 * time.Minute

// RingSize bounds how many recent samples each ring buffer keeps.
const RingSize = 20

// FunnelCounts tallies how many markets reached each stage within one bucket.
type FunnelCounts struct {
	Discovered     int
	Admitted       int
	Stage1Passed   int
	Stage2Passed   int
	ContextPassed  int
	Signaled       int
	Executed       int
	Failed         int

	ResolveAttempts int
	ResolveSuccess  int
	ResolveFail     int
}

// bucket pairs a time window with its counts.
type bucket struct {
	start time.Time
	counts FunnelCounts
}

// Sample is one entry in a ring buffer: a timestamped scalar observation.
type Sample struct {
	At    time.Time
	Value float64
}

// Tracker accumulates funnel counters into rotating 5-minute buckets and
// keeps ring buffers of recent fill prices and win-probability observations,
// mirroring the rolling-window-of-timestamped-samples shape used for flow
// toxicity detection, generalized here to the funnel's coarser counters.
type Tracker struct {
	mu      sync.Mutex
	current bucket
	history []bucket // completed buckets, newest last, bounded

	fillPrices  []Sample
	winProbs    []Sample

	maxHistory int
}

// NewTracker creates an empty rolling-metrics tracker.
func NewTracker() *Tracker {
	return &Tracker{
		current:    bucket{start: time.Now()},
		maxHistory: 12, // one hour of 5-minute buckets
	}
}

// rotateLocked closes out the current bucket and starts a new one if
// BucketWidth has elapsed. Must be called with mu held.
func (t *Tracker) rotateLocked() {
	if time.Since(t.current.start) < BucketWidth {
		return
	}
	t.history = append(t.history, t.current)
	if len(t.history) > t.maxHistory {
		t.history = t.history[len(t.history)-t.maxHistory:]
	}
	t.current = bucket{start: time.Now()}
}

// Record applies fn to the current bucket's counters, rotating first if due.
func (t *Tracker) Record(fn func(*FunnelCounts)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rotateLocked()
	fn(&t.current.counts)
}

// RecordFill appends a fill price to the bounded ring buffer.
func (t *Tracker) RecordFill(price float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.fillPrices = appendBounded(t.fillPrices, Sample{At: time.Now(), Value: price}, RingSize)
}

// RecordWinProb appends a win-probability observation to the bounded ring buffer.
func (t *Tracker) RecordWinProb(p float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.winProbs = appendBounded(t.winProbs, Sample{At: time.Now(), Value: p}, RingSize)
}

func appendBounded(ring []Sample, s Sample, max int) []Sample {
	ring = append(ring, s)
	if len(ring) > max {
		ring = ring[len(ring)-max:]
	}
	return ring
}

// Snapshot is the point-in-time view exposed to the status surface.
type Snapshot struct {
	Current    FunnelCounts
	History    []FunnelCounts
	FillPrices []Sample
	WinProbs   []Sample
}

// Snapshot returns a copy of the tracker's current state.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rotateLocked()

	hist := make([]FunnelCounts, len(t.history))
	for i, b := range t.history {
		hist[i] = b.counts
	}

	return Snapshot{
		Current:    t.current.counts,
		History:    hist,
		FillPrices: append([]Sample(nil), t.fillPrices...),
		WinProbs:   append([]Sample(nil), t.winProbs...),
	}
}
