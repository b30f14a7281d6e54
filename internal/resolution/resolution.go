// Package resolution implements the paper-mode resolution tracker (module
// N): a backstop that watches a signaled market's observed price through to
// settlement purely by sampling quotes, so paper-trading outcomes can be
// scored even though no real order is ever filled or resolved on-chain.
package resolution

import (
	"sync"
	"time"
)

// Trace records the price history of one market from signal to close.
type Trace struct {
	ConditionID string
	EntryPrice  float64
	Min         float64
	Max         float64
	Last        float64
	Samples     int
	StartedAt   time.Time
	ClosedAt    time.Time
	Resolved    bool
	WonYes      bool // true if the entry side ultimately resolved to 1
}

// Tracker maintains one Trace per market under paper-mode backstop
// resolution.
type Tracker struct {
	mu     sync.Mutex
	traces map[string]*Trace
}

// New creates an empty resolution tracker.
func New() *Tracker {
	return &Tracker{traces: make(map[string]*Trace)}
}

// Start begins tracking a newly signaled market at its entry price.
func (t *Tracker) Start(conditionID string, entryPrice float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.traces[conditionID] = &Trace{
		ConditionID: conditionID,
		EntryPrice:  entryPrice,
		Min:         entryPrice,
		Max:         entryPrice,
		Last:        entryPrice,
		StartedAt:   time.Now(),
	}
}

// Sample records a new observed price for a tracked market, terminal prices
// resolve the trace. terminalTol mirrors the watchlist's own tolerance so
// both agree on what counts as "settled".
func (t *Tracker) Sample(conditionID string, price, terminalTol float64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	tr, ok := t.traces[conditionID]
	if !ok || tr.Resolved {
		return
	}

	tr.Samples++
	tr.Last = price
	if price < tr.Min {
		tr.Min = price
	}
	if price > tr.Max {
		tr.Max = price
	}

	if price <= terminalTol {
		tr.Resolved = true
		tr.WonYes = false
		tr.ClosedAt = time.Now()
	} else if price >= 1-terminalTol {
		tr.Resolved = true
		tr.WonYes = true
		tr.ClosedAt = time.Now()
	}
}

// Get returns a copy of a market's trace, if tracked.
func (t *Tracker) Get(conditionID string) (Trace, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	tr, ok := t.traces[conditionID]
	if !ok {
		return Trace{}, false
	}
	return *tr, true
}

// Resolved returns every trace that has settled, for journaling and metrics.
func (t *Tracker) Resolved() []Trace {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []Trace
	for _, tr := range t.traces {
		if tr.Resolved {
			out = append(out, *tr)
		}
	}
	return out
}

// Forget drops a trace once it has been journaled, so resolved traces don't
// accumulate forever in memory.
func (t *Tracker) Forget(conditionID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.traces, conditionID)
}
