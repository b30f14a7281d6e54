// Package journal provides append-only JSONL writers for the bridge's four
// audit trails: signals, executions, price ticks, and context snapshots.
// Each is a thin wrapper over the same append-and-fsync pattern, kept
// separate so a reader can tail just the stream they care about.
package journal

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Writer is an append-only JSONL writer for one event stream.
type Writer struct {
	f  *os.File
	mu sync.Mutex
}

// OpenWriter opens (or creates) a JSONL file in append mode.
func OpenWriter(path string) (*Writer, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create journal dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open journal %s: %w", path, err)
	}
	return &Writer{f: f}, nil
}

// Log marshals event to JSON and appends it as a single line, fsyncing so
// the entry survives a crash immediately after.
func (w *Writer) Log(event any) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	data = append(data, '\n')

	w.mu.Lock()
	defer w.mu.Unlock()
	if _, err := w.f.Write(data); err != nil {
		return err
	}
	return w.f.Sync()
}

// Close flushes and closes the underlying file.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.f.Close()
}

// Journal bundles the four writers the bridge keeps open for its lifetime.
type Journal struct {
	Signals           *Writer
	Executions        *Writer
	PriceTicks        *Writer
	ContextSnapshots  *Writer
}

// Open creates (or appends to) all four JSONL files under dir.
func Open(dir string) (*Journal, error) {
	signals, err := OpenWriter(filepath.Join(dir, "signals.jsonl"))
	if err != nil {
		return nil, err
	}
	executions, err := OpenWriter(filepath.Join(dir, "executions.jsonl"))
	if err != nil {
		return nil, err
	}
	ticks, err := OpenWriter(filepath.Join(dir, "price_ticks.jsonl"))
	if err != nil {
		return nil, err
	}
	ctxSnaps, err := OpenWriter(filepath.Join(dir, "context_snapshots.jsonl"))
	if err != nil {
		return nil, err
	}
	return &Journal{
		Signals:          signals,
		Executions:       executions,
		PriceTicks:       ticks,
		ContextSnapshots: ctxSnaps,
	}, nil
}

// Close closes all four writers.
func (j *Journal) Close() error {
	for _, w := range []*Writer{j.Signals, j.Executions, j.PriceTicks, j.ContextSnapshots} {
		if err := w.Close(); err != nil {
			return err
		}
	}
	return nil
}

// ———————————————————————————————————————————————————————————————————
// Event shapes
// ———————————————————————————————————————————————————————————————————

// SignalEvent records a watchlist status transition into "signaled".
type SignalEvent struct {
	Type        string `json:"type"`
	Time        string `json:"time"`
	SignalID    string `json:"signal_id"`
	Slug        string `json:"slug"`
	SignalKind  string `json:"signal_kind"`
	EntryPrice  float64 `json:"entry_price"`
	WinProb     float64 `json:"win_prob"`
}

// NewSignalEvent builds a SignalEvent stamped with the current time.
func NewSignalEvent(signalID, slug, kind string, entryPrice, winProb float64) SignalEvent {
	return SignalEvent{
		Type:       "signal",
		Time:       time.Now().UTC().Format(time.RFC3339Nano),
		SignalID:   signalID,
		Slug:       slug,
		SignalKind: kind,
		EntryPrice: entryPrice,
		WinProb:    winProb,
	}
}

// SignalTimeoutEvent records a pending-signal window (module K step 11 / S3)
// reverting to "watching" because the gate no longer passed before the
// deadline.
type SignalTimeoutEvent struct {
	Type       string `json:"type"`
	Time       string `json:"time"`
	Slug       string `json:"slug"`
	SignalKind string `json:"signal_kind"`
}

// NewSignalTimeoutEvent builds a SignalTimeoutEvent stamped with the current
// time.
func NewSignalTimeoutEvent(slug, kind string) SignalTimeoutEvent {
	return SignalTimeoutEvent{
		Type:       "signal_timeout",
		Time:       time.Now().UTC().Format(time.RFC3339Nano),
		Slug:       slug,
		SignalKind: kind,
	}
}

// ExecutionEvent records an order-submission attempt and its outcome.
type ExecutionEvent struct {
	Type         string  `json:"type"`
	Time         string  `json:"time"`
	SignalID     string  `json:"signal_id"`
	Side         string  `json:"side"`
	Status       string  `json:"status"`
	FilledShares float64 `json:"filled_shares"`
	AvgFillPrice float64 `json:"avg_fill_price"`
	SpentUSD     float64 `json:"spent_usd"`
	Mode         string  `json:"mode"`
	Error        string  `json:"error,omitempty"`
}

// NewExecutionEvent builds an ExecutionEvent stamped with the current time.
func NewExecutionEvent(signalID, side, status, mode string, filled, avgPrice, spent float64, errMsg string) ExecutionEvent {
	return ExecutionEvent{
		Type:         "execution",
		Time:         time.Now().UTC().Format(time.RFC3339Nano),
		SignalID:     signalID,
		Side:         side,
		Status:       status,
		FilledShares: filled,
		AvgFillPrice: avgPrice,
		SpentUSD:     spent,
		Mode:         mode,
		Error:        errMsg,
	}
}

// PriceTickEvent records a single observed quote for a watched asset.
type PriceTickEvent struct {
	Type    string  `json:"type"`
	Time    string  `json:"time"`
	AssetID string  `json:"asset_id"`
	Bid     float64 `json:"bid"`
	Ask     float64 `json:"ask"`
	Source  string  `json:"source"`
}

// NewPriceTickEvent builds a PriceTickEvent stamped with the current time.
func NewPriceTickEvent(assetID string, bid, ask float64, source string) PriceTickEvent {
	return PriceTickEvent{
		Type:    "price_tick",
		Time:    time.Now().UTC().Format(time.RFC3339Nano),
		AssetID: assetID,
		Bid:     bid,
		Ask:     ask,
		Source:  source,
	}
}

// ContextSnapshotEvent records a scoreboard-derived context update.
type ContextSnapshotEvent struct {
	Type        string `json:"type"`
	Time        string `json:"time"`
	Slug        string `json:"slug"`
	State       string `json:"state"`
	Period      int    `json:"period"`
	MinutesLeft float64 `json:"minutes_left"`
	TeamAScore  int    `json:"team_a_score"`
	TeamBScore  int    `json:"team_b_score"`
}

// NewContextSnapshotEvent builds a ContextSnapshotEvent stamped with the
// current time.
func NewContextSnapshotEvent(slug, state string, period int, minutesLeft float64, aScore, bScore int) ContextSnapshotEvent {
	return ContextSnapshotEvent{
		Type:        "context_snapshot",
		Time:        time.Now().UTC().Format(time.RFC3339Nano),
		Slug:        slug,
		State:       state,
		Period:      period,
		MinutesLeft: minutesLeft,
		TeamAScore:  aScore,
		TeamBScore:  bScore,
	}
}
