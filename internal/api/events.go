package api

import "time"

// DashboardEvent is the wrapper for all events pushed to WebSocket subscribers.
type DashboardEvent struct {
	Type      string      `json:"type"`      // "snapshot", "signal", "fill", "kill"
	Timestamp time.Time   `json:"timestamp"`
	MarketID  string      `json:"market_id,omitempty"` // condition ID, empty for global events
	Data      interface{} `json:"data"`
}

// SignalEvent announces a market clearing every entry gate.
type SignalEvent struct {
	SignalID   string  `json:"signal_id"`
	MarketSlug string  `json:"market_slug"`
	EntryPrice float64 `json:"entry_price"`
	WinProb    float64 `json:"win_prob"`
}

// FillEvent reports an entry or exit fill from the execution bridge.
type FillEvent struct {
	SignalID   string  `json:"signal_id"`
	Side       string  `json:"side"` // "BUY" or "SELL"
	Price      float64 `json:"price"`
	Shares     float64 `json:"shares"`
	MarketSlug string  `json:"market_slug"`
}

// KillEvent is emitted when the execution bridge's kill switch activates.
type KillEvent struct {
	Reason      string    `json:"reason"`
	Until       time.Time `json:"until"`
	ConditionID string    `json:"condition_id,omitempty"`
}

// NewSignalEvent creates a signal event.
func NewSignalEvent(signalID, marketSlug string, entryPrice, winProb float64) SignalEvent {
	return SignalEvent{SignalID: signalID, MarketSlug: marketSlug, EntryPrice: entryPrice, WinProb: winProb}
}

// NewFillEvent creates a fill event.
func NewFillEvent(signalID, side, marketSlug string, price, shares float64) FillEvent {
	return FillEvent{SignalID: signalID, Side: side, MarketSlug: marketSlug, Price: price, Shares: shares}
}

// NewKillEvent creates a kill-switch event.
func NewKillEvent(reason string, until time.Time, conditionID string) KillEvent {
	return KillEvent{Reason: reason, Until: until, ConditionID: conditionID}
}

// NewDashboardEvent wraps a typed payload (SignalEvent, FillEvent, KillEvent)
// into the envelope pushed to WebSocket subscribers, stamped with the
// current time.
func NewDashboardEvent(kind, marketID string, data interface{}) DashboardEvent {
	return DashboardEvent{Type: kind, Timestamp: time.Now(), MarketID: marketID, Data: data}
}
