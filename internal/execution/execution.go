// Package execution implements the execution bridge (module L): the only
// component that places and cancels real orders. It takes entry signals from
// the evaluation loop, submits them idempotently keyed by signal ID, and then
// manages each open position's exit — escalating stop-loss floor, context
// stop-loss, and resolution close — while enforcing the same portfolio-level
// risk caps the teacher's risk manager enforced for market-making: per-market
// and global exposure limits, a daily loss limit, and a cooldown kill switch.
package execution

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"marketbridge/internal/config"
	"marketbridge/internal/journal"
	"marketbridge/internal/metrics"
	"marketbridge/pkg/types"
)

// orderClient is the subset of the exchange client the bridge drives orders
// through. Defined here (rather than depending on the concrete type) so
// tests can substitute a fake without touching the exchange package.
type orderClient interface {
	Buy(ctx context.Context, tokenID string, price, sizeUSD float64, tick types.TickSize) (types.OrderSubmissionResult, error)
	Sell(ctx context.Context, tokenID string, price, shares float64, tick types.TickSize) (types.OrderSubmissionResult, error)
}

// stopLossFloorSteps is the escalating stop-loss ladder (module L / S2): each
// successive attempt prices more aggressively below the trigger, to keep
// getting filled as the book thins out during a fast-moving settlement.
var stopLossFloorSteps = []float64{0, 0.01, 0.02, 0.03, 0.05}

// stopLossFloorBound bounds how far below the trigger price the ladder will
// chase a fill, so a collapsing book can't walk the exit price to zero.
const stopLossFloorBound = 0.10

// Position is one open (or closing) bridge-managed position, keyed by the
// signal that created it so retries never double-submit.
type Position struct {
	SignalID    string
	ConditionID string
	EntryToken  string
	ExitToken   string
	EntryPrice  float64
	Shares      float64
	SpentUSD    float64
	StopFloor   float64 // escalating stop-loss floor, only ever raised
	Status      types.TradeStatus
	OpenedAt    time.Time
	ClosedAt    time.Time
	RealizedPnL float64
	CloseReason types.CloseReason
}

// KillSignal mirrors the teacher's portfolio kill switch: ConditionID empty
// means every open position should be closed.
type KillSignal struct {
	ConditionID string
	Reason      string
}

// Bridge is the execution bridge. One instance serves every market; signals
// arrive from the evaluation loop via Enter, and exits are driven by
// repeated calls to EvaluateExit as new prices/contexts arrive.
type Bridge struct {
	cfg     config.ExecutionConfig
	client  orderClient
	journal *journal.Journal
	metrics *metrics.Tracker
	mode    string
	logger  *slog.Logger
	onFill  func(conditionID, signalID, side string, price, shares float64)
	onKill  func(reason, conditionID string, until time.Time)

	mu               sync.Mutex
	positions        map[string]*Position // keyed by SignalID, idempotent submit
	byCondition      map[string]string    // conditionID -> open SignalID
	closing          map[string]bool      // "sell:<signalID>" in-flight guard
	totalExposure    float64
	dailyRealizedPnL float64
	dailyResetAt     time.Time
	killActive       bool
	killUntil        time.Time
}

// New creates an execution bridge.
func New(cfg config.ExecutionConfig, mode string, client orderClient, j *journal.Journal, m *metrics.Tracker, logger *slog.Logger) *Bridge {
	return &Bridge{
		cfg:          cfg,
		client:       client,
		journal:      j,
		metrics:      m,
		mode:         mode,
		logger:       logger.With("component", "execution"),
		positions:    make(map[string]*Position),
		byCondition:  make(map[string]string),
		closing:      make(map[string]bool),
		dailyResetAt: time.Now().Add(24 * time.Hour),
	}
}

// IsKillSwitchActive reports whether new entries should be blocked.
func (b *Bridge) IsKillSwitchActive() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.killActive && time.Now().After(b.killUntil) {
		b.killActive = false
	}
	return b.killActive
}

// OpenCount returns how many positions are currently open.
func (b *Bridge) OpenCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.positions)
}

// OpenConditionIDs returns the set of conditionIDs with a position still
// open, for the watchlist's open-position exclusion check (module F / S1):
// a market resolving to a terminal price never gets purged out from under
// an exit still in flight.
func (b *Bridge) OpenConditionIDs() map[string]bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make(map[string]bool, len(b.byCondition))
	for cond := range b.byCondition {
		out[cond] = true
	}
	return out
}

// Enter submits an entry order for a signaled market. It is idempotent on
// signalID: a retry of a signal already submitted returns the existing
// position instead of placing a second order.
func (b *Bridge) Enter(ctx context.Context, signalID, conditionID, entryToken, exitToken string, entryPrice float64) (*Position, error) {
	b.mu.Lock()
	if existing, ok := b.positions[signalID]; ok {
		b.mu.Unlock()
		return existing, nil
	}
	if b.killActive && time.Now().Before(b.killUntil) {
		b.mu.Unlock()
		return nil, fmt.Errorf("kill switch active until %s", b.killUntil.Format(time.RFC3339))
	}
	if len(b.positions) >= b.cfg.MaxMarketsActive {
		b.mu.Unlock()
		return nil, fmt.Errorf("max active markets reached (%d)", b.cfg.MaxMarketsActive)
	}
	perMarket := b.cfg.MaxPositionPerMarket
	global := b.cfg.MaxGlobalExposure - b.totalExposure
	size := b.cfg.OrderSizeUSD
	if size > perMarket {
		size = perMarket
	}
	if size > global {
		size = global
	}
	b.mu.Unlock()

	if size <= 0 {
		return nil, fmt.Errorf("no exposure budget remaining")
	}

	var result types.OrderSubmissionResult
	var err error
	if b.mode == "live" {
		result, err = b.client.Buy(ctx, entryToken, entryPrice, size, types.Tick01)
	} else {
		// paper / shadow_live: simulate an immediate fill at the quoted price.
		result = types.OrderSubmissionResult{OK: true, FilledShares: size / entryPrice, AvgFillPrice: entryPrice, SpentUSD: size}
	}
	if err != nil || !result.OK {
		msg := result.Error
		if err != nil {
			msg = err.Error()
		}
		if b.journal != nil {
			_ = b.journal.Executions.Log(journal.NewExecutionEvent(signalID, string(types.BUY), string(types.TradeFailed), b.mode, 0, 0, 0, msg))
		}
		b.metrics.Record(func(fc *metrics.FunnelCounts) { fc.Failed++ })
		return nil, fmt.Errorf("entry submission failed: %s", msg)
	}

	pos := &Position{
		SignalID:    signalID,
		ConditionID: conditionID,
		EntryToken:  entryToken,
		ExitToken:   exitToken,
		EntryPrice:  result.AvgFillPrice,
		Shares:      result.FilledShares,
		SpentUSD:    result.SpentUSD,
		StopFloor:   result.AvgFillPrice * (1 - b.cfg.StopLossFloorPct),
		Status:      types.TradeFilled,
		OpenedAt:    time.Now(),
	}

	b.mu.Lock()
	b.positions[signalID] = pos
	b.byCondition[conditionID] = signalID
	b.totalExposure += pos.SpentUSD
	b.mu.Unlock()

	b.metrics.Record(func(fc *metrics.FunnelCounts) { fc.Executed++ })
	b.metrics.RecordFill(pos.EntryPrice)
	if b.journal != nil {
		_ = b.journal.Executions.Log(journal.NewExecutionEvent(signalID, string(types.BUY), string(types.TradeFilled), b.mode, pos.Shares, pos.EntryPrice, pos.SpentUSD, ""))
	}
	if b.onFill != nil {
		b.onFill(conditionID, signalID, string(types.BUY), pos.EntryPrice, pos.Shares)
	}
	return pos, nil
}

// EvaluateExit checks one open position's current quote (and, for context
// stop-loss, its latest win-probability read) against the escalating
// stop-loss floor and the context-driven stop-loss margin, closing the
// position if either trips. The floor only ever rises, it never lowers as
// price recovers, so a position that touched a high price and faded back
// still exits at the best floor it earned.
func (b *Bridge) EvaluateExit(ctx context.Context, conditionID string, currentBid float64, winProb float64, hasWinProb bool) error {
	b.mu.Lock()
	signalID, ok := b.byCondition[conditionID]
	if !ok {
		b.mu.Unlock()
		return nil
	}
	pos := b.positions[signalID]
	if pos == nil {
		b.mu.Unlock()
		return nil
	}

	if currentBid > 0 {
		// Offset is fixed to the entry price, not the current bid, so the
		// floor ratchets up by the raw distance the bid has travelled above
		// entry rather than by a shrinking percentage of an ever-higher peak.
		candidate := currentBid - pos.EntryPrice*b.cfg.StopLossFloorPct
		if candidate > pos.StopFloor {
			pos.StopFloor = candidate
		}
	}

	shouldClose := false
	var reason types.CloseReason
	if currentBid > 0 && currentBid <= pos.StopFloor {
		shouldClose = true
		reason = types.CloseStopLoss
	}
	if hasWinProb && winProb < (1-b.cfg.ContextStopLossMargin) {
		shouldClose = true
		reason = types.CloseContextSL
	}
	b.mu.Unlock()

	if !shouldClose {
		return nil
	}
	return b.Close(ctx, signalID, currentBid, reason)
}

// Close exits a position at the given trigger price (or terminal settlement
// when called from resolution) and records realized PnL. A stop-loss close
// runs the escalating-floor ladder (module L / S2); every other reason is a
// single sell at the given price. A "sell:<signalID>" in-flight guard makes
// a Close that arrives while another Close for the same signal is still
// running return nil without submitting, so a retried EvaluateExit call
// never double-submits.
func (b *Bridge) Close(ctx context.Context, signalID string, exitPrice float64, reason types.CloseReason) error {
	key := "sell:" + signalID

	b.mu.Lock()
	if b.closing[key] {
		b.mu.Unlock()
		return nil
	}
	pos, ok := b.positions[signalID]
	if !ok {
		b.mu.Unlock()
		return nil
	}
	b.closing[key] = true
	b.mu.Unlock()
	defer func() {
		b.mu.Lock()
		delete(b.closing, key)
		b.mu.Unlock()
	}()

	var filledShares, avgFillPrice, spentUSD float64
	var attempts int
	var err error
	if reason == types.CloseStopLoss {
		filledShares, avgFillPrice, spentUSD, attempts, err = b.runStopLossLadder(ctx, pos, exitPrice)
	} else {
		attempts = 1
		var result types.OrderSubmissionResult
		if b.mode == "live" {
			result, err = b.client.Sell(ctx, pos.ExitToken, exitPrice, pos.Shares, types.Tick01)
		} else {
			result = types.OrderSubmissionResult{OK: true, FilledShares: pos.Shares, AvgFillPrice: exitPrice, SpentUSD: pos.Shares * exitPrice}
		}
		if err == nil && result.OK {
			filledShares, avgFillPrice, spentUSD = result.FilledShares, result.AvgFillPrice, result.SpentUSD
		} else if err == nil {
			err = fmt.Errorf("exit submission failed: %s", result.Error)
		}
	}

	if err != nil || filledShares <= 0 {
		msg := "sl_all_attempts_failed"
		if reason != types.CloseStopLoss {
			msg = "sell_failed"
		}
		if err != nil {
			msg = fmt.Sprintf("%s: %v", msg, err)
		}
		b.logger.Error("exit submission failed", "signal_id", signalID, "attempts", attempts, "reason", msg)
		if b.journal != nil {
			_ = b.journal.Executions.Log(journal.NewExecutionEvent(signalID, string(types.SELL), "sl_all_attempts_failed", b.mode, 0, 0, 0, msg))
		}
		return fmt.Errorf("exit submission failed after %d attempts: %s", attempts, msg)
	}

	isPartial := filledShares < pos.Shares-1e-9
	pnl := spentUSD - pos.SpentUSD*(filledShares/pos.Shares)

	b.mu.Lock()
	pos.Status = types.TradeFilled
	if isPartial {
		pos.Status = types.TradePartial
	}
	pos.ClosedAt = time.Now()
	pos.RealizedPnL = pnl
	pos.CloseReason = reason
	b.totalExposure -= pos.SpentUSD
	if b.totalExposure < 0 {
		b.totalExposure = 0
	}
	b.dailyRealizedPnL += pnl
	delete(b.positions, signalID)
	delete(b.byCondition, pos.ConditionID)
	dailyLoss := b.dailyRealizedPnL
	b.mu.Unlock()

	if b.journal != nil {
		_ = b.journal.Executions.Log(journal.NewExecutionEvent(signalID, string(types.SELL), string(pos.Status), b.mode, filledShares, avgFillPrice, spentUSD, string(reason)))
	}
	if b.onFill != nil {
		b.onFill(pos.ConditionID, signalID, string(types.SELL), avgFillPrice, filledShares)
	}

	if dailyLoss < -b.cfg.MaxPositionPerMarket*float64(b.cfg.MaxMarketsActive) {
		b.triggerKill(fmt.Sprintf("daily realized loss %.2f exceeds limit", dailyLoss))
	}
	return nil
}

// runStopLossLadder walks stopLossFloorSteps below triggerPrice, selling
// whatever remains unfilled at each increasingly aggressive floor, bounded
// at triggerPrice-stopLossFloorBound. It returns the weighted-average fill
// across every attempt that filled anything.
func (b *Bridge) runStopLossLadder(ctx context.Context, pos *Position, triggerPrice float64) (filledShares, avgFillPrice, spentUSD float64, attempts int, err error) {
	minPrice := triggerPrice - stopLossFloorBound
	remaining := pos.Shares

	for _, step := range stopLossFloorSteps {
		if remaining <= 1e-9 {
			break
		}
		attempts++
		price := math.Max(triggerPrice-step, minPrice)

		var result types.OrderSubmissionResult
		var sellErr error
		if b.mode == "live" {
			result, sellErr = b.client.Sell(ctx, pos.ExitToken, price, remaining, types.Tick01)
		} else {
			result = types.OrderSubmissionResult{OK: true, FilledShares: remaining, AvgFillPrice: price, SpentUSD: remaining * price}
		}
		if sellErr != nil || !result.OK || result.FilledShares <= 0 {
			continue
		}
		filledShares += result.FilledShares
		spentUSD += result.SpentUSD
		remaining -= result.FilledShares
	}

	if filledShares <= 0 {
		return 0, 0, 0, attempts, fmt.Errorf("every stop-loss floor attempt failed to fill")
	}
	return filledShares, spentUSD / filledShares, spentUSD, attempts, nil
}

func (b *Bridge) triggerKill(reason string) {
	b.mu.Lock()
	b.killActive = true
	b.killUntil = time.Now().Add(15 * time.Minute)
	b.mu.Unlock()
	b.logger.Error("execution kill switch engaged", "reason", reason, "until", b.killUntil)
	if b.onKill != nil {
		b.onKill(reason, "", b.killUntil)
	}
}

// SetFillHandler registers a callback invoked after every fill (entry or
// exit) with the condition ID, signal ID, side, fill price, and filled
// shares. Used by the engine to forward fills onto the status dashboard;
// the handler itself must be non-blocking since it runs inline with order
// submission.
func (b *Bridge) SetFillHandler(fn func(conditionID, signalID, side string, price, shares float64)) {
	b.onFill = fn
}

// SetKillHandler registers a callback invoked whenever the kill switch
// engages, with the triggering reason and the time it will clear.
func (b *Bridge) SetKillHandler(fn func(reason, conditionID string, until time.Time)) {
	b.onKill = fn
}

// Reconcile runs on cfg.ReconcileInterval and, in every mode, resets the
// daily PnL window when it is due and logs the open-position count and
// exposure. It does not check open positions against the exchange.
func (b *Bridge) Reconcile(ctx context.Context) {
	ticker := time.NewTicker(b.cfg.ReconcileInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.mu.Lock()
			if time.Now().After(b.dailyResetAt) {
				b.dailyRealizedPnL = 0
				b.dailyResetAt = time.Now().Add(24 * time.Hour)
			}
			open := len(b.positions)
			exposure := b.totalExposure
			b.mu.Unlock()
			b.logger.Info("reconcile", "open_positions", open, "exposure_usd", exposure)
		}
	}
}

// Snapshot returns copies of all open positions for the status surface.
func (b *Bridge) Snapshot() []Position {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Position, 0, len(b.positions))
	for _, p := range b.positions {
		out = append(out, *p)
	}
	return out
}
