// Package watchlist implements the watchlist market store (module F): the
// admit/update/expire/evict/purge lifecycle for every market record under
// consideration. It is the single place status transitions are made, so the
// evaluation loop and status surface always observe a consistent view.
package watchlist

import (
	"sync"
	"time"

	"marketbridge/internal/clock"
	"marketbridge/internal/config"
	"marketbridge/pkg/types"
)

// Market is one record under watch, covering its lifecycle, pricing, and
// derived context.
type Market struct {
	ConditionID string
	Slug        string
	League      string
	Question    string
	TokenPair   [2]string
	Outcomes    [2]string
	Status      types.MarketStatus
	EndDate     time.Time

	AdmittedAt  int64 // ms
	StatusSince int64 // ms, last transition time
	Rank        float64

	// YesToken/NoToken are set by the token resolver (module G) once it has
	// decided which side of TokenPair is the entry side. Empty until resolved.
	YesToken string
	NoToken  string

	Context  types.ContextSnapshot
	LastBid  float64
	LastAsk  float64
	LastSeen int64 // ms

	SignalID string // set once a signal has fired

	// TerminalConfirmedAt sustains the terminal-price purge (module F / S1):
	// set the first cycle the book crosses a terminal threshold, cleared the
	// moment it no longer does. The market only purges once this has held
	// for TerminalConfirmSeconds.
	TerminalConfirmedAt int64

	// Purge-gate timers (module F): each is set the first cycle its
	// condition starts holding, cleared the moment it no longer does. A
	// market purges once one of these has held longer than its configured
	// staleness budget, subject to the live-protection override.
	LastBookUpdateTS       int64
	FirstIncompleteQuoteTS int64
	FirstBadTradeabilityTS int64

	// Pending-signal window bookkeeping (module K step 11 / S3).
	PendingSinceTS    int64
	PendingDeadlineTS int64
	EntryBidSnapshot  float64
	SignalType        types.SignalType
}

// Store is the concurrency-safe in-memory watchlist, backed by periodic
// snapshotting to the persistent store.
type Store struct {
	mu      sync.RWMutex
	markets map[string]*Market // keyed by ConditionID
	cfg     config.WatchlistConfig
	clk     clock.Clock
}

// New creates an empty watchlist store.
func New(cfg config.WatchlistConfig, clk clock.Clock) *Store {
	return &Store{
		markets: make(map[string]*Market),
		cfg:     cfg,
		clk:     clk,
	}
}

// Admit inserts a new candidate at status "watching", or non-destructively
// merges fresh metadata onto an existing record if already present. Markets
// outside the configured date window — ending sooner than MinDaysDelta days
// out, or farther out than MaxEndDateDays — are rejected outright.
func (s *Store) Admit(c types.MarketCandidate, league string) bool {
	daysDelta := time.Until(c.EndDate).Hours() / 24
	if daysDelta < float64(s.cfg.MinDaysDelta) || daysDelta > float64(s.cfg.MaxEndDateDays) {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clk.NowMS()
	if m, ok := s.markets[c.ConditionID]; ok {
		// Non-destructive merge: metadata that only ever gets more accurate
		// is refreshed, but a token pair the resolver has already keyed off
		// of is never clobbered with a re-scraped one unless the existing
		// pair is itself empty/invalid.
		m.Question = c.Question
		m.EndDate = c.EndDate
		if m.TokenPair == ([2]string{}) {
			m.TokenPair = c.TokenPair
			m.Outcomes = c.Outcomes
		}
		return true
	}

	s.markets[c.ConditionID] = &Market{
		ConditionID: c.ConditionID,
		Slug:        c.Slug,
		League:      league,
		Question:    c.Question,
		TokenPair:   c.TokenPair,
		Outcomes:    c.Outcomes,
		Status:      types.StatusWatching,
		EndDate:     c.EndDate,
		AdmittedAt:  now,
		StatusSince: now,
	}

	s.enforceCapacityLocked()
	return true
}

// evictionOrder ranks statuses from "evict first" to "evict last" (module F
// eviction precedence). The spec's vocabulary names an "ignored" status this
// codebase doesn't have; "closed" fills that slot, since a closed market
// (resolved/purged) is exactly as safe to evict as an explicitly ignored one.
var evictionOrder = []types.MarketStatus{
	types.StatusExpired,
	types.StatusClosed,
	types.StatusTraded,
	types.StatusPendingSignal,
	types.StatusSignaled,
	types.StatusWatching,
}

func evictionRank(status types.MarketStatus) int {
	for i, st := range evictionOrder {
		if st == status {
			return i
		}
	}
	return len(evictionOrder)
}

// enforceCapacityLocked evicts markets over MaxSize, in evictionOrder
// precedence, tie-broken by oldest LastSeen first. Must be called with
// s.mu held.
func (s *Store) enforceCapacityLocked() {
	for len(s.markets) > s.cfg.MaxSize {
		var worst *Market
		for _, m := range s.markets {
			if worst == nil {
				worst = m
				continue
			}
			wr, mr := evictionRank(worst.Status), evictionRank(m.Status)
			if mr < wr || (mr == wr && m.LastSeen < worst.LastSeen) {
				worst = m
			}
		}
		if worst == nil {
			return
		}
		delete(s.markets, worst.ConditionID)
	}
}

// UpdatePrice records the latest observed bid/ask for a market's entry
// token and marks the book as freshly updated (module F purge-gate timer).
func (s *Store) UpdatePrice(conditionID string, bid, ask float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.markets[conditionID]
	if !ok {
		return
	}
	m.LastBid, m.LastAsk = bid, ask
	now := s.clk.NowMS()
	m.LastSeen = now
	m.LastBookUpdateTS = now
}

// UpdateContext records the latest scoreboard-derived context for a market.
func (s *Store) UpdateContext(conditionID string, ctx types.ContextSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.markets[conditionID]
	if !ok {
		return
	}
	m.Context = ctx
}

// SetTokens records the token resolver's (module G) YES/NO assignment.
func (s *Store) SetTokens(conditionID, yesToken, noToken string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.markets[conditionID]
	if !ok {
		return
	}
	m.YesToken, m.NoToken = yesToken, noToken
}

// RecordQuoteCompleteness starts or clears the incomplete-quote purge-gate
// timer (module F), set the first cycle a market's book is missing a side.
func (s *Store) RecordQuoteCompleteness(conditionID string, complete bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.markets[conditionID]
	if !ok {
		return
	}
	if complete {
		m.FirstIncompleteQuoteTS = 0
		return
	}
	if m.FirstIncompleteQuoteTS == 0 {
		m.FirstIncompleteQuoteTS = s.clk.NowMS()
	}
}

// RecordTradeability starts or clears the bad-tradeability purge-gate timer.
func (s *Store) RecordTradeability(conditionID string, tradeable bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.markets[conditionID]
	if !ok {
		return
	}
	if tradeable {
		m.FirstBadTradeabilityTS = 0
		return
	}
	if m.FirstBadTradeabilityTS == 0 {
		m.FirstBadTradeabilityTS = s.clk.NowMS()
	}
}

// EnterPending transitions a market to "pending_signal", opening its
// decision window (default 6 seconds) and snapshotting the bid the signal
// fired against plus how it qualified (module K step 11 / S3).
func (s *Store) EnterPending(conditionID string, deadline int64, entryBidSnapshot float64, sigType types.SignalType) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.markets[conditionID]
	if !ok {
		return
	}
	now := s.clk.NowMS()
	m.Status = types.StatusPendingSignal
	m.StatusSince = now
	m.PendingSinceTS = now
	m.PendingDeadlineTS = deadline
	m.EntryBidSnapshot = entryBidSnapshot
	m.SignalType = sigType
}

// RevertToWatching reverts a timed-out or re-failed pending signal back to
// "watching", clearing its pending-window bookkeeping.
func (s *Store) RevertToWatching(conditionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.markets[conditionID]
	if !ok {
		return
	}
	m.Status = types.StatusWatching
	m.StatusSince = s.clk.NowMS()
	m.PendingSinceTS = 0
	m.PendingDeadlineTS = 0
	m.EntryBidSnapshot = 0
	m.SignalType = ""
}

// Transition moves a market to a new status, recording the transition time.
func (s *Store) Transition(conditionID string, status types.MarketStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.markets[conditionID]
	if !ok {
		return
	}
	m.Status = status
	m.StatusSince = s.clk.NowMS()
}

// Get returns a copy of a market's current state.
func (s *Store) Get(conditionID string) (Market, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.markets[conditionID]
	if !ok {
		return Market{}, false
	}
	return *m, true
}

// Snapshot returns a copy of every market, for the evaluation loop's cycle
// and the status surface.
func (s *Store) Snapshot() []Market {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Market, 0, len(s.markets))
	for _, m := range s.markets {
		out = append(out, *m)
	}
	return out
}

// ExpireStale reverts "watching" markets past AdmitTTL to "expired" and
// "pending_signal" markets past PendingTTL back to "watching"; purges
// markets whose price has sustained a terminal value (module F / S1,
// excluding markets with an open position); and purges markets that have
// failed a purge-gate timer (stale book, sustained incomplete quote, or
// sustained bad tradeability), unless the live-protection override applies.
//
// openConditionIDs names markets the execution bridge still holds a
// position in — exempt from terminal-price purge so a resolving market
// doesn't get yanked out from under an open exit. wsFreshConditionIDs names
// markets the streaming client has a recently updated book for — the
// "streaming healthy" half of the live-protection override; the external
// freshness-snapshot half the spec also describes has no ingested data
// source in this codebase and is not implemented.
func (s *Store) ExpireStale(openConditionIDs, wsFreshConditionIDs map[string]bool) (expired, reverted, purged int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clk.NowMS()
	for _, m := range s.markets {
		switch m.Status {
		case types.StatusWatching:
			if now-m.StatusSince > s.cfg.AdmitTTL.Milliseconds() {
				m.Status = types.StatusExpired
				m.StatusSince = now
				expired++
				continue
			}
		case types.StatusPendingSignal:
			if now-m.StatusSince > s.cfg.PendingTTL.Milliseconds() {
				m.Status = types.StatusWatching
				m.StatusSince = now
				m.PendingSinceTS, m.PendingDeadlineTS = 0, 0
				reverted++
				continue
			}
		case types.StatusClosed, types.StatusExpired:
			continue
		}

		if s.applyTerminalPurgeLocked(m, now, openConditionIDs) {
			purged++
			continue
		}
		if s.applyPurgeGatesLocked(m, now, wsFreshConditionIDs[m.ConditionID]) {
			purged++
		}
	}
	return expired, reverted, purged
}

// applyTerminalPurgeLocked implements the sustained terminal-price purge
// (module F / S1). Must be called with s.mu held.
func (s *Store) applyTerminalPurgeLocked(m *Market, now int64, openConditionIDs map[string]bool) bool {
	if isTerminalPrice(m.LastBid, m.LastAsk, s.cfg.TerminalBidThreshold, s.cfg.TerminalAskThreshold) {
		if m.TerminalConfirmedAt == 0 {
			m.TerminalConfirmedAt = now
		}
		sustainedMS := int64(s.cfg.TerminalConfirmSeconds) * 1000
		if now-m.TerminalConfirmedAt >= sustainedMS && !openConditionIDs[m.ConditionID] {
			m.Status = types.StatusClosed
			m.StatusSince = now
			return true
		}
		return false
	}
	m.TerminalConfirmedAt = 0
	return false
}

func isTerminalPrice(bid, ask, bidThreshold, askThreshold float64) bool {
	if bid == 0 && ask == 0 {
		return false
	}
	return bid >= bidThreshold || ask <= askThreshold
}

// applyPurgeGatesLocked implements the three purge-gate timers (module F):
// stale book, sustained incomplete quote, sustained bad tradeability. A
// fresh streaming book (wsFresh) overrides all three — the live-protection
// half this codebase implements (see ExpireStale's doc comment). Must be
// called with s.mu held.
func (s *Store) applyPurgeGatesLocked(m *Market, now int64, wsFresh bool) bool {
	if wsFresh {
		return false
	}
	purge := false
	if m.LastBookUpdateTS != 0 && now-m.LastBookUpdateTS > s.cfg.StaleBookMinutes.Milliseconds() {
		purge = true
	}
	if m.FirstIncompleteQuoteTS != 0 && now-m.FirstIncompleteQuoteTS > s.cfg.StaleQuoteMinutes.Milliseconds() {
		purge = true
	}
	if m.FirstBadTradeabilityTS != 0 && now-m.FirstBadTradeabilityTS > s.cfg.StaleTradeabilityMinutes.Milliseconds() {
		purge = true
	}
	if purge {
		m.Status = types.StatusClosed
		m.StatusSince = now
	}
	return purge
}

// Purge removes markets at status "expired" or "closed" older than
// keepAfter, freeing capacity for new candidates.
func (s *Store) Purge(keepAfter time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clk.NowMS()
	removed := 0
	for id, m := range s.markets {
		if m.Status != types.StatusExpired && m.Status != types.StatusClosed {
			continue
		}
		if now-m.StatusSince > keepAfter.Milliseconds() {
			delete(s.markets, id)
			removed++
		}
	}
	return removed
}

// CountByLeagueAndStatus returns how many markets are at a given status for
// a league, used to enforce per-league quotas.
func (s *Store) CountByLeagueAndStatus(league string, status types.MarketStatus) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, m := range s.markets {
		if m.League == league && m.Status == status {
			n++
		}
	}
	return n
}
