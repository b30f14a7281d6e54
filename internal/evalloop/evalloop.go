// Package evalloop implements the evaluation loop (module K): the per-market
// cycle that ties every other module together. On each tick it expires
// stale watchlist entries, resolves YES/NO tokens for markets that don't
// have them yet, refreshes book and scoreboard context for markets still
// under watch, runs the filter chain and probability gate, and hands
// anything that clears every gate to the execution bridge.
package evalloop

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"marketbridge/internal/book"
	"marketbridge/internal/clock"
	"marketbridge/internal/config"
	"marketbridge/internal/execution"
	"marketbridge/internal/filter"
	"marketbridge/internal/httpqueue"
	"marketbridge/internal/journal"
	"marketbridge/internal/metrics"
	"marketbridge/internal/probability"
	"marketbridge/internal/resolution"
	"marketbridge/internal/resolver"
	"marketbridge/internal/scoreboard"
	"marketbridge/internal/watchlist"
	"marketbridge/pkg/types"
)

// pendingWindow is how long a market sits at "pending_signal" waiting for
// the gate to still pass before the signal fires (module K step 11 / S3).
const pendingWindow = 6 * time.Second

// mirrorStaleAfter bounds how old a mirror entry may be before the loop
// falls back to an HTTP fetch (§4.C dual-source pricing).
const mirrorStaleAfter = 10 * time.Second

// httpFetchTimeout bounds how long a single queued HTTP book fetch may run
// before the loop gives up and falls back to whatever the mirror has.
const httpFetchTimeout = 2500 * time.Millisecond

// bookFetcher is the subset of the exchange client the loop uses for the
// HTTP-fallback leg of dual-source pricing.
type bookFetcher interface {
	GetOrderBook(ctx context.Context, tokenID string) (*types.BookResponse, error)
}

// Loop runs the evaluation cycle on a fixed interval.
type Loop struct {
	cfg         config.Config
	clk         clock.Clock
	mirror      *book.Mirror
	watch       *watchlist.Store
	chain       *filter.Chain
	nearMargin  *filter.NearMarginGate
	scoreboards map[string]*scoreboard.Adapter // league slug -> adapter
	bridge      *execution.Bridge
	metricsT    *metrics.Tracker
	resTracker  *resolution.Tracker
	jrnl        *journal.Journal
	queue       *httpqueue.Queue
	fetcher     bookFetcher
	onSignal    func(conditionID, signalID, slug string, entryPrice, winProb float64)
	logger      *slog.Logger

	interval time.Duration
}

// Deps bundles the collaborators the loop drives each tick.
type Deps struct {
	Clock       clock.Clock
	Mirror      *book.Mirror
	Watchlist   *watchlist.Store
	Chain       *filter.Chain
	NearMargin  *filter.NearMarginGate
	Scoreboards map[string]*scoreboard.Adapter
	Bridge      *execution.Bridge
	Metrics     *metrics.Tracker
	Resolution  *resolution.Tracker
	Journal     *journal.Journal
	Queue       *httpqueue.Queue
	Fetcher     bookFetcher
}

// New creates an evaluation loop.
func New(cfg config.Config, d Deps, logger *slog.Logger) *Loop {
	return &Loop{
		cfg:         cfg,
		clk:         d.Clock,
		mirror:      d.Mirror,
		watch:       d.Watchlist,
		chain:       d.Chain,
		nearMargin:  d.NearMargin,
		scoreboards: d.Scoreboards,
		bridge:      d.Bridge,
		metricsT:    d.Metrics,
		resTracker:  d.Resolution,
		jrnl:        d.Journal,
		queue:       d.Queue,
		fetcher:     d.Fetcher,
		logger:      logger.With("component", "evalloop"),
		interval:    2 * time.Second,
	}
}

// SetSignalHandler registers a callback invoked whenever a signal fires,
// for the engine to forward onto the status dashboard. The handler must be
// non-blocking since it runs inline with the evaluation cycle.
func (l *Loop) SetSignalHandler(fn func(conditionID, signalID, slug string, entryPrice, winProb float64)) {
	l.onSignal = fn
}

// Run drives the evaluation cycle until ctx is canceled.
func (l *Loop) Run(ctx context.Context) error {
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			l.tick(ctx)
		}
	}
}

func (l *Loop) tick(ctx context.Context) {
	openConditionIDs := l.bridge.OpenConditionIDs()
	wsFresh := l.wsFreshConditionIDs()

	expired, reverted, purged := l.watch.ExpireStale(openConditionIDs, wsFresh)
	if expired > 0 || reverted > 0 || purged > 0 {
		l.logger.Debug("watchlist timers", "expired", expired, "reverted_to_watching", reverted, "purged", purged)
	}

	markets := l.watch.Snapshot()
	l.resolveTokens(ctx, markets)

	for _, m := range markets {
		l.evaluate(ctx, m)
	}

	l.watch.Purge(24 * time.Hour)
}

// wsFreshConditionIDs reports which watched markets have a recently updated
// streaming mirror entry on either side of their token pair, the
// streaming-health half of the live-protection override (module F).
func (l *Loop) wsFreshConditionIDs() map[string]bool {
	out := make(map[string]bool)
	for _, m := range l.watch.Snapshot() {
		fresh := false
		for _, tok := range m.TokenPair {
			if tok != "" && !l.mirror.IsStale(tok, mirrorStaleAfter) {
				fresh = true
				break
			}
		}
		if fresh {
			out[m.ConditionID] = true
		}
	}
	return out
}

// resolveTokens runs the per-cycle token-resolution scheduler (module G).
// Markets without a YES/NO assignment yet are ranked by Rank desc, LastSeen
// asc, Slug asc and probed up to cfg.Resolver.MaxResolvesPerCycle times —
// zero while any market is mid pending-signal window, since a resolve
// probe's HTTP fallback would otherwise compete with the time-boxed signal
// decision for the queue.
func (l *Loop) resolveTokens(ctx context.Context, markets []watchlist.Market) {
	budget := l.cfg.Resolver.MaxResolvesPerCycle
	for _, m := range markets {
		if m.Status == types.StatusPendingSignal {
			return
		}
	}
	if budget <= 0 {
		return
	}

	var candidates []watchlist.Market
	for _, m := range markets {
		if m.YesToken != "" || m.NoToken != "" {
			continue
		}
		if m.Status == types.StatusClosed || m.Status == types.StatusExpired {
			continue
		}
		candidates = append(candidates, m)
	}
	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.Rank != b.Rank {
			return a.Rank > b.Rank
		}
		if a.LastSeen != b.LastSeen {
			return a.LastSeen < b.LastSeen
		}
		return a.Slug < b.Slug
	})

	for i, m := range candidates {
		if i >= budget {
			break
		}
		l.metricsT.Record(func(fc *metrics.FunnelCounts) { fc.ResolveAttempts++ })

		books, ok := resolver.BooksFromMirror(l.mirror, m.TokenPair)
		for side := range books {
			if ok[side] {
				continue
			}
			pb, fetchErr := l.fetchBookEitherSource(ctx, m.TokenPair[side])
			if fetchErr == nil {
				books[side], ok[side] = pb, true
			}
		}
		if !ok[0] || !ok[1] {
			l.metricsT.Record(func(fc *metrics.FunnelCounts) { fc.ResolveFail++ })
			continue
		}

		decision := resolver.Resolve(m.TokenPair, m.Outcomes, books)
		if !decision.Resolved {
			l.logger.Debug("resolve failed", "market", m.Slug, "reason", decision.Reason)
			l.metricsT.Record(func(fc *metrics.FunnelCounts) { fc.ResolveFail++ })
			continue
		}
		l.watch.SetTokens(m.ConditionID, decision.EntryToken, decision.ExitToken)
		l.metricsT.Record(func(fc *metrics.FunnelCounts) { fc.ResolveSuccess++ })
	}
}

// fetchBookEitherSource prefers a fresh mirror entry; otherwise it submits
// an HTTP fetch through the rate-limited queue and waits up to
// httpFetchTimeout, falling back to a stale mirror entry if the HTTP leg
// also fails (§4.C dual-source pricing).
func (l *Loop) fetchBookEitherSource(ctx context.Context, assetID string) (types.ParsedBook, error) {
	if pb, ok := l.mirror.Get(assetID); ok && !l.mirror.IsStale(assetID, mirrorStaleAfter) {
		return pb, nil
	}

	if l.queue != nil && l.fetcher != nil {
		type result struct {
			pb  types.ParsedBook
			err error
		}
		resCh := make(chan result, 1)
		err := l.queue.Submit(httpqueue.Job{
			Name: "fetch_book:" + assetID,
			Run: func(jobCtx context.Context) error {
				resp, err := l.fetcher.GetOrderBook(jobCtx, assetID)
				if err != nil {
					resCh <- result{err: err}
					return err
				}
				resCh <- result{pb: book.Parse(assetID, resp.Bids, resp.Asks)}
				return nil
			},
		})
		if err == nil {
			fetchCtx, cancel := context.WithTimeout(ctx, httpFetchTimeout)
			defer cancel()
			select {
			case r := <-resCh:
				if r.err == nil {
					l.mirror.Update(assetID, r.pb)
					return r.pb, nil
				}
			case <-fetchCtx.Done():
			}
		}
	}

	if pb, ok := l.mirror.Get(assetID); ok {
		return pb, nil
	}
	return types.ParsedBook{}, fmt.Errorf("no book available for %s", assetID)
}

// complementBook applies the binary-market complement rule to fill in the
// side of the quote that couldn't be fetched, and reports the classification
// when only one side had data (§4.C / §4.K step 5).
func complementBook(yes, no types.ParsedBook, yesOK, noOK bool) (bid, ask float64, oneSided bool) {
	switch {
	case yesOK && noOK:
		ask = min(yes.BestAsk, 1-no.BestBid)
		bid = max(yes.BestBid, 1-no.BestAsk)
		return bid, ask, false
	case yesOK:
		return yes.BestBid, yes.BestAsk, true
	case noOK:
		return 1 - no.BestAsk, 1 - no.BestBid, true
	default:
		return 0, 0, true
	}
}

func (l *Loop) evaluate(ctx context.Context, m watchlist.Market) {
	if m.Status == types.StatusClosed || m.Status == types.StatusExpired {
		return
	}
	if m.YesToken == "" || m.NoToken == "" {
		return // awaiting the resolver (module G)
	}

	yesBook, yesOK := l.mirror.Get(m.YesToken)
	noBook, noOK := l.mirror.Get(m.NoToken)
	bid, ask, oneSided := complementBook(yesBook, noBook, yesOK, noOK)
	if !yesOK && !noOK {
		return
	}
	l.watch.RecordQuoteCompleteness(m.ConditionID, !oneSided)
	if oneSided {
		l.logger.Debug("quote_incomplete_one_sided_book", "market", m.Slug)
	}

	pb := types.ParsedBook{AssetID: m.YesToken, BestBid: bid, BestAsk: ask, HasBid: bid > 0, HasAsk: ask > 0}
	depth := book.Depth(yesBook, l.cfg.Filters.DepthLevels)
	l.watch.UpdatePrice(m.ConditionID, bid, ask)
	l.watch.RecordTradeability(m.ConditionID, pb.HasBid && pb.HasAsk)

	if l.jrnl != nil && pb.HasBid && pb.HasAsk {
		_ = l.jrnl.PriceTicks.Log(journal.NewPriceTickEvent(m.YesToken, bid, ask, "mirror"))
	}

	ctxSnap := l.refreshContext(m)
	l.watch.UpdateContext(m.ConditionID, ctxSnap)
	lg := l.cfg.Leagues[m.League]
	entryGate := probability.EntryGate(ctxSnap, l.cfg.Probability, lg)

	cand := filter.Candidate{
		AssetID:   m.YesToken,
		League:    m.League,
		Book:      pb,
		Depth:     depth,
		Context:   ctxSnap,
		EntryGate: entryGate,
	}

	switch m.Status {
	case types.StatusWatching:
		l.evaluateWatching(m, cand)
	case types.StatusPendingSignal:
		l.evaluatePending(ctx, m, cand, pb)
	case types.StatusSignaled, types.StatusTraded:
		l.evaluateOpen(ctx, m, entryGate, pb)
	}
}

// evaluateWatching opens the pending-signal decision window the moment a
// market enters the near-margin window, snapshotting which branch (ask,
// spread, or both) it qualified on as the signal type (module K step 11 / S3).
func (l *Loop) evaluateWatching(m watchlist.Market, cand filter.Candidate) {
	nearBy := l.nearMargin.NearBy(cand)
	if nearBy == "none" {
		return
	}
	sigType := types.SignalUnknown
	switch nearBy {
	case "spread":
		sigType = types.SignalMicrostructure
	case "ask", "both":
		sigType = types.SignalHighProb
	}
	deadline := l.clk.NowMS() + pendingWindow.Milliseconds()
	l.watch.EnterPending(m.ConditionID, deadline, cand.Book.BestBid, sigType)
}

// evaluatePending runs the full filter chain during the pending-signal
// window; a market that clears every gate before its deadline fires a
// signal and enters execution, one that times out reverts to watching, and
// one that still hasn't cleared the gate but hasn't timed out either is left
// alone to re-evaluate next cycle (module K step 11 / S3).
func (l *Loop) evaluatePending(ctx context.Context, m watchlist.Market, cand filter.Candidate, pb types.ParsedBook) {
	pass, failed, reason := l.chain.Evaluate(ctx, cand)
	timedOut := l.clk.NowMS() >= m.PendingDeadlineTS

	if timedOut || !pass {
		if timedOut {
			l.logger.Debug("signal window timed out", "market", m.Slug, "filter", failed, "reason", reason)
			if l.jrnl != nil {
				_ = l.jrnl.Signals.Log(journal.NewSignalTimeoutEvent(m.Slug, string(m.SignalType)))
			}
			l.watch.RevertToWatching(m.ConditionID)
		}
		return
	}

	l.metricsT.Record(func(fc *metrics.FunnelCounts) { fc.ContextPassed++ })
	if cand.EntryGate.WinProb > 0 {
		l.metricsT.RecordWinProb(cand.EntryGate.WinProb)
	}

	signalID := clock.NewSignalID(l.clk.NowMS(), m.Slug)
	if l.jrnl != nil {
		_ = l.jrnl.Signals.Log(journal.NewSignalEvent(signalID, m.Slug, string(m.SignalType), pb.BestAsk, cand.EntryGate.WinProb))
	}
	if l.onSignal != nil {
		l.onSignal(m.ConditionID, signalID, m.Slug, pb.BestAsk, cand.EntryGate.WinProb)
	}
	l.metricsT.Record(func(fc *metrics.FunnelCounts) { fc.Signaled++ })

	l.watch.Transition(m.ConditionID, types.StatusSignaled)
	pos, err := l.bridge.Enter(ctx, signalID, m.ConditionID, m.YesToken, m.NoToken, pb.BestAsk)
	if err != nil {
		l.logger.Warn("entry failed", "market", m.Slug, "error", err)
		l.watch.Transition(m.ConditionID, types.StatusWatching)
		return
	}
	l.resTracker.Start(m.ConditionID, pos.EntryPrice)
	l.watch.Transition(m.ConditionID, types.StatusTraded)
}

// evaluateOpen drives exit evaluation and resolution sampling for an
// executed position.
func (l *Loop) evaluateOpen(ctx context.Context, m watchlist.Market, entryGate types.ContextEntrySnapshot, pb types.ParsedBook) {
	var winProb float64
	var hasWinProb bool
	if entryGate.WinProb > 0 {
		winProb, hasWinProb = entryGate.WinProb, true
	}
	if err := l.bridge.EvaluateExit(ctx, m.ConditionID, pb.BestBid, winProb, hasWinProb); err != nil {
		l.logger.Warn("exit evaluation failed", "market", m.Slug, "error", err)
	}
	l.resTracker.Sample(m.ConditionID, pb.BestBid, l.cfg.Watchlist.TerminalAskThreshold)
	if tr, ok := l.resTracker.Get(m.ConditionID); ok && tr.Resolved {
		l.watch.Transition(m.ConditionID, types.StatusClosed)
		l.resTracker.Forget(m.ConditionID)
	}
}

func (l *Loop) refreshContext(m watchlist.Market) types.ContextSnapshot {
	lg, ok := l.cfg.Leagues[m.League]
	if !ok {
		return m.Context
	}
	adapter, ok := l.scoreboards[m.League]
	if !ok {
		return m.Context
	}
	events, err := adapter.Events(context.Background())
	if err != nil {
		l.logger.Debug("scoreboard fetch failed", "league", m.League, "error", err)
		return m.Context
	}
	teamA, teamB := splitTeams(m.Question)
	ev, found := scoreboard.Match(events, teamA, teamB)
	if !found {
		return m.Context
	}
	snap := adapter.DeriveContext(ev, lg.MatchKind, true)
	if l.jrnl != nil {
		_ = l.jrnl.ContextSnapshots.Log(journal.NewContextSnapshotEvent(m.Slug, string(snap.State), snap.Period, snap.MinutesLeft, snap.TeamAScore, snap.TeamBScore))
	}
	return snap
}

// splitTeams extracts the two team names from a discovery question of the
// form "X vs. Y" (also "X vs Y", "X v. Y" and "X @ Y"). Falls back to the raw
// question twice when no separator is recognized, which simply fails the
// scoreboard match.
func splitTeams(question string) (string, string) {
	for _, sep := range []string{" vs. ", " vs ", " v. ", " @ "} {
		if idx := indexOf(question, sep); idx >= 0 {
			return question[:idx], question[idx+len(sep):]
		}
	}
	return question, question
}

func indexOf(s, sub string) int {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return i
		}
	}
	return -1
}
