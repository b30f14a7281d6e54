package evalloop

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"marketbridge/internal/book"
	"marketbridge/internal/config"
	"marketbridge/internal/execution"
	"marketbridge/internal/filter"
	"marketbridge/internal/metrics"
	"marketbridge/internal/resolution"
	"marketbridge/internal/watchlist"
	"marketbridge/pkg/types"
)

type fakeClock struct{ ms int64 }

func (f *fakeClock) NowMS() int64 { return f.ms }

func baseCfg() config.Config {
	return config.Config{
		Filters: config.FilterConfig{
			MinProb:          0.5,
			MaxEntryPrice:    0.9,
			MaxSpread:        0.1,
			NearProbMin:      0.75,
			NearSpreadMax:    0.08,
			MinEntryDepthUSD: 1,
			MinExitDepthUSD:  1,
			DepthLevels:      3,
		},
		Probability: config.ProbabilityConfig{
			MinWinProb:          0.5,
			MinMinutesRemaining: 1,
		},
		Watchlist: config.WatchlistConfig{
			MaxSize:              100,
			AdmitTTL:             time.Hour,
			PendingTTL:           time.Hour,
			MaxEndDateDays:       365,
			MinDaysDelta:         0,
			TerminalBidThreshold: 0.98,
			TerminalAskThreshold: 0.02,
		},
		Resolver: config.ResolverConfig{MaxResolvesPerCycle: 5},
		Leagues: map[string]config.LeagueConfig{
			"nba": {
				MatchKind:    "basketball",
				FinalPeriod:  4,
				TotalMinutes: 48,
				SigmaPerMin:  1.5,
				MaxMinLeft:   10,
				MinMargin:    5,
			},
		},
	}
}

func newTestLoop(cfg config.Config) (*Loop, *watchlist.Store, *book.Mirror, *execution.Bridge) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	clk := &fakeClock{ms: 1000}
	mirror := book.NewMirror()
	store := watchlist.New(cfg.Watchlist, clk)
	chain := filter.NewChain(filter.NewStage1BaseGate(cfg), filter.NewStage2DepthGate(cfg.Filters), filter.NewContextEntryGate())
	nearMargin := filter.NewNearMarginGate(cfg)
	bridge := execution.New(config.ExecutionConfig{
		OrderSizeUSD: 10, MaxPositionPerMarket: 50, MaxGlobalExposure: 500, MaxMarketsActive: 5,
		StopLossFloorPct: 0.1, ContextStopLossMargin: 0.2,
	}, "paper", nil, nil, metrics.NewTracker(), logger)

	l := New(cfg, Deps{
		Clock:      clk,
		Mirror:     mirror,
		Watchlist:  store,
		Chain:      chain,
		NearMargin: nearMargin,
		Bridge:     bridge,
		Metrics:    metrics.NewTracker(),
		Resolution: resolution.New(),
	}, logger)
	return l, store, mirror, bridge
}

// admitMarket admits a market under "nba" with a fixed token pair and
// immediately resolves its YES/NO assignment so tests that exercise the
// filter/signal path don't also need to drive the resolver.
func admitMarket(store *watchlist.Store, conditionID string, ctxSnap types.ContextSnapshot) {
	store.Admit(types.MarketCandidate{
		ConditionID: conditionID,
		Slug:        "lal-bos",
		Question:    "Will the Lakers beat the Celtics?",
		TokenPair:   [2]string{"tok-yes", "tok-no"},
		Outcomes:    [2]string{"Yes", "No"},
		EndDate:     time.Now().Add(time.Hour),
	}, "nba")
	store.UpdateContext(conditionID, ctxSnap)
	store.SetTokens(conditionID, "tok-yes", "tok-no")
}

func winningContext() types.ContextSnapshot {
	return types.ContextSnapshot{
		State:       types.GameIn,
		MatchKind:   "basketball",
		Period:      4,
		MinutesLeft: 5,
		TeamAScore:  90,
		TeamBScore:  60,
	}
}

func TestEvaluateWatchingEntersPendingWindowInMargin(t *testing.T) {
	t.Parallel()
	l, store, mirror, _ := newTestLoop(baseCfg())
	admitMarket(store, "cond1", winningContext())
	mirror.Update("tok-yes", book.Parse("tok-yes", []types.PriceLevel{{Price: "0.75", Size: "100"}}, []types.PriceLevel{{Price: "0.80", Size: "100"}}))

	m, _ := store.Get("cond1")
	l.evaluate(context.Background(), m)

	m, _ = store.Get("cond1")
	if m.Status != types.StatusPendingSignal {
		t.Fatalf("Status = %v, want pending_signal", m.Status)
	}
	if m.SignalType == "" {
		t.Errorf("SignalType not recorded entering the pending window")
	}
	if m.PendingDeadlineTS <= 1000 {
		t.Errorf("PendingDeadlineTS = %d, want a deadline after the clock's current time", m.PendingDeadlineTS)
	}
}

func TestEvaluateWatchingStaysWatchingOutsideMargin(t *testing.T) {
	t.Parallel()
	l, store, mirror, _ := newTestLoop(baseCfg())
	admitMarket(store, "cond1", winningContext())
	mirror.Update("tok-yes", book.Parse("tok-yes", []types.PriceLevel{{Price: "0.10", Size: "100"}}, []types.PriceLevel{{Price: "0.20", Size: "100"}}))

	m, _ := store.Get("cond1")
	l.evaluate(context.Background(), m)

	m, _ = store.Get("cond1")
	if m.Status != types.StatusWatching {
		t.Errorf("Status = %v, want watching (ask well below near-margin window)", m.Status)
	}
}

func TestEvaluateMissingBookIsNoop(t *testing.T) {
	t.Parallel()
	l, store, _, _ := newTestLoop(baseCfg())
	admitMarket(store, "cond1", winningContext())

	m, _ := store.Get("cond1")
	l.evaluate(context.Background(), m)

	m, _ = store.Get("cond1")
	if m.Status != types.StatusWatching {
		t.Errorf("Status = %v, want unchanged watching when neither side's book has been seen", m.Status)
	}
}

func TestEvaluateUnresolvedTokensIsNoop(t *testing.T) {
	t.Parallel()
	l, store, mirror, _ := newTestLoop(baseCfg())
	store.Admit(types.MarketCandidate{
		ConditionID: "cond1",
		Slug:        "lal-bos",
		Question:    "Will the Lakers beat the Celtics?",
		TokenPair:   [2]string{"tok-yes", "tok-no"},
		Outcomes:    [2]string{"Yes", "No"},
		EndDate:     time.Now().Add(time.Hour),
	}, "nba")
	store.UpdateContext("cond1", winningContext())
	mirror.Update("tok-yes", book.Parse("tok-yes", []types.PriceLevel{{Price: "0.75", Size: "100"}}, []types.PriceLevel{{Price: "0.80", Size: "100"}}))

	m, _ := store.Get("cond1")
	if m.YesToken != "" || m.NoToken != "" {
		t.Fatalf("test setup: expected unresolved tokens")
	}
	l.evaluate(context.Background(), m)

	m, _ = store.Get("cond1")
	if m.Status != types.StatusWatching {
		t.Errorf("Status = %v, want unchanged watching while awaiting the token resolver", m.Status)
	}
}

func TestEvaluatePendingEntersOnPass(t *testing.T) {
	t.Parallel()
	l, store, mirror, bridge := newTestLoop(baseCfg())
	admitMarket(store, "cond1", winningContext())
	store.EnterPending("cond1", 100000, 0.75, types.SignalHighProb)
	mirror.Update("tok-yes", book.Parse("tok-yes", []types.PriceLevel{{Price: "0.75", Size: "100"}}, []types.PriceLevel{{Price: "0.80", Size: "100"}}))

	m, _ := store.Get("cond1")
	l.evaluate(context.Background(), m)

	m, _ = store.Get("cond1")
	if m.Status != types.StatusTraded {
		t.Fatalf("Status = %v, want traded after a passing signal", m.Status)
	}
	if bridge.OpenCount() != 1 {
		t.Errorf("OpenCount() = %d, want 1", bridge.OpenCount())
	}
}

func TestEvaluatePendingTimesOutRevertsToWatching(t *testing.T) {
	t.Parallel()
	cfg := baseCfg()
	cfg.Filters.MaxSpread = 0.001 // impossible to clear with the quote below
	l, store, mirror, _ := newTestLoop(cfg)
	admitMarket(store, "cond1", winningContext())
	store.EnterPending("cond1", 500, 0.75, types.SignalHighProb) // deadline already elapsed at clock ms=1000
	mirror.Update("tok-yes", book.Parse("tok-yes", []types.PriceLevel{{Price: "0.75", Size: "100"}}, []types.PriceLevel{{Price: "0.80", Size: "100"}}))

	m, _ := store.Get("cond1")
	l.evaluate(context.Background(), m)

	m, _ = store.Get("cond1")
	if m.Status != types.StatusWatching {
		t.Errorf("Status = %v, want reverted to watching after the pending window expired", m.Status)
	}
	if m.PendingDeadlineTS != 0 {
		t.Errorf("PendingDeadlineTS = %d, want cleared on revert", m.PendingDeadlineTS)
	}
}

func TestEvaluatePendingRetriesWithoutTimingOut(t *testing.T) {
	t.Parallel()
	cfg := baseCfg()
	cfg.Filters.MaxSpread = 0.001 // impossible to clear with the quote below
	l, store, mirror, _ := newTestLoop(cfg)
	admitMarket(store, "cond1", winningContext())
	store.EnterPending("cond1", 100000, 0.75, types.SignalHighProb) // deadline far in the future
	mirror.Update("tok-yes", book.Parse("tok-yes", []types.PriceLevel{{Price: "0.75", Size: "100"}}, []types.PriceLevel{{Price: "0.80", Size: "100"}}))

	m, _ := store.Get("cond1")
	l.evaluate(context.Background(), m)

	m, _ = store.Get("cond1")
	if m.Status != types.StatusPendingSignal {
		t.Errorf("Status = %v, want still pending_signal before the deadline", m.Status)
	}
}

func TestEvaluateOpenClosesOnResolution(t *testing.T) {
	t.Parallel()
	l, store, mirror, _ := newTestLoop(baseCfg())
	admitMarket(store, "cond1", winningContext())
	store.Transition("cond1", types.StatusTraded)
	l.resTracker.Start("cond1", 0.5)
	mirror.Update("tok-yes", book.Parse("tok-yes", []types.PriceLevel{{Price: "0.99", Size: "100"}}, []types.PriceLevel{{Price: "0.995", Size: "100"}}))

	m, _ := store.Get("cond1")
	l.evaluate(context.Background(), m)

	m, _ = store.Get("cond1")
	if m.Status != types.StatusClosed {
		t.Errorf("Status = %v, want closed once price resolves to a terminal value", m.Status)
	}
}

func TestEvaluateSkipsClosedAndExpiredMarkets(t *testing.T) {
	t.Parallel()
	l, store, _, _ := newTestLoop(baseCfg())
	admitMarket(store, "cond1", winningContext())
	store.Transition("cond1", types.StatusClosed)

	m, _ := store.Get("cond1")
	l.evaluate(context.Background(), m) // should not panic or touch state
	m2, _ := store.Get("cond1")
	if m2.Status != types.StatusClosed {
		t.Errorf("Status = %v, want unchanged closed", m2.Status)
	}
}

func TestResolveTokensAssignsEntryExit(t *testing.T) {
	t.Parallel()
	l, store, mirror, _ := newTestLoop(baseCfg())
	store.Admit(types.MarketCandidate{
		ConditionID: "cond1",
		Slug:        "lal-bos",
		Question:    "Will the Lakers beat the Celtics?",
		TokenPair:   [2]string{"tok-yes", "tok-no"},
		Outcomes:    [2]string{"Yes", "No"},
		EndDate:     time.Now().Add(time.Hour),
	}, "nba")
	mirror.Update("tok-yes", book.Parse("tok-yes", []types.PriceLevel{{Price: "0.55", Size: "100"}}, []types.PriceLevel{{Price: "0.60", Size: "100"}}))
	mirror.Update("tok-no", book.Parse("tok-no", []types.PriceLevel{{Price: "0.35", Size: "100"}}, []types.PriceLevel{{Price: "0.40", Size: "100"}}))

	l.resolveTokens(context.Background(), store.Snapshot())

	m, _ := store.Get("cond1")
	if m.YesToken != "tok-yes" || m.NoToken != "tok-no" {
		t.Errorf("YesToken/NoToken = %q/%q, want tok-yes/tok-no (higher-priced side wins)", m.YesToken, m.NoToken)
	}
}

func TestResolveTokensSkipsWhileAnyMarketIsPending(t *testing.T) {
	t.Parallel()
	l, store, mirror, _ := newTestLoop(baseCfg())
	store.Admit(types.MarketCandidate{
		ConditionID: "cond1",
		Slug:        "lal-bos",
		TokenPair:   [2]string{"tok-yes", "tok-no"},
		Outcomes:    [2]string{"Yes", "No"},
		EndDate:     time.Now().Add(time.Hour),
	}, "nba")
	store.Admit(types.MarketCandidate{
		ConditionID: "cond2",
		Slug:        "gsw-mia",
		TokenPair:   [2]string{"tok-yes2", "tok-no2"},
		Outcomes:    [2]string{"Yes", "No"},
		EndDate:     time.Now().Add(time.Hour),
	}, "nba")
	store.EnterPending("cond2", 100000, 0.5, types.SignalHighProb)
	mirror.Update("tok-yes", book.Parse("tok-yes", []types.PriceLevel{{Price: "0.55", Size: "100"}}, []types.PriceLevel{{Price: "0.60", Size: "100"}}))
	mirror.Update("tok-no", book.Parse("tok-no", []types.PriceLevel{{Price: "0.35", Size: "100"}}, []types.PriceLevel{{Price: "0.40", Size: "100"}}))

	l.resolveTokens(context.Background(), store.Snapshot())

	m, _ := store.Get("cond1")
	if m.YesToken != "" {
		t.Errorf("YesToken = %q, want unresolved while another market sits in the pending-signal window", m.YesToken)
	}
}

func TestComplementBookBothSidesUsesComplementRule(t *testing.T) {
	t.Parallel()
	yes := book.Parse("tok-yes", []types.PriceLevel{{Price: "0.70", Size: "10"}}, []types.PriceLevel{{Price: "0.75", Size: "10"}})
	no := book.Parse("tok-no", []types.PriceLevel{{Price: "0.20", Size: "10"}}, []types.PriceLevel{{Price: "0.28", Size: "10"}})

	bid, ask, oneSided := complementBook(yes, no, true, true)
	if oneSided {
		t.Fatalf("oneSided = true, want false when both sides have a book")
	}
	wantBid, wantAsk := 0.72, 0.75 // max(0.70, 1-0.28), min(0.75, 1-0.20)
	if bid != wantBid || ask != wantAsk {
		t.Errorf("bid/ask = %v/%v, want %v/%v", bid, ask, wantBid, wantAsk)
	}
}

func TestComplementBookOneSidedFallsBackToTheSideItHas(t *testing.T) {
	t.Parallel()
	yes := book.Parse("tok-yes", []types.PriceLevel{{Price: "0.70", Size: "10"}}, []types.PriceLevel{{Price: "0.75", Size: "10"}})

	bid, ask, oneSided := complementBook(yes, types.ParsedBook{}, true, false)
	if !oneSided {
		t.Fatalf("oneSided = false, want true when only one side has a book")
	}
	if bid != 0.70 || ask != 0.75 {
		t.Errorf("bid/ask = %v/%v, want 0.70/0.75", bid, ask)
	}
}

func TestSplitTeamsRecognizesSeparators(t *testing.T) {
	t.Parallel()
	tests := []struct {
		q            string
		wantA, wantB string
	}{
		{"Lakers vs. Celtics", "Lakers", "Celtics"},
		{"Lakers vs Celtics", "Lakers", "Celtics"},
		{"Lakers v. Celtics", "Lakers", "Celtics"},
		{"Lakers @ Celtics", "Lakers", "Celtics"},
		{"no separator here", "no separator here", "no separator here"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.q, func(t *testing.T) {
			t.Parallel()
			a, b := splitTeams(tt.q)
			if a != tt.wantA || b != tt.wantB {
				t.Errorf("splitTeams(%q) = %q, %q, want %q, %q", tt.q, a, b, tt.wantA, tt.wantB)
			}
		})
	}
}
