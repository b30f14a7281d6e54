package filter

import (
	"context"
	"testing"

	"marketbridge/internal/config"
	"marketbridge/pkg/types"
)

func baseCandidate() Candidate {
	return Candidate{
		League: "nba",
		Book:   types.ParsedBook{BestBid: 0.5, BestAsk: 0.55, HasBid: true, HasAsk: true},
		Depth: types.DepthSnapshot{
			EntryDepthUSDAsk: 1000,
			ExitDepthUSDBid:  1000,
		},
		EntryGate: types.ContextEntrySnapshot{Allowed: true},
	}
}

func baseStage1Cfg() config.Config {
	return config.Config{
		Filters: config.FilterConfig{MinProb: 0.1, MaxEntryPrice: 0.9, MaxSpread: 0.1},
	}
}

func TestStage1BaseGateMissingBook(t *testing.T) {
	t.Parallel()
	f := NewStage1BaseGate(baseStage1Cfg())
	c := baseCandidate()
	c.Book.HasBid = false
	ok, reason := f.Evaluate(context.Background(), c)
	if ok {
		t.Fatal("expected rejection for missing bid")
	}
	if reason == "" {
		t.Error("expected a reason")
	}
}

func TestStage1BaseGateSpreadAboveMax(t *testing.T) {
	t.Parallel()
	cfg := baseStage1Cfg()
	cfg.Filters.MaxSpread = 0.01
	f := NewStage1BaseGate(cfg)
	c := baseCandidate()
	ok, reason := f.Evaluate(context.Background(), c)
	if ok {
		t.Fatal("expected rejection for spread above max")
	}
	if reason != "spread_above_max" {
		t.Errorf("reason = %q, want spread_above_max", reason)
	}
}

func TestStage1BaseGateEntryTooExpensive(t *testing.T) {
	t.Parallel()
	cfg := baseStage1Cfg()
	cfg.Filters.MaxEntryPrice = 0.5
	f := NewStage1BaseGate(cfg)
	c := baseCandidate()
	ok, reason := f.Evaluate(context.Background(), c)
	if ok {
		t.Fatal("expected rejection for ask above max entry price")
	}
	if reason != "price_out_of_range" {
		t.Errorf("reason = %q, want price_out_of_range", reason)
	}
}

func TestStage1BaseGateBelowMinProb(t *testing.T) {
	t.Parallel()
	cfg := baseStage1Cfg()
	cfg.Filters.MinProb = 0.6
	f := NewStage1BaseGate(cfg)
	c := baseCandidate()
	ok, reason := f.Evaluate(context.Background(), c)
	if ok {
		t.Fatal("expected rejection for ask below min prob")
	}
	if reason != "price_out_of_range" {
		t.Errorf("reason = %q, want price_out_of_range", reason)
	}
}

func TestStage1BaseGatePasses(t *testing.T) {
	t.Parallel()
	f := NewStage1BaseGate(baseStage1Cfg())
	c := baseCandidate()
	ok, reason := f.Evaluate(context.Background(), c)
	if !ok {
		t.Fatalf("expected pass, got rejected: %s", reason)
	}
}

func TestStage1BaseGateBoundaryWithinEpsilon(t *testing.T) {
	t.Parallel()
	cfg := baseStage1Cfg()
	cfg.Filters.MaxEntryPrice = 0.55 - 1e-7 // just inside epsilon of the ask
	f := NewStage1BaseGate(cfg)
	c := baseCandidate()
	ok, reason := f.Evaluate(context.Background(), c)
	if !ok {
		t.Fatalf("expected epsilon tolerance to admit boundary ask, got rejected: %s", reason)
	}
}

func TestStage1BaseGatePerLeagueOverride(t *testing.T) {
	t.Parallel()
	cfg := baseStage1Cfg()
	lowerMax := 0.5
	cfg.Leagues = map[string]config.LeagueConfig{
		"nba": {Filters: config.FilterThresholds{MaxEntryPrice: &lowerMax}},
	}
	f := NewStage1BaseGate(cfg)
	c := baseCandidate() // League: "nba", ask 0.55 > overridden max 0.5
	ok, reason := f.Evaluate(context.Background(), c)
	if ok {
		t.Fatal("expected league override to reject")
	}
	if reason != "price_out_of_range" {
		t.Errorf("reason = %q, want price_out_of_range", reason)
	}

	c.League = "ncaab" // no override for this league, falls back to global 0.9
	ok, reason = f.Evaluate(context.Background(), c)
	if !ok {
		t.Fatalf("expected pass for league without override, got rejected: %s", reason)
	}
}

func nearMarginCfg() config.Config {
	return config.Config{
		Filters: config.FilterConfig{NearProbMin: 0.52, NearSpreadMax: 0.03},
	}
}

func TestNearMarginGateNearByAsk(t *testing.T) {
	t.Parallel()
	f := NewNearMarginGate(nearMarginCfg())
	c := baseCandidate()
	c.Book.BestBid, c.Book.BestAsk = 0.3, 0.53 // ask clears NearProbMin, spread (0.23) doesn't
	if got := f.NearBy(c); got != "ask" {
		t.Errorf("NearBy() = %q, want ask", got)
	}
	if !f.InMargin(c) {
		t.Error("expected InMargin true")
	}
}

func TestNearMarginGateNearBySpread(t *testing.T) {
	t.Parallel()
	f := NewNearMarginGate(nearMarginCfg())
	c := baseCandidate()
	c.Book.BestBid, c.Book.BestAsk = 0.49, 0.51 // ask below NearProbMin, spread (0.02) passes
	if got := f.NearBy(c); got != "spread" {
		t.Errorf("NearBy() = %q, want spread", got)
	}
}

func TestNearMarginGateNearByNone(t *testing.T) {
	t.Parallel()
	f := NewNearMarginGate(nearMarginCfg())
	c := baseCandidate()
	c.Book.BestBid, c.Book.BestAsk = 0.1, 0.3
	if got := f.NearBy(c); got != "none" {
		t.Errorf("NearBy() = %q, want none", got)
	}
	ok, reason := f.Evaluate(context.Background(), c)
	if ok {
		t.Fatal("expected rejection outside near-margin window")
	}
	if reason != "fail_near_margin" {
		t.Errorf("reason = %q, want fail_near_margin", reason)
	}
}

func TestStage2DepthGateInsufficientDepth(t *testing.T) {
	t.Parallel()
	f := NewStage2DepthGate(config.FilterConfig{MinEntryDepthUSD: 2000, MinExitDepthUSD: 2000})
	c := baseCandidate()
	ok, _ := f.Evaluate(context.Background(), c)
	if ok {
		t.Fatal("expected rejection for insufficient depth")
	}
}

func TestStage2DepthGatePasses(t *testing.T) {
	t.Parallel()
	f := NewStage2DepthGate(config.FilterConfig{MinEntryDepthUSD: 500, MinExitDepthUSD: 500})
	c := baseCandidate()
	ok, reason := f.Evaluate(context.Background(), c)
	if !ok {
		t.Fatalf("expected pass, got rejected: %s", reason)
	}
}

func TestContextEntryGateBlocked(t *testing.T) {
	t.Parallel()
	f := NewContextEntryGate()
	c := baseCandidate()
	c.EntryGate = types.ContextEntrySnapshot{Allowed: false, BlockedReason: "win probability below threshold"}
	ok, reason := f.Evaluate(context.Background(), c)
	if ok {
		t.Fatal("expected rejection")
	}
	if reason != "win probability below threshold" {
		t.Errorf("reason = %q, want passthrough of blocked reason", reason)
	}
}

func TestContextEntryGateAllowed(t *testing.T) {
	t.Parallel()
	f := NewContextEntryGate()
	c := baseCandidate()
	ok, _ := f.Evaluate(context.Background(), c)
	if !ok {
		t.Fatal("expected pass")
	}
}

func TestChainShortCircuitsOnFirstRejection(t *testing.T) {
	t.Parallel()
	chain := NewChain(
		NewStage1BaseGate(baseStage1Cfg()),
		NewStage2DepthGate(config.FilterConfig{MinEntryDepthUSD: 99999, MinExitDepthUSD: 99999}),
		NewContextEntryGate(),
	)
	c := baseCandidate()
	pass, failed, reason := chain.Evaluate(context.Background(), c)
	if pass {
		t.Fatal("expected chain to reject")
	}
	if failed != "stage2_depth" {
		t.Errorf("failedFilter = %q, want stage2_depth", failed)
	}
	if reason == "" {
		t.Error("expected a reason")
	}
}

func TestChainPassesAllGates(t *testing.T) {
	t.Parallel()
	chain := NewChain(
		NewStage1BaseGate(baseStage1Cfg()),
		NewStage2DepthGate(config.FilterConfig{MinEntryDepthUSD: 500, MinExitDepthUSD: 500}),
		NewContextEntryGate(),
	)
	pass, failed, reason := chain.Evaluate(context.Background(), baseCandidate())
	if !pass {
		t.Fatalf("expected pass, failed at %q: %s", failed, reason)
	}
}
