// Package filter implements the stage-1/stage-2 entry gate chain (module H):
// a pipeline of independent Filters, each able to veto a candidate, run in
// order against a watched market's current book and context. The pipeline
// short-circuits on the first rejection so the caller always gets a single,
// specific reason a market did not qualify.
package filter

import (
	"context"

	"marketbridge/internal/book"
	"marketbridge/internal/config"
	"marketbridge/pkg/types"
)

// epsilon absorbs float round-trip noise at the stage-1 boundary, so a book
// at exactly the configured threshold is never rejected by representation
// error alone.
const epsilon = 1e-6

// Candidate is the per-cycle snapshot a Filter evaluates. It carries
// everything a gate might need without any filter reaching back into global
// state.
type Candidate struct {
	AssetID  string
	League   string
	Book     types.ParsedBook
	Depth    types.DepthSnapshot
	Context  types.ContextSnapshot
	EntryGate types.ContextEntrySnapshot
}

// Filter is one gate in the chain. Evaluate returns whether the candidate
// passes, and if not, a human-readable reason recorded on the market for
// the status surface.
type Filter interface {
	Name() string
	Evaluate(ctx context.Context, c Candidate) (pass bool, reason string)
}

// Chain runs an ordered list of Filters, stopping at the first rejection.
type Chain struct {
	filters []Filter
}

// NewChain builds a chain from the given filters, evaluated in order.
func NewChain(filters ...Filter) *Chain {
	return &Chain{filters: filters}
}

// Evaluate runs every filter in order. On the first rejection, it returns
// immediately with that filter's name and reason.
func (ch *Chain) Evaluate(ctx context.Context, c Candidate) (pass bool, failedFilter, reason string) {
	for _, f := range ch.filters {
		ok, why := f.Evaluate(ctx, c)
		if !ok {
			return false, f.Name(), why
		}
	}
	return true, "", ""
}

// Stage1BaseGate rejects candidates whose current spread or entry price
// don't yet clear the minimum bar for further consideration. Thresholds are
// resolved per-league: a league's FilterThresholds override falls back to
// the global FilterConfig for any field it leaves nil.
type Stage1BaseGate struct {
	cfg config.Config
}

// NewStage1BaseGate builds the base price-range/spread gate.
func NewStage1BaseGate(cfg config.Config) *Stage1BaseGate {
	return &Stage1BaseGate{cfg: cfg}
}

func (f *Stage1BaseGate) Name() string { return "stage1_base" }

func (f *Stage1BaseGate) Evaluate(_ context.Context, c Candidate) (bool, string) {
	if !c.Book.HasBid || !c.Book.HasAsk {
		return false, "book missing bid or ask"
	}
	minProb, maxEntryPrice, maxSpread := f.cfg.Thresholds(c.League)

	if c.Book.BestAsk < minProb-epsilon || c.Book.BestAsk > maxEntryPrice+epsilon {
		return false, "price_out_of_range"
	}
	spread := c.Book.BestAsk - c.Book.BestBid
	if spread > maxSpread+epsilon {
		return false, "spread_above_max"
	}
	return true, ""
}

// NearMarginGate flags candidates whose entry ask or spread sit within a
// near-threshold window of the stage-1 bar. Rather than rejecting, it
// signals the evaluation loop to run the stricter stage-2 depth gate before
// admitting a signal — a market that just crossed into range is more likely
// to be a fleeting mispricing than a stable edge.
type NearMarginGate struct {
	cfg config.Config
}

// NewNearMarginGate builds the near-margin classifier.
func NewNearMarginGate(cfg config.Config) *NearMarginGate {
	return &NearMarginGate{cfg: cfg}
}

func (f *NearMarginGate) Name() string { return "near_margin" }

// NearBy classifies why (if at all) the candidate is in the near-margin
// window: "ask" if only the ask-price branch passes, "spread" if only the
// spread branch passes, "both" if either branch passes on its own but both
// conditions hold simultaneously, "none" otherwise.
func (f *NearMarginGate) NearBy(c Candidate) string {
	askOK := c.Book.BestAsk >= f.cfg.Filters.NearProbMin-epsilon
	spreadOK := (c.Book.BestAsk - c.Book.BestBid) <= f.cfg.Filters.NearSpreadMax+epsilon
	switch {
	case askOK && spreadOK:
		return "both"
	case askOK:
		return "ask"
	case spreadOK:
		return "spread"
	default:
		return "none"
	}
}

// InMargin reports whether the candidate passes the near-margin window on
// the ask branch, the spread branch, or both.
func (f *NearMarginGate) InMargin(c Candidate) bool {
	return f.NearBy(c) != "none"
}

func (f *NearMarginGate) Evaluate(_ context.Context, c Candidate) (bool, string) {
	if !f.InMargin(c) {
		return false, "fail_near_margin"
	}
	return true, ""
}

// Stage2DepthGate requires sufficient USD depth on both sides of the book
// before a near-margin candidate is allowed to signal, so entries near the
// threshold have enough liquidity to fill and to exit.
type Stage2DepthGate struct {
	cfg config.FilterConfig
}

// NewStage2DepthGate builds the depth gate.
func NewStage2DepthGate(cfg config.FilterConfig) *Stage2DepthGate {
	return &Stage2DepthGate{cfg: cfg}
}

func (f *Stage2DepthGate) Name() string { return "stage2_depth" }

func (f *Stage2DepthGate) Evaluate(_ context.Context, c Candidate) (bool, string) {
	if !book.IsDepthSufficient(c.Depth, f.cfg.MinEntryDepthUSD, f.cfg.MinExitDepthUSD) {
		return false, "insufficient entry/exit depth"
	}
	return true, ""
}

// ContextEntryGate rejects candidates the win-probability model has not
// cleared, or for which live game context is unavailable.
type ContextEntryGate struct{}

// NewContextEntryGate builds the win-probability gate.
func NewContextEntryGate() *ContextEntryGate { return &ContextEntryGate{} }

func (f *ContextEntryGate) Name() string { return "context_entry" }

func (f *ContextEntryGate) Evaluate(_ context.Context, c Candidate) (bool, string) {
	if !c.EntryGate.Allowed {
		if c.EntryGate.BlockedReason != "" {
			return false, c.EntryGate.BlockedReason
		}
		return false, "context entry gate not satisfied"
	}
	return true, ""
}
