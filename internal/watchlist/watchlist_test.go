package watchlist

import (
	"testing"
	"time"

	"marketbridge/internal/config"
	"marketbridge/pkg/types"
)

type fakeClock struct{ ms int64 }

func (c *fakeClock) NowMS() int64 { return c.ms }

func newTestStore(cfg config.WatchlistConfig) (*Store, *fakeClock) {
	clk := &fakeClock{ms: 1000}
	return New(cfg, clk), clk
}

func candidate(conditionID string) types.MarketCandidate {
	return types.MarketCandidate{
		ConditionID: conditionID,
		Slug:        "lal-bos-2026-07-30",
		Question:    "Will the Lakers win?",
		TokenPair:   [2]string{"tokYes", "tokNo"},
		Outcomes:    [2]string{"Yes", "No"},
		EndDate:     time.Now().Add(time.Hour),
	}
}

func TestAdmitNewMarket(t *testing.T) {
	t.Parallel()
	s, _ := newTestStore(config.WatchlistConfig{MaxEndDateDays: 2, MaxSize: 10})
	ok := s.Admit(candidate("c1"), "nba")
	if !ok {
		t.Fatal("expected admission to succeed")
	}
	m, ok := s.Get("c1")
	if !ok {
		t.Fatal("expected market to be present after admit")
	}
	if m.Status != types.StatusWatching {
		t.Errorf("Status = %v, want watching", m.Status)
	}
	if m.League != "nba" {
		t.Errorf("League = %v, want nba", m.League)
	}
}

func TestAdmitRejectsFarEndDate(t *testing.T) {
	t.Parallel()
	s, _ := newTestStore(config.WatchlistConfig{MaxEndDateDays: 1, MaxSize: 10})
	c := candidate("c1")
	c.EndDate = time.Now().AddDate(0, 0, 5)
	if s.Admit(c, "nba") {
		t.Fatal("expected rejection for end date beyond window")
	}
}

func TestAdmitRefreshesExisting(t *testing.T) {
	t.Parallel()
	s, _ := newTestStore(config.WatchlistConfig{MaxEndDateDays: 2, MaxSize: 10})
	s.Admit(candidate("c1"), "nba")
	s.Transition("c1", types.StatusSignaled)

	c := candidate("c1")
	c.Question = "updated question"
	s.Admit(c, "nba")

	m, _ := s.Get("c1")
	if m.Question != "updated question" {
		t.Errorf("Question = %q, want updated", m.Question)
	}
	if m.Status != types.StatusSignaled {
		t.Error("re-admitting an existing market should not reset its status")
	}
}

func TestEnforceCapacityEvictsLowestRanked(t *testing.T) {
	t.Parallel()
	s, _ := newTestStore(config.WatchlistConfig{MaxEndDateDays: 2, MaxSize: 2})
	s.Admit(candidate("c1"), "nba")
	s.Admit(candidate("c2"), "nba")
	s.Admit(candidate("c3"), "nba")

	if len(s.Snapshot()) != 2 {
		t.Fatalf("len(Snapshot()) = %d, want 2 (enforced capacity)", len(s.Snapshot()))
	}
}

func TestUpdatePriceAndContext(t *testing.T) {
	t.Parallel()
	s, clk := newTestStore(config.WatchlistConfig{MaxEndDateDays: 2, MaxSize: 10})
	s.Admit(candidate("c1"), "nba")
	clk.ms = 2000

	s.UpdatePrice("c1", 0.4, 0.45)
	s.UpdateContext("c1", types.ContextSnapshot{MinutesLeft: 5})

	m, _ := s.Get("c1")
	if m.LastBid != 0.4 || m.LastAsk != 0.45 {
		t.Errorf("bid/ask = %v/%v, want 0.4/0.45", m.LastBid, m.LastAsk)
	}
	if m.LastSeen != 2000 {
		t.Errorf("LastSeen = %d, want 2000", m.LastSeen)
	}
	if m.Context.MinutesLeft != 5 {
		t.Errorf("Context.MinutesLeft = %v, want 5", m.Context.MinutesLeft)
	}
}

func TestTransitionUnknownMarketIsNoop(t *testing.T) {
	t.Parallel()
	s, _ := newTestStore(config.WatchlistConfig{MaxEndDateDays: 2, MaxSize: 10})
	s.Transition("missing", types.StatusSignaled)
	if _, ok := s.Get("missing"); ok {
		t.Fatal("expected no market to be created by Transition")
	}
}

var noOpen, noFresh = map[string]bool{}, map[string]bool{}

func TestExpireStaleExpiresWatchingPastTTL(t *testing.T) {
	t.Parallel()
	s, clk := newTestStore(config.WatchlistConfig{
		MaxEndDateDays: 2, MaxSize: 10, AdmitTTL: time.Minute,
	})
	s.Admit(candidate("c1"), "nba")
	clk.ms += (2 * time.Minute).Milliseconds()

	expired, reverted, purged := s.ExpireStale(noOpen, noFresh)
	if expired != 1 || reverted != 0 || purged != 0 {
		t.Fatalf("expired=%d reverted=%d purged=%d, want 1/0/0", expired, reverted, purged)
	}
	m, _ := s.Get("c1")
	if m.Status != types.StatusExpired {
		t.Errorf("Status = %v, want expired", m.Status)
	}
}

func TestExpireStaleRevertsPendingPastTTL(t *testing.T) {
	t.Parallel()
	s, clk := newTestStore(config.WatchlistConfig{
		MaxEndDateDays: 2, MaxSize: 10, AdmitTTL: time.Hour, PendingTTL: time.Minute,
	})
	s.Admit(candidate("c1"), "nba")
	s.Transition("c1", types.StatusPendingSignal)
	clk.ms += (2 * time.Minute).Milliseconds()

	_, reverted, _ := s.ExpireStale(noOpen, noFresh)
	if reverted != 1 {
		t.Fatalf("reverted = %d, want 1", reverted)
	}
	m, _ := s.Get("c1")
	if m.Status != types.StatusWatching {
		t.Errorf("Status = %v, want reverted to watching", m.Status)
	}
}

func TestExpireStaleClosesSustainedTerminalPrice(t *testing.T) {
	t.Parallel()
	s, _ := newTestStore(config.WatchlistConfig{
		MaxEndDateDays: 2, MaxSize: 10, AdmitTTL: time.Hour,
		TerminalBidThreshold: 0.99, TerminalAskThreshold: 0.01, TerminalConfirmSeconds: 0,
	})
	s.Admit(candidate("c1"), "nba")
	s.UpdatePrice("c1", 0.995, 0.999)

	s.ExpireStale(noOpen, noFresh)
	m, _ := s.Get("c1")
	if m.Status != types.StatusClosed {
		t.Errorf("Status = %v, want closed (terminal price sustained for 0s)", m.Status)
	}
}

func TestExpireStaleDoesNotPurgeTerminalPriceUntilConfirmSecondsElapse(t *testing.T) {
	t.Parallel()
	s, clk := newTestStore(config.WatchlistConfig{
		MaxEndDateDays: 2, MaxSize: 10, AdmitTTL: time.Hour,
		TerminalBidThreshold: 0.99, TerminalAskThreshold: 0.01, TerminalConfirmSeconds: 30,
	})
	s.Admit(candidate("c1"), "nba")
	s.UpdatePrice("c1", 0.995, 0.999)

	s.ExpireStale(noOpen, noFresh)
	m, _ := s.Get("c1")
	if m.Status != types.StatusWatching {
		t.Fatalf("Status = %v, want still watching before the confirm window elapses", m.Status)
	}

	clk.ms += 31000
	s.ExpireStale(noOpen, noFresh)
	m, _ = s.Get("c1")
	if m.Status != types.StatusClosed {
		t.Errorf("Status = %v, want closed once the terminal price has sustained %ds", m.Status, 30)
	}
}

func TestExpireStaleExemptsOpenPositionFromTerminalPurge(t *testing.T) {
	t.Parallel()
	s, _ := newTestStore(config.WatchlistConfig{
		MaxEndDateDays: 2, MaxSize: 10, AdmitTTL: time.Hour,
		TerminalBidThreshold: 0.99, TerminalAskThreshold: 0.01, TerminalConfirmSeconds: 0,
	})
	s.Admit(candidate("c1"), "nba")
	s.UpdatePrice("c1", 0.995, 0.999)

	s.ExpireStale(map[string]bool{"c1": true}, noFresh)
	m, _ := s.Get("c1")
	if m.Status != types.StatusWatching {
		t.Errorf("Status = %v, want still watching while an exit is still open on this market", m.Status)
	}
}

func TestExpireStalePurgesStaleBookUnlessStreamingFresh(t *testing.T) {
	t.Parallel()
	s, clk := newTestStore(config.WatchlistConfig{
		MaxEndDateDays: 2, MaxSize: 10, AdmitTTL: time.Hour, StaleBookMinutes: time.Minute,
		TerminalBidThreshold: 0.99, TerminalAskThreshold: 0.01,
	})
	s.Admit(candidate("c1"), "nba")
	s.UpdatePrice("c1", 0.4, 0.45)
	clk.ms += (2 * time.Minute).Milliseconds()

	_, _, purged := s.ExpireStale(noOpen, map[string]bool{"c1": true})
	if purged != 0 {
		t.Fatalf("purged = %d, want 0 while the streaming mirror is fresh", purged)
	}
	m, _ := s.Get("c1")
	if m.Status != types.StatusWatching {
		t.Fatalf("Status = %v, want still watching", m.Status)
	}

	_, _, purged = s.ExpireStale(noOpen, noFresh)
	if purged != 1 {
		t.Fatalf("purged = %d, want 1 once the streaming override no longer applies", purged)
	}
	m, _ = s.Get("c1")
	if m.Status != types.StatusClosed {
		t.Errorf("Status = %v, want closed (stale book purge)", m.Status)
	}
}

func TestPurgeRemovesOldTerminalMarkets(t *testing.T) {
	t.Parallel()
	s, clk := newTestStore(config.WatchlistConfig{MaxEndDateDays: 2, MaxSize: 10})
	s.Admit(candidate("c1"), "nba")
	s.Transition("c1", types.StatusClosed)
	clk.ms += (25 * time.Hour).Milliseconds()

	removed := s.Purge(24 * time.Hour)
	if removed != 1 {
		t.Fatalf("removed = %d, want 1", removed)
	}
	if _, ok := s.Get("c1"); ok {
		t.Error("expected market to be purged")
	}
}

func TestPurgeKeepsActiveMarkets(t *testing.T) {
	t.Parallel()
	s, clk := newTestStore(config.WatchlistConfig{MaxEndDateDays: 2, MaxSize: 10})
	s.Admit(candidate("c1"), "nba")
	clk.ms += (25 * time.Hour).Milliseconds()

	removed := s.Purge(24 * time.Hour)
	if removed != 0 {
		t.Fatalf("removed = %d, want 0 (still watching)", removed)
	}
}

func TestCountByLeagueAndStatus(t *testing.T) {
	t.Parallel()
	s, _ := newTestStore(config.WatchlistConfig{MaxEndDateDays: 2, MaxSize: 10})
	s.Admit(candidate("c1"), "nba")
	s.Admit(candidate("c2"), "nba")
	s.Admit(candidate("c3"), "epl")
	s.Transition("c2", types.StatusSignaled)

	if got := s.CountByLeagueAndStatus("nba", types.StatusWatching); got != 1 {
		t.Errorf("nba/watching count = %d, want 1", got)
	}
	if got := s.CountByLeagueAndStatus("nba", types.StatusSignaled); got != 1 {
		t.Errorf("nba/signaled count = %d, want 1", got)
	}
	if got := s.CountByLeagueAndStatus("epl", types.StatusWatching); got != 1 {
		t.Errorf("epl/watching count = %d, want 1", got)
	}
}
