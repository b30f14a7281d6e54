// Package scoreboard implements the per-sport scoreboard adapters (module I):
// fetch a league's live scoreboard feed, strip each event to a small
// schema, match it against a watched market by team name, and derive the
// context snapshot (state, clock, score) the probability models consume.
//
// Events are cached with a short TTL in ristretto so a burst of markets
// referencing the same game within one poll interval shares a single fetch.
package scoreboard

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/dgraph-io/ristretto"
	"github.com/go-resty/resty/v2"

	"marketbridge/internal/config"
	"marketbridge/pkg/types"
)

// scoreState is the last score observed for a game, and when it last
// changed, so the soccer cooldown gate can measure score-change age.
type scoreState struct {
	home, away int
	changedAt  time.Time
}

// Adapter fetches and caches one league's scoreboard feed.
type Adapter struct {
	league     string
	matchKind  string
	httpClient *resty.Client
	cache      *ristretto.Cache
	cacheTTL   time.Duration
	logger     *slog.Logger

	scoreMu sync.Mutex
	scores  map[string]scoreState // keyed by GameID
}

// New builds a scoreboard adapter for one league.
func New(league string, lg config.LeagueConfig, cfg config.ScoreboardConfig, logger *slog.Logger) (*Adapter, error) {
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 1e4,
		MaxCost:     1 << 20,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("scoreboard cache: %w", err)
	}

	return &Adapter{
		league:    league,
		matchKind: lg.MatchKind,
		httpClient: resty.New().
			SetBaseURL(lg.ScoreboardURL).
			SetTimeout(10 * time.Second).
			SetRetryCount(1),
		cache:    cache,
		cacheTTL: cfg.CacheTTL,
		logger:   logger.With("component", "scoreboard", "league", league),
		scores:   make(map[string]scoreState),
	}, nil
}

// Events returns the current list of stripped events for this league,
// fetching from the feed only if the cached copy has expired.
func (a *Adapter) Events(ctx context.Context) ([]types.StrippedEvent, error) {
	const cacheKey = "events"
	if v, ok := a.cache.Get(cacheKey); ok {
		return v.([]types.StrippedEvent), nil
	}

	var resp types.ScoreboardResponse
	r, err := a.httpClient.R().SetContext(ctx).SetResult(&resp).Get("/scoreboard")
	if err != nil {
		return nil, fmt.Errorf("fetch scoreboard: %w", err)
	}
	if r.StatusCode() != 200 {
		return nil, fmt.Errorf("fetch scoreboard: status %d", r.StatusCode())
	}

	events := strip(resp)
	a.cache.SetWithTTL(cacheKey, events, 1, a.cacheTTL)
	a.cache.Wait()
	return events, nil
}

func strip(resp types.ScoreboardResponse) []types.StrippedEvent {
	out := make([]types.StrippedEvent, 0, len(resp.Events))
	for _, ev := range resp.Events {
		if len(ev.Competitions) == 0 {
			continue
		}
		comp := ev.Competitions[0]
		var home, away types.ScoreboardTeam
		for _, t := range comp.Competitors {
			if t.HomeAway == "home" {
				home = t
			} else if t.HomeAway == "away" {
				away = t
			}
		}

		out = append(out, types.StrippedEvent{
			ID:        ev.ID,
			GameID:    ev.ID,
			State:     gameState(ev.Status.Type.State),
			Period:    ev.Status.Period,
			Clock:     ev.Status.Clock,
			HomeTeam:  home.Team.DisplayName,
			AwayTeam:  away.Team.DisplayName,
			HomeScore: atoiSafe(home.Score),
			AwayScore: atoiSafe(away.Score),
			Completed: ev.Status.Type.Completed,
		})
	}
	return out
}

func gameState(raw string) types.GameState {
	switch raw {
	case "pre":
		return types.GamePre
	case "in":
		return types.GameIn
	case "post":
		return types.GamePost
	default:
		return types.GamePre
	}
}

func atoiSafe(s string) int {
	v, _ := strconv.Atoi(s)
	return v
}

// Match finds the StrippedEvent whose team names fuzzily match the two
// outcome names on a market, trying exact, case-insensitive, and
// substring comparisons in that order. Returns false if no event matches
// confidently.
func Match(events []types.StrippedEvent, teamA, teamB string) (types.StrippedEvent, bool) {
	a, b := normalize(teamA), normalize(teamB)

	for _, ev := range events {
		h, aw := normalize(ev.HomeTeam), normalize(ev.AwayTeam)
		if (h == a && aw == b) || (h == b && aw == a) {
			return ev, true
		}
	}
	for _, ev := range events {
		h, aw := normalize(ev.HomeTeam), normalize(ev.AwayTeam)
		if (contains(h, a) && contains(aw, b)) || (contains(h, b) && contains(aw, a)) {
			return ev, true
		}
	}
	return types.StrippedEvent{}, false
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func contains(haystack, needle string) bool {
	if needle == "" {
		return false
	}
	return strings.Contains(haystack, needle) || strings.Contains(needle, haystack)
}

// DeriveContext converts a matched event into the context snapshot the
// probability models consume, estimating minutes remaining from a fixed
// game length (four 12-minute periods for basketball, 90 minutes for soccer)
// and the clock display, and tracking how long
// the current score has held (module I, feeding the soccer cooldown gate in
// module J). The first sighting of a game has no prior score to diff
// against, so ScoreChangeAgeKnown is false until a second poll confirms
// whether the score actually moved.
func (a *Adapter) DeriveContext(ev types.StrippedEvent, matchKind string, teamAIsHome bool) types.ContextSnapshot {
	snap := types.ContextSnapshot{
		State:       ev.State,
		Period:      ev.Period,
		MatchKind:   matchKind,
		Decided:     ev.Completed,
		LastUpdated: time.Now(),
	}

	if teamAIsHome {
		snap.TeamAName, snap.TeamAScore = ev.HomeTeam, ev.HomeScore
		snap.TeamBName, snap.TeamBScore = ev.AwayTeam, ev.AwayScore
	} else {
		snap.TeamAName, snap.TeamAScore = ev.AwayTeam, ev.AwayScore
		snap.TeamBName, snap.TeamBScore = ev.HomeTeam, ev.HomeScore
	}

	snap.ScoreChangeAgeSec, snap.ScoreChangeAgeKnown = a.trackScoreChange(ev)

	switch matchKind {
	case "basketball":
		snap.MinutesLeft = basketballMinutesLeft(ev.Period, ev.Clock)
		snap.Confidence = "high"
	case "soccer":
		snap.MinutesLeft = soccerMinutesLeft(ev.Clock)
		// Soccer clocks run up rather than down and stoppage time is
		// unpredictable, so the minutes-remaining estimate is inherently
		// less precise than basketball's countdown clock.
		if ev.Clock > 80 {
			snap.Confidence = "low"
		} else {
			snap.Confidence = "high"
		}
	}
	return snap
}

func basketballMinutesLeft(period int, clockSeconds float64) float64 {
	const periodsTotal = 4
	const minutesPerPeriod = 12.0
	remainingPeriods := periodsTotal - period
	if remainingPeriods < 0 {
		remainingPeriods = 0
	}
	return float64(remainingPeriods)*minutesPerPeriod + clockSeconds/60.0
}

// trackScoreChange records (or updates) the last-seen score for a game and
// returns how long the current score has held. Known is false the first
// time a game is seen, since there's no prior score to diff against.
func (a *Adapter) trackScoreChange(ev types.StrippedEvent) (ageSec float64, known bool) {
	a.scoreMu.Lock()
	defer a.scoreMu.Unlock()

	now := time.Now()
	prev, seen := a.scores[ev.GameID]
	if !seen || prev.home != ev.HomeScore || prev.away != ev.AwayScore {
		a.scores[ev.GameID] = scoreState{home: ev.HomeScore, away: ev.AwayScore, changedAt: now}
		return 0, seen
	}
	a.scores[ev.GameID] = prev
	return now.Sub(prev.changedAt).Seconds(), true
}

func soccerMinutesLeft(elapsedMinutes float64) float64 {
	const regulation = 90.0
	left := regulation - elapsedMinutes
	if left < 0 {
		left = 0
	}
	return left
}
