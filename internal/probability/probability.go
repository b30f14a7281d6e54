// Package probability implements the win-probability models and entry gates
// (module J): a Normal-CDF margin model for basketball (NBA/NCAA) and a
// Poisson catch-up model for soccer, each converting a live score margin and
// time remaining into the probability the team backing the YES outcome
// wins, or draws/wins depending on league rules.
package probability

import (
	"math"

	"marketbridge/internal/config"
	"marketbridge/pkg/types"
)

// NormalCDF approximates the standard normal cumulative distribution using
// the Abramowitz-Stegun 26.2.17 rational approximation (max error 7.5e-8),
// cheap enough to call once per market per evaluation cycle without a table.
func NormalCDF(x float64) float64 {
	const (
		a1 = 0.319381530
		a2 = -0.356563782
		a3 = 1.781477937
		a4 = -1.821255978
		a5 = 1.330274429
		p  = 0.2316419
	)

	sign := 1.0
	if x < 0 {
		sign = -1.0
		x = -x
	}

	t := 1.0 / (1.0 + p*x)
	poly := t * (a1 + t*(a2+t*(a3+t*(a4+t*a5))))
	pdf := math.Exp(-x*x/2) / math.Sqrt(2*math.Pi)
	cdf := 1.0 - pdf*poly

	if sign < 0 {
		return 1.0 - cdf
	}
	return cdf
}

// minMinutesFloor bounds the "minutes left" term used in the basketball and
// soccer volatility models so a buzzer-beater doesn't blow up the variance
// (or the Poisson rate) toward zero.
const minMinutesFloor = 0.5

// BasketballWinProb estimates the probability the team leading by `margin`
// with `minutesLeft` remaining (of `totalMinutes` regulation minutes) holds
// on to win, modeling the remaining score differential as
// Normal(margin, sigmaPerMin * sqrt(max(minutesLeft, 0.5) / totalMinutes)).
// A negative margin (currently trailing) naturally yields a win probability
// below 0.5. sigmaPerMin and totalMinutes are league-specific (NBA runs 48
// regulation minutes, NCAA 40).
func BasketballWinProb(margin, minutesLeft, sigmaPerMin, totalMinutes float64) float64 {
	if totalMinutes <= 0 {
		totalMinutes = 1
	}
	effectiveMinutes := math.Max(minutesLeft, minMinutesFloor)
	sigma := sigmaPerMin * math.Sqrt(effectiveMinutes/totalMinutes)
	if sigma <= 0 {
		if margin >= 0 {
			return 1.0
		}
		return 0.0
	}
	z := margin / sigma
	return NormalCDF(z)
}

// SoccerCatchUpProb estimates the probability the side currently leading by
// `margin` goals holds that lead, modeling the trailing side's remaining
// goals as a Poisson(lambda) process and summing the tail probability that
// it scores enough to catch up, truncated after 6 additional goals (more
// than enough given real scoring rates). The model is undefined when margin
// is not a genuine lead (margin <= 0); the caller should treat that case as
// blocked rather than reading the returned probability.
//
// Inside the injury-time window (minutesLeft <= cfg.SoccerInjuryTimeThresholdMin)
// the goal rate is scaled up by cfg.SoccerInjuryTimeFactor, since stoppage
// time and late-game pressure measurably raise scoring rate.
func SoccerCatchUpProb(margin, minutesLeft float64, cfg config.ProbabilityConfig) (float64, bool) {
	if margin <= 0 {
		return 0, false
	}

	effectiveMinutes := math.Max(minutesLeft, minMinutesFloor)
	lambda := cfg.SoccerGoalRatePerMin * effectiveMinutes
	if minutesLeft <= cfg.SoccerInjuryTimeThresholdMin {
		lambda *= cfg.SoccerInjuryTimeFactor
	}
	if lambda <= 0 {
		return 1.0, true
	}

	m := int(margin)
	const tailGoals = 6
	pmfs := poissonPMFs(lambda, m+tailGoals)

	var pCatch float64
	for k := m; k <= m+tailGoals; k++ {
		pCatch += pmfs[k]
	}
	return 1 - pCatch, true
}

// poissonPMFs returns P(X=0..n) for X ~ Poisson(lambda), computed
// iteratively (PMF(k) = PMF(k-1) * lambda / k) to avoid overflow from
// computing factorials directly.
func poissonPMFs(lambda float64, n int) []float64 {
	out := make([]float64, n+1)
	out[0] = math.Exp(-lambda)
	for k := 1; k <= n; k++ {
		out[k] = out[k-1] * lambda / float64(k)
	}
	return out
}

// soccerWinProbWindow returns the margin-sized minutes-left ceiling and
// minimum win probability a soccer entry must clear (module J): a 2-goal
// lead must hold with 15 or fewer minutes remaining and a modeled win
// probability of at least 0.97; a 3-or-more-goal lead relaxes both to 20 minutes
// and 0.95, since a bigger cushion tolerates a longer window.
func soccerWinProbWindow(margin int) (maxMinLeft, minWinProb float64) {
	if margin >= 3 {
		return 20, 0.95
	}
	return 15, 0.97
}

// EntryGate evaluates whether a market clears the configured win-probability
// and context thresholds for entry. Basketball thresholds (final period,
// time-remaining ceiling, minimum margin, scoring volatility) are
// league-specific; soccer applies a fixed confidence/period/cooldown/margin
// gate from the global probability config.
func EntryGate(snap types.ContextSnapshot, probCfg config.ProbabilityConfig, lg config.LeagueConfig) types.ContextEntrySnapshot {
	out := types.ContextEntrySnapshot{}

	if snap.State != types.GameIn {
		out.BlockedReason = "game not in progress"
		return out
	}
	if snap.MinutesLeft < probCfg.MinMinutesRemaining {
		out.BlockedReason = "insufficient time remaining"
		return out
	}

	margin := float64(snap.TeamAScore - snap.TeamBScore)

	switch snap.MatchKind {
	case "basketball":
		return basketballEntryGate(snap, margin, probCfg, lg)
	case "soccer":
		return soccerEntryGate(snap, margin, probCfg)
	default:
		out.BlockedReason = "unsupported match kind"
		return out
	}
}

func basketballEntryGate(snap types.ContextSnapshot, margin float64, probCfg config.ProbabilityConfig, lg config.LeagueConfig) types.ContextEntrySnapshot {
	out := types.ContextEntrySnapshot{MarginForYes: margin}

	if snap.Period < lg.FinalPeriod {
		out.BlockedReason = "not final period"
		return out
	}
	if snap.MinutesLeft > lg.MaxMinLeft {
		out.BlockedReason = "too much time remaining"
		return out
	}
	if math.Abs(margin) < lg.MinMargin {
		out.BlockedReason = "margin below minimum"
		return out
	}

	prob := BasketballWinProb(margin, snap.MinutesLeft, lg.SigmaPerMin, lg.TotalMinutes)
	out.WinProb = prob
	if prob < probCfg.MinWinProb {
		out.BlockedReason = "win probability below threshold"
		return out
	}

	out.Allowed = true
	if margin >= 0 {
		out.YesOutcomeName = snap.TeamAName
	} else {
		out.YesOutcomeName = snap.TeamBName
	}
	return out
}

func soccerEntryGate(snap types.ContextSnapshot, margin float64, probCfg config.ProbabilityConfig) types.ContextEntrySnapshot {
	out := types.ContextEntrySnapshot{MarginForYes: margin}

	if snap.Confidence != "high" {
		out.BlockedReason = "low confidence soccer context"
		return out
	}
	if snap.Period != 2 {
		out.BlockedReason = "first_half"
		return out
	}
	if math.Abs(margin) < 2 {
		out.BlockedReason = "margin below minimum"
		return out
	}
	if snap.ScoreChangeAgeKnown && snap.ScoreChangeAgeSec < probCfg.SoccerCooldownSeconds {
		out.BlockedReason = "score_change_cooldown"
		return out
	}

	absMargin := math.Abs(margin)
	maxMinLeft, minWinProb := soccerWinProbWindow(int(absMargin))
	if snap.MinutesLeft > maxMinLeft {
		out.BlockedReason = "too much time remaining"
		return out
	}

	prob, defined := SoccerCatchUpProb(absMargin, snap.MinutesLeft, probCfg)
	if !defined {
		out.BlockedReason = "undefined win probability"
		return out
	}
	out.WinProb = prob
	if prob < minWinProb {
		out.BlockedReason = "win probability below threshold"
		return out
	}

	out.Allowed = true
	if margin >= 0 {
		out.YesOutcomeName = snap.TeamAName
	} else {
		out.YesOutcomeName = snap.TeamBName
	}
	return out
}
