// Package discovery implements the discovery feed fetcher and parser
// (module E): it polls the live-events feed, filters out markets that are
// inactive, excluded, or already past their end date, parses the
// JSON-encoded-array fields Gamma-style feeds use for outcomes and token
// IDs, and emits typed MarketCandidates for the watchlist to admit.
//
// Fetches are wrapped in a circuit breaker so a flapping discovery endpoint
// degrades to "serve the last good candidate list" instead of hammering a
// failing upstream every poll tick.
package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/sony/gobreaker"

	"marketbridge/internal/config"
	"marketbridge/pkg/types"
)

// Fetcher polls the discovery feed and parses candidates.
type Fetcher struct {
	httpClient *resty.Client
	cfg        config.DiscoveryConfig
	breaker    *gobreaker.CircuitBreaker
	logger     *slog.Logger
	resultCh   chan []types.MarketCandidate
	lastGood   []types.MarketCandidate
}

// New creates a discovery fetcher.
func New(cfg config.DiscoveryConfig, logger *slog.Logger) *Fetcher {
	client := resty.New().
		SetBaseURL(cfg.FeedURL).
		SetTimeout(15 * time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(time.Second)

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "discovery-feed",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
	})

	return &Fetcher{
		httpClient: client,
		cfg:        cfg,
		breaker:    breaker,
		logger:     logger.With("component", "discovery"),
		resultCh:   make(chan []types.MarketCandidate, 1),
	}
}

// Results returns the channel the watchlist reads candidate batches from.
func (f *Fetcher) Results() <-chan []types.MarketCandidate {
	return f.resultCh
}

// Run polls the feed at cfg.PollInterval until ctx is cancelled.
func (f *Fetcher) Run(ctx context.Context) {
	f.poll(ctx)
	ticker := time.NewTicker(f.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			f.poll(ctx)
		}
	}
}

func (f *Fetcher) poll(ctx context.Context) {
	raw, err := f.breaker.Execute(func() (any, error) {
		return f.fetch(ctx)
	})
	if err != nil {
		f.logger.Warn("discovery poll failed, reusing last candidate list", "error", err, "breaker_state", f.breaker.State())
		if f.lastGood != nil {
			f.publish(f.lastGood)
		}
		return
	}

	events := raw.([]types.DiscoveryEvent)
	candidates := f.parse(events)
	f.lastGood = candidates
	f.publish(candidates)
}

func (f *Fetcher) publish(candidates []types.MarketCandidate) {
	select {
	case f.resultCh <- candidates:
	default:
		select {
		case <-f.resultCh:
		default:
		}
		f.resultCh <- candidates
	}
}

func (f *Fetcher) fetch(ctx context.Context) ([]types.DiscoveryEvent, error) {
	var events []types.DiscoveryEvent
	resp, err := f.httpClient.R().
		SetContext(ctx).
		SetResult(&events).
		Get("/events")
	if err != nil {
		return nil, fmt.Errorf("fetch discovery feed: %w", err)
	}
	if resp.StatusCode() != 200 {
		return nil, fmt.Errorf("fetch discovery feed: status %d", resp.StatusCode())
	}
	return events, nil
}

// parse converts raw discovery events into MarketCandidates, dropping
// markets that fail validation rather than the whole event.
func (f *Fetcher) parse(events []types.DiscoveryEvent) []types.MarketCandidate {
	excluded := make(map[string]bool, len(f.cfg.ExcludeSlugs))
	for _, slug := range f.cfg.ExcludeSlugs {
		excluded[strings.ToLower(strings.TrimSpace(slug))] = true
	}

	now := time.Now()
	var out []types.MarketCandidate

	for _, ev := range events {
		for _, m := range ev.Markets {
			if !m.Active || m.Closed {
				continue
			}
			slugLower := strings.ToLower(m.Slug)
			if excluded[slugLower] {
				continue
			}

			endDate, err := time.Parse(time.RFC3339, m.EndDate)
			if err != nil || endDate.Before(now) {
				continue
			}

			outcomes, err := decodeStringArray(m.Outcomes)
			if err != nil || len(outcomes) != 2 {
				continue
			}
			tokenIDs, err := decodeStringArray(m.ClobTokenIds)
			if err != nil || len(tokenIDs) != 2 {
				continue
			}

			out = append(out, types.MarketCandidate{
				ConditionID: m.ConditionID,
				Slug:        m.Slug,
				Question:    m.Question,
				TokenPair:   [2]string{tokenIDs[0], tokenIDs[1]},
				Outcomes:    [2]string{outcomes[0], outcomes[1]},
				Volume24h:   m.Volume24hr,
				EndDate:     endDate,
				EventID:     ev.ID,
				EventSlug:   ev.Slug,
				RawScore:    ev.Score,
				RawPeriod:   ev.Period,
			})
		}
	}
	return out
}

// decodeStringArray accepts a field that may already be a []string (typed
// JSON) or a JSON-encoded string like `["a","b"]` (Gamma-style double
// encoding), and normalizes both to a []string.
func decodeStringArray(v any) ([]string, error) {
	switch val := v.(type) {
	case []string:
		return val, nil
	case []any:
		out := make([]string, 0, len(val))
		for _, e := range val {
			s, ok := e.(string)
			if !ok {
				return nil, fmt.Errorf("decodeStringArray: non-string element")
			}
			out = append(out, s)
		}
		return out, nil
	case string:
		var out []string
		if err := json.Unmarshal([]byte(val), &out); err != nil {
			return nil, err
		}
		return out, nil
	default:
		return nil, fmt.Errorf("decodeStringArray: unsupported type %T", v)
	}
}
