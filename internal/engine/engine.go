// Package engine is the central orchestrator of the trading bridge.
//
// It wires together every subsystem:
//
//  1. The discovery fetcher polls the events feed and publishes candidates.
//  2. The watchlist store admits candidates and tracks their lifecycle.
//  3. The streaming client keeps a live book mirror for every watched token.
//  4. Scoreboard adapters (one per league) feed live game state into context.
//  5. The evaluation loop runs the filter chain and probability gate on every
//     tick and hands qualifying markets to the execution bridge.
//  6. The execution bridge places and exits orders, enforcing exposure caps
//     and the kill switch.
//
// Lifecycle: New() → Start() → [runs until ctx canceled] → Stop()
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"marketbridge/internal/api"
	"marketbridge/internal/book"
	"marketbridge/internal/clock"
	"marketbridge/internal/config"
	"marketbridge/internal/discovery"
	"marketbridge/internal/evalloop"
	"marketbridge/internal/exchange"
	"marketbridge/internal/execution"
	"marketbridge/internal/filter"
	"marketbridge/internal/httpqueue"
	"marketbridge/internal/journal"
	"marketbridge/internal/metrics"
	"marketbridge/internal/resolution"
	"marketbridge/internal/resolver"
	"marketbridge/internal/scoreboard"
	"marketbridge/internal/store"
	"marketbridge/internal/stream"
	"marketbridge/internal/watchlist"
	"marketbridge/pkg/types"
)

// Engine orchestrates all components of the trading bridge. It owns the
// lifecycle of all goroutines.
type Engine struct {
	cfg config.Config

	clk        clock.Clock
	queue      *httpqueue.Queue
	mirror     *book.Mirror
	streamCl   *stream.Client
	discoverer *discovery.Fetcher
	watch      *watchlist.Store
	scoreboards map[string]*scoreboard.Adapter
	bridge     *execution.Bridge
	metricsT   *metrics.Tracker
	resTracker *resolution.Tracker
	loop       *evalloop.Loop
	jrnl       *journal.Journal
	st         *store.Store
	auth       *exchange.Auth
	client     *exchange.Client
	logger     *slog.Logger

	dashboardEvents chan api.DashboardEvent

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates and wires all engine components. In non-paper modes it derives
// L2 API credentials via L1 auth if none are configured.
func New(cfg config.Config, logger *slog.Logger) (*Engine, error) {
	clk := clock.System{}

	var auth *exchange.Auth
	var client *exchange.Client
	if cfg.Mode != "paper" {
		a, err := exchange.NewAuth(cfg)
		if err != nil {
			return nil, fmt.Errorf("init auth: %w", err)
		}
		auth = a
		client = exchange.NewClient(cfg, auth, logger)
		if !auth.HasL2Credentials() {
			logger.Info("no L2 credentials configured, deriving via L1 auth")
			creds, err := client.DeriveAPIKey(context.Background())
			if err != nil {
				return nil, fmt.Errorf("derive api key: %w", err)
			}
			auth.SetCredentials(*creds)
		}
	}

	mirror := book.NewMirror()
	streamCl := stream.New(cfg.API.WSMarketURL, mirror, logger)
	discoverer := discovery.New(cfg.Discovery, logger)
	watch := watchlist.New(cfg.Watchlist, clk)

	scoreboards := make(map[string]*scoreboard.Adapter, len(cfg.Leagues))
	for slug, lg := range cfg.Leagues {
		adapter, err := scoreboard.New(slug, lg, cfg.Scoreboard, logger)
		if err != nil {
			return nil, fmt.Errorf("init scoreboard %s: %w", slug, err)
		}
		scoreboards[slug] = adapter
	}

	st, err := store.Open(cfg.Store.DataDir)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	jrnl, err := journal.Open(cfg.Store.JournalDir)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}

	queue := httpqueue.New(cfg.Queue.Capacity, cfg.Queue.Workers, cfg.Queue.RatePerSec, cfg.Queue.Burst, logger)
	metricsT := metrics.NewTracker()
	resTracker := resolution.New()
	bridge := execution.New(cfg.Execution, cfg.Mode, client, jrnl, metricsT, logger)

	chain := filter.NewChain(
		filter.NewStage1BaseGate(cfg),
		filter.NewStage2DepthGate(cfg.Filters),
		filter.NewContextEntryGate(),
	)
	nearMargin := filter.NewNearMarginGate(cfg)

	loopDeps := evalloop.Deps{
		Clock:       clk,
		Mirror:      mirror,
		Watchlist:   watch,
		Chain:       chain,
		NearMargin:  nearMargin,
		Scoreboards: scoreboards,
		Bridge:      bridge,
		Metrics:     metricsT,
		Resolution:  resTracker,
		Journal:     jrnl,
		Queue:       queue,
	}
	if client != nil {
		loopDeps.Fetcher = client
	}
	loop := evalloop.New(cfg, loopDeps, logger)

	ctx, cancel := context.WithCancel(context.Background())

	var dashEvents chan api.DashboardEvent
	if cfg.Dashboard.Enabled {
		dashEvents = make(chan api.DashboardEvent, 100)
		publish := func(ev api.DashboardEvent) {
			select {
			case dashEvents <- ev:
			default:
			}
		}
		bridge.SetFillHandler(func(conditionID, signalID, side string, price, shares float64) {
			slug := conditionID
			if m, ok := watch.Get(conditionID); ok {
				slug = m.Slug
			}
			publish(api.NewDashboardEvent("fill", conditionID, api.NewFillEvent(signalID, side, slug, price, shares)))
		})
		bridge.SetKillHandler(func(reason, conditionID string, until time.Time) {
			publish(api.NewDashboardEvent("kill", conditionID, api.NewKillEvent(reason, until, conditionID)))
		})
		loop.SetSignalHandler(func(conditionID, signalID, slug string, entryPrice, winProb float64) {
			publish(api.NewDashboardEvent("signal", conditionID, api.NewSignalEvent(signalID, slug, entryPrice, winProb)))
		})
	}

	return &Engine{
		cfg:             cfg,
		clk:             clk,
		queue:           queue,
		mirror:          mirror,
		streamCl:        streamCl,
		discoverer:      discoverer,
		watch:           watch,
		scoreboards:     scoreboards,
		bridge:          bridge,
		metricsT:        metricsT,
		resTracker:      resTracker,
		loop:            loop,
		jrnl:            jrnl,
		st:              st,
		auth:            auth,
		client:          client,
		logger:          logger.With("component", "engine"),
		dashboardEvents: dashEvents,
		ctx:             ctx,
		cancel:          cancel,
	}, nil
}

// Start launches all background goroutines: the streaming client, the
// discovery poller, the HTTP queue, the evaluation loop, and the admission
// glue that subscribes newly watched tokens to the stream.
func (e *Engine) Start() error {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		if err := e.streamCl.Run(e.ctx); err != nil && e.ctx.Err() == nil {
			e.logger.Error("stream client stopped", "error", err)
		}
	}()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.discoverer.Run(e.ctx)
	}()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		if err := e.queue.Run(e.ctx); err != nil && e.ctx.Err() == nil {
			e.logger.Error("http queue stopped", "error", err)
		}
	}()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.admitLoop()
	}()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		if err := e.loop.Run(e.ctx); err != nil && e.ctx.Err() == nil {
			e.logger.Error("evaluation loop stopped", "error", err)
		}
	}()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.bridge.Reconcile(e.ctx)
	}()

	return nil
}

// admitLoop drains the discovery fetcher's result channel, admits candidates
// into the watchlist, and subscribes their tokens on the streaming client.
func (e *Engine) admitLoop() {
	for {
		select {
		case <-e.ctx.Done():
			return
		case candidates, ok := <-e.discoverer.Results():
			if !ok {
				return
			}
			for _, c := range candidates {
				lg, ok := e.cfg.Leagues[c.League]
				if !ok {
					continue
				}
				if !resolver.LeagueQuotaOK(lg, e.activeCountForLeague(c.League)) {
					continue
				}
				if e.watch.Admit(c, c.League) {
					e.metricsT.Record(func(fc *metrics.FunnelCounts) { fc.Admitted++ })
					e.streamCl.Subscribe(c.TokenPair[:])
				}
			}
			e.metricsT.Record(func(fc *metrics.FunnelCounts) { fc.Discovered += len(candidates) })
		}
	}
}

// activeCountForLeague sums markets still under watch (not closed/expired)
// for a league, for quota enforcement at admission time.
func (e *Engine) activeCountForLeague(league string) int {
	n := 0
	for _, status := range []types.MarketStatus{types.StatusWatching, types.StatusPendingSignal, types.StatusSignaled, types.StatusTraded} {
		n += e.watch.CountByLeagueAndStatus(league, status)
	}
	return n
}

// Stop cancels all background goroutines and waits for them to exit, then
// closes the journal and store.
func (e *Engine) Stop() {
	e.cancel()
	e.wg.Wait()
	if e.jrnl != nil {
		_ = e.jrnl.Close()
	}
	if e.st != nil {
		_ = e.st.Close()
	}
	if e.dashboardEvents != nil {
		close(e.dashboardEvents)
	}
}

// DashboardEvents exposes the optional event channel for the API server.
func (e *Engine) DashboardEvents() <-chan api.DashboardEvent {
	return e.dashboardEvents
}

// GetMarketsSnapshot implements api.MarketSnapshotProvider.
func (e *Engine) GetMarketsSnapshot() []api.MarketStatus {
	markets := e.watch.Snapshot()
	positions := make(map[string]execution.Position, len(markets))
	for _, p := range e.bridge.Snapshot() {
		positions[p.ConditionID] = p
	}

	out := make([]api.MarketStatus, 0, len(markets))
	for _, m := range markets {
		ms := api.MarketStatus{
			ConditionID: m.ConditionID,
			Slug:        m.Slug,
			Question:    m.Question,
			League:      m.League,
			Status:      string(m.Status),
			BestBid:     m.LastBid,
			BestAsk:     m.LastAsk,
			Spread:      m.LastAsk - m.LastBid,
			LastUpdated: time.UnixMilli(m.LastSeen),
			MinutesLeft: m.Context.MinutesLeft,
			TeamAScore:  m.Context.TeamAScore,
			TeamBScore:  m.Context.TeamBScore,
		}
		if pos, ok := positions[m.ConditionID]; ok {
			ms.Position = &api.PositionSnapshot{
				SignalID:    pos.SignalID,
				EntryPrice:  pos.EntryPrice,
				Shares:      pos.Shares,
				SpentUSD:    pos.SpentUSD,
				StopFloor:   pos.StopFloor,
				OpenedAt:    pos.OpenedAt,
				RealizedPnL: pos.RealizedPnL,
			}
		}
		out = append(out, ms)
	}
	return out
}

// GetExecutionSnapshot implements api.MarketSnapshotProvider.
func (e *Engine) GetExecutionSnapshot() api.ExecutionSnapshot {
	return api.ExecutionSnapshot{
		OpenPositions:     e.bridge.OpenCount(),
		MaxActive:         e.cfg.Execution.MaxMarketsActive,
		KillSwitchActive:  e.bridge.IsKillSwitchActive(),
		MaxGlobalExposure: e.cfg.Execution.MaxGlobalExposure,
	}
}

// GetFunnelSnapshot implements api.MarketSnapshotProvider.
func (e *Engine) GetFunnelSnapshot() api.FunnelSnapshot {
	snap := e.metricsT.Snapshot()
	return api.FunnelSnapshot{
		Discovered:    snap.Current.Discovered,
		Admitted:      snap.Current.Admitted,
		Stage1Passed:  snap.Current.Stage1Passed,
		Stage2Passed:  snap.Current.Stage2Passed,
		ContextPassed: snap.Current.ContextPassed,
		Signaled:      snap.Current.Signaled,
		Executed:      snap.Current.Executed,
		Failed:        snap.Current.Failed,
	}
}
