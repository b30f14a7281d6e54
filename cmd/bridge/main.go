// marketbridge is an autonomous trading bridge between a live sports
// scoreboard feed and a binary-prediction-market exchange: it discovers
// in-play markets, derives a model win probability from the game state, and
// enters/exits positions through the execution bridge once every gate
// clears.
//
// Architecture:
//
//	main.go               — entry point: loads config, starts the engine, waits for SIGINT/SIGTERM
//	engine/engine.go       — orchestrator: wires discovery → watchlist → evalloop → execution
//	clock/clock.go         — monotonic millisecond clock and signal ID generation
//	httpqueue/queue.go     — bounded FIFO job queue shared by background HTTP work
//	book/book.go           — order-book parser and live mirror
//	stream/stream.go       — reconnecting WebSocket price client
//	discovery/discovery.go — polls the events feed behind a circuit breaker
//	watchlist/watchlist.go — admit/expire/evict lifecycle for watched markets
//	resolver/resolver.go   — picks the entry/exit token for a market
//	filter/filter.go       — stage-1/stage-2 signal filter chain
//	probability/probability.go — basketball/soccer win-probability models
//	scoreboard/scoreboard.go    — per-league live game-state adapters
//	evalloop/evalloop.go   — per-market evaluation cycle
//	execution/execution.go — order submission, stop-loss, risk caps, kill switch
//	metrics/metrics.go     — rolling funnel counters and sample rings
//	resolution/resolution.go — paper-mode settlement backstop
//	exchange/client.go     — REST client for the exchange's CLOB API
//	exchange/auth.go       — L1 (EIP-712) and L2 (HMAC) authentication
//	journal/journal.go     — append-only JSONL event log
//	store/store.go         — atomic JSON snapshot persistence
package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"marketbridge/internal/api"
	"marketbridge/internal/config"
	"marketbridge/internal/engine"
)

func main() {
	cfgPath := "configs/config.yaml"
	if p := os.Getenv("BRIDGE_CONFIG"); p != "" {
		cfgPath = p
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "error", err, "path", cfgPath)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Logging.Level)}
	if cfg.Logging.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	logger := slog.New(handler)

	eng, err := engine.New(*cfg, logger)
	if err != nil {
		logger.Error("failed to create engine", "error", err)
		os.Exit(1)
	}

	var apiServer *api.Server
	if cfg.Dashboard.Enabled {
		apiServer = api.NewServer(cfg.Dashboard, eng, *cfg, logger)
		go func() {
			if err := apiServer.Start(); err != nil {
				logger.Error("dashboard server failed", "error", err)
			}
		}()
		logger.Info("dashboard started", "url", fmt.Sprintf("http://localhost:%d", cfg.Dashboard.Port))
	}

	if err := eng.Start(); err != nil {
		logger.Error("failed to start engine", "error", err)
		os.Exit(1)
	}

	logger.Info("marketbridge started",
		"mode", cfg.Mode,
		"leagues", len(cfg.Leagues),
		"max_markets", cfg.Execution.MaxMarketsActive,
		"order_size", cfg.Execution.OrderSizeUSD,
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("received shutdown signal", "signal", sig.String())

	if apiServer != nil {
		if err := apiServer.Stop(); err != nil {
			logger.Error("failed to stop dashboard", "error", err)
		}
	}

	eng.Stop()
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
