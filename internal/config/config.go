// Package config defines all configuration for the sports-event trading
// bridge. Config is loaded from a YAML file (default: configs/config.yaml)
// with sensitive fields overridable via BRIDGE_* environment variables.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the top-level configuration. Maps directly to the YAML file structure.
type Config struct {
	Mode       string           `mapstructure:"mode"` // "paper" | "shadow_live" | "live"
	Wallet     WalletConfig     `mapstructure:"wallet"`
	API        APIConfig        `mapstructure:"api"`
	Queue      QueueConfig      `mapstructure:"queue"`
	Watchlist  WatchlistConfig  `mapstructure:"watchlist"`
	Filters    FilterConfig     `mapstructure:"filters"`
	Probability ProbabilityConfig `mapstructure:"probability"`
	Discovery  DiscoveryConfig  `mapstructure:"discovery"`
	Scoreboard ScoreboardConfig `mapstructure:"scoreboard"`
	Execution  ExecutionConfig  `mapstructure:"execution"`
	Leagues    map[string]LeagueConfig `mapstructure:"leagues"`
	Store      StoreConfig      `mapstructure:"store"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Dashboard  DashboardConfig  `mapstructure:"dashboard"`
	Resolver   ResolverConfig   `mapstructure:"resolver"`
}

// WalletConfig holds the Ethereum wallet used for signing orders.
// PrivateKey signs L1 (EIP-712) auth and derives L2 API keys.
// FunderAddress is the on-chain address that funds orders (may differ from signer if using a proxy).
type WalletConfig struct {
	PrivateKey    string `mapstructure:"private_key"`
	SignatureType int    `mapstructure:"signature_type"`
	FunderAddress string `mapstructure:"funder_address"`
	ChainID       int    `mapstructure:"chain_id"`
}

// APIConfig holds exchange API endpoints and optional pre-derived L2 credentials.
// If ApiKey/Secret/Passphrase are empty, the bridge derives them via L1 auth on startup.
type APIConfig struct {
	CLOBBaseURL  string `mapstructure:"clob_base_url"`
	GammaBaseURL string `mapstructure:"gamma_base_url"`
	WSMarketURL  string `mapstructure:"ws_market_url"`
	ApiKey       string `mapstructure:"api_key"`
	Secret       string `mapstructure:"secret"`
	Passphrase   string `mapstructure:"passphrase"`
}

// QueueConfig bounds the HTTP request queue (module B).
//
//   - Capacity:   max pending requests before new submissions are dropped.
//   - Workers:    number of concurrent HTTP workers draining the queue.
//   - RatePerSec: token-bucket refill rate shared by all workers.
//   - Burst:      token-bucket burst capacity.
type QueueConfig struct {
	Capacity   int     `mapstructure:"capacity"`
	Workers    int     `mapstructure:"workers"`
	RatePerSec float64 `mapstructure:"rate_per_sec"`
	Burst      int     `mapstructure:"burst"`
}

// WatchlistConfig tunes the watchlist store (module F).
//
//   - MaxSize:        hard cap on markets under watch; lowest-ranked evicted over capacity.
//   - AdmitTTL:        how long a market may sit at status "watching" before expiry.
//   - PendingTTL:      how long a market may sit at "pending_signal" before reverting.
//   - MaxEndDateDays:  markets whose endDate is farther out than this are not admitted.
//   - MinDaysDelta:    markets whose endDate is closer than this (days) are not admitted.
//   - TerminalBidThreshold/TerminalAskThreshold: best_bid/best_ask thresholds the
//     terminal-price purge watches for, sustained for TerminalConfirmSeconds.
//   - StaleBookMinutes/StaleQuoteMinutes/StaleTradeabilityMinutes: purge-gate
//     timers — how long a market may go without a book update, a complete
//     two-sided quote, or a tradeable book before it is purged.
type WatchlistConfig struct {
	MaxSize          int           `mapstructure:"max_size"`
	AdmitTTL         time.Duration `mapstructure:"admit_ttl"`
	PendingTTL       time.Duration `mapstructure:"pending_ttl"`
	MaxEndDateDays   int           `mapstructure:"max_end_date_days"`
	MinDaysDelta     int           `mapstructure:"min_days_delta"`

	TerminalBidThreshold   float64       `mapstructure:"terminal_bid_threshold"`
	TerminalAskThreshold   float64       `mapstructure:"terminal_ask_threshold"`
	TerminalConfirmSeconds int           `mapstructure:"terminal_confirm_seconds"`
	StaleBookMinutes       time.Duration `mapstructure:"stale_book_minutes"`
	StaleQuoteMinutes      time.Duration `mapstructure:"stale_quote_minutes"`
	StaleTradeabilityMinutes time.Duration `mapstructure:"stale_tradeability_minutes"`
}

// FilterThresholds overrides the stage-1 base gate's three thresholds for a
// single league. Nil fields fall back to the global FilterConfig value.
type FilterThresholds struct {
	MinProb       *float64 `mapstructure:"min_prob"`
	MaxEntryPrice *float64 `mapstructure:"max_entry_price"`
	MaxSpread     *float64 `mapstructure:"max_spread"`
}

// FilterConfig tunes the stage-1/stage-2 signal filter chain (module H).
//
//   - MinProb:           stage-1 base gate, entry side ask must be at or above this.
//   - MaxEntryPrice:      stage-1 base gate, entry side ask must be at or below this.
//   - MaxSpread:          stage-1 base gate, bid/ask spread must be at or below this.
//   - NearProbMin:        near-margin gate passes when ask >= this (the ask branch).
//   - NearSpreadMax:      near-margin gate passes when spread <= this (the spread branch).
//   - MinEntryDepthUSD:   stage-2 gate, minimum ask-side depth in USD.
//   - MinExitDepthUSD:    stage-2 gate, minimum bid-side depth in USD.
//   - DepthLevels:        number of book levels summed for depth.
type FilterConfig struct {
	MinProb          float64 `mapstructure:"min_prob"`
	MaxEntryPrice    float64 `mapstructure:"max_entry_price"`
	MaxSpread        float64 `mapstructure:"max_spread"`
	NearProbMin      float64 `mapstructure:"near_prob_min"`
	NearSpreadMax    float64 `mapstructure:"near_spread_max"`
	MinEntryDepthUSD float64 `mapstructure:"min_entry_depth_usd"`
	MinExitDepthUSD  float64 `mapstructure:"min_exit_depth_usd"`
	DepthLevels      int     `mapstructure:"depth_levels"`
}

// ProbabilityConfig tunes the win-probability / entry-gate models (module J).
//
//   - SoccerGoalRatePerMin:   expected-goals rate per minute remaining (Poisson catch-up model).
//   - MinWinProb:             minimum model win probability required to allow entry (fallback/default).
//   - MinMinutesRemaining:    entry is blocked once less than this many minutes remain (fallback/default).
//   - SoccerCooldownSeconds:  required seconds since last score change before a soccer entry is allowed.
//   - SoccerInjuryTimeFactor: multiplier applied to the goal rate inside the injury-time window.
//   - SoccerInjuryTimeThresholdMin: minutes-left at or below which the injury-time factor applies.
type ProbabilityConfig struct {
	SoccerGoalRatePerMin  float64 `mapstructure:"soccer_goal_rate_per_min"`
	MinWinProb            float64 `mapstructure:"min_win_prob"`
	MinMinutesRemaining   float64 `mapstructure:"min_minutes_remaining"`

	SoccerCooldownSeconds        float64 `mapstructure:"soccer_cooldown_seconds"`
	SoccerInjuryTimeFactor       float64 `mapstructure:"soccer_injury_time_factor"`
	SoccerInjuryTimeThresholdMin float64 `mapstructure:"soccer_injury_time_threshold_min"`
}

// ResolverConfig tunes the per-cycle token-resolution scheduler (module G).
//
//   - MaxResolvesPerCycle: how many unresolved markets may be probed for their
//     YES/NO token assignment in a single evaluation cycle. Zero while a
//     market is already pending a signal, per the cycle's scheduling guard.
type ResolverConfig struct {
	MaxResolvesPerCycle int `mapstructure:"max_resolves_per_cycle"`
}

// DiscoveryConfig controls market discovery polling (module E).
type DiscoveryConfig struct {
	PollInterval time.Duration `mapstructure:"poll_interval"`
	FeedURL      string        `mapstructure:"feed_url"`
	ExcludeSlugs []string      `mapstructure:"exclude_slugs"`
}

// ScoreboardConfig controls scoreboard adapter polling and caching (module I).
type ScoreboardConfig struct {
	PollInterval time.Duration `mapstructure:"poll_interval"`
	CacheTTL     time.Duration `mapstructure:"cache_ttl"`
}

// ExecutionConfig sets per-market/global exposure caps and stop-loss behavior (module L).
//
//   - OrderSizeUSD:        target notional per entry.
//   - MaxPositionPerMarket: max USD exposure in a single market.
//   - MaxGlobalExposure:    max USD exposure across all open positions combined.
//   - MaxMarketsActive:     cap on concurrently open positions.
//   - StopLossFloorPct:     escalating-floor stop-loss trigger, as a fraction below entry price.
//   - ContextStopLossMargin: context-derived stop-loss margin threshold.
//   - ReconcileInterval:    how often open positions are reconciled against the exchange.
type ExecutionConfig struct {
	OrderSizeUSD          float64       `mapstructure:"order_size_usd"`
	MaxPositionPerMarket  float64       `mapstructure:"max_position_per_market"`
	MaxGlobalExposure     float64       `mapstructure:"max_global_exposure"`
	MaxMarketsActive      int           `mapstructure:"max_markets_active"`
	StopLossFloorPct      float64       `mapstructure:"stop_loss_floor_pct"`
	ContextStopLossMargin float64       `mapstructure:"context_stop_loss_margin"`
	ReconcileInterval     time.Duration `mapstructure:"reconcile_interval"`
}

// LeagueConfig holds per-league scoreboard/resolver tuning, keyed by league
// slug in Config.Leagues (e.g. "nba", "ncaab", "epl"). Resolving the league
// table as data rather than a type switch was an explicit Open Question
// decision (see SPEC_FULL.md).
//
// The basketball win-probability model is parameterized per league (NBA and
// NCAA run different clock lengths and period counts), so FinalPeriod,
// TotalMinutes, SigmaPerMin, MaxMinLeft and MinMargin live here rather than
// in the global ProbabilityConfig.
type LeagueConfig struct {
	ScoreboardURL string `mapstructure:"scoreboard_url"`
	MatchKind     string `mapstructure:"match_kind"` // "basketball" | "soccer"
	Quota         int    `mapstructure:"quota"`      // max concurrently watched markets for this league

	FinalPeriod  int     `mapstructure:"final_period"`
	TotalMinutes float64 `mapstructure:"total_minutes"`
	SigmaPerMin  float64 `mapstructure:"sigma_per_min"`
	MaxMinLeft   float64 `mapstructure:"max_min_left"`
	MinMargin    float64 `mapstructure:"min_margin"`

	Filters FilterThresholds `mapstructure:"filters"`
}

// StoreConfig sets where state is persisted (JSON + JSONL files).
type StoreConfig struct {
	DataDir    string `mapstructure:"data_dir"`
	JournalDir string `mapstructure:"journal_dir"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// DashboardConfig controls the read-only status dashboard server.
type DashboardConfig struct {
	Enabled        bool     `mapstructure:"enabled"`
	Port           int      `mapstructure:"port"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// Load reads config from a YAML file with env var overrides.
// Sensitive fields use env vars: BRIDGE_PRIVATE_KEY, BRIDGE_API_KEY, BRIDGE_API_SECRET, BRIDGE_PASSPHRASE.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("BRIDGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if key := os.Getenv("BRIDGE_PRIVATE_KEY"); key != "" {
		cfg.Wallet.PrivateKey = key
	}
	if key := os.Getenv("BRIDGE_API_KEY"); key != "" {
		cfg.API.ApiKey = key
	}
	if secret := os.Getenv("BRIDGE_API_SECRET"); secret != "" {
		cfg.API.Secret = secret
	}
	if pass := os.Getenv("BRIDGE_PASSPHRASE"); pass != "" {
		cfg.API.Passphrase = pass
	}
	if mode := os.Getenv("BRIDGE_MODE"); mode != "" {
		cfg.Mode = mode
	}

	return &cfg, nil
}

// Validate checks all required fields and value ranges.
func (c *Config) Validate() error {
	switch c.Mode {
	case "paper", "shadow_live", "live":
	default:
		return fmt.Errorf("mode must be one of: paper, shadow_live, live")
	}
	if c.Mode != "paper" {
		if c.Wallet.PrivateKey == "" {
			return fmt.Errorf("wallet.private_key is required in %s mode (set BRIDGE_PRIVATE_KEY)", c.Mode)
		}
		if c.Wallet.ChainID == 0 {
			return fmt.Errorf("wallet.chain_id is required (137 for mainnet)")
		}
		switch c.Wallet.SignatureType {
		case 0, 1, 2:
		default:
			return fmt.Errorf("wallet.signature_type must be one of: 0 (EOA), 1 (POLY_PROXY), 2 (GNOSIS_SAFE)")
		}
		if c.Wallet.SignatureType != 0 && c.Wallet.FunderAddress == "" {
			return fmt.Errorf("wallet.funder_address is required when wallet.signature_type is 1 or 2")
		}
	}
	if c.API.CLOBBaseURL == "" {
		return fmt.Errorf("api.clob_base_url is required")
	}
	if c.Queue.Capacity <= 0 {
		return fmt.Errorf("queue.capacity must be > 0")
	}
	if c.Queue.Workers <= 0 {
		return fmt.Errorf("queue.workers must be > 0")
	}
	if c.Execution.OrderSizeUSD <= 0 {
		return fmt.Errorf("execution.order_size_usd must be > 0")
	}
	if c.Execution.MaxPositionPerMarket <= 0 {
		return fmt.Errorf("execution.max_position_per_market must be > 0")
	}
	if c.Execution.MaxGlobalExposure <= 0 {
		return fmt.Errorf("execution.max_global_exposure must be > 0")
	}
	if c.Execution.MaxMarketsActive <= 0 {
		return fmt.Errorf("execution.max_markets_active must be > 0")
	}
	if len(c.Leagues) == 0 {
		return fmt.Errorf("at least one entry under leagues is required")
	}
	for slug, lg := range c.Leagues {
		switch lg.MatchKind {
		case "basketball":
			if lg.FinalPeriod <= 0 || lg.TotalMinutes <= 0 || lg.SigmaPerMin <= 0 {
				return fmt.Errorf("leagues.%s: final_period, total_minutes, and sigma_per_min are required for basketball leagues", slug)
			}
		case "soccer":
		default:
			return fmt.Errorf("leagues.%s.match_kind must be basketball or soccer", slug)
		}
	}
	return nil
}

// Thresholds resolves the stage-1 base-gate thresholds for a league,
// applying any per-league FilterThresholds override on top of the global
// FilterConfig defaults.
func (c *Config) Thresholds(league string) (minProb, maxEntryPrice, maxSpread float64) {
	minProb, maxEntryPrice, maxSpread = c.Filters.MinProb, c.Filters.MaxEntryPrice, c.Filters.MaxSpread
	lg, ok := c.Leagues[league]
	if !ok {
		return
	}
	if lg.Filters.MinProb != nil {
		minProb = *lg.Filters.MinProb
	}
	if lg.Filters.MaxEntryPrice != nil {
		maxEntryPrice = *lg.Filters.MaxEntryPrice
	}
	if lg.Filters.MaxSpread != nil {
		maxSpread = *lg.Filters.MaxSpread
	}
	return
}
