package api

import (
	"time"

	"marketbridge/internal/config"
)

// DashboardSnapshot is the complete read-only status view exposed over
// /api/snapshot and pushed to WebSocket subscribers.
type DashboardSnapshot struct {
	Timestamp time.Time `json:"timestamp"`

	Markets []MarketStatus `json:"markets"`

	TotalRealizedPnL float64 `json:"total_realized_pnl"`

	Execution ExecutionSnapshot `json:"execution"`
	Funnel    FunnelSnapshot    `json:"funnel"`
	Config    ConfigSummary     `json:"config"`
}

// MarketStatus is the per-market view: watchlist state, current book, and
// the latest context/probability read, if any.
type MarketStatus struct {
	ConditionID string `json:"condition_id"`
	Slug        string `json:"slug"`
	Question    string `json:"question"`
	League      string `json:"league"`
	Status      string `json:"status"`

	BestBid     float64   `json:"best_bid"`
	BestAsk     float64   `json:"best_ask"`
	Spread      float64   `json:"spread"`
	LastUpdated time.Time `json:"last_updated"`

	MinutesLeft float64 `json:"minutes_left"`
	TeamAScore  int     `json:"team_a_score"`
	TeamBScore  int     `json:"team_b_score"`
	WinProb     float64 `json:"win_prob"`

	Position *PositionSnapshot `json:"position,omitempty"`
}

// PositionSnapshot is one open execution-bridge position.
type PositionSnapshot struct {
	SignalID    string    `json:"signal_id"`
	EntryPrice  float64   `json:"entry_price"`
	Shares      float64   `json:"shares"`
	SpentUSD    float64   `json:"spent_usd"`
	StopFloor   float64   `json:"stop_floor"`
	OpenedAt    time.Time `json:"opened_at"`
	RealizedPnL float64   `json:"realized_pnl,omitempty"`
}

// ExecutionSnapshot summarizes the execution bridge's portfolio state.
type ExecutionSnapshot struct {
	OpenPositions     int     `json:"open_positions"`
	MaxActive         int     `json:"max_active"`
	KillSwitchActive  bool    `json:"kill_switch_active"`
	GlobalExposure    float64 `json:"global_exposure_usd"`
	MaxGlobalExposure float64 `json:"max_global_exposure_usd"`
}

// FunnelSnapshot summarizes how many markets reached each evaluation stage
// in the current rolling window.
type FunnelSnapshot struct {
	Discovered    int `json:"discovered"`
	Admitted      int `json:"admitted"`
	Stage1Passed  int `json:"stage1_passed"`
	Stage2Passed  int `json:"stage2_passed"`
	ContextPassed int `json:"context_passed"`
	Signaled      int `json:"signaled"`
	Executed      int `json:"executed"`
	Failed        int `json:"failed"`
}

// ConfigSummary surfaces the operationally relevant config fields. Wallet
// keys and exchange API credentials are never included.
type ConfigSummary struct {
	Mode                 string   `json:"mode"`
	OrderSizeUSD         float64  `json:"order_size_usd"`
	MaxPositionPerMarket float64  `json:"max_position_per_market"`
	MaxGlobalExposure    float64  `json:"max_global_exposure"`
	MaxMarketsActive     int      `json:"max_markets_active"`
	MinWinProb           float64  `json:"min_win_prob"`
	MaxSpread            float64  `json:"max_spread"`
	MaxEntryPrice        float64  `json:"max_entry_price"`
	Leagues              []string `json:"leagues"`
}

// NewConfigSummary builds a ConfigSummary from the full config.
func NewConfigSummary(cfg config.Config) ConfigSummary {
	leagues := make([]string, 0, len(cfg.Leagues))
	for slug := range cfg.Leagues {
		leagues = append(leagues, slug)
	}
	return ConfigSummary{
		Mode:                 cfg.Mode,
		OrderSizeUSD:         cfg.Execution.OrderSizeUSD,
		MaxPositionPerMarket: cfg.Execution.MaxPositionPerMarket,
		MaxGlobalExposure:    cfg.Execution.MaxGlobalExposure,
		MaxMarketsActive:     cfg.Execution.MaxMarketsActive,
		MinWinProb:           cfg.Probability.MinWinProb,
		MaxSpread:            cfg.Filters.MaxSpread,
		MaxEntryPrice:        cfg.Filters.MaxEntryPrice,
		Leagues:              leagues,
	}
}
