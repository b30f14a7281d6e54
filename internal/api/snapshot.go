package api

import (
	"time"

	"marketbridge/internal/config"
)

// MarketSnapshotProvider gives the API package read-only access to the
// bridge's live state without importing evalloop/watchlist/execution
// directly (avoiding an import cycle back into the orchestration layer).
type MarketSnapshotProvider interface {
	GetMarketsSnapshot() []MarketStatus
	GetExecutionSnapshot() ExecutionSnapshot
	GetFunnelSnapshot() FunnelSnapshot
}

// BuildSnapshot aggregates state from all components into a dashboard snapshot.
func BuildSnapshot(provider MarketSnapshotProvider, cfg config.Config) DashboardSnapshot {
	markets := provider.GetMarketsSnapshot()

	var totalRealized float64
	for _, m := range markets {
		if m.Position != nil {
			totalRealized += m.Position.RealizedPnL
		}
	}

	return DashboardSnapshot{
		Timestamp:        time.Now(),
		Markets:          markets,
		TotalRealizedPnL: totalRealized,
		Execution:        provider.GetExecutionSnapshot(),
		Funnel:           provider.GetFunnelSnapshot(),
		Config:           NewConfigSummary(cfg),
	}
}
