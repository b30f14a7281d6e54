// Package book implements the order-book fetcher and parser (module C):
// it turns a raw REST or WebSocket book payload into a validated, sorted,
// depth-annotated ParsedBook for one asset, and maintains a concurrency-safe
// local mirror keyed by asset ID for the streaming client and filters to
// read from.
package book

import (
	"sort"
	"strconv"
	"sync"
	"time"

	"marketbridge/pkg/types"
)

// MaxLevels bounds how many levels of each side are kept after parsing.
// Deeper levels rarely matter for depth-in-USD gating and keeping them
// around just bloats the mirror.
const MaxLevels = 50

// Parse validates and sorts a raw book response into a ParsedBook. Levels
// with non-positive price/size, or price outside (0,1], are dropped rather
// than rejecting the whole book — a single bad level from upstream
// shouldn't blind the filter chain to an otherwise good book.
func Parse(assetID string, bids, asks []types.PriceLevel) types.ParsedBook {
	pb := types.ParsedBook{AssetID: assetID}

	pb.Bids = parseLevels(bids)
	sort.Slice(pb.Bids, func(i, j int) bool { return pb.Bids[i].Price > pb.Bids[j].Price })
	if len(pb.Bids) > MaxLevels {
		pb.Bids = pb.Bids[:MaxLevels]
	}

	pb.Asks = parseLevels(asks)
	sort.Slice(pb.Asks, func(i, j int) bool { return pb.Asks[i].Price < pb.Asks[j].Price })
	if len(pb.Asks) > MaxLevels {
		pb.Asks = pb.Asks[:MaxLevels]
	}

	if len(pb.Bids) > 0 {
		pb.BestBid = pb.Bids[0].Price
		pb.HasBid = true
	}
	if len(pb.Asks) > 0 {
		pb.BestAsk = pb.Asks[0].Price
		pb.HasAsk = true
	}
	return pb
}

func parseLevels(raw []types.PriceLevel) []types.ParsedLevel {
	out := make([]types.ParsedLevel, 0, len(raw))
	for _, lvl := range raw {
		price, err := strconv.ParseFloat(lvl.Price, 64)
		if err != nil || price <= 0 || price > 1 {
			continue
		}
		size, err := strconv.ParseFloat(lvl.Size, 64)
		if err != nil || size <= 0 {
			continue
		}
		out = append(out, types.ParsedLevel{Price: price, Size: size})
	}
	return out
}

// Depth sums price*size over the first `levels` entries of each side,
// giving the USD depth available for an entry (ask side) or exit (bid side).
func Depth(pb types.ParsedBook, levels int) types.DepthSnapshot {
	d := types.DepthSnapshot{UpdatedTS: time.Now().UnixMilli()}

	n := levels
	if n > len(pb.Asks) {
		n = len(pb.Asks)
	}
	for i := 0; i < n; i++ {
		d.EntryDepthUSDAsk += pb.Asks[i].Price * pb.Asks[i].Size
	}
	d.AskLevelsUsed = n

	n = levels
	if n > len(pb.Bids) {
		n = len(pb.Bids)
	}
	for i := 0; i < n; i++ {
		d.ExitDepthUSDBid += pb.Bids[i].Price * pb.Bids[i].Size
	}
	d.BidLevelsUsed = n

	return d
}

// IsDepthSufficient reports whether both sides clear the configured minimums.
func IsDepthSufficient(d types.DepthSnapshot, minEntryUSD, minExitUSD float64) bool {
	return d.EntryDepthUSDAsk >= minEntryUSD && d.ExitDepthUSDBid >= minExitUSD
}

// Mirror is a concurrency-safe map of asset ID to its latest ParsedBook plus
// update timestamp, shared between the streaming client (writer) and the
// filter/evaluation loop (readers).
type Mirror struct {
	mu      sync.RWMutex
	books   map[string]types.ParsedBook
	updated map[string]time.Time
}

// NewMirror creates an empty book mirror.
func NewMirror() *Mirror {
	return &Mirror{
		books:   make(map[string]types.ParsedBook),
		updated: make(map[string]time.Time),
	}
}

// Update stores the latest parsed book for an asset.
func (m *Mirror) Update(assetID string, pb types.ParsedBook) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.books[assetID] = pb
	m.updated[assetID] = time.Now()
}

// Get returns the latest parsed book for an asset, if any.
func (m *Mirror) Get(assetID string) (types.ParsedBook, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	pb, ok := m.books[assetID]
	return pb, ok
}

// IsStale reports whether the asset's book hasn't been updated within maxAge,
// or has never been seen at all.
func (m *Mirror) IsStale(assetID string, maxAge time.Duration) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ts, ok := m.updated[assetID]
	if !ok {
		return true
	}
	return time.Since(ts) > maxAge
}
