// Package types defines the shared data structures used across all packages:
// market records, execution trades, order-book shapes, and the wire formats
// for the discovery feed, order-book REST/WS endpoints, and scoreboard feeds.
// It has no dependencies on internal packages, so it can be imported by any layer.
package types

import "time"

// ————————————————————————————————————————————————————————————————————————
// Core enums
// ————————————————————————————————————————————————————————————————————————

// Side represents the direction of a trade: BUY or SELL.
type Side string

const (
	BUY  Side = "BUY"
	SELL Side = "SELL"
)

// MarketStatus is the watchlist status lifecycle.
type MarketStatus string

const (
	StatusWatching      MarketStatus = "watching"
	StatusPendingSignal MarketStatus = "pending_signal"
	StatusSignaled      MarketStatus = "signaled"
	StatusTraded        MarketStatus = "traded"
	StatusClosed        MarketStatus = "closed"
	StatusExpired       MarketStatus = "expired"
)

// PriceSource records whether a quote came from the streaming client or the
// HTTP fallback path.
type PriceSource string

const (
	SourceWS   PriceSource = "ws"
	SourceHTTP PriceSource = "http"
)

// SignalType classifies how a signal qualified for entry.
type SignalType string

const (
	SignalMicrostructure SignalType = "microstructure"
	SignalHighProb       SignalType = "highprob"
	SignalUnknown        SignalType = "unknown"
)

// CloseReason records why a position was closed.
type CloseReason string

const (
	CloseResolved   CloseReason = "resolved"
	CloseStopLoss   CloseReason = "stop_loss"
	CloseContextSL  CloseReason = "context_sl"
)

// TradeStatus is the execution trade record's lifecycle.
type TradeStatus string

const (
	TradeQueued       TradeStatus = "queued"
	TradeSent         TradeStatus = "sent"
	TradeFilled       TradeStatus = "filled"
	TradePartial      TradeStatus = "partial"
	TradeFailed       TradeStatus = "failed"
	TradeError        TradeStatus = "error"
	TradeShadow       TradeStatus = "shadow"
	TradeOrphanClosed TradeStatus = "orphan_closed"
)

// GameState is the scoreboard adapter's pre/in/post game classifier.
type GameState string

const (
	GamePre  GameState = "pre"
	GameIn   GameState = "in"
	GamePost GameState = "post"
)

// ————————————————————————————————————————————————————————————————————————
// Order book
// ————————————————————————————————————————————————————————————————————————

// PriceLevel is a single bid or ask level in the order book. Price and Size
// are strings on the wire (to preserve decimal precision) but are parsed to
// float64 once validated.
type PriceLevel struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

// BookResponse is the REST response from GET /book for a single token.
type BookResponse struct {
	Market  string       `json:"market"`
	AssetID string       `json:"asset_id"`
	Bids    []PriceLevel `json:"bids"`
	Asks    []PriceLevel `json:"asks"`
	Hash    string       `json:"hash"`
}

// ParsedLevel is a book level after validation: positive price in (0,1], positive size.
type ParsedLevel struct {
	Price float64
	Size  float64
}

// ParsedBook is the output of the order-book parser (module C): sorted,
// capped, validated levels for one token, plus the derived best bid/ask.
type ParsedBook struct {
	AssetID string
	Bids    []ParsedLevel // sorted price-desc
	Asks    []ParsedLevel // sorted price-asc
	BestBid float64
	BestAsk float64
	HasBid  bool
	HasAsk  bool
}

// DepthSnapshot is the computed USD depth on both sides of a book (module C/F).
type DepthSnapshot struct {
	EntryDepthUSDAsk float64 // sum(price*size) over first K ask levels
	ExitDepthUSDBid  float64 // sum(price*size) over first K bid levels
	BidLevelsUsed    int
	AskLevelsUsed    int
	UpdatedTS        int64
}

// ————————————————————————————————————————————————————————————————————————
// Streaming (WebSocket) wire shapes — module D
// ————————————————————————————————————————————————————————————————————————

// WSPriceChange is a single asset update within a price_change event.
type WSPriceChange struct {
	AssetID string `json:"asset_id"`
	BestBid string `json:"best_bid"`
	BestAsk string `json:"best_ask"`
}

// WSPriceChangeEvent is an incremental price update from the streaming feed.
type WSPriceChangeEvent struct {
	EventType    string          `json:"event_type"`
	PriceChanges []WSPriceChange `json:"price_changes"`
}

// WSBestBidAskEvent is a single best_bid_ask event.
type WSBestBidAskEvent struct {
	EventType string `json:"event_type"`
	AssetID   string `json:"asset_id"`
	BestBid   string `json:"best_bid"`
	BestAsk   string `json:"best_ask"`
}

// WSArrayQuote is one element of a top-level array-form book snapshot.
type WSArrayQuote struct {
	AssetID string `json:"asset_id"`
	BestBid string `json:"best_bid"`
	BestAsk string `json:"best_ask"`
}

// WSSubscribeMsg is the initial subscribe message sent on connect.
type WSSubscribeMsg struct {
	AssetsIDs             []string `json:"assets_ids"`
	Type                  string   `json:"type"`
	CustomFeatureEnabled  bool     `json:"custom_feature_enabled"`
}

// WSUpdateMsg is sent to dynamically (un)subscribe after connect.
type WSUpdateMsg struct {
	AssetsIDs            []string `json:"assets_ids"`
	Operation            string   `json:"operation"` // "subscribe" or "unsubscribe"
	CustomFeatureEnabled bool     `json:"custom_feature_enabled"`
}

// ————————————————————————————————————————————————————————————————————————
// Discovery feed — module E
// ————————————————————————————————————————————————————————————————————————

// DiscoveryEvent is one element of the discovery feed response.
type DiscoveryEvent struct {
	ID       string               `json:"id"`
	Slug     string                `json:"slug"`
	Title    string                `json:"title"`
	EndDate  string                `json:"endDate"`
	Live     bool                  `json:"live"`
	Score    string                `json:"score,omitempty"`
	Period   string                `json:"period,omitempty"`
	Markets  []DiscoveryRawMarket `json:"markets"`
}

// DiscoveryRawMarket is one market nested in a discovery event, in its raw
// (possibly string-encoded-array) wire shape.
type DiscoveryRawMarket struct {
	ConditionID   string          `json:"conditionId"`
	Slug          string          `json:"slug"`
	Question      string          `json:"question"`
	Active        bool            `json:"active"`
	Closed        bool            `json:"closed"`
	Volume24hr    float64         `json:"volume24hr"`
	Outcomes      any             `json:"outcomes"`      // []string or JSON-encoded string
	OutcomePrices any             `json:"outcomePrices"` // []string or JSON-encoded string
	ClobTokenIds  any             `json:"clobTokenIds"`  // []string or JSON-encoded string
	EndDate       string          `json:"endDate"`
}

// MarketCandidate is the discovery parser's output (module E): a validated,
// typed candidate ready for watchlist upsert.
type MarketCandidate struct {
	ConditionID string
	League      string
	Slug        string
	Question    string
	TokenPair   [2]string // empty if invalid/unresolved
	Outcomes    [2]string
	Volume24h   float64
	EndDate     time.Time
	EventID     string
	EventSlug   string
	RawScore    string
	RawPeriod   string
}

// ————————————————————————————————————————————————————————————————————————
// Scoreboard feeds — module I
// ————————————————————————————————————————————————————————————————————————

// ScoreboardResponse is the top-level shape of a sport scoreboard feed.
type ScoreboardResponse struct {
	Events []ScoreboardEvent `json:"events"`
}

// ScoreboardEvent is one game/event in a scoreboard feed.
type ScoreboardEvent struct {
	ID           string              `json:"id"`
	Date         string              `json:"date"`
	Name         string              `json:"name"`
	Status       ScoreboardStatus    `json:"status"`
	Competitions []ScoreboardComp    `json:"competitions"`
}

// ScoreboardStatus carries game-clock state.
type ScoreboardStatus struct {
	Clock        float64          `json:"clock"`
	DisplayClock string           `json:"displayClock"`
	Period       int              `json:"period"`
	Type         ScoreboardType   `json:"type"`
}

// ScoreboardType carries the pre/in/post classification.
type ScoreboardType struct {
	State       string `json:"state"` // "pre" | "in" | "post"
	Name        string `json:"name"`
	Completed   bool   `json:"completed"`
	Description string `json:"description"`
}

// ScoreboardComp is one competition (usually exactly one per event).
type ScoreboardComp struct {
	Date        string               `json:"date"`
	Competitors []ScoreboardTeam     `json:"competitors"`
}

// ScoreboardTeam is one side of a competition.
type ScoreboardTeam struct {
	HomeAway string              `json:"homeAway"` // "home" | "away"
	Score    string              `json:"score"`
	Winner   bool                `json:"winner"`
	Team     ScoreboardTeamInfo  `json:"team"`
}

// ScoreboardTeamInfo carries team naming variants used for fuzzy matching.
type ScoreboardTeamInfo struct {
	ID                 string `json:"id"`
	Name                string `json:"name"`
	ShortDisplayName    string `json:"shortDisplayName"`
	DisplayName         string `json:"displayName"`
	Abbreviation        string `json:"abbreviation"`
	Location            string `json:"location"`
}

// StrippedEvent is the small schema scoreboard events are reduced to before
// caching.
type StrippedEvent struct {
	ID         string
	GameID     string
	State      GameState
	Period     int
	Clock      float64
	HomeTeam   string
	AwayTeam   string
	HomeScore  int
	AwayScore  int
	Completed  bool
}

// ————————————————————————————————————————————————————————————————————————
// Context / win-probability — modules I & J
// ————————————————————————————————————————————————————————————————————————

// ContextSnapshot is the per-market live game-state snapshot persisted on the
// market record.
type ContextSnapshot struct {
	State        GameState
	Period       int
	MinutesLeft  float64
	TeamAName    string
	TeamAScore   int
	TeamBName    string
	TeamBScore   int
	MatchKind    string // "basketball" | "soccer" | ...
	Confidence   string // soccer: "high" | "low"
	Decided      bool
	LastUpdated  time.Time

	// ScoreChangeAgeSec is how long the current score has held, tracked by
	// the scoreboard adapter across polls. ScoreChangeAgeKnown is false on
	// the first sighting of a game (no prior score to diff against), in
	// which case cooldown gates treat the age as "unknown" and pass.
	ScoreChangeAgeSec   float64
	ScoreChangeAgeKnown bool
}

// ContextEntrySnapshot is the per-market context-entry-gate result.
type ContextEntrySnapshot struct {
	YesOutcomeName string
	MarginForYes   float64
	WinProb        float64
	Allowed        bool
	BlockedReason  string
}

// ————————————————————————————————————————————————————————————————————————
// Order submission wire shapes — the order-submission client adapter
// ————————————————————————————————————————————————————————————————————————

// SignatureType selects how orders are signed: 0 = EOA, 1 = POLY_PROXY,
// 2 = GNOSIS_SAFE.
type SignatureType int

// TickSize names the exchange's supported minimum price increments.
type TickSize string

const (
	Tick01    TickSize = "0.1"
	Tick001   TickSize = "0.01"
	Tick0001  TickSize = "0.001"
	Tick00001 TickSize = "0.0001"
)

// Decimals returns the number of decimal places a price at this tick size
// is quoted to.
func (t TickSize) Decimals() int {
	switch t {
	case Tick01:
		return 1
	case Tick001:
		return 2
	case Tick0001:
		return 3
	case Tick00001:
		return 4
	default:
		return 2
	}
}

// AmountDecimals returns the number of decimal places order amounts (scaled
// to USDC's 6 decimals) are rounded to for this tick size: two more than the
// price's own decimals, to avoid truncating the smaller side of the trade.
func (t TickSize) AmountDecimals() int {
	return t.Decimals() + 2
}

// WSAuth carries L2 credentials for an authenticated WebSocket channel.
type WSAuth struct {
	ApiKey     string `json:"apiKey"`
	Secret     string `json:"secret"`
	Passphrase string `json:"passphrase"`
}

// UserOrder is a high-level order request before signing.
type UserOrder struct {
	TokenID    string
	Side       Side
	Price      float64
	Size       float64
	TickSize   TickSize
	Expiration int64
	FeeRateBps int
	OrderType  string // "GTC", "FOK", ...
}

// SignedOrder is the on-chain order structure the exchange expects.
type SignedOrder struct {
	Maker         string `json:"maker"`
	Signer        string `json:"signer"`
	Taker         string `json:"taker"`
	TokenID       string `json:"tokenId"`
	MakerAmount   any    `json:"makerAmount"`
	TakerAmount   any    `json:"takerAmount"`
	Side          Side   `json:"side"`
	Expiration    string `json:"expiration"`
	Nonce         string `json:"nonce"`
	FeeRateBps    string `json:"feeRateBps"`
	SignatureType SignatureType `json:"signatureType"`
}

// OrderPayload wraps a SignedOrder with the API key that owns it.
type OrderPayload struct {
	Order     SignedOrder `json:"order"`
	Owner     string      `json:"owner"`
	OrderType string      `json:"orderType"`
}

// OrderResponse is the exchange's response to a single submitted order.
type OrderResponse struct {
	Success bool   `json:"success"`
	OrderID string `json:"orderID"`
	Status  string `json:"status"`
	Error   string `json:"errorMsg,omitempty"`
}

// CancelResponse is the exchange's response to a cancel request.
type CancelResponse struct {
	Canceled []string `json:"canceled"`
}

// ————————————————————————————————————————————————————————————————————————
// Execution bridge
// ————————————————————————————————————————————————————————————————————————

// OrderSubmissionResult is the normalized shape returned by the
// order-submission client for both buy and sell requests.
type OrderSubmissionResult struct {
	OK            bool
	FilledShares  float64
	AvgFillPrice  float64
	SpentUSD      float64
	IsPartial     bool
	OrderID       string
	Error         string
}

// Position is one exchange-reported open position (for reconcile / balance reads).
type Position struct {
	Asset string
	Size  float64
}
