// Package types defines shared data structures used across all packages.
//
// This package is the common vocabulary for the engine — wire events, depth
// metrics, spread metrics, signals, and trade orders. It has no dependencies
// on internal packages, so it can be imported by any layer.
package types

import "time"

// ————————————————————————————————————————————————————————————————————————
// Core enums
// ————————————————————————————————————————————————————————————————————————

// Side represents the direction of an order: BUY or SELL.
type Side string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
)

// Action is the intent a strategy attaches to a signal.
type Action string

const (
	ActionBuy  Action = "buy"
	ActionSell Action = "sell"
	ActionHold Action = "hold"
)

// OrderType enumerates the supported order lifecycles for a Trade Order.
type OrderType string

const (
	OrderTypeMarket OrderType = "market"
	OrderTypeLimit  OrderType = "limit"
)

// PositionType describes whether an order opens a long or short position.
type PositionType string

const (
	PositionLong  PositionType = "long"
	PositionShort PositionType = "short"
)

// Trend classifies a pressure-history window.
type Trend string

const (
	TrendBullish Trend = "bullish"
	TrendBearish Trend = "bearish"
	TrendNeutral Trend = "neutral"
)

// IcebergKind enumerates the pattern kinds DetectIcebergs can report.
type IcebergKind string

const (
	IcebergRefill         IcebergKind = "refill"
	IcebergConsistentSize IcebergKind = "consistent_size"
	IcebergAnchor         IcebergKind = "anchor"
)

// ————————————————————————————————————————————————————————————————————————
// Ingress envelope
// ————————————————————————————————————————————————————————————————————————

// TraceContext carries the W3C traceparent across the bus boundary.
type TraceContext struct {
	Traceparent string `json:"traceparent"`
}

// Envelope is the wire shape of every inbound bus message:
// {"stream": "<symbol>@depth"|"@trade"|"@ticker", "data": {...}, "_otel_trace_context": {...}}
type Envelope struct {
	Stream           string        `json:"stream"`
	Data             RawData       `json:"data"`
	OtelTraceContext *TraceContext `json:"_otel_trace_context,omitempty"`
}

// RawData is deferred decoding: once it has classified the stream, the
// dispatcher re-marshals this into DepthData for depth streams. Trade and
// ticker payloads are not decoded.
type RawData map[string]interface{}

// DepthData is the exchange-specific payload of a depth snapshot.
type DepthData struct {
	Symbol      string      `json:"s"`
	EventTimeMs int64       `json:"E"`
	FirstUpdate int64       `json:"U"`
	LastUpdate  int64       `json:"u"`
	Bids        [][2]string `json:"bids"`
	Asks        [][2]string `json:"asks"`
}

// TradeData is the exchange-specific payload of a trade event.
type TradeData struct {
	Symbol    string `json:"s"`
	TradeID   int64  `json:"t"`
	Price     string `json:"p"`
	Qty       string `json:"q"`
	TradeTime int64  `json:"T"`
	EventTime int64  `json:"E"`
	IsMaker   bool   `json:"m"`
}

// ————————————————————————————————————————————————————————————————————————
// Domain events (typed, post-dispatch)
// ————————————————————————————————————————————————————————————————————————

// PriceLevel is a single bid or ask level in the order book.
type PriceLevel struct {
	Price float64
	Qty   float64
}

// DepthEvent is a fully parsed, typed depth snapshot for one symbol.
// Bids are sorted descending by price, Asks ascending.
type DepthEvent struct {
	Symbol      string
	EventTime   time.Time
	FirstUpdate int64
	LastUpdate  int64
	Bids        []PriceLevel
	Asks        []PriceLevel
	TraceCtx    *TraceContext
}

// TradeEvent is a fully parsed, typed trade fill for one symbol.
type TradeEvent struct {
	Symbol    string
	TradeID   int64
	Price     float64
	Qty       float64
	Aggressor bool
	EventTime time.Time
	TraceCtx  *TraceContext
}

// ————————————————————————————————————————————————————————————————————————
// Depth analytics
// ————————————————————————————————————————————————————————————————————————

// DepthMetrics is the comprehensive per-symbol metrics record produced by
// the depth analyzer on every depth snapshot.
type DepthMetrics struct {
	Symbol    string    `json:"symbol"`
	Timestamp time.Time `json:"timestamp"`

	BidVolume   float64 `json:"bid_volume"`
	AskVolume   float64 `json:"ask_volume"`
	TotalVolume float64 `json:"total_volume"`

	ImbalanceRatio   float64 `json:"imbalance_ratio"`
	ImbalancePercent float64 `json:"imbalance_percent"`

	BuyPressure  float64 `json:"buy_pressure"`
	SellPressure float64 `json:"sell_pressure"`
	NetPressure  float64 `json:"net_pressure"`

	BidDepth5  float64 `json:"bid_depth_5"`
	AskDepth5  float64 `json:"ask_depth_5"`
	BidDepth10 float64 `json:"bid_depth_10"`
	AskDepth10 float64 `json:"ask_depth_10"`

	BestBid   float64 `json:"best_bid"`
	BestAsk   float64 `json:"best_ask"`
	SpreadAbs float64 `json:"spread_abs"`
	SpreadBps float64 `json:"spread_bps"`
	Mid       float64 `json:"mid"`

	BidVWAP float64 `json:"bid_vwap"`
	AskVWAP float64 `json:"ask_vwap"`

	BidLevelCount int `json:"bid_level_count"`
	AskLevelCount int `json:"ask_level_count"`

	StrongestBid *PriceLevel `json:"strongest_bid,omitempty"`
	StrongestAsk *PriceLevel `json:"strongest_ask,omitempty"`
}

// PressurePoint is one sample in a rolling pressure or imbalance history.
type PressurePoint struct {
	Timestamp time.Time
	Value     float64
}

// PressureSummary is the derived statistics GetPressureHistory returns
// alongside the trimmed series.
type PressureSummary struct {
	Symbol    string          `json:"symbol"`
	Timeframe string          `json:"timeframe"`
	Pressure  []PressurePoint `json:"pressure"`
	Imbalance []PressurePoint `json:"imbalance"`
	Mean      float64         `json:"mean"`
	Max       float64         `json:"max"`
	Min       float64         `json:"min"`
	Trend     Trend           `json:"trend"`
	Strength  float64         `json:"strength"`
}

// SymbolScore pairs a symbol with a ranking value, used in top-K lists.
type SymbolScore struct {
	Symbol string  `json:"symbol"`
	Value  float64 `json:"value"`
}

// MarketSummary is the cross-symbol aggregate GetMarketSummary returns.
type MarketSummary struct {
	BullishCount    int           `json:"bullish_count"`
	BearishCount    int           `json:"bearish_count"`
	NeutralCount    int           `json:"neutral_count"`
	MeanNetPressure float64       `json:"mean_net_pressure"`
	MeanImbalance   float64       `json:"mean_imbalance"`
	MeanSpreadBps   float64       `json:"mean_spread_bps"`
	TotalLiquidity  float64       `json:"total_liquidity"`
	TopBuyPressure  []SymbolScore `json:"top_buy_pressure"`
	TopSellPressure []SymbolScore `json:"top_sell_pressure"`
}

// ————————————————————————————————————————————————————————————————————————
// Spread / liquidity
// ————————————————————————————————————————————————————————————————————————

// SpreadMetrics holds the basic spread/depth figures for one tick.
// Invariant: BestAsk > BestBid > 0 for any constructed value.
type SpreadMetrics struct {
	Timestamp  time.Time
	BestBid    float64
	BestAsk    float64
	Mid        float64
	SpreadAbs  float64
	SpreadBps  float64
	SpreadPct  float64
	BidDepth5  float64
	AskDepth5  float64
	TotalDepth float64
}

// SpreadSnapshot is the derived-per-tick comparison against rolling history.
type SpreadSnapshot struct {
	Current           SpreadMetrics
	SpreadRatio       float64
	SpreadVelocity    float64
	DepthReductionPct float64
	IsWidening        bool
	IsNarrowing       bool
	IsAbnormal        bool
}

// WideSpreadEvent is the open state tracked per symbol while an abnormal
// wide spread persists.
type WideSpreadEvent struct {
	StartTime        time.Time
	InitialSpreadBps float64
}

// ————————————————————————————————————————————————————————————————————————
// Level tracking / icebergs
// ————————————————————————————————————————————————————————————————————————

// LevelSnapshot is one observed (qty, timestamp) pair at a price level.
type LevelSnapshot struct {
	Qty       float64
	Timestamp time.Time
}

// IcebergPattern is a detected pattern at a given price level.
type IcebergPattern struct {
	Symbol           string      `json:"symbol"`
	Price            float64     `json:"price"`
	Side             Side        `json:"side"`
	RefillCount      int         `json:"refill_count"`
	AvgRefillSpeed   float64     `json:"avg_refill_speed_seconds"`
	ConsistencyScore float64     `json:"consistency_score"`
	PersistenceSec   float64     `json:"persistence_seconds"`
	Confidence       float64     `json:"confidence"`
	Kind             IcebergKind `json:"kind"`
	DetectedAt       time.Time   `json:"detected_at"`
}

// ————————————————————————————————————————————————————————————————————————
// Signals / orders
// ————————————————————————————————————————————————————————————————————————

// Signal is produced by a strategy and handed to the normalizer.
type Signal struct {
	ID          string                 `json:"signal_id"`
	StrategyID  string                 `json:"strategy_id"`
	Symbol      string                 `json:"symbol"`
	Action      Action                 `json:"action"`
	Confidence  float64                `json:"confidence"`
	Price       float64                `json:"price"`
	StopLoss    float64                `json:"stop_loss"`
	TakeProfit  float64                `json:"take_profit"`
	Indicators  map[string]float64     `json:"indicators,omitempty"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
	GeneratedAt time.Time              `json:"generated_at"`
	TraceCtx    *TraceContext          `json:"-"`
}

// TradeOrder is the downstream order envelope produced by the normalizer.
type TradeOrder struct {
	OrderID          string       `json:"order_id"`
	Symbol           string       `json:"symbol"`
	Side             Side         `json:"side"`
	Type             OrderType    `json:"type"`
	Quantity         float64      `json:"quantity"`
	PositionType     PositionType `json:"position_type"`
	SourceStrategyID string       `json:"source_strategy_id"`
	SourceSignalID   string       `json:"source_signal_id"`
	Confidence       float64      `json:"confidence"`
	GeneratedAt      time.Time    `json:"generated_at"`

	OtelTraceContext *TraceContext `json:"_otel_trace_context,omitempty"`
}
