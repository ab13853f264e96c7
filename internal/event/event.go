// Package event defines the canonical event model: a tagged variant of
// every channel the adapter can produce, sharing a common BaseEvent
// header. The router and writers switch on Channel; there is no runtime
// polymorphism beyond that single dispatch (spec §9 "Channel = tagged
// variant").
package event

import (
	"github.com/shopspring/decimal"
)

// Channel is the closed set of logical streams a preset can subscribe to.
type Channel string

const (
	ChannelTrades           Channel = "trades"
	ChannelAggTrades5s      Channel = "agg_trades_5s"
	ChannelL1               Channel = "l1"
	ChannelOBTop5           Channel = "ob_top5"
	ChannelOBTop20          Channel = "ob_top20"
	ChannelOBDiff           Channel = "ob_diff"
	ChannelLiquidations     Channel = "liquidations"
	ChannelKlines           Channel = "klines"
	ChannelMarkPrice        Channel = "mark_price"
	ChannelFunding          Channel = "funding"
	ChannelAdvancedMetrics  Channel = "advanced_metrics"
)

// Side is a trade/liquidation aggressor or book side.
type Side string

const (
	SideBuy     Side = "BUY"
	SideSell    Side = "SELL"
	SideUnknown Side = ""
)

// BaseEvent carries the fields present on every event regardless of
// channel (spec §3).
type BaseEvent struct {
	Instrument string
	Channel    Channel
	TsEventNs  int64
	TsRecvNs   int64
}

// Event is the tagged union. Exactly one of the pointer fields is
// non-nil, selected by BaseEvent.Channel.
type Event struct {
	BaseEvent

	Trade           *TradeEvent
	AggTrades5s     *AggTrades5sEvent
	OrderBookDepth  *OrderBookDepthEvent
	OrderBookDiff   *OrderBookDiffEvent
	Liquidation     *LiquidationEvent
	Kline           *KlineEvent
	MarkPrice       *MarkPriceEvent
	Funding         *FundingEvent
	AdvancedMetrics *AdvancedMetricsEvent
}

// TradeEvent is a single executed trade.
type TradeEvent struct {
	Price       decimal.Decimal
	Qty         decimal.Decimal
	Side        Side
	TradeID     int64
	IsAggressor bool
	HasAggressor bool // false when the vendor did not report a side
}

// AggTrades5sEvent is one emitted row of the 5s aggregated-trade roller.
type AggTrades5sEvent struct {
	WindowStartNs int64
	IntervalS     int64
	Open          decimal.Decimal
	High          decimal.Decimal
	Low           decimal.Decimal
	Close         decimal.Decimal
	Volume        decimal.Decimal
	Notional      decimal.Decimal
	TradeCount    int64
	BuyQty        decimal.Decimal
	SellQty       decimal.Decimal
	BuyNotional   decimal.Decimal
	SellNotional  decimal.Decimal
	FirstTradeID  int64
	LastTradeID   int64
}

// Depth is the number of price levels per side in a top-of-book depth
// snapshot, one of {1, 5, 20, 50, 100}.
type Depth int

// OrderBookDepthEvent is a derived (L1) or vendor-pushed (top5/top20)
// depth snapshot, parallel arrays sorted bids desc / asks asc.
type OrderBookDepthEvent struct {
	Depth     Depth
	BidPrices []decimal.Decimal
	BidQtys   []decimal.Decimal
	AskPrices []decimal.Decimal
	AskQtys   []decimal.Decimal
}

// OrderBookDiffEvent is one incremental diff update.
type OrderBookDiffEvent struct {
	Sequence     int64
	PrevSequence int64
	Bids         map[string]decimal.Decimal // price string -> qty; qty zero means delete
	Asks         map[string]decimal.Decimal
}

// LiquidationEvent is a forced-liquidation fill.
type LiquidationEvent struct {
	Side    Side
	Price   decimal.Decimal
	Qty     decimal.Decimal
	OrderID string
	Reason  string
}

// KlineEvent is one OHLC candlestick update.
type KlineEvent struct {
	Interval              string
	Open                  decimal.Decimal
	High                  decimal.Decimal
	Low                   decimal.Decimal
	Close                 decimal.Decimal
	Volume                decimal.Decimal
	QuoteVolume           decimal.Decimal
	TakerBuyBaseVolume    decimal.Decimal
	TakerBuyQuoteVolume   decimal.Decimal
	TradeCount            int64
	IsClosed              bool
}

// MarkPriceEvent is a mark-price tick.
//
// ts_event_ns legacy note (spec §9 Open Question 1): the vendor supplies
// mark price timestamps in milliseconds, and per documented legacy
// behavior that millisecond count is stored directly in this
// nanosecond-typed field without multiplying by 1e6. Downstream
// consumers of mark_price/funding ts_event_ns must account for this;
// every other channel's ts_event_ns is true nanoseconds.
type MarkPriceEvent struct {
	MarkPrice   decimal.Decimal
	IndexPrice  decimal.Decimal
	HasIndex    bool
}

// FundingEvent is a funding-rate update.
type FundingEvent struct {
	FundingRate     decimal.Decimal
	NextFundingTsNs int64
}

// AdvancedMetricsEvent is a named bag of vendor-computed metrics.
type AdvancedMetricsEvent struct {
	Metrics map[string]decimal.Decimal
}
