package cache

import (
	"context"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/ingestlabs/marketfeed/internal/event"
)

// Accept implements feedrouter.Writer: it maps a canonical event onto
// the keyspace table spec §4.4 fixes and enqueues the resulting
// command. Channels with no cache row (orderbook diffs, advanced
// metrics) are accepted as a no-op; routing which channels reach this
// writer at all is the router's configuration, not this mapping's job.
func (w *Writer) Accept(ctx context.Context, ev event.Event) error {
	op, ok := opFor(ev)
	if !ok {
		return nil
	}
	return w.Enqueue(ctx, op)
}

func opFor(ev event.Event) (Op, bool) {
	switch ev.Channel {
	case event.ChannelL1:
		d := ev.OrderBookDepth
		if d == nil || len(d.BidPrices) == 0 || len(d.AskPrices) == 0 {
			return Op{}, false
		}
		return Op{
			Command: CmdHSet,
			Key:     KeyL1(ev.Instrument),
			Fields: map[string]interface{}{
				"bid_price":   d.BidPrices[0].String(),
				"bid_qty":     d.BidQtys[0].String(),
				"ask_price":   d.AskPrices[0].String(),
				"ask_qty":     d.AskQtys[0].String(),
				"ts_event_ns": ev.TsEventNs,
				"ts_recv_ns":  ev.TsRecvNs,
			},
		}, true

	case event.ChannelOBTop5, event.ChannelOBTop20:
		d := ev.OrderBookDepth
		if d == nil {
			return Op{}, false
		}
		depth := 5
		if ev.Channel == event.ChannelOBTop20 {
			depth = 20
		}
		return Op{
			Command: CmdHSet,
			Key:     KeyTop(depth, ev.Instrument),
			Fields: map[string]interface{}{
				"bid_prices":  joinDecimals(d.BidPrices),
				"bid_qtys":    joinDecimals(d.BidQtys),
				"ask_prices":  joinDecimals(d.AskPrices),
				"ask_qtys":    joinDecimals(d.AskQtys),
				"ts_event_ns": ev.TsEventNs,
				"ts_recv_ns":  ev.TsRecvNs,
			},
		}, true

	case event.ChannelMarkPrice:
		m := ev.MarkPrice
		return Op{
			Command: CmdHSet,
			Key:     KeyMark(ev.Instrument),
			TTL:     TTLMark,
			Fields: map[string]interface{}{
				"mark_price":  m.MarkPrice.String(),
				"index_price": m.IndexPrice.String(),
				"ts_event_ns": ev.TsEventNs,
				"ts_recv_ns":  ev.TsRecvNs,
			},
		}, true

	case event.ChannelFunding:
		f := ev.Funding
		return Op{
			Command: CmdHSet,
			Key:     KeyFunding(ev.Instrument),
			Fields: map[string]interface{}{
				"funding_rate":       f.FundingRate.String(),
				"next_funding_ts_ns": f.NextFundingTsNs,
				"ts_event_ns":        ev.TsEventNs,
				"ts_recv_ns":         ev.TsRecvNs,
			},
		}, true

	case event.ChannelKlines:
		k := ev.Kline
		return Op{
			Command: CmdHSet,
			Key:     KeyKline(k.Interval, ev.Instrument),
			TTL:     TTLKline,
			Fields: map[string]interface{}{
				"open":                   k.Open.String(),
				"high":                   k.High.String(),
				"low":                    k.Low.String(),
				"close":                  k.Close.String(),
				"volume":                 k.Volume.String(),
				"quote_volume":           k.QuoteVolume.String(),
				"taker_buy_base_volume":  k.TakerBuyBaseVolume.String(),
				"taker_buy_quote_volume": k.TakerBuyQuoteVolume.String(),
				"trade_count":            k.TradeCount,
				"is_closed":              k.IsClosed,
				"ts_event_ns":            ev.TsEventNs,
				"ts_recv_ns":             ev.TsRecvNs,
			},
		}, true

	case event.ChannelAggTrades5s:
		a := ev.AggTrades5s
		return Op{
			Command: CmdHSet,
			Key:     KeyAggTrades5s(ev.Instrument),
			TTL:     TTLAggTrades5s,
			Fields: map[string]interface{}{
				"window_start_ns": a.WindowStartNs,
				"open":            a.Open.String(),
				"high":            a.High.String(),
				"low":             a.Low.String(),
				"close":           a.Close.String(),
				"volume":          a.Volume.String(),
				"trade_count":     a.TradeCount,
				"ts_event_ns":     ev.TsEventNs,
				"ts_recv_ns":      ev.TsRecvNs,
			},
		}, true

	case event.ChannelTrades:
		t := ev.Trade
		return Op{
			Command: CmdXAdd,
			Key:     KeyTradesStream(ev.Instrument),
			MaxLen:  StreamMaxLen,
			Fields: map[string]interface{}{
				"price":       t.Price.String(),
				"qty":         t.Qty.String(),
				"side":        string(t.Side),
				"trade_id":    t.TradeID,
				"ts_event_ns": ev.TsEventNs,
				"ts_recv_ns":  ev.TsRecvNs,
			},
		}, true

	case event.ChannelLiquidations:
		l := ev.Liquidation
		return Op{
			Command: CmdXAdd,
			Key:     KeyLiquidationsStream(ev.Instrument),
			MaxLen:  StreamMaxLen,
			Fields: map[string]interface{}{
				"side":        string(l.Side),
				"price":       l.Price.String(),
				"qty":         l.Qty.String(),
				"ts_event_ns": ev.TsEventNs,
				"ts_recv_ns":  ev.TsRecvNs,
			},
		}, true

	default:
		return Op{}, false
	}
}

func joinDecimals(ds []decimal.Decimal) string {
	parts := make([]string, len(ds))
	for i, d := range ds {
		parts[i] = d.String()
	}
	return strings.Join(parts, ",")
}
