package columnar

import (
	"context"

	"github.com/ingestlabs/marketfeed/internal/event"
)

// Accept implements feedrouter.Writer: it maps a canonical event onto
// one of the table schemas spec §6 names and enqueues the resulting
// row. Channels with no columnar table (orderbook depth/diff,
// liquidations, advanced metrics) are not part of that schema and are
// accepted as a no-op rather than an error, since router configuration
// is what decides whether a channel is ever routed here.
func (w *Writer) Accept(ctx context.Context, ev event.Event) error {
	table, row := rowFor(ev)
	if table == "" {
		return nil
	}
	return w.Enqueue(ctx, table, row)
}

func rowFor(ev event.Event) (string, Row) {
	switch ev.Channel {
	case event.ChannelTrades:
		t := ev.Trade
		return "trades", Row{
			"instrument":  ev.Instrument,
			"ts_event_ns": ev.TsEventNs,
			"ts_recv_ns":  ev.TsRecvNs,
			"price":       t.Price.String(),
			"qty":         t.Qty.String(),
			"side":        string(t.Side),
			"trade_id":    t.TradeID,
		}

	case event.ChannelAggTrades5s:
		a := ev.AggTrades5s
		return "agg_trades_5s", Row{
			"instrument":      ev.Instrument,
			"window_start_ns": a.WindowStartNs,
			"ts_event_ns":     ev.TsEventNs,
			"ts_recv_ns":      ev.TsRecvNs,
			"interval_s":      a.IntervalS,
			"open":            a.Open.String(),
			"high":            a.High.String(),
			"low":             a.Low.String(),
			"close":           a.Close.String(),
			"volume":          a.Volume.String(),
			"notional":        a.Notional.String(),
			"trade_count":     a.TradeCount,
			"buy_qty":         a.BuyQty.String(),
			"sell_qty":        a.SellQty.String(),
			"buy_notional":    a.BuyNotional.String(),
			"sell_notional":   a.SellNotional.String(),
			"first_trade_id":  a.FirstTradeID,
			"last_trade_id":   a.LastTradeID,
		}

	case event.ChannelMarkPrice:
		m := ev.MarkPrice
		return "mark_price", Row{
			"instrument":  ev.Instrument,
			"ts_event_ns": ev.TsEventNs,
			"ts_recv_ns":  ev.TsRecvNs,
			"mark_price":  m.MarkPrice.String(),
			"index_price": m.IndexPrice.String(),
		}

	case event.ChannelFunding:
		f := ev.Funding
		return "funding", Row{
			"instrument":         ev.Instrument,
			"ts_event_ns":        ev.TsEventNs,
			"ts_recv_ns":         ev.TsRecvNs,
			"funding_rate":       f.FundingRate.String(),
			"next_funding_ts_ns": f.NextFundingTsNs,
		}

	case event.ChannelKlines:
		k := ev.Kline
		return "klines", Row{
			"instrument":             ev.Instrument,
			"ts_event_ns":            ev.TsEventNs,
			"ts_recv_ns":             ev.TsRecvNs,
			"interval":               k.Interval,
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
		}

	default:
		return "", nil
	}
}
