// Package aggregate holds the per-symbol state machines the spec calls
// out as their own component, distinct from the exchange adapter that
// drives them: the 5s aggregated-trade roller, the orderbook diff
// bootstrap/sync state machine, the kline passthrough/validator, and the
// mark/funding combiner (spec §4.1, §6 dependency item 6).
//
// Every type here is owned exclusively by the shard task that feeds it;
// none of them take a lock, by design (spec §5 "Aggregator state per
// symbol — owned by its shard; never touched by another task").
package aggregate

import (
	"time"

	"github.com/ingestlabs/marketfeed/internal/clockutil"
	"github.com/ingestlabs/marketfeed/internal/decimalutil"
	"github.com/ingestlabs/marketfeed/internal/event"
)

const aggTradesIntervalSeconds = 5

// idleCloseGraceNs is how long past a window's end the roller waits for
// a trade before force-closing it on the wall-clock tick (spec §4.1
// "closer task emits and resets accumulators... within 2s past window
// end").
const idleCloseGraceNs = int64(2 * time.Second)

// TradeInput is the minimal shape the roller needs out of a parsed trade.
type TradeInput struct {
	TsEventNs int64
	Price     decimalutil.D
	Qty       decimalutil.D
	Side      event.Side
	HasSide   bool
	TradeID   int64
}

type window struct {
	startNs      int64
	open         decimalutil.D
	high         decimalutil.D
	low          decimalutil.D
	close        decimalutil.D
	volume       decimalutil.D
	notional     decimalutil.D
	tradeCount   int64
	buyQty       decimalutil.D
	sellQty      decimalutil.D
	buyNotional  decimalutil.D
	sellNotional decimalutil.D
	firstTradeID int64
	lastTradeID  int64
	lastTradeNs  int64
}

// Roller implements the per-symbol 5s aggregated-trade window (spec
// §3 AggTrades5sEvent, §4.1 "Aggregated-trade 5s window").
type Roller struct {
	instrument string
	cur        *window
	lost       int64

	// closedStartNs is the start of the last window CloseIdle emitted;
	// hasClosed reports whether there is one.
	closedStartNs int64
	hasClosed     bool
}

// NewRoller creates a roller for one instrument.
func NewRoller(instrument string) *Roller {
	return &Roller{instrument: instrument}
}

// Lost returns the count of trades dropped because they arrived for a
// window that had already closed (the "lost" counter in spec §4.1).
func (r *Roller) Lost() int64 { return r.lost }

// Add folds a trade into the roller. It returns a non-nil emitted event
// when folding the trade first requires closing the previous window.
// A late trade (one whose window is older than the open window, or not
// newer than the last window CloseIdle emitted) is dropped and counted
// in Lost; every other trade is folded into a window before Add
// returns. The caller must still call CloseIdle on a timer to flush a
// window that never receives a bordering trade.
func (r *Roller) Add(t TradeInput) *event.Event {
	startNs := clockutil.WindowStartNs(t.TsEventNs, aggTradesIntervalSeconds)

	if r.cur == nil {
		if r.hasClosed && startNs <= r.closedStartNs {
			r.lost++
			return nil
		}
		r.cur = newWindow(startNs, t)
		return nil
	}

	switch {
	case startNs > r.cur.startNs:
		emitted := r.toEvent()
		r.cur = newWindow(startNs, t)
		return emitted
	case startNs == r.cur.startNs:
		foldTrade(r.cur, t)
		return nil
	default: // startNs < r.cur.startNs: late trade, drop
		r.lost++
		return nil
	}
}

// CloseIdle force-closes the current window if its grace period has
// elapsed with no new trade, so idle symbols don't hold an open
// accumulator forever. nowNs is the caller's wall clock, not
// ts_event_ns, matching spec's "wall-clock closer task".
func (r *Roller) CloseIdle(nowNs int64) *event.Event {
	if r.cur == nil {
		return nil
	}
	windowEndNs := r.cur.startNs + int64(aggTradesIntervalSeconds)*int64(time.Second)
	if nowNs < windowEndNs+idleCloseGraceNs {
		return nil
	}
	emitted := r.toEvent()
	r.closedStartNs, r.hasClosed = r.cur.startNs, true
	r.cur = nil
	return emitted
}

func newWindow(startNs int64, t TradeInput) *window {
	w := &window{
		startNs:      startNs,
		open:         t.Price,
		high:         t.Price,
		low:          t.Price,
		close:        t.Price,
		volume:       decimalutil.Zero,
		notional:     decimalutil.Zero,
		buyQty:       decimalutil.Zero,
		sellQty:      decimalutil.Zero,
		buyNotional:  decimalutil.Zero,
		sellNotional: decimalutil.Zero,
		firstTradeID: t.TradeID,
		lastTradeID:  t.TradeID,
		lastTradeNs:  t.TsEventNs,
	}
	// High/low/open/close already seeded from this trade above; fold in
	// its volume/notional/trade_count/side buckets via the shared path.
	foldTrade(w, t)
	return w
}

func foldTrade(w *window, t TradeInput) {
	w.high = decimalutil.Max(w.high, t.Price)
	w.low = decimalutil.Min(w.low, t.Price)
	w.close = t.Price
	w.volume = w.volume.Add(t.Qty)
	w.notional = w.notional.Add(t.Price.Mul(t.Qty))
	w.tradeCount++
	if t.HasSide {
		switch t.Side {
		case event.SideBuy:
			w.buyQty = w.buyQty.Add(t.Qty)
			w.buyNotional = w.buyNotional.Add(t.Price.Mul(t.Qty))
		case event.SideSell:
			w.sellQty = w.sellQty.Add(t.Qty)
			w.sellNotional = w.sellNotional.Add(t.Price.Mul(t.Qty))
		}
	}
	if t.TradeID < w.firstTradeID || w.tradeCount == 1 {
		w.firstTradeID = t.TradeID
	}
	w.lastTradeID = t.TradeID
	w.lastTradeNs = t.TsEventNs
}

func (r *Roller) toEvent() *event.Event {
	w := r.cur
	return &event.Event{
		BaseEvent: event.BaseEvent{
			Instrument: r.instrument,
			Channel:    event.ChannelAggTrades5s,
			TsEventNs:  w.lastTradeNs,
		},
		AggTrades5s: &event.AggTrades5sEvent{
			WindowStartNs: w.startNs,
			IntervalS:     aggTradesIntervalSeconds,
			Open:          w.open,
			High:          w.high,
			Low:           w.low,
			Close:         w.close,
			Volume:        w.volume,
			Notional:      w.notional,
			TradeCount:    w.tradeCount,
			BuyQty:        w.buyQty,
			SellQty:       w.sellQty,
			BuyNotional:   w.buyNotional,
			SellNotional:  w.sellNotional,
			FirstTradeID:  w.firstTradeID,
			LastTradeID:   w.lastTradeID,
		},
	}
}
