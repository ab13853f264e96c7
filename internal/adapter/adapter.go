// Package adapter implements the exchange adapter (spec §4.1): a shard
// pool of WebSocket connections for one channel's symbol set, each frame
// parsed into a canonical event and fed to the aggregators or directly to
// the publisher.
package adapter

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ingestlabs/marketfeed/internal/aggregate"
	"github.com/ingestlabs/marketfeed/internal/clockutil"
	"github.com/ingestlabs/marketfeed/internal/decimalutil"
	"github.com/ingestlabs/marketfeed/internal/event"
	"github.com/ingestlabs/marketfeed/internal/ingesterr"
	"github.com/ingestlabs/marketfeed/internal/shardassign"
)

// Publisher is the router-facing seam the adapter feeds (satisfied by
// *feedrouter.Router without a direct import, keeping the adapter
// decoupled from routing policy).
type Publisher interface {
	Publish(ctx context.Context, ev event.Event) error
}

const housekeepInterval = 1 * time.Second

// Adapter runs one channel's shard pool, owns that channel's per-symbol
// aggregator state, and feeds canonical events to a Publisher.
type Adapter struct {
	cfg       Config
	clock     clockutil.Clock
	log       *logrus.Entry
	publisher Publisher
	snapshot  SnapshotFetcher

	shards []*shard
	queue  chan event.Event

	mu       sync.Mutex
	rollers  map[string]*aggregate.Roller
	books    map[string]*aggregate.BookTracker
	combiner *aggregate.Combiner
	klineVal aggregate.KlineValidator

	parseErrors int64
}

// New builds an Adapter for cfg, sharding cfg.Symbols per MaxStreamsFor.
func New(cfg Config, publisher Publisher, snapshot SnapshotFetcher, clock clockutil.Clock, log *logrus.Entry) *Adapter {
	if clock == nil {
		clock = clockutil.System{}
	}
	if cfg.QueueDepth <= 0 {
		cfg.QueueDepth = 4096
	}

	a := &Adapter{
		cfg:       cfg,
		clock:     clock,
		log:       log.WithField("channel", cfg.Channel),
		publisher: publisher,
		snapshot:  snapshot,
		queue:     make(chan event.Event, cfg.QueueDepth),
		rollers:   make(map[string]*aggregate.Roller),
		books:     make(map[string]*aggregate.BookTracker),
		combiner:  aggregate.NewCombiner(),
	}

	buckets := shardassign.Assign(cfg.Symbols, MaxStreamsFor(cfg.Channel))
	for i, symbols := range buckets {
		names := buildStreamNames(cfg.Channel, symbols)
		url := combinedStreamURL(cfg.WSBaseURL, cfg.WSStreamPath, names)
		a.shards = append(a.shards, newShard(i, symbols, url, a.log))
	}
	return a
}

// Run starts every shard's reconnect loop, the queue drain, and the
// housekeeping tickers (idle-close, resync). It blocks until ctx is
// cancelled.
func (a *Adapter) Run(ctx context.Context) {
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		a.drain(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		a.housekeep(ctx)
	}()

	for _, s := range a.shards {
		wg.Add(1)
		go func(s *shard) {
			defer wg.Done()
			s.run(ctx, func(raw []byte) { a.handleFrame(ctx, s, raw) })
		}(s)
	}

	wg.Wait()
}

// ShardStats returns a snapshot of every shard's counters (spec §4.5).
func (a *Adapter) ShardStats() []ShardStats {
	out := make([]ShardStats, len(a.shards))
	for i, s := range a.shards {
		out[i] = s.counters.snapshot()
	}
	return out
}

func (a *Adapter) drain(ctx context.Context) {
	for {
		select {
		case ev := <-a.queue:
			if err := a.publisher.Publish(ctx, ev); err != nil {
				a.log.WithError(err).Warn("publish failed")
			}
		case <-ctx.Done():
			return
		}
	}
}

// enqueue blocks when the queue is full, per spec §4.1's "no drops at
// adapter level" backpressure contract.
func (a *Adapter) enqueue(ctx context.Context, ev event.Event) {
	select {
	case a.queue <- ev:
	case <-ctx.Done():
	}
}

func (a *Adapter) housekeep(ctx context.Context) {
	ticker := time.NewTicker(housekeepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			a.closeIdleWindows(ctx)
			a.pollResyncs(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (a *Adapter) closeIdleWindows(ctx context.Context) {
	now := a.clock.NowNs()
	a.mu.Lock()
	rollers := make([]*aggregate.Roller, 0, len(a.rollers))
	for _, r := range a.rollers {
		rollers = append(rollers, r)
	}
	a.mu.Unlock()

	for _, r := range rollers {
		if ev := r.CloseIdle(now); ev != nil {
			ev.TsRecvNs = now
			a.enqueue(ctx, *ev)
		}
	}
}

func (a *Adapter) pollResyncs(ctx context.Context) {
	if a.snapshot == nil {
		return
	}
	now := time.Now()

	a.mu.Lock()
	due := make([]*aggregate.BookTracker, 0)
	for _, b := range a.books {
		if b.ShouldFetchSnapshot(now) {
			b.RecordSnapshotAttempt(now)
			due = append(due, b)
		}
	}
	a.mu.Unlock()

	for _, b := range due {
		go a.bootstrapBook(ctx, b)
	}
}

func (a *Adapter) bootstrapBook(ctx context.Context, b *aggregate.BookTracker) {
	snap, err := a.snapshot.Fetch(ctx, b.Instrument)
	if err != nil {
		a.log.WithError(err).WithField("instrument", b.Instrument).Warn("orderbook snapshot fetch failed")
		return
	}
	a.mu.Lock()
	b.BootstrapFrom(snap)
	a.mu.Unlock()
}

func (a *Adapter) bookFor(instrument string) *aggregate.BookTracker {
	a.mu.Lock()
	defer a.mu.Unlock()
	b, ok := a.books[instrument]
	if !ok {
		b = aggregate.NewBookTracker(instrument)
		a.books[instrument] = b
	}
	return b
}

func (a *Adapter) handleFrame(ctx context.Context, s *shard, raw []byte) {
	payload, streamName, isData, err := unwrap(raw)
	if err != nil {
		a.parseErrors++
		a.log.WithError(err).Debug("frame unwrap failed")
		return
	}
	if !isData {
		return
	}

	nowNs := a.clock.NowNs()

	var handleErr error
	switch a.cfg.Channel {
	case "trades":
		handleErr = a.handleTrade(ctx, payload, nowNs)
	case "agg_trades_5s":
		handleErr = a.handleAggTrade(ctx, s, payload, nowNs)
	case "ob_diff":
		handleErr = a.handleDiff(ctx, s, payload, nowNs)
	case "ob_top5":
		handleErr = a.handlePartialDepth(ctx, payload, symbolFromStream(streamName), nowNs, 5)
	case "ob_top20":
		handleErr = a.handlePartialDepth(ctx, payload, symbolFromStream(streamName), nowNs, 20)
	case "liquidations":
		handleErr = a.handleLiquidation(ctx, payload, nowNs)
	case "klines":
		handleErr = a.handleKline(ctx, payload, nowNs)
	case "mark_price":
		handleErr = a.handleMarkPrice(ctx, payload, nowNs)
	case "funding":
		handleErr = a.handleFunding(ctx, payload, nowNs)
	}

	if handleErr != nil {
		a.parseErrors++
		if handleErr == ingesterr.ErrStaleDiff || handleErr == ingesterr.ErrSequenceGap {
			s.incDrop()
		}
		a.log.WithError(handleErr).Debug("frame handling failed")
	}
}

func (a *Adapter) handleTrade(ctx context.Context, payload []byte, nowNs int64) error {
	var v vendorAggTrade
	if err := json.Unmarshal(payload, &v); err != nil {
		return ingesterr.ErrParse
	}
	price, err := parseDecimal(v.Price)
	if err != nil {
		return err
	}
	qty, err := parseDecimal(v.Qty)
	if err != nil {
		return err
	}
	side, hasSide := v.side()

	ev := event.Event{
		BaseEvent: event.BaseEvent{
			Instrument: v.Symbol,
			Channel:    event.ChannelTrades,
			TsEventNs:  msToNs(v.TradeTimeMs),
			TsRecvNs:   nowNs,
		},
		Trade: &event.TradeEvent{
			Price:        price,
			Qty:          qty,
			Side:         side,
			TradeID:      v.AggTradeID,
			IsAggressor:  hasSide && side == event.SideSell,
			HasAggressor: hasSide,
		},
	}
	a.enqueue(ctx, ev)
	return nil
}

func (a *Adapter) handleAggTrade(ctx context.Context, s *shard, payload []byte, nowNs int64) error {
	var v vendorAggTrade
	if err := json.Unmarshal(payload, &v); err != nil {
		return ingesterr.ErrParse
	}
	price, err := parseDecimal(v.Price)
	if err != nil {
		return err
	}
	qty, err := parseDecimal(v.Qty)
	if err != nil {
		return err
	}
	side, hasSide := v.side()

	a.mu.Lock()
	roller, ok := a.rollers[v.Symbol]
	if !ok {
		roller = aggregate.NewRoller(v.Symbol)
		a.rollers[v.Symbol] = roller
	}
	lostBefore := roller.Lost()
	emitted := roller.Add(aggregate.TradeInput{
		TsEventNs: msToNs(v.TradeTimeMs),
		Price:     price,
		Qty:       qty,
		Side:      side,
		HasSide:   hasSide,
		TradeID:   v.AggTradeID,
	})
	lateTrade := roller.Lost() > lostBefore
	a.mu.Unlock()

	if lateTrade {
		s.incDrop()
	}
	if emitted != nil {
		emitted.TsRecvNs = nowNs
		a.enqueue(ctx, *emitted)
	}
	return nil
}

func (a *Adapter) handleDiff(ctx context.Context, s *shard, payload []byte, nowNs int64) error {
	var v vendorDepthUpdate
	if err := json.Unmarshal(payload, &v); err != nil {
		return ingesterr.ErrParse
	}
	bids, err := parseDepthLevels(v.Bids)
	if err != nil {
		return err
	}
	asks, err := parseDepthLevels(v.Asks)
	if err != nil {
		return err
	}

	book := a.bookFor(v.Symbol)
	du := aggregate.DiffUpdate{FirstUpdateID: v.FirstUpdateID, FinalUpdateID: v.FinalUpdateID, Bids: bids, Asks: asks}

	a.mu.Lock()
	prevU := book.LastUpdateID()
	applied, applyErr := book.ApplyDiff(du)
	var bbp, bbq, bap, baq decimalutil.D
	var l1OK bool
	if applied {
		bbp, bbq, bap, baq, l1OK = book.L1()
	}
	a.mu.Unlock()

	if applyErr != nil {
		return applyErr
	}
	if applied {
		tsEventNs := msToNs(v.EventTimeMs)
		ev := aggregate.DiffEvent(v.Symbol, prevU, du, tsEventNs, nowNs)
		a.enqueue(ctx, ev)

		if l1OK {
			a.enqueue(ctx, event.Event{
				BaseEvent: event.BaseEvent{
					Instrument: v.Symbol,
					Channel:    event.ChannelL1,
					TsEventNs:  tsEventNs,
					TsRecvNs:   nowNs,
				},
				OrderBookDepth: &event.OrderBookDepthEvent{
					Depth:     1,
					BidPrices: []decimalutil.D{bbp},
					BidQtys:   []decimalutil.D{bbq},
					AskPrices: []decimalutil.D{bap},
					AskQtys:   []decimalutil.D{baq},
				},
			})
		}
	}
	return nil
}

func (a *Adapter) handlePartialDepth(ctx context.Context, payload []byte, symbol string, nowNs int64, depth int) error {
	var v vendorPartialDepth
	if err := json.Unmarshal(payload, &v); err != nil {
		return ingesterr.ErrParse
	}
	bidPrices, bidQtys, err := levelsToArrays(v.Bids)
	if err != nil {
		return err
	}
	askPrices, askQtys, err := levelsToArrays(v.Asks)
	if err != nil {
		return err
	}

	ev := event.Event{
		BaseEvent: event.BaseEvent{
			Instrument: symbol,
			Channel:    channelForDepth(depth),
			TsEventNs:  nowNs, // vendor partial-depth frames carry no event timestamp
			TsRecvNs:   nowNs,
		},
		OrderBookDepth: &event.OrderBookDepthEvent{
			Depth:     event.Depth(depth),
			BidPrices: bidPrices,
			BidQtys:   bidQtys,
			AskPrices: askPrices,
			AskQtys:   askQtys,
		},
	}
	a.enqueue(ctx, ev)
	return nil
}

func channelForDepth(depth int) event.Channel {
	if depth >= 20 {
		return event.ChannelOBTop20
	}
	return event.ChannelOBTop5
}

func levelsToArrays(levels [][]string) (prices, qtys []decimalutil.D, err error) {
	prices = make([]decimalutil.D, 0, len(levels))
	qtys = make([]decimalutil.D, 0, len(levels))
	for _, lvl := range levels {
		if len(lvl) < 2 {
			continue
		}
		p, err := decimalutil.Parse(lvl[0])
		if err != nil {
			return nil, nil, err
		}
		q, err := parseDecimal(lvl[1])
		if err != nil {
			return nil, nil, err
		}
		prices = append(prices, p)
		qtys = append(qtys, q)
	}
	return prices, qtys, nil
}

func (a *Adapter) handleLiquidation(ctx context.Context, payload []byte, nowNs int64) error {
	var v vendorForceOrder
	if err := json.Unmarshal(payload, &v); err != nil {
		return ingesterr.ErrParse
	}
	price, err := parseDecimal(v.O.Price)
	if err != nil {
		return err
	}
	qty, err := parseDecimal(v.O.OrigQty)
	if err != nil {
		return err
	}

	ev := event.Event{
		BaseEvent: event.BaseEvent{
			Instrument: v.O.Symbol,
			Channel:    event.ChannelLiquidations,
			TsEventNs:  msToNs(v.EventTimeMs),
			TsRecvNs:   nowNs,
		},
		Liquidation: &event.LiquidationEvent{
			Side:  event.Side(v.O.Side),
			Price: price,
			Qty:   qty,
		},
	}
	a.enqueue(ctx, ev)
	return nil
}

func (a *Adapter) handleKline(ctx context.Context, payload []byte, nowNs int64) error {
	var v vendorKline
	if err := json.Unmarshal(payload, &v); err != nil {
		return ingesterr.ErrParse
	}
	open, err := parseDecimal(v.K.Open)
	if err != nil {
		return err
	}
	high, err := parseDecimal(v.K.High)
	if err != nil {
		return err
	}
	low, err := parseDecimal(v.K.Low)
	if err != nil {
		return err
	}
	closeP, err := parseDecimal(v.K.Close)
	if err != nil {
		return err
	}
	volume, err := parseDecimal(v.K.Volume)
	if err != nil {
		return err
	}
	quoteVolume, err := parseDecimal(v.K.QuoteVolume)
	if err != nil {
		return err
	}
	takerBuyBase, err := parseDecimal(v.K.TakerBuyBaseVolume)
	if err != nil {
		return err
	}
	takerBuyQuote, err := parseDecimal(v.K.TakerBuyQuoteVolume)
	if err != nil {
		return err
	}

	if !a.klineVal.Validate(aggregate.KlineInput{Open: open, High: high, Low: low, Close: closeP, Volume: volume, QuoteVolume: quoteVolume, IsClosed: v.K.IsClosed}) {
		return ingesterr.ErrParse
	}

	ev := event.Event{
		BaseEvent: event.BaseEvent{
			Instrument: v.Symbol,
			Channel:    event.ChannelKlines,
			TsEventNs:  msToNs(v.EventTimeMs),
			TsRecvNs:   nowNs,
		},
		Kline: &event.KlineEvent{
			Interval:            v.K.Interval,
			Open:                open,
			High:                high,
			Low:                 low,
			Close:               closeP,
			Volume:              volume,
			QuoteVolume:         quoteVolume,
			TakerBuyBaseVolume:  takerBuyBase,
			TakerBuyQuoteVolume: takerBuyQuote,
			TradeCount:          v.K.TradeCount,
			IsClosed:            v.K.IsClosed,
		},
	}
	a.enqueue(ctx, ev)
	return nil
}

func (a *Adapter) handleMarkPrice(ctx context.Context, payload []byte, nowNs int64) error {
	var v vendorMarkPrice
	if err := json.Unmarshal(payload, &v); err != nil {
		return ingesterr.ErrParse
	}
	mark, err := parseDecimal(v.MarkPrice)
	if err != nil {
		return err
	}
	index, err := parseDecimal(v.IndexPrice)
	if err != nil {
		return err
	}
	hasIndex := v.IndexPrice != ""

	a.mu.Lock()
	a.combiner.UpdateMark(v.Symbol, mark, index, hasIndex)
	a.mu.Unlock()

	ev := event.Event{
		BaseEvent: event.BaseEvent{
			Instrument: v.Symbol,
			Channel:    event.ChannelMarkPrice,
			TsEventNs:  v.EventTimeMs, // legacy: ms left-placed in the ns field, see MarkPriceEvent
			TsRecvNs:   nowNs,
		},
		MarkPrice: &event.MarkPriceEvent{
			MarkPrice:  mark,
			IndexPrice: index,
			HasIndex:   hasIndex,
		},
	}
	a.enqueue(ctx, ev)
	return nil
}

func (a *Adapter) handleFunding(ctx context.Context, payload []byte, nowNs int64) error {
	var v vendorMarkPrice
	if err := json.Unmarshal(payload, &v); err != nil {
		return ingesterr.ErrParse
	}
	rate, err := parseDecimal(v.FundingRate)
	if err != nil {
		return err
	}
	nextFundingNs := v.NextFundingTimeMs // same legacy placement as mark_price

	a.mu.Lock()
	a.combiner.UpdateFunding(v.Symbol, rate, nextFundingNs)
	a.mu.Unlock()

	ev := event.Event{
		BaseEvent: event.BaseEvent{
			Instrument: v.Symbol,
			Channel:    event.ChannelFunding,
			TsEventNs:  v.EventTimeMs,
			TsRecvNs:   nowNs,
		},
		Funding: &event.FundingEvent{
			FundingRate:     rate,
			NextFundingTsNs: nextFundingNs,
		},
	}
	a.enqueue(ctx, ev)
	return nil
}
