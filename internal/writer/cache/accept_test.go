package cache

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ingestlabs/marketfeed/internal/event"
)

func TestAccept_MarkPriceWritesHashWithTTL(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PipelineSize = 1
	cfg.FlushIntervalMs = 60_000
	w, fp := newTestWriter(t, cfg)
	defer w.Close()

	ev := event.Event{
		BaseEvent: event.BaseEvent{Instrument: "BTCUSDT", Channel: event.ChannelMarkPrice},
		MarkPrice: &event.MarkPriceEvent{
			MarkPrice: decimal.RequireFromString("100.5"), IndexPrice: decimal.RequireFromString("100.4"),
		},
	}
	require.NoError(t, w.Accept(context.Background(), ev))

	require.Len(t, fp.hsets, 1)
	assert.Equal(t, KeyMark("BTCUSDT"), fp.hsets[0].key)
	require.Len(t, fp.expires, 1)
	assert.Equal(t, TTLMark, fp.expires[0].ttl)
}

func TestAccept_TradeWritesStreamWithMaxLen(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PipelineSize = 1
	cfg.FlushIntervalMs = 60_000
	w, fp := newTestWriter(t, cfg)
	defer w.Close()

	ev := event.Event{
		BaseEvent: event.BaseEvent{Instrument: "BTCUSDT", Channel: event.ChannelTrades},
		Trade: &event.TradeEvent{
			Price: decimal.RequireFromString("100"), Qty: decimal.RequireFromString("1"), Side: event.SideBuy, TradeID: 1,
		},
	}
	require.NoError(t, w.Accept(context.Background(), ev))

	require.Len(t, fp.xadds, 1)
	assert.Equal(t, KeyTradesStream("BTCUSDT"), fp.xadds[0].args.Stream)
	assert.EqualValues(t, StreamMaxLen, fp.xadds[0].args.MaxLen)
}

func TestAccept_L1RequiresBothSidesPresent(t *testing.T) {
	w, fp := newTestWriter(t, DefaultConfig())
	defer w.Close()

	ev := event.Event{
		BaseEvent:      event.BaseEvent{Instrument: "BTCUSDT", Channel: event.ChannelL1},
		OrderBookDepth: &event.OrderBookDepthEvent{Depth: 1}, // empty arrays: no valid L1 yet
	}
	require.NoError(t, w.Accept(context.Background(), ev))
	assert.Empty(t, fp.hsets)
}

func TestAccept_Top20JoinsDepthArraysIntoCSVFields(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PipelineSize = 1
	cfg.FlushIntervalMs = 60_000
	w, fp := newTestWriter(t, cfg)
	defer w.Close()

	ev := event.Event{
		BaseEvent: event.BaseEvent{Instrument: "BTCUSDT", Channel: event.ChannelOBTop20},
		OrderBookDepth: &event.OrderBookDepthEvent{
			Depth:     20,
			BidPrices: []decimal.Decimal{decimal.RequireFromString("100"), decimal.RequireFromString("99")},
			BidQtys:   []decimal.Decimal{decimal.RequireFromString("1"), decimal.RequireFromString("2")},
			AskPrices: []decimal.Decimal{decimal.RequireFromString("101")},
			AskQtys:   []decimal.Decimal{decimal.RequireFromString("3")},
		},
	}
	require.NoError(t, w.Accept(context.Background(), ev))

	require.Len(t, fp.hsets, 1)
	assert.Equal(t, KeyTop(20, "BTCUSDT"), fp.hsets[0].key)
}

func TestAccept_ChannelWithNoCacheRowIsANoOp(t *testing.T) {
	w, fp := newTestWriter(t, DefaultConfig())
	defer w.Close()

	ev := event.Event{
		BaseEvent:     event.BaseEvent{Instrument: "BTCUSDT", Channel: event.ChannelOBDiff},
		OrderBookDiff: &event.OrderBookDiffEvent{Sequence: 1},
	}
	require.NoError(t, w.Accept(context.Background(), ev))
	assert.Empty(t, fp.hsets)
	assert.Empty(t, fp.xadds)
}
