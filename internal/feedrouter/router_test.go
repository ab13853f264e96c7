package feedrouter

import (
	"context"
	"errors"
	"testing"

	"github.com/ingestlabs/marketfeed/internal/event"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingWriter struct {
	accepted []event.Event
	err      error
}

func (w *recordingWriter) Accept(_ context.Context, ev event.Event) error {
	if w.err != nil {
		return w.err
	}
	w.accepted = append(w.accepted, ev)
	return nil
}

func tradeEvent(instrument string, n int64) event.Event {
	return event.Event{
		BaseEvent: event.BaseEvent{Instrument: instrument, Channel: event.ChannelTrades, TsEventNs: n},
		Trade:     &event.TradeEvent{TradeID: n},
	}
}

func TestRouter_BothSinksSelected(t *testing.T) {
	columnar := &recordingWriter{}
	cache := &recordingWriter{}
	r := New(columnar, cache)
	r.Configure(event.ChannelTrades, Mask{ToColumnar: true, ToCache: true})

	require.NoError(t, r.Publish(context.Background(), tradeEvent("BTCUSDT", 1)))

	require.Len(t, columnar.accepted, 1)
	require.Len(t, cache.accepted, 1)
}

func TestRouter_NeitherSinkSelected(t *testing.T) {
	columnar := &recordingWriter{}
	cache := &recordingWriter{}
	r := New(columnar, cache)
	// ChannelL1 never configured -> zero-value Mask, neither sink gets it.

	require.NoError(t, r.Publish(context.Background(), event.Event{
		BaseEvent: event.BaseEvent{Instrument: "BTCUSDT", Channel: event.ChannelL1},
	}))

	assert.Empty(t, columnar.accepted)
	assert.Empty(t, cache.accepted)
}

func TestRouter_OrderPreservedPerInstrumentChannel(t *testing.T) {
	columnar := &recordingWriter{}
	r := New(columnar, nil)
	r.Configure(event.ChannelTrades, Mask{ToColumnar: true})

	for i := int64(1); i <= 5; i++ {
		require.NoError(t, r.Publish(context.Background(), tradeEvent("BTCUSDT", i)))
	}

	require.Len(t, columnar.accepted, 5)
	for i, ev := range columnar.accepted {
		assert.Equal(t, int64(i+1), ev.Trade.TradeID)
	}
}

func TestRouter_WriterErrorPropagates(t *testing.T) {
	boom := errors.New("boom")
	columnar := &recordingWriter{err: boom}
	r := New(columnar, nil)
	r.Configure(event.ChannelTrades, Mask{ToColumnar: true})

	err := r.Publish(context.Background(), tradeEvent("BTCUSDT", 1))
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
}

func TestRouter_NilWriterSlotIsNoop(t *testing.T) {
	r := New(nil, nil)
	r.Configure(event.ChannelTrades, Mask{ToColumnar: true, ToCache: true})
	require.NoError(t, r.Publish(context.Background(), tradeEvent("BTCUSDT", 1)))
}
