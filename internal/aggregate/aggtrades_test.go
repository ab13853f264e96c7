package aggregate

import (
	"testing"

	"github.com/ingestlabs/marketfeed/internal/decimalutil"
	"github.com/ingestlabs/marketfeed/internal/event"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func trade(tsMs int64, price, qty string, side event.Side, tradeID int64) TradeInput {
	return TradeInput{
		TsEventNs: tsMs * 1_000_000,
		Price:     decimalutil.MustParse(price),
		Qty:       decimalutil.MustParse(qty),
		Side:      side,
		HasSide:   side != event.SideUnknown,
		TradeID:   tradeID,
	}
}

// S1 — 5s aggregation, single symbol, three trades.
func TestRoller_S1_ThreeTradesOneWindow(t *testing.T) {
	r := NewRoller("BTCUSDT")

	require.Nil(t, r.Add(trade(1_700_000_001_000, "100", "1", event.SideBuy, 1)))
	require.Nil(t, r.Add(trade(1_700_000_002_500, "110", "2", event.SideSell, 2)))
	require.Nil(t, r.Add(trade(1_700_000_004_999, "90", "3", event.SideBuy, 3)))

	ev := r.CloseIdle(1_700_000_007_000 * 1_000_000)
	require.NotNil(t, ev)

	row := ev.AggTrades5s
	assert.Equal(t, int64(1_700_000_000)*1_000_000_000, row.WindowStartNs)
	assert.Equal(t, "100", row.Open.String())
	assert.Equal(t, "110", row.High.String())
	assert.Equal(t, "90", row.Low.String())
	assert.Equal(t, "90", row.Close.String())
	assert.Equal(t, "6", row.Volume.String())
	assert.Equal(t, int64(3), row.TradeCount)
	assert.Equal(t, "4", row.BuyQty.String())
	assert.Equal(t, "2", row.SellQty.String())
}

// S2 — late trade dropped after S1's window already emitted.
func TestRoller_S2_LateTradeDropped(t *testing.T) {
	r := NewRoller("BTCUSDT")
	require.Nil(t, r.Add(trade(1_700_000_001_000, "100", "1", event.SideBuy, 1)))
	ev := r.CloseIdle(1_700_000_007_000 * 1_000_000)
	require.NotNil(t, ev)

	late := r.Add(trade(1_700_000_003_000, "95", "1", event.SideBuy, 99))
	assert.Nil(t, late)
	assert.Equal(t, int64(1), r.Lost())
}

func TestRoller_NewTradeClosesPreviousWindow(t *testing.T) {
	r := NewRoller("BTCUSDT")
	require.Nil(t, r.Add(trade(1_700_000_001_000, "100", "1", event.SideBuy, 1)))

	emitted := r.Add(trade(1_700_000_006_000, "101", "1", event.SideBuy, 2))
	require.NotNil(t, emitted)
	assert.Equal(t, "1", emitted.AggTrades5s.Volume.String())

	// The new trade opened a fresh window, not yet emitted.
	assert.Nil(t, r.CloseIdle(1_700_000_006_500*1_000_000))
}

func TestRoller_WindowStartAlignedToFiveSecondGrid(t *testing.T) {
	r := NewRoller("BTCUSDT")
	r.Add(trade(1_700_000_003_123, "100", "1", event.SideBuy, 1))
	ev := r.CloseIdle(1_700_000_020_000 * 1_000_000)
	require.NotNil(t, ev)
	assert.Zero(t, ev.AggTrades5s.WindowStartNs%(5_000_000_000))
}

func TestRoller_UnknownAggressorExcludedFromBothSides(t *testing.T) {
	r := NewRoller("BTCUSDT")
	r.Add(trade(1_700_000_001_000, "100", "1", event.SideUnknown, 1))
	ev := r.CloseIdle(1_700_000_020_000 * 1_000_000)
	require.NotNil(t, ev)
	assert.True(t, ev.AggTrades5s.BuyQty.IsZero())
	assert.True(t, ev.AggTrades5s.SellQty.IsZero())
	assert.Equal(t, "1", ev.AggTrades5s.Volume.String())
}

func TestRoller_CloseIdleBeforeGraceDoesNothing(t *testing.T) {
	r := NewRoller("BTCUSDT")
	r.Add(trade(1_700_000_001_000, "100", "1", event.SideBuy, 1))
	// window ends at 1_700_000_005_000ms; grace is 2s -> no close before 1_700_000_007_000ms
	assert.Nil(t, r.CloseIdle(1_700_000_006_000*1_000_000))
}
