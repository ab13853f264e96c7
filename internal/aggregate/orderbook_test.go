package aggregate

import (
	"testing"
	"time"

	"github.com/ingestlabs/marketfeed/internal/decimalutil"
	"github.com/ingestlabs/marketfeed/internal/ingesterr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func qtyMap(pairs ...string) map[string]decimalutil.D {
	m := make(map[string]decimalutil.D)
	for i := 0; i < len(pairs); i += 2 {
		m[pairs[i]] = decimalutil.MustParse(pairs[i+1])
	}
	return m
}

func syncedTracker(t *testing.T, lastU int64) *BookTracker {
	t.Helper()
	bt := NewBookTracker("BTCUSDT")
	bt.BootstrapFrom(Snapshot{
		LastUpdateID: lastU,
		Bids:         qtyMap("100", "1"),
		Asks:         qtyMap("101", "1"),
	})
	require.Equal(t, StateSynced, bt.state)
	return bt
}

func TestBookTracker_BootstrapDiscardsEarlierDiffsKeepsWindowed(t *testing.T) {
	bt := NewBookTracker("BTCUSDT")

	// Buffered while UNINIT/BOOTSTRAPPING.
	applied, err := bt.ApplyDiff(DiffUpdate{FirstUpdateID: 990, FinalUpdateID: 995, Bids: qtyMap("100", "1")})
	require.NoError(t, err)
	assert.False(t, applied)
	assert.Equal(t, StateBootstrapping, bt.state)

	applied, err = bt.ApplyDiff(DiffUpdate{FirstUpdateID: 996, FinalUpdateID: 1001, Bids: qtyMap("99", "2")})
	require.NoError(t, err)
	assert.False(t, applied)

	bt.BootstrapFrom(Snapshot{LastUpdateID: 999, Bids: qtyMap("100", "5"), Asks: qtyMap("101", "5")})

	assert.Equal(t, StateSynced, bt.state)
	assert.Equal(t, int64(1001), bt.LastUpdateID())
	// 999+1=1000 falls within [996,1001], so that diff applied (99->2
	// added); the first buffered diff (990-995) is strictly before the
	// boundary and was discarded.
	assert.Equal(t, "2", bt.bids["99"].String())
	assert.Equal(t, "5", bt.bids["100"].String())
}

// Invariant 2: consecutive accepted diffs in SYNCED satisfy U_new == last_u_prev+1.
func TestBookTracker_SyncedRequiresContiguousUpdateID(t *testing.T) {
	bt := syncedTracker(t, 1000)

	applied, err := bt.ApplyDiff(DiffUpdate{FirstUpdateID: 1001, FinalUpdateID: 1002, Bids: qtyMap("100", "2")})
	require.NoError(t, err)
	assert.True(t, applied)
	assert.Equal(t, int64(1002), bt.LastUpdateID())
}

func TestBookTracker_StaleDiffDropped(t *testing.T) {
	bt := syncedTracker(t, 1000)

	applied, err := bt.ApplyDiff(DiffUpdate{FirstUpdateID: 995, FinalUpdateID: 999})
	assert.False(t, applied)
	assert.ErrorIs(t, err, ingesterr.ErrStaleDiff)
	assert.Equal(t, int64(1000), bt.LastUpdateID())
}

// S3 — orderbook gap triggers resync.
func TestBookTracker_S3_GapTriggersResync(t *testing.T) {
	bt := syncedTracker(t, 1000)

	applied, err := bt.ApplyDiff(DiffUpdate{FirstUpdateID: 1005, FinalUpdateID: 1010, Bids: qtyMap("100", "3")})
	assert.False(t, applied)
	assert.ErrorIs(t, err, ingesterr.ErrSequenceGap)
	assert.Equal(t, StateResyncing, bt.state)
	assert.Empty(t, bt.bids)
	assert.Empty(t, bt.asks)

	// Subsequent diffs buffer until a fresh snapshot integrates them.
	applied, err = bt.ApplyDiff(DiffUpdate{FirstUpdateID: 1011, FinalUpdateID: 1012})
	require.NoError(t, err)
	assert.False(t, applied)
	assert.Len(t, bt.pending, 1)
}

func TestBookTracker_SnapshotCooldown(t *testing.T) {
	bt := NewBookTracker("BTCUSDT")
	now := time.Now()
	assert.True(t, bt.ShouldFetchSnapshot(now))
	bt.RecordSnapshotAttempt(now)
	assert.False(t, bt.ShouldFetchSnapshot(now.Add(10*time.Second)))
	assert.True(t, bt.ShouldFetchSnapshot(now.Add(31*time.Second)))
}

func TestBookTracker_ApplyDeletesZeroQty(t *testing.T) {
	bt := syncedTracker(t, 1000)
	_, err := bt.ApplyDiff(DiffUpdate{FirstUpdateID: 1001, FinalUpdateID: 1002, Bids: qtyMap("100", "0")})
	require.NoError(t, err)
	_, ok := bt.bids["100"]
	assert.False(t, ok)
}

func TestBookTracker_L1DerivesBestBidAndAsk(t *testing.T) {
	bt := syncedTracker(t, 1000)
	_, err := bt.ApplyDiff(DiffUpdate{
		FirstUpdateID: 1001, FinalUpdateID: 1002,
		Bids: qtyMap("99", "1", "100", "2"),
		Asks: qtyMap("102", "1", "101", "2"),
	})
	require.NoError(t, err)

	bidPrice, bidQty, askPrice, askQty, ok := bt.L1()
	require.True(t, ok)
	assert.Equal(t, "100", bidPrice.String())
	assert.Equal(t, "2", bidQty.String())
	assert.Equal(t, "101", askPrice.String())
	assert.Equal(t, "2", askQty.String())
}
