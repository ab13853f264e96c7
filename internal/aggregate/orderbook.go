package aggregate

import (
	"time"

	"github.com/ingestlabs/marketfeed/internal/decimalutil"
	"github.com/ingestlabs/marketfeed/internal/event"
	"github.com/ingestlabs/marketfeed/internal/ingesterr"
)

// BookState is the orderbook diff bootstrap/sync state machine's state
// (spec §4.1 "Orderbook diff path").
type BookState int

const (
	StateUninit BookState = iota
	StateBootstrapping
	StateSynced
	StateResyncing
)

// snapshotCooldown is the minimum time between REST snapshot fetches for
// one symbol once a resync has been scheduled (spec §4.1, §5).
const snapshotCooldown = 30 * time.Second

// DiffUpdate is one incoming diff frame's book-relevant fields.
type DiffUpdate struct {
	FirstUpdateID int64 // U
	FinalUpdateID int64 // u
	Bids          map[string]decimalutil.D
	Asks          map[string]decimalutil.D
}

// Snapshot is a REST orderbook snapshot used to bootstrap the book.
type Snapshot struct {
	LastUpdateID int64
	Bids         map[string]decimalutil.D
	Asks         map[string]decimalutil.D
}

// BookTracker is the per-symbol orderbook diff state machine plus the
// resulting price→qty maps it maintains once synced.
type BookTracker struct {
	Instrument string

	state BookState
	lastU int64

	bids map[string]decimalutil.D
	asks map[string]decimalutil.D

	pending []DiffUpdate // buffered while UNINIT/BOOTSTRAPPING

	lastSnapshotAttempt time.Time
}

// NewBookTracker creates an UNINIT tracker for one instrument.
func NewBookTracker(instrument string) *BookTracker {
	return &BookTracker{
		Instrument: instrument,
		state:      StateUninit,
		bids:       make(map[string]decimalutil.D),
		asks:       make(map[string]decimalutil.D),
	}
}

// State returns the current bootstrap/sync state.
func (b *BookTracker) State() BookState { return b.state }

// LastUpdateID returns the last applied final update ID while SYNCED.
func (b *BookTracker) LastUpdateID() int64 { return b.lastU }

// ApplyDiff feeds one diff update through the state machine. It returns
// (applied, err): applied is true only when the book's maps actually
// changed (the caller should then derive L1/top-N and the OrderBookDiff
// event); err is one of ingesterr.ErrStaleDiff / ErrSequenceGap when the
// update was rejected for a reason the caller should count, never panic.
func (b *BookTracker) ApplyDiff(d DiffUpdate) (applied bool, err error) {
	switch b.state {
	case StateUninit, StateBootstrapping:
		b.state = StateBootstrapping
		b.pending = append(b.pending, d)
		return false, nil

	case StateSynced:
		if d.FinalUpdateID <= b.lastU {
			return false, ingesterr.ErrStaleDiff
		}
		if d.FirstUpdateID != b.lastU+1 {
			b.enterResync()
			return false, ingesterr.ErrSequenceGap
		}
		b.apply(d)
		b.lastU = d.FinalUpdateID
		return true, nil

	case StateResyncing:
		// Diffs keep arriving while we wait out the cooldown; buffer
		// them exactly like the pre-bootstrap case so BootstrapFrom can
		// replay them once a fresh snapshot lands.
		b.pending = append(b.pending, d)
		return false, nil
	}
	return false, nil
}

// BootstrapFrom integrates a REST snapshot per spec: the book is seeded
// from the snapshot, then only buffered diffs with
// U <= snapshot.LastUpdateID+1 <= u are applied (discarding earlier
// ones), after which the tracker transitions to SYNCED.
func (b *BookTracker) BootstrapFrom(s Snapshot) {
	b.bids = make(map[string]decimalutil.D, len(s.Bids))
	for p, q := range s.Bids {
		b.bids[p] = q
	}
	b.asks = make(map[string]decimalutil.D, len(s.Asks))
	for p, q := range s.Asks {
		b.asks[p] = q
	}

	boundary := s.LastUpdateID + 1
	lastU := s.LastUpdateID
	for _, d := range b.pending {
		if d.FirstUpdateID <= boundary && boundary <= d.FinalUpdateID {
			b.apply(d)
			lastU = d.FinalUpdateID
			boundary = lastU + 1
		} else if d.FinalUpdateID < boundary {
			continue // earlier than the snapshot, discard
		}
	}

	b.pending = nil
	b.lastU = lastU
	b.state = StateSynced
}

// ShouldFetchSnapshot reports whether enough cooldown has elapsed since
// the last REST snapshot attempt to try again (spec: "per-symbol
// cooldown >= 30s").
func (b *BookTracker) ShouldFetchSnapshot(now time.Time) bool {
	if b.state != StateResyncing && b.state != StateUninit && b.state != StateBootstrapping {
		return false
	}
	return now.Sub(b.lastSnapshotAttempt) >= snapshotCooldown
}

// RecordSnapshotAttempt stamps the cooldown clock.
func (b *BookTracker) RecordSnapshotAttempt(now time.Time) {
	b.lastSnapshotAttempt = now
}

func (b *BookTracker) enterResync() {
	b.state = StateResyncing
	b.bids = make(map[string]decimalutil.D)
	b.asks = make(map[string]decimalutil.D)
	b.pending = nil
}

func (b *BookTracker) apply(d DiffUpdate) {
	applySide(b.bids, d.Bids)
	applySide(b.asks, d.Asks)
}

func applySide(book map[string]decimalutil.D, updates map[string]decimalutil.D) {
	for price, qty := range updates {
		if qty.IsZero() {
			delete(book, price)
			continue
		}
		book[price] = qty
	}
}

// L1 derives the best-bid/best-ask snapshot from the current book maps.
// ok is false when one side is empty (no valid L1 yet).
func (b *BookTracker) L1() (bestBidPrice, bestBidQty, bestAskPrice, bestAskQty decimalutil.D, ok bool) {
	bp, bq, bidOK := bestOf(b.bids, true)
	ap, aq, askOK := bestOf(b.asks, false)
	if !bidOK || !askOK {
		return decimalutil.Zero, decimalutil.Zero, decimalutil.Zero, decimalutil.Zero, false
	}
	return bp, bq, ap, aq, true
}

func bestOf(book map[string]decimalutil.D, wantMax bool) (price, qty decimalutil.D, ok bool) {
	first := true
	var bestPriceStr string
	var bestPrice decimalutil.D
	for p := range book {
		parsed, err := decimalutil.Parse(p)
		if err != nil {
			continue
		}
		if first {
			bestPrice, bestPriceStr, first = parsed, p, false
			continue
		}
		if wantMax && parsed.GreaterThan(bestPrice) {
			bestPrice, bestPriceStr = parsed, p
		}
		if !wantMax && parsed.LessThan(bestPrice) {
			bestPrice, bestPriceStr = parsed, p
		}
	}
	if first {
		return decimalutil.Zero, decimalutil.Zero, false
	}
	return bestPrice, book[bestPriceStr], true
}

// DiffEvent builds the canonical OrderBookDiffEvent for one applied
// update.
func DiffEvent(instrument string, prevU int64, d DiffUpdate, tsEventNs, tsRecvNs int64) event.Event {
	return event.Event{
		BaseEvent: event.BaseEvent{
			Instrument: instrument,
			Channel:    event.ChannelOBDiff,
			TsEventNs:  tsEventNs,
			TsRecvNs:   tsRecvNs,
		},
		OrderBookDiff: &event.OrderBookDiffEvent{
			Sequence:     d.FinalUpdateID,
			PrevSequence: prevU,
			Bids:         mapStrings(d.Bids),
			Asks:         mapStrings(d.Asks),
		},
	}
}

func mapStrings(m map[string]decimalutil.D) map[string]decimalutil.D {
	out := make(map[string]decimalutil.D, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
