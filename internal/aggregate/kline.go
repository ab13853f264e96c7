package aggregate

import "github.com/ingestlabs/marketfeed/internal/decimalutil"

// KlineInput is the vendor kline fields the validator checks before the
// adapter turns them into a canonical KlineEvent (spec §3 KlineEvent).
type KlineInput struct {
	Open, High, Low, Close decimalutil.D
	Volume, QuoteVolume    decimalutil.D
	IsClosed               bool
}

// KlineValidator is a near-passthrough per spec §6 dependency item 6
// ("1-minute kline passthrough/validator"): the vendor already performs
// the aggregation, so this only guards the OHLC ordering invariant
// (high is the max, low is the min) before the adapter emits the event,
// protecting downstream consumers from a malformed vendor payload.
type KlineValidator struct{}

// Validate reports whether the OHLC relationship holds.
func (KlineValidator) Validate(k KlineInput) bool {
	if k.High.LessThan(k.Open) || k.High.LessThan(k.Close) || k.High.LessThan(k.Low) {
		return false
	}
	if k.Low.GreaterThan(k.Open) || k.Low.GreaterThan(k.Close) {
		return false
	}
	return true
}
