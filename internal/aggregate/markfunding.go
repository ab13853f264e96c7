package aggregate

import "github.com/ingestlabs/marketfeed/internal/decimalutil"

// MarkFundingPair is the last-seen mark price / funding rate for one
// instrument (spec §6 dependency item 6 "mark/funding combiner"; spec §5
// "last mark/funding pair" is the only long-lived state this component
// owns).
type MarkFundingPair struct {
	MarkPrice       decimalutil.D
	IndexPrice      decimalutil.D
	HasIndex        bool
	FundingRate     decimalutil.D
	NextFundingTsNs int64
	HasFunding      bool
}

// Combiner tracks the last mark/funding pair per instrument. The two
// vendor streams (markPrice, funding) update independently; the
// combiner keeps whichever arrived most recently for each half so a
// consumer reading the pair always sees the freshest of both without
// the adapter having to fabricate data from silence.
type Combiner struct {
	byInstrument map[string]*MarkFundingPair
}

// NewCombiner creates an empty combiner.
func NewCombiner() *Combiner {
	return &Combiner{byInstrument: make(map[string]*MarkFundingPair)}
}

// UpdateMark records a new mark/index price for instrument.
func (c *Combiner) UpdateMark(instrument string, mark, index decimalutil.D, hasIndex bool) MarkFundingPair {
	p := c.entry(instrument)
	p.MarkPrice = mark
	p.IndexPrice = index
	p.HasIndex = hasIndex
	return *p
}

// UpdateFunding records a new funding rate for instrument.
func (c *Combiner) UpdateFunding(instrument string, rate decimalutil.D, nextTsNs int64) MarkFundingPair {
	p := c.entry(instrument)
	p.FundingRate = rate
	p.NextFundingTsNs = nextTsNs
	p.HasFunding = true
	return *p
}

// Get returns the last-known pair for instrument, if any.
func (c *Combiner) Get(instrument string) (MarkFundingPair, bool) {
	p, ok := c.byInstrument[instrument]
	if !ok {
		return MarkFundingPair{}, false
	}
	return *p, true
}

func (c *Combiner) entry(instrument string) *MarkFundingPair {
	p, ok := c.byInstrument[instrument]
	if !ok {
		p = &MarkFundingPair{}
		c.byInstrument[instrument] = p
	}
	return p
}
