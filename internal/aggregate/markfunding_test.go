package aggregate

import (
	"testing"

	"github.com/ingestlabs/marketfeed/internal/decimalutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCombiner_IndependentUpdatesKeepFreshestOfEach(t *testing.T) {
	c := NewCombiner()

	c.UpdateMark("BTCUSDT", decimalutil.MustParse("50000"), decimalutil.MustParse("50010"), true)
	pair, ok := c.Get("BTCUSDT")
	require.True(t, ok)
	assert.Equal(t, "50000", pair.MarkPrice.String())
	assert.False(t, pair.HasFunding)

	c.UpdateFunding("BTCUSDT", decimalutil.MustParse("0.0001"), 1_700_000_000_000_000_000)
	pair, ok = c.Get("BTCUSDT")
	require.True(t, ok)
	assert.Equal(t, "50000", pair.MarkPrice.String(), "mark untouched by a funding update")
	assert.True(t, pair.HasFunding)
	assert.Equal(t, "0.0001", pair.FundingRate.String())
}

func TestCombiner_UnknownInstrument(t *testing.T) {
	c := NewCombiner()
	_, ok := c.Get("ETHUSDT")
	assert.False(t, ok)
}

func TestKlineValidator(t *testing.T) {
	v := KlineValidator{}
	assert.True(t, v.Validate(KlineInput{
		Open: decimalutil.MustParse("100"), High: decimalutil.MustParse("110"),
		Low: decimalutil.MustParse("90"), Close: decimalutil.MustParse("105"),
	}))
	assert.False(t, v.Validate(KlineInput{
		Open: decimalutil.MustParse("100"), High: decimalutil.MustParse("90"),
		Low: decimalutil.MustParse("95"), Close: decimalutil.MustParse("105"),
	}))
}
