package adapter

import (
	"fmt"

	"github.com/bitly/go-simplejson"
	jsoniter "github.com/json-iterator/go"

	"github.com/ingestlabs/marketfeed/internal/decimalutil"
	"github.com/ingestlabs/marketfeed/internal/event"
	"github.com/ingestlabs/marketfeed/internal/ingesterr"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// envelope is the combined-stream wrapper Binance-style vendor feeds use.
type envelope struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

// unwrap peeks the frame with simplejson to decide whether it's a
// combined-stream data frame, a bare data frame, or a control frame
// (subscribe ack / pong) worth ignoring entirely — cheaper than a full
// typed unmarshal just to classify the frame. It also returns the
// combined-stream's "stream" field, since some vendor payloads (partial
// depth) carry no symbol of their own and the caller must recover it
// from the stream name instead.
func unwrap(raw []byte) (payload []byte, streamName string, isData bool, err error) {
	peek, err := simplejson.NewJson(raw)
	if err != nil {
		return nil, "", false, fmt.Errorf("%w: %v", ingesterr.ErrParse, err)
	}

	if _, ok := peek.CheckGet("result"); ok {
		return nil, "", false, nil // subscribe/unsubscribe ack
	}
	if streamVal, ok := peek.CheckGet("stream"); ok {
		streamName, _ = streamVal.String()
		if streamName == "" {
			return nil, "", false, nil
		}
		dataVal, ok := peek.CheckGet("data")
		if !ok {
			return nil, "", false, nil
		}
		dataBytes, err := dataVal.Encode()
		if err != nil {
			return nil, "", false, fmt.Errorf("%w: %v", ingesterr.ErrParse, err)
		}
		return dataBytes, streamName, true, nil
	}
	return raw, "", true, nil
}

type vendorAggTrade struct {
	EventType    string `json:"e"`
	EventTimeMs  int64  `json:"E"`
	Symbol       string `json:"s"`
	AggTradeID   int64  `json:"a"`
	Price        string `json:"p"`
	Qty          string `json:"q"`
	FirstTradeID int64  `json:"f"`
	LastTradeID  int64  `json:"l"`
	TradeTimeMs  int64  `json:"T"`
	IsBuyerMaker bool   `json:"m"`
}

func (v vendorAggTrade) side() (event.Side, bool) {
	if v.IsBuyerMaker {
		return event.SideSell, true // buyer is maker => aggressor sold into the bid
	}
	return event.SideBuy, true
}

type vendorDepthUpdate struct {
	EventType         string     `json:"e"`
	EventTimeMs       int64      `json:"E"`
	Symbol            string     `json:"s"`
	FirstUpdateID     int64      `json:"U"`
	FinalUpdateID     int64      `json:"u"`
	PrevFinalUpdateID int64      `json:"pu"`
	Bids              [][]string `json:"b"`
	Asks              [][]string `json:"a"`
}

// vendorPartialDepth carries no symbol field; the vendor only reports
// which symbol a partial-depth frame belongs to via the combined-stream
// envelope's "stream" name, which handleFrame recovers with
// symbolFromStream before calling handlePartialDepth.
type vendorPartialDepth struct {
	LastUpdateID int64      `json:"lastUpdateId"`
	Bids         [][]string `json:"bids"`
	Asks         [][]string `json:"asks"`
}

type vendorMarkPrice struct {
	EventType         string `json:"e"`
	EventTimeMs       int64  `json:"E"`
	Symbol            string `json:"s"`
	MarkPrice         string `json:"p"`
	IndexPrice        string `json:"i"`
	FundingRate       string `json:"r"`
	NextFundingTimeMs int64  `json:"T"`
}

type vendorKline struct {
	EventType   string `json:"e"`
	EventTimeMs int64  `json:"E"`
	Symbol      string `json:"s"`
	K           struct {
		Interval            string `json:"i"`
		Open                string `json:"o"`
		Close               string `json:"c"`
		High                string `json:"h"`
		Low                 string `json:"l"`
		Volume              string `json:"v"`
		TradeCount          int64  `json:"n"`
		IsClosed            bool   `json:"x"`
		QuoteVolume         string `json:"q"`
		TakerBuyBaseVolume  string `json:"V"`
		TakerBuyQuoteVolume string `json:"Q"`
	} `json:"k"`
}

type vendorForceOrder struct {
	EventType   string `json:"e"`
	EventTimeMs int64  `json:"E"`
	O           struct {
		Symbol  string `json:"s"`
		Side    string `json:"S"`
		Price   string `json:"p"`
		OrigQty string `json:"q"`
	} `json:"o"`
}

// msToNs converts a vendor millisecond timestamp to true nanoseconds.
// mark_price/funding deliberately bypass this (see MarkPriceEvent's doc
// comment) to preserve the documented legacy behavior.
func msToNs(ms int64) int64 { return ms * 1_000_000 }

func parseDecimal(s string) (decimalutil.D, error) {
	if s == "" {
		return decimalutil.Zero, nil
	}
	d, err := decimalutil.Parse(s)
	if err != nil {
		return decimalutil.Zero, fmt.Errorf("%w: %v", ingesterr.ErrParse, err)
	}
	return d, nil
}

func parseDepthLevels(levels [][]string) (map[string]decimalutil.D, error) {
	out := make(map[string]decimalutil.D, len(levels))
	for _, lvl := range levels {
		if len(lvl) < 2 {
			continue
		}
		qty, err := parseDecimal(lvl[1])
		if err != nil {
			return nil, err
		}
		out[lvl[0]] = qty
	}
	return out, nil
}
