package adapter

import (
	"fmt"
	"strings"
)

// streamSuffix maps a canonical channel to the vendor stream suffix
// appended to a lowercased symbol (spec §4.1 "subscribe to the vendor
// streams").
func streamSuffix(channel string) string {
	switch channel {
	case "trades":
		return "@aggTrade"
	case "agg_trades_5s":
		return "@aggTrade"
	case "ob_diff":
		return "@depth@100ms"
	case "ob_top5":
		return "@depth5@100ms"
	case "ob_top20":
		return "@depth20@100ms"
	case "liquidations":
		return "@forceOrder"
	case "klines":
		return "@kline_1m"
	case "mark_price":
		return "@markPrice@1s"
	case "funding":
		return "@markPrice@1s" // funding rate rides the markPrice payload
	default:
		return "@" + channel
	}
}

// buildStreamNames returns one vendor stream name per symbol for channel.
func buildStreamNames(channel string, symbols []string) []string {
	suffix := streamSuffix(channel)
	names := make([]string, len(symbols))
	for i, sym := range symbols {
		names[i] = strings.ToLower(sym) + suffix
	}
	return names
}

// combinedStreamURL builds the combined-stream WS URL (spec §4.1 "one
// connection subscribing to its share of per-symbol streams").
func combinedStreamURL(baseURL, path string, streamNames []string) string {
	return fmt.Sprintf("%s%s?streams=%s", baseURL, path, strings.Join(streamNames, "/"))
}

// symbolFromStream recovers the symbol buildStreamNames encoded into a
// combined-stream name (e.g. "btcusdt@depth5@100ms" -> "BTCUSDT"), for
// vendor payloads that don't self-report a symbol field.
func symbolFromStream(streamName string) string {
	sym, _, _ := strings.Cut(streamName, "@")
	return strings.ToUpper(sym)
}
