package adapter

import "time"

// Policy constants for shard sizing (spec §4.1: MAX_STREAMS_PER_CONN is a
// per-channel policy constant).
const (
	MaxStreamsAggTrades = 50
	MaxStreamsMarkPrice = 100
	MaxStreamsKlines    = 200
	maxStreamsDefault   = 50
)

// MaxStreamsFor returns the shard-size cap for channel.
func MaxStreamsFor(channel string) int {
	switch channel {
	case "agg_trades_5s", "trades", "ob_diff", "ob_top5", "ob_top20", "liquidations":
		return MaxStreamsAggTrades
	case "mark_price", "funding":
		return MaxStreamsMarkPrice
	case "klines":
		return MaxStreamsKlines
	default:
		return maxStreamsDefault
	}
}

// Reconnect tuning (spec §4.1: base 1s, cap 30s, jitter ±20%).
const (
	ReconnectBase              = 1 * time.Second
	ReconnectCap               = 30 * time.Second
	ReconnectJitterFraction    = 0.2
	HeartbeatTimeout           = 30 * time.Second
	WSHandshakeTimeout         = 10 * time.Second
	RestSnapshotTimeout        = 5 * time.Second
	RestSnapshotAttempts       = 3
	RestSnapshotCooldown       = 30 * time.Second
	frameReadTimeout           = 60 * time.Second
)

// Config describes one adapter instance: a single logical channel's worth
// of symbols, sharded across WebSocket connections (spec §4.1).
type Config struct {
	Channel         string
	Symbols         []string
	WSBaseURL       string // e.g. wss://fstream.binance.com
	WSStreamPath    string // e.g. /stream
	RestSnapshotURL string // template with %s for symbol, used only for ob_diff bootstrap
	QueueDepth      int    // bounded channel capacity feeding the router
}
