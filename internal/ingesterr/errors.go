// Package ingesterr names the error taxonomy from spec §7 where the
// distinction changes control flow. Everything that doesn't need a
// sentinel (most transient I/O) is just a wrapped error logged at the
// right level by the caller.
package ingesterr

import "errors"

var (
	// ErrLateTrade marks a trade whose window has already closed
	// (protocol-level drop, counted under "lost", never retried).
	ErrLateTrade = errors.New("ingesterr: late trade for closed window")

	// ErrStaleDiff marks an orderbook diff whose final update ID is not
	// newer than the book's last-applied update (dropped, not retried).
	ErrStaleDiff = errors.New("ingesterr: stale orderbook diff")

	// ErrSequenceGap marks an orderbook diff that skips update IDs,
	// forcing a resync (book cleared, REST snapshot scheduled).
	ErrSequenceGap = errors.New("ingesterr: orderbook sequence gap")

	// ErrParse marks a malformed frame or unparseable decimal (dropped,
	// counted under parse_errors, never fatal).
	ErrParse = errors.New("ingesterr: parse error")

	// ErrFlushFailed marks a sink batch discarded after exhausting its
	// retry budget (counted under flush_failed, process continues).
	ErrFlushFailed = errors.New("ingesterr: sink flush failed after retry budget")

	// ErrConfiguration marks a fatal configuration fault discovered
	// before any socket is opened.
	ErrConfiguration = errors.New("ingesterr: configuration error")
)
