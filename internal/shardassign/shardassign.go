// Package shardassign computes the static, per-run symbol-to-shard
// mapping the exchange adapter uses to partition a channel's symbol set
// into WebSocket connections of at most MAX_STREAMS_PER_CONN streams
// each (spec §4.1, §5 "symbol → shard mapping is static per run").
//
// Assignment uses rendezvous (highest random weight) hashing over a
// fixed bucket set so that, across two runs with mostly-overlapping
// symbol lists, most symbols land on the same shard index — minimizing
// reconnect churn when a preset's symbol list is edited. Any bucket that
// would exceed the hard per-shard cap spills its overflow, in symbol
// order, into the next bucket with room; this keeps the cap exact while
// the common case (bucket sizes close to average) needs no spillover.
package shardassign

import (
	"sort"
	"strconv"

	"github.com/cespare/xxhash/v2"
	"github.com/dgryski/go-rendezvous"
)

// Assign partitions symbols into shards of at most maxPerShard each.
// The returned slice has one entry per shard; within a shard, symbols
// are sorted, so the subscribe-frame stream order is deterministic.
func Assign(symbols []string, maxPerShard int) [][]string {
	if maxPerShard <= 0 {
		maxPerShard = 1
	}
	if len(symbols) == 0 {
		return nil
	}

	shardCount := (len(symbols) + maxPerShard - 1) / maxPerShard
	if shardCount < 1 {
		shardCount = 1
	}

	nodes := make([]string, shardCount)
	indexOf := make(map[string]int, shardCount)
	for i := range nodes {
		name := "shard-" + strconv.Itoa(i)
		nodes[i] = name
		indexOf[name] = i
	}

	rv := rendezvous.New(nodes, xxhash.Sum64String)

	ordered := make([]string, len(symbols))
	copy(ordered, symbols)
	sort.Strings(ordered) // deterministic regardless of caller's input order

	buckets := make([][]string, shardCount)
	for _, symbol := range ordered {
		idx := indexOf[rv.Lookup(symbol)]
		idx = placeWithOverflow(buckets, idx, maxPerShard)
		buckets[idx] = append(buckets[idx], symbol)
	}

	return buckets
}

// placeWithOverflow returns the first shard index at or after preferred
// (wrapping) that still has room under the cap.
func placeWithOverflow(buckets [][]string, preferred, maxPerShard int) int {
	n := len(buckets)
	for i := 0; i < n; i++ {
		idx := (preferred + i) % n
		if len(buckets[idx]) < maxPerShard {
			return idx
		}
	}
	// All buckets at cap: grow the preferred one rather than drop a
	// symbol. Only reachable if maxPerShard*shardCount < len(symbols),
	// which Assign's shardCount computation prevents in steady state.
	return preferred
}
