// Package feedrouter implements the pure, typed dispatcher from the
// adapter's event stream to zero, one, or two writers (spec §4.2). The
// router holds no mutable per-event state; the only thing it owns is the
// per-channel routing mask.
package feedrouter

import (
	"context"
	"fmt"
	"sync"

	"github.com/ingestlabs/marketfeed/internal/event"
)

// Writer is the narrow interface the router publishes onto. Both the
// columnar and cache writers satisfy it; Accept may suspend the caller
// when the writer's internal buffer is full (spec §4.2 "each enqueue may
// suspend").
type Writer interface {
	Accept(ctx context.Context, ev event.Event) error
}

// Mask selects which sinks a channel is delivered to.
type Mask struct {
	ToColumnar bool
	ToCache    bool
}

// Router dispatches by event.Channel according to a per-channel Mask.
type Router struct {
	mu       sync.RWMutex
	masks    map[event.Channel]Mask
	columnar Writer
	cache    Writer
}

// New builds a Router bound to its two writer slots. Either may be nil
// when a preset disables that sink globally (enable_columnar/enable_cache).
func New(columnar, cache Writer) *Router {
	return &Router{
		masks:    make(map[event.Channel]Mask),
		columnar: columnar,
		cache:    cache,
	}
}

// Configure sets the routing mask for a channel. Safe to call
// concurrently with Publish; takes effect for events published after the
// call returns.
func (r *Router) Configure(ch event.Channel, mask Mask) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.masks[ch] = mask
}

// Publish dispatches ev to the configured writer(s) and awaits
// acceptance from each selected writer in turn. Per the spec §4.2
// ordering guarantee, for a single instrument and channel this preserves
// the order in which the adapter produced events, because each adapter
// calls Publish serially from its single drain goroutine, in the order
// its shards queued the events.
func (r *Router) Publish(ctx context.Context, ev event.Event) error {
	r.mu.RLock()
	mask := r.masks[ev.Channel]
	columnar, cache := r.columnar, r.cache
	r.mu.RUnlock()

	if mask.ToColumnar && columnar != nil {
		if err := columnar.Accept(ctx, ev); err != nil {
			return fmt.Errorf("feedrouter: columnar accept %s/%s: %w", ev.Instrument, ev.Channel, err)
		}
	}
	if mask.ToCache && cache != nil {
		if err := cache.Accept(ctx, ev); err != nil {
			return fmt.Errorf("feedrouter: cache accept %s/%s: %w", ev.Instrument, ev.Channel, err)
		}
	}
	return nil
}
