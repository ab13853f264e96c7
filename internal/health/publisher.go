package health

import (
	"context"

	"github.com/ingestlabs/marketfeed/internal/event"
)

// target is the narrow shape both the adapter's Publisher and
// feedrouter.Router satisfy; RecordingPublisher needs nothing else.
type target interface {
	Publish(ctx context.Context, ev event.Event) error
}

// RecordingPublisher sits between the adapter and the router, recording
// the routed counter and the recv-minus-event lag sample for each event
// before forwarding it unchanged. It is the only point the monitor taps
// live traffic; ws/written/flushed are read by polling existing counters
// instead (see Monitor.RegisterChannel).
type RecordingPublisher struct {
	monitor *Monitor
	next    target
}

// Wrap returns a target that records into m before forwarding to next.
func Wrap(m *Monitor, next target) *RecordingPublisher {
	return &RecordingPublisher{monitor: m, next: next}
}

// Publish implements the adapter.Publisher / feedrouter writer-facing
// shape: it forwards to next regardless of whether recording succeeds,
// since a health-bookkeeping failure must never block the data path.
func (p *RecordingPublisher) Publish(ctx context.Context, ev event.Event) error {
	p.monitor.RecordRouted(ev.Channel)
	lagMs := float64(ev.TsRecvNs-ev.TsEventNs) / 1e6
	p.monitor.RecordLag(ev.Channel, lagMs)
	return p.next.Publish(ctx, ev)
}
