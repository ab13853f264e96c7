// Package supervisor owns one preset's lifecycle end to end (spec
// §4.6): CPU affinity, writer set, router configuration, one adapter
// per channel in the preset, and the ordered shutdown sequence on
// interrupt.
package supervisor

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ingestlabs/marketfeed/internal/adapter"
	"github.com/ingestlabs/marketfeed/internal/clockutil"
	"github.com/ingestlabs/marketfeed/internal/config"
	"github.com/ingestlabs/marketfeed/internal/event"
	"github.com/ingestlabs/marketfeed/internal/feedrouter"
	"github.com/ingestlabs/marketfeed/internal/health"
	"github.com/ingestlabs/marketfeed/internal/writer/cache"
	"github.com/ingestlabs/marketfeed/internal/writer/columnar"
)

// finalFlushDeadline bounds how long shutdown waits for writers to
// drain their buffers (spec §5 "process remaining buffers up to a 5s
// deadline").
const finalFlushDeadline = 5 * time.Second

// columnarChannels lists which channels have a columnar table at all;
// everything else is cache-only (spec §6's table list).
var columnarChannels = map[event.Channel]bool{
	event.ChannelTrades:      true,
	event.ChannelAggTrades5s: true,
	event.ChannelMarkPrice:   true,
	event.ChannelFunding:     true,
	event.ChannelKlines:      true,
}

// Supervisor runs a single preset: its writers, router, adapters, and
// health monitor, until ctx is cancelled.
type Supervisor struct {
	preset config.Preset
	log    *logrus.Entry

	columnar *columnar.Writer
	cache    *cache.Writer
	router   *feedrouter.Router
	monitor  *health.Monitor
	natsPub  *health.NATSPublisher
	adapters []*adapter.Adapter

	shutdownOnce sync.Once
}

// New wires a Supervisor for preset from cfg. Either sink may be
// disabled globally via cfg.EnableColumnar/EnableCache.
func New(cfg *config.Config, preset config.Preset, log *logrus.Entry) (*Supervisor, error) {
	if len(preset.Channels) == 0 {
		return nil, fmt.Errorf("supervisor: preset %q has no channels", preset.Label)
	}

	s := &Supervisor{preset: preset, log: log.WithField("preset", preset.Label)}

	if cfg.EnableColumnar {
		s.columnar = columnar.New(cfg.Columnar, log)
	}
	if cfg.EnableCache {
		s.cache = cache.New(cfg.Cache, log)
	}

	var columnarWriter, cacheWriter feedrouter.Writer
	if s.columnar != nil {
		columnarWriter = s.columnar
	}
	if s.cache != nil {
		cacheWriter = s.cache
	}
	s.router = feedrouter.New(columnarWriter, cacheWriter)
	for _, ch := range preset.Channels {
		s.router.Configure(ch, feedrouter.Mask{
			ToColumnar: s.columnar != nil && columnarChannels[ch],
			ToCache:    s.cache != nil,
		})
	}

	if cfg.NATSURL != "" {
		pub, err := health.NewNATSPublisher(cfg.NATSURL, "marketfeed-"+preset.Label, s.log)
		if err != nil {
			return nil, fmt.Errorf("supervisor: nats publisher: %w", err)
		}
		s.natsPub = pub
	}
	s.monitor = health.New(preset.Label, clockutil.System{}, s.log, s.natsPub)

	snapshotFetcher := adapter.NewRESTSnapshotFetcher(preset.RestSnapshotURL)
	for _, ch := range preset.Channels {
		target := health.Wrap(s.monitor, s.router)
		a := adapter.New(adapter.Config{
			Channel:         string(ch),
			Symbols:         preset.Symbols,
			WSBaseURL:       preset.WSBaseURL,
			WSStreamPath:    preset.WSStreamPath,
			RestSnapshotURL: preset.RestSnapshotURL,
		}, target, snapshotFetcher, clockutil.System{}, s.log)
		s.adapters = append(s.adapters, a)

		logInterval := preset.LogIntervalS
		s.monitor.RegisterChannel(
			health.ChannelConfig{Channel: ch, SymbolCount: len(preset.Symbols), LogIntervalS: logInterval},
			shardMsgStats(a),
			writtenStats(s, ch),
			flushedStats(s, ch),
		)
	}

	return s, nil
}

func shardMsgStats(a *adapter.Adapter) health.StatsFunc {
	return func() int64 {
		var total int64
		for _, st := range a.ShardStats() {
			total += st.Msgs
		}
		return total
	}
}

func writtenStats(s *Supervisor, ch event.Channel) health.StatsFunc {
	return func() int64 {
		var n int64
		if s.columnar != nil && columnarChannels[ch] {
			n += s.columnar.Snapshot(string(ch)).Written
		}
		if s.cache != nil {
			n += s.cache.Snapshot().Written
		}
		return n
	}
}

func flushedStats(s *Supervisor, ch event.Channel) health.StatsFunc {
	return func() int64 {
		var n int64
		if s.columnar != nil && columnarChannels[ch] {
			n += s.columnar.Snapshot(string(ch)).Flushed
		}
		if s.cache != nil {
			n += s.cache.Snapshot().Flushed
		}
		return n
	}
}

// Run binds CPU affinity, starts the writers, the health monitor, and
// every adapter, then blocks until ctx is cancelled, at which point it
// runs the ordered shutdown (spec §4.6, §5).
func (s *Supervisor) Run(ctx context.Context) error {
	if err := bindCPU(s.preset.CPUAffinityIndex); err != nil {
		s.log.WithError(err).Warn("cpu affinity bind failed, continuing unpinned")
	}

	var wg sync.WaitGroup
	if s.columnar != nil {
		wg.Add(1)
		go func() { defer wg.Done(); s.columnar.Run(ctx) }()
	}
	if s.cache != nil {
		wg.Add(1)
		go func() { defer wg.Done(); s.cache.Run(ctx) }()
	}
	wg.Add(1)
	go func() { defer wg.Done(); s.monitor.Run(ctx) }()

	for _, a := range s.adapters {
		wg.Add(1)
		go func(a *adapter.Adapter) { defer wg.Done(); a.Run(ctx) }(a)
	}

	<-ctx.Done()
	s.shutdown()
	wg.Wait()
	return nil
}

// HTTPHandler exposes the preset's health snapshot over HTTP.
func (s *Supervisor) HTTPHandler() http.HandlerFunc {
	return s.monitor.HTTPHandler()
}

// shutdown runs the ordered sequence exactly once: stop accepting new
// events from the adapters' perspective (they already saw ctx.Done and
// are exiting their own loops), force-flush both writers within the
// deadline, then release connections.
func (s *Supervisor) shutdown() {
	s.shutdownOnce.Do(func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), finalFlushDeadline)
		defer cancel()

		if s.columnar != nil {
			s.columnar.FlushAll(flushCtx)
		}
		if s.cache != nil {
			s.cache.Stop()
			s.cache.Close()
		}
		if s.natsPub != nil {
			s.natsPub.Close()
		}
	})
}
