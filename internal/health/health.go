// Package health implements the per-channel health monitor (spec §4.5):
// rolling ws/routed/written/flushed counters, derived backlog and lag
// figures, and a periodic structured log line per channel plus a [sys]
// process line. The monitor mirrors the teacher's HealthChecker shape
// (registered sources polled on a schedule, snapshot exposed over HTTP)
// but reports channel throughput instead of component up/down checks.
package health

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ingestlabs/marketfeed/internal/clockutil"
	"github.com/ingestlabs/marketfeed/internal/event"
)

// backlogAlpha weights the exponential moving average used for the
// backlog figures; higher values track the latest interval more closely.
const backlogAlpha = 0.3

// StatsFunc returns a cumulative, monotonically non-decreasing counter.
// Implementations read existing instrumentation (shard message counts,
// writer Snapshot totals) rather than being pushed updates per event.
type StatsFunc func() int64

// ChannelConfig describes one channel's reporting cadence and the
// symbol count used to derive its expected-throughput figure.
type ChannelConfig struct {
	Channel      event.Channel
	SymbolCount  int
	LogIntervalS int64 // 0 selects the spec default for the channel
}

// ChannelReport is one interval's computed figures for a channel,
// exposed via Snapshot and the HTTP handler.
type ChannelReport struct {
	Channel    event.Channel `json:"channel"`
	Ws         int64         `json:"ws"`
	Routed     int64         `json:"routed"`
	Written    int64         `json:"written"`
	Flushed    int64         `json:"flushed"`
	Pending    int64         `json:"pending"`
	Expected   int64         `json:"expected"`
	Missing    int64         `json:"missing"`
	Backlog    float64       `json:"backlog"`
	BacklogWs  float64       `json:"backlog_ws"`
	LagAvgMs   float64       `json:"lag_avg_ms"`
	LagMaxMs   float64       `json:"lag_max_ms"`
	IntervalS  int64         `json:"interval_s"`
}

type channelState struct {
	cfg     ChannelConfig
	wsFn    StatsFunc
	writtenFn StatsFunc
	flushedFn StatsFunc

	routed atomic.Int64

	lagMu    sync.Mutex
	lagSumMs float64
	lagMaxMs float64
	lagCount int64

	mu          sync.Mutex
	lastWs      int64
	lastRouted  int64
	lastWritten int64
	lastFlushed int64
	backlog     float64
	backlogWs   float64
}

// Monitor tracks per-channel counters for one preset process and emits
// the structured log line spec §4.5 describes.
type Monitor struct {
	preset string
	clock  clockutil.Clock
	log    *logrus.Entry
	pub    Publisher // optional, nil disables the NATS side channel

	mu       sync.RWMutex
	channels map[event.Channel]*channelState

	sys sysReader
}

// New builds a Monitor for preset. pub may be nil to disable the
// optional NATS health publish (spec §9's Open Question on fan-out).
func New(preset string, clock clockutil.Clock, log *logrus.Entry, pub Publisher) *Monitor {
	if clock == nil {
		clock = clockutil.System{}
	}
	return &Monitor{
		preset:   preset,
		clock:    clock,
		log:      log,
		pub:      pub,
		channels: make(map[event.Channel]*channelState),
		sys:      defaultSysReader(),
	}
}

// RegisterChannel wires a channel into the monitor. ws/written/flushed
// are cumulative readers over existing instrumentation (the adapter's
// shard message counts, a writer's Snapshot totals); either may be nil
// when the preset does not route that channel to a given sink.
func (m *Monitor) RegisterChannel(cfg ChannelConfig, ws, written, flushed StatsFunc) {
	if cfg.LogIntervalS == 0 {
		cfg.LogIntervalS = defaultLogIntervalS(cfg.Channel)
	}
	if ws == nil {
		ws = zeroStats
	}
	if written == nil {
		written = zeroStats
	}
	if flushed == nil {
		flushed = zeroStats
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.channels[cfg.Channel] = &channelState{cfg: cfg, wsFn: ws, writtenFn: written, flushedFn: flushed}
}

func zeroStats() int64 { return 0 }

// defaultLogIntervalS returns the spec §4.5 default cadence for a
// channel when a preset does not override it.
func defaultLogIntervalS(ch event.Channel) int64 {
	switch ch {
	case event.ChannelAggTrades5s:
		return 5
	case event.ChannelMarkPrice, event.ChannelFunding:
		return 10
	case event.ChannelKlines:
		return 60
	default:
		return 10
	}
}

// RecordRouted marks one event as handed to the router for ch.
func (m *Monitor) RecordRouted(ch event.Channel) {
	m.mu.RLock()
	cs := m.channels[ch]
	m.mu.RUnlock()
	if cs != nil {
		cs.routed.Add(1)
	}
}

// RecordLag folds one event's (ts_recv_ns - ts_event_ns)/1e6 sample
// into the channel's running avg/max for the current interval.
func (m *Monitor) RecordLag(ch event.Channel, lagMs float64) {
	m.mu.RLock()
	cs := m.channels[ch]
	m.mu.RUnlock()
	if cs == nil {
		return
	}
	cs.lagMu.Lock()
	cs.lagSumMs += lagMs
	cs.lagCount++
	if lagMs > cs.lagMaxMs {
		cs.lagMaxMs = lagMs
	}
	cs.lagMu.Unlock()
}

// Run starts one reporting loop per registered channel plus the [sys]
// process line, until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	m.mu.RLock()
	states := make([]*channelState, 0, len(m.channels))
	for _, cs := range m.channels {
		states = append(states, cs)
	}
	m.mu.RUnlock()

	var wg sync.WaitGroup
	for _, cs := range states {
		wg.Add(1)
		go func(cs *channelState) {
			defer wg.Done()
			m.runChannel(ctx, cs)
		}(cs)
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		m.runSys(ctx)
	}()
	wg.Wait()
}

func (m *Monitor) runChannel(ctx context.Context, cs *channelState) {
	interval := time.Duration(cs.cfg.LogIntervalS) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.reportChannel(cs)
		}
	}
}

func (m *Monitor) reportChannel(cs *channelState) {
	ws := cs.wsFn()
	routed := cs.routed.Load()
	written := cs.writtenFn()
	flushed := cs.flushedFn()

	cs.lagMu.Lock()
	lagSum, lagMax, lagCount := cs.lagSumMs, cs.lagMaxMs, cs.lagCount
	cs.lagSumMs, cs.lagMaxMs, cs.lagCount = 0, 0, 0
	cs.lagMu.Unlock()

	cs.mu.Lock()
	wsDelta := ws - cs.lastWs
	routedDelta := routed - cs.lastRouted
	writtenDelta := written - cs.lastWritten
	flushedDelta := flushed - cs.lastFlushed
	cs.lastWs, cs.lastRouted, cs.lastWritten, cs.lastFlushed = ws, routed, written, flushed

	expected := expectedRows(cs.cfg, cs.cfg.LogIntervalS)
	missing := expected - flushedDelta
	if missing < 0 {
		missing = 0
	}
	cs.backlog = backlogAlpha*float64(missing) + (1-backlogAlpha)*cs.backlog
	backlogWsDeficit := wsDelta - writtenDelta
	if backlogWsDeficit < 0 {
		backlogWsDeficit = 0
	}
	cs.backlogWs = backlogAlpha*float64(backlogWsDeficit) + (1-backlogAlpha)*cs.backlogWs
	backlog, backlogWs := cs.backlog, cs.backlogWs
	cs.mu.Unlock()

	lagAvg := 0.0
	if lagCount > 0 {
		lagAvg = lagSum / float64(lagCount)
	}

	report := ChannelReport{
		Channel:   cs.cfg.Channel,
		Ws:        wsDelta,
		Routed:    routedDelta,
		Written:   writtenDelta,
		Flushed:   flushedDelta,
		Pending:   writtenDelta - flushedDelta,
		Expected:  expected,
		Missing:   missing,
		Backlog:   backlog,
		BacklogWs: backlogWs,
		LagAvgMs:  lagAvg,
		LagMaxMs:  lagMax,
		IntervalS: cs.cfg.LogIntervalS,
	}

	m.log.WithFields(logrus.Fields{
		"preset":     m.preset,
		"channel":    report.Channel,
		"ws":         report.Ws,
		"routed":     report.Routed,
		"written":    report.Written,
		"flushed":    report.Flushed,
		"pending":    report.Pending,
		"expected":   report.Expected,
		"missing":    report.Missing,
		"backlog":    report.Backlog,
		"backlog_ws": report.BacklogWs,
		"lag_avg_ms": report.LagAvgMs,
		"lag_max_ms": report.LagMaxMs,
	}).Info("channel health")

	if m.pub != nil {
		if data, err := json.Marshal(report); err == nil {
			subject := "marketfeed.health." + m.preset + "." + string(report.Channel)
			if err := m.pub.Publish(subject, data); err != nil {
				m.log.WithError(err).Warn("health publish failed")
			}
		}
	}
}

// expectedRows applies the spec §4.5 per-channel throughput formulas.
// Channels with no stated formula report zero, which disables the
// missing/backlog figures for them rather than fabricating a rate.
func expectedRows(cfg ChannelConfig, intervalS int64) int64 {
	n := int64(cfg.SymbolCount)
	switch cfg.Channel {
	case event.ChannelAggTrades5s:
		return n * (intervalS / 5)
	case event.ChannelMarkPrice, event.ChannelFunding:
		return n * intervalS
	case event.ChannelKlines:
		return int64(math.Round(float64(n) / 60 * float64(intervalS)))
	default:
		return 0
	}
}

func (m *Monitor) runSys(ctx context.Context) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	var prev sysSample
	havePrev := false
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cur, err := m.sys.Sample()
			if err != nil {
				m.log.WithError(err).Debug("sys sample failed")
				continue
			}
			fields := logrus.Fields{
				"preset":  m.preset,
				"rss_kb":  cur.RSSKB,
			}
			if havePrev {
				elapsed := cur.At.Sub(prev.At).Seconds()
				if elapsed > 0 {
					fields["cpu_pct"] = 100 * (cur.CPUTimeS - prev.CPUTimeS) / elapsed
					fields["io_read_delta"] = cur.IOReadBytes - prev.IOReadBytes
					fields["io_write_delta"] = cur.IOWriteBytes - prev.IOWriteBytes
				}
			}
			m.log.WithFields(fields).Info("[sys]")
			prev, havePrev = cur, true
		}
	}
}

// Snapshot computes a ChannelReport for every registered channel
// without resetting interval counters, for the HTTP handler and tests.
func (m *Monitor) Snapshot() []ChannelReport {
	m.mu.RLock()
	defer m.mu.RUnlock()
	reports := make([]ChannelReport, 0, len(m.channels))
	for _, cs := range m.channels {
		cs.mu.Lock()
		reports = append(reports, ChannelReport{
			Channel:   cs.cfg.Channel,
			Ws:        cs.wsFn(),
			Routed:    cs.routed.Load(),
			Written:   cs.writtenFn(),
			Flushed:   cs.flushedFn(),
			Backlog:   cs.backlog,
			BacklogWs: cs.backlogWs,
			IntervalS: cs.cfg.LogIntervalS,
		})
		cs.mu.Unlock()
	}
	return reports
}

// HTTPHandler exposes the current per-channel snapshot as JSON,
// mirroring the teacher's HealthChecker.HTTPHandler shape.
func (m *Monitor) HTTPHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(m.Snapshot())
	}
}
