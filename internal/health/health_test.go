package health

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ingestlabs/marketfeed/internal/clockutil"
	"github.com/ingestlabs/marketfeed/internal/event"
)

func discardLogger() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(bytes.NewBuffer(nil))
	return logrus.NewEntry(l)
}

func counter(start int64) (StatsFunc, func(int64)) {
	v := &atomic.Int64{}
	v.Store(start)
	return func() int64 { return v.Load() }, func(n int64) { v.Add(n) }
}

func TestReportChannel_ComputesExpectedMissingAndBacklogForAggTrades(t *testing.T) {
	m := New("spot", clockutil.NewFrozen(0), discardLogger(), nil)
	wsFn, bumpWs := counter(0)
	writtenFn, bumpWritten := counter(0)
	flushedFn, bumpFlushed := counter(0)
	m.RegisterChannel(ChannelConfig{Channel: event.ChannelAggTrades5s, SymbolCount: 10, LogIntervalS: 5}, wsFn, writtenFn, flushedFn)

	// Expected for 10 symbols over a 5s interval at one row per 5s: 10.
	// Only 4 flushed this interval, so missing should be 6 and backlog
	// nonzero after the very first observation (EWMA from a zero base).
	bumpWs(10)
	bumpWritten(4)
	bumpFlushed(4)

	cs := m.channels[event.ChannelAggTrades5s]
	m.reportChannel(cs)

	assert.EqualValues(t, 10, expectedRows(cs.cfg, cs.cfg.LogIntervalS))
	assert.Greater(t, cs.backlog, 0.0, "4 flushed against 10 expected should leave a backlog")

	reports := m.Snapshot()
	require.Len(t, reports, 1)
	assert.Equal(t, event.ChannelAggTrades5s, reports[0].Channel)
}

func TestReportChannel_BacklogAccumulatesAcrossIntervals(t *testing.T) {
	m := New("spot", clockutil.NewFrozen(0), discardLogger(), nil)
	wsFn, bumpWs := counter(0)
	writtenFn, bumpWritten := counter(0)
	flushedFn, bumpFlushed := counter(0)
	cfg := ChannelConfig{Channel: event.ChannelAggTrades5s, SymbolCount: 2, LogIntervalS: 5}
	m.RegisterChannel(cfg, wsFn, writtenFn, flushedFn)
	cs := m.channels[event.ChannelAggTrades5s]

	bumpWs(2)
	bumpWritten(0)
	bumpFlushed(0)
	m.reportChannel(cs)
	firstBacklog := cs.backlog
	assert.Greater(t, firstBacklog, 0.0, "missing rows should raise backlog from zero")

	bumpWs(2)
	bumpWritten(0)
	bumpFlushed(0)
	m.reportChannel(cs)
	assert.Greater(t, cs.backlog, firstBacklog, "a second interval with missing rows should raise the backlog further")
}

func TestReportChannel_NoFormulaChannelReportsZeroExpected(t *testing.T) {
	m := New("spot", clockutil.NewFrozen(0), discardLogger(), nil)
	wsFn, _ := counter(0)
	writtenFn, _ := counter(0)
	flushedFn, _ := counter(0)
	m.RegisterChannel(ChannelConfig{Channel: event.ChannelL1, SymbolCount: 5}, wsFn, writtenFn, flushedFn)

	cs := m.channels[event.ChannelL1]
	assert.EqualValues(t, 0, expectedRows(cs.cfg, cs.cfg.LogIntervalS))
}

func TestRecordLag_TracksAvgAndMaxThenResetsOnReport(t *testing.T) {
	m := New("spot", clockutil.NewFrozen(0), discardLogger(), nil)
	wsFn, _ := counter(0)
	writtenFn, _ := counter(0)
	flushedFn, _ := counter(0)
	m.RegisterChannel(ChannelConfig{Channel: event.ChannelTrades, SymbolCount: 1, LogIntervalS: 5}, wsFn, writtenFn, flushedFn)

	m.RecordLag(event.ChannelTrades, 10)
	m.RecordLag(event.ChannelTrades, 30)

	cs := m.channels[event.ChannelTrades]
	cs.lagMu.Lock()
	sum, max, count := cs.lagSumMs, cs.lagMaxMs, cs.lagCount
	cs.lagMu.Unlock()
	assert.Equal(t, 40.0, sum)
	assert.Equal(t, 30.0, max)
	assert.EqualValues(t, 2, count)

	m.reportChannel(cs)
	cs.lagMu.Lock()
	defer cs.lagMu.Unlock()
	assert.Zero(t, cs.lagSumMs)
	assert.Zero(t, cs.lagCount)
}

type fakePublisher struct {
	mu      sync.Mutex
	subject string
	data    []byte
	calls   int
}

func (f *fakePublisher) Publish(subject string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subject = subject
	f.data = data
	f.calls++
	return nil
}

func TestReportChannel_PublishesToConfiguredSubjectWhenPublisherSet(t *testing.T) {
	fp := &fakePublisher{}
	m := New("spot", clockutil.NewFrozen(0), discardLogger(), fp)
	wsFn, _ := counter(0)
	writtenFn, _ := counter(0)
	flushedFn, _ := counter(0)
	m.RegisterChannel(ChannelConfig{Channel: event.ChannelTrades, SymbolCount: 1, LogIntervalS: 5}, wsFn, writtenFn, flushedFn)

	m.reportChannel(m.channels[event.ChannelTrades])

	fp.mu.Lock()
	defer fp.mu.Unlock()
	assert.Equal(t, 1, fp.calls)
	assert.Equal(t, "marketfeed.health.spot.trades", fp.subject)
}

type recordingTarget struct {
	mu       sync.Mutex
	received []event.Event
}

func (r *recordingTarget) Publish(ctx context.Context, ev event.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.received = append(r.received, ev)
	return nil
}

func TestRecordingPublisher_ForwardsAndRecordsLag(t *testing.T) {
	m := New("spot", clockutil.NewFrozen(0), discardLogger(), nil)
	wsFn, _ := counter(0)
	writtenFn, _ := counter(0)
	flushedFn, _ := counter(0)
	m.RegisterChannel(ChannelConfig{Channel: event.ChannelTrades, SymbolCount: 1, LogIntervalS: 5}, wsFn, writtenFn, flushedFn)

	next := &recordingTarget{}
	wrapped := Wrap(m, next)

	ev := event.Event{BaseEvent: event.BaseEvent{Channel: event.ChannelTrades, TsEventNs: 1_000_000, TsRecvNs: 6_000_000}}
	require.NoError(t, wrapped.Publish(context.Background(), ev))

	next.mu.Lock()
	defer next.mu.Unlock()
	require.Len(t, next.received, 1)

	cs := m.channels[event.ChannelTrades]
	assert.EqualValues(t, 1, cs.routed.Load())
	cs.lagMu.Lock()
	defer cs.lagMu.Unlock()
	assert.Equal(t, 5.0, cs.lagSumMs)
}

func TestRun_StopsOnContextCancel(t *testing.T) {
	m := New("spot", clockutil.NewFrozen(0), discardLogger(), nil)
	wsFn, _ := counter(0)
	writtenFn, _ := counter(0)
	flushedFn, _ := counter(0)
	m.RegisterChannel(ChannelConfig{Channel: event.ChannelTrades, SymbolCount: 1, LogIntervalS: 1}, wsFn, writtenFn, flushedFn)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Run(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after context cancellation")
	}
}

func TestHTTPHandler_ReturnsJSONSnapshot(t *testing.T) {
	m := New("spot", clockutil.NewFrozen(0), discardLogger(), nil)
	wsFn, _ := counter(0)
	writtenFn, _ := counter(0)
	flushedFn, _ := counter(0)
	m.RegisterChannel(ChannelConfig{Channel: event.ChannelTrades, SymbolCount: 1}, wsFn, writtenFn, flushedFn)

	rec := httptest.NewRecorder()
	m.HTTPHandler()(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	var reports []ChannelReport
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &reports))
	require.Len(t, reports, 1)
	assert.Equal(t, event.ChannelTrades, reports[0].Channel)
}
