package adapter

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// shardCounters are the per-shard accounting spec §4.1/§9 name: msgs,
// conns and discs are cumulative over the shard's lifetime and are not
// reset on reconnect; drop only counts protocol-level drops surfaced by
// the aggregators this shard feeds.
type shardCounters struct {
	msgs  int64
	conns int64
	discs int64
	drop  int64
}

func (c *shardCounters) snapshot() ShardStats {
	return ShardStats{
		Msgs:  atomic.LoadInt64(&c.msgs),
		Conns: atomic.LoadInt64(&c.conns),
		Discs: atomic.LoadInt64(&c.discs),
		Drop:  atomic.LoadInt64(&c.drop),
	}
}

// ShardStats is a point-in-time read of a shard's counters.
type ShardStats struct {
	Msgs, Conns, Discs, Drop int64
}

// shard owns exactly one WebSocket connection and its reconnect loop
// (spec §4.1 "Shards are independent: a failure in one does not affect
// others").
type shard struct {
	id        int
	symbols   []string
	url       string
	counters  shardCounters
	log       *logrus.Entry
	lastFrame int64 // unix nanos of last data or ping frame, watched by heartbeatWatchdog
}

func newShard(id int, symbols []string, url string, log *logrus.Entry) *shard {
	return &shard{
		id:      id,
		symbols: symbols,
		url:     url,
		log:     log.WithField("shard", id),
	}
}

// run dials, reads, and reconnects until ctx is cancelled. onFrame is
// called on the read loop with every inbound text/binary frame; while it
// blocks (for example on a full adapter queue), no further frame is read.
func (s *shard) run(ctx context.Context, onFrame func([]byte)) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = ReconnectBase
	bo.MaxInterval = ReconnectCap
	bo.RandomizationFactor = ReconnectJitterFraction
	bo.Multiplier = 2.0
	bo.MaxElapsedTime = 0 // never give up; the shard must keep trying

	for {
		if ctx.Err() != nil {
			return
		}

		conn, err := s.dial(ctx)
		if err != nil {
			s.log.WithError(err).Warn("shard dial failed, backing off")
			if !s.sleepBackoff(ctx, bo.NextBackOff()) {
				return
			}
			continue
		}

		atomic.AddInt64(&s.counters.conns, 1)
		bo.Reset()
		s.log.Info("shard connected")

		s.readLoop(ctx, conn, onFrame)

		atomic.AddInt64(&s.counters.discs, 1)
		_ = conn.Close()

		if ctx.Err() != nil {
			return
		}
		s.log.Warn("shard disconnected, reconnecting")
		if !s.sleepBackoff(ctx, bo.NextBackOff()) {
			return
		}
	}
}

func (s *shard) dial(ctx context.Context) (*websocket.Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: WSHandshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, s.url, nil)
	return conn, err
}

func (s *shard) readLoop(ctx context.Context, conn *websocket.Conn, onFrame func([]byte)) {
	s.markAlive()
	conn.SetPingHandler(func(appData string) error {
		s.markAlive()
		return conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(WSHandshakeTimeout))
	})

	watchdogDone := make(chan struct{})
	go s.heartbeatWatchdog(conn, watchdogDone)
	defer close(watchdogDone)

	for {
		_ = conn.SetReadDeadline(time.Now().Add(frameReadTimeout))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return // heartbeat-timeout, frame-read-timeout, or real close; caller reconnects either way
		}
		s.markAlive()
		atomic.AddInt64(&s.counters.msgs, 1)
		onFrame(msg)

		if ctx.Err() != nil {
			return
		}
	}
}

func (s *shard) markAlive() {
	atomic.StoreInt64(&s.lastFrame, time.Now().UnixNano())
}

// heartbeatWatchdog enforces the spec's 30 s heartbeat-absence trigger
// (spec §4.1), which is tighter than and independent of readLoop's 60 s
// per-frame read deadline: it forces the connection closed the moment no
// data or ping frame has arrived for HeartbeatTimeout, even if a single
// ReadMessage call hasn't yet hit its own deadline.
func (s *shard) heartbeatWatchdog(conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			last := time.Unix(0, atomic.LoadInt64(&s.lastFrame))
			if time.Since(last) > HeartbeatTimeout {
				s.log.Warn("heartbeat timeout, forcing reconnect")
				_ = conn.Close()
				return
			}
		}
	}
}

func (s *shard) sleepBackoff(ctx context.Context, d time.Duration) bool {
	if d == backoff.Stop {
		return false
	}
	select {
	case <-time.After(d):
		return true
	case <-ctx.Done():
		return false
	}
}

func (s *shard) incDrop() { atomic.AddInt64(&s.counters.drop, 1) }
