// Package cache implements the pipelined KV sink (spec §4.4): HSET/XADD
// commands batched into a redis pipeline, dispatched by pipeline size or
// a flush timer, with no retry on pipeline failure.
package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// Command is one of the two commands the external cache contract allows.
type Command string

const (
	CmdHSet Command = "HSET"
	CmdXAdd Command = "XADD"
)

// Op is one pipelined command (spec §4.4 public contract
// enqueue(command, key, fields…, ttl?)).
type Op struct {
	Command Command
	Key     string
	Fields  map[string]interface{}
	TTL     time.Duration // 0 means no expiry (HSET keys without a TTL row)
	MaxLen  int64         // XADD approximate MAXLEN; 0 means no trim
}

// Config holds the writer's tunables (spec §4.4, §6).
type Config struct {
	Addr            string
	Password        string
	DB              int
	PipelineSize    int
	FlushIntervalMs int
	Timeout         time.Duration
}

// DefaultConfig returns spec §4.4's documented defaults.
func DefaultConfig() Config {
	return Config{
		PipelineSize:    200,
		FlushIntervalMs: 50,
		Timeout:         3 * time.Second,
	}
}

// Counters are the writer's accounting. Cache data is ephemeral by
// design (spec §4.4); there is no pending/in-flight distinction worth
// surfacing beyond written/flushed/flush_failed.
type Counters struct {
	Written     int64
	Flushed     int64
	FlushFailed int64
}

// pipeliner is the subset of redis.Pipeliner the flush loop needs.
// Isolating it lets tests exercise flush/TTL/retry semantics with a
// recording fake instead of a live redis server.
type pipeliner interface {
	HSet(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
	Expire(ctx context.Context, key string, ttl time.Duration) *redis.BoolCmd
	XAdd(ctx context.Context, args *redis.XAddArgs) *redis.StringCmd
	Exec(ctx context.Context) ([]redis.Cmder, error)
}

// Writer is the cache sink's pipelined enqueue + flush-loop writer.
type Writer struct {
	cfg     Config
	client  *redis.Client
	newPipe func() pipeliner
	log     *logrus.Entry

	mu      sync.Mutex
	pending []Op

	countersMu sync.Mutex
	counters   Counters

	stopCh chan struct{}
}

// New builds a Writer bound to cfg. Call Run to start its flush loop.
func New(cfg Config, log *logrus.Entry) *Writer {
	if cfg.PipelineSize <= 0 {
		cfg.PipelineSize = 200
	}
	if cfg.FlushIntervalMs <= 0 {
		cfg.FlushIntervalMs = 50
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 3 * time.Second
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	w := &Writer{
		cfg:    cfg,
		client: client,
		log:    log.WithField("component", "cache-writer"),
		stopCh: make(chan struct{}),
	}
	w.newPipe = func() pipeliner { return w.client.Pipeline() }
	return w
}

// Enqueue appends op to the pipeline, flushing immediately if
// pipeline_size has now been reached.
func (w *Writer) Enqueue(ctx context.Context, op Op) error {
	w.mu.Lock()
	w.pending = append(w.pending, op)
	w.bumpWritten()
	shouldFlush := len(w.pending) >= w.cfg.PipelineSize
	w.mu.Unlock()

	if shouldFlush {
		w.flush(ctx)
	}
	return nil
}

func (w *Writer) bumpWritten() {
	w.countersMu.Lock()
	w.counters.Written++
	w.countersMu.Unlock()
}

// Run starts the time-based flush loop; it returns when ctx is
// cancelled, after a final flush attempt.
func (w *Writer) Run(ctx context.Context) {
	ticker := time.NewTicker(time.Duration(w.cfg.FlushIntervalMs) * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.flush(context.Background())
			return
		case <-w.stopCh:
			w.flush(context.Background())
			return
		case <-ticker.C:
			w.flush(ctx)
		}
	}
}

// Stop signals Run to exit after a final flush.
func (w *Writer) Stop() {
	close(w.stopCh)
}

func (w *Writer) flush(ctx context.Context) {
	w.mu.Lock()
	ops := w.pending
	w.pending = nil
	w.mu.Unlock()

	if len(ops) == 0 {
		return
	}

	flushCtx, cancel := context.WithTimeout(ctx, w.cfg.Timeout)
	defer cancel()

	pipe := w.newPipe()
	for _, op := range ops {
		switch op.Command {
		case CmdHSet:
			pipe.HSet(flushCtx, op.Key, op.Fields)
			if op.TTL > 0 {
				pipe.Expire(flushCtx, op.Key, op.TTL)
			}
		case CmdXAdd:
			pipe.XAdd(flushCtx, &redis.XAddArgs{
				Stream: op.Key,
				MaxLen: op.MaxLen,
				Approx: op.MaxLen > 0,
				Values: op.Fields,
			})
		default:
			w.log.WithField("command", op.Command).Error("unknown cache command, dropping op")
		}
	}

	_, err := pipe.Exec(flushCtx)
	w.countersMu.Lock()
	defer w.countersMu.Unlock()
	if err != nil && err != redis.Nil {
		w.counters.FlushFailed += int64(len(ops))
		w.log.WithError(err).WithField("ops", len(ops)).Error("cache pipeline flush_failed")
		return
	}
	w.counters.Flushed += int64(len(ops))
}

// Snapshot returns a copy of the writer's counters.
func (w *Writer) Snapshot() Counters {
	w.countersMu.Lock()
	defer w.countersMu.Unlock()
	return w.counters
}

// Close releases the underlying redis client.
func (w *Writer) Close() error {
	return w.client.Close()
}

// Keyspace builders (spec §4.4's bit-exact external contract).

func KeyL1(instrument string) string { return fmt.Sprintf("marketdata:last:l1:%s", instrument) }

func KeyTop(depth int, instrument string) string {
	if depth >= 20 {
		return fmt.Sprintf("marketdata:last:top20:%s", instrument)
	}
	return fmt.Sprintf("marketdata:last:top5:%s", instrument)
}

func KeyMark(instrument string) string { return fmt.Sprintf("marketdata:last:mark:%s", instrument) }

func KeyFunding(instrument string) string {
	return fmt.Sprintf("marketdata:last:funding:%s", instrument)
}

func KeyKline(interval, instrument string) string {
	return fmt.Sprintf("marketdata:last:klines:%s:%s", interval, instrument)
}

func KeyAggTrades5s(instrument string) string {
	return fmt.Sprintf("marketdata:last:agg_trades_5s:%s", instrument)
}

func KeyTradesStream(instrument string) string {
	return fmt.Sprintf("marketdata:stream:trades:%s", instrument)
}

func KeyLiquidationsStream(instrument string) string {
	return fmt.Sprintf("marketdata:stream:liquidations:%s", instrument)
}

// TTLs fixed by spec §4.4's keyspace table.
const (
	TTLMark        = 3 * time.Second
	TTLKline       = 120 * time.Second
	TTLAggTrades5s = 10 * time.Second
	StreamMaxLen   = 1000
)
