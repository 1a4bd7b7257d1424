// Package dispatcher implements the Event Dispatcher: a fixed pool of
// workers, each owning a hash-partitioned slice of symbols, that classifies
// incoming envelopes by stream type and feeds the per-symbol analytic
// pipeline (Depth Analyzer, Level Tracker, Spread Strategy) while
// guaranteeing no two goroutines ever mutate the same symbol's state
// concurrently.
//
// The worker-owns-state shape generalizes engine.Engine's
// marketSlot/routeTrade/routeOrder pattern from "one goroutine per market"
// to "N hash-partitioned workers, each owning many symbols"; the
// channel-full backpressure path follows routeTrade/routeOrder's
// select{default:} one-for-one, extended with the bounded wait the
// specification requires before dropping.
package dispatcher

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"log/slog"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"marketpulse/internal/config"
	"marketpulse/internal/depth"
	"marketpulse/internal/leveltracker"
	"marketpulse/internal/spread"
	"marketpulse/pkg/types"
)

// SignalSink receives strategy signals produced downstream of the analytic
// pipeline, for forwarding to the normalizer/publisher stage.
type SignalSink interface {
	HandleSignal(ctx context.Context, sig types.Signal)
}

type inboxItem struct {
	ctx context.Context
	env types.Envelope
}

// Metrics tracks dispatcher-level classification and backpressure outcomes.
type Metrics struct {
	DepthRouted    int64
	TradeRouted    int64
	TickerRouted   int64
	Unclassified   int64
	QueueOverflow  int64
}

// Dispatcher routes classified events to the Depth Analyzer, Level Tracker,
// and Spread Strategy, serializing all work for a given symbol onto exactly
// one worker.
type Dispatcher struct {
	cfg    config.DispatcherConfig
	logger *slog.Logger

	depthAnalyzer *depth.Analyzer
	levelTracker  *leveltracker.Tracker
	spreadStrat   *spread.Strategy
	signalSink    SignalSink

	workers []chan inboxItem

	depthRouted   int64
	tradeRouted   int64
	tickerRouted  int64
	unclassified  int64
	queueOverflow int64

	wg sync.WaitGroup
}

// New creates an Event Dispatcher with its worker pool unstarted.
func New(cfg config.DispatcherConfig, da *depth.Analyzer, lt *leveltracker.Tracker, ss *spread.Strategy, sink SignalSink, logger *slog.Logger) *Dispatcher {
	workers := cfg.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	inboxSize := cfg.InboxSize
	if inboxSize <= 0 {
		inboxSize = 256
	}

	d := &Dispatcher{
		cfg:           cfg,
		logger:        logger.With("component", "dispatcher"),
		depthAnalyzer: da,
		levelTracker:  lt,
		spreadStrat:   ss,
		signalSink:    sink,
		workers:       make([]chan inboxItem, workers),
	}
	for i := range d.workers {
		d.workers[i] = make(chan inboxItem, inboxSize)
	}
	return d
}

// Run starts all worker goroutines. Blocks until ctx is cancelled, then
// waits for workers to drain their current item before returning.
func (d *Dispatcher) Run(ctx context.Context) {
	for i, inbox := range d.workers {
		d.wg.Add(1)
		go d.runWorker(ctx, i, inbox)
	}
	<-ctx.Done()
	d.wg.Wait()
}

func (d *Dispatcher) runWorker(ctx context.Context, id int, inbox chan inboxItem) {
	defer d.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case item := <-inbox:
			d.process(item.ctx, item.env)
		}
	}
}

// Dispatch classifies env by its stream field and routes it to the worker
// owning that symbol, applying bounded-wait-then-drop backpressure if the
// worker's inbox is full.
func (d *Dispatcher) Dispatch(ctx context.Context, env types.Envelope) error {
	symbol, _, ok := splitStream(env.Stream)
	if !ok {
		atomic.AddInt64(&d.unclassified, 1)
		return fmt.Errorf("dispatcher: unclassifiable stream %q", env.Stream)
	}

	worker := d.workers[workerIndex(symbol, len(d.workers))]
	item := inboxItem{ctx: ctx, env: env}

	select {
	case worker <- item:
		return nil
	default:
	}

	wait := d.cfg.BackpressureWait
	if wait <= 0 {
		wait = 50 * time.Millisecond
	}

	select {
	case worker <- item:
		return nil
	case <-time.After(wait):
		atomic.AddInt64(&d.queueOverflow, 1)
		d.logger.Warn("queue overflow, dropping event", "symbol", symbol)
		return fmt.Errorf("dispatcher: queue overflow for symbol %s", symbol)
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) process(ctx context.Context, env types.Envelope) {
	symbol, kind, ok := splitStream(env.Stream)
	if !ok {
		return
	}

	switch kind {
	case "depth":
		atomic.AddInt64(&d.depthRouted, 1)
		d.processDepth(ctx, symbol, env)
	case "trade":
		atomic.AddInt64(&d.tradeRouted, 1)
		// No analyzer in this pipeline consumes individual trade fills;
		// only depth snapshots drive the analytic pipeline.
	case "ticker":
		atomic.AddInt64(&d.tickerRouted, 1)
	}
}

func (d *Dispatcher) processDepth(ctx context.Context, symbol string, env types.Envelope) {
	raw, err := json.Marshal(env.Data)
	if err != nil {
		d.logger.Warn("re-marshal depth payload failed", "symbol", symbol, "error", err)
		return
	}
	var wire types.DepthData
	if err := json.Unmarshal(raw, &wire); err != nil {
		d.logger.Warn("decode depth payload failed", "symbol", symbol, "error", err)
		return
	}

	evt, err := depth.ParseDepthData(symbol, wire, env.OtelTraceContext)
	if err != nil {
		d.logger.Warn("parse depth event failed", "symbol", symbol, "error", err)
		return
	}

	if _, err := d.depthAnalyzer.Process(evt); err != nil {
		d.logger.Warn("depth analyzer rejected event", "symbol", symbol, "error", err)
		return
	}

	d.levelTracker.Observe(evt)

	sig, err := d.spreadStrat.Process(evt)
	if err != nil {
		d.logger.Warn("spread strategy rejected event", "symbol", symbol, "error", err)
		return
	}
	if sig != nil && d.signalSink != nil {
		d.signalSink.HandleSignal(ctx, *sig)
	}
}

// splitStream parses "<symbol>@<kind>" into its parts.
func splitStream(stream string) (symbol, kind string, ok bool) {
	idx := strings.LastIndexByte(stream, '@')
	if idx <= 0 || idx == len(stream)-1 {
		return "", "", false
	}
	return strings.ToUpper(stream[:idx]), stream[idx+1:], true
}

func workerIndex(symbol string, n int) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(symbol))
	return int(h.Sum32() % uint32(n))
}

// Metrics returns a snapshot of dispatcher-level counters.
func (d *Dispatcher) Metrics() Metrics {
	return Metrics{
		DepthRouted:   atomic.LoadInt64(&d.depthRouted),
		TradeRouted:   atomic.LoadInt64(&d.tradeRouted),
		TickerRouted:  atomic.LoadInt64(&d.tickerRouted),
		Unclassified:  atomic.LoadInt64(&d.unclassified),
		QueueOverflow: atomic.LoadInt64(&d.queueOverflow),
	}
}
