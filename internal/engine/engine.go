// Package engine is the central orchestrator of the analytics pipeline.
//
// It wires together all subsystems:
//
//  1. Consumer subscribes to the inbound bus subject and decodes envelopes.
//  2. Dispatcher hash-partitions symbols across workers and drives the
//     Depth Analyzer, Level Tracker, and Spread Strategy for each one.
//  3. Signals the strategy emits are normalized into Trade Orders and
//     handed to the Outbound Publisher, which batches them behind a
//     circuit breaker onto the outbound bus subject.
//  4. The read-only metrics API, if enabled, serves snapshots from the
//     Depth Analyzer's concurrency-safe view.
//
// Lifecycle: New() → Start() → [runs until SIGINT] → Stop().
package engine

import (
	"context"
	"log/slog"
	"sync"

	"marketpulse/internal/api"
	"marketpulse/internal/breaker"
	"marketpulse/internal/bus/wsbus"
	"marketpulse/internal/config"
	"marketpulse/internal/consumer"
	"marketpulse/internal/depth"
	"marketpulse/internal/dispatcher"
	"marketpulse/internal/leveltracker"
	"marketpulse/internal/normalizer"
	"marketpulse/internal/publisher"
	"marketpulse/internal/spread"
	"marketpulse/pkg/types"
)

// Engine orchestrates every component of the analytics pipeline and owns
// the lifecycle of its background goroutines.
type Engine struct {
	cfg    config.Config
	logger *slog.Logger

	inbound  *wsbus.Client
	outbound *wsbus.Client

	depthAnalyzer *depth.Analyzer
	levelTracker  *leveltracker.Tracker
	spreadStrat   *spread.Strategy
	dispatcher    *dispatcher.Dispatcher
	consumer      *consumer.Consumer
	breaker       *breaker.Breaker
	publisher     *publisher.Publisher

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New connects both bus endpoints and wires the full pipeline. It does not
// start any background loop; call Start for that.
func New(ctx context.Context, cfg config.Config, logger *slog.Logger) (*Engine, error) {
	inbound, err := wsbus.Dial(ctx, cfg.Bus.InboundURL, logger)
	if err != nil {
		return nil, err
	}

	outbound, err := wsbus.Dial(ctx, cfg.Bus.OutboundURL, logger)
	if err != nil {
		inbound.Close()
		return nil, err
	}

	depthAnalyzer := depth.NewAnalyzer(cfg.Depth, logger)
	levelTracker := leveltracker.New(cfg.Level)
	spreadStrat := spread.New(cfg.Spread)

	br := breaker.New(breaker.Config{
		FailureThreshold: cfg.Breaker.FailureThreshold,
		RecoveryTimeout:  cfg.Breaker.RecoveryTimeout,
	})
	pub := publisher.New(cfg.Publisher, cfg.Bus.OutboundSubject, outbound, br, logger)

	eng := &Engine{
		cfg:           cfg,
		logger:        logger.With("component", "engine"),
		inbound:       inbound,
		outbound:      outbound,
		depthAnalyzer: depthAnalyzer,
		levelTracker:  levelTracker,
		spreadStrat:   spreadStrat,
		breaker:       br,
		publisher:     pub,
	}

	disp := dispatcher.New(cfg.Dispatcher, depthAnalyzer, levelTracker, spreadStrat, eng, logger)
	eng.dispatcher = disp
	eng.consumer = consumer.New(cfg.Bus, inbound, disp, logger)

	ctx, cancel := context.WithCancel(ctx)
	eng.ctx, eng.cancel = ctx, cancel

	return eng, nil
}

// Start launches the dispatcher worker pool, the publisher's batching loop,
// and the bus consumer, in that order so nothing can be dropped onto an
// unstarted stage.
func (e *Engine) Start() error {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.dispatcher.Run(e.ctx)
	}()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.publisher.Run(e.ctx)
	}()

	if err := e.consumer.Start(e.ctx); err != nil {
		e.cancel()
		e.wg.Wait()
		return err
	}

	return nil
}

// Stop drains the consumer, stops the publisher, cancels all worker
// goroutines, and closes both bus connections.
func (e *Engine) Stop() {
	e.logger.Info("shutting down...")

	e.consumer.Stop()
	e.publisher.Stop()
	e.cancel()
	e.wg.Wait()

	e.inbound.Close()
	e.outbound.Close()

	e.logger.Info("shutdown complete")
}

// HandleSignal implements dispatcher.SignalSink: it normalizes the signal
// into a Trade Order and hands it to the publisher's batching queue. A full
// queue is never blocked on: the order is dropped and the drop is logged,
// with no drop counter kept — signals are best-effort beyond the
// dispatcher's own backpressure.
func (e *Engine) HandleSignal(ctx context.Context, sig types.Signal) {
	order, err := normalizer.Normalize(ctx, sig)
	if err != nil {
		e.logger.Error("normalize signal failed", "symbol", sig.Symbol, "error", err)
		return
	}

	if err := e.publisher.Enqueue(order); err != nil {
		e.logger.Warn("publisher queue full, dropping order", "symbol", sig.Symbol, "order_id", order.OrderID, "error", err)
	}
}

// MetricsProvider exposes the Depth Analyzer as the HTTP API's read-only
// surface, satisfying api.MetricsProvider without that package depending on
// the analyzer directly.
func (e *Engine) MetricsProvider() api.MetricsProvider {
	return e.depthAnalyzer
}

// DepthConfig returns the depth analyzer config, used by the API layer for
// the trend threshold that /metrics/all classifies and filters by.
func (e *Engine) DepthConfig() config.DepthConfig {
	return e.cfg.Depth
}

// PublisherHealth exposes the outbound publisher's readiness. The metrics
// API's /health route does not report it.
func (e *Engine) PublisherHealth() publisher.Health {
	return e.publisher.Health()
}

// DispatcherMetrics exposes dispatcher-level routing/backpressure counters.
func (e *Engine) DispatcherMetrics() dispatcher.Metrics {
	return e.dispatcher.Metrics()
}
