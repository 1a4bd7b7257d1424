// Package consumer implements the Bus Consumer: it subscribes to the
// configured inbound subject, decodes each frame's envelope, extracts
// distributed trace context, and hands the raw envelope to a dispatcher
// for classification and routing.
//
// The Start/Stop lifecycle (wg.Add/Done per goroutine, context
// cancellation, bounded drain) follows engine.Engine.Start/Stop.
package consumer

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"marketpulse/internal/bus"
	"marketpulse/internal/config"
	"marketpulse/pkg/types"
)

// Dispatcher is the downstream consumer of decoded envelopes. It is
// satisfied by internal/dispatcher.Dispatcher, kept as an interface here so
// this package never imports a concrete dispatcher implementation.
type Dispatcher interface {
	Dispatch(ctx context.Context, env types.Envelope) error
}

// Metrics tracks frame processing outcomes.
type Metrics struct {
	Received  int64
	Malformed int64
	Dispatched int64
}

// Consumer subscribes to one inbound bus subject and feeds decoded
// envelopes to a Dispatcher.
type Consumer struct {
	cfg        config.BusConfig
	subscriber bus.Subscriber
	dispatcher Dispatcher
	logger     *slog.Logger
	tracer     trace.Tracer

	received   int64
	malformed  int64
	dispatched int64

	mu     sync.Mutex
	sub    bus.Subscription
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a Bus Consumer.
func New(cfg config.BusConfig, subscriber bus.Subscriber, dispatcher Dispatcher, logger *slog.Logger) *Consumer {
	return &Consumer{
		cfg:        cfg,
		subscriber: subscriber,
		dispatcher: dispatcher,
		logger:     logger.With("component", "consumer"),
		tracer:     otel.Tracer("marketpulse/consumer"),
	}
}

// Start connects, subscribes, and begins consuming in a background
// goroutine. Returns once the subscription is established.
func (c *Consumer) Start(ctx context.Context) error {
	subCtx, cancel := context.WithCancel(ctx)

	sub, err := c.subscriber.Subscribe(subCtx, c.cfg.InboundSubject)
	if err != nil {
		cancel()
		return err
	}

	c.mu.Lock()
	c.sub = sub
	c.cancel = cancel
	c.mu.Unlock()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.run(subCtx, sub)
	}()

	return nil
}

// Stop unsubscribes, drains in-flight frames up to the configured grace
// period, and closes the underlying bus subscription. Guaranteed: no new
// frames are dispatched after Stop returns.
func (c *Consumer) Stop() {
	c.mu.Lock()
	cancel := c.cancel
	sub := c.sub
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if sub != nil {
		_ = sub.Unsubscribe()
	}

	drainDeadline := c.cfg.DrainDeadline
	if drainDeadline <= 0 {
		drainDeadline = 5 * time.Second
	}

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(drainDeadline):
		c.logger.Warn("drain deadline exceeded on stop")
	}
}

func (c *Consumer) run(ctx context.Context, sub bus.Subscription) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-sub.Messages():
			if !ok {
				return
			}
			c.handle(ctx, msg)
		}
	}
}

func (c *Consumer) handle(ctx context.Context, msg bus.Message) {
	atomic.AddInt64(&c.received, 1)

	var env types.Envelope
	if err := json.Unmarshal(msg.Data, &env); err != nil {
		atomic.AddInt64(&c.malformed, 1)
		c.logger.Warn("malformed envelope, dropping", "error", err, "subject", msg.Subject)
		return
	}
	if env.Stream == "" {
		atomic.AddInt64(&c.malformed, 1)
		c.logger.Warn("malformed envelope: missing stream, dropping", "subject", msg.Subject)
		return
	}

	spanCtx := c.extractTraceContext(ctx, env)
	spanCtx, span := c.tracer.Start(spanCtx, "process market data message")
	defer span.End()

	if err := c.dispatcher.Dispatch(spanCtx, env); err != nil {
		span.RecordError(err)
		c.logger.Warn("dispatch failed", "stream", env.Stream, "error", err)
		return
	}
	atomic.AddInt64(&c.dispatched, 1)
}

// extractTraceContext builds a context carrying the W3C trace context
// embedded in the envelope, if present, falling back to ctx unchanged.
func (c *Consumer) extractTraceContext(ctx context.Context, env types.Envelope) context.Context {
	if env.OtelTraceContext == nil || env.OtelTraceContext.Traceparent == "" {
		return ctx
	}
	carrier := propagation.MapCarrier{"traceparent": env.OtelTraceContext.Traceparent}
	return propagation.TraceContext{}.Extract(ctx, carrier)
}

// Metrics returns a snapshot of frame processing counters.
func (c *Consumer) Metrics() Metrics {
	return Metrics{
		Received:   atomic.LoadInt64(&c.received),
		Malformed:  atomic.LoadInt64(&c.malformed),
		Dispatched: atomic.LoadInt64(&c.dispatched),
	}
}
