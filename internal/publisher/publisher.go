// Package publisher implements the Outbound Publisher: a bounded, batched
// publisher to an outbound bus subject, guarded by a circuit breaker.
//
// The internal accumulate-until-batch-size-or-timeout loop is grounded on
// the original's strategies/core/publisher.py _publishing_loop (collect
// until the batch is full or the window elapses, then publish each message
// individually in order); the write path itself (marshal, deadline, wrapped
// error) follows exchange/ws.go's writeJSON.
package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"marketpulse/internal/breaker"
	"marketpulse/internal/bus"
	"marketpulse/internal/config"
	"marketpulse/pkg/types"
)

// ErrQueueFull is returned by Enqueue when the queue is at capacity.
var ErrQueueFull = errors.New("publisher: queue full")

// ErrUnavailable is returned when the circuit breaker is open.
var ErrUnavailable = errors.New("publisher: unavailable")

const latencyWindow = 1000

// Health is a point-in-time snapshot of publisher readiness, supplementing
// the original's get_health_status/get_queue_status.
type Health struct {
	Healthy       bool
	QueueSize     int
	QueueCapacity int
	State         breaker.State
}

// Metrics tracks publish counters and latency statistics.
type Metrics struct {
	Published       int64
	Errors          int64
	LastPublishTime time.Time
	MinLatency      time.Duration
	AvgLatency      time.Duration
	MaxLatency      time.Duration
}

// Publisher batches orders and publishes them to the outbound bus subject.
type Publisher struct {
	cfg     config.PublisherConfig
	subject string
	pub     bus.Publisher
	breaker *breaker.Breaker
	logger  *slog.Logger

	queue chan types.TradeOrder

	mu         sync.Mutex
	published  int64
	errs       int64
	lastPublish time.Time
	latencies  []time.Duration // ring of up to latencyWindow recent samples
	latencyPos int

	stopOnce sync.Once
	stopCh   chan struct{}
	done     chan struct{}
}

// New creates an Outbound Publisher. The caller starts the batching loop
// with Run.
func New(cfg config.PublisherConfig, subject string, pub bus.Publisher, br *breaker.Breaker, logger *slog.Logger) *Publisher {
	return &Publisher{
		cfg:     cfg,
		subject: subject,
		pub:     pub,
		breaker: br,
		logger:  logger.With("component", "publisher"),
		queue:   make(chan types.TradeOrder, cfg.QueueCapacity),
		stopCh:  make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Enqueue submits an order for batched publishing. Non-blocking: returns
// ErrQueueFull immediately if the queue is at capacity (no silent drop).
func (p *Publisher) Enqueue(order types.TradeOrder) error {
	select {
	case p.queue <- order:
		return nil
	default:
		return ErrQueueFull
	}
}

// PublishSync publishes a single order immediately, bypassing the batching
// queue, still guarded by the circuit breaker.
func (p *Publisher) PublishSync(ctx context.Context, order types.TradeOrder) error {
	return p.publishOne(ctx, order)
}

// Run starts the batching loop. Blocks until ctx is cancelled or Stop is
// called.
func (p *Publisher) Run(ctx context.Context) {
	defer close(p.done)

	batchSize := p.cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 50
	}
	batchTimeout := p.cfg.BatchTimeout
	if batchTimeout <= 0 {
		batchTimeout = time.Second
	}

	batch := make([]types.TradeOrder, 0, batchSize)
	timer := time.NewTimer(batchTimeout)
	defer timer.Stop()

	flush := func() {
		for _, order := range batch {
			if err := p.publishOne(ctx, order); err != nil {
				p.logger.Warn("publish failed", "order_id", order.OrderID, "error", err)
			}
		}
		batch = batch[:0]
	}

	for {
		select {
		case <-ctx.Done():
			p.drain(flush)
			return
		case <-p.stopCh:
			p.drain(flush)
			return
		case order := <-p.queue:
			batch = append(batch, order)
			if len(batch) >= batchSize {
				flush()
				if !timer.Stop() {
					<-timer.C
				}
				timer.Reset(batchTimeout)
			}
		case <-timer.C:
			if len(batch) > 0 {
				flush()
			}
			timer.Reset(batchTimeout)
		}
	}
}

// drain flushes the batch and best-effort drains the remaining queue
// within a fixed 5 s deadline, returning as soon as the queue is empty.
func (p *Publisher) drain(flush func()) {
	flush()

	deadline := time.After(5 * time.Second)
	for {
		select {
		case order := <-p.queue:
			if err := p.publishOne(context.Background(), order); err != nil {
				p.logger.Warn("drain publish failed", "order_id", order.OrderID, "error", err)
			}
		case <-deadline:
			return
		default:
			return
		}
	}
}

// Stop signals the batching loop to stop accepting new work and flush.
// Blocks until the loop has exited.
func (p *Publisher) Stop() {
	p.stopOnce.Do(func() { close(p.stopCh) })
	<-p.done
}

func (p *Publisher) publishOne(ctx context.Context, order types.TradeOrder) error {
	payload, err := json.Marshal(order)
	if err != nil {
		return fmt.Errorf("marshal order: %w", err)
	}

	start := time.Now()
	err = p.breaker.Call(ctx, func(ctx context.Context) error {
		return p.pub.Publish(ctx, p.subject, payload)
	})
	elapsed := time.Since(start)

	p.mu.Lock()
	defer p.mu.Unlock()

	if err != nil {
		p.errs++
		if errors.Is(err, breaker.ErrOpen) {
			return fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		return err
	}

	p.published++
	p.lastPublish = time.Now()
	p.recordLatencyLocked(elapsed)
	return nil
}

func (p *Publisher) recordLatencyLocked(d time.Duration) {
	if cap(p.latencies) < latencyWindow {
		p.latencies = make([]time.Duration, 0, latencyWindow)
	}
	if len(p.latencies) < latencyWindow {
		p.latencies = append(p.latencies, d)
	} else {
		p.latencies[p.latencyPos] = d
		p.latencyPos = (p.latencyPos + 1) % latencyWindow
	}
}

// Metrics returns a snapshot of publish counters and latency statistics
// over the last 1000 operations.
func (p *Publisher) Metrics() Metrics {
	p.mu.Lock()
	defer p.mu.Unlock()

	m := Metrics{
		Published:       p.published,
		Errors:          p.errs,
		LastPublishTime: p.lastPublish,
	}
	if len(p.latencies) == 0 {
		return m
	}

	m.MinLatency, m.MaxLatency = p.latencies[0], p.latencies[0]
	var sum time.Duration
	for _, d := range p.latencies {
		sum += d
		if d < m.MinLatency {
			m.MinLatency = d
		}
		if d > m.MaxLatency {
			m.MaxLatency = d
		}
	}
	m.AvgLatency = sum / time.Duration(len(p.latencies))
	return m
}

// Health reports current readiness for the (external) HTTP surface.
func (p *Publisher) Health() Health {
	state := p.breaker.State()
	return Health{
		Healthy:       state != breaker.Open,
		QueueSize:     len(p.queue),
		QueueCapacity: cap(p.queue),
		State:         state,
	}
}
