package publisher

import (
	"context"
	"errors"
	"log/slog"
	"io"
	"sync"
	"testing"
	"time"

	"marketpulse/internal/breaker"
	"marketpulse/internal/config"
	"marketpulse/pkg/types"
)

type fakeBus struct {
	mu       sync.Mutex
	received []string
	fail     bool
}

func (f *fakeBus) Publish(ctx context.Context, subject string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("boom")
	}
	f.received = append(f.received, string(data))
	return nil
}

func (f *fakeBus) Close() error { return nil }

func (f *fakeBus) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.received)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestPublishSyncDeliversOrder(t *testing.T) {
	fb := &fakeBus{}
	p := New(config.PublisherConfig{QueueCapacity: 10}, "orders.out", fb, breaker.New(breaker.Config{}), testLogger())

	err := p.PublishSync(context.Background(), types.TradeOrder{OrderID: "o1"})
	if err != nil {
		t.Fatalf("PublishSync: %v", err)
	}
	if fb.count() != 1 {
		t.Fatalf("expected 1 published message, got %d", fb.count())
	}
	m := p.Metrics()
	if m.Published != 1 {
		t.Errorf("metrics.Published = %d, want 1", m.Published)
	}
}

func TestEnqueueRejectsWhenFull(t *testing.T) {
	fb := &fakeBus{}
	p := New(config.PublisherConfig{QueueCapacity: 1}, "orders.out", fb, breaker.New(breaker.Config{}), testLogger())

	if err := p.Enqueue(types.TradeOrder{OrderID: "a"}); err != nil {
		t.Fatalf("first enqueue: %v", err)
	}
	if err := p.Enqueue(types.TradeOrder{OrderID: "b"}); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("expected ErrQueueFull, got %v", err)
	}
}

func TestRunFlushesOnBatchSize(t *testing.T) {
	fb := &fakeBus{}
	p := New(config.PublisherConfig{
		QueueCapacity: 100,
		BatchSize:     3,
		BatchTimeout:  time.Minute,
	}, "orders.out", fb, breaker.New(breaker.Config{}), testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	go p.Run(ctx)

	for i := 0; i < 3; i++ {
		if err := p.Enqueue(types.TradeOrder{OrderID: "x"}); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}

	deadline := time.Now().Add(2 * time.Second)
	for fb.count() < 3 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if fb.count() != 3 {
		t.Fatalf("expected batch of 3 flushed, got %d", fb.count())
	}

	cancel()
	p.Stop()
}

func TestRunFlushesOnTimeout(t *testing.T) {
	fb := &fakeBus{}
	p := New(config.PublisherConfig{
		QueueCapacity: 100,
		BatchSize:     50,
		BatchTimeout:  20 * time.Millisecond,
	}, "orders.out", fb, breaker.New(breaker.Config{}), testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	go p.Run(ctx)

	if err := p.Enqueue(types.TradeOrder{OrderID: "solo"}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for fb.count() < 1 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if fb.count() != 1 {
		t.Fatalf("expected timeout flush of 1, got %d", fb.count())
	}

	cancel()
	p.Stop()
}

func TestHealthReflectsBreakerState(t *testing.T) {
	fb := &fakeBus{fail: true}
	br := breaker.New(breaker.Config{FailureThreshold: 2})
	p := New(config.PublisherConfig{QueueCapacity: 10}, "orders.out", fb, br, testLogger())

	for i := 0; i < 2; i++ {
		_ = p.PublishSync(context.Background(), types.TradeOrder{OrderID: "fail"})
	}

	h := p.Health()
	if h.Healthy {
		t.Fatal("expected unhealthy after breaker trips")
	}
	if h.QueueCapacity != 10 {
		t.Errorf("QueueCapacity = %d, want 10", h.QueueCapacity)
	}
}

func TestPublishSyncUnavailableWhenBreakerOpen(t *testing.T) {
	fb := &fakeBus{fail: true}
	br := breaker.New(breaker.Config{FailureThreshold: 1})
	p := New(config.PublisherConfig{QueueCapacity: 10}, "orders.out", fb, br, testLogger())

	_ = p.PublishSync(context.Background(), types.TradeOrder{OrderID: "first"})

	err := p.PublishSync(context.Background(), types.TradeOrder{OrderID: "second"})
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}
