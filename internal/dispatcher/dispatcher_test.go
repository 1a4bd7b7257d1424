package dispatcher

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"marketpulse/internal/config"
	"marketpulse/internal/depth"
	"marketpulse/internal/leveltracker"
	"marketpulse/internal/spread"
	"marketpulse/pkg/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeSink struct {
	mu      sync.Mutex
	signals []types.Signal
}

func (f *fakeSink) HandleSignal(ctx context.Context, sig types.Signal) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.signals = append(f.signals, sig)
}

func (f *fakeSink) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.signals)
}

func depthEnvelope(t *testing.T, symbol string) types.Envelope {
	t.Helper()
	payload := types.DepthData{
		Symbol: symbol,
		Bids:   [][2]string{{"100.0", "5"}, {"99.5", "3"}},
		Asks:   [][2]string{{"100.5", "4"}, {"101.0", "2"}},
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var data types.RawData
	if err := json.Unmarshal(raw, &data); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	return types.Envelope{Stream: symbol + "@depth", Data: data}
}

func newTestDispatcher(sink SignalSink) *Dispatcher {
	da := depth.NewAnalyzer(config.DepthConfig{}, testLogger())
	lt := leveltracker.New(config.LevelConfig{})
	ss := spread.New(config.SpreadConfig{})
	return New(config.DispatcherConfig{Workers: 2, InboxSize: 8}, da, lt, ss, sink, testLogger())
}

func TestDispatchRoutesDepthEventThroughPipeline(t *testing.T) {
	sink := &fakeSink{}
	d := newTestDispatcher(sink)

	ctx, cancel := context.WithCancel(context.Background())
	go d.Run(ctx)
	defer cancel()

	if err := d.Dispatch(context.Background(), depthEnvelope(t, "BTC")); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for d.Metrics().DepthRouted < 1 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}

	m := d.Metrics()
	if m.DepthRouted != 1 {
		t.Fatalf("DepthRouted = %d, want 1", m.DepthRouted)
	}
	cur, ok := d.depthAnalyzer.GetCurrent("BTC")
	if !ok {
		t.Fatal("expected depth analyzer to have processed the event")
	}
	if cur.BestBid != 100.0 {
		t.Errorf("BestBid = %v, want 100.0", cur.BestBid)
	}
}

func TestDispatchRejectsUnclassifiableStream(t *testing.T) {
	d := newTestDispatcher(nil)

	err := d.Dispatch(context.Background(), types.Envelope{Stream: "garbage"})
	if err == nil {
		t.Fatal("expected error for unclassifiable stream")
	}
	if d.Metrics().Unclassified != 1 {
		t.Errorf("Unclassified = %d, want 1", d.Metrics().Unclassified)
	}
}

func TestDispatchDropsOnQueueOverflow(t *testing.T) {
	d := New(config.DispatcherConfig{Workers: 1, InboxSize: 1, BackpressureWait: 20 * time.Millisecond},
		depth.NewAnalyzer(config.DepthConfig{}, testLogger()),
		leveltracker.New(config.LevelConfig{}),
		spread.New(config.SpreadConfig{}),
		nil, testLogger())

	// Fill the single worker's inbox without a running worker to drain it.
	if err := d.Dispatch(context.Background(), depthEnvelope(t, "BTC")); err != nil {
		t.Fatalf("first dispatch: %v", err)
	}
	if err := d.Dispatch(context.Background(), depthEnvelope(t, "BTC")); err == nil {
		t.Fatal("expected overflow error on second dispatch with no worker draining")
	}
	if d.Metrics().QueueOverflow != 1 {
		t.Errorf("QueueOverflow = %d, want 1", d.Metrics().QueueOverflow)
	}
}

func TestSplitStream(t *testing.T) {
	cases := []struct {
		in       string
		symbol   string
		kind     string
		wantOK   bool
	}{
		{"btc@depth", "BTC", "depth", true},
		{"eth@trade", "ETH", "trade", true},
		{"@depth", "", "", false},
		{"noop", "", "", false},
	}
	for _, c := range cases {
		symbol, kind, ok := splitStream(c.in)
		if ok != c.wantOK {
			t.Errorf("splitStream(%q) ok = %v, want %v", c.in, ok, c.wantOK)
			continue
		}
		if !ok {
			continue
		}
		if symbol != c.symbol || kind != c.kind {
			t.Errorf("splitStream(%q) = (%q, %q), want (%q, %q)", c.in, symbol, kind, c.symbol, c.kind)
		}
	}
}
