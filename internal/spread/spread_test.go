package spread

import (
	"testing"
	"time"

	"marketpulse/internal/config"
	"marketpulse/pkg/types"
)

func cfg() config.SpreadConfig {
	return config.SpreadConfig{
		LookbackTicks:        20,
		VelocityThreshold:    0.5,
		SpreadRatioThreshold: 2.5,
		SpreadThresholdBps:   10,
		PersistenceThreshold: 30 * time.Second,
		MinDepthReductionPct: 0.5,
		MinSignalInterval:    60 * time.Second,
	}
}

func depthEventForSpreadBps(t *testing.T, symbol string, spreadBps float64, ts time.Time) types.DepthEvent {
	t.Helper()
	mid := 100.0
	spreadAbs := spreadBps * mid / 10000
	bestBid := mid - spreadAbs/2
	bestAsk := mid + spreadAbs/2
	return types.DepthEvent{
		Symbol:    symbol,
		EventTime: ts,
		Bids:      []types.PriceLevel{{Price: bestBid, Qty: 10}},
		Asks:      []types.PriceLevel{{Price: bestAsk, Qty: 10}},
	}
}

// narrowingCfg uses a short lookback so the rolling average and the
// velocity's "oldest" reference track recent ticks closely, the way a
// higher-frequency feed would fill the same 3-tick window in a fraction of
// the time this synthetic test compresses into seconds.
func narrowingCfg() config.SpreadConfig {
	c := cfg()
	c.LookbackTicks = 3
	c.BaseConfidence = 0.70
	return c
}

func TestNarrowingSignalAfterWideStablePeriod(t *testing.T) {
	strat := New(narrowingCfg())
	start := time.Now()

	// A genuinely tight baseline so the rolling average reflects real
	// history before the spread widens — without it spread_ratio would
	// compare the wide reading to itself and never register as abnormal.
	for _, tick := range []struct {
		offset time.Duration
		bps    float64
	}{
		{0, 8},
		{1 * time.Second, 8},
	} {
		if _, err := strat.Process(depthEventForSpreadBps(t, "BTC", tick.bps, start.Add(tick.offset))); err != nil {
			t.Fatalf("baseline tick: %v", err)
		}
	}

	// 25 snapshots at a wide, stable ~40bps spread: the first opens the
	// wide-spread event against the tight baseline above, the rest hold
	// steady and must not emit anything on their own.
	for i := 0; i < 25; i++ {
		offset := 2*time.Second + time.Duration(i)*2*time.Second
		sig, err := strat.Process(depthEventForSpreadBps(t, "BTC", 40, start.Add(offset)))
		if err != nil {
			t.Fatalf("wide-stable tick %d: %v", i, err)
		}
		if sig != nil {
			t.Fatalf("unexpected signal during stable-wide phase: %+v", sig)
		}
	}

	// 10 snapshots narrowing toward ~5bps, well past persistence_threshold
	// since the event opened; the last pair is spaced in milliseconds to
	// produce the sharp velocity the narrowing branch requires.
	narrowTicks := []struct {
		offset time.Duration
		bps    float64
	}{
		{350 * time.Second, 35},
		{355 * time.Second, 30},
		{360 * time.Second, 25},
		{365 * time.Second, 20},
		{370 * time.Second, 15},
		{375 * time.Second, 12},
		{380 * time.Second, 10},
		{385 * time.Second, 8},
		{385*time.Second + 300*time.Millisecond, 6},
		{385*time.Second + 600*time.Millisecond, 5},
	}

	var lastSignal *types.Signal
	var lastTick time.Time
	for _, nt := range narrowTicks {
		ts := start.Add(nt.offset)
		lastTick = ts
		sig, err := strat.Process(depthEventForSpreadBps(t, "BTC", nt.bps, ts))
		if err != nil {
			t.Fatalf("narrowing tick: %v", err)
		}
		if sig != nil {
			lastSignal = sig
		}
	}

	if lastSignal == nil {
		t.Fatal("expected exactly one narrowing signal, got none")
	}
	if lastSignal.ID == "" {
		t.Error("expected a generated signal id")
	}
	if lastSignal.Action != types.ActionBuy {
		t.Errorf("action = %s, want buy", lastSignal.Action)
	}
	if lastSignal.Confidence < 0.70 {
		t.Errorf("confidence = %v, want >= 0.70", lastSignal.Confidence)
	}

	// Force a fresh wide-spread event open and a second sharp collapse,
	// still within min_signal_interval of the first signal: persistence
	// and velocity both qualify again, but the rate limiter must suppress
	// the emission.
	reopenTicks := []struct {
		offset time.Duration
		bps    float64
	}{
		{400 * time.Millisecond, 40},
		{14400 * time.Millisecond, 40},
		{34400 * time.Millisecond, 35},
		{34700 * time.Millisecond, 20},
		{34800 * time.Millisecond, 5},
	}
	var rateLimited *types.Signal
	for _, rt := range reopenTicks {
		sig, err := strat.Process(depthEventForSpreadBps(t, "BTC", rt.bps, lastTick.Add(rt.offset)))
		if err != nil {
			t.Fatalf("rate-limit tick: %v", err)
		}
		if sig != nil {
			rateLimited = sig
		}
	}
	if rateLimited != nil {
		t.Fatalf("expected rate-limited no-signal, got %+v", rateLimited)
	}
}

func TestInvalidSpreadRejected(t *testing.T) {
	strat := New(cfg())
	_, err := strat.Process(types.DepthEvent{
		Symbol: "BAD",
		Bids:   []types.PriceLevel{{Price: 100, Qty: 1}},
		Asks:   []types.PriceLevel{{Price: 99, Qty: 1}},
	})
	if err == nil {
		t.Fatal("expected error for ask <= bid")
	}
}

func TestShortHistoryReturnsNoSignal(t *testing.T) {
	strat := New(cfg())
	sig, err := strat.Process(depthEventForSpreadBps(t, "X", 20, time.Now()))
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if sig != nil {
		t.Fatal("expected no signal with fewer than 3 history points")
	}
}
