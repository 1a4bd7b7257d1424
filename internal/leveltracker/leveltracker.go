// Package leveltracker maintains a per-(symbol, side, price) history of
// observed quantities and detects iceberg patterns: refills, consistently
// sized levels, and long-lived price anchors. The rolling-window-with-
// eviction shape — append, recompute statistics, evict stale entries on a
// cadence — follows strategy.FlowTracker's fills window, generalized from
// one rolling slice per symbol to a per-level history keyed by price.
package leveltracker

import (
	"math"
	"sync"
	"time"

	"marketpulse/internal/config"
	"marketpulse/internal/ringbuffer"
	"marketpulse/pkg/types"
)

const snapshotCapacity = 100

// levelHistory is the mutable per-level record described in spec.md §3.
type levelHistory struct {
	snapshots      *ringbuffer.Buffer[types.LevelSnapshot]
	firstSeen      time.Time
	lastSeen       time.Time
	appearances    int
	refillCount    int
	lastRefillTime time.Time
	avgRefillSpeed float64
	mean           float64
	stdDev         float64
	consistent     bool
}

type levelKey struct {
	price float64
	side  types.Side
}

// Tracker owns the level histories for every symbol it has observed.
// Analytic state here is mutated only by the dispatcher worker that owns
// the symbol (single-writer invariant). A single Tracker is shared by all
// workers; its mutex guards the per-symbol map, so it is safe for
// concurrent use.
type Tracker struct {
	cfg config.LevelConfig

	mu      sync.Mutex
	symbols map[string]map[levelKey]*levelHistory
}

// New creates an Order-Book Level Tracker.
func New(cfg config.LevelConfig) *Tracker {
	return &Tracker{
		cfg:     cfg,
		symbols: make(map[string]map[levelKey]*levelHistory),
	}
}

// Observe updates the level history for every bid/ask level in a depth
// snapshot, then evicts levels that have gone stale.
func (t *Tracker) Observe(evt types.DepthEvent) {
	now := evt.EventTime
	if now.IsZero() {
		now = time.Now()
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	levels, ok := t.symbols[evt.Symbol]
	if !ok {
		levels = make(map[levelKey]*levelHistory)
		t.symbols[evt.Symbol] = levels
	}

	for _, b := range evt.Bids {
		t.touchLocked(levels, levelKey{price: b.Price, side: types.Buy}, b.Qty, now)
	}
	for _, a := range evt.Asks {
		t.touchLocked(levels, levelKey{price: a.Price, side: types.Sell}, a.Qty, now)
	}

	t.evictStaleLocked(levels, now)
}

func (t *Tracker) touchLocked(levels map[levelKey]*levelHistory, key levelKey, qty float64, now time.Time) {
	h, ok := levels[key]
	if !ok {
		h = &levelHistory{
			snapshots: ringbuffer.New[types.LevelSnapshot](snapshotCapacity),
			firstSeen: now,
		}
		levels[key] = h
	}

	h.snapshots.Push(types.LevelSnapshot{Qty: qty, Timestamp: now})
	h.appearances++
	h.lastSeen = now

	t.detectRefillLocked(h, now)
	t.recomputeStatsLocked(h)
}

// detectRefillLocked implements §4.4 step 3: refill detection on the last
// three snapshots.
func (t *Tracker) detectRefillLocked(h *levelHistory, now time.Time) {
	n := h.snapshots.Len()
	if n < 3 {
		return
	}
	v0 := h.snapshots.At(n - 3)
	v1 := h.snapshots.At(n - 2)
	v2 := h.snapshots.At(n - 1)

	threshold := t.cfg.RefillSpeedThreshold
	if threshold <= 0 {
		threshold = 5 * time.Second
	}

	if v1.Qty < 0.5*v0.Qty && v2.Qty > 0.8*v0.Qty && v2.Timestamp.Sub(v0.Timestamp) < threshold {
		h.refillCount++
		h.lastRefillTime = v2.Timestamp
		if h.refillCount > 1 {
			h.avgRefillSpeed = now.Sub(h.firstSeen).Seconds() / float64(h.refillCount)
		}
	}
}

// recomputeStatsLocked implements §4.4 step 4: mean/population-stddev of
// qty, and the consistent-volume flag.
func (t *Tracker) recomputeStatsLocked(h *levelHistory) {
	if h.snapshots.Len() < 2 {
		return
	}

	var sum float64
	h.snapshots.Each(func(s types.LevelSnapshot) { sum += s.Qty })
	n := float64(h.snapshots.Len())
	mean := sum / n

	var variance float64
	h.snapshots.Each(func(s types.LevelSnapshot) {
		d := s.Qty - mean
		variance += d * d
	})
	variance /= n
	stdDev := math.Sqrt(variance)

	h.mean = mean
	h.stdDev = stdDev

	consistencyThreshold := t.cfg.ConsistencyThreshold
	if consistencyThreshold <= 0 {
		consistencyThreshold = 0.1
	}
	h.consistent = mean > 0 && (stdDev/mean) < consistencyThreshold
}

// evictStaleLocked removes levels whose last_seen predates history_window.
func (t *Tracker) evictStaleLocked(levels map[levelKey]*levelHistory, now time.Time) {
	window := t.cfg.HistoryWindow
	if window <= 0 {
		window = 300 * time.Second
	}
	cutoff := now.Add(-window)
	for key, h := range levels {
		if h.lastSeen.Before(cutoff) {
			delete(levels, key)
		}
	}
}

// DetectIcebergs implements §4.4's pattern detection: for every level within
// proximity_pct of current_price, evaluate refill / consistent-size /
// anchor in priority order and return the first match.
func (t *Tracker) DetectIcebergs(symbol string, currentPrice, proximityPct float64) []types.IcebergPattern {
	minRefillCount := t.cfg.MinRefillCount
	if minRefillCount <= 0 {
		minRefillCount = 3
	}

	lo := currentPrice - currentPrice*proximityPct/100
	hi := currentPrice + currentPrice*proximityPct/100

	t.mu.Lock()
	defer t.mu.Unlock()

	levels, ok := t.symbols[symbol]
	if !ok {
		return nil
	}

	now := time.Now()
	var patterns []types.IcebergPattern
	for key, h := range levels {
		if key.price < lo || key.price > hi {
			continue
		}

		persistence := h.lastSeen.Sub(h.firstSeen).Seconds()
		consistencyScore := consistencyScore(h.mean, h.stdDev)

		switch {
		case h.refillCount >= minRefillCount:
			patterns = append(patterns, types.IcebergPattern{
				Symbol:           symbol,
				Price:            key.price,
				Side:             key.side,
				RefillCount:      h.refillCount,
				AvgRefillSpeed:   h.avgRefillSpeed,
				ConsistencyScore: consistencyScore,
				PersistenceSec:   persistence,
				Confidence:       math.Min(0.85, 0.65+0.05*float64(h.refillCount)),
				Kind:             types.IcebergRefill,
				DetectedAt:       now,
			})
		case h.consistent && persistence > 120:
			patterns = append(patterns, types.IcebergPattern{
				Symbol:           symbol,
				Price:            key.price,
				Side:             key.side,
				RefillCount:      h.refillCount,
				AvgRefillSpeed:   h.avgRefillSpeed,
				ConsistencyScore: consistencyScore,
				PersistenceSec:   persistence,
				Confidence:       0.70,
				Kind:             types.IcebergConsistentSize,
				DetectedAt:       now,
			})
		case persistence > 180:
			patterns = append(patterns, types.IcebergPattern{
				Symbol:           symbol,
				Price:            key.price,
				Side:             key.side,
				RefillCount:      h.refillCount,
				AvgRefillSpeed:   h.avgRefillSpeed,
				ConsistencyScore: consistencyScore,
				PersistenceSec:   persistence,
				Confidence:       0.75,
				Kind:             types.IcebergAnchor,
				DetectedAt:       now,
			})
		}
	}

	return patterns
}

func consistencyScore(mean, stdDev float64) float64 {
	if mean == 0 {
		return 0
	}
	score := 1 - stdDev/mean
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}
