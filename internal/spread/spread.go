// Package spread implements the Spread-Liquidity Strategy: a per-symbol
// state machine over rolling spread metrics that detects widening and
// narrowing microstructure events and emits rate-limited buy/sell signals.
//
// The state + cooldown/rate-limit shape follows strategy.FlowTracker's
// toxic-flow detector one-for-one (a rolling window feeding a derived
// score, gated by a last-fired timestamp); the confidence-scoring style
// follows strategy.Maker's linear-combination formulas.
package spread

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"marketpulse/internal/config"
	"marketpulse/internal/ringbuffer"
	"marketpulse/pkg/types"
)

// ErrInvalidSpread is returned when best_ask > best_bid > 0 does not hold.
var ErrInvalidSpread = errors.New("spread: invalid spread metrics")

type symbolState struct {
	history        *ringbuffer.Buffer[types.SpreadMetrics]
	openEvent      *types.WideSpreadEvent
	lastSignalTime time.Time
}

// Strategy owns the spread-history and wide-spread-event state for every
// symbol it observes. As with the other analyzers, state is mutated only by
// the dispatcher worker owning that symbol.
type Strategy struct {
	cfg config.SpreadConfig

	mu    sync.Mutex
	state map[string]*symbolState
}

// New creates a Spread-Liquidity Strategy.
func New(cfg config.SpreadConfig) *Strategy {
	return &Strategy{
		cfg:   cfg,
		state: make(map[string]*symbolState),
	}
}

// BuildMetrics constructs a Spread Metrics record from a depth event and
// validates the best_ask > best_bid > 0 invariant.
func BuildMetrics(evt types.DepthEvent, now time.Time) (types.SpreadMetrics, error) {
	var bestBid, bestAsk float64
	if len(evt.Bids) > 0 {
		bestBid = evt.Bids[0].Price
	}
	if len(evt.Asks) > 0 {
		bestAsk = evt.Asks[0].Price
	}

	if !(bestAsk > bestBid && bestBid > 0) {
		return types.SpreadMetrics{}, fmt.Errorf("%w: bid=%v ask=%v", ErrInvalidSpread, bestBid, bestAsk)
	}

	mid := (bestBid + bestAsk) / 2
	spreadAbs := bestAsk - bestBid
	spreadBps := 10000 * spreadAbs / mid
	spreadPct := 100 * spreadAbs / mid

	bidDepth5 := sumQty(evt.Bids, 5)
	askDepth5 := sumQty(evt.Asks, 5)

	return types.SpreadMetrics{
		Timestamp:  now,
		BestBid:    bestBid,
		BestAsk:    bestAsk,
		Mid:        mid,
		SpreadAbs:  spreadAbs,
		SpreadBps:  spreadBps,
		SpreadPct:  spreadPct,
		BidDepth5:  bidDepth5,
		AskDepth5:  askDepth5,
		TotalDepth: bidDepth5 + askDepth5,
	}, nil
}

func sumQty(levels []types.PriceLevel, k int) float64 {
	if len(levels) < k {
		k = len(levels)
	}
	var sum float64
	for i := 0; i < k; i++ {
		sum += levels[i].Qty
	}
	return sum
}

// Process runs the full §4.5 pipeline for one depth event: build metrics,
// append to history, derive a snapshot, advance the wide-spread state
// machine, and return a signal if one fires.
func (s *Strategy) Process(evt types.DepthEvent) (*types.Signal, error) {
	now := evt.EventTime
	if now.IsZero() {
		now = time.Now()
	}

	m, err := BuildMetrics(evt, now)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.state[evt.Symbol]
	if !ok {
		lookback := s.cfg.LookbackTicks
		if lookback <= 0 {
			lookback = 20
		}
		st = &symbolState{history: ringbuffer.New[types.SpreadMetrics](lookback)}
		s.state[evt.Symbol] = st
	}

	st.history.Push(m)
	if st.history.Len() < 3 {
		return nil, nil
	}

	snap := s.buildSnapshot(st, m)

	return s.advance(evt.Symbol, st, snap, now)
}

func (s *Strategy) buildSnapshot(st *symbolState, current types.SpreadMetrics) types.SpreadSnapshot {
	all := st.history.Snapshot()
	prior := all[:len(all)-1]

	avgSpread := meanSpreadBps(prior)
	spreadRatio := 1.0
	if avgSpread != 0 {
		spreadRatio = current.SpreadBps / avgSpread
	}

	oldest := all[0]
	var velocity float64
	if oldest.SpreadBps != 0 {
		dt := current.Timestamp.Sub(oldest.Timestamp).Seconds()
		if dt != 0 {
			velocity = (current.SpreadBps - oldest.SpreadBps) / oldest.SpreadBps / dt
		}
	}

	avgDepth := meanTotalDepth(prior)
	var depthReductionPct float64
	if avgDepth != 0 {
		depthReductionPct = 1 - current.TotalDepth/avgDepth
	}

	velocityThreshold := s.cfg.VelocityThreshold
	if velocityThreshold <= 0 {
		velocityThreshold = 0.5
	}
	ratioThreshold := s.cfg.SpreadRatioThreshold
	if ratioThreshold <= 0 {
		ratioThreshold = 2.5
	}

	return types.SpreadSnapshot{
		Current:           current,
		SpreadRatio:       spreadRatio,
		SpreadVelocity:    velocity,
		DepthReductionPct: depthReductionPct,
		IsWidening:        velocity > velocityThreshold,
		IsNarrowing:       velocity < -velocityThreshold,
		IsAbnormal:        spreadRatio > ratioThreshold,
	}
}

func meanSpreadBps(metrics []types.SpreadMetrics) float64 {
	if len(metrics) == 0 {
		return 0
	}
	var sum float64
	for _, m := range metrics {
		sum += m.SpreadBps
	}
	return sum / float64(len(metrics))
}

func meanTotalDepth(metrics []types.SpreadMetrics) float64 {
	if len(metrics) == 0 {
		return 0
	}
	var sum float64
	for _, m := range metrics {
		sum += m.TotalDepth
	}
	return sum / float64(len(metrics))
}

// advance runs the wide-spread-event state machine (§4.5 step 4) and the
// independent widening trigger (step 5), returning a signal if either
// fires and passes rate limiting.
func (s *Strategy) advance(symbol string, st *symbolState, snap types.SpreadSnapshot, now time.Time) (*types.Signal, error) {
	spreadThresholdBps := s.cfg.SpreadThresholdBps
	if spreadThresholdBps <= 0 {
		spreadThresholdBps = 10
	}
	ratioThreshold := s.cfg.SpreadRatioThreshold
	if ratioThreshold <= 0 {
		ratioThreshold = 2.5
	}
	persistenceThreshold := s.cfg.PersistenceThreshold
	if persistenceThreshold <= 0 {
		persistenceThreshold = 30 * time.Second
	}

	if st.openEvent == nil && snap.IsAbnormal && snap.Current.SpreadBps > spreadThresholdBps {
		st.openEvent = &types.WideSpreadEvent{StartTime: now, InitialSpreadBps: snap.Current.SpreadBps}
	}

	if st.openEvent != nil {
		persistence := now.Sub(st.openEvent.StartTime)
		if snap.IsNarrowing && snap.SpreadRatio < ratioThreshold && persistence > persistenceThreshold {
			sig, err := s.emitSignal(symbol, st, types.ActionBuy, "narrowing", snap, persistence.Seconds(), now)
			st.openEvent = nil
			return sig, err
		}
	}

	minDepthReduction := s.cfg.MinDepthReductionPct
	if minDepthReduction <= 0 {
		minDepthReduction = 0.5
	}
	if snap.IsWidening && snap.SpreadRatio > 1.2*ratioThreshold && snap.DepthReductionPct > minDepthReduction {
		return s.emitSignal(symbol, st, types.ActionSell, "widening", snap, 0, now)
	}

	return nil, nil
}

// emitSignal implements §4.5 step 6: rate limiting, stop/target derivation,
// and confidence scoring.
func (s *Strategy) emitSignal(symbol string, st *symbolState, action types.Action, kind string, snap types.SpreadSnapshot, persistenceSec float64, now time.Time) (*types.Signal, error) {
	minInterval := s.cfg.MinSignalInterval
	if minInterval <= 0 {
		minInterval = 60 * time.Second
	}
	if !st.lastSignalTime.IsZero() && now.Sub(st.lastSignalTime) < minInterval {
		return nil, nil
	}

	ratioThreshold := s.cfg.SpreadRatioThreshold
	if ratioThreshold <= 0 {
		ratioThreshold = 2.5
	}

	mid := snap.Current.Mid
	atrProxy := 2 * snap.Current.SpreadAbs

	var stopLoss, takeProfit, confidence float64
	base := s.cfg.BaseConfidence
	if base <= 0 {
		base = 0.70
	}

	switch action {
	case types.ActionBuy:
		stopLoss = mid - atrProxy
		takeProfit = mid + 2*atrProxy
		confidence = base + 0.05*(snap.SpreadRatio-ratioThreshold) + minFloat(0.10, persistenceSec/300*0.10)
	case types.ActionSell:
		stopLoss = mid + atrProxy
		takeProfit = mid - 2*atrProxy
		confidence = base + 0.10*absFloat(snap.SpreadVelocity) + 0.15*snap.DepthReductionPct
	}
	confidence = minFloat(confidence, 0.95)

	id, err := uuid.NewV7()
	if err != nil {
		return nil, err
	}

	st.lastSignalTime = now

	return &types.Signal{
		ID:         id.String(),
		StrategyID: "spread-liquidity",
		Symbol:     symbol,
		Action:     action,
		Confidence: confidence,
		Price:      mid,
		StopLoss:   stopLoss,
		TakeProfit: takeProfit,
		Indicators: map[string]float64{
			"spread_ratio":        snap.SpreadRatio,
			"spread_velocity":     snap.SpreadVelocity,
			"depth_reduction_pct": snap.DepthReductionPct,
			"spread_bps":          snap.Current.SpreadBps,
		},
		Metadata: map[string]interface{}{
			"event_kind":  kind,
			"persistence": persistenceSec,
			"best_bid":    snap.Current.BestBid,
			"best_ask":    snap.Current.BestAsk,
		},
		GeneratedAt: now,
	}, nil
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

func absFloat(a float64) float64 {
	if a < 0 {
		return -a
	}
	return a
}
