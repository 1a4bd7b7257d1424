// Package depth computes per-symbol order-book depth metrics — volumes,
// imbalance, buy/sell/net pressure, spread, VWAP, and strongest levels — and
// retains rolling pressure/imbalance histories for trend queries.
//
// The aggregation/summary shape (mutex-guarded map, periodic sweep, derived
// cross-entity summary) follows the teacher's risk.Manager; the per-symbol
// record shape follows market.Book's mutable-struct-with-derived-fields
// pattern, generalized from one market to many.
package depth

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"

	"marketpulse/internal/config"
	"marketpulse/internal/ringbuffer"
	"marketpulse/pkg/types"
)

// ErrBadDepth is returned when a depth event fails the ordering/positivity
// validation in step 1 of the analyzer contract.
var ErrBadDepth = errors.New("depth: bad depth event")

const historyCapacity = 900

var timeframeWindows = map[string]int{
	"1m":  60,
	"5m":  300,
	"15m": 900,
}

type symbolRecord struct {
	metrics       types.DepthMetrics
	lastUpdate    time.Time
	pressureHist  *ringbuffer.Buffer[types.PressurePoint]
	imbalanceHist *ringbuffer.Buffer[types.PressurePoint]
}

// Analyzer computes and retains depth metrics for every tracked symbol.
// Writes are expected to come from exactly one dispatcher worker per symbol
// (the single-writer invariant); Analyzer itself guards the shared map with
// a mutex so the read-only HTTP surface can cross that ownership boundary
// safely, matching §5's store-release/load-acquire requirement.
type Analyzer struct {
	cfg    config.DepthConfig
	logger *slog.Logger

	mu        sync.RWMutex
	symbols   map[string]*symbolRecord
	tickCount int
}

// NewAnalyzer creates a Depth Analyzer.
func NewAnalyzer(cfg config.DepthConfig, logger *slog.Logger) *Analyzer {
	return &Analyzer{
		cfg:     cfg,
		logger:  logger.With("component", "depth"),
		symbols: make(map[string]*symbolRecord),
	}
}

// Process computes a DepthMetrics record for one depth event, updates the
// rolling pressure/imbalance histories, and stores the result as the
// symbol's current record.
func (a *Analyzer) Process(evt types.DepthEvent) (types.DepthMetrics, error) {
	if err := validateOrdering(evt.Bids, evt.Asks); err != nil {
		return types.DepthMetrics{}, fmt.Errorf("%w: %s: %v", ErrBadDepth, evt.Symbol, err)
	}

	now := time.Now()
	m := computeMetrics(evt, now)

	a.mu.Lock()
	rec, ok := a.symbols[evt.Symbol]
	if !ok {
		rec = &symbolRecord{
			pressureHist:  ringbuffer.New[types.PressurePoint](historyCapacity),
			imbalanceHist: ringbuffer.New[types.PressurePoint](historyCapacity),
		}
		a.symbols[evt.Symbol] = rec
	}
	rec.metrics = m
	rec.lastUpdate = now
	rec.pressureHist.Push(types.PressurePoint{Timestamp: m.Timestamp, Value: m.NetPressure})
	rec.imbalanceHist.Push(types.PressurePoint{Timestamp: m.Timestamp, Value: m.ImbalanceRatio})
	a.tickCount++
	shouldSweep := a.tickCount%100 == 0
	a.mu.Unlock()

	if shouldSweep {
		a.evictExpired()
	}

	return m, nil
}

// validateOrdering checks step 1 of the Depth Analyzer contract: bids
// strictly descending, asks strictly ascending, all prices strictly
// positive.
func validateOrdering(bids, asks []types.PriceLevel) error {
	for _, lvl := range bids {
		if lvl.Price <= 0 {
			return fmt.Errorf("non-positive bid price %v", lvl.Price)
		}
	}
	for _, lvl := range asks {
		if lvl.Price <= 0 {
			return fmt.Errorf("non-positive ask price %v", lvl.Price)
		}
	}
	for i := 1; i < len(bids); i++ {
		if bids[i].Price >= bids[i-1].Price {
			return fmt.Errorf("bids not strictly descending at index %d", i)
		}
	}
	for i := 1; i < len(asks); i++ {
		if asks[i].Price <= asks[i-1].Price {
			return fmt.Errorf("asks not strictly ascending at index %d", i)
		}
	}
	return nil
}

// computeMetrics implements steps 2-8 of §4.3.
func computeMetrics(evt types.DepthEvent, now time.Time) types.DepthMetrics {
	var bidVolume, askVolume float64
	for _, lvl := range evt.Bids {
		bidVolume += lvl.Qty
	}
	for _, lvl := range evt.Asks {
		askVolume += lvl.Qty
	}
	total := bidVolume + askVolume

	var imbalanceRatio, buyPressure, sellPressure float64
	if total > 0 {
		imbalanceRatio = (bidVolume - askVolume) / total
		buyPressure = 100 * bidVolume / total
		sellPressure = 100 * askVolume / total
	}
	netPressure := buyPressure - sellPressure

	bidDepth5 := depthAtK(evt.Bids, 5)
	bidDepth10 := depthAtK(evt.Bids, 10)
	askDepth5 := depthAtK(evt.Asks, 5)
	askDepth10 := depthAtK(evt.Asks, 10)

	var bestBid, bestAsk float64
	if len(evt.Bids) > 0 {
		bestBid = evt.Bids[0].Price
	}
	if len(evt.Asks) > 0 {
		bestAsk = evt.Asks[0].Price
	}

	var spreadAbs, mid, spreadBps float64
	if bestBid > 0 && bestAsk > 0 {
		spreadAbs = bestAsk - bestBid
	}
	mid = (bestBid + bestAsk) / 2
	if mid > 0 {
		spreadBps = 10000 * spreadAbs / mid
	}

	bidVWAP := vwap(evt.Bids)
	askVWAP := vwap(evt.Asks)

	strongestBid := strongestLevel(evt.Bids)
	strongestAsk := strongestLevel(evt.Asks)

	return types.DepthMetrics{
		Symbol:           evt.Symbol,
		Timestamp:        now,
		BidVolume:        bidVolume,
		AskVolume:        askVolume,
		TotalVolume:      total,
		ImbalanceRatio:   imbalanceRatio,
		ImbalancePercent: 100 * imbalanceRatio,
		BuyPressure:      buyPressure,
		SellPressure:     sellPressure,
		NetPressure:      netPressure,
		BidDepth5:        bidDepth5,
		AskDepth5:        askDepth5,
		BidDepth10:       bidDepth10,
		AskDepth10:       askDepth10,
		BestBid:          bestBid,
		BestAsk:          bestAsk,
		SpreadAbs:        spreadAbs,
		SpreadBps:        spreadBps,
		Mid:              mid,
		BidVWAP:          bidVWAP,
		AskVWAP:          askVWAP,
		BidLevelCount:    len(evt.Bids),
		AskLevelCount:    len(evt.Asks),
		StrongestBid:     strongestBid,
		StrongestAsk:     strongestAsk,
	}
}

func depthAtK(levels []types.PriceLevel, k int) float64 {
	if len(levels) < k {
		k = len(levels)
	}
	var sum float64
	for i := 0; i < k; i++ {
		sum += levels[i].Qty
	}
	return sum
}

func vwap(levels []types.PriceLevel) float64 {
	var pq, q float64
	for _, lvl := range levels {
		pq += lvl.Price * lvl.Qty
		q += lvl.Qty
	}
	if q == 0 {
		return 0
	}
	return pq / q
}

func strongestLevel(levels []types.PriceLevel) *types.PriceLevel {
	if len(levels) == 0 {
		return nil
	}
	best := levels[0]
	for _, lvl := range levels[1:] {
		if lvl.Qty > best.Qty {
			best = lvl
		}
	}
	return &best
}

// GetCurrent returns the latest metrics for a symbol, or false if none are
// tracked (or the symbol has never been observed).
func (a *Analyzer) GetCurrent(symbol string) (types.DepthMetrics, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	rec, ok := a.symbols[symbol]
	if !ok {
		return types.DepthMetrics{}, false
	}
	return rec.metrics, true
}

// GetAll returns a snapshot of every currently tracked symbol's metrics.
func (a *Analyzer) GetAll() map[string]types.DepthMetrics {
	a.mu.RLock()
	defer a.mu.RUnlock()

	out := make(map[string]types.DepthMetrics, len(a.symbols))
	for sym, rec := range a.symbols {
		out[sym] = rec.metrics
	}
	return out
}

// ErrUnknownTimeframe is returned by GetPressureHistory for an unrecognized
// timeframe string.
var ErrUnknownTimeframe = errors.New("depth: unknown timeframe")

// GetPressureHistory returns the trimmed pressure/imbalance history for a
// symbol over the requested timeframe, along with summary statistics and a
// trend classification.
func (a *Analyzer) GetPressureHistory(symbol, timeframe string) (types.PressureSummary, error) {
	n, ok := timeframeWindows[timeframe]
	if !ok {
		return types.PressureSummary{}, fmt.Errorf("%w: %q", ErrUnknownTimeframe, timeframe)
	}

	a.mu.RLock()
	rec, ok := a.symbols[symbol]
	if !ok {
		a.mu.RUnlock()
		return types.PressureSummary{Symbol: symbol, Timeframe: timeframe}, nil
	}
	pressure := rec.pressureHist.Last(n)
	imbalance := rec.imbalanceHist.Last(n)
	a.mu.RUnlock()

	mean, max, min := stats(pressure)
	trend, strength := classifyTrend(pressure)

	return types.PressureSummary{
		Symbol:    symbol,
		Timeframe: timeframe,
		Pressure:  pressure,
		Imbalance: imbalance,
		Mean:      mean,
		Max:       max,
		Min:       min,
		Trend:     trend,
		Strength:  strength,
	}, nil
}

func stats(points []types.PressurePoint) (mean, max, min float64) {
	if len(points) == 0 {
		return 0, 0, 0
	}
	max, min = points[0].Value, points[0].Value
	var sum float64
	for _, p := range points {
		sum += p.Value
		if p.Value > max {
			max = p.Value
		}
		if p.Value < min {
			min = p.Value
		}
	}
	return sum / float64(len(points)), max, min
}

// classifyTrend implements the last-10-points trend classification from
// §4.3's GetPressureHistory.
func classifyTrend(points []types.PressurePoint) (types.Trend, float64) {
	last := points
	if len(last) > 10 {
		last = last[len(last)-10:]
	}
	if len(last) < 10 {
		return types.TrendNeutral, 0.5
	}

	var sum float64
	for _, p := range last {
		sum += p.Value
	}
	mean := sum / float64(len(last))

	switch {
	case mean > 20:
		return types.TrendBullish, math.Min(1, mean/50)
	case mean < -20:
		return types.TrendBearish, math.Min(1, math.Abs(mean)/50)
	default:
		return types.TrendNeutral, 1 - math.Abs(mean)/20
	}
}

// GetMarketSummary returns cross-symbol aggregate sentiment and liquidity.
func (a *Analyzer) GetMarketSummary() types.MarketSummary {
	a.mu.RLock()
	defer a.mu.RUnlock()

	var (
		bullish, bearish, neutral           int
		sumNetPressure, sumImbalance        float64
		sumSpreadBps, totalLiquidity        float64
		buyScores, sellScores               []types.SymbolScore
	)

	for sym, rec := range a.symbols {
		m := rec.metrics
		switch {
		case m.NetPressure > a.cfg.TrendThreshold:
			bullish++
		case m.NetPressure < -a.cfg.TrendThreshold:
			bearish++
		default:
			neutral++
		}

		sumNetPressure += m.NetPressure
		sumImbalance += m.ImbalanceRatio
		sumSpreadBps += m.SpreadBps
		totalLiquidity += m.TotalVolume

		buyScores = append(buyScores, types.SymbolScore{Symbol: sym, Value: m.BuyPressure})
		sellScores = append(sellScores, types.SymbolScore{Symbol: sym, Value: m.SellPressure})
	}

	n := len(a.symbols)
	var meanNet, meanImb, meanSpread float64
	if n > 0 {
		meanNet = sumNetPressure / float64(n)
		meanImb = sumImbalance / float64(n)
		meanSpread = sumSpreadBps / float64(n)
	}

	topK := a.cfg.TopK
	if topK <= 0 {
		topK = 5
	}

	return types.MarketSummary{
		BullishCount:    bullish,
		BearishCount:    bearish,
		NeutralCount:    neutral,
		MeanNetPressure: meanNet,
		MeanImbalance:   meanImb,
		MeanSpreadBps:   meanSpread,
		TotalLiquidity:  totalLiquidity,
		TopBuyPressure:  topN(buyScores, topK),
		TopSellPressure: topN(sellScores, topK),
	}
}

func topN(scores []types.SymbolScore, n int) []types.SymbolScore {
	sort.Slice(scores, func(i, j int) bool { return scores[i].Value > scores[j].Value })
	if n > len(scores) {
		n = len(scores)
	}
	out := make([]types.SymbolScore, n)
	copy(out, scores[:n])
	return out
}

// evictExpired removes any symbol whose last update age exceeds the
// configured TTL. Process calls it whenever the number of processed ticks
// (across all symbols) reaches a multiple of 100; there is no timer-driven
// sweep.
func (a *Analyzer) evictExpired() {
	ttl := a.cfg.MetricsTTL
	if ttl <= 0 {
		ttl = 300 * time.Second
	}
	cutoff := time.Now().Add(-ttl)

	a.mu.Lock()
	defer a.mu.Unlock()
	for sym, rec := range a.symbols {
		if rec.lastUpdate.Before(cutoff) {
			delete(a.symbols, sym)
			a.logger.Debug("evicted stale symbol", "symbol", sym, "last_update", rec.lastUpdate)
		}
	}
}
