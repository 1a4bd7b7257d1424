package api

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"marketpulse/internal/config"
	"marketpulse/pkg/types"
)

type fakeProvider struct {
	current map[string]types.DepthMetrics
	summary types.MarketSummary
	pressureErr error
}

func (f *fakeProvider) GetCurrent(symbol string) (types.DepthMetrics, bool) {
	m, ok := f.current[symbol]
	return m, ok
}

func (f *fakeProvider) GetAll() map[string]types.DepthMetrics {
	return f.current
}

func (f *fakeProvider) GetPressureHistory(symbol, timeframe string) (types.PressureSummary, error) {
	if f.pressureErr != nil {
		return types.PressureSummary{}, f.pressureErr
	}
	points := make([]types.PressurePoint, 150)
	for i := range points {
		points[i] = types.PressurePoint{Value: float64(i)}
	}
	return types.PressureSummary{Symbol: symbol, Timeframe: timeframe, Pressure: points, Imbalance: points}, nil
}

func (f *fakeProvider) GetMarketSummary() types.MarketSummary {
	return f.summary
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestHandleDepthTracked(t *testing.T) {
	p := &fakeProvider{current: map[string]types.DepthMetrics{"BTC": {Symbol: "BTC", BestBid: 100}}}
	h := NewHandlers(p, config.DepthConfig{}, testLogger())

	req := httptest.NewRequest(http.MethodGet, "/metrics/depth/BTC", nil)
	rr := httptest.NewRecorder()
	h.HandleDepth(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	var body depthResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !body.Tracked || body.Metrics.BestBid != 100 {
		t.Errorf("body = %+v, want tracked with best_bid 100", body)
	}
}

func TestHandleDepthNotTracked(t *testing.T) {
	p := &fakeProvider{current: map[string]types.DepthMetrics{}}
	h := NewHandlers(p, config.DepthConfig{}, testLogger())

	req := httptest.NewRequest(http.MethodGet, "/metrics/depth/ETH", nil)
	rr := httptest.NewRecorder()
	h.HandleDepth(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	var body depthResponse
	_ = json.Unmarshal(rr.Body.Bytes(), &body)
	if body.Tracked {
		t.Error("expected not-tracked marker")
	}
}

func TestHandleDepthUninitializedProvider(t *testing.T) {
	h := NewHandlers(nil, config.DepthConfig{}, testLogger())

	req := httptest.NewRequest(http.MethodGet, "/metrics/depth/BTC", nil)
	rr := httptest.NewRecorder()
	h.HandleDepth(rr, req)

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rr.Code)
	}
}

func TestHandlePressureTrimsTo100Points(t *testing.T) {
	p := &fakeProvider{current: map[string]types.DepthMetrics{}}
	h := NewHandlers(p, config.DepthConfig{}, testLogger())

	req := httptest.NewRequest(http.MethodGet, "/metrics/pressure/BTC?timeframe=5m", nil)
	rr := httptest.NewRecorder()
	h.HandlePressure(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	var body types.PressureSummary
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Pressure) != 100 {
		t.Errorf("len(Pressure) = %d, want 100", len(body.Pressure))
	}
}

func TestHandlePressureInvalidTimeframe(t *testing.T) {
	p := &fakeProvider{pressureErr: ErrTestBadTimeframe}
	h := NewHandlers(p, config.DepthConfig{}, testLogger())

	req := httptest.NewRequest(http.MethodGet, "/metrics/pressure/BTC?timeframe=bogus", nil)
	rr := httptest.NewRecorder()
	h.HandlePressure(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rr.Code)
	}
}

func TestHandleSummary(t *testing.T) {
	p := &fakeProvider{summary: types.MarketSummary{BullishCount: 3}}
	h := NewHandlers(p, config.DepthConfig{}, testLogger())

	req := httptest.NewRequest(http.MethodGet, "/metrics/summary", nil)
	rr := httptest.NewRecorder()
	h.HandleSummary(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	var body types.MarketSummary
	_ = json.Unmarshal(rr.Body.Bytes(), &body)
	if body.BullishCount != 3 {
		t.Errorf("BullishCount = %d, want 3", body.BullishCount)
	}
}

func TestHandleAllFiltersSortsAndPaginates(t *testing.T) {
	p := &fakeProvider{current: map[string]types.DepthMetrics{
		"AAA": {Symbol: "AAA", NetPressure: 50, TotalVolume: 10},
		"BBB": {Symbol: "BBB", NetPressure: -50, TotalVolume: 20},
		"CCC": {Symbol: "CCC", NetPressure: 0, TotalVolume: 5},
	}}
	h := NewHandlers(p, config.DepthConfig{TrendThreshold: 20}, testLogger())

	req := httptest.NewRequest(http.MethodGet, "/metrics/all?trend=bullish", nil)
	rr := httptest.NewRecorder()
	h.HandleAll(rr, req)

	var body allResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Total != 1 || len(body.Symbols) != 1 || body.Symbols[0].Symbol != "AAA" {
		t.Fatalf("body = %+v, want exactly AAA", body)
	}
}

func TestHandleAllPagination(t *testing.T) {
	p := &fakeProvider{current: map[string]types.DepthMetrics{
		"AAA": {Symbol: "AAA"}, "BBB": {Symbol: "BBB"}, "CCC": {Symbol: "CCC"},
	}}
	h := NewHandlers(p, config.DepthConfig{}, testLogger())

	req := httptest.NewRequest(http.MethodGet, "/metrics/all?limit=1&offset=1&sort_by=symbol", nil)
	rr := httptest.NewRecorder()
	h.HandleAll(rr, req)

	var body allResponse
	_ = json.Unmarshal(rr.Body.Bytes(), &body)
	if body.Total != 3 || len(body.Symbols) != 1 || body.Symbols[0].Symbol != "BBB" {
		t.Fatalf("body = %+v, want total=3 page=[BBB]", body)
	}
}

// ErrTestBadTimeframe stands in for depth.ErrUnknownTimeframe without
// importing the depth package, keeping this test package dependency-free
// of the analyzer implementation.
var ErrTestBadTimeframe = errUnknownTimeframeForTest{}

type errUnknownTimeframeForTest struct{}

func (errUnknownTimeframeForTest) Error() string { return "unknown timeframe" }
