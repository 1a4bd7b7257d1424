package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"marketpulse/internal/config"
	"marketpulse/pkg/types"
)

// Handlers holds all HTTP handler dependencies.
type Handlers struct {
	provider MetricsProvider
	depthCfg config.DepthConfig
	logger   *slog.Logger
}

// NewHandlers creates a new handlers instance.
func NewHandlers(provider MetricsProvider, depthCfg config.DepthConfig, logger *slog.Logger) *Handlers {
	return &Handlers{
		provider: provider,
		depthCfg: depthCfg,
		logger:   logger.With("component", "api-handlers"),
	}
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// HandleHealth returns a simple liveness response.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// HandleDepth serves GET /metrics/depth/{symbol}.
func (h *Handlers) HandleDepth(w http.ResponseWriter, r *http.Request) {
	if h.provider == nil {
		writeError(w, http.StatusServiceUnavailable, "depth analyzer not initialized")
		return
	}

	symbol := strings.ToUpper(strings.TrimPrefix(r.URL.Path, "/metrics/depth/"))
	if symbol == "" {
		writeError(w, http.StatusBadRequest, "symbol is required")
		return
	}

	metrics, ok := h.provider.GetCurrent(symbol)
	if !ok {
		writeJSON(w, http.StatusOK, depthResponse{Symbol: symbol, Tracked: false})
		return
	}
	writeJSON(w, http.StatusOK, depthResponse{Symbol: symbol, Tracked: true, Metrics: &metrics})
}

// HandlePressure serves GET /metrics/pressure/{symbol}?timeframe=1m|5m|15m.
func (h *Handlers) HandlePressure(w http.ResponseWriter, r *http.Request) {
	if h.provider == nil {
		writeError(w, http.StatusServiceUnavailable, "depth analyzer not initialized")
		return
	}

	symbol := strings.ToUpper(strings.TrimPrefix(r.URL.Path, "/metrics/pressure/"))
	if symbol == "" {
		writeError(w, http.StatusBadRequest, "symbol is required")
		return
	}

	timeframe := r.URL.Query().Get("timeframe")
	if timeframe == "" {
		timeframe = "5m"
	}

	summary, err := h.provider.GetPressureHistory(symbol, timeframe)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	const maxPoints = 100
	if len(summary.Pressure) > maxPoints {
		summary.Pressure = summary.Pressure[len(summary.Pressure)-maxPoints:]
	}
	if len(summary.Imbalance) > maxPoints {
		summary.Imbalance = summary.Imbalance[len(summary.Imbalance)-maxPoints:]
	}

	writeJSON(w, http.StatusOK, summary)
}

// HandleSummary serves GET /metrics/summary.
func (h *Handlers) HandleSummary(w http.ResponseWriter, r *http.Request) {
	if h.provider == nil {
		writeError(w, http.StatusServiceUnavailable, "depth analyzer not initialized")
		return
	}
	writeJSON(w, http.StatusOK, h.provider.GetMarketSummary())
}

// HandleAll serves GET /metrics/all, with filtering, sorting, and pagination
// per the query parameters in §6.
func (h *Handlers) HandleAll(w http.ResponseWriter, r *http.Request) {
	if h.provider == nil {
		writeError(w, http.StatusServiceUnavailable, "depth analyzer not initialized")
		return
	}

	q := r.URL.Query()
	all := h.provider.GetAll()

	var symbolFilter map[string]bool
	if raw := q.Get("symbols"); raw != "" {
		symbolFilter = make(map[string]bool)
		for _, s := range strings.Split(raw, ",") {
			symbolFilter[strings.ToUpper(strings.TrimSpace(s))] = true
		}
	}

	minPressure, hasMin := parseFloatParam(q.Get("min_pressure"))
	maxPressure, hasMax := parseFloatParam(q.Get("max_pressure"))
	trendFilter := types.Trend(strings.ToLower(q.Get("trend")))

	threshold := h.depthCfg.TrendThreshold
	if threshold <= 0 {
		threshold = 20
	}

	entries := make([]symbolEntry, 0, len(all))
	for symbol, m := range all {
		if symbolFilter != nil && !symbolFilter[symbol] {
			continue
		}
		if hasMin && m.NetPressure < minPressure {
			continue
		}
		if hasMax && m.NetPressure > maxPressure {
			continue
		}

		trend := trendOf(m.NetPressure, threshold)
		if trendFilter != "" && trend != trendFilter {
			continue
		}

		entries = append(entries, symbolEntry{
			Symbol:    symbol,
			Metrics:   m,
			Trend:     trend,
			Liquidity: m.TotalVolume,
		})
	}

	sortBy := q.Get("sort_by")
	if sortBy == "" {
		sortBy = "symbol"
	}
	sortOrder := q.Get("sort_order")
	if sortOrder == "" {
		sortOrder = "asc"
	}
	sortEntries(entries, sortBy, sortOrder)

	limit := 50
	if raw := q.Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			limit = n
		}
	}
	if limit < 1 {
		limit = 1
	}
	if limit > 200 {
		limit = 200
	}

	offset := 0
	if raw := q.Get("offset"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n >= 0 {
			offset = n
		}
	}

	total := len(entries)
	page := paginate(entries, offset, limit)

	writeJSON(w, http.StatusOK, allResponse{
		Total:   total,
		Limit:   limit,
		Offset:  offset,
		Symbols: page,
	})
}

func parseFloatParam(raw string) (float64, bool) {
	if raw == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

func trendOf(netPressure, threshold float64) types.Trend {
	switch {
	case netPressure > threshold:
		return types.TrendBullish
	case netPressure < -threshold:
		return types.TrendBearish
	default:
		return types.TrendNeutral
	}
}

func sortEntries(entries []symbolEntry, sortBy, sortOrder string) {
	less := func(i, j int) bool {
		a, b := entries[i], entries[j]
		switch sortBy {
		case "pressure":
			return a.Metrics.NetPressure < b.Metrics.NetPressure
		case "imbalance":
			return a.Metrics.ImbalanceRatio < b.Metrics.ImbalanceRatio
		case "liquidity":
			return a.Liquidity < b.Liquidity
		default:
			return a.Symbol < b.Symbol
		}
	}
	sort.Slice(entries, func(i, j int) bool {
		if sortOrder == "desc" {
			return less(j, i)
		}
		return less(i, j)
	})
}

func paginate(entries []symbolEntry, offset, limit int) []symbolEntry {
	if offset >= len(entries) {
		return []symbolEntry{}
	}
	end := offset + limit
	if end > len(entries) {
		end = len(entries)
	}
	return entries[offset:end]
}
