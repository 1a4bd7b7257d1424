package api

import "marketpulse/pkg/types"

// depthResponse wraps a per-symbol depth metrics lookup.
type depthResponse struct {
	Symbol  string              `json:"symbol"`
	Tracked bool                `json:"tracked"`
	Metrics *types.DepthMetrics `json:"metrics,omitempty"`
}

// errorResponse is the stable shape for 4xx/5xx bodies.
type errorResponse struct {
	Error string `json:"error"`
}

// symbolEntry is one row of the /metrics/all filtered/sorted snapshot.
type symbolEntry struct {
	Symbol    string             `json:"symbol"`
	Metrics   types.DepthMetrics `json:"metrics"`
	Trend     types.Trend        `json:"trend"`
	Liquidity float64            `json:"liquidity"`
}

// allResponse is the paginated /metrics/all payload.
type allResponse struct {
	Total   int           `json:"total"`
	Limit   int           `json:"limit"`
	Offset  int           `json:"offset"`
	Symbols []symbolEntry `json:"symbols"`
}
