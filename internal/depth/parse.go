package depth

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"marketpulse/pkg/types"
)

// ParseDepthData converts the wire-format depth payload (price/qty as
// strings) into a typed DepthEvent. Prices and quantities are parsed from
// their wire strings with decimal.Decimal and converted to float64 right
// here, at the boundary into the analytic pipeline; all downstream
// summation and VWAP arithmetic is done in float64.
func ParseDepthData(symbol string, d types.DepthData, traceCtx *types.TraceContext) (types.DepthEvent, error) {
	bids, err := parseLevels(d.Bids)
	if err != nil {
		return types.DepthEvent{}, fmt.Errorf("parse bids: %w", err)
	}
	asks, err := parseLevels(d.Asks)
	if err != nil {
		return types.DepthEvent{}, fmt.Errorf("parse asks: %w", err)
	}

	return types.DepthEvent{
		Symbol:      symbol,
		EventTime:   time.UnixMilli(d.EventTimeMs).UTC(),
		FirstUpdate: d.FirstUpdate,
		LastUpdate:  d.LastUpdate,
		Bids:        bids,
		Asks:        asks,
		TraceCtx:    traceCtx,
	}, nil
}

func parseLevels(raw [][2]string) ([]types.PriceLevel, error) {
	out := make([]types.PriceLevel, 0, len(raw))
	for _, lvl := range raw {
		price, err := decimal.NewFromString(lvl[0])
		if err != nil {
			return nil, fmt.Errorf("price %q: %w", lvl[0], err)
		}
		qty, err := decimal.NewFromString(lvl[1])
		if err != nil {
			return nil, fmt.Errorf("qty %q: %w", lvl[1], err)
		}
		out = append(out, types.PriceLevel{
			Price: price.InexactFloat64(),
			Qty:   qty.InexactFloat64(),
		})
	}
	return out, nil
}
