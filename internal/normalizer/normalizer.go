// Package normalizer converts a strategy Signal into a downstream Trade
// Order envelope, assigning a time-sortable order id and propagating the
// signal's distributed trace context onto the order so the downstream
// executor can continue the same trace.
package normalizer

import (
	"context"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/propagation"

	"marketpulse/pkg/types"
)

// Normalize translates a Signal into a Trade Order. The order id is a
// UUIDv7 — time-sortable and collision-safe at the rates this pipeline
// operates under, the Go-ecosystem analogue of a ULID.
func Normalize(ctx context.Context, sig types.Signal) (types.TradeOrder, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return types.TradeOrder{}, err
	}

	side := types.Buy
	positionType := types.PositionLong
	if sig.Action == types.ActionSell {
		side = types.Sell
		positionType = types.PositionShort
	}

	order := types.TradeOrder{
		OrderID:          id.String(),
		Symbol:           sig.Symbol,
		Side:             side,
		Type:             types.OrderTypeMarket,
		Quantity:         0, // downstream sizes the order
		PositionType:     positionType,
		SourceStrategyID: sig.StrategyID,
		SourceSignalID:   sig.ID,
		Confidence:       sig.Confidence,
		GeneratedAt:      sig.GeneratedAt,
	}

	if tc := injectTraceContext(ctx); tc != nil {
		order.OtelTraceContext = tc
	} else if sig.TraceCtx != nil {
		order.OtelTraceContext = sig.TraceCtx
	}

	return order, nil
}

// injectTraceContext reads the active span context from ctx (if any) and
// serializes it as a W3C traceparent, to be carried under the order's
// _otel_trace_context envelope key.
func injectTraceContext(ctx context.Context) *types.TraceContext {
	carrier := propagation.MapCarrier{}
	propagation.TraceContext{}.Inject(ctx, carrier)

	tp, ok := carrier["traceparent"]
	if !ok || tp == "" {
		return nil
	}
	return &types.TraceContext{Traceparent: tp}
}
