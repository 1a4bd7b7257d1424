// Package tracing wires up the process-wide OpenTelemetry TracerProvider.
// It models the "global module state → explicit Init/Shutdown lifecycle"
// guidance: nothing is initialized implicitly. Init installs the provider
// as otel's global tracer provider, which the consumer's otel.Tracer picks
// up; the caller owns the returned *Provider and calls Shutdown on it.
package tracing

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// DefaultFlushDeadline is the shutdown flush deadline spec.md §5 requires
// for telemetry providers.
const DefaultFlushDeadline = 5 * time.Second

// Provider owns the process-wide TracerProvider and its shutdown deadline.
type Provider struct {
	tp       *sdktrace.TracerProvider
	deadline time.Duration
}

// Config controls tracer construction.
type Config struct {
	ServiceName   string
	SampleRatio   float64
	FlushDeadline time.Duration
}

// Init constructs and installs a TracerProvider as the global otel tracer
// provider, and installs a W3C trace-context propagator as the global
// propagator. The consumer and the normalizer use propagation.TraceContext
// directly to extract and inject context, so they do not depend on it.
func Init(cfg Config) (*Provider, error) {
	if cfg.SampleRatio <= 0 {
		cfg.SampleRatio = 1.0
	}
	if cfg.FlushDeadline <= 0 {
		cfg.FlushDeadline = DefaultFlushDeadline
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.TraceIDRatioBased(cfg.SampleRatio)),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})

	return &Provider{tp: tp, deadline: cfg.FlushDeadline}, nil
}

// Tracer returns a named tracer from the process-wide provider.
func (p *Provider) Tracer(name string) trace.Tracer {
	return p.tp.Tracer(name)
}

// Shutdown flushes pending spans and releases resources, honoring the
// configured flush deadline.
func (p *Provider) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, p.deadline)
	defer cancel()

	if err := p.tp.Shutdown(ctx); err != nil {
		return fmt.Errorf("tracing shutdown: %w", err)
	}
	return nil
}
