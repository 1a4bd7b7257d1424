// Command marketpulse is the real-time market-microstructure analytics and
// signal-generation engine described in the project's component design.
//
// Architecture:
//
//	main.go                   — entry point: loads config, starts engine, waits for SIGINT/SIGTERM
//	internal/engine           — orchestrator: wires consumer → dispatcher → strategies → publisher
//	internal/consumer         — Bus Consumer: decodes envelopes, extracts trace context
//	internal/dispatcher       — Event Dispatcher: hash-partitioned workers, per-symbol serialization
//	internal/depth            — Depth Analyzer: rolling metrics, pressure/imbalance histories
//	internal/leveltracker     — Order-Book Level Tracker: iceberg pattern detection
//	internal/spread           — Spread-Liquidity Strategy: wide-spread state machine, signals
//	internal/normalizer       — Signal→Order Normalizer
//	internal/publisher        — Outbound Publisher: batched, circuit-breaker-guarded
//	internal/breaker          — generic three-state circuit breaker
//	internal/bus/wsbus        — default WebSocket binding for bus.Subscriber/bus.Publisher
//	internal/api              — read-only metrics HTTP surface
//	internal/tracing          — process-wide OTel TracerProvider lifecycle
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"marketpulse/internal/api"
	"marketpulse/internal/config"
	"marketpulse/internal/engine"
	"marketpulse/internal/tracing"
)

func main() {
	cfgPath := "configs/config.yaml"
	if p := os.Getenv("MKT_CONFIG"); p != "" {
		cfgPath = p
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "error", err, "path", cfgPath)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Logging.Level)}
	if cfg.Logging.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	logger := slog.New(handler)

	var tracerProvider *tracing.Provider
	if cfg.Tracing.Enabled {
		tracerProvider, err = tracing.Init(tracing.Config{
			ServiceName:   cfg.Tracing.ServiceName,
			SampleRatio:   cfg.Tracing.SampleRatio,
			FlushDeadline: cfg.Tracing.FlushDeadline,
		})
		if err != nil {
			logger.Error("failed to init tracing", "error", err)
			os.Exit(1)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	eng, err := engine.New(ctx, *cfg, logger)
	if err != nil {
		logger.Error("failed to create engine", "error", err)
		os.Exit(1)
	}

	var apiServer *api.Server
	if cfg.API.Enabled {
		apiServer = api.NewServer(cfg.API, eng.MetricsProvider(), eng.DepthConfig(), logger)
		go func() {
			if err := apiServer.Start(); err != nil {
				logger.Error("metrics API failed", "error", err)
			}
		}()
		logger.Info("metrics API started", "addr", cfg.API.Addr)
	}

	if err := eng.Start(); err != nil {
		logger.Error("failed to start engine", "error", err)
		os.Exit(1)
	}

	logger.Info("marketpulse started",
		"inbound_subject", cfg.Bus.InboundSubject,
		"outbound_subject", cfg.Bus.OutboundSubject,
		"workers", cfg.Dispatcher.Workers,
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("received shutdown signal", "signal", sig.String())

	if apiServer != nil {
		if err := apiServer.Stop(); err != nil {
			logger.Error("failed to stop metrics API", "error", err)
		}
	}

	eng.Stop()

	if tracerProvider != nil {
		if err := tracerProvider.Shutdown(context.Background()); err != nil {
			logger.Error("failed to shut down tracing", "error", err)
		}
	}
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
