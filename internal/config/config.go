// Package config defines all configuration for the analytics engine.
// Config is loaded from a YAML file (default: configs/config.yaml) with
// fields overridable via MKT_* environment variables.
package config

import (
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the top-level configuration. Maps directly to the YAML file structure.
type Config struct {
	Bus        BusConfig        `mapstructure:"bus"`
	Dispatcher DispatcherConfig `mapstructure:"dispatcher"`
	Depth      DepthConfig      `mapstructure:"depth"`
	Level      LevelConfig      `mapstructure:"level"`
	Spread     SpreadConfig     `mapstructure:"spread"`
	Publisher  PublisherConfig  `mapstructure:"publisher"`
	Breaker    BreakerConfig    `mapstructure:"breaker"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	API        APIConfig        `mapstructure:"api"`
	Tracing    TracingConfig    `mapstructure:"tracing"`
}

// BusConfig names the inbound/outbound bus endpoints and the consumer identity.
type BusConfig struct {
	InboundURL      string        `mapstructure:"inbound_url"`
	InboundSubject  string        `mapstructure:"inbound_subject"`
	OutboundURL     string        `mapstructure:"outbound_url"`
	OutboundSubject string        `mapstructure:"outbound_subject"`
	ConsumerName    string        `mapstructure:"consumer_name"`
	ConsumerGroup   string        `mapstructure:"consumer_group"`
	ConnectTimeout  time.Duration `mapstructure:"connect_timeout"`
	DrainDeadline   time.Duration `mapstructure:"drain_deadline"`
}

// DispatcherConfig tunes the worker pool that owns per-symbol analytic state.
type DispatcherConfig struct {
	Workers          int           `mapstructure:"workers"`
	InboxSize        int           `mapstructure:"inbox_size"`
	BackpressureWait time.Duration `mapstructure:"backpressure_wait"`
}

// DepthConfig tunes the Depth Analyzer.
//
//   - MetricsTTL: symbols with no update within this window are evicted.
//   - TopK: size of top-buy/sell-pressure lists in the market summary.
//   - TrendThreshold: |net pressure| below this is classified neutral.
type DepthConfig struct {
	MetricsTTL     time.Duration `mapstructure:"metrics_ttl"`
	TopK           int           `mapstructure:"top_k"`
	TrendThreshold float64       `mapstructure:"trend_threshold"`
}

// LevelConfig tunes the Order-Book Level Tracker's iceberg detection.
type LevelConfig struct {
	HistoryWindow        time.Duration `mapstructure:"history_window"`
	RefillSpeedThreshold time.Duration `mapstructure:"refill_speed_threshold"`
	ConsistencyThreshold float64       `mapstructure:"consistency_threshold"`
	MinRefillCount       int           `mapstructure:"min_refill_count"`
}

// SpreadConfig tunes the Spread-Liquidity Strategy.
type SpreadConfig struct {
	LookbackTicks        int           `mapstructure:"lookback_ticks"`
	VelocityThreshold    float64       `mapstructure:"velocity_threshold"`
	SpreadRatioThreshold float64       `mapstructure:"spread_ratio_threshold"`
	SpreadThresholdBps   float64       `mapstructure:"spread_threshold_bps"`
	PersistenceThreshold time.Duration `mapstructure:"persistence_threshold"`
	MinDepthReductionPct float64       `mapstructure:"min_depth_reduction_pct"`
	MinSignalInterval    time.Duration `mapstructure:"min_signal_interval"`
	BaseConfidence       float64       `mapstructure:"base_confidence"`
}

// PublisherConfig tunes the Outbound Publisher batching loop.
type PublisherConfig struct {
	BatchSize     int           `mapstructure:"batch_size"`
	BatchTimeout  time.Duration `mapstructure:"batch_timeout"`
	QueueCapacity int           `mapstructure:"queue_capacity"`
}

// BreakerConfig tunes the circuit breaker wrapping bus publish calls.
type BreakerConfig struct {
	FailureThreshold int           `mapstructure:"failure_threshold"`
	RecoveryTimeout  time.Duration `mapstructure:"recovery_timeout"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// APIConfig controls the read-only metrics HTTP surface.
type APIConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

// TracingConfig controls the OTel TracerProvider.
type TracingConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	ServiceName    string        `mapstructure:"service_name"`
	Endpoint       string        `mapstructure:"endpoint"`
	FlushDeadline  time.Duration `mapstructure:"flush_deadline"`
	SampleRatio    float64       `mapstructure:"sample_ratio"`
}

// Defaults mirrors spec.md §4's default values, applied before the YAML file
// and env overrides are layered on top.
func setDefaults(v *viper.Viper) {
	v.SetDefault("bus.consumer_name", "marketpulse")
	v.SetDefault("bus.consumer_group", "marketpulse-analytics")
	v.SetDefault("bus.connect_timeout", 10*time.Second)
	v.SetDefault("bus.drain_deadline", 5*time.Second)

	v.SetDefault("dispatcher.workers", runtime.NumCPU())
	v.SetDefault("dispatcher.inbox_size", 1024)
	v.SetDefault("dispatcher.backpressure_wait", 250*time.Millisecond)

	v.SetDefault("depth.metrics_ttl", 300*time.Second)
	v.SetDefault("depth.top_k", 5)
	v.SetDefault("depth.trend_threshold", 20.0)

	v.SetDefault("level.history_window", 300*time.Second)
	v.SetDefault("level.refill_speed_threshold", 5*time.Second)
	v.SetDefault("level.consistency_threshold", 0.1)
	v.SetDefault("level.min_refill_count", 3)

	v.SetDefault("spread.lookback_ticks", 20)
	v.SetDefault("spread.velocity_threshold", 0.5)
	v.SetDefault("spread.spread_ratio_threshold", 2.5)
	v.SetDefault("spread.spread_threshold_bps", 10.0)
	v.SetDefault("spread.persistence_threshold", 30*time.Second)
	v.SetDefault("spread.min_depth_reduction_pct", 0.5)
	v.SetDefault("spread.min_signal_interval", 60*time.Second)
	v.SetDefault("spread.base_confidence", 0.70)

	v.SetDefault("publisher.batch_size", 50)
	v.SetDefault("publisher.batch_timeout", time.Second)
	v.SetDefault("publisher.queue_capacity", 1000)

	v.SetDefault("breaker.failure_threshold", 5)
	v.SetDefault("breaker.recovery_timeout", 60*time.Second)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("api.enabled", true)
	v.SetDefault("api.addr", ":8090")

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.service_name", "marketpulse")
	v.SetDefault("tracing.flush_deadline", 5*time.Second)
	v.SetDefault("tracing.sample_ratio", 1.0)
}

// Load reads config from a YAML file with MKT_* env var overrides, e.g.
// MKT_BUS_INBOUND_URL overrides bus.inbound_url.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigFile(path)
	v.SetEnvPrefix("MKT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	return &cfg, nil
}

// Validate checks all required fields and value ranges.
func (c *Config) Validate() error {
	if c.Bus.InboundURL == "" {
		return fmt.Errorf("bus.inbound_url is required")
	}
	if c.Bus.InboundSubject == "" {
		return fmt.Errorf("bus.inbound_subject is required")
	}
	if c.Bus.OutboundURL == "" {
		return fmt.Errorf("bus.outbound_url is required")
	}
	if c.Bus.OutboundSubject == "" {
		return fmt.Errorf("bus.outbound_subject is required")
	}
	if c.Bus.ConsumerName == "" {
		return fmt.Errorf("bus.consumer_name is required")
	}
	if c.Dispatcher.Workers <= 0 {
		return fmt.Errorf("dispatcher.workers must be > 0")
	}
	if c.Dispatcher.InboxSize <= 0 {
		return fmt.Errorf("dispatcher.inbox_size must be > 0")
	}
	if c.Depth.MetricsTTL <= 0 {
		return fmt.Errorf("depth.metrics_ttl must be > 0")
	}
	if c.Depth.TopK <= 0 {
		return fmt.Errorf("depth.top_k must be > 0")
	}
	if c.Level.MinRefillCount <= 0 {
		return fmt.Errorf("level.min_refill_count must be > 0")
	}
	if c.Spread.LookbackTicks <= 0 {
		return fmt.Errorf("spread.lookback_ticks must be > 0")
	}
	if c.Publisher.BatchSize <= 0 {
		return fmt.Errorf("publisher.batch_size must be > 0")
	}
	if c.Publisher.QueueCapacity <= 0 {
		return fmt.Errorf("publisher.queue_capacity must be > 0")
	}
	if c.Breaker.FailureThreshold <= 0 {
		return fmt.Errorf("breaker.failure_threshold must be > 0")
	}
	if c.Breaker.RecoveryTimeout <= 0 {
		return fmt.Errorf("breaker.recovery_timeout must be > 0")
	}
	return nil
}
