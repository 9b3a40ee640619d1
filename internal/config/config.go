package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sells-group/replcheck/internal/db"
	"github.com/sells-group/replcheck/internal/latency"
	"github.com/sells-group/replcheck/internal/reader"
	"github.com/sells-group/replcheck/internal/reconcile"
	"github.com/sells-group/replcheck/internal/resilience"
	"github.com/sells-group/replcheck/internal/row"
)

// Config holds the full application configuration.
type Config struct {
	Source    StoreConfig     `yaml:"source" mapstructure:"source"`
	Target    StoreConfig     `yaml:"target" mapstructure:"target"`
	Broker    BrokerConfig    `yaml:"broker" mapstructure:"broker"`
	Tables    []reader.Spec   `yaml:"tables" mapstructure:"tables"`
	Policy    PolicyConfig    `yaml:"policy" mapstructure:"policy"`
	Reconcile ReconcileConfig `yaml:"reconcile" mapstructure:"reconcile"`
	Latency   LatencyConfig   `yaml:"latency" mapstructure:"latency"`
	Retry     RetryConfig     `yaml:"retry" mapstructure:"retry"`
	Alert     AlertConfig     `yaml:"alert" mapstructure:"alert"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// AlertConfig configures webhook delivery of check outcomes.
type AlertConfig struct {
	WebhookURL string `yaml:"webhook_url" mapstructure:"webhook_url"`
}

// StoreConfig configures one side of the pipeline.
type StoreConfig struct {
	URL  string       `yaml:"url" mapstructure:"url"`
	Pool PoolSettings `yaml:"pool" mapstructure:"pool"`
}

// PoolSettings tunes a store's connection pool.
type PoolSettings struct {
	MaxConns           int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns           int32 `yaml:"min_conns" mapstructure:"min_conns"`
	AcquireTimeoutSecs int   `yaml:"acquire_timeout_secs" mapstructure:"acquire_timeout_secs"`
}

// PoolConfig converts the settings to the db layer's config.
func (p PoolSettings) PoolConfig() db.PoolConfig {
	return db.PoolConfig{
		MaxConns:       p.MaxConns,
		MinConns:       p.MinConns,
		AcquireTimeout: time.Duration(p.AcquireTimeoutSecs) * time.Second,
	}
}

// BrokerConfig configures the Kafka checkpoint inspection.
type BrokerConfig struct {
	Brokers     []string `yaml:"brokers" mapstructure:"brokers"`
	Topic       string   `yaml:"topic" mapstructure:"topic"`
	GroupID     string   `yaml:"group_id" mapstructure:"group_id"`
	ConnectURL  string   `yaml:"connect_url" mapstructure:"connect_url"`
	TimeoutSecs int      `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// PolicyConfig configures value equivalence between stores.
type PolicyConfig struct {
	NumericEpsilon      float64 `yaml:"numeric_epsilon" mapstructure:"numeric_epsilon"`
	TimestampTruncateMs int     `yaml:"timestamp_truncate_ms" mapstructure:"timestamp_truncate_ms"`
	CaseInsensitive     bool    `yaml:"case_insensitive" mapstructure:"case_insensitive"`
}

// RowPolicy converts the settings to the row layer's policy.
func (p PolicyConfig) RowPolicy() row.Policy {
	return row.Policy{
		NumericEpsilon:    p.NumericEpsilon,
		TimestampTruncate: time.Duration(p.TimestampTruncateMs) * time.Millisecond,
		CaseInsensitive:   p.CaseInsensitive,
	}
}

// ReconcileConfig configures reconciliation windows.
type ReconcileConfig struct {
	GracePeriodSecs  int     `yaml:"grace_period_secs" mapstructure:"grace_period_secs"`
	MaxMismatchRatio float64 `yaml:"max_mismatch_ratio" mapstructure:"max_mismatch_ratio"`
	IntervalSecs     int     `yaml:"interval_secs" mapstructure:"interval_secs"`
	Windows          int     `yaml:"windows" mapstructure:"windows"`
	Schedule         string  `yaml:"schedule" mapstructure:"schedule"`
	AllowOverlap     bool    `yaml:"allow_overlap" mapstructure:"allow_overlap"`
}

// EngineConfig converts the settings to an engine config.
func (r ReconcileConfig) EngineConfig() reconcile.Config {
	return reconcile.Config{
		GracePeriod:      time.Duration(r.GracePeriodSecs) * time.Second,
		MaxMismatchRatio: r.MaxMismatchRatio,
		Interval:         time.Duration(r.IntervalSecs) * time.Second,
		Windows:          r.Windows,
	}
}

// LatencyConfig configures the probe harness.
type LatencyConfig struct {
	Probes         int     `yaml:"probes" mapstructure:"probes"`
	Concurrency    int     `yaml:"concurrency" mapstructure:"concurrency"`
	PollIntervalMs int     `yaml:"poll_interval_ms" mapstructure:"poll_interval_ms"`
	DeadlineSecs   int     `yaml:"deadline_secs" mapstructure:"deadline_secs"`
	Rate           float64 `yaml:"rate" mapstructure:"rate"`
	MaxLagSecs     int     `yaml:"max_lag_secs" mapstructure:"max_lag_secs"`
	Table          string  `yaml:"table" mapstructure:"table"`
	KeyColumn      string  `yaml:"key_column" mapstructure:"key_column"`
	PayloadColumn  string  `yaml:"payload_column" mapstructure:"payload_column"`
	CommitColumn   string  `yaml:"commit_column" mapstructure:"commit_column"`
	Cleanup        bool    `yaml:"cleanup" mapstructure:"cleanup"`
}

// MeasurerConfig converts the settings to a measurer config.
func (l LatencyConfig) MeasurerConfig() latency.Config {
	return latency.Config{
		Probes:       l.Probes,
		Concurrency:  l.Concurrency,
		PollInterval: time.Duration(l.PollIntervalMs) * time.Millisecond,
		Deadline:     time.Duration(l.DeadlineSecs) * time.Second,
		Rate:         l.Rate,
		MaxLag:       time.Duration(l.MaxLagSecs) * time.Second,
		Cleanup:      l.Cleanup,
	}
}

// ProbeSpec describes the dedicated probe table.
func (l LatencyConfig) ProbeSpec() reader.Spec {
	return reader.Spec{
		Table:            l.Table,
		KeyColumns:       []string{l.KeyColumn},
		Columns:          []string{l.PayloadColumn},
		CommitTimeColumn: l.CommitColumn,
	}
}

// RetryConfig configures transient-failure retries on store reads.
type RetryConfig struct {
	MaxAttempts      int     `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMs int     `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMs     int     `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
	Multiplier       float64 `yaml:"multiplier" mapstructure:"multiplier"`
	JitterFraction   float64 `yaml:"jitter_fraction" mapstructure:"jitter_fraction"`
}

// Policy converts the settings to a retry policy.
func (r RetryConfig) Policy() resilience.RetryConfig {
	return resilience.FromRetryConfig(r.MaxAttempts, r.InitialBackoffMs, r.MaxBackoffMs, r.Multiplier, r.JitterFraction)
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("REPLCHECK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("source.pool.max_conns", 8)
	v.SetDefault("source.pool.min_conns", 1)
	v.SetDefault("source.pool.acquire_timeout_secs", 5)
	v.SetDefault("target.pool.max_conns", 8)
	v.SetDefault("target.pool.min_conns", 1)
	v.SetDefault("target.pool.acquire_timeout_secs", 5)
	v.SetDefault("broker.timeout_secs", 10)
	v.SetDefault("reconcile.grace_period_secs", 300)
	v.SetDefault("reconcile.max_mismatch_ratio", 0.0)
	v.SetDefault("reconcile.interval_secs", 60)
	v.SetDefault("reconcile.windows", 1)
	v.SetDefault("latency.probes", 25)
	v.SetDefault("latency.concurrency", 4)
	v.SetDefault("latency.poll_interval_ms", 250)
	v.SetDefault("latency.deadline_secs", 300)
	v.SetDefault("latency.rate", 1.0)
	v.SetDefault("latency.max_lag_secs", 300)
	v.SetDefault("latency.table", "replcheck_probe")
	v.SetDefault("latency.key_column", "op_id")
	v.SetDefault("latency.payload_column", "payload")
	v.SetDefault("latency.cleanup", true)
	v.SetDefault("retry.max_attempts", 4)
	v.SetDefault("retry.initial_backoff_ms", 100)
	v.SetDefault("retry.max_backoff_ms", 5000)
	v.SetDefault("retry.multiplier", 2.0)
	v.SetDefault("retry.jitter_fraction", 0.2)

	// Zero-value defaults for every remaining key: AutomaticEnv only
	// consults the environment for keys viper already knows about, so a key
	// without a default would be invisible to REPLCHECK_* overrides.
	v.SetDefault("source.url", "")
	v.SetDefault("target.url", "")
	v.SetDefault("broker.brokers", []string{})
	v.SetDefault("broker.topic", "")
	v.SetDefault("broker.group_id", "")
	v.SetDefault("broker.connect_url", "")
	v.SetDefault("tables", []map[string]any{})
	v.SetDefault("policy.numeric_epsilon", 0.0)
	v.SetDefault("policy.timestamp_truncate_ms", 0)
	v.SetDefault("policy.case_insensitive", false)
	v.SetDefault("reconcile.schedule", "")
	v.SetDefault("reconcile.allow_overlap", false)
	v.SetDefault("latency.commit_column", "")
	v.SetDefault("alert.webhook_url", "")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks the invariants commands depend on. Called after flag
// overrides are applied, not inside Load, so partial configs stay loadable
// for commands that need less (inspect needs no tables).
func (c *Config) Validate() error {
	if c.Source.URL == "" {
		return eris.New("config: source.url is required")
	}
	if c.Target.URL == "" {
		return eris.New("config: target.url is required")
	}
	if len(c.Tables) == 0 {
		return eris.New("config: at least one table is required")
	}
	for _, t := range c.Tables {
		if t.Table == "" {
			return eris.New("config: table name is required")
		}
		if len(t.KeyColumns) == 0 {
			return eris.Errorf("config: table %s: key_columns is required", t.Table)
		}
	}
	if c.Reconcile.MaxMismatchRatio < 0 || c.Reconcile.MaxMismatchRatio > 1 {
		return eris.Errorf("config: reconcile.max_mismatch_ratio %v out of [0,1]", c.Reconcile.MaxMismatchRatio)
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
