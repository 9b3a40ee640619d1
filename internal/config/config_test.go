package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sells-group/replcheck/internal/reader"
)

// chtmp changes to a temp dir so no stray config.yaml is found.
func chtmp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })
	return dir
}

func TestLoadDefaults(t *testing.T) {
	chtmp(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, int32(8), cfg.Source.Pool.MaxConns)
	assert.Equal(t, int32(1), cfg.Target.Pool.MinConns)
	assert.Equal(t, 5, cfg.Target.Pool.AcquireTimeoutSecs)
	assert.Equal(t, 10, cfg.Broker.TimeoutSecs)
	assert.Equal(t, 300, cfg.Reconcile.GracePeriodSecs)
	assert.Zero(t, cfg.Reconcile.MaxMismatchRatio)
	assert.Equal(t, 1, cfg.Reconcile.Windows)
	assert.Equal(t, 25, cfg.Latency.Probes)
	assert.Equal(t, 4, cfg.Latency.Concurrency)
	assert.Equal(t, 250, cfg.Latency.PollIntervalMs)
	assert.Equal(t, 300, cfg.Latency.DeadlineSecs)
	assert.Equal(t, 300, cfg.Latency.MaxLagSecs)
	assert.Equal(t, "replcheck_probe", cfg.Latency.Table)
	assert.Equal(t, "op_id", cfg.Latency.KeyColumn)
	assert.True(t, cfg.Latency.Cleanup)
	assert.Equal(t, 4, cfg.Retry.MaxAttempts)
	assert.Equal(t, 100, cfg.Retry.InitialBackoffMs)
	assert.InDelta(t, 2.0, cfg.Retry.Multiplier, 0.001)
}

func TestLoadFromYAML(t *testing.T) {
	dir := chtmp(t)

	yaml := `
source:
  url: postgres://src/app
target:
  url: postgres://tgt/app
  pool:
    max_conns: 16
tables:
  - table: public.orders
    key_columns: [id]
    columns: [status, total]
    commit_time_column: updated_at
policy:
  numeric_epsilon: 0.001
  timestamp_truncate_ms: 1000
reconcile:
  grace_period_secs: 120
log:
  level: debug
  format: console
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres://src/app", cfg.Source.URL)
	assert.Equal(t, int32(16), cfg.Target.Pool.MaxConns)
	require.Len(t, cfg.Tables, 1)
	assert.Equal(t, "public.orders", cfg.Tables[0].Table)
	assert.Equal(t, []string{"id"}, cfg.Tables[0].KeyColumns)
	assert.Equal(t, []string{"status", "total"}, cfg.Tables[0].Columns)
	assert.Equal(t, "updated_at", cfg.Tables[0].CommitTimeColumn)
	assert.Equal(t, 120, cfg.Reconcile.GracePeriodSecs)
	assert.Equal(t, "debug", cfg.Log.Level)
	// Defaults still apply for unset values
	assert.Equal(t, 25, cfg.Latency.Probes)

	pol := cfg.Policy.RowPolicy()
	assert.InDelta(t, 0.001, pol.NumericEpsilon, 1e-9)
	assert.Equal(t, time.Second, pol.TimestampTruncate)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := chtmp(t)

	yaml := `
log:
  level: debug
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	t.Setenv("REPLCHECK_LOG_LEVEL", "warn")
	t.Setenv("REPLCHECK_SOURCE_URL", "postgres://env/src")

	cfg, err := Load()
	require.NoError(t, err)

	// Env overrides file
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, "postgres://env/src", cfg.Source.URL)
}

func TestLoadEnvOverridesDefaults(t *testing.T) {
	chtmp(t)

	t.Setenv("REPLCHECK_LATENCY_PROBES", "50")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 50, cfg.Latency.Probes)
}

func TestLoadEnvReachesUndefaultedKeys(t *testing.T) {
	chtmp(t)

	// Keys whose natural default is the zero value still must be visible
	// to environment overrides.
	t.Setenv("REPLCHECK_SOURCE_URL", "postgres://env/src")
	t.Setenv("REPLCHECK_TARGET_URL", "postgres://env/tgt")
	t.Setenv("REPLCHECK_BROKER_TOPIC", "cdc.public.orders")
	t.Setenv("REPLCHECK_BROKER_GROUP_ID", "sink-connect")
	t.Setenv("REPLCHECK_BROKER_CONNECT_URL", "http://connect:8083")
	t.Setenv("REPLCHECK_ALERT_WEBHOOK_URL", "http://hooks/replcheck")
	t.Setenv("REPLCHECK_RECONCILE_SCHEDULE", "*/5 * * * *")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "postgres://env/src", cfg.Source.URL)
	assert.Equal(t, "postgres://env/tgt", cfg.Target.URL)
	assert.Equal(t, "cdc.public.orders", cfg.Broker.Topic)
	assert.Equal(t, "sink-connect", cfg.Broker.GroupID)
	assert.Equal(t, "http://connect:8083", cfg.Broker.ConnectURL)
	assert.Equal(t, "http://hooks/replcheck", cfg.Alert.WebhookURL)
	assert.Equal(t, "*/5 * * * *", cfg.Reconcile.Schedule)
}

func validConfig() *Config {
	return &Config{
		Source: StoreConfig{URL: "postgres://src/app"},
		Target: StoreConfig{URL: "postgres://tgt/app"},
		Tables: []reader.Spec{
			{Table: "public.orders", KeyColumns: []string{"id"}, Columns: []string{"status"}},
		},
	}
}

func TestValidate_OK(t *testing.T) {
	assert.NoError(t, validConfig().Validate())
}

func TestValidate_MissingURLs(t *testing.T) {
	cfg := validConfig()
	cfg.Source.URL = ""
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "source.url is required")

	cfg = validConfig()
	cfg.Target.URL = ""
	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "target.url is required")
}

func TestValidate_Tables(t *testing.T) {
	cfg := validConfig()
	cfg.Tables = nil
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "at least one table")

	cfg = validConfig()
	cfg.Tables[0].KeyColumns = nil
	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "key_columns is required")
}

func TestValidate_MismatchRatioBounds(t *testing.T) {
	cfg := validConfig()
	cfg.Reconcile.MaxMismatchRatio = 1.5
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max_mismatch_ratio")

	cfg.Reconcile.MaxMismatchRatio = 1.0
	assert.NoError(t, cfg.Validate())
}

func TestConversions(t *testing.T) {
	rc := ReconcileConfig{GracePeriodSecs: 120, MaxMismatchRatio: 0.05, IntervalSecs: 30, Windows: 3}
	ec := rc.EngineConfig()
	assert.Equal(t, 2*time.Minute, ec.GracePeriod)
	assert.InDelta(t, 0.05, ec.MaxMismatchRatio, 1e-9)
	assert.Equal(t, 30*time.Second, ec.Interval)
	assert.Equal(t, 3, ec.Windows)

	lc := LatencyConfig{
		Probes: 10, Concurrency: 2, PollIntervalMs: 100, DeadlineSecs: 60,
		MaxLagSecs: 300, Table: "p", KeyColumn: "op_id", PayloadColumn: "payload",
		CommitColumn: "committed_at",
	}
	mc := lc.MeasurerConfig()
	assert.Equal(t, 100*time.Millisecond, mc.PollInterval)
	assert.Equal(t, time.Minute, mc.Deadline)
	assert.Equal(t, 5*time.Minute, mc.MaxLag)

	spec := lc.ProbeSpec()
	assert.Equal(t, "p", spec.Table)
	assert.Equal(t, []string{"op_id"}, spec.KeyColumns)
	assert.Equal(t, []string{"payload"}, spec.Columns)
	assert.Equal(t, "committed_at", spec.CommitTimeColumn)

	pool := PoolSettings{MaxConns: 4, MinConns: 2, AcquireTimeoutSecs: 3}.PoolConfig()
	assert.Equal(t, int32(4), pool.MaxConns)
	assert.Equal(t, 3*time.Second, pool.AcquireTimeout)
}

func TestInitLoggerConsole(t *testing.T) {
	err := InitLogger(LogConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerJSON(t *testing.T) {
	err := InitLogger(LogConfig{Level: "info", Format: "json"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerInvalidLevel(t *testing.T) {
	err := InitLogger(LogConfig{Level: "invalid", Format: "json"})
	assert.Error(t, err)
}
