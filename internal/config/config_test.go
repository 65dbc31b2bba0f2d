package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/farxc/bpc-insight/internal/bpc/types"
	"github.com/farxc/bpc-insight/internal/logger"
	"github.com/farxc/bpc-insight/internal/store"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeYAML(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "bpc.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func testFlags(args ...string) *pflag.FlagSet {
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	fs.String("store", store.BackendFile, "")
	fs.Int("concurrency", 4, "")
	fs.String("log-level", "info", "")
	fs.Bool("dry-run", false, "")
	_ = fs.Parse(args)
	return fs
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("", nil)
	require.NoError(t, err)

	assert.Equal(t, "2020-01", cfg.EarliestPeriod)
	assert.Equal(t, 5*time.Minute, cfg.Portal.Timeout)
	assert.Equal(t, 3, cfg.Portal.MaxAttempts)
	assert.Equal(t, 4, cfg.Pipeline.Concurrency)
	assert.Equal(t, store.TriggerTypeManual, cfg.Pipeline.Trigger)
	assert.InDelta(t, 0.01, cfg.Anomaly.Contamination, 1e-12)
	assert.Equal(t, uint64(42), cfg.Anomaly.Seed)
	assert.Equal(t, 100, cfg.Anomaly.Trees)
	assert.Equal(t, 256, cfg.Anomaly.MaxSamples)
	assert.Equal(t, 10, cfg.Analysis.RepresentativeThreshold)
	assert.Equal(t, store.BackendFile, cfg.Store.Backend)
	assert.Equal(t, "data", cfg.Store.Dir)
	assert.Equal(t, logger.LevelInfo, cfg.LogLevel())
	assert.Empty(t, cfg.File)
}

func TestLoad_LegacyIdleTime(t *testing.T) {
	t.Setenv("DB_MAX_IDLE_TIME", "90s")
	cfg, err := Load("", nil)
	require.NoError(t, err)
	assert.Equal(t, "1m30s", cfg.Store.MaxIdleTime)

	t.Setenv("DB_MAX_IDLE_TIME", "soon")
	cfg, err = Load("", nil)
	require.NoError(t, err)
	assert.Equal(t, "15m0s", cfg.Store.MaxIdleTime, "unparseable value falls back to the default")
}

func TestLoad_Precedence(t *testing.T) {
	path := writeYAML(t, `
earliest_period: 2023-06
pipeline:
  concurrency: 2
  trigger: scheduled
portal:
  timeout: 30s
  cache_dir: /tmp/zips
store:
  backend: sqlite
  dsn: bpc.db
log:
  level: warn
`)
	t.Setenv("BPC_PIPELINE__CONCURRENCY", "6")
	t.Setenv("BPC_ANOMALY__SEED", "7")
	t.Setenv("BPC_LOG__LEVEL", "error")

	cfg, err := Load(path, testFlags("--log-level", "debug"))
	require.NoError(t, err)

	assert.Equal(t, path, cfg.File)
	assert.Equal(t, "2023-06", cfg.EarliestPeriod, "file")
	assert.Equal(t, store.TriggerTypeScheduled, cfg.Pipeline.Trigger, "file")
	assert.Equal(t, 30*time.Second, cfg.Portal.Timeout, "file")
	assert.Equal(t, "/tmp/zips", cfg.Portal.CacheDir, "file")
	assert.Equal(t, store.BackendSQLite, cfg.Store.Backend, "unchanged flag must not override the file")
	assert.Equal(t, 6, cfg.Pipeline.Concurrency, "env over file")
	assert.Equal(t, uint64(7), cfg.Anomaly.Seed, "env over default")
	assert.Equal(t, "debug", cfg.Log.Level, "flag over env")
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{name: "contamination above half", yaml: "anomaly:\n  contamination: 0.6\n"},
		{name: "contamination zero", yaml: "anomaly:\n  contamination: 0\n"},
		{name: "negative threshold", yaml: "analysis:\n  representative_threshold: -1\n"},
		{name: "no concurrency", yaml: "pipeline:\n  concurrency: 0\n"},
		{name: "unknown backend", yaml: "store:\n  backend: mongo\n"},
		{name: "bad period", yaml: "earliest_period: soon\n"},
		{name: "bad log level", yaml: "log:\n  level: loud\n"},
		{name: "no timeout", yaml: "portal:\n  timeout: 0s\n"},
		{name: "unknown trigger", yaml: "pipeline:\n  trigger: cron\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeYAML(t, tt.yaml), nil)
			assert.Error(t, err)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"), nil)
	assert.Error(t, err)
}

func TestConfig_Orchestrator(t *testing.T) {
	cfg, err := Load(writeYAML(t, "earliest_period: 2022-3\nanalysis:\n  reports_dir: out\n"), testFlags("--concurrency", "8"))
	require.NoError(t, err)

	oc := cfg.Orchestrator()
	assert.Equal(t, types.Period{Year: 2022, Month: 3}, oc.EarliestPeriod)
	assert.Equal(t, 8, oc.Concurrency)
	assert.Equal(t, "out", oc.ReportsDir)
	assert.Equal(t, 10, oc.RepresentativeThreshold)
	assert.Equal(t, store.TriggerTypeManual, oc.Trigger)
}
