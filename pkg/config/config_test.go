package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	tferrors "github.com/taxiflow/taxiflow/pkg/errors"
)

func newTestManager(t *testing.T, env map[string]string) (*Manager, string) {
	t.Helper()
	home := t.TempDir()
	m := NewManager()
	m.getenv = func(key string) string { return env[key] }
	m.home = func() (string, error) { return home, nil }
	return m, home
}

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 1000, cfg.Pipeline.SampleSize)
	assert.Equal(t, "skip", cfg.Pipeline.ErrorPolicy)
	assert.Equal(t, "elemento/nyc-yellow-taxi-trip-data", cfg.Acquire.Dataset)
	assert.Equal(t, 50, cfg.RelStore.Limit)
}

func TestLoad_ExplicitFileOverridesDefaults(t *testing.T) {
	m, _ := newTestManager(t, nil)
	path := filepath.Join(t.TempDir(), "taxiflow.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
engine:
  default: duckdb
pipeline:
  sample_size: 10
  aliases:
    Trip_Distance: trip_distance
server:
  port: 9000
`), 0o600))

	require.NoError(t, m.Load(path))
	cfg := m.Get()

	assert.Equal(t, "duckdb", cfg.Engine.Default)
	assert.Equal(t, 10, cfg.Pipeline.SampleSize)
	assert.Equal(t, "trip_distance", cfg.Pipeline.Aliases["Trip_Distance"])
	assert.Equal(t, 9000, cfg.Server.Port)
	// untouched sections keep defaults
	assert.Equal(t, "results", cfg.Data.OutputDir)
	assert.Equal(t, 10*time.Second, cfg.DocStore.Timeout)
	assert.Contains(t, m.GetPaths(), path)
}

func TestLoad_MissingExplicitFileFails(t *testing.T) {
	m, _ := newTestManager(t, nil)
	err := m.Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	m, _ := newTestManager(t, map[string]string{
		"TAXIFLOW_ENGINE":      "native",
		"TAXIFLOW_PORT":        "8080",
		"TAXIFLOW_SAMPLE_SIZE": "5",
		"KAGGLE_USERNAME":      "alice",
		"KAGGLE_KEY":           "secret",
		"GITHUB_TOKEN":         "ghp_x",
		"TAXIFLOW_TELEMETRY":   "true",
	})
	path := filepath.Join(t.TempDir(), "taxiflow.yaml")
	require.NoError(t, os.WriteFile(path, []byte("engine:\n  default: duckdb\n"), 0o600))

	require.NoError(t, m.Load(path))
	cfg := m.Get()

	assert.Equal(t, "native", cfg.Engine.Default)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 5, cfg.Pipeline.SampleSize)
	assert.Equal(t, "alice", cfg.Acquire.Kaggle.Username)
	assert.Equal(t, "secret", cfg.Acquire.Kaggle.Key)
	assert.Equal(t, "ghp_x", cfg.Dispatch.Token)
	assert.True(t, cfg.Telemetry.Enabled)
}

func TestLoad_KaggleJSONFallback(t *testing.T) {
	m, home := newTestManager(t, nil)
	require.NoError(t, os.MkdirAll(filepath.Join(home, ".kaggle"), 0o700))
	require.NoError(t, os.WriteFile(filepath.Join(home, ".kaggle", "kaggle.json"),
		[]byte(`{"username":"bob","key":"k123"}`), 0o600))

	require.NoError(t, m.Load(""))
	cfg := m.Get()

	assert.Equal(t, "bob", cfg.Acquire.Kaggle.Username)
	assert.Equal(t, "k123", cfg.Acquire.Kaggle.Key)
}

func TestLoad_UserFileFromHome(t *testing.T) {
	m, home := newTestManager(t, nil)
	require.NoError(t, os.MkdirAll(filepath.Join(home, ".taxiflow"), 0o755))
	userPath := filepath.Join(home, ".taxiflow", "config.yaml")
	require.NoError(t, os.WriteFile(userPath, []byte("log:\n  level: debug\n"), 0o600))

	require.NoError(t, m.Load(""))
	assert.Equal(t, "debug", m.Get().Log.Level)
	assert.Contains(t, m.GetPaths(), userPath)
}

func TestValidate_RejectsUnknownValues(t *testing.T) {
	cases := map[string]func(*Config){
		"engine":      func(c *Config) { c.Engine.Default = "spark" },
		"policy":      func(c *Config) { c.Pipeline.ErrorPolicy = "ignore" },
		"sample size": func(c *Config) { c.Pipeline.SampleSize = -1 },
		"source":      func(c *Config) { c.Acquire.Source = "ftp" },
		"ledger":      func(c *Config) { c.Ledger.Backend = "sqlite" },
		"regenerate":  func(c *Config) { c.Server.RegenerateMode = "cron" },
		"aliases":     func(c *Config) { c.Pipeline.Aliases = map[string]string{"Fare": "fare_amount"} },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.True(t, tferrors.IsCode(err, tferrors.CodeConfig), err.Error())
		})
	}

	cfg := Default()
	cfg.Pipeline.Aliases = map[string]string{"Fare": "total_amount"}
	assert.NoError(t, cfg.Validate())
}

func TestSave_RoundTrip(t *testing.T) {
	m, _ := newTestManager(t, nil)
	m.Get().Engine.Default = "duckdb"

	path := filepath.Join(t.TempDir(), "nested", "out.yaml")
	require.NoError(t, m.Save(path))

	other, _ := newTestManager(t, nil)
	require.NoError(t, other.Load(path))
	assert.Equal(t, "duckdb", other.Get().Engine.Default)
}
