// Package config provides hierarchical configuration management.
// Priority: defaults < system < user < project < explicit file < env < flags
package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	tferrors "github.com/taxiflow/taxiflow/pkg/errors"
	"github.com/taxiflow/taxiflow/pkg/schema"
)

// Config holds all taxiflow configuration.
type Config struct {
	Version int `yaml:"version"`

	Data      DataConfig      `yaml:"data"`
	Pipeline  PipelineConfig  `yaml:"pipeline"`
	Engine    EngineConfig    `yaml:"engine"`
	Acquire   AcquireConfig   `yaml:"acquire"`
	Server    ServerConfig    `yaml:"server"`
	Dispatch  DispatchConfig  `yaml:"dispatch"`
	DocStore  DocStoreConfig  `yaml:"docstore"`
	RelStore  RelStoreConfig  `yaml:"relstore"`
	Ledger    LedgerConfig    `yaml:"ledger"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Publish   PublishConfig   `yaml:"publish"`
	Log       LogConfig       `yaml:"log"`
}

// DataConfig locates the input and output directories.
type DataConfig struct {
	InputDir  string `yaml:"input_dir"`
	OutputDir string `yaml:"output_dir"`
	StateDir  string `yaml:"state_dir"`
}

// PipelineConfig controls the transformation.
type PipelineConfig struct {
	// Input is an explicit input file; when empty the first file in InputDir is used.
	Input       string            `yaml:"input"`
	SampleSize  int               `yaml:"sample_size"`
	ErrorPolicy string            `yaml:"error_policy"` // skip | strict
	Aliases     map[string]string `yaml:"aliases"`      // alternate header -> canonical column
}

// EngineConfig selects the transformation engine.
type EngineConfig struct {
	Default     string `yaml:"default"` // native | duckdb
	Threads     int    `yaml:"threads"` // 0 = auto
	MemoryLimit string `yaml:"memory_limit"`
}

// AcquireConfig controls dataset acquisition.
type AcquireConfig struct {
	Source  string        `yaml:"source"` // kaggle | http | s3
	Dataset string        `yaml:"dataset"`
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout"`

	Kaggle KaggleConfig `yaml:"kaggle"`
	S3     S3Config     `yaml:"s3"`
	Token  string       `yaml:"token"`
}

// KaggleConfig holds Kaggle API credentials.
type KaggleConfig struct {
	BaseURL  string `yaml:"base_url"`
	Username string `yaml:"username"`
	Key      string `yaml:"key"`
}

// S3Config configures S3 access.
type S3Config struct {
	Region          string `yaml:"region"`
	Bucket          string `yaml:"bucket"`
	Prefix          string `yaml:"prefix"`
	Endpoint        string `yaml:"endpoint"`
	UsePathStyle    bool   `yaml:"use_path_style"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

// ServerConfig for the artifact viewer.
type ServerConfig struct {
	Port        int      `yaml:"port"`
	Host        string   `yaml:"host"`
	CORSOrigins []string `yaml:"cors_origins"`
	// RegenerateMode is remote (dispatch) or local (in-process run).
	RegenerateMode string `yaml:"regenerate_mode"`
}

// DispatchConfig configures the remote re-run trigger.
type DispatchConfig struct {
	BaseURL    string `yaml:"base_url"`
	Repository string `yaml:"repository"` // owner/name
	EventType  string `yaml:"event_type"`
	Token      string `yaml:"token"`
}

// DocStoreConfig configures the optional MongoDB document store.
type DocStoreConfig struct {
	URI        string        `yaml:"uri"`
	Database   string        `yaml:"database"`
	Collection string        `yaml:"collection"`
	Timeout    time.Duration `yaml:"timeout"`
}

// RelStoreConfig configures the optional Postgres relational store.
type RelStoreConfig struct {
	DSN     string        `yaml:"dsn"`
	Table   string        `yaml:"table"`
	Limit   int           `yaml:"limit"`
	Timeout time.Duration `yaml:"timeout"`
}

// LedgerConfig selects where run records are kept.
type LedgerConfig struct {
	Backend string `yaml:"backend"` // file | redis | none
	Path    string `yaml:"path"`
	Redis   struct {
		Address  string        `yaml:"address"`
		Password string        `yaml:"password"`
		Database int           `yaml:"database"`
		Prefix   string        `yaml:"prefix"`
		TTL      time.Duration `yaml:"ttl"`
	} `yaml:"redis"`
}

// TelemetryConfig for optional OTLP trace export.
type TelemetryConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Endpoint    string  `yaml:"endpoint"`
	Insecure    bool    `yaml:"insecure"`
	SampleRatio float64 `yaml:"sample_ratio"`
}

// PublishConfig mirrors artifacts after a successful run.
type PublishConfig struct {
	S3 S3Config `yaml:"s3"`
}

// LogConfig controls logger construction.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	File   string `yaml:"file"`
}

// Default returns the default configuration.
func Default() *Config {
	homeDir, _ := os.UserHomeDir()
	stateDir := filepath.Join(homeDir, ".taxiflow")

	cfg := &Config{
		Version: 1,
		Data: DataConfig{
			InputDir:  "data",
			OutputDir: "results",
			StateDir:  stateDir,
		},
		Pipeline: PipelineConfig{
			SampleSize:  1000,
			ErrorPolicy: "skip",
		},
		Engine: EngineConfig{
			Default: "native",
		},
		Acquire: AcquireConfig{
			Source:  "kaggle",
			Dataset: "elemento/nyc-yellow-taxi-trip-data",
			Timeout: 30 * time.Minute,
			Kaggle: KaggleConfig{
				BaseURL: "https://www.kaggle.com",
			},
		},
		Server: ServerConfig{
			Port:           8501,
			Host:           "localhost",
			CORSOrigins:    []string{"*"},
			RegenerateMode: "remote",
		},
		Dispatch: DispatchConfig{
			BaseURL:   "https://api.github.com",
			EventType: "regenerate-artifacts",
		},
		DocStore: DocStoreConfig{
			Database:   "taxiflow",
			Collection: "summary",
			Timeout:    10 * time.Second,
		},
		RelStore: RelStoreConfig{
			Table:   "trips",
			Limit:   50,
			Timeout: 10 * time.Second,
		},
		Ledger: LedgerConfig{
			Backend: "file",
			Path:    filepath.Join(stateDir, "runs.jsonl"),
		},
		Telemetry: TelemetryConfig{
			Endpoint:    "localhost:4317",
			Insecure:    true,
			SampleRatio: 1.0,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
	}
	cfg.Ledger.Redis.Prefix = "taxiflow:runs:"
	cfg.Ledger.Redis.TTL = 30 * 24 * time.Hour
	return cfg
}

// Manager handles configuration loading and merging.
type Manager struct {
	mu     sync.RWMutex
	config *Config
	paths  []string // Paths that were loaded

	// getenv and home are replaceable for tests.
	getenv func(string) string
	home   func() (string, error)
}

// NewManager creates a new configuration manager.
func NewManager() *Manager {
	return &Manager{
		config: Default(),
		getenv: os.Getenv,
		home:   os.UserHomeDir,
	}
}

// Load loads configuration from all sources in priority order. An explicit
// path, when given, must exist.
func (m *Manager) Load(explicit string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.config = Default()
	m.paths = nil

	for _, path := range m.getConfigPaths() {
		if err := m.loadFile(path); err != nil {
			if !os.IsNotExist(err) {
				return tferrors.Wrap(err, tferrors.CodeConfig, "load config").WithContext("path", path)
			}
		} else {
			m.paths = append(m.paths, path)
		}
	}

	if explicit != "" {
		if err := m.loadFile(explicit); err != nil {
			return tferrors.Wrap(err, tferrors.CodeConfig, "load config").WithContext("path", explicit)
		}
		m.paths = append(m.paths, explicit)
	}

	m.loadEnv()
	m.loadKaggleFile()

	return nil
}

// getConfigPaths returns config file paths in priority order.
func (m *Manager) getConfigPaths() []string {
	var paths []string

	if runtime.GOOS != "windows" {
		paths = append(paths, "/etc/taxiflow/config.yaml")
	}

	if home, err := m.home(); err == nil {
		paths = append(paths, filepath.Join(home, ".taxiflow", "config.yaml"))
	}

	if cwd, err := os.Getwd(); err == nil {
		paths = append(paths, filepath.Join(cwd, ".taxiflow.yaml"))
	}

	return paths
}

// loadFile decodes a YAML file over the current config. Fields absent from
// the file keep their current values.
func (m *Manager) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, m.config)
}

// loadEnv applies environment overrides.
func (m *Manager) loadEnv() {
	c := m.config
	setString := func(key string, dst *string) {
		if v := m.getenv(key); v != "" {
			*dst = v
		}
	}

	setString("TAXIFLOW_INPUT_DIR", &c.Data.InputDir)
	setString("TAXIFLOW_OUTPUT_DIR", &c.Data.OutputDir)
	setString("TAXIFLOW_INPUT", &c.Pipeline.Input)
	setString("TAXIFLOW_ENGINE", &c.Engine.Default)
	setString("TAXIFLOW_LOG_LEVEL", &c.Log.Level)
	setString("TAXIFLOW_LOG_FORMAT", &c.Log.Format)
	setString("TAXIFLOW_ACQUIRE_SOURCE", &c.Acquire.Source)
	setString("TAXIFLOW_ACQUIRE_URL", &c.Acquire.URL)
	setString("TAXIFLOW_MONGO_URI", &c.DocStore.URI)
	setString("TAXIFLOW_POSTGRES_DSN", &c.RelStore.DSN)
	setString("TAXIFLOW_REDIS_ADDR", &c.Ledger.Redis.Address)
	setString("TAXIFLOW_DISPATCH_REPOSITORY", &c.Dispatch.Repository)
	setString("KAGGLE_USERNAME", &c.Acquire.Kaggle.Username)
	setString("KAGGLE_KEY", &c.Acquire.Kaggle.Key)
	setString("GITHUB_TOKEN", &c.Dispatch.Token)

	if v := m.getenv("TAXIFLOW_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Server.Port = port
		}
	}
	if v := m.getenv("TAXIFLOW_SAMPLE_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Pipeline.SampleSize = n
		}
	}
	if v := m.getenv("TAXIFLOW_TELEMETRY"); v != "" {
		c.Telemetry.Enabled = v == "1" || strings.EqualFold(v, "true")
	}
}

// loadKaggleFile fills Kaggle credentials from ~/.kaggle/kaggle.json when
// neither the config files nor the environment provided them.
func (m *Manager) loadKaggleFile() {
	k := &m.config.Acquire.Kaggle
	if k.Username != "" && k.Key != "" {
		return
	}
	home, err := m.home()
	if err != nil {
		return
	}
	data, err := os.ReadFile(filepath.Join(home, ".kaggle", "kaggle.json"))
	if err != nil {
		return
	}
	var creds struct {
		Username string `json:"username"`
		Key      string `json:"key"`
	}
	if err := json.Unmarshal(data, &creds); err != nil {
		return
	}
	if k.Username == "" {
		k.Username = creds.Username
	}
	if k.Key == "" {
		k.Key = creds.Key
	}
}

// Validate checks values that would otherwise fail deep inside a run.
func (c *Config) Validate() error {
	switch c.Engine.Default {
	case "native", "duckdb":
	default:
		return tferrors.Newf(tferrors.CodeConfig, "engine.default: unsupported value %q", c.Engine.Default)
	}
	switch c.Pipeline.ErrorPolicy {
	case "skip", "strict":
	default:
		return tferrors.Newf(tferrors.CodeConfig, "pipeline.error_policy: unsupported value %q", c.Pipeline.ErrorPolicy)
	}
	if c.Pipeline.SampleSize < 0 {
		return tferrors.New(tferrors.CodeConfig, "pipeline.sample_size: must be >= 0")
	}
	switch c.Acquire.Source {
	case "kaggle", "http", "s3":
	default:
		return tferrors.Newf(tferrors.CodeConfig, "acquire.source: unsupported value %q", c.Acquire.Source)
	}
	switch c.Ledger.Backend {
	case "file", "redis", "none":
	default:
		return tferrors.Newf(tferrors.CodeConfig, "ledger.backend: unsupported value %q", c.Ledger.Backend)
	}
	switch c.Server.RegenerateMode {
	case "remote", "local":
	default:
		return tferrors.Newf(tferrors.CodeConfig, "server.regenerate_mode: unsupported value %q", c.Server.RegenerateMode)
	}
	if err := schema.Trips().ValidateAliases(c.Pipeline.Aliases); err != nil {
		return tferrors.Wrap(err, tferrors.CodeConfig, "pipeline.aliases")
	}
	return nil
}

// Get returns the current configuration.
func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config
}

// GetPaths returns the paths that were loaded.
func (m *Manager) GetPaths() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.paths
}

// Save writes the current config to path.
func (m *Manager) Save(path string) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return tferrors.WrapFS(err, "create config directory").WithContext("path", path)
	}

	data, err := yaml.Marshal(m.config)
	if err != nil {
		return tferrors.Wrap(err, tferrors.CodeConfig, "encode config")
	}

	if err := os.WriteFile(path, data, 0o600); err != nil {
		return tferrors.WrapFS(err, "write config").WithContext("path", path)
	}
	return nil
}
