// Package config provides hierarchical configuration management.
// Priority: defaults < system < user < project < env < flags
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/tabflow/tabflow/pkg/errors"
)

// Config holds all tabflow configuration.
type Config struct {
	Version int `yaml:"version"`

	Destination DestinationConfig `yaml:"destination"`
	Naming      NamingConfig      `yaml:"naming"`
	Ingest      IngestConfig      `yaml:"ingest"`
	Filter      FilterConfig      `yaml:"filter"`
	Server      ServerConfig      `yaml:"server"`
	Logging     LoggingConfig     `yaml:"logging"`
	Telemetry   TelemetryConfig   `yaml:"telemetry"`
	Metrics     MetricsConfig     `yaml:"metrics"`
}

// DestinationConfig points at the PostgREST endpoint rows land in.
type DestinationConfig struct {
	URL          string        `yaml:"url"`
	ServiceKey   string        `yaml:"service_key"`
	RPCTimeout   time.Duration `yaml:"rpc_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// NamingConfig controls how object keys become table names.
type NamingConfig struct {
	Schema      string `yaml:"schema"`
	Strategy    string `yaml:"strategy"` // filename | header_table
	TablePrefix string `yaml:"table_prefix"`
	MarkerField string `yaml:"marker_field"`
}

// IngestConfig controls sampling, batching and retries.
type IngestConfig struct {
	SampleLines  int           `yaml:"sample_lines"`
	BatchSize    int           `yaml:"batch_size"`
	MaxRetries   int           `yaml:"max_retries"`
	RetryBackoff time.Duration `yaml:"retry_backoff"`
	AddMetadata  bool          `yaml:"add_metadata"`
	Concurrency  int           `yaml:"concurrency"`
}

// FilterConfig selects which object keys are ingested.
type FilterConfig struct {
	KeyPrefix   string   `yaml:"key_prefix"`
	KeySuffixes []string `yaml:"key_suffixes"`
}

// ServerConfig for the notification webhook server.
type ServerConfig struct {
	Port int    `yaml:"port"`
	Host string `yaml:"host"`
}

// LoggingConfig for structured log output.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // json | text
}

// TelemetryConfig for optional OTLP tracing.
type TelemetryConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Endpoint string `yaml:"endpoint"`
}

// MetricsConfig for the optional Datadog backend.
type MetricsConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Site          string        `yaml:"site"`
	APIKey        string        `yaml:"api_key"`
	FlushInterval time.Duration `yaml:"flush_interval"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Version: 1,
		Destination: DestinationConfig{
			RPCTimeout:   30 * time.Second,
			WriteTimeout: 60 * time.Second,
		},
		Naming: NamingConfig{
			Schema:      "public",
			Strategy:    "filename",
			MarkerField: "__table__",
		},
		Ingest: IngestConfig{
			SampleLines:  100,
			BatchSize:    1000,
			MaxRetries:   2,
			RetryBackoff: 350 * time.Millisecond,
			AddMetadata:  false,
			Concurrency:  4,
		},
		Server: ServerConfig{
			Port: 8080,
			Host: "localhost",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Telemetry: TelemetryConfig{
			Enabled: false,
		},
		Metrics: MetricsConfig{
			Enabled:       false,
			Site:          "datadoghq.com",
			FlushInterval: 15 * time.Second,
		},
	}
}

// Validate checks that the configuration can actually drive an ingest.
func (c *Config) Validate() error {
	merr := &errors.MultiError{}

	if c.Destination.URL == "" {
		merr.Add(errors.New(errors.CodeUnknown, "destination.url is required (SUPABASE_URL)"))
	}
	if c.Destination.ServiceKey == "" {
		merr.Add(errors.New(errors.CodeUnknown, "destination.service_key is required (SUPABASE_SERVICE_ROLE_KEY)"))
	}
	switch c.Naming.Strategy {
	case "filename", "header_table":
	default:
		merr.Add(errors.New(errors.CodeUnknown,
			fmt.Sprintf("naming.strategy %q is not filename or header_table", c.Naming.Strategy)))
	}
	if c.Ingest.SampleLines <= 0 {
		merr.Add(errors.New(errors.CodeUnknown, "ingest.sample_lines must be positive"))
	}
	if c.Ingest.BatchSize <= 0 {
		merr.Add(errors.New(errors.CodeUnknown, "ingest.batch_size must be positive"))
	}
	if c.Metrics.Enabled && c.Metrics.APIKey == "" {
		merr.Add(errors.New(errors.CodeUnknown, "metrics.api_key is required when metrics are enabled"))
	}

	if merr.HasErrors() {
		return merr
	}
	return nil
}

// Manager handles configuration loading and merging.
type Manager struct {
	mu     sync.RWMutex
	config *Config
	paths  []string // Paths that were loaded
}

// NewManager creates a new configuration manager.
func NewManager() *Manager {
	return &Manager{
		config: Default(),
	}
}

// Load loads configuration from all sources in priority order.
func (m *Manager) Load() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Start with defaults
	m.config = Default()

	// Load from paths in order (later overrides earlier)
	paths := m.getConfigPaths()
	for _, path := range paths {
		if err := m.loadFile(path); err != nil {
			// Ignore missing files, but surface errors for existing files
			if !os.IsNotExist(err) {
				return err
			}
		} else {
			m.paths = append(m.paths, path)
		}
	}

	// Override with environment variables
	m.loadEnv()

	return nil
}

// getConfigPaths returns config file paths in priority order.
func (m *Manager) getConfigPaths() []string {
	var paths []string

	// System config
	if runtime.GOOS != "windows" {
		paths = append(paths, "/etc/tabflow/config.yaml")
	}

	// User config
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".tabflow", "config.yaml"))
	}

	// Project config (current directory)
	if cwd, err := os.Getwd(); err == nil {
		paths = append(paths, filepath.Join(cwd, ".tabflow.yaml"))
	}

	return paths
}

// fileConfig mirrors Config for YAML decoding. Booleans are pointers so a
// file setting a flag to false is distinguishable from not setting it.
type fileConfig struct {
	Version     int               `yaml:"version"`
	Destination DestinationConfig `yaml:"destination"`
	Naming      NamingConfig      `yaml:"naming"`
	Ingest      fileIngest        `yaml:"ingest"`
	Filter      FilterConfig      `yaml:"filter"`
	Server      ServerConfig      `yaml:"server"`
	Logging     LoggingConfig     `yaml:"logging"`
	Telemetry   fileTelemetry     `yaml:"telemetry"`
	Metrics     fileMetrics       `yaml:"metrics"`
}

type fileIngest struct {
	SampleLines  int           `yaml:"sample_lines"`
	BatchSize    int           `yaml:"batch_size"`
	MaxRetries   int           `yaml:"max_retries"`
	RetryBackoff time.Duration `yaml:"retry_backoff"`
	AddMetadata  *bool         `yaml:"add_metadata"`
	Concurrency  int           `yaml:"concurrency"`
}

type fileTelemetry struct {
	Enabled  *bool  `yaml:"enabled"`
	Endpoint string `yaml:"endpoint"`
}

type fileMetrics struct {
	Enabled       *bool         `yaml:"enabled"`
	Site          string        `yaml:"site"`
	APIKey        string        `yaml:"api_key"`
	FlushInterval time.Duration `yaml:"flush_interval"`
}

// loadFile loads a single config file and merges it.
func (m *Manager) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	var partial fileConfig
	if err := yaml.Unmarshal(data, &partial); err != nil {
		return err
	}

	// Merge set values
	m.merge(&partial)
	return nil
}

// merge merges set values from src into config.
func (m *Manager) merge(src *fileConfig) {
	// Destination
	if src.Destination.URL != "" {
		m.config.Destination.URL = src.Destination.URL
	}
	if src.Destination.ServiceKey != "" {
		m.config.Destination.ServiceKey = src.Destination.ServiceKey
	}
	if src.Destination.RPCTimeout != 0 {
		m.config.Destination.RPCTimeout = src.Destination.RPCTimeout
	}
	if src.Destination.WriteTimeout != 0 {
		m.config.Destination.WriteTimeout = src.Destination.WriteTimeout
	}

	// Naming
	if src.Naming.Schema != "" {
		m.config.Naming.Schema = src.Naming.Schema
	}
	if src.Naming.Strategy != "" {
		m.config.Naming.Strategy = src.Naming.Strategy
	}
	if src.Naming.TablePrefix != "" {
		m.config.Naming.TablePrefix = src.Naming.TablePrefix
	}
	if src.Naming.MarkerField != "" {
		m.config.Naming.MarkerField = src.Naming.MarkerField
	}

	// Ingest
	if src.Ingest.SampleLines != 0 {
		m.config.Ingest.SampleLines = src.Ingest.SampleLines
	}
	if src.Ingest.BatchSize != 0 {
		m.config.Ingest.BatchSize = src.Ingest.BatchSize
	}
	if src.Ingest.MaxRetries != 0 {
		m.config.Ingest.MaxRetries = src.Ingest.MaxRetries
	}
	if src.Ingest.RetryBackoff != 0 {
		m.config.Ingest.RetryBackoff = src.Ingest.RetryBackoff
	}
	if src.Ingest.AddMetadata != nil {
		m.config.Ingest.AddMetadata = *src.Ingest.AddMetadata
	}
	if src.Ingest.Concurrency != 0 {
		m.config.Ingest.Concurrency = src.Ingest.Concurrency
	}

	// Filter
	if src.Filter.KeyPrefix != "" {
		m.config.Filter.KeyPrefix = src.Filter.KeyPrefix
	}
	if len(src.Filter.KeySuffixes) > 0 {
		m.config.Filter.KeySuffixes = src.Filter.KeySuffixes
	}

	// Server
	if src.Server.Port != 0 {
		m.config.Server.Port = src.Server.Port
	}
	if src.Server.Host != "" {
		m.config.Server.Host = src.Server.Host
	}

	// Logging
	if src.Logging.Level != "" {
		m.config.Logging.Level = src.Logging.Level
	}
	if src.Logging.Format != "" {
		m.config.Logging.Format = src.Logging.Format
	}

	// Telemetry
	if src.Telemetry.Enabled != nil {
		m.config.Telemetry.Enabled = *src.Telemetry.Enabled
	}
	if src.Telemetry.Endpoint != "" {
		m.config.Telemetry.Endpoint = src.Telemetry.Endpoint
	}

	// Metrics
	if src.Metrics.Enabled != nil {
		m.config.Metrics.Enabled = *src.Metrics.Enabled
	}
	if src.Metrics.APIKey != "" {
		m.config.Metrics.APIKey = src.Metrics.APIKey
	}
	if src.Metrics.Site != "" {
		m.config.Metrics.Site = src.Metrics.Site
	}
	if src.Metrics.FlushInterval != 0 {
		m.config.Metrics.FlushInterval = src.Metrics.FlushInterval
	}
}

// loadEnv loads configuration from environment variables. The names match
// the destination's conventional deployment variables.
func (m *Manager) loadEnv() {
	if v := os.Getenv("SUPABASE_URL"); v != "" {
		m.config.Destination.URL = v
	}
	if v := os.Getenv("SUPABASE_SERVICE_ROLE_KEY"); v != "" {
		m.config.Destination.ServiceKey = v
	}
	if v := os.Getenv("PG_SCHEMA"); v != "" {
		m.config.Naming.Schema = v
	}
	if v := os.Getenv("TABLE_STRATEGY"); v != "" {
		m.config.Naming.Strategy = strings.ToLower(v)
	}
	if v := os.Getenv("TABLE_PREFIX"); v != "" {
		m.config.Naming.TablePrefix = v
	}
	if v := os.Getenv("HEADER_TABLE_FIELD"); v != "" {
		m.config.Naming.MarkerField = v
	}
	if v := os.Getenv("SAMPLE_LINES_FOR_INFERENCE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			m.config.Ingest.SampleLines = n
		}
	}
	if v := os.Getenv("BATCH_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			m.config.Ingest.BatchSize = n
		}
	}
	if v := os.Getenv("ADD_METADATA"); v != "" {
		m.config.Ingest.AddMetadata = parseBool(v)
	}
	if v := os.Getenv("KEY_PREFIX"); v != "" {
		m.config.Filter.KeyPrefix = v
	}
	if v := os.Getenv("KEY_SUFFIXES"); v != "" {
		parts := strings.Split(v, ",")
		suffixes := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				suffixes = append(suffixes, p)
			}
		}
		m.config.Filter.KeySuffixes = suffixes
	}
	if v := os.Getenv("TABFLOW_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			m.config.Server.Port = n
		}
	}
	if v := os.Getenv("TABFLOW_LOG_LEVEL"); v != "" {
		m.config.Logging.Level = strings.ToLower(v)
	}
	if v := os.Getenv("DD_API_KEY"); v != "" {
		m.config.Metrics.APIKey = v
		m.config.Metrics.Enabled = true
	}
	if v := os.Getenv("DD_SITE"); v != "" {
		m.config.Metrics.Site = v
	}
}

func parseBool(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "t", "yes", "y", "on":
		return true
	}
	return false
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

// Save writes the current config to the user config file.
func (m *Manager) Save() error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	home, err := os.UserHomeDir()
	if err != nil {
		return err
	}

	configDir := filepath.Join(home, ".tabflow")
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return err
	}

	data, err := yaml.Marshal(m.config)
	if err != nil {
		return err
	}

	return os.WriteFile(filepath.Join(configDir, "config.yaml"), data, 0644)
}

// Global instance
var (
	globalManager *Manager
	globalOnce    sync.Once
)

// Global returns the global configuration manager.
func Global() *Manager {
	globalOnce.Do(func() {
		globalManager = NewManager()
		globalManager.Load()
	})
	return globalManager
}
