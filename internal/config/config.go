package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// FileName is the project-level configuration file looked up in the working directory.
const FileName = "recordsync.yaml"

// Config represents the complete recordsync configuration.
type Config struct {
	Version int           `yaml:"version" json:"version"`
	Search  SearchConfig  `yaml:"search" json:"search"`
	Scroll  ScrollConfig  `yaml:"scroll" json:"scroll"`
	CDC     CDCConfig     `yaml:"cdc" json:"cdc"`
	Reindex ReindexConfig `yaml:"reindex" json:"reindex"`

	// ReducedConcurrency serializes mapping applies for constrained or test environments.
	ReducedConcurrency bool `yaml:"reduced_concurrency" json:"reduced_concurrency"`

	LogLevel string `yaml:"log_level" json:"log_level"`
}

// SearchConfig configures the index host and the query layer.
type SearchConfig struct {
	// Host is the index host address: empty or "memory://" for an in-memory
	// host, otherwise a directory path or file:// URL.
	Host string `yaml:"host" json:"host"`

	// Index is the physical index created by bootstrap.
	Index string `yaml:"index" json:"index"`

	// Alias is the stable name every reader and writer addresses.
	Alias string `yaml:"alias" json:"alias"`

	DefaultLimit int `yaml:"default_limit" json:"default_limit"`
	MaxLimit     int `yaml:"max_limit" json:"max_limit"`

	// RequestTimeout bounds every query on the client side.
	RequestTimeout time.Duration `yaml:"request_timeout" json:"request_timeout"`

	// MetaName and Stack are echoed in query response meta.
	MetaName string `yaml:"meta_name" json:"meta_name"`
	Stack    string `yaml:"stack" json:"stack"`
}

// ScrollConfig configures scroll cursors and the queues built on them.
type ScrollConfig struct {
	PageSize int           `yaml:"page_size" json:"page_size"`
	Lifetime time.Duration `yaml:"lifetime" json:"lifetime"`
}

// CDCConfig configures the change event router.
type CDCConfig struct {
	// Tables maps source table names to index type names. Tables listed here
	// are added to (and override) the stack defaults.
	Tables map[string]string `yaml:"tables" json:"tables"`

	// StaleEventGuard skips events whose updatedAt is older than the indexed copy.
	StaleEventGuard bool `yaml:"stale_event_guard" json:"stale_event_guard"`

	// VersionCacheSize bounds the cache of recently applied versions.
	VersionCacheSize int `yaml:"version_cache_size" json:"version_cache_size"`
}

// ReindexConfig configures the reindex orchestrator.
type ReindexConfig struct {
	// Prefix names default destination indices: <prefix>-<year>-<month>-<day>.
	Prefix string `yaml:"prefix" json:"prefix"`
}

// NewConfig creates a new Config with sensible defaults.
func NewConfig() *Config {
	return &Config{
		Version: 1,
		Search: SearchConfig{
			Host:           "memory://",
			Index:          "records",
			Alias:          "records-alias",
			DefaultLimit:   10,
			MaxLimit:       100,
			RequestTimeout: 30 * time.Second,
			MetaName:       "records-api",
			Stack:          "local",
		},
		Scroll: ScrollConfig{
			PageSize: 1000,
			Lifetime: 2 * time.Minute,
		},
		CDC: CDCConfig{
			Tables:           map[string]string{},
			StaleEventGuard:  true,
			VersionCacheSize: 4096,
		},
		Reindex: ReindexConfig{
			Prefix: "records",
		},
		ReducedConcurrency: false,
		LogLevel:           "info",
	}
}

// defaultTableSuffixes pairs each tracked table suffix with its index type name.
var defaultTableSuffixes = []struct {
	suffix   string
	typeName string
}{
	{"CollectionsTable", "collection"},
	{"GranulesTable", "granule"},
	{"ExecutionsTable", "execution"},
	{"PdrsTable", "pdr"},
	{"ProvidersTable", "provider"},
	{"RulesTable", "rule"},
	{"AsyncOperationsTable", "asyncOperation"},
	{"ReconciliationReportsTable", "reconciliationReport"},
}

// TableKinds returns the full table name to index type mapping: the stack
// defaults (<stack>-CollectionsTable and so on) overlaid with cdc.tables.
func (c *Config) TableKinds() map[string]string {
	out := make(map[string]string, len(defaultTableSuffixes)+len(c.CDC.Tables))
	if c.Search.Stack != "" {
		for _, d := range defaultTableSuffixes {
			out[c.Search.Stack+"-"+d.suffix] = d.typeName
		}
	}
	for table, typeName := range c.CDC.Tables {
		out[table] = typeName
	}
	return out
}

// GetUserConfigPath returns the path to the user/global configuration file.
// It follows XDG Base Directory specification:
//   - $XDG_CONFIG_HOME/recordsync/config.yaml (if XDG_CONFIG_HOME is set)
//   - ~/.config/recordsync/config.yaml (default)
func GetUserConfigPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "recordsync", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".config", "recordsync", "config.yaml")
	}
	return filepath.Join(home, ".config", "recordsync", "config.yaml")
}

// Load loads configuration for the given directory.
// It applies configuration in order of increasing precedence:
//  1. Hardcoded defaults
//  2. User/global config (~/.config/recordsync/config.yaml)
//  3. Project config (recordsync.yaml in dir)
//  4. Environment variables (RECORDSYNC_*)
func Load(dir string) (*Config, error) {
	cfg := NewConfig()

	if path := GetUserConfigPath(); fileExists(path) {
		if err := cfg.loadYAML(path); err != nil {
			return nil, fmt.Errorf("failed to load user config: %w", err)
		}
	}

	if path := filepath.Join(dir, FileName); fileExists(path) {
		if err := cfg.loadYAML(path); err != nil {
			return nil, err
		}
	}

	return cfg.finish()
}

// LoadFile loads defaults, then the explicit file at path, then the environment.
// The user config is skipped: an explicit file is the whole picture.
func LoadFile(path string) (*Config, error) {
	cfg := NewConfig()
	if err := cfg.loadYAML(path); err != nil {
		return nil, err
	}
	return cfg.finish()
}

func (c *Config) finish() (*Config, error) {
	c.applyEnvOverrides()
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return c, nil
}

// loadYAML overlays a YAML file onto c. Keys absent from the file keep their
// current values.
func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	if c.CDC.Tables == nil {
		c.CDC.Tables = map[string]string{}
	}
	return nil
}

// applyEnvOverrides applies RECORDSYNC_* environment variables.
// Values that fail to parse are ignored.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("RECORDSYNC_HOST"); v != "" {
		c.Search.Host = v
	}
	if v := os.Getenv("RECORDSYNC_INDEX"); v != "" {
		c.Search.Index = v
	}
	if v := os.Getenv("RECORDSYNC_ALIAS"); v != "" {
		c.Search.Alias = v
	}
	if v := os.Getenv("RECORDSYNC_STACK"); v != "" {
		c.Search.Stack = v
	}
	if v := os.Getenv("RECORDSYNC_SCROLL_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Scroll.PageSize = n
		}
	}
	if v := os.Getenv("RECORDSYNC_SCROLL_LIFETIME"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			c.Scroll.Lifetime = d
		}
	}
	if v := os.Getenv("RECORDSYNC_REDUCED_CONCURRENCY"); v != "" {
		c.ReducedConcurrency = strings.ToLower(v) == "true" || v == "1"
	}
	if v := os.Getenv("RECORDSYNC_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
}

// Validate validates the configuration and returns an error if invalid.
func (c *Config) Validate() error {
	if c.Search.Index == "" {
		return fmt.Errorf("search.index must not be empty")
	}
	if c.Search.Alias == "" {
		return fmt.Errorf("search.alias must not be empty")
	}
	if c.Search.Alias == c.Search.Index {
		return fmt.Errorf("search.alias must differ from search.index, both are %q", c.Search.Index)
	}
	if c.Search.MaxLimit < 1 {
		return fmt.Errorf("search.max_limit must be positive, got %d", c.Search.MaxLimit)
	}
	if c.Search.DefaultLimit < 1 || c.Search.DefaultLimit > c.Search.MaxLimit {
		return fmt.Errorf("search.default_limit must be between 1 and %d, got %d", c.Search.MaxLimit, c.Search.DefaultLimit)
	}
	if c.Search.RequestTimeout <= 0 {
		return fmt.Errorf("search.request_timeout must be positive, got %s", c.Search.RequestTimeout)
	}

	if c.Scroll.PageSize < 1 {
		return fmt.Errorf("scroll.page_size must be positive, got %d", c.Scroll.PageSize)
	}
	if c.Scroll.Lifetime <= 0 {
		return fmt.Errorf("scroll.lifetime must be positive, got %s", c.Scroll.Lifetime)
	}

	if c.CDC.VersionCacheSize < 1 {
		return fmt.Errorf("cdc.version_cache_size must be positive, got %d", c.CDC.VersionCacheSize)
	}

	if c.Reindex.Prefix == "" {
		return fmt.Errorf("reindex.prefix must not be empty")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.LogLevel)] {
		return fmt.Errorf("log_level must be 'debug', 'info', 'warn', or 'error', got %s", c.LogLevel)
	}

	return nil
}

// WriteYAML writes the configuration to a YAML file.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// fileExists checks if a file exists and is not a directory.
func fileExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.IsDir()
}
