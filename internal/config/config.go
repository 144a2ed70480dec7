// Package config loads fabindex application settings.
//
// Settings are applied in order of increasing precedence:
//  1. Hardcoded defaults
//  2. User config ($XDG_CONFIG_HOME/fabindex/config.yaml)
//  3. Project config (.fabindex.yaml in the working directory)
//  4. Environment variables (FABINDEX_*)
//
// The index configuration document (field names, types and paths) is not
// part of this package; see internal/indexconfig.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	fierrors "github.com/Aman-CERP/fabindex/internal/errors"
)

// Config represents the complete fabindex configuration.
type Config struct {
	Version int           `yaml:"version" json:"version"`
	Store   StoreConfig   `yaml:"store" json:"store"`
	Retry   RetryConfig   `yaml:"retry" json:"retry"`
	Crawl   CrawlConfig   `yaml:"crawl" json:"crawl"`
	Index   IndexConfig   `yaml:"index" json:"index"`
	Logging LoggingConfig `yaml:"logging" json:"logging"`
}

// StoreConfig selects the content store the crawler reads from.
type StoreConfig struct {
	// Backend is "sqlite" or "memory".
	Backend string `yaml:"backend" json:"backend"`
	// Path is the SQLite database file. Empty means in-memory.
	Path string `yaml:"path" json:"path"`
	// Snapshot is a JSON snapshot loaded into the store before crawling.
	Snapshot string `yaml:"snapshot" json:"snapshot"`
}

// RetryConfig configures retries of transient content store failures.
type RetryConfig struct {
	MaxRetries   int    `yaml:"max_retries" json:"max_retries"`
	InitialDelay string `yaml:"initial_delay" json:"initial_delay"`
	MaxDelay     string `yaml:"max_delay" json:"max_delay"`
	// CircuitMaxFailures opens the circuit after this many consecutive
	// failures. Zero disables the breaker.
	CircuitMaxFailures  int    `yaml:"circuit_max_failures" json:"circuit_max_failures"`
	CircuitResetTimeout string `yaml:"circuit_reset_timeout" json:"circuit_reset_timeout"`
}

// CrawlConfig configures the metadata walk.
type CrawlConfig struct {
	// LinkMode is "inline" or "document".
	LinkMode string `yaml:"link_mode" json:"link_mode"`
	// VersionSelection is "latest" or "first".
	VersionSelection string `yaml:"version_selection" json:"version_selection"`
	// PrefetchWorkers bounds concurrent link fetches. Zero disables prefetch.
	PrefetchWorkers int `yaml:"prefetch_workers" json:"prefetch_workers"`
	// CacheSize is the number of metadata documents kept in the LRU cache.
	CacheSize int `yaml:"cache_size" json:"cache_size"`
	// WatchDebounce is the quiet period before a watched change re-crawls.
	WatchDebounce string `yaml:"watch_debounce" json:"watch_debounce"`
}

// IndexConfig configures where indexes and artifacts are written.
type IndexConfig struct {
	// Dir is the index build directory. Empty builds in a temp directory.
	Dir string `yaml:"dir" json:"dir"`
	// ArtifactDir receives the archived index.
	ArtifactDir string `yaml:"artifact_dir" json:"artifact_dir"`
}

// LoggingConfig configures log output.
type LoggingConfig struct {
	Level string `yaml:"level" json:"level"`
	// MaxSizeMB is the rotation threshold of the debug log file.
	MaxSizeMB int `yaml:"max_size_mb" json:"max_size_mb"`
	// MaxFiles is the number of rotated log files kept.
	MaxFiles int `yaml:"max_files" json:"max_files"`
}

// ProjectConfigName is the project config file looked up in the working directory.
const ProjectConfigName = ".fabindex.yaml"

// NewConfig returns a Config with defaults.
func NewConfig() *Config {
	return &Config{
		Version: 1,
		Store: StoreConfig{
			Backend: "sqlite",
			Path:    filepath.Join(DataDir(), "store.db"),
		},
		Retry: RetryConfig{
			MaxRetries:          3,
			InitialDelay:        "200ms",
			MaxDelay:            "5s",
			CircuitMaxFailures:  5,
			CircuitResetTimeout: "30s",
		},
		Crawl: CrawlConfig{
			LinkMode:         "inline",
			VersionSelection: "latest",
			PrefetchWorkers:  4,
			CacheSize:        1024,
			WatchDebounce:    "500ms",
		},
		Index: IndexConfig{
			ArtifactDir: ".",
		},
		Logging: LoggingConfig{
			Level:     "info",
			MaxSizeMB: 10,
			MaxFiles:  5,
		},
	}
}

// DataDir returns ~/.fabindex, the home of the default store and logs.
func DataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".fabindex")
	}
	return filepath.Join(home, ".fabindex")
}

// GetUserConfigPath returns the path to the user configuration file.
// It follows the XDG Base Directory specification:
//   - $XDG_CONFIG_HOME/fabindex/config.yaml (if XDG_CONFIG_HOME is set)
//   - ~/.config/fabindex/config.yaml (default)
func GetUserConfigPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "fabindex", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".config", "fabindex", "config.yaml")
	}
	return filepath.Join(home, ".config", "fabindex", "config.yaml")
}

// UserConfigExists returns true if the user configuration file exists.
func UserConfigExists() bool {
	info, err := os.Stat(GetUserConfigPath())
	return err == nil && !info.IsDir()
}

// Load loads configuration for a run started in dir.
func Load(dir string) (*Config, error) {
	cfg := NewConfig()

	if UserConfigExists() {
		if err := cfg.loadYAML(GetUserConfigPath()); err != nil {
			return nil, err
		}
	}

	projectPath := filepath.Join(dir, ProjectConfigName)
	if _, err := os.Stat(projectPath); err == nil {
		if err := cfg.loadYAML(projectPath); err != nil {
			return nil, err
		}
	}

	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadYAML merges the non-zero values of a YAML file into c.
func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fierrors.New(fierrors.ErrCodeConfigNotFound, "cannot read config file", err).
			WithDetail("path", path)
	}

	var parsed Config
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return fierrors.New(fierrors.ErrCodeConfigInvalid, "cannot parse config file", err).
			WithDetail("path", path)
	}
	c.mergeWith(&parsed)
	return nil
}

// mergeWith merges non-zero values from other into c.
func (c *Config) mergeWith(other *Config) {
	if other.Version != 0 {
		c.Version = other.Version
	}

	mergeString(&c.Store.Backend, other.Store.Backend)
	mergeString(&c.Store.Path, other.Store.Path)
	mergeString(&c.Store.Snapshot, other.Store.Snapshot)

	mergeInt(&c.Retry.MaxRetries, other.Retry.MaxRetries)
	mergeString(&c.Retry.InitialDelay, other.Retry.InitialDelay)
	mergeString(&c.Retry.MaxDelay, other.Retry.MaxDelay)
	mergeInt(&c.Retry.CircuitMaxFailures, other.Retry.CircuitMaxFailures)
	mergeString(&c.Retry.CircuitResetTimeout, other.Retry.CircuitResetTimeout)

	mergeString(&c.Crawl.LinkMode, other.Crawl.LinkMode)
	mergeString(&c.Crawl.VersionSelection, other.Crawl.VersionSelection)
	mergeInt(&c.Crawl.PrefetchWorkers, other.Crawl.PrefetchWorkers)
	mergeInt(&c.Crawl.CacheSize, other.Crawl.CacheSize)
	mergeString(&c.Crawl.WatchDebounce, other.Crawl.WatchDebounce)

	mergeString(&c.Index.Dir, other.Index.Dir)
	mergeString(&c.Index.ArtifactDir, other.Index.ArtifactDir)

	mergeString(&c.Logging.Level, other.Logging.Level)
	mergeInt(&c.Logging.MaxSizeMB, other.Logging.MaxSizeMB)
	mergeInt(&c.Logging.MaxFiles, other.Logging.MaxFiles)
}

func mergeString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func mergeInt(dst *int, v int) {
	if v != 0 {
		*dst = v
	}
}

// applyEnvOverrides applies FABINDEX_* environment variables.
func (c *Config) applyEnvOverrides() error {
	strs := map[string]*string{
		"FABINDEX_STORE":             &c.Store.Backend,
		"FABINDEX_STORE_PATH":        &c.Store.Path,
		"FABINDEX_SNAPSHOT":          &c.Store.Snapshot,
		"FABINDEX_LINK_MODE":         &c.Crawl.LinkMode,
		"FABINDEX_VERSION_SELECTION": &c.Crawl.VersionSelection,
		"FABINDEX_INDEX_DIR":         &c.Index.Dir,
		"FABINDEX_ARTIFACT_DIR":      &c.Index.ArtifactDir,
		"FABINDEX_LOG_LEVEL":         &c.Logging.Level,
	}
	for name, dst := range strs {
		if v := os.Getenv(name); v != "" {
			*dst = v
		}
	}

	ints := map[string]*int{
		"FABINDEX_MAX_RETRIES":      &c.Retry.MaxRetries,
		"FABINDEX_PREFETCH_WORKERS": &c.Crawl.PrefetchWorkers,
		"FABINDEX_CACHE_SIZE":       &c.Crawl.CacheSize,
	}
	for name, dst := range ints {
		v := os.Getenv(name)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fierrors.New(fierrors.ErrCodeConfigInvalid,
				fmt.Sprintf("%s must be an integer, got %q", name, v), err)
		}
		*dst = n
	}
	return nil
}

// Validate validates the configuration and returns an error if invalid.
func (c *Config) Validate() error {
	invalid := func(format string, args ...any) error {
		return fierrors.New(fierrors.ErrCodeConfigInvalid, fmt.Sprintf(format, args...), nil)
	}

	switch strings.ToLower(c.Store.Backend) {
	case "sqlite", "memory":
	default:
		return invalid("store.backend must be 'sqlite' or 'memory', got %q", c.Store.Backend)
	}
	switch c.Crawl.LinkMode {
	case "inline", "document":
	default:
		return invalid("crawl.link_mode must be 'inline' or 'document', got %q", c.Crawl.LinkMode)
	}
	switch c.Crawl.VersionSelection {
	case "latest", "first":
	default:
		return invalid("crawl.version_selection must be 'latest' or 'first', got %q", c.Crawl.VersionSelection)
	}

	if c.Retry.MaxRetries < 0 {
		return invalid("retry.max_retries must be non-negative, got %d", c.Retry.MaxRetries)
	}
	if c.Retry.CircuitMaxFailures < 0 {
		return invalid("retry.circuit_max_failures must be non-negative, got %d", c.Retry.CircuitMaxFailures)
	}
	if c.Crawl.PrefetchWorkers < 0 {
		return invalid("crawl.prefetch_workers must be non-negative, got %d", c.Crawl.PrefetchWorkers)
	}
	if c.Crawl.CacheSize < 0 {
		return invalid("crawl.cache_size must be non-negative, got %d", c.Crawl.CacheSize)
	}

	durations := map[string]string{
		"retry.initial_delay":         c.Retry.InitialDelay,
		"retry.max_delay":             c.Retry.MaxDelay,
		"retry.circuit_reset_timeout": c.Retry.CircuitResetTimeout,
		"crawl.watch_debounce":        c.Crawl.WatchDebounce,
	}
	for name, v := range durations {
		if _, err := parseDuration(v); err != nil {
			return invalid("%s: %v", name, err)
		}
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		return invalid("logging.level must be 'debug', 'info', 'warn', or 'error', got %q", c.Logging.Level)
	}
	return nil
}

// parseDuration parses a non-negative duration. Empty means zero.
func parseDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("must not be negative, got %s", s)
	}
	return d, nil
}

// RetryPolicy converts the retry settings into the content store policy.
func (c *Config) RetryPolicy() fierrors.RetryConfig {
	policy := fierrors.DefaultRetryConfig()
	policy.MaxRetries = c.Retry.MaxRetries
	if d, err := parseDuration(c.Retry.InitialDelay); err == nil && d > 0 {
		policy.InitialDelay = d
	}
	if d, err := parseDuration(c.Retry.MaxDelay); err == nil && d > 0 {
		policy.MaxDelay = d
	}
	return policy
}

// CircuitResetTimeout returns the parsed breaker reset timeout.
func (c *Config) CircuitResetTimeout() time.Duration {
	d, _ := parseDuration(c.Retry.CircuitResetTimeout)
	return d
}

// WatchDebounce returns the parsed watch debounce window.
func (c *Config) WatchDebounce() time.Duration {
	d, _ := parseDuration(c.Crawl.WatchDebounce)
	return d
}

// WriteYAML writes the configuration to a YAML file.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}
