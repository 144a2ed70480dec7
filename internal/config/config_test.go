package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	fierrors "github.com/Aman-CERP/fabindex/internal/errors"
)

var envVars = []string{
	"FABINDEX_STORE", "FABINDEX_STORE_PATH", "FABINDEX_SNAPSHOT",
	"FABINDEX_LINK_MODE", "FABINDEX_VERSION_SELECTION",
	"FABINDEX_INDEX_DIR", "FABINDEX_ARTIFACT_DIR", "FABINDEX_LOG_LEVEL",
	"FABINDEX_MAX_RETRIES", "FABINDEX_PREFETCH_WORKERS", "FABINDEX_CACHE_SIZE",
}

// isolate points the user config at a temp dir and clears FABINDEX_* vars.
func isolate(t *testing.T) string {
	t.Helper()
	xdg := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", xdg)
	for _, name := range envVars {
		t.Setenv(name, "")
	}
	return xdg
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestNewConfig_ReturnsDefaults(t *testing.T) {
	cfg := NewConfig()

	assert.Equal(t, 1, cfg.Version)
	assert.Equal(t, "sqlite", cfg.Store.Backend)
	assert.Equal(t, filepath.Join(DataDir(), "store.db"), cfg.Store.Path)
	assert.Equal(t, 3, cfg.Retry.MaxRetries)
	assert.Equal(t, "inline", cfg.Crawl.LinkMode)
	assert.Equal(t, "latest", cfg.Crawl.VersionSelection)
	assert.Equal(t, 4, cfg.Crawl.PrefetchWorkers)
	assert.Equal(t, 1024, cfg.Crawl.CacheSize)
	assert.Equal(t, "", cfg.Index.Dir)
	assert.Equal(t, ".", cfg.Index.ArtifactDir)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.NoError(t, cfg.Validate())
}

func TestGetUserConfigPath_HonorsXDG(t *testing.T) {
	xdg := isolate(t)
	assert.Equal(t, filepath.Join(xdg, "fabindex", "config.yaml"), GetUserConfigPath())
	assert.False(t, UserConfigExists())
}

func TestLoad_NoFilesUsesDefaults(t *testing.T) {
	isolate(t)

	cfg, err := Load(t.TempDir())

	require.NoError(t, err)
	assert.Equal(t, NewConfig(), cfg)
}

func TestLoad_Precedence(t *testing.T) {
	// Given: user config, project config and env all set some values
	xdg := isolate(t)
	writeFile(t, filepath.Join(xdg, "fabindex", "config.yaml"), `
store:
  backend: memory
  snapshot: user.json
crawl:
  link_mode: document
  cache_size: 64
`)
	project := t.TempDir()
	writeFile(t, filepath.Join(project, ProjectConfigName), `
store:
  snapshot: project.json
index:
  dir: build/index
`)
	t.Setenv("FABINDEX_CACHE_SIZE", "8")
	t.Setenv("FABINDEX_LOG_LEVEL", "debug")

	// When: loading
	cfg, err := Load(project)

	// Then: each layer overrides the one before it, defaults fill the rest
	require.NoError(t, err)
	assert.Equal(t, "memory", cfg.Store.Backend)
	assert.Equal(t, "project.json", cfg.Store.Snapshot)
	assert.Equal(t, "document", cfg.Crawl.LinkMode)
	assert.Equal(t, 8, cfg.Crawl.CacheSize)
	assert.Equal(t, "build/index", cfg.Index.Dir)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "latest", cfg.Crawl.VersionSelection)
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name    string
		project string
		env     map[string]string
		code    string
	}{
		{name: "bad yaml", project: "store: [", code: fierrors.ErrCodeConfigInvalid},
		{name: "bad backend", project: "store:\n  backend: postgres\n", code: fierrors.ErrCodeConfigInvalid},
		{name: "bad link mode", env: map[string]string{"FABINDEX_LINK_MODE": "deep"}, code: fierrors.ErrCodeConfigInvalid},
		{name: "non-integer env", env: map[string]string{"FABINDEX_MAX_RETRIES": "many"}, code: fierrors.ErrCodeConfigInvalid},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			isolate(t)
			project := t.TempDir()
			if tt.project != "" {
				writeFile(t, filepath.Join(project, ProjectConfigName), tt.project)
			}
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			_, err := Load(project)

			assert.True(t, fierrors.HasCode(err, tt.code), "got %v", err)
		})
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{name: "defaults", mutate: func(c *Config) {}},
		{name: "memory store", mutate: func(c *Config) { c.Store.Backend = "memory" }},
		{name: "first version", mutate: func(c *Config) { c.Crawl.VersionSelection = "first" }},
		{name: "zero prefetch", mutate: func(c *Config) { c.Crawl.PrefetchWorkers = 0 }},
		{name: "bad version selection", mutate: func(c *Config) { c.Crawl.VersionSelection = "newest" }, wantErr: "version_selection"},
		{name: "negative retries", mutate: func(c *Config) { c.Retry.MaxRetries = -1 }, wantErr: "max_retries"},
		{name: "negative breaker", mutate: func(c *Config) { c.Retry.CircuitMaxFailures = -1 }, wantErr: "circuit_max_failures"},
		{name: "negative cache", mutate: func(c *Config) { c.Crawl.CacheSize = -1 }, wantErr: "cache_size"},
		{name: "negative workers", mutate: func(c *Config) { c.Crawl.PrefetchWorkers = -2 }, wantErr: "prefetch_workers"},
		{name: "bad duration", mutate: func(c *Config) { c.Retry.MaxDelay = "soon" }, wantErr: "retry.max_delay"},
		{name: "negative duration", mutate: func(c *Config) { c.Crawl.WatchDebounce = "-1s" }, wantErr: "crawl.watch_debounce"},
		{name: "bad log level", mutate: func(c *Config) { c.Logging.Level = "trace" }, wantErr: "logging.level"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewConfig()
			tt.mutate(cfg)

			err := cfg.Validate()

			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
			assert.True(t, fierrors.HasCode(err, fierrors.ErrCodeConfigInvalid))
		})
	}
}

func TestRetryPolicy(t *testing.T) {
	cfg := NewConfig()
	cfg.Retry.MaxRetries = 5
	cfg.Retry.InitialDelay = "50ms"
	cfg.Retry.MaxDelay = ""

	policy := cfg.RetryPolicy()

	assert.Equal(t, 5, policy.MaxRetries)
	assert.Equal(t, 50*time.Millisecond, policy.InitialDelay)
	assert.Equal(t, fierrors.DefaultRetryConfig().MaxDelay, policy.MaxDelay)
	assert.NotNil(t, policy.ShouldRetry)
	assert.Equal(t, 30*time.Second, cfg.CircuitResetTimeout())
	assert.Equal(t, 500*time.Millisecond, cfg.WatchDebounce())
}

func TestWriteYAML_RoundTripsThroughLoad(t *testing.T) {
	xdg := isolate(t)
	cfg := NewConfig()
	cfg.Crawl.LinkMode = "document"
	cfg.Index.ArtifactDir = "out"

	require.NoError(t, cfg.WriteYAML(filepath.Join(xdg, "fabindex", "config.yaml")))
	loaded, err := Load(t.TempDir())

	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}
