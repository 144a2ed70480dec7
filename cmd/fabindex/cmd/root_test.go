package cmd

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	fierrors "github.com/Aman-CERP/fabindex/internal/errors"
	"github.com/Aman-CERP/fabindex/internal/logging"
	"github.com/Aman-CERP/fabindex/pkg/version"
)

// testdataDir is resolved before any test changes directory.
var testdataDir, _ = filepath.Abs("testdata")

func fixture(name string) string {
	return filepath.Join(testdataDir, name)
}

var fabindexEnv = []string{
	"FABINDEX_STORE", "FABINDEX_STORE_PATH", "FABINDEX_SNAPSHOT",
	"FABINDEX_LINK_MODE", "FABINDEX_VERSION_SELECTION",
	"FABINDEX_INDEX_DIR", "FABINDEX_ARTIFACT_DIR", "FABINDEX_LOG_LEVEL",
	"FABINDEX_MAX_RETRIES", "FABINDEX_PREFETCH_WORKERS", "FABINDEX_CACHE_SIZE",
}

// isolate points HOME and XDG_CONFIG_HOME at temp dirs, clears FABINDEX_*
// and runs the test from an empty working directory, which it returns.
func isolate(t *testing.T) string {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("NO_COLOR", "1")
	for _, name := range fabindexEnv {
		t.Setenv(name, "")
	}
	dir := t.TempDir()
	t.Chdir(dir)
	return dir
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

// run executes the CLI with args and returns stdout and stderr.
func run(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	root := NewRootCmd()
	root.SetOut(&stdout)
	root.SetErr(&stderr)
	root.SetArgs(args)
	err := root.Execute()
	return stdout.String(), stderr.String(), err
}

func TestRootCmd_ListsCommands(t *testing.T) {
	isolate(t)

	out, _, err := run(t, "--help")

	require.NoError(t, err)
	for _, name := range []string{"crawl", "search", "config", "store", "logs", "version"} {
		assert.Contains(t, out, name)
	}
}

func TestRootCmd_UnknownCommand(t *testing.T) {
	isolate(t)

	_, _, err := run(t, "reindex")

	assert.Error(t, err)
}

func TestRootCmd_InvalidProjectConfigOnlyFailsCommandsThatNeedIt(t *testing.T) {
	// Given: a broken project config
	dir := isolate(t)
	writeFile(t, filepath.Join(dir, ".fabindex.yaml"), "crawl: [unterminated\n")

	// When: running a command that does not read config
	_, _, err := run(t, "version", "--short")

	// Then: it still works
	require.NoError(t, err)

	// And: commands that read config report the parse error
	_, _, err = run(t, "config", "show")
	assert.True(t, fierrors.HasCode(err, fierrors.ErrCodeConfigInvalid))
}

func TestVersionCmd(t *testing.T) {
	isolate(t)

	tests := []struct {
		name  string
		args  []string
		check func(t *testing.T, out string)
	}{
		{
			name: "default",
			args: []string{"version"},
			check: func(t *testing.T, out string) {
				assert.True(t, strings.HasPrefix(out, "fabindex "))
				assert.Contains(t, out, runtime.GOOS+"/"+runtime.GOARCH)
			},
		},
		{
			name: "short",
			args: []string{"version", "--short"},
			check: func(t *testing.T, out string) {
				assert.Equal(t, version.Short()+"\n", out)
			},
		},
		{
			name: "json",
			args: []string{"version", "--json"},
			check: func(t *testing.T, out string) {
				var info version.BuildInfo
				require.NoError(t, json.Unmarshal([]byte(out), &info))
				assert.Equal(t, runtime.GOOS, info.OS)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, _, err := run(t, tt.args...)
			require.NoError(t, err)
			tt.check(t, out)
		})
	}
}

func TestRootCmd_ProfileFlags(t *testing.T) {
	dir := isolate(t)
	heap := filepath.Join(dir, "heap.prof")
	cpu := filepath.Join(dir, "cpu.prof")

	_, _, err := run(t, "version", "--profile-mem", heap, "--profile-cpu", cpu)

	require.NoError(t, err)
	assert.FileExists(t, heap)
	assert.FileExists(t, cpu)
}

func TestRootCmd_DebugWritesLogFile(t *testing.T) {
	isolate(t)

	_, _, err := run(t, "--debug", "config", "path")

	require.NoError(t, err)
	data, err := os.ReadFile(logging.DefaultLogPath())
	require.NoError(t, err)
	assert.Contains(t, string(data), "debug_logging_enabled")
}
