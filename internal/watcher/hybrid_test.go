package watcher

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startHybrid(t *testing.T, opts Options, paths ...string) *HybridWatcher {
	t.Helper()
	w, err := NewHybridWatcher(opts)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(func() {
		cancel()
		_ = w.Stop()
	})
	go func() { _ = w.Start(ctx, paths...) }()
	time.Sleep(100 * time.Millisecond)
	return w
}

func TestHybridWatcher_ReportsWatchedFile(t *testing.T) {
	for _, polling := range []bool{false, true} {
		name := "fsnotify"
		if polling {
			name = "polling"
		}
		t.Run(name, func(t *testing.T) {
			// Given: a watched config next to an unwatched file
			dir := t.TempDir()
			target := filepath.Join(dir, "index.json")
			require.NoError(t, os.WriteFile(target, []byte(`{}`), 0o644))
			w := startHybrid(t, Options{
				DebounceWindow: 30 * time.Millisecond,
				PollInterval:   20 * time.Millisecond,
				ForcePolling:   polling,
			}, target)
			if polling {
				assert.Equal(t, "polling", w.WatcherType())
			}

			// When: both files change
			require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644))
			require.NoError(t, os.WriteFile(target, []byte(`{"title": {}}`), 0o644))

			// Then: one batch names only the watched file
			events := receiveBatch(t, w.Events())
			require.Len(t, events, 1)
			assert.Equal(t, target, events[0].Path)
		})
	}
}

func TestHybridWatcher_SaveByRename(t *testing.T) {
	// Given: a watched file
	dir := t.TempDir()
	target := filepath.Join(dir, "index.json")
	require.NoError(t, os.WriteFile(target, []byte(`{}`), 0o644))
	w := startHybrid(t, Options{DebounceWindow: 30 * time.Millisecond}, target)

	// When: an editor writes a temp file and renames it over the target
	tmp := filepath.Join(dir, ".index.json.swp")
	require.NoError(t, os.WriteFile(tmp, []byte(`{"a": {}}`), 0o644))
	require.NoError(t, os.Rename(tmp, target))

	// Then: the target is reported
	events := receiveBatch(t, w.Events())
	require.NotEmpty(t, events)
	assert.Equal(t, target, events[0].Path)
}

func TestHybridWatcher_StartWithoutPaths(t *testing.T) {
	w, err := NewHybridWatcher(DefaultOptions())
	require.NoError(t, err)
	defer w.Stop()

	assert.Error(t, w.Start(context.Background()))
}

func TestHybridWatcher_StopIsIdempotent(t *testing.T) {
	w, err := NewHybridWatcher(DefaultOptions())
	require.NoError(t, err)

	require.NoError(t, w.Stop())
	require.NoError(t, w.Stop())

	_, open := <-w.Events()
	assert.False(t, open)
	_, open = <-w.Errors()
	assert.False(t, open)
}

func TestNewHybridWatcher_InvalidOptions(t *testing.T) {
	_, err := NewHybridWatcher(Options{PollInterval: -time.Second})
	assert.Error(t, err)
}
