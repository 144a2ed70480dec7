// Package watcher reports changes to a fixed set of files, used by
// `fabindex crawl --watch` to re-run a crawl when the index configuration or
// the store snapshot is edited.
//
// fsnotify watches the parent directory of every target, so editors that
// save by renaming a temporary file over the target are still seen. When
// fsnotify is unavailable the watcher falls back to polling file stats.
// Events are debounced into batches to coalesce bursts of writes.
//
// Usage:
//
//	w, err := watcher.NewHybridWatcher(watcher.DefaultOptions())
//	if err != nil {
//	    return err
//	}
//	defer w.Stop()
//
//	go func() { _ = w.Start(ctx, "index.json", "snapshot.json") }()
//
//	for batch := range w.Events() {
//	    // re-crawl
//	}
package watcher
