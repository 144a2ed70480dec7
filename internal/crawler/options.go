package crawler

import (
	"fmt"
	"log/slog"

	"github.com/Aman-CERP/fabindex/internal/contentstore"
	"github.com/Aman-CERP/fabindex/internal/telemetry"
)

// LinkMode controls what a followed metadata link contributes to.
type LinkMode string

const (
	// LinkInline merges the link target into the current document.
	LinkInline LinkMode = "inline"
	// LinkDocument indexes a link into another object as its own document.
	// Links within the same object stay inline.
	LinkDocument LinkMode = "document"
)

// ParseLinkMode parses a link mode name. The empty string is LinkInline.
func ParseLinkMode(s string) (LinkMode, error) {
	switch LinkMode(s) {
	case "", LinkInline:
		return LinkInline, nil
	case LinkDocument:
		return LinkDocument, nil
	default:
		return "", fmt.Errorf("unknown link mode %q (want %q or %q)", s, LinkInline, LinkDocument)
	}
}

// VersionSelection controls which version of the root content is crawled.
type VersionSelection string

const (
	// VersionLatest picks the version flagged latest, else the most recently
	// committed one.
	VersionLatest VersionSelection = "latest"
	// VersionFirst picks the first version the store lists.
	VersionFirst VersionSelection = "first"
)

// ParseVersionSelection parses a version selection name. The empty string
// is VersionLatest.
func ParseVersionSelection(s string) (VersionSelection, error) {
	switch VersionSelection(s) {
	case "", VersionLatest:
		return VersionLatest, nil
	case VersionFirst:
		return VersionFirst, nil
	default:
		return "", fmt.Errorf("unknown version selection %q (want %q or %q)", s, VersionLatest, VersionFirst)
	}
}

// Option configures a Crawler.
type Option func(*Crawler)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *Crawler) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithMetrics records crawl metrics.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(c *Crawler) {
		c.metrics = m
	}
}

// WithLinkMode sets how links are followed. Defaults to LinkInline.
func WithLinkMode(m LinkMode) Option {
	return func(c *Crawler) {
		c.linkMode = m
	}
}

// WithVersionSelection sets how the root version is chosen. Defaults to VersionLatest.
func WithVersionSelection(v VersionSelection) Option {
	return func(c *Crawler) {
		c.versions = v
	}
}

// WithPrefetcher fetches the link targets found under one metadata object
// concurrently before they are walked. p should warm the store the crawler
// reads from, typically the same *contentstore.CachedStore.
func WithPrefetcher(p contentstore.Prefetcher, workers int) Option {
	return func(c *Crawler) {
		c.prefetcher = p
		c.workers = workers
	}
}

// WithIndexDir builds the index in dir. A previous index there is replaced.
// Without it each crawl builds in a temporary directory that is removed
// once the artifact is written.
func WithIndexDir(dir string) Option {
	return func(c *Crawler) {
		c.indexDir = dir
	}
}

// WithArtifactDir writes archived indexes to dir. Defaults to the parent of
// the index directory, or the working directory for temporary builds.
func WithArtifactDir(dir string) Option {
	return func(c *Crawler) {
		c.artifactDir = dir
	}
}
