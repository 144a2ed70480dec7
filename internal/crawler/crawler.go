// Package crawler walks content metadata and turns it into index documents.
//
// A crawl starts at the root content named by the index configuration,
// resolves it to a version hash, and walks the metadata of that version in
// lock-step with the path trie built from the configured fields. Every
// configured path that exists in the metadata contributes its value to the
// current document. Links between objects are followed through the content
// store. The committed index is archived into a content-addressed artifact.
package crawler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/Aman-CERP/fabindex/internal/contentstore"
	"github.com/Aman-CERP/fabindex/internal/engine"
	fierrors "github.com/Aman-CERP/fabindex/internal/errors"
	"github.com/Aman-CERP/fabindex/internal/indexconfig"
	"github.com/Aman-CERP/fabindex/internal/pathtrie"
	"github.com/Aman-CERP/fabindex/internal/telemetry"
)

// Crawler builds an index from content metadata.
// A Crawler may run several crawls, one at a time or concurrently with
// distinct index directories.
type Crawler struct {
	store       contentstore.Store
	engine      engine.Engine
	logger      *slog.Logger
	metrics     *telemetry.Metrics
	linkMode    LinkMode
	versions    VersionSelection
	prefetcher  contentstore.Prefetcher
	workers     int
	indexDir    string
	artifactDir string
}

// Result describes a finished crawl.
type Result struct {
	// Artifact is the archived index.
	Artifact *engine.Artifact `json:"artifact"`
	// RootHash is the version hash the crawl started from.
	RootHash string `json:"root_hash"`
	// Objects is the number of metadata fetches, links included.
	Objects int `json:"objects"`
	// Documents is the number of documents written.
	Documents int `json:"documents"`
	// Fields is the number of field values written.
	Fields int `json:"fields"`
	// Links is the number of links followed.
	Links int `json:"links"`
	// Duration is the wall time of the crawl.
	Duration time.Duration `json:"duration"`
}

// New creates a Crawler reading from store and writing through eng.
func New(store contentstore.Store, eng engine.Engine, opts ...Option) (*Crawler, error) {
	if store == nil {
		return nil, fmt.Errorf("content store is required")
	}
	if eng == nil {
		return nil, fmt.Errorf("index engine is required")
	}

	c := &Crawler{
		store:    store,
		engine:   eng,
		logger:   slog.Default(),
		linkMode: LinkInline,
		versions: VersionLatest,
	}
	for _, opt := range opts {
		opt(c)
	}

	if _, err := ParseLinkMode(string(c.linkMode)); err != nil {
		return nil, err
	}
	if _, err := ParseVersionSelection(string(c.versions)); err != nil {
		return nil, err
	}
	if c.prefetcher != nil && c.workers <= 0 {
		c.workers = 4
	}
	return c, nil
}

// Crawl indexes the content tree described by cfg. Either the whole crawl
// succeeds and its artifact is returned, or nothing is committed and the
// first error is returned.
func (c *Crawler) Crawl(ctx context.Context, cfg *indexconfig.Config) (res *Result, err error) {
	if cfg == nil {
		return nil, fierrors.New(fierrors.ErrCodeConfigInvalid, "no index configuration", nil)
	}

	start := time.Now()
	root := cfg.Fabric.Root
	logger := c.logger.With(
		slog.String("content", root.Content),
		slog.String("library", root.Library))

	defer func() {
		elapsed := time.Since(start)
		if err != nil {
			code := fierrors.GetCode(err)
			if code == "" {
				code = "unknown"
			}
			c.metrics.CrawlFinished(elapsed, code)
			logger.LogAttrs(ctx, slog.LevelError, "crawl_failed", fierrors.LogAttrs(err)...)
			return
		}
		res.Duration = elapsed
		c.metrics.CrawlFinished(elapsed, "")
	}()

	logger.Info("crawl_started",
		slog.Int("fields", len(cfg.Indexer.Fields)),
		slog.String("link_mode", string(c.linkMode)))

	indexDir, artifactDir, cleanup, err := c.dirs()
	if err != nil {
		return nil, err
	}
	defer cleanup()

	idx, err := c.buildIndex(cfg.Indexer.Fields, indexDir)
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := idx.Close(); cerr != nil {
			logger.Warn("index_close_failed", slog.String("error", cerr.Error()))
		}
	}()

	rootHash, err := c.resolveRoot(ctx, root)
	if err != nil {
		return nil, err
	}
	logger.Info("root_version_selected", slog.String("hash", rootHash))

	trie := pathtrie.Build(cfg.Indexer.Fields)

	w, err := idx.NewWriter(ctx)
	if err != nil {
		return nil, err
	}
	committed := false
	defer func() {
		if !committed {
			_ = w.Rollback()
		}
	}()

	res = &Result{RootHash: rootHash}
	st := newCrawlState(w, res)
	st.enqueue(objectJob{library: root.Library, hash: rootHash, node: trie})

	for len(st.queue) > 0 {
		job := st.queue[0]
		st.queue = st.queue[1:]
		if err := c.crawlObject(ctx, st, job); err != nil {
			return nil, err
		}
	}

	if err := w.Commit(ctx); err != nil {
		return nil, err
	}
	committed = true

	art, err := idx.Archive(ctx, artifactDir)
	if err != nil {
		return nil, err
	}
	res.Artifact = art

	logger.Info("crawl_completed",
		slog.String("hash", rootHash),
		slog.String("digest", art.Digest),
		slog.Int("objects", res.Objects),
		slog.Int("documents", res.Documents),
		slog.Int("fields", res.Fields),
		slog.Int("links", res.Links),
		slog.Duration("elapsed", time.Since(start)))
	return res, nil
}

// dirs returns where to build and where to archive. cleanup removes a
// temporary build directory.
func (c *Crawler) dirs() (indexDir, artifactDir string, cleanup func(), err error) {
	cleanup = func() {}
	indexDir, artifactDir = c.indexDir, c.artifactDir

	if indexDir == "" {
		tmp, err := os.MkdirTemp("", "fabindex-build-*")
		if err != nil {
			return "", "", nil, fierrors.New(fierrors.ErrCodeIndexFailed, "cannot create build directory", err)
		}
		indexDir = filepath.Join(tmp, "index")
		cleanup = func() { _ = os.RemoveAll(tmp) }
		if artifactDir == "" {
			artifactDir = "."
		}
	}
	return indexDir, artifactDir, cleanup, nil
}

// buildIndex declares one schema field per configured field.
func (c *Crawler) buildIndex(fields []indexconfig.FieldConfig, dir string) (engine.Index, error) {
	builder, err := c.engine.NewSchemaBuilder(dir)
	if err != nil {
		return nil, err
	}
	for _, f := range fields {
		opts, err := engine.ParseFieldOptions(f.Name, string(f.Type), f.Options)
		if err != nil {
			return nil, err
		}
		if _, err := builder.AddTextField(f.Name, opts); err != nil {
			return nil, err
		}
	}
	return builder.Build()
}

// resolveRoot picks the version of the root content to crawl.
func (c *Crawler) resolveRoot(ctx context.Context, root indexconfig.RootConfig) (string, error) {
	versions, err := c.store.GetVersions(ctx, root.Content)
	if err != nil {
		return "", err
	}
	v, ok := SelectVersion(versions, c.versions)
	if !ok {
		return "", fierrors.NotFound(root.Library, root.Content).
			WithDetail("content", root.Content).
			WithSuggestion("the root content has no committed versions")
	}
	return v.Hash, nil
}

// SelectVersion picks a version from vs, which the store lists most recent
// first. VersionLatest prefers the entry flagged Latest, then the greatest
// CommittedAt, then the first entry. VersionFirst takes the first entry.
func SelectVersion(vs []contentstore.Version, mode VersionSelection) (contentstore.Version, bool) {
	if len(vs) == 0 {
		return contentstore.Version{}, false
	}
	if mode == VersionFirst {
		return vs[0], true
	}
	best := vs[0]
	for _, v := range vs {
		if v.Latest {
			return v, true
		}
		if v.CommittedAt.After(best.CommittedAt) {
			best = v
		}
	}
	return best, true
}

// isCanceled reports whether err is a context error.
func isCanceled(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
