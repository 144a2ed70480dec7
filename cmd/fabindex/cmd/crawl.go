package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/Aman-CERP/fabindex/internal/config"
	"github.com/Aman-CERP/fabindex/internal/contentstore"
	"github.com/Aman-CERP/fabindex/internal/crawler"
	"github.com/Aman-CERP/fabindex/internal/engine"
	fierrors "github.com/Aman-CERP/fabindex/internal/errors"
	"github.com/Aman-CERP/fabindex/internal/indexconfig"
	"github.com/Aman-CERP/fabindex/internal/meta"
	"github.com/Aman-CERP/fabindex/internal/output"
	"github.com/Aman-CERP/fabindex/internal/telemetry"
	"github.com/Aman-CERP/fabindex/internal/watcher"
)

// configObjectSubpath is where an index object keeps its own configuration.
const configObjectSubpath = "indexer/config"

// crawlOptions holds CLI flags for crawl.
type crawlOptions struct {
	configObject     string
	store            string
	storePath        string
	snapshot         string
	indexDir         string
	artifactDir      string
	linkMode         string
	versionSelection string
	metricsFile      string
	watch            bool
	jsonOutput       bool
}

func newCrawlCmd(g *globalOptions) *cobra.Command {
	var opts crawlOptions

	cmd := &cobra.Command{
		Use:   "crawl [index-config]",
		Short: "Crawl content metadata and build an index artifact",
		Long: `Crawl the content tree named by an index configuration, extract the
configured fields and archive the resulting index.

The configuration is read from a JSON or YAML file, or with --config-object
from the metadata of an index object in the content store.`,
		Example: `  fabindex crawl index.json --store memory --snapshot catalog.json
  fabindex crawl --config-object ilib1/hq__idx --artifact-dir ./out
  fabindex crawl index.yaml --watch --metrics-file crawl.prom`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.config()
			if err != nil {
				return err
			}
			var configPath string
			if len(args) == 1 {
				configPath = args[0]
			}
			if (configPath == "") == (opts.configObject == "") {
				return fierrors.New(fierrors.ErrCodeConfigMissingKey,
					"crawl needs either an index config file or --config-object", nil)
			}
			cfg, err = opts.apply(cfg)
			if err != nil {
				return err
			}
			return runCrawl(cmd.Context(), cmd, cfg, configPath, opts)
		},
	}

	cmd.Flags().StringVar(&opts.configObject, "config-object", "", "Read the index config from <library>/<hash> in the store")
	cmd.Flags().StringVar(&opts.store, "store", "", "Content store backend: sqlite, memory")
	cmd.Flags().StringVar(&opts.storePath, "store-path", "", "SQLite database file")
	cmd.Flags().StringVar(&opts.snapshot, "snapshot", "", "JSON snapshot loaded into the store before crawling")
	cmd.Flags().StringVar(&opts.indexDir, "index-dir", "", "Index build directory (default: temporary)")
	cmd.Flags().StringVar(&opts.artifactDir, "artifact-dir", "", "Directory receiving the index archive")
	cmd.Flags().StringVar(&opts.linkMode, "link-mode", "", "Link handling: inline, document")
	cmd.Flags().StringVar(&opts.versionSelection, "version-selection", "", "Root version: latest, first")
	cmd.Flags().StringVar(&opts.metricsFile, "metrics-file", "", "Write crawl metrics in Prometheus text format")
	cmd.Flags().BoolVar(&opts.watch, "watch", false, "Re-crawl when the config or snapshot changes")
	cmd.Flags().BoolVar(&opts.jsonOutput, "json", false, "Output the crawl result as JSON")

	return cmd
}

// apply returns a copy of cfg with the flags that were set taking precedence.
func (o crawlOptions) apply(cfg *config.Config) (*config.Config, error) {
	c := *cfg
	set := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	set(&c.Store.Backend, o.store)
	set(&c.Store.Path, o.storePath)
	set(&c.Store.Snapshot, o.snapshot)
	set(&c.Index.Dir, o.indexDir)
	set(&c.Index.ArtifactDir, o.artifactDir)
	set(&c.Crawl.LinkMode, o.linkMode)
	set(&c.Crawl.VersionSelection, o.versionSelection)
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func runCrawl(ctx context.Context, cmd *cobra.Command, cfg *config.Config, configPath string, opts crawlOptions) error {
	out := output.New(cmd.OutOrStdout())

	if !opts.watch {
		return crawlOnce(ctx, cmd, out, cfg, configPath, opts)
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	return watchAndCrawl(ctx, cmd, out, cfg, configPath, opts)
}

// crawlOnce opens a fresh store stack, runs one crawl and reports it.
func crawlOnce(ctx context.Context, cmd *cobra.Command, out *output.Writer, cfg *config.Config, configPath string, opts crawlOptions) error {
	store, err := openStoreStack(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	idxCfg, err := loadIndexConfig(ctx, store, configPath, opts.configObject)
	if err != nil {
		return err
	}

	linkMode, err := crawler.ParseLinkMode(cfg.Crawl.LinkMode)
	if err != nil {
		return err
	}
	versions, err := crawler.ParseVersionSelection(cfg.Crawl.VersionSelection)
	if err != nil {
		return err
	}

	metrics := telemetry.NewMetrics()
	crawlOpts := []crawler.Option{
		crawler.WithLogger(slog.Default()),
		crawler.WithMetrics(metrics),
		crawler.WithLinkMode(linkMode),
		crawler.WithVersionSelection(versions),
		crawler.WithIndexDir(cfg.Index.Dir),
		crawler.WithArtifactDir(cfg.Index.ArtifactDir),
	}
	if cfg.Crawl.PrefetchWorkers > 0 {
		crawlOpts = append(crawlOpts, crawler.WithPrefetcher(store, cfg.Crawl.PrefetchWorkers))
	}

	c, err := crawler.New(store, engine.NewBleveEngine(slog.Default()), crawlOpts...)
	if err != nil {
		return err
	}

	res, crawlErr := c.Crawl(ctx, idxCfg)

	// Metrics are written for failed crawls too.
	if opts.metricsFile != "" {
		if err := metrics.WriteToTextfile(opts.metricsFile); err != nil {
			slog.Warn("metrics_write_failed", slog.String("path", opts.metricsFile), slog.String("error", err.Error()))
		}
	}
	if crawlErr != nil {
		return crawlErr
	}

	if opts.jsonOutput {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}
	printCrawlResult(out, res)
	return nil
}

func printCrawlResult(out *output.Writer, res *crawler.Result) {
	out.Successf("Indexed %d documents", res.Documents)
	out.KeyValue([][2]string{
		{"artifact", res.Artifact.Path},
		{"digest", res.Artifact.Digest},
		{"size", humanize.IBytes(uint64(res.Artifact.Size))},
		{"root", res.RootHash},
		{"objects", strconv.Itoa(res.Objects)},
		{"fields", strconv.Itoa(res.Fields)},
		{"links", strconv.Itoa(res.Links)},
		{"duration", res.Duration.Round(time.Millisecond).String()},
	})
}

// loadIndexConfig reads the index configuration from a file, or from an
// object's metadata when object is "<library>/<hash>".
func loadIndexConfig(ctx context.Context, store contentstore.Store, path, object string) (*indexconfig.Config, error) {
	if path != "" {
		return indexconfig.ParseFile(path)
	}

	library, hash, ok := strings.Cut(object, "/")
	if !ok || library == "" || hash == "" {
		return nil, fierrors.ConfigError("config-object",
			fmt.Sprintf("config object %q is not <library>/<hash>", object))
	}
	v, err := store.GetMetadata(ctx, library, hash, configObjectSubpath)
	if err != nil {
		return nil, err
	}
	doc, ok := meta.AsObject(v)
	if !ok {
		return nil, fierrors.New(fierrors.ErrCodeConfigInvalid,
			fmt.Sprintf("%s of %s is a %s, not an object", configObjectSubpath, object, meta.Kind(v)), nil).
			WithDetail("object", object)
	}
	return indexconfig.ParseValue(doc)
}

// watchAndCrawl crawls once, then again after every change to the config
// file or the snapshot, until ctx is done. Failed crawls are reported and
// the watch goes on.
func watchAndCrawl(ctx context.Context, cmd *cobra.Command, out *output.Writer, cfg *config.Config, configPath string, opts crawlOptions) error {
	var paths []string
	if configPath != "" {
		paths = append(paths, configPath)
	}
	if cfg.Store.Snapshot != "" {
		paths = append(paths, cfg.Store.Snapshot)
	}
	if len(paths) == 0 {
		return fierrors.New(fierrors.ErrCodeConfigMissingKey,
			"--watch needs an index config file or a snapshot to watch", nil)
	}

	w, err := watcher.NewHybridWatcher(watcher.Options{
		DebounceWindow: cfg.WatchDebounce(),
		Logger:         slog.Default(),
	})
	if err != nil {
		return err
	}
	defer func() { _ = w.Stop() }()
	started := make(chan error, 1)
	go func() { started <- w.Start(ctx, paths...) }()
	slog.Info("watch_started", slog.Any("paths", paths), slog.String("watcher", w.WatcherType()))

	crawl := func() {
		if err := crawlOnce(ctx, cmd, out, cfg, configPath, opts); err != nil {
			if ctx.Err() != nil {
				return
			}
			out.Error(strings.TrimSpace(fierrors.FormatForCLI(err)))
		}
	}
	crawl()
	out.Statusf("👀", "Watching %s (Ctrl+C to stop)", strings.Join(paths, ", "))

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-started:
			if err != nil && ctx.Err() == nil {
				return fierrors.New(fierrors.ErrCodeInternal, "file watch stopped", err)
			}
			return nil
		case err, ok := <-w.Errors():
			if !ok {
				return nil
			}
			slog.Warn("watch_error", slog.String("error", err.Error()))
		case batch, ok := <-w.Events():
			if !ok {
				return nil
			}
			for _, ev := range batch {
				slog.Info("watch_change", slog.String("path", ev.Path), slog.String("op", ev.Operation.String()))
			}
			crawl()
		}
	}
}
