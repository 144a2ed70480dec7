package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/fabindex/internal/config"
	"github.com/Aman-CERP/fabindex/internal/contentstore"
	fierrors "github.com/Aman-CERP/fabindex/internal/errors"
	"github.com/Aman-CERP/fabindex/internal/output"
)

func newStoreCmd(g *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "store",
		Short: "Manage the local content store",
	}
	cmd.AddCommand(newStoreImportCmd(g))
	return cmd
}

func newStoreImportCmd(g *globalOptions) *cobra.Command {
	var storePath string

	cmd := &cobra.Command{
		Use:   "import <snapshot.json>",
		Short: "Load a snapshot into the SQLite content store",
		Long: `Load the objects of a JSON snapshot into the SQLite content store.
Objects already present are replaced.`,
		Example: `  fabindex store import catalog.json
  fabindex store import catalog.json --store-path ./store.db`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.config()
			if err != nil {
				return err
			}
			if storePath == "" {
				storePath = cfg.Store.Path
			}
			return runStoreImport(cmd.Context(), cmd, args[0], storePath)
		},
	}

	cmd.Flags().StringVar(&storePath, "store-path", "", "SQLite database file (default from config)")
	return cmd
}

func runStoreImport(ctx context.Context, cmd *cobra.Command, snapshotPath, storePath string) error {
	if storePath == "" {
		return fierrors.ConfigError("store.path", "store import needs a database file")
	}

	f, err := os.Open(snapshotPath)
	if err != nil {
		return fierrors.New(fierrors.ErrCodeConfigNotFound, "cannot open snapshot "+snapshotPath, err).
			WithDetail("path", snapshotPath)
	}
	defer func() { _ = f.Close() }()

	s, err := contentstore.NewSQLiteStore(storePath)
	if err != nil {
		return fierrors.New(fierrors.ErrCodeStoreIO, "cannot open content store", err).
			WithDetail("path", storePath)
	}
	defer func() { _ = s.Close() }()

	n, err := s.ImportSnapshot(ctx, f)
	if err != nil {
		return err
	}
	slog.Info("snapshot_imported", slog.String("snapshot", snapshotPath),
		slog.String("store", storePath), slog.Int("objects", n))

	out := output.New(cmd.OutOrStdout())
	out.Successf("Imported %d objects into %s", n, storePath)
	return nil
}

// openStore opens the backend named by cfg and loads its snapshot, if any.
func openStore(ctx context.Context, cfg *config.Config) (contentstore.Store, error) {
	switch strings.ToLower(cfg.Store.Backend) {
	case "memory":
		s := contentstore.NewMemoryStore()
		if cfg.Store.Snapshot == "" {
			return s, nil
		}
		f, err := os.Open(cfg.Store.Snapshot)
		if err != nil {
			return nil, snapshotOpenError(cfg.Store.Snapshot, err)
		}
		defer func() { _ = f.Close() }()
		if err := s.LoadSnapshot(f); err != nil {
			return nil, err
		}
		return s, nil

	case "sqlite":
		s, err := contentstore.NewSQLiteStore(cfg.Store.Path)
		if err != nil {
			return nil, fierrors.New(fierrors.ErrCodeStoreIO, "cannot open content store", err).
				WithDetail("path", cfg.Store.Path)
		}
		if cfg.Store.Snapshot == "" {
			return s, nil
		}
		f, err := os.Open(cfg.Store.Snapshot)
		if err != nil {
			_ = s.Close()
			return nil, snapshotOpenError(cfg.Store.Snapshot, err)
		}
		defer func() { _ = f.Close() }()
		n, err := s.ImportSnapshot(ctx, f)
		if err != nil {
			_ = s.Close()
			return nil, err
		}
		slog.Debug("snapshot_imported", slog.String("snapshot", cfg.Store.Snapshot), slog.Int("objects", n))
		return s, nil

	default:
		return nil, fierrors.ConfigError("store.backend",
			fmt.Sprintf("unknown store backend %q", cfg.Store.Backend))
	}
}

// openStoreStack wraps the backend with retries and a metadata cache.
func openStoreStack(ctx context.Context, cfg *config.Config) (*contentstore.CachedStore, error) {
	base, err := openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	retryOpts := []contentstore.RetryOption{contentstore.WithRetryLogger(slog.Default())}
	if cfg.Retry.CircuitMaxFailures > 0 {
		cb := fierrors.NewCircuitBreaker("content-store",
			fierrors.WithMaxFailures(cfg.Retry.CircuitMaxFailures),
			fierrors.WithResetTimeout(cfg.CircuitResetTimeout()))
		retryOpts = append(retryOpts, contentstore.WithCircuitBreaker(cb))
	}
	retrying := contentstore.NewRetryingStore(base, cfg.RetryPolicy(), retryOpts...)
	return contentstore.NewCachedStore(retrying, cfg.Crawl.CacheSize), nil
}

func snapshotOpenError(path string, err error) error {
	return fierrors.New(fierrors.ErrCodeConfigNotFound, "cannot open snapshot "+path, err).
		WithDetail("path", path)
}
