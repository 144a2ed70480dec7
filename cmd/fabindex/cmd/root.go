// Package cmd provides the CLI commands for fabindex.
package cmd

import (
	"fmt"
	"log/slog"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/Aman-CERP/fabindex/internal/config"
	"github.com/Aman-CERP/fabindex/internal/logging"
	"github.com/Aman-CERP/fabindex/internal/profiling"
	"github.com/Aman-CERP/fabindex/pkg/version"
)

// globalOptions is the state shared by all subcommands of one invocation.
type globalOptions struct {
	debug    bool
	logLevel string
	profile  profiling.Options

	cfg            *config.Config
	cfgErr         error
	loggingCleanup func()
	profiler       *profiling.Session
}

// config returns the configuration loaded for this run, or the load error.
func (g *globalOptions) config() (*config.Config, error) {
	if g.cfgErr != nil {
		return nil, g.cfgErr
	}
	if g.cfg == nil {
		return config.NewConfig(), nil
	}
	return g.cfg, nil
}

// NewRootCmd creates the root command for the fabindex CLI.
func NewRootCmd() *cobra.Command {
	cmd, _ := newRootCmd()
	return cmd
}

func newRootCmd() (*cobra.Command, *globalOptions) {
	g := &globalOptions{}

	cmd := &cobra.Command{
		Use:   "fabindex",
		Short: "Build searchable indexes from content metadata",
		Long: `fabindex crawls the metadata of a content tree, extracts the fields
named by an index configuration and writes them into a full-text index
archived as a single artifact.

Start with 'fabindex config check <file>' to see how a configuration maps
metadata paths to fields, then 'fabindex crawl <file>'.`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.SetVersionTemplate("fabindex version {{.Version}}\n")

	cmd.PersistentFlags().BoolVar(&g.debug, "debug", false, "Enable debug logging to ~/.fabindex/logs/")
	cmd.PersistentFlags().StringVar(&g.logLevel, "log-level", "", "Log level: debug, info, warn, error")
	cmd.PersistentFlags().StringVar(&g.profile.CPU, "profile-cpu", "", "Write CPU profile to file")
	cmd.PersistentFlags().StringVar(&g.profile.Heap, "profile-mem", "", "Write memory profile to file")
	cmd.PersistentFlags().StringVar(&g.profile.Trace, "profile-trace", "", "Write execution trace to file")

	cmd.PersistentPreRunE = func(c *cobra.Command, _ []string) error {
		return g.start(c)
	}
	cmd.PersistentPostRunE = func(_ *cobra.Command, _ []string) error {
		return g.stop()
	}

	cmd.AddCommand(newCrawlCmd(g))
	cmd.AddCommand(newSearchCmd(g))
	cmd.AddCommand(newConfigCmd(g))
	cmd.AddCommand(newStoreCmd(g))
	cmd.AddCommand(newLogsCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd, g
}

// start loads the configuration and installs the default logger.
// A configuration error is kept for the commands that need it, so that
// 'config init --force' can still repair a broken file.
func (g *globalOptions) start(cmd *cobra.Command) error {
	g.cfg, g.cfgErr = config.Load(".")

	logCfg := logging.DefaultConfig()
	logCfg.Stderr = cmd.ErrOrStderr()
	logCfg.Level = "warn"
	if g.cfg != nil {
		logCfg.MaxSizeMB = g.cfg.Logging.MaxSizeMB
		logCfg.MaxFiles = g.cfg.Logging.MaxFiles
	}
	if g.logLevel != "" {
		logCfg.Level = g.logLevel
	}
	if g.debug {
		logCfg.Level = "debug"
		logCfg.FilePath = logging.DefaultLogPath()
		logCfg.WriteToStderr = false
	}

	cleanup, err := logging.SetupDefault(logCfg)
	if err != nil {
		return fmt.Errorf("failed to setup logging: %w", err)
	}
	g.loggingCleanup = cleanup
	if g.debug {
		slog.Info("debug_logging_enabled",
			slog.String("log_file", logCfg.FilePath),
			slog.String("version", version.Short()))
	}

	if g.profile.Enabled() {
		p, err := profiling.Start(g.profile)
		if err != nil {
			return err
		}
		g.profiler = p
	}
	return nil
}

// stop writes the requested profiles and closes the log file.
func (g *globalOptions) stop() error {
	var err error
	if g.profiler != nil {
		err = g.profiler.Stop()
		slog.Debug("profiling_stopped", slog.String("heap_in_use", humanize.IBytes(profiling.HeapInUse())))
		g.profiler = nil
	}
	if g.loggingCleanup != nil {
		g.loggingCleanup()
		g.loggingCleanup = nil
	}
	return err
}

// Execute runs the root command. Profiles and logs are flushed even when
// the command fails, since cobra skips post-run hooks on error.
func Execute() error {
	cmd, g := newRootCmd()
	err := cmd.Execute()
	if stopErr := g.stop(); err == nil {
		err = stopErr
	}
	return err
}
