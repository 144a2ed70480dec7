package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/Aman-CERP/fabindex/internal/config"
	"github.com/Aman-CERP/fabindex/internal/indexconfig"
	"github.com/Aman-CERP/fabindex/internal/output"
	"github.com/Aman-CERP/fabindex/internal/pathtrie"
)

func newConfigCmd(g *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Check index configurations and manage user configuration",
		Long: `Check index configurations and manage the fabindex configuration.

Configuration precedence (lowest to highest):
  1. Hardcoded defaults
  2. User config (~/.config/fabindex/config.yaml)
  3. Project config (.fabindex.yaml)
  4. Environment variables (FABINDEX_*)
  5. Command flags`,
		Example: `  # Show how an index config maps metadata paths to fields
  fabindex config check index.json

  # Create user config with defaults
  fabindex config init

  # Show effective configuration
  fabindex config show`,
	}

	cmd.AddCommand(newConfigCheckCmd())
	cmd.AddCommand(newConfigInitCmd())
	cmd.AddCommand(newConfigShowCmd(g))
	cmd.AddCommand(newConfigPathCmd())

	return cmd
}

func newConfigCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check <index-config>",
		Short: "Parse an index config and print its path trie",
		Long: `Parse an index configuration and print the trie of metadata paths it
reads, with the fields registered at each node.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := indexconfig.ParseFile(args[0])
			if err != nil {
				return err
			}
			out := output.New(cmd.OutOrStdout())
			out.Successf("%s: %d fields, %d paths", args[0], len(cfg.Indexer.Fields), cfg.Indexer.PathCount())
			out.KeyValue([][2]string{
				{"indexer", cfg.Indexer.Type},
				{"root", cfg.Fabric.Root.Library + "/" + cfg.Fabric.Root.Content},
			})
			out.Newline()
			out.Header("Path trie")
			printTrie(cmd.OutOrStdout(), pathtrie.Build(cfg.Indexer.Fields))
			return nil
		},
	}
}

// printTrie writes one line per node, indented by depth, followed by the
// registrations terminating there.
func printTrie(w io.Writer, root *pathtrie.Node) {
	root.Walk(func(n *pathtrie.Node) bool {
		depth := 0
		label := "(root)"
		if p := n.Path(); p != "" {
			parts := strings.Split(p, ".")
			depth = len(parts)
			label = parts[len(parts)-1]
		}
		indent := strings.Repeat("  ", depth)
		_, _ = fmt.Fprintf(w, "%s%s\n", indent, label)
		for _, r := range n.Fields() {
			_, _ = fmt.Fprintf(w, "%s  [%s] -> %s (%s) from %s\n",
				indent, r.Key, r.Field.Name, r.Field.Type, r.Path)
		}
		return true
	})
}

func newConfigInitCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create user configuration file",
		Long: `Create the user configuration file with defaults at
~/.config/fabindex/config.yaml (or $XDG_CONFIG_HOME/fabindex/config.yaml).
With --force an existing file is backed up and replaced.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := output.New(cmd.OutOrStdout())
			if config.UserConfigExists() && !force {
				out.Warning("User configuration already exists")
				out.Statusf("📁", "Location: %s", config.GetUserConfigPath())
				out.Status("💡", "Use --force to replace it with defaults (a backup is kept)")
				return nil
			}
			path, backup, err := config.InitUserConfig(force)
			if err != nil {
				return err
			}
			out.Success("Created user configuration")
			out.Statusf("📁", "Location: %s", path)
			if backup != "" {
				out.Statusf("💾", "Backup: %s", backup)
				if backups, err := config.ListUserConfigBackups(); err == nil {
					out.Dim(fmt.Sprintf("%d of %d backups kept", len(backups), config.MaxBackups))
				}
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Overwrite existing configuration")
	return cmd
}

func newConfigShowCmd(g *globalOptions) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show effective configuration",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := g.config()
			if err != nil {
				return err
			}
			if jsonOutput {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(cfg)
			}
			data, err := yaml.Marshal(cfg)
			if err != nil {
				return fmt.Errorf("failed to marshal config: %w", err)
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

func newConfigPathCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Print user config file path",
		Long:  `Print the path to the user configuration file.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintln(cmd.OutOrStdout(), config.GetUserConfigPath())
			return err
		},
	}
}
