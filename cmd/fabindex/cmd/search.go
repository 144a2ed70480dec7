package cmd

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/fabindex/internal/output"
	"github.com/Aman-CERP/fabindex/internal/searcher"
	"github.com/Aman-CERP/fabindex/internal/telemetry"
)

// searchOptions holds CLI flags for search.
type searchOptions struct {
	fields     []string
	limit      int
	jsonOutput bool
}

func newSearchCmd(g *globalOptions) *cobra.Command {
	var opts searchOptions

	cmd := &cobra.Command{
		Use:   "search <index-dir|artifact> <query>",
		Short: "Search a built index",
		Long: `Search an index directory or an archived index artifact.

Without --field the query is parsed as a query string over all fields,
for example "title:pilot +year:1999". With --field the query text is
matched against the named fields only.`,
		Example: `  fabindex search ./index-sha256-ab12.tar.gz pilot
  fabindex search ./index "night shift" --field title --limit 5
  fabindex search ./index 'year:1999' --json`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := strings.Join(args[1:], " ")
			return runSearch(cmd.Context(), cmd, args[0], query, opts)
		},
	}

	cmd.Flags().StringSliceVarP(&opts.fields, "field", "f", nil, "Restrict the search to a field (repeatable)")
	cmd.Flags().IntVarP(&opts.limit, "limit", "n", searcher.DefaultLimit, "Maximum number of results")
	cmd.Flags().BoolVar(&opts.jsonOutput, "json", false, "Output results as JSON")

	return cmd
}

func runSearch(ctx context.Context, cmd *cobra.Command, path, query string, opts searchOptions) error {
	slog.Info("search_started", slog.String("query", query), slog.Int("limit", opts.limit))

	qm := telemetry.NewQueryMetrics(0, nil)
	s, err := searcher.Open(ctx, path,
		searcher.WithLogger(slog.Default()),
		searcher.WithQueryMetrics(qm))
	if err != nil {
		return err
	}
	defer func() { _ = s.Close() }()

	res, err := s.Search(ctx, searcher.Query{Text: query, Fields: opts.fields, Limit: opts.limit})
	if err != nil {
		return err
	}
	snap := qm.Snapshot()
	slog.Debug("search_recorded",
		slog.Any("query_types", snap.QueryTypeCounts),
		slog.Int64("zero_results", snap.ZeroResultCount))

	if opts.jsonOutput {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}

	out := output.New(cmd.OutOrStdout())
	if len(res.Hits) == 0 {
		out.Warningf("No results for %q", query)
		return nil
	}
	out.Statusf("🔍", "%d of %d results for %q (%s)", len(res.Hits), res.Total, query, res.Took.Round(time.Microsecond))
	out.Newline()
	for i, h := range res.Hits {
		out.Hit(i+1, h.ID, h.Score, h.Fields)
	}
	return nil
}
