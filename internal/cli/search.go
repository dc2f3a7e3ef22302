package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/DeafMist/market-news-radar/internal/newsroom"
	"github.com/DeafMist/market-news-radar/internal/vector"
)

func newSearchCmd(opts *options) *cobra.Command {
	var (
		limit int
		alpha float64
	)

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search analyzed news",
		Long: `Search ranks analyzed articles by a blend of embedding similarity and
keyword overlap. --alpha weighs the two: 1 is purely semantic, 0 purely
lexical.

Example:
  newsctl search "fed rate decision"
  newsctl search chip export controls --limit 10 --alpha 0.7`,
		Args: cobra.MinimumNArgs(1),
		PreRunE: func(cmd *cobra.Command, args []string) error {
			if limit <= 0 {
				return fmt.Errorf("--limit must be positive, got %d", limit)
			}
			if alpha < 0 || alpha > 1 {
				return fmt.Errorf("--alpha must be in [0, 1], got %v", alpha)
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			query := strings.Join(args, " ")
			return opts.run(cmd, func(ctx context.Context, svc Service) error {
				results, err := svc.Search(ctx, query, newsroom.SearchOptions{Limit: limit, Alpha: alpha})
				if err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				if opts.jsonOut {
					return writeJSON(out, results)
				}
				if len(results) == 0 {
					fmt.Fprintln(out, "no results")
					return nil
				}
				for i, r := range results {
					fmt.Fprintf(out, "%d. [%.3f] %s %s\n", i+1, r.Score, sentimentTag(r.Sentiment), r.Title)
					fmt.Fprintf(out, "      id=%s source=%s", r.ID, r.Source)
					if r.Partial {
						fmt.Fprint(out, " (pending)")
					}
					fmt.Fprintln(out)
				}
				return nil
			})
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 5, "number of results")
	cmd.Flags().Float64Var(&alpha, "alpha", vector.DefaultAlpha, "semantic weight in [0, 1]")
	return cmd
}
