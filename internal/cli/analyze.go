package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/DeafMist/market-news-radar/internal/models"
)

func newAnalyzeCmd(opts *options) *cobra.Command {
	var maxArticles int

	cmd := &cobra.Command{
		Use:   "analyze <symbol>",
		Short: "Fetch and analyze fresh news for a symbol",
		Long: `Analyze fetches up to --max articles about a ticker from every configured
source, skips ones already seen, and runs the extraction model on the rest.
Stored records are indexed for search. Articles the model rejects are listed
with the reason.

Example:
  newsctl analyze TSLA
  newsctl analyze NVDA --max 5 --json`,
		Args: cobra.ExactArgs(1),
		PreRunE: func(cmd *cobra.Command, args []string) error {
			if maxArticles <= 0 {
				return fmt.Errorf("--max must be positive, got %d", maxArticles)
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			symbol := strings.ToUpper(strings.TrimSpace(args[0]))
			return opts.run(cmd, func(ctx context.Context, svc Service) error {
				report, err := svc.AnalyzeSymbol(ctx, symbol, maxArticles)
				if err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				if opts.jsonOut {
					return writeJSON(out, report)
				}

				fmt.Fprintf(out, "%s: fetched %d, stored %d, rejected %d\n",
					report.Symbol, report.Fetched, len(report.Records), len(report.Failures))
				for _, rec := range report.Records {
					fmt.Fprintf(out, "  %s %s\n", sentimentTag(rec.Sentiment), rec.Title)
					if rec.Summary != "" {
						fmt.Fprintf(out, "      %s\n", rec.Summary)
					}
					if names := rec.EntityNames(); len(names) > 0 {
						fmt.Fprintf(out, "      entities: %s\n", strings.Join(names, ", "))
					}
				}
				if len(report.Failures) > 0 {
					fmt.Fprintln(out, "rejected:")
					for _, f := range report.Failures {
						fmt.Fprintf(out, "  [%s] %s: %s\n", f.Kind, f.Title, f.Error)
					}
				}
				return nil
			})
		},
	}

	cmd.Flags().IntVar(&maxArticles, "max", 10, "maximum number of articles to analyze")
	return cmd
}

func sentimentTag(s models.Sentiment) string {
	return fmt.Sprintf("[%-8s %+.2f]", s.Category, s.CompoundScore)
}
