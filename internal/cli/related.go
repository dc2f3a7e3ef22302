package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func newRelatedCmd(opts *options) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "related <symbol>",
		Short: "List entities related to a symbol",
		Args:  cobra.ExactArgs(1),
		PreRunE: func(cmd *cobra.Command, args []string) error {
			if limit <= 0 {
				return fmt.Errorf("--limit must be positive, got %d", limit)
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			symbol := strings.ToUpper(strings.TrimSpace(args[0]))
			return opts.run(cmd, func(ctx context.Context, svc Service) error {
				related, err := svc.Related(ctx, symbol, limit)
				if err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				if opts.jsonOut {
					return writeJSON(out, related)
				}
				if len(related) == 0 {
					fmt.Fprintf(out, "no relationships for %s\n", symbol)
					return nil
				}
				for _, r := range related {
					fmt.Fprintf(out, "%-12s %-20s strength=%.2f articles=%d\n",
						r.Symbol, r.RelationshipType, r.Strength, r.ArticleCount)
				}
				return nil
			})
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 10, "maximum number of relationships")
	return cmd
}
