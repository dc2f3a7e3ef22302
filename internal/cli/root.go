// Package cli implements the newsctl command tree.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/DeafMist/market-news-radar/internal/config"
	"github.com/DeafMist/market-news-radar/internal/logger"
	"github.com/DeafMist/market-news-radar/internal/newsroom"
	"github.com/DeafMist/market-news-radar/internal/relationships"
)

// Service is the set of use cases newsctl runs.
type Service interface {
	AnalyzeSymbol(ctx context.Context, symbol string, maxArticles int) (newsroom.AnalyzeReport, error)
	Search(ctx context.Context, query string, opts newsroom.SearchOptions) ([]newsroom.SearchResult, error)
	Related(ctx context.Context, symbol string, limit int) ([]relationships.Related, error)
}

// Connector builds a Service for cfg. The returned func releases it.
type Connector func(ctx context.Context, cfg *config.CLI, log *slog.Logger) (Service, func() error, error)

type options struct {
	configFile string
	verbose    bool
	jsonOut    bool
	timeout    time.Duration
	connect    Connector
}

// Execute runs newsctl against the real backends.
func Execute(ctx context.Context) error {
	return NewRootCmd(Connect).ExecuteContext(ctx)
}

// NewRootCmd assembles the command tree. connect is only invoked by
// commands that need the backends.
func NewRootCmd(connect Connector) *cobra.Command {
	opts := &options{connect: connect}

	root := &cobra.Command{
		Use:   "newsctl",
		Short: "Market news radar - analyze, search and relate financial news",
		Long: `newsctl runs the market news radar use cases from a terminal.

It fetches and analyzes fresh articles for a ticker, searches the analyzed
corpus with hybrid semantic and keyword ranking, and lists entities that
co-occur with a symbol.

Configuration is read from the environment and, optionally, a YAML file
given with --config or CONFIG_FILE.`,
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	root.PersistentFlags().StringVar(&opts.configFile, "config", "", "config file (default: $CONFIG_FILE)")
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "log progress to stderr")
	root.PersistentFlags().BoolVar(&opts.jsonOut, "json", false, "print results as JSON")
	root.PersistentFlags().DurationVar(&opts.timeout, "timeout", 3*time.Minute, "overall command timeout")

	root.AddCommand(
		newAnalyzeCmd(opts),
		newSearchCmd(opts),
		newRelatedCmd(opts),
		newConfigCmd(opts),
	)
	return root
}

func (o *options) logger(cmd *cobra.Command) *slog.Logger {
	if !o.verbose {
		return logger.Discard()
	}
	return logger.NewWithWriter("newsctl", cmd.ErrOrStderr())
}

// run loads the configuration, connects and calls fn with a bounded context.
func (o *options) run(cmd *cobra.Command, fn func(ctx context.Context, svc Service) error) error {
	cfg, err := config.LoadCLI(o.configFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), o.timeout)
	defer cancel()

	log := o.logger(cmd)
	svc, closeFn, err := o.connect(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer func() {
		if err := closeFn(); err != nil {
			log.Warn("close backends", slog.Any("err", err))
		}
	}()

	return fn(ctx, svc)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
