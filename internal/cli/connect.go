package cli

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/DeafMist/market-news-radar/internal/app"
	"github.com/DeafMist/market-news-radar/internal/config"
	"github.com/DeafMist/market-news-radar/internal/newsroom"
)

// Connect wires a newsroom.Service over Elasticsearch, the configured vector
// backend, the LLM endpoint and the source fetchers.
func Connect(ctx context.Context, cfg *config.CLI, log *slog.Logger) (Service, func() error, error) {
	esClient, err := app.Connect(ctx, cfg.ElasticsearchAddr, 3, log)
	if err != nil {
		return nil, nil, fmt.Errorf("elasticsearch: %w", err)
	}
	if err := app.EnsureIndices(ctx, esClient, cfg.Common); err != nil {
		return nil, nil, err
	}

	an, err := app.NewAnalysis(ctx, esClient, esClient, cfg.Common, cfg.LLM, cfg.Vector, cfg.Analysis, log)
	if err != nil {
		return nil, nil, err
	}
	agg := app.Aggregator(ctx, esClient, cfg.Common, cfg.Sources, cfg.Aggregator, cfg.Ledger, log)

	svc := newsroom.New(newsroom.Deps{
		Store:      esClient,
		Collection: cfg.NewsIndex,
		Collector:  agg,
		Analyzer:   an.Invoker,
		Index:      an.Index,
		Relations:  an.Relations,
	}, log)
	return svc, an.Close, nil
}
