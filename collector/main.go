package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/DeafMist/market-news-radar/internal/aggregator"
	"github.com/DeafMist/market-news-radar/internal/app"
	"github.com/DeafMist/market-news-radar/internal/config"
	"github.com/DeafMist/market-news-radar/internal/logger"
	"github.com/DeafMist/market-news-radar/internal/models"
	"github.com/DeafMist/market-news-radar/internal/queue"
)

type collector interface {
	Collect(ctx context.Context, query string) aggregator.Result
	Release(ctx context.Context, articles []models.CandidateArticle) error
}

type publisher interface {
	Publish(ctx context.Context, runID, query string, articles []models.CandidateArticle) error
}

func main() {
	log := logger.New("collector")
	cfg, err := config.LoadCollector()
	if err != nil {
		log.Error("load config", slog.Any("err", err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	esClient, err := app.Connect(ctx, cfg.ElasticsearchAddr, 10, log)
	if err != nil {
		log.Error("connect elasticsearch", slog.Any("err", err))
		os.Exit(1)
	}
	if err := app.EnsureIndices(ctx, esClient, cfg.Common); err != nil {
		log.Error("ensure indices", slog.Any("err", err))
		os.Exit(1)
	}

	agg := app.Aggregator(ctx, esClient, cfg.Common, cfg.Sources, cfg.Aggregator, cfg.Ledger, log)
	pub := queue.NewPublisher(queue.NewWriter(cfg.Kafka.Brokers, cfg.Kafka.Topic), log)
	defer pub.Close()

	ticker := time.NewTicker(cfg.Interval)
	defer ticker.Stop()

	log.Info("collector running",
		slog.Duration("interval", cfg.Interval),
		slog.Any("queries", cfg.Queries),
		slog.String("topic", cfg.Kafka.Topic),
	)

	runOnce(ctx, log, agg, pub, cfg.Queries)

	for {
		select {
		case <-ctx.Done():
			log.Info("shutdown signal received")
			return
		case <-ticker.C:
			runOnce(ctx, log, agg, pub, cfg.Queries)
		}
	}
}

// runOnce aggregates every query and publishes the new candidates. A failed
// publish releases the batch so the next tick picks it up again, and the
// next query still runs.
func runOnce(ctx context.Context, log *slog.Logger, agg collector, pub publisher, queries []string) int {
	published := 0
	for _, q := range queries {
		if ctx.Err() != nil {
			return published
		}
		res := agg.Collect(ctx, q)
		if len(res.Articles) == 0 {
			log.Debug("no new candidates", slog.String("query", q), slog.String("run_id", res.RunID))
			continue
		}
		if err := pub.Publish(ctx, res.RunID, q, res.Articles); err != nil {
			log.Error("publish candidates",
				slog.String("query", q),
				slog.String("run_id", res.RunID),
				slog.Any("err", err),
			)
			if err := agg.Release(ctx, res.Articles); err != nil {
				log.Error("release unpublished candidates",
					slog.String("query", q),
					slog.Int("count", len(res.Articles)),
					slog.Any("err", err),
				)
			}
			continue
		}
		published += len(res.Articles)
	}
	return published
}
