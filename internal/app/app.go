// Package app assembles the pipeline components from configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/DeafMist/market-news-radar/internal/aggregator"
	"github.com/DeafMist/market-news-radar/internal/analysis"
	"github.com/DeafMist/market-news-radar/internal/config"
	"github.com/DeafMist/market-news-radar/internal/dedupe"
	"github.com/DeafMist/market-news-radar/internal/docstore"
	"github.com/DeafMist/market-news-radar/internal/elasticsearch"
	"github.com/DeafMist/market-news-radar/internal/llm"
	"github.com/DeafMist/market-news-radar/internal/logger"
	"github.com/DeafMist/market-news-radar/internal/relationships"
	"github.com/DeafMist/market-news-radar/internal/sources"
	"github.com/DeafMist/market-news-radar/internal/vector"
)

const embeddingCacheTTL = 6 * time.Hour

// Connect creates the Elasticsearch client and waits for the cluster to
// answer, backing off exponentially up to maxRetries attempts.
func Connect(ctx context.Context, addr string, maxRetries int, log *slog.Logger) (*elasticsearch.Client, error) {
	log = logger.OrDiscard(log)
	es, err := elasticsearch.New(addr, log)
	if err != nil {
		return nil, err
	}

	retryDelay := 2 * time.Second
	for i := 0; i < maxRetries; i++ {
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		pingErr := es.Ping(pingCtx)
		cancel()
		if pingErr == nil {
			log.Info("connected to elasticsearch", slog.String("addr", addr))
			return es, nil
		}
		log.Warn("elasticsearch ping failed, retrying",
			slog.Any("err", pingErr),
			slog.Int("attempt", i+1),
			slog.Int("max_retries", maxRetries),
			slog.Duration("retry_in", retryDelay),
		)

		select {
		case <-time.After(retryDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		retryDelay *= 2
		if retryDelay > 30*time.Second {
			retryDelay = 30 * time.Second
		}
	}
	return nil, errors.New("failed to connect to elasticsearch after retries")
}

// EnsureIndices creates the document indices the services share.
func EnsureIndices(ctx context.Context, es *elasticsearch.Client, c config.Common) error {
	for index, mapping := range map[string]map[string]any{
		c.NewsIndex:         elasticsearch.NewsMapping(),
		c.LedgerIndex:       elasticsearch.LedgerMapping(),
		c.RelationshipIndex: elasticsearch.RelationshipMapping(),
	} {
		if err := es.EnsureIndex(ctx, index, mapping); err != nil {
			return err
		}
	}
	return nil
}

// Fetchers builds the enabled sources. NewsAPI and Twitter are enabled by
// their credentials; RSS is always on.
func Fetchers(cfg config.Sources, budget int, log *slog.Logger) []sources.Fetcher {
	opts := sources.HTTPOptions{
		Timeout:      cfg.FetchTimeout,
		UserAgent:    cfg.UserAgent,
		MaxBodyBytes: cfg.MaxBodyBytes,
	}

	var fetchers []sources.Fetcher
	if cfg.NewsAPIKey != "" {
		fetchers = append(fetchers, sources.NewNewsAPI(cfg.NewsAPIURL, cfg.NewsAPIKey, budget, opts, log))
	}

	var extractor sources.Extractor
	if cfg.FullArticles {
		extractor = sources.NewArticleExtractor(opts, log)
	}
	fetchers = append(fetchers, sources.NewRSS(cfg.RSSFeeds, budget, extractor, opts, log))

	if cfg.TwitterBearer != "" {
		fetchers = append(fetchers, sources.NewTwitter(cfg.TwitterURL, cfg.TwitterBearer, budget, opts, log))
	}
	return fetchers
}

// Ledger creates the deduplication ledger and preloads its recent entries.
func Ledger(ctx context.Context, store docstore.Store, collection string, cfg config.Ledger, log *slog.Logger) *dedupe.Ledger {
	log = logger.OrDiscard(log)
	l := dedupe.NewLedger(store, dedupe.LedgerConfig{
		Collection: collection,
		Window:     cfg.Window,
		WindowTTL:  cfg.WindowTTL,
		Threshold:  cfg.Similarity,
	}, log)
	if cfg.Preload > 0 {
		if _, err := l.Preload(ctx, cfg.Preload); err != nil {
			log.Warn("ledger preload failed, starting empty", slog.Any("err", err))
		}
	}
	return l
}

// Aggregator wires fetchers and the ledger into an Aggregator.
func Aggregator(ctx context.Context, store docstore.Store, c config.Common, src config.Sources, agg config.Aggregator, led config.Ledger, log *slog.Logger) *aggregator.Aggregator {
	return aggregator.New(
		Fetchers(src, agg.Budget, log),
		Ledger(ctx, store, c.LedgerIndex, led, log),
		aggregator.Options{Workers: agg.Workers, Budget: agg.Budget},
		log,
	)
}

// Analysis bundles the components an analysis pass needs.
type Analysis struct {
	LLM       *llm.Client
	Store     vector.Store
	Index     *vector.Index
	Relations *relationships.Store
	Invoker   *analysis.Invoker
}

// Close releases the vector store.
func (a *Analysis) Close() error { return a.Store.Close() }

// VectorIndex opens the configured vector store behind an embedding cache.
func VectorIndex(ctx context.Context, cfg config.Vector, embedder vector.Embedder, es *elasticsearch.Client, log *slog.Logger) (*vector.Index, vector.Store, error) {
	store, err := vector.NewStore(ctx, cfg, es)
	if err != nil {
		return nil, nil, fmt.Errorf("open vector store: %w", err)
	}
	idx := vector.NewIndex(store, vector.NewCachedEmbedder(embedder, embeddingCacheTTL), log)
	return idx, store, nil
}

// NewAnalysis wires the LLM client, vector index, relationship store and
// invoker over store.
func NewAnalysis(ctx context.Context, store docstore.Store, es *elasticsearch.Client, c config.Common, llmCfg config.LLM, vecCfg config.Vector, anCfg config.Analysis, log *slog.Logger) (*Analysis, error) {
	client, err := llm.New(llmCfg, log)
	if err != nil {
		return nil, err
	}
	idx, vstore, err := VectorIndex(ctx, vecCfg, client, es, log)
	if err != nil {
		return nil, err
	}
	rels := relationships.New(store, c.RelationshipIndex, log)
	inv := analysis.NewInvoker(analysis.Deps{
		LLM:          client,
		Store:        store,
		Collection:   c.NewsIndex,
		Index:        idx,
		Relations:    rels,
		ModelVersion: client.Model(),
	}, anCfg, log)

	return &Analysis{LLM: client, Store: vstore, Index: idx, Relations: rels, Invoker: inv}, nil
}
