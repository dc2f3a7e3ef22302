package vector

import (
	"context"
	"fmt"

	"github.com/DeafMist/market-news-radar/internal/config"
	"github.com/DeafMist/market-news-radar/internal/elasticsearch"
)

// NewStore opens the backend selected by cfg. es is only used by the
// elasticsearch backend.
func NewStore(ctx context.Context, cfg config.Vector, es *elasticsearch.Client) (Store, error) {
	switch cfg.Backend {
	case "elasticsearch":
		if es == nil {
			return nil, fmt.Errorf("elasticsearch vector backend needs a client")
		}
		return NewElasticStore(ctx, es, cfg.Index, cfg.Dimensions)
	case "sqlite":
		return NewSQLiteStore(cfg.SQLitePath, cfg.Dimensions)
	case "memory":
		return NewMemoryStore(cfg.Dimensions)
	default:
		return nil, fmt.Errorf("unknown vector backend %q", cfg.Backend)
	}
}
