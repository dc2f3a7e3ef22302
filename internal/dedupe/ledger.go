package dedupe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/DeafMist/market-news-radar/internal/docstore"
	"github.com/DeafMist/market-news-radar/internal/logger"
	"github.com/DeafMist/market-news-radar/internal/models"
	"github.com/DeafMist/market-news-radar/internal/processing"
)

// Reason explains a ledger verdict.
type Reason string

const (
	ReasonNew           Reason = "new"
	ReasonURL           Reason = "url"
	ReasonFingerprint   Reason = "fingerprint"
	ReasonNearDuplicate Reason = "near_duplicate"
)

// Verdict is the outcome of a ledger check.
type Verdict struct {
	Duplicate   bool
	Reason      Reason
	Similarity  float64
	MatchedWith string
}

// LedgerConfig sizes the in-memory part of the ledger.
type LedgerConfig struct {
	Collection string
	Window     int
	WindowTTL  time.Duration
	Threshold  float64
}

// Ledger records which URLs and contents have been ingested. Recent state is
// held in memory; every registration is persisted to the document store so
// deduplication survives restarts.
type Ledger struct {
	mu         sync.Mutex
	store      docstore.Store
	collection string
	urls       *Window
	contents   *Window
	threshold  float64
	log        *slog.Logger
	now        func() time.Time
}

// NewLedger creates a ledger persisting into cfg.Collection of store.
func NewLedger(store docstore.Store, cfg LedgerConfig, log *slog.Logger) *Ledger {
	if cfg.Window <= 0 {
		cfg.Window = 500
	}
	if cfg.WindowTTL <= 0 {
		cfg.WindowTTL = 72 * time.Hour
	}
	if cfg.Threshold <= 0 || cfg.Threshold > 1 {
		cfg.Threshold = 0.9
	}
	return &Ledger{
		store:      store,
		collection: cfg.Collection,
		urls:       NewWindow(cfg.Window*4, cfg.WindowTTL),
		contents:   NewWindow(cfg.Window, cfg.WindowTTL),
		threshold:  cfg.Threshold,
		log:        logger.OrDiscard(log),
		now:        time.Now,
	}
}

// IsDuplicate reports whether the article was already ingested. A call that
// returns false registers the URL and content fingerprint.
func (l *Ledger) IsDuplicate(ctx context.Context, rawURL, content string) bool {
	return l.Check(ctx, rawURL, content).Duplicate
}

// Check is IsDuplicate with the reason for the verdict. The document store
// lookup for an unknown URL runs outside the ledger lock; the URL is checked
// again under the lock before anything is registered.
func (l *Ledger) Check(ctx context.Context, rawURL, content string) Verdict {
	normalized := processing.NormalizeURL(rawURL)
	urlVerdict := Verdict{Duplicate: true, Reason: ReasonURL, Similarity: 1, MatchedWith: normalized}

	if normalized != "" && l.urlSeen(ctx, normalized) {
		return urlVerdict
	}

	fingerprint := processing.Fingerprint(content)
	sig := Sign(content)

	l.mu.Lock()
	if normalized != "" && l.urls.Contains(normalized) {
		l.mu.Unlock()
		return urlVerdict
	}
	if l.contents.Contains(fingerprint) {
		l.mu.Unlock()
		return Verdict{Duplicate: true, Reason: ReasonFingerprint, Similarity: 1, MatchedWith: fingerprint}
	}
	if match, score := l.contents.Nearest(sig); score >= l.threshold {
		l.mu.Unlock()
		return Verdict{Duplicate: true, Reason: ReasonNearDuplicate, Similarity: score, MatchedWith: match}
	}

	rec := models.DedupRecord{
		URL:         normalized,
		Fingerprint: fingerprint,
		Signature:   sig.String(),
		FirstSeen:   l.now().UTC(),
	}
	l.remember(rec)
	l.mu.Unlock()

	l.persist(ctx, rec)
	return Verdict{Reason: ReasonNew}
}

// Forget undoes the registration of an article so the next check treats it
// as new. Forgetting an unknown article is a no-op.
func (l *Ledger) Forget(ctx context.Context, rawURL, content string) error {
	normalized := processing.NormalizeURL(rawURL)
	fingerprint := processing.Fingerprint(content)

	l.mu.Lock()
	if normalized != "" {
		l.urls.Remove(normalized)
	}
	l.contents.Remove(fingerprint)
	l.mu.Unlock()

	id := RecordID(normalized, fingerprint)
	if err := l.store.Delete(ctx, l.collection, id); err != nil {
		return fmt.Errorf("forget %s: %w", id, err)
	}
	return nil
}

// Preload loads the most recent n persisted records into memory.
func (l *Ledger) Preload(ctx context.Context, n int) (int, error) {
	if n <= 0 {
		return 0, nil
	}
	docs, err := l.store.Query(ctx, l.collection, docstore.Query{
		OrderBy:   "first_seen",
		Direction: docstore.Descending,
		Limit:     n,
	})
	if err != nil {
		return 0, err
	}
	records, err := docstore.DecodeAll[models.DedupRecord](docs)
	if err != nil {
		return 0, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	// oldest first so window eviction keeps the newest entries
	for i := len(records) - 1; i >= 0; i-- {
		l.remember(records[i])
	}
	l.log.Info("ledger preloaded", slog.Int("records", len(records)))
	return len(records), nil
}

func (l *Ledger) urlSeen(ctx context.Context, normalized string) bool {
	if l.urls.Contains(normalized) {
		return true
	}
	_, err := l.store.Get(ctx, l.collection, RecordID(normalized, ""))
	switch {
	case err == nil:
		l.urls.Add(normalized, nil, l.now())
		return true
	case errors.Is(err, docstore.ErrNotFound):
		return false
	default:
		l.log.Warn("ledger lookup failed", slog.String("url", normalized), slog.Any("err", err))
		return false
	}
}

func (l *Ledger) remember(rec models.DedupRecord) {
	ts := rec.FirstSeen
	if ts.IsZero() {
		ts = l.now()
	}
	if rec.URL != "" {
		l.urls.Add(rec.URL, nil, ts)
	}
	if rec.Fingerprint != "" {
		l.contents.Add(rec.Fingerprint, ParseSignature(rec.Signature), ts)
	}
}

func (l *Ledger) persist(ctx context.Context, rec models.DedupRecord) {
	id := RecordID(rec.URL, rec.Fingerprint)
	if err := l.store.Save(ctx, l.collection, id, rec, false); err != nil {
		l.log.Warn("ledger persist failed", slog.String("id", id), slog.Any("err", err))
	}
}

// RecordID is the document id of a ledger record: the hashed normalized URL,
// or the fingerprint when the article has no URL.
func RecordID(normalizedURL, fingerprint string) string {
	if normalizedURL != "" {
		return processing.ContentID(normalizedURL)
	}
	return fingerprint
}
