// Package analysis turns candidate articles into analyzed news records.
package analysis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/DeafMist/market-news-radar/internal/config"
	"github.com/DeafMist/market-news-radar/internal/docstore"
	"github.com/DeafMist/market-news-radar/internal/logger"
	"github.com/DeafMist/market-news-radar/internal/models"
	"github.com/DeafMist/market-news-radar/internal/processing"
)

// RelationMentionedWith links an article's subject to a co-mentioned company.
const RelationMentionedWith = "mentioned_with"

// DefaultModelVersion tags records when no model name is configured.
const DefaultModelVersion = "1.0.0"

// Indexer stores the searchable projection of a record.
type Indexer interface {
	Add(ctx context.Context, record *models.NewsRecord) error
}

// RelationshipMerger records that two entities were mentioned together.
type RelationshipMerger interface {
	Merge(ctx context.Context, entityA, entityB, relType string, strength float64, articleID string) (models.EntityRelationship, error)
}

// Deps are the collaborators of an Invoker. Index and Relations may be nil.
type Deps struct {
	LLM          Completer
	Store        docstore.Store
	Collection   string
	Index        Indexer
	Relations    RelationshipMerger
	ModelVersion string
}

// Invoker runs the extraction call for one article and persists the result.
type Invoker struct {
	llm          Completer
	summarizer   *Summarizer
	store        docstore.Store
	collection   string
	index        Indexer
	relations    RelationshipMerger
	modelVersion string
	now          func() time.Time
	log          *slog.Logger
}

// NewInvoker creates an Invoker.
func NewInvoker(deps Deps, cfg config.Analysis, log *slog.Logger) *Invoker {
	log = logger.OrDiscard(log)
	version := deps.ModelVersion
	if version == "" {
		version = DefaultModelVersion
	}
	return &Invoker{
		llm:          deps.LLM,
		summarizer:   NewSummarizer(deps.LLM, cfg.ChunkThreshold, cfg.ChunkSize, cfg.MaxSummaryDepth, log),
		store:        deps.Store,
		collection:   deps.Collection,
		index:        deps.Index,
		relations:    deps.Relations,
		modelVersion: version,
		now:          time.Now,
		log:          log,
	}
}

// Analyze extracts, validates and stores the analysis of art. A *ParseError
// means the article was rejected and nothing was stored; any other error
// comes from an infrastructure call.
func (iv *Invoker) Analyze(ctx context.Context, art models.CandidateArticle) (*models.NewsRecord, error) {
	if strings.TrimSpace(art.Content) == "" {
		return nil, &ParseError{Kind: KindInvalidArticle, Err: errors.New("empty content")}
	}

	processed, err := iv.summarizer.Condense(ctx, art.Content)
	if err != nil {
		return nil, err
	}

	raw, err := iv.llm.Complete(ctx, analysisSystemPrompt, buildAnalysisPrompt(art.Title, processed))
	if err != nil {
		return nil, fmt.Errorf("extraction call: %w", err)
	}

	ext, err := ParseAnalysis(raw)
	if err != nil {
		return nil, err
	}
	if len(ext.DroppedTopics) > 0 {
		iv.log.Debug("dropped unknown topics", slog.Any("topics", ext.DroppedTopics))
	}

	rec := iv.buildRecord(art, processed, ext)

	if err := iv.store.Save(ctx, iv.collection, rec.ID, rec, true); err != nil {
		var se *docstore.StorageError
		if !errors.As(err, &se) {
			err = &docstore.StorageError{Op: "save", Collection: iv.collection, ID: rec.ID, Err: err}
		}
		return nil, err
	}

	if iv.index != nil {
		if err := iv.index.Add(ctx, rec); err != nil {
			return nil, fmt.Errorf("index record %s: %w", rec.ID, err)
		}
	}

	if err := iv.mergeRelationships(ctx, rec); err != nil {
		return nil, err
	}

	iv.log.Info("article analyzed",
		slog.String("id", rec.ID),
		slog.String("subject", rec.Subject),
		slog.String("sentiment", string(rec.Sentiment.Category)),
		slog.Int("entities", len(rec.Entities)),
	)
	return rec, nil
}

func (iv *Invoker) buildRecord(art models.CandidateArticle, processed string, ext *Extraction) *models.NewsRecord {
	id := processing.ContentID(art.Content)
	rec := &models.NewsRecord{
		ID:                  id,
		Title:               art.Title,
		Content:             art.Content,
		ProcessedContent:    processed,
		Sentiment:           ext.Sentiment,
		Subject:             ext.Subject,
		Topics:              ext.Topics,
		Entities:            ext.Entities,
		CausalRelationships: ext.CausalRelationships,
		Summary:             ext.Summary,
		Confidence:          ext.Confidence,
		ModelVersion:        iv.modelVersion,
		AnalyzedAt:          iv.now().UTC(),
		Source:              art.Source,
		URL:                 art.URL,
	}
	if ts := processing.ParseTimestamp(art.PublishedAt); !ts.IsZero() {
		rec.PublishedAt = &ts
	}
	if rec.Title == "" {
		rec.Title = processing.GenerateTitleFromText(art.Content, 12)
	}

	rec.Metadata = make(map[string]any, len(art.Metadata)+6)
	for k, v := range art.Metadata {
		rec.Metadata[k] = v
	}
	setIfAbsent(rec.Metadata, "content_hash", id)
	if art.URL != "" {
		setIfAbsent(rec.Metadata, "sources", []string{art.URL})
	}
	setIfAbsent(rec.Metadata, "analysis.model_version", iv.modelVersion)
	setIfAbsent(rec.Metadata, "analysis.summarized", processed != art.Content)
	setIfAbsent(rec.Metadata, "analysis.processed_chars", runeLen(processed))
	if len(ext.DroppedTopics) > 0 {
		setIfAbsent(rec.Metadata, "analysis.dropped_topics", ext.DroppedTopics)
	}
	return rec
}

// mergeRelationships links the subject with every other company or ticker.
func (iv *Invoker) mergeRelationships(ctx context.Context, rec *models.NewsRecord) error {
	if iv.relations == nil {
		return nil
	}
	for _, e := range rec.Entities {
		if e.Type != "company" && e.Type != "ticker" {
			continue
		}
		if strings.EqualFold(e.Name, rec.Subject) {
			continue
		}
		if _, err := iv.relations.Merge(ctx, rec.Subject, e.Name, RelationMentionedWith, e.Relevance, rec.ID); err != nil {
			return fmt.Errorf("merge relationship %s/%s: %w", rec.Subject, e.Name, err)
		}
	}
	return nil
}

func setIfAbsent(m map[string]any, key string, v any) {
	if _, ok := m[key]; !ok {
		m[key] = v
	}
}
