package models

import "time"

// Metadata keys every fetcher populates on a CandidateArticle.
const (
	MetaPublishedAt = "published_at"
	MetaURL         = "url"
	MetaSource      = "source"
	MetaAuthor      = "author"
)

// CandidateArticle is an unvalidated article fetched from one source.
type CandidateArticle struct {
	Title       string         `json:"title"`
	Content     string         `json:"content"`
	Source      string         `json:"source"`
	PublishedAt string         `json:"published_at"`
	URL         string         `json:"url"`
	Author      string         `json:"author,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// SentimentCategory is the coarse label of an article's sentiment.
type SentimentCategory string

const (
	SentimentPositive SentimentCategory = "positive"
	SentimentNegative SentimentCategory = "negative"
	SentimentNeutral  SentimentCategory = "neutral"
)

// Valid reports whether c is one of the known categories.
func (c SentimentCategory) Valid() bool {
	switch c {
	case SentimentPositive, SentimentNegative, SentimentNeutral:
		return true
	}
	return false
}

// Sentiment is the sentiment block of a NewsRecord.
type Sentiment struct {
	CompoundScore   float64           `json:"compound_score"`
	Category        SentimentCategory `json:"category"`
	PositiveAspects []string          `json:"positive_aspects"`
	NegativeAspects []string          `json:"negative_aspects"`
	NeutralAspects  []string          `json:"neutral_aspects"`
}

// Entity is a named entity mentioned in an article.
type Entity struct {
	Name      string   `json:"name"`
	Type      string   `json:"type"`
	Relevance float64  `json:"relevance"`
	Sentiment *float64 `json:"sentiment,omitempty"`
}

// CausalRelation links a cause to an effect with a confidence.
type CausalRelation struct {
	Cause       string  `json:"cause"`
	Effect      string  `json:"effect"`
	Confidence  float64 `json:"confidence"`
	Explanation string  `json:"explanation"`
}

// NewsRecord is the canonical analyzed article persisted in the document store.
type NewsRecord struct {
	ID                  string           `json:"id"`
	Title               string           `json:"title"`
	Content             string           `json:"content"`
	ProcessedContent    string           `json:"processed_content"`
	Sentiment           Sentiment        `json:"sentiment"`
	Subject             string           `json:"subject"`
	Topics              []string         `json:"topics"`
	Entities            []Entity         `json:"entities"`
	CausalRelationships []CausalRelation `json:"causal_relationships"`
	Summary             string           `json:"summary"`
	Confidence          float64          `json:"confidence"`
	ModelVersion        string           `json:"model_version"`
	PublishedAt         *time.Time       `json:"published_at,omitempty"`
	AnalyzedAt          time.Time        `json:"analyzed_at"`
	Source              string           `json:"source"`
	URL                 string           `json:"url"`
	Metadata            map[string]any   `json:"metadata,omitempty"`
}

// EntityNames returns the names of all entities in order.
func (r *NewsRecord) EntityNames() []string {
	names := make([]string, 0, len(r.Entities))
	for _, e := range r.Entities {
		names = append(names, e.Name)
	}
	return names
}

// EntityRelationship is a merged co-occurrence edge between two entities.
type EntityRelationship struct {
	ID               string    `json:"id"`
	EntityA          string    `json:"entity_a"`
	EntityB          string    `json:"entity_b"`
	RelationshipType string    `json:"relationship_type"`
	Strength         float64   `json:"strength"`
	Articles         []string  `json:"articles"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// DedupRecord is one persisted ledger entry.
type DedupRecord struct {
	URL         string    `json:"url"`
	Fingerprint string    `json:"fingerprint"`
	Signature   string    `json:"signature,omitempty"`
	FirstSeen   time.Time `json:"first_seen"`
}
