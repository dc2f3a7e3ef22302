package analysis

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/DeafMist/market-news-radar/internal/models"
)

// Topics is the controlled topic vocabulary.
var Topics = []string{
	"M&A",
	"Earnings",
	"Regulations",
	"Innovation",
	"Market Trends",
	"Economic Indicators",
	"Central Bank Policies",
	"Geopolitical Events",
	"Corporate Governance",
}

var topicIndex = func() map[string]string {
	m := make(map[string]string, len(Topics))
	for _, t := range Topics {
		m[strings.ToLower(t)] = t
	}
	return m
}()

// ErrorKind classifies why a model response was rejected.
type ErrorKind string

const (
	KindMalformed      ErrorKind = "malformed response"
	KindMissingField   ErrorKind = "missing field"
	KindOutOfRange     ErrorKind = "out of range"
	KindInvalidArticle ErrorKind = "invalid article"
)

// ParseError reports a model response that does not describe a usable
// analysis. Raw keeps the response for diagnostics.
type ParseError struct {
	Kind  ErrorKind
	Field string
	Raw   string
	Err   error
}

func (e *ParseError) Error() string {
	msg := string(e.Kind)
	if e.Field != "" {
		msg += " " + e.Field
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return "analysis: " + msg
}

func (e *ParseError) Unwrap() error { return e.Err }

// IsParseError reports whether err carries a ParseError.
func IsParseError(err error) bool {
	var pe *ParseError
	return errors.As(err, &pe)
}

// Extraction is a validated model analysis.
type Extraction struct {
	Subject             string
	Sentiment           models.Sentiment
	Entities            []models.Entity
	Topics              []string
	CausalRelationships []models.CausalRelation
	Summary             string
	Confidence          float64
	DroppedTopics       []string
}

type rawAnalysis struct {
	Valid     json.RawMessage `json:"valid"`
	Subject   string          `json:"subject"`
	Sentiment *struct {
		CompoundScore   *float64 `json:"compound_score"`
		Category        string   `json:"category"`
		PositiveAspects []string `json:"positive_aspects"`
		NegativeAspects []string `json:"negative_aspects"`
		NeutralAspects  []string `json:"neutral_aspects"`
	} `json:"sentiment"`
	Entities []struct {
		Name      string   `json:"name"`
		Type      string   `json:"type"`
		Relevance *float64 `json:"relevance"`
		Sentiment *float64 `json:"sentiment"`
	} `json:"entities"`
	Topics              []string `json:"topics"`
	CausalRelationships []struct {
		Cause       string   `json:"cause"`
		Effect      string   `json:"effect"`
		Confidence  *float64 `json:"confidence"`
		Explanation string   `json:"explanation"`
	} `json:"causal_relationships"`
	Summary    string   `json:"summary"`
	Confidence *float64 `json:"confidence"`
}

// ParseAnalysis validates a raw model response.
func ParseAnalysis(raw string) (*Extraction, error) {
	fail := func(kind ErrorKind, field string, err error) (*Extraction, error) {
		return nil, &ParseError{Kind: kind, Field: field, Raw: raw, Err: err}
	}

	var in rawAnalysis
	if err := json.Unmarshal([]byte(stripFences(raw)), &in); err != nil {
		return fail(KindMalformed, "", err)
	}

	valid, ok := parseValid(in.Valid)
	if !ok {
		return fail(KindMissingField, "valid", nil)
	}
	if !valid {
		return fail(KindInvalidArticle, "", errors.New("not a financial article"))
	}

	out := &Extraction{
		Subject: strings.TrimSpace(in.Subject),
		Summary: strings.TrimSpace(in.Summary),
	}
	if out.Subject == "" {
		return fail(KindMissingField, "subject", nil)
	}
	if out.Summary == "" {
		return fail(KindMissingField, "summary", nil)
	}

	if in.Sentiment == nil {
		return fail(KindMissingField, "sentiment", nil)
	}
	if in.Sentiment.CompoundScore == nil {
		return fail(KindMissingField, "sentiment.compound_score", nil)
	}
	if !inRange(*in.Sentiment.CompoundScore, -1, 1) {
		return fail(KindOutOfRange, "sentiment.compound_score", fmt.Errorf("%v", *in.Sentiment.CompoundScore))
	}
	category := models.SentimentCategory(strings.ToLower(strings.TrimSpace(in.Sentiment.Category)))
	if !category.Valid() {
		return fail(KindOutOfRange, "sentiment.category", fmt.Errorf("%q", in.Sentiment.Category))
	}
	out.Sentiment = models.Sentiment{
		CompoundScore:   *in.Sentiment.CompoundScore,
		Category:        category,
		PositiveAspects: nonNil(in.Sentiment.PositiveAspects),
		NegativeAspects: nonNil(in.Sentiment.NegativeAspects),
		NeutralAspects:  nonNil(in.Sentiment.NeutralAspects),
	}

	if in.Confidence == nil {
		return fail(KindMissingField, "confidence", nil)
	}
	if !inRange(*in.Confidence, 0, 1) {
		return fail(KindOutOfRange, "confidence", fmt.Errorf("%v", *in.Confidence))
	}
	out.Confidence = *in.Confidence

	out.Entities = make([]models.Entity, 0, len(in.Entities))
	for i, e := range in.Entities {
		name := strings.TrimSpace(e.Name)
		if name == "" {
			continue
		}
		field := fmt.Sprintf("entities[%d]", i)
		if e.Relevance == nil {
			return fail(KindMissingField, field+".relevance", nil)
		}
		if !inRange(*e.Relevance, 0, 1) {
			return fail(KindOutOfRange, field+".relevance", fmt.Errorf("%v", *e.Relevance))
		}
		if e.Sentiment != nil && !inRange(*e.Sentiment, -1, 1) {
			return fail(KindOutOfRange, field+".sentiment", fmt.Errorf("%v", *e.Sentiment))
		}
		out.Entities = append(out.Entities, models.Entity{
			Name:      name,
			Type:      strings.ToLower(strings.TrimSpace(e.Type)),
			Relevance: *e.Relevance,
			Sentiment: e.Sentiment,
		})
	}

	out.CausalRelationships = make([]models.CausalRelation, 0, len(in.CausalRelationships))
	for i, c := range in.CausalRelationships {
		field := fmt.Sprintf("causal_relationships[%d]", i)
		if strings.TrimSpace(c.Cause) == "" || strings.TrimSpace(c.Effect) == "" {
			return fail(KindMissingField, field+".cause/effect", nil)
		}
		if c.Confidence == nil {
			return fail(KindMissingField, field+".confidence", nil)
		}
		if !inRange(*c.Confidence, 0, 1) {
			return fail(KindOutOfRange, field+".confidence", fmt.Errorf("%v", *c.Confidence))
		}
		out.CausalRelationships = append(out.CausalRelationships, models.CausalRelation{
			Cause:       strings.TrimSpace(c.Cause),
			Effect:      strings.TrimSpace(c.Effect),
			Confidence:  *c.Confidence,
			Explanation: strings.TrimSpace(c.Explanation),
		})
	}

	out.Topics = make([]string, 0, len(in.Topics))
	seen := make(map[string]bool)
	for _, t := range in.Topics {
		canonical, ok := topicIndex[strings.ToLower(strings.TrimSpace(t))]
		if !ok {
			out.DroppedTopics = append(out.DroppedTopics, t)
			continue
		}
		if !seen[canonical] {
			seen[canonical] = true
			out.Topics = append(out.Topics, canonical)
		}
	}

	return out, nil
}

// parseValid accepts a JSON bool or a yes/no style string.
func parseValid(raw json.RawMessage) (bool, bool) {
	if len(raw) == 0 || string(raw) == "null" {
		return false, false
	}
	var b bool
	if err := json.Unmarshal(raw, &b); err == nil {
		return b, true
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return false, false
	}
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "yes", "true", "y", "valid":
		return true, true
	case "no", "false", "n", "invalid":
		return false, true
	}
	return false, false
}

func inRange(v, lo, hi float64) bool { return v >= lo && v <= hi }

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
