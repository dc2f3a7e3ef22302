package analysis

import "strings"

const summarySystemPrompt = "You summarize financial news. Keep every figure, percentage, ticker and named party."

const analysisSystemPrompt = "You are a professional financial news analyst with expertise in sentiment analysis, " +
	"entity recognition and causal relationship extraction. You answer with a single JSON object and nothing else."

const analysisTemplate = `Analyze the following news article and extract structured insights.

1. Decide whether this is a valid financial article. It is invalid if it is an
   advertisement or sponsored content, unrelated to financial markets, or
   lacks financially meaningful information.

2. For valid articles:
   a. Sentiment: compound score from -1 to 1, category positive/negative/neutral,
      and the key positive, negative and neutral aspects.
   b. Entities: companies, tickers, people, products and sectors with a
      relevance from 0 to 1 and an entity sentiment from -1 to 1 where it applies.
   c. Topics, chosen only from: {{TOPICS}}.
   d. Causal relationships between market events with a confidence from 0 to 1
      and a short explanation.
   e. A concise summary that keeps the key numbers and financial terms.
   f. Your overall confidence in the analysis from 0 to 1.

Respond with JSON of this shape:
{
  "valid": true,
  "subject": "main company, ticker or market",
  "sentiment": {
    "compound_score": 0.0,
    "category": "positive|negative|neutral",
    "positive_aspects": [],
    "negative_aspects": [],
    "neutral_aspects": []
  },
  "entities": [{"name": "", "type": "company|ticker|person|product|sector", "relevance": 0.0, "sentiment": 0.0}],
  "topics": [],
  "causal_relationships": [{"cause": "", "effect": "", "confidence": 0.0, "explanation": ""}],
  "summary": "",
  "confidence": 0.0
}

Title: {{TITLE}}

News content:
{{CONTENT}}`

func buildAnalysisPrompt(title, content string) string {
	r := strings.NewReplacer(
		"{{TOPICS}}", strings.Join(Topics, ", "),
		"{{TITLE}}", title,
		"{{CONTENT}}", content,
	)
	return r.Replace(analysisTemplate)
}

func buildSummaryPrompt(chunk string) string {
	return "Summarize the following chunk of a financial news article, preserving all key financial metrics, " +
		"numbers, percentages and important facts:\n\n" + chunk + "\n\nSummary:"
}

// stripFences removes a markdown code fence around a model response and any
// chatter outside the outermost JSON object.
func stripFences(raw string) string {
	s := strings.TrimSpace(raw)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```JSON")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	s = strings.TrimSpace(s)

	if start, end := strings.IndexByte(s, '{'), strings.LastIndexByte(s, '}'); start > 0 && end > start {
		s = s[start : end+1]
	}
	return s
}
