package analysis_test

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/DeafMist/market-news-radar/internal/analysis"
)

func TestParseAnalysisAcceptsYesString(t *testing.T) {
	raw := strings.Replace(validResponse, `"valid": true`, `"valid": "Yes"`, 1)
	ext, err := analysis.ParseAnalysis(raw)
	require.NoError(t, err)
	require.Equal(t, "TSLA", ext.Subject)
	require.Equal(t, []string{"Memes"}, ext.DroppedTopics)
}

func TestParseAnalysisStripsChatter(t *testing.T) {
	raw := "Here is the analysis:\n```json\n" + validResponse + "\n```"
	ext, err := analysis.ParseAnalysis(raw)
	require.NoError(t, err)
	require.Len(t, ext.CausalRelationships, 1)
	require.InDelta(t, 0.9, ext.Confidence, 1e-9)
}

func TestParseAnalysisRejects(t *testing.T) {
	tests := []struct {
		name  string
		raw   string
		kind  analysis.ErrorKind
		field string
	}{
		{"not json", "I cannot analyze this", analysis.KindMalformed, ""},
		{"missing valid", strings.Replace(validResponse, `"valid": true,`, "", 1), analysis.KindMissingField, "valid"},
		{"invalid article", strings.Replace(validResponse, `"valid": true`, `"valid": false`, 1), analysis.KindInvalidArticle, ""},
		{"missing subject", strings.Replace(validResponse, `"subject": "TSLA"`, `"subject": ""`, 1), analysis.KindMissingField, "subject"},
		{"score out of range", strings.Replace(validResponse, `"compound_score": 0.72`, `"compound_score": 1.5`, 1), analysis.KindOutOfRange, "sentiment.compound_score"},
		{"unknown category", strings.Replace(validResponse, `"category": "Positive"`, `"category": "bullish"`, 1), analysis.KindOutOfRange, "sentiment.category"},
		{"confidence out of range", strings.Replace(validResponse, `"confidence": 0.9`, `"confidence": 9`, 1), analysis.KindOutOfRange, "confidence"},
		{"relevance out of range", strings.Replace(validResponse, `"relevance": 0.6`, `"relevance": 6`, 1), analysis.KindOutOfRange, "entities[1].relevance"},
		{"missing sentiment", `{"valid": true, "subject": "AAPL", "summary": "s", "confidence": 0.5}`, analysis.KindMissingField, "sentiment"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := analysis.ParseAnalysis(tt.raw)
			var pe *analysis.ParseError
			require.ErrorAs(t, err, &pe)
			require.Equal(t, tt.kind, pe.Kind)
			require.Equal(t, tt.field, pe.Field)
			require.Equal(t, tt.raw, pe.Raw)
		})
	}
}

func TestSplitterRespectsSizeAndOverlap(t *testing.T) {
	var sb strings.Builder
	for i := 0; i < 60; i++ {
		sb.WriteString("Shares of the company rose sharply after earnings. ")
		if i%10 == 9 {
			sb.WriteString("\n\n")
		}
	}
	text := sb.String()

	s := analysis.NewSplitter(300)
	require.Equal(t, 60, s.Overlap)

	chunks := s.Split(text)
	require.Greater(t, len(chunks), 1)
	for i, c := range chunks {
		require.LessOrEqual(t, len([]rune(c)), 300, "chunk %d", i)
		require.Contains(t, text, c)
	}
	require.True(t, strings.HasSuffix(strings.TrimSpace(text), chunks[len(chunks)-1]))
}

func TestSplitterPrefersParagraphs(t *testing.T) {
	para := strings.Repeat("word ", 30)
	text := strings.TrimSpace(para) + "\n\n" + strings.TrimSpace(para) + "\n\n" + strings.TrimSpace(para)

	chunks := analysis.NewSplitter(200).Split(text)
	require.Len(t, chunks, 3)
	for _, c := range chunks {
		require.NotContains(t, c, "\n\n")
	}
}

func TestSplitterHardSplitsUnbrokenText(t *testing.T) {
	text := strings.Repeat("x", 250)
	chunks := analysis.NewSplitter(100).Split(text)
	require.Equal(t, []int{100, 100, 90}, []int{len(chunks[0]), len(chunks[1]), len(chunks[2])})
	require.Len(t, chunks, 3)
}

func TestSummarizerStopsAtMaxDepth(t *testing.T) {
	llm := &fakeLLM{}
	long := strings.Repeat("Bond yields climbed for a third session. ", 200)

	s := analysis.NewSummarizer(llm, 1000, 400, 2, nil)
	out, err := s.Condense(context.Background(), long)
	require.NoError(t, err)
	require.LessOrEqual(t, len([]rune(out)), 1003)
	require.Positive(t, llm.summaryCalls)
}

func TestSummarizerShortTextUntouched(t *testing.T) {
	llm := &fakeLLM{}
	s := analysis.NewSummarizer(llm, 1000, 400, 2, nil)
	out, err := s.Condense(context.Background(), "Short note.")
	require.NoError(t, err)
	require.Equal(t, "Short note.", out)
	require.Zero(t, llm.summaryCalls)
}
