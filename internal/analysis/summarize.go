package analysis

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/DeafMist/market-news-radar/internal/logger"
	"github.com/DeafMist/market-news-radar/internal/processing"
)

// Completer is the chat model used for summaries and extraction.
type Completer interface {
	Complete(ctx context.Context, system, prompt string) (string, error)
}

// Summarizer shrinks long articles below a character threshold by
// summarizing chunk by chunk.
type Summarizer struct {
	llm       Completer
	splitter  Splitter
	threshold int
	maxDepth  int
	log       *slog.Logger
}

// NewSummarizer creates a summarizer. Text longer than threshold is chunked
// into pieces of chunkSize; at most maxDepth summary passes are made.
func NewSummarizer(llm Completer, threshold, chunkSize, maxDepth int, log *slog.Logger) *Summarizer {
	if threshold <= 0 {
		threshold = 4000
	}
	if maxDepth <= 0 {
		maxDepth = 3
	}
	return &Summarizer{
		llm:       llm,
		splitter:  NewSplitter(chunkSize),
		threshold: threshold,
		maxDepth:  maxDepth,
		log:       logger.OrDiscard(log),
	}
}

// Condense returns text unchanged when it fits the threshold, otherwise the
// concatenated chunk summaries. If the summaries still do not fit after
// maxDepth passes the result is truncated.
func (s *Summarizer) Condense(ctx context.Context, text string) (string, error) {
	return s.condense(ctx, text, 0)
}

func (s *Summarizer) condense(ctx context.Context, text string, depth int) (string, error) {
	if runeLen(text) <= s.threshold {
		return text, nil
	}
	if depth >= s.maxDepth {
		s.log.Warn("summary depth exhausted, truncating", slog.Int("chars", runeLen(text)))
		return processing.Truncate(text, s.threshold), nil
	}

	chunks := s.splitter.Split(text)
	if len(chunks) <= 1 {
		return processing.Truncate(text, s.threshold), nil
	}

	summaries := make([]string, 0, len(chunks))
	for i, chunk := range chunks {
		out, err := s.llm.Complete(ctx, summarySystemPrompt, buildSummaryPrompt(chunk))
		if err != nil {
			return "", fmt.Errorf("summarize chunk %d/%d: %w", i+1, len(chunks), err)
		}
		if out = strings.TrimSpace(out); out != "" {
			summaries = append(summaries, out)
		}
	}
	combined := strings.Join(summaries, "\n\n")

	s.log.Debug("summary pass",
		slog.Int("depth", depth+1),
		slog.Int("chunks", len(chunks)),
		slog.Int("chars_in", runeLen(text)),
		slog.Int("chars_out", runeLen(combined)),
	)
	return s.condense(ctx, combined, depth+1)
}
