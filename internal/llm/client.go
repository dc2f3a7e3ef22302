// Package llm wraps the OpenAI-compatible chat and embedding endpoints.
package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"

	"github.com/DeafMist/market-news-radar/internal/config"
	"github.com/DeafMist/market-news-radar/internal/logger"
)

const (
	maxAttempts = 3
	baseDelay   = 500 * time.Millisecond
)

// Client issues rate limited completions and embeddings.
type Client struct {
	api            *openai.Client
	model          string
	embeddingModel string
	timeout        time.Duration
	limiter        *rate.Limiter
	log            *slog.Logger
}

// New creates a client from cfg. An API key is required.
func New(cfg config.LLM, log *slog.Logger) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("LLM_API_KEY is required")
	}
	apiCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		apiCfg.BaseURL = cfg.BaseURL
	}

	rpm := cfg.RPM
	if rpm <= 0 {
		rpm = 60
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	return &Client{
		api:            openai.NewClientWithConfig(apiCfg),
		model:          cfg.Model,
		embeddingModel: cfg.EmbeddingModel,
		timeout:        timeout,
		limiter:        rate.NewLimiter(rate.Limit(float64(rpm)/60.0), 1),
		log:            logger.OrDiscard(log),
	}, nil
}

// Model is the chat model tag recorded on analyzed records.
func (c *Client) Model() string { return c.model }

// Complete sends one system + user exchange and returns the assistant text.
func (c *Client) Complete(ctx context.Context, system, prompt string) (string, error) {
	req := openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		Temperature: 0.1,
	}

	var out string
	err := c.retry(ctx, "chat", func(ctx context.Context) error {
		resp, err := c.api.CreateChatCompletion(ctx, req)
		if err != nil {
			return err
		}
		if len(resp.Choices) == 0 {
			return errors.New("empty completion")
		}
		out = strings.TrimSpace(resp.Choices[0].Message.Content)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	return out, nil
}

// Embed returns one vector per text, in input order.
func (c *Client) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	req := openai.EmbeddingRequest{
		Input: texts,
		Model: openai.EmbeddingModel(c.embeddingModel),
	}

	var out [][]float32
	err := c.retry(ctx, "embeddings", func(ctx context.Context) error {
		resp, err := c.api.CreateEmbeddings(ctx, req)
		if err != nil {
			return err
		}
		if len(resp.Data) != len(texts) {
			return fmt.Errorf("got %d embeddings for %d inputs", len(resp.Data), len(texts))
		}
		data := resp.Data
		sort.SliceStable(data, func(i, j int) bool { return data[i].Index < data[j].Index })
		out = make([][]float32, len(data))
		for i, d := range data {
			out[i] = d.Embedding
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("embeddings: %w", err)
	}
	return out, nil
}

// retry runs fn under the call timeout, retrying throttled and server errors
// with exponential backoff.
func (c *Client) retry(ctx context.Context, op string, fn func(context.Context) error) error {
	var err error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if werr := c.limiter.Wait(ctx); werr != nil {
			return werr
		}

		callCtx, cancel := context.WithTimeout(ctx, c.timeout)
		err = fn(callCtx)
		cancel()
		if err == nil || !retryable(err) || attempt == maxAttempts-1 {
			return err
		}

		delay := baseDelay * time.Duration(1<<attempt)
		c.log.Warn("llm call throttled, retrying",
			slog.String("op", op),
			slog.Int("attempt", attempt+1),
			slog.Duration("delay", delay),
			slog.Any("err", err),
		)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

func retryable(err error) bool {
	status := 0
	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	switch {
	case errors.As(err, &apiErr):
		status = apiErr.HTTPStatusCode
	case errors.As(err, &reqErr):
		status = reqErr.HTTPStatusCode
	}
	return status == http.StatusTooManyRequests || status >= 500
}
