// Package queue hands candidate articles from the collector to the analysis
// worker over Kafka.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"github.com/DeafMist/market-news-radar/internal/logger"
	"github.com/DeafMist/market-news-radar/internal/models"
	"github.com/DeafMist/market-news-radar/internal/processing"
)

// Envelope is the message body of one candidate article.
type Envelope struct {
	ID         string                  `json:"id"`
	RunID      string                  `json:"run_id"`
	Query      string                  `json:"query"`
	Article    models.CandidateArticle `json:"article"`
	EnqueuedAt time.Time               `json:"enqueued_at"`
}

// Decode parses an Envelope from a message value.
func Decode(value []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(value, &env); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	return env, nil
}

// Writer is the subset of *kafka.Writer the package uses.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// NewWriter creates a Kafka writer for topic.
func NewWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		MaxAttempts:            3,
		AllowAutoTopicCreation: true,
	}
}

// DeadLetterTopic names the dead-letter topic of topic.
func DeadLetterTopic(topic string) string { return topic + "_dlq" }

// Publisher writes candidate articles keyed by normalized URL, so repeated
// sightings of one article land on the same partition.
type Publisher struct {
	w   Writer
	now func() time.Time
	log *slog.Logger
}

// NewPublisher creates a Publisher over w.
func NewPublisher(w Writer, log *slog.Logger) *Publisher {
	return &Publisher{w: w, now: time.Now, log: logger.OrDiscard(log)}
}

// Publish writes one message per article in a single batch.
func (p *Publisher) Publish(ctx context.Context, runID, query string, articles []models.CandidateArticle) error {
	if len(articles) == 0 {
		return nil
	}
	msgs := make([]kafka.Message, 0, len(articles))
	for _, art := range articles {
		env := Envelope{
			ID:         uuid.NewString(),
			RunID:      runID,
			Query:      query,
			Article:    art,
			EnqueuedAt: p.now().UTC(),
		}
		value, err := json.Marshal(env)
		if err != nil {
			return fmt.Errorf("marshal envelope: %w", err)
		}
		msgs = append(msgs, kafka.Message{
			Key:   []byte(processing.NormalizeURL(art.URL)),
			Value: value,
			Headers: []kafka.Header{
				{Key: "message_id", Value: []byte(env.ID)},
				{Key: "run_id", Value: []byte(runID)},
			},
		})
	}
	if err := p.w.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("publish %d candidates: %w", len(msgs), err)
	}
	p.log.Info("candidates published",
		slog.String("run_id", runID),
		slog.String("query", query),
		slog.Int("count", len(msgs)),
	)
	return nil
}

// Close closes the underlying writer.
func (p *Publisher) Close() error { return p.w.Close() }

// DeadLetter forwards failed messages with diagnostics headers.
type DeadLetter struct {
	w        Writer
	attempts int
	backoff  time.Duration
	log      *slog.Logger
}

// NewDeadLetter creates a DeadLetter. Writes are retried with exponential
// backoff starting at backoff.
func NewDeadLetter(w Writer, backoff time.Duration, log *slog.Logger) *DeadLetter {
	return &DeadLetter{w: w, attempts: 5, backoff: backoff, log: logger.OrDiscard(log)}
}

// Send writes msg with the original position, cause and extra headers.
func (d *DeadLetter) Send(ctx context.Context, msg kafka.Message, cause error, extra ...kafka.Header) error {
	headers := make([]kafka.Header, 0, len(msg.Headers)+4+len(extra))
	headers = append(headers, msg.Headers...)
	headers = append(headers,
		kafka.Header{Key: "original_partition", Value: []byte(strconv.Itoa(msg.Partition))},
		kafka.Header{Key: "original_offset", Value: []byte(strconv.FormatInt(msg.Offset, 10))},
		kafka.Header{Key: "error", Value: []byte(cause.Error())},
		kafka.Header{Key: "timestamp", Value: []byte(time.Now().UTC().Format(time.RFC3339))},
	)
	headers = append(headers, extra...)
	dlqMsg := kafka.Message{Key: msg.Key, Value: msg.Value, Headers: headers}

	var err error
	for attempt := range d.attempts {
		if err = d.w.WriteMessages(ctx, dlqMsg); err == nil {
			d.log.Info("message sent to DLQ",
				slog.Int("partition", msg.Partition),
				slog.Int64("offset", msg.Offset),
				slog.Int("attempt", attempt+1),
			)
			return nil
		}
		wait := d.backoff * time.Duration(1<<uint(attempt))
		d.log.Warn("DLQ write failed, retrying",
			slog.Any("err", err),
			slog.Int("attempt", attempt+1),
			slog.Duration("backoff", wait),
		)
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return fmt.Errorf("dlq write exhausted %d attempts: %w", d.attempts, err)
}

// Close closes the underlying writer.
func (d *DeadLetter) Close() error { return d.w.Close() }

// Header returns the value of key in msg, or "".
func Header(msg kafka.Message, key string) string {
	for _, h := range msg.Headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}
