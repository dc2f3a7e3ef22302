package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/DeafMist/market-news-radar/internal/analysis"
	"github.com/DeafMist/market-news-radar/internal/app"
	"github.com/DeafMist/market-news-radar/internal/config"
	"github.com/DeafMist/market-news-radar/internal/logger"
	"github.com/DeafMist/market-news-radar/internal/models"
	"github.com/DeafMist/market-news-radar/internal/queue"
)

var errMalformed = errors.New("malformed message")

type analyzer interface {
	Analyze(ctx context.Context, art models.CandidateArticle) (*models.NewsRecord, error)
}

type deadLetter interface {
	Send(ctx context.Context, msg kafka.Message, cause error, extra ...kafka.Header) error
}

func main() {
	log := logger.New("worker")
	cfg, err := config.LoadWorker()
	if err != nil {
		log.Error("load config", slog.Any("err", err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	esClient, err := app.Connect(ctx, cfg.ElasticsearchAddr, 10, log)
	if err != nil {
		log.Error("connect elasticsearch", slog.Any("err", err))
		os.Exit(1)
	}
	if err := app.EnsureIndices(ctx, esClient, cfg.Common); err != nil {
		log.Error("ensure indices", slog.Any("err", err))
		os.Exit(1)
	}

	pipeline, err := app.NewAnalysis(ctx, esClient, esClient, cfg.Common, cfg.LLM, cfg.Vector, cfg.Analysis, log)
	if err != nil {
		log.Error("init analysis", slog.Any("err", err))
		os.Exit(1)
	}
	defer pipeline.Close()

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        cfg.Kafka.Brokers,
		Topic:          cfg.Kafka.Topic,
		GroupID:        cfg.Kafka.ConsumerGroup,
		QueueCapacity:  cfg.BatchSize,
		MinBytes:       1e3,
		MaxBytes:       10e6,
		CommitInterval: 0, // manual commit only
	})
	defer reader.Close()

	dlqTopic := queue.DeadLetterTopic(cfg.Kafka.Topic)
	dlq := queue.NewDeadLetter(queue.NewWriter(cfg.Kafka.Brokers, dlqTopic), time.Second, log)
	defer dlq.Close()

	h := &handler{an: pipeline.Invoker, dlq: dlq, log: log, attempts: 3, backoff: 2 * time.Second}

	log.Info("worker started",
		slog.String("topic", cfg.Kafka.Topic),
		slog.String("group", cfg.Kafka.ConsumerGroup),
		slog.String("dlq_topic", dlqTopic),
		slog.String("vector_backend", cfg.Vector.Backend),
	)

	for {
		msg, err := reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				log.Info("context canceled, stopping")
				return
			}
			log.Error("fetch message", slog.Any("err", err))
			continue
		}

		// uncommitted messages are redelivered after a restart
		if !h.handle(ctx, msg) {
			if ctx.Err() != nil {
				return
			}
			continue
		}
		if err := reader.CommitMessages(ctx, msg); err != nil {
			log.Error("commit message", slog.Any("err", err))
		}
	}
}

// handler analyzes one candidate message. Rejected articles and malformed
// messages go to the DLQ at once; infrastructure failures are retried first.
type handler struct {
	an       analyzer
	dlq      deadLetter
	log      *slog.Logger
	attempts int
	backoff  time.Duration
}

// handle reports whether msg is done with and may be committed.
func (h *handler) handle(ctx context.Context, msg kafka.Message) bool {
	err := h.process(ctx, msg)
	if err == nil {
		return true
	}
	if ctx.Err() != nil {
		return false
	}

	h.log.Warn("process message failed, sending to DLQ",
		slog.Any("err", err),
		slog.Int("partition", msg.Partition),
		slog.Int64("offset", msg.Offset),
	)
	if dlqErr := h.dlq.Send(ctx, msg, err, diagnostics(err)...); dlqErr != nil {
		h.log.Error("DLQ write exhausted retries, leaving message uncommitted",
			slog.Any("err", dlqErr),
			slog.Int("partition", msg.Partition),
			slog.Int64("offset", msg.Offset),
		)
		return false
	}
	return true
}

func (h *handler) process(ctx context.Context, msg kafka.Message) error {
	env, err := queue.Decode(msg.Value)
	if err != nil {
		return fmt.Errorf("%w: %v", errMalformed, err)
	}

	for attempt := 1; ; attempt++ {
		rec, err := h.an.Analyze(ctx, env.Article)
		if err == nil {
			h.log.Info("article analyzed",
				slog.String("id", rec.ID),
				slog.String("subject", rec.Subject),
				slog.String("category", string(rec.Sentiment.Category)),
				slog.String("run_id", env.RunID),
			)
			return nil
		}
		if analysis.IsParseError(err) || attempt >= h.attempts {
			return err
		}

		wait := h.backoff * time.Duration(1<<uint(attempt-1))
		h.log.Warn("analysis failed, retrying",
			slog.Any("err", err),
			slog.String("url", env.Article.URL),
			slog.Int("attempt", attempt),
			slog.Duration("backoff", wait),
		)
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// diagnostics describes err in DLQ headers. Rejected analyses keep the raw
// model response.
func diagnostics(err error) []kafka.Header {
	var pe *analysis.ParseError
	if errors.As(err, &pe) {
		headers := []kafka.Header{{Key: "error_kind", Value: []byte(pe.Kind)}}
		if pe.Field != "" {
			headers = append(headers, kafka.Header{Key: "error_field", Value: []byte(pe.Field)})
		}
		if pe.Raw != "" {
			headers = append(headers, kafka.Header{Key: "raw_response", Value: []byte(pe.Raw)})
		}
		return headers
	}
	if errors.Is(err, errMalformed) {
		return []kafka.Header{{Key: "error_kind", Value: []byte(errMalformed.Error())}}
	}
	return []kafka.Header{{Key: "error_kind", Value: []byte("infrastructure")}}
}
