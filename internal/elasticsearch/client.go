package elasticsearch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"

	"github.com/DeafMist/market-news-radar/internal/docstore"
	"github.com/DeafMist/market-news-radar/internal/logger"
)

// Client wraps go-elasticsearch and implements docstore.Store with one index per collection.
type Client struct {
	es  *elasticsearch.Client
	log *slog.Logger
}

// New instantiates the Elasticsearch client.
func New(addr string, log *slog.Logger) (*Client, error) {
	cfg := elasticsearch.Config{
		Addresses: []string{addr},
	}

	es, err := elasticsearch.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("create elasticsearch client: %w", err)
	}

	return &Client{es: es, log: logger.OrDiscard(log)}, nil
}

// Ping checks if Elasticsearch is available.
func (c *Client) Ping(ctx context.Context) error {
	res, err := c.es.Ping(c.es.Ping.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("ping elasticsearch: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return fmt.Errorf("elasticsearch ping failed: %s", res.Status())
	}

	return nil
}

// Health checks the cluster health endpoint.
func (c *Client) Health(ctx context.Context) error {
	res, err := c.es.Cluster.Health(c.es.Cluster.Health.WithContext(ctx))
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("cluster health bad: %s", readError(res))
	}
	return nil
}

// Save implements docstore.Store. With merge the record is applied as a
// partial update with doc_as_upsert, otherwise the document is replaced.
func (c *Client) Save(ctx context.Context, collection, id string, record any, merge bool) error {
	fail := func(err error) error {
		return &docstore.StorageError{Op: "save", Collection: collection, ID: id, Err: err}
	}

	var (
		res *esapi.Response
		err error
	)
	if merge {
		payload, merr := json.Marshal(map[string]any{"doc": record, "doc_as_upsert": true})
		if merr != nil {
			return fail(fmt.Errorf("marshal doc: %w", merr))
		}
		res, err = esapi.UpdateRequest{
			Index:      collection,
			DocumentID: id,
			Body:       bytes.NewReader(payload),
			Refresh:    "false",
		}.Do(ctx, c.es)
	} else {
		payload, merr := json.Marshal(record)
		if merr != nil {
			return fail(fmt.Errorf("marshal doc: %w", merr))
		}
		res, err = esapi.IndexRequest{
			Index:      collection,
			DocumentID: id,
			Body:       bytes.NewReader(payload),
			Refresh:    "false",
		}.Do(ctx, c.es)
	}
	if err != nil {
		return fail(err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return fail(errors.New(readError(res)))
	}
	return nil
}

// Get implements docstore.Store.
func (c *Client) Get(ctx context.Context, collection, id string) (docstore.Document, error) {
	res, err := esapi.GetRequest{Index: collection, DocumentID: id}.Do(ctx, c.es)
	if err != nil {
		return docstore.Document{}, &docstore.StorageError{Op: "get", Collection: collection, ID: id, Err: err}
	}
	defer res.Body.Close()

	if res.StatusCode == http.StatusNotFound {
		return docstore.Document{}, docstore.ErrNotFound
	}
	if res.IsError() {
		return docstore.Document{}, &docstore.StorageError{Op: "get", Collection: collection, ID: id, Err: errors.New(readError(res))}
	}

	var parsed struct {
		ID     string          `json:"_id"`
		Found  bool            `json:"found"`
		Source json.RawMessage `json:"_source"`
	}
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return docstore.Document{}, &docstore.StorageError{Op: "get", Collection: collection, ID: id, Err: fmt.Errorf("decode: %w", err)}
	}
	if !parsed.Found {
		return docstore.Document{}, docstore.ErrNotFound
	}
	return docstore.Document{ID: parsed.ID, Data: parsed.Source}, nil
}

// Delete implements docstore.Store.
func (c *Client) Delete(ctx context.Context, collection, id string) error {
	res, err := esapi.DeleteRequest{Index: collection, DocumentID: id, Refresh: "false"}.Do(ctx, c.es)
	if err != nil {
		return &docstore.StorageError{Op: "delete", Collection: collection, ID: id, Err: err}
	}
	defer res.Body.Close()

	if res.StatusCode == http.StatusNotFound {
		return nil
	}
	if res.IsError() {
		return &docstore.StorageError{Op: "delete", Collection: collection, ID: id, Err: errors.New(readError(res))}
	}
	return nil
}

// Query implements docstore.Store.
func (c *Client) Query(ctx context.Context, collection string, q docstore.Query) ([]docstore.Document, error) {
	fail := func(err error) error {
		return &docstore.StorageError{Op: "query", Collection: collection, Err: err}
	}
	if err := q.Validate(); err != nil {
		return nil, fail(err)
	}

	hits, err := c.search(ctx, collection, BuildSearchBody(q))
	if err != nil {
		if errors.Is(err, errIndexMissing) {
			return nil, nil
		}
		return nil, fail(err)
	}

	docs := make([]docstore.Document, 0, len(hits))
	for _, h := range hits {
		docs = append(docs, docstore.Document{ID: h.ID, Data: h.Source})
	}
	return docs, nil
}

// DeleteOlderThan removes documents whose field is older than maxAge using
// batched delete-by-query. It loops until a batch deletes fewer documents than batchSize.
func (c *Client) DeleteOlderThan(ctx context.Context, index, field string, maxAge time.Duration, batchSize int) (int64, error) {
	if batchSize <= 0 {
		batchSize = 1000
	}

	cutoff := time.Now().Add(-maxAge).UTC().Format(time.RFC3339)
	totalDeleted := int64(0)

	for {
		body := map[string]any{
			"query": map[string]any{
				"range": map[string]any{
					field: map[string]any{"lte": cutoff},
				},
			},
		}

		payload, err := json.Marshal(body)
		if err != nil {
			return totalDeleted, fmt.Errorf("marshal delete body: %w", err)
		}

		res, err := c.es.DeleteByQuery(
			[]string{index},
			bytes.NewReader(payload),
			c.es.DeleteByQuery.WithContext(ctx),
			c.es.DeleteByQuery.WithWaitForCompletion(true),
			c.es.DeleteByQuery.WithConflicts("proceed"),
			c.es.DeleteByQuery.WithScrollSize(batchSize),
			c.es.DeleteByQuery.WithMaxDocs(batchSize),
		)
		if err != nil {
			return totalDeleted, fmt.Errorf("delete by query: %w", err)
		}

		if res.IsError() {
			msg := readError(res)
			res.Body.Close()
			return totalDeleted, fmt.Errorf("delete by query failed: %s", msg)
		}

		var parsed struct {
			Deleted int64 `json:"deleted"`
		}
		err = json.NewDecoder(res.Body).Decode(&parsed)
		res.Body.Close()
		if err != nil {
			return totalDeleted, fmt.Errorf("decode delete response: %w", err)
		}

		totalDeleted += parsed.Deleted
		c.log.Debug("retention batch", slog.String("index", index), slog.Int64("deleted", parsed.Deleted))

		if parsed.Deleted < int64(batchSize) {
			break
		}
	}

	return totalDeleted, nil
}

var errIndexMissing = errors.New("index not found")

type hit struct {
	ID     string          `json:"_id"`
	Score  float64         `json:"_score"`
	Source json.RawMessage `json:"_source"`
}

func (c *Client) search(ctx context.Context, index string, body map[string]any) ([]hit, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal search body: %w", err)
	}

	res, err := c.es.Search(
		c.es.Search.WithContext(ctx),
		c.es.Search.WithIndex(index),
		c.es.Search.WithBody(bytes.NewReader(payload)),
	)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode == http.StatusNotFound {
		return nil, errIndexMissing
	}
	if res.IsError() {
		return nil, fmt.Errorf("search failed: %s", readError(res))
	}

	var parsed struct {
		Hits struct {
			Hits []hit `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}
	return parsed.Hits.Hits, nil
}

func readError(res *esapi.Response) string {
	data, _ := io.ReadAll(res.Body)
	msg := strings.TrimSpace(string(data))
	if msg == "" {
		return res.Status()
	}
	return msg
}
