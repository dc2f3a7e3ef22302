// Package docstore defines the document database contract the pipeline persists through.
package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrNotFound is returned by Get when the document does not exist.
var ErrNotFound = errors.New("document not found")

// Operator is a filter comparison.
type Operator string

const (
	OpEq               Operator = "=="
	OpGT               Operator = ">"
	OpGTE              Operator = ">="
	OpLT               Operator = "<"
	OpLTE              Operator = "<="
	OpIn               Operator = "in"
	OpArrayContains    Operator = "array-contains"
	OpArrayContainsAny Operator = "array-contains-any"
)

// Valid reports whether op is supported.
func (op Operator) Valid() bool {
	switch op {
	case OpEq, OpGT, OpGTE, OpLT, OpLTE, OpIn, OpArrayContains, OpArrayContainsAny:
		return true
	}
	return false
}

// Filter restricts a query on one field. Field may be a dotted path.
type Filter struct {
	Field string   `json:"field"`
	Op    Operator `json:"op"`
	Value any      `json:"value"`
}

// Where is shorthand for constructing a Filter.
func Where(field string, op Operator, value any) Filter {
	return Filter{Field: field, Op: op, Value: value}
}

// Direction orders query results.
type Direction string

const (
	Ascending  Direction = "asc"
	Descending Direction = "desc"
)

// Query selects documents from one collection.
type Query struct {
	Filters   []Filter
	OrderBy   string
	Direction Direction
	Limit     int
}

// Validate checks operators and list-valued operands.
func (q Query) Validate() error {
	for _, f := range q.Filters {
		if f.Field == "" {
			return fmt.Errorf("filter field is empty")
		}
		if !f.Op.Valid() {
			return fmt.Errorf("unsupported filter operator %q", f.Op)
		}
		if f.Op == OpIn || f.Op == OpArrayContainsAny {
			if _, ok := asList(f.Value); !ok {
				return fmt.Errorf("operator %q on %s needs a list value", f.Op, f.Field)
			}
		}
	}
	switch q.Direction {
	case "", Ascending, Descending:
	default:
		return fmt.Errorf("unsupported direction %q", q.Direction)
	}
	return nil
}

// Document is a stored record with its id.
type Document struct {
	ID   string
	Data json.RawMessage
}

// Decode unmarshals the document body into v.
func (d Document) Decode(v any) error {
	if err := json.Unmarshal(d.Data, v); err != nil {
		return fmt.Errorf("decode document %s: %w", d.ID, err)
	}
	return nil
}

// Store is the document database.
type Store interface {
	// Save writes record under id. With merge the record is merged into an
	// existing document instead of replacing it.
	Save(ctx context.Context, collection, id string, record any, merge bool) error
	Get(ctx context.Context, collection, id string) (Document, error)
	Query(ctx context.Context, collection string, q Query) ([]Document, error)
	// Delete removes id. A missing document is not an error.
	Delete(ctx context.Context, collection, id string) error
}

// StorageError reports a failed persistence call.
type StorageError struct {
	Op         string
	Collection string
	ID         string
	Err        error
}

func (e *StorageError) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("docstore %s %s/%s: %v", e.Op, e.Collection, e.ID, e.Err)
	}
	return fmt.Sprintf("docstore %s %s: %v", e.Op, e.Collection, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// DecodeAll decodes every document into a slice of T.
func DecodeAll[T any](docs []Document) ([]T, error) {
	out := make([]T, 0, len(docs))
	for _, d := range docs {
		var v T
		if err := d.Decode(&v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}
