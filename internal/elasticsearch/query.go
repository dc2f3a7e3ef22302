package elasticsearch

import (
	"time"

	"github.com/DeafMist/market-news-radar/internal/docstore"
)

const defaultQuerySize = 100

// BuildSearchBody translates a docstore query into an Elasticsearch search body.
func BuildSearchBody(q docstore.Query) map[string]any {
	size := q.Limit
	if size <= 0 {
		size = defaultQuerySize
	}

	body := map[string]any{
		"size":  size,
		"query": buildBoolQuery(q.Filters),
	}

	if q.OrderBy != "" {
		order := string(q.Direction)
		if order == "" {
			order = string(docstore.Ascending)
		}
		body["sort"] = []map[string]any{
			{q.OrderBy: map[string]any{"order": order, "unmapped_type": "keyword"}},
		}
	}
	return body
}

func buildBoolQuery(filters []docstore.Filter) map[string]any {
	if len(filters) == 0 {
		return map[string]any{"match_all": map[string]any{}}
	}

	clauses := make([]map[string]any, 0, len(filters))
	ranges := map[string]map[string]any{}
	var rangeOrder []string

	for _, f := range filters {
		value := esValue(f.Value)
		switch f.Op {
		case docstore.OpEq, docstore.OpArrayContains:
			clauses = append(clauses, map[string]any{"term": map[string]any{f.Field: value}})
		case docstore.OpIn, docstore.OpArrayContainsAny:
			clauses = append(clauses, map[string]any{"terms": map[string]any{f.Field: value}})
		case docstore.OpGT, docstore.OpGTE, docstore.OpLT, docstore.OpLTE:
			r, ok := ranges[f.Field]
			if !ok {
				r = map[string]any{}
				ranges[f.Field] = r
				rangeOrder = append(rangeOrder, f.Field)
			}
			r[rangeKey(f.Op)] = value
		}
	}
	for _, field := range rangeOrder {
		clauses = append(clauses, map[string]any{"range": map[string]any{field: ranges[field]}})
	}

	return map[string]any{"bool": map[string]any{"filter": clauses}}
}

func rangeKey(op docstore.Operator) string {
	switch op {
	case docstore.OpGT:
		return "gt"
	case docstore.OpGTE:
		return "gte"
	case docstore.OpLT:
		return "lt"
	default:
		return "lte"
	}
}

func esValue(v any) any {
	switch t := v.(type) {
	case time.Time:
		return t.UTC().Format(time.RFC3339)
	case *time.Time:
		if t == nil {
			return nil
		}
		return t.UTC().Format(time.RFC3339)
	}
	return v
}
