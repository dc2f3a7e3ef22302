package docstore

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
)

// ToMap converts a record into its JSON object form.
func ToMap(record any) (map[string]any, error) {
	if m, ok := record.(map[string]any); ok {
		return normalizeMap(m)
	}
	data, err := json.Marshal(record)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("record is not an object: %w", err)
	}
	return out, nil
}

func normalizeMap(m map[string]any) (map[string]any, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Lookup resolves a dotted field path inside doc. A path that crosses a list of
// objects projects the remaining path over every element, so "entities.name"
// yields the list of entity names.
func Lookup(doc map[string]any, field string) (any, bool) {
	return lookupPath(doc, strings.Split(field, "."))
}

func lookupPath(cur any, parts []string) (any, bool) {
	if len(parts) == 0 {
		return cur, true
	}
	switch v := cur.(type) {
	case map[string]any:
		next, ok := v[parts[0]]
		if !ok {
			return nil, false
		}
		return lookupPath(next, parts[1:])
	case []any:
		out := make([]any, 0, len(v))
		for _, item := range v {
			if got, ok := lookupPath(item, parts); ok {
				out = append(out, got)
			}
		}
		return out, len(out) > 0
	}
	return nil, false
}

// Match reports whether doc satisfies every filter.
func Match(doc map[string]any, filters []Filter) bool {
	for _, f := range filters {
		if !matchOne(doc, f) {
			return false
		}
	}
	return true
}

func matchOne(doc map[string]any, f Filter) bool {
	got, ok := Lookup(doc, f.Field)
	if !ok {
		return false
	}
	want := jsonValue(f.Value)

	switch f.Op {
	case OpEq:
		if list, isList := got.([]any); isList {
			return containsValue(list, want)
		}
		return equalValues(got, want)
	case OpGT, OpGTE, OpLT, OpLTE:
		c, ok := compareValues(got, want)
		if !ok {
			return false
		}
		switch f.Op {
		case OpGT:
			return c > 0
		case OpGTE:
			return c >= 0
		case OpLT:
			return c < 0
		default:
			return c <= 0
		}
	case OpIn:
		options, _ := asList(want)
		return containsValue(options, got)
	case OpArrayContains:
		list, ok := got.([]any)
		return ok && containsValue(list, want)
	case OpArrayContainsAny:
		list, ok := got.([]any)
		if !ok {
			return false
		}
		options, _ := asList(want)
		for _, o := range options {
			if containsValue(list, o) {
				return true
			}
		}
		return false
	}
	return false
}

// CompareField orders a and b by field; missing values sort first.
func CompareField(a, b map[string]any, field string) int {
	av, aok := Lookup(a, field)
	bv, bok := Lookup(b, field)
	switch {
	case !aok && !bok:
		return 0
	case !aok:
		return -1
	case !bok:
		return 1
	}
	c, _ := compareValues(av, bv)
	return c
}

func jsonValue(v any) any {
	data, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return v
	}
	return out
}

func asList(v any) ([]any, bool) {
	if v == nil {
		return nil, false
	}
	if list, ok := v.([]any); ok {
		return list, true
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = jsonValue(rv.Index(i).Interface())
	}
	return out, true
}

func containsValue(list []any, v any) bool {
	for _, item := range list {
		if equalValues(item, v) {
			return true
		}
	}
	return false
}

func equalValues(a, b any) bool {
	if c, ok := compareValues(a, b); ok {
		return c == 0
	}
	return reflect.DeepEqual(a, b)
}

func compareValues(a, b any) (int, bool) {
	switch av := a.(type) {
	case float64:
		bv, ok := b.(float64)
		if !ok {
			return 0, false
		}
		switch {
		case av < bv:
			return -1, true
		case av > bv:
			return 1, true
		}
		return 0, true
	case string:
		bv, ok := b.(string)
		if !ok {
			return 0, false
		}
		return strings.Compare(av, bv), true
	case bool:
		bv, ok := b.(bool)
		if !ok {
			return 0, false
		}
		switch {
		case av == bv:
			return 0, true
		case !av:
			return -1, true
		}
		return 1, true
	}
	return 0, false
}
