package docstore

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"
)

// Memory is an in-process Gateway used by component tests so they do
// not require a live Postgres instance, mirroring the fakes the
// teacher's http package tests construct instead of hitting real
// infrastructure.
type Memory struct {
	mu   sync.Mutex
	data map[string]map[string]json.RawMessage
}

// NewMemory constructs an empty in-memory Gateway.
func NewMemory() *Memory {
	return &Memory{data: make(map[string]map[string]json.RawMessage)}
}

func (m *Memory) collection(name string) map[string]json.RawMessage {
	c, ok := m.data[name]
	if !ok {
		c = make(map[string]json.RawMessage)
		m.data[name] = c
	}
	return c
}

func (m *Memory) Get(_ context.Context, collection, key string) (json.RawMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	doc, ok := m.collection(collection)[key]
	if !ok {
		return nil, newError(KindNotFound, errNotFound(collection, key))
	}
	return doc, nil
}

func (m *Memory) Put(_ context.Context, collection, key string, doc any) error {
	payload, err := json.Marshal(doc)
	if err != nil {
		return newError(KindPrecondition, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.collection(collection)[key] = payload
	return nil
}

func (m *Memory) Update(_ context.Context, collection, key string, merge func(current json.RawMessage) (json.RawMessage, error)) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	current := m.collection(collection)[key]
	updated, err := merge(current)
	if err != nil {
		return newError(KindPrecondition, err)
	}
	m.collection(collection)[key] = updated
	return nil
}

func (m *Memory) Delete(_ context.Context, collection, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.collection(collection), key)
	return nil
}

func (m *Memory) Query(_ context.Context, collection string, filters []Filter, order []OrderBy, limit int) ([]json.RawMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	docs := make([]json.RawMessage, 0, len(m.collection(collection)))
	for _, doc := range m.collection(collection) {
		docs = append(docs, doc)
	}

	filtered := docs[:0:0]
	for _, doc := range docs {
		var decoded map[string]any
		if err := json.Unmarshal(doc, &decoded); err != nil {
			continue
		}
		if matchesAll(decoded, filters) {
			filtered = append(filtered, doc)
		}
	}

	if len(order) > 0 {
		sort.SliceStable(filtered, func(i, j int) bool {
			var a, b map[string]any
			_ = json.Unmarshal(filtered[i], &a)
			_ = json.Unmarshal(filtered[j], &b)
			for _, o := range order {
				cmp := compareField(a[o.Field], b[o.Field])
				if cmp == 0 {
					continue
				}
				if o.Descending {
					return cmp > 0
				}
				return cmp < 0
			}
			return false
		})
	}

	if limit > 0 && len(filtered) > limit {
		filtered = filtered[:limit]
	}
	return filtered, nil
}

func (m *Memory) BatchExists(_ context.Context, collection string, keys []string) (map[string]bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[string]bool, len(keys))
	c := m.collection(collection)
	for _, k := range keys {
		_, ok := c[k]
		out[k] = ok
	}
	return out, nil
}

func matchesAll(doc map[string]any, filters []Filter) bool {
	for _, f := range filters {
		val, ok := doc[f.Field]
		if !ok {
			return false
		}
		cmp := compareField(val, f.Value)
		switch f.Op {
		case "", "=":
			if cmp != 0 {
				return false
			}
		case "!=":
			if cmp == 0 {
				return false
			}
		case "<":
			if cmp >= 0 {
				return false
			}
		case "<=":
			if cmp > 0 {
				return false
			}
		case ">":
			if cmp <= 0 {
				return false
			}
		case ">=":
			if cmp < 0 {
				return false
			}
		}
	}
	return true
}

func compareField(a, b any) int {
	as, aok := a.(string)
	bs, bok := b.(string)
	if aok && bok {
		return strings.Compare(as, bs)
	}
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	if aok && bok {
		switch {
		case af < bf:
			return -1
		case af > bf:
			return 1
		default:
			return 0
		}
	}
	return strings.Compare(toString(a), toString(b))
}

func toFloat(v any) (float64, bool) {
	f, ok := v.(float64)
	return f, ok
}

func toString(v any) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	b, _ := json.Marshal(v)
	return string(b)
}

type notFoundError struct{ msg string }

func (e *notFoundError) Error() string { return e.msg }

func errNotFound(collection, key string) error {
	return &notFoundError{msg: collection + "/" + key + ": not found"}
}
