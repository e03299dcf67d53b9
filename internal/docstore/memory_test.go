package docstore

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMemoryPutGet(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	require.NoError(t, m.Put(ctx, "companies", "acme", map[string]any{"name": "Acme"}))

	doc, err := m.Get(ctx, "companies", "acme")
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(doc, &decoded))
	require.Equal(t, "Acme", decoded["name"])
}

func TestMemoryGetNotFound(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	_, err := m.Get(ctx, "companies", "missing")
	require.Error(t, err)
	require.True(t, IsNotFound(err))
}

func TestMemoryUpdateNeverOverwritesWithEmpty(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	require.NoError(t, m.Put(ctx, "companies", "acme", map[string]any{"name": "Acme", "about": "We build things"}))

	merge := func(current json.RawMessage) (json.RawMessage, error) {
		var doc map[string]any
		_ = json.Unmarshal(current, &doc)
		incoming := map[string]any{"name": "Acme", "about": ""}
		for k, v := range incoming {
			if s, ok := v.(string); ok && s == "" {
				continue // never overwrite a non-empty field with empty
			}
			doc[k] = v
		}
		return json.Marshal(doc)
	}
	require.NoError(t, m.Update(ctx, "companies", "acme", merge))

	doc, err := m.Get(ctx, "companies", "acme")
	require.NoError(t, err)
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(doc, &decoded))
	require.Equal(t, "We build things", decoded["about"])
}

func TestBatchExistsReportsOnlyKnownKeys(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	require.NoError(t, m.Put(ctx, "job_matches", "hash-1", map[string]any{"score": 90}))

	got, err := m.BatchExists(ctx, "job_matches", []string{"hash-1", "hash-2"})
	require.NoError(t, err)
	require.True(t, got["hash-1"])
	require.False(t, got["hash-2"])
}

func TestQueryFilters(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	require.NoError(t, m.Put(ctx, "job_sources", "a", map[string]any{"tier": "S", "health_score": 0.9}))
	require.NoError(t, m.Put(ctx, "job_sources", "b", map[string]any{"tier": "A", "health_score": 0.5}))

	docs, err := m.Query(ctx, "job_sources", []Filter{{Field: "tier", Op: "=", Value: "S"}}, nil, 0)
	require.NoError(t, err)
	require.Len(t, docs, 1)
}
