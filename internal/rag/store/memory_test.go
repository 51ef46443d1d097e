package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestMemoryStore(t *testing.T) *MemoryStore {
	t.Helper()
	s, err := NewMemoryStore(CollectionConfig{Name: "notes", Dimension: 3})
	require.NoError(t, err)
	return s
}

func TestMemoryStore_QueryOrdersByCosine(t *testing.T) {
	ctx := context.Background()
	s := newTestMemoryStore(t)

	require.NoError(t, s.Upsert(ctx, []*Record{
		{ID: "far", Values: []float32{0, 0, 1}, Metadata: map[string]any{"content": "far"}},
		{ID: "near", Values: []float32{1, 0.1, 0}, Metadata: map[string]any{"content": "near"}},
		{ID: "mid", Values: []float32{1, 1, 0}, Metadata: map[string]any{"content": "mid"}},
	}))

	matches, err := s.Query(ctx, []float32{1, 0, 0}, 2)
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, "near", matches[0].ID)
	assert.Equal(t, "mid", matches[1].ID)
	assert.Greater(t, matches[0].Score, matches[1].Score)
	assert.Equal(t, "near", matches[0].Metadata["content"])
}

func TestMemoryStore_EmptyAndTopK(t *testing.T) {
	ctx := context.Background()
	s := newTestMemoryStore(t)

	matches, err := s.Query(ctx, []float32{1, 0, 0}, 3)
	require.NoError(t, err)
	assert.Empty(t, matches)

	matches, err = s.Query(ctx, []float32{1, 0, 0}, 0)
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestMemoryStore_DimensionMismatch(t *testing.T) {
	ctx := context.Background()
	s := newTestMemoryStore(t)

	err := s.Upsert(ctx, []*Record{
		{ID: "ok", Values: []float32{1, 2, 3}},
		{ID: "bad", Values: []float32{1, 2}},
	})
	assert.ErrorIs(t, err, ErrDimensionMismatch)

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.Records, "a rejected batch must not be partially written")

	_, err = s.Query(ctx, []float32{1}, 3)
	assert.ErrorIs(t, err, ErrDimensionMismatch)
}

func TestMemoryStore_UpsertOverwritesAndDelete(t *testing.T) {
	ctx := context.Background()
	s := newTestMemoryStore(t)

	require.NoError(t, s.Upsert(ctx, []*Record{{ID: "a", Values: []float32{1, 0, 0}, Metadata: map[string]any{"v": 1}}}))
	require.NoError(t, s.Upsert(ctx, []*Record{{ID: "a", Values: []float32{1, 0, 0}, Metadata: map[string]any{"v": 2}}}))

	matches, err := s.Query(ctx, []float32{1, 0, 0}, 5)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, float64(2), matches[0].Metadata["v"])

	require.NoError(t, s.Delete(ctx, []string{"a", "missing"}))
	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), stats.Records)
	assert.Equal(t, BackendMemory, stats.Backend)
}

func TestMemoryStore_MetadataIsolated(t *testing.T) {
	ctx := context.Background()
	s := newTestMemoryStore(t)

	meta := map[string]any{"content": "original"}
	require.NoError(t, s.Upsert(ctx, []*Record{{ID: "a", Values: []float32{0, 1, 0}, Metadata: meta}}))
	meta["content"] = "mutated"

	first, err := s.Query(ctx, []float32{0, 1, 0}, 1)
	require.NoError(t, err)
	first[0].Metadata["content"] = "changed by caller"

	second, err := s.Query(ctx, []float32{0, 1, 0}, 1)
	require.NoError(t, err)
	assert.Equal(t, "original", second[0].Metadata["content"])
}

func TestNewMemoryStore_InvalidDimension(t *testing.T) {
	_, err := NewMemoryStore(CollectionConfig{Dimension: 0})
	assert.Error(t, err)
}
