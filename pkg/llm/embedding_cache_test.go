package llm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingEmbedder struct {
	calls  int
	inputs [][]string
	err    error
}

func (c *countingEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	c.calls++
	c.inputs = append(c.inputs, append([]string(nil), texts...))
	if c.err != nil {
		return nil, c.err
	}
	out := make([][]float32, len(texts))
	for i, text := range texts {
		out[i] = []float32{float32(len(text)), 1}
	}
	return out, nil
}

func (c *countingEmbedder) Name() string { return "counting" }

func newMiniRedis(t *testing.T) (*miniredis.Miniredis, *goredis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestRedisEmbeddingCache(t *testing.T) {
	mr, client := newMiniRedis(t)
	inner := &countingEmbedder{}
	cache := NewRedisEmbeddingCache(inner, client, &EmbeddingCacheConfig{TTL: time.Hour, KeyPrefix: "t:emb:"})
	ctx := context.Background()

	first, err := cache.Embed(ctx, []string{"a", "bb"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{1, 1}, {2, 1}}, first)

	second, err := cache.Embed(ctx, []string{"bb", "ccc", "a"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{2, 1}, {3, 1}, {1, 1}}, second)

	require.Equal(t, 2, inner.calls)
	assert.Equal(t, []string{"ccc"}, inner.inputs[1], "only misses reach the provider")
	assert.Len(t, mr.Keys(), 3)

	mr.FastForward(2 * time.Hour)
	assert.Empty(t, mr.Keys())

	n, err := cache.Clear(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRedisEmbeddingCache_CorruptEntry(t *testing.T) {
	mr, client := newMiniRedis(t)
	inner := &countingEmbedder{}
	cache := NewRedisEmbeddingCache(inner, client, nil)

	require.NoError(t, mr.Set(cache.key("a"), "not-json"))
	out, err := cache.Embed(context.Background(), []string{"a"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{1, 1}}, out)
	assert.Equal(t, 1, inner.calls)
}

func TestRedisEmbeddingCache_RedisDown(t *testing.T) {
	mr, client := newMiniRedis(t)
	mr.Close()

	inner := &countingEmbedder{}
	cache := NewRedisEmbeddingCache(inner, client, nil)
	out, err := cache.Embed(context.Background(), []string{"a"})
	require.NoError(t, err)
	assert.Len(t, out, 1)
}

func TestLRUEmbeddingCache(t *testing.T) {
	inner := &countingEmbedder{}
	provider := NewLRUEmbeddingCache(inner, 8, time.Minute)
	cache, ok := provider.(*LRUEmbeddingCache)
	require.True(t, ok)

	ctx := context.Background()
	out, err := cache.Embed(ctx, []string{"x", "yy"})
	require.NoError(t, err)
	out[0][0] = 99

	again, err := cache.Embed(ctx, []string{"x"})
	require.NoError(t, err)
	assert.Equal(t, float32(1), again[0][0], "cached vectors are copied")
	assert.Equal(t, 1, inner.calls)
	assert.Equal(t, 2, cache.Len())
}

func TestLRUEmbeddingCache_Disabled(t *testing.T) {
	inner := &countingEmbedder{}
	assert.Same(t, EmbeddingProvider(inner), NewLRUEmbeddingCache(inner, 0, time.Minute))
}

func TestEmbeddingCache_ProviderError(t *testing.T) {
	inner := &countingEmbedder{err: errors.New("upstream down")}
	cache := NewLRUEmbeddingCache(inner, 8, time.Minute)
	_, err := cache.Embed(context.Background(), []string{"a"})
	assert.ErrorContains(t, err, "upstream down")
}
