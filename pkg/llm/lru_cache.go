package llm

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// LRUEmbeddingCache 进程内带过期时间的 LRU 缓存。
type LRUEmbeddingCache struct {
	next  EmbeddingProvider
	cache *expirable.LRU[string, []float32]
}

// NewLRUEmbeddingCache 创建进程内缓存，size 或 ttl 非正时返回 next 本身。
func NewLRUEmbeddingCache(next EmbeddingProvider, size int, ttl time.Duration) EmbeddingProvider {
	if next == nil || size <= 0 || ttl <= 0 {
		return next
	}
	return &LRUEmbeddingCache{
		next:  next,
		cache: expirable.NewLRU[string, []float32](size, nil, ttl),
	}
}

// Embed 实现 EmbeddingProvider。
func (c *LRUEmbeddingCache) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	keys := make([]string, len(texts))
	var missing []int
	for i, text := range texts {
		keys[i] = embeddingKey(c.next.Name(), text)
		if v, ok := c.cache.Get(keys[i]); ok {
			out[i] = cloneVector(v)
			continue
		}
		missing = append(missing, i)
	}

	out, err := embedMissing(ctx, c.next, texts, out, missing)
	if err != nil {
		return nil, err
	}
	for _, idx := range missing {
		c.cache.Add(keys[idx], cloneVector(out[idx]))
	}
	return out, nil
}

// Name 返回底层供应商名称。
func (c *LRUEmbeddingCache) Name() string { return c.next.Name() }

// Len 返回缓存条目数。
func (c *LRUEmbeddingCache) Len() int { return c.cache.Len() }

var _ EmbeddingProvider = (*LRUEmbeddingCache)(nil)
