package llm

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"github.com/kart-io/logger"
	goredis "github.com/redis/go-redis/v9"

	"github.com/kart-io/medrag/pkg/utils/json"
)

// EmbeddingCacheConfig Redis Embedding 缓存配置。
type EmbeddingCacheConfig struct {
	TTL       time.Duration
	KeyPrefix string
}

// DefaultEmbeddingCacheConfig 返回默认配置。
func DefaultEmbeddingCacheConfig() *EmbeddingCacheConfig {
	return &EmbeddingCacheConfig{
		TTL:       24 * time.Hour,
		KeyPrefix: "medrag:emb:",
	}
}

func embeddingKey(provider, text string) string {
	sum := sha256.Sum256([]byte(provider + "\x00" + text))
	return hex.EncodeToString(sum[:])
}

func cloneVector(v []float32) []float32 {
	if v == nil {
		return nil
	}
	out := make([]float32, len(v))
	copy(out, v)
	return out
}

// embedMissing 对未命中的文本调用 next，并把结果按原位置回填。
func embedMissing(ctx context.Context, next EmbeddingProvider, texts []string, out [][]float32, missing []int) ([][]float32, error) {
	if len(missing) == 0 {
		return out, nil
	}
	batch := make([]string, len(missing))
	for i, idx := range missing {
		batch[i] = texts[idx]
	}
	vectors, err := next.Embed(ctx, batch)
	if err != nil {
		return nil, err
	}
	if len(vectors) != len(batch) {
		return nil, errors.New("llm: embedding count mismatch")
	}
	for i, idx := range missing {
		out[idx] = vectors[i]
	}
	return out, nil
}

// RedisEmbeddingCache 以 Redis 缓存 Embedding 结果，Redis 故障时直接穿透到底层供应商。
type RedisEmbeddingCache struct {
	next   EmbeddingProvider
	client *goredis.Client
	config *EmbeddingCacheConfig
}

// NewRedisEmbeddingCache 创建 Redis 缓存包装。
func NewRedisEmbeddingCache(next EmbeddingProvider, client *goredis.Client, config *EmbeddingCacheConfig) *RedisEmbeddingCache {
	if config == nil {
		config = DefaultEmbeddingCacheConfig()
	}
	return &RedisEmbeddingCache{next: next, client: client, config: config}
}

func (c *RedisEmbeddingCache) key(text string) string {
	return c.config.KeyPrefix + embeddingKey(c.next.Name(), text)
}

// Embed 实现 EmbeddingProvider。
func (c *RedisEmbeddingCache) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if c.client == nil || len(texts) == 0 {
		return c.next.Embed(ctx, texts)
	}

	keys := make([]string, len(texts))
	for i, text := range texts {
		keys[i] = c.key(text)
	}

	out := make([][]float32, len(texts))
	var missing []int

	cached, err := c.client.MGet(ctx, keys...).Result()
	if err != nil {
		logger.Warnw("embedding cache read failed, falling through", "error", err.Error())
		cached = make([]any, len(texts))
	}
	for i, v := range cached {
		s, ok := v.(string)
		if !ok {
			missing = append(missing, i)
			continue
		}
		var vec []float32
		if err := json.UnmarshalString(s, &vec); err != nil {
			logger.Warnw("drop corrupted embedding cache entry", "key", keys[i], "error", err.Error())
			_ = c.client.Del(ctx, keys[i]).Err()
			missing = append(missing, i)
			continue
		}
		out[i] = vec
	}

	logger.Debugw("embedding cache lookup", "total", len(texts), "missing", len(missing))
	out, err = embedMissing(ctx, c.next, texts, out, missing)
	if err != nil {
		return nil, err
	}

	if len(missing) > 0 {
		pipe := c.client.Pipeline()
		for _, idx := range missing {
			data, err := json.Marshal(out[idx])
			if err != nil {
				continue
			}
			pipe.Set(ctx, keys[idx], data, c.config.TTL)
		}
		if _, err := pipe.Exec(ctx); err != nil {
			logger.Warnw("embedding cache write failed", "error", err.Error())
		}
	}
	return out, nil
}

// Name 返回底层供应商名称。
func (c *RedisEmbeddingCache) Name() string { return c.next.Name() }

// Clear 删除该前缀下的全部缓存，返回删除数量。
func (c *RedisEmbeddingCache) Clear(ctx context.Context) (int, error) {
	if c.client == nil {
		return 0, nil
	}
	iter := c.client.Scan(ctx, 0, c.config.KeyPrefix+"*", 100).Iterator()
	deleted := 0
	for iter.Next(ctx) {
		if err := c.client.Del(ctx, iter.Val()).Err(); err == nil {
			deleted++
		}
	}
	return deleted, iter.Err()
}

var _ EmbeddingProvider = (*RedisEmbeddingCache)(nil)
