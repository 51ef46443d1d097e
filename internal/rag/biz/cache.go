package biz

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strconv"
	"time"

	"github.com/kart-io/logger"
	goredis "github.com/redis/go-redis/v9"

	"github.com/kart-io/medrag/pkg/utils/json"
)

// QueryCacheConfig 查询缓存配置。
type QueryCacheConfig struct {
	// TTL 缓存过期时间。
	TTL time.Duration
	// KeyPrefix 缓存键前缀。
	KeyPrefix string
}

// QueryCache 以 Redis 缓存查询答案。nil 的 QueryCache 可安全调用，表示禁用。
type QueryCache struct {
	redis  *goredis.Client
	config *QueryCacheConfig
}

// NewQueryCache 创建查询缓存。
func NewQueryCache(redis *goredis.Client, config *QueryCacheConfig) *QueryCache {
	if config == nil {
		config = &QueryCacheConfig{TTL: time.Hour, KeyPrefix: "medrag:query:"}
	}
	return &QueryCache{redis: redis, config: config}
}

func (c *QueryCache) enabled() bool {
	return c != nil && c.redis != nil
}

// generationSuffix 缓存代数键的后缀，每次 Clear 自增。
const generationSuffix = "generation"

var errStaleGeneration = errors.New("query cache generation changed")

func (c *QueryCache) generationKey() string {
	return c.config.KeyPrefix + generationSuffix
}

// key 基于问题与 top_k 生成缓存键。
func (c *QueryCache) key(question string, topK int) string {
	sum := sha256.Sum256([]byte(question + "\x00" + strconv.Itoa(topK)))
	return c.config.KeyPrefix + hex.EncodeToString(sum[:])
}

// Get 读取缓存。未命中、禁用或 Redis 出错时返回 nil。
func (c *QueryCache) Get(ctx context.Context, question string, topK int) *Answer {
	if !c.enabled() {
		return nil
	}

	key := c.key(question, topK)
	data, err := c.redis.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, goredis.Nil) {
			logger.Warnw("query cache get failed", "key", key, "error", err.Error())
		}
		return nil
	}

	var answer Answer
	if err := json.Unmarshal(data, &answer); err != nil {
		logger.Warnw("drop corrupted query cache entry", "key", key, "error", err.Error())
		_ = c.redis.Del(ctx, key).Err()
		return nil
	}
	answer.Cached = true
	return &answer
}

// Generation 返回当前缓存代数。在检索前读取，并传给 Set。
// 禁用时返回 0，读取失败返回 -1。
func (c *QueryCache) Generation(ctx context.Context) int64 {
	if !c.enabled() {
		return 0
	}
	gen, err := c.redis.Get(ctx, c.generationKey()).Int64()
	if err != nil && !errors.Is(err, goredis.Nil) {
		logger.Warnw("query cache generation read failed", "error", err.Error())
		return -1
	}
	return gen
}

// Set 写入缓存，失败只记录日志。generation 与当前代数不一致时放弃写入，
// 避免检索之后发生的 Clear 被旧答案覆盖。
func (c *QueryCache) Set(ctx context.Context, question string, topK int, answer *Answer, generation int64) {
	if !c.enabled() || answer == nil || generation < 0 {
		return
	}

	key := c.key(question, topK)
	data, err := json.Marshal(answer)
	if err != nil {
		logger.Warnw("encode query cache entry failed", "error", err.Error())
		return
	}

	genKey := c.generationKey()
	err = c.redis.Watch(ctx, func(tx *goredis.Tx) error {
		current, err := tx.Get(ctx, genKey).Int64()
		if err != nil && !errors.Is(err, goredis.Nil) {
			return err
		}
		if current != generation {
			return errStaleGeneration
		}
		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.Set(ctx, key, data, c.config.TTL)
			return nil
		})
		return err
	}, genKey)
	switch {
	case err == nil:
	case errors.Is(err, errStaleGeneration), errors.Is(err, goredis.TxFailedErr):
		logger.Debugw("skip caching answer computed before invalidation", "key", key)
	default:
		logger.Warnw("query cache set failed", "key", key, "error", err.Error())
	}
}

// Clear 推进缓存代数并删除所有查询缓存，返回删除数量。
func (c *QueryCache) Clear(ctx context.Context) (int, error) {
	if !c.enabled() {
		return 0, nil
	}

	genKey := c.generationKey()
	if err := c.redis.Incr(ctx, genKey).Err(); err != nil {
		return 0, err
	}

	iter := c.redis.Scan(ctx, 0, c.config.KeyPrefix+"*", 100).Iterator()
	deleted := 0
	for iter.Next(ctx) {
		if iter.Val() == genKey {
			continue
		}
		if err := c.redis.Del(ctx, iter.Val()).Err(); err != nil {
			logger.Warnw("delete query cache key failed", "key", iter.Val(), "error", err.Error())
			continue
		}
		deleted++
	}
	if err := iter.Err(); err != nil {
		return deleted, err
	}

	if deleted > 0 {
		logger.Infow("query cache cleared", "deleted", deleted)
	}
	return deleted, nil
}
