package ragsvc

import (
	"context"
	"fmt"

	goredis "github.com/redis/go-redis/v9"

	"github.com/kart-io/medrag/internal/rag/store"
	"github.com/kart-io/medrag/pkg/component/milvus"
	"github.com/kart-io/medrag/pkg/component/postgres"
	"github.com/kart-io/medrag/pkg/component/redis"
	"github.com/kart-io/medrag/pkg/llm"
	// 导入 LLM 供应商以自动注册
	_ "github.com/kart-io/medrag/pkg/llm/openai"
	"github.com/kart-io/medrag/pkg/llm/resilience"
	cacheopts "github.com/kart-io/medrag/pkg/options/cache"
	llmopts "github.com/kart-io/medrag/pkg/options/llm"
	storeopts "github.com/kart-io/medrag/pkg/options/store"
)

// newVectorStore opens the configured backend and ensures its collection.
func newVectorStore(ctx context.Context, cfg *Config) (store.VectorStore, error) {
	cc := store.CollectionConfig{
		Name:        cfg.StoreOptions.Collection,
		Description: "medical notes chunks",
		Dimension:   cfg.StoreOptions.Dimension,
	}

	var (
		vs  store.VectorStore
		err error
	)
	switch cfg.StoreOptions.Backend {
	case storeopts.BackendMemory:
		vs, err = store.NewMemoryStore(cc)
	case storeopts.BackendMilvus:
		var client *milvus.Client
		client, err = milvus.New(ctx, cfg.MilvusOptions)
		if err == nil {
			vs = store.NewMilvusStore(client, cc)
		}
	case storeopts.BackendPGVector:
		db, openErr := postgres.New(ctx, cfg.PostgresOptions)
		if openErr != nil {
			return nil, fmt.Errorf("failed to initialize postgres: %w", openErr)
		}
		vs, err = store.NewPGVectorStore(db, cc)
		if err != nil {
			_ = db.Close()
		}
	default:
		err = fmt.Errorf("unsupported store backend %q", cfg.StoreOptions.Backend)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to initialize vector store: %w", err)
	}

	if err := vs.CreateCollection(ctx); err != nil {
		_ = vs.Close(context.WithoutCancel(ctx))
		return nil, fmt.Errorf("failed to create collection %s: %w", cc.Name, err)
	}
	return vs, nil
}

func newRedis(ctx context.Context, opts *cacheopts.Options) (*goredis.Client, error) {
	if opts.Redis == nil {
		return nil, fmt.Errorf("cache is enabled but no redis configuration is provided")
	}
	return redis.Connect(ctx, opts.Redis)
}

// newEmbedder builds the embedding chain, outermost first: in-process LRU,
// Redis cache, retry and circuit breaker, then the provider itself.
func newEmbedder(opts *llmopts.ProviderOptions, cache *cacheopts.Options, rdb *goredis.Client) (llm.EmbeddingProvider, error) {
	embedder, err := llm.NewEmbeddingProvider(opts.Provider, opts.ToConfigMap())
	if err != nil {
		return nil, fmt.Errorf("failed to initialize embedding provider: %w", err)
	}
	if opts.Resilience {
		embedder = resilience.WrapEmbedding(embedder, resilience.DefaultRetryConfig(), resilience.DefaultBreakerConfig())
	}
	if rdb != nil {
		ecfg := llm.DefaultEmbeddingCacheConfig()
		if cache.EmbeddingTTL > 0 {
			ecfg.TTL = cache.EmbeddingTTL
		}
		embedder = llm.NewRedisEmbeddingCache(embedder, rdb, ecfg)
	}
	return llm.NewLRUEmbeddingCache(embedder, cache.LocalSize, cache.LocalTTL), nil
}

func newChat(opts *llmopts.ProviderOptions) (llm.ChatProvider, error) {
	chat, err := llm.NewChatProvider(opts.Provider, opts.ToConfigMap())
	if err != nil {
		return nil, fmt.Errorf("failed to initialize chat provider: %w", err)
	}
	if opts.Resilience {
		chat = resilience.WrapChat(chat, resilience.DefaultRetryConfig(), resilience.DefaultBreakerConfig())
	}
	return chat, nil
}
