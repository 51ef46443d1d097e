package ragsvc

import (
	"context"
	"errors"
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/kart-io/logger"
	goredis "github.com/redis/go-redis/v9"

	"github.com/kart-io/medrag/internal/rag/biz"
	"github.com/kart-io/medrag/internal/rag/handler"
	"github.com/kart-io/medrag/internal/rag/metrics"
	"github.com/kart-io/medrag/internal/rag/router"
	"github.com/kart-io/medrag/pkg/infra/app"
	"github.com/kart-io/medrag/pkg/infra/cron"
	"github.com/kart-io/medrag/pkg/infra/middleware"
	"github.com/kart-io/medrag/pkg/infra/pool"
	"github.com/kart-io/medrag/pkg/infra/server"
	httpserver "github.com/kart-io/medrag/pkg/infra/server/http"
	"github.com/kart-io/medrag/pkg/infra/tracing"
	cacheopts "github.com/kart-io/medrag/pkg/options/cache"
	taskopts "github.com/kart-io/medrag/pkg/options/task"
	tracingopts "github.com/kart-io/medrag/pkg/options/tracing"
)

// PruneJobName is the cron job dropping expired ingest tasks.
const PruneJobName = "prune-ingest-tasks"

// Server represents the medrag server.
type Server struct {
	srv     *server.Manager
	http    *httpserver.Server
	closers []func(context.Context) error
}

// NewServer initializes and returns a new Server instance. Resources opened
// before a failure are released before returning the error.
func (cfg *Config) NewServer(ctx context.Context) (_ *Server, err error) {
	cfg.complete()

	// 1. 初始化日志
	if cfg.LogOptions != nil {
		cfg.LogOptions.AddInitialField("service.name", Name)
		cfg.LogOptions.AddInitialField("service.version", app.GetVersion())
		if err := cfg.LogOptions.Init(); err != nil {
			return nil, fmt.Errorf("failed to initialize logger: %w", err)
		}
	}
	logger.Infow("Starting medrag service...",
		"store", cfg.StoreOptions.Backend,
		"embedding", cfg.EmbeddingOptions.Provider+"/"+cfg.EmbeddingOptions.Model,
		"chat", cfg.ChatOptions.Provider+"/"+cfg.ChatOptions.Model,
	)

	// 2. 初始化链路追踪
	tp, err := tracing.NewProvider(ctx, Name, app.GetVersion(), cfg.TracingOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracing: %w", err)
	}

	s := &Server{}
	defer func() {
		if err != nil {
			cleanupCtx := context.WithoutCancel(ctx)
			_ = s.close(cleanupCtx)
			_ = tp.Stop(cleanupCtx)
		}
	}()

	// 3. 初始化向量存储
	vs, err := newVectorStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	s.closers = append(s.closers, vs.Close)
	logger.Infow("Vector store initialized",
		"backend", cfg.StoreOptions.Backend,
		"collection", cfg.StoreOptions.Collection,
		"dimension", cfg.StoreOptions.Dimension,
	)

	// 4. 初始化 Redis（可选）
	rdb := connectRedis(ctx, cfg.CacheOptions)
	if rdb != nil {
		s.closers = append(s.closers, func(context.Context) error { return rdb.Close() })
	}

	// 5. 初始化模型供应商
	embedder, err := newEmbedder(cfg.EmbeddingOptions, cfg.CacheOptions, rdb)
	if err != nil {
		return nil, err
	}
	chat, err := newChat(cfg.ChatOptions)
	if err != nil {
		return nil, err
	}
	logger.Infow("Model providers initialized",
		"embedding.provider", cfg.EmbeddingOptions.Provider,
		"chat.provider", cfg.ChatOptions.Provider,
	)

	// 6. 初始化流水线
	m := metrics.NewRAGMetrics()
	var queryCache *biz.QueryCache
	if rdb != nil {
		queryCache = biz.NewQueryCache(rdb, &biz.QueryCacheConfig{
			TTL:       cfg.CacheOptions.TTL,
			KeyPrefix: cfg.CacheOptions.KeyPrefix,
		})
	}
	pipeline, err := biz.NewPipeline(&biz.Config{
		ChunkSize:      cfg.RAGOptions.ChunkSize,
		ChunkOverlap:   cfg.RAGOptions.ChunkOverlap,
		TopK:           cfg.RAGOptions.TopK,
		MaxTopK:        cfg.RAGOptions.MaxTopK,
		EmbedBatchSize: cfg.RAGOptions.EmbedBatchSize,
		SystemPrompt:   cfg.RAGOptions.SystemPrompt,
		Temperature:    cfg.RAGOptions.Temperature,
		MaxTokens:      cfg.RAGOptions.MaxTokens,
		Attribution:    cfg.RAGOptions.Attribution,
	}, embedder, chat, vs,
		biz.WithQueryCache(queryCache),
		biz.WithMetrics(m),
		biz.WithTracer(tp.Tracer("github.com/kart-io/medrag/internal/rag/biz")),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create pipeline: %w", err)
	}

	// 7. 初始化异步入库
	ingestPool, err := pool.NewPool("ingest", pool.IngestPoolConfig(cfg.TaskOptions.Workers, cfg.TaskOptions.MaxPending))
	if err != nil {
		return nil, fmt.Errorf("failed to create ingest pool: %w", err)
	}
	tasks := biz.NewTaskManager(pipeline, ingestPool, biz.TaskConfig{
		Timeout:   cfg.TaskOptions.Timeout,
		Retention: cfg.TaskOptions.Retention,
	})

	scheduler := cron.NewScheduler()
	if err := scheduler.AddJob(cron.FuncJob{
		JobName: PruneJobName,
		Fn: func(context.Context) error {
			if n := tasks.Prune(); n > 0 {
				logger.Debugw("pruned finished ingest tasks", "count", n)
			}
			return nil
		},
	}, cfg.TaskOptions.PruneSchedule); err != nil {
		ingestPool.Release()
		return nil, err
	}

	// 8. 初始化 HTTP 服务
	webhook := biz.NewWebhookProcessor(pipeline, m,
		biz.WithRowIndex(cfg.RAGOptions.WebhookRows, cfg.RAGOptions.WebhookRowTTL))
	ragHandler := handler.NewRAGHandler(pipeline, tasks, webhook, m)
	httpSrv := httpserver.NewServer(cfg.HTTPOptions, cfg.middleware()...)
	router.Register(httpSrv.Engine(), ragHandler)

	// Stopped in reverse: HTTP first, then the scheduler, then the pool
	// drains, and the tracer flushes last.
	mgr := server.NewManager(cfg.ShutdownTimeout)
	mgr.AddServer(tp, ingestPool, scheduler, httpSrv)

	s.srv = mgr
	s.http = httpSrv

	logger.Infow("medrag service is ready", "addr", cfg.HTTPOptions.Addr)
	return s, nil
}

func (cfg *Config) complete() {
	if cfg.TracingOptions == nil {
		cfg.TracingOptions = tracingopts.NewOptions()
	}
	if cfg.CacheOptions == nil {
		cfg.CacheOptions = cacheopts.NewOptions()
	}
	if cfg.TaskOptions == nil {
		cfg.TaskOptions = taskopts.NewOptions()
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = server.DefaultShutdownTimeout
	}
}

func (cfg *Config) middleware() []gin.HandlerFunc {
	return []gin.HandlerFunc{
		middleware.Recovery(),
		middleware.RequestID(),
		middleware.Tracing(),
		middleware.Logger(),
		middleware.Timeout(cfg.HTTPOptions.RequestTimeout),
		middleware.BodyLimit(cfg.HTTPOptions.MaxBodyBytes),
	}
}

// Handler returns the HTTP handler serving the API.
func (s *Server) Handler() *gin.Engine {
	return s.http.Engine()
}

// Run starts all components and blocks until ctx is cancelled or a
// termination signal arrives, then shuts down and releases the store and
// cache connections.
func (s *Server) Run(ctx context.Context) error {
	runErr := s.srv.Run(ctx)
	if err := s.close(context.WithoutCancel(ctx)); err != nil {
		logger.Warnw("failed to release resources", "error", err.Error())
	}
	return runErr
}

func (s *Server) close(ctx context.Context) error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		errs = append(errs, s.closers[i](ctx))
	}
	s.closers = nil
	return errors.Join(errs...)
}

// connectRedis returns nil when caching is disabled or Redis is unreachable;
// the service then runs without the query and embedding caches.
func connectRedis(ctx context.Context, opts *cacheopts.Options) *goredis.Client {
	if !opts.Enabled {
		logger.Info("Cache is disabled")
		return nil
	}
	client, err := newRedis(ctx, opts)
	if err != nil {
		logger.Warnw("failed to connect to redis, cache will be disabled", "error", err.Error())
		return nil
	}
	logger.Infow("Redis cache initialized",
		"addr", opts.Redis.Addr(),
		"ttl", opts.TTL,
		"embedding_ttl", opts.EmbeddingTTL,
	)
	return client
}
