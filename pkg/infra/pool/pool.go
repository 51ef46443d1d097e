package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kart-io/logger"
	"github.com/panjf2000/ants/v2"
)

// Config defines the configuration for the worker pool.
type Config struct {
	// Capacity 池容量（最大并发 goroutine 数）
	Capacity int
	// ExpiryDuration goroutine 空闲过期时间
	ExpiryDuration time.Duration
	// PreAlloc 是否预分配内存
	PreAlloc bool
	// Nonblocking 池满时立即返回 ErrPoolOverload
	Nonblocking bool
	// MaxBlockingTasks 当 Nonblocking=false 时，最大等待任务数（0 表示无限制）
	MaxBlockingTasks int
	// ReleaseTimeout Stop 时等待运行中任务的最长时间
	ReleaseTimeout time.Duration
	// PanicHandler 恐慌处理函数
	PanicHandler func(any)
}

// DefaultPoolConfig 返回默认池配置
func DefaultPoolConfig() *Config {
	return &Config{
		Capacity:       100,
		ExpiryDuration: 10 * time.Second,
		ReleaseTimeout: 30 * time.Second,
	}
}

// IngestPoolConfig 返回后台入库池配置。maxPending 为 0 时池满立即拒绝。
func IngestPoolConfig(workers, maxPending int) *Config {
	cfg := DefaultPoolConfig()
	cfg.Capacity = workers
	cfg.ExpiryDuration = 60 * time.Second
	cfg.Nonblocking = maxPending == 0
	cfg.MaxBlockingTasks = maxPending
	return cfg
}

// Pool represents a worker pool.
type Pool struct {
	name     string
	pool     *ants.Pool
	config   *Config
	stats    poolStatsCounter
	closed   atomic.Bool
	closedMu sync.Mutex
}

type poolStatsCounter struct {
	SubmittedTasks  atomic.Int64
	CompletedTasks  atomic.Int64
	FailedTasks     atomic.Int64
	RejectedTasks   atomic.Int64
	PanicRecovered  atomic.Int64
	TotalWaitTimeNs atomic.Int64
}

// Stats contains statistics about the worker pool.
type Stats struct {
	SubmittedTasks  int64 `json:"submitted"`
	CompletedTasks  int64 `json:"completed"`
	FailedTasks     int64 `json:"failed"`
	RejectedTasks   int64 `json:"rejected"`
	PanicRecovered  int64 `json:"panics"`
	TotalWaitTimeNs int64 `json:"wait_ns"`
	Running         int   `json:"running"`
	Waiting         int   `json:"waiting"`
	Capacity        int   `json:"capacity"`
}

// NewPool creates a new worker pool with the given configuration.
func NewPool(name string, config *Config) (*Pool, error) {
	if config == nil {
		config = DefaultPoolConfig()
	}
	if config.Capacity <= 0 {
		return nil, fmt.Errorf("pool %s: capacity must be positive", name)
	}

	p := &Pool{name: name, config: config}
	pool, err := ants.NewPool(config.Capacity, buildAntsOptions(name, config)...)
	if err != nil {
		return nil, fmt.Errorf("创建 ants 池失败: %w", err)
	}
	p.pool = pool

	logger.Infow("Worker pool created",
		"name", name,
		"capacity", config.Capacity,
		"nonblocking", config.Nonblocking,
		"max_blocking", config.MaxBlockingTasks,
	)
	return p, nil
}

func buildAntsOptions(name string, config *Config) []ants.Option {
	opts := []ants.Option{
		ants.WithExpiryDuration(config.ExpiryDuration),
		ants.WithPreAlloc(config.PreAlloc),
		ants.WithNonblocking(config.Nonblocking),
		ants.WithMaxBlockingTasks(config.MaxBlockingTasks),
	}

	if config.PanicHandler != nil {
		opts = append(opts, ants.WithPanicHandler(config.PanicHandler))
	} else {
		opts = append(opts, ants.WithPanicHandler(func(p any) {
			logger.Errorw("Worker panic recovered",
				"pool", name,
				"panic", fmt.Sprint(p),
			)
		}))
	}
	return opts
}

// Name 返回池名称
func (p *Pool) Name() string {
	return "pool[" + p.name + "]"
}

// Cap 返回池容量
func (p *Pool) Cap() int {
	return p.pool.Cap()
}

// Running 返回正在运行的 goroutine 数量
func (p *Pool) Running() int {
	return p.pool.Running()
}

// Submit 提交任务到池中执行
func (p *Pool) Submit(task func()) error {
	if p.closed.Load() {
		return ErrPoolClosed
	}

	startTime := time.Now()
	err := p.pool.Submit(func() {
		p.stats.TotalWaitTimeNs.Add(int64(time.Since(startTime)))

		defer func() {
			if r := recover(); r != nil {
				p.stats.PanicRecovered.Add(1)
				p.stats.FailedTasks.Add(1)
				panic(r)
			}
			p.stats.CompletedTasks.Add(1)
		}()

		task()
	})
	if err != nil {
		switch {
		case errors.Is(err, ants.ErrPoolOverload):
			p.stats.RejectedTasks.Add(1)
			return ErrPoolOverload
		case errors.Is(err, ants.ErrPoolClosed):
			return ErrPoolClosed
		}
		p.stats.FailedTasks.Add(1)
		return err
	}
	p.stats.SubmittedTasks.Add(1)
	return nil
}

// Start 实现 server.Runnable，池在创建时即可用。
func (p *Pool) Start(context.Context) error {
	return nil
}

// Stop 关闭池，等待运行中的任务直到 ReleaseTimeout 或 ctx 截止时间。
func (p *Pool) Stop(ctx context.Context) error {
	timeout := p.config.ReleaseTimeout
	if deadline, ok := ctx.Deadline(); ok {
		if left := time.Until(deadline); timeout <= 0 || left < timeout {
			timeout = left
		}
	}
	if timeout <= 0 {
		p.Release()
		return nil
	}
	return p.ReleaseTimeout(timeout)
}

// Release 关闭池并释放资源
func (p *Pool) Release() {
	p.closedMu.Lock()
	defer p.closedMu.Unlock()

	if p.closed.Load() {
		return
	}
	p.closed.Store(true)
	p.pool.Release()
	logger.Infow("Worker pool released", "name", p.name)
}

// ReleaseTimeout 带超时关闭池
func (p *Pool) ReleaseTimeout(timeout time.Duration) error {
	p.closedMu.Lock()
	defer p.closedMu.Unlock()

	if p.closed.Load() {
		return nil
	}
	p.closed.Store(true)
	if err := p.pool.ReleaseTimeout(timeout); err != nil {
		return fmt.Errorf("pool %s: %w", p.name, err)
	}
	logger.Infow("Worker pool released", "name", p.name)
	return nil
}

// Stats 返回池统计信息快照
func (p *Pool) Stats() Stats {
	return Stats{
		SubmittedTasks:  p.stats.SubmittedTasks.Load(),
		CompletedTasks:  p.stats.CompletedTasks.Load(),
		FailedTasks:     p.stats.FailedTasks.Load(),
		RejectedTasks:   p.stats.RejectedTasks.Load(),
		PanicRecovered:  p.stats.PanicRecovered.Load(),
		TotalWaitTimeNs: p.stats.TotalWaitTimeNs.Load(),
		Running:         p.pool.Running(),
		Waiting:         p.pool.Waiting(),
		Capacity:        p.pool.Cap(),
	}
}
