// Package cache provides cache configuration options.
package cache

import (
	"fmt"
	"time"

	"github.com/kart-io/medrag/pkg/options"
	redisopts "github.com/kart-io/medrag/pkg/options/redis"
	"github.com/spf13/pflag"
)

var _ options.IOptions = (*Options)(nil)

// Options 缓存配置。
type Options struct {
	// Enabled 是否启用 Redis 问答缓存与嵌入缓存。
	Enabled bool `json:"enabled" mapstructure:"enabled"`

	// TTL 问答缓存过期时间。
	TTL time.Duration `json:"ttl" mapstructure:"ttl"`

	// KeyPrefix 问答缓存键前缀。
	KeyPrefix string `json:"key-prefix" mapstructure:"key-prefix"`

	// EmbeddingTTL 嵌入缓存过期时间。
	EmbeddingTTL time.Duration `json:"embedding-ttl" mapstructure:"embedding-ttl"`

	// LocalSize 进程内嵌入 LRU 容量，0 表示关闭。
	LocalSize int `json:"local-size" mapstructure:"local-size"`

	// LocalTTL 进程内嵌入 LRU 过期时间。
	LocalTTL time.Duration `json:"local-ttl" mapstructure:"local-ttl"`

	// Redis Redis 连接配置。
	Redis *redisopts.Options `json:"redis" mapstructure:"redis"`
}

// NewOptions 创建默认缓存配置。
func NewOptions() *Options {
	return &Options{
		Enabled:      false,
		TTL:          time.Hour,
		KeyPrefix:    "medrag:query:",
		EmbeddingTTL: 24 * time.Hour,
		LocalSize:    1024,
		LocalTTL:     30 * time.Minute,
		Redis:        redisopts.NewOptions(),
	}
}

// AddFlags adds flags for cache options to the specified FlagSet.
func (o *Options) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	p := options.Join(prefixes...)
	fs.BoolVar(&o.Enabled, p+"cache.enabled", o.Enabled, "Enable the Redis query and embedding caches.")
	fs.DurationVar(&o.TTL, p+"cache.ttl", o.TTL, "Query cache TTL.")
	fs.StringVar(&o.KeyPrefix, p+"cache.key-prefix", o.KeyPrefix, "Query cache key prefix.")
	fs.DurationVar(&o.EmbeddingTTL, p+"cache.embedding-ttl", o.EmbeddingTTL, "Redis embedding cache TTL.")
	fs.IntVar(&o.LocalSize, p+"cache.local-size", o.LocalSize, "In-process embedding LRU size, 0 disables it.")
	fs.DurationVar(&o.LocalTTL, p+"cache.local-ttl", o.LocalTTL, "In-process embedding LRU TTL.")

	if o.Redis == nil {
		o.Redis = redisopts.NewOptions()
	}
	o.Redis.AddFlags(fs, append(prefixes, "cache")...)
}

// Validate validates the cache options.
func (o *Options) Validate() []error {
	if o == nil {
		return nil
	}

	var errs []error
	if o.LocalSize < 0 {
		errs = append(errs, fmt.Errorf("cache.local-size must not be negative"))
	}
	if o.Enabled {
		if o.TTL <= 0 {
			errs = append(errs, fmt.Errorf("cache.ttl must be positive"))
		}
		if o.Redis != nil {
			errs = append(errs, o.Redis.Validate()...)
		}
	}
	return errs
}

// Complete completes the cache options with defaults.
func (o *Options) Complete() error {
	if o.Redis == nil {
		o.Redis = redisopts.NewOptions()
	}
	return o.Redis.Complete()
}
