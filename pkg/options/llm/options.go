// Package llm provides model provider configuration options.
package llm

import (
	"fmt"
	"os"
	"time"

	"github.com/kart-io/medrag/pkg/options"
	"github.com/spf13/pflag"
)

var _ options.IOptions = (*ProviderOptions)(nil)

// DefaultBaseURL 是 SambaNova 的 OpenAI 兼容接口地址。
const DefaultBaseURL = "https://api.sambanova.ai/v1"

// ProviderOptions 定义模型供应商配置。
type ProviderOptions struct {
	// Provider 供应商名称（sambanova, openai）。
	Provider string `json:"provider" mapstructure:"provider"`

	// BaseURL API 基础地址。
	BaseURL string `json:"base-url" mapstructure:"base-url"`

	// APIKey API 密钥，为空时从 APIKeyEnv 指定的环境变量读取。
	APIKey    string `json:"-" mapstructure:"api-key"`
	APIKeyEnv string `json:"api-key-env" mapstructure:"api-key-env"`

	// Model 使用的模型名称。
	Model string `json:"model" mapstructure:"model"`

	// Timeout 单次请求超时时间。
	Timeout time.Duration `json:"timeout" mapstructure:"timeout"`

	// MaxRetries HTTP 层重试次数。
	MaxRetries int `json:"max-retries" mapstructure:"max-retries"`

	// RateLimit 每秒请求数上限，0 表示不限制。
	RateLimit float64 `json:"rate-limit" mapstructure:"rate-limit"`
	RateBurst int     `json:"rate-burst" mapstructure:"rate-burst"`

	// Resilience 是否启用重试与熔断包装。
	Resilience bool `json:"resilience" mapstructure:"resilience"`
}

// NewProviderOptions 创建默认供应商配置。
func NewProviderOptions() *ProviderOptions {
	return &ProviderOptions{
		Provider:   "sambanova",
		BaseURL:    DefaultBaseURL,
		APIKeyEnv:  "SAMBANOVA_API_KEY",
		Timeout:    60 * time.Second,
		MaxRetries: 2,
		RateBurst:  1,
		Resilience: true,
	}
}

// NewEmbeddingOptions 创建默认 Embedding 供应商配置。
func NewEmbeddingOptions() *ProviderOptions {
	opts := NewProviderOptions()
	opts.Model = "E5-Mistral-7B-Instruct"
	return opts
}

// NewChatOptions 创建默认 Chat 供应商配置。
func NewChatOptions() *ProviderOptions {
	opts := NewProviderOptions()
	opts.Model = "Meta-Llama-3.3-70B-Instruct"
	return opts
}

// ToConfigMap 转换为供应商工厂使用的配置 map。
func (o *ProviderOptions) ToConfigMap() map[string]any {
	return map[string]any{
		"base_url":    o.BaseURL,
		"api_key":     o.APIKey,
		"embed_model": o.Model,
		"chat_model":  o.Model,
		"timeout":     o.Timeout,
		"max_retries": o.MaxRetries,
		"rate_limit":  o.RateLimit,
		"rate_burst":  o.RateBurst,
	}
}

// AddFlags adds flags for provider options to the specified FlagSet.
// prefixes normally is "embedding" or "chat".
func (o *ProviderOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	p := options.Join(prefixes...)
	fs.StringVar(&o.Provider, p+"provider", o.Provider, "Model provider (sambanova, openai).")
	fs.StringVar(&o.BaseURL, p+"base-url", o.BaseURL, "Provider API base URL.")
	fs.StringVar(&o.APIKey, p+"api-key", o.APIKey, "Provider API key.")
	fs.StringVar(&o.APIKeyEnv, p+"api-key-env", o.APIKeyEnv, "Environment variable holding the API key.")
	fs.StringVar(&o.Model, p+"model", o.Model, "Model name.")
	fs.DurationVar(&o.Timeout, p+"timeout", o.Timeout, "Per request timeout.")
	fs.IntVar(&o.MaxRetries, p+"max-retries", o.MaxRetries, "HTTP retries on transport errors and 5xx.")
	fs.Float64Var(&o.RateLimit, p+"rate-limit", o.RateLimit, "Requests per second, 0 disables limiting.")
	fs.IntVar(&o.RateBurst, p+"rate-burst", o.RateBurst, "Rate limiter burst.")
	fs.BoolVar(&o.Resilience, p+"resilience", o.Resilience, "Wrap the provider with retry and circuit breaker.")
}

// Complete 从环境变量补齐 API 密钥。
func (o *ProviderOptions) Complete() error {
	if o.APIKey == "" && o.APIKeyEnv != "" {
		o.APIKey = os.Getenv(o.APIKeyEnv)
	}
	if o.MaxRetries < 0 {
		o.MaxRetries = 0
	}
	return nil
}

// Validate validates the provider options.
func (o *ProviderOptions) Validate() []error {
	if o == nil {
		return nil
	}

	var errs []error
	if o.Provider == "" {
		errs = append(errs, fmt.Errorf("provider is required"))
	}
	if o.BaseURL == "" {
		errs = append(errs, fmt.Errorf("base-url is required"))
	}
	if o.Model == "" {
		errs = append(errs, fmt.Errorf("model is required"))
	}
	if o.APIKey == "" {
		errs = append(errs, fmt.Errorf("api-key is required for provider %q (set %s)", o.Provider, o.APIKeyEnv))
	}
	if o.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("timeout must be positive"))
	}
	if o.RateLimit < 0 {
		errs = append(errs, fmt.Errorf("rate-limit must not be negative"))
	}
	return errs
}
