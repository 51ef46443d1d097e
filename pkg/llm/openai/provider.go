// Package openai 实现 OpenAI 兼容接口的供应商，同时注册为 "openai" 与 "sambanova"。
//
//	import _ "github.com/kart-io/medrag/pkg/llm/openai"
//
//	provider, err := llm.NewProvider("sambanova", map[string]any{
//	    "api_key":     os.Getenv("SAMBANOVA_API_KEY"),
//	    "embed_model": "E5-Mistral-7B-Instruct",
//	})
package openai

import (
	"context"
	"fmt"
	"time"

	"github.com/kart-io/medrag/pkg/llm"
	"github.com/kart-io/medrag/pkg/utils/httpclient"
)

const (
	// ProviderName OpenAI 官方接口。
	ProviderName = "openai"
	// SambaNovaName SambaNova 的 OpenAI 兼容接口。
	SambaNovaName = "sambanova"

	OpenAIBaseURL    = "https://api.openai.com/v1"
	SambaNovaBaseURL = "https://api.sambanova.ai/v1"
)

func init() {
	llm.RegisterProvider(ProviderName, factory(ProviderName, OpenAIBaseURL))
	llm.RegisterProvider(SambaNovaName, factory(SambaNovaName, SambaNovaBaseURL))
}

// Config 供应商配置。
type Config struct {
	Name       string        `json:"name" mapstructure:"name"`
	BaseURL    string        `json:"base_url" mapstructure:"base_url"`
	APIKey     string        `json:"-" mapstructure:"api_key"`
	EmbedModel string        `json:"embed_model" mapstructure:"embed_model"`
	ChatModel  string        `json:"chat_model" mapstructure:"chat_model"`
	Timeout    time.Duration `json:"timeout" mapstructure:"timeout"`
	MaxRetries int           `json:"max_retries" mapstructure:"max_retries"`
	// RateLimit 每秒请求数，0 表示不限制。
	RateLimit float64 `json:"rate_limit" mapstructure:"rate_limit"`
	RateBurst int     `json:"rate_burst" mapstructure:"rate_burst"`
}

// DefaultConfig 返回 SambaNova 默认配置。
func DefaultConfig() *Config {
	return &Config{
		Name:       SambaNovaName,
		BaseURL:    SambaNovaBaseURL,
		EmbedModel: "E5-Mistral-7B-Instruct",
		ChatModel:  "Meta-Llama-3.3-70B-Instruct",
		Timeout:    60 * time.Second,
		MaxRetries: 2,
	}
}

func factory(name, baseURL string) llm.ProviderFactory {
	return func(configMap map[string]any) (llm.Provider, error) {
		cfg := DefaultConfig()
		cfg.Name = name
		cfg.BaseURL = baseURL
		applyConfigMap(cfg, configMap)
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("%s: api_key is required", name)
		}
		return NewProviderWithConfig(cfg), nil
	}
}

// NewProvider 从配置 map 创建 SambaNova 供应商。
func NewProvider(configMap map[string]any) (llm.Provider, error) {
	return factory(SambaNovaName, SambaNovaBaseURL)(configMap)
}

func applyConfigMap(cfg *Config, m map[string]any) {
	if v, ok := m["base_url"].(string); ok && v != "" {
		cfg.BaseURL = v
	}
	if v, ok := m["api_key"].(string); ok && v != "" {
		cfg.APIKey = v
	}
	if v, ok := m["embed_model"].(string); ok && v != "" {
		cfg.EmbedModel = v
	}
	if v, ok := m["chat_model"].(string); ok && v != "" {
		cfg.ChatModel = v
	}
	if v, ok := m["timeout"].(time.Duration); ok && v > 0 {
		cfg.Timeout = v
	}
	if v, ok := m["max_retries"].(int); ok && v >= 0 {
		cfg.MaxRetries = v
	}
	if v, ok := m["rate_limit"].(float64); ok && v > 0 {
		cfg.RateLimit = v
	}
	if v, ok := m["rate_burst"].(int); ok && v > 0 {
		cfg.RateBurst = v
	}
}

// Provider OpenAI 兼容供应商。
type Provider struct {
	config *Config
	client *httpclient.Client
}

// NewProviderWithConfig 使用结构化配置创建供应商。
func NewProviderWithConfig(cfg *Config, opts ...httpclient.Option) *Provider {
	clientOpts := append([]httpclient.Option{httpclient.WithRateLimit(cfg.RateLimit, cfg.RateBurst)}, opts...)
	return &Provider{
		config: cfg,
		client: httpclient.NewClient(cfg.Timeout, cfg.MaxRetries, clientOpts...),
	}
}

// Name 返回供应商名称。
func (p *Provider) Name() string {
	return p.config.Name
}

type embeddingRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embeddingResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
	Model string `json:"model"`
}

// Embed 批量生成向量，按响应中的 index 还原输入顺序。
func (p *Provider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	var resp embeddingResponse
	err := p.client.PostJSON(ctx, p.config.BaseURL+"/embeddings", p.headers(),
		embeddingRequest{Model: p.config.EmbedModel, Input: texts}, &resp)
	if err != nil {
		return nil, fmt.Errorf("%s embeddings: %w", p.config.Name, err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("%s embeddings: expected %d vectors, got %d", p.config.Name, len(texts), len(resp.Data))
	}

	embeddings := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(texts) || embeddings[d.Index] != nil {
			return nil, fmt.Errorf("%s embeddings: invalid index %d", p.config.Name, d.Index)
		}
		embeddings[d.Index] = d.Embedding
	}
	return embeddings, nil
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []llm.Message `json:"messages"`
	Stream      bool          `json:"stream"`
	Temperature float64       `json:"temperature,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message      llm.Message `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
	Usage llm.TokenUsage `json:"usage"`
}

// Generate 调用 chat/completions 接口。
func (p *Provider) Generate(ctx context.Context, req *llm.GenerateRequest) (*llm.GenerateResponse, error) {
	if req == nil || len(req.Messages) == 0 {
		return nil, fmt.Errorf("%s chat: no messages", p.config.Name)
	}

	var resp chatResponse
	err := p.client.PostJSON(ctx, p.config.BaseURL+"/chat/completions", p.headers(), chatRequest{
		Model:       p.config.ChatModel,
		Messages:    req.Messages,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}, &resp)
	if err != nil {
		return nil, fmt.Errorf("%s chat: %w", p.config.Name, err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("%s chat: %w", p.config.Name, llm.ErrEmptyResponse)
	}

	usage := resp.Usage
	return &llm.GenerateResponse{
		Content:    resp.Choices[0].Message.Content,
		Model:      resp.Model,
		TokenUsage: &usage,
	}, nil
}

func (p *Provider) headers() map[string]string {
	return map[string]string{"Authorization": "Bearer " + p.config.APIKey}
}

var _ llm.Provider = (*Provider)(nil)
