// Package llm 定义 Embedding 与 Chat 模型供应商的抽象。
// Embedding 与 Chat 可以来自不同供应商，通过名称在注册表中创建。
package llm

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrEmptyResponse 供应商未返回任何内容。
var ErrEmptyResponse = errors.New("llm: empty response")

// EmbeddingProvider 将文本批量转换为向量，返回顺序与输入一致。
type EmbeddingProvider interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Name() string
}

// ChatProvider 根据消息序列生成一条回复。
type ChatProvider interface {
	Generate(ctx context.Context, req *GenerateRequest) (*GenerateResponse, error)
	Name() string
}

// Role 消息角色。
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message 对话中的一条消息。
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// GenerateRequest 一次生成请求。Temperature 与 MaxTokens 为零值时使用供应商默认值。
type GenerateRequest struct {
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
}

// NewGenerateRequest 构建 system + user 两条消息的请求，system 为空时省略。
func NewGenerateRequest(system, user string) *GenerateRequest {
	req := &GenerateRequest{}
	if system != "" {
		req.Messages = append(req.Messages, Message{Role: RoleSystem, Content: system})
	}
	req.Messages = append(req.Messages, Message{Role: RoleUser, Content: user})
	return req
}

// TokenUsage token 用量。
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// GenerateResponse 生成结果。
type GenerateResponse struct {
	Content    string      `json:"content"`
	Model      string      `json:"model,omitempty"`
	TokenUsage *TokenUsage `json:"token_usage,omitempty"`
}

// Provider 同时提供 Embedding 与 Chat 的供应商。
type Provider interface {
	EmbeddingProvider
	ChatProvider
}

// ProviderFactory 根据配置 map 创建供应商。
type ProviderFactory func(config map[string]any) (Provider, error)

var registry = struct {
	mu        sync.RWMutex
	factories map[string]ProviderFactory
}{factories: make(map[string]ProviderFactory)}

// RegisterProvider 注册供应商工厂，重复注册会覆盖。
func RegisterProvider(name string, factory ProviderFactory) {
	registry.mu.Lock()
	defer registry.mu.Unlock()
	registry.factories[name] = factory
}

func lookup(name string) (ProviderFactory, error) {
	registry.mu.RLock()
	defer registry.mu.RUnlock()
	factory, ok := registry.factories[name]
	if !ok {
		return nil, fmt.Errorf("unknown provider: %s", name)
	}
	return factory, nil
}

// NewProvider 按名称创建完整供应商。
func NewProvider(name string, config map[string]any) (Provider, error) {
	factory, err := lookup(name)
	if err != nil {
		return nil, err
	}
	return factory(config)
}

// NewEmbeddingProvider 按名称创建 Embedding 供应商。
func NewEmbeddingProvider(name string, config map[string]any) (EmbeddingProvider, error) {
	return NewProvider(name, config)
}

// NewChatProvider 按名称创建 Chat 供应商。
func NewChatProvider(name string, config map[string]any) (ChatProvider, error) {
	return NewProvider(name, config)
}

// ListProviders 返回已注册的供应商名称，按字母序。
func ListProviders() []string {
	registry.mu.RLock()
	defer registry.mu.RUnlock()

	names := make([]string, 0, len(registry.factories))
	for name := range registry.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
