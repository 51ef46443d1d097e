package resilience

import (
	"context"
	"errors"
	"net"
	"net/http"

	"github.com/kart-io/medrag/pkg/llm"
	"github.com/kart-io/medrag/pkg/utils/httpclient"
)

// IsRetryable 网络错误、429、408 与 5xx 可重试；上下文错误、熔断与其他 4xx 不重试。
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrCircuitOpen) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var statusErr *httpclient.StatusError
	if errors.As(err, &statusErr) {
		switch {
		case statusErr.StatusCode == http.StatusTooManyRequests,
			statusErr.StatusCode == http.StatusRequestTimeout,
			statusErr.StatusCode >= 500:
			return true
		default:
			return false
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return false
}

// EmbeddingProvider 带重试与熔断的 Embedding 供应商。
type EmbeddingProvider struct {
	next    llm.EmbeddingProvider
	retry   *RetryConfig
	breaker *Breaker
}

// WrapEmbedding 包装 Embedding 供应商。
func WrapEmbedding(next llm.EmbeddingProvider, retry *RetryConfig, breaker *BreakerConfig) *EmbeddingProvider {
	return &EmbeddingProvider{
		next:    next,
		retry:   retry,
		breaker: NewBreaker(next.Name()+"/embed", breaker),
	}
}

// Embed 实现 llm.EmbeddingProvider。
func (p *EmbeddingProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	var out [][]float32
	err := Retry(ctx, p.retry, func() error {
		return p.breaker.Do(func() error {
			var err error
			out, err = p.next.Embed(ctx, texts)
			return err
		})
	})
	return out, err
}

// Name 返回底层供应商名称。
func (p *EmbeddingProvider) Name() string { return p.next.Name() }

// Breaker 返回熔断器，用于状态查看。
func (p *EmbeddingProvider) Breaker() *Breaker { return p.breaker }

// ChatProvider 带重试与熔断的 Chat 供应商。
type ChatProvider struct {
	next    llm.ChatProvider
	retry   *RetryConfig
	breaker *Breaker
}

// WrapChat 包装 Chat 供应商。
func WrapChat(next llm.ChatProvider, retry *RetryConfig, breaker *BreakerConfig) *ChatProvider {
	return &ChatProvider{
		next:    next,
		retry:   retry,
		breaker: NewBreaker(next.Name()+"/chat", breaker),
	}
}

// Generate 实现 llm.ChatProvider。
func (p *ChatProvider) Generate(ctx context.Context, req *llm.GenerateRequest) (*llm.GenerateResponse, error) {
	var out *llm.GenerateResponse
	err := Retry(ctx, p.retry, func() error {
		return p.breaker.Do(func() error {
			var err error
			out, err = p.next.Generate(ctx, req)
			return err
		})
	})
	return out, err
}

// Name 返回底层供应商名称。
func (p *ChatProvider) Name() string { return p.next.Name() }

// Breaker 返回熔断器，用于状态查看。
func (p *ChatProvider) Breaker() *Breaker { return p.breaker }

var (
	_ llm.EmbeddingProvider = (*EmbeddingProvider)(nil)
	_ llm.ChatProvider      = (*ChatProvider)(nil)
)
