package openai

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kart-io/medrag/pkg/llm"
	"github.com/kart-io/medrag/pkg/utils/json"
)

const testAPIKey = "test-key"

func newTestProvider(t *testing.T, handler http.HandlerFunc) *Provider {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg := DefaultConfig()
	cfg.BaseURL = srv.URL
	cfg.APIKey = testAPIKey
	cfg.Timeout = 5 * time.Second
	cfg.MaxRetries = 0
	return NewProviderWithConfig(cfg)
}

func TestFactories(t *testing.T) {
	tests := []struct {
		name     string
		provider string
		config   map[string]any
		wantErr  bool
	}{
		{"sambanova 默认", SambaNovaName, map[string]any{"api_key": testAPIKey}, false},
		{"openai 自定义", ProviderName, map[string]any{"api_key": testAPIKey, "chat_model": "gpt-4o"}, false},
		{"缺少 api_key", SambaNovaName, map[string]any{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := llm.NewProvider(tt.provider, tt.config)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.provider, p.Name())
		})
	}
}

func TestApplyConfigMap(t *testing.T) {
	cfg := DefaultConfig()
	applyConfigMap(cfg, map[string]any{
		"base_url":    "http://local",
		"embed_model": "e5",
		"timeout":     3 * time.Second,
		"max_retries": 0,
		"rate_limit":  2.5,
		"rate_burst":  4,
	})
	assert.Equal(t, "http://local", cfg.BaseURL)
	assert.Equal(t, "e5", cfg.EmbedModel)
	assert.Equal(t, 3*time.Second, cfg.Timeout)
	assert.Equal(t, 0, cfg.MaxRetries)
	assert.Equal(t, 2.5, cfg.RateLimit)
	assert.Equal(t, 4, cfg.RateBurst)
}

func TestEmbed_RestoresOrder(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/embeddings", r.URL.Path)
		assert.Equal(t, "Bearer "+testAPIKey, r.Header.Get("Authorization"))

		var req embeddingRequest
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &req))
		assert.Equal(t, "E5-Mistral-7B-Instruct", req.Model)
		assert.Equal(t, []string{"a", "b"}, req.Input)

		_, _ = w.Write([]byte(`{"data":[{"index":1,"embedding":[0,1]},{"index":0,"embedding":[1,0]}]}`))
	})

	got, err := p.Embed(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{1, 0}, {0, 1}}, got)
}

func TestEmbed_Errors(t *testing.T) {
	tests := []struct {
		name string
		body string
		code int
	}{
		{"数量不符", `{"data":[{"index":0,"embedding":[1]}]}`, http.StatusOK},
		{"重复 index", `{"data":[{"index":0,"embedding":[1]},{"index":0,"embedding":[2]}]}`, http.StatusOK},
		{"越界 index", `{"data":[{"index":0,"embedding":[1]},{"index":5,"embedding":[2]}]}`, http.StatusOK},
		{"上游 401", `{"error":"bad key"}`, http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newTestProvider(t, func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.code)
				_, _ = w.Write([]byte(tt.body))
			})
			_, err := p.Embed(context.Background(), []string{"a", "b"})
			assert.Error(t, err)
		})
	}
}

func TestEmbed_Empty(t *testing.T) {
	p := newTestProvider(t, func(http.ResponseWriter, *http.Request) {
		t.Error("no request expected")
	})
	got, err := p.Embed(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestGenerate(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)

		var req chatRequest
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &req))
		assert.Equal(t, "Meta-Llama-3.3-70B-Instruct", req.Model)
		assert.InDelta(t, 0.7, req.Temperature, 1e-9)
		assert.Equal(t, 1024, req.MaxTokens)
		require.Len(t, req.Messages, 2)
		assert.Equal(t, llm.RoleSystem, req.Messages[0].Role)

		_, _ = w.Write([]byte(`{"model":"m","choices":[{"message":{"role":"assistant","content":"Take 5mg."}}],"usage":{"prompt_tokens":10,"completion_tokens":3,"total_tokens":13}}`))
	})

	req := llm.NewGenerateRequest("system", "question")
	req.Temperature = 0.7
	req.MaxTokens = 1024

	resp, err := p.Generate(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "Take 5mg.", resp.Content)
	assert.Equal(t, 13, resp.TokenUsage.TotalTokens)
}

func TestGenerate_NoChoices(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[]}`))
	})
	_, err := p.Generate(context.Background(), llm.NewGenerateRequest("", "q"))
	assert.ErrorIs(t, err, llm.ErrEmptyResponse)
}
