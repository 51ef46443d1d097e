package ragsvc

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cacheopts "github.com/kart-io/medrag/pkg/options/cache"
	llmopts "github.com/kart-io/medrag/pkg/options/llm"
	ragopts "github.com/kart-io/medrag/pkg/options/rag"
	httpopts "github.com/kart-io/medrag/pkg/options/server/http"
	storeopts "github.com/kart-io/medrag/pkg/options/store"
	taskopts "github.com/kart-io/medrag/pkg/options/task"
	"github.com/kart-io/medrag/pkg/response"
	"github.com/kart-io/medrag/pkg/utils/json"
)

const chatAnswer = "Take 500mg metformin twice daily."

// fakeModels serves the OpenAI compatible embeddings and chat endpoints.
type fakeModels struct {
	embedCalls atomic.Int32
	chatCalls  atomic.Int32
}

func (f *fakeModels) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	switch r.URL.Path {
	case "/embeddings":
		f.embedCalls.Add(1)
		var req struct {
			Input []string `json:"input"`
		}
		_ = json.Unmarshal(body, &req)
		type item struct {
			Index     int       `json:"index"`
			Embedding []float32 `json:"embedding"`
		}
		data := make([]item, len(req.Input))
		for i, text := range req.Input {
			vec := []float32{0, 1, 0}
			if strings.Contains(strings.ToLower(text), "metformin") {
				vec = []float32{1, 0, 0}
			}
			data[i] = item{Index: i, Embedding: vec}
		}
		out, _ := json.Marshal(map[string]any{"data": data})
		_, _ = w.Write(out)
	case "/chat/completions":
		f.chatCalls.Add(1)
		_, _ = w.Write([]byte(`{"model":"m","choices":[{"message":{"role":"assistant","content":"` + chatAnswer + `"}}],"usage":{"prompt_tokens":10,"completion_tokens":5,"total_tokens":15}}`))
	default:
		http.NotFound(w, r)
	}
}

func testConfig(t *testing.T, models *fakeModels) *Config {
	t.Helper()
	srv := httptest.NewServer(models)
	t.Cleanup(srv.Close)

	provider := func(o *llmopts.ProviderOptions) *llmopts.ProviderOptions {
		o.Provider = "openai"
		o.BaseURL = srv.URL
		o.APIKey = "test-key"
		o.MaxRetries = 0
		o.Timeout = 5 * time.Second
		o.Resilience = false
		return o
	}

	storeOpts := storeopts.NewOptions()
	storeOpts.Backend = storeopts.BackendMemory
	storeOpts.Dimension = 3

	httpOpts := httpopts.NewOptions()
	httpOpts.Addr = "127.0.0.1:0"

	return &Config{
		HTTPOptions:      httpOpts,
		StoreOptions:     storeOpts,
		EmbeddingOptions: provider(llmopts.NewEmbeddingOptions()),
		ChatOptions:      provider(llmopts.NewChatOptions()),
		RAGOptions:       ragopts.NewOptions(),
		CacheOptions:     cacheopts.NewOptions(),
		TaskOptions:      taskopts.NewOptions(),
		ShutdownTimeout:  5 * time.Second,
	}
}

func newTestServer(t *testing.T, cfg *Config) *Server {
	t.Helper()
	s, err := cfg.NewServer(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.close(context.Background()) })
	return s
}

func call(t *testing.T, h http.Handler, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	var r response.Response
	data := map[string]any{}
	if strings.HasPrefix(w.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &r))
		if m, ok := r.Data.(map[string]any); ok {
			data = m
		}
	}
	return w, data
}

func TestServerIngestAndQuery(t *testing.T) {
	models := &fakeModels{}
	s := newTestServer(t, testConfig(t, models))
	h := s.Handler()

	w, data := call(t, h, http.MethodPost, "/documents",
		`{"content":"Patient John Doe was prescribed metformin.","metadata":{"patient_name":"John Doe"}}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "Document added successfully", data["message"])
	assert.EqualValues(t, 1, data["chunks"])

	w, data = call(t, h, http.MethodPost, "/query", `{"query":"What dose of metformin?"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, chatAnswer, data["response"])
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
	assert.EqualValues(t, 1, models.chatCalls.Load())

	w, data = call(t, h, http.MethodGet, "/stats", "")
	require.Equal(t, http.StatusOK, w.Code)
	st, ok := data["store"].(map[string]any)
	require.True(t, ok)
	assert.EqualValues(t, 1, st["records"])

	w, _ = call(t, h, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "medrag_rag_")
}

func TestServerEmptyStoreAnswersNotFound(t *testing.T) {
	models := &fakeModels{}
	s := newTestServer(t, testConfig(t, models))

	w, data := call(t, s.Handler(), http.MethodPost, "/query", `{"query":"Any allergies?"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "I could not find this information in the patient's medical records.", data["response"])
	assert.Zero(t, models.chatCalls.Load())
}

func TestServerAsyncIngest(t *testing.T) {
	s := newTestServer(t, testConfig(t, &fakeModels{}))
	h := s.Handler()

	w, data := call(t, h, http.MethodPost, "/documents/async", `{"content":"metformin 500mg"}`)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	id, _ := data["id"].(string)
	require.NotEmpty(t, id)

	w, data = call(t, h, http.MethodGet, "/tasks/"+id+"?wait=5s", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "succeeded", data["status"])
}

func TestServerQueryCache(t *testing.T) {
	mr := miniredis.RunT(t)
	host, port, err := net.SplitHostPort(mr.Addr())
	require.NoError(t, err)

	models := &fakeModels{}
	cfg := testConfig(t, models)
	cfg.CacheOptions.Enabled = true
	cfg.CacheOptions.Redis.Host = host
	cfg.CacheOptions.Redis.Port, err = strconv.Atoi(port)
	require.NoError(t, err)

	h := newTestServer(t, cfg).Handler()
	w, _ := call(t, h, http.MethodPost, "/documents", `{"content":"metformin 500mg"}`)
	require.Equal(t, http.StatusOK, w.Code)

	_, first := call(t, h, http.MethodPost, "/query", `{"query":"metformin dose?"}`)
	_, second := call(t, h, http.MethodPost, "/query", `{"query":"metformin dose?"}`)
	assert.Equal(t, first["response"], second["response"])
	assert.Equal(t, false, first["cached"])
	assert.Equal(t, true, second["cached"])
	assert.EqualValues(t, 1, models.chatCalls.Load())
	assert.NotEmpty(t, mr.Keys())
}

func TestServerRedisUnavailableDisablesCache(t *testing.T) {
	cfg := testConfig(t, &fakeModels{})
	cfg.CacheOptions.Enabled = true
	cfg.CacheOptions.Redis.Host = "127.0.0.1"
	cfg.CacheOptions.Redis.Port = 1
	cfg.CacheOptions.Redis.DialTimeout = 100 * time.Millisecond
	cfg.CacheOptions.Redis.MaxRetries = 0

	s := newTestServer(t, cfg)
	w, _ := call(t, s.Handler(), http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestNewServerErrors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(cfg *Config)
		want   string
	}{
		{
			name:   "未知存储后端",
			mutate: func(cfg *Config) { cfg.StoreOptions.Backend = "sqlite" },
			want:   "unsupported store backend",
		},
		{
			name:   "未注册的供应商",
			mutate: func(cfg *Config) { cfg.EmbeddingOptions.Provider = "nope" },
			want:   "failed to initialize embedding provider",
		},
		{
			name:   "非法的 cron 表达式",
			mutate: func(cfg *Config) { cfg.TaskOptions.PruneSchedule = "every five minutes" },
			want:   "",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(t, &fakeModels{})
			tt.mutate(cfg)
			_, err := cfg.NewServer(context.Background())
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestServerRunStopsOnCancel(t *testing.T) {
	s := newTestServer(t, testConfig(t, &fakeModels{}))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.Eventually(t, func() bool { return !strings.HasSuffix(s.http.Addr(), ":0") }, 3*time.Second, 10*time.Millisecond)
	resp, err := http.Get("http://" + s.http.Addr() + "/health")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("server did not stop")
	}
}

func init() {
	gin.SetMode(gin.TestMode)
}
