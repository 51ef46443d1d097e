package biz

import (
	"context"
	"hash/fnv"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kart-io/medrag/internal/rag/store"
	"github.com/kart-io/medrag/pkg/llm"
)

const testDim = 8

// fakeEmbedder 以词袋哈希生成确定性向量。
type fakeEmbedder struct {
	mu     sync.Mutex
	dim    int
	calls  int
	inputs []string
	err    error
	// short 为 true 时少返回一个向量。
	short bool
}

func newFakeEmbedder() *fakeEmbedder { return &fakeEmbedder{dim: testDim} }

func (f *fakeEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.inputs = append(f.inputs, texts...)
	if f.err != nil {
		return nil, f.err
	}

	out := make([][]float32, 0, len(texts))
	for _, text := range texts {
		v := make([]float32, f.dim)
		v[0] = 0.01
		for _, w := range strings.Fields(strings.ToLower(text)) {
			h := fnv.New32a()
			_, _ = h.Write([]byte(strings.Trim(w, ".,:?")))
			v[h.Sum32()%uint32(f.dim)]++
		}
		out = append(out, v)
	}
	if f.short && len(out) > 0 {
		out = out[:len(out)-1]
	}
	return out, nil
}

func (f *fakeEmbedder) Name() string { return "fake" }

func (f *fakeEmbedder) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeChat struct {
	mu       sync.Mutex
	reply    string
	err      error
	requests []*llm.GenerateRequest
	// onGenerate 在生成前调用，用于模拟并发写入。
	onGenerate func()
}

func (f *fakeChat) Generate(_ context.Context, req *llm.GenerateRequest) (*llm.GenerateResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if f.onGenerate != nil {
		f.onGenerate()
	}
	if f.err != nil {
		return nil, f.err
	}
	return &llm.GenerateResponse{
		Content:    f.reply,
		TokenUsage: &llm.TokenUsage{PromptTokens: 42, CompletionTokens: 7, TotalTokens: 49},
	}, nil
}

func (f *fakeChat) Name() string { return "fake" }

func (f *fakeChat) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

func newMemoryStore(t *testing.T) *store.MemoryStore {
	t.Helper()
	s, err := store.NewMemoryStore(store.CollectionConfig{Name: "test", Dimension: testDim})
	require.NoError(t, err)
	return s
}

func storeCount(t *testing.T, s store.VectorStore) int64 {
	t.Helper()
	stats, err := s.Stats(context.Background())
	require.NoError(t, err)
	return stats.Records
}
