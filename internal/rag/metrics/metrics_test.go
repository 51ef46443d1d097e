package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRAGMetrics_Record(t *testing.T) {
	m := NewRAGMetrics()

	m.RecordQuery(true, nil)
	m.RecordQuery(false, nil)
	m.RecordQuery(false, nil)
	m.RecordQuery(false, errors.New("boom"))
	m.RecordNotFound()
	m.RecordRetrieval(1500*time.Millisecond, nil)
	m.RecordRetrieval(0, errors.New("milvus down"))
	m.RecordLLMCall(2*time.Second, 100, 20, nil)
	m.RecordIndexing(1, 3, nil)
	m.RecordIndexing(1, 0, errors.New("embed failed"))
	m.RecordDeletion(3)

	stats := m.Stats()
	assert.Equal(t, uint64(4), stats["queries_total"])
	assert.Equal(t, uint64(1), stats["queries_errors"])
	assert.Equal(t, 0.3333, stats["cache_hit_rate"])
	assert.Equal(t, uint64(3), stats["chunks_indexed"])
	assert.Equal(t, uint64(1), stats["index_errors"])
	assert.Equal(t, uint64(3), stats["chunks_deleted"])
}

func TestRAGMetrics_Export(t *testing.T) {
	m := NewRAGMetrics()
	m.RecordQuery(true, nil)
	m.RecordRetrieval(1500*time.Millisecond, nil)
	m.RecordLLMCall(time.Second, 10, 5, nil)
	m.RecordWebhook("INSERT", true)
	m.RecordWebhook("DELETE", false)

	out := m.Export("medrag", "rag")
	assert.Contains(t, out, "# TYPE medrag_rag_queries_total counter\nmedrag_rag_queries_total 1\n")
	assert.Contains(t, out, "medrag_rag_cache_hit_rate 1.0000\n")
	assert.Contains(t, out, "medrag_rag_retrieval_duration_seconds_total 1.500000\n")
	assert.Contains(t, out, "medrag_rag_llm_prompt_tokens_total 10\n")
	assert.Contains(t, out, `medrag_rag_webhook_events_total{event="DELETE",result="failed"} 1`)
	assert.Contains(t, out, `medrag_rag_webhook_events_total{event="INSERT",result="ok"} 1`)

	assert.Contains(t, m.Export("medrag", ""), "medrag_queries_total 1\n")
}

func TestRAGMetrics_NilReceiver(t *testing.T) {
	var m *RAGMetrics
	assert.NotPanics(t, func() {
		m.RecordQuery(true, nil)
		m.RecordRetrieval(time.Second, nil)
		m.RecordLLMCall(time.Second, 1, 1, nil)
		m.RecordIndexing(1, 1, nil)
		m.RecordWebhook("INSERT", true)
	})
}
