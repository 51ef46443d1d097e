// Package metrics 收集 medrag 的业务指标并导出为 Prometheus 文本格式。
package metrics

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// RAGMetrics 业务指标。所有方法并发安全，nil 接收者上的记录调用为空操作。
type RAGMetrics struct {
	queriesTotal  atomic.Uint64
	cacheHits     atomic.Uint64
	cacheMisses   atomic.Uint64
	queriesErrors atomic.Uint64
	notFound      atomic.Uint64

	retrievalTotal  atomic.Uint64
	retrievalErrors atomic.Uint64
	retrievalNanos  atomic.Int64

	llmCallsTotal  atomic.Uint64
	llmCallsErrors atomic.Uint64
	llmNanos       atomic.Int64
	promptTokens   atomic.Uint64
	replyTokens    atomic.Uint64

	documentsIndexed atomic.Uint64
	chunksIndexed    atomic.Uint64
	indexErrors      atomic.Uint64
	chunksDeleted    atomic.Uint64

	mu       sync.Mutex
	webhooks map[string]uint64

	startTime time.Time
}

// NewRAGMetrics 创建指标实例。
func NewRAGMetrics() *RAGMetrics {
	return &RAGMetrics{
		webhooks:  make(map[string]uint64),
		startTime: time.Now(),
	}
}

// RecordQuery 记录一次查询。
func (m *RAGMetrics) RecordQuery(cacheHit bool, err error) {
	if m == nil {
		return
	}
	m.queriesTotal.Add(1)
	switch {
	case err != nil:
		m.queriesErrors.Add(1)
	case cacheHit:
		m.cacheHits.Add(1)
	default:
		m.cacheMisses.Add(1)
	}
}

// RecordNotFound 记录检索结果为空、直接回复未找到的查询。
func (m *RAGMetrics) RecordNotFound() {
	if m == nil {
		return
	}
	m.notFound.Add(1)
}

// RecordRetrieval 记录一次向量检索。
func (m *RAGMetrics) RecordRetrieval(d time.Duration, err error) {
	if m == nil {
		return
	}
	m.retrievalTotal.Add(1)
	if err != nil {
		m.retrievalErrors.Add(1)
		return
	}
	m.retrievalNanos.Add(int64(d))
}

// RecordLLMCall 记录一次生成调用。
func (m *RAGMetrics) RecordLLMCall(d time.Duration, promptTokens, completionTokens int, err error) {
	if m == nil {
		return
	}
	m.llmCallsTotal.Add(1)
	if err != nil {
		m.llmCallsErrors.Add(1)
		return
	}
	m.llmNanos.Add(int64(d))
	m.promptTokens.Add(uint64(max(promptTokens, 0)))
	m.replyTokens.Add(uint64(max(completionTokens, 0)))
}

// RecordIndexing 记录一次入库。
func (m *RAGMetrics) RecordIndexing(documents, chunks int, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.indexErrors.Add(1)
		return
	}
	m.documentsIndexed.Add(uint64(documents))
	m.chunksIndexed.Add(uint64(chunks))
}

// RecordDeletion 记录被删除的块数。
func (m *RAGMetrics) RecordDeletion(chunks int) {
	if m == nil {
		return
	}
	m.chunksDeleted.Add(uint64(chunks))
}

// RecordWebhook 按事件与结果计数。
func (m *RAGMetrics) RecordWebhook(event string, ok bool) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "failed"
	}
	m.mu.Lock()
	m.webhooks[event+"|"+result]++
	m.mu.Unlock()
}

// CacheHitRate 返回缓存命中率，没有查询时为 0。
func (m *RAGMetrics) CacheHitRate() float64 {
	hits, misses := m.cacheHits.Load(), m.cacheMisses.Load()
	if hits+misses == 0 {
		return 0
	}
	return float64(hits) / float64(hits+misses)
}

// Stats 返回指标快照，用于 /stats。
func (m *RAGMetrics) Stats() map[string]any {
	return map[string]any{
		"queries_total":     m.queriesTotal.Load(),
		"queries_errors":    m.queriesErrors.Load(),
		"queries_not_found": m.notFound.Load(),
		"cache_hit_rate":    math.Round(m.CacheHitRate()*10000) / 10000,
		"retrieval_total":   m.retrievalTotal.Load(),
		"llm_calls_total":   m.llmCallsTotal.Load(),
		"llm_calls_errors":  m.llmCallsErrors.Load(),
		"documents_indexed": m.documentsIndexed.Load(),
		"chunks_indexed":    m.chunksIndexed.Load(),
		"chunks_deleted":    m.chunksDeleted.Load(),
		"index_errors":      m.indexErrors.Load(),
		"uptime_seconds":    int64(time.Since(m.startTime).Seconds()),
	}
}

type sample struct {
	name, help, kind string
	value            string
}

func counter(name, help string, v uint64) sample {
	return sample{name: name, help: help, kind: "counter", value: fmt.Sprintf("%d", v)}
}

func seconds(name, help string, nanos int64) sample {
	return sample{name: name, help: help, kind: "counter", value: fmt.Sprintf("%.6f", time.Duration(nanos).Seconds())}
}

// Export 以 Prometheus 文本格式导出。
func (m *RAGMetrics) Export(namespace, subsystem string) string {
	prefix := namespace
	if subsystem != "" {
		prefix += "_" + subsystem
	}

	samples := []sample{
		counter("queries_total", "Total number of queries.", m.queriesTotal.Load()),
		counter("queries_cache_hits_total", "Queries answered from cache.", m.cacheHits.Load()),
		counter("queries_cache_misses_total", "Queries that missed the cache.", m.cacheMisses.Load()),
		counter("queries_errors_total", "Queries that failed.", m.queriesErrors.Load()),
		counter("queries_not_found_total", "Queries with no retrieved context.", m.notFound.Load()),
		{name: "cache_hit_rate", help: "Query cache hit rate (0-1).", kind: "gauge", value: fmt.Sprintf("%.4f", m.CacheHitRate())},
		counter("retrieval_total", "Vector store queries.", m.retrievalTotal.Load()),
		counter("retrieval_errors_total", "Failed vector store queries.", m.retrievalErrors.Load()),
		seconds("retrieval_duration_seconds_total", "Time spent in vector store queries.", m.retrievalNanos.Load()),
		counter("llm_calls_total", "Generation calls.", m.llmCallsTotal.Load()),
		counter("llm_calls_errors_total", "Failed generation calls.", m.llmCallsErrors.Load()),
		seconds("llm_duration_seconds_total", "Time spent in generation calls.", m.llmNanos.Load()),
		counter("llm_prompt_tokens_total", "Prompt tokens consumed.", m.promptTokens.Load()),
		counter("llm_completion_tokens_total", "Completion tokens produced.", m.replyTokens.Load()),
		counter("documents_indexed_total", "Documents ingested.", m.documentsIndexed.Load()),
		counter("chunks_indexed_total", "Chunks stored.", m.chunksIndexed.Load()),
		counter("chunks_deleted_total", "Chunks removed.", m.chunksDeleted.Load()),
		counter("index_errors_total", "Failed ingestions.", m.indexErrors.Load()),
		{name: "uptime_seconds", help: "Seconds since start.", kind: "gauge", value: fmt.Sprintf("%.0f", time.Since(m.startTime).Seconds())},
	}

	var sb strings.Builder
	for _, s := range samples {
		fmt.Fprintf(&sb, "# HELP %s_%s %s\n", prefix, s.name, s.help)
		fmt.Fprintf(&sb, "# TYPE %s_%s %s\n", prefix, s.name, s.kind)
		fmt.Fprintf(&sb, "%s_%s %s\n\n", prefix, s.name, s.value)
	}

	m.mu.Lock()
	keys := make([]string, 0, len(m.webhooks))
	for k := range m.webhooks {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	fmt.Fprintf(&sb, "# HELP %s_webhook_events_total Webhook events by type and result.\n", prefix)
	fmt.Fprintf(&sb, "# TYPE %s_webhook_events_total counter\n", prefix)
	for _, k := range keys {
		event, result, _ := strings.Cut(k, "|")
		fmt.Fprintf(&sb, "%s_webhook_events_total{event=%q,result=%q} %d\n", prefix, event, result, m.webhooks[k])
	}
	m.mu.Unlock()

	return sb.String()
}
