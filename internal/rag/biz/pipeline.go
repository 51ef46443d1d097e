package biz

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kart-io/logger"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/kart-io/medrag/internal/rag/metrics"
	"github.com/kart-io/medrag/internal/rag/store"
	"github.com/kart-io/medrag/pkg/llm"
)

// 固定回复。
const (
	NotFoundAnswer = "I could not find this information in the patient's medical records."
	ErrorAnswer    = "Sorry, an error occurred."
)

const tracerName = "github.com/kart-io/medrag/internal/rag/biz"

// Config 流水线配置。
type Config struct {
	ChunkSize      int
	ChunkOverlap   int
	TopK           int
	MaxTopK        int
	EmbedBatchSize int
	SystemPrompt   string
	Temperature    float64
	MaxTokens      int
	Attribution    bool
}

// DefaultConfig 返回默认配置。
func DefaultConfig() *Config {
	return &Config{
		ChunkSize:      1000,
		ChunkOverlap:   100,
		TopK:           3,
		MaxTopK:        20,
		EmbedBatchSize: 16,
		SystemPrompt: "You are an advanced medical RAG assistant. You must strictly use the provided context for every answer. " +
			"If the answer is not found in the context, say '" + NotFoundAnswer + "'",
		Temperature: 0.7,
		MaxTokens:   1024,
		Attribution: true,
	}
}

// Source 答案引用的检索片段。
type Source struct {
	ID          string  `json:"id"`
	Score       float32 `json:"score"`
	PatientName string  `json:"patient_name,omitempty"`
	PatientID   string  `json:"patient_id,omitempty"`
	DateTime    string  `json:"date_time,omitempty"`
}

// Answer 一次查询的完整结果。
type Answer struct {
	Question string   `json:"question"`
	Answer   string   `json:"answer"`
	Sources  []Source `json:"sources,omitempty"`
	NotFound bool     `json:"not_found,omitempty"`
	Cached   bool     `json:"cached,omitempty"`
}

// IngestResult 一次入库写入的记录。
type IngestResult struct {
	IDs []string `json:"ids"`
}

// Chunks 返回写入的块数。
func (r *IngestResult) Chunks() int {
	if r == nil {
		return 0
	}
	return len(r.IDs)
}

// Service 是对外暴露的 RAG 操作。失败不会以错误形式越过该边界。
type Service interface {
	Ingest(ctx context.Context, text string, meta map[string]any) bool
	Query(ctx context.Context, question string, topK int) string
	Update(ctx context.Context, id, text string, meta map[string]any) bool
	Stats(ctx context.Context) (*store.Stats, error)
}

// Pipeline 组合切分、嵌入、存储、检索与生成。
type Pipeline struct {
	config    *Config
	chunker   *Chunker
	assembler Assembler
	embedder  llm.EmbeddingProvider
	chat      llm.ChatProvider
	store     store.VectorStore
	cache     *QueryCache
	metrics   *metrics.RAGMetrics
	tracer    trace.Tracer
}

// Option 配置 Pipeline 的可选依赖。
type Option func(*Pipeline)

// WithQueryCache 设置查询缓存。
func WithQueryCache(c *QueryCache) Option {
	return func(p *Pipeline) { p.cache = c }
}

// WithMetrics 设置指标收集器。
func WithMetrics(m *metrics.RAGMetrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// WithTracer 替换默认 tracer。
func WithTracer(t trace.Tracer) Option {
	return func(p *Pipeline) { p.tracer = t }
}

// NewPipeline 创建流水线。
func NewPipeline(cfg *Config, embedder llm.EmbeddingProvider, chat llm.ChatProvider, vs store.VectorStore, opts ...Option) (*Pipeline, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if embedder == nil || chat == nil || vs == nil {
		return nil, fmt.Errorf("pipeline requires an embedder, a chat provider and a vector store")
	}
	chunker, err := NewChunker(cfg.ChunkSize, cfg.ChunkOverlap)
	if err != nil {
		return nil, err
	}
	if cfg.EmbedBatchSize <= 0 {
		cfg.EmbedBatchSize = 16
	}
	if cfg.TopK <= 0 {
		cfg.TopK = 3
	}

	p := &Pipeline{
		config:    cfg,
		chunker:   chunker,
		assembler: Assembler{Attribution: cfg.Attribution},
		embedder:  embedder,
		chat:      chat,
		store:     vs,
		tracer:    otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// IngestDocument 切分、嵌入并一次性写入文档。空文本不调用任何外部依赖。
func (p *Pipeline) IngestDocument(ctx context.Context, text string, meta map[string]any) (result *IngestResult, err error) {
	ctx, span := p.tracer.Start(ctx, "rag.ingest", trace.WithAttributes(attribute.Int("text.length", len(text))))
	defer func() {
		endSpan(span, err)
		if len(text) > 0 {
			p.metrics.RecordIndexing(1, result.Chunks(), err)
		}
	}()

	chunks := p.chunker.Split(text)
	span.SetAttributes(attribute.Int("chunks", len(chunks)))
	if len(chunks) == 0 {
		logger.Debugw("document produced no chunks, nothing to ingest")
		return &IngestResult{}, nil
	}

	patient := ParsePatientMetadata(meta)
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = Compose(c.Text, patient)
	}

	vectors, err := p.embed(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embed chunks: %w", err)
	}

	records := make([]*store.Record, len(chunks))
	ids := make([]string, len(chunks))
	for i, c := range chunks {
		md := cloneMetadata(meta)
		md[MetaContent] = c.Text
		md[MetaChunkIndex] = c.Index
		md[MetaTotalChunks] = len(chunks)

		ids[i] = uuid.NewString()
		records[i] = &store.Record{ID: ids[i], Values: vectors[i], Metadata: md}
	}

	if err := p.store.Upsert(ctx, records); err != nil {
		return nil, fmt.Errorf("upsert %d records: %w", len(records), err)
	}

	p.invalidate(ctx)
	logger.Infow("document ingested", "chunks", len(records), "patient_id", patient.PatientID)
	return &IngestResult{IDs: ids}, nil
}

// embed 按 EmbedBatchSize 分批调用，结果顺序与输入一致。
func (p *Pipeline) embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += p.config.EmbedBatchSize {
		end := min(start+p.config.EmbedBatchSize, len(texts))
		vectors, err := p.embedder.Embed(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		if len(vectors) != end-start {
			return nil, fmt.Errorf("embedding provider returned %d vectors for %d texts", len(vectors), end-start)
		}
		out = append(out, vectors...)
	}
	return out, nil
}

// Ingest 入库文档，任何失败记录日志并返回 false。
func (p *Pipeline) Ingest(ctx context.Context, text string, meta map[string]any) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			logger.Errorw("panic while ingesting document", "panic", fmt.Sprint(r))
			ok = false
		}
	}()

	if _, err := p.IngestDocument(ctx, text, meta); err != nil {
		logger.Errorw("failed to ingest document", "error", err.Error())
		return false
	}
	return true
}

// resolveTopK 非正数使用默认值，并以 MaxTopK 为上限。
func (p *Pipeline) resolveTopK(topK int) int {
	if topK <= 0 {
		topK = p.config.TopK
	}
	if p.config.MaxTopK > 0 && topK > p.config.MaxTopK {
		topK = p.config.MaxTopK
	}
	return topK
}

// Answer 执行检索增强问答。检索不到可用上下文时直接返回 NotFoundAnswer，不调用生成。
func (p *Pipeline) Answer(ctx context.Context, question string, topK int) (answer *Answer, err error) {
	question = strings.TrimSpace(question)
	topK = p.resolveTopK(topK)

	ctx, span := p.tracer.Start(ctx, "rag.query", trace.WithAttributes(attribute.Int("top_k", topK)))
	cacheHit := false
	defer func() {
		endSpan(span, err)
		p.metrics.RecordQuery(cacheHit, err)
	}()

	if question == "" {
		return &Answer{Answer: NotFoundAnswer, NotFound: true}, nil
	}

	if cached := p.cache.Get(ctx, question, topK); cached != nil {
		cacheHit = true
		span.SetAttributes(attribute.Bool("cache.hit", true))
		return cached, nil
	}
	generation := p.cache.Generation(ctx)

	vectors, err := p.embedder.Embed(ctx, []string{question})
	if err != nil {
		return nil, fmt.Errorf("embed question: %w", err)
	}
	if len(vectors) != 1 {
		return nil, fmt.Errorf("embedding provider returned %d vectors for the question", len(vectors))
	}

	retrievalStart := time.Now()
	matches, err := p.store.Query(ctx, vectors[0], topK)
	p.metrics.RecordRetrieval(time.Since(retrievalStart), err)
	if err != nil {
		return nil, fmt.Errorf("query vector store: %w", err)
	}

	contextText, used := p.assembler.Assemble(matches, topK)
	span.SetAttributes(attribute.Int("matches", len(matches)), attribute.Int("context.segments", len(used)))
	if contextText == "" {
		p.metrics.RecordNotFound()
		logger.Infow("no usable context retrieved", "matches", len(matches))
		return &Answer{Question: question, Answer: NotFoundAnswer, NotFound: true}, nil
	}

	req := llm.NewGenerateRequest(p.config.SystemPrompt, BuildUserPrompt(contextText, question))
	req.Temperature = p.config.Temperature
	req.MaxTokens = p.config.MaxTokens

	genStart := time.Now()
	resp, err := p.chat.Generate(ctx, req)
	if err != nil {
		p.metrics.RecordLLMCall(time.Since(genStart), 0, 0, err)
		return nil, fmt.Errorf("generate answer: %w", err)
	}
	var promptTokens, completionTokens int
	if resp.TokenUsage != nil {
		promptTokens, completionTokens = resp.TokenUsage.PromptTokens, resp.TokenUsage.CompletionTokens
	}
	p.metrics.RecordLLMCall(time.Since(genStart), promptTokens, completionTokens, nil)

	answer = &Answer{
		Question: question,
		Answer:   resp.Content,
		Sources:  sources(matches, used),
	}
	p.cache.Set(ctx, question, topK, answer, generation)
	return answer, nil
}

// BuildUserPrompt 渲染生成请求中的用户消息。
func BuildUserPrompt(contextText, question string) string {
	return "Context:\n" + contextText + "\n\nQuestion:\n" + question
}

func sources(matches []*store.Match, used []string) []Source {
	byID := make(map[string]*store.Match, len(matches))
	for _, m := range matches {
		if m != nil {
			byID[m.ID] = m
		}
	}
	out := make([]Source, 0, len(used))
	for _, id := range used {
		m := byID[id]
		if m == nil {
			continue
		}
		meta := ParsePatientMetadata(m.Metadata)
		out = append(out, Source{
			ID:          m.ID,
			Score:       m.Score,
			PatientName: meta.PatientName,
			PatientID:   meta.PatientID,
			DateTime:    meta.DateTime,
		})
	}
	return out
}

// Query 返回答案文本。任何失败都返回 ErrorAnswer。
func (p *Pipeline) Query(ctx context.Context, question string, topK int) (text string) {
	defer func() {
		if r := recover(); r != nil {
			logger.Errorw("panic while answering query", "panic", fmt.Sprint(r))
			text = ErrorAnswer
		}
	}()

	answer, err := p.Answer(ctx, question, topK)
	if err != nil {
		logger.Errorw("failed to answer query", "error", err.Error())
		return ErrorAnswer
	}
	return answer.Answer
}

// Delete 按记录 ID 删除。
func (p *Pipeline) Delete(ctx context.Context, ids []string) (err error) {
	if len(ids) == 0 {
		return nil
	}
	ctx, span := p.tracer.Start(ctx, "rag.delete", trace.WithAttributes(attribute.Int("ids", len(ids))))
	defer func() { endSpan(span, err) }()

	if err := p.store.Delete(ctx, ids); err != nil {
		return fmt.Errorf("delete %d records: %w", len(ids), err)
	}
	p.metrics.RecordDeletion(len(ids))
	p.invalidate(ctx)
	return nil
}

// UpdateDocument 先删除 id 再重新入库，两步之间不具备原子性。
func (p *Pipeline) UpdateDocument(ctx context.Context, id, text string, meta map[string]any) (*IngestResult, error) {
	if err := p.Delete(ctx, []string{id}); err != nil {
		return nil, err
	}
	result, err := p.IngestDocument(ctx, text, meta)
	if err != nil {
		logger.Errorw("document deleted but re-ingest failed", "id", id, "error", err.Error())
		return nil, err
	}
	return result, nil
}

// Update 更新文档，失败返回 false。
func (p *Pipeline) Update(ctx context.Context, id, text string, meta map[string]any) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			logger.Errorw("panic while updating document", "id", id, "panic", fmt.Sprint(r))
			ok = false
		}
	}()

	if _, err := p.UpdateDocument(ctx, id, text, meta); err != nil {
		logger.Errorw("failed to update document", "id", id, "error", err.Error())
		return false
	}
	return true
}

// Stats 返回向量存储统计。
func (p *Pipeline) Stats(ctx context.Context) (*store.Stats, error) {
	return p.store.Stats(ctx)
}

func (p *Pipeline) invalidate(ctx context.Context) {
	if _, err := p.cache.Clear(ctx); err != nil {
		logger.Warnw("failed to clear query cache", "error", err.Error())
	}
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

var _ Service = (*Pipeline)(nil)
