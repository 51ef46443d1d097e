// Package handler provides HTTP handlers for the medrag service.
package handler

import (
	"context"
	stderrors "errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kart-io/logger"

	"github.com/kart-io/medrag/internal/rag/biz"
	"github.com/kart-io/medrag/internal/rag/metrics"
	"github.com/kart-io/medrag/internal/rag/store"
	"github.com/kart-io/medrag/pkg/errors"
	"github.com/kart-io/medrag/pkg/response"
)

// MaxTaskWait caps the wait query parameter of GetTask.
const MaxTaskWait = time.Minute

// Service is the part of the pipeline the handlers call.
type Service interface {
	Answer(ctx context.Context, question string, topK int) (*biz.Answer, error)
	IngestDocument(ctx context.Context, text string, meta map[string]any) (*biz.IngestResult, error)
	UpdateDocument(ctx context.Context, id, text string, meta map[string]any) (*biz.IngestResult, error)
	Stats(ctx context.Context) (*store.Stats, error)
}

// RAGHandler handles medrag HTTP requests.
type RAGHandler struct {
	service Service
	tasks   *biz.TaskManager
	webhook *biz.WebhookProcessor
	metrics *metrics.RAGMetrics
}

// NewRAGHandler creates a new RAGHandler. tasks and webhook may be nil, in
// which case the corresponding endpoints report unavailability.
func NewRAGHandler(service Service, tasks *biz.TaskManager, webhook *biz.WebhookProcessor, m *metrics.RAGMetrics) *RAGHandler {
	if m == nil {
		m = metrics.NewRAGMetrics()
	}
	return &RAGHandler{
		service: service,
		tasks:   tasks,
		webhook: webhook,
		metrics: m,
	}
}

// QueryRequest represents a question over the indexed notes.
type QueryRequest struct {
	Query string `json:"query"`
	TopK  int    `json:"top_k"`
}

// QueryResponse is the data of a query answer.
type QueryResponse struct {
	Response string       `json:"response"`
	Sources  []biz.Source `json:"sources"`
	Cached   bool         `json:"cached"`
	NotFound bool         `json:"not_found"`
}

// DocumentRequest carries a document and its metadata.
type DocumentRequest struct {
	Content  string         `json:"content"`
	Metadata map[string]any `json:"metadata"`
}

// DocumentResponse is the data of a successful ingest or update.
type DocumentResponse struct {
	Message string   `json:"message"`
	IDs     []string `json:"ids"`
	Chunks  int      `json:"chunks"`
}

// Root answers the liveness banner. The body is not enveloped so existing
// probes keep matching it.
func (h *RAGHandler) Root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"message": "Medical RAG Chatbot is running"})
}

// Health answers the health probe with a bare body.
func (h *RAGHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}

// Query answers a question. Pipeline failures are reported as a normal
// answer carrying biz.ErrorAnswer.
func (h *RAGHandler) Query(c *gin.Context) {
	var req QueryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Fail(c, errors.ErrBadRequest.WithCause(err))
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		response.Fail(c, errors.ErrInvalidParam.WithMessage("query is required"))
		return
	}
	if req.TopK < 0 {
		response.Fail(c, errors.ErrInvalidParam.WithMessage("top_k must not be negative"))
		return
	}

	answer, err := h.service.Answer(c.Request.Context(), req.Query, req.TopK)
	if err != nil {
		logger.Errorw("query failed", "request_id", c.Writer.Header().Get(response.HeaderRequestID), "error", err.Error())
		response.OK(c, QueryResponse{Response: biz.ErrorAnswer, Sources: []biz.Source{}})
		return
	}

	sources := answer.Sources
	if sources == nil {
		sources = []biz.Source{}
	}
	response.OK(c, QueryResponse{
		Response: answer.Answer,
		Sources:  sources,
		Cached:   answer.Cached,
		NotFound: answer.NotFound,
	})
}

// AddDocument ingests a document synchronously. Empty content is a no-op.
func (h *RAGHandler) AddDocument(c *gin.Context) {
	var req DocumentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Fail(c, errors.ErrBadRequest.WithCause(err))
		return
	}

	result, err := h.service.IngestDocument(c.Request.Context(), req.Content, req.Metadata)
	if err != nil {
		logger.Errorw("add document failed", "error", err.Error())
		response.Fail(c, errors.ErrIngestFailed.WithCause(err))
		return
	}
	response.OK(c, documentResponse("Document added successfully", result))
}

// UpdateDocument replaces the record with the given id by a new document.
func (h *RAGHandler) UpdateDocument(c *gin.Context) {
	id := strings.TrimSpace(c.Param("id"))
	if id == "" {
		response.Fail(c, errors.ErrInvalidParam.WithMessage("document id is required"))
		return
	}

	var req DocumentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Fail(c, errors.ErrBadRequest.WithCause(err))
		return
	}

	result, err := h.service.UpdateDocument(c.Request.Context(), id, req.Content, req.Metadata)
	if err != nil {
		logger.Errorw("update document failed", "id", id, "error", err.Error())
		response.Fail(c, errors.ErrUpdateFailed.WithCause(err))
		return
	}
	response.OK(c, documentResponse("Document updated successfully", result))
}

// AddDocumentAsync queues a document for background ingestion.
func (h *RAGHandler) AddDocumentAsync(c *gin.Context) {
	if h.tasks == nil {
		response.Fail(c, errors.ErrNotFound.WithMessage("async ingestion is disabled"))
		return
	}

	var req DocumentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Fail(c, errors.ErrBadRequest.WithCause(err))
		return
	}
	if strings.TrimSpace(req.Content) == "" {
		response.Fail(c, errors.ErrEmptyContent)
		return
	}

	task, err := h.tasks.Submit(c.Request.Context(), req.Content, req.Metadata)
	if err != nil {
		if stderrors.Is(err, biz.ErrTaskQueueFull) {
			response.Fail(c, errors.ErrTaskQueueFull.WithCause(err))
			return
		}
		response.Fail(c, errors.ErrIngestFailed.WithCause(err))
		return
	}
	response.Accepted(c, task.Info())
}

// GetTask returns a task snapshot. With ?wait=<duration> it blocks until the
// task finishes or the wait elapses, then answers with the current state.
func (h *RAGHandler) GetTask(c *gin.Context) {
	if h.tasks == nil {
		response.Fail(c, errors.ErrTaskNotFound)
		return
	}

	id := c.Param("id")
	var wait time.Duration
	if raw := c.Query("wait"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d < 0 {
			response.Fail(c, errors.ErrInvalidParam.WithMessage("wait must be a non-negative duration"))
			return
		}
		wait = min(d, MaxTaskWait)
	}

	if wait == 0 {
		task, ok := h.tasks.Get(id)
		if !ok {
			response.Fail(c, errors.ErrTaskNotFound)
			return
		}
		response.OK(c, task.Info())
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), wait)
	defer cancel()
	info, err := h.tasks.Wait(ctx, id)
	if stderrors.Is(err, biz.ErrTaskNotFound) {
		response.Fail(c, errors.ErrTaskNotFound)
		return
	}
	response.OK(c, info)
}

// Webhook applies a database change event.
func (h *RAGHandler) Webhook(c *gin.Context) {
	if h.webhook == nil {
		response.Fail(c, errors.ErrWebhookFailed.WithMessage("webhook processing is disabled"))
		return
	}

	var ev biz.Event
	if err := c.ShouldBindJSON(&ev); err != nil {
		response.Fail(c, errors.ErrBadRequest.WithCause(err))
		return
	}
	if !h.webhook.Process(c.Request.Context(), &ev) {
		response.Fail(c, errors.ErrWebhookFailed)
		return
	}
	response.OK(c, gin.H{"message": "Webhook processed successfully"})
}

// Stats reports store statistics, task counts and pipeline counters.
func (h *RAGHandler) Stats(c *gin.Context) {
	st, err := h.service.Stats(c.Request.Context())
	if err != nil {
		response.Fail(c, errors.ErrStoreUnavailable.WithCause(err))
		return
	}

	tasks := map[biz.TaskStatus]int{}
	if h.tasks != nil {
		tasks = h.tasks.Counts()
	}
	response.OK(c, gin.H{
		"store":   st,
		"tasks":   tasks,
		"metrics": h.metrics.Stats(),
	})
}

// Metrics exports counters in the Prometheus text format.
func (h *RAGHandler) Metrics(c *gin.Context) {
	c.Data(http.StatusOK, "text/plain; version=0.0.4; charset=utf-8", []byte(h.metrics.Export("medrag", "rag")))
}

func documentResponse(message string, result *biz.IngestResult) DocumentResponse {
	ids := []string{}
	if result != nil && result.IDs != nil {
		ids = result.IDs
	}
	return DocumentResponse{Message: message, IDs: ids, Chunks: len(ids)}
}
