package biz

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/kart-io/logger"

	"github.com/kart-io/medrag/internal/rag/metrics"
)

// 数据库变更事件类型。
const (
	EventInsert = "INSERT"
	EventUpdate = "UPDATE"
	EventDelete = "DELETE"
)

// 渲染行文本时跳过的列。
var skippedColumns = map[string]bool{
	"id":         true,
	"created_at": true,
	"updated_at": true,
}

// Event 数据库触发器推送的变更事件。
type Event struct {
	Event string         `json:"event"`
	Table string         `json:"table"`
	Data  map[string]any `json:"data"`
}

// DefaultWebhookRows 默认记住的行数上限。
const DefaultWebhookRows = 10000

// DocumentWriter 由 Pipeline 实现。
type DocumentWriter interface {
	IngestDocument(ctx context.Context, text string, meta map[string]any) (*IngestResult, error)
	Delete(ctx context.Context, ids []string) error
}

// WebhookProcessor 将变更事件转换为入库或删除。
// 本进程写入过的行会记住其块 ID，UPDATE 与 DELETE 据此清理旧块。
// 记录数有上限，最久未访问的行先被淘汰，淘汰后按未知行处理。
type WebhookProcessor struct {
	writer  DocumentWriter
	metrics *metrics.RAGMetrics

	mu   sync.Mutex
	rows *expirable.LRU[string, []string]
}

// WebhookOption 配置 WebhookProcessor。
type WebhookOption func(*webhookConfig)

type webhookConfig struct {
	rows int
	ttl  time.Duration
}

// WithRowIndex 设置记住的行数上限与过期时间，ttl 非正表示不过期。
func WithRowIndex(size int, ttl time.Duration) WebhookOption {
	return func(c *webhookConfig) {
		if size > 0 {
			c.rows = size
		}
		c.ttl = ttl
	}
}

// NewWebhookProcessor 创建处理器，m 可以为 nil。
func NewWebhookProcessor(writer DocumentWriter, m *metrics.RAGMetrics, opts ...WebhookOption) *WebhookProcessor {
	cfg := &webhookConfig{rows: DefaultWebhookRows}
	for _, opt := range opts {
		opt(cfg)
	}
	return &WebhookProcessor{
		writer:  writer,
		metrics: m,
		rows:    expirable.NewLRU[string, []string](cfg.rows, nil, cfg.ttl),
	}
}

// TrackedRows 返回当前记住的行数。
func (w *WebhookProcessor) TrackedRows() int {
	return w.rows.Len()
}

// Process 处理一个事件，成功返回 true。未知事件类型返回 false。
func (w *WebhookProcessor) Process(ctx context.Context, ev *Event) (ok bool) {
	if ev == nil {
		return false
	}
	event := strings.ToUpper(strings.TrimSpace(ev.Event))
	defer func() {
		if r := recover(); r != nil {
			logger.Errorw("panic while processing webhook", "event", event, "table", ev.Table, "panic", r)
			ok = false
		}
		w.metrics.RecordWebhook(event, ok)
	}()

	switch event {
	case EventInsert:
		return w.upsertRow(ctx, event, ev.Table, ev.Data, "created_at")
	case EventUpdate:
		return w.upsertRow(ctx, event, ev.Table, ev.Data, "updated_at")
	case EventDelete:
		return w.deleteRow(ctx, ev.Table, ev.Data)
	default:
		logger.Warnw("unknown webhook event", "event", ev.Event, "table", ev.Table)
		return false
	}
}

func (w *WebhookProcessor) upsertRow(ctx context.Context, event, table string, data map[string]any, timestampColumn string) bool {
	recordID := stringify(data["id"])
	key := rowKey(table, recordID)

	if event == EventUpdate {
		if ids := w.known(key); len(ids) > 0 {
			if err := w.writer.Delete(ctx, ids); err != nil {
				logger.Errorw("failed to delete previous chunks of row", "table", table, "record_id", recordID, "error", err.Error())
				return false
			}
			w.forget(key)
		}
	}

	meta := map[string]any{
		"table":     table,
		"operation": event,
		"record_id": recordID,
		"timestamp": stringify(data[timestampColumn]),
	}
	result, err := w.writer.IngestDocument(ctx, RenderRow(table, data), meta)
	if err != nil {
		logger.Errorw("failed to ingest webhook row", "event", event, "table", table, "record_id", recordID, "error", err.Error())
		return false
	}

	if recordID != "" && result.Chunks() > 0 {
		w.remember(key, result.IDs)
	}
	logger.Infow("webhook row ingested", "event", event, "table", table, "record_id", recordID, "chunks", result.Chunks())
	return true
}

func (w *WebhookProcessor) deleteRow(ctx context.Context, table string, data map[string]any) bool {
	recordID := stringify(data["id"])
	key := rowKey(table, recordID)

	ids := w.known(key)
	if len(ids) == 0 {
		logger.Infow("delete event for untracked row", "table", table, "record_id", recordID)
		return true
	}
	if err := w.writer.Delete(ctx, ids); err != nil {
		logger.Errorw("failed to delete row chunks", "table", table, "record_id", recordID, "error", err.Error())
		return false
	}
	w.forget(key)
	logger.Infow("webhook row deleted", "table", table, "record_id", recordID, "chunks", len(ids))
	return true
}

func rowKey(table, recordID string) string {
	if recordID == "" {
		return ""
	}
	return table + "/" + recordID
}

func (w *WebhookProcessor) known(key string) []string {
	if key == "" {
		return nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	ids, _ := w.rows.Get(key)
	return append([]string(nil), ids...)
}

func (w *WebhookProcessor) remember(key string, ids []string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	prev, _ := w.rows.Get(key)
	w.rows.Add(key, append(append([]string(nil), prev...), ids...))
}

func (w *WebhookProcessor) forget(key string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.rows.Remove(key)
}

// RenderRow 把一行数据渲染为 "Table: X" 加按列名排序的 "key: value" 行，
// 跳过 id 与时间戳列。
func RenderRow(table string, data map[string]any) string {
	keys := make([]string, 0, len(data))
	for k := range data {
		if !skippedColumns[k] {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	lines := make([]string, 0, len(keys)+1)
	lines = append(lines, "Table: "+table)
	for _, k := range keys {
		lines = append(lines, k+": "+stringify(data[k]))
	}
	return strings.Join(lines, "\n")
}
