package store

import (
	"context"
	"errors"
	"fmt"
)

// ErrDimensionMismatch 表示向量维度与存储配置不一致。
var ErrDimensionMismatch = errors.New("embedding dimension mismatch")

// DimensionError 携带期望维度与实际维度，errors.Is 可匹配 ErrDimensionMismatch。
type DimensionError struct {
	Expected int
	Actual   int
	// ID 为出错记录的 ID，查询向量为空。
	ID string
}

func (e *DimensionError) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("%s: record %s has dimension %d, store expects %d", ErrDimensionMismatch, e.ID, e.Actual, e.Expected)
	}
	return fmt.Sprintf("%s: got %d, store expects %d", ErrDimensionMismatch, e.Actual, e.Expected)
}

func (e *DimensionError) Unwrap() error { return ErrDimensionMismatch }

// Record 是写入存储的一条向量记录。
type Record struct {
	// ID 全局唯一的记录 ID。
	ID string
	// Values 嵌入向量。
	Values []float32
	// Metadata 包含 content、chunk_index、total_chunks 以及调用方元数据。
	Metadata map[string]any
}

// Match 是一条检索结果，Score 越大越相关。
type Match struct {
	ID       string
	Score    float32
	Metadata map[string]any
}

// Stats 存储统计信息。
type Stats struct {
	Backend    string `json:"backend"`
	Collection string `json:"collection"`
	Dimension  int    `json:"dimension"`
	Records    int64  `json:"records"`
}

// CollectionConfig 集合配置。
type CollectionConfig struct {
	// Name 集合（表）名称。
	Name string
	// Description 集合描述。
	Description string
	// Dimension 向量维度。
	Dimension int
}

// VectorStore 定义向量存储接口。
type VectorStore interface {
	// CreateCollection 在集合不存在时创建集合及索引。
	CreateCollection(ctx context.Context) error

	// Upsert 按 ID 批量写入或覆盖记录。
	Upsert(ctx context.Context, records []*Record) error

	// Query 返回与 vector 最相似的至多 topK 条记录，按分数降序。
	Query(ctx context.Context, vector []float32, topK int) ([]*Match, error)

	// Delete 按 ID 删除记录，不存在的 ID 被忽略。
	Delete(ctx context.Context, ids []string) error

	// Stats 获取统计信息。
	Stats(ctx context.Context) (*Stats, error)

	// Close 关闭连接。
	Close(ctx context.Context) error
}

// CheckDimension 校验查询向量维度。
func CheckDimension(expected int, vector []float32) error {
	if len(vector) != expected {
		return &DimensionError{Expected: expected, Actual: len(vector)}
	}
	return nil
}

// CheckRecords 校验记录的 ID 与维度。
func CheckRecords(expected int, records []*Record) error {
	for i, r := range records {
		if r == nil {
			return fmt.Errorf("record %d is nil", i)
		}
		if r.ID == "" {
			return fmt.Errorf("record %d has an empty id", i)
		}
		if len(r.Values) != expected {
			return &DimensionError{Expected: expected, Actual: len(r.Values), ID: r.ID}
		}
	}
	return nil
}
