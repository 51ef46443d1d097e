package store

import (
	"context"
	"fmt"

	"github.com/milvus-io/milvus/client/v2/entity"

	"github.com/kart-io/medrag/pkg/component/milvus"
	"github.com/kart-io/medrag/pkg/utils/json"
)

// BackendMilvus Milvus 存储的后端名称。
const BackendMilvus = "milvus"

// Milvus 集合中的标量字段。content/chunk_index/total_chunks 独立成列，
// 其余调用方元数据以 JSON 文本保存在 metadata 列。
const (
	fieldContent     = "content"
	fieldChunkIndex  = "chunk_index"
	fieldTotalChunks = "total_chunks"
	fieldMetadata    = "metadata"

	maxVarCharLen = 65535
)

var milvusOutputFields = []string{fieldContent, fieldChunkIndex, fieldTotalChunks, fieldMetadata}

// MilvusStore 实现基于 Milvus 的向量存储。
type MilvusStore struct {
	client *milvus.Client
	config CollectionConfig
}

// NewMilvusStore 创建 Milvus 存储实例。
func NewMilvusStore(client *milvus.Client, config CollectionConfig) *MilvusStore {
	return &MilvusStore{client: client, config: config}
}

// CreateCollection 创建并加载 Milvus 集合。
func (s *MilvusStore) CreateCollection(ctx context.Context) error {
	return s.client.EnsureCollection(ctx, &milvus.CollectionSchema{
		Name:        s.config.Name,
		Description: s.config.Description,
		Dimension:   s.config.Dimension,
		IDMaxLen:    64,
		MetaFields: []milvus.MetaField{
			{Name: fieldContent, DataType: entity.FieldTypeVarChar, MaxLen: maxVarCharLen},
			{Name: fieldChunkIndex, DataType: entity.FieldTypeInt64},
			{Name: fieldTotalChunks, DataType: entity.FieldTypeInt64},
			{Name: fieldMetadata, DataType: entity.FieldTypeVarChar, MaxLen: maxVarCharLen},
		},
	})
}

// Upsert 批量写入记录。
func (s *MilvusStore) Upsert(ctx context.Context, records []*Record) error {
	if err := CheckRecords(s.config.Dimension, records); err != nil {
		return err
	}
	if len(records) == 0 {
		return nil
	}

	n := len(records)
	data := &milvus.UpsertData{
		IDs:        make([]string, n),
		Embeddings: make([][]float32, n),
		VarChars: map[string][]string{
			fieldContent:  make([]string, n),
			fieldMetadata: make([]string, n),
		},
		Int64s: map[string][]int64{
			fieldChunkIndex:  make([]int64, n),
			fieldTotalChunks: make([]int64, n),
		},
	}

	for i, r := range records {
		content, index, total, rest := splitReserved(r.Metadata)
		encoded, err := json.MarshalString(rest)
		if err != nil {
			return fmt.Errorf("milvus store: encode metadata of %s: %w", r.ID, err)
		}
		data.IDs[i] = r.ID
		data.Embeddings[i] = r.Values
		data.VarChars[fieldContent][i] = content
		data.VarChars[fieldMetadata][i] = encoded
		data.Int64s[fieldChunkIndex][i] = index
		data.Int64s[fieldTotalChunks][i] = total
	}

	return s.client.Upsert(ctx, s.config.Name, data)
}

// Query 执行余弦相似度搜索。
func (s *MilvusStore) Query(ctx context.Context, vector []float32, topK int) ([]*Match, error) {
	if err := CheckDimension(s.config.Dimension, vector); err != nil {
		return nil, err
	}
	if topK <= 0 {
		return []*Match{}, nil
	}

	hits, err := s.client.Search(ctx, s.config.Name, vector, topK, milvusOutputFields)
	if err != nil {
		return nil, fmt.Errorf("failed to search milvus: %w", err)
	}

	matches := make([]*Match, 0, len(hits))
	for _, h := range hits {
		meta := DecodeMetadata(h.Fields[fieldMetadata])
		if meta == nil {
			meta = make(map[string]any, 3)
		}
		if content, ok := h.Fields[fieldContent].(string); ok && content != "" {
			meta[fieldContent] = content
		}
		if v, ok := h.Fields[fieldChunkIndex]; ok {
			meta[fieldChunkIndex] = v
		}
		if v, ok := h.Fields[fieldTotalChunks]; ok {
			meta[fieldTotalChunks] = v
		}
		matches = append(matches, &Match{ID: h.ID, Score: h.Score, Metadata: meta})
	}
	return matches, nil
}

// Delete 按 ID 删除记录。
func (s *MilvusStore) Delete(ctx context.Context, ids []string) error {
	return s.client.DeleteByIDs(ctx, s.config.Name, ids)
}

// Stats 获取集合统计信息。
func (s *MilvusStore) Stats(ctx context.Context) (*Stats, error) {
	rows, err := s.client.RowCount(ctx, s.config.Name)
	if err != nil {
		return nil, err
	}
	return &Stats{
		Backend:    BackendMilvus,
		Collection: s.config.Name,
		Dimension:  s.config.Dimension,
		Records:    rows,
	}, nil
}

// Close 关闭 Milvus 连接。
func (s *MilvusStore) Close(ctx context.Context) error {
	return s.client.Close(ctx)
}

// splitReserved 将保留键从元数据中拆出，返回剩余部分的副本。
func splitReserved(meta map[string]any) (content string, index, total int64, rest map[string]any) {
	rest = make(map[string]any, len(meta))
	for k, v := range meta {
		switch k {
		case fieldContent:
			content, _ = v.(string)
		case fieldChunkIndex:
			index = toInt64(v)
		case fieldTotalChunks:
			total = toInt64(v)
		default:
			rest[k] = v
		}
	}
	return content, index, total, rest
}

func toInt64(v any) int64 {
	switch n := v.(type) {
	case int:
		return int64(n)
	case int32:
		return int64(n)
	case int64:
		return n
	case float64:
		return int64(n)
	case float32:
		return int64(n)
	default:
		return 0
	}
}

var _ VectorStore = (*MilvusStore)(nil)
