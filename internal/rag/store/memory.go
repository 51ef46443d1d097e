package store

import (
	"context"
	"fmt"
	"math"
	"slices"
	"sync"

	"github.com/kart-io/medrag/pkg/utils/json"
)

// BackendMemory 进程内存储的后端名称。
const BackendMemory = "memory"

type memoryEntry struct {
	values   []float32
	metadata []byte
	seq      uint64
}

// MemoryStore 是进程内的余弦相似度存储，适合开发和测试。
// 元数据以 JSON 形式保存，写入与读取互不共享内存。
type MemoryStore struct {
	mu      sync.RWMutex
	config  CollectionConfig
	entries map[string]*memoryEntry
	seq     uint64
}

// NewMemoryStore 创建进程内存储。
func NewMemoryStore(config CollectionConfig) (*MemoryStore, error) {
	if config.Dimension <= 0 {
		return nil, fmt.Errorf("memory store: dimension must be positive, got %d", config.Dimension)
	}
	return &MemoryStore{
		config:  config,
		entries: make(map[string]*memoryEntry),
	}, nil
}

// CreateCollection 对进程内存储无操作。
func (s *MemoryStore) CreateCollection(context.Context) error { return nil }

// Upsert 写入或覆盖记录。任意一条记录维度不符时整批拒绝。
func (s *MemoryStore) Upsert(ctx context.Context, records []*Record) error {
	if err := CheckRecords(s.config.Dimension, records); err != nil {
		return err
	}

	encoded := make([][]byte, len(records))
	for i, r := range records {
		b, err := json.Marshal(r.Metadata)
		if err != nil {
			return fmt.Errorf("memory store: encode metadata of %s: %w", r.ID, err)
		}
		encoded[i] = b
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for i, r := range records {
		s.seq++
		s.entries[r.ID] = &memoryEntry{
			values:   slices.Clone(r.Values),
			metadata: encoded[i],
			seq:      s.seq,
		}
	}
	return nil
}

// Query 返回余弦相似度最高的 topK 条记录，同分时先写入者优先。
func (s *MemoryStore) Query(ctx context.Context, vector []float32, topK int) ([]*Match, error) {
	if err := CheckDimension(s.config.Dimension, vector); err != nil {
		return nil, err
	}
	if topK <= 0 {
		return []*Match{}, nil
	}

	type scored struct {
		id    string
		score float64
		entry *memoryEntry
	}

	s.mu.RLock()
	candidates := make([]scored, 0, len(s.entries))
	for id, e := range s.entries {
		candidates = append(candidates, scored{id: id, score: cosine(vector, e.values), entry: e})
	}
	s.mu.RUnlock()

	slices.SortFunc(candidates, func(a, b scored) int {
		switch {
		case a.score > b.score:
			return -1
		case a.score < b.score:
			return 1
		case a.entry.seq < b.entry.seq:
			return -1
		case a.entry.seq > b.entry.seq:
			return 1
		}
		return 0
	})

	n := min(topK, len(candidates))
	matches := make([]*Match, 0, n)
	for _, c := range candidates[:n] {
		matches = append(matches, &Match{
			ID:       c.id,
			Score:    float32(c.score),
			Metadata: DecodeMetadata(c.entry.metadata),
		})
	}
	return matches, nil
}

// Delete 删除记录。
func (s *MemoryStore) Delete(ctx context.Context, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		delete(s.entries, id)
	}
	return nil
}

// Stats 返回记录数。
func (s *MemoryStore) Stats(context.Context) (*Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return &Stats{
		Backend:    BackendMemory,
		Collection: s.config.Name,
		Dimension:  s.config.Dimension,
		Records:    int64(len(s.entries)),
	}, nil
}

// Close 对进程内存储无操作。
func (s *MemoryStore) Close(context.Context) error { return nil }

// cosine 计算余弦相似度，任一向量为零向量时返回 0。
func cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

var _ VectorStore = (*MemoryStore)(nil)
