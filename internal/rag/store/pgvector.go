package store

import (
	"context"
	"fmt"
	"regexp"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"

	"github.com/kart-io/medrag/pkg/utils/json"
)

// BackendPGVector PostgreSQL pgvector 存储的后端名称。
const BackendPGVector = "pgvector"

// pgvector 的 HNSW/IVFFlat 索引最多支持 2000 维，超出时退化为精确扫描。
const maxIndexedDimension = 2000

var tableNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,62}$`)

// PGVectorStore 实现基于 PostgreSQL pgvector 扩展的向量存储。
// 元数据整体以 JSONB 保存，包括 content 等保留键。
type PGVectorStore struct {
	db     *sqlx.DB
	config CollectionConfig
	table  string
}

type pgMatch struct {
	ID       string  `db:"id"`
	Score    float64 `db:"score"`
	Metadata string  `db:"metadata"`
}

// NewPGVectorStore 创建 pgvector 存储，表名取自集合名。
func NewPGVectorStore(db *sqlx.DB, config CollectionConfig) (*PGVectorStore, error) {
	if !tableNamePattern.MatchString(config.Name) {
		return nil, fmt.Errorf("pgvector store: invalid table name %q", config.Name)
	}
	if config.Dimension <= 0 {
		return nil, fmt.Errorf("pgvector store: dimension must be positive, got %d", config.Dimension)
	}
	return &PGVectorStore{
		db:     db,
		config: config,
		table:  pq.QuoteIdentifier(config.Name),
	}, nil
}

// CreateCollection 创建扩展、表与余弦索引。
func (s *PGVectorStore) CreateCollection(ctx context.Context) error {
	for _, stmt := range s.schemaStatements() {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("pgvector store: apply schema: %w", err)
		}
	}
	return nil
}

func (s *PGVectorStore) schemaStatements() []string {
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			embedding vector(%d) NOT NULL,
			metadata JSONB NOT NULL DEFAULT '{}'::jsonb,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`, s.table, s.config.Dimension),
	}
	if s.config.Dimension <= maxIndexedDimension {
		stmts = append(stmts, fmt.Sprintf(
			`CREATE INDEX IF NOT EXISTS %s ON %s USING hnsw (embedding vector_cosine_ops)`,
			pq.QuoteIdentifier(s.config.Name+"_embedding_idx"), s.table))
	}
	return stmts
}

// Upsert 在一个事务内写入整批记录。
func (s *PGVectorStore) Upsert(ctx context.Context, records []*Record) error {
	if err := CheckRecords(s.config.Dimension, records); err != nil {
		return err
	}
	if len(records) == 0 {
		return nil
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("pgvector store: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PreparexContext(ctx, fmt.Sprintf(`
		INSERT INTO %s (id, embedding, metadata, updated_at)
		VALUES ($1, $2, $3::jsonb, now())
		ON CONFLICT (id) DO UPDATE SET
			embedding = EXCLUDED.embedding,
			metadata = EXCLUDED.metadata,
			updated_at = EXCLUDED.updated_at`, s.table))
	if err != nil {
		return fmt.Errorf("pgvector store: prepare upsert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, r := range records {
		meta, err := json.MarshalString(r.Metadata)
		if err != nil {
			return fmt.Errorf("pgvector store: encode metadata of %s: %w", r.ID, err)
		}
		if _, err := stmt.ExecContext(ctx, r.ID, pgvector.NewVector(r.Values), meta); err != nil {
			return fmt.Errorf("pgvector store: upsert %s: %w", r.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("pgvector store: commit: %w", err)
	}
	return nil
}

// Query 按余弦距离升序返回，分数为 1 - 距离。
func (s *PGVectorStore) Query(ctx context.Context, vector []float32, topK int) ([]*Match, error) {
	if err := CheckDimension(s.config.Dimension, vector); err != nil {
		return nil, err
	}
	if topK <= 0 {
		return []*Match{}, nil
	}

	var rows []pgMatch
	query := fmt.Sprintf(`
		SELECT id, 1 - (embedding <=> $1) AS score, metadata::text AS metadata
		FROM %s
		ORDER BY embedding <=> $1
		LIMIT $2`, s.table)
	if err := s.db.SelectContext(ctx, &rows, query, pgvector.NewVector(vector), topK); err != nil {
		return nil, fmt.Errorf("pgvector store: query: %w", err)
	}

	matches := make([]*Match, 0, len(rows))
	for _, r := range rows {
		matches = append(matches, &Match{
			ID:       r.ID,
			Score:    float32(r.Score),
			Metadata: DecodeMetadata(r.Metadata),
		})
	}
	return matches, nil
}

// Delete 按 ID 删除记录。
func (s *PGVectorStore) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	query, args, err := sqlx.In(fmt.Sprintf(`DELETE FROM %s WHERE id IN (?)`, s.table), ids)
	if err != nil {
		return fmt.Errorf("pgvector store: build delete: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, s.db.Rebind(query), args...); err != nil {
		return fmt.Errorf("pgvector store: delete: %w", err)
	}
	return nil
}

// Stats 返回表内记录数。
func (s *PGVectorStore) Stats(ctx context.Context) (*Stats, error) {
	var count int64
	if err := s.db.GetContext(ctx, &count, fmt.Sprintf(`SELECT count(*) FROM %s`, s.table)); err != nil {
		return nil, fmt.Errorf("pgvector store: count: %w", err)
	}
	return &Stats{
		Backend:    BackendPGVector,
		Collection: s.config.Name,
		Dimension:  s.config.Dimension,
		Records:    count,
	}, nil
}

// Close 关闭连接池。
func (s *PGVectorStore) Close(context.Context) error {
	return s.db.Close()
}

var _ VectorStore = (*PGVectorStore)(nil)
