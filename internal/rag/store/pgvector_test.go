package store

import (
	"strings"
	"testing"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPGVectorStore_TableName(t *testing.T) {
	tests := []struct {
		name    string
		table   string
		wantErr bool
	}{
		{"合法表名", "medical_assistant_index", false},
		{"短横线", "medical-assistant-index", true},
		{"注入", "notes; DROP TABLE x", true},
		{"数字开头", "1notes", true},
		{"空", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewPGVectorStore(&sqlx.DB{}, CollectionConfig{Name: tt.table, Dimension: 8})
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestPGVectorStore_SchemaStatements(t *testing.T) {
	small, err := NewPGVectorStore(&sqlx.DB{}, CollectionConfig{Name: "notes", Dimension: 768})
	require.NoError(t, err)
	stmts := small.schemaStatements()
	require.Len(t, stmts, 3)
	assert.Contains(t, stmts[1], `"notes"`)
	assert.Contains(t, stmts[1], "vector(768)")
	assert.Contains(t, stmts[2], "vector_cosine_ops")

	large, err := NewPGVectorStore(&sqlx.DB{}, CollectionConfig{Name: "notes", Dimension: 4096})
	require.NoError(t, err)
	stmts = large.schemaStatements()
	require.Len(t, stmts, 2, "dimensions above the index limit use exact scans")
	assert.True(t, strings.Contains(stmts[1], "vector(4096)"))
}
