package options

import (
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	storeopts "github.com/kart-io/medrag/pkg/options/store"
)

func validOptions(t *testing.T) *ServerOptions {
	t.Helper()
	o := NewServerOptions()
	o.EmbeddingOptions.APIKey = "emb-key"
	o.ChatOptions.APIKey = "chat-key"
	require.NoError(t, o.Complete())
	return o
}

func TestFlagsCoverSections(t *testing.T) {
	fss := NewServerOptions().Flags()
	assert.Equal(t, []string{
		"http", "log", "tracing", "store", "milvus", "postgres",
		"embedding", "chat", "rag", "cache", "task", "misc",
	}, fss.Order)

	names := map[string]bool{}
	for _, fs := range fss.FlagSets {
		fs.VisitAll(func(f *pflag.Flag) { names[f.Name] = true })
	}
	for _, want := range []string{
		"http.addr", "log.level", "tracing.enabled", "store.backend",
		"milvus.address", "postgres.dsn", "embedding.api-key", "chat.model",
		"rag.chunk-size", "cache.redis.host", "task.workers", "shutdown-timeout",
	} {
		assert.True(t, names[want], "missing flag %s", want)
	}
}

func TestCompleteReadsAPIKeyFromEnv(t *testing.T) {
	t.Setenv("SAMBANOVA_API_KEY", "from-env")
	o := NewServerOptions()
	require.NoError(t, o.Complete())
	assert.Equal(t, "from-env", o.EmbeddingOptions.APIKey)
	assert.Equal(t, "from-env", o.ChatOptions.APIKey)
	assert.NoError(t, o.Validate())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(o *ServerOptions)
		wantErr string
	}{
		{name: "默认配置", mutate: func(o *ServerOptions) {}},
		{
			name:    "缺少 API key",
			mutate:  func(o *ServerOptions) { o.ChatOptions.APIKey = "" },
			wantErr: "chat.api-key is required",
		},
		{
			name: "pgvector 后端校验 postgres",
			mutate: func(o *ServerOptions) {
				o.StoreOptions.Backend = storeopts.BackendPGVector
				o.PostgresOptions.Host = ""
			},
			wantErr: "postgres.host is required",
		},
		{
			name: "memory 后端忽略 milvus",
			mutate: func(o *ServerOptions) {
				o.StoreOptions.Backend = storeopts.BackendMemory
				o.MilvusOptions.Address = ""
			},
		},
		{
			name:    "未知后端",
			mutate:  func(o *ServerOptions) { o.StoreOptions.Backend = "sqlite" },
			wantErr: "store.backend",
		},
		{
			name:    "webhook 行数非法",
			mutate:  func(o *ServerOptions) { o.RAGOptions.WebhookRows = 0 },
			wantErr: "rag.webhook-rows must be positive",
		},
		{
			name:    "关闭超时非法",
			mutate:  func(o *ServerOptions) { o.ShutdownTimeout = 0 },
			wantErr: "shutdown-timeout must be positive",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("SAMBANOVA_API_KEY", "")
			o := validOptions(t)
			tt.mutate(o)
			err := o.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestConfig(t *testing.T) {
	o := validOptions(t)
	cfg, err := o.Config()
	require.NoError(t, err)
	assert.Same(t, o.HTTPOptions, cfg.HTTPOptions)
	assert.Same(t, o.StoreOptions, cfg.StoreOptions)
	assert.Same(t, o.TaskOptions, cfg.TaskOptions)
	assert.Equal(t, o.ShutdownTimeout, cfg.ShutdownTimeout)
}
