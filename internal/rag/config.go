// Package ragsvc wires the medrag service: vector store, model providers,
// caches, the ingest pool and the HTTP API.
package ragsvc

import (
	"time"

	cacheopts "github.com/kart-io/medrag/pkg/options/cache"
	llmopts "github.com/kart-io/medrag/pkg/options/llm"
	logopts "github.com/kart-io/medrag/pkg/options/logger"
	milvusopts "github.com/kart-io/medrag/pkg/options/milvus"
	pgopts "github.com/kart-io/medrag/pkg/options/postgres"
	ragopts "github.com/kart-io/medrag/pkg/options/rag"
	httpopts "github.com/kart-io/medrag/pkg/options/server/http"
	storeopts "github.com/kart-io/medrag/pkg/options/store"
	taskopts "github.com/kart-io/medrag/pkg/options/task"
	tracingopts "github.com/kart-io/medrag/pkg/options/tracing"
)

// Name is the name of the application.
const Name = "medrag"

// Config contains application-related configurations.
type Config struct {
	HTTPOptions      *httpopts.Options
	LogOptions       *logopts.Options
	TracingOptions   *tracingopts.Options
	StoreOptions     *storeopts.Options
	MilvusOptions    *milvusopts.Options
	PostgresOptions  *pgopts.Options
	EmbeddingOptions *llmopts.ProviderOptions
	ChatOptions      *llmopts.ProviderOptions
	RAGOptions       *ragopts.Options
	CacheOptions     *cacheopts.Options
	TaskOptions      *taskopts.Options
	ShutdownTimeout  time.Duration
}
