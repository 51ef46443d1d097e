// Package options contains flags and options for initializing the medrag server.
package options

import (
	"fmt"
	"time"

	utilerrors "k8s.io/apimachinery/pkg/util/errors"

	ragsvc "github.com/kart-io/medrag/internal/rag"
	"github.com/kart-io/medrag/pkg/infra/app"
	"github.com/kart-io/medrag/pkg/infra/server"
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

var _ app.CliOptions = (*ServerOptions)(nil)

// ServerOptions contains the configuration options for the server.
type ServerOptions struct {
	// HTTPOptions contains HTTP server configuration.
	HTTPOptions *httpopts.Options `json:"http" mapstructure:"http"`

	// LogOptions contains logger configuration.
	LogOptions *logopts.Options `json:"log" mapstructure:"log"`

	// TracingOptions contains OpenTelemetry configuration.
	TracingOptions *tracingopts.Options `json:"tracing" mapstructure:"tracing"`

	// StoreOptions selects the vector store backend.
	StoreOptions *storeopts.Options `json:"store" mapstructure:"store"`

	// MilvusOptions is used by the milvus backend.
	MilvusOptions *milvusopts.Options `json:"milvus" mapstructure:"milvus"`

	// PostgresOptions is used by the pgvector backend.
	PostgresOptions *pgopts.Options `json:"postgres" mapstructure:"postgres"`

	// EmbeddingOptions contains embedding provider configuration.
	EmbeddingOptions *llmopts.ProviderOptions `json:"embedding" mapstructure:"embedding"`

	// ChatOptions contains chat provider configuration.
	ChatOptions *llmopts.ProviderOptions `json:"chat" mapstructure:"chat"`

	// RAGOptions contains chunking, retrieval and generation configuration.
	RAGOptions *ragopts.Options `json:"rag" mapstructure:"rag"`

	// CacheOptions contains query and embedding cache configuration.
	CacheOptions *cacheopts.Options `json:"cache" mapstructure:"cache"`

	// TaskOptions configures asynchronous ingestion.
	TaskOptions *taskopts.Options `json:"task" mapstructure:"task"`

	// ShutdownTimeout is the timeout for graceful shutdown.
	ShutdownTimeout time.Duration `json:"shutdown-timeout" mapstructure:"shutdown-timeout"`
}

// NewServerOptions creates a ServerOptions instance with default values.
func NewServerOptions() *ServerOptions {
	return &ServerOptions{
		HTTPOptions:      httpopts.NewOptions(),
		LogOptions:       logopts.NewOptions(),
		TracingOptions:   tracingopts.NewOptions(),
		StoreOptions:     storeopts.NewOptions(),
		MilvusOptions:    milvusopts.NewOptions(),
		PostgresOptions:  pgopts.NewOptions(),
		EmbeddingOptions: llmopts.NewEmbeddingOptions(),
		ChatOptions:      llmopts.NewChatOptions(),
		RAGOptions:       ragopts.NewOptions(),
		CacheOptions:     cacheopts.NewOptions(),
		TaskOptions:      taskopts.NewOptions(),
		ShutdownTimeout:  server.DefaultShutdownTimeout,
	}
}

// Flags returns flags for a specific server by section name.
func (o *ServerOptions) Flags() (fss app.NamedFlagSets) {
	o.HTTPOptions.AddFlags(fss.FlagSet("http"))
	o.LogOptions.AddFlags(fss.FlagSet("log"))
	o.TracingOptions.AddFlags(fss.FlagSet("tracing"))
	o.StoreOptions.AddFlags(fss.FlagSet("store"))
	o.MilvusOptions.AddFlags(fss.FlagSet("milvus"))
	o.PostgresOptions.AddFlags(fss.FlagSet("postgres"))
	o.EmbeddingOptions.AddFlags(fss.FlagSet("embedding"), "embedding")
	o.ChatOptions.AddFlags(fss.FlagSet("chat"), "chat")
	o.RAGOptions.AddFlags(fss.FlagSet("rag"))
	o.CacheOptions.AddFlags(fss.FlagSet("cache"))
	o.TaskOptions.AddFlags(fss.FlagSet("task"))

	fs := fss.FlagSet("misc")
	fs.DurationVar(&o.ShutdownTimeout, "shutdown-timeout", o.ShutdownTimeout, "Graceful shutdown timeout")

	return fss
}

// Complete completes all the required options.
func (o *ServerOptions) Complete() error {
	if err := o.EmbeddingOptions.Complete(); err != nil {
		return fmt.Errorf("embedding: %w", err)
	}
	if err := o.ChatOptions.Complete(); err != nil {
		return fmt.Errorf("chat: %w", err)
	}
	if err := o.RAGOptions.Complete(); err != nil {
		return fmt.Errorf("rag: %w", err)
	}
	if err := o.CacheOptions.Complete(); err != nil {
		return fmt.Errorf("cache: %w", err)
	}
	if err := o.PostgresOptions.Complete(); err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	return nil
}

// Validate checks whether the options in ServerOptions are valid. Backend
// options are only checked for the selected store.
func (o *ServerOptions) Validate() error {
	errs := []error{}

	errs = append(errs, o.HTTPOptions.Validate()...)
	if err := o.LogOptions.Validate(); err != nil {
		errs = append(errs, err)
	}
	errs = append(errs, o.TracingOptions.Validate()...)
	errs = append(errs, o.StoreOptions.Validate()...)
	switch o.StoreOptions.Backend {
	case storeopts.BackendMilvus:
		errs = append(errs, o.MilvusOptions.Validate()...)
	case storeopts.BackendPGVector:
		errs = append(errs, o.PostgresOptions.Validate()...)
	}
	errs = append(errs, prefixed("embedding", o.EmbeddingOptions.Validate())...)
	errs = append(errs, prefixed("chat", o.ChatOptions.Validate())...)
	errs = append(errs, o.RAGOptions.Validate()...)
	errs = append(errs, o.CacheOptions.Validate()...)
	errs = append(errs, o.TaskOptions.Validate()...)
	if o.ShutdownTimeout <= 0 {
		errs = append(errs, fmt.Errorf("shutdown-timeout must be positive"))
	}

	return utilerrors.NewAggregate(errs)
}

func prefixed(section string, errs []error) []error {
	for i, err := range errs {
		errs[i] = fmt.Errorf("%s.%w", section, err)
	}
	return errs
}

// Config builds a ragsvc.Config based on ServerOptions.
func (o *ServerOptions) Config() (*ragsvc.Config, error) {
	return &ragsvc.Config{
		HTTPOptions:      o.HTTPOptions,
		LogOptions:       o.LogOptions,
		TracingOptions:   o.TracingOptions,
		StoreOptions:     o.StoreOptions,
		MilvusOptions:    o.MilvusOptions,
		PostgresOptions:  o.PostgresOptions,
		EmbeddingOptions: o.EmbeddingOptions,
		ChatOptions:      o.ChatOptions,
		RAGOptions:       o.RAGOptions,
		CacheOptions:     o.CacheOptions,
		TaskOptions:      o.TaskOptions,
		ShutdownTimeout:  o.ShutdownTimeout,
	}, nil
}
