// Package rag provides RAG pipeline configuration options.
package rag

import (
	"fmt"
	"time"

	"github.com/kart-io/medrag/pkg/options"
	"github.com/spf13/pflag"
)

var _ options.IOptions = (*Options)(nil)

// DefaultSystemPrompt constrains generation to the retrieved medical records.
const DefaultSystemPrompt = "You are an advanced medical RAG assistant. You must strictly use the provided context for every answer. " +
	"If the answer is not found in the context, say 'I could not find this information in the patient's medical records.'"

// Options contains RAG pipeline configuration.
type Options struct {
	ChunkSize    int `json:"chunk-size" mapstructure:"chunk-size"`
	ChunkOverlap int `json:"chunk-overlap" mapstructure:"chunk-overlap"`

	// TopK is used when a query does not specify one.
	TopK int `json:"top-k" mapstructure:"top-k"`
	// MaxTopK caps caller supplied values.
	MaxTopK int `json:"max-top-k" mapstructure:"max-top-k"`

	// EmbedBatchSize is the number of chunks sent per embedding request.
	EmbedBatchSize int `json:"embed-batch-size" mapstructure:"embed-batch-size"`

	SystemPrompt string  `json:"system-prompt" mapstructure:"system-prompt"`
	Temperature  float64 `json:"temperature" mapstructure:"temperature"`
	MaxTokens    int     `json:"max-tokens" mapstructure:"max-tokens"`

	// Attribution prefixes each context segment with patient/date details.
	Attribution bool `json:"attribution" mapstructure:"attribution"`

	// WebhookRows bounds how many webhook rows keep their chunk ids for
	// later UPDATE and DELETE events.
	WebhookRows   int           `json:"webhook-rows" mapstructure:"webhook-rows"`
	WebhookRowTTL time.Duration `json:"webhook-row-ttl" mapstructure:"webhook-row-ttl"`
}

// NewOptions creates new Options with defaults.
func NewOptions() *Options {
	return &Options{
		ChunkSize:      1000,
		ChunkOverlap:   100,
		TopK:           3,
		MaxTopK:        20,
		EmbedBatchSize: 16,
		SystemPrompt:   DefaultSystemPrompt,
		Temperature:    0.7,
		MaxTokens:      1024,
		Attribution:    true,
		WebhookRows:    10000,
	}
}

// AddFlags adds flags for RAG options to the specified FlagSet.
func (o *Options) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	p := options.Join(prefixes...)
	fs.IntVar(&o.ChunkSize, p+"rag.chunk-size", o.ChunkSize, "Size of text chunks in characters.")
	fs.IntVar(&o.ChunkOverlap, p+"rag.chunk-overlap", o.ChunkOverlap, "Overlap between consecutive chunks.")
	fs.IntVar(&o.TopK, p+"rag.top-k", o.TopK, "Default number of chunks retrieved per query.")
	fs.IntVar(&o.MaxTopK, p+"rag.max-top-k", o.MaxTopK, "Upper bound for caller supplied top_k.")
	fs.IntVar(&o.EmbedBatchSize, p+"rag.embed-batch-size", o.EmbedBatchSize, "Chunks per embedding request.")
	fs.StringVar(&o.SystemPrompt, p+"rag.system-prompt", o.SystemPrompt, "System instruction for generation.")
	fs.Float64Var(&o.Temperature, p+"rag.temperature", o.Temperature, "Generation temperature.")
	fs.IntVar(&o.MaxTokens, p+"rag.max-tokens", o.MaxTokens, "Maximum generated tokens.")
	fs.BoolVar(&o.Attribution, p+"rag.attribution", o.Attribution, "Prefix context segments with patient attribution.")
	fs.IntVar(&o.WebhookRows, p+"rag.webhook-rows", o.WebhookRows, "Maximum webhook rows whose chunk ids are remembered.")
	fs.DurationVar(&o.WebhookRowTTL, p+"rag.webhook-row-ttl", o.WebhookRowTTL, "Expiry of remembered webhook rows, 0 keeps them until evicted.")
}

// Validate validates the RAG options.
func (o *Options) Validate() []error {
	if o == nil {
		return nil
	}

	var errs []error
	if o.ChunkSize <= 0 {
		errs = append(errs, fmt.Errorf("rag.chunk-size must be positive"))
	}
	if o.ChunkOverlap < 0 {
		errs = append(errs, fmt.Errorf("rag.chunk-overlap must not be negative"))
	}
	if o.TopK <= 0 {
		errs = append(errs, fmt.Errorf("rag.top-k must be positive"))
	}
	if o.MaxTopK < o.TopK {
		errs = append(errs, fmt.Errorf("rag.max-top-k must be >= rag.top-k"))
	}
	if o.EmbedBatchSize <= 0 {
		errs = append(errs, fmt.Errorf("rag.embed-batch-size must be positive"))
	}
	if o.Temperature < 0 || o.Temperature > 2 {
		errs = append(errs, fmt.Errorf("rag.temperature must be within [0, 2]"))
	}
	if o.MaxTokens <= 0 {
		errs = append(errs, fmt.Errorf("rag.max-tokens must be positive"))
	}
	if o.WebhookRows <= 0 {
		errs = append(errs, fmt.Errorf("rag.webhook-rows must be positive"))
	}
	if o.WebhookRowTTL < 0 {
		errs = append(errs, fmt.Errorf("rag.webhook-row-ttl must not be negative"))
	}
	return errs
}

// Complete completes the RAG options with defaults.
func (o *Options) Complete() error {
	if o.SystemPrompt == "" {
		o.SystemPrompt = DefaultSystemPrompt
	}
	if o.MaxTopK == 0 {
		o.MaxTopK = max(o.TopK, 20)
	}
	return nil
}
