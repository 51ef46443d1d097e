// Package store provides vector store selection options.
package store

import (
	"fmt"
	"slices"

	"github.com/kart-io/medrag/pkg/options"
	"github.com/spf13/pflag"
)

var _ options.IOptions = (*Options)(nil)

// Supported backends.
const (
	BackendMemory   = "memory"
	BackendMilvus   = "milvus"
	BackendPGVector = "pgvector"
)

// Options selects and sizes the vector store.
type Options struct {
	// Backend is one of memory, milvus or pgvector.
	Backend string `json:"backend" mapstructure:"backend"`

	// Collection is the Milvus collection or Postgres table name.
	Collection string `json:"collection" mapstructure:"collection"`

	// Dimension must match the embedding model output.
	Dimension int `json:"dimension" mapstructure:"dimension"`
}

// NewOptions creates new Options with defaults.
func NewOptions() *Options {
	return &Options{
		Backend:    BackendMilvus,
		Collection: "medical_assistant_index",
		Dimension:  4096,
	}
}

// AddFlags adds flags to the flagset.
func (o *Options) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	p := options.Join(prefixes...)
	fs.StringVar(&o.Backend, p+"store.backend", o.Backend, "Vector store backend (memory, milvus, pgvector).")
	fs.StringVar(&o.Collection, p+"store.collection", o.Collection, "Collection or table holding the vectors.")
	fs.IntVar(&o.Dimension, p+"store.dimension", o.Dimension, "Embedding dimension enforced by the store.")
}

// Validate validates the options.
func (o *Options) Validate() []error {
	if o == nil {
		return nil
	}

	var errs []error
	if !slices.Contains([]string{BackendMemory, BackendMilvus, BackendPGVector}, o.Backend) {
		errs = append(errs, fmt.Errorf("store.backend %q is not supported", o.Backend))
	}
	if o.Collection == "" {
		errs = append(errs, fmt.Errorf("store.collection is required"))
	}
	if o.Dimension <= 0 {
		errs = append(errs, fmt.Errorf("store.dimension must be positive"))
	}
	return errs
}
