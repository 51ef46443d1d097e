// Package task provides options for asynchronous ingest tasks.
package task

import (
	"fmt"
	"time"

	"github.com/kart-io/medrag/pkg/options"
	"github.com/spf13/pflag"
)

var _ options.IOptions = (*Options)(nil)

// Options configures the ingest worker pool and finished task retention.
type Options struct {
	// Workers is the pool capacity.
	Workers int `json:"workers" mapstructure:"workers"`

	// MaxPending is the number of submissions allowed to wait for a worker.
	MaxPending int `json:"max-pending" mapstructure:"max-pending"`

	// Timeout bounds a single background ingest.
	Timeout time.Duration `json:"timeout" mapstructure:"timeout"`

	// Retention is how long finished tasks stay queryable.
	Retention time.Duration `json:"retention" mapstructure:"retention"`

	// PruneSchedule is the cron spec of the pruning job.
	PruneSchedule string `json:"prune-schedule" mapstructure:"prune-schedule"`
}

// NewOptions creates new Options with defaults.
func NewOptions() *Options {
	return &Options{
		Workers:       8,
		MaxPending:    256,
		Timeout:       5 * time.Minute,
		Retention:     time.Hour,
		PruneSchedule: "@every 5m",
	}
}

// AddFlags adds flags to the flagset.
func (o *Options) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	p := options.Join(prefixes...)
	fs.IntVar(&o.Workers, p+"task.workers", o.Workers, "Background ingest workers.")
	fs.IntVar(&o.MaxPending, p+"task.max-pending", o.MaxPending, "Submissions allowed to wait for a worker.")
	fs.DurationVar(&o.Timeout, p+"task.timeout", o.Timeout, "Timeout of one background ingest.")
	fs.DurationVar(&o.Retention, p+"task.retention", o.Retention, "How long finished tasks remain queryable.")
	fs.StringVar(&o.PruneSchedule, p+"task.prune-schedule", o.PruneSchedule, "Cron spec of the finished task pruning job.")
}

// Validate validates the options.
func (o *Options) Validate() []error {
	if o == nil {
		return nil
	}

	var errs []error
	if o.Workers <= 0 {
		errs = append(errs, fmt.Errorf("task.workers must be positive"))
	}
	if o.MaxPending < 0 {
		errs = append(errs, fmt.Errorf("task.max-pending must not be negative"))
	}
	if o.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("task.timeout must be positive"))
	}
	if o.Retention <= 0 {
		errs = append(errs, fmt.Errorf("task.retention must be positive"))
	}
	if o.PruneSchedule == "" {
		errs = append(errs, fmt.Errorf("task.prune-schedule is required"))
	}
	return errs
}
