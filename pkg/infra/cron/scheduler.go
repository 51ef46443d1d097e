// Package cron runs periodic maintenance jobs on a robfig/cron scheduler.
package cron

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kart-io/logger"
	"github.com/robfig/cron/v3"
)

// Job is a named unit of periodic work.
type Job interface {
	Name() string
	Run(ctx context.Context) error
}

// FuncJob adapts a function to Job.
type FuncJob struct {
	JobName string
	Fn      func(ctx context.Context) error
}

// Name returns the job name.
func (f FuncJob) Name() string { return f.JobName }

// Run calls Fn.
func (f FuncJob) Run(ctx context.Context) error { return f.Fn(ctx) }

// Scheduler wraps cron.Cron. A job never overlaps with itself; a tick that
// fires while the previous run is still going is skipped.
type Scheduler struct {
	cron    *cron.Cron
	mu      sync.Mutex
	entries map[string]cron.EntryID
	ctx     context.Context
	cancel  context.CancelFunc
}

// NewScheduler creates a scheduler accepting five-field specs and
// descriptors such as "@every 5m".
func NewScheduler() *Scheduler {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron:    cron.New(cron.WithParser(parser)),
		entries: make(map[string]cron.EntryID),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// AddJob schedules job on spec. Job names must be unique.
func (s *Scheduler) AddJob(job Job, spec string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	name := job.Name()
	if _, ok := s.entries[name]; ok {
		return fmt.Errorf("cron job %s already scheduled", name)
	}
	id, err := s.cron.AddFunc(spec, s.wrap(job, spec))
	if err != nil {
		logger.Errorw("Schedule job failed", "job", name, "spec", spec, "error", err.Error())
		return fmt.Errorf("schedule job %s: %w", name, err)
	}
	s.entries[name] = id
	logger.Infow("Job scheduled", "job", name, "spec", spec)
	return nil
}

// Jobs returns the names of the scheduled jobs.
func (s *Scheduler) Jobs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.entries))
	for name := range s.entries {
		names = append(names, name)
	}
	return names
}

// Name implements server.Runnable.
func (s *Scheduler) Name() string { return "cron" }

// Start starts the scheduler in the background.
func (s *Scheduler) Start(context.Context) error {
	s.cron.Start()
	return nil
}

// Stop cancels running jobs' context and waits for them until ctx is done.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.cancel()
	done := s.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) wrap(job Job, spec string) func() {
	var running atomic.Bool
	return func() {
		if !running.CompareAndSwap(false, true) {
			logger.Infow("Job skipped: still running", "job", job.Name(), "spec", spec)
			return
		}
		defer running.Store(false)

		start := time.Now()
		err := job.Run(s.ctx)
		elapsed := time.Since(start)
		if err != nil {
			logger.Errorw("Job failed", "job", job.Name(), "duration", elapsed.String(), "error", err.Error())
			return
		}
		logger.Debugw("Job finished", "job", job.Name(), "duration", elapsed.String())
	}
}
