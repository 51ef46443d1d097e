package server

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/kart-io/logger"
)

// DefaultShutdownTimeout bounds Stop when Run receives a shutdown signal.
const DefaultShutdownTimeout = 30 * time.Second

// Manager starts Runnables in registration order and stops them in reverse.
type Manager struct {
	shutdownTimeout time.Duration
	servers         []Runnable
	running         []Runnable
	mu              sync.Mutex
	started         bool
}

// NewManager creates a new server manager.
func NewManager(shutdownTimeout time.Duration) *Manager {
	if shutdownTimeout <= 0 {
		shutdownTimeout = DefaultShutdownTimeout
	}
	return &Manager{shutdownTimeout: shutdownTimeout}
}

// AddServer adds a server to the manager. Servers added after Start are ignored.
func (m *Manager) AddServer(servers ...Runnable) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range servers {
		if s != nil {
			m.servers = append(m.servers, s)
		}
	}
}

// Start starts all servers. When one fails, the ones already started are stopped.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		return fmt.Errorf("server manager already started")
	}
	m.started = true

	for _, s := range m.servers {
		if err := s.Start(ctx); err != nil {
			_ = m.stopLocked(ctx)
			return fmt.Errorf("failed to start server %s: %w", s.Name(), err)
		}
		m.running = append(m.running, s)
		logger.Infow("Server started", "name", s.Name())
	}
	return nil
}

// Stop stops all running servers gracefully, last started first.
func (m *Manager) Stop(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.started {
		return nil
	}
	return m.stopLocked(ctx)
}

func (m *Manager) stopLocked(ctx context.Context) error {
	var errs []error
	for i := len(m.running) - 1; i >= 0; i-- {
		s := m.running[i]
		if err := s.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop server %s: %w", s.Name(), err))
			continue
		}
		logger.Infow("Server stopped", "name", s.Name())
	}
	m.running = nil
	return errors.Join(errs...)
}

// Run starts all servers and blocks until ctx is done or SIGINT/SIGTERM
// arrives, then shuts down within the configured timeout.
func (m *Manager) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := m.Start(ctx); err != nil {
		return err
	}

	<-ctx.Done()
	logger.Info("Server shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.shutdownTimeout)
	defer cancel()
	return m.Stop(shutdownCtx)
}
