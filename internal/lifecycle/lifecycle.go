package lifecycle

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// Runner is a long-lived background task that returns when ctx is done.
type Runner interface {
	Run(ctx context.Context) error
}

// Manager owns one background Runner for the lifetime of the server.
type Manager struct {
	runner Runner
	logger *zap.Logger

	shuttingDown atomic.Bool

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewManager returns a Manager for runner. Nothing runs until Start.
func NewManager(runner Runner, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{runner: runner, logger: logger}
}

// Start spawns the runner in its own goroutine. Call before the server starts accepting
// connections. Calling Start again while running is a no-op.
func (m *Manager) Start(parent context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.done != nil {
		return
	}

	ctx, cancel := context.WithCancel(parent)
	done := make(chan struct{})
	m.cancel = cancel
	m.done = done

	go func() {
		defer close(done)
		err := m.runner.Run(ctx)
		switch {
		case err != nil && !errors.Is(err, context.Canceled):
			m.logger.Error("background task stopped", zap.Error(err))
		case !m.isShuttingDown():
			m.logger.Error("background task exited before shutdown")
		default:
			m.logger.Info("background task stopped")
		}
	}()
}

// Stop marks the process as shutting down, cancels the runner and waits for it to return
// or for ctx to expire.
func (m *Manager) Stop(ctx context.Context) error {
	m.shuttingDown.Store(true)

	m.mu.Lock()
	cancel, done := m.cancel, m.done
	m.mu.Unlock()
	if done == nil {
		return nil
	}

	cancel()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done is closed once the runner has returned, whether from Stop or on its own. Nil before Start.
func (m *Manager) Done() <-chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.done
}

// isShuttingDown reports whether Stop has been called.
func (m *Manager) isShuttingDown() bool {
	return m.shuttingDown.Load()
}
