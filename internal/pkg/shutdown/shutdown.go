// Package shutdown coordinates ordered teardown for the montage binaries.
package shutdown

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"montage/internal/pkg/logger"
)

const defaultTimeout = 30 * time.Second

type hook struct {
	name string
	fn   func(ctx context.Context) error
}

// Manager collects named teardown hooks and runs them in reverse
// registration order once a signal arrives. Register dependencies before
// their dependents: the HTTP server drains before the pools under it close.
type Manager struct {
	log     *logger.Logger
	timeout time.Duration

	mu    sync.Mutex
	hooks []hook

	once sync.Once
	done chan struct{}
}

// NewManager builds a Manager. A zero timeout means 30 seconds.
func NewManager(log *logger.Logger, timeout time.Duration) *Manager {
	if timeout == 0 {
		timeout = defaultTimeout
	}
	return &Manager{
		log:     log,
		timeout: timeout,
		done:    make(chan struct{}),
	}
}

// Register adds a teardown hook. Hooks run newest first during Shutdown.
func (m *Manager) Register(name string, fn func(ctx context.Context) error) {
	m.mu.Lock()
	m.hooks = append(m.hooks, hook{name: name, fn: fn})
	m.mu.Unlock()
	m.log.Debug("registered teardown hook", "name", name)
}

// RegisterSimple adapts a context-free close function.
func (m *Manager) RegisterSimple(name string, fn func()) {
	m.Register(name, func(context.Context) error {
		fn()
		return nil
	})
}

// Wait blocks until SIGINT, SIGTERM or SIGHUP, then runs Shutdown.
func (m *Manager) Wait() {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	sig := <-sigs
	m.log.Info("shutdown signal received", "signal", sig.String())

	m.Shutdown()
}

// Shutdown runs the hooks once, in reverse registration order, under the
// manager's timeout. It returns when every hook has finished or the
// deadline passes, whichever comes first. Safe to call more than once.
func (m *Manager) Shutdown() {
	m.once.Do(m.run)
}

// Done closes after the first Shutdown finishes or times out.
func (m *Manager) Done() <-chan struct{} {
	return m.done
}

func (m *Manager) run() {
	defer close(m.done)

	m.mu.Lock()
	hooks := make([]hook, len(m.hooks))
	copy(hooks, m.hooks)
	m.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()

	m.log.Info("shutting down", "hooks", len(hooks), "timeout", m.timeout.String())

	finished := make(chan struct{})
	go func() {
		defer close(finished)
		for i := len(hooks) - 1; i >= 0; i-- {
			h := hooks[i]
			start := time.Now()
			if err := h.fn(ctx); err != nil {
				m.log.Error("teardown hook failed",
					"name", h.name,
					"error", err.Error(),
					"duration_ms", time.Since(start).Milliseconds(),
				)
				continue
			}
			m.log.Debug("teardown hook finished",
				"name", h.name,
				"duration_ms", time.Since(start).Milliseconds(),
			)
		}
	}()

	select {
	case <-finished:
		m.log.Info("shutdown complete")
	case <-ctx.Done():
		m.log.Warn("shutdown deadline exceeded, abandoning remaining hooks")
	}
}
