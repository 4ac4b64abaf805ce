// Package lifecycle orchestrates graceful shutdown of the qlite server.
package lifecycle

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
)

// Phase orders shutdown: first stop accepting HTTP traffic, then stop the
// background workers (retention, metrics collector, notifier reaper), then
// close the database.
type Phase int

const (
	PhaseHTTP Phase = iota
	PhaseWorkers
	PhaseDatabase
	PhaseFinal
)

// Hook is one shutdown step.
type Hook struct {
	Name     string
	Phase    Phase
	Timeout  time.Duration
	Shutdown func(ctx context.Context) error
}

// Manager collects hooks and runs them phase by phase on shutdown.
type Manager struct {
	mu      sync.Mutex
	hooks   []Hook
	timeout time.Duration
	done    chan struct{}
	once    sync.Once
}

// NewManager creates a manager with a 30 second overall shutdown budget.
func NewManager() *Manager {
	return &Manager{
		timeout: 30 * time.Second,
		done:    make(chan struct{}),
	}
}

// Register adds a shutdown hook. A zero timeout defaults to 10 seconds.
func (m *Manager) Register(hook Hook) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if hook.Timeout == 0 {
		hook.Timeout = 10 * time.Second
	}
	m.hooks = append(m.hooks, hook)
}

// WaitForSignal blocks until SIGINT/SIGTERM or a programmatic Shutdown.
func (m *Manager) WaitForSignal() {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		log.Info().Str("signal", sig.String()).Msg("Shutdown signal received")
	case <-m.done:
		log.Info().Msg("Shutdown triggered programmatically")
	}
}

// Shutdown triggers the shutdown sequence without a signal.
func (m *Manager) Shutdown() {
	m.once.Do(func() { close(m.done) })
}

// Execute runs all hooks, phases in order, hooks within a phase in
// parallel.
func (m *Manager) Execute() error {
	m.mu.Lock()
	hooks := make([]Hook, len(m.hooks))
	copy(hooks, m.hooks)
	timeout := m.timeout
	m.mu.Unlock()

	log.Info().Int("hooks", len(hooks)).Dur("timeout", timeout).Msg("Starting graceful shutdown")

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	byPhase := make(map[Phase][]Hook)
	for _, h := range hooks {
		byPhase[h.Phase] = append(byPhase[h.Phase], h)
	}

	for _, phase := range []Phase{PhaseHTTP, PhaseWorkers, PhaseDatabase, PhaseFinal} {
		if len(byPhase[phase]) == 0 {
			continue
		}
		var wg sync.WaitGroup
		for _, h := range byPhase[phase] {
			wg.Add(1)
			go func(h Hook) {
				defer wg.Done()
				runHook(ctx, h)
			}(h)
		}
		wg.Wait()

		if ctx.Err() != nil {
			log.Warn().Msg("Shutdown timeout reached, forcing exit")
			return ctx.Err()
		}
	}

	log.Info().Msg("Graceful shutdown completed")
	return nil
}

func runHook(parent context.Context, hook Hook) {
	ctx, cancel := context.WithTimeout(parent, hook.Timeout)
	defer cancel()

	errCh := make(chan error, 1)
	go func() { errCh <- hook.Shutdown(ctx) }()

	select {
	case err := <-errCh:
		if err != nil {
			log.Error().Err(err).Str("hook", hook.Name).Msg("Shutdown hook failed")
		}
	case <-ctx.Done():
		log.Warn().Str("hook", hook.Name).Msg("Shutdown hook timed out")
	}
}

// Run combines WaitForSignal and Execute.
func (m *Manager) Run() error {
	m.WaitForSignal()
	return m.Execute()
}
