// Package lifecycle owns orderly termination of the process: shutting down
// servers and then running exit hooks in the order they were registered.
package lifecycle

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/charmbracelet/log"
)

type shutdownFunc struct {
	name string
	fn   func(ctx context.Context) error
}

type hook struct {
	name string
	fn   func() error
}

// Terminator shuts the host down and exits the process
type Terminator struct {
	mu       sync.Mutex
	shutdown []shutdownFunc
	hooks    []hook
	once     sync.Once
	done     chan struct{}

	timeout time.Duration
	exit    func(code int)
	log     *log.Logger
}

// NewTerminator creates a terminator. timeout bounds all shutdown funcs together.
func NewTerminator(timeout time.Duration, logger *log.Logger) *Terminator {
	if logger == nil {
		logger = log.Default()
	}
	return &Terminator{
		done:    make(chan struct{}),
		timeout: timeout,
		exit:    os.Exit,
		log:     logger.WithPrefix("lifecycle"),
	}
}

// SetExitFunc replaces os.Exit
func (t *Terminator) SetExitFunc(exit func(code int)) {
	t.exit = exit
}

// OnShutdown registers a step of the host's orderly shutdown (servers,
// pollers). Steps run in registration order before any exit hook.
func (t *Terminator) OnShutdown(name string, fn func(ctx context.Context) error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.shutdown = append(t.shutdown, shutdownFunc{name: name, fn: fn})
}

// Defer registers an exit hook. Hooks run in registration order after the
// host has shut down and immediately before the process exits.
func (t *Terminator) Defer(name string, fn func() error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.hooks = append(t.hooks, hook{name: name, fn: fn})
}

// Done is closed once Terminate has run everything but the final exit
func (t *Terminator) Done() <-chan struct{} {
	return t.done
}

// Terminate shuts the host down, runs exit hooks and exits with code.
// Only the first call has any effect. Failures are logged; nothing here can
// stop the process from exiting.
func (t *Terminator) Terminate(code int) {
	t.once.Do(func() {
		t.mu.Lock()
		shutdown := append([]shutdownFunc(nil), t.shutdown...)
		hooks := append([]hook(nil), t.hooks...)
		t.mu.Unlock()

		t.log.Info("Shutting down", "exit_code", code, "hooks", len(hooks))

		ctx, cancel := context.WithTimeout(context.Background(), t.timeout)
		for _, s := range shutdown {
			if err := s.fn(ctx); err != nil {
				t.log.Error("Shutdown step failed", "step", s.name, "err", err)
			}
		}
		cancel()

		for _, h := range hooks {
			t.log.Info("Running exit hook", "hook", h.name)
			if err := h.fn(); err != nil {
				t.log.Error("Exit hook failed", "hook", h.name, "err", err)
			}
		}

		t.log.Info("Shutdown complete")
		close(t.done)
		t.exit(code)
	})
}
