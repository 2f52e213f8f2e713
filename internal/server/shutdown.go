package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"sync"
	"syscall"
	"time"
)

// Hook order. Lower runs first: traffic stops, then scanning, then the
// stores the scan writes to, then the audit trail.
const (
	OrderReadiness     = 0
	OrderHTTP          = 10
	OrderScanQueue     = 20
	OrderTracing       = 80
	OrderGraphDatabase = 85
	OrderLayoutStore   = 90
	OrderAuditLog      = 95
)

// DefaultShutdownTimeout bounds the whole hook sequence.
const DefaultShutdownTimeout = 30 * time.Second

// Hook is one cleanup step.
type Hook struct {
	Name  string
	Order int
	Fn    func(ctx context.Context) error
}

// Shutdown runs hooks once, in order, when a signal arrives or Trigger is
// called. A failing hook is logged and the sequence continues.
type Shutdown struct {
	timeout time.Duration
	signals []os.Signal
	logger  *slog.Logger

	mu        sync.Mutex
	hooks     []Hook
	listening bool
	err       error

	trigger     chan struct{}
	triggerOnce sync.Once
	done        chan struct{}
}

// NewShutdown creates a handler. Zero timeout and no signals select
// DefaultShutdownTimeout and SIGINT/SIGTERM.
func NewShutdown(timeout time.Duration, logger *slog.Logger, signals ...os.Signal) *Shutdown {
	if timeout <= 0 {
		timeout = DefaultShutdownTimeout
	}
	if len(signals) == 0 {
		signals = []os.Signal{syscall.SIGINT, syscall.SIGTERM}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Shutdown{
		timeout: timeout,
		signals: signals,
		logger:  logger.With("component", "shutdown"),
		trigger: make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Add registers a hook. Hooks with the same order run in registration order.
func (s *Shutdown) Add(h Hook) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hooks = append(s.hooks, h)
	sort.SliceStable(s.hooks, func(i, j int) bool { return s.hooks[i].Order < s.hooks[j].Order })
}

// Listen starts waiting for a signal or Trigger. Calling it again is a no-op.
func (s *Shutdown) Listen() {
	s.mu.Lock()
	if s.listening {
		s.mu.Unlock()
		return
	}
	s.listening = true
	s.mu.Unlock()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, s.signals...)
	go func() {
		select {
		case sig := <-sigCh:
			s.logger.Info("shutdown signal received", "signal", sig.String())
		case <-s.trigger:
			s.logger.Info("shutdown requested")
		}
		signal.Stop(sigCh)
		s.run()
	}()
}

// Trigger starts the hook sequence. It does nothing before Listen.
func (s *Shutdown) Trigger() {
	s.mu.Lock()
	listening := s.listening
	s.mu.Unlock()
	if listening {
		s.triggerOnce.Do(func() { close(s.trigger) })
	}
}

// Done closes once every hook has run.
func (s *Shutdown) Done() <-chan struct{} { return s.done }

// Wait blocks until the hooks have run and returns their joined errors.
func (s *Shutdown) Wait() error {
	<-s.done
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *Shutdown) run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	s.mu.Lock()
	hooks := append([]Hook(nil), s.hooks...)
	s.mu.Unlock()

	var errs []error
	for _, h := range hooks {
		start := time.Now()
		if err := h.Fn(ctx); err != nil {
			s.logger.Error("shutdown hook failed", "hook", h.Name, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", h.Name, err))
			continue
		}
		s.logger.Debug("shutdown hook done", "hook", h.Name, "duration", time.Since(start))
	}

	s.mu.Lock()
	s.err = errors.Join(errs...)
	s.mu.Unlock()
	close(s.done)
}

// HTTPHook shuts an HTTP server down.
func HTTPHook(name string, shutdown func(ctx context.Context) error) Hook {
	return Hook{Name: name, Order: OrderHTTP, Fn: shutdown}
}

// ScanQueueHook cancels the in-flight scan and drops the pending queue.
func ScanQueueHook(stop func()) Hook {
	return Hook{Name: "scan-queue", Order: OrderScanQueue, Fn: func(context.Context) error {
		stop()
		return nil
	}}
}

// TracingHook flushes buffered spans.
func TracingHook(shutdown func(ctx context.Context) error) Hook {
	return Hook{Name: "tracing", Order: OrderTracing, Fn: shutdown}
}

// GraphDatabaseHook closes the Neo4j driver.
func GraphDatabaseHook(closeFn func(ctx context.Context) error) Hook {
	return Hook{Name: "graph-database", Order: OrderGraphDatabase, Fn: closeFn}
}

// LayoutStoreHook closes the layout store.
func LayoutStoreHook(closeFn func() error) Hook {
	return Hook{Name: "layout-store", Order: OrderLayoutStore, Fn: func(context.Context) error { return closeFn() }}
}

// AuditLogHook closes the audit log.
func AuditLogHook(closeFn func() error) Hook {
	return Hook{Name: "audit-log", Order: OrderAuditLog, Fn: func(context.Context) error { return closeFn() }}
}

// Lifecycle ties readiness to shutdown: the process reports unready before
// any other hook runs.
type Lifecycle struct {
	Health   *Health
	Shutdown *Shutdown
}

// NewLifecycle creates the health probes and the shutdown sequence.
func NewLifecycle(version string, timeout time.Duration, logger *slog.Logger) *Lifecycle {
	health := NewHealth(version)
	shutdown := NewShutdown(timeout, logger)
	shutdown.Add(Hook{Name: "readiness", Order: OrderReadiness, Fn: func(context.Context) error {
		health.SetReady(false)
		return nil
	}})
	return &Lifecycle{Health: health, Shutdown: shutdown}
}

// Start listens for shutdown and marks the process ready.
func (l *Lifecycle) Start() {
	l.Shutdown.Listen()
	l.Health.SetReady(true)
}

// Stop triggers the shutdown sequence.
func (l *Lifecycle) Stop() { l.Shutdown.Trigger() }

// Wait blocks until shutdown completes and returns the hook errors.
func (l *Lifecycle) Wait() error { return l.Shutdown.Wait() }

// Add registers a hook.
func (l *Lifecycle) Add(h Hook) { l.Shutdown.Add(h) }
