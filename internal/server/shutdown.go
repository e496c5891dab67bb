// Package server manages the process lifecycle: signal handling, draining
// in-flight operations and closing resources in reverse order.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/polyquery/polyquery/internal/logging"
)

// ErrShuttingDown is returned by Track once shutdown has begun.
var ErrShuttingDown = errors.New("server: shutting down")

// ShutdownConfig holds configuration for the shutdown manager.
type ShutdownConfig struct {
	// DrainTimeout bounds the wait for in-flight operations. A benchmark
	// finishes its current trial before it stops, so this should exceed
	// the trial timeout.
	DrainTimeout time.Duration
}

// DefaultShutdownConfig returns the default shutdown configuration.
func DefaultShutdownConfig() ShutdownConfig {
	return ShutdownConfig{DrainTimeout: 35 * time.Second}
}

// ShutdownManager coordinates graceful shutdown. Operations register with
// Track and receive a context that is cancelled when shutdown begins;
// Shutdown waits for them before closing registered resources.
type ShutdownManager struct {
	drainTimeout time.Duration
	logger       *slog.Logger

	base     context.Context
	cancel   context.CancelFunc
	once     sync.Once
	err      error
	stopping atomic.Bool
	inFlight sync.WaitGroup

	mu      sync.Mutex
	closers []io.Closer
}

// NewShutdownManager creates a shutdown manager.
func NewShutdownManager(config ShutdownConfig, logger *slog.Logger) *ShutdownManager {
	if config.DrainTimeout <= 0 {
		config.DrainTimeout = DefaultShutdownConfig().DrainTimeout
	}
	base, cancel := context.WithCancel(context.Background())
	return &ShutdownManager{
		drainTimeout: config.DrainTimeout,
		logger:       logging.Default(logger).With("component", "shutdown"),
		base:         base,
		cancel:       cancel,
	}
}

// RegisterCloser adds a resource closed during shutdown. Closers run in
// reverse registration order.
func (sm *ShutdownManager) RegisterCloser(c io.Closer) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.closers = append(sm.closers, c)
}

// Track registers an in-flight operation. The returned context is
// cancelled when ctx is or when shutdown begins; done must be called when
// the operation ends.
func (sm *ShutdownManager) Track(ctx context.Context) (context.Context, func(), error) {
	if sm.stopping.Load() {
		return nil, nil, ErrShuttingDown
	}
	sm.inFlight.Add(1)
	opCtx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(sm.base, cancel)
	var once sync.Once
	done := func() {
		once.Do(func() {
			stop()
			cancel()
			sm.inFlight.Done()
		})
	}
	return opCtx, done, nil
}

// IsShuttingDown reports whether shutdown has begun.
func (sm *ShutdownManager) IsShuttingDown() bool {
	return sm.stopping.Load()
}

// ListenForSignals shuts down on SIGINT or SIGTERM. It returns without
// shutting down when ctx ends or shutdown starts elsewhere.
func (sm *ShutdownManager) ListenForSignals(ctx context.Context) error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(sigCh)

	select {
	case sig := <-sigCh:
		return sm.Shutdown(context.Background(), fmt.Sprintf("received signal: %v", sig))
	case <-ctx.Done():
		return nil
	case <-sm.base.Done():
		return nil
	}
}

// Shutdown cancels tracked operations, waits up to the drain timeout for
// them to return and closes every registered resource. Only the first
// call does anything; later calls wait for it and return its result.
func (sm *ShutdownManager) Shutdown(ctx context.Context, reason string) error {
	sm.once.Do(func() {
		var errs []error
		sm.logger.Info("shutting down", "reason", reason)
		sm.stopping.Store(true)
		sm.cancel()

		drained := make(chan struct{})
		go func() {
			sm.inFlight.Wait()
			close(drained)
		}()
		timer := time.NewTimer(sm.drainTimeout)
		defer timer.Stop()
		select {
		case <-drained:
		case <-timer.C:
			errs = append(errs, fmt.Errorf("timeout after %s waiting for in-flight operations", sm.drainTimeout))
		case <-ctx.Done():
			errs = append(errs, ctx.Err())
		}

		sm.mu.Lock()
		closers := sm.closers
		sm.closers = nil
		sm.mu.Unlock()
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i].Close(); err != nil {
				errs = append(errs, err)
			}
		}
		sm.err = errors.Join(errs...)
		if sm.err != nil {
			sm.logger.Warn("shutdown finished with errors", "error", sm.err)
		}
	})
	return sm.err
}

// CloserFunc adapts a function to io.Closer.
type CloserFunc func() error

// Close calls f.
func (f CloserFunc) Close() error {
	return f()
}

// ServeHTTP starts srv in the background and registers it for graceful
// shutdown. Listen errors are logged.
func (sm *ShutdownManager) ServeHTTP(srv *http.Server) {
	sm.RegisterCloser(CloserFunc(func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(ctx)
	}))
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			sm.logger.Error("http server failed", "addr", srv.Addr, "error", err)
		}
	}()
}
