// Package shutdown turns process interrupts into an advisory stop flag. The
// flag stops new work from being picked up; it never cancels work that is
// already in flight.
package shutdown

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"

	"go.uber.org/zap"
)

// Coordinator holds the shared running flag.
type Coordinator struct {
	running atomic.Bool
	done    chan struct{}
	once    sync.Once
	logger  *zap.Logger
}

// New returns a Coordinator in the running state.
func New(logger *zap.Logger) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Coordinator{
		done:   make(chan struct{}),
		logger: logger,
	}
	c.running.Store(true)
	return c
}

// Running reports whether new work may still start.
func (c *Coordinator) Running() bool {
	return c.running.Load()
}

// Done is closed once Stop has been called.
func (c *Coordinator) Done() <-chan struct{} {
	return c.done
}

// Stop flips the running flag. Only the first call has an effect; it reports
// whether this call was the one that stopped the run.
func (c *Coordinator) Stop(reason string) bool {
	stopped := false
	c.once.Do(func() {
		c.running.Store(false)
		close(c.done)
		stopped = true
		c.logger.Info("shutting down gracefully; in-flight work will finish",
			zap.String("reason", reason))
	})
	return stopped
}

// Watch calls Stop when one of sigs arrives (SIGINT and SIGTERM when none are
// given). Further signals are logged and otherwise ignored. The returned
// function releases the signal handler.
func (c *Coordinator) Watch(ctx context.Context, sigs ...os.Signal) func() {
	if len(sigs) == 0 {
		sigs = []os.Signal{os.Interrupt, syscall.SIGTERM}
	}
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, sigs...)
	quit := make(chan struct{})
	go func() {
		for {
			select {
			case sig := <-ch:
				if !c.Stop(sig.String()) {
					c.logger.Warn("already shutting down; waiting for in-flight work",
						zap.String("signal", sig.String()))
				}
			case <-ctx.Done():
				return
			case <-quit:
				return
			}
		}
	}()
	var releaseOnce sync.Once
	return func() {
		releaseOnce.Do(func() {
			signal.Stop(ch)
			close(quit)
		})
	}
}
