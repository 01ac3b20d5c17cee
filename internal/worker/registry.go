// Package worker tracks detached background tasks so the process can drain
// in-flight work on shutdown instead of silently dropping it.
package worker

import (
	"context"
	"errors"
	"sync"

	"github.com/signalacademy/billing/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var ErrDrainTimeout = errors.New("worker drain timed out")

type Registry struct {
	log *zap.Logger

	mu     sync.Mutex
	wg     sync.WaitGroup
	closed bool
}

func NewRegistry(log *zap.Logger) *Registry {
	return &Registry{log: log.Named("worker")}
}

// Go runs fn on its own goroutine with a fresh background context, so an HTTP
// timeout on the originating request cannot cancel the task. Returns false if
// the registry is already draining.
func (r *Registry) Go(name string, fn func(ctx context.Context)) bool {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		r.log.Warn("task rejected, registry draining", zap.String("task", name))
		return false
	}
	r.wg.Add(1)
	r.mu.Unlock()

	go func() {
		defer r.wg.Done()
		defer func() {
			if rec := recover(); rec != nil {
				r.log.Error("task panicked",
					zap.String("task", name),
					zap.Any("panic", rec),
					zap.Stack("stack"),
				)
			}
		}()
		fn(context.Background())
	}()
	return true
}

// Drain stops accepting tasks and waits for in-flight ones until ctx expires.
func (r *Registry) Drain(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ErrDrainTimeout
	}
}

func registerHooks(lc fx.Lifecycle, cfg config.Config, reg *Registry) {
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			drainCtx, cancel := context.WithTimeout(ctx, cfg.HTTP.ShutdownTimeout)
			defer cancel()
			if err := reg.Drain(drainCtx); err != nil {
				reg.log.Error("background tasks lost on shutdown", zap.Error(err))
				return err
			}
			return nil
		},
	})
}

var Module = fx.Module("worker",
	fx.Provide(NewRegistry),
	fx.Invoke(registerHooks),
)
