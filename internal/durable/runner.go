package durable

import (
	"context"
	"fmt"
	"sync"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// Kind groups work that shares a concurrency limit.
type Kind string

const (
	KindPipeline Kind = "pipeline"
	KindFanOut   Kind = "fanout"
)

// ErrShutdown is returned by Go after Shutdown has been called.
var ErrShutdown = eris.New("durable: runner is shut down")

// Runner executes background work with a weighted semaphore per Kind.
type Runner struct {
	sems map[Kind]*semaphore.Weighted

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

// NewRunner creates a runner with the given per-kind limits. Limits below 1
// are raised to 1.
func NewRunner(limits map[Kind]int) *Runner {
	ctx, cancel := context.WithCancel(context.Background())
	sems := make(map[Kind]*semaphore.Weighted, len(limits))
	for k, n := range limits {
		if n < 1 {
			n = 1
		}
		sems[k] = semaphore.NewWeighted(int64(n))
	}
	return &Runner{sems: sems, ctx: ctx, cancel: cancel}
}

// Go schedules fn. It returns immediately; fn starts once a slot for kind is
// free and receives a context that is cancelled on a forced shutdown.
func (r *Runner) Go(kind Kind, name string, fn func(ctx context.Context) error) error {
	sem, ok := r.sems[kind]
	if !ok {
		return eris.Errorf("durable: unknown kind %q", kind)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrShutdown
	}
	r.wg.Add(1)

	go func() {
		defer r.wg.Done()
		log := zap.L().With(zap.String("kind", string(kind)), zap.String("name", name))

		if err := sem.Acquire(r.ctx, 1); err != nil {
			log.Warn("dropped before start", zap.Error(err))
			return
		}
		defer sem.Release(1)

		if err := run(r.ctx, fn); err != nil {
			log.Error("background work failed", zap.Error(err))
			return
		}
		log.Debug("background work done")
	}()
	return nil
}

func run(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = eris.New(fmt.Sprintf("durable: panic: %v", p))
		}
	}()
	return fn(ctx)
}

// Wait blocks until every scheduled function has returned.
func (r *Runner) Wait() {
	r.wg.Wait()
}

// Shutdown stops accepting work and waits for in-flight work. If ctx ends
// first, running work is cancelled and ctx's error is returned.
func (r *Runner) Shutdown(ctx context.Context) error {
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
		r.cancel()
		return nil
	case <-ctx.Done():
		r.cancel()
		<-done
		return ctx.Err()
	}
}
