package workerpool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"time"

	"github.com/panjf2000/ants/v2"
	"golang.org/x/sync/semaphore"
)

var ErrPoolClosed = errors.New("worker pool closed")

// Pool bounds concurrent embedding, search and cross-encoder calls across all
// requests. Waiting for a worker honours the caller's context.
type Pool struct {
	pool   *ants.Pool
	slots  *semaphore.Weighted
	size   int
	logger *slog.Logger
}

func New(size int, logger *slog.Logger) (*Pool, error) {
	if size <= 0 {
		size = max(runtime.NumCPU()/2, 1)
	}
	if logger == nil {
		logger = slog.Default()
	}
	pool, err := ants.NewPool(size, ants.WithPanicHandler(func(p any) {
		logger.Error("worker_pool_panic", "panic", fmt.Sprint(p))
	}))
	if err != nil {
		return nil, fmt.Errorf("create worker pool: %w", err)
	}
	return &Pool{
		pool:   pool,
		slots:  semaphore.NewWeighted(int64(size)),
		size:   size,
		logger: logger,
	}, nil
}

// Run executes task on a pool worker and waits for it. Once the task has
// started Run always waits for it to return, so the task may safely write
// caller-owned memory; it receives ctx and should stop early on cancellation.
func (p *Pool) Run(ctx context.Context, task func(context.Context) error) error {
	if err := p.slots.Acquire(ctx, 1); err != nil {
		return err
	}
	defer p.slots.Release(1)

	if p.pool.IsClosed() {
		return ErrPoolClosed
	}

	done := make(chan error, 1)
	err := p.pool.Submit(func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("worker task panic: %v", r)
			}
		}()
		done <- task(ctx)
	})
	if err != nil {
		if errors.Is(err, ants.ErrPoolClosed) {
			return ErrPoolClosed
		}
		return fmt.Errorf("submit worker task: %w", err)
	}
	return <-done
}

func (p *Pool) Size() int    { return p.size }
func (p *Pool) Running() int { return p.pool.Running() }

// Close waits up to the context deadline for running tasks.
func (p *Pool) Close(ctx context.Context) error {
	deadline, ok := ctx.Deadline()
	if !ok {
		p.pool.Release()
		return nil
	}
	return p.pool.ReleaseTimeout(max(0, time.Until(deadline)))
}
