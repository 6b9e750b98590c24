package phx

import (
	"context"
	"runtime"
	"sync"

	"golang.org/x/sync/semaphore"
)

// Executor runs synchronous (pool) handlers.
type Executor interface {
	// Submit schedules task. It blocks while the executor is saturated and fails once the
	// executor is shut down or ctx is done.
	Submit(ctx context.Context, task func()) error
	// Shutdown rejects new work. With wait, queued and running tasks finish before it
	// returns; without, queued tasks are cancelled and running ones are left to finish alone.
	Shutdown(wait bool)
}

// DefaultPoolSize is the number of workers of a BoundedPool created without an explicit size.
func DefaultPoolSize() int {
	return min(32, runtime.NumCPU()+4)
}

// BoundedPool is an Executor running at most size tasks at once.
type BoundedPool struct {
	slots   *semaphore.Weighted
	size    int
	running sync.WaitGroup

	lock     sync.Mutex
	closed   bool
	stopCtx  context.Context
	stopFunc context.CancelFunc
}

// NewBoundedPool returns a pool with size workers; size <= 0 uses DefaultPoolSize.
func NewBoundedPool(size int) *BoundedPool {
	if size <= 0 {
		size = DefaultPoolSize()
	}
	stopCtx, stopFunc := context.WithCancel(context.Background())
	return &BoundedPool{
		slots:    semaphore.NewWeighted(int64(size)),
		size:     size,
		stopCtx:  stopCtx,
		stopFunc: stopFunc,
	}
}

// Size returns the maximum number of concurrently running tasks.
func (pool *BoundedPool) Size() int { return pool.size }

// Submit implements Executor.
func (pool *BoundedPool) Submit(ctx context.Context, task func()) error {
	pool.lock.Lock()
	if pool.closed {
		pool.lock.Unlock()
		return ErrPoolClosed
	}
	pool.running.Add(1)
	pool.lock.Unlock()

	acquireCtx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(pool.stopCtx, cancel)
	defer stop()
	defer cancel()

	if err := pool.slots.Acquire(acquireCtx, 1); err != nil {
		pool.running.Done()
		if pool.stopCtx.Err() != nil {
			return ErrPoolClosed
		}
		return err
	}

	go func() {
		defer pool.running.Done()
		defer pool.slots.Release(1)
		task()
	}()
	return nil
}

// Shutdown implements Executor. It is safe to call more than once.
func (pool *BoundedPool) Shutdown(wait bool) {
	pool.lock.Lock()
	pool.closed = true
	pool.lock.Unlock()

	if !wait {
		pool.stopFunc()
		return
	}
	pool.running.Wait()
	pool.stopFunc()
}
