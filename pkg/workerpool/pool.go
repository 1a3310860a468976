// Package workerpool provides a fixed-size worker pool used to generate and
// export synthetic tables in parallel. Measurement never goes through the
// pool; it is strictly sequential.
package workerpool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
)

// Common errors
var (
	ErrPoolClosed  = errors.New("workerpool: pool is closed")
	ErrPoolRunning = errors.New("workerpool: pool is already running")
	ErrInvalidSize = errors.New("workerpool: invalid pool size")
	ErrTaskPanic   = errors.New("workerpool: task panicked")
)

// Task represents a unit of work to be executed by the pool
type Task func(ctx context.Context) error

// Config holds worker pool configuration
type Config struct {
	// Size is the number of workers in the pool
	Size int
	// QueueSize is the task queue buffer size (0 = unbuffered)
	QueueSize int
}

// Pool represents a worker pool
type Pool struct {
	config  Config
	tasks   chan taskWrapper
	wg      sync.WaitGroup
	running atomic.Bool
	closed  atomic.Bool
	mu      sync.Mutex
	taskCnt int64
	errCnt  int64
}

// taskWrapper wraps a task with its result channel
type taskWrapper struct {
	task   Task
	result chan error
	ctx    context.Context
}

// New creates a new worker pool with the given configuration
func New(config Config) (*Pool, error) {
	if config.Size <= 0 || config.QueueSize < 0 {
		return nil, ErrInvalidSize
	}
	return &Pool{
		config: config,
		tasks:  make(chan taskWrapper, config.QueueSize),
	}, nil
}

// Start starts the workers
func (p *Pool) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed.Load() {
		return ErrPoolClosed
	}
	if p.running.Load() {
		return ErrPoolRunning
	}

	for i := 0; i < p.config.Size; i++ {
		p.wg.Add(1)
		go p.worker()
	}
	p.running.Store(true)
	return nil
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for wrapper := range p.tasks {
		p.executeTask(wrapper)
	}
}

// executeTask runs a task, turning a panic into ErrTaskPanic
func (p *Pool) executeTask(wrapper taskWrapper) {
	atomic.AddInt64(&p.taskCnt, 1)

	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("%w: %v", ErrTaskPanic, r)
			}
		}()
		if err := wrapper.ctx.Err(); err != nil {
			return err
		}
		return wrapper.task(wrapper.ctx)
	}()

	if err != nil {
		atomic.AddInt64(&p.errCnt, 1)
	}
	wrapper.result <- err
}

// Submit queues a task and returns a channel that receives its error
func (p *Pool) Submit(ctx context.Context, task Task) (<-chan error, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.running.Load() || p.closed.Load() {
		return nil, ErrPoolClosed
	}

	resultCh := make(chan error, 1)
	select {
	case p.tasks <- taskWrapper{task: task, result: resultCh, ctx: ctx}:
		return resultCh, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Map runs fn for every index in [0, n) on the pool and returns the results
// in index order. The first error cancels the remaining tasks.
func Map[T any](ctx context.Context, p *Pool, n int, fn func(ctx context.Context, i int) (T, error)) ([]T, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	out := make([]T, n)
	pending := make([]<-chan error, 0, n)
	var submitErr error
	for i := 0; i < n; i++ {
		i := i
		ch, err := p.Submit(ctx, func(ctx context.Context) error {
			v, err := fn(ctx, i)
			if err != nil {
				return err
			}
			out[i] = v
			return nil
		})
		if err != nil {
			submitErr = err
			cancel()
			break
		}
		pending = append(pending, ch)
	}

	var firstErr error
	for _, ch := range pending {
		if err := <-ch; err != nil && firstErr == nil {
			firstErr = err
			cancel()
		}
	}
	if firstErr != nil {
		return nil, firstErr
	}
	if submitErr != nil {
		return nil, submitErr
	}
	return out, nil
}

// Close stops accepting tasks and waits for queued tasks to finish
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed.Swap(true) {
		p.mu.Unlock()
		return nil
	}
	p.running.Store(false)
	close(p.tasks)
	p.mu.Unlock()

	p.wg.Wait()
	return nil
}

// Stats holds pool statistics
type Stats struct {
	Workers       int
	TasksExecuted int64
	TasksFailed   int64
	QueueSize     int
	IsRunning     bool
	IsClosed      bool
}

// Stats returns current pool statistics
func (p *Pool) Stats() Stats {
	return Stats{
		Workers:       p.config.Size,
		TasksExecuted: atomic.LoadInt64(&p.taskCnt),
		TasksFailed:   atomic.LoadInt64(&p.errCnt),
		QueueSize:     len(p.tasks),
		IsRunning:     p.running.Load(),
		IsClosed:      p.closed.Load(),
	}
}
