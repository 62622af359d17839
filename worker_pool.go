package abs9p

import (
	"context"
	"sync"
	"sync/atomic"
)

// WorkerPool bounds the number of requests a server handles
// concurrently. Without a pool the dispatcher starts one goroutine
// per in-flight tag; a pool trades some tag-level parallelism for a
// predictable goroutine ceiling under hostile or bursty clients.
type WorkerPool struct {
	maxWorkers int
	taskQueue  chan func()
	ctx        context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	running    atomic.Bool
	activeWork atomic.Int32
	logger     Logger
}

// NewWorkerPool creates a pool with the given number of workers.
func NewWorkerPool(maxWorkers int, logger Logger) *WorkerPool {
	if maxWorkers <= 0 {
		maxWorkers = 1
	}
	if logger == nil {
		logger = NewNoopLogger()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &WorkerPool{
		maxWorkers: maxWorkers,
		taskQueue:  make(chan func(), maxWorkers*2),
		ctx:        ctx,
		cancel:     cancel,
		logger:     logger,
	}
}

// Start launches the workers. Calling Start on a running pool is a
// no-op.
func (p *WorkerPool) Start() {
	if !p.running.CompareAndSwap(false, true) {
		return
	}

	p.wg.Add(p.maxWorkers)
	for i := 0; i < p.maxWorkers; i++ {
		go p.worker()
	}
	p.logger.Debug("worker pool started", LogField{Key: "workers", Value: p.maxWorkers})
}

func (p *WorkerPool) worker() {
	defer p.wg.Done()

	for {
		select {
		case <-p.ctx.Done():
			return
		case task, ok := <-p.taskQueue:
			if !ok {
				return
			}
			p.activeWork.Add(1)
			task()
			p.activeWork.Add(-1)
		}
	}
}

// Submit queues task for execution. It reports false when the pool is
// stopped or the queue is full; callers fall back to running the task
// themselves so a saturated pool degrades rather than deadlocks.
func (p *WorkerPool) Submit(task func()) bool {
	if !p.running.Load() {
		return false
	}
	select {
	case p.taskQueue <- task:
		return true
	default:
		return false
	}
}

// Stats returns the pool size, currently executing task count, and
// queued task count.
func (p *WorkerPool) Stats() (maxWorkers, active, queued int) {
	return p.maxWorkers, int(p.activeWork.Load()), len(p.taskQueue)
}

// Stop drains the pool. Queued tasks that have not started are
// discarded; running tasks finish.
func (p *WorkerPool) Stop() {
	if !p.running.CompareAndSwap(true, false) {
		return
	}
	p.cancel()
	p.wg.Wait()
	p.logger.Debug("worker pool stopped")
}
