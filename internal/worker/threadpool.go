// Package worker implements the computation thread pool (distinct from
// the reactor's EventLoopThreadPool, which shards I/O): a bounded task
// queue drained by a fixed set of goroutines, for work that would
// otherwise block an I/O thread.
package worker

import (
	"sync"

	"go.uber.org/zap"
)

type Task func()

// ThreadPool is a producer-consumer queue with a fixed worker count,
// modeled on ThreadPool.h/.cc: unbounded by default, optionally capped so
// producers block rather than let the queue grow without limit.
type ThreadPool struct {
	name   string
	logger *zap.Logger

	mu       sync.Mutex
	notEmpty *sync.Cond
	notFull  *sync.Cond
	queue    []Task

	maxQueueSize int
	running      bool
	wg           sync.WaitGroup

	ThreadInitCallback func()
}

// NewThreadPool builds an unstarted pool. logger may be nil, in which
// case a panicking task is recovered and silently dropped rather than
// logged — callers in production always pass a real logger.
func NewThreadPool(name string, logger *zap.Logger) *ThreadPool {
	p := &ThreadPool{name: name, logger: logger}
	p.notEmpty = sync.NewCond(&p.mu)
	p.notFull = sync.NewCond(&p.mu)
	return p
}

// SetMaxQueueSize must be called before Start. 0 means unbounded.
func (p *ThreadPool) SetMaxQueueSize(n int) { p.maxQueueSize = n }

func (p *ThreadPool) Start(numThreads int) {
	p.mu.Lock()
	p.running = true
	p.mu.Unlock()

	for i := 0; i < numThreads; i++ {
		p.wg.Add(1)
		go p.runInThread()
	}
}

// Stop refuses further submissions, lets the workers run every task that
// is already queued, and waits for them to exit.
func (p *ThreadPool) Stop() {
	p.mu.Lock()
	p.running = false
	p.mu.Unlock()
	p.notEmpty.Broadcast()
	p.notFull.Broadcast()
	p.wg.Wait()
}

// Run submits a task. Blocks the caller if a bounded queue is full;
// silently drops the task if the pool has already stopped.
func (p *ThreadPool) Run(task Task) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.running {
		return
	}
	for p.isFull() && p.running {
		p.notFull.Wait()
	}
	if !p.running {
		return
	}
	p.queue = append(p.queue, task)
	p.notEmpty.Signal()
}

func (p *ThreadPool) isFull() bool {
	return p.maxQueueSize > 0 && len(p.queue) >= p.maxQueueSize
}

func (p *ThreadPool) QueueSize() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue)
}

func (p *ThreadPool) runInThread() {
	defer p.wg.Done()
	if p.ThreadInitCallback != nil {
		p.ThreadInitCallback()
	}
	for {
		task := p.take()
		if task == nil {
			return
		}
		p.runTask(task)
	}
}

// runTask isolates one task's panic to this goroutine: a bad NavigationTask
// callback must not take down the whole worker pool.
func (p *ThreadPool) runTask(task Task) {
	defer func() {
		if r := recover(); r != nil && p.logger != nil {
			p.logger.Error("recovered panic in worker task",
				zap.String("pool", p.name), zap.Any("panic", r), zap.StackSkip("stack", 1))
		}
	}()
	task()
}

func (p *ThreadPool) take() Task {
	p.mu.Lock()
	defer p.mu.Unlock()

	for len(p.queue) == 0 && p.running {
		p.notEmpty.Wait()
	}
	if !p.running && len(p.queue) == 0 {
		return nil
	}
	task := p.queue[0]
	p.queue = p.queue[1:]
	p.notFull.Signal()
	return task
}
