package reactor

import "sync/atomic"

// EventLoopThreadPool runs n sub-reactor threads, each its own goroutine
// pinned to an OS thread running its own EventLoop, and hands connections
// to them round-robin. n == 0 means single-reactor: every connection
// stays on the base loop passed to New.
type EventLoopThreadPool struct {
	baseLoop *EventLoop
	loops    []*EventLoop
	next     atomic.Uint64
	started  bool
}

func NewEventLoopThreadPool(baseLoop *EventLoop) *EventLoopThreadPool {
	return &EventLoopThreadPool{baseLoop: baseLoop}
}

// Start spawns numThreads sub-reactors and runs each loop on its own
// goroutine. Call before the base loop starts looping.
func (p *EventLoopThreadPool) Start(numThreads int) error {
	p.loops = make([]*EventLoop, 0, numThreads)
	for i := 0; i < numThreads; i++ {
		loop, err := NewEventLoop()
		if err != nil {
			return err
		}
		p.loops = append(p.loops, loop)
		go loop.Loop()
	}
	p.started = true
	return nil
}

// GetNextLoop returns the base loop when the pool has no sub-reactors,
// otherwise the next sub-reactor in round-robin order.
func (p *EventLoopThreadPool) GetNextLoop() *EventLoop {
	if len(p.loops) == 0 {
		return p.baseLoop
	}
	idx := p.next.Add(1) - 1
	return p.loops[idx%uint64(len(p.loops))]
}

func (p *EventLoopThreadPool) AllLoops() []*EventLoop {
	if len(p.loops) == 0 {
		return []*EventLoop{p.baseLoop}
	}
	return p.loops
}

func (p *EventLoopThreadPool) Stop() {
	for _, loop := range p.loops {
		loop.Quit()
	}
}
