package worker

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestThreadPoolRunsSubmittedTasks(t *testing.T) {
	p := NewThreadPool("test", nil)
	p.Start(4)
	defer p.Stop()

	var n atomic.Int64
	for i := 0; i < 100; i++ {
		p.Run(func() { n.Add(1) })
	}

	assert.Eventually(t, func() bool { return n.Load() == 100 }, time.Second, time.Millisecond)
}

func TestThreadPoolRunAfterStopIsANoop(t *testing.T) {
	p := NewThreadPool("test", nil)
	p.Start(1)
	p.Stop()

	var n atomic.Int64
	p.Run(func() { n.Add(1) })
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, int64(0), n.Load())
}

func TestThreadPoolBoundedQueueBlocksUntilDrained(t *testing.T) {
	p := NewThreadPool("test", nil)
	p.SetMaxQueueSize(1)

	block := make(chan struct{})
	p.Start(1)
	defer p.Stop()

	p.Run(func() { <-block })
	p.Run(func() {})

	done := make(chan struct{})
	go func() {
		p.Run(func() {})
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("Run should have blocked on a full bounded queue")
	case <-time.After(30 * time.Millisecond):
	}

	close(block)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run never unblocked after queue drained")
	}
}

func TestThreadPoolQueueSizeReflectsPendingTasks(t *testing.T) {
	p := NewThreadPool("test", nil)
	block := make(chan struct{})
	p.Start(1)
	defer func() {
		close(block)
		p.Stop()
	}()

	p.Run(func() { <-block })
	p.Run(func() {})
	p.Run(func() {})

	assert.Eventually(t, func() bool { return p.QueueSize() == 2 }, 200*time.Millisecond, time.Millisecond)
}

func TestThreadPoolThreadInitCallbackRunsPerWorker(t *testing.T) {
	p := NewThreadPool("test", nil)
	var inits atomic.Int64
	p.ThreadInitCallback = func() { inits.Add(1) }
	p.Start(3)
	p.Stop()

	assert.Equal(t, int64(3), inits.Load())
}

func TestThreadPoolSurvivesPanickingTask(t *testing.T) {
	p := NewThreadPool("test", nil)
	p.Start(1)
	defer p.Stop()

	p.Run(func() { panic("boom") })

	var n atomic.Int64
	p.Run(func() { n.Add(1) })
	assert.Eventually(t, func() bool { return n.Load() == 1 }, time.Second, time.Millisecond)
}
