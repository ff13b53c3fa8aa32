package reactor

import (
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"
)

// EventLoop owns a Poller, a TimerQueue, a cross-thread wakeup fd, and runs
// the reactor loop. Exactly one goroutine, pinned to its OS thread via
// LockOSThread, ever calls Loop; every other public method either runs
// inline when already on that goroutine or marshals via RunInLoop.
type EventLoop struct {
	poller *Poller
	timers *TimerQueue

	wakeupFD      int
	wakeupChannel *Channel

	mu       sync.Mutex
	pending  []func()
	wakeCalled atomic.Bool

	looping atomic.Bool
	quit    atomic.Bool
	tid     int32

	callingPending atomic.Bool

	activeChannels []*Channel
}

func NewEventLoop() (*EventLoop, error) {
	poller, err := NewPoller()
	if err != nil {
		return nil, err
	}
	wakeupFD, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		_ = poller.Close()
		return nil, fmt.Errorf("reactor: eventfd: %w", err)
	}

	loop := &EventLoop{poller: poller, wakeupFD: wakeupFD, tid: -1}

	timers, err := NewTimerQueue(loop)
	if err != nil {
		_ = poller.Close()
		_ = unix.Close(wakeupFD)
		return nil, err
	}
	loop.timers = timers

	loop.wakeupChannel = NewChannel(loop, wakeupFD)
	loop.wakeupChannel.SetReadCallback(loop.handleWakeupRead)
	loop.wakeupChannel.EnableReading()

	return loop, nil
}

// String identifies the loop by its owning OS thread id, useful as a
// metrics label; "unstarted" before Loop has run once.
func (l *EventLoop) String() string {
	tid := atomic.LoadInt32(&l.tid)
	if tid < 0 {
		return "unstarted"
	}
	return fmt.Sprintf("tid-%d", tid)
}

// assertInLoopThread is the Go stand-in for the original's fatal assertion
// that a given operation runs on the owning reactor thread.
func (l *EventLoop) assertInLoopThread() {
	if l.looping.Load() && !l.IsInLoopThread() {
		panic("reactor: operation invoked from outside the owning EventLoop thread")
	}
}

func (l *EventLoop) IsInLoopThread() bool {
	return unix.Gettid() == int(atomic.LoadInt32(&l.tid))
}

// Loop pins the calling goroutine to its OS thread and runs the reactor
// until Quit is observed.
func (l *EventLoop) Loop() {
	runtime.LockOSThread()
	atomic.StoreInt32(&l.tid, int32(unix.Gettid()))
	l.looping.Store(true)
	defer l.looping.Store(false)

	for !l.quit.Load() {
		timeoutMS := l.nextTimeoutMS()
		receiveTime, active, err := l.poller.Poll(timeoutMS)
		if err != nil {
			continue
		}
		for _, ch := range active {
			ch.HandleEvent(receiveTime)
		}
		l.doPendingFunctors()
	}
}

func (l *EventLoop) nextTimeoutMS() int {
	d, ok := l.timers.NextExpiry()
	if !ok {
		return -1 // no timer pending: block until an fd or the wakeup fd is ready
	}
	ms := int(d / time.Millisecond)
	if ms < 0 {
		return 0
	}
	return ms
}

func (l *EventLoop) Quit() {
	l.quit.Store(true)
	if !l.IsInLoopThread() {
		l.Wakeup()
	}
}

// RunInLoop runs fn on the loop thread: inline if already there, otherwise
// queued and the loop is woken.
func (l *EventLoop) RunInLoop(fn func()) {
	if l.IsInLoopThread() {
		fn()
		return
	}
	l.QueueInLoop(fn)
}

// QueueInLoop unconditionally appends fn to the pending queue and wakes
// the loop.
func (l *EventLoop) QueueInLoop(fn func()) {
	l.mu.Lock()
	l.pending = append(l.pending, fn)
	l.mu.Unlock()

	if !l.IsInLoopThread() || l.callingPending.Load() {
		l.Wakeup()
	}
}

func (l *EventLoop) Wakeup() {
	var one uint64 = 1
	var buf [8]byte
	putUint64(buf[:], one)
	_, _ = unix.Write(l.wakeupFD, buf[:])
}

func (l *EventLoop) handleWakeupRead(Timestamp) {
	var buf [8]byte
	_, _ = unix.Read(l.wakeupFD, buf[:])
}

// doPendingFunctors swaps the pending queue out to a local slice before
// running it, so handlers may enqueue further work without deadlocking on
// the mutex.
func (l *EventLoop) doPendingFunctors() {
	l.callingPending.Store(true)
	defer l.callingPending.Store(false)

	l.mu.Lock()
	local := l.pending
	l.pending = nil
	l.mu.Unlock()

	for _, fn := range local {
		fn()
	}
}

func (l *EventLoop) updateChannel(ch *Channel) { _ = l.poller.UpdateChannel(ch) }
func (l *EventLoop) removeChannel(ch *Channel) { _ = l.poller.RemoveChannel(ch) }

// --- Timer API: thread-safe, each marshals to the loop thread. ---

func (l *EventLoop) RunAt(when Timestamp, cb func()) TimerID {
	return l.timers.AddTimer(when, 0, false, cb)
}

func (l *EventLoop) RunAfter(delay time.Duration, cb func()) TimerID {
	return l.RunAt(Now().Add(delay), cb)
}

func (l *EventLoop) RunEvery(interval time.Duration, cb func()) TimerID {
	return l.timers.AddTimer(Now().Add(interval), interval, true, cb)
}

func (l *EventLoop) CancelTimer(id TimerID) {
	l.timers.Cancel(id)
}

func (l *EventLoop) Close() error {
	_ = l.timers.Close()
	_ = unix.Close(l.wakeupFD)
	return l.poller.Close()
}

func putUint64(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * i))
	}
}
