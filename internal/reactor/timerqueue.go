package reactor

import (
	"container/heap"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"
)

// TimerID identifies a scheduled timer for cancellation.
type TimerID uint64

const minTimerDelay = 100 * time.Microsecond

type timerEntry struct {
	id         TimerID
	seq        uint64
	expiration Timestamp
	interval   time.Duration
	repeating  bool
	callback   func()
	heapIndex  int
}

type timerHeap []*timerEntry

func (h timerHeap) Len() int { return len(h) }
func (h timerHeap) Less(i, j int) bool {
	if h[i].expiration.Equal(h[j].expiration) {
		return h[i].seq < h[j].seq
	}
	return h[i].expiration.Before(h[j].expiration)
}
func (h timerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].heapIndex = i
	h[j].heapIndex = j
}
func (h *timerHeap) Push(x any) {
	e := x.(*timerEntry)
	e.heapIndex = len(*h)
	*h = append(*h, e)
}
func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return e
}

// TimerQueue is driven by one timerfd. It plays the role of the original
// design's two parallel ordered sets (by-expiration, by-id) with a Go
// container/heap ordered by expiration plus a map keyed by TimerID for
// O(log n) cancellation — the idiomatic Go substitute for an ordered-set
// pair, since nothing in this lineage ships a third-party ordered-set
// type for this.
type TimerQueue struct {
	loop    *EventLoop
	timerFD int
	channel *Channel

	mu      sync.Mutex
	heap    timerHeap
	byID    map[TimerID]*timerEntry
	nextSeq uint64
	nextID  uint64

	callingExpired bool
	cancelledMid   map[TimerID]bool
}

func NewTimerQueue(loop *EventLoop) (*TimerQueue, error) {
	fd, err := unix.TimerfdCreate(unix.CLOCK_MONOTONIC, unix.TFD_NONBLOCK|unix.TFD_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("reactor: timerfd_create: %w", err)
	}
	q := &TimerQueue{
		loop:         loop,
		timerFD:      fd,
		byID:         make(map[TimerID]*timerEntry),
		cancelledMid: make(map[TimerID]bool),
	}
	q.channel = NewChannel(loop, fd)
	q.channel.SetReadCallback(q.handleRead)
	q.channel.EnableReading()
	return q, nil
}

func (q *TimerQueue) Close() error {
	q.channel.DisableAll()
	q.channel.Remove()
	return unix.Close(q.timerFD)
}

// AddTimer is thread-safe: it marshals onto the loop thread before
// touching the heap.
func (q *TimerQueue) AddTimer(when Timestamp, interval time.Duration, repeating bool, cb func()) TimerID {
	id := TimerID(atomic.AddUint64(&q.nextID, 1))
	q.loop.RunInLoop(func() {
		q.addTimerInLoop(&timerEntry{
			id:         id,
			seq:        q.nextSequence(),
			expiration: when,
			interval:   interval,
			repeating:  repeating,
			callback:   cb,
		})
	})
	return id
}

func (q *TimerQueue) nextSequence() uint64 {
	q.nextSeq++
	return q.nextSeq
}

func (q *TimerQueue) addTimerInLoop(e *timerEntry) {
	q.mu.Lock()
	earliestChanged := len(q.heap) == 0 || e.expiration.Before(q.heap[0].expiration)
	heap.Push(&q.heap, e)
	q.byID[e.id] = e
	q.mu.Unlock()

	if earliestChanged {
		q.resetTimerFD()
	}
}

// Cancel is safe to call from any thread, including from within the
// timer's own callback.
func (q *TimerQueue) Cancel(id TimerID) {
	q.loop.RunInLoop(func() {
		q.cancelInLoop(id)
	})
}

func (q *TimerQueue) cancelInLoop(id TimerID) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if e, ok := q.byID[id]; ok {
		delete(q.byID, id)
		heap.Remove(&q.heap, e.heapIndex)
		return
	}
	if q.callingExpired {
		q.cancelledMid[id] = true
	}
}

// NextExpiry reports the duration until the earliest pending timer, for
// use as EventLoop's poll timeout.
func (q *TimerQueue) NextExpiry() (time.Duration, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.heap) == 0 {
		return 0, false
	}
	d := q.heap[0].expiration.Sub(Now())
	if d < 0 {
		d = 0
	}
	return d, true
}

func (q *TimerQueue) handleRead(Timestamp) {
	var buf [8]byte
	_, _ = unix.Read(q.timerFD, buf[:])

	now := Now()
	expired := q.getExpired(now)

	q.callingExpired = true
	for _, e := range expired {
		e.callback()
	}
	q.callingExpired = false

	for _, e := range expired {
		if e.repeating && !q.cancelledMid[e.id] {
			e.expiration = now.Add(e.interval)
			q.mu.Lock()
			heap.Push(&q.heap, e)
			q.byID[e.id] = e
			q.mu.Unlock()
		}
	}
	q.cancelledMid = make(map[TimerID]bool)
	q.resetTimerFD()
}

func (q *TimerQueue) getExpired(now Timestamp) []*timerEntry {
	q.mu.Lock()
	defer q.mu.Unlock()

	var expired []*timerEntry
	for len(q.heap) > 0 && !q.heap[0].expiration.After(now) {
		e := heap.Pop(&q.heap).(*timerEntry)
		delete(q.byID, e.id)
		expired = append(expired, e)
	}
	return expired
}

func (q *TimerQueue) resetTimerFD() {
	q.mu.Lock()
	var delay time.Duration
	hasTimer := len(q.heap) > 0
	if hasTimer {
		delay = q.heap[0].expiration.Sub(Now())
		if delay < minTimerDelay {
			delay = minTimerDelay
		}
	}
	q.mu.Unlock()

	spec := unix.ItimerSpec{}
	if hasTimer {
		spec.Value = unix.NsecToTimespec(delay.Nanoseconds())
		if spec.Value.Sec == 0 && spec.Value.Nsec == 0 {
			spec.Value.Nsec = int64(minTimerDelay)
		}
	}
	_ = unix.TimerfdSettime(q.timerFD, 0, &spec, nil)
}
