package reactor

import "golang.org/x/sys/unix"

// pollState tracks a Channel's registration state with the Poller, reusing
// the tombstone-style New/Added/Deleted states from the original design so
// a removed channel's slot can be re-added cheaply.
type pollState int

const (
	pollStateNew pollState = iota
	pollStateAdded
	pollStateDeleted
)

const (
	readEvent  = unix.EPOLLIN | unix.EPOLLPRI
	writeEvent = unix.EPOLLOUT
)

// Channel binds one file descriptor to one EventLoop and routes readiness
// events to read/write/close/error callbacks. A Channel must be removed via
// Remove before the underlying fd is closed.
type Channel struct {
	loop   *EventLoop
	fd     int
	events uint32

	revents uint32
	index   pollState

	edgeTriggered bool
	oneShot       bool

	readCallback  func(Timestamp)
	writeCallback func()
	closeCallback func()
	errorCallback func()

	tied  bool
	tieFn func() bool // returns false when the tied owner is gone

	eventHandling bool
	removed       bool
}

func NewChannel(loop *EventLoop, fd int) *Channel {
	return &Channel{loop: loop, fd: fd, index: pollStateNew}
}

func (c *Channel) FD() int { return c.fd }

func (c *Channel) SetReadCallback(fn func(Timestamp)) { c.readCallback = fn }
func (c *Channel) SetWriteCallback(fn func())         { c.writeCallback = fn }
func (c *Channel) SetCloseCallback(fn func())         { c.closeCallback = fn }
func (c *Channel) SetErrorCallback(fn func())         { c.errorCallback = fn }

// Tie extends the channel's owner lifetime across one event dispatch. fn
// must report whether the owner is still alive; the channel invokes no
// callback at all when it isn't.
func (c *Channel) Tie(fn func() bool) {
	c.tied = true
	c.tieFn = fn
}

// SetEdgeTriggered selects edge-triggered mode, optionally with one-shot
// re-arming. The listen socket uses edge-triggered without one-shot; data
// sockets and Connector sockets use edge-triggered with one-shot.
func (c *Channel) SetEdgeTriggered(oneShot bool) {
	c.edgeTriggered = true
	c.oneShot = oneShot
}

func (c *Channel) EnableReading()  { c.events |= readEvent; c.update() }
func (c *Channel) DisableReading() { c.events &^= readEvent; c.update() }
func (c *Channel) EnableWriting()  { c.events |= writeEvent; c.update() }
func (c *Channel) DisableWriting() { c.events &^= writeEvent; c.update() }
func (c *Channel) DisableAll()     { c.events = 0; c.update() }

func (c *Channel) IsWriting() bool   { return c.events&writeEvent != 0 }
func (c *Channel) IsReading() bool   { return c.events&readEvent != 0 }
func (c *Channel) IsNoneEvent() bool { return c.events == 0 }

func (c *Channel) pollEvents() uint32 {
	ev := c.events
	if c.edgeTriggered {
		ev |= unix.EPOLLET
	}
	if c.oneShot {
		ev |= unix.EPOLLONESHOT
	}
	return ev
}

func (c *Channel) setRevents(ev uint32) { c.revents = ev }

func (c *Channel) update() {
	c.loop.assertInLoopThread()
	c.loop.updateChannel(c)
}

// Remove detaches the channel from its loop's poller permanently. Panics
// (a programmer error, per the error taxonomy) if the channel is still
// registered for any event.
func (c *Channel) Remove() {
	c.loop.assertInLoopThread()
	if !c.IsNoneEvent() {
		panic("reactor: removing a Channel that still has registered events")
	}
	c.removed = true
	c.loop.removeChannel(c)
}

// HandleEvent demultiplexes the channel's pending revents to the
// appropriate callback slot.
func (c *Channel) HandleEvent(receiveTime Timestamp) {
	if c.tied {
		if !c.tieFn() {
			return
		}
	}
	c.handleEventWithGuard(receiveTime)
}

func (c *Channel) handleEventWithGuard(receiveTime Timestamp) {
	c.eventHandling = true
	defer func() { c.eventHandling = false }()

	// EPOLLONESHOT disarms the fd after delivering this single event,
	// regardless of which bits fired and regardless of which callback
	// branch below returns early; re-arm with the current interest mask
	// so the next readiness event is still delivered. A channel that got
	// itself removed mid-dispatch (closeCallback tearing down its owner
	// synchronously) must not be re-armed.
	defer func() {
		if c.oneShot && !c.removed {
			c.update()
		}
	}()

	if c.revents&unix.EPOLLHUP != 0 && c.revents&unix.EPOLLIN == 0 {
		if c.closeCallback != nil {
			c.closeCallback()
		}
		return
	}
	if c.revents&unix.EPOLLERR != 0 {
		if c.errorCallback != nil {
			c.errorCallback()
		}
	}
	if c.revents&(unix.EPOLLIN|unix.EPOLLPRI|unix.EPOLLRDHUP) != 0 {
		if c.readCallback != nil {
			c.readCallback(receiveTime)
		}
	}
	if c.revents&unix.EPOLLOUT != 0 {
		if c.writeCallback != nil {
			c.writeCallback()
		}
	}
}
