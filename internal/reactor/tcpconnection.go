package reactor

import (
	"fmt"
	"net"
	"time"

	"golang.org/x/sys/unix"
)

type ConnState int32

const (
	StateConnecting ConnState = iota
	StateConnected
	StateDisconnecting
	StateDisconnected
)

func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "Connecting"
	case StateConnected:
		return "Connected"
	case StateDisconnecting:
		return "Disconnecting"
	case StateDisconnected:
		return "Disconnected"
	default:
		return "Unknown"
	}
}

const DefaultHighWaterMark = 64 * 1024 * 1024

// TcpConnection is a per-connection state machine with its own input and
// output Buffer, scoped callbacks, and a loop affinity it never leaves.
// It has no identity of its own in Go's memory model (no manual
// ref-counting); the "shared ownership" the original design describes is
// just Go's garbage collector plus the fact that TcpServer's connection
// registry, any in-flight Channel callback, and any WorkerTask's resolved
// reference all keep a *TcpConnection reachable for as long as they need
// it.
type TcpConnection struct {
	loop *EventLoop
	name string

	socket  *Socket
	channel *Channel

	localAddr net.Addr
	peerAddr  net.Addr

	state ConnState

	input  *Buffer
	output *Buffer

	highWaterMark int

	connID uint64

	ConnectionCallback    func(*TcpConnection)
	MessageCallback       func(*TcpConnection, *Buffer, Timestamp)
	WriteCompleteCallback func(*TcpConnection)
	HighWaterMarkCallback func(*TcpConnection, int)
	CloseCallback         func(*TcpConnection)

	faultError bool
}

func newTcpConnection(loop *EventLoop, name string, connID uint64, fd int, local, peer net.Addr) *TcpConnection {
	c := &TcpConnection{
		loop:          loop,
		name:          name,
		connID:        connID,
		socket:        NewSocket(fd),
		localAddr:     local,
		peerAddr:      peer,
		state:         StateConnecting,
		input:         NewBuffer(),
		output:        NewBuffer(),
		highWaterMark: DefaultHighWaterMark,
	}
	c.channel = NewChannel(loop, fd)
	c.channel.SetEdgeTriggered(true)
	c.channel.SetReadCallback(c.handleRead)
	c.channel.SetWriteCallback(c.handleWrite)
	c.channel.SetCloseCallback(c.handleClose)
	c.channel.SetErrorCallback(c.handleError)
	_ = c.socket.SetNoDelay(true)
	_ = c.socket.SetKeepAlive(true)
	return c
}

func (c *TcpConnection) Name() string       { return c.name }
func (c *TcpConnection) ConnID() uint64     { return c.connID }
func (c *TcpConnection) Loop() *EventLoop   { return c.loop }
func (c *TcpConnection) LocalAddr() net.Addr { return c.localAddr }
func (c *TcpConnection) PeerAddr() net.Addr  { return c.peerAddr }
func (c *TcpConnection) State() ConnState   { return c.state }
func (c *TcpConnection) Connected() bool    { return c.state == StateConnected }

// connectEstablished transitions Connecting -> Connected and arms reading.
// Must run on the owning loop.
func (c *TcpConnection) connectEstablished() {
	c.loop.assertInLoopThread()
	c.state = StateConnected
	c.channel.Tie(func() bool { return true })
	c.channel.EnableReading()
	if c.ConnectionCallback != nil {
		c.ConnectionCallback(c)
	}
}

// connectDestroyed runs after the close callback chain completes, giving
// the Channel a last chance to detach from the poller.
func (c *TcpConnection) connectDestroyed() {
	c.loop.assertInLoopThread()
	if c.state == StateConnected {
		c.state = StateDisconnected
		c.channel.DisableAll()
	}
	c.channel.Remove()
}

func (c *TcpConnection) handleRead(receiveTime Timestamp) {
	n, err := c.input.ReadFromFD(c.channel.FD())
	switch {
	case n == 0 && err == nil:
		c.handleClose()
	case err != nil && err != unix.EAGAIN && err != unix.EWOULDBLOCK:
		c.handleError()
	case n > 0:
		if c.MessageCallback != nil {
			c.MessageCallback(c, c.input, receiveTime)
		}
	}
}

func (c *TcpConnection) handleWrite() {
	if !c.channel.IsWriting() {
		return
	}
	n, err := unix.Write(c.channel.FD(), c.output.Peek())
	if err != nil {
		if err != unix.EAGAIN && err != unix.EWOULDBLOCK {
			c.faultError = true
		}
		return
	}
	c.output.Retrieve(n)
	if c.output.ReadableBytes() == 0 {
		c.channel.DisableWriting()
		if c.WriteCompleteCallback != nil {
			c.WriteCompleteCallback(c)
		}
		if c.state == StateDisconnecting {
			c.shutdownInLoop()
		}
	}
}

func (c *TcpConnection) handleClose() {
	c.loop.assertInLoopThread()
	c.state = StateDisconnected
	c.channel.DisableAll()
	if c.ConnectionCallback != nil {
		c.ConnectionCallback(c)
	}
	if c.CloseCallback != nil {
		c.CloseCallback(c)
	}
}

func (c *TcpConnection) handleError() {
	c.handleClose()
}

// Send queues bytes for transmission, marshaling to the loop thread if
// necessary. Matches the original direct-write-then-buffer strategy.
func (c *TcpConnection) Send(data []byte) {
	if c.state != StateConnected {
		return
	}
	if c.loop.IsInLoopThread() {
		c.sendInLoop(data)
		return
	}
	buf := append([]byte(nil), data...)
	c.loop.RunInLoop(func() { c.sendInLoop(buf) })
}

func (c *TcpConnection) sendInLoop(data []byte) {
	if c.state == StateDisconnected {
		return
	}
	remaining := data
	if !c.channel.IsWriting() && c.output.ReadableBytes() == 0 {
		n, err := unix.Write(c.channel.FD(), data)
		switch {
		case err == nil:
			remaining = data[n:]
			if len(remaining) == 0 {
				if c.WriteCompleteCallback != nil {
					c.loop.QueueInLoop(func() { c.WriteCompleteCallback(c) })
				}
				return
			}
		case err == unix.EAGAIN || err == unix.EWOULDBLOCK:
			// fall through, buffer the whole payload below
		case err == unix.EPIPE || err == unix.ECONNRESET:
			c.faultError = true
			return
		default:
			return
		}
	}

	before := c.output.ReadableBytes()
	c.output.Append(remaining)
	after := c.output.ReadableBytes()
	if before < c.highWaterMark && after >= c.highWaterMark && c.HighWaterMarkCallback != nil {
		c.loop.QueueInLoop(func() { c.HighWaterMarkCallback(c, after) })
	}
	if !c.channel.IsWriting() {
		c.channel.EnableWriting()
	}
}

// Shutdown initiates a graceful half-close: Disconnecting, shutdown(WR)
// once the output buffer drains.
func (c *TcpConnection) Shutdown() {
	c.loop.RunInLoop(func() {
		if c.state != StateConnected {
			return
		}
		c.state = StateDisconnecting
		if !c.channel.IsWriting() {
			c.shutdownInLoop()
		}
	})
}

func (c *TcpConnection) shutdownInLoop() {
	if !c.channel.IsWriting() {
		_ = c.socket.ShutdownWrite()
	}
}

// ForceClose marshals a synthetic close event onto the owning loop.
func (c *TcpConnection) ForceClose() {
	if c.state == StateConnected || c.state == StateDisconnecting {
		c.state = StateDisconnecting
		c.loop.QueueInLoop(c.handleClose)
	}
}

// ForceCloseWithDelay schedules ForceClose via a timer, guarded so a
// connection destroyed before the timer fires is silently skipped.
func (c *TcpConnection) ForceCloseWithDelay(d time.Duration, registry *connRegistry) {
	id := c.connID
	c.loop.RunAfter(d, func() {
		if conn, ok := registry.Get(id); ok {
			conn.ForceClose()
		}
	})
}

func (c *TcpConnection) String() string {
	return fmt.Sprintf("TcpConnection{%s %s peer=%s}", c.name, c.state, c.peerAddr)
}
