package reactor

import (
	"net"
	"time"

	"golang.org/x/sys/unix"
)

const (
	connectorInitRetryDelay = 500 * time.Millisecond
	connectorMaxRetryDelay  = 30 * time.Second
)

// Connector performs non-blocking connects with exponential-backoff retry
// and self-connect detection.
type Connector struct {
	loop       *EventLoop
	serverAddr string
	connected  bool
	connecting bool
	retryDelay time.Duration
	channel    *Channel

	NewConnectionCallback func(fd int, peer net.Addr)
}

func NewConnector(loop *EventLoop, serverAddr string) *Connector {
	return &Connector{loop: loop, serverAddr: serverAddr, retryDelay: connectorInitRetryDelay}
}

func (c *Connector) Start() {
	c.loop.RunInLoop(c.connect)
}

func (c *Connector) Stop() {
	c.connecting = false
}

func (c *Connector) connect() {
	sa, domain, err := resolveSockaddr(c.serverAddr)
	if err != nil {
		return
	}
	fd, err := newNonblockingSocket(domain)
	if err != nil {
		return
	}
	err = unix.Connect(fd, sa)
	switch {
	case err == nil, err == unix.EINPROGRESS:
		c.connecting = true
		c.connecting_(fd)
	case err == unix.EAGAIN, err == unix.EADDRINUSE, err == unix.EADDRNOTAVAIL, err == unix.ECONNREFUSED, err == unix.ENETUNREACH:
		_ = unix.Close(fd)
		c.retry()
	default:
		_ = unix.Close(fd)
	}
}

func (c *Connector) connecting_(fd int) {
	c.channel = NewChannel(c.loop, fd)
	c.channel.SetEdgeTriggered(true)
	c.channel.SetWriteCallback(func() { c.handleWrite(fd) })
	c.channel.SetErrorCallback(func() { c.handleError(fd) })
	c.channel.EnableWriting()
}

func (c *Connector) handleWrite(fd int) {
	if !c.connecting {
		return
	}
	c.removeChannel()

	if c.isSelfConnect(fd) {
		_ = unix.Close(fd)
		c.retry()
		return
	}
	local, _ := unix.Getsockname(fd)
	peer, _ := unix.Getpeername(fd)
	c.connected = true
	c.retryDelay = connectorInitRetryDelay
	if c.NewConnectionCallback != nil {
		c.NewConnectionCallback(fd, sockaddrToAddr(peer))
	}
	_ = local
}

func (c *Connector) handleError(fd int) {
	c.removeChannel()
	_ = unix.Close(fd)
	c.retry()
}

func (c *Connector) removeChannel() {
	if c.channel == nil {
		return
	}
	c.channel.DisableAll()
	c.channel.Remove()
	c.channel = nil
}

// isSelfConnect detects the case where a non-blocking connect raced onto
// an ephemeral port that happens to equal the peer's, on the same IP —
// the kernel's way of telling us we connected to ourselves.
func (c *Connector) isSelfConnect(fd int) bool {
	local, err := unix.Getsockname(fd)
	if err != nil {
		return false
	}
	peer, err := unix.Getpeername(fd)
	if err != nil {
		return false
	}
	lp, pp := portOf(local), portOf(peer)
	return lp == pp && addrOf(local) == addrOf(peer)
}

func (c *Connector) retry() {
	if !c.connecting {
		return
	}
	delay := c.retryDelay
	c.loop.RunAfter(delay, c.connect)
	c.retryDelay *= 2
	if c.retryDelay > connectorMaxRetryDelay {
		c.retryDelay = connectorMaxRetryDelay
	}
}

func portOf(sa unix.Sockaddr) int {
	switch a := sa.(type) {
	case *unix.SockaddrInet4:
		return a.Port
	case *unix.SockaddrInet6:
		return a.Port
	default:
		return -1
	}
}

func addrOf(sa unix.Sockaddr) string {
	switch a := sa.(type) {
	case *unix.SockaddrInet4:
		return net.IP(a.Addr[:]).String()
	case *unix.SockaddrInet6:
		return net.IP(a.Addr[:]).String()
	default:
		return ""
	}
}
