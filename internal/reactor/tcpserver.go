package reactor

import (
	"fmt"
	"net"
	"sync/atomic"
)

// TcpServer composes the Acceptor (on the main loop), an
// EventLoopThreadPool, and a registry of live connections keyed by connID.
type TcpServer struct {
	loop     *EventLoop
	name     string
	acceptor *Acceptor
	pool     *EventLoopThreadPool
	conns    *connRegistry

	nextConnID atomic.Uint64

	ConnectionCallback    func(*TcpConnection)
	MessageCallback       func(*TcpConnection, *Buffer, Timestamp)
	WriteCompleteCallback func(*TcpConnection)
}

func NewTcpServer(loop *EventLoop, name, listenAddr string, reusePort bool) (*TcpServer, error) {
	acceptor, err := NewAcceptor(loop, listenAddr, reusePort)
	if err != nil {
		return nil, err
	}
	s := &TcpServer{
		loop:     loop,
		name:     name,
		acceptor: acceptor,
		pool:     NewEventLoopThreadPool(loop),
		conns:    newConnRegistry(),
	}
	acceptor.NewConnectionCallback = s.newConnection
	return s, nil
}

// SetThreadNum configures the sub-reactor count. 0 means every connection
// stays on the main loop.
func (s *TcpServer) SetThreadNum(n int) error {
	if n < 0 {
		return fmt.Errorf("reactor: negative thread count")
	}
	return s.pool.Start(n)
}

func (s *TcpServer) Start(backlog int) error {
	return s.acceptor.Listen(backlog)
}

func (s *TcpServer) Stop() {
	s.conns.ForEach(func(c *TcpConnection) { c.ForceClose() })
	s.pool.Stop()
	s.loop.RunInLoop(func() { _ = s.acceptor.Close() })
}

func (s *TcpServer) ConnectionRegistry() *connRegistry { return s.conns }

func (s *TcpServer) ConnectionCount() int { return s.conns.Size() }

func (s *TcpServer) newConnection(fd int, peer net.Addr) {
	ioLoop := s.pool.GetNextLoop()
	connID := s.nextConnID.Add(1)
	name := fmt.Sprintf("%s:%s#%d", s.name, peer, connID)

	conn := newTcpConnection(ioLoop, name, connID, fd, nil, peer)
	conn.ConnectionCallback = s.ConnectionCallback
	conn.MessageCallback = s.MessageCallback
	conn.WriteCompleteCallback = s.WriteCompleteCallback
	conn.CloseCallback = s.removeConnection

	s.conns.Put(conn)

	ioLoop.RunInLoop(conn.connectEstablished)
}

// removeConnection marshals to the main loop to erase the registry entry,
// then posts connectDestroyed back onto the owning sub-reactor.
func (s *TcpServer) removeConnection(conn *TcpConnection) {
	s.loop.RunInLoop(func() {
		s.conns.Remove(conn.connID)
		conn.Loop().QueueInLoop(conn.connectDestroyed)
	})
}
