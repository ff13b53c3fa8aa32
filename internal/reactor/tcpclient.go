package reactor

import (
	"net"
	"sync"
	"sync/atomic"
)

// TcpClient composes a Connector and a reconnectable TcpConnection. Used
// by the mock-AGV-facing parts of this lineage's test tooling; the
// gateway itself only ever plays the TcpServer role.
type TcpClient struct {
	loop      *EventLoop
	connector *Connector
	name      string
	retry     bool

	mu   sync.Mutex
	conn *TcpConnection

	nextConnID atomic.Uint64

	ConnectionCallback func(*TcpConnection)
	MessageCallback    func(*TcpConnection, *Buffer, Timestamp)
}

func NewTcpClient(loop *EventLoop, name, serverAddr string) *TcpClient {
	c := &TcpClient{loop: loop, name: name}
	c.connector = NewConnector(loop, serverAddr)
	c.connector.NewConnectionCallback = c.newConnection
	return c
}

func (c *TcpClient) EnableRetry() { c.retry = true }

func (c *TcpClient) Connect() { c.connector.Start() }

func (c *TcpClient) Disconnect() {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn != nil {
		conn.Shutdown()
	}
}

func (c *TcpClient) Connection() *TcpConnection {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn
}

func (c *TcpClient) newConnection(fd int, peer net.Addr) {
	connID := c.nextConnID.Add(1)
	conn := newTcpConnection(c.loop, c.name, connID, fd, nil, peer)
	conn.ConnectionCallback = c.ConnectionCallback
	conn.MessageCallback = c.MessageCallback
	conn.CloseCallback = c.removeConnection

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	c.loop.RunInLoop(conn.connectEstablished)
}

func (c *TcpClient) removeConnection(conn *TcpConnection) {
	c.loop.QueueInLoop(conn.connectDestroyed)
	c.mu.Lock()
	c.conn = nil
	c.mu.Unlock()
	if c.retry {
		c.connector.Start()
	}
}
