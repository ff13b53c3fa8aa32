package reactor

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startEchoServer(t *testing.T, addr string) (*TcpServer, *EventLoop) {
	t.Helper()
	loop, err := NewEventLoop()
	require.NoError(t, err)

	srv, err := NewTcpServer(loop, "test", addr, true)
	require.NoError(t, err)
	srv.MessageCallback = func(conn *TcpConnection, buf *Buffer, _ Timestamp) {
		conn.Send(buf.RetrieveAsBytes(buf.ReadableBytes()))
	}
	require.NoError(t, srv.Start(128))

	go loop.Loop()
	t.Cleanup(func() {
		srv.Stop()
		loop.Quit()
	})
	return srv, loop
}

// received collects every MessageCallback invocation's bytes, safe for
// concurrent use from the client's own loop goroutine.
type received struct {
	mu    sync.Mutex
	chunks [][]byte
}

func (r *received) add(b []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.chunks = append(r.chunks, append([]byte(nil), b...))
}

func (r *received) total() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, c := range r.chunks {
		n += len(c)
	}
	return n
}

func startClient(t *testing.T, addr string) (*TcpClient, *EventLoop, *received) {
	t.Helper()
	loop, err := NewEventLoop()
	require.NoError(t, err)

	client := NewTcpClient(loop, "test-client", addr)
	rec := &received{}
	client.MessageCallback = func(conn *TcpConnection, buf *Buffer, _ Timestamp) {
		rec.add(buf.RetrieveAsBytes(buf.ReadableBytes()))
	}
	client.Connect()

	go loop.Loop()
	t.Cleanup(func() { loop.Quit() })
	return client, loop, rec
}

// TestTcpConnectionSurvivesMultipleReadEvents guards the EPOLLONESHOT
// re-arm: a connection must keep being serviced across more than one
// read-readiness event, not just the first.
func TestTcpConnectionSurvivesMultipleReadEvents(t *testing.T) {
	addr := "127.0.0.1:18171"
	startEchoServer(t, addr)
	client, _, rec := startClient(t, addr)

	require.Eventually(t, func() bool { return client.Connection() != nil }, time.Second, time.Millisecond)

	for i := 0; i < 5; i++ {
		client.Connection().Send([]byte("ping"))
		time.Sleep(5 * time.Millisecond)
	}

	assert.Eventually(t, func() bool { return rec.total() == 5*len("ping") }, 2*time.Second, 5*time.Millisecond)
}

func TestTcpServerHandlesMultipleClients(t *testing.T) {
	addr := "127.0.0.1:18172"
	srv, _ := startEchoServer(t, addr)

	const n = 4
	clients := make([]*TcpClient, n)
	recs := make([]*received, n)
	for i := 0; i < n; i++ {
		clients[i], _, recs[i] = startClient(t, addr)
	}

	for i := 0; i < n; i++ {
		idx := i
		require.Eventually(t, func() bool { return clients[idx].Connection() != nil }, time.Second, time.Millisecond)
	}
	assert.Eventually(t, func() bool { return srv.ConnectionCount() == n }, time.Second, 5*time.Millisecond)

	for i := 0; i < n; i++ {
		clients[i].Connection().Send([]byte("hello"))
	}
	for i := 0; i < n; i++ {
		idx := i
		assert.Eventually(t, func() bool { return recs[idx].total() == len("hello") }, time.Second, 5*time.Millisecond)
	}
}

func TestEventLoopRunAfterFiresOnce(t *testing.T) {
	loop, err := NewEventLoop()
	require.NoError(t, err)
	go loop.Loop()
	defer loop.Quit()

	var fired int32
	var mu sync.Mutex
	loop.RunAfter(10*time.Millisecond, func() {
		mu.Lock()
		fired++
		mu.Unlock()
	})

	time.Sleep(100 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, int32(1), fired)
}

func TestEventLoopCancelTimerPreventsFiring(t *testing.T) {
	loop, err := NewEventLoop()
	require.NoError(t, err)
	go loop.Loop()
	defer loop.Quit()

	var fired bool
	var mu sync.Mutex
	id := loop.RunAfter(30*time.Millisecond, func() {
		mu.Lock()
		fired = true
		mu.Unlock()
	})
	loop.CancelTimer(id)

	time.Sleep(80 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	assert.False(t, fired)
}

func TestEventLoopRunInLoopFromOtherGoroutine(t *testing.T) {
	loop, err := NewEventLoop()
	require.NoError(t, err)
	go loop.Loop()
	defer loop.Quit()

	done := make(chan bool, 1)
	loop.RunInLoop(func() {
		done <- loop.IsInLoopThread()
	})

	select {
	case inLoop := <-done:
		assert.True(t, inLoop)
	case <-time.After(time.Second):
		t.Fatal("RunInLoop callback never ran")
	}
}
