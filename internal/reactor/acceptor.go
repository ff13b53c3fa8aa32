package reactor

import (
	"net"

	"golang.org/x/sys/unix"
)

// Acceptor holds one non-blocking, close-on-exec listen socket and hands
// accepted fds to a user-supplied callback. It always runs on the main
// loop.
type Acceptor struct {
	loop     *EventLoop
	socket   *Socket
	channel  *Channel
	listening bool

	idleFD int // reserve fd, accept-and-close on EMFILE to drain the backlog

	NewConnectionCallback func(fd int, peer net.Addr)
}

func NewAcceptor(loop *EventLoop, listenAddr string, reusePort bool) (*Acceptor, error) {
	fd, err := newNonblockingSocket(unix.AF_INET)
	if err != nil {
		return nil, err
	}
	sock := NewSocket(fd)
	if err := sock.SetReuseAddr(true); err != nil {
		return nil, err
	}
	if reusePort {
		if err := sock.SetReusePort(true); err != nil {
			return nil, err
		}
	}
	sa, _, err := resolveSockaddr(listenAddr)
	if err != nil {
		return nil, err
	}
	if err := sock.BindAddress(sa); err != nil {
		return nil, err
	}

	idleFD, _ := unix.Open("/dev/null", unix.O_RDONLY|unix.O_CLOEXEC, 0)

	a := &Acceptor{loop: loop, socket: sock, idleFD: idleFD}
	a.channel = NewChannel(loop, fd)
	a.channel.SetEdgeTriggered(false)
	a.channel.SetReadCallback(a.handleRead)
	return a, nil
}

func (a *Acceptor) Listen(backlog int) error {
	if err := a.socket.Listen(backlog); err != nil {
		return err
	}
	a.listening = true
	a.channel.EnableReading()
	return nil
}

func (a *Acceptor) handleRead(Timestamp) {
	for {
		fd, peer, err := a.socket.Accept()
		if err != nil {
			if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
				return
			}
			if err == unix.EMFILE {
				a.drainOnFDExhaustion()
				return
			}
			return
		}
		if a.NewConnectionCallback != nil {
			a.NewConnectionCallback(fd, peer)
		} else {
			_ = unix.Close(fd)
		}
	}
}

// drainOnFDExhaustion implements the optional "idle fd" reserve: close the
// spare fd, accept-and-immediately-close the head of the listen queue to
// relieve pressure, then reopen the reserve.
func (a *Acceptor) drainOnFDExhaustion() {
	if a.idleFD < 0 {
		return
	}
	_ = unix.Close(a.idleFD)
	nfd, _, err := a.socket.Accept()
	if err == nil {
		_ = unix.Close(nfd)
	}
	a.idleFD, _ = unix.Open("/dev/null", unix.O_RDONLY|unix.O_CLOEXEC, 0)
}

func (a *Acceptor) Close() error {
	a.channel.DisableAll()
	a.channel.Remove()
	if a.idleFD >= 0 {
		_ = unix.Close(a.idleFD)
	}
	return a.socket.Close()
}
