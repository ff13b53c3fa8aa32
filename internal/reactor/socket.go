package reactor

import (
	"fmt"
	"net"

	"golang.org/x/sys/unix"
)

// Socket wraps a raw, non-blocking file descriptor with the handful of
// option setters and lifecycle operations the reactor runtime needs.
type Socket struct {
	fd int
}

func NewSocket(fd int) *Socket { return &Socket{fd: fd} }

func (s *Socket) FD() int { return s.fd }

func newNonblockingSocket(domain int) (int, error) {
	fd, err := unix.Socket(domain, unix.SOCK_STREAM|unix.SOCK_CLOEXEC|unix.SOCK_NONBLOCK, 0)
	if err != nil {
		return -1, fmt.Errorf("reactor: socket: %w", err)
	}
	return fd, nil
}

func (s *Socket) SetReuseAddr(on bool) error {
	return unix.SetsockoptInt(s.fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, boolToInt(on))
}

func (s *Socket) SetReusePort(on bool) error {
	return unix.SetsockoptInt(s.fd, unix.SOL_SOCKET, unix.SO_REUSEPORT, boolToInt(on))
}

func (s *Socket) SetKeepAlive(on bool) error {
	return unix.SetsockoptInt(s.fd, unix.SOL_SOCKET, unix.SO_KEEPALIVE, boolToInt(on))
}

func (s *Socket) SetNoDelay(on bool) error {
	return unix.SetsockoptInt(s.fd, unix.IPPROTO_TCP, unix.TCP_NODELAY, boolToInt(on))
}

func (s *Socket) BindAddress(addr unix.Sockaddr) error {
	if err := unix.Bind(s.fd, addr); err != nil {
		return fmt.Errorf("reactor: bind: %w", err)
	}
	return nil
}

func (s *Socket) Listen(backlog int) error {
	if backlog <= 0 {
		backlog = 5
	}
	if err := unix.Listen(s.fd, backlog); err != nil {
		return fmt.Errorf("reactor: listen: %w", err)
	}
	return nil
}

// Accept returns an accepted, non-blocking, close-on-exec connected socket
// fd plus the peer address. EAGAIN/EWOULDBLOCK is returned unwrapped so
// the Acceptor's read loop can distinguish "drained" from a real error.
func (s *Socket) Accept() (int, net.Addr, error) {
	nfd, sa, err := unix.Accept4(s.fd, unix.SOCK_CLOEXEC|unix.SOCK_NONBLOCK)
	if err != nil {
		return -1, nil, err
	}
	return nfd, sockaddrToAddr(sa), nil
}

func (s *Socket) ShutdownWrite() error {
	return unix.Shutdown(s.fd, unix.SHUT_WR)
}

func (s *Socket) Close() error { return unix.Close(s.fd) }

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func sockaddrToAddr(sa unix.Sockaddr) net.Addr {
	switch a := sa.(type) {
	case *unix.SockaddrInet4:
		return &net.TCPAddr{IP: net.IP(a.Addr[:]), Port: a.Port}
	case *unix.SockaddrInet6:
		return &net.TCPAddr{IP: net.IP(a.Addr[:]), Port: a.Port}
	default:
		return nil
	}
}

func resolveSockaddr(addr string) (unix.Sockaddr, int, error) {
	tcpAddr, err := net.ResolveTCPAddr("tcp", addr)
	if err != nil {
		return nil, 0, fmt.Errorf("reactor: resolve %q: %w", addr, err)
	}
	if tcpAddr.IP == nil {
		// A host-less address such as ":8000" means the IPv4 wildcard.
		return &unix.SockaddrInet4{Port: tcpAddr.Port}, unix.AF_INET, nil
	}
	if ip4 := tcpAddr.IP.To4(); ip4 != nil {
		sa := &unix.SockaddrInet4{Port: tcpAddr.Port}
		copy(sa.Addr[:], ip4)
		return sa, unix.AF_INET, nil
	}
	sa := &unix.SockaddrInet6{Port: tcpAddr.Port}
	copy(sa.Addr[:], tcpAddr.IP.To16())
	return sa, unix.AF_INET6, nil
}
