//go:build linux

// File: transport/tcp/listener.go
// Author: momentics <momentics@gmail.com>

package tcp

import (
	"errors"
	"fmt"
	"net"

	"github.com/momentics/hioload-dispatch/api"
	"golang.org/x/sys/unix"
)

// DefaultBacklog matches the accept queue length of the reference deployment.
const DefaultBacklog = 10

// ErrWouldBlock is returned by Accept when no connection is pending.
var ErrWouldBlock = errors.New("tcp: no pending connection")

// Listener owns a non-blocking IPv4 listening socket.
type Listener struct {
	fd   int
	port int
	addr string
}

// Listen creates, binds and listens on address:port. Port 0 picks an ephemeral port.
func Listen(address string, port, backlog int) (*Listener, error) {
	ip := net.ParseIP(address).To4()
	if ip == nil {
		return nil, fmt.Errorf("%w: %q is not an IPv4 address", api.ErrInvalidArgument, address)
	}
	if port < 0 || port > 65535 {
		return nil, fmt.Errorf("%w: port %d", api.ErrInvalidArgument, port)
	}
	if backlog <= 0 {
		backlog = DefaultBacklog
	}

	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("socket: %w", err)
	}
	fail := func(op string, err error) (*Listener, error) {
		unix.Close(fd)
		return nil, fmt.Errorf("%s %s:%d: %w", op, address, port, err)
	}

	// SO_REUSEADDR allows binding to an address in TIME_WAIT state.
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		return fail("setsockopt SO_REUSEADDR", err)
	}
	if err := unix.Bind(fd, &unix.SockaddrInet4{Port: port, Addr: [4]byte(ip)}); err != nil {
		return fail("bind", err)
	}
	if err := unix.Listen(fd, backlog); err != nil {
		return fail("listen", err)
	}

	l := &Listener{fd: fd}
	sa, err := unix.Getsockname(fd)
	if err != nil {
		return fail("getsockname", err)
	}
	if in4, ok := sa.(*unix.SockaddrInet4); ok {
		l.port = in4.Port
	}
	l.addr = sockaddrString(sa)
	return l, nil
}

// Fd returns the listening descriptor for readiness registration.
func (l *Listener) Fd() int {
	return l.fd
}

// Addr returns the bound host:port.
func (l *Listener) Addr() string {
	return l.addr
}

// Port returns the bound port.
func (l *Listener) Port() int {
	return l.port
}

// Accept returns the next pending connection as a blocking descriptor.
// ErrWouldBlock means the readiness was spurious or the client already left.
func (l *Listener) Accept() (*Conn, error) {
	for {
		nfd, _, err := unix.Accept4(l.fd, unix.SOCK_CLOEXEC)
		switch {
		case err == nil:
			return NewConn(nfd), nil
		case errors.Is(err, unix.EINTR):
			continue
		case errors.Is(err, unix.EAGAIN), errors.Is(err, unix.ECONNABORTED):
			return nil, ErrWouldBlock
		default:
			return nil, fmt.Errorf("accept: %w", err)
		}
	}
}

// Close shuts down the listener.
func (l *Listener) Close() error {
	return unix.Close(l.fd)
}
