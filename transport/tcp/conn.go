//go:build linux

// File: transport/tcp/conn.go
// Author: momentics <momentics@gmail.com>

package tcp

import (
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"

	"github.com/momentics/hioload-dispatch/api"
	"golang.org/x/sys/unix"
)

type connState uint8

const (
	connOpen connState = iota
	connClosed
	connTransferred
)

// Conn is an owned, transferable stream socket descriptor.
type Conn struct {
	mu    sync.Mutex
	fd    int
	state connState
}

// NewConn takes ownership of fd.
func NewConn(fd int) *Conn {
	return &Conn{fd: fd}
}

// Fd returns the descriptor, or -1 once the handle is closed or transferred.
func (c *Conn) Fd() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != connOpen {
		return -1
	}
	return c.fd
}

// Read reads into p. A zero-length read reports io.EOF (peer disconnect).
func (c *Conn) Read(p []byte) (int, error) {
	fd, err := c.live()
	if err != nil {
		return 0, err
	}
	for {
		n, err := unix.Read(fd, p)
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if err != nil {
			return 0, fmt.Errorf("read fd %d: %w", fd, err)
		}
		if n == 0 && len(p) > 0 {
			return 0, io.EOF
		}
		return n, nil
	}
}

// Write writes all of p. SIGPIPE is suppressed; a closed peer yields EPIPE.
func (c *Conn) Write(p []byte) (int, error) {
	fd, err := c.live()
	if err != nil {
		return 0, err
	}
	written := 0
	for written < len(p) {
		n, err := unix.SendmsgN(fd, p[written:], nil, nil, unix.MSG_NOSIGNAL)
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if err != nil {
			return written, fmt.Errorf("write fd %d: %w", fd, err)
		}
		written += n
	}
	return written, nil
}

// Close releases the descriptor. Closing twice is a no-op.
func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != connOpen {
		return nil
	}
	c.state = connClosed
	return unix.Close(c.fd)
}

// Release closes the local copy of a descriptor whose ownership moved elsewhere.
// The handle is marked transferred even when close fails.
func (c *Conn) Release() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != connOpen {
		return api.ErrHandleTransferred
	}
	c.state = connTransferred
	return unix.Close(c.fd)
}

// Transferred reports whether Release was called.
func (c *Conn) Transferred() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == connTransferred
}

// RemoteAddr returns the peer address, or "" when it is not an inet socket.
func (c *Conn) RemoteAddr() string {
	fd, err := c.live()
	if err != nil {
		return ""
	}
	sa, err := unix.Getpeername(fd)
	if err != nil {
		return ""
	}
	return sockaddrString(sa)
}

func (c *Conn) live() (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != connOpen {
		return -1, api.ErrHandleTransferred
	}
	return c.fd, nil
}

func sockaddrString(sa unix.Sockaddr) string {
	switch a := sa.(type) {
	case *unix.SockaddrInet4:
		return net.JoinHostPort(net.IP(a.Addr[:]).String(), strconv.Itoa(a.Port))
	case *unix.SockaddrInet6:
		return net.JoinHostPort(net.IP(a.Addr[:]).String(), strconv.Itoa(a.Port))
	default:
		return ""
	}
}
