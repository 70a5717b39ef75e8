//go:build linux

// File: protocol/channel_linux.go
// Author: momentics <momentics@gmail.com>
//
// Control channel over an AF_UNIX SOCK_SEQPACKET socketpair.

package protocol

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/momentics/hioload-dispatch/api"
	"github.com/momentics/hioload-dispatch/transport/tcp"
	"golang.org/x/sys/unix"
)

// Channel is one endpoint of a master/worker control channel. Each endpoint
// is driven by a single loop; Close must not race with Send or Receive.
type Channel struct {
	fd     int
	closed atomic.Bool
}

// Pair creates a connected channel. By convention the first endpoint stays
// with the master and the second is given to the worker.
func Pair() (master, worker *Channel, err error) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_SEQPACKET|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, nil, fmt.Errorf("socketpair: %w", err)
	}
	return &Channel{fd: fds[0]}, &Channel{fd: fds[1]}, nil
}

// Fd returns the descriptor for readiness registration.
func (c *Channel) Fd() int {
	return c.fd
}

// Send writes m. For a handoff the connection descriptor is attached as
// SCM_RIGHTS and, once the datagram is accepted by the kernel, the sender's
// copy is released. On error the sender keeps ownership of m.Conn; once the
// kernel has the datagram Send reports success.
func (c *Channel) Send(m Message) error {
	if c.closed.Load() {
		return api.ErrChannelClosed
	}
	tag, err := m.Kind.Tag()
	if err != nil {
		return err
	}

	var oob []byte
	if m.Kind == KindHandoff {
		if m.Conn == nil {
			return api.ErrMissingHandle
		}
		fd := m.Conn.Fd()
		if fd < 0 {
			return api.ErrHandleTransferred
		}
		oob = unix.UnixRights(fd)
	}

	for {
		_, err = unix.SendmsgN(c.fd, []byte(tag), oob, nil, unix.MSG_NOSIGNAL)
		if !errors.Is(err, unix.EINTR) {
			break
		}
	}
	if err != nil {
		return fmt.Errorf("send %s: %w", m.Kind, err)
	}

	if m.Kind == KindHandoff {
		// The peer owns the descriptor now. A failed close of the local copy
		// still frees it, so the handoff stands.
		_ = m.Conn.Release()
	}
	return nil
}

// Receive blocks for the next message.
func (c *Channel) Receive() (Message, error) {
	m, _, err := c.receive(0)
	return m, err
}

// TryReceive returns the next queued message without blocking; ok is false
// when nothing is queued.
func (c *Channel) TryReceive() (m Message, ok bool, err error) {
	return c.receive(unix.MSG_DONTWAIT)
}

func (c *Channel) receive(flags int) (Message, bool, error) {
	if c.closed.Load() {
		return Message{}, false, api.ErrChannelClosed
	}

	buf := make([]byte, maxTagLen)
	oob := make([]byte, unix.CmsgSpace(4))

	var (
		n, oobn, rflags int
		err             error
	)
	for {
		n, oobn, rflags, _, err = unix.Recvmsg(c.fd, buf, oob, flags|unix.MSG_CMSG_CLOEXEC)
		if !errors.Is(err, unix.EINTR) {
			break
		}
	}
	switch {
	case flags&unix.MSG_DONTWAIT != 0 && errors.Is(err, unix.EAGAIN):
		return Message{}, false, nil
	case err != nil:
		return Message{}, false, fmt.Errorf("recvmsg: %w", err)
	}

	fds, rightsErr := parseRights(oob[:oobn])
	closeAll := func() {
		for _, fd := range fds {
			unix.Close(fd)
		}
	}

	if n == 0 && oobn == 0 {
		return Message{}, false, api.ErrPeerGone
	}
	if rflags&(unix.MSG_TRUNC|unix.MSG_CTRUNC) != 0 {
		closeAll()
		return Message{}, false, fmt.Errorf("%w: truncated datagram", api.ErrMalformedMessage)
	}
	if rightsErr != nil {
		closeAll()
		return Message{}, false, fmt.Errorf("%w: %v", api.ErrMalformedMessage, rightsErr)
	}

	kind, err := ParseTag(buf[:n])
	if err != nil {
		closeAll()
		return Message{}, false, err
	}

	switch kind {
	case KindHandoff:
		if len(fds) != 1 {
			closeAll()
			return Message{}, false, fmt.Errorf("%w: %d descriptors attached", api.ErrMissingHandle, len(fds))
		}
		return Handoff(tcp.NewConn(fds[0])), true, nil
	default:
		if len(fds) != 0 {
			closeAll()
			return Message{}, false, fmt.Errorf("%w: descriptor attached to %s", api.ErrMalformedMessage, kind)
		}
		return Message{Kind: kind}, true, nil
	}
}

// parseRights extracts every descriptor carried in SCM_RIGHTS control messages.
func parseRights(oob []byte) ([]int, error) {
	if len(oob) == 0 {
		return nil, nil
	}
	msgs, err := unix.ParseSocketControlMessage(oob)
	if err != nil {
		return nil, err
	}
	var fds []int
	for i := range msgs {
		if msgs[i].Header.Level != unix.SOL_SOCKET || msgs[i].Header.Type != unix.SCM_RIGHTS {
			continue
		}
		rights, err := unix.ParseUnixRights(&msgs[i])
		if err != nil {
			return fds, err
		}
		fds = append(fds, rights...)
	}
	return fds, nil
}

// Close closes this endpoint; the peer observes ErrPeerGone.
func (c *Channel) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	return unix.Close(c.fd)
}
