//go:build linux

package tcp_test

import (
	"io"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/momentics/hioload-dispatch/api"
	"github.com/momentics/hioload-dispatch/transport/tcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func acceptOne(t *testing.T, l *tcp.Listener) *tcp.Conn {
	t.Helper()
	var c *tcp.Conn
	require.Eventually(t, func() bool {
		var err error
		c, err = l.Accept()
		return err == nil
	}, time.Second, 5*time.Millisecond)
	return c
}

func TestListenAcceptRoundTrip(t *testing.T) {
	l, err := tcp.Listen("127.0.0.1", 0, 0)
	require.NoError(t, err)
	defer l.Close()
	require.NotZero(t, l.Port())
	assert.Equal(t, net.JoinHostPort("127.0.0.1", strconv.Itoa(l.Port())), l.Addr())

	_, err = l.Accept()
	assert.ErrorIs(t, err, tcp.ErrWouldBlock)

	client, err := net.Dial("tcp", l.Addr())
	require.NoError(t, err)
	defer client.Close()

	conn := acceptOne(t, l)
	defer conn.Close()
	assert.Equal(t, client.LocalAddr().String(), conn.RemoteAddr())

	n, err := conn.Write([]byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	buf := make([]byte, 5)
	_, err = io.ReadFull(client, buf)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(buf))

	_, err = client.Write([]byte("ping"))
	require.NoError(t, err)
	n, err = conn.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "ping", string(buf[:n]))

	require.NoError(t, client.Close())
	_, err = conn.Read(buf)
	assert.ErrorIs(t, err, io.EOF)
}

func TestListenRejectsBadAddress(t *testing.T) {
	_, err := tcp.Listen("not-an-ip", 0, 0)
	assert.ErrorIs(t, err, api.ErrInvalidArgument)

	_, err = tcp.Listen("127.0.0.1", 70000, 0)
	assert.ErrorIs(t, err, api.ErrInvalidArgument)
}

func TestListenAddressInUse(t *testing.T) {
	l, err := tcp.Listen("127.0.0.1", 0, 0)
	require.NoError(t, err)
	defer l.Close()

	_, err = tcp.Listen("127.0.0.1", l.Port(), 0)
	assert.Error(t, err)
}

func TestConnReleaseForbidsReuse(t *testing.T) {
	l, err := tcp.Listen("127.0.0.1", 0, 0)
	require.NoError(t, err)
	defer l.Close()

	client, err := net.Dial("tcp", l.Addr())
	require.NoError(t, err)
	defer client.Close()

	conn := acceptOne(t, l)
	require.NotEqual(t, -1, conn.Fd())
	require.NoError(t, conn.Release())

	assert.True(t, conn.Transferred())
	assert.Equal(t, -1, conn.Fd())
	_, err = conn.Write([]byte("x"))
	assert.ErrorIs(t, err, api.ErrHandleTransferred)
	_, err = conn.Read(make([]byte, 1))
	assert.ErrorIs(t, err, api.ErrHandleTransferred)
	assert.ErrorIs(t, conn.Release(), api.ErrHandleTransferred)
	assert.NoError(t, conn.Close())
}

func TestConnReleaseMarksTransferredWhenCloseFails(t *testing.T) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, 0)
	require.NoError(t, err)
	defer unix.Close(fds[1])

	conn := tcp.NewConn(fds[0])
	require.NoError(t, unix.Close(fds[0]))

	assert.ErrorIs(t, conn.Release(), unix.EBADF)
	assert.True(t, conn.Transferred())
	assert.Equal(t, -1, conn.Fd())
}
