//go:build linux

package reactor_test

import (
	"testing"
	"time"

	"github.com/momentics/hioload-dispatch/reactor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func newPipe(t *testing.T) (r, w int) {
	t.Helper()
	var p [2]int
	require.NoError(t, unix.Pipe2(p[:], unix.O_CLOEXEC))
	t.Cleanup(func() {
		unix.Close(p[0])
		unix.Close(p[1])
	})
	return p[0], p[1]
}

func TestReactorReportsReadable(t *testing.T) {
	r, err := reactor.New()
	require.NoError(t, err)
	defer r.Close()

	rfd, wfd := newPipe(t)
	require.NoError(t, r.Register(rfd))

	events := make([]reactor.Event, 4)
	n, err := r.Wait(events, 10*time.Millisecond)
	require.NoError(t, err)
	assert.Zero(t, n, "nothing written yet")

	_, err = unix.Write(wfd, []byte{1})
	require.NoError(t, err)

	n, err = r.Wait(events, time.Second)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	assert.Equal(t, rfd, events[0].Fd)
	assert.True(t, events[0].Readable)
}

func TestReactorIsLevelTriggered(t *testing.T) {
	r, err := reactor.New()
	require.NoError(t, err)
	defer r.Close()

	rfd, wfd := newPipe(t)
	require.NoError(t, r.Register(rfd))
	_, err = unix.Write(wfd, []byte("xy"))
	require.NoError(t, err)

	events := make([]reactor.Event, 1)
	for i := 0; i < 2; i++ {
		n, err := r.Wait(events, time.Second)
		require.NoError(t, err)
		require.Equal(t, 1, n, "unconsumed data must stay ready")
	}
}

func TestReactorUnregister(t *testing.T) {
	r, err := reactor.New()
	require.NoError(t, err)
	defer r.Close()

	rfd, wfd := newPipe(t)
	require.NoError(t, r.Register(rfd))
	require.NoError(t, r.Unregister(rfd))
	_, err = unix.Write(wfd, []byte{1})
	require.NoError(t, err)

	n, err := r.Wait(make([]reactor.Event, 1), 20*time.Millisecond)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Error(t, r.Unregister(rfd), "double unregister")
}

func TestReactorHangup(t *testing.T) {
	r, err := reactor.New()
	require.NoError(t, err)
	defer r.Close()

	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, 0)
	require.NoError(t, err)
	defer unix.Close(fds[0])

	require.NoError(t, r.Register(fds[0]))
	require.NoError(t, unix.Close(fds[1]))

	events := make([]reactor.Event, 1)
	n, err := r.Wait(events, time.Second)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	assert.True(t, events[0].Hangup)
}

func TestReactorRejectsEmptyBuffer(t *testing.T) {
	r, err := reactor.New()
	require.NoError(t, err)
	defer r.Close()

	_, err = r.Wait(nil, 0)
	assert.Error(t, err)
}
