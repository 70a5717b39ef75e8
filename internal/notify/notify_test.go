//go:build linux

package notify_test

import (
	"context"
	"os"
	"syscall"
	"testing"
	"time"

	"github.com/momentics/hioload-dispatch/internal/notify"
	"github.com/momentics/hioload-dispatch/reactor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNotifyMakesReadEndReady(t *testing.T) {
	n, err := notify.New()
	require.NoError(t, err)
	defer n.Close()

	r, err := reactor.New()
	require.NoError(t, err)
	defer r.Close()
	require.NoError(t, r.Register(n.Fd()))

	events := make([]reactor.Event, 1)
	got, err := r.Wait(events, 10*time.Millisecond)
	require.NoError(t, err)
	assert.Zero(t, got)

	require.NoError(t, n.Notify())
	require.NoError(t, n.Notify())

	got, err = r.Wait(events, time.Second)
	require.NoError(t, err)
	require.Equal(t, 1, got)
	assert.Equal(t, n.Fd(), events[0].Fd)

	drained, err := n.Drain()
	require.NoError(t, err)
	assert.Equal(t, 2, drained)

	drained, err = n.Drain()
	require.NoError(t, err)
	assert.Zero(t, drained)
}

func TestNotifyAfterClose(t *testing.T) {
	n, err := notify.New()
	require.NoError(t, err)
	require.NoError(t, n.Close())
	require.NoError(t, n.Close())
	assert.ErrorIs(t, n.Notify(), os.ErrClosed)
}

func TestRelayForwardsSignals(t *testing.T) {
	n, err := notify.New()
	require.NoError(t, err)
	defer n.Close()

	sigs := make(chan os.Signal, 1)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- notify.Relay(ctx, n, sigs) }()

	sigs <- syscall.SIGINT
	require.Eventually(t, func() bool {
		c, err := n.Drain()
		return err == nil && c == 1
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("relay did not stop on cancel")
	}
}
