//go:build linux

// File: internal/notify/notify.go
// Author: momentics <momentics@gmail.com>

// Package notify turns asynchronous termination requests into a readiness
// event: a non-blocking pipe whose read end is multiplexed by the master loop
// like any other source.
package notify

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"golang.org/x/sys/unix"
)

// marker is the byte written per request.
const marker = '2'

// Notifier is a self-pipe. Notify may be called from any goroutine; Drain and
// Fd belong to the loop that owns the read end.
type Notifier struct {
	rfd    int
	wfd    int
	mu     sync.RWMutex
	closed bool
}

// New creates the pipe with both ends non-blocking.
func New() (*Notifier, error) {
	var p [2]int
	if err := unix.Pipe2(p[:], unix.O_NONBLOCK|unix.O_CLOEXEC); err != nil {
		return nil, fmt.Errorf("create self-notification pipe: %w", err)
	}
	return &Notifier{rfd: p[0], wfd: p[1]}, nil
}

// Fd returns the read end.
func (n *Notifier) Fd() int {
	return n.rfd
}

// Notify posts one marker. A full pipe already holds a pending request, so
// EAGAIN is not an error.
func (n *Notifier) Notify() error {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.closed {
		return os.ErrClosed
	}
	for {
		_, err := unix.Write(n.wfd, []byte{marker})
		switch {
		case err == nil, errors.Is(err, unix.EAGAIN):
			return nil
		case errors.Is(err, unix.EINTR):
			continue
		default:
			return fmt.Errorf("write wake-up pipe: %w", err)
		}
	}
}

// Drain consumes every pending marker and returns how many were read.
func (n *Notifier) Drain() (int, error) {
	buf := make([]byte, 64)
	total := 0
	for {
		c, err := unix.Read(n.rfd, buf)
		switch {
		case errors.Is(err, unix.EINTR):
			continue
		case errors.Is(err, unix.EAGAIN):
			return total, nil
		case err != nil:
			return total, fmt.Errorf("read wake-up pipe: %w", err)
		case c == 0:
			return total, nil
		}
		total += c
	}
}

// Close releases both ends.
func (n *Notifier) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return nil
	}
	n.closed = true
	return errors.Join(unix.Close(n.rfd), unix.Close(n.wfd))
}

// Relay forwards every value received on sigs to n until ctx is done.
// Callers register sigs with signal.Notify before starting the relay.
func Relay(ctx context.Context, n *Notifier, sigs <-chan os.Signal) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case _, ok := <-sigs:
			if !ok {
				return nil
			}
			if err := n.Notify(); err != nil {
				return err
			}
		}
	}
}
