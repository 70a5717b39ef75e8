// File: reactor/reactor.go
// Author: momentics <momentics@gmail.com>
//
// Platform-neutral readiness reactor interface.

package reactor

import "time"

// EventReactor waits for read readiness on a set of descriptors.
// It is owned by a single loop and is not safe for concurrent use.
type EventReactor interface {
	// Register adds fd to the read-interest set.
	Register(fd int) error

	// Unregister removes fd. It must be called before fd is closed.
	Unregister(fd int) error

	// Wait blocks until at least one registered descriptor is ready or the
	// timeout elapses, and fills events. A negative timeout blocks forever.
	// An interrupted wait returns (0, nil).
	Wait(events []Event, timeout time.Duration) (n int, err error)

	// Close releases the multiplexer.
	Close() error
}

// Event describes one ready descriptor.
type Event struct {
	Fd       int
	Readable bool
	// Hangup is set when the peer closed or the descriptor is in error.
	Hangup bool
}

func timeoutMillis(d time.Duration) int {
	if d < 0 {
		return -1
	}
	ms := d.Milliseconds()
	if ms == 0 && d > 0 {
		return 1
	}
	return int(ms)
}
