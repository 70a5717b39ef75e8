//go:build !linux

// File: reactor/reactor_stub.go
// Author: momentics <momentics@gmail.com>
//
// Stub implementation for unsupported platforms.

package reactor

import (
	"fmt"

	"github.com/momentics/hioload-dispatch/api"
)

// New returns an error for unsupported platforms.
func New() (EventReactor, error) {
	return nil, fmt.Errorf("reactor: epoll unavailable: %w", api.ErrNotSupported)
}
