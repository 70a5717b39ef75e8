//go:build linux

// File: server/options.go
// Author: momentics <momentics@gmail.com>
//
// Functional options for the master.

package server

import (
	"github.com/momentics/hioload-dispatch/pool"
	"go.uber.org/zap"
)

// Option customizes master initialization.
type Option func(*options)

type options struct {
	logger *zap.Logger
	body   pool.Body
}

// WithLogger sets the logger; the default discards everything.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// WithWorkerBody replaces the worker loop run by every pool member.
func WithWorkerBody(body pool.Body) Option {
	return func(o *options) {
		o.body = body
	}
}
