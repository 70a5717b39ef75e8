// File: reactor/doc.go
// Author: momentics <momentics@gmail.com>

// Package reactor provides the level-triggered readiness multiplexer shared by
// the master and worker loops. Only Linux (epoll) is implemented; other
// platforms get a stub whose constructor fails at setup.
package reactor
