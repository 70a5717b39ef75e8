// File: server/doc.go
// Author: momentics <momentics@gmail.com>

// Package server contains the master side of the dispatcher.
//
// A Master listens on a TCP port, spawns a fixed pool of workers and
// multiplexes three kinds of descriptors in one readiness loop: the listening
// socket, the self-notification pipe and the master end of every worker
// control channel. New connections go to the lowest-index idle worker; when
// none is idle the client receives a busy notice and is disconnected.
// A shutdown request stops the workers one at a time in index order.
package server
