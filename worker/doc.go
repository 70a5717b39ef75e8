// File: worker/doc.go
// Author: momentics <momentics@gmail.com>

// Package worker implements the per-worker readiness loop.
//
// A worker multiplexes its control channel and every connection it has
// adopted. On a handoff it adopts the connection, writes the greeting, holds
// for the service interval and reports completion to the master. Connections
// stay open after the task until the client disconnects or the worker stops.
//
// Queued control messages are drained in FIFO order on each readiness cycle:
// handoffs queued ahead of a Shutdown are serviced, anything queued behind it
// is discarded.
package worker
