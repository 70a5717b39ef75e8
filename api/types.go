// File: api/types.go
// Author: momentics <momentics@gmail.com>
//
// Shared API-level type declarations and constants.

package api

// WorkerStatus enumerates the availability of a pool member as seen by the master.
type WorkerStatus int

const (
	StatusIdle WorkerStatus = iota
	StatusBusy
	// StatusExited marks a worker whose control channel failed; it is never selected again.
	StatusExited
)

func (s WorkerStatus) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusBusy:
		return "busy"
	case StatusExited:
		return "exited"
	default:
		return "unknown"
	}
}

// DefaultPoolSize is the number of workers in the reference deployment.
const DefaultPoolSize = 4
