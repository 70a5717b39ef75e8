// File: affinity/affinity.go
// Author: momentics <momentics@gmail.com>
//
// Platform-neutral API for CPU affinity. Platform-specific implementations are located
// in separate files guarded by build tags.

package affinity

import "runtime"

// Pin locks the calling goroutine to its OS thread and binds that thread to cpu.
// The lock is kept on success, so the thread is discarded when the goroutine exits.
func Pin(cpu int) error {
	runtime.LockOSThread()
	if err := setAffinityPlatform(cpu); err != nil {
		runtime.UnlockOSThread()
		return err
	}
	return nil
}

// CPUFor spreads worker indices round-robin over the logical CPUs.
func CPUFor(index int) int {
	n := runtime.NumCPU()
	if index < 0 || n <= 0 {
		return 0
	}
	return index % n
}
