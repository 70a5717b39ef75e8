// Package pool
// Author: momentics <momentics@gmail.com>
//
// Worker pool registry for the connection dispatcher.
//
// The registry owns one Descriptor per worker: its execution Unit, the master
// end of its control channel and its availability. Selection is
// earliest-index-first. Only the master loop touches the registry, so it
// carries no locks. Shutdown is sequential and blocking: each worker is told to
// stop and awaited before the next one is contacted.
package pool
