// File: pool/unit.go
// Author: momentics <momentics@gmail.com>

package pool

import (
	"fmt"

	"github.com/google/uuid"
)

// Unit is the execution unit running one worker body.
type Unit struct {
	id   uuid.UUID
	done chan struct{}
	err  error
}

// Go starts fn on its own goroutine. A panic in fn is converted into the unit's error.
func Go(fn func() error) *Unit {
	u := &Unit{id: uuid.New(), done: make(chan struct{})}
	go func() {
		defer close(u.done)
		defer func() {
			if r := recover(); r != nil {
				u.err = fmt.Errorf("worker unit %s panicked: %v", u.id, r)
			}
		}()
		u.err = fn()
	}()
	return u
}

// ID is the opaque identity of the unit.
func (u *Unit) ID() uuid.UUID {
	return u.id
}

// Done is closed when the unit has terminated.
func (u *Unit) Done() <-chan struct{} {
	return u.done
}

// Wait blocks until the unit terminates and returns the body's error.
func (u *Unit) Wait() error {
	<-u.done
	return u.err
}
