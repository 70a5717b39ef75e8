//go:build linux

// File: pool/registry.go
// Author: momentics <momentics@gmail.com>

package pool

import (
	"errors"
	"fmt"

	"github.com/momentics/hioload-dispatch/api"
	"github.com/momentics/hioload-dispatch/protocol"
	"github.com/momentics/hioload-dispatch/transport/tcp"
	"go.uber.org/zap"
)

// Body is the code a worker runs. It owns peer for the duration of the call;
// the registry closes peer after Body returns.
type Body func(index int, peer *protocol.Channel) error

// Descriptor is the master-side record of one worker.
type Descriptor struct {
	Index   int
	Unit    *Unit
	Channel *protocol.Channel
	Status  api.WorkerStatus
}

// Registry is the fixed-size, index-stable worker table. It is mutated only
// by the master loop and performs no locking.
type Registry struct {
	workers []*Descriptor
	byFd    map[int]int
	log     *zap.Logger
}

// New spawns n workers running body and returns them all idle.
// On failure every already-started worker is stopped.
func New(n int, body Body, logger *zap.Logger) (*Registry, error) {
	if n <= 0 {
		return nil, fmt.Errorf("%w: pool size %d", api.ErrInvalidArgument, n)
	}
	if body == nil {
		return nil, fmt.Errorf("%w: nil worker body", api.ErrInvalidArgument)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	r := &Registry{
		workers: make([]*Descriptor, 0, n),
		byFd:    make(map[int]int, n),
		log:     logger,
	}
	for i := range n {
		master, peer, err := protocol.Pair()
		if err != nil {
			r.abort()
			return nil, fmt.Errorf("worker %d control channel: %w", i, err)
		}
		unit := Go(func() error {
			defer peer.Close()
			return body(i, peer)
		})
		r.workers = append(r.workers, &Descriptor{
			Index:   i,
			Unit:    unit,
			Channel: master,
			Status:  api.StatusIdle,
		})
		r.byFd[master.Fd()] = i
		logger.Debug("worker spawned", zap.Int("worker", i), zap.Stringer("unit", unit.ID()), zap.Int("fd", master.Fd()))
	}
	return r, nil
}

// abort closes every master endpoint so spawned bodies see their peer gone, then waits for them.
func (r *Registry) abort() {
	for _, d := range r.workers {
		d.Channel.Close()
	}
	for _, d := range r.workers {
		d.Unit.Wait()
	}
}

// Len returns the pool size.
func (r *Registry) Len() int {
	return len(r.workers)
}

// Worker returns the descriptor at index.
func (r *Registry) Worker(index int) *Descriptor {
	return r.workers[index]
}

// IndexOfFd maps a master-side channel descriptor back to its worker.
func (r *Registry) IndexOfFd(fd int) (int, bool) {
	i, ok := r.byFd[fd]
	return i, ok
}

// SelectIdle returns the lowest-index idle worker.
func (r *Registry) SelectIdle() (int, bool) {
	for i, d := range r.workers {
		if d.Status == api.StatusIdle {
			return i, true
		}
	}
	return -1, false
}

// MarkBusy records a successful handoff.
func (r *Registry) MarkBusy(index int) {
	if d := r.workers[index]; d.Status == api.StatusIdle {
		d.Status = api.StatusBusy
	}
}

// MarkIdle records a completion notice. Marking an idle worker idle is a no-op.
func (r *Registry) MarkIdle(index int) {
	if d := r.workers[index]; d.Status == api.StatusBusy {
		d.Status = api.StatusIdle
	}
}

// MarkExited removes a worker from selection for the rest of the process.
func (r *Registry) MarkExited(index int) {
	r.workers[index].Status = api.StatusExited
}

// Dispatch hands conn to the first idle worker and returns its index.
// With no idle worker it returns api.ErrPoolExhausted and changes nothing.
// If the handoff cannot be sent the worker's status is left unchanged and
// conn still belongs to the caller.
func (r *Registry) Dispatch(conn *tcp.Conn) (int, error) {
	i, ok := r.SelectIdle()
	if !ok {
		return -1, api.ErrPoolExhausted
	}
	if err := r.workers[i].Channel.Send(protocol.Handoff(conn)); err != nil {
		return i, api.NewError(api.ErrCodeTransport, api.ExitOK, "handoff").
			Wrap(err).
			WithContext("worker", i)
	}
	r.MarkBusy(i)
	return i, nil
}

// Statuses returns a copy of every worker's status in index order.
func (r *Registry) Statuses() []api.WorkerStatus {
	out := make([]api.WorkerStatus, len(r.workers))
	for i, d := range r.workers {
		out[i] = d.Status
	}
	return out
}

// IdleCount returns how many workers can take a connection.
func (r *Registry) IdleCount() int {
	n := 0
	for _, d := range r.workers {
		if d.Status == api.StatusIdle {
			n++
		}
	}
	return n
}

// Shutdown stops the pool in index order: it sends Shutdown to a worker,
// waits for its unit to terminate, closes the channel, then moves on.
// Every worker is left StatusExited. It returns the joined errors of workers that failed.
func (r *Registry) Shutdown() error {
	var errs []error
	for _, d := range r.workers {
		log := r.log.With(zap.Int("worker", d.Index), zap.Stringer("status", d.Status))
		if err := d.Channel.Send(protocol.Shutdown()); err != nil {
			log.Warn("shutdown not delivered", zap.Error(err))
		}
		if err := d.Unit.Wait(); err != nil {
			log.Warn("worker terminated with error", zap.Error(err), zap.Int("exit", int(api.ExitCodeOf(err))))
			errs = append(errs, fmt.Errorf("worker %d: %w", d.Index, err))
		} else {
			log.Info("worker terminated")
		}
		d.Channel.Close()
		d.Status = api.StatusExited
	}
	return errors.Join(errs...)
}
