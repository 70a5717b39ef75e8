//go:build linux

// File: worker/worker.go
// Author: momentics <momentics@gmail.com>
//
// Worker readiness loop over the control channel and adopted connections.

package worker

import (
	"errors"
	"io"
	"time"

	"github.com/eapache/queue"
	"github.com/momentics/hioload-dispatch/affinity"
	"github.com/momentics/hioload-dispatch/api"
	"github.com/momentics/hioload-dispatch/pool"
	"github.com/momentics/hioload-dispatch/protocol"
	"github.com/momentics/hioload-dispatch/reactor"
	"github.com/momentics/hioload-dispatch/transport/tcp"
	"go.uber.org/zap"
)

// Config describes the fixed per-connection task.
type Config struct {
	Greeting   []byte
	Hold       time.Duration
	ReadBuffer int
	MaxEvents  int
	// PinCPU binds the worker's thread to CPU index modulo NumCPU.
	PinCPU bool
}

// DefaultConfig mirrors the reference deployment: a 5-byte greeting and a 5s hold.
func DefaultConfig() Config {
	return Config{
		Greeting:   []byte("hello"),
		Hold:       5 * time.Second,
		ReadBuffer: 60,
		MaxEvents:  16,
	}
}

// State is the informal phase of a worker loop.
type State uint8

const (
	WAITING State = iota
	RUNNING
	CLOSED
)

func (s State) String() string {
	switch s {
	case WAITING:
		return "WAITING"
	case RUNNING:
		return "RUNNING"
	case CLOSED:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// Worker is a single-threaded readiness loop bound to one control channel.
type Worker struct {
	index   int
	ch      *protocol.Channel
	cfg     Config
	log     *zap.Logger
	reactor reactor.EventReactor
	conns   map[int]*tcp.Conn
	backlog *queue.Queue
	state   State
}

// New prepares a worker; Run starts it.
func New(index int, ch *protocol.Channel, cfg Config, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ReadBuffer <= 0 {
		cfg.ReadBuffer = DefaultConfig().ReadBuffer
	}
	if cfg.MaxEvents <= 0 {
		cfg.MaxEvents = DefaultConfig().MaxEvents
	}
	return &Worker{
		index:   index,
		ch:      ch,
		cfg:     cfg,
		log:     logger.With(zap.Int("worker", index)),
		conns:   make(map[int]*tcp.Conn),
		backlog: queue.New(),
		state:   WAITING,
	}
}

// Body adapts the worker to a pool body with a shared config and logger.
func Body(cfg Config, logger *zap.Logger) pool.Body {
	return func(index int, peer *protocol.Channel) error {
		return New(index, peer, cfg, logger).Run()
	}
}

// State returns the loop phase. It is only meaningful from the worker's own goroutine.
func (w *Worker) State() State {
	return w.state
}

// Run executes the loop until Shutdown (nil) or a fatal error, whose exit
// indicator identifies the failing step.
func (w *Worker) Run() error {
	if w.cfg.PinCPU {
		cpu := affinity.CPUFor(w.index)
		if err := affinity.Pin(cpu); err != nil {
			w.log.Warn("cpu pinning failed, running unpinned", zap.Int("cpu", cpu), zap.Error(err))
		} else {
			w.log.Debug("pinned", zap.Int("cpu", cpu))
		}
	}

	r, err := reactor.New()
	if err != nil {
		return api.SetupError(api.ExitWorkerReactor, "worker reactor", err).WithContext("worker", w.index)
	}
	w.reactor = r
	defer func() {
		w.releaseAll()
		w.reactor.Close()
		w.state = CLOSED
		w.log.Debug("worker loop closed")
	}()

	if err := r.Register(w.ch.Fd()); err != nil {
		return api.SetupError(api.ExitWorkerRegister, "register control channel", err).WithContext("worker", w.index)
	}

	w.log.Info("worker started")
	events := make([]reactor.Event, w.cfg.MaxEvents)
	for {
		n, err := r.Wait(events, -1)
		if err != nil {
			return api.NewError(api.ErrCodeInternal, api.ExitWorkerWait, "worker wait").Wrap(err).WithContext("worker", w.index)
		}

		for _, ev := range events[:n] {
			if ev.Fd == w.ch.Fd() {
				stop, err := w.handleControl()
				if err != nil {
					return err
				}
				if stop {
					w.log.Info("shutdown received, leaving loop", zap.Int("open_conns", len(w.conns)))
					return nil
				}
				continue
			}
			w.handleClient(ev.Fd)
		}
	}
}

// handleControl drains every queued control message and services it in order.
func (w *Worker) handleControl() (stop bool, err error) {
	msg, err := w.ch.Receive()
	if err != nil {
		return false, w.receiveError(err)
	}
	w.backlog.Add(msg)
	for {
		next, ok, err := w.ch.TryReceive()
		if err != nil {
			w.discardBacklog()
			return false, w.receiveError(err)
		}
		if !ok {
			break
		}
		w.backlog.Add(next)
	}

	for w.backlog.Length() > 0 {
		m := w.backlog.Remove().(protocol.Message)
		switch m.Kind {
		case protocol.KindShutdown:
			w.discardBacklog()
			return true, nil
		case protocol.KindHandoff:
			if err := w.serve(m.Conn); err != nil {
				w.discardBacklog()
				return false, err
			}
		default:
			w.discardBacklog()
			return false, w.receiveError(errors.New("unexpected " + m.Kind.String() + " from master"))
		}
	}
	return false, nil
}

func (w *Worker) receiveError(err error) error {
	w.log.Error("control channel failure", zap.Error(err))
	return api.ProtocolError(api.ExitWorkerReceive, "control receive", err).WithContext("worker", w.index)
}

// discardBacklog closes the connections of handoffs that will never be serviced.
func (w *Worker) discardBacklog() {
	for w.backlog.Length() > 0 {
		m := w.backlog.Remove().(protocol.Message)
		if m.Conn != nil {
			w.log.Warn("discarding queued handoff", zap.Stringer("kind", m.Kind))
			m.Discard()
		}
	}
}

// serve adopts conn and runs the fixed task on it.
func (w *Worker) serve(conn *tcp.Conn) error {
	w.state = RUNNING
	defer func() { w.state = WAITING }()

	fd := conn.Fd()
	log := w.log.With(zap.Int("fd", fd), zap.String("peer", conn.RemoteAddr()))
	if err := w.reactor.Register(fd); err != nil {
		conn.Close()
		return api.ProtocolError(api.ExitWorkerAdopt, "adopt connection", err).WithContext("worker", w.index)
	}
	w.conns[fd] = conn
	log.Debug("connection adopted")

	if _, err := conn.Write(w.cfg.Greeting); err != nil {
		log.Error("greeting failed", zap.Error(err))
		return api.NewError(api.ErrCodeTransport, api.ExitWorkerGreeting, "write greeting").Wrap(err).WithContext("worker", w.index)
	}

	// Service interval; not cancellable.
	time.Sleep(w.cfg.Hold)

	if err := w.ch.Send(protocol.Done()); err != nil {
		log.Error("completion notice failed", zap.Error(err))
		return api.NewError(api.ErrCodeTransport, api.ExitWorkerNotify, "notify master").Wrap(err).WithContext("worker", w.index)
	}
	log.Info("task complete")
	return nil
}

// handleClient reads from an adopted connection; a zero-length read releases it.
func (w *Worker) handleClient(fd int) {
	conn, ok := w.conns[fd]
	if !ok {
		return
	}
	buf := make([]byte, w.cfg.ReadBuffer)
	n, err := conn.Read(buf)
	switch {
	case errors.Is(err, io.EOF):
		w.log.Info("client disconnected", zap.Int("fd", fd))
		w.release(fd)
	case err != nil:
		w.log.Warn("client read failed", zap.Int("fd", fd), zap.Error(err))
		w.release(fd)
	default:
		w.log.Info("client data", zap.Int("fd", fd), zap.ByteString("data", buf[:n]))
	}
}

func (w *Worker) release(fd int) {
	conn, ok := w.conns[fd]
	if !ok {
		return
	}
	if err := w.reactor.Unregister(fd); err != nil {
		w.log.Warn("unregister connection", zap.Int("fd", fd), zap.Error(err))
	}
	delete(w.conns, fd)
	if err := conn.Close(); err != nil {
		w.log.Warn("close connection", zap.Int("fd", fd), zap.Error(err))
	}
}

func (w *Worker) releaseAll() {
	for fd := range w.conns {
		w.release(fd)
	}
	w.discardBacklog()
}
