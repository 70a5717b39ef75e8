//go:build linux

// File: server/master.go
// Author: momentics <momentics@gmail.com>
//
// Master readiness loop: accepts connections, dispatches them to the worker
// pool, tracks completion notices and runs the shutdown sequence.

package server

import (
	"errors"
	"sync/atomic"

	"github.com/momentics/hioload-dispatch/api"
	"github.com/momentics/hioload-dispatch/control"
	"github.com/momentics/hioload-dispatch/internal/notify"
	"github.com/momentics/hioload-dispatch/pool"
	"github.com/momentics/hioload-dispatch/protocol"
	"github.com/momentics/hioload-dispatch/reactor"
	"github.com/momentics/hioload-dispatch/transport/tcp"
	"github.com/momentics/hioload-dispatch/worker"
	"go.uber.org/zap"
)

// Master owns the listener, the self-notification pipe, the reactor and the
// worker pool. Serve runs on a single goroutine; Shutdown, Stats, Addr and
// Port may be called from any goroutine.
type Master struct {
	cfg      *control.Config
	log      *zap.Logger
	listener *tcp.Listener
	notifier *notify.Notifier
	reactor  reactor.EventReactor
	pool     *pool.Registry
	metrics  *control.MetricsRegistry
	probes   *control.DebugProbes
	busy     []byte
	serving  atomic.Bool
}

// New performs every setup step. Failures are setup errors carrying the exit
// indicator of the failing step; partially acquired resources are released.
func New(cfg *control.Config, opts ...Option) (*Master, error) {
	if cfg == nil {
		cfg = control.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, api.SetupError(api.ExitConfig, "config", err)
	}

	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	if o.body == nil {
		o.body = worker.Body(worker.Config{
			Greeting:   []byte(cfg.Greeting),
			Hold:       cfg.Hold,
			ReadBuffer: cfg.ReadBuffer,
			MaxEvents:  cfg.MaxEvents,
			PinCPU:     cfg.PinWorkers,
		}, o.logger.Named("worker"))
	}

	m := &Master{
		cfg:     cfg,
		log:     o.logger.Named("master"),
		metrics: control.NewMetricsRegistry(),
		probes:  control.NewDebugProbes(),
		busy:    []byte(cfg.BusyMessage),
	}
	control.RegisterPlatformProbes(m.probes)

	ok := false
	defer func() {
		if !ok {
			m.closeResources()
		}
	}()

	var err error
	if m.listener, err = tcp.Listen(cfg.Address, cfg.Port, cfg.Backlog); err != nil {
		return nil, api.SetupError(api.ExitListen, "listen", err)
	}
	if m.reactor, err = reactor.New(); err != nil {
		return nil, api.SetupError(api.ExitReactor, "master reactor", err)
	}
	if m.notifier, err = notify.New(); err != nil {
		return nil, api.SetupError(api.ExitNotifier, "self-notification", err)
	}
	if err = m.reactor.Register(m.notifier.Fd()); err != nil {
		return nil, api.SetupError(api.ExitReactor, "register self-notification", err)
	}
	if m.pool, err = pool.New(cfg.Workers, o.body, m.log.Named("pool")); err != nil {
		return nil, api.SetupError(api.ExitPool, "worker pool", err)
	}
	if err = m.reactor.Register(m.listener.Fd()); err != nil {
		return nil, api.SetupError(api.ExitReactor, "register listener", err)
	}
	for i := range m.pool.Len() {
		if err = m.reactor.Register(m.pool.Worker(i).Channel.Fd()); err != nil {
			return nil, api.SetupError(api.ExitReactor, "register worker channel", err).WithContext("worker", i)
		}
	}

	m.publishPool()
	ok = true
	m.log.Info("master ready", zap.String("addr", m.listener.Addr()), zap.Int("workers", m.pool.Len()))
	return m, nil
}

// Addr returns the bound listen address.
func (m *Master) Addr() string {
	return m.listener.Addr()
}

// Port returns the bound listen port.
func (m *Master) Port() int {
	return m.listener.Port()
}

// Notifier exposes the self-notification channel so signal relays can feed it.
func (m *Master) Notifier() *notify.Notifier {
	return m.notifier
}

// Shutdown requests the shutdown sequence; Serve returns once it completes.
func (m *Master) Shutdown() error {
	return m.notifier.Notify()
}

// Stats returns counters, pool gauges and debug probes.
func (m *Master) Stats() map[string]any {
	out := m.metrics.GetSnapshot()
	for k, v := range m.probes.DumpState() {
		out["debug."+k] = v
	}
	return out
}

// Serve runs the readiness loop until a shutdown request has been carried out.
// It returns nil after a clean shutdown.
func (m *Master) Serve() error {
	if !m.serving.CompareAndSwap(false, true) {
		return errors.New("server: Serve called twice")
	}

	events := make([]reactor.Event, m.cfg.MaxEvents)
	for {
		n, err := m.reactor.Wait(events, -1)
		if err != nil {
			m.log.Error("readiness wait failed", zap.Error(err))
			m.shutdown()
			return api.NewError(api.ErrCodeInternal, api.ExitWait, "master wait").Wrap(err)
		}

		for _, ev := range events[:n] {
			switch {
			case ev.Fd == m.notifier.Fd():
				if _, err := m.notifier.Drain(); err != nil {
					m.log.Warn("drain self-notification", zap.Error(err))
				}
				m.log.Info("shutdown requested")
				m.shutdown()
				return nil
			case ev.Fd == m.listener.Fd():
				m.accept()
			default:
				if i, ok := m.pool.IndexOfFd(ev.Fd); ok {
					m.complete(i)
				}
			}
		}
	}
}

// accept takes one pending connection and hands it to an idle worker.
func (m *Master) accept() {
	conn, err := m.listener.Accept()
	if errors.Is(err, tcp.ErrWouldBlock) {
		return
	}
	if err != nil {
		m.log.Warn("accept failed", zap.Error(err))
		return
	}
	m.metrics.Inc(control.MetricAccepted)
	peer := conn.RemoteAddr()

	i, err := m.pool.Dispatch(conn)
	switch {
	case errors.Is(err, api.ErrPoolExhausted):
		m.reject(conn, peer)
	case err != nil:
		m.log.Warn("handoff failed, dropping connection", zap.String("peer", peer), zap.Int("worker", i), zap.Error(err))
		conn.Close()
		m.metrics.Inc(control.MetricDropped)
	default:
		m.log.Info("connection dispatched", zap.String("peer", peer), zap.Int("worker", i))
		m.metrics.Inc(control.MetricDispatched)
		m.publishPool()
	}
}

// reject tells the client the server is busy and disconnects it.
func (m *Master) reject(conn *tcp.Conn, peer string) {
	m.log.Info("pool exhausted, rejecting connection", zap.String("peer", peer))
	m.metrics.Inc(control.MetricRejected)
	if _, err := conn.Write(m.busy); err != nil {
		m.log.Debug("busy notice not delivered", zap.String("peer", peer), zap.Error(err))
	}
	conn.Close()
}

// complete consumes one message from worker i. Any well-formed non-handoff
// message is a completion notice; a failed receive detaches the worker.
func (m *Master) complete(i int) {
	d := m.pool.Worker(i)
	msg, err := d.Channel.Receive()
	if err == nil && msg.Kind == protocol.KindHandoff {
		msg.Discard()
		err = api.ErrMalformedMessage
	}
	if err != nil {
		m.detach(i, err)
		return
	}
	m.pool.MarkIdle(i)
	m.metrics.Inc(control.MetricCompleted)
	m.log.Debug("worker completed task", zap.Int("worker", i), zap.Stringer("kind", msg.Kind))
	m.publishPool()
}

// detach stops multiplexing a worker whose channel failed. The master keeps
// serving with the remaining workers; there is no restart.
func (m *Master) detach(i int, cause error) {
	d := m.pool.Worker(i)
	m.log.Error("worker channel failed, continuing without it", zap.Int("worker", i), zap.Error(cause))
	if err := m.reactor.Unregister(d.Channel.Fd()); err != nil {
		m.log.Warn("unregister worker channel", zap.Int("worker", i), zap.Error(err))
	}
	m.pool.MarkExited(i)
	m.metrics.Inc(control.MetricExited)
	m.publishPool()
}

// shutdown stops every worker in index order, then releases master resources.
func (m *Master) shutdown() {
	if err := m.pool.Shutdown(); err != nil {
		m.log.Warn("some workers failed", zap.Error(err))
	}
	m.publishPool()
	m.closeResources()
	m.log.Info("master stopped")
}

func (m *Master) publishPool() {
	if m.pool == nil {
		return
	}
	statuses := m.pool.Statuses()
	names := make([]string, len(statuses))
	for i, s := range statuses {
		names[i] = s.String()
	}
	m.metrics.Set(control.MetricPoolStatus, names)
	m.metrics.Set(control.MetricPoolIdle, m.pool.IdleCount())
}

func (m *Master) closeResources() {
	if m.pool != nil && !m.serving.Load() {
		m.pool.Shutdown()
	}
	if m.listener != nil {
		m.listener.Close()
	}
	if m.reactor != nil {
		m.reactor.Close()
	}
	if m.notifier != nil {
		m.notifier.Close()
	}
}
