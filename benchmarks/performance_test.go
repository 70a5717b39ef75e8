//go:build linux

// Package benchmarks
// Author: momentics <momentics@gmail.com>
//
// Performance benchmarks for the dispatch path.

package benchmarks

import (
	"testing"

	"github.com/momentics/hioload-dispatch/pool"
	"github.com/momentics/hioload-dispatch/protocol"
	"github.com/momentics/hioload-dispatch/transport/tcp"
	"golang.org/x/sys/unix"
)

func socket(b *testing.B) *tcp.Conn {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		b.Fatal(err)
	}
	unix.Close(fds[1])
	return tcp.NewConn(fds[0])
}

// BenchmarkHandoffRoundTrip measures one descriptor transfer plus its receipt.
func BenchmarkHandoffRoundTrip(b *testing.B) {
	master, peer, err := protocol.Pair()
	if err != nil {
		b.Fatal(err)
	}
	defer master.Close()
	defer peer.Close()

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if err := master.Send(protocol.Handoff(socket(b))); err != nil {
			b.Fatal(err)
		}
		msg, err := peer.Receive()
		if err != nil {
			b.Fatal(err)
		}
		msg.Discard()
	}
}

// BenchmarkDispatchCompletion measures Dispatch followed by the worker's completion notice.
func BenchmarkDispatchCompletion(b *testing.B) {
	body := func(_ int, peer *protocol.Channel) error {
		for {
			msg, err := peer.Receive()
			if err != nil {
				return err
			}
			if msg.Kind == protocol.KindShutdown {
				return nil
			}
			msg.Discard()
			if err := peer.Send(protocol.Done()); err != nil {
				return err
			}
		}
	}
	r, err := pool.New(1, body, nil)
	if err != nil {
		b.Fatal(err)
	}
	defer r.Shutdown()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		idx, err := r.Dispatch(socket(b))
		if err != nil {
			b.Fatal(err)
		}
		if _, err := r.Worker(idx).Channel.Receive(); err != nil {
			b.Fatal(err)
		}
		r.MarkIdle(idx)
	}
}
