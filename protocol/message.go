//go:build linux

// Package protocol
// Author: momentics <momentics@gmail.com>
//
// Control-channel messages exchanged between the master and one worker.
//
// Each message is one datagram whose payload is a fixed ASCII tag. A handoff
// additionally carries exactly one connection descriptor as SCM_RIGHTS
// ancillary data; the other kinds never carry a descriptor.

package protocol

import (
	"fmt"

	"github.com/momentics/hioload-dispatch/api"
	"github.com/momentics/hioload-dispatch/transport/tcp"
)

// Kind identifies a control message.
type Kind uint8

const (
	KindInvalid Kind = iota
	// KindHandoff transfers one connection from master to worker.
	KindHandoff
	// KindShutdown tells a worker to leave its loop.
	KindShutdown
	// KindDone is the completion notice a worker sends after its task.
	KindDone
)

// Wire tags.
const (
	TagHandoff  = "HANDOFF"
	TagShutdown = "SHUTDOWN"
	TagDone     = "DONE"
)

// maxTagLen bounds the receive buffer; longer payloads are truncated and rejected.
const maxTagLen = 32

func (k Kind) String() string {
	switch k {
	case KindHandoff:
		return "handoff"
	case KindShutdown:
		return "shutdown"
	case KindDone:
		return "done"
	default:
		return "invalid"
	}
}

// Tag returns the wire literal of k.
func (k Kind) Tag() (string, error) {
	switch k {
	case KindHandoff:
		return TagHandoff, nil
	case KindShutdown:
		return TagShutdown, nil
	case KindDone:
		return TagDone, nil
	default:
		return "", fmt.Errorf("%w: kind %d", api.ErrInvalidArgument, k)
	}
}

// ParseTag maps a wire literal back to its Kind.
func ParseTag(tag []byte) (Kind, error) {
	switch string(tag) {
	case TagHandoff:
		return KindHandoff, nil
	case TagShutdown:
		return KindShutdown, nil
	case TagDone:
		return KindDone, nil
	default:
		return KindInvalid, fmt.Errorf("%w: unknown tag %q", api.ErrMalformedMessage, tag)
	}
}

// Message is a tagged control value. Conn is set only for KindHandoff.
type Message struct {
	Kind Kind
	Conn *tcp.Conn
}

// Handoff builds a message transferring c.
func Handoff(c *tcp.Conn) Message {
	return Message{Kind: KindHandoff, Conn: c}
}

// Shutdown builds a shutdown request.
func Shutdown() Message {
	return Message{Kind: KindShutdown}
}

// Done builds a completion notice.
func Done() Message {
	return Message{Kind: KindDone}
}

// Discard closes the connection carried by m, if any.
func (m Message) Discard() {
	if m.Conn != nil {
		m.Conn.Close()
	}
}
