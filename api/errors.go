// Package api
// Author: momentics <momentics@gmail.com>
//
// Common error types, failure classification and process exit indicators.

package api

import (
	"errors"
	"fmt"
)

// Common errors used across the dispatcher.
var (
	ErrPoolExhausted     = errors.New("worker pool exhausted")
	ErrChannelClosed     = errors.New("control channel is closed")
	ErrPeerGone          = errors.New("control channel peer is gone")
	ErrMalformedMessage  = errors.New("malformed control message")
	ErrMissingHandle     = errors.New("handoff carries no connection handle")
	ErrHandleTransferred = errors.New("connection handle is closed or transferred")
	ErrInvalidArgument   = errors.New("invalid argument")
	ErrNotSupported      = errors.New("operation not supported")
)

// ErrorCode classifies a failure by how the system reacts to it.
type ErrorCode int

const (
	ErrCodeOK ErrorCode = iota
	// ErrCodeSetup aborts startup.
	ErrCodeSetup
	// ErrCodeProtocol is fatal to the loop that detected it.
	ErrCodeProtocol
	// ErrCodeResourceExhausted is recoverable; the connection is rejected.
	ErrCodeResourceExhausted
	// ErrCodeTransport is recoverable at the master; the connection is dropped.
	ErrCodeTransport
	ErrCodeInternal
)

func (c ErrorCode) String() string {
	switch c {
	case ErrCodeOK:
		return "ok"
	case ErrCodeSetup:
		return "setup"
	case ErrCodeProtocol:
		return "protocol"
	case ErrCodeResourceExhausted:
		return "resource_exhausted"
	case ErrCodeTransport:
		return "transport"
	default:
		return "internal"
	}
}

// ExitCode is the process-level failure indicator for a failure site.
type ExitCode int

const (
	ExitOK      ExitCode = 0
	ExitFailure ExitCode = 1

	ExitListen   ExitCode = 10
	ExitReactor  ExitCode = 11
	ExitNotifier ExitCode = 12
	ExitPool     ExitCode = 13
	ExitConfig   ExitCode = 14
	ExitWait     ExitCode = 15

	ExitWorkerReactor  ExitCode = 21
	ExitWorkerRegister ExitCode = 22
	ExitWorkerWait     ExitCode = 23
	ExitWorkerReceive  ExitCode = 25
	ExitWorkerAdopt    ExitCode = 26
	ExitWorkerGreeting ExitCode = 27
	ExitWorkerNotify   ExitCode = 28
)

// Error represents a structured error with classification, exit indicator and context.
type Error struct {
	Code    ErrorCode
	Exit    ExitCode
	Message string
	Err     error
	Context map[string]any
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Message
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	if len(e.Context) == 0 {
		return msg
	}
	return fmt.Sprintf("%s (context: %+v)", msg, e.Context)
}

// Unwrap exposes the underlying cause to errors.Is and errors.As.
func (e *Error) Unwrap() error {
	return e.Err
}

// NewError creates a new structured error.
func NewError(code ErrorCode, exit ExitCode, message string) *Error {
	return &Error{
		Code:    code,
		Exit:    exit,
		Message: message,
	}
}

// Wrap records the cause of e.
func (e *Error) Wrap(err error) *Error {
	e.Err = err
	return e
}

// WithContext adds context information to the error.
func (e *Error) WithContext(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// SetupError builds a startup failure for the given site.
func SetupError(exit ExitCode, message string, err error) *Error {
	return NewError(ErrCodeSetup, exit, message).Wrap(err)
}

// ProtocolError builds a loop-fatal failure for the given site.
func ProtocolError(exit ExitCode, message string, err error) *Error {
	return NewError(ErrCodeProtocol, exit, message).Wrap(err)
}

// CodeOf returns the classification of err, ErrCodeInternal when err is unstructured.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return ErrCodeOK
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ErrCodeInternal
}

// ExitCodeOf maps err to the process exit indicator of its failure site.
func ExitCodeOf(err error) ExitCode {
	if err == nil {
		return ExitOK
	}
	var e *Error
	if errors.As(err, &e) && e.Exit != ExitOK {
		return e.Exit
	}
	return ExitFailure
}
