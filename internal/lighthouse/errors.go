package lighthouse

import (
	"context"
	"errors"
)

// Domain errors. Use errors.Is() to check for these in calling code.
var (
	// ErrConfiguration is returned for invalid or inconsistent startup parameters.
	ErrConfiguration = errors.New("lighthouse: invalid configuration")

	// ErrConnection is returned when a link could not be established within
	// the retry budget.
	ErrConnection = errors.New("lighthouse: connection failed")

	// ErrWrite is returned when a characteristic write fails.
	ErrWrite = errors.New("lighthouse: characteristic write failed")

	// ErrRead is returned when a characteristic read fails.
	ErrRead = errors.New("lighthouse: characteristic read failed")

	// ErrDisconnected marks a transient, disconnection-class transport failure.
	// Link implementations wrap it; it is the only retryable failure.
	ErrDisconnected = errors.New("lighthouse: link disconnected")

	// ErrNotConnected is returned for I/O attempted without an open link.
	ErrNotConnected = errors.New("lighthouse: not connected")
)

// ErrorKind is the closed set of failure classes.
type ErrorKind int

// Error kinds.
const (
	KindNone ErrorKind = iota
	KindConfiguration
	KindConnection
	KindWrite
	KindRead
	KindTransport
	KindCanceled
)

// String returns the kind's name as used in logs, MQTT payloads and history rows.
func (k ErrorKind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindConfiguration:
		return "configuration"
	case KindConnection:
		return "connection"
	case KindWrite:
		return "write"
	case KindRead:
		return "read"
	case KindTransport:
		return "transport"
	case KindCanceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// KindOf classifies err. Anything not recognised is KindTransport.
func KindOf(err error) ErrorKind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrConfiguration):
		return KindConfiguration
	case errors.Is(err, ErrConnection):
		return KindConnection
	case errors.Is(err, ErrWrite):
		return KindWrite
	case errors.Is(err, ErrRead):
		return KindRead
	case errors.Is(err, context.Canceled):
		return KindCanceled
	default:
		return KindTransport
	}
}

// IsRetryable reports whether err is a disconnection-class failure.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrDisconnected)
}
