package ipc

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrClosed is returned by operations on a closed session, endpoint or transport
	ErrClosed = errors.New("ipc: connection closed")
	// ErrProtocolViolation marks a peer that broke the envelope or handshake rules
	ErrProtocolViolation = errors.New("ipc: protocol violation")
	// ErrDuplicateSession is returned when a pool already holds a live session for the key
	ErrDuplicateSession = errors.New("ipc: duplicate session")
	// ErrPoolDestroyed is returned when creating a session in a destroyed pool
	ErrPoolDestroyed = errors.New("ipc: pool destroyed")
	// ErrNotFound marks a missing module or route
	ErrNotFound = errors.New("ipc: not found")
	// ErrUnexpectedResponse marks a response whose req_id has no pending request
	ErrUnexpectedResponse = fmt.Errorf("%w: unexpected response", ErrProtocolViolation)
)

// RemoteError is returned by Session.Request when the peer answered
// the request with an Error envelope instead of a Response.
type RemoteError struct {
	ReqID  uint64
	Reason string
	Code   int
}

func (e *RemoteError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("ipc: remote error %d for request %d: %s", e.Code, e.ReqID, e.Reason)
	}
	return fmt.Sprintf("ipc: remote error for request %d: %s", e.ReqID, e.Reason)
}

// StatusError lets a handler choose the status of its error response
type StatusError struct {
	Status int
	Err    error
}

// NewStatusError creates a StatusError from a message
func NewStatusError(status int, format string, args ...any) *StatusError {
	return &StatusError{Status: status, Err: fmt.Errorf(format, args...)}
}

func (e *StatusError) Error() string {
	return e.Err.Error()
}

func (e *StatusError) Unwrap() error {
	return e.Err
}

// StatusFor maps a handler error to a response status
func StatusFor(err error) int {
	var se *StatusError
	switch {
	case errors.As(err, &se):
		return se.Status
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}
