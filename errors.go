package blip

import (
	"errors"
	"fmt"
)

// Sentinel errors for conditions callers commonly want to match with
// errors.Is.
var (
	ErrConnectionClosed   = errors.New("blip: connection is closed")
	ErrHandlerNotFound    = errors.New("blip: no handler registered for profile")
	ErrPropertiesTooLarge = errors.New("blip: encoded properties exceed MaxPropertiesSize")
	ErrNulByteInProperty  = errors.New("blip: property name or value contains a NUL byte")
)

// ErrorCode enumerates the small set of codes BLIP sends in Error message
// responses. 501 is the one code the protocol itself assigns meaning to
// (uncaught handler panic/error); applications are free to send others.
type ErrorCode int

const (
	ErrorCodeHandlerFailed ErrorCode = 501
)

// ErrorDomainBLIP is the Error-Domain value the engine uses for errors it
// synthesizes itself (as opposed to ones an application handler returns).
const ErrorDomainBLIP = "BLIP"

// ProtocolError is returned in a message's Error-Domain/Error-Code
// properties to a peer. It is also the Go error type returned to a local
// caller from a completed MessageIn whose Type is Error.
type ProtocolError struct {
	Domain string
	Code   ErrorCode
	Text   string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("blip: %s/%d: %s", e.Domain, e.Code, e.Text)
}

// CloseError is the error reported to a caller's pending response future
// when the connection closes while the response has not yet arrived.
type CloseError struct {
	Status CloseStatus
}

func (e *CloseError) Error() string {
	return fmt.Sprintf("blip: connection closed: %s", e.Status.Message)
}

func (e *CloseError) Unwrap() error {
	return ErrConnectionClosed
}
