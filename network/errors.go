package network

import (
	"errors"
	"fmt"
)

var errNoSuchPeer = errors.New("no such peer")

// ConnectError is a fatal identity/signaling establishment failure, surfaced
// after the bounded retry budget is spent.
type ConnectError struct {
	Stage string // "register" or "dial"
	Err   error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("connect (%s): %v", e.Stage, e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

// TransportError is a mid-session failure on one peer link. Closed means the
// link is permanently gone and should be pruned; everything else is a blip.
type TransportError struct {
	PeerID string
	Closed bool
	Err    error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport (%s): %v", e.PeerID, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// IsClosed reports whether err marks a permanently closed link.
func IsClosed(err error) bool {
	var te *TransportError
	return errors.As(err, &te) && te.Closed
}

type transienter interface {
	Transient() bool
}

// IsTransient reports whether a register-stage failure is worth another try
// with a fresh identity (id collisions, server hiccups). Anything else fails
// immediately.
func IsTransient(err error) bool {
	var t transienter
	return errors.As(err, &t) && t.Transient()
}

// SignalError comes back from the rendezvous service.
type SignalError struct {
	Code      string
	Retryable bool
	Err       error
}

func (e *SignalError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("signal: %s: %v", e.Code, e.Err)
	}
	return fmt.Sprintf("signal: %s", e.Code)
}

func (e *SignalError) Unwrap() error   { return e.Err }
func (e *SignalError) Transient() bool { return e.Retryable }
