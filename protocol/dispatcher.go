package protocol

import (
	"fmt"
	"log"
)

// ProtocolError marks an unrecognized or malformed envelope. It is never
// fatal: the dispatcher logs it and the session keeps running.
type ProtocolError struct {
	Type string
	Err  error
}

func (e *ProtocolError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("protocol: bad envelope type %q: %v", e.Type, e.Err)
	}
	return fmt.Sprintf("protocol: unrecognized envelope type %q", e.Type)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// Handler receives a decoded envelope plus the peer id it came from.
type Handler func(from string, env Envelope)

// Dispatcher routes inbound envelopes to the handler registered for their
// type. Handlers run synchronously on the caller's goroutine, which in
// practice is the session loop.
type Dispatcher struct {
	handlers map[string]Handler
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{handlers: make(map[string]Handler)}
}

// Handle registers h for envelope type t, replacing any previous handler.
func (d *Dispatcher) Handle(t string, h Handler) {
	d.handlers[t] = h
}

// Reset drops all registered handlers. Used on role change, since host and
// client register different tables.
func (d *Dispatcher) Reset() {
	d.handlers = make(map[string]Handler)
}

// Dispatch decodes a raw frame and routes it. Unknown or malformed frames
// are logged and dropped; the returned ProtocolError exists for tests and
// callers that want to count them.
func (d *Dispatcher) Dispatch(from string, raw []byte) error {
	env, err := DecodeEnvelope(raw)
	if err != nil {
		perr := &ProtocolError{Err: err}
		log.Printf("dispatch: dropping frame from %s: %v", from, perr)
		return perr
	}
	if !KnownType(env.Type) {
		perr := &ProtocolError{Type: env.Type}
		log.Printf("dispatch: dropping frame from %s: %v", from, perr)
		return perr
	}
	h, ok := d.handlers[env.Type]
	if !ok {
		// known type but nothing registered for this role, ignore
		return nil
	}
	h(from, env)
	return nil
}
