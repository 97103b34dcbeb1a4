package network

import (
	"errors"
	"log"
)

// PeerConn tracks one peer link plus everything queued against it before the
// link opened. Owned exclusively by the Manager; engines get read access
// through Manager.Peers but never mutate.
type PeerConn struct {
	id      string
	link    Link
	open    bool
	pending [][]byte
	flushed bool
}

func (p *PeerConn) ID() string   { return p.id }
func (p *PeerConn) IsOpen() bool { return p.open }

// Send transmits immediately on an open link. On a link still connecting the
// frame is queued and flushed when the open event fires.
func (p *PeerConn) Send(b []byte) error {
	if !p.open {
		p.pending = append(p.pending, b)
		return nil
	}
	if err := p.link.Send(b); err != nil {
		var te *TransportError
		if errors.As(err, &te) {
			return te
		}
		return &TransportError{PeerID: p.id, Err: err}
	}
	return nil
}

// markOpen flips the connection live and flushes the pre-open queue exactly
// once, even if a duplicate open event sneaks through.
func (p *PeerConn) markOpen() {
	p.open = true
	if p.flushed {
		return
	}
	p.flushed = true
	q := p.pending
	p.pending = nil
	for _, b := range q {
		if err := p.link.Send(b); err != nil {
			log.Printf("network: flush to %s failed: %v", p.id, err)
			return
		}
	}
}

func (p *PeerConn) Close() error {
	p.open = false
	p.pending = nil
	return p.link.Close()
}
