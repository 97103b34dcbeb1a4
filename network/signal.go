package network

import (
	"encoding/json"
	"fmt"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// signalClient is the websocket link to the rendezvous service. It carries
// identity registration plus the offer/answer/ICE relay used to bring peer
// links up. Writes are mutexed because pion callbacks fire off-loop.
type signalClient struct {
	url     string
	id      string
	conn    *websocket.Conn
	writeMu sync.Mutex
	onFrame func(signalFrame)
	onDrop  func(err error)
	closed  atomic.Bool
}

// signalFrame is the relay's wire unit.
type signalFrame struct {
	Kind string          `json:"kind"` // ready, error, offer, answer, ice
	From string          `json:"from,omitempty"`
	To   string          `json:"to,omitempty"`
	Code string          `json:"code,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`
}

func dialSignal(base, id string, timeout time.Duration) (*signalClient, error) {
	u, err := url.Parse(base)
	if err != nil {
		return nil, &SignalError{Code: "bad-url", Err: err}
	}
	q := u.Query()
	q.Set("id", id)
	u.RawQuery = q.Encode()

	dialer := websocket.Dialer{HandshakeTimeout: timeout}
	conn, _, err := dialer.Dial(u.String(), nil)
	if err != nil {
		// network/server trouble, a fresh attempt may well succeed
		return nil, &SignalError{Code: "dial", Retryable: true, Err: err}
	}

	sc := &signalClient{url: base, id: id, conn: conn}

	// the service answers registration before anything else
	_ = conn.SetReadDeadline(time.Now().Add(timeout))
	var first signalFrame
	if err := conn.ReadJSON(&first); err != nil {
		conn.Close()
		return nil, &SignalError{Code: "register", Retryable: true, Err: err}
	}
	switch first.Kind {
	case "ready":
	case "error":
		conn.Close()
		// id-taken and server-side errors are retryable with a new id
		return nil, &SignalError{Code: first.Code, Retryable: retryableCode(first.Code)}
	default:
		conn.Close()
		return nil, &SignalError{Code: "register", Err: fmt.Errorf("unexpected frame %q", first.Kind)}
	}
	_ = conn.SetReadDeadline(time.Time{})

	return sc, nil
}

func retryableCode(code string) bool {
	switch code {
	case "id-taken", "server-full", "internal":
		return true
	}
	return false
}

// start begins the read pump. Separate from dialSignal so the owner can set
// callbacks first.
func (s *signalClient) start() {
	go s.readPump()
}

func (s *signalClient) readPump() {
	for {
		var f signalFrame
		if err := s.conn.ReadJSON(&f); err != nil {
			if !s.closed.Load() && s.onDrop != nil {
				s.onDrop(err)
			}
			return
		}
		if s.onFrame != nil {
			s.onFrame(f)
		}
	}
}

func (s *signalClient) send(f signalFrame) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return s.conn.WriteJSON(f)
}

// ping is the out-of-band keepalive. The service treats any traffic as
// liveness, a control ping is the cheapest kind.
func (s *signalClient) ping() error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(10*time.Second))
}

func (s *signalClient) close() {
	if s.closed.CompareAndSwap(false, true) {
		_ = s.conn.Close()
	}
}
