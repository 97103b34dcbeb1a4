package network

import (
	"log"
	"time"

	"github.com/google/uuid"
)

// ConnState is the manager's lifecycle state machine.
type ConnState int

const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateConnected
	StateReconnecting
	// StateDisconnecting is only entered by a host tearing down, so the
	// hostDisconnect notification can go out before links close.
	StateDisconnecting
)

func (s ConnState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateDisconnecting:
		return "disconnecting"
	}
	return "unknown"
}

type Config struct {
	SignalURL        string
	ICEServers       []string
	HeartbeatEvery   time.Duration // keepalive for the rendezvous link
	MaxIdentityTries int           // register retries before ConnectError
	MaxReconnects    int           // in-place reconnects before identity recreation
}

func (c Config) withDefaults() Config {
	if c.HeartbeatEvery <= 0 {
		c.HeartbeatEvery = 15 * time.Second
	}
	if c.MaxIdentityTries <= 0 {
		c.MaxIdentityTries = 3
	}
	if c.MaxReconnects <= 0 {
		c.MaxReconnects = 3
	}
	return c
}

// Manager owns the rendezvous endpoint and every PeerConn. It is not safe
// for concurrent use: every method runs on the session loop, which is also
// the only drainer of Events.
type Manager struct {
	cfg       Config
	transport Transport
	endpoint  Endpoint
	localID   string
	state     ConnState
	peers     []*PeerConn // ordered by connect time
	events    chan any
}

func NewManager(t Transport, cfg Config) *Manager {
	return &Manager{
		transport: t,
		cfg:       cfg.withDefaults(),
		state:     StateDisconnected,
		events:    make(chan any, 256),
	}
}

// Events carries transport notifications into the session loop. The loop
// must hand each one back to HandleEvent before acting on it.
func (m *Manager) Events() <-chan any { return m.events }

func (m *Manager) LocalID() string { return m.localID }
func (m *Manager) State() ConnState { return m.state }

// Peers returns the ordered active set. Read-only for callers: only the
// manager adds or removes entries.
func (m *Manager) Peers() []*PeerConn { return m.peers }

func (m *Manager) peer(id string) *PeerConn {
	for _, pc := range m.peers {
		if pc.id == id {
			return pc
		}
	}
	return nil
}

// InitHost acquires a rendezvous identity and starts listening for peers.
// Transient failures burn a retry with a freshly generated identity;
// anything else fails immediately.
func (m *Manager) InitHost() (string, error) {
	m.state = StateConnecting
	id, err := m.acquireIdentity()
	if err != nil {
		m.state = StateDisconnected
		return "", err
	}
	m.state = StateConnected
	return id, nil
}

func (m *Manager) acquireIdentity() (string, error) {
	var lastErr error
	for i := 0; i < m.cfg.MaxIdentityTries; i++ {
		id := "survivor-" + uuid.NewString()[:13]
		ep, err := m.transport.Register(id, m.events)
		if err == nil {
			m.endpoint = ep
			m.localID = ep.ID()
			return m.localID, nil
		}
		lastErr = err
		if !IsTransient(err) {
			break
		}
		log.Printf("network: register %s failed, recreating identity: %v", id, err)
	}
	return "", &ConnectError{Stage: "register", Err: lastErr}
}

// Join acquires an identity and dials the host at remoteID. The returned
// PeerConn is still connecting; LinkOpened or LinkFailed settles it, and
// anything sent before then rides the pending queue.
func (m *Manager) Join(remoteID string) (*PeerConn, error) {
	m.state = StateConnecting
	if _, err := m.acquireIdentity(); err != nil {
		m.state = StateDisconnected
		return nil, err
	}
	link, err := m.endpoint.Dial(remoteID)
	if err != nil {
		m.teardownEndpoint()
		m.state = StateDisconnected
		return nil, &ConnectError{Stage: "dial", Err: err}
	}
	return m.addPeer(link), nil
}

func (m *Manager) addPeer(link Link) *PeerConn {
	pc := &PeerConn{id: link.RemoteID(), link: link}
	m.peers = append(m.peers, pc)
	return pc
}

// DropPeer removes one connection from the active set by identity. Used by
// the replicator when a send fails closed.
func (m *Manager) DropPeer(id string) {
	kept := m.peers[:0]
	for _, pc := range m.peers {
		if pc.id == id {
			_ = pc.Close()
			continue
		}
		kept = append(kept, pc)
	}
	m.peers = kept
}

// HandleEvent applies one transport event to the connection set. The session
// loop calls this for every event before doing its own routing.
func (m *Manager) HandleEvent(ev any) {
	switch e := ev.(type) {
	case LinkIncoming:
		m.addPeer(e.Link)
	case LinkOpened:
		if pc := m.peer(e.PeerID); pc != nil {
			pc.markOpen()
		}
		if m.state == StateConnecting {
			m.state = StateConnected
		}
	case LinkClosed:
		m.DropPeer(e.PeerID)
	case LinkFailed:
		log.Printf("network: link to %s failed: %v", e.PeerID, e.Err)
		m.DropPeer(e.PeerID)
	case SignalLost:
		m.recoverSignal(e.Err)
	case signalRestored:
		if m.state == StateReconnecting {
			m.state = StateConnected
		}
	case signalRecovered:
		m.endpoint = e.endpoint
		m.localID = e.endpoint.ID()
		m.state = StateConnected
		m.events <- IdentityRecreated{ID: m.localID}
	case signalDead:
		log.Printf("network: identity recreation failed: %v", e.Err)
		m.endpoint = nil
		m.state = StateDisconnected
	}
}

// Recovery outcomes, posted by the manager's own recovery goroutine and
// consumed by HandleEvent like any other transport event.
type (
	signalRestored  struct{}
	signalRecovered struct{ endpoint Endpoint }
	signalDead      struct{ Err error }
)

// recoverSignal handles a dropped rendezvous link. The dials block for whole
// handshake timeouts, so they run off the session loop; HandleEvent applies
// the outcome when it comes back on the event channel.
func (m *Manager) recoverSignal(cause error) {
	if m.state != StateConnected {
		return
	}
	m.state = StateReconnecting
	log.Printf("network: rendezvous link lost (%v), reconnecting", cause)
	go m.runRecovery(m.endpoint)
}

// runRecovery reconnects in place first, keeping the identity, then escalates
// to full recreation. It never touches manager state directly.
func (m *Manager) runRecovery(ep Endpoint) {
	for i := 0; i < m.cfg.MaxReconnects; i++ {
		if err := ep.Reconnect(); err == nil {
			m.events <- signalRestored{}
			return
		} else {
			log.Printf("network: reconnect %d/%d failed: %v", i+1, m.cfg.MaxReconnects, err)
		}
	}
	log.Printf("network: reconnect exhausted, recreating identity")
	_ = ep.Close()
	var lastErr error
	for i := 0; i < m.cfg.MaxIdentityTries; i++ {
		id := "survivor-" + uuid.NewString()[:13]
		fresh, err := m.transport.Register(id, m.events)
		if err == nil {
			m.events <- signalRecovered{endpoint: fresh}
			return
		}
		lastErr = err
		if !IsTransient(err) {
			break
		}
		log.Printf("network: register %s failed, recreating identity: %v", id, err)
	}
	m.events <- signalDead{Err: lastErr}
}

// Heartbeat keeps the rendezvous link from idle-timeout teardown. Failures
// are logged and non-fatal; a dead link surfaces as SignalLost on its own.
func (m *Manager) Heartbeat() {
	// during recovery the endpoint belongs to the recovery goroutine
	if m.endpoint == nil || m.state == StateReconnecting {
		return
	}
	if err := m.endpoint.Heartbeat(); err != nil {
		log.Printf("network: heartbeat: %v", err)
	}
}

// Broadcast sends one frame to every active peer, pruning connections whose
// failure says they are gone for good. Other failures only log.
func (m *Manager) Broadcast(b []byte) {
	var failed []string
	for _, pc := range m.peers {
		if err := pc.Send(b); err != nil {
			if IsClosed(err) {
				failed = append(failed, pc.id)
			} else {
				log.Printf("network: send to %s: %v", pc.id, err)
			}
		}
	}
	for _, id := range failed {
		m.DropPeer(id)
	}
}

// SendTo sends one frame to one peer.
func (m *Manager) SendTo(id string, b []byte) error {
	pc := m.peer(id)
	if pc == nil {
		return &TransportError{PeerID: id, Closed: true, Err: errNoSuchPeer}
	}
	return pc.Send(b)
}

// Shutdown tears everything down. notify, if non-nil, goes out best-effort
// to every open peer first (the hostDisconnect message). Idempotent.
func (m *Manager) Shutdown(notify []byte) {
	if m.state == StateDisconnected {
		return
	}
	m.state = StateDisconnecting
	if notify != nil {
		for _, pc := range m.peers {
			if pc.open {
				_ = pc.link.Send(notify)
			}
		}
	}
	for _, pc := range m.peers {
		_ = pc.Close()
	}
	m.peers = nil
	m.teardownEndpoint()
	m.state = StateDisconnected
}

func (m *Manager) teardownEndpoint() {
	if m.endpoint != nil {
		_ = m.endpoint.Close()
		m.endpoint = nil
	}
}
