package network

import (
	"errors"
	"testing"
	"time"
)

type fakeLink struct {
	remote  string
	sent    [][]byte
	sendErr error
	closed  bool
}

func (f *fakeLink) RemoteID() string { return f.remote }
func (f *fakeLink) Close() error     { f.closed = true; return nil }
func (f *fakeLink) Send(b []byte) error {
	if f.sendErr != nil {
		return f.sendErr
	}
	cp := append([]byte(nil), b...)
	f.sent = append(f.sent, cp)
	return nil
}

type fakeEndpoint struct {
	id       string
	events   chan<- any
	dialed   []string
	dialErr  error
	reconErr error
	closed   bool
	pings    int
	reconAtt int
}

func (f *fakeEndpoint) ID() string { return f.id }
func (f *fakeEndpoint) Dial(remoteID string) (Link, error) {
	if f.dialErr != nil {
		return nil, f.dialErr
	}
	f.dialed = append(f.dialed, remoteID)
	return &fakeLink{remote: remoteID}, nil
}
func (f *fakeEndpoint) Heartbeat() error { f.pings++; return nil }
func (f *fakeEndpoint) Reconnect() error { f.reconAtt++; return f.reconErr }
func (f *fakeEndpoint) Close() error     { f.closed = true; return nil }

type fakeTransport struct {
	registerErrs []error // popped per Register call
	endpoints    []*fakeEndpoint
}

func (f *fakeTransport) Register(id string, events chan<- any) (Endpoint, error) {
	if len(f.registerErrs) > 0 {
		err := f.registerErrs[0]
		f.registerErrs = f.registerErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	ep := &fakeEndpoint{id: id, events: events}
	f.endpoints = append(f.endpoints, ep)
	return ep, nil
}

func TestInitHostRetriesTransientFailures(t *testing.T) {
	ft := &fakeTransport{registerErrs: []error{
		&SignalError{Code: "id-taken", Retryable: true},
		&SignalError{Code: "internal", Retryable: true},
		nil,
	}}
	m := NewManager(ft, Config{})
	id, err := m.InitHost()
	if err != nil {
		t.Fatalf("InitHost: %v", err)
	}
	if id == "" || m.LocalID() != id {
		t.Fatalf("bad identity %q", id)
	}
	if m.State() != StateConnected {
		t.Fatalf("state = %v", m.State())
	}
	if len(ft.endpoints) != 1 {
		t.Fatalf("endpoints created = %d", len(ft.endpoints))
	}
}

func TestInitHostGivesUpAfterBudget(t *testing.T) {
	ft := &fakeTransport{registerErrs: []error{
		&SignalError{Code: "internal", Retryable: true},
		&SignalError{Code: "internal", Retryable: true},
		&SignalError{Code: "internal", Retryable: true},
		nil, // never reached
	}}
	m := NewManager(ft, Config{MaxIdentityTries: 3})
	_, err := m.InitHost()
	var cerr *ConnectError
	if !errors.As(err, &cerr) {
		t.Fatalf("want ConnectError, got %v", err)
	}
	if m.State() != StateDisconnected {
		t.Fatalf("state = %v", m.State())
	}
}

func TestInitHostNonTransientFailsImmediately(t *testing.T) {
	ft := &fakeTransport{registerErrs: []error{
		&SignalError{Code: "bad-url"},
		nil,
	}}
	m := NewManager(ft, Config{})
	if _, err := m.InitHost(); err == nil {
		t.Fatal("expected immediate failure")
	}
	if len(ft.endpoints) != 0 {
		t.Fatal("must not retry a non-transient failure")
	}
}

func TestPendingSendsFlushOnceOnOpen(t *testing.T) {
	ft := &fakeTransport{}
	m := NewManager(ft, Config{})
	if _, err := m.InitHost(); err != nil {
		t.Fatalf("InitHost: %v", err)
	}

	link := &fakeLink{remote: "joiner"}
	m.HandleEvent(LinkIncoming{Link: link})
	pc := m.Peers()[0]

	if err := pc.Send([]byte("one")); err != nil {
		t.Fatalf("queued send: %v", err)
	}
	if err := pc.Send([]byte("two")); err != nil {
		t.Fatalf("queued send: %v", err)
	}
	if len(link.sent) != 0 {
		t.Fatalf("sent before open: %d", len(link.sent))
	}

	m.HandleEvent(LinkOpened{PeerID: "joiner"})
	if len(link.sent) != 2 {
		t.Fatalf("flushed %d frames, want 2", len(link.sent))
	}

	// a duplicate open event must not replay the queue
	m.HandleEvent(LinkOpened{PeerID: "joiner"})
	if len(link.sent) != 2 {
		t.Fatalf("duplicate open re-flushed: %d frames", len(link.sent))
	}

	// and live sends go straight through now
	if err := pc.Send([]byte("three")); err != nil {
		t.Fatalf("live send: %v", err)
	}
	if len(link.sent) != 3 {
		t.Fatalf("live send lost: %d frames", len(link.sent))
	}
}

func TestCloseEventRemovesOnlyThatPeer(t *testing.T) {
	ft := &fakeTransport{}
	m := NewManager(ft, Config{})
	if _, err := m.InitHost(); err != nil {
		t.Fatalf("InitHost: %v", err)
	}
	for _, id := range []string{"a", "b", "c"} {
		m.HandleEvent(LinkIncoming{Link: &fakeLink{remote: id}})
		m.HandleEvent(LinkOpened{PeerID: id})
	}
	m.HandleEvent(LinkClosed{PeerID: "b"})

	peers := m.Peers()
	if len(peers) != 2 {
		t.Fatalf("peers = %d, want 2", len(peers))
	}
	if peers[0].ID() != "a" || peers[1].ID() != "c" {
		t.Fatalf("wrong survivors: %s, %s", peers[0].ID(), peers[1].ID())
	}
}

func TestBroadcastPrunesClosedConnections(t *testing.T) {
	ft := &fakeTransport{}
	m := NewManager(ft, Config{})
	if _, err := m.InitHost(); err != nil {
		t.Fatalf("InitHost: %v", err)
	}
	good1 := &fakeLink{remote: "g1"}
	dead := &fakeLink{remote: "dead", sendErr: &TransportError{PeerID: "dead", Closed: true, Err: errors.New("gone")}}
	good2 := &fakeLink{remote: "g2"}
	for _, l := range []*fakeLink{good1, dead, good2} {
		m.HandleEvent(LinkIncoming{Link: l})
		m.HandleEvent(LinkOpened{PeerID: l.remote})
	}

	m.Broadcast([]byte("state"))

	if len(good1.sent) != 1 || len(good2.sent) != 1 {
		t.Fatalf("survivors missed the broadcast: %d, %d", len(good1.sent), len(good2.sent))
	}
	if len(m.Peers()) != 2 {
		t.Fatalf("dead peer not pruned: %d peers", len(m.Peers()))
	}
	if !dead.closed {
		t.Fatal("pruned link not closed")
	}
}

// pumpEvent drains one event the way the session loop does: hand it to
// HandleEvent, then return it for inspection.
func pumpEvent(t *testing.T, m *Manager) any {
	t.Helper()
	select {
	case ev := <-m.Events():
		m.HandleEvent(ev)
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("no event arrived")
		return nil
	}
}

func TestSignalLostReconnectsInPlace(t *testing.T) {
	ft := &fakeTransport{}
	m := NewManager(ft, Config{})
	if _, err := m.InitHost(); err != nil {
		t.Fatalf("InitHost: %v", err)
	}
	ep := ft.endpoints[0]

	m.HandleEvent(SignalLost{Err: errors.New("tcp reset")})
	if m.State() != StateReconnecting {
		t.Fatalf("state during recovery = %v", m.State())
	}
	pumpEvent(t, m)

	if ep.reconAtt != 1 {
		t.Fatalf("reconnect attempts = %d, want 1", ep.reconAtt)
	}
	if m.State() != StateConnected {
		t.Fatalf("state = %v", m.State())
	}
	if len(ft.endpoints) != 1 {
		t.Fatal("identity recreated on a recoverable drop")
	}
}

func TestSignalLostEscalatesToIdentityRecreation(t *testing.T) {
	ft := &fakeTransport{}
	m := NewManager(ft, Config{MaxReconnects: 2})
	oldID, err := m.InitHost()
	if err != nil {
		t.Fatalf("InitHost: %v", err)
	}
	ep := ft.endpoints[0]
	ep.reconErr = errors.New("still down")

	m.HandleEvent(SignalLost{Err: errors.New("tcp reset")})
	pumpEvent(t, m)

	if ep.reconAtt != 2 {
		t.Fatalf("reconnect attempts = %d, want 2", ep.reconAtt)
	}
	if !ep.closed {
		t.Fatal("old endpoint not closed on escalation")
	}
	if len(ft.endpoints) != 2 {
		t.Fatalf("expected fresh registration, have %d endpoints", len(ft.endpoints))
	}
	if m.LocalID() == oldID {
		t.Fatal("identity not recreated")
	}
	if m.State() != StateConnected {
		t.Fatalf("state = %v", m.State())
	}

	ev := pumpEvent(t, m)
	if rec, ok := ev.(IdentityRecreated); !ok || rec.ID != m.LocalID() {
		t.Fatalf("want IdentityRecreated{%s}, got %#v", m.LocalID(), ev)
	}
}

func TestSignalRecoveryDeadEndsDisconnected(t *testing.T) {
	ft := &fakeTransport{registerErrs: []error{
		nil, // InitHost
		&SignalError{Code: "bad-url"},
	}}
	m := NewManager(ft, Config{MaxReconnects: 1})
	if _, err := m.InitHost(); err != nil {
		t.Fatalf("InitHost: %v", err)
	}
	ft.endpoints[0].reconErr = errors.New("still down")

	m.HandleEvent(SignalLost{Err: errors.New("tcp reset")})
	pumpEvent(t, m)

	if m.State() != StateDisconnected {
		t.Fatalf("state = %v", m.State())
	}
}

func TestShutdownNotifiesOpenPeers(t *testing.T) {
	ft := &fakeTransport{}
	m := NewManager(ft, Config{})
	if _, err := m.InitHost(); err != nil {
		t.Fatalf("InitHost: %v", err)
	}
	open := &fakeLink{remote: "open"}
	connecting := &fakeLink{remote: "connecting"}
	m.HandleEvent(LinkIncoming{Link: open})
	m.HandleEvent(LinkOpened{PeerID: "open"})
	m.HandleEvent(LinkIncoming{Link: connecting})

	m.Shutdown([]byte("bye"))

	if len(open.sent) != 1 || string(open.sent[0]) != "bye" {
		t.Fatalf("open peer not notified: %v", open.sent)
	}
	if len(connecting.sent) != 0 {
		t.Fatal("notification sent to a half-open link")
	}
	if !open.closed || !connecting.closed {
		t.Fatal("links not closed")
	}
	if m.State() != StateDisconnected || len(m.Peers()) != 0 {
		t.Fatalf("state %v with %d peers after shutdown", m.State(), len(m.Peers()))
	}
	if ft.endpoints[0].closed != true {
		t.Fatal("endpoint not closed")
	}

	// idempotent
	m.Shutdown([]byte("bye"))
	if len(open.sent) != 1 {
		t.Fatal("second shutdown re-sent the notification")
	}
}

func TestSendToUnknownPeerIsClosedError(t *testing.T) {
	ft := &fakeTransport{}
	m := NewManager(ft, Config{})
	if _, err := m.InitHost(); err != nil {
		t.Fatalf("InitHost: %v", err)
	}
	err := m.SendTo("nobody", []byte("x"))
	if !IsClosed(err) {
		t.Fatalf("want closed TransportError, got %v", err)
	}
}
