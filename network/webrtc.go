package network

import (
	"encoding/json"
	"errors"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/webrtc/v3"
)

// WebRTCTransport builds peer links on pion data channels, negotiated over
// the websocket rendezvous relay. Channels are unordered and unreliable on
// purpose: the protocol above is snapshot-based and tolerates both.
type WebRTCTransport struct {
	SignalURL   string
	ICEServers  []string
	DialTimeout time.Duration
}

func (t *WebRTCTransport) Register(id string, events chan<- any) (Endpoint, error) {
	ep := &rtcEndpoint{
		t:      t,
		id:     id,
		events: events,
		links:  make(map[string]*rtcLink),
	}
	if err := ep.attach(); err != nil {
		return nil, err
	}
	return ep, nil
}

func (t *WebRTCTransport) dialTimeout() time.Duration {
	if t.DialTimeout > 0 {
		return t.DialTimeout
	}
	return 10 * time.Second
}

type rtcEndpoint struct {
	t      *WebRTCTransport
	id     string
	events chan<- any

	mu     sync.Mutex // pion callbacks run on their own goroutines
	links  map[string]*rtcLink
	signal *signalClient
}

func (e *rtcEndpoint) attach() error {
	sc, err := dialSignal(e.t.SignalURL, e.id, e.t.dialTimeout())
	if err != nil {
		return err
	}
	sc.onFrame = e.handleSignal
	sc.onDrop = func(err error) { e.events <- SignalLost{Err: err} }
	sc.start()
	e.mu.Lock()
	e.signal = sc
	e.mu.Unlock()
	return nil
}

func (e *rtcEndpoint) ID() string { return e.id }

func (e *rtcEndpoint) Heartbeat() error {
	e.mu.Lock()
	sc := e.signal
	e.mu.Unlock()
	if sc == nil {
		return &SignalError{Code: "detached"}
	}
	return sc.ping()
}

func (e *rtcEndpoint) Reconnect() error {
	e.mu.Lock()
	sc := e.signal
	e.mu.Unlock()
	if sc != nil {
		sc.close()
	}
	return e.attach()
}

func (e *rtcEndpoint) Close() error {
	e.mu.Lock()
	links := e.links
	e.links = make(map[string]*rtcLink)
	sc := e.signal
	e.signal = nil
	e.mu.Unlock()
	for _, l := range links {
		_ = l.Close()
	}
	if sc != nil {
		sc.close()
	}
	return nil
}

func (e *rtcEndpoint) newPeerConnection() (*webrtc.PeerConnection, error) {
	var cfg webrtc.Configuration
	for _, u := range e.t.ICEServers {
		cfg.ICEServers = append(cfg.ICEServers, webrtc.ICEServer{URLs: []string{u}})
	}
	return webrtc.NewPeerConnection(cfg)
}

// Dial opens a link to remoteID. The data channel connects asynchronously;
// LinkOpened (or LinkFailed) follows on the event channel.
func (e *rtcEndpoint) Dial(remoteID string) (Link, error) {
	pc, err := e.newPeerConnection()
	if err != nil {
		return nil, err
	}
	ordered := false
	var retransmits uint16
	dc, err := pc.CreateDataChannel("game", &webrtc.DataChannelInit{
		Ordered:        &ordered,
		MaxRetransmits: &retransmits,
	})
	if err != nil {
		_ = pc.Close()
		return nil, err
	}

	l := e.newLink(remoteID, pc)
	l.setChannel(dc)
	e.storeLink(l)
	e.wireICE(pc, remoteID)

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		e.dropLink(remoteID)
		return nil, err
	}
	if err := pc.SetLocalDescription(offer); err != nil {
		e.dropLink(remoteID)
		return nil, err
	}
	if err := e.sendSDP("offer", remoteID, offer); err != nil {
		e.dropLink(remoteID)
		return nil, err
	}
	return l, nil
}

func (e *rtcEndpoint) sendSDP(kind, to string, sdp webrtc.SessionDescription) error {
	b, err := json.Marshal(sdp)
	if err != nil {
		return err
	}
	e.mu.Lock()
	sc := e.signal
	e.mu.Unlock()
	if sc == nil {
		return &SignalError{Code: "detached"}
	}
	return sc.send(signalFrame{Kind: kind, To: to, Data: b})
}

func (e *rtcEndpoint) wireICE(pc *webrtc.PeerConnection, remoteID string) {
	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		b, err := json.Marshal(c.ToJSON())
		if err != nil {
			return
		}
		e.mu.Lock()
		sc := e.signal
		e.mu.Unlock()
		if sc != nil {
			_ = sc.send(signalFrame{Kind: "ice", To: remoteID, Data: b})
		}
	})
}

// handleSignal runs on the signal read pump goroutine.
func (e *rtcEndpoint) handleSignal(f signalFrame) {
	switch f.Kind {
	case "offer":
		e.handleOffer(f)
	case "answer":
		l := e.link(f.From)
		if l == nil {
			return
		}
		var sdp webrtc.SessionDescription
		if err := json.Unmarshal(f.Data, &sdp); err != nil {
			log.Printf("network: bad answer from %s: %v", f.From, err)
			return
		}
		if err := l.pc.SetRemoteDescription(sdp); err != nil {
			log.Printf("network: answer from %s: %v", f.From, err)
		}
	case "ice":
		l := e.link(f.From)
		if l == nil {
			return
		}
		var cand webrtc.ICECandidateInit
		if err := json.Unmarshal(f.Data, &cand); err != nil {
			return
		}
		if err := l.pc.AddICECandidate(cand); err != nil {
			log.Printf("network: ice from %s: %v", f.From, err)
		}
	}
}

// handleOffer is the accepting side of Dial: a remote peer wants a link.
func (e *rtcEndpoint) handleOffer(f signalFrame) {
	pc, err := e.newPeerConnection()
	if err != nil {
		log.Printf("network: accept %s: %v", f.From, err)
		return
	}
	l := e.newLink(f.From, pc)
	e.storeLink(l)
	e.wireICE(pc, f.From)

	pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		l.setChannel(dc)
		e.events <- LinkIncoming{Link: l}
	})

	var sdp webrtc.SessionDescription
	if err := json.Unmarshal(f.Data, &sdp); err != nil {
		log.Printf("network: bad offer from %s: %v", f.From, err)
		e.dropLink(f.From)
		return
	}
	if err := pc.SetRemoteDescription(sdp); err != nil {
		e.dropLink(f.From)
		return
	}
	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		e.dropLink(f.From)
		return
	}
	if err := pc.SetLocalDescription(answer); err != nil {
		e.dropLink(f.From)
		return
	}
	if err := e.sendSDP("answer", f.From, answer); err != nil {
		e.dropLink(f.From)
	}
}

func (e *rtcEndpoint) link(id string) *rtcLink {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.links[id]
}

func (e *rtcEndpoint) storeLink(l *rtcLink) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.links[l.remote] = l
}

func (e *rtcEndpoint) dropLink(id string) {
	e.mu.Lock()
	l := e.links[id]
	delete(e.links, id)
	e.mu.Unlock()
	if l != nil {
		_ = l.Close()
	}
}

type rtcLink struct {
	ep     *rtcEndpoint
	remote string
	pc     *webrtc.PeerConnection

	dcMu   sync.Mutex
	dc     *webrtc.DataChannel
	open   atomic.Bool
	closed atomic.Bool
}

func (e *rtcEndpoint) newLink(remote string, pc *webrtc.PeerConnection) *rtcLink {
	l := &rtcLink{ep: e, remote: remote, pc: pc}
	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		switch s {
		case webrtc.PeerConnectionStateFailed:
			if l.closed.CompareAndSwap(false, true) {
				e.events <- LinkFailed{PeerID: remote, Err: errors.New("peer connection failed")}
				e.dropLink(remote)
			}
		case webrtc.PeerConnectionStateClosed, webrtc.PeerConnectionStateDisconnected:
			if l.closed.CompareAndSwap(false, true) {
				e.events <- LinkClosed{PeerID: remote}
				e.dropLink(remote)
			}
		}
	})
	return l
}

func (l *rtcLink) setChannel(dc *webrtc.DataChannel) {
	l.dcMu.Lock()
	l.dc = dc
	l.dcMu.Unlock()
	dc.OnOpen(func() {
		l.open.Store(true)
		l.ep.events <- LinkOpened{PeerID: l.remote}
	})
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		l.ep.events <- LinkData{PeerID: l.remote, Data: msg.Data}
	})
	dc.OnClose(func() {
		l.open.Store(false)
		if l.closed.CompareAndSwap(false, true) {
			l.ep.events <- LinkClosed{PeerID: l.remote}
			l.ep.dropLink(l.remote)
		}
	})
}

func (l *rtcLink) RemoteID() string { return l.remote }

func (l *rtcLink) Send(b []byte) error {
	if l.closed.Load() {
		return &TransportError{PeerID: l.remote, Closed: true, Err: errors.New("link closed")}
	}
	if !l.open.Load() {
		return &TransportError{PeerID: l.remote, Err: errors.New("channel not open")}
	}
	l.dcMu.Lock()
	dc := l.dc
	l.dcMu.Unlock()
	if err := dc.Send(b); err != nil {
		return &TransportError{PeerID: l.remote, Closed: true, Err: err}
	}
	return nil
}

func (l *rtcLink) Close() error {
	l.closed.Store(true)
	l.open.Store(false)
	l.dcMu.Lock()
	dc := l.dc
	l.dcMu.Unlock()
	if dc != nil {
		_ = dc.Close()
	}
	return l.pc.Close()
}
