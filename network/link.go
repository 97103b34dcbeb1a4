package network

// Link is one peer data channel. Send never blocks on delivery and the
// transport guarantees neither ordering nor arrival; lifecycle shows up on
// the event channel handed to the transport at Register time.
type Link interface {
	RemoteID() string
	Send(b []byte) error
	Close() error
}

// Transport hands out endpoints bound to a rendezvous identity.
type Transport interface {
	Register(id string, events chan<- any) (Endpoint, error)
}

// Endpoint is one registered identity on the rendezvous service.
type Endpoint interface {
	ID() string
	// Dial starts a link to remoteID. The link is not usable until a
	// LinkOpened event arrives for it.
	Dial(remoteID string) (Link, error)
	// Heartbeat nudges the rendezvous link so it is not idle-collected.
	Heartbeat() error
	// Reconnect re-attaches to the rendezvous service keeping the identity.
	Reconnect() error
	Close() error
}

// Transport events. All of them are drained by the session loop, which is
// the only place connection state is mutated.
type (
	// LinkIncoming: a remote peer dialed us. The link is not open yet.
	LinkIncoming struct{ Link Link }
	LinkOpened   struct{ PeerID string }
	LinkData     struct {
		PeerID string
		Data   []byte
	}
	LinkClosed struct{ PeerID string }
	LinkFailed struct {
		PeerID string
		Err    error
	}
	// SignalLost: the rendezvous link dropped but our identity is still
	// valid, so an in-place reconnect is worth trying.
	SignalLost struct{ Err error }
	// IdentityRecreated: reconnecting failed for good and the manager
	// registered from scratch under a new identity.
	IdentityRecreated struct{ ID string }
)
