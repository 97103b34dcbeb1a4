package session

import (
	"log"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/marcusglaze/resist-fps-sub001/config"
	"github.com/marcusglaze/resist-fps-sub001/lobby"
	"github.com/marcusglaze/resist-fps-sub001/network"
	"github.com/marcusglaze/resist-fps-sub001/protocol"
	"github.com/marcusglaze/resist-fps-sub001/reconcile"
	"github.com/marcusglaze/resist-fps-sub001/replicate"
	"github.com/marcusglaze/resist-fps-sub001/world"
)

type Role int

const (
	RoleSingleplayer Role = iota
	RoleHost
	RoleClient
)

func (r Role) String() string {
	switch r {
	case RoleHost:
		return "host"
	case RoleClient:
		return "client"
	}
	return "singleplayer"
}

// Hooks are the UI/game side effects the coordinator fires. All optional.
type Hooks struct {
	OnChat       func(message, sender string)
	OnPeerJoined func(peerID string)
	OnPeerLeft   func(peerID string)
	// OnHostDisconnect fires on a client when the host is gone; the session
	// is already torn down when it runs. There is no failover.
	OnHostDisconnect func(message string)
	// OnNotification carries dismissable user-facing notices (fatal
	// connect/join failures, mostly).
	OnNotification func(message string)

	// Reconcile holds the visual callbacks handed to the client engine.
	Reconcile reconcile.Hooks
}

type Config struct {
	Network           network.Config
	LobbyURL          string // empty disables the directory
	BroadcastInterval time.Duration
	JoinTimeout       time.Duration
	SelfCheckEvery    time.Duration
	LobbyRefreshEvery time.Duration
	// RelayPerSecond/RelayBurst bound how fast one peer's chat and position
	// traffic is re-broadcast by the host.
	RelayPerSecond float64
	RelayBurst     int
}

func (c Config) withDefaults() Config {
	// the loop builds its heartbeat ticker from this value, so the manager's
	// default has to be mirrored here before Run touches it
	if c.Network.HeartbeatEvery <= 0 {
		c.Network.HeartbeatEvery = 15 * time.Second
	}
	if c.BroadcastInterval <= 0 {
		c.BroadcastInterval = replicate.DefaultInterval
	}
	if c.JoinTimeout <= 0 {
		c.JoinTimeout = 15 * time.Second
	}
	if c.SelfCheckEvery <= 0 {
		c.SelfCheckEvery = 5 * time.Second
	}
	if c.LobbyRefreshEvery <= 0 {
		c.LobbyRefreshEvery = 30 * time.Second
	}
	if c.RelayPerSecond <= 0 {
		c.RelayPerSecond = 120
	}
	if c.RelayBurst <= 0 {
		c.RelayBurst = 240
	}
	return c
}

// ConfigFromEnv builds a Config the way the rest of the project configures
// itself: .env first, process environment second, defaults last.
func ConfigFromEnv() Config {
	return Config{
		Network: network.Config{
			SignalURL:      config.String("SIGNAL_URL", "wss://signal.resist-fps.net/peer"),
			ICEServers:     config.StringSlice("STUN_SERVERS", []string{"stun:stun.l.google.com:19302"}),
			HeartbeatEvery: config.Duration("HEARTBEAT_INTERVAL", 15*time.Second),
		},
		LobbyURL:          config.String("LOBBY_URL", ""),
		BroadcastInterval: config.Duration("BROADCAST_INTERVAL", replicate.DefaultInterval),
		JoinTimeout:       config.Duration("JOIN_TIMEOUT", 15*time.Second),
	}
}

// Coordinator owns the whole session: the role, the connection manager, the
// engines and one event loop. Every callback, timer and command funnels
// into that loop, so none of the state here needs locking.
type Coordinator struct {
	Inbox chan any

	cfg       Config
	transport network.Transport
	view      world.View
	mut       world.Mutator
	hooks     Hooks

	role     Role
	localID  string
	hostID   string
	mgr      *network.Manager
	disp     *protocol.Dispatcher
	rep      *replicate.Engine
	rec      *reconcile.Engine
	lobby    *lobby.Client
	limiters map[string]*rate.Limiter

	joinWait  chan<- error
	joinTimer *time.Timer

	quit     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

func New(t network.Transport, view world.View, mut world.Mutator, hooks Hooks, cfg Config) *Coordinator {
	return &Coordinator{
		Inbox:     make(chan any, 256),
		cfg:       cfg.withDefaults(),
		transport: t,
		view:      view,
		mut:       mut,
		hooks:     hooks,
		role:      RoleSingleplayer,
		disp:      protocol.NewDispatcher(),
		limiters:  make(map[string]*rate.Limiter),
		quit:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Run is the session loop. Everything the core does happens on this
// goroutine: transport events, commands, broadcast ticks, heartbeats,
// self-checks and lobby refreshes.
func (c *Coordinator) Run() {
	defer close(c.done)
	defer c.becomeIdle()

	tick := time.NewTicker(10 * time.Millisecond)
	defer tick.Stop()
	heartbeat := time.NewTicker(c.cfg.Network.HeartbeatEvery)
	defer heartbeat.Stop()
	slow := time.NewTicker(c.cfg.SelfCheckEvery)
	defer slow.Stop()
	refresh := time.NewTicker(c.cfg.LobbyRefreshEvery)
	defer refresh.Stop()

	for {
		// the manager comes and goes with the role, so re-resolve its
		// event channel every pass
		var events <-chan any
		if c.mgr != nil {
			events = c.mgr.Events()
		}

		select {
		case <-c.quit:
			return
		case cmd := <-c.Inbox:
			c.handleCommand(cmd)
		case ev := <-events:
			c.handleTransportEvent(ev)
		case <-tick.C:
			if c.role == RoleHost && c.rep != nil {
				c.rep.Tick()
			}
		case <-heartbeat.C:
			if c.mgr != nil {
				c.mgr.Heartbeat()
			}
		case <-slow.C:
			if c.role == RoleHost && c.rep != nil {
				c.rep.SelfCheck(c.mut)
			}
		case <-refresh.C:
			if c.role == RoleHost && c.lobby != nil {
				if err := c.lobby.Refresh(len(c.mgr.Peers()) + 1); err != nil {
					log.Printf("session: lobby refresh: %v", err)
				}
			}
		}
	}
}

// Stop shuts the loop down. Teardown happens inside the loop before it
// exits; Done unblocks when it has.
func (c *Coordinator) Stop() {
	c.stopOnce.Do(func() { close(c.quit) })
}

func (c *Coordinator) Done() <-chan struct{} { return c.done }

// becomeIdle tears down whatever role is active: connections closed, timers
// and scheduled tasks cancelled, proxies cleared. Roles are mutually
// exclusive, so every transition passes through here first.
func (c *Coordinator) becomeIdle() {
	if c.joinTimer != nil {
		c.joinTimer.Stop()
		c.joinTimer = nil
	}
	if c.joinWait != nil {
		c.joinWait <- &network.ConnectError{Stage: "dial", Err: errJoinAborted}
		c.joinWait = nil
	}
	if c.rep != nil {
		c.rep.Teardown()
		c.rep = nil
	}
	if c.rec != nil {
		c.rec.Reset()
		c.rec = nil
	}
	if c.lobby != nil {
		if err := c.lobby.Remove(); err != nil {
			log.Printf("session: lobby remove: %v", err)
		}
		c.lobby = nil
	}
	if c.mgr != nil {
		var notify []byte
		if c.role == RoleHost {
			notify, _ = protocol.Encode(protocol.MsgHostDisconnect,
				protocol.HostDisconnectPayload{Message: "host closed the session"})
		}
		c.mgr.Shutdown(notify)
		c.mgr = nil
	}
	c.disp.Reset()
	c.limiters = make(map[string]*rate.Limiter)
	c.role = RoleSingleplayer
	c.localID = ""
	c.hostID = ""
}

// Role reports the current role. Like the rest of the read accessors it is
// loop-owned state; outside readers get a possibly stale value.
func (c *Coordinator) Role() Role { return c.role }

func (c *Coordinator) LocalID() string { return c.localID }

// Proxies exposes the client-side proxy set for rendering. Nil unless the
// session is in the client role.
func (c *Coordinator) Proxies() *reconcile.Engine { return c.rec }
