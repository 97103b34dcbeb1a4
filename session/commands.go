package session

import (
	"errors"
	"log"
	"time"

	"golang.org/x/time/rate"

	"github.com/marcusglaze/resist-fps-sub001/lobby"
	"github.com/marcusglaze/resist-fps-sub001/network"
	"github.com/marcusglaze/resist-fps-sub001/protocol"
	"github.com/marcusglaze/resist-fps-sub001/reconcile"
	"github.com/marcusglaze/resist-fps-sub001/replicate"
)

var (
	errJoinAborted = errors.New("join aborted")
	errJoinTimeout = errors.New("timed out waiting for host")
)

// Commands posted into the loop. External callers that need an answer carry
// a reply channel, same shape as a join request in any hub.

type hostCmd struct {
	name  string
	reply chan<- hostResult
}

type hostResult struct {
	id  string
	err error
}

type joinCmd struct {
	remoteID string
	reply    chan<- error
}

type joinTimeout struct{}

type soloCmd struct {
	reply chan<- struct{}
}

type chatCmd struct{ message string }

type positionCmd struct{ state protocol.PlayerState }

type actionCmd struct{ action protocol.Action }

type boardCmd struct {
	windowIndex int
	add         bool
}

type hostControlCmd struct{ kind string }

type grantRespawnCmd struct{ playerID string }

type forceSyncCmd struct{}

// StartHost acquires an identity, starts listening for peers and advertises
// the session. Blocks until the identity exists or a ConnectError gives up.
func (c *Coordinator) StartHost(name string) (string, error) {
	reply := make(chan hostResult, 1)
	c.Inbox <- hostCmd{name: name, reply: reply}
	res := <-reply
	return res.id, res.err
}

// JoinGame connects to the host advertised under remoteID. Blocks until the
// link opens or fails; failure and timeout both come back as ConnectError.
func (c *Coordinator) JoinGame(remoteID string) error {
	reply := make(chan error, 1)
	c.Inbox <- joinCmd{remoteID: remoteID, reply: reply}
	return <-reply
}

// StartSingleplayer drops any multiplayer state and goes solo.
func (c *Coordinator) StartSingleplayer() {
	reply := make(chan struct{}, 1)
	c.Inbox <- soloCmd{reply: reply}
	<-reply
}

// SendChat ships a chat line: host broadcasts, client sends to the host for
// relaying.
func (c *Coordinator) SendChat(message string) {
	c.Inbox <- chatCmd{message: message}
}

// PublishPosition reports the local avatar to the host. Host-side the view
// already covers it, so this is a no-op there.
func (c *Coordinator) PublishPosition(ps protocol.PlayerState) {
	c.Inbox <- positionCmd{state: ps}
}

// SubmitAction requests an authoritative mutation. The host applies it
// directly; a client asks the host and waits for the snapshot.
func (c *Coordinator) SubmitAction(a protocol.Action) {
	c.Inbox <- actionCmd{action: a}
}

// AddBoard is the one optimistic mutation: the board appears locally right
// away and the host's next snapshot settles it.
func (c *Coordinator) AddBoard(windowIndex int) {
	c.Inbox <- boardCmd{windowIndex: windowIndex, add: true}
}

func (c *Coordinator) RemoveBoard(windowIndex int) {
	c.Inbox <- boardCmd{windowIndex: windowIndex, add: false}
}

// Host flow controls, broadcast to every client as hostAction.

func (c *Coordinator) PauseGame()   { c.Inbox <- hostControlCmd{kind: protocol.HostPause} }
func (c *Coordinator) ResumeGame()  { c.Inbox <- hostControlCmd{kind: protocol.HostResume} }
func (c *Coordinator) RestartGame() { c.Inbox <- hostControlCmd{kind: protocol.HostRestart} }
func (c *Coordinator) EndGame()     { c.Inbox <- hostControlCmd{kind: protocol.HostEndGame} }

// GrantRespawn revives a client's avatar and tells that client to respawn.
func (c *Coordinator) GrantRespawn(playerID string) {
	c.Inbox <- grantRespawnCmd{playerID: playerID}
}

// ForceSync pushes an immediate snapshot train. The game calls this after
// critical events it owns: local player death/respawn, enemy deaths, round
// transitions.
func (c *Coordinator) ForceSync() {
	c.Inbox <- forceSyncCmd{}
}

func (c *Coordinator) handleCommand(cmd any) {
	switch m := cmd.(type) {
	case hostCmd:
		c.startHost(m)
	case joinCmd:
		c.startJoin(m)
	case joinTimeout:
		if c.joinWait != nil {
			c.joinWait <- &network.ConnectError{Stage: "dial", Err: errJoinTimeout}
			c.joinWait = nil
			c.notify("Could not reach the host.")
			c.becomeIdle()
		}
	case soloCmd:
		c.becomeIdle()
		m.reply <- struct{}{}
	case chatCmd:
		c.sendChat(m.message)
	case positionCmd:
		if c.role == RoleClient {
			b, err := protocol.Encode(protocol.MsgPlayerPosition,
				protocol.PlayerPositionPayload{Position: m.state, PlayerID: c.localID})
			if err == nil {
				c.sendToHost(b)
			}
		}
	case actionCmd:
		c.submitAction(m.action)
	case boardCmd:
		c.applyBoard(m)
	case hostControlCmd:
		c.hostControl(m.kind)
	case grantRespawnCmd:
		c.grantRespawn(m.playerID)
	case forceSyncCmd:
		if c.role == RoleHost && c.rep != nil {
			c.rep.ForceBroadcast()
		}
	}
}

func (c *Coordinator) startHost(m hostCmd) {
	c.becomeIdle()
	mgr := network.NewManager(c.transport, c.cfg.Network)
	id, err := mgr.InitHost()
	if err != nil {
		c.notify("Could not start a multiplayer game.")
		m.reply <- hostResult{err: err}
		return
	}
	c.mgr = mgr
	c.localID = id
	c.role = RoleHost
	c.rep = replicate.NewEngine(id, c.view, managerSet{mgr}, c.cfg.BroadcastInterval)
	c.registerHostHandlers()
	if c.cfg.LobbyURL != "" {
		c.lobby = lobby.NewClient(c.cfg.LobbyURL, m.name, id)
		if err := c.lobby.Register(1); err != nil {
			// the game is playable without being listed
			log.Printf("session: lobby register: %v", err)
		}
	}
	m.reply <- hostResult{id: id}
}

func (c *Coordinator) startJoin(m joinCmd) {
	c.becomeIdle()
	mgr := network.NewManager(c.transport, c.cfg.Network)
	if _, err := mgr.Join(m.remoteID); err != nil {
		c.notify("Could not join the game.")
		m.reply <- err
		return
	}
	c.mgr = mgr
	c.localID = mgr.LocalID()
	c.hostID = m.remoteID
	c.role = RoleClient
	c.rec = reconcile.NewEngine(c.localID, c.hooks.Reconcile)
	c.registerClientHandlers()
	c.joinWait = m.reply
	c.joinTimer = time.AfterFunc(c.cfg.JoinTimeout, func() {
		select {
		case c.Inbox <- joinTimeout{}:
		case <-c.quit:
		}
	})
}

func (c *Coordinator) sendChat(message string) {
	b, err := protocol.Encode(protocol.MsgChat,
		protocol.ChatPayload{Message: message, Sender: c.localID})
	if err != nil {
		return
	}
	switch c.role {
	case RoleHost:
		c.mgr.Broadcast(b)
	case RoleClient:
		c.sendToHost(b)
	}
}

func (c *Coordinator) submitAction(a protocol.Action) {
	switch c.role {
	case RoleHost:
		// the host is the authority, apply in place
		c.applyAction(c.localID, a)
	case RoleClient:
		b, err := protocol.Encode(protocol.MsgPlayerAction,
			protocol.PlayerActionPayload{Action: a, PlayerID: c.localID})
		if err == nil {
			c.sendToHost(b)
		}
	}
}

func (c *Coordinator) applyBoard(m boardCmd) {
	if m.add {
		// optimistic: board up now, host snapshot overrides later
		c.mut.AddBoard(m.windowIndex)
	} else if c.role != RoleClient {
		// removals are host-authoritative only
		c.mut.RemoveBoard(m.windowIndex)
	}
	switch c.role {
	case RoleHost:
		c.rep.Broadcast(true)
	case RoleClient:
		kind := protocol.ActionBoardAdd
		if !m.add {
			kind = protocol.ActionBoardRemove
		}
		data, _ := marshalBoard(m.windowIndex)
		b, err := protocol.Encode(protocol.MsgPlayerAction, protocol.PlayerActionPayload{
			Action:   protocol.Action{Type: kind, Data: data, Timestamp: time.Now().UnixMilli()},
			PlayerID: c.localID,
		})
		if err == nil {
			c.sendToHost(b)
		}
	}
}

func (c *Coordinator) hostControl(kind string) {
	if c.role != RoleHost {
		return
	}
	c.applyHostAction(kind)
	b, err := protocol.Encode(protocol.MsgHostAction,
		protocol.HostActionPayload{Action: protocol.HostAction{Type: kind}})
	if err == nil {
		c.mgr.Broadcast(b)
	}
	c.rep.ForceBroadcast()
}

func (c *Coordinator) grantRespawn(playerID string) {
	if c.role != RoleHost {
		return
	}
	c.mut.RespawnPlayer(playerID)
	b, err := protocol.Encode(protocol.MsgRespawnPlayer,
		protocol.RespawnPlayerPayload{PlayerID: playerID})
	if err == nil {
		if err := c.mgr.SendTo(playerID, b); err != nil {
			log.Printf("session: respawn notify %s: %v", playerID, err)
		}
	}
	c.rep.ForceBroadcast()
}

func (c *Coordinator) sendToHost(b []byte) {
	if c.mgr == nil {
		return
	}
	if err := c.mgr.SendTo(c.hostID, b); err != nil {
		log.Printf("session: send to host: %v", err)
	}
}

func (c *Coordinator) notify(message string) {
	if c.hooks.OnNotification != nil {
		c.hooks.OnNotification(message)
	}
}

// managerSet adapts the manager's peer list to the replicator's view of it.
type managerSet struct{ m *network.Manager }

func (s managerSet) Conns() []replicate.Conn {
	peers := s.m.Peers()
	out := make([]replicate.Conn, len(peers))
	for i, pc := range peers {
		out[i] = pc
	}
	return out
}

func (s managerSet) Drop(id string) { s.m.DropPeer(id) }

func newRelayLimiter(cfg Config) *rate.Limiter {
	return rate.NewLimiter(rate.Limit(cfg.RelayPerSecond), cfg.RelayBurst)
}
