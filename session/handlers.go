package session

import (
	"encoding/json"
	"log"

	"github.com/marcusglaze/resist-fps-sub001/network"
	"github.com/marcusglaze/resist-fps-sub001/protocol"
)

// handleTransportEvent lets the manager update the connection set first,
// then applies the session-level consequences.
func (c *Coordinator) handleTransportEvent(ev any) {
	if c.mgr == nil {
		return
	}
	// only the host accepts inbound links; anyone dialing a client gets
	// closed before the manager ever tracks them
	if in, ok := ev.(network.LinkIncoming); ok && c.role != RoleHost {
		_ = in.Link.Close()
		return
	}
	c.mgr.HandleEvent(ev)

	switch e := ev.(type) {
	case network.LinkIncoming:
		peerID := e.Link.RemoteID()
		c.limiters[peerID] = newRelayLimiter(c.cfg)
		// snapshot the newcomer right away; a periodic broadcast already in
		// flight missed this connection. Rides the pending queue until the
		// link opens.
		for _, pc := range c.mgr.Peers() {
			if pc.ID() == peerID {
				c.rep.JoinBurst(pc)
				break
			}
		}
		if c.hooks.OnPeerJoined != nil {
			c.hooks.OnPeerJoined(peerID)
		}
	case network.LinkOpened:
		if c.role == RoleClient && c.joinWait != nil && e.PeerID == c.hostID {
			if c.joinTimer != nil {
				c.joinTimer.Stop()
				c.joinTimer = nil
			}
			c.joinWait <- nil
			c.joinWait = nil
		}
	case network.LinkData:
		// a client only ever trusts frames from its host
		if c.role == RoleClient && e.PeerID != c.hostID {
			return
		}
		_ = c.disp.Dispatch(e.PeerID, e.Data)
	case network.LinkClosed:
		c.peerGone(e.PeerID)
	case network.LinkFailed:
		c.peerGone(e.PeerID)
	case network.IdentityRecreated:
		c.localID = e.ID
		if c.rep != nil {
			c.rep.SetLocalID(e.ID)
		}
		if c.rec != nil {
			c.rec.SetSelfID(e.ID)
		}
		if c.lobby != nil {
			c.lobby.SetPeerID(e.ID)
			if err := c.lobby.Refresh(len(c.mgr.Peers()) + 1); err != nil {
				log.Printf("session: lobby refresh after identity change: %v", err)
			}
		}
	}
}

func (c *Coordinator) peerGone(peerID string) {
	switch c.role {
	case RoleHost:
		c.rep.RemovePlayer(peerID)
		delete(c.limiters, peerID)
		if c.hooks.OnPeerLeft != nil {
			c.hooks.OnPeerLeft(peerID)
		}
		c.rep.ForceBroadcast()
	case RoleClient:
		if peerID != c.hostID {
			return
		}
		if c.joinWait != nil {
			// still connecting: settle the join as failed, quietly
			if c.joinTimer != nil {
				c.joinTimer.Stop()
				c.joinTimer = nil
			}
			c.joinWait <- &network.ConnectError{Stage: "dial", Err: errJoinAborted}
			c.joinWait = nil
			c.becomeIdle()
			return
		}
		// the host is the session; no migration, no election
		c.endClientSession("Lost connection to the host.")
	}
}

func (c *Coordinator) endClientSession(message string) {
	c.becomeIdle()
	if c.hooks.OnHostDisconnect != nil {
		c.hooks.OnHostDisconnect(message)
	}
}

// registerHostHandlers wires the host's inbound table: positions and chat
// are folded into state and relayed, actions are applied authoritatively.
func (c *Coordinator) registerHostHandlers() {
	c.disp.Reset()
	c.disp.Handle(protocol.MsgPlayerPosition, func(from string, env protocol.Envelope) {
		p, err := protocol.DecodePayload[protocol.PlayerPositionPayload](env)
		if err != nil {
			log.Printf("session: bad playerPosition from %s: %v", from, err)
			return
		}
		id := p.PlayerID
		if id == "" {
			id = from
		}
		c.rep.UpdateRemotePlayer(id, p.Position)
		c.relay(from, env)
	})
	c.disp.Handle(protocol.MsgPlayerAction, func(from string, env protocol.Envelope) {
		p, err := protocol.DecodePayload[protocol.PlayerActionPayload](env)
		if err != nil {
			log.Printf("session: bad playerAction from %s: %v", from, err)
			return
		}
		id := p.PlayerID
		if id == "" {
			id = from
		}
		c.applyAction(id, p.Action)
	})
	c.disp.Handle(protocol.MsgChat, func(from string, env protocol.Envelope) {
		p, err := protocol.DecodePayload[protocol.ChatPayload](env)
		if err != nil {
			return
		}
		if c.hooks.OnChat != nil {
			c.hooks.OnChat(p.Message, p.Sender)
		}
		c.relay(from, env)
	})
}

// registerClientHandlers wires the client's inbound table: snapshots into
// the reconciler, host orders into the world.
func (c *Coordinator) registerClientHandlers() {
	c.disp.Reset()
	c.disp.Handle(protocol.MsgGameState, func(from string, env protocol.Envelope) {
		p, err := protocol.DecodePayload[protocol.GameStatePayload](env)
		if err != nil {
			log.Printf("session: bad gameState: %v", err)
			return
		}
		c.rec.Apply(p.State)
	})
	c.disp.Handle(protocol.MsgPlayerPosition, func(from string, env protocol.Envelope) {
		p, err := protocol.DecodePayload[protocol.PlayerPositionPayload](env)
		if err != nil {
			return
		}
		id := p.PlayerID
		if id == "" {
			id = from
		}
		c.rec.UpdatePlayer(id, p.Position)
	})
	c.disp.Handle(protocol.MsgChat, func(from string, env protocol.Envelope) {
		p, err := protocol.DecodePayload[protocol.ChatPayload](env)
		if err != nil {
			return
		}
		if c.hooks.OnChat != nil {
			c.hooks.OnChat(p.Message, p.Sender)
		}
	})
	c.disp.Handle(protocol.MsgHostAction, func(from string, env protocol.Envelope) {
		p, err := protocol.DecodePayload[protocol.HostActionPayload](env)
		if err != nil {
			return
		}
		c.applyHostAction(p.Action.Type)
	})
	c.disp.Handle(protocol.MsgRespawnPlayer, func(from string, env protocol.Envelope) {
		p, err := protocol.DecodePayload[protocol.RespawnPlayerPayload](env)
		if err != nil {
			return
		}
		if p.PlayerID == c.localID {
			c.mut.RespawnPlayer(c.localID)
		}
	})
	c.disp.Handle(protocol.MsgHostDisconnect, func(from string, env protocol.Envelope) {
		p, _ := protocol.DecodePayload[protocol.HostDisconnectPayload](env)
		message := p.Message
		if message == "" {
			message = "The host ended the session."
		}
		c.endClientSession(message)
	})
}

// applyAction executes one client-requested mutation on the authoritative
// world. Actions apply in receipt order; the transport carries no sequence
// numbers, so reordering can double-apply or skip under loss.
func (c *Coordinator) applyAction(playerID string, a protocol.Action) {
	switch a.Type {
	case protocol.ActionDamageEnemy:
		var d protocol.DamageEnemyData
		if err := json.Unmarshal(a.Data, &d); err != nil {
			log.Printf("session: bad damageEnemy from %s: %v", playerID, err)
			return
		}
		c.mut.DamageEnemy(d.EnemyID, d.Amount)
		// the hit may have been lethal, push the result hard
		c.rep.ForceBroadcast()
	case protocol.ActionBoardAdd:
		var d protocol.BoardData
		if err := json.Unmarshal(a.Data, &d); err != nil {
			return
		}
		c.mut.AddBoard(d.WindowIndex)
		c.rep.Broadcast(true)
	case protocol.ActionBoardRemove:
		var d protocol.BoardData
		if err := json.Unmarshal(a.Data, &d); err != nil {
			return
		}
		c.mut.RemoveBoard(d.WindowIndex)
		c.rep.Broadcast(true)
	case protocol.ActionRespawn:
		c.grantRespawn(playerID)
	default:
		log.Printf("session: unknown action %q from %s", a.Type, playerID)
	}
}

// applyHostAction executes a host flow control on the local world.
func (c *Coordinator) applyHostAction(kind string) {
	switch kind {
	case protocol.HostPause:
		c.mut.SetPaused(true)
	case protocol.HostResume:
		c.mut.SetPaused(false)
	case protocol.HostRestart:
		c.mut.Restart()
	case protocol.HostEndGame:
		c.mut.EndGame()
	default:
		log.Printf("session: unknown host action %q", kind)
	}
}

// relay re-broadcasts a client's envelope to every other peer, throttled
// per sender so one client cannot flood the rest.
func (c *Coordinator) relay(from string, env protocol.Envelope) {
	if lim := c.limiters[from]; lim != nil && !lim.Allow() {
		return
	}
	b, err := json.Marshal(env)
	if err != nil {
		return
	}
	var failed []string
	for _, pc := range c.mgr.Peers() {
		if pc.ID() == from {
			continue
		}
		if err := pc.Send(b); err != nil {
			if network.IsClosed(err) {
				failed = append(failed, pc.ID())
			}
		}
	}
	for _, id := range failed {
		c.mgr.DropPeer(id)
	}
}

func marshalBoard(windowIndex int) ([]byte, error) {
	return json.Marshal(protocol.BoardData{WindowIndex: windowIndex})
}
