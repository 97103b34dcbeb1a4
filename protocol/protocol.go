package protocol

import (
	"encoding/json"
)

// Wire message types. The set is closed: anything else coming off a link
// is dropped by the dispatcher.
const (
	MsgGameState      = "gameState"
	MsgPlayerPosition = "playerPosition"
	MsgPlayerAction   = "playerAction"
	MsgChat           = "chat"
	MsgHostAction     = "hostAction"
	MsgRespawnPlayer  = "respawnPlayer"
	MsgHostDisconnect = "hostDisconnect"
)

// Envelope wraps every message on the wire.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"` // raw payload bytes
}

// KnownType reports whether t belongs to the protocol's closed type set.
func KnownType(t string) bool {
	switch t {
	case MsgGameState, MsgPlayerPosition, MsgPlayerAction, MsgChat,
		MsgHostAction, MsgRespawnPlayer, MsgHostDisconnect:
		return true
	}
	return false
}
