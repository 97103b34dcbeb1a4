package protocol

import "encoding/json"

// Payload structs, one per message type.

type GameStatePayload struct {
	State GameStateSnapshot `json:"state"`
}

type PlayerPositionPayload struct {
	Position PlayerState `json:"position"`
	PlayerID string      `json:"playerId"`
}

// Action kinds carried inside a playerAction message. Clients never mutate
// authoritative state themselves; they ask the host with one of these.
const (
	ActionDamageEnemy = "damageEnemy"
	ActionBoardAdd    = "boardAdd"
	ActionBoardRemove = "boardRemove"
	ActionRespawn     = "respawnRequest"
)

type Action struct {
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

type PlayerActionPayload struct {
	Action   Action `json:"action"`
	PlayerID string `json:"playerId"`
}

type DamageEnemyData struct {
	EnemyID int     `json:"enemyId"`
	Amount  float64 `json:"amount"`
}

type BoardData struct {
	WindowIndex int `json:"windowIndex"`
}

type ChatPayload struct {
	Message string `json:"message"`
	Sender  string `json:"sender"`
}

// Host-driven game flow controls.
const (
	HostPause   = "pause"
	HostResume  = "resume"
	HostRestart = "restart"
	HostEndGame = "endGame"
)

type HostAction struct {
	Type string `json:"type"`
}

type HostActionPayload struct {
	Action HostAction `json:"action"`
}

type RespawnPlayerPayload struct {
	PlayerID string `json:"playerId"`
}

type HostDisconnectPayload struct {
	Message string `json:"message"`
}
