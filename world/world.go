// Package world holds the narrow seams between the sync core and the actual
// game. Rendering, input and the simulation itself live on the far side of
// these interfaces; the core only reads snapshots out and pushes relayed
// actions in.
package world

import (
	"github.com/marcusglaze/resist-fps-sub001/protocol"
)

// View is the read surface the host snapshots from every broadcast tick.
type View interface {
	LocalPlayer() protocol.PlayerState
	Enemies() []protocol.EnemyState
	Round() protocol.RoundState
	Windows() []protocol.WindowState
	Status() protocol.GameStatus
}

// Mutator is the write surface for applying relayed actions and host flow
// controls. Only the host applies authoritative mutations; clients touch it
// for host-ordered things (pause, respawn) and optimistic board adds.
type Mutator interface {
	DamageEnemy(id int, amount float64)
	AddBoard(windowIndex int)
	RemoveBoard(windowIndex int)
	RespawnPlayer(playerID string)
	SetPaused(paused bool)
	Restart()
	EndGame()

	// AdvanceRound force-ends a round. The replicator's self-check calls
	// this when a round is stuck active with nothing left to kill.
	AdvanceRound()
}
