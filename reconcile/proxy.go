package reconcile

import (
	"time"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/marcusglaze/resist-fps-sub001/protocol"
)

// PlayerProxy mirrors a remote player for local rendering. Created when the
// player first shows up in a snapshot, destroyed when it stops appearing.
type PlayerProxy struct {
	ID         string
	Pos        mgl64.Vec3
	RotationY  float64
	Health     float64
	IsDead     bool
	Weapon     *protocol.WeaponInfo
	LastUpdate time.Time

	// wasDead debounces the death/respawn transition effect: the snapshot
	// repeats isDead every tick but the effect must fire once per flip.
	wasDead bool
}

func (p *PlayerProxy) apply(s protocol.PlayerState, now time.Time) (deathFlip bool) {
	p.Pos = mgl64.Vec3{s.X, s.Y, s.Z}
	p.RotationY = s.RotationY
	p.Health = s.Health
	p.Weapon = s.Weapon
	p.LastUpdate = now
	deathFlip = s.IsDead != p.wasDead
	p.IsDead = s.IsDead
	p.wasDead = s.IsDead
	return deathFlip
}

// WindowProxy mirrors one boarded window. Board counts only ever change by
// single add/remove steps so the rendering layer can animate each one.
type WindowProxy struct {
	Index        int
	BoardsCount  int
	IsOpen       bool
	BoardHealths []float64
}
