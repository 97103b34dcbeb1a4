package reconcile

import (
	"fmt"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/marcusglaze/resist-fps-sub001/protocol"
)

// Enemy is the shared capability surface of every proxy enemy variant.
// These are render mirrors of host-owned entities; all authority over them
// arrives through snapshots.
type Enemy interface {
	ID() int
	Kind() protocol.EnemyKind
	Position() mgl64.Vec3
	Health() float64
	Behavior() protocol.EnemyBehavior
	TargetWindow() int
	InsideRoom() bool

	// Apply overwrites the proxy with snapshot state.
	Apply(s protocol.EnemyState)
	// TakeDamage is the client-side predictive hit feedback; the host
	// snapshot overrides it either way.
	TakeDamage(amount float64)
}

type baseEnemy struct {
	id           int
	kind         protocol.EnemyKind
	pos          mgl64.Vec3
	health       float64
	behavior     protocol.EnemyBehavior
	targetWindow int
	insideRoom   bool
}

func (e *baseEnemy) ID() int                          { return e.id }
func (e *baseEnemy) Kind() protocol.EnemyKind         { return e.kind }
func (e *baseEnemy) Position() mgl64.Vec3             { return e.pos }
func (e *baseEnemy) Health() float64                  { return e.health }
func (e *baseEnemy) Behavior() protocol.EnemyBehavior { return e.behavior }
func (e *baseEnemy) TargetWindow() int                { return e.targetWindow }
func (e *baseEnemy) InsideRoom() bool                 { return e.insideRoom }

func (e *baseEnemy) Apply(s protocol.EnemyState) {
	e.pos = mgl64.Vec3{s.X, s.Y, s.Z}
	e.health = s.Health
	e.behavior = s.Behavior
	e.targetWindow = s.TargetWindow
	e.insideRoom = s.InsideRoom
}

func (e *baseEnemy) TakeDamage(amount float64) {
	e.health -= amount
	if e.health <= 0 {
		e.health = 0
		e.behavior = protocol.BehaviorDying
	}
}

// Variants. They differ in render tuning, not simulation: movement lives on
// the host.

type walker struct{ baseEnemy }

type sprinter struct{ baseEnemy }

// brute shrugs off part of the predictive damage so clients do not show a
// brute dying that the host still considers alive.
type brute struct{ baseEnemy }

func (b *brute) TakeDamage(amount float64) {
	b.baseEnemy.TakeDamage(amount * 0.8)
}

// NewEnemy builds the proxy variant for a snapshot entry. The kind set is
// sealed; an unknown discriminator is a protocol-level surprise the caller
// logs and skips.
func NewEnemy(s protocol.EnemyState) (Enemy, error) {
	base := baseEnemy{id: s.ID, kind: s.Kind}
	base.Apply(s)
	switch s.Kind {
	case protocol.EnemyWalker:
		return &walker{base}, nil
	case protocol.EnemySprinter:
		return &sprinter{base}, nil
	case protocol.EnemyBrute:
		return &brute{base}, nil
	}
	return nil, fmt.Errorf("unknown enemy type %q", s.Kind)
}
