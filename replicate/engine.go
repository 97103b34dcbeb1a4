package replicate

import (
	"log"
	"math"
	"math/rand"
	"time"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/marcusglaze/resist-fps-sub001/network"
	"github.com/marcusglaze/resist-fps-sub001/protocol"
	"github.com/marcusglaze/resist-fps-sub001/world"
)

const (
	// DefaultInterval is the baseline broadcast cadence.
	DefaultInterval = 50 * time.Millisecond

	// moveEpsilon: an enemy that moved less than this between broadcasts
	// counts as frozen while the host avatar is dead.
	moveEpsilon = 0.05
	// nudgeDistance is how far a frozen enemy gets displaced.
	nudgeDistance = 0.35
)

// Critical events get the forced snapshot re-sent at these delays, since
// the transport gives no ack and a single send may simply vanish.
var forcedRepeatDelays = []time.Duration{
	100 * time.Millisecond,
	300 * time.Millisecond,
	600 * time.Millisecond,
	1000 * time.Millisecond,
}

// A freshly joined peer gets the immediate snapshot repeated twice within
// ~1.5s, covering a periodic broadcast that missed it mid-flight.
var joinBurstDelays = []time.Duration{
	700 * time.Millisecond,
	1400 * time.Millisecond,
}

// Conn is what the engine needs from one peer connection.
type Conn interface {
	ID() string
	Send(b []byte) error
}

// ConnSet is the active connection registry. The engine reads it and asks
// for pruning; it never mutates the set itself.
type ConnSet interface {
	Conns() []Conn
	Drop(id string)
}

// Engine builds authoritative snapshots from the world and broadcasts them
// at an adaptive, rate-limited cadence. Host-only; runs on the session loop.
type Engine struct {
	localID  string
	view     world.View
	conns    ConnSet
	interval time.Duration

	lastSent time.Time
	remote   map[string]protocol.PlayerState
	prevPos  map[int]mgl64.Vec3
	tasks    taskList
	rng      *rand.Rand
	now      func() time.Time
}

func NewEngine(localID string, view world.View, conns ConnSet, interval time.Duration) *Engine {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Engine{
		localID:  localID,
		view:     view,
		conns:    conns,
		interval: interval,
		remote:   make(map[string]protocol.PlayerState),
		prevPos:  make(map[int]mgl64.Vec3),
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
		now:      time.Now,
	}
}

// SetLocalID rebinds the host identity after recreation.
func (e *Engine) SetLocalID(id string) { e.localID = id }

// UpdateRemotePlayer stores the latest self-reported state of one client,
// folded into every following snapshot.
func (e *Engine) UpdateRemotePlayer(id string, ps protocol.PlayerState) {
	e.remote[id] = ps
}

// RemovePlayer drops a departed client from snapshots.
func (e *Engine) RemovePlayer(id string) {
	delete(e.remote, id)
}

// RemotePlayer returns the last reported state for one client.
func (e *Engine) RemotePlayer(id string) (protocol.PlayerState, bool) {
	ps, ok := e.remote[id]
	return ps, ok
}

// Tick runs due scheduled sends, then attempts a periodic broadcast.
func (e *Engine) Tick() {
	e.tasks.runDue(e.now())
	e.Broadcast(false)
}

// Broadcast sends a fresh snapshot to every peer. Without force it is
// skipped until the current interval has elapsed since the last successful
// broadcast. Reports whether a snapshot went out.
func (e *Engine) Broadcast(force bool) bool {
	now := e.now()
	if !force && now.Sub(e.lastSent) < e.currentInterval() {
		return false
	}
	b, err := e.encodeSnapshot()
	if err != nil {
		log.Printf("replicate: encode snapshot: %v", err)
		return false
	}

	// per-connection failures are isolated: a closed peer gets pruned and
	// the rest still receive the snapshot
	var failed []string
	for _, c := range e.conns.Conns() {
		if err := c.Send(b); err != nil {
			if network.IsClosed(err) {
				failed = append(failed, c.ID())
			} else {
				log.Printf("replicate: send to %s: %v", c.ID(), err)
			}
		}
	}
	for _, id := range failed {
		e.conns.Drop(id)
	}
	e.lastSent = now
	return true
}

// ForceBroadcast pushes a snapshot immediately and schedules the repeat
// train behind it. Used after critical events (deaths, round flips).
func (e *Engine) ForceBroadcast() {
	e.Broadcast(true)
	now := e.now()
	for _, d := range forcedRepeatDelays {
		e.tasks.schedule(now, d, func() { e.Broadcast(true) })
	}
}

// JoinBurst snapshots straight at one peer, then twice more. Sends to a
// still-connecting peer ride its pending queue, so the first snapshot is
// waiting the moment the link opens.
func (e *Engine) JoinBurst(c Conn) {
	e.sendTo(c)
	now := e.now()
	for _, d := range joinBurstDelays {
		e.tasks.schedule(now, d, func() { e.sendTo(c) })
	}
}

func (e *Engine) sendTo(c Conn) {
	b, err := e.encodeSnapshot()
	if err != nil {
		log.Printf("replicate: encode snapshot: %v", err)
		return
	}
	if err := c.Send(b); err != nil {
		log.Printf("replicate: send to %s: %v", c.ID(), err)
	}
}

// Teardown cancels every scheduled send. Nothing fires afterwards.
func (e *Engine) Teardown() {
	e.tasks.cancelAll()
}

// currentInterval halves the cadence while the host avatar is dead but a
// remote player still lives: the survivors deserve the responsiveness even
// though the host's own inputs have stopped driving the simulation.
func (e *Engine) currentInterval() time.Duration {
	if e.view.LocalPlayer().IsDead && e.anyRemoteAlive() {
		return e.interval / 2
	}
	return e.interval
}

func (e *Engine) anyRemoteAlive() bool {
	for _, ps := range e.remote {
		if !ps.IsDead {
			return true
		}
	}
	return false
}

func (e *Engine) encodeSnapshot() ([]byte, error) {
	return protocol.Encode(protocol.MsgGameState, protocol.GameStatePayload{State: e.BuildSnapshot()})
}

// BuildSnapshot assembles the full replacement state. Each call returns a
// fresh value; nothing queued for send is ever mutated afterwards.
func (e *Engine) BuildSnapshot() protocol.GameStateSnapshot {
	local := e.view.LocalPlayer()
	players := make(map[string]protocol.PlayerState, len(e.remote)+1)
	players[e.localID] = local
	for id, ps := range e.remote {
		players[id] = ps
	}

	enemies := e.view.Enemies()
	out := make([]protocol.EnemyState, len(enemies))
	copy(out, enemies)
	if local.IsDead && e.anyRemoteAlive() {
		e.nudgeFrozen(out)
	}
	e.recordPositions(enemies)

	return protocol.GameStateSnapshot{
		Players: players,
		Enemies: out,
		Round:   e.view.Round(),
		Windows: e.view.Windows(),
		Status:  e.view.Status(),
	}
}

// nudgeFrozen displaces enemies that have not moved since the previous
// broadcast. With the host avatar dead the authoritative driver is gone and
// enemies can stall mid-path; a small random shove keeps them from looking
// frozen on the survivors' screens.
func (e *Engine) nudgeFrozen(enemies []protocol.EnemyState) {
	for i := range enemies {
		prev, ok := e.prevPos[enemies[i].ID]
		if !ok {
			continue
		}
		cur := mgl64.Vec3{enemies[i].X, enemies[i].Y, enemies[i].Z}
		if cur.Sub(prev).Len() >= moveEpsilon {
			continue
		}
		angle := e.rng.Float64() * 2 * math.Pi
		d := mgl64.Vec3{math.Cos(angle), 0, math.Sin(angle)}.Mul(nudgeDistance)
		enemies[i].X += d.X()
		enemies[i].Y += d.Y()
		enemies[i].Z += d.Z()
	}
}

// recordPositions keeps the raw (pre-nudge) positions so a genuinely stuck
// enemy keeps getting nudged every tick.
func (e *Engine) recordPositions(enemies []protocol.EnemyState) {
	pos := make(map[int]mgl64.Vec3, len(enemies))
	for _, s := range enemies {
		pos[s.ID] = mgl64.Vec3{s.X, s.Y, s.Z}
	}
	e.prevPos = pos
}
