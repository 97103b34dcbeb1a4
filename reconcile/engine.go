package reconcile

import (
	"log"
	"time"

	"github.com/marcusglaze/resist-fps-sub001/protocol"
)

// boardMaxHealth pads boardHealths entries the snapshot did not cover.
const boardMaxHealth = 100.0

// Hooks are the visual side effects the engine fires while reconciling.
// The rendering layer owns all of them; every field is optional.
type Hooks struct {
	// OnPlayerDeathFlip fires exactly once per isDead transition in either
	// direction (death effect, respawn effect).
	OnPlayerDeathFlip func(playerID string, dead bool)
	OnPlayerJoin      func(p *PlayerProxy)
	OnPlayerLeave     func(playerID string)
	OnEnemySpawn      func(e Enemy)
	// OnEnemyDespawn plays the death animation before removal.
	OnEnemyDespawn func(e Enemy)
	// OnEnemiesCleared is the fast path: everything vanished at once, skip
	// per-entity animations.
	OnEnemiesCleared func(count int)
	OnBoardAdded     func(windowIndex int)
	OnBoardRemoved   func(windowIndex int)
}

// Engine applies host snapshots to the local proxy set with full-replace
// semantics: whatever a snapshot omits is gone. Applying the same snapshot
// twice is a no-op.
type Engine struct {
	selfID  string
	players map[string]*PlayerProxy
	enemies map[int]Enemy
	windows map[int]*WindowProxy
	round   protocol.RoundState
	status  protocol.GameStatus
	hooks   Hooks

	now func() time.Time
}

func NewEngine(selfID string, hooks Hooks) *Engine {
	return &Engine{
		selfID:  selfID,
		players: make(map[string]*PlayerProxy),
		enemies: make(map[int]Enemy),
		windows: make(map[int]*WindowProxy),
		hooks:   hooks,
		now:     time.Now,
	}
}

// SetSelfID rebinds the local identity, needed when the manager recreates it.
func (e *Engine) SetSelfID(id string) { e.selfID = id }

// Apply reconciles one snapshot.
func (e *Engine) Apply(s protocol.GameStateSnapshot) {
	now := e.now()
	e.applyPlayers(s.Players, now)
	e.applyEnemies(s.Enemies)
	e.round = s.Round
	e.status = s.Status
	e.applyWindows(s.Windows)
}

func (e *Engine) applyPlayers(players map[string]protocol.PlayerState, now time.Time) {
	for id, ps := range players {
		if id == e.selfID {
			continue
		}
		e.applyPlayer(id, ps, now)
	}
	for id := range e.players {
		if _, ok := players[id]; !ok {
			delete(e.players, id)
			if e.hooks.OnPlayerLeave != nil {
				e.hooks.OnPlayerLeave(id)
			}
		}
	}
}

func (e *Engine) applyPlayer(id string, ps protocol.PlayerState, now time.Time) {
	p, ok := e.players[id]
	if !ok {
		p = &PlayerProxy{ID: id}
		e.players[id] = p
		if e.hooks.OnPlayerJoin != nil {
			e.hooks.OnPlayerJoin(p)
		}
	}
	if p.apply(ps, now) && e.hooks.OnPlayerDeathFlip != nil {
		e.hooks.OnPlayerDeathFlip(id, ps.IsDead)
	}
}

// UpdatePlayer handles a direct playerPosition message between snapshots.
// Same semantics as a snapshot entry, including the death debounce.
func (e *Engine) UpdatePlayer(id string, ps protocol.PlayerState) {
	if id == e.selfID {
		return
	}
	e.applyPlayer(id, ps, e.now())
}

func (e *Engine) applyEnemies(states []protocol.EnemyState) {
	// fast path: the host cleared the board, do not animate 40 deaths
	if len(states) == 0 && len(e.enemies) > 0 {
		n := len(e.enemies)
		e.enemies = make(map[int]Enemy)
		if e.hooks.OnEnemiesCleared != nil {
			e.hooks.OnEnemiesCleared(n)
		}
		return
	}

	seen := make(map[int]bool, len(states))
	for _, s := range states {
		seen[s.ID] = true
		if en, ok := e.enemies[s.ID]; ok {
			en.Apply(s)
			continue
		}
		en, err := NewEnemy(s)
		if err != nil {
			log.Printf("reconcile: skipping enemy %d: %v", s.ID, err)
			continue
		}
		e.enemies[s.ID] = en
		if e.hooks.OnEnemySpawn != nil {
			e.hooks.OnEnemySpawn(en)
		}
	}
	for id, en := range e.enemies {
		if !seen[id] {
			delete(e.enemies, id)
			if e.hooks.OnEnemyDespawn != nil {
				e.hooks.OnEnemyDespawn(en)
			}
		}
	}
}

func (e *Engine) applyWindows(states []protocol.WindowState) {
	for _, s := range states {
		w, ok := e.windows[s.Index]
		if !ok {
			w = &WindowProxy{Index: s.Index}
			e.windows[s.Index] = w
		}
		w.IsOpen = s.IsOpen
		for w.BoardsCount < s.BoardsCount {
			w.BoardsCount++
			if e.hooks.OnBoardAdded != nil {
				e.hooks.OnBoardAdded(s.Index)
			}
		}
		for w.BoardsCount > s.BoardsCount {
			w.BoardsCount--
			if e.hooks.OnBoardRemoved != nil {
				e.hooks.OnBoardRemoved(s.Index)
			}
		}
		w.BoardHealths = fitHealths(s.BoardHealths, w.BoardsCount)
	}
}

// fitHealths overwrites the healths array, truncated or padded to count.
func fitHealths(h []float64, count int) []float64 {
	out := make([]float64, count)
	for i := range out {
		if i < len(h) {
			out[i] = h[i]
		} else {
			out[i] = boardMaxHealth
		}
	}
	return out
}

// Reset drops every proxy. Called on role change and session teardown.
func (e *Engine) Reset() {
	e.players = make(map[string]*PlayerProxy)
	e.enemies = make(map[int]Enemy)
	e.windows = make(map[int]*WindowProxy)
	e.round = protocol.RoundState{}
	e.status = ""
}

// Read accessors for the rendering layer.

func (e *Engine) Player(id string) (*PlayerProxy, bool) {
	p, ok := e.players[id]
	return p, ok
}

func (e *Engine) Players() []*PlayerProxy {
	out := make([]*PlayerProxy, 0, len(e.players))
	for _, p := range e.players {
		out = append(out, p)
	}
	return out
}

func (e *Engine) Enemy(id int) (Enemy, bool) {
	en, ok := e.enemies[id]
	return en, ok
}

func (e *Engine) Enemies() []Enemy {
	out := make([]Enemy, 0, len(e.enemies))
	for _, en := range e.enemies {
		out = append(out, en)
	}
	return out
}

func (e *Engine) Window(index int) (*WindowProxy, bool) {
	w, ok := e.windows[index]
	return w, ok
}

func (e *Engine) Round() protocol.RoundState  { return e.round }
func (e *Engine) Status() protocol.GameStatus { return e.status }
