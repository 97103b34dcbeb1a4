package reconcile

import (
	"testing"

	"github.com/marcusglaze/resist-fps-sub001/protocol"
)

type hookCounts struct {
	deathFlips   []string
	joins        []string
	leaves       []string
	spawns       []int
	despawns     []int
	cleared      int
	clearedCount int
	boardAdds    []int
	boardRemoves []int
}

func countingHooks(c *hookCounts) Hooks {
	return Hooks{
		OnPlayerDeathFlip: func(id string, dead bool) { c.deathFlips = append(c.deathFlips, id) },
		OnPlayerJoin:      func(p *PlayerProxy) { c.joins = append(c.joins, p.ID) },
		OnPlayerLeave:     func(id string) { c.leaves = append(c.leaves, id) },
		OnEnemySpawn:      func(e Enemy) { c.spawns = append(c.spawns, e.ID()) },
		OnEnemyDespawn:    func(e Enemy) { c.despawns = append(c.despawns, e.ID()) },
		OnEnemiesCleared:  func(n int) { c.cleared++; c.clearedCount = n },
		OnBoardAdded:      func(i int) { c.boardAdds = append(c.boardAdds, i) },
		OnBoardRemoved:    func(i int) { c.boardRemoves = append(c.boardRemoves, i) },
	}
}

func snapshotWith(enemies []protocol.EnemyState) protocol.GameStateSnapshot {
	return protocol.GameStateSnapshot{
		Players: map[string]protocol.PlayerState{},
		Enemies: enemies,
		Round:   protocol.RoundState{Number: 1, ZombiesRemaining: len(enemies), Active: true},
		Status:  protocol.StatusPlaying,
	}
}

func TestApplyIsIdempotent(t *testing.T) {
	var c hookCounts
	e := NewEngine("me", countingHooks(&c))

	snap := protocol.GameStateSnapshot{
		Players: map[string]protocol.PlayerState{
			"me":    {X: 1},
			"other": {X: 5, Health: 70},
		},
		Enemies: []protocol.EnemyState{
			{ID: 1, Kind: protocol.EnemyWalker, X: 2, Health: 50, Behavior: protocol.BehaviorMoving},
			{ID: 2, Kind: protocol.EnemySprinter, X: 4, Health: 30, Behavior: protocol.BehaviorAttacking},
		},
		Round:   protocol.RoundState{Number: 3, ZombiesRemaining: 2, Active: true},
		Windows: []protocol.WindowState{{Index: 0, BoardsCount: 2, BoardHealths: []float64{40, 60}}},
		Status:  protocol.StatusPlaying,
	}

	e.Apply(snap)
	e.Apply(snap)

	if len(c.joins) != 1 || len(c.spawns) != 2 {
		t.Fatalf("re-apply duplicated creation: joins=%v spawns=%v", c.joins, c.spawns)
	}
	if len(c.despawns) != 0 || c.cleared != 0 || len(c.leaves) != 0 {
		t.Fatalf("re-apply removed things: %+v", c)
	}
	if len(c.boardAdds) != 2 || len(c.boardRemoves) != 0 {
		t.Fatalf("re-apply mutated boards: adds=%v removes=%v", c.boardAdds, c.boardRemoves)
	}
	if len(e.Players()) != 1 || len(e.Enemies()) != 2 {
		t.Fatalf("proxy set drifted: %d players, %d enemies", len(e.Players()), len(e.Enemies()))
	}
}

func TestEnemyCompleteness(t *testing.T) {
	var c hookCounts
	e := NewEngine("me", countingHooks(&c))

	e.Apply(snapshotWith([]protocol.EnemyState{
		{ID: 1, Kind: protocol.EnemyWalker},
		{ID: 2, Kind: protocol.EnemyWalker},
		{ID: 3, Kind: protocol.EnemyBrute},
	}))

	// 2 stays, 3 goes, 4 and 5 arrive
	e.Apply(snapshotWith([]protocol.EnemyState{
		{ID: 2, Kind: protocol.EnemyWalker, X: 9},
		{ID: 4, Kind: protocol.EnemySprinter},
		{ID: 5, Kind: protocol.EnemyWalker},
	}))

	want := map[int]bool{2: true, 4: true, 5: true}
	got := e.Enemies()
	if len(got) != len(want) {
		t.Fatalf("enemy count = %d, want %d", len(got), len(want))
	}
	for _, en := range got {
		if !want[en.ID()] {
			t.Fatalf("unexpected enemy %d", en.ID())
		}
	}
	if len(c.despawns) != 1 || c.despawns[0] != 3 {
		t.Fatalf("despawns = %v, want [3]", c.despawns)
	}
	if en, _ := e.Enemy(2); en.Position().X() != 9 {
		t.Fatalf("survivor not updated: %v", en.Position())
	}
}

func TestEmptyEnemyListFastClear(t *testing.T) {
	var c hookCounts
	e := NewEngine("me", countingHooks(&c))

	e.Apply(snapshotWith([]protocol.EnemyState{
		{ID: 1, Kind: protocol.EnemyWalker},
		{ID: 2, Kind: protocol.EnemyWalker},
		{ID: 3, Kind: protocol.EnemyWalker},
	}))
	e.Apply(snapshotWith(nil))

	if len(e.Enemies()) != 0 {
		t.Fatalf("%d enemies left after clear", len(e.Enemies()))
	}
	if c.cleared != 1 || c.clearedCount != 3 {
		t.Fatalf("fast path not taken: cleared=%d count=%d", c.cleared, c.clearedCount)
	}
	if len(c.despawns) != 0 {
		t.Fatalf("per-entity despawn on the fast path: %v", c.despawns)
	}

	// empty-on-empty stays quiet
	e.Apply(snapshotWith(nil))
	if c.cleared != 1 {
		t.Fatal("clear fired with nothing to clear")
	}
}

func TestDeathFlipDebounce(t *testing.T) {
	var c hookCounts
	e := NewEngine("me", countingHooks(&c))

	dead := protocol.PlayerState{IsDead: true}
	e.UpdatePlayer("other", dead)
	e.UpdatePlayer("other", dead)

	if len(c.deathFlips) != 1 {
		t.Fatalf("death flip fired %d times, want 1", len(c.deathFlips))
	}

	// respawn flips once more, repeats stay silent
	alive := protocol.PlayerState{Health: 100}
	e.UpdatePlayer("other", alive)
	e.UpdatePlayer("other", alive)

	if len(c.deathFlips) != 2 {
		t.Fatalf("flips = %d, want 2", len(c.deathFlips))
	}
}

func TestSelfIsSkipped(t *testing.T) {
	var c hookCounts
	e := NewEngine("me", countingHooks(&c))

	snap := snapshotWith(nil)
	snap.Players = map[string]protocol.PlayerState{"me": {X: 1}}
	e.Apply(snap)

	if len(e.Players()) != 0 {
		t.Fatal("created a proxy for the local player")
	}
	e.UpdatePlayer("me", protocol.PlayerState{IsDead: true})
	if len(c.deathFlips) != 0 {
		t.Fatal("death flip fired for the local player")
	}
}

func TestPlayerAbsentFromSnapshotIsRemoved(t *testing.T) {
	var c hookCounts
	e := NewEngine("me", countingHooks(&c))

	snap := snapshotWith(nil)
	snap.Players = map[string]protocol.PlayerState{"a": {}, "b": {}}
	e.Apply(snap)

	snap2 := snapshotWith(nil)
	snap2.Players = map[string]protocol.PlayerState{"a": {}}
	e.Apply(snap2)

	if _, ok := e.Player("b"); ok {
		t.Fatal("absent player still has a proxy")
	}
	if len(c.leaves) != 1 || c.leaves[0] != "b" {
		t.Fatalf("leaves = %v", c.leaves)
	}
}

func TestWindowBoardRoundTrip(t *testing.T) {
	var c hookCounts
	e := NewEngine("me", countingHooks(&c))

	// start the window at one board
	snap := snapshotWith(nil)
	snap.Windows = []protocol.WindowState{{Index: 2, BoardsCount: 1, BoardHealths: []float64{80}}}
	e.Apply(snap)
	c.boardAdds = nil

	snap2 := snapshotWith(nil)
	snap2.Windows = []protocol.WindowState{{Index: 2, BoardsCount: 4, BoardHealths: []float64{30, 30, 30, 30}}}
	e.Apply(snap2)

	if len(c.boardAdds) != 3 {
		t.Fatalf("add operations = %d, want 3", len(c.boardAdds))
	}
	w, ok := e.Window(2)
	if !ok {
		t.Fatal("window missing")
	}
	if w.BoardsCount != 4 || len(w.BoardHealths) != 4 {
		t.Fatalf("window = %+v", w)
	}
	for i, h := range w.BoardHealths {
		if h != 30 {
			t.Fatalf("boardHealths[%d] = %v", i, h)
		}
	}
}

func TestWindowHealthsPaddedAndTruncated(t *testing.T) {
	var c hookCounts
	e := NewEngine("me", countingHooks(&c))

	// snapshot claims 3 boards but only reports 1 health: pad to full
	snap := snapshotWith(nil)
	snap.Windows = []protocol.WindowState{{Index: 0, BoardsCount: 3, BoardHealths: []float64{25}}}
	e.Apply(snap)

	w, _ := e.Window(0)
	if len(w.BoardHealths) != 3 || w.BoardHealths[0] != 25 || w.BoardHealths[2] != boardMaxHealth {
		t.Fatalf("padding wrong: %v", w.BoardHealths)
	}

	// fewer boards than healths: truncate, with remove ops down to count
	snap2 := snapshotWith(nil)
	snap2.Windows = []protocol.WindowState{{Index: 0, BoardsCount: 1, BoardHealths: []float64{10, 99, 99}}}
	e.Apply(snap2)

	w, _ = e.Window(0)
	if len(c.boardRemoves) != 2 {
		t.Fatalf("remove operations = %d, want 2", len(c.boardRemoves))
	}
	if len(w.BoardHealths) != 1 || w.BoardHealths[0] != 10 {
		t.Fatalf("truncation wrong: %v", w.BoardHealths)
	}
}

func TestRoundAndStatusCopiedVerbatim(t *testing.T) {
	e := NewEngine("me", Hooks{})
	snap := snapshotWith(nil)
	snap.Round = protocol.RoundState{Number: 7, ZombiesRemaining: 12, Active: true}
	snap.Status = protocol.StatusPaused
	e.Apply(snap)

	if e.Round() != snap.Round || e.Status() != protocol.StatusPaused {
		t.Fatalf("round=%+v status=%v", e.Round(), e.Status())
	}
}

func TestResetClearsEverything(t *testing.T) {
	e := NewEngine("me", Hooks{})
	snap := snapshotWith([]protocol.EnemyState{{ID: 1, Kind: protocol.EnemyWalker}})
	snap.Players = map[string]protocol.PlayerState{"a": {}}
	snap.Windows = []protocol.WindowState{{Index: 0, BoardsCount: 1, BoardHealths: []float64{50}}}
	e.Apply(snap)

	e.Reset()

	if len(e.Players()) != 0 || len(e.Enemies()) != 0 {
		t.Fatal("proxies survived reset")
	}
	if _, ok := e.Window(0); ok {
		t.Fatal("window survived reset")
	}
}
