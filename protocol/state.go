package protocol

// Replicated world state. A GameStateSnapshot is always a full replacement:
// receivers treat anything missing from it as gone, never as unchanged.

type GameStatus string

const (
	StatusLobby   GameStatus = "lobby"
	StatusPlaying GameStatus = "playing"
	StatusPaused  GameStatus = "paused"
	StatusOver    GameStatus = "over"
)

type EnemyKind string

const (
	EnemyWalker   EnemyKind = "walker"
	EnemySprinter EnemyKind = "sprinter"
	EnemyBrute    EnemyKind = "brute"
)

type EnemyBehavior string

const (
	BehaviorIdle      EnemyBehavior = "idle"
	BehaviorMoving    EnemyBehavior = "moving"
	BehaviorAttacking EnemyBehavior = "attacking"
	BehaviorDying     EnemyBehavior = "dying"
)

type WeaponInfo struct {
	Name string `json:"name"`
	Ammo int    `json:"ammo"`
}

type PlayerState struct {
	X         float64     `json:"x"`
	Y         float64     `json:"y"`
	Z         float64     `json:"z"`
	RotationY float64     `json:"rotationY"`
	Health    float64     `json:"health"`
	IsDead    bool        `json:"isDead"`
	Weapon    *WeaponInfo `json:"weapon,omitempty"` // optional
}

type EnemyState struct {
	ID           int           `json:"id"` // stable for the session, never reused
	Kind         EnemyKind     `json:"type"`
	X            float64       `json:"x"`
	Y            float64       `json:"y"`
	Z            float64       `json:"z"`
	Health       float64       `json:"health"`
	Behavior     EnemyBehavior `json:"state"`
	TargetWindow int           `json:"targetWindow"`
	InsideRoom   bool          `json:"insideRoom"`
}

type RoundState struct {
	Number           int  `json:"round"`
	ZombiesRemaining int  `json:"zombiesRemaining"`
	Active           bool `json:"roundActive"`
}

// WindowState describes one boarded window. Index is 1:1 with the local
// level geometry on every peer, so it doubles as the identity.
type WindowState struct {
	Index        int       `json:"index"`
	BoardsCount  int       `json:"boardsCount"`
	IsOpen       bool      `json:"isOpen"`
	BoardHealths []float64 `json:"boardHealths"`
}

type GameStateSnapshot struct {
	Players map[string]PlayerState `json:"playerPositions"`
	Enemies []EnemyState           `json:"enemies"`
	Round   RoundState             `json:"round"`
	Windows []WindowState          `json:"windows"`
	Status  GameStatus             `json:"gameStatus"`
}
