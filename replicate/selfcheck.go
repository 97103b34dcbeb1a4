package replicate

import (
	"log"

	"github.com/marcusglaze/resist-fps-sub001/world"
)

// SelfCheck looks for state the simulation can wedge itself into and
// corrects it instead of erroring. Today that is one case: a round still
// active with zero zombies remaining and none on the field, which would
// otherwise leave every peer waiting forever. Reports whether a correction
// was applied.
func (e *Engine) SelfCheck(mut world.Mutator) bool {
	r := e.view.Round()
	if r.Active && r.ZombiesRemaining == 0 && len(e.view.Enemies()) == 0 {
		log.Printf("replicate: round %d stuck with no enemies, forcing transition", r.Number)
		mut.AdvanceRound()
		e.ForceBroadcast()
		return true
	}
	return false
}
