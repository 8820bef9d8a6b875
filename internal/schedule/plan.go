package schedule

import (
	"slices"
)

// Transition is the outcome of advancing a block's round counter.
type Transition int

const (
	// Continue starts the next round of the same block.
	Continue Transition = iota
	// Break pauses before the next block.
	Break
	// End finishes the experiment.
	End
)

func (t Transition) String() string {
	switch t {
	case Continue:
		return "continue"
	case Break:
		return "break"
	case End:
		return "end"
	default:
		return "unknown"
	}
}

// Plan is the block layout of an experiment: the environment of each block
// and how many rounds each environment runs.
type Plan struct {
	order  []string
	rounds map[string]int
	// fallbackRounds applies to environments without a configured count.
	fallbackRounds int
}

func NewPlan(order []string, rounds map[string]int, fallbackRounds int) Plan {
	copied := make(map[string]int, len(rounds))
	for env, n := range rounds {
		copied[env] = n
	}
	return Plan{order: slices.Clone(order), rounds: copied, fallbackRounds: fallbackRounds}
}

// Blocks returns the number of blocks.
func (p Plan) Blocks() int {
	return len(p.order)
}

// Order returns the environment order.
func (p Plan) Order() []string {
	return slices.Clone(p.order)
}

// EnvironmentFor returns the environment of a 0-based block index, or "" if
// the block does not exist.
func (p Plan) EnvironmentFor(block int) string {
	if block < 0 || block >= len(p.order) {
		return ""
	}
	return p.order[block]
}

// RoundsFor returns the configured round count of a block.
func (p Plan) RoundsFor(block int) int {
	if n, ok := p.rounds[p.EnvironmentFor(block)]; ok && n > 0 {
		return n
	}
	return p.fallbackRounds
}

// Transition decides what follows once the round counter of block has moved
// to nextRound.
func (p Plan) Transition(block, nextRound int) Transition {
	if nextRound <= p.RoundsFor(block) {
		return Continue
	}
	if block+1 < len(p.order) {
		return Break
	}
	return End
}
