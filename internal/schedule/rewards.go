// Package schedule generates the per-block experiment parameters: shuffled
// reward schedules, key sequences, round durations and the block plan.
package schedule

import (
	"math/rand"
	"slices"
	"sync"

	"go.uber.org/zap"
)

// RewardSchedule is the ordered list of reward magnitudes for one block.
// Instances are immutable once built.
type RewardSchedule struct {
	environment string
	block       int
	values      []int
}

func (s *RewardSchedule) Environment() string { return s.environment }
func (s *RewardSchedule) Block() int          { return s.block }
func (s *RewardSchedule) Len() int            { return len(s.values) }

// At returns the reward for a 1-based round. Rounds past the end of the
// schedule wrap around.
func (s *RewardSchedule) At(round int) int {
	if len(s.values) == 0 {
		return 0
	}
	idx := (round - 1) % len(s.values)
	if idx < 0 {
		idx += len(s.values)
	}
	return s.values[idx]
}

// Values returns a copy of the schedule.
func (s *RewardSchedule) Values() []int {
	return slices.Clone(s.values)
}

// RewardScheduler builds one schedule per block index and caches it for the
// lifetime of the session.
type RewardScheduler struct {
	mu          sync.Mutex
	rng         *rand.Rand
	multisets   map[string][]int
	fallbackEnv string
	logger      *zap.Logger
	cache       map[int]*RewardSchedule
}

// NewRewardScheduler returns a scheduler drawing from rng. fallbackEnv names
// the multiset used for unknown environments.
func NewRewardScheduler(rng *rand.Rand, multisets map[string][]int, fallbackEnv string, logger *zap.Logger) *RewardScheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	copied := make(map[string][]int, len(multisets))
	for env, values := range multisets {
		copied[env] = slices.Clone(values)
	}
	return &RewardScheduler{
		rng:         rng,
		multisets:   copied,
		fallbackEnv: fallbackEnv,
		logger:      logger,
		cache:       make(map[int]*RewardSchedule),
	}
}

// ScheduleFor returns the reward schedule of a block, generating it on first
// use. Repeated calls for the same block return the same instance.
func (s *RewardScheduler) ScheduleFor(environment string, block int) *RewardSchedule {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cached, ok := s.cache[block]; ok {
		if cached.environment != environment {
			s.logger.Warn("reward schedule requested with a different environment",
				zap.Int("block", block),
				zap.String("cached", cached.environment),
				zap.String("requested", environment))
		}
		return cached
	}

	multiset, ok := s.multisets[environment]
	if !ok {
		s.logger.Warn("unknown environment, using fallback reward multiset",
			zap.String("environment", environment),
			zap.String("fallback", s.fallbackEnv))
		multiset = s.multisets[s.fallbackEnv]
	}
	values := slices.Clone(multiset)
	shuffle(s.rng, values)

	schedule := &RewardSchedule{environment: environment, block: block, values: values}
	s.cache[block] = schedule
	return schedule
}

// Multiset returns the configured reward multiset of an environment.
func (s *RewardScheduler) Multiset(environment string) ([]int, bool) {
	values, ok := s.multisets[environment]
	return slices.Clone(values), ok
}

// shuffle is an in-place Fisher–Yates shuffle.
func shuffle[T any](rng *rand.Rand, values []T) {
	for i := len(values) - 1; i > 0; i-- {
		j := rng.Intn(i + 1)
		values[i], values[j] = values[j], values[i]
	}
}
