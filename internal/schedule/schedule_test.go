package schedule

import (
	"math/rand"
	"slices"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func repeat(value, n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = value
	}
	return out
}

func multisets() map[string][]int {
	poor := append(append(repeat(10, 15), repeat(30, 9)...), repeat(50, 6)...)
	rich := append(append(repeat(10, 6), repeat(30, 9)...), repeat(50, 15)...)
	return map[string][]int{"poor": poor, "rich": rich}
}

func TestScheduleIsPermutationOfMultiset(t *testing.T) {
	sets := multisets()
	for seed := int64(1); seed <= 50; seed++ {
		scheduler := NewRewardScheduler(rand.New(rand.NewSource(seed)), sets, "poor", zap.NewNop())
		for block, env := range []string{"poor", "rich", "rich", "poor"} {
			got := scheduler.ScheduleFor(env, block).Values()
			want := slices.Clone(sets[env])
			slices.Sort(got)
			slices.Sort(want)
			require.Equal(t, want, got, "seed %d block %d", seed, block)
		}
	}
}

func TestScheduleForReturnsIdenticalInstance(t *testing.T) {
	scheduler := NewRewardScheduler(rand.New(rand.NewSource(7)), multisets(), "poor", zap.NewNop())
	first := scheduler.ScheduleFor("poor", 0)
	second := scheduler.ScheduleFor("poor", 0)
	assert.Same(t, first, second)

	other := scheduler.ScheduleFor("poor", 3)
	assert.NotSame(t, first, other)
}

func TestScheduleUnknownEnvironmentFallsBack(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	sets := multisets()
	scheduler := NewRewardScheduler(rand.New(rand.NewSource(3)), sets, "poor", zap.New(core))

	got := scheduler.ScheduleFor("lavish", 0).Values()
	want := slices.Clone(sets["poor"])
	slices.Sort(got)
	slices.Sort(want)
	assert.Equal(t, want, got)
	assert.Equal(t, 1, logs.FilterMessage("unknown environment, using fallback reward multiset").Len())
}

func TestScheduleAtWraps(t *testing.T) {
	scheduler := NewRewardScheduler(rand.New(rand.NewSource(1)), map[string][]int{"tiny": {10, 30, 50}}, "tiny", nil)
	schedule := scheduler.ScheduleFor("tiny", 0)
	values := schedule.Values()
	assert.Equal(t, values[0], schedule.At(1))
	assert.Equal(t, values[2], schedule.At(3))
	assert.Equal(t, values[0], schedule.At(4))
}

func TestKeySequenceHasNoAdjacentRepeats(t *testing.T) {
	alphabet := []string{"a", "s", "d", "f"}
	for seed := int64(0); seed < 500; seed++ {
		seq := GenerateKeySequence(rand.New(rand.NewSource(seed)), alphabet, 10)
		require.Len(t, seq.Keys, 10)
		require.False(t, seq.Flagged, "seed %d: %v", seed, seq.Keys)
		require.False(t, seq.HasAdjacentRepeat(), "seed %d: %v", seed, seq.Keys)

		counts := seq.Counts()
		for _, key := range alphabet {
			require.GreaterOrEqual(t, counts[key], 2, "seed %d", seed)
			require.LessOrEqual(t, counts[key], 3, "seed %d", seed)
		}
	}
}

func TestKeySequenceTwoSymbolsAlternates(t *testing.T) {
	seq := GenerateKeySequence(rand.New(rand.NewSource(11)), []string{"a", "b"}, 7)
	assert.False(t, seq.Flagged)
	assert.False(t, seq.HasAdjacentRepeat())
	assert.Equal(t, 4, seq.Counts()["a"])
}

func TestKeySequenceSingleSymbolIsFlagged(t *testing.T) {
	seq := GenerateKeySequence(rand.New(rand.NewSource(1)), []string{"a"}, 3)
	assert.Equal(t, []string{"a", "a", "a"}, seq.Keys)
	assert.True(t, seq.Flagged)
}

func TestKeySequenceEmptyInputs(t *testing.T) {
	assert.Empty(t, GenerateKeySequence(rand.New(rand.NewSource(1)), nil, 10).Keys)
	assert.Empty(t, GenerateKeySequence(rand.New(rand.NewSource(1)), []string{"a"}, 0).Keys)
}

func TestRepairAdjacentBreaksDuplicates(t *testing.T) {
	keys := []string{"a", "b", "b", "c"}
	repairAdjacent(keys)
	assert.False(t, hasAdjacentRepeat(keys), "%v", keys)
}

func TestDurationSamplerStaysInBounds(t *testing.T) {
	sampler := NewDurationSampler(rand.New(rand.NewSource(42)), 20, 2, 15, 25, 0.1)
	var sum time.Duration
	const draws = 10_000
	for i := 0; i < draws; i++ {
		d := sampler.Sample()
		require.GreaterOrEqual(t, d, 15*time.Second)
		require.LessOrEqual(t, d, 25*time.Second)
		require.Zero(t, d%(100*time.Millisecond), "not rounded to resolution: %v", d)
		sum += d
	}
	mean := sum.Seconds() / draws
	assert.InDelta(t, 20.0, mean, 0.1)
}

func TestDurationSamplerSwapsInvertedBounds(t *testing.T) {
	sampler := NewDurationSampler(rand.New(rand.NewSource(1)), 5, 100, 10, 2, 0)
	for i := 0; i < 100; i++ {
		d := sampler.Sample()
		require.GreaterOrEqual(t, d, 2*time.Second)
		require.LessOrEqual(t, d, 10*time.Second)
	}
}

func TestPlanTransitions(t *testing.T) {
	plan := NewPlan([]string{"poor", "rich"}, map[string]int{"poor": 2, "rich": 3}, 30)
	assert.Equal(t, 2, plan.Blocks())
	assert.Equal(t, "rich", plan.EnvironmentFor(1))
	assert.Equal(t, "", plan.EnvironmentFor(2))

	assert.Equal(t, Continue, plan.Transition(0, 2))
	assert.Equal(t, Break, plan.Transition(0, 3))
	assert.Equal(t, Continue, plan.Transition(1, 3))
	assert.Equal(t, End, plan.Transition(1, 4))
}

func TestPlanFallbackRounds(t *testing.T) {
	plan := NewPlan([]string{"poor"}, nil, 5)
	assert.Equal(t, 5, plan.RoundsFor(0))
	assert.Equal(t, "end", plan.Transition(0, 6).String())
}

func TestKeyGeneratorFallsBackToDefaultAlphabet(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	gen := NewKeyGenerator(rand.New(rand.NewSource(5)), nil, []string{"a", "s", "d", "f"}, 10, zap.New(core))
	assert.Equal(t, []string{"a", "s", "d", "f"}, gen.Alphabet())
	assert.Len(t, gen.Next().Keys, 10)
	assert.Equal(t, 1, logs.Len())
}
