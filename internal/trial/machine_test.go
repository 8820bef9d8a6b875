package trial

import (
	"context"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ssukumar/GlobalInvigoration/internal/clock"
	"github.com/ssukumar/GlobalInvigoration/internal/invariant"
	"github.com/ssukumar/GlobalInvigoration/internal/records"
	"github.com/ssukumar/GlobalInvigoration/internal/schedule"
	"github.com/ssukumar/GlobalInvigoration/internal/tracking"
	"github.com/ssukumar/GlobalInvigoration/logging"
	"github.com/ssukumar/GlobalInvigoration/logging/sinks"
	trialevents "github.com/ssukumar/GlobalInvigoration/logging/trial"
)

type memoryGateway struct {
	reaches  []records.Reach
	rounds   []records.Round
	sessions []records.Session
}

func (g *memoryGateway) PutReach(_ records.ReachKey, reach records.Reach) {
	g.reaches = append(g.reaches, reach)
}

func (g *memoryGateway) PutRound(_ records.RoundKey, round records.Round) {
	g.rounds = append(g.rounds, round)
}

func (g *memoryGateway) PutSession(_ string, session records.Session) {
	g.sessions = append(g.sessions, session)
}

// leakyClock hands out timers whose Stop reports success without cancelling
// anything, so every superseded callback still fires.
type leakyClock struct {
	*clock.Manual
}

type leakyTimer struct{}

func (leakyTimer) Stop() bool { return true }

func (c leakyClock) AfterFunc(d time.Duration, f func()) clock.Timer {
	c.Manual.AfterFunc(d, f)
	return leakyTimer{}
}

type harness struct {
	machine   *Machine
	clock     *clock.Manual
	gateway   *memoryGateway
	rewards   *schedule.RewardScheduler
	events    *sinks.MemorySink
	snapshots []Snapshot
}

func multisets() map[string][]int {
	poor := make([]int, 0, 30)
	rich := make([]int, 0, 30)
	for i := 0; i < 30; i++ {
		switch {
		case i < 15:
			poor = append(poor, 10)
		case i < 24:
			poor = append(poor, 30)
		default:
			poor = append(poor, 50)
		}
		switch {
		case i < 6:
			rich = append(rich, 10)
		case i < 15:
			rich = append(rich, 30)
		default:
			rich = append(rich, 50)
		}
	}
	return map[string][]int{"poor": poor, "rich": rich}
}

func newHarness(t *testing.T, plan schedule.Plan, duration time.Duration, c clock.Clock, manual *clock.Manual) *harness {
	t.Helper()
	rng := rand.New(rand.NewSource(99))
	h := &harness{
		clock:   manual,
		gateway: &memoryGateway{},
		rewards: schedule.NewRewardScheduler(rng, multisets(), "poor", zap.NewNop()),
		events:  sinks.NewMemorySink(),
	}
	m, err := New(Config{
		ParticipantID:    "P_1",
		Plan:             plan,
		Rewards:          h.rewards,
		Durations:        schedule.Fixed(duration),
		Keys:             schedule.NewKeyGenerator(rng, []string{"a", "s", "d", "f"}, nil, 10, nil),
		Zones:            tracking.NewZones(1000, 0.1, 100),
		CueLead:          3 * time.Second,
		WarningThreshold: 2 * time.Second,
		ResumeKey:        " ",
		Clock:            c,
		Gateway:          h.gateway,
		Publisher: logging.PublisherFunc(func(_ context.Context, event logging.Event) {
			_ = h.events.Write(event)
		}),
		Reporter: invariant.NewReporter(zap.NewNop(), nil, true),
		OnChange: func(s Snapshot) { h.snapshots = append(h.snapshots, s.Clone()) },
	})
	require.NoError(t, err)
	h.machine = m
	return h
}

func (h *harness) typeSequence(t *testing.T) {
	t.Helper()
	snap := h.machine.Snapshot()
	require.Equal(t, PhaseCollecting, snap.Phase)
	require.Len(t, snap.Sequence, 10)
	ts := h.clock.Now().UnixMilli()
	for i, key := range snap.Sequence {
		h.machine.OnKeyDown(key, ts+int64(i*100))
	}
}

func TestPoorTwoRoundsReachesBreakThenEnd(t *testing.T) {
	manual := clock.NewManual(time.UnixMilli(0))
	plan := schedule.NewPlan([]string{"poor", "rich"}, map[string]int{"poor": 2, "rich": 1}, 30)
	h := newHarness(t, plan, time.Millisecond, manual, manual)

	h.machine.Start()
	require.Equal(t, PhaseReaching, h.machine.Phase())
	assert.True(t, h.machine.Snapshot().Cue, "round shorter than the cue lead starts in cue")

	h.machine.OnPointer(5, 300, 0)
	h.machine.OnPointer(995, 300, 0)
	require.Len(t, h.gateway.reaches, 1)
	assert.Equal(t, records.WallLeft, h.gateway.reaches[0].StartWall)
	assert.Equal(t, records.WallRight, h.gateway.reaches[0].EndWall)

	manual.Advance(time.Millisecond)
	require.Equal(t, PhaseCollecting, h.machine.Phase())
	require.Len(t, h.gateway.reaches, 2, "open reach is sealed when reaching ends")
	assert.True(t, h.gateway.reaches[1].Implicit)
	assert.Equal(t, h.gateway.reaches[0].EndWall, h.gateway.reaches[1].StartWall)

	poor := h.rewards.ScheduleFor("poor", 0)
	assert.Equal(t, poor.Values()[0], h.machine.Snapshot().Reward)

	h.typeSequence(t)
	require.Len(t, h.gateway.rounds, 1)
	first := h.gateway.rounds[0]
	assert.InDelta(t, 1.0, first.Accuracy, 1e-9)
	assert.True(t, first.Completed)
	assert.Equal(t, poor.Values()[0], first.Reward)
	assert.Len(t, first.Sequence, 10)
	assert.Equal(t, 2, first.ReachCount)
	assert.Equal(t, int64(900), first.CompletionTimeMs)
	assert.Equal(t, 2, h.machine.Context().RoundIndex)
	assert.Equal(t, PhaseReaching, h.machine.Phase())

	manual.Advance(time.Millisecond)
	h.typeSequence(t)
	require.Len(t, h.gateway.rounds, 2)
	assert.Equal(t, poor.Values()[1], h.gateway.rounds[1].Reward)
	assert.Equal(t, PhaseBreak, h.machine.Phase())
	assert.Equal(t, 3, h.machine.Context().RoundIndex)

	manual.Advance(time.Hour)
	assert.Equal(t, PhaseBreak, h.machine.Phase(), "break waits for resume")

	h.machine.OnKeyDown("x", 0)
	assert.Equal(t, PhaseBreak, h.machine.Phase())
	h.machine.OnKeyDown(" ", 0)
	require.Equal(t, PhaseReaching, h.machine.Phase())
	ctx := h.machine.Context()
	assert.Equal(t, 1, ctx.BlockIndex)
	assert.Equal(t, 1, ctx.RoundIndex)

	manual.Advance(time.Millisecond)
	h.typeSequence(t)
	require.Equal(t, PhaseEnd, h.machine.Phase())

	require.Len(t, h.gateway.sessions, 1)
	session := h.gateway.sessions[0]
	assert.Equal(t, records.SessionCompleted, session.Status)
	require.Len(t, session.Rounds, 3)
	require.Len(t, session.Blocks, 2)
	assert.Equal(t, "rich", session.Blocks[1].Environment)

	total := 0
	for _, round := range h.gateway.rounds {
		total += round.Reward
	}
	assert.Equal(t, total, session.Score)
	assert.Equal(t, total, h.gateway.rounds[2].ScoreAfter)
	assert.Equal(t, len(h.gateway.reaches), session.TotalReaches)
	assert.Len(t, h.events.OfType(trialevents.EventSessionEnded), 1)
	assert.Len(t, h.events.OfType(trialevents.EventRoundCompleted), 3)
	assert.Equal(t, "completed", h.snapshots[len(h.snapshots)-1].Status)
}

func TestEveryRecordIsEmittedOnce(t *testing.T) {
	manual := clock.NewManual(time.UnixMilli(0))
	plan := schedule.NewPlan([]string{"poor"}, map[string]int{"poor": 3}, 30)
	h := newHarness(t, plan, 4*time.Second, manual, manual)

	h.machine.Start()
	for round := 0; round < 3; round++ {
		for i := 0; i < 6; i++ {
			x := 5.0
			if i%2 == 1 {
				x = 995
			}
			h.machine.OnPointer(x, 0, manual.Now().UnixMilli())
			manual.Advance(500 * time.Millisecond)
		}
		manual.Advance(4 * time.Second)
		h.typeSequence(t)
	}
	require.Equal(t, PhaseEnd, h.machine.Phase())

	reachIDs := map[string]bool{}
	for _, reach := range h.gateway.reaches {
		id := reach.Key().DocID()
		require.False(t, reachIDs[id], "duplicate reach %s", id)
		reachIDs[id] = true
		require.True(t, reach.Aligned())
	}
	roundIDs := map[string]bool{}
	for _, round := range h.gateway.rounds {
		id := round.Key().DocID()
		require.False(t, roundIDs[id], "duplicate round %s", id)
		roundIDs[id] = true
	}
	assert.Len(t, h.gateway.rounds, 3)
	assert.Len(t, h.gateway.sessions, 1)
	assert.Len(t, h.gateway.reaches, 18)

	h.machine.Abort("late")
	assert.Len(t, h.gateway.sessions, 1)
}

func TestStaleTimersDoNotChangeState(t *testing.T) {
	manual := clock.NewManual(time.UnixMilli(0))
	plan := schedule.NewPlan([]string{"poor"}, map[string]int{"poor": 2}, 30)
	h := newHarness(t, plan, 5*time.Second, leakyClock{manual}, manual)

	h.machine.Start()
	h.machine.OnPointer(5, 0, 0)
	manual.Advance(time.Second)
	h.machine.Abort("disconnected")
	token := h.machine.Context().Token

	manual.Advance(time.Minute)
	assert.Equal(t, PhaseEnd, h.machine.Phase())
	assert.Equal(t, token, h.machine.Context().Token)
	assert.False(t, h.machine.Snapshot().Cue)
	assert.False(t, h.machine.Snapshot().Warning)
	require.Len(t, h.gateway.rounds, 1)
	assert.True(t, h.gateway.rounds[0].Abandoned)
	assert.Equal(t, 1, h.gateway.rounds[0].ReachCount)
	require.Len(t, h.gateway.sessions, 1)
	assert.Equal(t, records.SessionAborted, h.gateway.sessions[0].Status)
	assert.Equal(t, "disconnected", h.gateway.sessions[0].Reason)
	require.Len(t, h.gateway.reaches, 1)
	assert.True(t, h.gateway.reaches[0].Implicit)
}

func TestStaleWarningTimerIsIgnored(t *testing.T) {
	manual := clock.NewManual(time.UnixMilli(0))
	plan := schedule.NewPlan([]string{"poor"}, map[string]int{"poor": 3}, 30)
	h := newHarness(t, plan, 5*time.Second, leakyClock{manual}, manual)

	h.machine.Start()
	h.machine.OnPointer(5, 0, 0)
	manual.Advance(time.Second)
	h.machine.OnPointer(995, 0, 1000)

	// The debounce armed at t=0 still fires at t=2s but belongs to the
	// previous wall.
	manual.Advance(1500 * time.Millisecond)
	assert.False(t, h.machine.Snapshot().Warning)
	manual.Advance(500 * time.Millisecond)
	assert.True(t, h.machine.Snapshot().Warning)

	manual.Advance(2 * time.Second)
	require.Equal(t, PhaseCollecting, h.machine.Phase())
	assert.False(t, h.machine.Snapshot().Warning)

	h.typeSequence(t)
	require.Equal(t, PhaseReaching, h.machine.Phase())
	require.Equal(t, 2, h.machine.Context().RoundIndex)

	manual.Advance(4900 * time.Millisecond)
	assert.Equal(t, PhaseReaching, h.machine.Phase())
	manual.Advance(100 * time.Millisecond)
	assert.Equal(t, PhaseCollecting, h.machine.Phase())
	assert.Len(t, h.gateway.rounds, 1)
}

func TestCueStartsBeforeRoundEnds(t *testing.T) {
	manual := clock.NewManual(time.UnixMilli(0))
	plan := schedule.NewPlan([]string{"rich"}, map[string]int{"rich": 1}, 30)
	h := newHarness(t, plan, 20*time.Second, manual, manual)

	h.machine.Start()
	manual.Advance(16999 * time.Millisecond)
	assert.False(t, h.machine.Snapshot().Cue)
	assert.Zero(t, h.machine.Snapshot().Reward)
	manual.Advance(time.Millisecond)
	snap := h.machine.Snapshot()
	assert.True(t, snap.Cue)
	assert.Equal(t, PhaseReaching, snap.Phase)
	assert.Equal(t, h.rewards.ScheduleFor("rich", 0).At(1), snap.Reward)
}

func TestSpeedWarningDuringReaching(t *testing.T) {
	manual := clock.NewManual(time.UnixMilli(0))
	plan := schedule.NewPlan([]string{"poor"}, map[string]int{"poor": 1}, 30)
	h := newHarness(t, plan, 20*time.Second, manual, manual)

	h.machine.Start()
	h.machine.OnPointer(5, 0, 0)
	manual.Advance(1999 * time.Millisecond)
	assert.False(t, h.machine.Snapshot().Warning)
	manual.Advance(2 * time.Millisecond)
	assert.True(t, h.machine.Snapshot().Warning)

	h.machine.OnPointer(500, 0, manual.Now().UnixMilli())
	h.machine.OnPointer(995, 0, manual.Now().UnixMilli())
	assert.False(t, h.machine.Snapshot().Warning)
	require.Len(t, h.gateway.reaches, 1)
	assert.Equal(t, records.StateWarning, h.gateway.reaches[0].GameStates[1])

	manual.Advance(20 * time.Second)
	assert.Equal(t, PhaseCollecting, h.machine.Phase())
	assert.False(t, h.machine.Snapshot().Warning)
}

func TestAbortDuringCollectionWritesAbandonedRound(t *testing.T) {
	manual := clock.NewManual(time.UnixMilli(0))
	plan := schedule.NewPlan([]string{"poor", "rich"}, map[string]int{"poor": 2, "rich": 2}, 30)
	h := newHarness(t, plan, time.Second, manual, manual)

	h.machine.Start()
	manual.Advance(time.Second)
	seq := h.machine.Snapshot().Sequence
	h.machine.OnKeyDown(seq[0], 1000)
	h.machine.OnKeyUp(seq[0], 1050)
	h.machine.Abort("shutdown")

	require.Len(t, h.gateway.rounds, 1)
	round := h.gateway.rounds[0]
	assert.True(t, round.Abandoned)
	assert.False(t, round.Completed)
	assert.Equal(t, 1, round.TotalPresses)
	assert.Equal(t, int64(1050), round.Events[0].UpAt)
	assert.Zero(t, round.ScoreAfter)

	require.Len(t, h.gateway.sessions, 1)
	session := h.gateway.sessions[0]
	assert.Equal(t, records.SessionAborted, session.Status)
	require.Len(t, session.Blocks, 1)
	assert.Equal(t, 1, session.Blocks[0].Rounds)
	assert.True(t, session.Rounds[0].Abandoned)
}

func TestAbortDuringReachingWritesAbandonedRound(t *testing.T) {
	manual := clock.NewManual(time.UnixMilli(0))
	plan := schedule.NewPlan([]string{"poor"}, map[string]int{"poor": 2}, 30)
	h := newHarness(t, plan, time.Second, manual, manual)

	h.machine.Start()
	manual.Advance(time.Second)
	h.typeSequence(t)
	require.Equal(t, PhaseReaching, h.machine.Phase())
	require.Len(t, h.gateway.rounds, 1)
	firstReward := h.gateway.rounds[0].Reward

	h.machine.OnPointer(500, 0, 1000) // lead-in
	h.machine.OnPointer(5, 0, 1100)
	h.machine.OnPointer(995, 0, 1200)
	h.machine.OnPointer(500, 0, 1300)
	h.machine.Abort("disconnected")

	require.Len(t, h.gateway.rounds, 2)
	round := h.gateway.rounds[1]
	assert.Equal(t, 2, round.RoundIndex)
	assert.True(t, round.Abandoned)
	assert.False(t, round.Completed)
	assert.Equal(t, 2, round.ReachCount)
	assert.Equal(t, 1, round.DroppedSamples)
	assert.Zero(t, round.Reward)
	assert.Empty(t, round.Sequence)
	assert.Empty(t, round.Events)
	assert.Zero(t, round.TotalPresses)
	assert.Equal(t, firstReward, round.ScoreAfter)

	require.Len(t, h.gateway.reaches, 2)
	assert.True(t, h.gateway.reaches[1].Implicit)

	require.Len(t, h.gateway.sessions, 1)
	session := h.gateway.sessions[0]
	assert.Equal(t, records.SessionAborted, session.Status)
	require.Len(t, session.Rounds, 2)
	assert.True(t, session.Rounds[1].Abandoned)
	require.Len(t, session.Blocks, 1)
	assert.Equal(t, 2, session.Blocks[0].Rounds)
}

func TestIgnoresInputOutsideItsPhase(t *testing.T) {
	manual := clock.NewManual(time.UnixMilli(0))
	plan := schedule.NewPlan([]string{"poor"}, map[string]int{"poor": 1}, 30)
	h := newHarness(t, plan, time.Second, manual, manual)

	h.machine.OnPointer(5, 0, 0)
	h.machine.OnKeyDown("a", 0)
	assert.Equal(t, PhaseIdle, h.machine.Phase())
	assert.False(t, h.machine.Resume())

	h.machine.Start()
	h.machine.OnKeyDown("a", 0)
	assert.Equal(t, PhaseReaching, h.machine.Phase())

	manual.Advance(time.Second)
	h.machine.OnPointer(5, 0, 1000)
	h.machine.OnPointer(995, 0, 1001)
	assert.Empty(t, h.gateway.reaches)
}

func TestViewportResizeMovesWalls(t *testing.T) {
	manual := clock.NewManual(time.UnixMilli(0))
	plan := schedule.NewPlan([]string{"poor"}, map[string]int{"poor": 1}, 30)
	h := newHarness(t, plan, 10*time.Second, manual, manual)

	h.machine.Start()
	h.machine.SetViewport(2000)
	h.machine.OnPointer(150, 0, 0)
	h.machine.OnPointer(995, 0, 10)
	h.machine.OnPointer(1850, 0, 20)
	require.Len(t, h.gateway.reaches, 1)
	assert.Equal(t, []float64{150, 995}, h.gateway.reaches[0].PosX)
}

func TestNewRejectsIncompleteConfig(t *testing.T) {
	_, err := New(Config{})
	require.Error(t, err)

	_, err = New(Config{ParticipantID: "P_1"})
	require.Error(t, err)
}
