package tracking

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ssukumar/GlobalInvigoration/internal/clock"
	"github.com/ssukumar/GlobalInvigoration/internal/invariant"
	"github.com/ssukumar/GlobalInvigoration/internal/records"
)

func newSegmenter(warning func() bool) (*ReachSegmenter, *[]records.Reach) {
	var emitted []records.Reach
	seg := NewReachSegmenter(NewZones(1000, 0.1, 100), warning, func(r records.Reach) {
		emitted = append(emitted, r)
	}, invariant.NewReporter(zap.NewNop(), nil, true))
	seg.Start(ReachMeta{ParticipantID: "P_1", BlockIndex: 0, Environment: "poor", RoundIndex: 1, Score: 40})
	return seg, &emitted
}

func TestZonesClassify(t *testing.T) {
	zones := NewZones(1000, 0.1, 100)
	assert.Equal(t, records.WallLeft, zones.Classify(5))
	assert.Equal(t, records.WallLeft, zones.Classify(100))
	assert.Equal(t, records.WallNone, zones.Classify(500))
	assert.Equal(t, records.WallRight, zones.Classify(900))
	assert.Equal(t, records.WallRight, zones.Classify(995))

	resized := zones.Resize(2000)
	assert.InDelta(t, 200.0, resized.WallWidth, 1e-9)
	assert.Equal(t, records.WallNone, resized.Classify(150+100))
}

func TestZonesClampNarrowViewport(t *testing.T) {
	zones := NewZones(600, 0.1, 100)
	assert.InDelta(t, 100.0, zones.WallWidth, 1e-9)
	assert.InDelta(t, 500.0, zones.RightEdge, 1e-9)
	assert.Equal(t, records.WallLeft, zones.Classify(80))
	assert.Equal(t, records.WallNone, zones.Classify(300))
	assert.Equal(t, records.WallRight, zones.Classify(520))

	// Narrower than two walls: the right wall starts where the left ends.
	tiny := zones.Resize(150)
	assert.InDelta(t, 100.0, tiny.WallWidth, 1e-9)
	assert.InDelta(t, 100.0, tiny.RightEdge, 1e-9)
	assert.Equal(t, records.WallLeft, tiny.Classify(100))
	assert.Equal(t, records.WallRight, tiny.Classify(101))

	// Wide viewports keep the ratio.
	wide := tiny.Resize(3000)
	assert.InDelta(t, 300.0, wide.WallWidth, 1e-9)
	assert.InDelta(t, 2700.0, wide.RightEdge, 1e-9)
}

func TestSegmenterLeftToRightSealsReach(t *testing.T) {
	seg, emitted := newSegmenter(nil)

	first := seg.OnSample(5, 300, 1000)
	assert.True(t, first.Recorded)
	assert.Equal(t, records.StateAtSource, first.State)
	assert.Empty(t, *emitted)

	second := seg.OnSample(995, 300, 1400)
	assert.True(t, second.Sealed)
	assert.Equal(t, records.StateAtTarget, second.State)

	require.Len(t, *emitted, 1)
	reach := (*emitted)[0]
	assert.Equal(t, records.WallLeft, reach.StartWall)
	assert.Equal(t, records.WallRight, reach.EndWall)
	assert.Equal(t, 1, reach.ReachIndex)
	assert.False(t, reach.Implicit)
	assert.Equal(t, []int64{1000}, reach.Timestamps)
	assert.Equal(t, 40, reach.ScoreAtSeal)
	assert.Equal(t, "P_1_block1_round1_reach1", reach.Key().DocID())
	assert.Equal(t, 1, seg.OpenSamples())
}

func TestSegmenterChainsWallsAndAlignsArrays(t *testing.T) {
	warn := false
	seg, emitted := newSegmenter(func() bool { return warn })

	seg.OnSample(500, 0, 0) // lead-in
	seg.OnSample(10, 0, 10)
	seg.OnSample(400, 0, 20)
	warn = true
	seg.OnSample(600, 0, 30)
	warn = false
	seg.OnSample(50, 0, 40) // back to start wall: seals L->L
	seg.OnSample(990, 0, 50)
	seg.OnSample(500, 0, 60)
	seg.OnSample(20, 0, 70)
	seg.OnSample(980, 0, 80)
	seg.OnSample(700, 0, 90)
	require.True(t, seg.Freeze())
	assert.False(t, seg.Freeze())

	require.Len(t, *emitted, 5)
	assert.Equal(t, 1, seg.Dropped())
	assert.Equal(t, 5, seg.Emitted())

	for i, reach := range *emitted {
		assert.True(t, reach.Aligned(), "reach %d", i)
		assert.Equal(t, reach.Len(), reach.SampleCount)
		assert.Equal(t, i+1, reach.ReachIndex)
		if i > 0 {
			assert.Equal(t, (*emitted)[i-1].EndWall, reach.StartWall, "reach %d", i)
		}
	}

	first := (*emitted)[0]
	assert.Equal(t, []records.GameState{records.StateAtSource, records.StateReaching, records.StateWarning}, first.GameStates)
	assert.Equal(t, records.WallLeft, first.StartWall)
	assert.Equal(t, records.WallLeft, first.EndWall)
	assert.Equal(t, int64(20), first.DurationMs)

	walls := make([][2]records.Wall, 0, len(*emitted))
	for _, reach := range *emitted {
		walls = append(walls, [2]records.Wall{reach.StartWall, reach.EndWall})
	}
	assert.Equal(t, [][2]records.Wall{
		{records.WallLeft, records.WallLeft},
		{records.WallLeft, records.WallRight},
		{records.WallRight, records.WallLeft},
		{records.WallLeft, records.WallRight},
		{records.WallRight, records.WallNone},
	}, walls)

	last := (*emitted)[4]
	assert.True(t, last.Implicit)
	assert.Equal(t, records.WallRight, last.StartWall)
	assert.Equal(t, records.WallNone, last.EndWall)
	assert.Equal(t, []int64{80, 90}, last.Timestamps)
}

func TestSegmenterReturnToSameWallSealsReach(t *testing.T) {
	seg, emitted := newSegmenter(nil)

	seg.OnSample(5, 0, 100)
	seg.OnSample(20, 0, 110) // still on the wall
	seg.OnSample(500, 0, 200)
	assert.Empty(t, *emitted)

	back := seg.OnSample(5, 0, 300)
	assert.True(t, back.Sealed)

	require.Len(t, *emitted, 1)
	reach := (*emitted)[0]
	assert.Equal(t, records.WallLeft, reach.StartWall)
	assert.Equal(t, records.WallLeft, reach.EndWall)
	assert.False(t, reach.Implicit)
	assert.Equal(t, []int64{100, 110, 200}, reach.Timestamps)
	assert.Equal(t, 1, seg.OpenSamples())
}

func TestSegmenterIgnoresSamplesWhenFrozen(t *testing.T) {
	seg, emitted := newSegmenter(nil)
	seg.OnSample(5, 0, 0)
	seg.Freeze()
	result := seg.OnSample(995, 0, 10)
	assert.False(t, result.Recorded)
	assert.Equal(t, records.WallRight, result.Wall)
	require.Len(t, *emitted, 1)
	assert.Equal(t, records.WallLeft, (*emitted)[0].EndWall)
	assert.True(t, (*emitted)[0].Implicit)
}

func TestSegmenterFreezeWithoutReach(t *testing.T) {
	seg, emitted := newSegmenter(nil)
	seg.OnSample(500, 0, 0)
	assert.False(t, seg.Freeze())
	assert.Empty(t, *emitted)
}

func TestKeypressRecorderRetriesOnMistake(t *testing.T) {
	rec := NewKeypressRecorder([]string{"a", "s", "d", "f"})
	rec.Reset([]string{"a", "s", "d"}, 1000)

	assert.Equal(t, KeyResult{Accepted: true, Correct: true, Position: 1}, rec.OnKeyDown("A", 1100))
	assert.Equal(t, KeyResult{Position: 1}, rec.OnKeyDown("q", 1150))
	assert.Equal(t, KeyResult{Accepted: true, Correct: false, Position: 1}, rec.OnKeyDown("f", 1200))
	assert.True(t, rec.OnKeyUp("f", 1250))
	rec.OnKeyDown("s", 1300)
	result := rec.OnKeyDown("d", 1500)
	assert.True(t, result.Complete)

	assert.Equal(t, KeyResult{Position: 3, Complete: true}, rec.OnKeyDown("a", 1600))
	assert.False(t, rec.OnKeyUp("d", 1650))

	stats := rec.Stats()
	assert.Equal(t, 4, stats.Total)
	assert.Equal(t, 3, stats.Correct)
	assert.InDelta(t, 0.75, stats.Accuracy, 1e-9)
	assert.InDelta(t, 200.0, stats.MeanInterKeyInterval, 1e-9)
	assert.Equal(t, int64(500), stats.CompletionTimeMs)
	assert.Equal(t, 1, stats.Overshoot)

	events := rec.Events()
	require.Len(t, events, 4)
	assert.Equal(t, 3, events[2].Number)
	assert.Equal(t, "f", events[1].Key)
	assert.Equal(t, "s", events[1].Expected)
	assert.Equal(t, int64(1250), events[1].UpAt)
}

func TestKeypressRecorderSequenceKeysDoNotWidenAlphabet(t *testing.T) {
	rec := NewKeypressRecorder([]string{"a", "s", "d", "f"})
	rec.Reset([]string{"J", "k"}, 0)
	assert.Equal(t, KeyResult{Accepted: true, Correct: true, Position: 1}, rec.OnKeyDown("j", 10))
	assert.Equal(t, KeyResult{Accepted: true, Correct: true, Position: 2, Complete: true}, rec.OnKeyDown("k", 20))

	rec.Reset([]string{"a", "s"}, 100)
	assert.Equal(t, KeyResult{Position: 0}, rec.OnKeyDown("j", 110))
	assert.Equal(t, KeyResult{Accepted: true, Correct: false, Position: 0}, rec.OnKeyDown("f", 120))
	assert.Len(t, rec.Events(), 1)
}

func TestKeypressRecorderKeyUpPairsOldestPress(t *testing.T) {
	rec := NewKeypressRecorder([]string{"a", "s"})
	rec.Reset([]string{"a", "s", "a", "s"}, 0)
	rec.OnKeyDown("s", 10)
	rec.OnKeyDown("s", 20)
	assert.True(t, rec.OnKeyUp("s", 30))
	assert.True(t, rec.OnKeyUp("s", 40))
	assert.False(t, rec.OnKeyUp("s", 50))

	events := rec.Events()
	assert.Equal(t, int64(30), events[0].UpAt)
	assert.Equal(t, int64(40), events[1].UpAt)
}

func TestKeypressRecorderNoPresses(t *testing.T) {
	rec := NewKeypressRecorder([]string{"a"})
	rec.Reset([]string{"a"}, 0)
	stats := rec.Stats()
	assert.Zero(t, stats.Accuracy)
	assert.Zero(t, stats.Overshoot)
	assert.False(t, rec.Complete())

	rec.Stop()
	assert.False(t, rec.OnKeyDown("a", 10).Accepted)
}

func TestSpeedWarningDebounce(t *testing.T) {
	c := clock.NewManual(time.UnixMilli(0))
	var flips []bool
	monitor := NewSpeedWarningMonitor(c, 2000*time.Millisecond, func(v bool) { flips = append(flips, v) })

	monitor.OnWallEnter(records.WallLeft)
	c.Advance(1999 * time.Millisecond)
	assert.False(t, monitor.Warning())
	c.Advance(2 * time.Millisecond)
	assert.True(t, monitor.Warning())
	assert.Equal(t, []bool{true}, flips)
}

func TestSpeedWarningRearmsOnWallSwitch(t *testing.T) {
	c := clock.NewManual(time.UnixMilli(0))
	monitor := NewSpeedWarningMonitor(c, 2*time.Second, nil)

	monitor.OnWallEnter(records.WallLeft)
	c.Advance(1500 * time.Millisecond)
	monitor.OnWallEnter(records.WallNone)
	monitor.OnWallEnter(records.WallLeft)
	c.Advance(600 * time.Millisecond)
	assert.True(t, monitor.Warning(), "same wall must not re-arm")

	monitor.OnWallEnter(records.WallRight)
	assert.False(t, monitor.Warning())
	c.Advance(1999 * time.Millisecond)
	assert.False(t, monitor.Warning())
	c.Advance(time.Millisecond)
	assert.True(t, monitor.Warning())
}

func TestSpeedWarningPhaseChangeDisarms(t *testing.T) {
	c := clock.NewManual(time.UnixMilli(0))
	monitor := NewSpeedWarningMonitor(c, 2*time.Second, nil)
	monitor.OnWallEnter(records.WallLeft)
	monitor.OnPhaseChange()
	assert.False(t, monitor.Armed())
	c.Advance(5 * time.Second)
	assert.False(t, monitor.Warning())
}
