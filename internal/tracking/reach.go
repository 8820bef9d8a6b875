package tracking

import (
	"go.uber.org/zap"

	"github.com/ssukumar/GlobalInvigoration/internal/invariant"
	"github.com/ssukumar/GlobalInvigoration/internal/records"
)

// ReachMeta identifies the round the segmenter is recording.
type ReachMeta struct {
	ParticipantID string
	BlockIndex    int
	Environment   string
	RoundIndex    int
	// Score is the participant's score while the round's reaches are recorded.
	Score int
}

// Classification describes what happened to one pointer sample.
type Classification struct {
	Wall  records.Wall
	State records.GameState
	// Recorded is false for lead-in samples and samples after Freeze.
	Recorded bool
	// Sealed is true when the sample closed the previous reach.
	Sealed bool
}

// ReachSegmenter splits the pointer stream of one round into wall-to-wall
// reaches. Sealed reaches are handed to the emit callback and never touched
// again.
type ReachSegmenter struct {
	zones    Zones
	warning  func() bool
	emit     func(records.Reach)
	reporter *invariant.Reporter

	meta      ReachMeta
	open      *records.Reach
	lastWall  records.Wall
	nextIndex int
	emitted   int
	dropped   int
	frozen    bool
}

// NewReachSegmenter returns a frozen segmenter; call Start before feeding
// samples. warning reports whether the speed warning is active.
func NewReachSegmenter(zones Zones, warning func() bool, emit func(records.Reach), reporter *invariant.Reporter) *ReachSegmenter {
	if warning == nil {
		warning = func() bool { return false }
	}
	return &ReachSegmenter{zones: zones, warning: warning, emit: emit, reporter: reporter, frozen: true}
}

// Start begins recording a new round.
func (s *ReachSegmenter) Start(meta ReachMeta) {
	s.meta = meta
	s.open = nil
	s.lastWall = records.WallNone
	s.nextIndex = 1
	s.emitted = 0
	s.dropped = 0
	s.frozen = false
}

// SetZones applies a viewport change immediately.
func (s *ReachSegmenter) SetZones(zones Zones) {
	s.zones = zones
}

func (s *ReachSegmenter) Zones() Zones {
	return s.zones
}

// Classify tags x without recording anything.
func (s *ReachSegmenter) Classify(x float64) (records.Wall, records.GameState) {
	wall := s.zones.Classify(x)
	switch wall {
	case records.WallLeft:
		return wall, records.StateAtSource
	case records.WallRight:
		return wall, records.StateAtTarget
	}
	if s.warning() {
		return wall, records.StateWarning
	}
	return wall, records.StateReaching
}

// OnSample records one pointer sample. Arriving at a wall after the pointer
// was anywhere else (the other wall or the center) seals the open reach; the
// boundary sample opens the next reach. Leaving a wall and returning to it
// therefore counts as a reach.
func (s *ReachSegmenter) OnSample(x, y float64, ts int64) Classification {
	wall, state := s.Classify(x)
	result := Classification{Wall: wall, State: state}
	if s.frozen {
		return result
	}

	if s.open == nil {
		if wall == records.WallNone {
			s.dropped++
			return result
		}
		s.openReach(wall)
	} else if wall != records.WallNone && wall != s.lastWall {
		s.seal(wall, false)
		s.openReach(wall)
		result.Sealed = true
	}

	s.open.AppendSample(state, x, y, ts)
	s.lastWall = wall
	result.Recorded = true
	return result
}

// Freeze stops recording and seals the open reach as implicit. It reports
// whether a reach was sealed.
func (s *ReachSegmenter) Freeze() bool {
	if s.frozen {
		return false
	}
	s.frozen = true
	if s.open == nil {
		return false
	}
	s.seal(s.lastWall, true)
	return true
}

// Frozen reports whether samples are currently ignored.
func (s *ReachSegmenter) Frozen() bool {
	return s.frozen
}

// Emitted returns the number of reaches sealed in the current round.
func (s *ReachSegmenter) Emitted() int {
	return s.emitted
}

// Dropped returns the number of lead-in samples discarded before the first
// wall contact of the current round.
func (s *ReachSegmenter) Dropped() int {
	return s.dropped
}

// OpenSamples returns the sample count of the open reach.
func (s *ReachSegmenter) OpenSamples() int {
	if s.open == nil {
		return 0
	}
	return s.open.Len()
}

func (s *ReachSegmenter) openReach(start records.Wall) {
	s.open = &records.Reach{
		ParticipantID: s.meta.ParticipantID,
		BlockIndex:    s.meta.BlockIndex,
		Environment:   s.meta.Environment,
		RoundIndex:    s.meta.RoundIndex,
		ReachIndex:    s.nextIndex,
		StartWall:     start,
	}
	s.nextIndex++
}

func (s *ReachSegmenter) seal(end records.Wall, implicit bool) {
	reach := s.open
	s.open = nil
	reach.EndWall = end
	reach.Implicit = implicit
	if !reach.Aligned() {
		s.reporter.Report(invariant.ArrayMisaligned,
			zap.String("doc_id", reach.Key().DocID()),
			zap.Int("states", len(reach.GameStates)),
			zap.Int("timestamps", len(reach.Timestamps)))
		reach.Truncate()
	}
	var sealedAt int64
	if n := len(reach.Timestamps); n > 0 {
		sealedAt = reach.Timestamps[n-1]
	}
	reach.Finalize(sealedAt, s.meta.Score)
	if reach.DurationMs < 0 {
		s.reporter.Report(invariant.NegativeDuration, zap.String("doc_id", reach.Key().DocID()), zap.Int64("duration_ms", reach.DurationMs))
		reach.DurationMs = 0
		reach.SampleRate = 0
	}
	s.emitted++
	if s.emit != nil {
		s.emit(*reach)
	}
}
