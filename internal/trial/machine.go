// Package trial runs one participant's experiment: the reaching, cue,
// collection, break and end phases, and the records each phase produces.
package trial

import (
	"context"
	"strings"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"go.uber.org/zap"

	"github.com/ssukumar/GlobalInvigoration/internal/clock"
	"github.com/ssukumar/GlobalInvigoration/internal/invariant"
	"github.com/ssukumar/GlobalInvigoration/internal/records"
	"github.com/ssukumar/GlobalInvigoration/internal/schedule"
	"github.com/ssukumar/GlobalInvigoration/internal/tracking"
	"github.com/ssukumar/GlobalInvigoration/logging"
	trialevents "github.com/ssukumar/GlobalInvigoration/logging/trial"
)

// KeySource yields the key sequence of each collection phase.
type KeySource interface {
	Next() schedule.KeySequence
	Alphabet() []string
}

type Config struct {
	ParticipantID    string
	Plan             schedule.Plan
	Rewards          *schedule.RewardScheduler
	Durations        schedule.Sampler
	Keys             KeySource
	Zones            tracking.Zones
	CueLead          time.Duration
	WarningThreshold time.Duration
	// ResumeKey resumes from a break when pressed. Empty disables it.
	ResumeKey string
	Clock     clock.Clock
	Gateway   Gateway
	Logger    *zap.Logger
	Publisher logging.Publisher
	Reporter  *invariant.Reporter
	// OnChange receives a snapshot after every visible state change.
	OnChange func(Snapshot)
}

// Machine is the per-participant phase state machine. It is not safe for
// concurrent use; the hub serializes every call onto one goroutine.
type Machine struct {
	cfg    Config
	logger *zap.Logger
	actor  logging.EntityRef

	ctx       SessionContext
	segmenter *tracking.ReachSegmenter
	recorder  *tracking.KeypressRecorder
	monitor   *tracking.SpeedWarningMonitor

	roundTimer clock.Timer
	cueTimer   clock.Timer

	round        *records.Round
	roundEmitted map[records.RoundKey]bool
	sessionSent  bool
	session      *records.Session
}

func New(cfg Config) (*Machine, error) {
	switch {
	case cfg.ParticipantID == "":
		return nil, goerr.New("participant id is required")
	case cfg.Plan.Blocks() == 0:
		return nil, goerr.New("experiment plan has no blocks", goerr.V("participant", cfg.ParticipantID))
	case cfg.Rewards == nil || cfg.Durations == nil || cfg.Keys == nil:
		return nil, goerr.New("reward, duration and key sources are required", goerr.V("participant", cfg.ParticipantID))
	case cfg.Clock == nil || cfg.Gateway == nil:
		return nil, goerr.New("clock and gateway are required", goerr.V("participant", cfg.ParticipantID))
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Publisher == nil {
		cfg.Publisher = logging.NopPublisher()
	}
	cfg.ResumeKey = strings.ToLower(cfg.ResumeKey)

	m := &Machine{
		cfg:          cfg,
		logger:       cfg.Logger.With(zap.String("participant", cfg.ParticipantID)),
		actor:        logging.Participant(cfg.ParticipantID),
		roundEmitted: make(map[records.RoundKey]bool),
	}
	m.ctx = SessionContext{ParticipantID: cfg.ParticipantID, Phase: PhaseIdle}
	m.monitor = tracking.NewSpeedWarningMonitor(cfg.Clock, cfg.WarningThreshold, m.onWarningChange)
	m.segmenter = tracking.NewReachSegmenter(cfg.Zones, m.monitor.Warning, m.emitReach, cfg.Reporter)
	m.recorder = tracking.NewKeypressRecorder(cfg.Keys.Alphabet())
	return m, nil
}

// Start leaves IDLE and begins round 1 of block 0.
func (m *Machine) Start() {
	if m.ctx.Phase != PhaseIdle {
		return
	}
	m.ctx.StartedAt = m.now()
	m.ctx.BlockIndex = 0
	m.ctx.RoundIndex = 1
	m.beginRound()
}

// OnPointer feeds one pointer sample. Samples outside REACHING are ignored.
func (m *Machine) OnPointer(x, y float64, ts int64) {
	if m.ctx.Phase != PhaseReaching {
		return
	}
	result := m.segmenter.OnSample(x, y, ts)
	m.monitor.OnWallEnter(result.Wall)
	if result.Sealed {
		m.notify()
	}
}

func (m *Machine) OnKeyDown(key string, ts int64) {
	switch m.ctx.Phase {
	case PhaseBreak:
		if m.cfg.ResumeKey != "" && strings.ToLower(key) == m.cfg.ResumeKey {
			m.Resume()
		}
	case PhaseCollecting:
		result := m.recorder.OnKeyDown(key, ts)
		if !result.Accepted {
			return
		}
		if result.Complete {
			m.completeRound(ts)
			return
		}
		m.notify()
	}
}

func (m *Machine) OnKeyUp(key string, ts int64) {
	if m.ctx.Phase != PhaseCollecting {
		return
	}
	m.recorder.OnKeyUp(key, ts)
}

// Resume leaves BREAK and starts the first round of the next block. It
// reports whether the machine was on a break.
func (m *Machine) Resume() bool {
	if m.ctx.Phase != PhaseBreak {
		return false
	}
	m.ctx.BlockIndex++
	m.ctx.RoundIndex = 1
	m.beginRound()
	return true
}

// SetViewport resizes the wall zones.
func (m *Machine) SetViewport(width float64) {
	if width <= 0 {
		return
	}
	m.segmenter.SetZones(m.segmenter.Zones().Resize(width))
}

// Abort ends the session early. The open reach is sealed as implicit and the
// in-flight round, whether still reaching or collecting, is written as
// abandoned. A round aborted while reaching has no reward and no sequence.
func (m *Machine) Abort(reason string) {
	switch m.ctx.Phase {
	case PhaseEnd:
		return
	case PhaseIdle:
		m.ctx.StartedAt = m.now()
	case PhaseReaching:
		m.segmenter.Freeze()
		if m.round != nil {
			m.round.ReachCount = m.segmenter.Emitted()
			m.round.DroppedSamples = m.segmenter.Dropped()
		}
		m.recorder.Clear()
		m.sealRound(m.now(), false)
	case PhaseCollecting:
		m.sealRound(m.now(), false)
	}
	m.finish(records.SessionAborted, reason)
}

// Context returns a copy of the session counters.
func (m *Machine) Context() SessionContext {
	return m.ctx
}

func (m *Machine) Phase() Phase {
	return m.ctx.Phase
}

// Session returns the sealed session record once the machine has ended.
func (m *Machine) Session() (records.Session, bool) {
	if m.session == nil {
		return records.Session{}, false
	}
	return m.session.Clone(), true
}

func (m *Machine) Snapshot() Snapshot {
	snap := Snapshot{
		ParticipantID: m.ctx.ParticipantID,
		Phase:         m.ctx.Phase,
		Cue:           m.ctx.Cue,
		BlockIndex:    m.ctx.BlockIndex,
		BlockCount:    m.cfg.Plan.Blocks(),
		RoundIndex:    m.ctx.RoundIndex,
		Score:         m.ctx.Score,
		Warning:       m.monitor.Warning(),
		Token:         m.ctx.Token,
	}
	if m.ctx.Phase != PhaseIdle && m.ctx.Phase != PhaseEnd {
		snap.Environment = m.cfg.Plan.EnvironmentFor(m.ctx.BlockIndex)
		snap.RoundsInBlock = m.cfg.Plan.RoundsFor(m.ctx.BlockIndex)
	}
	switch m.ctx.Phase {
	case PhaseReaching:
		snap.ReachCount = m.segmenter.Emitted()
		if m.ctx.Cue {
			snap.Reward = m.rewardFor(m.ctx.BlockIndex, m.ctx.RoundIndex)
		}
	case PhaseCollecting:
		if m.round != nil {
			snap.Reward = m.round.Reward
			snap.ReachCount = m.round.ReachCount
		}
		snap.Sequence = m.recorder.Sequence()
		snap.Position = m.recorder.Position()
	case PhaseEnd:
		if m.session != nil {
			snap.Status = string(m.session.Status)
		}
	}
	return snap
}

func (m *Machine) beginRound() {
	m.transition(PhaseReaching)
	m.round = nil

	duration := m.cfg.Durations.Sample()
	if duration < 0 {
		m.cfg.Reporter.Report(invariant.NegativeDuration, zap.Duration("duration", duration))
		duration = 0
	}
	env := m.cfg.Plan.EnvironmentFor(m.ctx.BlockIndex)
	startedAt := m.now()
	m.round = &records.Round{
		ParticipantID: m.ctx.ParticipantID,
		BlockIndex:    m.ctx.BlockIndex,
		Environment:   env,
		RoundIndex:    m.ctx.RoundIndex,
		DurationMs:    duration.Milliseconds(),
		StartedAt:     startedAt,
	}
	m.segmenter.Start(tracking.ReachMeta{
		ParticipantID: m.ctx.ParticipantID,
		BlockIndex:    m.ctx.BlockIndex,
		Environment:   env,
		RoundIndex:    m.ctx.RoundIndex,
		Score:         m.ctx.Score,
	})

	token := m.ctx.Token
	if cueIn := duration - m.cfg.CueLead; cueIn <= 0 {
		m.ctx.Cue = true
	} else {
		m.cueTimer = m.cfg.Clock.AfterFunc(cueIn, func() { m.onCue(token) })
	}
	m.roundTimer = m.cfg.Clock.AfterFunc(duration, func() { m.onRoundTimeout(token) })

	m.logger.Debug("round started",
		zap.Int("block", m.ctx.BlockIndex),
		zap.Int("round", m.ctx.RoundIndex),
		zap.String("environment", env),
		zap.Duration("duration", duration))
	m.notify()
}

func (m *Machine) onCue(token uint64) {
	if token != m.ctx.Token || m.ctx.Phase != PhaseReaching {
		return
	}
	m.cueTimer = nil
	m.ctx.Cue = true
	m.notify()
}

func (m *Machine) onRoundTimeout(token uint64) {
	if token != m.ctx.Token || m.ctx.Phase != PhaseReaching {
		return
	}
	m.roundTimer = nil
	m.segmenter.Freeze()
	m.transition(PhaseCollecting)

	now := m.now()
	seq := m.cfg.Keys.Next()
	if seq.Flagged {
		m.logger.Warn("key sequence kept an adjacent repeat", zap.Strings("keys", seq.Keys))
	}
	round := m.round
	round.Reward = m.rewardFor(m.ctx.BlockIndex, m.ctx.RoundIndex)
	round.Sequence = seq.Keys
	round.SequenceFlagged = seq.Flagged
	round.CollectionStartedAt = now
	round.ReachCount = m.segmenter.Emitted()
	round.DroppedSamples = m.segmenter.Dropped()
	m.recorder.Reset(seq.Keys, now)

	if m.recorder.Complete() {
		m.completeRound(now)
		return
	}
	m.notify()
}

func (m *Machine) completeRound(ts int64) {
	m.ctx.Score += m.round.Reward
	m.ctx.blockScore += m.round.Reward
	m.sealRound(ts, true)

	next := m.ctx.RoundIndex + 1
	switch m.cfg.Plan.Transition(m.ctx.BlockIndex, next) {
	case schedule.Continue:
		m.ctx.RoundIndex = next
		m.beginRound()
	case schedule.Break:
		m.closeBlock()
		m.ctx.RoundIndex = next
		m.transition(PhaseBreak)
		m.notify()
	case schedule.End:
		m.ctx.RoundIndex = next
		m.finish(records.SessionCompleted, "")
	}
}

// sealRound stamps the aggregates on the in-flight round and emits it.
func (m *Machine) sealRound(ts int64, completed bool) {
	round := m.round
	if round == nil {
		return
	}
	m.round = nil
	m.recorder.Stop()

	stats := m.recorder.Stats()
	round.SchemaVersion = records.SchemaVersion
	round.Events = m.recorder.Events()
	round.Completed = completed
	round.Abandoned = !completed
	round.CompletedAt = ts
	round.TotalPresses = stats.Total
	round.CorrectPresses = stats.Correct
	round.Accuracy = stats.Accuracy
	round.MeanInterKeyInterval = stats.MeanInterKeyInterval
	round.CompletionTimeMs = stats.CompletionTimeMs
	round.Overshoot = stats.Overshoot
	round.ScoreAfter = m.ctx.Score
	if round.DurationMs < 0 {
		m.cfg.Reporter.Report(invariant.NegativeDuration, zap.String("doc_id", round.Key().DocID()))
		round.DurationMs = 0
	}

	key := round.Key()
	if m.roundEmitted[key] {
		m.cfg.Reporter.Report(invariant.DuplicateEmission, zap.String("doc_id", key.DocID()))
		return
	}
	m.roundEmitted[key] = true
	m.ctx.blockRounds++
	m.ctx.rounds = append(m.ctx.rounds, round.Summary())
	m.cfg.Gateway.PutRound(key, *round)

	trialevents.RoundCompleted(context.Background(), m.cfg.Publisher, m.actor, round.BlockIndex+1, round.RoundIndex, trialevents.RoundCompletedPayload{
		Environment: round.Environment,
		Reward:      round.Reward,
		Accuracy:    round.Accuracy,
		Reaches:     round.ReachCount,
		Completed:   completed,
		Score:       m.ctx.Score,
	}, nil)
}

func (m *Machine) closeBlock() {
	if m.ctx.blockRounds == 0 {
		return
	}
	m.ctx.blocks = append(m.ctx.blocks, records.BlockSummary{
		BlockIndex:  m.ctx.BlockIndex,
		Environment: m.cfg.Plan.EnvironmentFor(m.ctx.BlockIndex),
		Rounds:      m.ctx.blockRounds,
		Score:       m.ctx.blockScore,
	})
	m.ctx.blockRounds = 0
	m.ctx.blockScore = 0
}

func (m *Machine) finish(status records.SessionStatus, reason string) {
	m.closeBlock()
	m.recorder.Stop()
	m.transition(PhaseEnd)

	endedAt := m.now()
	session := records.Session{
		SchemaVersion: records.SchemaVersion,
		ParticipantID: m.ctx.ParticipantID,
		Status:        status,
		Reason:        reason,
		StartedAt:     m.ctx.StartedAt,
		EndedAt:       endedAt,
		TotalDuration: endedAt - m.ctx.StartedAt,
		Score:         m.ctx.Score,
		Blocks:        append([]records.BlockSummary(nil), m.ctx.blocks...),
		Rounds:        append([]records.RoundSummary(nil), m.ctx.rounds...),
		TotalReaches:  m.ctx.reaches,
	}
	m.session = &session

	if m.sessionSent {
		m.cfg.Reporter.Report(invariant.DuplicateEmission, zap.String("doc_id", records.SessionDocID(m.ctx.ParticipantID)))
	} else {
		m.sessionSent = true
		m.cfg.Gateway.PutSession(m.ctx.ParticipantID, session.Clone())
	}

	m.logger.Info("session ended",
		zap.String("status", string(status)),
		zap.String("reason", reason),
		zap.Int("score", session.Score),
		zap.Int("rounds", len(session.Rounds)))
	trialevents.SessionEnded(context.Background(), m.cfg.Publisher, m.actor, m.ctx.BlockIndex+1, m.ctx.RoundIndex, trialevents.SessionEndedPayload{
		Status:  string(status),
		Reason:  reason,
		Score:   session.Score,
		Rounds:  len(session.Rounds),
		Reaches: session.TotalReaches,
	}, nil)
	m.notify()
}

// transition leaves the current phase: it bumps the token, stops the
// phase's timers and resets the speed warning.
func (m *Machine) transition(to Phase) {
	from := m.ctx.Phase
	m.ctx.Token++
	m.stopTimers()
	m.ctx.Phase = to
	m.ctx.Cue = false
	m.monitor.OnPhaseChange()

	trialevents.PhaseChanged(context.Background(), m.cfg.Publisher, m.actor, m.ctx.BlockIndex+1, m.ctx.RoundIndex, trialevents.PhaseChangedPayload{
		From:  string(from),
		To:    string(to),
		Token: m.ctx.Token,
	}, nil)
}

func (m *Machine) stopTimers() {
	if m.roundTimer != nil {
		m.roundTimer.Stop()
		m.roundTimer = nil
	}
	if m.cueTimer != nil {
		m.cueTimer.Stop()
		m.cueTimer = nil
	}
}

func (m *Machine) emitReach(reach records.Reach) {
	m.ctx.reaches++
	m.cfg.Gateway.PutReach(reach.Key(), reach)
	trialevents.ReachSealed(context.Background(), m.cfg.Publisher, m.actor, reach.BlockIndex+1, reach.RoundIndex, trialevents.ReachSealedPayload{
		ReachIndex: reach.ReachIndex,
		StartWall:  string(reach.StartWall),
		EndWall:    string(reach.EndWall),
		Samples:    reach.SampleCount,
		Implicit:   reach.Implicit,
	}, nil)
}

func (m *Machine) onWarningChange(active bool) {
	if m.ctx.Phase != PhaseReaching {
		return
	}
	trialevents.SpeedWarning(context.Background(), m.cfg.Publisher, m.actor, m.ctx.BlockIndex+1, m.ctx.RoundIndex, trialevents.SpeedWarningPayload{Active: active}, nil)
	m.notify()
}

func (m *Machine) rewardFor(block, round int) int {
	env := m.cfg.Plan.EnvironmentFor(block)
	return m.cfg.Rewards.ScheduleFor(env, block).At(round)
}

func (m *Machine) notify() {
	if m.cfg.OnChange != nil {
		m.cfg.OnChange(m.Snapshot())
	}
}

func (m *Machine) now() int64 {
	return clock.UnixMilli(m.cfg.Clock)
}
