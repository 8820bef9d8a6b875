// Package hub owns the live participants: it assigns ids, builds one trial
// machine per participant, routes client input onto that participant's
// runner and sweeps sessions whose client went away.
package hub

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/m-mizutani/goerr/v2"
	"go.uber.org/zap"

	"github.com/ssukumar/GlobalInvigoration/internal/clock"
	"github.com/ssukumar/GlobalInvigoration/internal/config"
	"github.com/ssukumar/GlobalInvigoration/internal/invariant"
	"github.com/ssukumar/GlobalInvigoration/internal/records"
	"github.com/ssukumar/GlobalInvigoration/internal/schedule"
	"github.com/ssukumar/GlobalInvigoration/internal/telemetry"
	"github.com/ssukumar/GlobalInvigoration/internal/tracking"
	"github.com/ssukumar/GlobalInvigoration/internal/trial"
	"github.com/ssukumar/GlobalInvigoration/logging"
	"github.com/ssukumar/GlobalInvigoration/logging/lifecycle"
)

var (
	ErrUnknownParticipant = errors.New("unknown participant")
	ErrClosed             = errors.New("hub closed")
)

const (
	metricParticipants = "hub_participants"
	metricJoins        = "hub_joins_total"
	metricAbandoned    = "hub_abandoned_total"
)

type Config struct {
	Experiment config.Experiment
	Gateway    trial.Gateway
	// Clock defaults to the system clock.
	Clock     clock.Clock
	Logger    *zap.Logger
	Publisher logging.Publisher
	Metrics   telemetry.Metrics
	// AbandonAfter is how long a participant without a connection is kept.
	AbandonAfter  time.Duration
	SweepInterval time.Duration
	InboxSize     int
}

// Update is pushed to a participant's subscriber after every visible change.
type Update struct {
	Snapshot trial.Snapshot
	// Session is set once the session has ended.
	Session *records.Session
}

// Subscriber receives updates for one participant. Send is called from the
// participant's runner and must not block.
type Subscriber interface {
	Send(update Update)
	Close()
}

// ExperimentInfo is the part of the configuration a client needs to render.
type ExperimentInfo struct {
	Order          []string `json:"order"`
	Alphabet       []string `json:"alphabet"`
	SequenceLength int      `json:"sequenceLength"`
	ResumeKey      string   `json:"resumeKey"`
	WallRatio      float64  `json:"wallRatio"`
	MinWallWidth   float64  `json:"minWallWidth"`
}

type JoinResult struct {
	ID         string         `json:"id"`
	Experiment ExperimentInfo `json:"experiment"`
}

// ParticipantDiagnostics is one row of the diagnostics endpoint.
type ParticipantDiagnostics struct {
	ID            string      `json:"id"`
	Phase         trial.Phase `json:"phase"`
	Block         int         `json:"block"`
	Round         int         `json:"round"`
	Score         int         `json:"score"`
	Connected     bool        `json:"connected"`
	LastHeartbeat int64       `json:"lastHeartbeat"`
	RTTMillis     int64       `json:"rttMillis"`
	Queued        int         `json:"queued"`
}

type participant struct {
	id      string
	runner  *Runner
	machine *trial.Machine

	mu        sync.Mutex
	sub       Subscriber
	connected bool
	lastSeen  time.Time
	lastRTT   time.Duration
	latest    trial.Snapshot
	ended     bool
}

// Hub owns all live participants.
type Hub struct {
	cfg       Config
	clock     clock.Clock
	logger    *zap.Logger
	publisher logging.Publisher
	metrics   telemetry.Metrics
	reporter  *invariant.Reporter
	seeds     atomic.Int64

	mu           sync.Mutex
	participants map[string]*participant
	closed       bool
}

func New(cfg Config) (*Hub, error) {
	if cfg.Gateway == nil {
		return nil, goerr.New("hub requires a gateway")
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.System()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Publisher == nil {
		cfg.Publisher = logging.NopPublisher()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = telemetry.Nop()
	}
	if cfg.AbandonAfter <= 0 {
		cfg.AbandonAfter = 2 * time.Minute
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = 15 * time.Second
	}
	if cfg.InboxSize <= 0 {
		cfg.InboxSize = 512
	}
	h := &Hub{
		cfg:          cfg,
		clock:        cfg.Clock,
		logger:       cfg.Logger,
		publisher:    cfg.Publisher,
		metrics:      cfg.Metrics,
		reporter:     invariant.NewReporter(cfg.Logger, cfg.Metrics, cfg.Experiment.StrictInvariants),
		participants: make(map[string]*participant),
	}
	h.seeds.Store(cfg.Clock.Now().UnixNano())
	return h, nil
}

// Join registers a new participant and builds its machine. The experiment
// starts when the participant first subscribes.
func (h *Hub) Join() (JoinResult, error) {
	now := h.clock.Now()
	id := fmt.Sprintf("P_%d_%s", now.UnixMilli(), uuid.NewString()[:8])

	p := &participant{id: id, lastSeen: now}
	p.runner = NewRunner(h.cfg.InboxSize)
	machine, err := h.newMachine(p)
	if err != nil {
		p.runner.Stop()
		return JoinResult{}, goerr.Wrap(err, "failed to build trial machine", goerr.V("participant", id))
	}
	p.machine = machine
	p.latest = machine.Snapshot()

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		p.runner.Stop()
		return JoinResult{}, ErrClosed
	}
	h.participants[id] = p
	count := len(h.participants)
	h.mu.Unlock()

	h.metrics.Add(metricJoins, 1)
	h.metrics.Store(metricParticipants, uint64(count))
	h.logger.Info("participant joined", zap.String("participant", id))
	lifecycle.ParticipantJoined(context.Background(), h.publisher, logging.Participant(id), lifecycle.ParticipantJoinedPayload{
		Order: h.cfg.Experiment.Order,
	}, nil)

	exp := h.cfg.Experiment
	return JoinResult{
		ID: id,
		Experiment: ExperimentInfo{
			Order:          exp.Order,
			Alphabet:       exp.Alphabet,
			SequenceLength: exp.SequenceLength,
			ResumeKey:      exp.ResumeKey,
			WallRatio:      exp.WallRatio,
			MinWallWidth:   exp.MinWallWidth,
		},
	}, nil
}

func (h *Hub) newMachine(p *participant) (*trial.Machine, error) {
	exp := h.cfg.Experiment
	seed := exp.Seed
	if seed == 0 {
		seed = h.seeds.Add(1)
	}
	rng := rand.New(rand.NewSource(seed))
	logger := h.logger.With(zap.String("participant", p.id))

	return trial.New(trial.Config{
		ParticipantID: p.id,
		Plan:          schedule.NewPlan(exp.Order, exp.Rounds(), exp.FallbackRounds()),
		Rewards:       schedule.NewRewardScheduler(rng, exp.Multisets(), exp.DefaultEnvironment, logger),
		Durations: schedule.NewDurationSampler(rng,
			exp.Duration.Mean, exp.Duration.StdDev, exp.Duration.Min, exp.Duration.Max, exp.Duration.Resolution),
		Keys:             schedule.NewKeyGenerator(rng, exp.Alphabet, exp.DefaultAlphabet(), exp.SequenceLength, logger),
		Zones:            tracking.NewZones(exp.ViewportWidth, exp.WallRatio, exp.MinWallWidth),
		CueLead:          exp.CueLeadDuration(),
		WarningThreshold: exp.WarningThresholdDuration(),
		ResumeKey:        exp.ResumeKey,
		Clock:            clock.WithDispatch(h.clock, func(f func()) { p.runner.Post(f) }),
		Gateway:          h.cfg.Gateway,
		Logger:           logger,
		Publisher:        h.publisher,
		Reporter:         h.reporter,
		OnChange:         func(snap trial.Snapshot) { p.push(snap) },
	})
}

// push runs on the participant's runner.
func (p *participant) push(snap trial.Snapshot) {
	update := Update{Snapshot: snap.Clone()}
	if snap.Phase == trial.PhaseEnd {
		if session, ok := p.machine.Session(); ok {
			update.Session = &session
		}
	}
	p.mu.Lock()
	p.latest = update.Snapshot
	p.ended = snap.Phase == trial.PhaseEnd
	sub := p.sub
	p.mu.Unlock()
	if sub != nil {
		sub.Send(update)
	}
}

// Subscribe attaches sub to a participant, replacing and closing any earlier
// subscriber. The first subscription starts the experiment; every
// subscription receives the current state.
func (h *Hub) Subscribe(id string, sub Subscriber) error {
	p, ok := h.lookup(id)
	if !ok {
		return goerr.Wrap(ErrUnknownParticipant, "cannot subscribe", goerr.V("participant", id))
	}

	p.mu.Lock()
	previous := p.sub
	p.sub = sub
	p.connected = true
	p.lastSeen = h.clock.Now()
	p.mu.Unlock()
	if previous != nil && previous != sub {
		previous.Close()
	}

	if !p.runner.Do(func() {
		if p.machine.Phase() == trial.PhaseIdle {
			p.machine.Start()
			return
		}
		p.push(p.machine.Snapshot())
	}) {
		return goerr.Wrap(ErrUnknownParticipant, "participant stopped", goerr.V("participant", id))
	}
	return nil
}

// Disconnect detaches sub. The session is kept until it has been idle for
// AbandonAfter. A stale subscriber that was already replaced is ignored.
func (h *Hub) Disconnect(id string, sub Subscriber, reason string) {
	p, ok := h.lookup(id)
	if !ok {
		return
	}
	p.mu.Lock()
	if p.sub != sub {
		p.mu.Unlock()
		return
	}
	p.sub = nil
	p.connected = false
	p.lastSeen = h.clock.Now()
	p.mu.Unlock()

	h.logger.Info("participant disconnected", zap.String("participant", id), zap.String("reason", reason))
	lifecycle.ParticipantDisconnected(context.Background(), h.publisher, logging.Participant(id), lifecycle.ParticipantDisconnectedPayload{
		Reason: reason,
	}, nil)
}

// Dispatch queues f to run against the participant's machine.
func (h *Hub) Dispatch(id string, f func(m *trial.Machine)) error {
	p, ok := h.lookup(id)
	if !ok {
		return goerr.Wrap(ErrUnknownParticipant, "cannot dispatch", goerr.V("participant", id))
	}
	p.mu.Lock()
	p.lastSeen = h.clock.Now()
	p.mu.Unlock()
	if !p.runner.Post(func() { f(p.machine) }) {
		return goerr.Wrap(ErrUnknownParticipant, "participant stopped", goerr.V("participant", id))
	}
	return nil
}

// UpdateHeartbeat records the most recent heartbeat time and RTT.
func (h *Hub) UpdateHeartbeat(id string, receivedAt time.Time, clientSent int64) (time.Duration, bool) {
	p, ok := h.lookup(id)
	if !ok {
		return 0, false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lastSeen = receivedAt
	if clientSent > 0 {
		clientTime := time.UnixMilli(clientSent)
		if clientTime.Before(receivedAt.Add(5 * time.Second)) {
			rtt := receivedAt.Sub(clientTime)
			if rtt < 0 {
				rtt = 0
			}
			p.lastRTT = rtt
		}
	}
	return p.lastRTT, true
}

// Sweep aborts and removes every participant without a connection that has
// been idle for at least AbandonAfter. It returns the number removed.
func (h *Hub) Sweep(now time.Time) int {
	h.mu.Lock()
	var stale []*participant
	for id, p := range h.participants {
		p.mu.Lock()
		idle := !p.connected && now.Sub(p.lastSeen) >= h.cfg.AbandonAfter
		p.mu.Unlock()
		if idle {
			stale = append(stale, p)
			delete(h.participants, id)
		}
	}
	count := len(h.participants)
	h.mu.Unlock()

	for _, p := range stale {
		p.mu.Lock()
		ended := p.ended
		idleFor := now.Sub(p.lastSeen)
		p.mu.Unlock()
		if !ended {
			p.runner.Do(func() { p.machine.Abort("abandoned") })
			h.metrics.Add(metricAbandoned, 1)
			h.logger.Warn("participant abandoned", zap.String("participant", p.id), zap.Duration("idle", idleFor))
			lifecycle.ParticipantAbandoned(context.Background(), h.publisher, logging.Participant(p.id), lifecycle.ParticipantAbandonedPayload{
				IdleMs: idleFor.Milliseconds(),
			}, nil)
		}
		p.runner.Stop()
	}
	if len(stale) > 0 {
		h.metrics.Store(metricParticipants, uint64(count))
	}
	return len(stale)
}

// Run sweeps idle participants until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) error {
	ticker := time.NewTicker(h.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			h.Sweep(h.clock.Now())
		}
	}
}

// Close aborts every running session, closes subscribers and stops all
// runners. Join fails afterwards.
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	all := make([]*participant, 0, len(h.participants))
	for _, p := range h.participants {
		all = append(all, p)
	}
	h.participants = make(map[string]*participant)
	h.mu.Unlock()

	for _, p := range all {
		p.runner.Do(func() { p.machine.Abort("server shutdown") })
		p.mu.Lock()
		sub := p.sub
		p.sub = nil
		p.mu.Unlock()
		if sub != nil {
			sub.Close()
		}
		p.runner.Stop()
	}
	h.metrics.Store(metricParticipants, 0)
}

// Snapshot returns the latest state pushed for a participant.
func (h *Hub) Snapshot(id string) (trial.Snapshot, bool) {
	p, ok := h.lookup(id)
	if !ok {
		return trial.Snapshot{}, false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.latest.Clone(), true
}

// Diagnostics exposes per-participant state for the diagnostics endpoint.
func (h *Hub) Diagnostics() []ParticipantDiagnostics {
	h.mu.Lock()
	all := make([]*participant, 0, len(h.participants))
	for _, p := range h.participants {
		all = append(all, p)
	}
	h.mu.Unlock()

	out := make([]ParticipantDiagnostics, 0, len(all))
	for _, p := range all {
		p.mu.Lock()
		out = append(out, ParticipantDiagnostics{
			ID:            p.id,
			Phase:         p.latest.Phase,
			Block:         p.latest.BlockIndex,
			Round:         p.latest.RoundIndex,
			Score:         p.latest.Score,
			Connected:     p.connected,
			LastHeartbeat: p.lastSeen.UnixMilli(),
			RTTMillis:     p.lastRTT.Milliseconds(),
			Queued:        p.runner.Len(),
		})
		p.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Len reports the number of live participants.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.participants)
}

func (h *Hub) lookup(id string) (*participant, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	p, ok := h.participants[id]
	return p, ok
}
