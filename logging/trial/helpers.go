package trial

import (
	"context"

	"github.com/ssukumar/GlobalInvigoration/logging"
)

const (
	// EventPhaseChanged is emitted on every phase transition of a session.
	EventPhaseChanged logging.EventType = "trial.phase_changed"
	// EventReachSealed is emitted when a reach is handed to persistence.
	EventReachSealed logging.EventType = "trial.reach_sealed"
	// EventRoundCompleted is emitted when a round record is sealed.
	EventRoundCompleted logging.EventType = "trial.round_completed"
	// EventSpeedWarning is emitted when the speed warning flag flips.
	EventSpeedWarning logging.EventType = "trial.speed_warning"
	// EventSessionEnded is emitted once per participant at END or abort.
	EventSessionEnded logging.EventType = "trial.session_ended"
)

type PhaseChangedPayload struct {
	From  string `json:"from"`
	To    string `json:"to"`
	Token uint64 `json:"token"`
}

type ReachSealedPayload struct {
	ReachIndex int    `json:"reachIndex"`
	StartWall  string `json:"startWall"`
	EndWall    string `json:"endWall"`
	Samples    int    `json:"samples"`
	Implicit   bool   `json:"implicit"`
}

type RoundCompletedPayload struct {
	Environment string  `json:"environment"`
	Reward      int     `json:"reward"`
	Accuracy    float64 `json:"accuracy"`
	Reaches     int     `json:"reaches"`
	Completed   bool    `json:"completed"`
	Score       int     `json:"score"`
}

type SpeedWarningPayload struct {
	Active bool `json:"active"`
}

type SessionEndedPayload struct {
	Status  string `json:"status"`
	Reason  string `json:"reason,omitempty"`
	Score   int    `json:"score"`
	Rounds  int    `json:"rounds"`
	Reaches int    `json:"reaches"`
}

// PhaseChanged publishes a phase transition.
func PhaseChanged(ctx context.Context, pub logging.Publisher, actor logging.EntityRef, block, round int, payload PhaseChangedPayload, extra map[string]any) {
	publish(ctx, pub, EventPhaseChanged, logging.SeverityDebug, actor, block, round, payload, extra)
}

// ReachSealed publishes a sealed reach.
func ReachSealed(ctx context.Context, pub logging.Publisher, actor logging.EntityRef, block, round int, payload ReachSealedPayload, extra map[string]any) {
	publish(ctx, pub, EventReachSealed, logging.SeverityDebug, actor, block, round, payload, extra)
}

// RoundCompleted publishes a sealed round.
func RoundCompleted(ctx context.Context, pub logging.Publisher, actor logging.EntityRef, block, round int, payload RoundCompletedPayload, extra map[string]any) {
	publish(ctx, pub, EventRoundCompleted, logging.SeverityInfo, actor, block, round, payload, extra)
}

// SpeedWarning publishes a speed warning flag change.
func SpeedWarning(ctx context.Context, pub logging.Publisher, actor logging.EntityRef, block, round int, payload SpeedWarningPayload, extra map[string]any) {
	publish(ctx, pub, EventSpeedWarning, logging.SeverityDebug, actor, block, round, payload, extra)
}

// SessionEnded publishes the end of a participant session.
func SessionEnded(ctx context.Context, pub logging.Publisher, actor logging.EntityRef, block, round int, payload SessionEndedPayload, extra map[string]any) {
	severity := logging.SeverityInfo
	if payload.Status != "completed" {
		severity = logging.SeverityWarn
	}
	publish(ctx, pub, EventSessionEnded, severity, actor, block, round, payload, extra)
}

func publish(ctx context.Context, pub logging.Publisher, eventType logging.EventType, severity logging.Severity, actor logging.EntityRef, block, round int, payload any, extra map[string]any) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     eventType,
		Actor:    actor,
		Block:    block,
		Round:    round,
		Severity: severity,
		Category: logging.CategoryTrial,
		Payload:  payload,
		Extra:    extra,
	})
}
