package lifecycle

import (
	"context"

	"github.com/ssukumar/GlobalInvigoration/logging"
)

const (
	// EventParticipantJoined is emitted when a participant is registered.
	EventParticipantJoined logging.EventType = "lifecycle.participant_joined"
	// EventParticipantDisconnected is emitted when a participant's socket closes.
	EventParticipantDisconnected logging.EventType = "lifecycle.participant_disconnected"
	// EventParticipantAbandoned is emitted when a disconnected session is swept.
	EventParticipantAbandoned logging.EventType = "lifecycle.participant_abandoned"
)

// ParticipantJoinedPayload captures the experiment layout assigned on join.
type ParticipantJoinedPayload struct {
	Order []string `json:"order"`
}

// ParticipantDisconnectedPayload captures the reason a participant left.
type ParticipantDisconnectedPayload struct {
	Reason string `json:"reason"`
}

// ParticipantAbandonedPayload captures how long the session sat idle.
type ParticipantAbandonedPayload struct {
	IdleMs int64 `json:"idleMs"`
}

// ParticipantJoined publishes a join event.
func ParticipantJoined(ctx context.Context, pub logging.Publisher, actor logging.EntityRef, payload ParticipantJoinedPayload, extra map[string]any) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventParticipantJoined,
		Actor:    actor,
		Severity: logging.SeverityInfo,
		Category: logging.CategoryLifecycle,
		Payload:  payload,
		Extra:    extra,
	})
}

// ParticipantDisconnected publishes a disconnect event.
func ParticipantDisconnected(ctx context.Context, pub logging.Publisher, actor logging.EntityRef, payload ParticipantDisconnectedPayload, extra map[string]any) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventParticipantDisconnected,
		Actor:    actor,
		Severity: logging.SeverityInfo,
		Category: logging.CategoryLifecycle,
		Payload:  payload,
		Extra:    extra,
	})
}

// ParticipantAbandoned publishes an abandoned-session event.
func ParticipantAbandoned(ctx context.Context, pub logging.Publisher, actor logging.EntityRef, payload ParticipantAbandonedPayload, extra map[string]any) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventParticipantAbandoned,
		Actor:    actor,
		Severity: logging.SeverityWarn,
		Category: logging.CategoryLifecycle,
		Payload:  payload,
		Extra:    extra,
	})
}
