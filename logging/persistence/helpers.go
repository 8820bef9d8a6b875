package persistence

import (
	"context"

	"github.com/ssukumar/GlobalInvigoration/logging"
)

const (
	// EventWriteFailed is emitted when the store rejects a record.
	EventWriteFailed logging.EventType = "persistence.write_failed"
	// EventWriteDropped is emitted when the write queue is full.
	EventWriteDropped logging.EventType = "persistence.write_dropped"
)

// WritePayload identifies the record a persistence event refers to.
type WritePayload struct {
	Kind  string `json:"kind"`
	DocID string `json:"docId"`
	Error string `json:"error,omitempty"`
}

// WriteFailed publishes a failed store write.
func WriteFailed(ctx context.Context, pub logging.Publisher, actor logging.EntityRef, payload WritePayload, extra map[string]any) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventWriteFailed,
		Actor:    actor,
		Severity: logging.SeverityError,
		Category: logging.CategoryPersistence,
		Payload:  payload,
		Extra:    extra,
	})
}

// WriteDropped publishes a write that never reached the store.
func WriteDropped(ctx context.Context, pub logging.Publisher, actor logging.EntityRef, payload WritePayload, extra map[string]any) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventWriteDropped,
		Actor:    actor,
		Severity: logging.SeverityWarn,
		Category: logging.CategoryPersistence,
		Payload:  payload,
		Extra:    extra,
	})
}
