package logging

import (
	"context"
	"time"
)

type EventType string

type Severity int

const (
	SeverityDebug Severity = iota
	SeverityInfo
	SeverityWarn
	SeverityError
)

// String renders the severity the way sinks print it.
func (s Severity) String() string {
	switch s {
	case SeverityDebug:
		return "debug"
	case SeverityInfo:
		return "info"
	case SeverityWarn:
		return "warn"
	case SeverityError:
		return "error"
	default:
		return "unknown"
	}
}

// ParseSeverity maps a configured level name onto a Severity. Unknown names
// fall back to SeverityInfo.
func ParseSeverity(name string) (Severity, bool) {
	switch name {
	case "debug":
		return SeverityDebug, true
	case "info", "":
		return SeverityInfo, true
	case "warn", "warning":
		return SeverityWarn, true
	case "error":
		return SeverityError, true
	default:
		return SeverityInfo, false
	}
}

type EntityKind string

const (
	EntityKindUnknown     EntityKind = "unknown"
	EntityKindParticipant EntityKind = "participant"
	EntityKindStore       EntityKind = "store"
	EntityKindSystem      EntityKind = "system"
)

// Event is one entry of the experiment event stream. Block and Round locate
// the event inside the participant's session; both are zero outside a trial.
type Event struct {
	Type     EventType      `json:"type"`
	Time     time.Time      `json:"time"`
	Actor    EntityRef      `json:"actor"`
	Block    int            `json:"block,omitempty"`
	Round    int            `json:"round,omitempty"`
	Severity Severity       `json:"severity"`
	Category string         `json:"category,omitempty"`
	Payload  any            `json:"payload,omitempty"`
	Extra    map[string]any `json:"extra,omitempty"`
	TraceID  string         `json:"traceId,omitempty"`
}

type EntityRef struct {
	ID   string     `json:"id"`
	Kind EntityKind `json:"kind"`
}

// Participant returns the actor reference for a participant id.
func Participant(id string) EntityRef {
	return EntityRef{ID: id, Kind: EntityKindParticipant}
}

const (
	CategoryTrial       = "trial"
	CategoryLifecycle   = "lifecycle"
	CategoryPersistence = "persistence"
	CategorySystem      = "system"
)

type Publisher interface {
	Publish(ctx context.Context, event Event)
}

type PublisherFunc func(ctx context.Context, event Event)

func (f PublisherFunc) Publish(ctx context.Context, event Event) {
	if f == nil {
		return
	}
	f(ctx, event)
}

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, Event) {}

func NopPublisher() Publisher {
	return nopPublisher{}
}

type fieldPublisher struct {
	next   Publisher
	fields map[string]any
}

func (p *fieldPublisher) Publish(ctx context.Context, event Event) {
	if p.next == nil {
		return
	}
	if len(p.fields) > 0 {
		event = mergeExtra(event, p.fields)
	}
	p.next.Publish(ctx, event)
}

// CloneEvent copies the mutable parts of an event so a sink may retain it.
func CloneEvent(event Event) Event {
	cloned := event
	if event.Extra != nil {
		copied := make(map[string]any, len(event.Extra))
		for k, v := range event.Extra {
			copied[k] = v
		}
		cloned.Extra = copied
	}
	return cloned
}

func mergeExtra(event Event, fields map[string]any) Event {
	event = CloneEvent(event)
	if event.Extra == nil {
		event.Extra = make(map[string]any, len(fields))
	}
	for k, v := range fields {
		if _, exists := event.Extra[k]; !exists {
			event.Extra[k] = v
		}
	}
	return event
}

func WithFields(p Publisher, fields map[string]any) Publisher {
	if p == nil {
		return NopPublisher()
	}
	if len(fields) == 0 {
		return p
	}
	copied := make(map[string]any, len(fields))
	for k, v := range fields {
		copied[k] = v
	}
	return &fieldPublisher{next: p, fields: copied}
}

func (e Event) WithExtra(key string, value any) Event {
	e = CloneEvent(e)
	if e.Extra == nil {
		e.Extra = make(map[string]any, 1)
	}
	e.Extra[key] = value
	return e
}
