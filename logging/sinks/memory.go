package sinks

import (
	"context"
	"sync"

	"github.com/ssukumar/GlobalInvigoration/logging"
)

type MemorySink struct {
	mu     sync.RWMutex
	events []logging.Event
}

func NewMemorySink() *MemorySink {
	return &MemorySink{events: make([]logging.Event, 0)}
}

func (s *MemorySink) Write(event logging.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, logging.CloneEvent(event))
	return nil
}

func (s *MemorySink) Events() []logging.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	copied := make([]logging.Event, len(s.events))
	copy(copied, s.events)
	return copied
}

// OfType returns the recorded events with the given type, in arrival order.
func (s *MemorySink) OfType(eventType logging.EventType) []logging.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var matched []logging.Event
	for _, event := range s.events {
		if event.Type == eventType {
			matched = append(matched, event)
		}
	}
	return matched
}

func (s *MemorySink) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = s.events[:0]
}

func (s *MemorySink) Close(context.Context) error {
	return nil
}
