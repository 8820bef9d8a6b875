package sinks

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"

	"github.com/ssukumar/GlobalInvigoration/logging"
)

// JSON emits newline-delimited structured events.
type JSON struct {
	mu        sync.Mutex
	writer    *bufio.Writer
	closer    io.Closer
	encoder   *json.Encoder
	autoFlush bool
	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// NewJSON constructs a JSON sink writing to w. A non-positive flushInterval
// flushes after every event. If w is an io.Closer it is closed with the sink.
func NewJSON(w io.Writer, flushInterval time.Duration) *JSON {
	if w == nil {
		w = io.Discard
	}
	buf := bufio.NewWriter(w)
	sink := &JSON{
		writer:    buf,
		encoder:   json.NewEncoder(buf),
		autoFlush: flushInterval <= 0,
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
	if closer, ok := w.(io.Closer); ok {
		sink.closer = closer
	}
	if flushInterval > 0 {
		go sink.periodicFlush(flushInterval)
	} else {
		close(sink.done)
	}
	return sink
}

func (s *JSON) Write(event logging.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	wire := map[string]any{
		"type":     event.Type,
		"time":     event.Time.Format(time.RFC3339Nano),
		"severity": event.Severity.String(),
		"category": event.Category,
		"actor":    event.Actor,
		"block":    event.Block,
		"round":    event.Round,
		"payload":  event.Payload,
		"extra":    event.Extra,
		"traceId":  event.TraceID,
	}
	if err := s.encoder.Encode(wire); err != nil {
		return err
	}
	if s.autoFlush {
		return s.writer.Flush()
	}
	return nil
}

// Close stops the flush loop, flushes buffers and closes the underlying file.
func (s *JSON) Close(context.Context) error {
	s.closeOnce.Do(func() { close(s.stop) })
	<-s.done
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.writer.Flush(); err != nil {
		return err
	}
	if s.closer != nil {
		return s.closer.Close()
	}
	return nil
}

func (s *JSON) periodicFlush(interval time.Duration) {
	defer close(s.done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.mu.Lock()
			_ = s.writer.Flush()
			s.mu.Unlock()
		}
	}
}
