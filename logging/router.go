package logging

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type Clock interface {
	Now() time.Time
}

type ClockFunc func() time.Time

func (f ClockFunc) Now() time.Time {
	return f()
}

// SystemClock reads the process wall clock.
var SystemClock Clock = ClockFunc(time.Now)

type Sink interface {
	Write(Event) error
	Close(context.Context) error
}

type NamedSink struct {
	Name string
	Sink Sink
}

// Router fans published events out to every sink. Publish never blocks: when
// the queue is full the event is dropped and counted.
type Router struct {
	cfg         Config
	queue       chan Event
	sinks       []*sinkWorker
	clock       Clock
	fallback    *zap.Logger
	metrics     *Metrics
	minSeverity Severity
	fields      map[string]any

	stop   chan struct{}
	group  errgroup.Group
	closed atomic.Bool

	eventsTotal  atomic.Uint64
	droppedTotal atomic.Uint64
	nextDropWarn atomic.Int64
}

type RouterStats struct {
	EventsTotal  uint64      `json:"eventsTotal"`
	DroppedTotal uint64      `json:"droppedTotal"`
	Sinks        []SinkStats `json:"sinks,omitempty"`
}

// SinkStats counts deliveries for one sink.
type SinkStats struct {
	Name    string `json:"name"`
	Written uint64 `json:"written"`
	Failed  uint64 `json:"failed"`
	Dropped uint64 `json:"dropped"`
}

func NewRouter(clock Clock, cfg Config, metrics *Metrics, fallback *zap.Logger, namedSinks []NamedSink) *Router {
	if clock == nil {
		clock = SystemClock
	}
	if fallback == nil {
		fallback = zap.NewNop()
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 512
	}
	if cfg.DropWarnInterval <= 0 {
		cfg.DropWarnInterval = 5 * time.Second
	}
	r := &Router{
		cfg:         cfg,
		queue:       make(chan Event, cfg.BufferSize),
		clock:       clock,
		fallback:    fallback.Named("logging"),
		metrics:     metrics,
		minSeverity: cfg.MinimumSeverity,
		fields:      cfg.CloneFields(),
		stop:        make(chan struct{}),
	}

	backlog := min(max(cfg.BufferSize, 32), 1024)
	for _, named := range namedSinks {
		if named.Sink == nil {
			continue
		}
		r.sinks = append(r.sinks, &sinkWorker{
			name:     named.Name,
			sink:     named.Sink,
			events:   make(chan Event, backlog),
			fallback: r.fallback,
			metrics:  metrics,
		})
	}

	for _, worker := range r.sinks {
		r.group.Go(worker.run)
	}
	r.group.Go(r.dispatch)
	return r
}

// dispatch moves events from the shared queue to the sink backlogs until
// Close, then flushes whatever is still queued.
func (r *Router) dispatch() error {
	defer func() {
		for _, worker := range r.sinks {
			close(worker.events)
		}
	}()
	for {
		select {
		case event := <-r.queue:
			r.forward(event)
		case <-r.stop:
			for {
				select {
				case event := <-r.queue:
					r.forward(event)
				default:
					return nil
				}
			}
		}
	}
}

func (r *Router) forward(event Event) {
	if event.Severity < r.minSeverity {
		return
	}
	if event.Time.IsZero() {
		event.Time = r.clock.Now()
	}
	if len(r.fields) > 0 {
		event = mergeExtra(event, r.fields)
	}
	r.eventsTotal.Add(1)
	r.metrics.TelemetryAdd("log_events_total", 1)
	for _, worker := range r.sinks {
		worker.enqueue(event)
	}
}

func (r *Router) Publish(ctx context.Context, event Event) {
	if event.Type == "" || r.closed.Load() {
		return
	}
	select {
	case r.queue <- event:
	default:
		r.dropped(event)
	}
}

// dropped counts a queue overflow and warns at most once per
// DropWarnInterval.
func (r *Router) dropped(event Event) {
	r.droppedTotal.Add(1)
	r.metrics.TelemetryAdd("log_events_dropped", 1)
	now := r.clock.Now().UnixNano()
	next := r.nextDropWarn.Load()
	if now < next || !r.nextDropWarn.CompareAndSwap(next, now+r.cfg.DropWarnInterval.Nanoseconds()) {
		return
	}
	r.fallback.Warn("event queue full, dropping event",
		zap.String("type", string(event.Type)),
		zap.String("actor", event.Actor.ID),
		zap.Uint64("dropped_total", r.droppedTotal.Load()),
	)
}

// Close stops accepting events, drains the queue into the sinks and closes
// them.
func (r *Router) Close(ctx context.Context) error {
	if !r.closed.CompareAndSwap(false, true) {
		return nil
	}
	close(r.stop)
	done := make(chan struct{})
	go func() {
		_ = r.group.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	var firstErr error
	for _, worker := range r.sinks {
		if err := worker.sink.Close(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (r *Router) Stats() RouterStats {
	stats := RouterStats{
		EventsTotal:  r.eventsTotal.Load(),
		DroppedTotal: r.droppedTotal.Load(),
	}
	for _, worker := range r.sinks {
		stats.Sinks = append(stats.Sinks, SinkStats{
			Name:    worker.name,
			Written: worker.written.Load(),
			Failed:  worker.failed.Load(),
			Dropped: worker.dropped.Load(),
		})
	}
	return stats
}

func (r *Router) Sink(name string) Sink {
	for _, worker := range r.sinks {
		if worker.name == name {
			return worker.sink
		}
	}
	return nil
}

// sinkWorker owns one sink. A failing sink backs off exponentially, capped
// at 32s, before the next write.
type sinkWorker struct {
	name     string
	sink     Sink
	events   chan Event
	fallback *zap.Logger
	metrics  *Metrics

	written atomic.Uint64
	failed  atomic.Uint64
	dropped atomic.Uint64

	streak  int
	backoff time.Time
}

func (w *sinkWorker) enqueue(event Event) {
	select {
	case w.events <- CloneEvent(event):
	default:
		w.dropped.Add(1)
		w.metrics.TelemetryAdd("log_sink_dropped_"+w.name, 1)
		w.fallback.Warn("sink backlog full, dropping event", zap.String("sink", w.name), zap.String("type", string(event.Type)))
	}
}

func (w *sinkWorker) run() error {
	for event := range w.events {
		if wait := time.Until(w.backoff); w.streak > 0 && wait > 0 {
			time.Sleep(wait)
		}
		err := w.sink.Write(event)
		if err == nil {
			w.written.Add(1)
			w.streak = 0
			continue
		}
		w.failed.Add(1)
		w.streak++
		delay := time.Duration(1<<min(w.streak, 5)) * time.Second
		w.backoff = time.Now().Add(delay)
		w.fallback.Warn("sink write failed", zap.String("sink", w.name), zap.Error(err), zap.Duration("retry_in", delay))
	}
	return nil
}
