// Package persist implements the trial gateway on top of a document store.
// Writes are queued and applied by a single worker in emission order; callers
// never wait on the store.
package persist

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ssukumar/GlobalInvigoration/internal/records"
	"github.com/ssukumar/GlobalInvigoration/internal/store"
	"github.com/ssukumar/GlobalInvigoration/internal/telemetry"
	"github.com/ssukumar/GlobalInvigoration/logging"
	persistevents "github.com/ssukumar/GlobalInvigoration/logging/persistence"
)

const (
	KindReach   = "reach"
	KindRound   = "round"
	KindSession = "session"
)

type Config struct {
	QueueSize    int
	WriteTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{QueueSize: 1024, WriteTimeout: 5 * time.Second}
}

type job struct {
	kind        string
	docID       string
	participant string
	write       func(ctx context.Context) error
}

type Writer struct {
	store     store.Store
	logger    *zap.Logger
	publisher logging.Publisher
	metrics   telemetry.Metrics
	timeout   time.Duration

	mu     sync.RWMutex
	closed bool
	queue  chan job
	done   chan struct{}
}

func NewWriter(st store.Store, cfg Config, logger *zap.Logger, publisher logging.Publisher, metrics telemetry.Metrics) *Writer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if publisher == nil {
		publisher = logging.NopPublisher()
	}
	if metrics == nil {
		metrics = telemetry.Nop()
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultConfig().QueueSize
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultConfig().WriteTimeout
	}
	w := &Writer{
		store:     st,
		logger:    logger.Named("persist"),
		publisher: publisher,
		metrics:   metrics,
		timeout:   cfg.WriteTimeout,
		queue:     make(chan job, cfg.QueueSize),
		done:      make(chan struct{}),
	}
	go w.run()
	return w
}

func (w *Writer) PutReach(key records.ReachKey, reach records.Reach) {
	w.enqueue(job{
		kind:        KindReach,
		docID:       key.DocID(),
		participant: key.ParticipantID,
		write:       func(ctx context.Context) error { return w.store.PutReach(ctx, reach) },
	})
}

func (w *Writer) PutRound(key records.RoundKey, round records.Round) {
	w.enqueue(job{
		kind:        KindRound,
		docID:       key.DocID(),
		participant: key.ParticipantID,
		write:       func(ctx context.Context) error { return w.store.PutRound(ctx, round) },
	})
}

func (w *Writer) PutSession(participantID string, session records.Session) {
	w.enqueue(job{
		kind:        KindSession,
		docID:       records.SessionDocID(participantID),
		participant: participantID,
		write:       func(ctx context.Context) error { return w.store.PutSession(ctx, session) },
	})
}

// Pending returns the number of queued writes.
func (w *Writer) Pending() int {
	return len(w.queue)
}

// Close stops accepting writes and waits for the queue to drain.
func (w *Writer) Close(ctx context.Context) error {
	w.mu.Lock()
	if !w.closed {
		w.closed = true
		close(w.queue)
	}
	w.mu.Unlock()

	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *Writer) enqueue(j job) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		w.drop(j, "writer closed")
		return
	}
	select {
	case w.queue <- j:
		w.metrics.Add("persist_enqueued", 1)
	default:
		w.drop(j, "queue full")
	}
}

func (w *Writer) drop(j job, reason string) {
	w.metrics.Add("persist_dropped", 1)
	w.logger.Warn("dropping write",
		zap.String("kind", j.kind),
		zap.String("doc_id", j.docID),
		zap.String("reason", reason))
	persistevents.WriteDropped(context.Background(), w.publisher, logging.Participant(j.participant), persistevents.WritePayload{
		Kind:  j.kind,
		DocID: j.docID,
		Error: reason,
	}, nil)
}

func (w *Writer) run() {
	defer close(w.done)
	for j := range w.queue {
		w.apply(j)
	}
}

func (w *Writer) apply(j job) {
	ctx, cancel := context.WithTimeout(context.Background(), w.timeout)
	defer cancel()

	if err := j.write(ctx); err != nil {
		w.metrics.Add("persist_failed", 1)
		w.logger.Error("write failed",
			zap.String("kind", j.kind),
			zap.String("doc_id", j.docID),
			zap.Error(err))
		persistevents.WriteFailed(ctx, w.publisher, logging.Participant(j.participant), persistevents.WritePayload{
			Kind:  j.kind,
			DocID: j.docID,
			Error: err.Error(),
		}, nil)
		return
	}
	w.metrics.Add("persist_written", 1)
	w.metrics.Add("persist_written_"+j.kind, 1)
}
