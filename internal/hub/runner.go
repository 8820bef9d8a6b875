package hub

import (
	"sync"
)

// Runner serializes work for one participant on a single goroutine. Every
// call into a trial.Machine goes through its runner.
type Runner struct {
	inbox chan func()
	stop  chan struct{}
	done  chan struct{}
	once  sync.Once
}

// NewRunner starts the runner goroutine. size bounds the inbox; producers
// block while it is full.
func NewRunner(size int) *Runner {
	if size < 1 {
		size = 1
	}
	r := &Runner{
		inbox: make(chan func(), size),
		stop:  make(chan struct{}),
		done:  make(chan struct{}),
	}
	go r.run()
	return r
}

// Post queues f and returns immediately once it is accepted. It reports
// false when the runner has stopped.
func (r *Runner) Post(f func()) bool {
	if r == nil || f == nil {
		return false
	}
	select {
	case <-r.stop:
		return false
	default:
	}
	select {
	case r.inbox <- f:
		return true
	case <-r.stop:
		return false
	}
}

// Do runs f on the runner goroutine and waits for it to return. It must not
// be called from the runner goroutine.
func (r *Runner) Do(f func()) bool {
	finished := make(chan struct{})
	if !r.Post(func() {
		defer close(finished)
		f()
	}) {
		return false
	}
	select {
	case <-finished:
		return true
	case <-r.done:
		// The runner may have executed f just before stopping.
		select {
		case <-finished:
			return true
		default:
			return false
		}
	}
}

// Stop ends the runner goroutine and waits for it. Queued work that has not
// started is discarded.
func (r *Runner) Stop() {
	if r == nil {
		return
	}
	r.once.Do(func() {
		close(r.stop)
	})
	<-r.done
}

// Len reports how many closures are queued.
func (r *Runner) Len() int {
	return len(r.inbox)
}

func (r *Runner) run() {
	defer close(r.done)
	for {
		select {
		case <-r.stop:
			return
		case f := <-r.inbox:
			f()
		}
	}
}
