package tracking

import (
	"slices"
	"strings"

	"github.com/ssukumar/GlobalInvigoration/internal/records"
)

// KeyResult describes how a key-down was handled.
type KeyResult struct {
	// Accepted is false for keys outside the alphabet and presses outside an
	// active collection.
	Accepted bool
	Correct  bool
	// Position is the sequence index the participant must type next.
	Position int
	Complete bool
}

// KeyStats are the aggregates sealed into a round.
type KeyStats struct {
	Total                int
	Correct              int
	Accuracy             float64
	MeanInterKeyInterval float64
	CompletionTimeMs     int64
	Overshoot            int
}

// KeypressRecorder validates key presses against the round's sequence.
// Incorrect presses are recorded but do not advance the position.
type KeypressRecorder struct {
	alphabet map[string]struct{}

	sequence    []string
	position    int
	events      []records.KeyEvent
	startedAt   int64
	completedAt int64
	active      bool
	complete    bool
}

func NewKeypressRecorder(alphabet []string) *KeypressRecorder {
	set := make(map[string]struct{}, len(alphabet))
	for _, key := range alphabet {
		set[strings.ToLower(key)] = struct{}{}
	}
	return &KeypressRecorder{alphabet: set}
}

// Reset starts a collection for sequence. An empty sequence is complete
// immediately.
func (r *KeypressRecorder) Reset(sequence []string, startedAt int64) {
	r.sequence = slices.Clone(sequence)
	for i, key := range r.sequence {
		r.sequence[i] = strings.ToLower(key)
	}
	r.position = 0
	r.events = nil
	r.startedAt = startedAt
	r.completedAt = 0
	r.active = true
	r.complete = len(r.sequence) == 0
	if r.complete {
		r.completedAt = startedAt
	}
}

// accepts reports whether key belongs to the alphabet or to the current
// sequence.
func (r *KeypressRecorder) accepts(key string) bool {
	if _, ok := r.alphabet[key]; ok {
		return true
	}
	return slices.Contains(r.sequence, key)
}

// Clear drops the previous collection so nothing carries into a round that
// never reached one.
func (r *KeypressRecorder) Clear() {
	r.sequence = nil
	r.position = 0
	r.events = nil
	r.startedAt = 0
	r.completedAt = 0
	r.active = false
	r.complete = false
}

// Stop ends the collection; later presses are ignored.
func (r *KeypressRecorder) Stop() {
	r.active = false
}

func (r *KeypressRecorder) OnKeyDown(key string, ts int64) KeyResult {
	if !r.active || r.complete {
		return KeyResult{Position: r.position, Complete: r.complete}
	}
	key = strings.ToLower(key)
	if !r.accepts(key) {
		return KeyResult{Position: r.position}
	}

	expected := r.sequence[r.position]
	correct := key == expected
	r.events = append(r.events, records.KeyEvent{
		Number:   len(r.events) + 1,
		Position: r.position,
		Key:      key,
		Expected: expected,
		Correct:  correct,
		DownAt:   ts,
	})
	if correct {
		r.position++
	}
	if r.position == len(r.sequence) {
		r.complete = true
		r.completedAt = ts
	}
	return KeyResult{Accepted: true, Correct: correct, Position: r.position, Complete: r.complete}
}

// OnKeyUp stamps the oldest unreleased press of key. It reports whether a
// press was matched.
func (r *KeypressRecorder) OnKeyUp(key string, ts int64) bool {
	if !r.active || r.complete {
		return false
	}
	key = strings.ToLower(key)
	for i := range r.events {
		if r.events[i].Key == key && r.events[i].UpAt == 0 {
			r.events[i].UpAt = ts
			return true
		}
	}
	return false
}

func (r *KeypressRecorder) Complete() bool {
	return r.complete
}

func (r *KeypressRecorder) Position() int {
	return r.position
}

func (r *KeypressRecorder) Sequence() []string {
	return slices.Clone(r.sequence)
}

// Events returns a copy of the recorded presses.
func (r *KeypressRecorder) Events() []records.KeyEvent {
	return slices.Clone(r.events)
}

func (r *KeypressRecorder) Stats() KeyStats {
	stats := KeyStats{Total: len(r.events), Overshoot: max(0, len(r.events)-len(r.sequence))}
	var correctTimes []int64
	for _, event := range r.events {
		if event.Correct {
			stats.Correct++
			correctTimes = append(correctTimes, event.DownAt)
		}
	}
	if stats.Total > 0 {
		stats.Accuracy = float64(stats.Correct) / float64(stats.Total)
	}
	if len(correctTimes) > 1 {
		span := correctTimes[len(correctTimes)-1] - correctTimes[0]
		stats.MeanInterKeyInterval = float64(span) / float64(len(correctTimes)-1)
	}
	if r.complete {
		stats.CompletionTimeMs = r.completedAt - r.startedAt
	}
	return stats
}
