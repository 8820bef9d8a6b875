// Package intake turns validated client messages into machine calls.
package intake

import (
	"sync"

	"github.com/ssukumar/GlobalInvigoration/internal/net/proto"
	"github.com/ssukumar/GlobalInvigoration/internal/trial"
)

// Rebaser maps client timestamps onto the server clock. The offset is fixed
// by the first timestamped message so intervals between client events are
// preserved exactly while all records share the server's time base.
type Rebaser struct {
	mu     sync.Mutex
	offset int64
	set    bool
}

// Server converts a client timestamp. A zero client timestamp yields now.
func (r *Rebaser) Server(client, now int64) int64 {
	if client <= 0 {
		return now
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.set {
		r.offset = now - client
		r.set = true
	}
	return client + r.offset
}

// Stage returns the machine call for msg. Messages that do not drive the
// machine (heartbeats) return false.
func Stage(msg proto.ClientMessage, ts int64) (func(m *trial.Machine), bool) {
	switch msg.Type {
	case proto.TypePointer:
		x, y := msg.X, msg.Y
		return func(m *trial.Machine) { m.OnPointer(x, y, ts) }, true
	case proto.TypeKeyDown:
		key := msg.Key
		return func(m *trial.Machine) { m.OnKeyDown(key, ts) }, true
	case proto.TypeKeyUp:
		key := msg.Key
		return func(m *trial.Machine) { m.OnKeyUp(key, ts) }, true
	case proto.TypeResume:
		return func(m *trial.Machine) { m.Resume() }, true
	case proto.TypeViewport:
		width := msg.Width
		return func(m *trial.Machine) { m.SetViewport(width) }, true
	default:
		return nil, false
	}
}
