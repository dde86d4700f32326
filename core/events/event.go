package events

import (
	"sync"

	"agrichain/core/types"
)

// Event represents a structured state change emitted by the engines.
type Event interface {
	EventType() string
}

// Canonical is implemented by events that can render the wire payload
// consumed by the RPC stream.
type Canonical interface {
	Event() *types.Event
}

// Emitter broadcasts events to downstream subscribers (e.g. RPC, indexers).
type Emitter interface {
	Emit(Event)
}

// NoopEmitter is a helper that satisfies the Emitter interface while discarding
// all events. It is useful when a component wants to optionally expose events.
type NoopEmitter struct{}

// Emit implements the Emitter interface.
func (NoopEmitter) Emit(Event) {}

type wrapped struct {
	evt *types.Event
}

func (w wrapped) EventType() string {
	if w.evt == nil {
		return ""
	}
	return w.evt.Type
}

func (w wrapped) Event() *types.Event { return w.evt }

// Wrap adapts a canonical payload so it can be passed to an Emitter.
func Wrap(evt *types.Event) Event { return wrapped{evt: evt} }

// Recorder buffers emitted events until the surrounding operation either
// commits (Drain) or is discarded (Reset).
type Recorder struct {
	mu  sync.Mutex
	buf []*types.Event
}

// Emit implements the Emitter interface. Events that cannot render a
// canonical payload are recorded by type only.
func (r *Recorder) Emit(e Event) {
	if r == nil || e == nil {
		return
	}
	var payload *types.Event
	if c, ok := e.(Canonical); ok {
		payload = c.Event().Clone()
	}
	if payload == nil {
		payload = &types.Event{Type: e.EventType(), Attributes: map[string]string{}}
	}
	r.mu.Lock()
	r.buf = append(r.buf, payload)
	r.mu.Unlock()
}

// Drain returns the buffered events and clears the buffer.
func (r *Recorder) Drain() []*types.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.buf
	r.buf = nil
	return out
}

// Reset drops every buffered event.
func (r *Recorder) Reset() {
	r.mu.Lock()
	r.buf = nil
	r.mu.Unlock()
}

// Len reports the number of buffered events.
func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.buf)
}
