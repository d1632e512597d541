package events

import "p2plend/core/types"

// Event represents a structured state change emitted by the lending engine.
type Event interface {
	EventType() string
}

// Structured events expose a flattened attribute view for indexers and the
// event journal.
type Structured interface {
	EventType() string
	Event() *types.Event
}

// Emitter broadcasts events to downstream subscribers (e.g. journal, websocket).
type Emitter interface {
	Emit(Event)
}

// NoopEmitter is a helper that satisfies the Emitter interface while discarding
// all events. It is useful when a component wants to optionally expose events.
type NoopEmitter struct{}

// Emit implements the Emitter interface.
func (NoopEmitter) Emit(Event) {}

// Fanout forwards every event to each wrapped emitter in order.
type Fanout []Emitter

// Emit implements the Emitter interface.
func (f Fanout) Emit(ev Event) {
	for _, e := range f {
		if e != nil {
			e.Emit(ev)
		}
	}
}

// Recorder keeps emitted events in memory. Tests use it to assert emission
// order.
type Recorder struct {
	Events []Event
}

// Emit implements the Emitter interface.
func (r *Recorder) Emit(ev Event) { r.Events = append(r.Events, ev) }

// Types returns the recorded event types in emission order.
func (r *Recorder) Types() []string {
	out := make([]string, 0, len(r.Events))
	for _, ev := range r.Events {
		out = append(out, ev.EventType())
	}
	return out
}
