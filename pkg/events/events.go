// Package events provides the typed progress event stream emitted by the
// pipeline. Delivery is synchronous and in emission order; sinks must not
// block for long.
package events

import (
	"sync"
	"time"
)

// Type discriminates progress events.
type Type string

// Event types.
const (
	TypePhase         Type = "phase"
	TypePlan          Type = "plan"
	TypeReview        Type = "review"
	TypeFileOperation Type = "file_operation"
	TypeSuccess       Type = "success"
	TypeWarning       Type = "warning"
	TypeError         Type = "error"
)

// Event is one progress update delivered to the caller.
type Event struct {
	Type      Type      `json:"type"`
	Message   string    `json:"message"`
	Data      any       `json:"data,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Sink receives pipeline events.
type Sink interface {
	Emit(ev Event)
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(ev Event)

// Emit implements Sink.
func (f SinkFunc) Emit(ev Event) { f(ev) }

// Discard is a sink that drops every event.
var Discard Sink = SinkFunc(func(Event) {})

// Emitter serializes event delivery to a sink. Stages share one emitter per
// run; the mutex preserves emission order when the generation stage fans out.
type Emitter struct {
	mu   sync.Mutex
	sink Sink
}

// NewEmitter creates an emitter wrapping sink. A nil sink discards events.
func NewEmitter(sink Sink) *Emitter {
	if sink == nil {
		sink = Discard
	}
	return &Emitter{sink: sink}
}

// Emit delivers one event, stamping it with the current time.
func (e *Emitter) Emit(typ Type, message string, data any) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sink.Emit(Event{Type: typ, Message: message, Data: data, Timestamp: time.Now().UTC()})
}

// Phase emits a phase transition event.
func (e *Emitter) Phase(message string) { e.Emit(TypePhase, message, nil) }

// Warning emits a warning event.
func (e *Emitter) Warning(message string, data any) { e.Emit(TypeWarning, message, data) }

// Collector is a sink that records every event, for tests and observability.
type Collector struct {
	mu     sync.Mutex
	events []Event
}

// Emit implements Sink.
func (c *Collector) Emit(ev Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
}

// Events returns a copy of the recorded events in delivery order.
func (c *Collector) Events() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Event, len(c.events))
	copy(out, c.events)
	return out
}

// ByType returns recorded events of the given type, in delivery order.
func (c *Collector) ByType(typ Type) []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []Event
	for _, ev := range c.events {
		if ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}
