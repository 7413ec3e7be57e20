package flightz

import (
	"time"
)

// EventKind identifies what an event marks.
type EventKind string

const (
	// SpanStart is recorded when a span begins.
	SpanStart EventKind = "span.start"
	// SpanEnd is recorded when a span's emitter closes.
	SpanEnd EventKind = "span.end"
	// ScopeStart is recorded when a span is activated.
	ScopeStart EventKind = "scope.start"
	// ScopeEnd is recorded when an activation closes.
	ScopeEnd EventKind = "scope.end"
)

// Event is a single flight-recorder entry.
//
//nolint:govet // Field order follows JSON output
type Event struct {
	ID       string        `json:"id"`
	Kind     EventKind     `json:"kind"`
	Name     string        `json:"name"`
	TraceID  string        `json:"trace_id,omitempty"`
	SpanID   string        `json:"span_id,omitempty"`
	Time     time.Time     `json:"time"`
	Duration time.Duration `json:"duration,omitempty"`
}

// IsStart reports whether the event opens a span or an activation.
func (e Event) IsStart() bool {
	return e.Kind == SpanStart || e.Kind == ScopeStart
}

// EventHandler is called for every emitted event.
type EventHandler func(event Event)

// ErrorHandler receives failures that are reported but never returned.
type ErrorHandler func(err error)
