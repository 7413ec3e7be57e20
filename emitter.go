package flightz

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"
)

// Emitter errors.
var (
	ErrEmitterStarted    = errors.New("flightz: emitter already started")
	ErrEmitterNotStarted = errors.New("flightz: emitter not started")
	ErrEmitterClosed     = errors.New("flightz: emitter already closed")
)

// EmitterError describes a suppressed emitter close failure.
type EmitterError struct {
	Err       error
	Emitter   string // "span" or "scope"
	Operation string
}

func (e *EmitterError) Error() string {
	return fmt.Sprintf("close %s emitter for %q: %v", e.Emitter, e.Operation, e.Err)
}

func (e *EmitterError) Unwrap() error {
	return e.Err
}

// ErrEmitterPanic wraps the value recovered from a panicking emitter.
var ErrEmitterPanic = errors.New("flightz: emitter panicked")

// closeEmitter closes e, turning a panic into an error.
func closeEmitter(e Emitter) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrEmitterPanic, r)
		}
	}()
	return e.Close()
}

// Emitter records the start and end of one unit of work.
type Emitter interface {
	Start(name string) error
	Close() error
}

// EmitterFactory creates emitters keyed by the kind of unit being recorded.
type EmitterFactory interface {
	SpanEmitter(span *Span) Emitter
	ScopeEmitter(owner Owner) Emitter
}

// identified is implemented by owners that carry trace identity.
type identified interface {
	TraceID() string
	SpanID() string
}

const (
	emitterIdle int32 = iota
	emitterStarted
	emitterClosed
)

// eventFactory creates emitters that dispatch through a tracer.
type eventFactory struct {
	tracer *Tracer
}

func (f eventFactory) SpanEmitter(span *Span) Emitter {
	return f.newEmitter(SpanStart, SpanEnd, span)
}

func (f eventFactory) ScopeEmitter(owner Owner) Emitter {
	return f.newEmitter(ScopeStart, ScopeEnd, owner)
}

func (f eventFactory) newEmitter(start, end EventKind, owner any) *eventEmitter {
	e := &eventEmitter{tracer: f.tracer, startKind: start, endKind: end}
	if id, ok := owner.(identified); ok {
		e.traceID = id.TraceID()
		e.spanID = id.SpanID()
	}
	return e
}

// eventEmitter records one start event and at most one end event.
type eventEmitter struct {
	tracer    *Tracer
	startedAt time.Time
	name      string
	traceID   string
	spanID    string
	startKind EventKind
	endKind   EventKind
	state     atomic.Int32
}

func (e *eventEmitter) Start(name string) error {
	if !e.state.CompareAndSwap(emitterIdle, emitterStarted) {
		return ErrEmitterStarted
	}
	e.name = name
	e.startedAt = e.tracer.clock.Now()
	e.tracer.emit(Event{
		Kind:    e.startKind,
		Name:    name,
		TraceID: e.traceID,
		SpanID:  e.spanID,
		Time:    e.startedAt,
	})
	return nil
}

func (e *eventEmitter) Close() error {
	if !e.state.CompareAndSwap(emitterStarted, emitterClosed) {
		if e.state.Load() == emitterIdle {
			return ErrEmitterNotStarted
		}
		return ErrEmitterClosed
	}
	now := e.tracer.clock.Now()
	e.tracer.emit(Event{
		Kind:     e.endKind,
		Name:     e.name,
		TraceID:  e.traceID,
		SpanID:   e.spanID,
		Time:     now,
		Duration: now.Sub(e.startedAt),
	})
	return nil
}

// NoopEmitterFactory creates emitters that record nothing and never fail.
type NoopEmitterFactory struct{}

// SpanEmitter returns a no-op emitter.
func (NoopEmitterFactory) SpanEmitter(*Span) Emitter { return noopEmitter{} }

// ScopeEmitter returns a no-op emitter.
func (NoopEmitterFactory) ScopeEmitter(Owner) Emitter { return noopEmitter{} }

type noopEmitter struct{}

func (noopEmitter) Start(string) error { return nil }
func (noopEmitter) Close() error       { return nil }
