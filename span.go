package flightz

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// spanKeyType is a private type for context keys to avoid collisions.
type spanKeyType string

const (
	spanKey spanKeyType = "flightz"
)

// Span is a traced unit of work. It wraps an otel span and owns the span
// emitter that records its start and end.
// Safe for concurrent use by multiple goroutines.
type Span struct {
	delegate  trace.Span
	tracer    *Tracer
	emitter   Emitter
	name      string
	mu        sync.RWMutex
	closeOnce sync.Once
}

// OperationName returns the span's current name.
func (s *Span) OperationName() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.name
}

// SetOperationName renames the span and its delegate. Events already
// recorded keep the old name.
func (s *Span) SetOperationName(name string) {
	s.mu.Lock()
	s.name = name
	s.mu.Unlock()
	s.delegate.SetName(name)
}

// SetTag sets a string attribute on the delegate span.
func (s *Span) SetTag(key Tag, value string) {
	s.delegate.SetAttributes(attribute.String(key, value))
}

// TraceID returns the hex trace ID, or "" for an invalid span context.
func (s *Span) TraceID() string {
	sc := s.delegate.SpanContext()
	if !sc.HasTraceID() {
		return ""
	}
	return sc.TraceID().String()
}

// SpanID returns the hex span ID, or "" for an invalid span context.
func (s *Span) SpanID() string {
	sc := s.delegate.SpanContext()
	if !sc.HasSpanID() {
		return ""
	}
	return sc.SpanID().String()
}

// Delegate returns the wrapped otel span.
func (s *Span) Delegate() trace.Span {
	return s.delegate
}

// CloseEmitter closes the span emitter. Only the first call has an effect.
// A close failure goes to the tracer's error handler.
func (s *Span) CloseEmitter() {
	s.closeOnce.Do(func() {
		if err := closeEmitter(s.emitter); err != nil {
			s.tracer.reportError(&EmitterError{Err: err, Emitter: "span", Operation: s.OperationName()})
		}
	})
}

// End ends the delegate span and closes the span emitter.
func (s *Span) End(opts ...trace.SpanEndOption) {
	s.delegate.End(opts...)
	s.CloseEmitter()
}

// Context returns parent carrying this span, for both flightz and otel.
func (s *Span) Context(parent context.Context) context.Context {
	if parent == nil {
		parent = context.Background()
	}
	ctx := trace.ContextWithSpan(parent, s.delegate)
	return context.WithValue(ctx, spanKey, s)
}

// SpanFromContext returns the flightz span carried by ctx, or nil.
func SpanFromContext(ctx context.Context) *Span {
	if ctx == nil {
		return nil
	}
	if span, ok := ctx.Value(spanKey).(*Span); ok {
		return span
	}
	return nil
}
