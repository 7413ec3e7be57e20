// Package flightz adds flight-recorder events to OpenTelemetry tracing.
//
// flightz wraps an OpenTelemetry trace.Tracer. Every span it starts and
// every activation of such a span emits a start event when it begins and an
// end event when it ends. Events go to an Emitter obtained from an
// EmitterFactory, and the default factory fans them out to handlers,
// recorders and metrics.
//
// Core Components:
//   - Tracer: Starts spans and activations, dispatches events to handlers.
//   - Span: A traced unit of work wrapping an otel span.
//   - Scope: One lifetime-bounded activation of a Span.
//   - Recorder: Buffers events for export.
//
// Basic Usage:
//
//	tracer := flightz.New(otel.Tracer("checkout"))
//	defer tracer.Close()
//
//	recorder := flightz.NewRecorder(1024)
//	defer recorder.Close()
//	tracer.OnEvent(recorder.Record)
//
//	// Start a span and make it active in one step.
//	ctx, scope, err := tracer.StartActive(ctx, "db.query", true)
//	if err != nil {
//		return err
//	}
//	defer scope.Close()
//
// Error Handling:
//
// Failures that indicate misuse propagate: releasing an activation twice,
// or an emitter that cannot start. Failures while closing an emitter are
// never returned. They go to the tracer's ErrorHandler, which logs them by
// default. Recording is best-effort and never breaks tracing.
//
// Thread Safety:
//
// Tracer, Span and Recorder are safe for concurrent use.
// A Scope is activated and closed on one goroutine and has no locking.
package flightz

// Key represents a span operation name.
type Key = string

// Tag represents a span attribute key.
type Tag = string
