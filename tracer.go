package flightz

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/zoobzio/clockz"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"
)

type handlerEntry struct {
	handler EventHandler
	id      uint64
	async   bool
}

// Tracer starts spans and activations on a delegate otel tracer and
// dispatches their events to registered handlers.
// Safe for concurrent use by multiple goroutines once configured.
//
//nolint:govet // Field order optimized for functionality over memory
type Tracer struct {
	delegate      trace.Tracer
	factory       EmitterFactory
	logger        *zap.Logger
	clock         clockz.Clock
	handlers      []handlerEntry
	panicHook     func(handlerID uint64, r interface{})
	onError       ErrorHandler
	workers       *workerPool
	idPool        *IDPool
	handlersLock  sync.RWMutex
	idPoolOnce    sync.Once
	nextID        atomic.Uint64
	droppedEvents atomic.Uint64
}

// New creates a tracer on top of delegate. A nil delegate uses a no-op otel
// tracer, so only flight-recorder events are produced.
func New(delegate trace.Tracer) *Tracer {
	if delegate == nil {
		delegate = noop.NewTracerProvider().Tracer("flightz")
	}
	t := &Tracer{
		delegate: delegate,
		logger:   zap.NewNop(),
		clock:    clockz.RealClock,
		handlers: make([]handlerEntry, 0),
	}
	t.factory = eventFactory{tracer: t}
	return t
}

// WithClock sets the clock used for event timestamps.
// Call before the tracer is used.
func (t *Tracer) WithClock(clock clockz.Clock) *Tracer {
	t.clock = clock
	return t
}

// WithLogger sets the logger used by the default error handler and for
// handler panics. Call before the tracer is used.
func (t *Tracer) WithLogger(logger *zap.Logger) *Tracer {
	if logger == nil {
		logger = zap.NewNop()
	}
	t.logger = logger
	return t
}

// WithEmitterFactory replaces the factory that creates span and scope
// emitters. Call before the tracer is used.
func (t *Tracer) WithEmitterFactory(factory EmitterFactory) *Tracer {
	if factory == nil {
		factory = eventFactory{tracer: t}
	}
	t.factory = factory
	return t
}

// EmitterFactory returns the factory used for new spans and scopes.
func (t *Tracer) EmitterFactory() EmitterFactory {
	return t.factory
}

// StartSpan starts a delegate span and its span emitter. If the emitter
// cannot start, the delegate span is ended and the error is returned with
// the caller's ctx unchanged.
func (t *Tracer) StartSpan(ctx context.Context, name Key, opts ...trace.SpanStartOption) (context.Context, *Span, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	spanCtx, delegate := t.delegate.Start(ctx, name, opts...)
	span := &Span{
		delegate: delegate,
		tracer:   t,
		name:     name,
	}
	span.emitter = t.factory.SpanEmitter(span)
	if err := span.emitter.Start(name); err != nil {
		delegate.End()
		return ctx, nil, fmt.Errorf("start span emitter for %q: %w", name, err)
	}

	return context.WithValue(spanCtx, spanKey, span), span, nil
}

// Activate makes span the active span of the returned context and records a
// scope start event. With finishOnClose, closing the scope also closes the
// span's emitter.
func (t *Tracer) Activate(ctx context.Context, span *Span, finishOnClose bool) (context.Context, *Scope, error) {
	if span == nil {
		return ctx, nil, errors.New("flightz: activate nil span")
	}
	act := newActivation(ctx, span)
	scope, err := NewScope(t.factory, span, act, finishOnClose, t.reportError)
	if err != nil {
		return ctx, nil, err
	}
	return act.ctx, scope, nil
}

// StartActive starts a span and activates it in one step.
// If activation fails the span is ended.
func (t *Tracer) StartActive(ctx context.Context, name Key, finishOnClose bool, opts ...trace.SpanStartOption) (context.Context, *Scope, error) {
	ctx, span, err := t.StartSpan(ctx, name, opts...)
	if err != nil {
		return ctx, nil, err
	}
	actx, scope, err := t.Activate(ctx, span, finishOnClose)
	if err != nil {
		span.End()
		return ctx, nil, err
	}
	return actx, scope, nil
}

// ActiveSpan returns the flightz span active in ctx, or nil.
func (t *Tracer) ActiveSpan(ctx context.Context) *Span {
	return SpanFromContext(ctx)
}

// OnEvent registers a synchronous handler called for every event.
func (t *Tracer) OnEvent(handler EventHandler) uint64 {
	return t.registerHandler(handler, false)
}

// OnEventAsync registers a handler called off the emitting goroutine.
func (t *Tracer) OnEventAsync(handler EventHandler) uint64 {
	return t.registerHandler(handler, true)
}

func (t *Tracer) registerHandler(handler EventHandler, async bool) uint64 {
	if handler == nil {
		return 0
	}

	id := t.nextID.Add(1)

	t.handlersLock.Lock()
	defer t.handlersLock.Unlock()

	t.handlers = append(t.handlers, handlerEntry{
		id:      id,
		handler: handler,
		async:   async,
	})

	return id
}

// RemoveHandler removes a handler by ID.
func (t *Tracer) RemoveHandler(id uint64) {
	t.handlersLock.Lock()
	defer t.handlersLock.Unlock()

	// Preserve order
	for i, h := range t.handlers {
		if h.id == id {
			copy(t.handlers[i:], t.handlers[i+1:])
			t.handlers = t.handlers[:len(t.handlers)-1]
			return
		}
	}
}

// HasHandlers reports whether any event handler is registered.
func (t *Tracer) HasHandlers() bool {
	t.handlersLock.RLock()
	defer t.handlersLock.RUnlock()
	return len(t.handlers) > 0
}

// SetPanicHook sets a function called when a handler panics.
func (t *Tracer) SetPanicHook(hook func(handlerID uint64, r interface{})) {
	t.handlersLock.Lock()
	defer t.handlersLock.Unlock()
	t.panicHook = hook
}

// OnError replaces the handler for suppressed emitter failures.
// nil restores the default, which logs at warn level.
func (t *Tracer) OnError(handler ErrorHandler) {
	t.handlersLock.Lock()
	defer t.handlersLock.Unlock()
	t.onError = handler
}

// ErrorHandler returns the handler currently receiving suppressed failures.
func (t *Tracer) ErrorHandler() ErrorHandler {
	t.handlersLock.RLock()
	defer t.handlersLock.RUnlock()
	if t.onError != nil {
		return t.onError
	}
	return t.logError
}

func (t *Tracer) reportError(err error) {
	t.ErrorHandler()(err)
}

func (t *Tracer) logError(err error) {
	fields := []zap.Field{zap.Error(err)}
	var ee *EmitterError
	if errors.As(err, &ee) {
		fields = append(fields,
			zap.String("operation", ee.Operation),
			zap.String("emitter", ee.Emitter),
		)
	}
	t.logger.Warn("flight recorder emitter failed", fields...)
}

// emit stamps an event ID and dispatches the event to all handlers.
func (t *Tracer) emit(event Event) {
	t.handlersLock.RLock()
	if len(t.handlers) == 0 {
		t.handlersLock.RUnlock()
		return
	}
	handlers := make([]handlerEntry, len(t.handlers))
	copy(handlers, t.handlers)
	workers := t.workers
	t.handlersLock.RUnlock()

	t.ensureIDPool()
	event.ID = t.idPool.Get()

	for _, h := range handlers {
		if h.async {
			entry := h
			if workers != nil {
				workers.submit(func() {
					t.safeCall(entry, event)
				})
			} else {
				go t.safeCall(entry, event)
			}
		} else {
			t.safeCall(h, event)
		}
	}
}

func (t *Tracer) safeCall(entry handlerEntry, event Event) {
	defer func() {
		if r := recover(); r != nil {
			t.handlersLock.RLock()
			hook := t.panicHook
			t.handlersLock.RUnlock()
			if hook != nil {
				hook(entry.id, r)
				return
			}
			t.logger.Error("event handler panicked",
				zap.Uint64("handler_id", entry.id),
				zap.String("event", string(event.Kind)),
				zap.Any("panic", r),
			)
		}
	}()
	entry.handler(event)
}

func (t *Tracer) ensureIDPool() {
	t.idPoolOnce.Do(func() {
		t.idPool = NewIDPool(runtime.NumCPU()*100, randomID(8, t.clock))
	})
}

// EnableWorkerPool creates a bounded worker pool for async handlers.
func (t *Tracer) EnableWorkerPool(workers, queueSize int) error {
	if workers <= 0 {
		return errors.New("workers must be > 0")
	}
	if queueSize <= 0 {
		return errors.New("queueSize must be > 0")
	}

	t.handlersLock.Lock()
	defer t.handlersLock.Unlock()
	if t.workers != nil {
		return errors.New("worker pool already enabled")
	}

	t.workers = &workerPool{
		tasks:   make(chan func(), queueSize),
		stop:    make(chan struct{}),
		dropped: &t.droppedEvents,
	}

	t.workers.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go t.workers.run()
	}

	return nil
}

// DroppedEvents returns the number of async deliveries dropped because the
// worker queue was full.
func (t *Tracer) DroppedEvents() uint64 {
	return t.droppedEvents.Load()
}

// Close stops event delivery, waits for in-flight async handlers and
// releases the ID pool. Spans and scopes still open keep working but their
// events reach no handler.
func (t *Tracer) Close() {
	t.handlersLock.Lock()
	t.handlers = nil
	workers := t.workers
	t.workers = nil
	t.handlersLock.Unlock()

	if workers != nil {
		workers.shutdown()
	}

	t.ensureIDPool()
	t.idPool.Close()
}

// workerPool runs async handlers on a fixed number of goroutines.
//
//nolint:govet // Field order optimized for functionality over memory
type workerPool struct {
	tasks   chan func()
	stop    chan struct{}
	dropped *atomic.Uint64
	wg      sync.WaitGroup
}

func (w *workerPool) run() {
	defer w.wg.Done()
	for {
		select {
		case task := <-w.tasks:
			task()
		case <-w.stop:
			return
		}
	}
}

func (w *workerPool) submit(task func()) {
	select {
	case w.tasks <- task:
	default:
		w.dropped.Add(1)
	}
}

func (w *workerPool) shutdown() {
	close(w.stop)
	w.wg.Wait()
}
