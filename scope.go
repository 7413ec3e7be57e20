package flightz

import (
	"fmt"
)

// Owner is the traced unit a Scope belongs to.
type Owner interface {
	// OperationName returns the name recorded in the scope's start event.
	OperationName() string
	// CloseEmitter closes the owner's own emitter. It may be called many
	// times and must tolerate that.
	CloseEmitter()
}

// Releaser is the underlying activation a Scope wraps.
type Releaser interface {
	Release() error
}

// Scope is one activation of an Owner. Creating it records a start event,
// closing it records the matching end event.
//
// A Scope has no locking: activate and close it on the same goroutine.
type Scope struct {
	owner         Owner
	delegate      Releaser
	emitter       Emitter
	onError       ErrorHandler
	finishOnClose bool
	closed        bool
}

// NewScope wraps delegate and starts a scope emitter obtained from factory,
// named after owner. If the emitter cannot start, the error is returned and
// no scope is created. When finishOnClose is set, closing the scope also
// closes the owner's emitter. onError receives emitter close failures; nil
// discards them.
func NewScope(factory EmitterFactory, owner Owner, delegate Releaser, finishOnClose bool, onError ErrorHandler) (*Scope, error) {
	emitter := factory.ScopeEmitter(owner)
	if err := emitter.Start(owner.OperationName()); err != nil {
		return nil, fmt.Errorf("start scope emitter for %q: %w", owner.OperationName(), err)
	}
	if onError == nil {
		onError = func(error) {}
	}
	return &Scope{
		owner:         owner,
		delegate:      delegate,
		emitter:       emitter,
		onError:       onError,
		finishOnClose: finishOnClose,
	}, nil
}

// Close releases the delegate, closes the scope emitter and, if the scope
// was created with finishOnClose, asks the owner to close its emitter.
//
// A release failure is returned as is and the remaining steps are skipped.
// An emitter close failure, including a panic, is passed to the error
// handler as an *EmitterError and never returned. Calling Close again
// releases the delegate again; the emitter records no second end event.
func (s *Scope) Close() error {
	if err := s.delegate.Release(); err != nil {
		return err
	}
	if err := closeEmitter(s.emitter); err != nil {
		s.onError(&EmitterError{Err: err, Emitter: "scope", Operation: s.owner.OperationName()})
	}
	if s.finishOnClose {
		s.owner.CloseEmitter()
	}
	s.closed = true
	return nil
}

// ActiveUnit returns the owner this scope activates.
func (s *Scope) ActiveUnit() Owner {
	return s.owner
}

// Closed reports whether Close has completed at least once.
func (s *Scope) Closed() bool {
	return s.closed
}
