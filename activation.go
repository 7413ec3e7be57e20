package flightz

import (
	"context"
	"errors"
	"sync/atomic"
)

// ErrAlreadyReleased is returned when an activation is released twice.
var ErrAlreadyReleased = errors.New("flightz: activation already released")

// activation marks a span active in a context. Go carries the active span
// in context.Context, so releasing only retires the handle.
type activation struct {
	ctx      context.Context
	released atomic.Bool
}

func newActivation(parent context.Context, span *Span) *activation {
	return &activation{ctx: span.Context(parent)}
}

// Release retires the activation. The second call fails.
func (a *activation) Release() error {
	if !a.released.CompareAndSwap(false, true) {
		return ErrAlreadyReleased
	}
	return nil
}
