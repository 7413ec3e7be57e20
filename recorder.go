package flightz

import (
	"sync"
	"sync/atomic"
	"time"
)

// Recorder buffers emitted events for batch export.
// Safe for concurrent use by multiple goroutines.
//
//nolint:govet // Field alignment optimized for readability over memory efficiency
type Recorder struct {
	events       []Event
	eventsCh     chan Event
	stopCh       chan struct{}
	done         chan struct{}
	droppedCount atomic.Int64
	mu           sync.Mutex
	intake       sync.RWMutex // Held for reading across the closed check and send.
	closeOnce    sync.Once
	closed       bool
	syncMode     atomic.Bool
}

// NewRecorder creates a recorder whose intake channel holds bufferSize events.
func NewRecorder(bufferSize int) *Recorder {
	r := &Recorder{
		events:   make([]Event, 0, 8),
		eventsCh: make(chan Event, bufferSize),
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
	}
	go r.run()
	return r
}

func (r *Recorder) run() {
	defer close(r.done)

	for {
		select {
		case <-r.stopCh:
			// Drain what is queued before exiting.
			for {
				select {
				case event := <-r.eventsCh:
					r.buffer(event)
				default:
					return
				}
			}
		case event := <-r.eventsCh:
			r.buffer(event)
		}
	}
}

// Record buffers an event. It never blocks: when the intake channel is full
// or the recorder is closed the event is dropped and counted.
// Record has the EventHandler signature so it can be passed to Tracer.OnEvent.
func (r *Recorder) Record(event Event) {
	r.intake.RLock()
	defer r.intake.RUnlock()

	if r.closed {
		r.droppedCount.Add(1)
		return
	}

	if r.syncMode.Load() {
		r.buffer(event)
		return
	}

	select {
	case r.eventsCh <- event:
	default:
		r.droppedCount.Add(1)
	}
}

func (r *Recorder) buffer(event Event) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.events) >= cap(r.events) {
		c := cap(r.events)
		var newCap int
		if c < 1024 {
			newCap = c * 2
		} else {
			newCap = c + c/2
		}
		if newCap < 32 {
			newCap = 32
		}
		grown := make([]Event, len(r.events), newCap)
		copy(grown, r.events)
		r.events = grown
	}
	r.events = append(r.events, event)
}

// Export returns all buffered events in arrival order and clears the buffer.
func (r *Recorder) Export() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.events) == 0 {
		return nil
	}

	result := make([]Event, len(r.events))
	copy(result, r.events)

	// Shrink only when the buffer is far larger than what it holds.
	if cap(r.events) > 256 && len(r.events) < cap(r.events)/8 {
		newCap := cap(r.events) / 4
		if newCap < 32 {
			newCap = 32
		}
		r.events = make([]Event, 0, newCap)
	} else {
		r.events = r.events[:0]
	}

	return result
}

// Count returns the number of buffered events.
func (r *Recorder) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

// DroppedCount returns the number of events dropped due to backpressure or
// after Close.
func (r *Recorder) DroppedCount() int64 {
	return r.droppedCount.Load()
}

// SetSyncMode makes Record buffer directly instead of going through the
// intake channel. Tests use it to avoid waiting on the recorder goroutine.
func (r *Recorder) SetSyncMode(sync bool) {
	r.syncMode.Store(sync)
}

// Reset clears buffered events and the drop counter.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.events = r.events[:0]
	r.droppedCount.Store(0)
}

// Close stops the recorder goroutine after draining queued events.
// Buffered events remain available to Export. Every Record call either
// lands in the buffer or is counted as dropped.
func (r *Recorder) Close() {
	r.closeOnce.Do(func() {
		r.intake.Lock()
		r.closed = true
		r.intake.Unlock()

		close(r.stopCh)
		select {
		case <-r.done:
		case <-time.After(100 * time.Millisecond):
		}
	})
}
