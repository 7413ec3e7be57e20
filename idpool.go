package flightz

import (
	"crypto/rand"
	"encoding/hex"
	"sync"
	"time"

	"github.com/zoobzio/clockz"
)

// IDPool hands out pre-generated event IDs to amortize crypto/rand overhead.
type IDPool struct {
	generate func() string
	ids      chan string
	stopCh   chan struct{}
	mu       sync.Mutex
	closed   bool
}

// NewIDPool creates a pool of the given capacity backed by generate.
func NewIDPool(capacity int, generate func() string) *IDPool {
	pool := &IDPool{
		ids:      make(chan string, capacity),
		generate: generate,
		stopCh:   make(chan struct{}),
	}
	go pool.refill()
	return pool
}

// randomID returns a generator of n random bytes in hex.
// The clock is used when crypto/rand fails.
func randomID(n int, clock clockz.Clock) func() string {
	return func() string {
		b := make([]byte, n)
		if _, err := rand.Read(b); err != nil {
			return hex.EncodeToString([]byte(clock.Now().Format(time.RFC3339Nano)))
		}
		return hex.EncodeToString(b)
	}
}

// Get returns a pooled ID, or generates one directly when the pool is empty.
func (p *IDPool) Get() string {
	select {
	case id := <-p.ids:
		return id
	default:
		return p.generate()
	}
}

func (p *IDPool) refill() {
	for {
		select {
		case <-p.stopCh:
			return
		case p.ids <- p.generate():
		}
	}
}

// Close stops the refill goroutine. Get keeps working afterwards.
func (p *IDPool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.closed {
		close(p.stopCh)
		p.closed = true
	}
}
