package flightz

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exports flight recorder activity to Prometheus.
type Metrics struct {
	events       *prometheus.CounterVec
	activeScopes prometheus.Gauge
	errors       prometheus.Counter
}

// NewMetrics creates the flightz collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "flightz_events_total",
			Help: "Flight recorder events emitted, by kind.",
		}, []string{"kind"}),
		activeScopes: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "flightz_active_scopes",
			Help: "Activations started and not yet closed.",
		}),
		errors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "flightz_emitter_errors_total",
			Help: "Emitter failures suppressed while closing spans and scopes.",
		}),
	}
	for _, c := range []prometheus.Collector{m.events, m.activeScopes, m.errors} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Observe counts one event. It has the EventHandler signature.
func (m *Metrics) Observe(event Event) {
	m.events.WithLabelValues(string(event.Kind)).Inc()
	switch event.Kind {
	case ScopeStart:
		m.activeScopes.Inc()
	case ScopeEnd:
		m.activeScopes.Dec()
	}
}

// Attach registers m as an event handler on t and counts suppressed errors
// before passing them on to t's current error handler.
func (m *Metrics) Attach(t *Tracer) uint64 {
	next := t.ErrorHandler()
	t.OnError(func(err error) {
		m.errors.Inc()
		next(err)
	})
	return t.OnEvent(m.Observe)
}
