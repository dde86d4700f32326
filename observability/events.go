package observability

import (
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

type eventMetrics struct {
	emitted   *prometheus.CounterVec
	transfers prometheus.Counter
	dropped   prometheus.Counter
}

var (
	eventMetricsOnce sync.Once
	eventRegistry    *eventMetrics
)

// Events returns the metrics registry tracking committed engine events.
func Events() *eventMetrics {
	eventMetricsOnce.Do(func() {
		eventRegistry = &eventMetrics{
			emitted: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "agrichain",
				Subsystem: "events",
				Name:      "emitted_total",
				Help:      "Count of committed events segmented by module.",
			}, []string{"module"}),
			transfers: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "agrichain",
				Subsystem: "events",
				Name:      "transfers_total",
				Help:      "Count of native value transfers.",
			}),
			dropped: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "agrichain",
				Subsystem: "events",
				Name:      "stream_dropped_total",
				Help:      "Events not delivered to a slow stream subscriber.",
			}),
		}
		prometheus.MustRegister(eventRegistry.emitted, eventRegistry.transfers, eventRegistry.dropped)
	})
	return eventRegistry
}

// RecordEvent counts one committed event. The module label is the event type
// prefix before the first dot.
func (m *eventMetrics) RecordEvent(eventType string) {
	if m == nil {
		return
	}
	module, _, _ := strings.Cut(strings.TrimSpace(eventType), ".")
	if module == "" {
		module = "unknown"
	}
	m.emitted.WithLabelValues(module).Inc()
	if module == "transfer" {
		m.transfers.Inc()
	}
}

// RecordDropped counts an event skipped for a subscriber whose buffer was full.
func (m *eventMetrics) RecordDropped() {
	if m == nil {
		return
	}
	m.dropped.Inc()
}
