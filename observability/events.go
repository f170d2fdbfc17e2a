package observability

import (
	"math/big"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"offlinesettle/core/events"
	"offlinesettle/native/settlement"
)

// EventMetrics counts settlement events and the value they move. It is an
// events.Emitter so it can sit beside any other sink.
type EventMetrics struct {
	events  *prometheus.CounterVec
	settled *prometheus.CounterVec
}

var (
	eventMetricsOnce sync.Once
	eventRegistry    *EventMetrics
)

func NewEventMetrics(reg prometheus.Registerer) *EventMetrics {
	m := &EventMetrics{
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "settle",
			Subsystem: "events",
			Name:      "emitted_total",
			Help:      "Count of settlement events segmented by type.",
		}, []string{"type"}),
		settled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "settle",
			Subsystem: "events",
			Name:      "settled_amount_total",
			Help:      "Base units moved from senders to recipients segmented by final status.",
		}, []string{"status"}),
	}
	if reg != nil {
		reg.MustRegister(m.events, m.settled)
	}
	return m
}

// Events returns the process-wide event metrics registered with the default
// Prometheus registerer.
func Events() *EventMetrics {
	eventMetricsOnce.Do(func() {
		eventRegistry = NewEventMetrics(prometheus.DefaultRegisterer)
	})
	return eventRegistry
}

func (m *EventMetrics) Emit(evt events.Event) {
	if m == nil || evt == nil {
		return
	}
	payload := evt.Event()
	if payload == nil {
		return
	}
	m.events.WithLabelValues(label(payload.Type, "unknown")).Inc()
	switch payload.Type {
	case settlement.EventTypeFinalized, settlement.EventTypeAutoFinalized:
		if amount, ok := new(big.Int).SetString(payload.Attr("amount"), 10); ok {
			m.settled.WithLabelValues(payload.Attr("status")).Add(bigToFloat(amount))
		}
	}
}

func bigToFloat(value *big.Int) float64 {
	if value == nil {
		return 0
	}
	f, _ := new(big.Float).SetInt(value).Float64()
	return f
}
