package ydoc

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics counts document activity. One Metrics may be shared by many
// documents; sub-documents created by remote updates inherit it.
type Metrics struct {
	Transactions   prometheus.Counter
	UpdatesApplied prometheus.Counter
	UpdateBytes    prometheus.Counter
	// PendingStructs is the number of remote structs waiting for missing
	// dependencies after the last applied update.
	PendingStructs prometheus.Gauge
	// ObserverCalls counts callbacks run, labeled by kind: shallow, deep,
	// document or subdocs.
	ObserverCalls *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg. A nil reg
// leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Transactions: f.NewCounter(prometheus.CounterOpts{
			Name: "ydoc_transactions_total",
			Help: "Committed transactions",
		}),
		UpdatesApplied: f.NewCounter(prometheus.CounterOpts{
			Name: "ydoc_updates_applied_total",
			Help: "Remote updates applied",
		}),
		UpdateBytes: f.NewCounter(prometheus.CounterOpts{
			Name: "ydoc_update_bytes_total",
			Help: "Bytes of remote updates applied",
		}),
		PendingStructs: f.NewGauge(prometheus.GaugeOpts{
			Name: "ydoc_pending_structs",
			Help: "Remote structs waiting for missing dependencies",
		}),
		ObserverCalls: f.NewCounterVec(prometheus.CounterOpts{
			Name: "ydoc_observer_calls_total",
			Help: "Observer callbacks run, by kind",
		}, []string{"kind"}),
	}
}
