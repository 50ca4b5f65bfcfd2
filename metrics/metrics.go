// Package metrics exposes Prometheus collectors for transfer outcomes.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/yashasviy/guarded-transfers-api/engine"
)

const outcomeCompleted = "completed"

// Recorder implements engine.Observer.
type Recorder struct {
	transfers *prometheus.CounterVec
	duration  *prometheus.HistogramVec
}

var _ engine.Observer = (*Recorder)(nil)

// New registers the transfer collectors on reg. windowLen, when non-nil, is
// exported as the current size of the dedup window.
func New(reg prometheus.Registerer, windowLen func() int) *Recorder {
	r := &Recorder{
		transfers: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "transfers_total",
				Help: "Transfer attempts by outcome",
			},
			[]string{"outcome"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "transfer_duration_seconds",
				Help:    "Time spent executing a transfer attempt",
				Buckets: []float64{.001, .005, .01, .05, .1, .25, .5, 1, 2},
			},
			[]string{"outcome"},
		),
	}
	reg.MustRegister(r.transfers, r.duration)

	if windowLen != nil {
		reg.MustRegister(prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Name: "dedup_window_records",
				Help: "Fingerprints currently held by the dedup window",
			},
			func() float64 { return float64(windowLen()) },
		))
	}
	return r
}

func (r *Recorder) TransferObserved(kind engine.Kind, elapsed time.Duration) {
	outcome := string(kind)
	if kind == "" {
		outcome = outcomeCompleted
	}
	r.transfers.WithLabelValues(outcome).Inc()
	r.duration.WithLabelValues(outcome).Observe(elapsed.Seconds())
}
