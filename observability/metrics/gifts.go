package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"giftvault/core/events"
)

type GiftMetrics struct {
	deposits      *prometheus.CounterVec
	claims        *prometheus.CounterVec
	transfers     *prometheus.CounterVec
	classified    *prometheus.CounterVec
	probeFailures *prometheus.CounterVec
	pendingGifts  prometheus.Gauge
}

var (
	giftsOnce     sync.Once
	giftsRegistry *GiftMetrics
)

func Gifts() *GiftMetrics {
	giftsOnce.Do(func() {
		giftsRegistry = &GiftMetrics{
			deposits: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "gift_deposits_total",
				Help: "Count of escrowed gift deposits by token kind.",
			}, []string{"kind"}),
			claims: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "gift_settlements_total",
				Help: "Count of gift settlements by resolution.",
			}, []string{"resolution"}),
			transfers: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "gift_transfers_total",
				Help: "Count of completed token movements by kind.",
			}, []string{"kind"}),
			classified: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "gift_tokens_classified_total",
				Help: "Count of token classification verdicts by kind.",
			}, []string{"kind"}),
			probeFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "gift_token_probe_failures_total",
				Help: "Count of absorbed classification probe faults by probe.",
			}, []string{"probe"}),
			pendingGifts: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "gift_pending",
				Help: "Number of gifts currently held in escrow.",
			}),
		}
		prometheus.MustRegister(
			giftsRegistry.deposits,
			giftsRegistry.claims,
			giftsRegistry.transfers,
			giftsRegistry.classified,
			giftsRegistry.probeFailures,
			giftsRegistry.pendingGifts,
		)
	})
	return giftsRegistry
}

func (m *GiftMetrics) RecordDeposit(kind string) {
	if m == nil {
		return
	}
	m.deposits.WithLabelValues(kind).Inc()
	m.pendingGifts.Inc()
}

func (m *GiftMetrics) RecordSettlement(resolution string) {
	if m == nil {
		return
	}
	m.claims.WithLabelValues(resolution).Inc()
	m.pendingGifts.Dec()
}

func (m *GiftMetrics) RecordTransfer(kind string) {
	if m == nil {
		return
	}
	m.transfers.WithLabelValues(kind).Inc()
}

func (m *GiftMetrics) RecordClassification(kind string) {
	if m == nil {
		return
	}
	m.classified.WithLabelValues(kind).Inc()
}

func (m *GiftMetrics) RecordProbeFailure(probe string) {
	if m == nil {
		return
	}
	m.probeFailures.WithLabelValues(probe).Inc()
}

// Emitter wraps another event emitter and mirrors the protocol event stream
// into the Prometheus registry before forwarding.
type Emitter struct {
	next    events.Emitter
	metrics *GiftMetrics
}

func NewEmitter(next events.Emitter) *Emitter {
	if next == nil {
		next = events.NoopEmitter{}
	}
	return &Emitter{next: next, metrics: Gifts()}
}

func (e *Emitter) Emit(event events.Event) {
	switch evt := event.(type) {
	case events.GiftDeposited:
		e.metrics.RecordDeposit(evt.Kind)
	case events.GiftClaimed:
		e.metrics.RecordSettlement(evt.Resolution)
	case events.TransferCompleted:
		e.metrics.RecordTransfer(evt.Kind)
	case events.TokenClassified:
		e.metrics.RecordClassification(evt.Kind)
	case events.TokenProbeFailed:
		e.metrics.RecordProbeFailure(evt.Probe)
	}
	e.next.Emit(event)
}
