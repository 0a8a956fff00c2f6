// Package metrics holds the Prometheus collectors shared by the draft services.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics is the set of collectors for one process.
type Metrics struct {
	PicksTotal       *prometheus.CounterVec
	FinalPickRelaxed prometheus.Counter
	AutoPicks        *prometheus.CounterVec
	RateLimited      prometheus.Counter
	EventsPublished  *prometheus.CounterVec
	OutboxBatch      prometheus.Histogram
	OutboxLag        prometheus.Gauge
	WSConnections    prometheus.Gauge
	Resyncs          *prometheus.CounterVec

	gatherer prometheus.Gatherer
}

// New registers all collectors on reg. Passing nil uses a private registry.
func New(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)

	return &Metrics{
		PicksTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "draft_picks_total",
			Help: "Pick submissions by outcome.",
		}, []string{"outcome"}),
		FinalPickRelaxed: f.NewCounter(prometheus.CounterOpts{
			Name: "draft_final_pick_relaxed_total",
			Help: "Final picks accepted from a seat other than the one the turn resolver expected.",
		}),
		AutoPicks: f.NewCounterVec(prometheus.CounterOpts{
			Name: "draft_autopicks_total",
			Help: "Forced picks by trigger.",
		}, []string{"trigger"}),
		RateLimited: f.NewCounter(prometheus.CounterOpts{
			Name: "draft_pick_rate_limited_total",
			Help: "Pick attempts rejected by the per-user rate limiter.",
		}),
		EventsPublished: f.NewCounterVec(prometheus.CounterOpts{
			Name: "draft_events_published_total",
			Help: "Draft events handed to a publisher.",
		}, []string{"publisher", "result"}),
		OutboxBatch: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "draft_outbox_batch_size",
			Help:    "Events relayed per outbox batch.",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250},
		}),
		OutboxLag: f.NewGauge(prometheus.GaugeOpts{
			Name: "draft_outbox_unsent",
			Help: "Unsent events seen by the last outbox poll.",
		}),
		WSConnections: f.NewGauge(prometheus.GaugeOpts{
			Name: "draft_ws_connections",
			Help: "Open websocket viewer connections.",
		}),
		Resyncs: f.NewCounterVec(prometheus.CounterOpts{
			Name: "draft_client_resyncs_total",
			Help: "Client snapshot refetches by reason.",
		}, []string{"reason"}),
		gatherer: reg,
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
