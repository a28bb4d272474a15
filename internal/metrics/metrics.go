package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the ingest pipeline.
type Metrics struct {
	// Edge metrics
	BatchesAccepted prometheus.Counter
	EventsAccepted  prometheus.Counter
	RejectionsTotal *prometheus.CounterVec
	SilentDrops     prometheus.Counter
	RateLimitHits   *prometheus.CounterVec
	AbuseFlags      *prometheus.CounterVec

	// Queue metrics
	QueuePushes     prometheus.Counter
	QueuePushErrors prometheus.Counter

	// Worker metrics. Registered only: the worker and pipeline services
	// do not increment them.
	WorkerRuns    prometheus.Counter
	WorkerEntries *prometheus.CounterVec
	DedupDrops    *prometheus.CounterVec
	ConsentDrops  prometheus.Counter
}

// New creates and registers all Prometheus metrics.
func New(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	factory := promauto.With(registry)

	return &Metrics{
		BatchesAccepted: factory.NewCounter(prometheus.CounterOpts{
			Name: "tg_ingest_batches_accepted_total",
			Help: "Batches enqueued for processing",
		}),
		EventsAccepted: factory.NewCounter(prometheus.CounterOpts{
			Name: "tg_ingest_events_accepted_total",
			Help: "Validated events across accepted batches",
		}),
		RejectionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "tg_ingest_rejections_total",
			Help: "Requests rejected before enqueue",
		}, []string{"stage", "reason"}),
		SilentDrops: factory.NewCounter(prometheus.CounterOpts{
			Name: "tg_ingest_silent_drops_total",
			Help: "Requests dropped with 204 (stale timestamp)",
		}),
		RateLimitHits: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "tg_ingest_rate_limit_hits_total",
			Help: "Requests rejected by a rate limiter",
		}, []string{"scope"}),
		AbuseFlags: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "tg_ingest_abuse_flags_total",
			Help: "Batches flagged by the abuse heuristics",
		}, []string{"reason"}),
		QueuePushes: factory.NewCounter(prometheus.CounterOpts{
			Name: "tg_ingest_queue_pushes_total",
			Help: "Entries pushed onto the durable queue",
		}),
		QueuePushErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "tg_ingest_queue_push_errors_total",
			Help: "Failed queue pushes",
		}),
		WorkerRuns: factory.NewCounter(prometheus.CounterOpts{
			Name: "tg_worker_runs_total",
			Help: "Worker drain invocations",
		}),
		WorkerEntries: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "tg_worker_entries_total",
			Help: "Queue entries handled by the worker",
		}, []string{"outcome"}),
		DedupDrops: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "tg_pipeline_dedup_drops_total",
			Help: "Purchase events suppressed by deduplication",
		}, []string{"kind"}),
		ConsentDrops: factory.NewCounter(prometheus.CounterOpts{
			Name: "tg_pipeline_consent_drops_total",
			Help: "Events dropped with zero consented destinations",
		}),
	}
}
