package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Registry struct {
	reg *prometheus.Registry

	// Gateway ingest outcomes
	IngestSent    prometheus.Counter
	IngestPending prometheus.Counter
	IngestFailed  prometheus.Counter
	LateAcks      prometheus.Counter
	AckLatencySec prometheus.Histogram

	// Stream stage
	RecordsConsumed     prometheus.Counter
	RecordsEnriched     prometheus.Counter
	RecordsPersisted    prometheus.Counter
	RecordsDeadLettered prometheus.Counter
	ProcessLatencySec   prometheus.Histogram
}

func NewRegistry() *Registry {
	r := prometheus.NewRegistry()
	sent := prometheus.NewCounter(prometheus.CounterOpts{Name: "gateway_ingest_sent_total"})
	pending := prometheus.NewCounter(prometheus.CounterOpts{Name: "gateway_ingest_pending_total"})
	failed := prometheus.NewCounter(prometheus.CounterOpts{Name: "gateway_ingest_failed_total"})
	late := prometheus.NewCounter(prometheus.CounterOpts{Name: "gateway_late_acks_total"})
	ackLatency := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "gateway_ack_latency_seconds",
		Buckets: prometheus.DefBuckets,
	})

	consumed := prometheus.NewCounter(prometheus.CounterOpts{Name: "stage_records_consumed_total"})
	enriched := prometheus.NewCounter(prometheus.CounterOpts{Name: "stage_records_enriched_total"})
	persisted := prometheus.NewCounter(prometheus.CounterOpts{Name: "stage_records_persisted_total"})
	deadLettered := prometheus.NewCounter(prometheus.CounterOpts{Name: "stage_records_dead_lettered_total"})
	processLatency := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "stage_process_latency_seconds",
		Buckets: prometheus.DefBuckets,
	})

	r.MustRegister(sent, pending, failed, late, ackLatency, consumed, enriched, persisted, deadLettered, processLatency)
	return &Registry{
		reg:                 r,
		IngestSent:          sent,
		IngestPending:       pending,
		IngestFailed:        failed,
		LateAcks:            late,
		AckLatencySec:       ackLatency,
		RecordsConsumed:     consumed,
		RecordsEnriched:     enriched,
		RecordsPersisted:    persisted,
		RecordsDeadLettered: deadLettered,
		ProcessLatencySec:   processLatency,
	}
}

func (r *Registry) Handler() http.Handler { return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{}) }
