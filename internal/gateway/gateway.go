package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	ck "github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"github.com/rs/zerolog"

	"orderflow/internal/journal"
	"orderflow/internal/metrics"
	"orderflow/internal/model"
)

// producer abstracts ck.Producer for testability. The delivery channel
// receives exactly one event per produced message.
type producer interface {
	Produce(msg *ck.Message, deliveryChan chan ck.Event) error
}

// attemptJournal records publish attempts and their broker outcomes.
type attemptJournal interface {
	Submitted(orderID, topic string, submittedAt int64) (uint64, error)
	Resolve(seq uint64, outcome, detail string, late bool, resolvedAt int64) error
}

// Gateway turns the broker's asynchronous delivery confirmation into a
// synchronous three-outcome ingest response. The wait is bounded by
// ackTimeout; the underlying publish keeps resolving in the background after
// a timeout, and that late resolution is observed (journal, metrics, log)
// without affecting the already-returned response.
type Gateway struct {
	producer   producer
	topic      string
	ackTimeout time.Duration
	journal    attemptJournal
	metrics    *metrics.Registry
	logger     zerolog.Logger
}

// NewProducer builds a confluent producer configured for durable acceptance
// (acks=all, idempotent) suitable for the gateway.
func NewProducer(bootstrap string) (*ck.Producer, error) {
	p, err := ck.NewProducer(&ck.ConfigMap{
		"bootstrap.servers":  bootstrap,
		"enable.idempotence": true,
		"acks":               "all",
	})
	if err != nil {
		return nil, fmt.Errorf("producer: %w", err)
	}
	return p, nil
}

// New constructs a Gateway. jrnl may be nil when no local journal is wanted.
func New(p producer, topic string, ackTimeout time.Duration, jrnl attemptJournal, reg *metrics.Registry, logger zerolog.Logger) *Gateway {
	return &Gateway{
		producer:   p,
		topic:      topic,
		ackTimeout: ackTimeout,
		journal:    jrnl,
		metrics:    reg,
		logger:     logger.With().Str("component", "gateway").Logger(),
	}
}

// Ingest publishes the order to the raw topic keyed by orderId and waits up
// to the ack timeout for the broker's delivery report.
//
//   - delivery confirmed in time  -> SENT
//   - delivery rejected in time   -> FAILED with the rejection reason
//   - synchronous submit error    -> FAILED, without waiting out the deadline
//   - deadline or ctx cancelled   -> PENDING; the report is drained later
func (g *Gateway) Ingest(ctx context.Context, order model.RawOrder) model.IngestResult {
	result := model.IngestResult{Topic: g.topic, Key: order.OrderID}

	payload, err := json.Marshal(&order)
	if err != nil {
		result.Status = model.StatusFailed
		result.Detail = fmt.Sprintf("encode order: %v", err)
		g.metrics.IngestFailed.Inc()
		return result
	}

	seq := g.recordSubmitted(order.OrderID)
	start := time.Now()

	// Buffered so the delivery callback never blocks the broker client,
	// even if nobody is waiting anymore.
	deliveryChan := make(chan ck.Event, 1)
	topic := g.topic
	msg := &ck.Message{
		TopicPartition: ck.TopicPartition{Topic: &topic, Partition: ck.PartitionAny},
		Key:            []byte(order.OrderID),
		Value:          payload,
	}

	g.logger.Info().Str("topic", g.topic).Str("key", order.OrderID).Msg("publishing order")
	if err := g.producer.Produce(msg, deliveryChan); err != nil {
		result.Status = model.StatusFailed
		result.Detail = err.Error()
		g.resolve(seq, journal.OutcomeFailed, err.Error(), false)
		g.metrics.IngestFailed.Inc()
		g.logger.Error().Err(err).Str("key", order.OrderID).Msg("submit to broker failed")
		return result
	}

	timer := time.NewTimer(g.ackTimeout)
	defer timer.Stop()

	select {
	case ev := <-deliveryChan:
		outcome, detail := deliveryOutcome(ev)
		if outcome == journal.OutcomeAcked {
			result.Status = model.StatusSent
			g.metrics.IngestSent.Inc()
			g.metrics.AckLatencySec.Observe(time.Since(start).Seconds())
			g.logger.Info().Str("topic", g.topic).Str("key", order.OrderID).Msg("broker ack")
		} else {
			result.Status = model.StatusFailed
			result.Detail = detail
			g.metrics.IngestFailed.Inc()
			g.logger.Error().Str("topic", g.topic).Str("key", order.OrderID).Str("reason", detail).Msg("broker nack")
		}
		g.resolve(seq, outcome, detail, false)
		return result

	case <-timer.C:
		result.Status = model.StatusPending
		result.Detail = fmt.Sprintf("ack not received within %s", g.ackTimeout)
		g.metrics.IngestPending.Inc()
		g.logger.Warn().Str("topic", g.topic).Str("key", order.OrderID).Dur("timeout", g.ackTimeout).Msg("ack timeout")
		go g.awaitLate(order.OrderID, seq, deliveryChan)
		return result

	case <-ctx.Done():
		result.Status = model.StatusPending
		result.Detail = fmt.Sprintf("request abandoned: %v", ctx.Err())
		g.metrics.IngestPending.Inc()
		g.logger.Warn().Str("key", order.OrderID).Msg("caller gone before ack")
		go g.awaitLate(order.OrderID, seq, deliveryChan)
		return result
	}
}

// awaitLate drains the delivery report that arrives after the caller already
// received a PENDING response. The resolution is a safe no-op with respect to
// that response; it is only observed.
func (g *Gateway) awaitLate(orderID string, seq uint64, deliveryChan chan ck.Event) {
	ev := <-deliveryChan
	outcome, detail := deliveryOutcome(ev)
	g.metrics.LateAcks.Inc()
	g.resolve(seq, outcome, detail, true)
	g.logger.Info().
		Str("key", orderID).
		Str("outcome", outcome).
		Str("detail", detail).
		Msg("late delivery report")
}

func (g *Gateway) recordSubmitted(orderID string) uint64 {
	if g.journal == nil {
		return 0
	}
	seq, err := g.journal.Submitted(orderID, g.topic, time.Now().UTC().Unix())
	if err != nil {
		g.logger.Error().Err(err).Str("key", orderID).Msg("journal submit failed")
		return 0
	}
	return seq
}

func (g *Gateway) resolve(seq uint64, outcome, detail string, late bool) {
	if g.journal == nil || seq == 0 {
		return
	}
	if err := g.journal.Resolve(seq, outcome, detail, late, time.Now().UTC().Unix()); err != nil {
		g.logger.Error().Err(err).Uint64("seq", seq).Msg("journal resolve failed")
	}
}

// deliveryOutcome maps a delivery channel event to a journal outcome.
func deliveryOutcome(ev ck.Event) (string, string) {
	switch e := ev.(type) {
	case *ck.Message:
		if e.TopicPartition.Error != nil {
			return journal.OutcomeNacked, e.TopicPartition.Error.Error()
		}
		return journal.OutcomeAcked, ""
	case ck.Error:
		return journal.OutcomeNacked, e.Error()
	default:
		return journal.OutcomeNacked, fmt.Sprintf("unexpected delivery event %T", ev)
	}
}
