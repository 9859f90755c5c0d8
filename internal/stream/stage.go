package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	ck "github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"orderflow/internal/deadletter"
	"orderflow/internal/enrich"
	"orderflow/internal/metrics"
	"orderflow/internal/model"
	"orderflow/internal/rates"
	"orderflow/internal/storage"
)

// consumer abstracts ck.Consumer for testability.
type consumer interface {
	ReadMessage(timeout time.Duration) (*ck.Message, error)
	CommitMessage(m *ck.Message) ([]ck.TopicPartition, error)
}

// producer abstracts ck.Producer for testability.
type producer interface {
	Produce(msg *ck.Message, deliveryChan chan ck.Event) error
}

// persister is the conditional persistence step.
type persister interface {
	PersistIfHighValue(ctx context.Context, enriched model.EnrichedOrder) (*storage.HighValueOrder, error)
}

// Options configure a Stage.
type Options struct {
	TopicOut    string
	MaxAttempts int
	PollTimeout time.Duration
	Threshold   decimal.Decimal
}

// Stage is the long-running per-record pipeline: decode, transform,
// conditionally persist, publish downstream keyed by orderId, then commit the
// input offset. Input and output share the orderId key so relative order per
// order is preserved within a partition.
//
// Failures are isolated per record: after MaxAttempts the record goes to the
// dead-letter sink and the offset is committed, so one poisoned record never
// stalls the partition.
type Stage struct {
	consumer  consumer
	producer  producer
	persister persister
	dlq       deadletter.Sink
	table     rates.Table
	opts      Options
	metrics   *metrics.Registry
	logger    zerolog.Logger
}

// NewConsumer builds a confluent consumer subscribed to topicIn with manual
// offset commits.
func NewConsumer(bootstrap, groupID, topicIn string) (*ck.Consumer, error) {
	c, err := ck.NewConsumer(&ck.ConfigMap{
		"bootstrap.servers":  bootstrap,
		"group.id":           groupID,
		"enable.auto.commit": false,
		"isolation.level":    "read_committed",
		"auto.offset.reset":  "earliest",
	})
	if err != nil {
		return nil, fmt.Errorf("consumer: %w", err)
	}
	if err := c.SubscribeTopics([]string{topicIn}, nil); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("subscribe: %w", err)
	}
	return c, nil
}

// NewProducer builds the downstream producer.
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

// New constructs a Stage.
func New(c consumer, p producer, pers persister, dlq deadletter.Sink, table rates.Table, opts Options, reg *metrics.Registry, logger zerolog.Logger) *Stage {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.PollTimeout <= 0 {
		opts.PollTimeout = 5 * time.Second
	}
	return &Stage{
		consumer:  c,
		producer:  p,
		persister: pers,
		dlq:       dlq,
		table:     table,
		opts:      opts,
		metrics:   reg,
		logger:    logger.With().Str("component", "stage").Logger(),
	}
}

// Run consumes until ctx is cancelled.
func (s *Stage) Run(ctx context.Context) error {
	s.logger.Info().Str("topic_out", s.opts.TopicOut).Int("max_attempts", s.opts.MaxAttempts).Msg("stage started")
	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("stage stopped")
			return ctx.Err()
		default:
		}

		msg, err := s.consumer.ReadMessage(s.opts.PollTimeout)
		if err != nil {
			// Poll timeouts are routine; anything else is logged and retried.
			if kerr, ok := err.(ck.Error); ok && kerr.IsTimeout() {
				continue
			}
			s.logger.Error().Err(err).Msg("read message failed")
			continue
		}
		s.metrics.RecordsConsumed.Inc()
		s.handle(ctx, msg)
	}
}

// handle processes one record to completion: either the enriched order was
// published and the offset committed, or the record was dead-lettered and the
// offset committed. It never returns an error to the loop.
func (s *Stage) handle(ctx context.Context, msg *ck.Message) {
	start := time.Now()

	var order model.RawOrder
	if err := json.Unmarshal(msg.Value, &order); err != nil {
		// Malformed input cannot succeed on retry.
		s.deadLetter(ctx, msg, fmt.Sprintf("decode order: %v", err), 1)
		s.commit(msg)
		return
	}
	if order.Amount.IsNegative() {
		s.deadLetter(ctx, msg, "negative amount", 1)
		s.commit(msg)
		return
	}

	s.logger.Info().
		Str("order_id", order.OrderID).
		Str("amount", order.Amount.String()).
		Str("currency", order.Currency).
		Msg("consuming order")

	enriched := enrich.Transform(order, s.table, s.opts.Threshold)
	s.metrics.RecordsEnriched.Inc()

	var lastErr error
	for attempt := 1; attempt <= s.opts.MaxAttempts; attempt++ {
		if lastErr = s.process(ctx, enriched); lastErr == nil {
			s.commit(msg)
			s.metrics.ProcessLatencySec.Observe(time.Since(start).Seconds())
			return
		}
		if ctx.Err() != nil {
			return
		}
		s.logger.Warn().
			Err(lastErr).
			Str("order_id", order.OrderID).
			Int("attempt", attempt).
			Msg("processing failed")
		if attempt < s.opts.MaxAttempts {
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Duration(attempt) * 100 * time.Millisecond):
			}
		}
	}

	s.deadLetter(ctx, msg, lastErr.Error(), s.opts.MaxAttempts)
	s.commit(msg)
}

// process persists (when high value) and publishes the enriched order, then
// waits for the downstream delivery report so the input offset is only
// committed once the output is durably queued.
func (s *Stage) process(ctx context.Context, enriched model.EnrichedOrder) error {
	if _, err := s.persister.PersistIfHighValue(ctx, enriched); err != nil {
		return err
	}
	if enriched.HighValue {
		s.metrics.RecordsPersisted.Inc()
	}

	payload, err := json.Marshal(&enriched)
	if err != nil {
		return fmt.Errorf("encode enriched order: %w", err)
	}

	deliveryChan := make(chan ck.Event, 1)
	topic := s.opts.TopicOut
	out := &ck.Message{
		TopicPartition: ck.TopicPartition{Topic: &topic, Partition: ck.PartitionAny},
		Key:            []byte(enriched.OrderID),
		Value:          payload,
	}
	if err := s.producer.Produce(out, deliveryChan); err != nil {
		return fmt.Errorf("produce enriched order: %w", err)
	}

	select {
	case ev := <-deliveryChan:
		switch e := ev.(type) {
		case *ck.Message:
			if e.TopicPartition.Error != nil {
				return fmt.Errorf("downstream delivery: %w", e.TopicPartition.Error)
			}
		case ck.Error:
			return fmt.Errorf("downstream delivery: %w", e)
		}
	case <-ctx.Done():
		return ctx.Err()
	}

	s.logger.Info().
		Str("order_id", enriched.OrderID).
		Bool("high_value", enriched.HighValue).
		Str("amount_normalized", enriched.AmountNormalized.String()).
		Msg("produced enriched order")
	return nil
}

func (s *Stage) deadLetter(ctx context.Context, msg *ck.Message, reason string, attempts int) {
	s.metrics.RecordsDeadLettered.Inc()
	topic := ""
	if msg.TopicPartition.Topic != nil {
		topic = *msg.TopicPartition.Topic
	}
	e := deadletter.Entry{
		Topic:    topic,
		Key:      string(msg.Key),
		Payload:  msg.Value,
		Reason:   reason,
		Attempts: attempts,
		TS:       time.Now().UTC().Unix(),
	}
	if err := s.dlq.Write(ctx, e); err != nil {
		// Never halt the stage; the record and reason stay in the log.
		s.logger.Error().
			Err(err).
			Str("key", e.Key).
			Str("reason", reason).
			Msg("dead letter write failed")
		return
	}
	s.logger.Warn().Str("key", e.Key).Str("reason", reason).Int("attempts", attempts).Msg("record dead lettered")
}

func (s *Stage) commit(msg *ck.Message) {
	if _, err := s.consumer.CommitMessage(msg); err != nil {
		s.logger.Error().Err(err).Msg("commit offset failed")
	}
}
