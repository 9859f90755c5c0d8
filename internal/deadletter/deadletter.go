package deadletter

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/segmentio/kafka-go"
)

// Entry captures a record that exhausted its processing attempts, together
// with the reason, so it can be inspected or replayed out of band.
type Entry struct {
	Topic    string `json:"topic"`
	Key      string `json:"key"`
	Payload  []byte `json:"payload"`
	Reason   string `json:"reason"`
	Attempts int    `json:"attempts"`
	TS       int64  `json:"ts"`
}

type Sink interface {
	Write(ctx context.Context, e Entry) error
}

// MultiSink fans out writes to multiple underlying sinks.
type MultiSink struct {
	sinks []Sink
}

func NewMultiSink(ss ...Sink) *MultiSink {
	return &MultiSink{sinks: ss}
}

func (m *MultiSink) Write(ctx context.Context, e Entry) error {
	for _, s := range m.sinks {
		if err := s.Write(ctx, e); err != nil {
			return err
		}
	}
	return nil
}

// FileSink appends dead-lettered records to a jsonl file.
type FileSink struct {
	path string
}

func NewFileSink(dir string, filename string) (*FileSink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("mkdir: %w", err)
	}
	return &FileSink{path: filepath.Join(dir, filename)}, nil
}

func (s *FileSink) Write(_ context.Context, e Entry) error {
	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open: %w", err)
	}
	defer f.Close()
	enc := json.NewEncoder(f)
	if err := enc.Encode(&e); err != nil {
		return fmt.Errorf("encode: %w", err)
	}
	return nil
}

// KafkaSink publishes dead-lettered records to a Kafka topic. Pure-Go client
// (segmentio/kafka-go).
type KafkaSink struct {
	writer kafkaMessageWriter
}

// kafkaMessageWriter abstracts kafka.Writer for testability.
type kafkaMessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// NewKafkaSink creates a Kafka dead-letter sink.
// bootstrap can be a comma-separated list of host:port.
func NewKafkaSink(bootstrap string, topic string) *KafkaSink {
	addrs := strings.Split(bootstrap, ",")
	var brokers []string
	for _, a := range addrs {
		a = strings.TrimSpace(a)
		if a != "" {
			brokers = append(brokers, a)
		}
	}
	return &KafkaSink{writer: &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		Async:        false,
	}}
}

func (s *KafkaSink) Write(ctx context.Context, e Entry) error {
	b, err := json.Marshal(&e)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	return s.writer.WriteMessages(ctx, kafka.Message{Key: []byte(e.Key), Value: b})
}

// NewKafkaSinkWith is only for tests to inject a fake writer.
func NewKafkaSinkWith(w kafkaMessageWriter) *KafkaSink {
	return &KafkaSink{writer: w}
}
