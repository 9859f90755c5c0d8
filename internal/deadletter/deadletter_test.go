package deadletter

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/segmentio/kafka-go"
)

func TestFileSink_Write(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileSink(dir, "orders.jsonl")
	if err != nil {
		t.Fatalf("NewFileSink: %v", err)
	}

	e1 := Entry{Topic: "orders.raw", Key: "O1", Payload: []byte(`{"orderId":"O1"}`), Reason: "decode order", Attempts: 1, TS: 1}
	e2 := Entry{Topic: "orders.raw", Key: "O2", Payload: []byte(`{"orderId":"O2"}`), Reason: "insert failed", Attempts: 3, TS: 2}
	if err := s.Write(context.Background(), e1); err != nil {
		t.Fatalf("write1: %v", err)
	}
	if err := s.Write(context.Background(), e2); err != nil {
		t.Fatalf("write2: %v", err)
	}

	f, err := os.Open(filepath.Join(dir, "orders.jsonl"))
	if err != nil {
		t.Fatalf("open file: %v", err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	var got []Entry
	for sc.Scan() {
		var e Entry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		got = append(got, e)
	}
	if err := sc.Err(); err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("want 2 lines, got %d", len(got))
	}
	if got[0].Key != "O1" || got[1].Key != "O2" || got[1].Attempts != 3 {
		t.Fatalf("mismatch: %+v", got)
	}
}

// fakeKafkaWriter implements kafkaMessageWriter for tests
type fakeKafkaWriter struct {
	msgs []kafka.Message
	fail bool
}

func (f *fakeKafkaWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	if f.fail {
		return errors.New("fail")
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func TestKafkaSink_Write_Success(t *testing.T) {
	fk := &fakeKafkaWriter{}
	s := NewKafkaSinkWith(fk)
	e := Entry{Topic: "orders.raw", Key: "O1", Reason: "decode order", Attempts: 1, TS: 1}
	if err := s.Write(context.Background(), e); err != nil {
		t.Fatalf("write: %v", err)
	}
	if len(fk.msgs) != 1 {
		t.Fatalf("want 1 msg, got %d", len(fk.msgs))
	}
	if string(fk.msgs[0].Key) != e.Key {
		t.Fatalf("bad key: %s", string(fk.msgs[0].Key))
	}
}

func TestKafkaSink_Write_Fail(t *testing.T) {
	fk := &fakeKafkaWriter{fail: true}
	s := NewKafkaSinkWith(fk)
	if err := s.Write(context.Background(), Entry{Key: "O1"}); err == nil {
		t.Fatalf("expected error")
	}
}

func TestMultiSink_FansOut(t *testing.T) {
	fk1 := &fakeKafkaWriter{}
	fk2 := &fakeKafkaWriter{}
	m := NewMultiSink(NewKafkaSinkWith(fk1), NewKafkaSinkWith(fk2))
	if err := m.Write(context.Background(), Entry{Key: "O1"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if len(fk1.msgs) != 1 || len(fk2.msgs) != 1 {
		t.Fatalf("both sinks should receive the entry: %d %d", len(fk1.msgs), len(fk2.msgs))
	}
}
