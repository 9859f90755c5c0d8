package gateway

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	ck "github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"orderflow/internal/journal"
	"orderflow/internal/metrics"
	"orderflow/internal/model"
)

// fakeProducer implements the producer interface. If event is set it is
// delivered immediately; otherwise the delivery channel is captured so the
// test can deliver late.
type fakeProducer struct {
	produceErr error
	event      ck.Event

	mu       sync.Mutex
	lastChan chan ck.Event
	lastMsg  *ck.Message
}

func (f *fakeProducer) Produce(msg *ck.Message, deliveryChan chan ck.Event) error {
	if f.produceErr != nil {
		return f.produceErr
	}
	f.mu.Lock()
	f.lastChan = deliveryChan
	f.lastMsg = msg
	f.mu.Unlock()
	if f.event != nil {
		deliveryChan <- f.event
	}
	return nil
}

func (f *fakeProducer) deliverLate(ev ck.Event) {
	f.mu.Lock()
	ch := f.lastChan
	f.mu.Unlock()
	ch <- ev
}

type resolution struct {
	seq     uint64
	outcome string
	detail  string
	late    bool
}

// fakeJournal records submissions and signals resolutions.
type fakeJournal struct {
	mu        sync.Mutex
	nextSeq   uint64
	submitted []string
	resolved  chan resolution
}

func newFakeJournal() *fakeJournal {
	return &fakeJournal{resolved: make(chan resolution, 4)}
}

func (f *fakeJournal) Submitted(orderID, topic string, submittedAt int64) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextSeq++
	f.submitted = append(f.submitted, orderID)
	return f.nextSeq, nil
}

func (f *fakeJournal) Resolve(seq uint64, outcome, detail string, late bool, resolvedAt int64) error {
	f.resolved <- resolution{seq: seq, outcome: outcome, detail: detail, late: late}
	return nil
}

func ackEvent(topic string) ck.Event {
	return &ck.Message{TopicPartition: ck.TopicPartition{Topic: &topic, Partition: 0}}
}

func nackEvent(topic string) ck.Event {
	return &ck.Message{TopicPartition: ck.TopicPartition{
		Topic:     &topic,
		Partition: 0,
		Error:     ck.NewError(ck.ErrMsgTimedOut, "broker rejected", false),
	}}
}

func testOrder() model.RawOrder {
	return model.RawOrder{OrderID: "O1", CustomerID: "C1", Amount: decimal.NewFromInt(100), Currency: "USD"}
}

func newGateway(p *fakeProducer, jrnl *fakeJournal, timeout time.Duration) *Gateway {
	return New(p, "orders.raw", timeout, jrnl, metrics.NewRegistry(), zerolog.Nop())
}

func TestIngest_AckInTimeReturnsSent(t *testing.T) {
	p := &fakeProducer{event: ackEvent("orders.raw")}
	jrnl := newFakeJournal()
	g := newGateway(p, jrnl, time.Second)

	res := g.Ingest(context.Background(), testOrder())
	if res.Status != model.StatusSent {
		t.Fatalf("want SENT, got %s (%s)", res.Status, res.Detail)
	}
	if res.Topic != "orders.raw" || res.Key != "O1" {
		t.Fatalf("topic/key not populated: %+v", res)
	}
	if string(p.lastMsg.Key) != "O1" {
		t.Fatalf("message must be keyed by orderId, got %q", p.lastMsg.Key)
	}

	r := <-jrnl.resolved
	if r.outcome != journal.OutcomeAcked || r.late {
		t.Fatalf("unexpected resolution: %+v", r)
	}
}

func TestIngest_NackReturnsFailedWithReason(t *testing.T) {
	p := &fakeProducer{event: nackEvent("orders.raw")}
	g := newGateway(p, newFakeJournal(), time.Second)

	res := g.Ingest(context.Background(), testOrder())
	if res.Status != model.StatusFailed {
		t.Fatalf("want FAILED, got %s", res.Status)
	}
	if res.Detail == "" {
		t.Fatal("FAILED must carry the rejection reason")
	}
}

func TestIngest_SubmitErrorFailsWithoutWaiting(t *testing.T) {
	p := &fakeProducer{produceErr: errors.New("broker unreachable")}
	g := newGateway(p, newFakeJournal(), 3*time.Second)

	start := time.Now()
	res := g.Ingest(context.Background(), testOrder())
	elapsed := time.Since(start)

	if res.Status != model.StatusFailed {
		t.Fatalf("want FAILED, got %s", res.Status)
	}
	if res.Detail == "" {
		t.Fatal("FAILED must carry a detail")
	}
	if elapsed > time.Second {
		t.Fatalf("synchronous failure must not wait out the deadline, took %s", elapsed)
	}
}

func TestIngest_TimeoutReturnsPendingAndLateAckIsObserved(t *testing.T) {
	p := &fakeProducer{}
	jrnl := newFakeJournal()
	g := newGateway(p, jrnl, 20*time.Millisecond)

	res := g.Ingest(context.Background(), testOrder())
	if res.Status != model.StatusPending {
		t.Fatalf("want PENDING, got %s", res.Status)
	}
	if !strings.Contains(res.Detail, "ack not received") {
		t.Fatalf("unexpected detail: %q", res.Detail)
	}
	if res.Topic != "orders.raw" || res.Key != "O1" {
		t.Fatalf("topic/key not populated: %+v", res)
	}

	// The delivery report lands after the response was returned; it must be
	// drained and journalled as late without any further effect.
	p.deliverLate(ackEvent("orders.raw"))
	select {
	case r := <-jrnl.resolved:
		if r.outcome != journal.OutcomeAcked || !r.late {
			t.Fatalf("late ack not recorded as late: %+v", r)
		}
	case <-time.After(time.Second):
		t.Fatal("late delivery report was never observed")
	}
}

func TestIngest_CancelledContextReturnsPending(t *testing.T) {
	p := &fakeProducer{}
	jrnl := newFakeJournal()
	g := newGateway(p, jrnl, time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	res := g.Ingest(ctx, testOrder())
	if res.Status != model.StatusPending {
		t.Fatalf("want PENDING on abandoned wait, got %s", res.Status)
	}

	p.deliverLate(nackEvent("orders.raw"))
	select {
	case r := <-jrnl.resolved:
		if r.outcome != journal.OutcomeNacked || !r.late {
			t.Fatalf("late nack not recorded: %+v", r)
		}
	case <-time.After(time.Second):
		t.Fatal("late delivery report was never observed")
	}
}

func TestIngest_NilJournalIsSafe(t *testing.T) {
	p := &fakeProducer{event: ackEvent("orders.raw")}
	g := New(p, "orders.raw", time.Second, nil, metrics.NewRegistry(), zerolog.Nop())

	res := g.Ingest(context.Background(), testOrder())
	if res.Status != model.StatusSent {
		t.Fatalf("want SENT, got %s", res.Status)
	}
}
