package persister

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"orderflow/internal/model"
	"orderflow/internal/storage"
)

// fakeStore implements storage.HighValueOrderStore for tests.
type fakeStore struct {
	inserts []storage.HighValueOrder
	nextID  int64
	fail    error
}

func (f *fakeStore) InsertHighValueOrder(_ context.Context, rec storage.HighValueOrder) (storage.HighValueOrder, error) {
	if f.fail != nil {
		return storage.HighValueOrder{}, f.fail
	}
	f.nextID++
	rec.ID = f.nextID
	rec.CreatedAt = time.Unix(1700000000, 0).UTC()
	f.inserts = append(f.inserts, rec)
	return rec, nil
}

func enriched(high bool) model.EnrichedOrder {
	return model.EnrichedOrder{
		OrderID:          "O1",
		CustomerID:       "C1",
		Amount:           decimal.NewFromInt(100),
		Currency:         "USD",
		AmountNormalized: decimal.NewFromInt(1600000),
		HighValue:        high,
		ProcessedAt:      time.Unix(1700000000, 0).UTC(),
	}
}

func TestPersistIfHighValue_LowValueNeverWrites(t *testing.T) {
	fs := &fakeStore{}
	p := New(fs, zerolog.Nop())

	for i := 0; i < 5; i++ {
		rec, err := p.PersistIfHighValue(context.Background(), enriched(false))
		if err != nil {
			t.Fatalf("low value persist: %v", err)
		}
		if rec != nil {
			t.Fatalf("low value should return nil record, got %+v", rec)
		}
	}
	if len(fs.inserts) != 0 {
		t.Fatalf("low value calls must not touch storage, got %d writes", len(fs.inserts))
	}
}

func TestPersistIfHighValue_HighValueWritesOneRow(t *testing.T) {
	fs := &fakeStore{}
	p := New(fs, zerolog.Nop())

	rec, err := p.PersistIfHighValue(context.Background(), enriched(true))
	if err != nil {
		t.Fatalf("persist: %v", err)
	}
	if rec == nil || rec.ID != 1 {
		t.Fatalf("expected written record with id=1, got %+v", rec)
	}
	if len(fs.inserts) != 1 {
		t.Fatalf("want exactly one write, got %d", len(fs.inserts))
	}
	got := fs.inserts[0]
	if got.OrderID != "O1" || !got.HighValue || !got.AmountNormalized.Equal(decimal.NewFromInt(1600000)) {
		t.Fatalf("unexpected row: %+v", got)
	}
}

func TestPersistIfHighValue_RepeatedCallsWriteRepeatedRows(t *testing.T) {
	fs := &fakeStore{}
	p := New(fs, zerolog.Nop())

	for i := 0; i < 2; i++ {
		if _, err := p.PersistIfHighValue(context.Background(), enriched(true)); err != nil {
			t.Fatalf("persist %d: %v", i, err)
		}
	}
	// Redelivery is not deduplicated; two rows for one logical order.
	if len(fs.inserts) != 2 {
		t.Fatalf("want 2 rows, got %d", len(fs.inserts))
	}
	if fs.inserts[0].ID == fs.inserts[1].ID {
		t.Fatal("rows must have distinct identifiers")
	}
}

func TestPersistIfHighValue_StorageErrorPropagates(t *testing.T) {
	boom := errors.New("connection reset")
	fs := &fakeStore{fail: boom}
	p := New(fs, zerolog.Nop())

	_, err := p.PersistIfHighValue(context.Background(), enriched(true))
	if err == nil {
		t.Fatal("expected storage error to propagate")
	}
	if !errors.Is(err, boom) {
		t.Fatalf("error chain should carry the storage error, got %v", err)
	}
}
