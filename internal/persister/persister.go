package persister

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"orderflow/internal/model"
	"orderflow/internal/storage"
)

// Persister writes high-value enriched orders to durable storage. Low-value
// orders never touch storage. Invoking it twice for the same logical order
// writes two rows; at-least-once redelivery upstream makes that possible and
// no idempotency key exists to dedupe on.
type Persister struct {
	store  storage.HighValueOrderStore
	logger zerolog.Logger
}

// New constructs a Persister over the given store.
func New(store storage.HighValueOrderStore, logger zerolog.Logger) *Persister {
	return &Persister{
		store:  store,
		logger: logger.With().Str("component", "persister").Logger(),
	}
}

// PersistIfHighValue inserts one row for a high-value order and returns the
// written record. It returns (nil, nil) for low-value orders. Storage errors
// propagate to the caller; the stage decides retry or dead-letter.
func (p *Persister) PersistIfHighValue(ctx context.Context, enriched model.EnrichedOrder) (*storage.HighValueOrder, error) {
	if !enriched.HighValue {
		p.logger.Debug().
			Str("order_id", enriched.OrderID).
			Str("amount_normalized", enriched.AmountNormalized.String()).
			Msg("skip persist, not high value")
		return nil, nil
	}

	rec := storage.HighValueOrder{
		OrderID:          enriched.OrderID,
		CustomerID:       enriched.CustomerID,
		Amount:           enriched.Amount,
		Currency:         enriched.Currency,
		AmountNormalized: enriched.AmountNormalized,
		HighValue:        true,
		ProcessedAt:      enriched.ProcessedAt,
	}
	written, err := p.store.InsertHighValueOrder(ctx, rec)
	if err != nil {
		return nil, fmt.Errorf("persist high value order %s: %w", enriched.OrderID, err)
	}

	p.logger.Info().
		Str("order_id", written.OrderID).
		Int64("id", written.ID).
		Str("amount_normalized", written.AmountNormalized.String()).
		Msg("persisted high value order")
	return &written, nil
}
