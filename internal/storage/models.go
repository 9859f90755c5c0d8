package storage

import (
	"time"

	"github.com/shopspring/decimal"
)

// HighValueOrder is the durable projection of an enriched order that crossed
// the high-value threshold. ID is generated by the database at insert time.
// Rows are append-only; redelivery of the same logical order inserts a new
// row because the upstream contract exposes no idempotency key.
type HighValueOrder struct {
	ID               int64
	OrderID          string
	CustomerID       string
	Amount           decimal.Decimal
	Currency         string
	AmountNormalized decimal.Decimal
	HighValue        bool
	ProcessedAt      time.Time
	CreatedAt        time.Time
}
