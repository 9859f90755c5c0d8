package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// RawOrder is the inbound order event as accepted by the ingest API and
// carried on the raw orders topic. OrderID is the partition key end to end.
type RawOrder struct {
	OrderID    string          `json:"orderId"`
	CustomerID string          `json:"customerId"`
	Amount     decimal.Decimal `json:"amount"`
	Currency   string          `json:"currency,omitempty"`
}

// EnrichedOrder is the normalized, classified record produced once per
// consumed RawOrder and published to the downstream topic.
type EnrichedOrder struct {
	OrderID          string          `json:"orderId"`
	CustomerID       string          `json:"customerId"`
	Amount           decimal.Decimal `json:"amount"`
	Currency         string          `json:"currency"`
	AmountNormalized decimal.Decimal `json:"amountNormalized"`
	HighValue        bool            `json:"highValue"`
	ProcessedAt      time.Time       `json:"processedAt"`
}

// Ingest statuses returned by the gateway.
const (
	StatusSent    = "SENT"
	StatusPending = "PENDING"
	StatusFailed  = "FAILED"
)

// IngestResult is the response payload for one ingest call.
type IngestResult struct {
	Status string `json:"status"`
	Topic  string `json:"topic"`
	Key    string `json:"key"`
	Detail string `json:"detail,omitempty"`
}
