package enrich

import (
	"time"

	"github.com/shopspring/decimal"

	"orderflow/internal/model"
	"orderflow/internal/rates"
)

// Now returns the transform timestamp. Split for testability.
var Now = func() time.Time { return time.Now().UTC() }

// Transform normalizes the order's currency, converts the amount into the
// base currency and classifies the result against threshold. The comparison
// is inclusive: amountNormalized == threshold counts as high value.
// Pure with respect to its inputs except for the timestamp.
func Transform(order model.RawOrder, table rates.Table, threshold decimal.Decimal) model.EnrichedOrder {
	currency, rate := table.Resolve(order.Currency)
	normalized := order.Amount.Mul(rate)
	return model.EnrichedOrder{
		OrderID:          order.OrderID,
		CustomerID:       order.CustomerID,
		Amount:           order.Amount,
		Currency:         currency,
		AmountNormalized: normalized,
		HighValue:        normalized.GreaterThanOrEqual(threshold),
		ProcessedAt:      Now(),
	}
}
