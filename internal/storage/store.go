package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"orderflow/internal/config"
)

// ErrNotConfigured indicates the storage pool was not initialised.
var ErrNotConfigured = errors.New("storage: pool not configured")

const (
	insertHighValueOrderSQL = `INSERT INTO high_value_orders (
        order_id,
        customer_id,
        amount,
        currency,
        amount_normalized,
        high_value,
        processed_at
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7
    )
    RETURNING id, created_at;`

	listRecentHighValueSQL = `SELECT
        id,
        order_id,
        customer_id,
        amount,
        currency,
        amount_normalized,
        high_value,
        processed_at,
        created_at
    FROM high_value_orders
    ORDER BY created_at DESC
    LIMIT $1;`

	countHighValueSQL = `SELECT COUNT(*) FROM high_value_orders;`
)

// HighValueOrderStore defines operations for high-value order persistence.
type HighValueOrderStore interface {
	InsertHighValueOrder(ctx context.Context, rec HighValueOrder) (HighValueOrder, error)
}

// NewPool configures a PostgreSQL connection pool from runtime settings.
func NewPool(ctx context.Context, cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}

	poolConfig, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse database dsn: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		poolConfig.MaxConns = int32(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		poolConfig.MinConns = int32(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		poolConfig.MaxConnLifetime = cfg.ConnMaxLifetime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("create pgx pool: %w", err)
	}

	return pool, nil
}

// Store provides access to the high_value_orders table. Each insert is an
// independent single-row transaction, safe for concurrent stage workers.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// InsertHighValueOrder persists one high-value order row and returns it with
// the generated identifier filled in.
func (s *Store) InsertHighValueOrder(ctx context.Context, rec HighValueOrder) (HighValueOrder, error) {
	pool, err := s.getPool()
	if err != nil {
		return HighValueOrder{}, err
	}

	amount := rec.Amount.String()
	normalized := rec.AmountNormalized.String()

	row := pool.QueryRow(ctx, insertHighValueOrderSQL,
		rec.OrderID,
		rec.CustomerID,
		amount,
		rec.Currency,
		normalized,
		rec.HighValue,
		rec.ProcessedAt,
	)
	if scanErr := row.Scan(&rec.ID, &rec.CreatedAt); scanErr != nil {
		return HighValueOrder{}, fmt.Errorf("insert high value order: %w", scanErr)
	}
	return rec, nil
}

// ListRecentHighValue lists the most recent high-value rows.
func (s *Store) ListRecentHighValue(ctx context.Context, limit int) ([]HighValueOrder, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentHighValueSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent high value orders: %w", queryErr)
	}
	defer rows.Close()

	records := make([]HighValueOrder, 0, limit)
	for rows.Next() {
		rec, scanErr := scanHighValueOrder(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		records = append(records, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return records, nil
}

// CountHighValue counts stored high-value rows.
func (s *Store) CountHighValue(ctx context.Context) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	var count int64
	if scanErr := pool.QueryRow(ctx, countHighValueSQL).Scan(&count); scanErr != nil {
		return 0, fmt.Errorf("count high value orders: %w", scanErr)
	}
	return count, nil
}

func scanHighValueOrder(rows pgx.Rows) (HighValueOrder, error) {
	var (
		rec           HighValueOrder
		amountStr     string
		normalizedStr string
		processedAt   time.Time
	)

	if err := rows.Scan(
		&rec.ID,
		&rec.OrderID,
		&rec.CustomerID,
		&amountStr,
		&rec.Currency,
		&normalizedStr,
		&rec.HighValue,
		&processedAt,
		&rec.CreatedAt,
	); err != nil {
		return HighValueOrder{}, err
	}

	amount, err := decimal.NewFromString(amountStr)
	if err != nil {
		return HighValueOrder{}, fmt.Errorf("parse amount: %w", err)
	}
	normalized, err := decimal.NewFromString(normalizedStr)
	if err != nil {
		return HighValueOrder{}, fmt.Errorf("parse amount normalized: %w", err)
	}

	rec.Amount = amount
	rec.AmountNormalized = normalized
	rec.ProcessedAt = processedAt
	return rec, nil
}
