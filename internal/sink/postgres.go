package sink

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/lib/pq"

	"github.com/yvrxbt/pricing-publisher/internal/schema"
)

const createLatestPrices = `
CREATE TABLE IF NOT EXISTS latest_prices (
	provider    TEXT             NOT NULL,
	base        TEXT             NOT NULL,
	quote       TEXT             NOT NULL,
	price       DOUBLE PRECISION NOT NULL,
	observed_at TIMESTAMPTZ      NOT NULL,
	updated_at  TIMESTAMPTZ      NOT NULL DEFAULT now(),
	PRIMARY KEY (provider, base, quote)
)`

// Stored rows are only replaced by updates that are not older.
const upsertLatestPrice = `
INSERT INTO latest_prices (provider, base, quote, price, observed_at, updated_at)
VALUES ($1, $2, $3, $4, $5, now())
ON CONFLICT (provider, base, quote) DO UPDATE
SET price = EXCLUDED.price, observed_at = EXCLUDED.observed_at, updated_at = now()
WHERE latest_prices.observed_at <= EXCLUDED.observed_at`

const selectLatestPrices = `
SELECT provider, base, quote, price, observed_at
FROM latest_prices
ORDER BY provider, base, quote`

// Postgres keeps the latest price per (provider, pair) in latest_prices.
type Postgres struct {
	db  *sql.DB
	log *slog.Logger
}

// OpenPostgres opens dsn with lib/pq, pings and ensures the schema.
func OpenPostgres(ctx context.Context, dsn string, log *slog.Logger) (*Postgres, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: open postgres: %w", ErrSink, err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: ping postgres: %w", ErrSink, err)
	}

	p := NewPostgres(db, log)
	if err := p.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return p, nil
}

func NewPostgres(db *sql.DB, log *slog.Logger) *Postgres {
	return &Postgres{db: db, log: log.With("component", "sink", "sink", "postgres")}
}

func (p *Postgres) EnsureSchema(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, createLatestPrices); err != nil {
		return fmt.Errorf("%w: create latest_prices: %w", ErrSink, err)
	}
	return nil
}

func (p *Postgres) Publish(ctx context.Context, provider string, pair schema.TradingPair, price float64, observedAt time.Time) error {
	_, err := p.db.ExecContext(ctx, upsertLatestPrice, provider, pair.Base, pair.Quote, price, observedAt.UTC())
	if err != nil {
		p.log.Warn("publish failed", "provider", provider, "pair", pair.String(), "error", err)
		return fmt.Errorf("%w: postgres: %w", ErrSink, err)
	}
	return nil
}

// PriceRow is one stored latest price.
type PriceRow struct {
	Provider   string
	Pair       schema.TradingPair
	Price      float64
	ObservedAt time.Time
}

func (p *Postgres) Latest(ctx context.Context) ([]PriceRow, error) {
	rows, err := p.db.QueryContext(ctx, selectLatestPrices)
	if err != nil {
		return nil, fmt.Errorf("%w: postgres: %w", ErrSink, err)
	}
	defer rows.Close()

	var out []PriceRow
	for rows.Next() {
		var r PriceRow
		if err := rows.Scan(&r.Provider, &r.Pair.Base, &r.Pair.Quote, &r.Price, &r.ObservedAt); err != nil {
			return nil, fmt.Errorf("%w: postgres scan: %w", ErrSink, err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: postgres: %w", ErrSink, err)
	}
	return out, nil
}

func (p *Postgres) Close() error { return p.db.Close() }
