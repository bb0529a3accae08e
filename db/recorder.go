// Package db layers optional trade persistence on top of the round report.
// The engine itself never touches storage.
package db

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"agora/internal/engine"
)

const createTradesTable = `
CREATE TABLE IF NOT EXISTS trades (
	id          UUID PRIMARY KEY,
	round       INT NOT NULL,
	buyer_id    TEXT NOT NULL,
	seller_id   TEXT NOT NULL,
	quantity    BIGINT NOT NULL,
	price       NUMERIC NOT NULL,
	seq         BIGINT NOT NULL,
	executed_at TIMESTAMPTZ NOT NULL
)`

const insertTrade = `
INSERT INTO trades (id, round, buyer_id, seller_id, quantity, price, seq, executed_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

// Recorder appends executed trades to Postgres. A nil Recorder is valid
// and records nothing.
type Recorder struct {
	pool *pgxpool.Pool
}

func NewRecorder(pool *pgxpool.Pool) *Recorder {
	return &Recorder{pool: pool}
}

// Init creates the trades table if needed.
func (r *Recorder) Init(ctx context.Context) error {
	if r == nil || r.pool == nil {
		return nil
	}
	_, err := r.pool.Exec(ctx, createTradesTable)
	return err
}

// RecordRound persists one round's trades in a single transaction. All
// inserts commit or none do; the in-memory engine state is authoritative
// either way.
func (r *Recorder) RecordRound(ctx context.Context, trades []*engine.Trade) error {
	if r == nil || r.pool == nil || len(trades) == 0 {
		return nil
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, t := range trades {
		id, err := uuidValue(t.ID)
		if err != nil {
			return err
		}
		_, err = tx.Exec(ctx, insertTrade,
			id, t.Round, t.BuyerID, t.SellerID, t.Quantity,
			numericValue(t.Price), t.Seq, t.ExecutedAt)
		if err != nil {
			return fmt.Errorf("insert trade %s: %w", t.ID, err)
		}
	}
	return tx.Commit(ctx)
}

func uuidValue(id string) (pgtype.UUID, error) {
	parsed, err := uuid.Parse(id)
	if err != nil {
		return pgtype.UUID{}, fmt.Errorf("parse trade id: %w", err)
	}
	var out pgtype.UUID
	out.Valid = true
	out.Bytes = parsed
	return out, nil
}

func numericValue(d decimal.Decimal) pgtype.Numeric {
	return pgtype.Numeric{
		Int:   d.Coefficient(),
		Exp:   d.Exponent(),
		Valid: true,
	}
}
