package db

import (
	"context"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
)

// NewPool connects using DATABASE_URL. Persistence is optional: callers
// that get an empty URL simply run without a recorder.
func NewPool(ctx context.Context) (*pgxpool.Pool, error) {
	url := os.Getenv("DATABASE_URL")
	return pgxpool.New(ctx, url)
}
