package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"proximity-service/internal/errs"
	"proximity-service/internal/logging"
	"proximity-service/internal/utils"
)

type DB struct {
	Pool *pgxpool.Pool
}

func New(ctx context.Context, dsn string) (*DB, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}
	return &DB{Pool: pool}, nil
}

// Connect opens the pool and waits for the database to answer, retrying
// while it starts up.
func Connect(ctx context.Context, dsn string, logger *logging.Logger) (*DB, error) {
	d, err := New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	err = utils.Retry(ctx, logger, 5, 2*time.Second, func() error {
		pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		return d.Pool.Ping(pctx)
	})
	if err != nil {
		d.Close()
		return nil, fmt.Errorf("failed to reach database: %w", err)
	}
	return d, nil
}

func (d *DB) Close() {
	d.Pool.Close()
}

// classify tags a query error: no rows is NotFound, deadlines are Timeout.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return errs.Wrap(errs.KindNotFound, op, err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return errs.Wrap(errs.KindTimeout, op, err)
	}
	return errs.Wrap(errs.KindInternal, op, err)
}
