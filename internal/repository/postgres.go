// Package repository implements the durable order ledger on PostgreSQL.
package repository

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/sethvargo/go-retry"

	"github.com/Whateverdoa/RESELLER-PDC-SWITCH/internal/model"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrOrderNotFound is returned when no ledger row exists for the external id.
var ErrOrderNotFound = errors.New("order not found")

// PostgresRepository is the ledger backed by PostgreSQL. All mutations are
// guarded by the stored status, so concurrent reconciliation of the same
// external id cannot interleave into a corrupted state.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository creates the ledger and applies schema migrations.
func NewPostgresRepository(dsn string) (*PostgresRepository, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	r := &PostgresRepository{pool: pool}

	if err := r.runMigrations(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return r, nil
}

func (r *PostgresRepository) runMigrations(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(r.pool)
	defer db.Close()

	goose.SetBaseFS(migrationsFS)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}

// withRetry repeats fn on transient database failures with exponential backoff.
func (r *PostgresRepository) withRetry(ctx context.Context, fn func() error) error {
	backoff := retry.WithMaxRetries(3, retry.NewExponential(500*time.Millisecond))

	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := fn()
		if err == nil {
			return nil
		}

		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			if pgErr.Code == pgerrcode.SerializationFailure || pgErr.Code == pgerrcode.DeadlockDetected {
				return retry.RetryableError(err)
			}
			return err
		}

		if isConnectionError(err) {
			return retry.RetryableError(err)
		}

		return err
	})
}

func isConnectionError(err error) bool {
	return strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "broken pipe") ||
		strings.Contains(err.Error(), "connection reset by peer")
}

// Close releases the connection pool.
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

// UpsertOrder records an order item exactly once. A fresh external id is
// inserted with status RECEIVED_FROM_SUPPLIER and reported as created. A
// known external id in a non-terminal state is marked DUPLICATE_SEEN.
func (r *PostgresRepository) UpsertOrder(ctx context.Context, externalID string, payload json.RawMessage) (bool, error) {
	var created bool

	err := r.withRetry(ctx, func() error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		cmdTag, err := tx.Exec(ctx,
			`INSERT INTO orders (external_id, status, payload) VALUES ($1, $2, $3) ON CONFLICT (external_id) DO NOTHING`,
			externalID, string(model.StatusReceivedFromSupplier), payload,
		)
		if err != nil {
			return fmt.Errorf("insert order: %w", err)
		}

		created = cmdTag.RowsAffected() == 1

		if !created {
			var current string
			err = tx.QueryRow(ctx,
				`SELECT status FROM orders WHERE external_id = $1`,
				externalID,
			).Scan(&current)
			if err != nil {
				return fmt.Errorf("select existing order: %w", err)
			}

			if model.CanTransition(model.OrderStatus(current), model.StatusDuplicateSeen) {
				// Guarded by the status just read; a concurrent writer loses the race cleanly.
				_, err = tx.Exec(ctx,
					`UPDATE orders SET status = $2 WHERE external_id = $1 AND status = $3`,
					externalID, string(model.StatusDuplicateSeen), current,
				)
				if err != nil {
					return fmt.Errorf("mark duplicate: %w", err)
				}
			}
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}
		return nil
	})

	return created, err
}

// SetStatus transitions an order to a new status. It fails with
// ErrOrderNotFound for unknown ids and model.ErrIllegalTransition when the
// lifecycle rejects the change.
func (r *PostgresRepository) SetStatus(ctx context.Context, externalID string, newStatus model.OrderStatus) error {
	return r.withRetry(ctx, func() error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		var current string
		err = tx.QueryRow(ctx,
			`SELECT status FROM orders WHERE external_id = $1 FOR UPDATE`,
			externalID,
		).Scan(&current)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return fmt.Errorf("%w: %s", ErrOrderNotFound, externalID)
			}
			return fmt.Errorf("select order: %w", err)
		}

		if err := model.CheckTransition(model.OrderStatus(current), newStatus); err != nil {
			return err
		}

		_, err = tx.Exec(ctx,
			`UPDATE orders SET status = $2 WHERE external_id = $1 AND status = $3`,
			externalID, string(newStatus), current,
		)
		if err != nil {
			return fmt.Errorf("update status: %w", err)
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}
		return nil
	})
}

// ListByStatus returns all orders in the given status, oldest ingestion first.
func (r *PostgresRepository) ListByStatus(ctx context.Context, status model.OrderStatus) ([]model.Order, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT external_id, status, payload, ingested_at
		 FROM orders
		 WHERE status = $1
		 ORDER BY ingested_at`,
		string(status),
	)
	if err != nil {
		return nil, fmt.Errorf("select orders: %w", err)
	}
	defer rows.Close()

	var orders []model.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return orders, nil
}

// GetByExternalID returns a single order or ErrOrderNotFound.
func (r *PostgresRepository) GetByExternalID(ctx context.Context, externalID string) (*model.Order, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT external_id, status, payload, ingested_at FROM orders WHERE external_id = $1`,
		externalID,
	)

	o, err := scanOrder(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrOrderNotFound, externalID)
		}
		return nil, err
	}

	return &o, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (model.Order, error) {
	var (
		externalID string
		status     string
		payload    []byte
		ingestedAt time.Time
	)
	if err := row.Scan(&externalID, &status, &payload, &ingestedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Order{}, err
		}
		return model.Order{}, fmt.Errorf("scan order: %w", err)
	}

	return model.Order{
		ExternalID: externalID,
		Status:     model.OrderStatus(status),
		Payload:    json.RawMessage(payload),
		IngestedAt: ingestedAt,
	}, nil
}
