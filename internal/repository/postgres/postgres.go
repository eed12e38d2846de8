package postgres

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/configmat/configmat/internal/repository"
)

// DBTX is the subset of pgx execution methods shared by pools and
// transactions, so the same query code serves both.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Repository implements persistence interfaces on PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
	queries
}

// New constructs a Repository.
func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool, queries: queries{db: pool}}
}

// queries holds every statement; db is either the pool or an open
// transaction.
type queries struct {
	db DBTX
}

// ensure Repository satisfies interfaces.
var (
	_ repository.AssetRepository   = (*Repository)(nil)
	_ repository.ValueRepository   = (*Repository)(nil)
	_ repository.VersionRepository = (*Repository)(nil)
	_ repository.AuditRepository   = (*Repository)(nil)
	_ repository.EngineStore       = (*Repository)(nil)
	_ repository.EngineTx          = (*queries)(nil)
)

// InTx runs fn inside a single transaction; any error rolls the whole
// transaction back. Promotion and rollback run through here so partial
// work is never observable.
func (r *Repository) InTx(ctx context.Context, fn func(tx repository.EngineTx) error) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := fn(&queries{db: tx}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// mapError translates pgx errors into repository sentinels.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return repository.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23503":
			return repository.ErrNotFound
		case "23505", "23514", "22P02":
			return repository.ErrInvalidArgument
		case "P0001":
			// Raised by the WORM triggers on audit entries and versions.
			if strings.Contains(pgErr.Message, "immutable") {
				return repository.ErrImmutable
			}
		}
	}
	return err
}
