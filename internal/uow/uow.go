// Package uow implements the transactional Unit of Work pattern: the
// use-cases' transactional write paths run through Do, which guarantees
// that the writes inside one call (such as a domain write and its
// outbox row) commit (or roll back) together. The outbox publisher and
// the processor's startup sweep write outside it, through their own
// short transaction or single statements.
package uow

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/baechuer/asyncorder/internal/apperr"
)

// UnitOfWork runs fn against a repository bundle of type T bound to a
// single transaction, committing on success and rolling back on error
// or panic. newRepo constructs the bundle from the open pgx.Tx, so
// every repository method issued inside fn participates in the same
// transaction.
type UnitOfWork[T any] struct {
	pool    *pgxpool.Pool
	newRepo func(pgx.Tx) T
}

func New[T any](pool *pgxpool.Pool, newRepo func(pgx.Tx) T) *UnitOfWork[T] {
	return &UnitOfWork[T]{pool: pool, newRepo: newRepo}
}

func (u *UnitOfWork[T]) Do(ctx context.Context, fn func(T) error) error {
	tx, err := u.pool.Begin(ctx)
	if err != nil {
		return apperr.Wrap(apperr.KindUnitOfWork, "begin transaction", err, nil)
	}

	repo := u.newRepo(tx)

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(ctx)
			panic(p)
		}
	}()

	if err := fn(repo); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return apperr.Wrap(apperr.KindUnitOfWork, "commit transaction", err, nil)
	}
	return nil
}
