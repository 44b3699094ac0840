package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// TxFunc runs inside a transaction; exec must be passed to repositories so
// their statements join it.
type TxFunc func(ctx context.Context, exec sqlx.ExtContext) error

// Transactor runs functions in READ COMMITTED transactions, retrying once on a
// transient failure.
type Transactor struct {
	db      *sqlx.DB
	retrier *Retrier
}

// NewTransactor builds a transactor over db.
func NewTransactor(db *sqlx.DB, retrier *Retrier) *Transactor {
	if retrier == nil {
		retrier = NewRetrier(0)
	}
	return &Transactor{db: db, retrier: retrier}
}

// WithinTx commits when fn returns nil and rolls back otherwise.
func (t *Transactor) WithinTx(ctx context.Context, fn TxFunc) error {
	return t.retrier.Do(ctx, func(ctx context.Context) error {
		return t.run(ctx, fn)
	})
}

func (t *Transactor) run(ctx context.Context, fn TxFunc) (err error) {
	tx, err := t.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = fn(ctx, tx); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}
