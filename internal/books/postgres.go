package books

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/atmx/curve-engine/internal/ledger"
	"github.com/atmx/curve-engine/internal/model"
	"github.com/atmx/curve-engine/internal/store"
)

// Postgres runs each unit in one transaction over the pools, trade_records
// and custody tables. The pool row is read FOR UPDATE, so concurrent
// mutations of one pool queue on the database even across processes.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres creates transactional books on pool.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

func (b *Postgres) Settle(ctx context.Context, asset model.Address, plan Plan) (*Entry, error) {
	var entry *Entry
	err := pgx.BeginFunc(ctx, b.pool, func(tx pgx.Tx) error {
		pool, err := store.LockPoolTx(ctx, tx, asset)
		if err != nil {
			return err
		}
		e, err := plan(ctx, *pool, txBalances{tx})
		if err != nil {
			return err
		}

		mv, err := moves(ctx, func(ctx context.Context, owner, asset model.Address) (model.Address, error) {
			return ledger.CreateCustodyTx(ctx, tx, owner, asset)
		}, e.Legs)
		if err != nil {
			return err
		}
		if err := ledger.TransferTx(ctx, tx, mv...); err != nil {
			return err
		}
		if err := store.CommitTradeTx(ctx, tx, &e.Pool, &e.Record); err != nil {
			return err
		}
		entry = e
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

func (b *Postgres) Open(ctx context.Context, pool *model.Pool, supply uint64) error {
	return pgx.BeginFunc(ctx, b.pool, func(tx pgx.Tx) error {
		if _, err := ledger.CreateCustodyTx(ctx, tx, pool.Address, model.ReserveAsset); err != nil {
			return err
		}
		loc, err := ledger.CreateCustodyTx(ctx, tx, pool.Address, pool.Asset)
		if err != nil {
			return err
		}
		if err := ledger.MintTx(ctx, tx, loc, supply); err != nil {
			return err
		}
		return store.CreatePoolTx(ctx, tx, pool)
	})
}

type txBalances struct {
	tx pgx.Tx
}

func (b txBalances) Balance(ctx context.Context, location model.Address) (uint64, error) {
	return ledger.BalanceTx(ctx, b.tx, location)
}
