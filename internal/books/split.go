package books

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/atmx/curve-engine/internal/ledger"
	"github.com/atmx/curve-engine/internal/model"
	"github.com/atmx/curve-engine/internal/store"
)

// Split keeps pools in a store.Store and custody in a ledger.Ledger. The
// ledger batch lands first; if the store commit then fails the batch is
// reversed. Callers serialize mutations of one pool.
type Split struct {
	store  store.Store
	truth  store.Store
	ledger ledger.Ledger
	minter ledger.Minter
}

// NewSplit creates books over st, lg and mt. Pools are read from the
// primary behind any read-through cache.
func NewSplit(st store.Store, lg ledger.Ledger, mt ledger.Minter) *Split {
	return &Split{
		store:  st,
		truth:  store.Uncached(st),
		ledger: lg,
		minter: mt,
	}
}

func (b *Split) Settle(ctx context.Context, asset model.Address, plan Plan) (*Entry, error) {
	pool, err := b.truth.GetPool(ctx, asset)
	if err != nil {
		return nil, err
	}
	entry, err := plan(ctx, *pool, b.ledger)
	if err != nil {
		return nil, err
	}

	mv, err := moves(ctx, b.ledger.CreateCustody, entry.Legs)
	if err != nil {
		return nil, err
	}
	if err := b.ledger.Transfer(ctx, mv...); err != nil {
		return nil, err
	}

	if err := b.store.CommitTrade(ctx, &entry.Pool, &entry.Record); err != nil {
		var undo []ledger.Move
		for i := len(entry.Legs) - 1; i >= 0; i-- {
			if entry.Legs[i].Amount > 0 {
				undo = append(undo, entry.Legs[i].reverse().move())
			}
		}
		// Compensation must run even if the request context is gone.
		if uerr := b.ledger.Transfer(context.WithoutCancel(ctx), undo...); uerr != nil {
			slog.Error("trade compensation failed",
				"trade_id", entry.Record.ID,
				"asset", asset.String(),
				"commit_err", err,
				"err", uerr,
			)
		} else {
			slog.Error("trade commit failed, custody moves reversed",
				"trade_id", entry.Record.ID,
				"asset", asset.String(),
				"err", err,
			)
		}
		return nil, fmt.Errorf("commit trade %s: %w", entry.Record.ID, err)
	}
	return entry, nil
}

func (b *Split) Open(ctx context.Context, pool *model.Pool, supply uint64) error {
	if _, err := b.ledger.CreateCustody(ctx, pool.Address, model.ReserveAsset); err != nil {
		return err
	}
	loc, err := b.ledger.CreateCustody(ctx, pool.Address, pool.Asset)
	if err != nil {
		return err
	}
	if err := b.minter.Mint(ctx, loc, supply); err != nil {
		return err
	}

	if err := b.store.CreatePool(ctx, pool); err != nil {
		if berr := b.minter.Burn(context.WithoutCancel(ctx), loc, supply); berr != nil {
			slog.Error("launch compensation failed",
				"asset", pool.Asset.String(),
				"create_err", err,
				"err", berr,
			)
		} else {
			slog.Error("launch record failed, minted supply burned",
				"asset", pool.Asset.String(),
				"err", err,
			)
		}
		return fmt.Errorf("create pool %s: %w", pool.Asset, err)
	}
	return nil
}
