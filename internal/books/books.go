// Package books applies pool mutations as one unit: the pool read, the
// custody moves and the state commit of a trade either all take effect or
// none do.
//
// Split pairs any store.Store with any ledger.Ledger and compensates in
// process. Postgres runs the whole unit in one database transaction with
// the pool row locked, which also serializes replicas.
package books

import (
	"context"

	"github.com/atmx/curve-engine/internal/ledger"
	"github.com/atmx/curve-engine/internal/model"
)

// Leg moves Amount of Asset from the custody of From to the custody of To.
// From authorizes it.
type Leg struct {
	From   model.Address
	To     model.Address
	Asset  model.Address
	Amount uint64
}

func (l Leg) move() ledger.Move {
	return ledger.Move{
		From:      model.CustodyAddress(l.From, l.Asset),
		To:        model.CustodyAddress(l.To, l.Asset),
		Amount:    l.Amount,
		Authority: ledger.Delegate(l.From),
	}
}

func (l Leg) reverse() Leg {
	return Leg{From: l.To, To: l.From, Asset: l.Asset, Amount: l.Amount}
}

// Entry is what one mutation writes: custody legs, the new pool state and
// the record.
type Entry struct {
	Legs   []Leg
	Pool   model.Pool
	Record model.TradeRecord
}

// Balances reads custody balances as seen by the unit.
type Balances interface {
	Balance(ctx context.Context, location model.Address) (uint64, error)
}

// Plan computes the entry for a pool snapshot. It must not have side
// effects; an error aborts the unit before anything is written.
type Plan func(ctx context.Context, pool model.Pool, bal Balances) (*Entry, error)

// Books is the atomic write path for pools.
type Books interface {
	// Settle loads the pool of asset, runs plan on it and applies the
	// returned entry.
	Settle(ctx context.Context, asset model.Address, plan Plan) (*Entry, error)

	// Open creates the pool's custodies, mints supply into its asset
	// custody and persists the pool. A failure leaves no minted units.
	Open(ctx context.Context, pool *model.Pool, supply uint64) error
}

// moves creates both ends of every non-zero leg and returns the moves.
func moves(ctx context.Context, create func(ctx context.Context, owner, asset model.Address) (model.Address, error), legs []Leg) ([]ledger.Move, error) {
	var out []ledger.Move
	for _, l := range legs {
		if l.Amount == 0 {
			continue
		}
		if _, err := create(ctx, l.From, l.Asset); err != nil {
			return nil, err
		}
		if _, err := create(ctx, l.To, l.Asset); err != nil {
			return nil, err
		}
		out = append(out, l.move())
	}
	return out, nil
}
