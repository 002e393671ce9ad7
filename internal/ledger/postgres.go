package ledger

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	smath "github.com/ava-labs/avalanchego/utils/math"
	"github.com/gagliardetto/solana-go"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/atmx/curve-engine/internal/model"
)

// Postgres implements Ledger and Minter on the custody table. Each call
// runs in its own transaction with the touched rows locked FOR UPDATE. The
// *Tx functions run the same statements inside a caller's transaction so
// custody moves can commit together with other writes.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres creates a PostgreSQL-backed ledger.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

// Querier is satisfied by *pgxpool.Pool and pgx.Tx.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func (l *Postgres) CreateCustody(ctx context.Context, owner, asset model.Address) (model.Address, error) {
	return CreateCustodyTx(ctx, l.pool, owner, asset)
}

func (l *Postgres) Balance(ctx context.Context, location model.Address) (uint64, error) {
	return BalanceTx(ctx, l.pool, location)
}

func (l *Postgres) Transfer(ctx context.Context, moves ...Move) error {
	return pgx.BeginFunc(ctx, l.pool, func(tx pgx.Tx) error {
		return TransferTx(ctx, tx, moves...)
	})
}

func (l *Postgres) Mint(ctx context.Context, to model.Address, amount uint64) error {
	return pgx.BeginFunc(ctx, l.pool, func(tx pgx.Tx) error {
		return MintTx(ctx, tx, to, amount)
	})
}

func (l *Postgres) Burn(ctx context.Context, from model.Address, amount uint64) error {
	return pgx.BeginFunc(ctx, l.pool, func(tx pgx.Tx) error {
		c, err := lockCustody(ctx, tx, from)
		if err != nil {
			return err
		}
		nbal, err := smath.Sub(c.Balance, amount)
		if err != nil {
			return &BalanceError{Asset: c.Asset, Location: from, Balance: c.Balance, Amount: amount}
		}
		return setCustodyBalance(ctx, tx, from, nbal)
	})
}

// CreateCustodyTx creates the location of owner for asset if absent.
func CreateCustodyTx(ctx context.Context, q Querier, owner, asset model.Address) (model.Address, error) {
	addr := model.CustodyAddress(owner, asset)
	_, err := q.Exec(ctx,
		`INSERT INTO custody (address, owner, asset, balance)
		 VALUES ($1, $2, $3, 0)
		 ON CONFLICT (address) DO NOTHING`,
		addr.String(), owner.String(), asset.String(),
	)
	if err != nil {
		return model.Address{}, fmt.Errorf("create custody %s: %w", addr, err)
	}
	return addr, nil
}

// BalanceTx reads the balance at a location.
func BalanceTx(ctx context.Context, q Querier, location model.Address) (uint64, error) {
	var bal string
	err := q.QueryRow(ctx,
		`SELECT balance::TEXT FROM custody WHERE address = $1`, location.String()).
		Scan(&bal)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("%w: %s", ErrUnknownCustody, location)
	}
	if err != nil {
		return 0, err
	}
	return strconv.ParseUint(bal, 10, 64)
}

// TransferTx applies moves inside tx. Any error leaves tx to be rolled back.
func TransferTx(ctx context.Context, tx pgx.Tx, moves ...Move) error {
	for _, mv := range moves {
		src, err := lockCustody(ctx, tx, mv.From)
		if err != nil {
			return err
		}
		dst, err := lockCustody(ctx, tx, mv.To)
		if err != nil {
			return err
		}
		if src.Owner != mv.Authority.Principal() {
			return fmt.Errorf("%w: %s owned by %s", ErrUnauthorized, src.Address, src.Owner)
		}
		if src.Asset != dst.Asset {
			return fmt.Errorf("%w: %s -> %s", ErrAssetMismatch, src.Asset, dst.Asset)
		}
		nsrc, err := smath.Sub(src.Balance, mv.Amount)
		if err != nil {
			return &BalanceError{Asset: src.Asset, Location: src.Address, Balance: src.Balance, Amount: mv.Amount}
		}
		if err := setCustodyBalance(ctx, tx, mv.From, nsrc); err != nil {
			return err
		}
		// Re-read so a self-move sees the debit.
		dst, err = lockCustody(ctx, tx, mv.To)
		if err != nil {
			return err
		}
		ndst, err := smath.Add64(dst.Balance, mv.Amount)
		if err != nil {
			return fmt.Errorf("%w: could not credit %s", ErrOverflow, dst.Address)
		}
		if err := setCustodyBalance(ctx, tx, mv.To, ndst); err != nil {
			return err
		}
	}
	return nil
}

// MintTx credits amount new units at a location inside tx.
func MintTx(ctx context.Context, tx pgx.Tx, to model.Address, amount uint64) error {
	c, err := lockCustody(ctx, tx, to)
	if err != nil {
		return err
	}
	nbal, err := smath.Add64(c.Balance, amount)
	if err != nil {
		return fmt.Errorf("%w: could not mint into %s", ErrOverflow, to)
	}
	return setCustodyBalance(ctx, tx, to, nbal)
}

func lockCustody(ctx context.Context, tx pgx.Tx, addr model.Address) (Custody, error) {
	var owner, asset, bal string
	err := tx.QueryRow(ctx,
		`SELECT owner, asset, balance::TEXT FROM custody WHERE address = $1 FOR UPDATE`,
		addr.String()).
		Scan(&owner, &asset, &bal)
	if errors.Is(err, pgx.ErrNoRows) {
		return Custody{}, fmt.Errorf("%w: %s", ErrUnknownCustody, addr)
	}
	if err != nil {
		return Custody{}, err
	}

	c := Custody{Address: addr}
	if c.Owner, err = solana.PublicKeyFromBase58(owner); err != nil {
		return Custody{}, fmt.Errorf("custody %s owner: %w", addr, err)
	}
	if c.Asset, err = solana.PublicKeyFromBase58(asset); err != nil {
		return Custody{}, fmt.Errorf("custody %s asset: %w", addr, err)
	}
	if c.Balance, err = strconv.ParseUint(bal, 10, 64); err != nil {
		return Custody{}, fmt.Errorf("custody %s balance: %w", addr, err)
	}
	return c, nil
}

func setCustodyBalance(ctx context.Context, tx pgx.Tx, addr model.Address, bal uint64) error {
	_, err := tx.Exec(ctx,
		`UPDATE custody SET balance = $2::NUMERIC WHERE address = $1`,
		addr.String(), strconv.FormatUint(bal, 10),
	)
	return err
}
