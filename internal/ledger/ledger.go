// Package ledger defines the custody substrate the curve engine moves value
// through, plus in-memory and PostgreSQL implementations.
//
// A custody location holds one asset for one owner and is addressed by
// model.CustodyAddress(owner, asset). Moves out of a location need an
// Authority whose principal is the location's owner.
package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/atmx/curve-engine/internal/model"
)

var (
	ErrUnknownCustody      = errors.New("ledger: custody location does not exist")
	ErrUnauthorized        = errors.New("ledger: authority cannot move from location")
	ErrInsufficientBalance = errors.New("ledger: insufficient balance")
	ErrAssetMismatch       = errors.New("ledger: locations hold different assets")
	ErrOverflow            = errors.New("ledger: balance overflow")
)

// Authority is the capability to move value out of locations owned by one
// principal. It is built per operation and passed with each move.
type Authority struct {
	principal model.Address
}

// Delegate returns an Authority acting as principal.
func Delegate(principal model.Address) Authority {
	return Authority{principal: principal}
}

// Principal returns the identity the authority acts for.
func (a Authority) Principal() model.Address {
	return a.principal
}

// Move transfers Amount between two custody locations of the same asset.
type Move struct {
	From      model.Address
	To        model.Address
	Amount    uint64
	Authority Authority
}

// Ledger is the custody substrate. Transfer applies every move or none.
type Ledger interface {
	// CreateCustody creates the location of owner for asset if absent and
	// returns its address.
	CreateCustody(ctx context.Context, owner, asset model.Address) (model.Address, error)

	// Balance returns the balance held at a location.
	Balance(ctx context.Context, location model.Address) (uint64, error)

	// Transfer applies all moves atomically.
	Transfer(ctx context.Context, moves ...Move) error
}

// Minter creates new units of an asset at a location. Asset issuance is a
// concern of the substrate; the engine only calls it at launch. Burn undoes
// a mint whose launch could not be recorded.
type Minter interface {
	Mint(ctx context.Context, to model.Address, amount uint64) error
	Burn(ctx context.Context, from model.Address, amount uint64) error
}

// Custody is one holding location.
type Custody struct {
	Address model.Address
	Owner   model.Address
	Asset   model.Address
	Balance uint64
}

// BalanceError reports a debit larger than the balance at a location. It
// matches ErrInsufficientBalance with errors.Is.
type BalanceError struct {
	Asset    model.Address
	Location model.Address
	Balance  uint64
	Amount   uint64
}

func (e *BalanceError) Error() string {
	return fmt.Sprintf(
		"%s: could not debit (asset=%s, bal=%d, location=%s, amount=%d)",
		ErrInsufficientBalance, e.Asset, e.Balance, e.Location, e.Amount,
	)
}

func (e *BalanceError) Unwrap() error { return ErrInsufficientBalance }
