package ledger

import (
	"context"
	"fmt"
	"sync"

	smath "github.com/ava-labs/avalanchego/utils/math"

	"github.com/atmx/curve-engine/internal/model"
)

// Memory implements Ledger and Minter in process. Custody records live in
// an arena slice; index maps a derived address to its slot. Used for
// development and tests.
type Memory struct {
	mu    sync.Mutex
	slots []Custody
	index map[model.Address]int
}

// NewMemory creates an empty in-memory ledger.
func NewMemory() *Memory {
	return &Memory{index: make(map[model.Address]int)}
}

func (l *Memory) CreateCustody(_ context.Context, owner, asset model.Address) (model.Address, error) {
	addr := model.CustodyAddress(owner, asset)

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.index[addr]; !ok {
		l.index[addr] = len(l.slots)
		l.slots = append(l.slots, Custody{Address: addr, Owner: owner, Asset: asset})
	}
	return addr, nil
}

func (l *Memory) Balance(_ context.Context, location model.Address) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	i, ok := l.index[location]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownCustody, location)
	}
	return l.slots[i].Balance, nil
}

// Transfer validates every move against scratch balances and only then
// writes them back, so a failing move leaves the arena untouched.
func (l *Memory) Transfer(_ context.Context, moves ...Move) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	scratch := make(map[int]uint64, 2*len(moves))
	balance := func(i int) uint64 {
		if b, ok := scratch[i]; ok {
			return b
		}
		return l.slots[i].Balance
	}

	for _, mv := range moves {
		from, ok := l.index[mv.From]
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnknownCustody, mv.From)
		}
		to, ok := l.index[mv.To]
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnknownCustody, mv.To)
		}
		src, dst := l.slots[from], l.slots[to]
		if src.Owner != mv.Authority.Principal() {
			return fmt.Errorf("%w: %s owned by %s", ErrUnauthorized, src.Address, src.Owner)
		}
		if src.Asset != dst.Asset {
			return fmt.Errorf("%w: %s -> %s", ErrAssetMismatch, src.Asset, dst.Asset)
		}
		nsrc, err := smath.Sub(balance(from), mv.Amount)
		if err != nil {
			return &BalanceError{Asset: src.Asset, Location: src.Address, Balance: balance(from), Amount: mv.Amount}
		}
		scratch[from] = nsrc
		ndst, err := smath.Add64(balance(to), mv.Amount)
		if err != nil {
			return fmt.Errorf("%w: could not credit %s", ErrOverflow, dst.Address)
		}
		scratch[to] = ndst
	}

	for i, b := range scratch {
		l.slots[i].Balance = b
	}
	return nil
}

func (l *Memory) Mint(_ context.Context, to model.Address, amount uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	i, ok := l.index[to]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownCustody, to)
	}
	nbal, err := smath.Add64(l.slots[i].Balance, amount)
	if err != nil {
		return fmt.Errorf("%w: could not mint into %s", ErrOverflow, to)
	}
	l.slots[i].Balance = nbal
	return nil
}

func (l *Memory) Burn(_ context.Context, from model.Address, amount uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	i, ok := l.index[from]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownCustody, from)
	}
	c := l.slots[i]
	nbal, err := smath.Sub(c.Balance, amount)
	if err != nil {
		return &BalanceError{Asset: c.Asset, Location: from, Balance: c.Balance, Amount: amount}
	}
	l.slots[i].Balance = nbal
	return nil
}

// Custodies returns a copy of every location, in creation order.
func (l *Memory) Custodies() []Custody {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]Custody, len(l.slots))
	copy(out, l.slots)
	return out
}
