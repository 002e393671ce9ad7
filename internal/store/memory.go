package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/atmx/curve-engine/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu     sync.RWMutex
	config *model.IssuerConfig
	pools  map[model.Address]*model.Pool
	trades []model.TradeRecord

	// failCommit makes the next CommitTrade fail; tests use it to exercise
	// the engine's compensation path.
	failCommit error
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		pools: make(map[model.Address]*model.Pool),
	}
}

func (s *MemoryStore) CreateIssuerConfig(_ context.Context, cfg *model.IssuerConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.config != nil {
		return fmt.Errorf("%w: issuer config", ErrAlreadyExists)
	}
	c := *cfg
	s.config = &c
	return nil
}

func (s *MemoryStore) GetIssuerConfig(_ context.Context) (*model.IssuerConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.config == nil {
		return nil, fmt.Errorf("%w: issuer config", ErrNotFound)
	}
	c := *s.config
	return &c, nil
}

func (s *MemoryStore) CreatePool(_ context.Context, p *model.Pool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.pools[p.Asset]; ok {
		return fmt.Errorf("%w: pool for asset %s", ErrAlreadyExists, p.Asset)
	}
	// Store a copy to avoid external mutation.
	c := *p
	s.pools[p.Asset] = &c
	return nil
}

func (s *MemoryStore) GetPool(_ context.Context, asset model.Address) (*model.Pool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.pools[asset]
	if !ok {
		return nil, fmt.Errorf("%w: pool for asset %s", ErrNotFound, asset)
	}
	c := *p
	return &c, nil
}

func (s *MemoryStore) ListPools(_ context.Context) ([]model.Pool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	pools := make([]model.Pool, 0, len(s.pools))
	for _, p := range s.pools {
		pools = append(pools, *p)
	}
	sort.Slice(pools, func(i, j int) bool {
		return pools[i].CreatedAt.After(pools[j].CreatedAt)
	})
	return pools, nil
}

func (s *MemoryStore) CommitTrade(_ context.Context, p *model.Pool, rec *model.TradeRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.failCommit; err != nil {
		s.failCommit = nil
		return err
	}
	if _, ok := s.pools[p.Asset]; !ok {
		return fmt.Errorf("%w: pool for asset %s", ErrNotFound, p.Asset)
	}
	c := *p
	s.pools[p.Asset] = &c
	s.trades = append(s.trades, *rec)
	return nil
}

// FailNextCommit makes the next CommitTrade return err without writing.
func (s *MemoryStore) FailNextCommit(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failCommit = err
}

func (s *MemoryStore) GetTradesByPool(_ context.Context, asset model.Address) ([]model.TradeRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.TradeRecord
	for _, r := range s.trades {
		if r.Asset == asset {
			result = append(result, r)
		}
	}
	return result, nil
}

func (s *MemoryStore) GetTradesByTrader(_ context.Context, trader model.Address) ([]model.TradeRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.TradeRecord
	for _, r := range s.trades {
		if r.Trader == trader {
			result = append(result, r)
		}
	}
	return result, nil
}
