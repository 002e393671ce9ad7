package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/atmx/curve-engine/internal/model"
)

func testPool(tag string, created time.Time) *model.Pool {
	asset := model.DeriveAddress([]byte("asset"), []byte(tag))
	return &model.Pool{
		Asset:          asset,
		Address:        model.PoolAddress(asset),
		VirtualReserve: 30,
		VirtualAsset:   1_000_000_000_000_000,
		Active:         true,
		Symbol:         tag,
		CreatedAt:      created,
	}
}

func TestIssuerConfig_Singleton(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	if _, err := s.GetIssuerConfig(ctx); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound before init, got %v", err)
	}

	cfg := &model.IssuerConfig{TotalSupplyToMint: 1000, InitialVirtualReserve: 30, InitialVirtualAsset: 1000}
	if err := s.CreateIssuerConfig(ctx, cfg); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := s.CreateIssuerConfig(ctx, cfg); !errors.Is(err, ErrAlreadyExists) {
		t.Errorf("expected ErrAlreadyExists on second create, got %v", err)
	}

	got, err := s.GetIssuerConfig(ctx)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	got.InitialVirtualReserve = 1
	again, _ := s.GetIssuerConfig(ctx)
	if again.InitialVirtualReserve != 30 {
		t.Error("returned config must be a copy")
	}
}

func TestPools_CreateGetList(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	now := time.Now().UTC()

	older := testPool("OLD", now.Add(-time.Minute))
	newer := testPool("NEW", now)
	for _, p := range []*model.Pool{older, newer} {
		if err := s.CreatePool(ctx, p); err != nil {
			t.Fatalf("create pool: %v", err)
		}
	}
	if err := s.CreatePool(ctx, older); !errors.Is(err, ErrAlreadyExists) {
		t.Errorf("expected ErrAlreadyExists, got %v", err)
	}

	pools, _ := s.ListPools(ctx)
	if len(pools) != 2 || pools[0].Symbol != "NEW" {
		t.Errorf("expected newest first, got %+v", pools)
	}

	if _, err := s.GetPool(ctx, model.DeriveAddress([]byte("missing"))); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestCommitTrade(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	p := testPool("ABC", time.Now())
	if err := s.CreatePool(ctx, p); err != nil {
		t.Fatalf("create pool: %v", err)
	}

	trader := model.DeriveAddress([]byte("trader"))
	next := *p
	next.VirtualReserve = 31
	rec := &model.TradeRecord{ID: "t1", Asset: p.Asset, Trader: trader, Side: model.SideBuy}

	if err := s.CommitTrade(ctx, &next, rec); err != nil {
		t.Fatalf("commit: %v", err)
	}
	got, _ := s.GetPool(ctx, p.Asset)
	if got.VirtualReserve != 31 {
		t.Errorf("expected reserve 31, got %d", got.VirtualReserve)
	}
	byPool, _ := s.GetTradesByPool(ctx, p.Asset)
	byTrader, _ := s.GetTradesByTrader(ctx, trader)
	if len(byPool) != 1 || len(byTrader) != 1 {
		t.Errorf("expected one record each, got %d and %d", len(byPool), len(byTrader))
	}
}

func TestCommitTrade_FailureWritesNothing(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	p := testPool("ABC", time.Now())
	s.CreatePool(ctx, p)

	boom := errors.New("boom")
	s.FailNextCommit(boom)

	next := *p
	next.VirtualReserve = 99
	if err := s.CommitTrade(ctx, &next, &model.TradeRecord{ID: "t1", Asset: p.Asset}); !errors.Is(err, boom) {
		t.Fatalf("expected injected error, got %v", err)
	}
	got, _ := s.GetPool(ctx, p.Asset)
	if got.VirtualReserve != 30 {
		t.Error("failed commit must not update the pool")
	}
	if recs, _ := s.GetTradesByPool(ctx, p.Asset); len(recs) != 0 {
		t.Error("failed commit must not append a record")
	}

	// The failure is one-shot.
	if err := s.CommitTrade(ctx, &next, &model.TradeRecord{ID: "t2", Asset: p.Asset}); err != nil {
		t.Errorf("second commit should succeed, got %v", err)
	}
}

func TestCommitTrade_UnknownPool(t *testing.T) {
	s := NewMemoryStore()
	p := testPool("ABC", time.Now())
	err := s.CommitTrade(context.Background(), p, &model.TradeRecord{ID: "t1"})
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
