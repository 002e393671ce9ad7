// Package engine runs the issuance lifecycle of bonding-curve pools:
// protocol genesis, launches, buys, sells and the post-curve migration
// withdrawal.
//
// Every mutation of a pool holds that pool's lock for the whole operation
// and runs as one books unit: the transition is computed from the pool as
// read inside the unit, then the custody moves and the new state land
// together.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	smath "github.com/ava-labs/avalanchego/utils/math"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/atmx/curve-engine/internal/books"
	"github.com/atmx/curve-engine/internal/curve"
	"github.com/atmx/curve-engine/internal/ledger"
	"github.com/atmx/curve-engine/internal/metadata"
	"github.com/atmx/curve-engine/internal/metrics"
	"github.com/atmx/curve-engine/internal/model"
	"github.com/atmx/curve-engine/internal/store"
)

var (
	ErrPoolInactive           = errors.New("engine: pool is not active")
	ErrPoolStillActive        = errors.New("engine: pool is still active")
	ErrNotOwner               = errors.New("engine: caller is not the protocol owner")
	ErrProtocolNotInitialized = errors.New("engine: protocol not initialized")
	ErrInvalidConfig          = errors.New("engine: invalid issuer config")
	ErrInvalidPolicy          = errors.New("engine: invalid policy")
)

// BoundaryPolicy decides what happens to the reserve a buyer overpays when
// the sale threshold clamps the delivered units.
type BoundaryPolicy string

const (
	// BoundaryRetain keeps the full reserve input.
	BoundaryRetain BoundaryPolicy = "retain"
	// BoundaryRefund charges only what the clamped units cost.
	BoundaryRefund BoundaryPolicy = "refund"
)

// SellAccounting selects how a sell updates the virtual liquidity.
type SellAccounting string

const (
	// SellRestoring moves the pool back along the curve:
	// asset += in, reserve -= out.
	SellRestoring SellAccounting = "restoring"
	// SellLegacy reproduces the historical rule asset -= in,
	// reserve += out, for replaying old pools.
	SellLegacy SellAccounting = "legacy"
)

// Policy holds the engine's behaviour switches.
type Policy struct {
	Boundary       BoundaryPolicy
	SellAccounting SellAccounting
}

// DefaultPolicy retains boundary overpayment and restores on sells.
func DefaultPolicy() Policy {
	return Policy{Boundary: BoundaryRetain, SellAccounting: SellRestoring}
}

// ParsePolicy builds a Policy from its textual form. Empty values take the
// defaults.
func ParsePolicy(boundary, sell string) (Policy, error) {
	p := DefaultPolicy()
	switch BoundaryPolicy(boundary) {
	case "":
	case BoundaryRetain, BoundaryRefund:
		p.Boundary = BoundaryPolicy(boundary)
	default:
		return p, fmt.Errorf("%w: boundary %q", ErrInvalidPolicy, boundary)
	}
	switch SellAccounting(sell) {
	case "":
	case SellRestoring, SellLegacy:
		p.SellAccounting = SellAccounting(sell)
	default:
		return p, fmt.Errorf("%w: sell accounting %q", ErrInvalidPolicy, sell)
	}
	return p, nil
}

// EventSink receives engine events. Emit must not block.
type EventSink interface {
	Emit(model.Event)
}

type nopSink struct{}

func (nopSink) Emit(model.Event) {}

// Engine executes pool operations. Writes go through books; reads for
// quotes and config come from the store.
type Engine struct {
	store  store.Store
	truth  store.Store // uncached; launch duplicate checks read here
	books  books.Books
	sink   EventSink
	policy Policy
	locks  *poolLocks
	now    func() time.Time
}

// New creates an engine. Pass nil for sink if events are not needed.
func New(bk books.Books, st store.Store, sink EventSink, policy Policy) *Engine {
	if sink == nil {
		sink = nopSink{}
	}
	return &Engine{
		store:  st,
		truth:  store.Uncached(st),
		books:  bk,
		sink:   sink,
		policy: policy,
		locks:  newPoolLocks(),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Policy returns the engine's policy.
func (e *Engine) Policy() Policy {
	return e.policy
}

// Result is the outcome of a trade or withdrawal.
type Result struct {
	Record model.TradeRecord `json:"record"`
	Pool   model.Pool        `json:"pool"`
}

// --- Protocol ---

// InitProtocol creates the protocol singleton owned by cfg.Owner. Zero
// supply or seed fields take the defaults.
func (e *Engine) InitProtocol(ctx context.Context, cfg model.IssuerConfig) (*model.IssuerConfig, error) {
	if cfg.TotalSupplyToMint == 0 {
		cfg.TotalSupplyToMint = curve.DefaultTotalSupply
	}
	if cfg.InitialVirtualAsset == 0 {
		cfg.InitialVirtualAsset = cfg.TotalSupplyToMint
	}
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}
	if cfg.SaleTarget == (model.Address{}) {
		cfg.SaleTarget = cfg.Owner
	}
	cfg.CreatedAt = e.now()

	if err := e.store.CreateIssuerConfig(ctx, &cfg); err != nil {
		return nil, err
	}

	slog.Info("protocol initialized",
		"owner", cfg.Owner.String(),
		"total_supply", cfg.TotalSupplyToMint,
		"virtual_reserve", cfg.InitialVirtualReserve,
		"virtual_asset", cfg.InitialVirtualAsset,
	)
	return &cfg, nil
}

// Config returns the protocol singleton.
func (e *Engine) Config(ctx context.Context) (*model.IssuerConfig, error) {
	cfg, err := e.store.GetIssuerConfig(ctx)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrProtocolNotInitialized
	}
	return cfg, err
}

func validateConfig(cfg model.IssuerConfig) error {
	switch {
	case cfg.Owner == (model.Address{}):
		return fmt.Errorf("%w: owner is required", ErrInvalidConfig)
	case cfg.TotalSupplyToMint == 0:
		return fmt.Errorf("%w: total supply must be positive", ErrInvalidConfig)
	case cfg.InitialVirtualReserve == 0 || cfg.InitialVirtualAsset == 0:
		return fmt.Errorf("%w: virtual liquidity seeds must be positive", ErrInvalidConfig)
	}
	return nil
}

// --- Launch ---

// LaunchRequest describes a new asset. A zero Asset derives a fresh one
// from the creator.
type LaunchRequest struct {
	Asset   model.Address
	Creator model.Address
	Name    string
	Symbol  string
	URI     string
}

// Launch creates a pool seeded from cfg, mints the full supply into the
// pool's asset custody and emits a launch event.
func (e *Engine) Launch(ctx context.Context, cfg model.IssuerConfig, req LaunchRequest) (*model.Pool, error) {
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}
	meta, err := metadata.Parse(req.Name, req.Symbol, req.URI)
	if err != nil {
		return nil, err
	}

	asset := req.Asset
	if asset == (model.Address{}) {
		nonce := uuid.New()
		asset = model.DeriveAddress([]byte(model.SeedAsset), req.Creator[:], nonce[:])
	}
	poolAddr := model.PoolAddress(asset)

	e.locks.Lock(asset)
	defer e.locks.Unlock(asset)

	if _, err := e.truth.GetPool(ctx, asset); err == nil {
		return nil, fmt.Errorf("%w: pool for asset %s", store.ErrAlreadyExists, asset)
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	now := e.now()
	pool := &model.Pool{
		Asset:          asset,
		Address:        poolAddr,
		VirtualReserve: cfg.InitialVirtualReserve,
		VirtualAsset:   cfg.InitialVirtualAsset,
		UnitsSold:      0,
		Active:         true,
		Name:           meta.Name,
		Symbol:         meta.Symbol,
		URI:            meta.URI,
		Creator:        req.Creator,
		CreatedAt:      now,
	}
	if err := e.books.Open(ctx, pool, cfg.TotalSupplyToMint); err != nil {
		return nil, err
	}
	store.Invalidate(ctx, e.store, asset)
	metrics.ActivePools.Inc()

	slog.Info("pool launched",
		"asset", asset.String(),
		"pool", poolAddr.String(),
		"symbol", meta.Symbol,
		"creator", req.Creator.String(),
		"minted", cfg.TotalSupplyToMint,
	)
	e.sink.Emit(model.Event{
		Kind:           model.EventLaunch,
		Asset:          asset,
		Pool:           poolAddr,
		Trader:         req.Creator,
		VirtualReserve: pool.VirtualReserve,
		VirtualAsset:   pool.VirtualAsset,
		TotalMinted:    cfg.TotalSupplyToMint,
		Timestamp:      now.Unix(),
	})
	return pool, nil
}

// SyncActivePools resets the active pool gauge from the store. Launches
// and deactivations adjust it in between; with several replicas each one
// only sees its own, so the gauge is resynced periodically.
func (e *Engine) SyncActivePools(ctx context.Context) error {
	pools, err := e.truth.ListPools(ctx)
	if err != nil {
		return err
	}
	active := 0
	for _, p := range pools {
		if p.Active {
			active++
		}
	}
	metrics.ActivePools.Set(float64(active))
	return nil
}

// --- Quotes ---

// Quote is a read-only preview of a trade.
type Quote struct {
	Fill
	Pool        model.Pool      `json:"pool"`
	PriceBefore decimal.Decimal `json:"price_before"`
	PriceAfter  decimal.Decimal `json:"price_after"`
}

// Quote prices a trade without moving custody or touching state.
func (e *Engine) Quote(ctx context.Context, asset model.Address, side model.Side, amount uint64) (*Quote, error) {
	if amount == 0 {
		return nil, curve.ErrInvalidAmount
	}
	pool, err := e.store.GetPool(ctx, asset)
	if err != nil {
		return nil, err
	}
	fill, next, err := e.transition(*pool, side, amount)
	if err != nil {
		return nil, err
	}
	return &Quote{
		Fill:        fill,
		Pool:        next,
		PriceBefore: curve.SpotPrice(*pool),
		PriceAfter:  curve.SpotPrice(next),
	}, nil
}

func (e *Engine) transition(p model.Pool, side model.Side, amount uint64) (Fill, model.Pool, error) {
	switch side {
	case model.SideBuy:
		return applyBuy(p, amount, e.policy)
	case model.SideSell:
		return applySell(p, amount, e.policy)
	}
	return Fill{}, p, fmt.Errorf("%w: unsupported side %q", curve.ErrInvalidAmount, side)
}

// --- Trades ---

// Buy spends reserveIn of the trader's reserve on pool units.
func (e *Engine) Buy(ctx context.Context, trader, asset model.Address, reserveIn uint64) (*Result, error) {
	return e.trade(ctx, trader, asset, model.SideBuy, reserveIn)
}

// Sell returns assetIn units to the pool for reserve.
func (e *Engine) Sell(ctx context.Context, trader, asset model.Address, assetIn uint64) (*Result, error) {
	return e.trade(ctx, trader, asset, model.SideSell, assetIn)
}

func (e *Engine) trade(ctx context.Context, trader, asset model.Address, side model.Side, amount uint64) (*Result, error) {
	start := time.Now()
	res, err := e.executeTrade(ctx, trader, asset, side, amount)
	if err != nil {
		metrics.TradeRejections.WithLabelValues(rejectionReason(err)).Inc()
		return nil, err
	}
	metrics.TradesTotal.WithLabelValues(string(side)).Inc()
	metrics.TradeLatency.WithLabelValues(string(side)).Observe(time.Since(start).Seconds())
	metrics.PoolVolume.WithLabelValues(string(side)).Add(float64(res.Record.AssetAmount))
	return res, nil
}

func (e *Engine) executeTrade(ctx context.Context, trader, asset model.Address, side model.Side, amount uint64) (*Result, error) {
	if amount == 0 {
		return nil, curve.ErrInvalidAmount
	}

	e.locks.Lock(asset)
	defer e.locks.Unlock(asset)

	var fill Fill
	entry, err := e.books.Settle(ctx, asset, func(_ context.Context, pool model.Pool, _ books.Balances) (*books.Entry, error) {
		f, next, err := e.transition(pool, side, amount)
		if err != nil {
			return nil, err
		}
		fill = f

		rec := model.TradeRecord{
			ID:             uuid.New().String(),
			Asset:          asset,
			Trader:         trader,
			Side:           side,
			Refund:         f.Refund,
			Deactivated:    f.Deactivated,
			Timestamp:      e.now(),
			VirtualReserve: next.VirtualReserve,
			VirtualAsset:   next.VirtualAsset,
			UnitsSold:      next.UnitsSold,
		}
		var legs []books.Leg
		switch side {
		case model.SideBuy:
			legs = []books.Leg{
				{From: trader, To: pool.Address, Asset: model.ReserveAsset, Amount: f.Charged},
				{From: pool.Address, To: trader, Asset: asset, Amount: f.AmountOut},
			}
			rec.ReserveAmount, rec.AssetAmount = f.Charged, f.AmountOut
		case model.SideSell:
			legs = []books.Leg{
				{From: trader, To: pool.Address, Asset: asset, Amount: f.AmountIn},
				{From: pool.Address, To: trader, Asset: model.ReserveAsset, Amount: f.AmountOut},
			}
			rec.ReserveAmount, rec.AssetAmount = f.AmountOut, f.AmountIn
		}
		return &books.Entry{Legs: legs, Pool: next, Record: rec}, nil
	})
	if err != nil {
		return nil, custodyError(err)
	}
	store.Invalidate(ctx, e.store, asset)
	rec, next := entry.Record, entry.Pool

	slog.Info("trade executed",
		"trade_id", rec.ID,
		"trader", trader.String(),
		"asset", asset.String(),
		"side", side,
		"reserve", rec.ReserveAmount,
		"units", rec.AssetAmount,
		"refund", rec.Refund,
		"virtual_reserve", next.VirtualReserve,
		"virtual_asset", next.VirtualAsset,
		"units_sold", next.UnitsSold,
	)

	ev := model.Event{
		Kind:           model.EventTrade,
		Asset:          asset,
		Pool:           next.Address,
		Trader:         trader,
		Side:           side,
		VirtualReserve: next.VirtualReserve,
		VirtualAsset:   next.VirtualAsset,
		UnitsSold:      next.UnitsSold,
		ReserveVolume:  rec.ReserveAmount,
		AssetVolume:    rec.AssetAmount,
		Timestamp:      rec.Timestamp.Unix(),
	}
	e.sink.Emit(ev)

	if fill.Deactivated {
		metrics.Deactivations.Inc()
		metrics.ActivePools.Dec()
		slog.Info("pool deactivated",
			"asset", asset.String(),
			"units_sold", next.UnitsSold,
			"clamped_units", fill.AmountOut,
		)
		ev.Kind = model.EventDeactivated
		e.sink.Emit(ev)
	}

	return &Result{Record: rec, Pool: next}, nil
}

// --- Migration ---

// Withdraw moves a deactivated pool's reserve and its post-curve asset
// remainder (VirtualAsset - UnitsSold) to the protocol owner. Only
// cfg.Owner may call it. The pool state is left as a historical record.
func (e *Engine) Withdraw(ctx context.Context, cfg model.IssuerConfig, caller, asset model.Address) (*Result, error) {
	if caller != cfg.Owner {
		return nil, ErrNotOwner
	}

	e.locks.Lock(asset)
	defer e.locks.Unlock(asset)

	entry, err := e.books.Settle(ctx, asset, func(ctx context.Context, pool model.Pool, bal books.Balances) (*books.Entry, error) {
		if pool.Active {
			return nil, ErrPoolStillActive
		}
		reserve, err := bal.Balance(ctx, model.CustodyAddress(pool.Address, model.ReserveAsset))
		if err != nil {
			return nil, err
		}
		if reserve == 0 {
			return nil, fmt.Errorf("%w: pool reserve custody is empty", curve.ErrInsufficientReserveBalance)
		}
		units, err := smath.Sub(pool.VirtualAsset, pool.UnitsSold)
		if err != nil {
			return nil, fmt.Errorf("%w: virtual asset %d below units sold %d",
				curve.ErrInsufficientAssetBalance, pool.VirtualAsset, pool.UnitsSold)
		}

		return &books.Entry{
			Legs: []books.Leg{
				{From: pool.Address, To: caller, Asset: model.ReserveAsset, Amount: reserve},
				{From: pool.Address, To: caller, Asset: asset, Amount: units},
			},
			Pool: pool,
			Record: model.TradeRecord{
				ID:             uuid.New().String(),
				Asset:          asset,
				Trader:         caller,
				Side:           model.SideWithdraw,
				ReserveAmount:  reserve,
				AssetAmount:    units,
				Timestamp:      e.now(),
				VirtualReserve: pool.VirtualReserve,
				VirtualAsset:   pool.VirtualAsset,
				UnitsSold:      pool.UnitsSold,
			},
		}, nil
	})
	if err != nil {
		return nil, custodyError(err)
	}
	store.Invalidate(ctx, e.store, asset)
	rec, pool := entry.Record, entry.Pool
	metrics.Withdrawals.Inc()

	slog.Info("migration withdrawal",
		"asset", asset.String(),
		"owner", caller.String(),
		"reserve", rec.ReserveAmount,
		"units", rec.AssetAmount,
	)
	e.sink.Emit(model.Event{
		Kind:           model.EventWithdrawal,
		Asset:          asset,
		Pool:           pool.Address,
		Trader:         caller,
		Side:           model.SideWithdraw,
		VirtualReserve: pool.VirtualReserve,
		VirtualAsset:   pool.VirtualAsset,
		UnitsSold:      pool.UnitsSold,
		ReserveVolume:  rec.ReserveAmount,
		AssetVolume:    rec.AssetAmount,
		Timestamp:      rec.Timestamp.Unix(),
	})
	return &Result{Record: rec, Pool: pool}, nil
}

// --- Errors ---

// custodyError maps a ledger balance failure onto the curve taxonomy by
// the asset that ran short.
func custodyError(err error) error {
	var be *ledger.BalanceError
	if !errors.As(err, &be) {
		return err
	}
	if be.Asset == model.ReserveAsset {
		return fmt.Errorf("%w: %w", curve.ErrInsufficientReserveBalance, err)
	}
	return fmt.Errorf("%w: %w", curve.ErrInsufficientAssetBalance, err)
}

func rejectionReason(err error) string {
	switch {
	case errors.Is(err, ErrPoolInactive):
		return "pool_inactive"
	case errors.Is(err, curve.ErrInvalidAmount):
		return "invalid_amount"
	case errors.Is(err, curve.ErrInsufficientReserveBalance):
		return "insufficient_reserve"
	case errors.Is(err, curve.ErrInsufficientAssetBalance):
		return "insufficient_asset"
	case errors.Is(err, curve.ErrArithmeticOverflow):
		return "overflow"
	case errors.Is(err, curve.ErrCalculation):
		return "calculation"
	case errors.Is(err, store.ErrNotFound):
		return "not_found"
	}
	return "internal"
}
