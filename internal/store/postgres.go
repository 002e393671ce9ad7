package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/gagliardetto/solana-go"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/atmx/curve-engine/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All u64 quantities are stored as NUMERIC(20,0) and addresses as base58.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) CreateIssuerConfig(ctx context.Context, cfg *model.IssuerConfig) error {
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO issuer_config (id, owner, sale_target, total_supply_to_mint,
		                            initial_virtual_reserve, initial_virtual_asset, created_at)
		 VALUES (1, $1, $2, $3::NUMERIC, $4::NUMERIC, $5::NUMERIC, $6)
		 ON CONFLICT (id) DO NOTHING`,
		cfg.Owner.String(), cfg.SaleTarget.String(),
		u64(cfg.TotalSupplyToMint), u64(cfg.InitialVirtualReserve), u64(cfg.InitialVirtualAsset),
		cfg.CreatedAt,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: issuer config", ErrAlreadyExists)
	}
	return nil
}

func (s *PostgresStore) GetIssuerConfig(ctx context.Context) (*model.IssuerConfig, error) {
	var owner, target, supply, vr, va string
	var cfg model.IssuerConfig

	err := s.pool.QueryRow(ctx,
		`SELECT owner, sale_target, total_supply_to_mint::TEXT,
		        initial_virtual_reserve::TEXT, initial_virtual_asset::TEXT, created_at
		 FROM issuer_config WHERE id = 1`).
		Scan(&owner, &target, &supply, &vr, &va, &cfg.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: issuer config", ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get issuer config: %w", err)
	}

	var p parser
	cfg.Owner = p.addr(owner)
	cfg.SaleTarget = p.addr(target)
	cfg.TotalSupplyToMint = p.u64(supply)
	cfg.InitialVirtualReserve = p.u64(vr)
	cfg.InitialVirtualAsset = p.u64(va)
	if p.err != nil {
		return nil, fmt.Errorf("decode issuer config: %w", p.err)
	}
	return &cfg, nil
}

func (s *PostgresStore) CreatePool(ctx context.Context, m *model.Pool) error {
	return insertPool(ctx, s.pool, m)
}

const poolColumns = `asset, address, virtual_reserve::TEXT, virtual_asset::TEXT, units_sold::TEXT,
	active, name, symbol, uri, creator, created_at`

func (s *PostgresStore) GetPool(ctx context.Context, asset model.Address) (*model.Pool, error) {
	return selectPool(ctx, s.pool, `SELECT `+poolColumns+` FROM pools WHERE asset = $1`, asset)
}

func (s *PostgresStore) ListPools(ctx context.Context) ([]model.Pool, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+poolColumns+` FROM pools ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanPools(rows)
}

// CommitTrade updates the pool row and appends the record in one
// transaction.
func (s *PostgresStore) CommitTrade(ctx context.Context, m *model.Pool, r *model.TradeRecord) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		return CommitTradeTx(ctx, tx, m, r)
	})
}

// --- Transaction-scoped writes ---
//
// These run inside a caller's transaction so pool state can commit together
// with the custody moves of the same trade.

// querier is satisfied by *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// CreatePoolTx inserts a pool inside tx. An existing asset fails with
// ErrAlreadyExists.
func CreatePoolTx(ctx context.Context, tx pgx.Tx, m *model.Pool) error {
	return insertPool(ctx, tx, m)
}

// LockPoolTx reads a pool row FOR UPDATE; the lock holds until tx ends.
func LockPoolTx(ctx context.Context, tx pgx.Tx, asset model.Address) (*model.Pool, error) {
	return selectPool(ctx, tx, `SELECT `+poolColumns+` FROM pools WHERE asset = $1 FOR UPDATE`, asset)
}

// CommitTradeTx updates the pool row and appends the record inside tx.
func CommitTradeTx(ctx context.Context, tx pgx.Tx, m *model.Pool, r *model.TradeRecord) error {
	tag, err := tx.Exec(ctx,
		`UPDATE pools
		 SET virtual_reserve = $2::NUMERIC, virtual_asset = $3::NUMERIC,
		     units_sold = $4::NUMERIC, active = $5
		 WHERE asset = $1`,
		m.Asset.String(), u64(m.VirtualReserve), u64(m.VirtualAsset), u64(m.UnitsSold), m.Active,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: pool for asset %s", ErrNotFound, m.Asset)
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO trade_records (id, asset, trader, side, reserve_amount, asset_amount, refund,
		                            deactivated, timestamp, virtual_reserve, virtual_asset, units_sold)
		 VALUES ($1, $2, $3, $4, $5::NUMERIC, $6::NUMERIC, $7::NUMERIC, $8, $9,
		         $10::NUMERIC, $11::NUMERIC, $12::NUMERIC)`,
		r.ID, r.Asset.String(), r.Trader.String(), string(r.Side),
		u64(r.ReserveAmount), u64(r.AssetAmount), u64(r.Refund),
		r.Deactivated, r.Timestamp,
		u64(r.VirtualReserve), u64(r.VirtualAsset), u64(r.UnitsSold),
	)
	return err
}

func insertPool(ctx context.Context, q querier, m *model.Pool) error {
	tag, err := q.Exec(ctx,
		`INSERT INTO pools (asset, address, virtual_reserve, virtual_asset, units_sold, active,
		                    name, symbol, uri, creator, created_at)
		 VALUES ($1, $2, $3::NUMERIC, $4::NUMERIC, $5::NUMERIC, $6, $7, $8, $9, $10, $11)
		 ON CONFLICT (asset) DO NOTHING`,
		m.Asset.String(), m.Address.String(),
		u64(m.VirtualReserve), u64(m.VirtualAsset), u64(m.UnitsSold), m.Active,
		m.Name, m.Symbol, m.URI, m.Creator.String(), m.CreatedAt,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: pool for asset %s", ErrAlreadyExists, m.Asset)
	}
	return nil
}

func selectPool(ctx context.Context, q querier, sql string, asset model.Address) (*model.Pool, error) {
	rows, err := q.Query(ctx, sql, asset.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	pools, err := scanPools(rows)
	if err != nil {
		return nil, fmt.Errorf("get pool %s: %w", asset, err)
	}
	if len(pools) == 0 {
		return nil, fmt.Errorf("%w: pool for asset %s", ErrNotFound, asset)
	}
	return &pools[0], nil
}

const tradeColumns = `id, asset, trader, side, reserve_amount::TEXT, asset_amount::TEXT, refund::TEXT,
	deactivated, timestamp, virtual_reserve::TEXT, virtual_asset::TEXT, units_sold::TEXT`

func (s *PostgresStore) GetTradesByPool(ctx context.Context, asset model.Address) ([]model.TradeRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+tradeColumns+` FROM trade_records WHERE asset = $1 ORDER BY timestamp`, asset.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanTrades(rows)
}

func (s *PostgresStore) GetTradesByTrader(ctx context.Context, trader model.Address) ([]model.TradeRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+tradeColumns+` FROM trade_records WHERE trader = $1 ORDER BY timestamp`, trader.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanTrades(rows)
}

// pgxRows is the subset of pgx.Rows the scan helpers need.
type pgxRows interface {
	Next() bool
	Scan(dest ...interface{}) error
	Err() error
}

func scanPools(rows pgxRows) ([]model.Pool, error) {
	var pools []model.Pool
	for rows.Next() {
		var m model.Pool
		var asset, addr, vr, va, sold, creator string

		if err := rows.Scan(&asset, &addr, &vr, &va, &sold,
			&m.Active, &m.Name, &m.Symbol, &m.URI, &creator, &m.CreatedAt); err != nil {
			return nil, err
		}

		var p parser
		m.Asset = p.addr(asset)
		m.Address = p.addr(addr)
		m.VirtualReserve = p.u64(vr)
		m.VirtualAsset = p.u64(va)
		m.UnitsSold = p.u64(sold)
		m.Creator = p.addr(creator)
		if p.err != nil {
			return nil, p.err
		}
		pools = append(pools, m)
	}
	return pools, rows.Err()
}

func scanTrades(rows pgxRows) ([]model.TradeRecord, error) {
	var records []model.TradeRecord
	for rows.Next() {
		var r model.TradeRecord
		var asset, trader, side, reserveAmt, assetAmt, refund, vr, va, sold string

		if err := rows.Scan(&r.ID, &asset, &trader, &side, &reserveAmt, &assetAmt, &refund,
			&r.Deactivated, &r.Timestamp, &vr, &va, &sold); err != nil {
			return nil, err
		}

		var p parser
		r.Asset = p.addr(asset)
		r.Trader = p.addr(trader)
		r.Side = model.Side(side)
		r.ReserveAmount = p.u64(reserveAmt)
		r.AssetAmount = p.u64(assetAmt)
		r.Refund = p.u64(refund)
		r.VirtualReserve = p.u64(vr)
		r.VirtualAsset = p.u64(va)
		r.UnitsSold = p.u64(sold)
		if p.err != nil {
			return nil, p.err
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// parser decodes text columns and keeps the first error.
type parser struct {
	err error
}

func (p *parser) addr(s string) model.Address {
	if p.err != nil {
		return model.Address{}
	}
	a, err := solana.PublicKeyFromBase58(s)
	if err != nil {
		p.err = fmt.Errorf("address %q: %w", s, err)
	}
	return a
}

func (p *parser) u64(s string) uint64 {
	if p.err != nil {
		return 0
	}
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		p.err = fmt.Errorf("amount %q: %w", s, err)
	}
	return v
}

func u64(v uint64) string {
	return strconv.FormatUint(v, 10)
}
