// Package model defines the core domain types shared across the curve engine.
// All on-ledger quantities are u64 minimal units; decimals only appear in
// derived display values.
package model

import (
	"time"

	"github.com/gagliardetto/solana-go"
)

// Address identifies an owner, an asset, a pool or a custody location.
// Encoded as base58 in JSON and in storage.
type Address = solana.PublicKey

// ReserveAsset is the asset identity of the reserve currency every pool
// trades against.
var ReserveAsset = solana.SolMint

// IssuerConfig holds the protocol-wide parameters set once at genesis.
// Exactly one instance exists for the lifetime of a deployment.
type IssuerConfig struct {
	Owner                 Address   `json:"owner"`
	SaleTarget            Address   `json:"sale_target"`
	TotalSupplyToMint     uint64    `json:"total_supply_to_mint,string"`
	InitialVirtualReserve uint64    `json:"initial_virtual_reserve,string"`
	InitialVirtualAsset   uint64    `json:"initial_virtual_asset,string"`
	CreatedAt             time.Time `json:"created_at"`
}

// Pool is the per-asset curve state plus its launch metadata.
// VirtualReserve, VirtualAsset, UnitsSold and Active only change together,
// inside one trade.
type Pool struct {
	Asset          Address `json:"asset"`
	Address        Address `json:"address"`
	VirtualReserve uint64  `json:"virtual_reserve,string"`
	VirtualAsset   uint64  `json:"virtual_asset,string"`
	UnitsSold      uint64  `json:"units_sold,string"`
	Active         bool    `json:"active"`

	Name      string    `json:"name"`
	Symbol    string    `json:"symbol"`
	URI       string    `json:"uri"`
	Creator   Address   `json:"creator"`
	CreatedAt time.Time `json:"created_at"`
}

// Side is the direction of a trade record.
type Side string

const (
	SideBuy      Side = "buy"
	SideSell     Side = "sell"
	SideWithdraw Side = "withdraw"
)

// TradeRecord is an immutable record of a trade or withdrawal.
// ReserveAmount is what moved on the reserve side (in for buys, out for
// sells and withdrawals); AssetAmount likewise for the asset side.
type TradeRecord struct {
	ID            string    `json:"id"`
	Asset         Address   `json:"asset"`
	Trader        Address   `json:"trader"`
	Side          Side      `json:"side"`
	ReserveAmount uint64    `json:"reserve_amount,string"`
	AssetAmount   uint64    `json:"asset_amount,string"`
	Refund        uint64    `json:"refund,string"`
	Deactivated   bool      `json:"deactivated"`
	Timestamp     time.Time `json:"timestamp"`

	// Post-trade snapshot.
	VirtualReserve uint64 `json:"virtual_reserve,string"`
	VirtualAsset   uint64 `json:"virtual_asset,string"`
	UnitsSold      uint64 `json:"units_sold,string"`
}
